package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	zerrors "github.com/sprezz-net/sprezz/pkg/errors"
	"github.com/sprezz-net/sprezz/pkg/types"
)

// Memory is an in-process Store. A single lock covers every map so that
// verify-then-insert sequences are atomic across record types.
type Memory struct {
	mu sync.RWMutex

	channels       map[string]*types.LocalChannel // nickname -> channel
	channelsByHash map[string]string              // channel hash -> nickname
	xchannels      map[string]*types.XChannel     // channel hash -> xchannel
	hubs           map[string]*types.Hub          // channel hash -> hub
	sites          map[string]*types.Site         // url -> site
	items          map[string]*types.Item         // message id -> item

	now func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		channels:       make(map[string]*types.LocalChannel),
		channelsByHash: make(map[string]string),
		xchannels:      make(map[string]*types.XChannel),
		hubs:           make(map[string]*types.Hub),
		sites:          make(map[string]*types.Site),
		items:          make(map[string]*types.Item),
		now:            time.Now,
	}
}

func (m *Memory) Close() error { return nil }

func (m *Memory) CreateChannel(_ context.Context, ch *types.LocalChannel, x *types.XChannel, hub *types.Hub) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.channels[ch.Nickname]; exists {
		return fmt.Errorf("%w: %s", zerrors.ErrDuplicateChannel, ch.Nickname)
	}
	if _, exists := m.xchannels[ch.ChannelHash]; exists {
		return fmt.Errorf("%w: hash %s", zerrors.ErrDuplicateChannel, ch.ChannelHash)
	}
	if _, exists := m.hubs[ch.ChannelHash]; exists {
		return fmt.Errorf("%w: hub %s", zerrors.ErrDuplicateChannel, ch.ChannelHash)
	}

	now := m.now()
	c := *ch
	c.CreatedAt = now
	xc := x.Clone()
	xc.CreatedAt, xc.UpdatedAt = now, now
	hc := hub.Clone()
	hc.CreatedAt, hc.UpdatedAt = now, now

	m.channels[c.Nickname] = &c
	m.channelsByHash[c.ChannelHash] = c.Nickname
	m.xchannels[xc.ChannelHash] = xc
	m.hubs[hc.ChannelHash] = hc
	return nil
}

func (m *Memory) GetChannel(_ context.Context, nickname string) (*types.LocalChannel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ch, ok := m.channels[nickname]
	if !ok {
		return nil, fmt.Errorf("%w: channel %s", zerrors.ErrNotFound, nickname)
	}
	c := *ch
	return &c, nil
}

func (m *Memory) GetChannelByHash(ctx context.Context, channelHash string) (*types.LocalChannel, error) {
	m.mu.RLock()
	nickname, ok := m.channelsByHash[channelHash]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: channel hash %s", zerrors.ErrNotFound, channelHash)
	}
	return m.GetChannel(ctx, nickname)
}

func (m *Memory) ListChannels(_ context.Context) ([]*types.LocalChannel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*types.LocalChannel, 0, len(m.channels))
	for _, ch := range m.channels {
		c := *ch
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Nickname < out[j].Nickname })
	return out, nil
}

func (m *Memory) GetXChannel(_ context.Context, channelHash string) (*types.XChannel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	x, ok := m.xchannels[channelHash]
	if !ok {
		return nil, fmt.Errorf("%w: xchannel %s", zerrors.ErrNotFound, channelHash)
	}
	return x.Clone(), nil
}

func (m *Memory) FindXChannelByAddress(_ context.Context, address string) (*types.XChannel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, x := range m.sortedXChannels() {
		if x.Address == address {
			return x.Clone(), nil
		}
	}
	return nil, fmt.Errorf("%w: xchannel address %s", zerrors.ErrNotFound, address)
}

func (m *Memory) FindXChannelByGUID(_ context.Context, guid, signature string) (*types.XChannel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, x := range m.sortedXChannels() {
		if x.GUID == guid && x.Signature == signature {
			return x.Clone(), nil
		}
	}
	return nil, fmt.Errorf("%w: xchannel guid %s", zerrors.ErrNotFound, guid)
}

func (m *Memory) ListXChannels(_ context.Context) ([]*types.XChannel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sorted := m.sortedXChannels()
	out := make([]*types.XChannel, 0, len(sorted))
	for _, x := range sorted {
		out = append(out, x.Clone())
	}
	return out, nil
}

// sortedXChannels must be called with mu held.
func (m *Memory) sortedXChannels() []*types.XChannel {
	out := make([]*types.XChannel, 0, len(m.xchannels))
	for _, x := range m.xchannels {
		out = append(out, x)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChannelHash < out[j].ChannelHash })
	return out
}

func (m *Memory) UpsertXChannel(_ context.Context, x *types.XChannel) (UpsertResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	existing, ok := m.xchannels[x.ChannelHash]
	if !ok {
		c := x.Clone()
		c.CreatedAt, c.UpdatedAt = now, now
		m.xchannels[c.ChannelHash] = c
		return UpsertResult{Created: true}, nil
	}
	changed := existing.Update(x)
	if len(changed) > 0 {
		existing.UpdatedAt = now
	}
	return UpsertResult{Changed: changed}, nil
}

func (m *Memory) AddHub(_ context.Context, hub *types.Hub) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.hubs[hub.ChannelHash]; exists {
		return fmt.Errorf("%w: hub %s", zerrors.ErrAlreadyExists, hub.ChannelHash)
	}
	now := m.now()
	c := hub.Clone()
	c.CreatedAt, c.UpdatedAt = now, now
	m.hubs[c.ChannelHash] = c
	return nil
}

func (m *Memory) GetHub(_ context.Context, channelHash string) (*types.Hub, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	hub, ok := m.hubs[channelHash]
	if !ok {
		return nil, fmt.Errorf("%w: hub %s", zerrors.ErrNotFound, channelHash)
	}
	return hub.Clone(), nil
}

func (m *Memory) ListHubs(_ context.Context) ([]*types.Hub, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*types.Hub, 0, len(m.hubs))
	for _, hub := range m.hubs {
		out = append(out, hub.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChannelHash < out[j].ChannelHash })
	return out, nil
}

func (m *Memory) UpsertHub(_ context.Context, hub *types.Hub) (UpsertResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	existing, ok := m.hubs[hub.ChannelHash]
	if !ok {
		c := hub.Clone()
		c.CreatedAt, c.UpdatedAt = now, now
		m.hubs[c.ChannelHash] = c
		return UpsertResult{Created: true}, nil
	}
	changed := existing.Update(hub)
	if len(changed) > 0 {
		existing.UpdatedAt = now
	}
	return UpsertResult{Changed: changed}, nil
}

func (m *Memory) GetSite(_ context.Context, url string) (*types.Site, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	site, ok := m.sites[url]
	if !ok {
		return nil, fmt.Errorf("%w: site %s", zerrors.ErrNotFound, url)
	}
	return site.Clone(), nil
}

func (m *Memory) ListSites(_ context.Context) ([]*types.Site, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*types.Site, 0, len(m.sites))
	for _, site := range m.sites {
		out = append(out, site.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].URL < out[j].URL })
	return out, nil
}

func (m *Memory) UpsertSite(_ context.Context, site *types.Site) (UpsertResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	existing, ok := m.sites[site.URL]
	if !ok {
		c := site.Clone()
		c.CreatedAt, c.UpdatedAt = now, now
		m.sites[c.URL] = c
		return UpsertResult{Created: true}, nil
	}
	changed := existing.Update(site)
	if len(changed) > 0 {
		existing.UpdatedAt = now
	}
	return UpsertResult{Changed: changed}, nil
}

func (m *Memory) AddItem(_ context.Context, item *types.Item) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.items[item.MessageID]; exists {
		return fmt.Errorf("%w: item %s", zerrors.ErrAlreadyExists, item.MessageID)
	}
	now := m.now()
	c := item.Clone()
	c.CreatedAt, c.UpdatedAt = now, now
	m.items[c.MessageID] = c
	return nil
}

func (m *Memory) GetItem(_ context.Context, messageID string) (*types.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	item, ok := m.items[messageID]
	if !ok {
		return nil, fmt.Errorf("%w: item %s", zerrors.ErrNotFound, messageID)
	}
	return item.Clone(), nil
}

func (m *Memory) UpdateItem(_ context.Context, item *types.Item) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.items[item.MessageID]
	if !ok {
		return nil, fmt.Errorf("%w: item %s", zerrors.ErrNotFound, item.MessageID)
	}
	changed := existing.Update(item)
	if len(changed) > 0 {
		existing.UpdatedAt = m.now()
	}
	return changed, nil
}
