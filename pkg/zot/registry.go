package zot

import (
	"context"
	"fmt"

	zerrors "github.com/sprezz-net/sprezz/pkg/errors"
	"github.com/sprezz-net/sprezz/pkg/store"
	"github.com/sprezz-net/sprezz/pkg/types"
)

// HubRegistry maps channel hashes to the hubs hosting them.
type HubRegistry struct {
	hubs store.HubStore
}

func NewHubRegistry(hubs store.HubStore) *HubRegistry {
	return &HubRegistry{hubs: hubs}
}

// Add inserts hub unless its channel already has one.
func (r *HubRegistry) Add(ctx context.Context, hub *types.Hub) error {
	return r.hubs.AddHub(ctx, hub)
}

// Get returns the hub of channelHash or an ErrNotFound error.
func (r *HubRegistry) Get(ctx context.Context, channelHash string) (*types.Hub, error) {
	return r.hubs.GetHub(ctx, channelHash)
}

// FindPrimary returns the hub whose url, url signature, guid and guid
// signature all equal the claimed values.
func (r *HubRegistry) FindPrimary(ctx context.Context, url, urlSig, guid, guidSig string) (*types.Hub, error) {
	hubs, err := r.hubs.ListHubs(ctx)
	if err != nil {
		return nil, err
	}
	for _, hub := range hubs {
		if hub.URL == url && hub.URLSignature == urlSig &&
			hub.GUID == guid && hub.Signature == guidSig {
			return hub, nil
		}
	}
	return nil, fmt.Errorf("%w: primary hub %s", zerrors.ErrNotFound, url)
}

// FindByCallback returns every hub registered under url and callback.
func (r *HubRegistry) FindByCallback(ctx context.Context, url, callback string) ([]*types.Hub, error) {
	hubs, err := r.hubs.ListHubs(ctx)
	if err != nil {
		return nil, err
	}
	var out []*types.Hub
	for _, hub := range hubs {
		if hub.URL == url && hub.Callback == callback {
			out = append(out, hub)
		}
	}
	return out, nil
}
