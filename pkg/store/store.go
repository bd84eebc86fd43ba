// Package store persists channels, x-channels, hubs, sites and items.
//
// All implementations return copies: mutating a returned record does not
// change stored state until it is written back through an Upsert method.
package store

import (
	"context"

	"github.com/sprezz-net/sprezz/pkg/types"
)

// UpsertResult reports what a create-or-update call did.
type UpsertResult struct {
	Created bool
	Changed []string
}

// Modified reports whether the call created or changed anything.
func (r UpsertResult) Modified() bool {
	return r.Created || len(r.Changed) > 0
}

type ChannelStore interface {
	// CreateChannel registers a local channel together with its public
	// projection and local hub, or nothing at all.
	CreateChannel(ctx context.Context, ch *types.LocalChannel, x *types.XChannel, hub *types.Hub) error
	GetChannel(ctx context.Context, nickname string) (*types.LocalChannel, error)
	GetChannelByHash(ctx context.Context, channelHash string) (*types.LocalChannel, error)
	ListChannels(ctx context.Context) ([]*types.LocalChannel, error)
}

type XChannelStore interface {
	GetXChannel(ctx context.Context, channelHash string) (*types.XChannel, error)
	FindXChannelByAddress(ctx context.Context, address string) (*types.XChannel, error)
	FindXChannelByGUID(ctx context.Context, guid, signature string) (*types.XChannel, error)
	ListXChannels(ctx context.Context) ([]*types.XChannel, error)
	UpsertXChannel(ctx context.Context, x *types.XChannel) (UpsertResult, error)
}

// HubStore is the hub registry keyed by channel hash.
type HubStore interface {
	AddHub(ctx context.Context, hub *types.Hub) error
	GetHub(ctx context.Context, channelHash string) (*types.Hub, error)
	ListHubs(ctx context.Context) ([]*types.Hub, error)
	UpsertHub(ctx context.Context, hub *types.Hub) (UpsertResult, error)
}

type SiteStore interface {
	GetSite(ctx context.Context, url string) (*types.Site, error)
	ListSites(ctx context.Context) ([]*types.Site, error)
	UpsertSite(ctx context.Context, site *types.Site) (UpsertResult, error)
}

type ItemStore interface {
	// AddItem fails with ErrAlreadyExists when the message id is taken.
	AddItem(ctx context.Context, item *types.Item) error
	GetItem(ctx context.Context, messageID string) (*types.Item, error)
	UpdateItem(ctx context.Context, item *types.Item) ([]string, error)
}

type Store interface {
	ChannelStore
	XChannelStore
	HubStore
	SiteStore
	ItemStore
	Close() error
}
