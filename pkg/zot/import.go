package zot

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/sprezz-net/sprezz/pkg/crypto"
	zerrors "github.com/sprezz-net/sprezz/pkg/errors"
	"github.com/sprezz-net/sprezz/pkg/store"
	"github.com/sprezz-net/sprezz/pkg/types"
)

// ImportResult reports what an identity import changed.
type ImportResult struct {
	ChannelHash string
	XChannel    store.UpsertResult
	Hubs        []store.UpsertResult
	Site        *store.UpsertResult
}

// Modified reports whether any record was created or changed.
func (r *ImportResult) Modified() bool {
	if r.XChannel.Modified() {
		return true
	}
	for _, h := range r.Hubs {
		if h.Modified() {
			return true
		}
	}
	return r.Site != nil && r.Site.Modified()
}

// ImportXChannel verifies a discovery response and stores its channel, its
// primary hub and its site. A bad channel signature aborts the import
// before anything is written; bad hub or site entries are skipped.
func (z *Zot) ImportXChannel(ctx context.Context, info *InfoResponse) (*ImportResult, error) {
	if info == nil || info.ChannelInfo == nil {
		return nil, fmt.Errorf("%w: empty discovery response", zerrors.ErrInvalidResponse)
	}
	ci := info.ChannelInfo
	channelHash := CreateChannelHash(ci.GUID, ci.GUIDSig)

	key, err := crypto.FromPublicPEM([]byte(ci.Key))
	if err != nil {
		return nil, err
	}
	ok, err := VerifySignature(key, ci.GUID, ci.GUIDSig)
	if err != nil {
		return nil, err
	}
	if !ok {
		z.metrics.SignatureFailures.WithLabelValues("xchannel").Inc()
		z.logger.Error("Unable to verify xchannel signature",
			zap.String("channel_hash", channelHash),
			zap.String("address", ci.Address))
		return nil, fmt.Errorf("%w: xchannel %s", zerrors.ErrInvalidSignature, channelHash)
	}

	address, nickname := NormalizeAddress(ci.Address)
	xchannel := &types.XChannel{
		Nickname:       nickname,
		Name:           ci.Name,
		ChannelHash:    channelHash,
		GUID:           ci.GUID,
		Signature:      ci.GUIDSig,
		Key:            key,
		Address:        address,
		URL:            ci.URL,
		ConnectionsURL: ci.ConnectionsURL,
		PhotoMimetype:  ci.PhotoMimetype,
		PhotoURL:       ci.Photo,
		PhotoUpdated:   ci.PhotoUpdated,
	}
	res, err := z.store.UpsertXChannel(ctx, xchannel)
	if err != nil {
		return nil, err
	}
	z.recordImport("xchannel", channelHash, res)

	result := &ImportResult{ChannelHash: channelHash, XChannel: res}

	for _, loc := range ci.Locations {
		hubRes, err := z.ImportHub(ctx, info, loc, key)
		if err != nil {
			z.logger.Warn("Skipping hub location",
				zap.String("channel_hash", channelHash),
				zap.String("url", loc.URL),
				zap.Error(err))
			continue
		}
		if hubRes != nil {
			result.Hubs = append(result.Hubs, *hubRes)
		}
	}

	if ci.Site != nil {
		siteRes, err := z.ImportSite(ctx, ci.Site, key)
		if err != nil {
			z.logger.Debug("Ignoring site block",
				zap.String("url", ci.Site.URL),
				zap.Error(err))
		} else {
			result.Site = &siteRes
		}
	}
	return result, nil
}

// ImportHub verifies and stores one advertised location of the channel in
// info, whose public key is key. Non-primary locations are verified but not
// stored, in which case the result is nil.
func (z *Zot) ImportHub(ctx context.Context, info *InfoResponse, loc Location, key *crypto.KeyPair) (*store.UpsertResult, error) {
	ci := info.ChannelInfo
	channelHash := CreateChannelHash(ci.GUID, ci.GUIDSig)

	ok, err := VerifySignature(key, loc.URL, loc.URLSig)
	if err != nil {
		return nil, err
	}
	if !ok {
		z.metrics.SignatureFailures.WithLabelValues("hub").Inc()
		z.logger.Error("Unable to verify hub signature",
			zap.String("channel_hash", channelHash),
			zap.String("url", loc.URL))
		return nil, fmt.Errorf("%w: hub %s", zerrors.ErrInvalidSignature, loc.URL)
	}

	// Only the primary hub of a channel is tracked.
	if !loc.Primary {
		return nil, nil
	}
	if loc.SiteKey == "" {
		return nil, fmt.Errorf("%w: hub %s", zerrors.ErrMissingSiteKey, loc.URL)
	}
	siteKey, err := crypto.FromPublicPEM([]byte(loc.SiteKey))
	if err != nil {
		return nil, err
	}

	address, _ := NormalizeAddress(loc.Address)
	hub := &types.Hub{
		ChannelHash:  channelHash,
		GUID:         ci.GUID,
		Signature:    ci.GUIDSig,
		SiteKey:      siteKey,
		Host:         loc.Host,
		Address:      address,
		URL:          loc.URL,
		URLSignature: loc.URLSig,
		Callback:     loc.Callback,
		Primary:      true,
	}
	res, err := z.store.UpsertHub(ctx, hub)
	if err != nil {
		return nil, err
	}
	z.recordImport("hub", channelHash, res)
	return &res, nil
}

// ImportSite verifies the site block against the channel key and stores it.
func (z *Zot) ImportSite(ctx context.Context, info *SiteInfo, key *crypto.KeyPair) (store.UpsertResult, error) {
	ok, err := VerifySignature(key, info.URL, info.URLSig)
	if err != nil {
		return store.UpsertResult{}, err
	}
	if !ok {
		z.metrics.SignatureFailures.WithLabelValues("site").Inc()
		z.logger.Error("Unable to verify site signature", zap.String("url", info.URL))
		return store.UpsertResult{}, fmt.Errorf("%w: site %s", zerrors.ErrInvalidSignature, info.URL)
	}

	site := &types.Site{
		URL:            info.URL,
		RegisterPolicy: info.RegisterPolicy,
		AccessPolicy:   info.AccessPolicy,
		DirectoryMode:  info.DirectoryMode,
		DirectoryURL:   info.DirectoryURL,
		Version:        info.Version,
		AdminEmail:     info.Admin,
	}
	res, err := z.store.UpsertSite(ctx, site)
	if err != nil {
		return store.UpsertResult{}, err
	}
	z.recordImport("site", info.URL, res)
	return res, nil
}

func (z *Zot) recordImport(record, id string, res store.UpsertResult) {
	action := "unchanged"
	switch {
	case res.Created:
		action = "created"
	case len(res.Changed) > 0:
		action = "updated"
	}
	z.metrics.Imports.WithLabelValues(record, action).Inc()
	if action == "unchanged" {
		z.logger.Debug("Import unchanged", zap.String("record", record), zap.String("id", id))
		return
	}
	z.logger.Info("Imported record",
		zap.String("record", record),
		zap.String("id", id),
		zap.String("action", action),
		zap.Strings("changed", res.Changed))
}
