package zot

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	zerrors "github.com/sprezz-net/sprezz/pkg/errors"
	"github.com/sprezz-net/sprezz/pkg/types"
)

// FingerRequest selects the channel to discover: either Address, or
// ChannelHash on the site at SiteURL. Target, when set, is introduced to
// the remote site and turns an address query into a POST.
type FingerRequest struct {
	Address     string
	ChannelHash string
	SiteURL     string
	Target      *types.LocalChannel
}

type fingerPayload struct {
	Address   string `json:"address"`
	Target    string `json:"target"`
	TargetSig string `json:"target_sig"`
	Key       string `json:"key"`
}

// Finger queries the zot-info endpoint of a local or remote site.
func (z *Zot) Finger(ctx context.Context, req FingerRequest) (*InfoResponse, error) {
	start := time.Now()
	defer func() {
		z.metrics.FingerLatency.Observe(time.Since(start).Seconds())
	}()

	q, err := z.fingerQuery(ctx, req)
	if err != nil {
		return nil, err
	}
	info, err := z.sendInfo(ctx, q)
	if err != nil {
		z.logger.Warn("Finger failed",
			zap.String("host", q.host),
			zap.String("address", req.Address),
			zap.String("channel_hash", req.ChannelHash),
			zap.Error(err))
		return nil, err
	}
	return info, nil
}

func (z *Zot) fingerQuery(ctx context.Context, req FingerRequest) (*infoQuery, error) {
	if req.Address == "" && req.ChannelHash == "" {
		return nil, fmt.Errorf("%w: no channel address or hash", zerrors.ErrInvalidAddress)
	}

	if req.ChannelHash != "" {
		if req.SiteURL == "" {
			return nil, fmt.Errorf("%w: no site url", zerrors.ErrInvalidAddress)
		}
		u, err := url.Parse(req.SiteURL)
		if err != nil || u.Host == "" {
			return nil, fmt.Errorf("%w: invalid site url %q", zerrors.ErrInvalidAddress, req.SiteURL)
		}
		return &infoQuery{
			method: http.MethodGet,
			scheme: u.Scheme,
			host:   u.Host,
			query:  url.Values{"guid_hash": {req.ChannelHash}},
		}, nil
	}

	addr, err := ParseAddress(req.Address, z.site.Host)
	if err != nil {
		return nil, err
	}
	q := &infoQuery{scheme: "https", host: addr.Host}

	// A hub we already know tells us the scheme and port to use.
	if x, err := z.store.FindXChannelByAddress(ctx, addr.String()); err == nil {
		if hub, err := z.hubs.Get(ctx, x.ChannelHash); err == nil {
			if u, err := url.Parse(hub.URL); err == nil && u.Host != "" {
				q.scheme, q.host = u.Scheme, u.Host
				z.logger.Debug("Using known hub",
					zap.String("scheme", q.scheme),
					zap.String("host", q.host))
			}
		}
	}

	if req.Target == nil {
		q.method = http.MethodGet
		q.query = url.Values{"address": {addr.Nickname}}
		return q, nil
	}

	key, err := req.Target.Key.ExportPublicPEM()
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(fingerPayload{
		Address:   addr.Nickname,
		Target:    req.Target.GUID,
		TargetSig: req.Target.Signature,
		Key:       key,
	})
	if err != nil {
		return nil, fmt.Errorf("encode finger payload: %w", err)
	}
	q.method = http.MethodPost
	q.body = body
	return q, nil
}
