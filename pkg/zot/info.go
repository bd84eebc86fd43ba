package zot

import (
	"context"

	"go.uber.org/zap"

	"github.com/sprezz-net/sprezz/pkg/crypto"
	zerrors "github.com/sprezz-net/sprezz/pkg/errors"
	"github.com/sprezz-net/sprezz/pkg/types"
)

const (
	msgNoTargetKey      = "No key or target signature supplied."
	msgInvalidTargetSig = "Invalid target signature."
	msgItemNotFound     = "Item not found."
	msgInvalidRequest   = "Invalid request."
	msgInternalError    = "Internal error."
)

// Info answers a zot-info query about a local channel. Protocol failures are
// reported in the response; the error is only set when the store fails.
func (z *Zot) Info(ctx context.Context, req InfoRequest) (*InfoResponse, error) {
	resp, err := z.info(ctx, req)
	result := "success"
	switch {
	case err != nil:
		result = "error"
	case !resp.Success:
		result = "failure"
	}
	z.metrics.InfoRequests.WithLabelValues(result).Inc()
	return resp, err
}

func (z *Zot) info(ctx context.Context, req InfoRequest) (*InfoResponse, error) {
	if req.Target != "" {
		if req.Key == "" || req.TargetSig == "" {
			return failure(msgNoTargetKey), nil
		}
		key, err := crypto.FromPublicPEM([]byte(req.Key))
		if err != nil {
			return failure(msgInvalidTargetSig), nil
		}
		if ok, _ := VerifySignature(key, req.Target, req.TargetSig); !ok {
			z.logger.Warn("Invalid target signature", zap.String("target", req.Target))
			return failure(msgInvalidTargetSig), nil
		}
	}

	channel, err := z.resolveLocal(ctx, req)
	if err != nil {
		if zerrors.Is(err, zerrors.ErrNotFound) {
			return failure(msgItemNotFound), nil
		}
		if zerrors.Is(err, errInvalidRequest) {
			return failure(msgInvalidRequest), nil
		}
		return failure(msgInternalError), err
	}

	xchannel, err := z.store.GetXChannel(ctx, channel.ChannelHash)
	if err != nil {
		if zerrors.Is(err, zerrors.ErrNotFound) {
			return failure(msgItemNotFound), nil
		}
		return failure(msgInternalError), err
	}
	info, err := z.channelInfo(ctx, channel, xchannel)
	if err != nil {
		return failure(msgInternalError), err
	}
	info.Target = req.Target
	info.TargetSig = req.TargetSig
	return &InfoResponse{Success: true, ChannelInfo: info}, nil
}

var errInvalidRequest = zerrors.Protocol("no resolving field")

// resolveLocal finds the queried channel by guid_hash, then address, then
// guid and guid_sig together.
func (z *Zot) resolveLocal(ctx context.Context, req InfoRequest) (*types.LocalChannel, error) {
	switch {
	case req.GUIDHash != "":
		return z.store.GetChannelByHash(ctx, req.GUIDHash)
	case req.Address != "":
		nickname := req.Address
		if addr, err := ParseAddress(req.Address, z.site.Host); err == nil {
			if !addr.IsLocal(z.site.Host) {
				return nil, zerrors.ErrNotFound
			}
			nickname = addr.Nickname
		}
		return z.store.GetChannel(ctx, nickname)
	case req.GUID != "" && req.GUIDSig != "":
		x, err := z.store.FindXChannelByGUID(ctx, req.GUID, req.GUIDSig)
		if err != nil {
			return nil, err
		}
		return z.store.GetChannelByHash(ctx, x.ChannelHash)
	default:
		return nil, errInvalidRequest
	}
}

func (z *Zot) channelInfo(ctx context.Context, channel *types.LocalChannel, x *types.XChannel) (*ChannelInfo, error) {
	key, err := x.Key.ExportPublicPEM()
	if err != nil {
		return nil, err
	}
	siteSig, err := channel.SignURL(z.site.URL)
	if err != nil {
		return nil, err
	}

	locations := []Location{}
	hub, err := z.hubs.Get(ctx, x.ChannelHash)
	switch {
	case err == nil:
		loc, err := hubLocation(hub)
		if err != nil {
			return nil, err
		}
		locations = append(locations, loc)
	case !zerrors.Is(err, zerrors.ErrNotFound):
		return nil, err
	}

	return &ChannelInfo{
		GUID:           x.GUID,
		GUIDSig:        x.Signature,
		Key:            key,
		Name:           x.Name,
		NameUpdated:    zeroDateTime,
		Address:        x.Address,
		PhotoMimetype:  x.PhotoMimetype,
		Photo:          x.PhotoURL,
		PhotoUpdated:   zeroDateTime,
		URL:            x.URL,
		ConnectionsURL: x.ConnectionsURL,
		Profile:        emptyProfile(),
		Locations:      locations,
		Site: &SiteInfo{
			URL:            z.site.URL,
			URLSig:         siteSig,
			DirectoryMode:  z.directoryMode,
			DirectoryURL:   z.directoryURL,
			RegisterPolicy: z.registerPolicy,
			AccessPolicy:   z.accessPolicy,
			Version:        z.version,
			Admin:          z.adminEmail,
		},
	}, nil
}

func hubLocation(hub *types.Hub) (Location, error) {
	siteKey, err := hub.SiteKey.ExportPublicPEM()
	if err != nil {
		return Location{}, err
	}
	return Location{
		Host:     hub.Host,
		Address:  hub.Address,
		Primary:  hub.Primary,
		URL:      hub.URL,
		URLSig:   hub.URLSignature,
		Callback: hub.Callback,
		SiteKey:  siteKey,
	}, nil
}

func emptyProfile() *Profile {
	return &Profile{
		Birthday: zeroDate,
		Keywords: map[string]string{},
	}
}

func failure(message string) *InfoResponse {
	return &InfoResponse{Message: message}
}
