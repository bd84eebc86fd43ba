package zot

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/sprezz-net/sprezz/pkg/crypto"
	zerrors "github.com/sprezz-net/sprezz/pkg/errors"
	"github.com/sprezz-net/sprezz/pkg/types"
)

// AddChannel creates a local channel together with its public projection
// and local hub. The nickname is trimmed and lower-cased.
func (z *Zot) AddChannel(ctx context.Context, nickname, name string) (*types.LocalChannel, error) {
	nickname = strings.ToLower(strings.TrimSpace(nickname))
	name = strings.TrimSpace(name)
	if nickname == "" || strings.ContainsAny(nickname, "@/ ") {
		return nil, fmt.Errorf("%w: nickname %q", zerrors.ErrInvalidAddress, nickname)
	}
	if name == "" {
		name = nickname
	}

	if _, err := z.store.GetChannel(ctx, nickname); err == nil {
		return nil, fmt.Errorf("%w: %s", zerrors.ErrDuplicateChannel, nickname)
	} else if !zerrors.Is(err, zerrors.ErrNotFound) {
		return nil, err
	}

	key, err := crypto.Generate(z.keyBits)
	if err != nil {
		return nil, err
	}
	salt, err := randomSalt(z.random)
	if err != nil {
		return nil, err
	}
	guid := CreateChannelGUID(z.site.URL, nickname, salt)
	signature, err := CreateChannelSignature(guid, key)
	if err != nil {
		return nil, err
	}
	channelHash := CreateChannelHash(guid, signature)

	channel := &types.LocalChannel{
		Nickname:    nickname,
		Name:        name,
		ChannelHash: channelHash,
		GUID:        guid,
		Signature:   signature,
		Key:         key,
	}
	urlSig, err := channel.SignURL(z.site.URL)
	if err != nil {
		return nil, err
	}

	xchannel := &types.XChannel{
		Nickname:       nickname,
		Name:           name,
		ChannelHash:    channelHash,
		GUID:           guid,
		Signature:      signature,
		Key:            key.PublicOnly(),
		Address:        z.localAddress(nickname),
		URL:            z.channelURL(nickname),
		ConnectionsURL: z.connectionsURL(nickname),
		Local:          true,
	}
	hub := &types.Hub{
		ChannelHash:  channelHash,
		GUID:         guid,
		Signature:    signature,
		SiteKey:      z.siteKey.PublicOnly(),
		Host:         z.site.Host,
		Address:      xchannel.Address,
		URL:          z.site.URL,
		URLSignature: urlSig,
		Callback:     z.site.Callback,
		Primary:      true,
		Local:        true,
	}

	if err := z.store.CreateChannel(ctx, channel, xchannel, hub); err != nil {
		return nil, err
	}
	z.metrics.ChannelsCreated.Inc()

	z.logger.Info("Created channel",
		zap.String("nickname", nickname),
		zap.String("address", xchannel.Address),
		zap.String("channel_hash", channelHash))
	z.logger.Debug("Channel identity",
		zap.String("guid", guid),
		zap.String("guid_sig", signature),
		zap.String("url", xchannel.URL),
		zap.String("hub_url", hub.URL),
		zap.String("hub_url_sig", hub.URLSignature),
		zap.String("callback", hub.Callback))
	return channel, nil
}

// ListChannels returns all local channels ordered by nickname.
func (z *Zot) ListChannels(ctx context.Context) ([]*types.LocalChannel, error) {
	return z.store.ListChannels(ctx)
}

// AddConnection discovers address on behalf of the local channel nickname,
// introducing the channel to the remote site, and imports the result.
func (z *Zot) AddConnection(ctx context.Context, nickname, address string) (*ImportResult, error) {
	channel, err := z.store.GetChannel(ctx, nickname)
	if err != nil {
		return nil, err
	}
	info, err := z.Finger(ctx, FingerRequest{Address: address, Target: channel})
	if err != nil {
		return nil, err
	}
	return z.ImportXChannel(ctx, info)
}
