package zot

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/sprezz-net/sprezz/pkg/crypto"
	zerrors "github.com/sprezz-net/sprezz/pkg/errors"
	"github.com/sprezz-net/sprezz/pkg/types"
)

// Fetch picks up the messages queued under secret at hub. The request is
// encrypted under the hub site key and the reply is decrypted with ours.
func (z *Zot) Fetch(ctx context.Context, secret string, hub *types.Hub) (*PickupResponse, error) {
	secretSig, err := signString(z.siteKey, secret)
	if err != nil {
		return nil, err
	}
	pickup, err := json.Marshal(PickupRequest{
		Type:        PacketPickup,
		URL:         z.site.URL,
		Callback:    z.site.Callback,
		CallbackSig: z.site.CallbackSignature,
		Secret:      secret,
		SecretSig:   secretSig,
	})
	if err != nil {
		return nil, fmt.Errorf("encode pickup: %w", err)
	}
	env, err := hub.SiteKey.AESEncapsulate(pickup)
	if err != nil {
		return nil, err
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}

	body, err := z.postData(ctx, hub.Callback, payload)
	if err != nil {
		return nil, err
	}
	data, err := z.openEnvelope(body)
	if err != nil {
		return nil, err
	}

	var resp PickupResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, zerrors.Wrap(zerrors.ErrInvalidResponse, err)
	}
	if !resp.Success {
		msg := resp.Message
		if msg == "" {
			msg = "Pickup rejected"
		}
		return nil, &zerrors.RemoteError{Message: msg}
	}
	z.logger.Debug("Picked up messages",
		zap.String("hub", hub.URL),
		zap.Int("count", len(resp.Pickup)))
	return &resp, nil
}

// openEnvelope decrypts data when it is an AES envelope and returns it
// unchanged otherwise.
func (z *Zot) openEnvelope(data []byte) ([]byte, error) {
	var env crypto.Envelope
	if err := json.Unmarshal(data, &env); err != nil || !env.Complete() {
		return data, nil
	}
	return z.siteKey.AESDecapsulate(&env)
}

// ImportMessages delivers the items of a pickup reply from hub to local
// channels. Items whose sender is not hosted by hub, whose sender is
// unknown or whose delivery fails are skipped.
func (z *Zot) ImportMessages(ctx context.Context, resp *PickupResponse, hub *types.Hub) []DeliveryReport {
	var reports []DeliveryReport
	for i, item := range resp.Pickup {
		if item.Notify == nil || item.Notify.Sender == nil || item.Message == nil {
			z.logger.Warn("Skipping incomplete pickup item", zap.Int("index", i))
			continue
		}
		sender := item.Notify.Sender
		if sender.URL != hub.URL {
			z.logger.Warn("Sender is not hosted by the delivering hub",
				zap.String("sender_url", sender.URL),
				zap.String("hub_url", hub.URL))
			continue
		}

		xchannel, err := z.store.GetXChannel(ctx, sender.ChannelHash())
		if err != nil {
			z.logger.Warn("Skipping message from unknown sender",
				zap.String("channel_hash", sender.ChannelHash()),
				zap.Error(err))
			continue
		}

		recipients, err := z.localRecipients(ctx, item.Notify.Recipients)
		if err != nil {
			z.logger.Warn("Unable to resolve recipients", zap.Error(err))
			continue
		}
		if len(recipients) == 0 {
			z.logger.Debug("No local recipients", zap.String("message_id", item.Message.MessageID))
			continue
		}

		delivered, err := z.Deliver(ctx, xchannel, item.Message, recipients)
		if err != nil {
			kind := zerrors.KindOf(err)
			z.metrics.DeliveryFailures.WithLabelValues(string(kind)).Inc()
			z.logger.Warn("Delivery failed",
				zap.String("message_id", item.Message.MessageID),
				zap.String("kind", string(kind)),
				zap.String("sender", xchannel.ChannelHash),
				zap.Error(err))
			continue
		}
		reports = append(reports, delivered...)
	}
	return reports
}

// localRecipients resolves explicit recipients to local channels. Without
// recipients the message is public and every local channel receives it.
func (z *Zot) localRecipients(ctx context.Context, recipients []Recipient) ([]*types.XChannel, error) {
	var hashes []string
	if len(recipients) == 0 {
		channels, err := z.store.ListChannels(ctx)
		if err != nil {
			return nil, err
		}
		for _, c := range channels {
			hashes = append(hashes, c.ChannelHash)
		}
	} else {
		for _, r := range recipients {
			h := CreateChannelHash(r.GUID, r.GUIDSig)
			if _, err := z.store.GetChannelByHash(ctx, h); err != nil {
				if zerrors.Is(err, zerrors.ErrNotFound) {
					continue
				}
				return nil, err
			}
			hashes = append(hashes, h)
		}
	}

	out := make([]*types.XChannel, 0, len(hashes))
	for _, h := range hashes {
		x, err := z.store.GetXChannel(ctx, h)
		if err != nil {
			return nil, err
		}
		out = append(out, x)
	}
	return out, nil
}
