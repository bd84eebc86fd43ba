package zot

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"go.uber.org/zap"

	zerrors "github.com/sprezz-net/sprezz/pkg/errors"
	"github.com/sprezz-net/sprezz/pkg/queue"
	"github.com/sprezz-net/sprezz/pkg/types"
)

// PostRequest is an activity authored by the local channel Nickname.
// Recipients lists channel hashes; when empty the post is public and goes
// to every known remote hub.
type PostRequest struct {
	Nickname   string
	Title      string
	Body       string
	Mimetype   string
	Recipients []string
}

// QueuedDelivery is one remote hub that was sent a notify for the post.
type QueuedDelivery struct {
	Secret   string
	HubURL   string
	Callback string
	Notified bool
	Reports  []DeliveryReport
	Err      error
}

type PostResult struct {
	Message *Message
	Reports []DeliveryReport
	Queued  []QueuedDelivery
}

type destination struct {
	hub        *types.Hub
	recipients []Recipient
}

// PostMessage stores a new activity locally, queues it for each remote
// destination hub and notifies those hubs. A failed notify leaves the
// message queued and is reported in the matching QueuedDelivery.
func (z *Zot) PostMessage(ctx context.Context, req PostRequest) (*PostResult, error) {
	channel, err := z.store.GetChannel(ctx, req.Nickname)
	if err != nil {
		return nil, err
	}
	sender, err := z.store.GetXChannel(ctx, channel.ChannelHash)
	if err != nil {
		return nil, err
	}
	localHub, err := z.hubs.Get(ctx, channel.ChannelHash)
	if err != nil {
		return nil, err
	}

	msg := NewActivity(sender, req.Title, req.Body, req.Mimetype)
	reports, err := z.Deliver(ctx, sender, msg, []*types.XChannel{sender})
	if err != nil {
		return nil, err
	}
	result := &PostResult{Message: msg, Reports: reports}

	dests, err := z.destinations(ctx, req.Recipients)
	if err != nil {
		return nil, err
	}
	if len(dests) == 0 {
		return result, nil
	}

	msgData, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	senderBlock := &Sender{
		GUID:    sender.GUID,
		GUIDSig: sender.Signature,
		URL:     localHub.URL,
		URLSig:  localHub.URLSignature,
	}

	for _, dest := range dests {
		notify := &Notify{
			Type:       PacketNotify,
			Sender:     senderBlock,
			Recipients: dest.recipients,
			Callback:   z.site.Callback,
			Version:    z.version,
		}
		notifyData, err := json.Marshal(notify)
		if err != nil {
			return nil, fmt.Errorf("encode notify: %w", err)
		}
		secret, err := z.queue.Enqueue(ctx, &queue.Entry{
			SenderHash:  sender.ChannelHash,
			HubURL:      dest.hub.URL,
			HubCallback: dest.hub.Callback,
			Notify:      notifyData,
			Message:     msgData,
		})
		if err != nil {
			return nil, err
		}
		z.metrics.MessagesQueued.Inc()

		qd := QueuedDelivery{Secret: secret, HubURL: dest.hub.URL, Callback: dest.hub.Callback}
		resp, err := z.NotifyHub(ctx, dest.hub.Callback, notify, secret)
		if err != nil {
			z.logger.Warn("Notify failed, message stays queued",
				zap.String("hub", dest.hub.URL),
				zap.Error(err))
			qd.Err = err
		} else {
			qd.Notified = true
			qd.Reports = resp.DeliveryReport
		}
		result.Queued = append(result.Queued, qd)
	}
	return result, nil
}

// destinations groups the remote hubs of recipientHashes, or of every known
// remote channel when none are given.
func (z *Zot) destinations(ctx context.Context, recipientHashes []string) ([]*destination, error) {
	public := len(recipientHashes) == 0
	var xchannels []*types.XChannel
	if public {
		all, err := z.store.ListXChannels(ctx)
		if err != nil {
			return nil, err
		}
		xchannels = all
	} else {
		for _, h := range recipientHashes {
			x, err := z.store.GetXChannel(ctx, h)
			if zerrors.Is(err, zerrors.ErrNotFound) {
				z.logger.Warn("Skipping unknown recipient", zap.String("channel_hash", h))
				continue
			}
			if err != nil {
				return nil, err
			}
			xchannels = append(xchannels, x)
		}
	}

	byHub := make(map[string]*destination)
	for _, x := range xchannels {
		if x.Local {
			continue
		}
		hub, err := z.hubs.Get(ctx, x.ChannelHash)
		if zerrors.Is(err, zerrors.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if hub.Local || hub.URL == z.site.URL {
			continue
		}
		key := hub.URL + " " + hub.Callback
		dest, ok := byHub[key]
		if !ok {
			dest = &destination{hub: hub}
			byHub[key] = dest
		}
		if !public {
			dest.recipients = append(dest.recipients, Recipient{GUID: x.GUID, GUIDSig: x.Signature})
		}
	}

	keys := make([]string, 0, len(byHub))
	for k := range byHub {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]*destination, 0, len(keys))
	for _, k := range keys {
		out = append(out, byHub[k])
	}
	return out, nil
}

// NotifyHub sends notify to a hub callback carrying secret and its site
// signature. The remote hub is expected to pick the message up before
// answering.
func (z *Zot) NotifyHub(ctx context.Context, callback string, notify *Notify, secret string) (*NotifyResponse, error) {
	secretSig, err := signString(z.siteKey, secret)
	if err != nil {
		return nil, err
	}
	packet := *notify
	packet.Type = PacketNotify
	packet.Secret = secret
	packet.SecretSig = secretSig

	payload, err := json.Marshal(&packet)
	if err != nil {
		return nil, fmt.Errorf("encode notify: %w", err)
	}
	body, err := z.postData(ctx, callback, payload)
	if err != nil {
		z.metrics.NotifySent.WithLabelValues("error").Inc()
		return nil, err
	}

	var resp NotifyResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		z.metrics.NotifySent.WithLabelValues("error").Inc()
		return nil, zerrors.Wrap(zerrors.ErrInvalidResponse, err)
	}
	if !resp.Success {
		z.metrics.NotifySent.WithLabelValues("rejected").Inc()
		msg := resp.Message
		if msg == "" {
			msg = "Notify rejected"
		}
		return nil, &zerrors.RemoteError{Message: msg}
	}
	z.metrics.NotifySent.WithLabelValues("ok").Inc()
	return &resp, nil
}
