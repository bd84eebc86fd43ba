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

// PostHandler answers one type of callback packet. The returned value is
// encoded as the JSON response.
type PostHandler interface {
	HandlePost(ctx context.Context, packet []byte) (any, error)
}

type PostHandlerFunc func(ctx context.Context, packet []byte) (any, error)

func (f PostHandlerFunc) HandlePost(ctx context.Context, packet []byte) (any, error) {
	return f(ctx, packet)
}

// RegisterPostHandler installs h for packets of packetType.
func (z *Zot) RegisterPostHandler(packetType string, h PostHandler) {
	z.mu.Lock()
	defer z.mu.Unlock()
	z.handlers[packetType] = h
}

// HandlePost processes the data field posted to the callback endpoint.
// Packets that cannot be decrypted or decoded are handled as bogus, so the
// reply never tells a padding error from a wrong key or bad JSON.
func (z *Zot) HandlePost(ctx context.Context, data []byte) any {
	if !json.Valid(data) {
		// Nothing was decrypted yet, so saying so leaks nothing.
		z.logger.Error("No valid JSON data received")
		z.metrics.EndpointPosts.WithLabelValues("invalid").Inc()
		return &Result{}
	}

	packet, err := z.openEnvelope(data)
	if err != nil {
		z.logger.Error("Could not decrypt received data", zap.Error(err))
		packet = nil
	}

	var hdr packetHeader
	if packet == nil || json.Unmarshal(packet, &hdr) != nil || hdr.Type == "" {
		hdr.Type = PacketBogus
	}
	z.metrics.EndpointPosts.WithLabelValues(metricPacketType(hdr.Type)).Inc()

	z.mu.RLock()
	h, ok := z.handlers[hdr.Type]
	z.mu.RUnlock()
	if !ok {
		z.logger.Debug("Ignoring packet", zap.String("type", hdr.Type))
		return &Result{}
	}

	out, err := h.HandlePost(ctx, packet)
	if err != nil {
		z.logger.Error("Post handler failed", zap.String("type", hdr.Type), zap.Error(err))
		return &Result{}
	}
	return out
}

// metricPacketType bounds label cardinality to the known packet types.
func metricPacketType(t string) string {
	switch t {
	case PacketPing, PacketPickup, PacketNotify, PacketBogus:
		return t
	}
	return "other"
}

func (z *Zot) postPing(_ context.Context, packet []byte) (any, error) {
	var req PingRequest
	_ = json.Unmarshal(packet, &req)
	z.logger.Debug("Received ping", zap.String("url", req.URL), zap.String("guid", req.GUID))
	return &PingResponse{
		Success: true,
		Site: &PingSite{
			URL:     z.site.URL,
			URLSig:  z.site.Signature,
			SiteKey: z.site.PublicKey,
		},
	}, nil
}

func (z *Zot) postPickup(ctx context.Context, packet []byte) (any, error) {
	var req PickupRequest
	if err := json.Unmarshal(packet, &req); err != nil {
		return &Result{}, nil
	}

	hubs, err := z.hubs.FindByCallback(ctx, req.URL, req.Callback)
	if err != nil {
		return nil, err
	}
	var site *types.Hub
	callbackOK, secretOK := false, false
	for _, hub := range hubs {
		site = hub
		callbackOK, _ = VerifySignature(hub.SiteKey, req.Callback, req.CallbackSig)
		secretOK, _ = VerifySignature(hub.SiteKey, req.Secret, req.SecretSig)
		if callbackOK && secretOK {
			break
		}
	}
	switch {
	case site == nil:
		z.logger.Error("Pickup from unknown site", zap.String("url", req.URL))
		return &Result{Message: "Site not found."}, nil
	case !callbackOK:
		z.logger.Error("Possible site forgery", zap.String("url", req.URL))
		return &Result{Message: "Invalid callback signature."}, nil
	case !secretOK:
		z.logger.Error("Invalid secret signature", zap.String("url", req.URL))
		return &Result{Message: "Invalid secret signature."}, nil
	}

	entries, err := z.queue.Pickup(ctx, req.Secret, req.URL)
	if err != nil {
		return nil, err
	}
	resp := PickupResponse{Success: true, Pickup: []PickupItem{}}
	for _, e := range entries {
		var item PickupItem
		if err := json.Unmarshal(e.Notify, &item.Notify); err != nil {
			z.logger.Warn("Dropping undecodable queue entry", zap.Error(err))
			continue
		}
		if err := json.Unmarshal(e.Message, &item.Message); err != nil {
			z.logger.Warn("Dropping undecodable queue entry", zap.Error(err))
			continue
		}
		resp.Pickup = append(resp.Pickup, item)
	}
	z.metrics.MessagesPickedUp.Add(float64(len(resp.Pickup)))
	z.logger.Info("Delivered queued messages",
		zap.String("url", req.URL),
		zap.Int("count", len(resp.Pickup)))

	plain, err := json.Marshal(resp)
	if err != nil {
		return nil, fmt.Errorf("encode pickup response: %w", err)
	}
	return site.SiteKey.AESEncapsulate(plain)
}

func (z *Zot) postNotify(ctx context.Context, packet []byte) (any, error) {
	var n Notify
	if err := json.Unmarshal(packet, &n); err != nil || n.Sender == nil {
		return &NotifyResponse{Message: "No sender."}, nil
	}
	s := n.Sender

	hub, err := z.primaryHub(ctx, s)
	if err != nil {
		z.logger.Warn("Notify from unverified hub", zap.String("url", s.URL), zap.Error(err))
		return &NotifyResponse{Message: "Hub not found."}, nil
	}
	if ok, _ := VerifySignature(hub.SiteKey, n.Secret, n.SecretSig); !ok {
		z.logger.Error("Invalid secret signature", zap.String("url", s.URL))
		return &NotifyResponse{Message: "Invalid secret signature."}, nil
	}

	resp, err := z.Fetch(ctx, n.Secret, hub)
	if err != nil {
		z.logger.Warn("Pickup failed", zap.String("hub", hub.URL), zap.Error(err))
		return &NotifyResponse{Message: "Pickup failed."}, nil
	}
	return &NotifyResponse{Success: true, DeliveryReport: z.ImportMessages(ctx, resp, hub)}, nil
}

// primaryHub returns the verified hub of sender, discovering and importing
// the sender first when no such hub is known yet.
func (z *Zot) primaryHub(ctx context.Context, s *Sender) (*types.Hub, error) {
	hub, err := z.hubs.FindPrimary(ctx, s.URL, s.URLSig, s.GUID, s.GUIDSig)
	if err == nil || !zerrors.Is(err, zerrors.ErrNotFound) {
		return hub, err
	}

	info, err := z.Finger(ctx, FingerRequest{ChannelHash: s.ChannelHash(), SiteURL: s.URL})
	if err != nil {
		return nil, err
	}
	if _, err := z.ImportXChannel(ctx, info); err != nil {
		return nil, err
	}
	return z.hubs.FindPrimary(ctx, s.URL, s.URLSig, s.GUID, s.GUIDSig)
}

// Ping asks the hub at callback for its site identity and checks that the
// returned url signature matches the returned site key.
func (z *Zot) Ping(ctx context.Context, callback string) (*PingSite, error) {
	payload, err := json.Marshal(PingRequest{Type: PacketPing, URL: z.site.URL})
	if err != nil {
		return nil, fmt.Errorf("encode ping: %w", err)
	}
	body, err := z.postData(ctx, callback, payload)
	if err != nil {
		return nil, err
	}
	var resp PingResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, zerrors.Wrap(zerrors.ErrInvalidResponse, err)
	}
	if !resp.Success || resp.Site == nil {
		return nil, &zerrors.RemoteError{Message: defaultString(resp.Message, "No results")}
	}
	key, err := crypto.FromPublicPEM([]byte(resp.Site.SiteKey))
	if err != nil {
		return nil, err
	}
	if ok, _ := VerifySignature(key, resp.Site.URL, resp.Site.URLSig); !ok {
		return nil, fmt.Errorf("%w: site %s", zerrors.ErrInvalidSignature, resp.Site.URL)
	}
	return resp.Site, nil
}
