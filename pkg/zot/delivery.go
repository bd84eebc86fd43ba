package zot

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"

	"github.com/jzelinskie/whirlpool"
	"go.uber.org/zap"

	zerrors "github.com/sprezz-net/sprezz/pkg/errors"
	"github.com/sprezz-net/sprezz/pkg/types"
)

// MessageDeliverer accepts a message of one type from sender for local
// delivery to recipients. It must reject messages the sender neither
// authored nor owns.
type MessageDeliverer interface {
	Deliver(ctx context.Context, sender *types.XChannel, msg *Message, recipients []*types.XChannel) ([]DeliveryReport, error)
}

// RegisterDeliverer installs d for messages of msgType, replacing any
// previous registration.
func (z *Zot) RegisterDeliverer(msgType string, d MessageDeliverer) {
	z.mu.Lock()
	defer z.mu.Unlock()
	z.deliverers[msgType] = d
}

func (z *Zot) deliverer(msgType string) (MessageDeliverer, error) {
	z.mu.RLock()
	defer z.mu.RUnlock()
	d, ok := z.deliverers[msgType]
	if !ok {
		return nil, fmt.Errorf("%w: %q", zerrors.ErrNoDeliveryHandler, msgType)
	}
	return d, nil
}

// Deliver dispatches msg to the deliverer registered for its type.
func (z *Zot) Deliver(ctx context.Context, sender *types.XChannel, msg *Message, recipients []*types.XChannel) ([]DeliveryReport, error) {
	d, err := z.deliverer(msg.Type)
	if err != nil {
		return nil, err
	}
	return d.Deliver(ctx, sender, msg, recipients)
}

// ActivityDeliverer stores activities as items.
type ActivityDeliverer struct {
	z *Zot
}

// Deliver creates or updates the item for msg. A message without an id is
// assigned a fresh one, written back to msg.MessageID.
func (d *ActivityDeliverer) Deliver(ctx context.Context, sender *types.XChannel, msg *Message, recipients []*types.XChannel) ([]DeliveryReport, error) {
	z := d.z
	if !msg.CheckSender(sender) {
		z.logger.Error("Sender is not owner or author",
			zap.String("sender", sender.ChannelHash),
			zap.String("author", msg.AuthorHash()),
			zap.String("owner", msg.OwnerHash()))
		return nil, fmt.Errorf("%w: %s", zerrors.ErrForgedSender, sender.ChannelHash)
	}

	action, err := d.store(ctx, msg)
	if err != nil {
		return nil, err
	}
	z.metrics.Deliveries.WithLabelValues(msg.Type, action).Inc()
	z.logger.Debug("Delivered activity",
		zap.String("message_id", msg.MessageID),
		zap.String("action", action),
		zap.Int("recipients", len(recipients)))

	reports := make([]DeliveryReport, 0, len(recipients))
	for _, r := range recipients {
		reports = append(reports, DeliveryReport{
			RecipientHash: r.ChannelHash,
			Action:        action,
			Recipient:     fmt.Sprintf("%s <%s>", r.Name, r.Address),
		})
	}
	return reports, nil
}

func (d *ActivityDeliverer) store(ctx context.Context, msg *Message) (string, error) {
	z := d.z
	if msg.MessageID != "" {
		existing, err := z.store.GetItem(ctx, msg.MessageID)
		switch {
		case err == nil:
			if existing.AuthorHash != msg.AuthorHash() && existing.OwnerHash != msg.OwnerHash() {
				z.logger.Error("Update does not match stored provenance",
					zap.String("message_id", existing.MessageID),
					zap.String("author", msg.AuthorHash()),
					zap.String("stored_author", existing.AuthorHash))
				return "", fmt.Errorf("%w: item %s", zerrors.ErrForgedSender, existing.MessageID)
			}
			update := msg.item()
			update.MessageID = existing.MessageID
			if _, err := z.store.UpdateItem(ctx, update); err != nil {
				return "", err
			}
			return "updated", nil
		case !zerrors.Is(err, zerrors.ErrNotFound):
			return "", err
		}
		if err := z.store.AddItem(ctx, msg.item()); err != nil {
			return "", err
		}
		return "posted", nil
	}

	for i := 1; i <= IDAttempts; i++ {
		id, err := generateMessageID(z.random, z.site.Host)
		if err != nil {
			return "", err
		}
		item := msg.item()
		item.MessageID = id
		err = z.store.AddItem(ctx, item)
		if zerrors.Is(err, zerrors.ErrAlreadyExists) {
			continue
		}
		if err != nil {
			return "", err
		}
		if i > 1 {
			z.logger.Debug("Found available message id", zap.Int("attempts", i))
		}
		msg.MessageID = id
		return "posted", nil
	}
	z.logger.Error("No available message id found")
	return "", fmt.Errorf("%w: message id", zerrors.ErrIDExhausted)
}

// generateMessageID returns 64 hex characters of a Whirlpool digest over
// random bytes, qualified with host.
func generateMessageID(r io.Reader, host string) (string, error) {
	buf := make([]byte, messageIDSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("read random message id: %w", err)
	}
	h := whirlpool.New()
	h.Write(buf)
	return hex.EncodeToString(h.Sum(nil))[:messageIDSize] + "@" + host, nil
}
