// Package queue holds outgoing messages until the destination hub picks them
// up. Entries are keyed by a server-assigned secret that the notify packet
// carries and the pickup request must echo back.
package queue

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/jzelinskie/whirlpool"
)

const (
	// SecretSize truncates generated secrets to 64 hex characters.
	SecretSize = 64

	// SecretAttempts bounds the search for an unused secret.
	SecretAttempts = 1000

	DefaultTTL = 24 * time.Hour
)

// Entry is one message waiting for pickup by a single remote hub.
type Entry struct {
	Secret      string          `json:"secret"`
	SenderHash  string          `json:"sender_hash"`
	HubURL      string          `json:"hub_url"`
	HubCallback string          `json:"hub_callback"`
	Notify      json.RawMessage `json:"notify"`
	Message     json.RawMessage `json:"message"`
	CreatedAt   time.Time       `json:"created_at"`
}

type Queue interface {
	// Enqueue stores entry under a fresh secret, which it sets on entry and
	// returns.
	Enqueue(ctx context.Context, entry *Entry) (string, error)
	// Pickup removes and returns the entries stored under secret whose
	// destination is hubURL. Entries for other hubs are left in place.
	Pickup(ctx context.Context, secret, hubURL string) ([]*Entry, error)
	Len(ctx context.Context) (int, error)
	Close() error
}

// GenerateSecret derives a secret from SecretSize random bytes read from r,
// or crypto/rand when r is nil.
func GenerateSecret(r io.Reader) (string, error) {
	if r == nil {
		r = rand.Reader
	}
	buf := make([]byte, SecretSize)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("read random secret: %w", err)
	}
	h := whirlpool.New()
	h.Write(buf)
	return hex.EncodeToString(h.Sum(nil))[:SecretSize], nil
}
