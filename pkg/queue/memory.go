package queue

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	zerrors "github.com/sprezz-net/sprezz/pkg/errors"
)

// Memory is an in-process Queue with periodic expiry of stale entries.
type Memory struct {
	mu      sync.Mutex
	entries map[string]*Entry

	ttl             time.Duration
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once

	random io.Reader
	now    func() time.Time
	logger *zap.Logger
}

type MemoryOption func(*Memory)

// WithRandom replaces the secret entropy source.
func WithRandom(r io.Reader) MemoryOption {
	return func(m *Memory) { m.random = r }
}

func WithCleanupInterval(d time.Duration) MemoryOption {
	return func(m *Memory) { m.cleanupInterval = d }
}

// NewMemory creates a queue whose entries expire after ttl and starts the
// cleanup goroutine. Call Close to stop it.
func NewMemory(ttl time.Duration, logger *zap.Logger, opts ...MemoryOption) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Memory{
		entries:         make(map[string]*Entry),
		ttl:             ttl,
		cleanupInterval: time.Hour,
		stopCleanup:     make(chan struct{}),
		now:             time.Now,
		logger:          logger,
	}
	for _, opt := range opts {
		opt(m)
	}

	go m.cleanupExpired()

	return m
}

func (m *Memory) Enqueue(_ context.Context, entry *Entry) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := 1; i <= SecretAttempts; i++ {
		secret, err := GenerateSecret(m.random)
		if err != nil {
			return "", err
		}
		if _, taken := m.entries[secret]; taken {
			continue
		}
		if i > 1 {
			m.logger.Debug("found available secret", zap.Int("attempts", i))
		}
		e := *entry
		e.Secret = secret
		if e.CreatedAt.IsZero() {
			e.CreatedAt = m.now()
		}
		m.entries[secret] = &e
		entry.Secret = secret
		return secret, nil
	}
	m.logger.Error("no available secret found", zap.Int("attempts", SecretAttempts))
	return "", fmt.Errorf("%w: secret", zerrors.ErrIDExhausted)
}

func (m *Memory) Pickup(_ context.Context, secret, hubURL string) ([]*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	e, ok := m.entries[secret]
	if !ok || e.HubURL != hubURL {
		return nil, nil
	}
	delete(m.entries, secret)
	if m.now().Sub(e.CreatedAt) > m.ttl {
		return nil, nil
	}
	c := *e
	return []*Entry{&c}, nil
}

func (m *Memory) Len(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries), nil
}

// cleanupExpired drops entries older than the ttl.
func (m *Memory) cleanupExpired() {
	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.expire()
		case <-m.stopCleanup:
			return
		}
	}
}

func (m *Memory) expire() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for secret, e := range m.entries {
		if now.Sub(e.CreatedAt) > m.ttl {
			delete(m.entries, secret)
			removed++
		}
	}
	if removed > 0 {
		m.logger.Debug("expired queued messages", zap.Int("removed", removed))
	}
	return removed
}

// Close stops the cleanup goroutine.
func (m *Memory) Close() error {
	m.stopOnce.Do(func() { close(m.stopCleanup) })
	return nil
}
