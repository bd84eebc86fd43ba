package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/sprezz-net/sprezz/pkg/config"
	"github.com/sprezz-net/sprezz/pkg/crypto"
	"github.com/sprezz-net/sprezz/pkg/queue"
	"github.com/sprezz-net/sprezz/pkg/store"
	"github.com/sprezz-net/sprezz/pkg/zot"
)

// engine bundles a zot engine with the resources it was built from.
type engine struct {
	zot     *zot.Zot
	store   store.Store
	queue   queue.Queue
	metrics *prometheus.Registry
}

func (e *engine) Close() error {
	return errors.Join(e.zot.Close(), e.queue.Close(), e.store.Close())
}

// openEngine wires storage, queue, site key and HTTP client from cfg.
func openEngine(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*engine, error) {
	siteKey, err := loadSiteKey(cfg.Site.KeyPath, cfg.Keys.Bits, logger)
	if err != nil {
		return nil, err
	}

	st, err := openStore(ctx, cfg.Store, logger)
	if err != nil {
		return nil, err
	}
	q, err := openQueue(ctx, cfg.Queue, logger)
	if err != nil {
		st.Close()
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	z, err := zot.New(zot.Options{
		SiteURL:        cfg.Site.URL,
		CallbackPath:   cfg.Site.CallbackPath,
		SiteKey:        siteKey,
		Store:          st,
		Queue:          q,
		Version:        Version,
		AdminEmail:     cfg.Site.AdminEmail,
		RegisterPolicy: cfg.Site.RegisterPolicy,
		AccessPolicy:   cfg.Site.AccessPolicy,
		DirectoryMode:  cfg.Site.DirectoryMode,
		DirectoryURL:   cfg.Site.DirectoryURL,
		HTTPClient:     httpClient(cfg.Network),
		KeyBits:        cfg.Keys.Bits,
		Logger:         logger,
		Metrics:        zot.NewMetrics(registry),
	})
	if err != nil {
		q.Close()
		st.Close()
		return nil, err
	}
	return &engine{zot: z, store: st, queue: q, metrics: registry}, nil
}

func openStore(ctx context.Context, cfg config.StoreConfig, logger *zap.Logger) (store.Store, error) {
	switch cfg.Driver {
	case config.StorePostgres:
		pg, err := store.OpenPostgres(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close()
			return nil, err
		}
		logger.Info("Using PostgreSQL store")
		return pg, nil
	default:
		logger.Warn("Using in-memory store, state is lost on exit")
		return store.NewMemory(), nil
	}
}

func openQueue(ctx context.Context, cfg config.QueueConfig, logger *zap.Logger) (queue.Queue, error) {
	switch cfg.Driver {
	case config.QueueRedis:
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		logger.Info("Using Redis delivery queue", zap.String("addr", cfg.RedisAddr))
		return queue.NewRedis(rdb, cfg.TTL.Std(), logger), nil
	default:
		return queue.NewMemory(cfg.TTL.Std(), logger), nil
	}
}

func httpClient(cfg config.NetworkConfig) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.InsecureSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	return &http.Client{
		Timeout:       cfg.Timeout.Std(),
		Transport:     transport,
		CheckRedirect: zot.KeepMethodOnRedirect,
	}
}

// loadSiteKey reads the site private key at path, generating and saving a
// new one when the file does not exist. An empty path yields an ephemeral
// key.
func loadSiteKey(path string, bits int, logger *zap.Logger) (*crypto.KeyPair, error) {
	if path == "" {
		logger.Warn("No site.key_path configured, using an ephemeral site key")
		return crypto.Generate(bits)
	}

	data, err := os.ReadFile(path)
	if err == nil {
		return crypto.FromPrivatePEM(data)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read site key: %w", err)
	}

	logger.Info("Generating site key", zap.String("path", path), zap.Int("bits", bits))
	key, err := crypto.Generate(bits)
	if err != nil {
		return nil, err
	}
	if err := writeKey(path, key); err != nil {
		return nil, err
	}
	return key, nil
}

func writeKey(path string, key *crypto.KeyPair) error {
	pem, err := key.ExportPrivatePEM()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}
	if err := os.WriteFile(path, pem, 0o600); err != nil {
		return fmt.Errorf("failed to write site key: %w", err)
	}
	return nil
}
