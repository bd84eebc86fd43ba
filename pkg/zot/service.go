// Package zot implements the zot federation protocol: channel identities,
// discovery over /.well-known/zot-info, identity import, and message
// delivery through notify and pickup packets.
package zot

import (
	"crypto/rand"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/sprezz-net/sprezz/pkg/crypto"
	"github.com/sprezz-net/sprezz/pkg/queue"
	"github.com/sprezz-net/sprezz/pkg/store"
)

// ServerName prefixes the version advertised in the site block.
const ServerName = "sprezz"

const (
	DefaultTimeout      = 3 * time.Second
	DefaultKeyBits      = crypto.DefaultKeyBits
	DefaultCallbackPath = "/post"

	// IDAttempts bounds the search for an unused message id.
	IDAttempts = 1000

	// messageIDSize truncates generated message ids before the @host suffix.
	messageIDSize = 64
)

// Options configures a Zot engine. SiteURL, SiteKey and Store are required.
type Options struct {
	SiteURL      string
	CallbackPath string
	SiteKey      *crypto.KeyPair
	Store        store.Store
	Queue        queue.Queue

	Version        string
	AdminEmail     string
	RegisterPolicy string
	AccessPolicy   string
	DirectoryMode  string
	DirectoryURL   string

	// HTTPClient is used for all outgoing requests. Nil builds one with
	// Timeout. A client without CheckRedirect gets KeepMethodOnRedirect.
	HTTPClient *http.Client
	Timeout    time.Duration
	KeyBits    int

	Logger  *zap.Logger
	Metrics *Metrics
	Random  io.Reader
}

// Site is the identity of this site, derived once from configuration.
type Site struct {
	URL               string
	Host              string // hostname plus any non-default port
	Hostname          string
	Callback          string
	Signature         string
	CallbackSignature string
	PublicKey         string
}

// Zot is the protocol engine of one site.
type Zot struct {
	site    Site
	siteKey *crypto.KeyPair
	store   store.Store
	hubs    *HubRegistry
	queue   queue.Queue
	client  *http.Client
	logger  *zap.Logger
	metrics *Metrics
	random  io.Reader
	keyBits int

	ownsQueue bool

	version        string
	adminEmail     string
	registerPolicy string
	accessPolicy   string
	directoryMode  string
	directoryURL   string

	mu         sync.RWMutex
	deliverers map[string]MessageDeliverer
	handlers   map[string]PostHandler
}

// New builds an engine and registers the default message deliverer and
// callback packet handlers.
func New(opts Options) (*Zot, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if !opts.SiteKey.HasPrivate() {
		return nil, fmt.Errorf("site key must include a private key")
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = NewMetrics(prometheus.NewRegistry())
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: timeout, CheckRedirect: KeepMethodOnRedirect}
	} else if client.CheckRedirect == nil {
		c := *client
		c.CheckRedirect = KeepMethodOnRedirect
		client = &c
	}
	random := opts.Random
	if random == nil {
		random = rand.Reader
	}
	keyBits := opts.KeyBits
	if keyBits <= 0 {
		keyBits = DefaultKeyBits
	}
	q, ownsQueue := opts.Queue, false
	if q == nil {
		q, ownsQueue = queue.NewMemory(queue.DefaultTTL, logger), true
	}

	site, err := newSite(opts.SiteURL, opts.CallbackPath, opts.SiteKey)
	if err != nil {
		return nil, err
	}

	z := &Zot{
		site:           site,
		siteKey:        opts.SiteKey,
		store:          opts.Store,
		hubs:           NewHubRegistry(opts.Store),
		queue:          q,
		ownsQueue:      ownsQueue,
		client:         client,
		logger:         logger,
		metrics:        metrics,
		random:         random,
		keyBits:        keyBits,
		version:        fmt.Sprintf("%s %s", ServerName, opts.Version),
		adminEmail:     opts.AdminEmail,
		registerPolicy: defaultString(opts.RegisterPolicy, "closed"),
		accessPolicy:   defaultString(opts.AccessPolicy, "private"),
		directoryMode:  defaultString(opts.DirectoryMode, "standalone"),
		directoryURL:   opts.DirectoryURL,
		deliverers:     make(map[string]MessageDeliverer),
		handlers:       make(map[string]PostHandler),
	}

	z.RegisterDeliverer(MessageTypeActivity, &ActivityDeliverer{z: z})
	z.RegisterPostHandler(PacketPing, PostHandlerFunc(z.postPing))
	z.RegisterPostHandler(PacketPickup, PostHandlerFunc(z.postPickup))
	z.RegisterPostHandler(PacketNotify, PostHandlerFunc(z.postNotify))

	logger.Info("Zot engine ready",
		zap.String("site_url", site.URL),
		zap.String("callback", site.Callback))
	return z, nil
}

func newSite(siteURL, callbackPath string, key *crypto.KeyPair) (Site, error) {
	siteURL = strings.TrimRight(siteURL, "/")
	u, err := url.Parse(siteURL)
	if err != nil {
		return Site{}, fmt.Errorf("invalid site url: %w", err)
	}
	if u.Scheme == "" || u.Hostname() == "" {
		return Site{}, fmt.Errorf("invalid site url %q", siteURL)
	}

	if callbackPath == "" {
		callbackPath = DefaultCallbackPath
	}
	if !strings.HasPrefix(callbackPath, "/") {
		callbackPath = "/" + callbackPath
	}

	site := Site{
		URL:      siteURL,
		Host:     netloc(u),
		Hostname: u.Hostname(),
		Callback: siteURL + callbackPath,
	}
	if site.Signature, err = signString(key, site.URL); err != nil {
		return Site{}, err
	}
	if site.CallbackSignature, err = signString(key, site.Callback); err != nil {
		return Site{}, err
	}
	if site.PublicKey, err = key.ExportPublicPEM(); err != nil {
		return Site{}, err
	}
	return site, nil
}

// netloc returns the hostname, with the port only when it is not 80 or 443.
func netloc(u *url.URL) string {
	port := u.Port()
	if port == "" || port == "80" || port == "443" {
		return u.Hostname()
	}
	return u.Hostname() + ":" + port
}

func signString(key *crypto.KeyPair, s string) (string, error) {
	sig, err := key.Sign([]byte(s))
	if err != nil {
		return "", err
	}
	return crypto.Base64URLEncode(sig), nil
}

func defaultString(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// Site returns the identity of this site.
func (z *Zot) Site() Site { return z.site }

// SiteKey returns the public half of the site key.
func (z *Zot) SiteKey() *crypto.KeyPair { return z.siteKey.PublicOnly() }

func (z *Zot) Store() store.Store { return z.store }

func (z *Zot) Hubs() *HubRegistry { return z.hubs }

func (z *Zot) Queue() queue.Queue { return z.queue }

func (z *Zot) Metrics() *Metrics { return z.metrics }

// Close stops the queue if New created it.
func (z *Zot) Close() error {
	if z.ownsQueue {
		return z.queue.Close()
	}
	return nil
}

// channelURL returns the profile url of a local nickname.
func (z *Zot) channelURL(nickname string) string {
	return z.site.URL + "/" + nickname
}

func (z *Zot) connectionsURL(nickname string) string {
	return z.site.URL + "/poco/" + nickname
}

func (z *Zot) localAddress(nickname string) string {
	return nickname + "@" + z.site.Host
}
