package types

import (
	"time"

	"github.com/sprezz-net/sprezz/pkg/crypto"
)

// DefaultMimetype is assigned to items that arrive without one.
const DefaultMimetype = "text/bbcode"

// LocalChannel is a channel hosted by this site. It owns the private key.
type LocalChannel struct {
	Nickname    string
	Name        string
	ChannelHash string
	GUID        string
	Signature   string
	Key         *crypto.KeyPair
	CreatedAt   time.Time
}

// SignURL signs a hub url with the channel key, base64url encoded.
func (c *LocalChannel) SignURL(url string) (string, error) {
	sig, err := c.Key.Sign([]byte(url))
	if err != nil {
		return "", err
	}
	return crypto.Base64URLEncode(sig), nil
}

// XChannel is the public projection of a channel, local or remote.
type XChannel struct {
	Nickname       string
	Name           string
	ChannelHash    string
	GUID           string
	Signature      string
	Key            *crypto.KeyPair
	Address        string
	URL            string
	ConnectionsURL string
	PhotoMimetype  string
	PhotoURL       string
	PhotoUpdated   string
	Flags          map[string]bool
	Local          bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Update copies the mutable fields of other into x and returns the names of
// the fields that changed. ChannelHash, GUID, Signature and Key are never
// touched.
func (x *XChannel) Update(other *XChannel) []string {
	var changed []string
	set := func(name string, dst *string, src string) {
		if *dst != src {
			*dst = src
			changed = append(changed, name)
		}
	}
	set("nickname", &x.Nickname, other.Nickname)
	set("name", &x.Name, other.Name)
	set("address", &x.Address, other.Address)
	set("url", &x.URL, other.URL)
	set("connections_url", &x.ConnectionsURL, other.ConnectionsURL)
	set("photo_mimetype", &x.PhotoMimetype, other.PhotoMimetype)
	set("photo", &x.PhotoURL, other.PhotoURL)
	set("photo_updated", &x.PhotoUpdated, other.PhotoUpdated)
	if !equalFlags(x.Flags, other.Flags) {
		x.Flags = copyFlags(other.Flags)
		changed = append(changed, "flags")
	}
	return changed
}

// Clone returns a copy that shares only the immutable key.
func (x *XChannel) Clone() *XChannel {
	c := *x
	c.Flags = copyFlags(x.Flags)
	return &c
}

// Hub is the network location of a channel plus the key of the site hosting it.
type Hub struct {
	ChannelHash  string
	GUID         string
	Signature    string
	SiteKey      *crypto.KeyPair
	Host         string
	Address      string
	URL          string
	URLSignature string
	Callback     string
	Primary      bool
	Local        bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Update copies the location fields of other into h and returns the changed
// field names. The channel binding (hash, guid, signature) is immutable.
func (h *Hub) Update(other *Hub) []string {
	var changed []string
	set := func(name string, dst *string, src string) {
		if *dst != src {
			*dst = src
			changed = append(changed, name)
		}
	}
	set("host", &h.Host, other.Host)
	set("address", &h.Address, other.Address)
	set("url", &h.URL, other.URL)
	set("url_sig", &h.URLSignature, other.URLSignature)
	set("callback", &h.Callback, other.Callback)
	if other.SiteKey != nil && !other.SiteKey.Equal(h.SiteKey) {
		h.SiteKey = other.SiteKey
		changed = append(changed, "sitekey")
	}
	if h.Primary != other.Primary {
		h.Primary = other.Primary
		changed = append(changed, "primary")
	}
	return changed
}

// Clone returns a shallow copy.
func (h *Hub) Clone() *Hub {
	c := *h
	return &c
}

// Site describes a remote site as advertised in discovery responses.
type Site struct {
	URL            string
	RegisterPolicy string
	AccessPolicy   string
	DirectoryMode  string
	DirectoryURL   string
	Version        string
	AdminEmail     string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Update copies every field except URL and returns the changed field names.
func (s *Site) Update(other *Site) []string {
	var changed []string
	set := func(name string, dst *string, src string) {
		if *dst != src {
			*dst = src
			changed = append(changed, name)
		}
	}
	set("register_policy", &s.RegisterPolicy, other.RegisterPolicy)
	set("access_policy", &s.AccessPolicy, other.AccessPolicy)
	set("directory_mode", &s.DirectoryMode, other.DirectoryMode)
	set("directory_url", &s.DirectoryURL, other.DirectoryURL)
	set("version", &s.Version, other.Version)
	set("admin", &s.AdminEmail, other.AdminEmail)
	return changed
}

// Clone returns a shallow copy.
func (s *Site) Clone() *Site {
	c := *s
	return &c
}

// Item is a delivered message as stored locally.
type Item struct {
	MessageID  string
	Title      string
	Body       string
	Mimetype   string
	AuthorHash string
	OwnerHash  string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Update copies the content fields of other into i and returns the changed
// field names.
func (i *Item) Update(other *Item) []string {
	var changed []string
	set := func(name string, dst *string, src string) {
		if *dst != src {
			*dst = src
			changed = append(changed, name)
		}
	}
	set("title", &i.Title, other.Title)
	set("body", &i.Body, other.Body)
	set("mimetype", &i.Mimetype, other.Mimetype)
	return changed
}

// Clone returns a shallow copy.
func (i *Item) Clone() *Item {
	c := *i
	return &c
}

func equalFlags(a, b map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv != v {
			return false
		}
	}
	return true
}

func copyFlags(m map[string]bool) map[string]bool {
	if m == nil {
		return nil
	}
	out := make(map[string]bool, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
