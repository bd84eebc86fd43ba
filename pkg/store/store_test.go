package store

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sprezz-net/sprezz/pkg/crypto"
	zerrors "github.com/sprezz-net/sprezz/pkg/errors"
	"github.com/sprezz-net/sprezz/pkg/types"
)

var (
	keyOnce sync.Once
	testKey *crypto.KeyPair
)

func key(t *testing.T) *crypto.KeyPair {
	t.Helper()
	keyOnce.Do(func() {
		var err error
		testKey, err = crypto.Generate(2048)
		require.NoError(t, err)
	})
	return testKey
}

func suffix(t *testing.T) string {
	t.Helper()
	b := make([]byte, 6)
	_, err := rand.Read(b)
	require.NoError(t, err)
	return hex.EncodeToString(b)
}

func fixtureChannel(t *testing.T, nickname string) (*types.LocalChannel, *types.XChannel, *types.Hub) {
	t.Helper()
	k := key(t)
	hash := "hash-" + nickname
	ch := &types.LocalChannel{
		Nickname:    nickname,
		Name:        "Channel " + nickname,
		ChannelHash: hash,
		GUID:        "guid-" + nickname,
		Signature:   "sig-" + nickname,
		Key:         k,
	}
	x := &types.XChannel{
		Nickname:    nickname,
		Name:        ch.Name,
		ChannelHash: hash,
		GUID:        ch.GUID,
		Signature:   ch.Signature,
		Key:         k.PublicOnly(),
		Address:     nickname + "@example.com",
		URL:         "https://example.com/" + nickname,
		Local:       true,
	}
	hub := &types.Hub{
		ChannelHash:  hash,
		GUID:         ch.GUID,
		Signature:    ch.Signature,
		SiteKey:      k.PublicOnly(),
		Host:         "example.com",
		Address:      x.Address,
		URL:          "https://example.com",
		URLSignature: "url-sig-" + nickname,
		Callback:     "https://example.com/post",
		Primary:      true,
		Local:        true,
	}
	return ch, x, hub
}

// runStoreTests exercises behaviour every Store implementation must share.
func runStoreTests(t *testing.T, s Store) {
	ctx := context.Background()

	t.Run("create channel", func(t *testing.T) {
		nick := "admin" + suffix(t)
		ch, x, hub := fixtureChannel(t, nick)
		require.NoError(t, s.CreateChannel(ctx, ch, x, hub))

		got, err := s.GetChannel(ctx, nick)
		require.NoError(t, err)
		assert.Equal(t, ch.ChannelHash, got.ChannelHash)
		assert.True(t, got.Key.HasPrivate())

		byHash, err := s.GetChannelByHash(ctx, ch.ChannelHash)
		require.NoError(t, err)
		assert.Equal(t, nick, byHash.Nickname)

		gotX, err := s.GetXChannel(ctx, ch.ChannelHash)
		require.NoError(t, err)
		assert.Equal(t, x.Address, gotX.Address)
		assert.False(t, gotX.Key.HasPrivate())

		gotHub, err := s.GetHub(ctx, ch.ChannelHash)
		require.NoError(t, err)
		assert.True(t, gotHub.SiteKey.Equal(key(t)))

		list, err := s.ListChannels(ctx)
		require.NoError(t, err)
		var found bool
		for _, c := range list {
			found = found || c.Nickname == nick
		}
		assert.True(t, found)
	})

	t.Run("duplicate channel", func(t *testing.T) {
		nick := "dup" + suffix(t)
		ch, x, hub := fixtureChannel(t, nick)
		require.NoError(t, s.CreateChannel(ctx, ch, x, hub))

		err := s.CreateChannel(ctx, ch, x, hub)
		assert.ErrorIs(t, err, zerrors.ErrDuplicateChannel)
	})

	t.Run("not found", func(t *testing.T) {
		_, err := s.GetChannel(ctx, "missing"+suffix(t))
		assert.ErrorIs(t, err, zerrors.ErrNotFound)
		_, err = s.GetXChannel(ctx, "missing")
		assert.ErrorIs(t, err, zerrors.ErrNotFound)
		_, err = s.GetHub(ctx, "missing")
		assert.ErrorIs(t, err, zerrors.ErrNotFound)
		_, err = s.GetSite(ctx, "https://missing.example.com")
		assert.ErrorIs(t, err, zerrors.ErrNotFound)
		_, err = s.GetItem(ctx, "missing@example.com")
		assert.ErrorIs(t, err, zerrors.ErrNotFound)
	})

	t.Run("upsert xchannel", func(t *testing.T) {
		_, x, _ := fixtureChannel(t, "remote"+suffix(t))
		x.Local = false

		res, err := s.UpsertXChannel(ctx, x)
		require.NoError(t, err)
		assert.True(t, res.Created)

		res, err = s.UpsertXChannel(ctx, x)
		require.NoError(t, err)
		assert.False(t, res.Modified())

		renamed := x.Clone()
		renamed.Name = "Renamed"
		renamed.GUID = "forged"
		res, err = s.UpsertXChannel(ctx, renamed)
		require.NoError(t, err)
		assert.Equal(t, []string{"name"}, res.Changed)

		got, err := s.GetXChannel(ctx, x.ChannelHash)
		require.NoError(t, err)
		assert.Equal(t, "Renamed", got.Name)
		assert.Equal(t, x.GUID, got.GUID)

		byAddr, err := s.FindXChannelByAddress(ctx, x.Address)
		require.NoError(t, err)
		assert.Equal(t, x.ChannelHash, byAddr.ChannelHash)

		byGUID, err := s.FindXChannelByGUID(ctx, x.GUID, x.Signature)
		require.NoError(t, err)
		assert.Equal(t, x.ChannelHash, byGUID.ChannelHash)

		_, err = s.FindXChannelByGUID(ctx, x.GUID, "other")
		assert.ErrorIs(t, err, zerrors.ErrNotFound)
	})

	t.Run("hub registry", func(t *testing.T) {
		_, _, hub := fixtureChannel(t, "hub"+suffix(t))
		hub.Local = false

		require.NoError(t, s.AddHub(ctx, hub))
		assert.ErrorIs(t, s.AddHub(ctx, hub), zerrors.ErrAlreadyExists)

		res, err := s.UpsertHub(ctx, hub)
		require.NoError(t, err)
		assert.False(t, res.Modified())

		moved := hub.Clone()
		moved.Callback = "https://example.com/zot"
		res, err = s.UpsertHub(ctx, moved)
		require.NoError(t, err)
		assert.Equal(t, []string{"callback"}, res.Changed)

		hubs, err := s.ListHubs(ctx)
		require.NoError(t, err)
		var found bool
		for _, h := range hubs {
			if h.ChannelHash == hub.ChannelHash {
				found = true
				assert.Equal(t, "https://example.com/zot", h.Callback)
			}
		}
		assert.True(t, found)
	})

	t.Run("upsert site", func(t *testing.T) {
		site := &types.Site{
			URL:            "https://" + suffix(t) + ".example.com",
			RegisterPolicy: "closed",
			AccessPolicy:   "private",
			DirectoryMode:  "standalone",
			Version:        "0.1",
			AdminEmail:     "admin@example.com",
		}
		res, err := s.UpsertSite(ctx, site)
		require.NoError(t, err)
		assert.True(t, res.Created)

		res, err = s.UpsertSite(ctx, site)
		require.NoError(t, err)
		assert.False(t, res.Modified())

		got, err := s.GetSite(ctx, site.URL)
		require.NoError(t, err)
		assert.Equal(t, "standalone", got.DirectoryMode)
	})

	t.Run("items", func(t *testing.T) {
		item := &types.Item{MessageID: suffix(t) + "@example.com", Title: "t", Body: "b", Mimetype: types.DefaultMimetype}
		require.NoError(t, s.AddItem(ctx, item))
		assert.ErrorIs(t, s.AddItem(ctx, item), zerrors.ErrAlreadyExists)

		edited := item.Clone()
		edited.Body = "edited"
		changed, err := s.UpdateItem(ctx, edited)
		require.NoError(t, err)
		assert.Equal(t, []string{"body"}, changed)

		got, err := s.GetItem(ctx, item.MessageID)
		require.NoError(t, err)
		assert.Equal(t, "edited", got.Body)

		_, err = s.UpdateItem(ctx, &types.Item{MessageID: "missing@example.com"})
		assert.ErrorIs(t, err, zerrors.ErrNotFound)
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreTests(t, NewMemory())
}

func TestMemoryReturnsCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	ch, x, hub := fixtureChannel(t, "copy")
	require.NoError(t, s.CreateChannel(ctx, ch, x, hub))

	got, err := s.GetXChannel(ctx, x.ChannelHash)
	require.NoError(t, err)
	got.Name = "mutated"

	again, err := s.GetXChannel(ctx, x.ChannelHash)
	require.NoError(t, err)
	assert.Equal(t, x.Name, again.Name)
}

func TestMemoryConcurrentUpsert(t *testing.T) {
	runConcurrentUpsertTests(t, NewMemory())
}

// runConcurrentUpsertTests imports the same records from many goroutines.
// Exactly one import creates each record and none fail.
func runConcurrentUpsertTests(t *testing.T, s Store) {
	ctx := context.Background()
	_, x, hub := fixtureChannel(t, "race"+suffix(t))
	x.Local, hub.Local = false, false
	site := &types.Site{URL: "https://" + suffix(t) + ".example.com", Version: "0.1"}

	const workers = 20
	race := func(t *testing.T, upsert func() (UpsertResult, error)) {
		var wg sync.WaitGroup
		created := make(chan bool, workers)
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				res, err := upsert()
				assert.NoError(t, err)
				created <- res.Created
			}()
		}
		wg.Wait()
		close(created)

		var n int
		for c := range created {
			if c {
				n++
			}
		}
		assert.Equal(t, 1, n)
	}

	t.Run("xchannel", func(t *testing.T) {
		race(t, func() (UpsertResult, error) { return s.UpsertXChannel(ctx, x) })
		_, err := s.GetXChannel(ctx, x.ChannelHash)
		assert.NoError(t, err)
	})
	t.Run("hub", func(t *testing.T) {
		race(t, func() (UpsertResult, error) { return s.UpsertHub(ctx, hub) })
		_, err := s.GetHub(ctx, hub.ChannelHash)
		assert.NoError(t, err)
	})
	t.Run("site", func(t *testing.T) {
		race(t, func() (UpsertResult, error) { return s.UpsertSite(ctx, site) })
		_, err := s.GetSite(ctx, site.URL)
		assert.NoError(t, err)
	})
}
