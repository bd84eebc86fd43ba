package zot

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	zerrors "github.com/sprezz-net/sprezz/pkg/errors"
)

func TestAddChannel(t *testing.T) {
	ctx := context.Background()
	z := newTestZot(t, "http://localhost:8080", 0)

	ch, err := z.AddChannel(ctx, " Admin ", " The Admin ")
	require.NoError(t, err)
	assert.Equal(t, "admin", ch.Nickname)
	assert.Equal(t, "The Admin", ch.Name)
	assert.True(t, ch.Key.HasPrivate())
	assert.Equal(t, CreateChannelHash(ch.GUID, ch.Signature), ch.ChannelHash)

	ok, err := VerifySignature(ch.Key, ch.GUID, ch.Signature)
	require.NoError(t, err)
	assert.True(t, ok)

	x, err := z.Store().GetXChannel(ctx, ch.ChannelHash)
	require.NoError(t, err)
	assert.Equal(t, "admin@localhost:8080", x.Address)
	assert.Equal(t, "http://localhost:8080/admin", x.URL)
	assert.Equal(t, "http://localhost:8080/poco/admin", x.ConnectionsURL)
	assert.False(t, x.Key.HasPrivate())
	assert.True(t, x.Local)

	hub, err := z.Hubs().Get(ctx, ch.ChannelHash)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", hub.URL)
	assert.Equal(t, "http://localhost:8080/post", hub.Callback)
	assert.True(t, hub.Primary)
	assert.True(t, hub.SiteKey.Equal(z.SiteKey()))
	ok, err = VerifySignature(x.Key, hub.URL, hub.URLSignature)
	require.NoError(t, err)
	assert.True(t, ok)

	assert.Equal(t, 1.0, testutil.ToFloat64(z.Metrics().ChannelsCreated))
}

func TestAddChannelRejects(t *testing.T) {
	ctx := context.Background()
	z := newTestZot(t, "http://localhost:8080", 0)

	_, err := z.AddChannel(ctx, "admin", "Admin")
	require.NoError(t, err)

	_, err = z.AddChannel(ctx, "ADMIN", "Other")
	assert.ErrorIs(t, err, zerrors.ErrDuplicateChannel)

	for _, nick := range []string{"", "   ", "a@b", "a/b"} {
		_, err = z.AddChannel(ctx, nick, "x")
		assert.ErrorIs(t, err, zerrors.ErrInvalidAddress, "nickname %q", nick)
	}

	channels, err := z.ListChannels(ctx)
	require.NoError(t, err)
	require.Len(t, channels, 1)
	assert.Equal(t, "admin", channels[0].Nickname)
}

func TestAddChannelDistinctGUIDs(t *testing.T) {
	ctx := context.Background()
	a := newTestZot(t, "http://localhost:8080", 0)
	b := newTestZot(t, "http://localhost:8080", 0)

	ca, err := a.AddChannel(ctx, "admin", "Admin")
	require.NoError(t, err)
	cb, err := b.AddChannel(ctx, "admin", "Admin")
	require.NoError(t, err)
	assert.NotEqual(t, ca.GUID, cb.GUID)
	assert.NotEqual(t, ca.ChannelHash, cb.ChannelHash)
}
