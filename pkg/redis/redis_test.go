package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAdapter(t *testing.T, prefix string) (*miniredis.Miniredis, RedisAdapter) {
	t.Helper()
	mr := miniredis.RunT(t)
	a, err := NewRedisAdapter(t.Name()+"-"+mr.Addr(), prefix, &Options{Addrs: []string{mr.Addr()}})
	require.NoError(t, err)
	return mr, a
}

func TestNewRedisAdapter_SharesByName(t *testing.T) {
	mr := miniredis.RunT(t)
	opts := &Options{Addrs: []string{mr.Addr()}}

	a, err := NewRedisAdapter(t.Name(), "", opts)
	require.NoError(t, err)
	b, err := NewRedisAdapter(t.Name(), "ignored:", opts)
	require.NoError(t, err)
	assert.Same(t, a, b)

	_, err = NewRedisAdapter(t.Name()+"-down", "", &Options{Addrs: []string{"127.0.0.1:1"}, DialTimeout: 50 * time.Millisecond})
	assert.Error(t, err)
}

func TestAdapter_KeyPrefix(t *testing.T) {
	mr, a := newAdapter(t, "smpp:")
	ctx := context.Background()

	ok, err := a.SetNX(ctx, "dlr:reported:req-1", []byte("1"), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = a.SetNX(ctx, "dlr:reported:req-1", []byte("1"), time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.True(t, mr.Exists("smpp:dlr:reported:req-1"))
	assert.Equal(t, "smpp:x", a.Key("x"))

	require.NoError(t, a.Del(ctx, "dlr:reported:req-1"))
	_, err = a.Get(ctx, "dlr:reported:req-1")
	assert.ErrorIs(t, err, NilError)
}

func TestAdapter_ZRangeByScore(t *testing.T) {
	_, a := newAdapter(t, "")
	ctx := context.Background()

	require.NoError(t, a.ZAdd(ctx, "delayed", 30, "c"))
	require.NoError(t, a.ZAdd(ctx, "delayed", 10, "a"))
	require.NoError(t, a.ZAdd(ctx, "delayed", 20, "b"))

	due, err := a.ZRangeByScore(ctx, "delayed", 20, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, due)

	n, err := a.ZCard(ctx, "delayed")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
}

func TestAdapter_Streams(t *testing.T) {
	_, a := newAdapter(t, "p:")
	ctx := context.Background()

	require.NoError(t, a.XGroupCreateMkStream(ctx, "s", "g", "0"))
	id, err := a.XAdd(ctx, "s", 0, map[string]interface{}{"request_id": "req-1"})
	require.NoError(t, err)

	msgs, err := a.XReadGroup(ctx, "g", "c1", "s", 10, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, id, msgs[0].ID)
	assert.Equal(t, "req-1", msgs[0].Values["request_id"])

	pending, err := a.XPending(ctx, "s", "g")
	require.NoError(t, err)
	assert.Equal(t, int64(1), pending.Count)

	claimed, err := a.XClaim(ctx, "s", "g", "c2", 0, id)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	require.NoError(t, a.XAck(ctx, "s", "g", id))
	pending, err = a.XPending(ctx, "s", "g")
	require.NoError(t, err)
	assert.Zero(t, pending.Count)

	all, err := a.XRange(ctx, "s", "-", "+")
	require.NoError(t, err)
	assert.Len(t, all, 1)

	_, err = a.XAdd(ctx, "s", 0, map[string]interface{}{"n": "2"})
	require.NoError(t, err)
	page, err := a.XRangeN(ctx, "s", "-", "+", 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, id, page[0].ID)
}
