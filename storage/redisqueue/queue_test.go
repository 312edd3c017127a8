package redisqueue

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/poiesic/embedvector/core"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(t *testing.T) (*Queue, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	t.Cleanup(func() { client.Close() })
	q, err := New(client, "")
	require.NoError(t, err)
	return q, s
}

func TestQueue(t *testing.T) {
	ctx := context.Background()
	q, srv := newTestQueue(t)

	require.NoError(t, q.Enqueue(ctx,
		core.Key{ModelID: "2", ModelType: "job"},
		core.Key{ModelID: "10", ModelType: "job"},
		core.Key{ModelID: "2", ModelType: "job"},
		core.Key{ModelID: "1", ModelType: "customer"},
	))

	members, err := q.Members(ctx, "job")
	require.NoError(t, err)
	assert.Equal(t, []string{"10", "2"}, members)

	stored, err := srv.Members(DefaultKeyPrefix + "customer")
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, stored)

	ok, err := q.Contains(ctx, core.Key{ModelID: "10", ModelType: "job"})
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, q.Dequeue(ctx, core.Key{ModelID: "10", ModelType: "job"}, core.Key{ModelID: "99", ModelType: "job"}))
	ok, err = q.Contains(ctx, core.Key{ModelID: "10", ModelType: "job"})
	require.NoError(t, err)
	assert.False(t, ok)

	members, err = q.Members(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, members)

	require.NoError(t, q.Enqueue(ctx))
	require.NoError(t, q.Dequeue(ctx))
}

func TestNewRejectsNilClient(t *testing.T) {
	_, err := New(nil, "x:")
	assert.ErrorIs(t, err, core.ErrConfiguration)
}
