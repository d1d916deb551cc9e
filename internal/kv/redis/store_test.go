package redis

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestSlidingWindowAdmit(t *testing.T) {
	t.Parallel()

	db, mock := redismock.NewClientMock()
	store := NewWithClient(db)
	now := time.UnixMilli(1_700_000_000_000)
	member := strconv.FormatInt(now.UnixNano(), 10) + "-1"

	mock.ExpectEvalSha(slidingWindowScript.Hash(), []string{"rate-limit:llm"},
		now.UnixMilli(), int64(60000), 10, member).SetVal(int64(1))

	ok, err := store.SlidingWindowAdmit(context.Background(), "rate-limit:llm", now, time.Minute, 10)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSlidingWindowDenied(t *testing.T) {
	t.Parallel()

	db, mock := redismock.NewClientMock()
	store := NewWithClient(db)
	now := time.UnixMilli(1_700_000_000_000)
	member := strconv.FormatInt(now.UnixNano(), 10) + "-1"

	mock.ExpectEvalSha(slidingWindowScript.Hash(), []string{"rate-limit:search"},
		now.UnixMilli(), int64(1000), 1, member).SetVal(int64(0))

	ok, err := store.SlidingWindowAdmit(context.Background(), "rate-limit:search", now, time.Second, 1)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestIncrWithExpiryReset(t *testing.T) {
	t.Parallel()

	db, mock := redismock.NewClientMock()
	store := NewWithClient(db)

	mock.ExpectEvalSha(incrExpiryScript.Hash(), []string{"fail:7"}, int64(86400000), int64(2)).
		SetVal([]interface{}{int64(2), int64(1)})

	count, reset, err := store.IncrWithExpiry(context.Background(), "fail:7", 24*time.Hour, 2)
	require.NoError(t, err)
	require.Equal(t, int64(2), count)
	require.True(t, reset)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMissingKey(t *testing.T) {
	t.Parallel()

	db, mock := redismock.NewClientMock()
	store := NewWithClient(db)

	mock.ExpectGet("fail:1").RedisNil()
	v, err := store.Get(context.Background(), "fail:1")
	require.NoError(t, err)
	require.Zero(t, v)

	mock.ExpectGet("fail:2").SetVal("3")
	v, err = store.Get(context.Background(), "fail:2")
	require.NoError(t, err)
	require.Equal(t, int64(3), v)
}

func TestDelError(t *testing.T) {
	t.Parallel()

	db, mock := redismock.NewClientMock()
	store := NewWithClient(db)

	mock.ExpectDel("fail:1").SetErr(errors.New("connection reset"))
	err := store.Del(context.Background(), "fail:1")
	require.Error(t, err)
	require.NotErrorIs(t, err, goredis.Nil)
}
