package storage

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sjawhar/chunkscribe/internal/jobapi"
)

func TestRedisPutUsesPrefixAndTTL(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewRedisStore(db, 10*time.Minute)
	res := jobapi.Result{Status: jobapi.StatusCompleted, Transcription: "hello"}
	payload, err := json.Marshal(res)
	require.NoError(t, err)

	mock.ExpectSet("stt_result:J1", payload, 10*time.Minute).SetVal("OK")

	require.NoError(t, store.PutResult(context.Background(), "J1", res))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisDefaultTTL(t *testing.T) {
	db, _ := redismock.NewClientMock()
	assert.Equal(t, DefaultResultTTL, NewRedisStore(db, 0).ttl)
}

func TestRedisGetDecodes(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewRedisStore(db, time.Hour)

	mock.ExpectGet("stt_result:J2").SetVal(`{"status":"Failed","error":"bad audio"}`)

	got, err := store.GetResult(context.Background(), "J2")
	require.NoError(t, err)
	assert.Equal(t, jobapi.Result{Status: jobapi.StatusFailed, Error: "bad audio"}, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRedisGetMissing(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewRedisStore(db, time.Hour)

	mock.ExpectGet("stt_result:nope").RedisNil()

	_, err := store.GetResult(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisGetError(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewRedisStore(db, time.Hour)
	boom := errors.New("connection reset")

	mock.ExpectGet("stt_result:J1").SetErr(boom)

	_, err := store.GetResult(context.Background(), "J1")
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestRedisDelete(t *testing.T) {
	db, mock := redismock.NewClientMock()
	store := NewRedisStore(db, time.Hour)

	mock.ExpectDel("stt_result:J1").SetVal(1)

	require.NoError(t, store.DeleteResult(context.Background(), "J1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
