// Package kvtest provides conformance tests for kv.Store implementations
package kvtest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stormcast/stormcast-backend/pkg/kv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Keys lists every key the suite writes, for backends that need cleanup.
var Keys = []string{
	"test:string",
	"test:missing",
	"test:overwrite",
	"test:del:1",
	"test:del:2",
	"test:exists",
	"test:ttl",
	"test:persist",
	"test:binary",
}

// StoreFactory creates a fresh Store instance for testing
type StoreFactory func(t *testing.T) kv.Store

// RunConformanceTests runs all conformance tests against a Store implementation
func RunConformanceTests(t *testing.T, factory StoreFactory) {
	tests := []struct {
		name string
		test func(t *testing.T, store kv.Store)
	}{
		{"SetGet", testSetGet},
		{"GetNonExistent", testGetNonExistent},
		{"Overwrite", testOverwrite},
		{"BinaryValues", testBinaryValues},
		{"Del", testDel},
		{"Exists", testExists},
		{"TTL", testTTL},
		{"NoTTL", testNoTTL},
		{"HealthCheck", testHealthCheck},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := factory(t)
			defer store.Close()
			tt.test(t, store)
		})
	}
}

func testSetGet(t *testing.T, store kv.Store) {
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "test:string", []byte("hello world")))

	got, err := store.Get(ctx, "test:string")
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(got))
}

func testGetNonExistent(t *testing.T, store kv.Store) {
	_, err := store.Get(context.Background(), "test:missing")
	assert.True(t, errors.Is(err, kv.ErrNotFound), "expected ErrNotFound, got %v", err)
}

func testOverwrite(t *testing.T, store kv.Store) {
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "test:overwrite", []byte(`[{"id":"a"}]`)))
	require.NoError(t, store.Set(ctx, "test:overwrite", []byte(`[]`)))

	got, err := store.Get(ctx, "test:overwrite")
	require.NoError(t, err)
	assert.Equal(t, `[]`, string(got))
}

func testBinaryValues(t *testing.T, store kv.Store) {
	ctx := context.Background()
	value := []byte{0x00, 0xff, 0x10, 0x00, 'x'}

	require.NoError(t, store.Set(ctx, "test:binary", value))

	got, err := store.Get(ctx, "test:binary")
	require.NoError(t, err)
	assert.Equal(t, value, got)
}

func testDel(t *testing.T, store kv.Store) {
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "test:del:1", []byte("1")))
	require.NoError(t, store.Set(ctx, "test:del:2", []byte("2")))

	n, err := store.Del(ctx, "test:del:1", "test:del:2", "test:missing")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = store.Get(ctx, "test:del:1")
	assert.ErrorIs(t, err, kv.ErrNotFound)

	n, err = store.Del(ctx, "test:del:1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func testExists(t *testing.T, store kv.Store) {
	ctx := context.Background()

	n, err := store.Exists(ctx, "test:exists")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	require.NoError(t, store.Set(ctx, "test:exists", []byte("v")))

	n, err = store.Exists(ctx, "test:exists", "test:missing")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func testTTL(t *testing.T, store kv.Store) {
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "test:ttl", []byte("short"), 100*time.Millisecond))

	_, err := store.Get(ctx, "test:ttl")
	require.NoError(t, err)

	time.Sleep(250 * time.Millisecond)

	_, err = store.Get(ctx, "test:ttl")
	assert.ErrorIs(t, err, kv.ErrNotFound)

	n, err := store.Exists(ctx, "test:ttl")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func testNoTTL(t *testing.T, store kv.Store) {
	ctx := context.Background()

	require.NoError(t, store.Set(ctx, "test:persist", []byte("forever"), 0))
	time.Sleep(20 * time.Millisecond)

	got, err := store.Get(ctx, "test:persist")
	require.NoError(t, err)
	assert.Equal(t, "forever", string(got))
}

func testHealthCheck(t *testing.T, store kv.Store) {
	assert.NoError(t, store.Ping(context.Background()))
}
