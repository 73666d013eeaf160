package passage

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studysync/pkg/interfaces"
	"studysync/pkg/types"
)

func TestParseReference(t *testing.T) {
	tests := []struct {
		in        string
		canonical string
		path      string
	}{
		{"Romans 8:28", "Romans 8:28", "/verses/ROM/8/28"},
		{"  john 3:16 ", "John 3:16", "/verses/JHN/3/16"},
		{"1 John 4:7-8", "1 John 4:7-8", "/verses/1JN/4/7-8"},
		{"1john 4:7", "1 John 4:7", "/verses/1JN/4/7"},
		{"Song of Solomon 2:1", "Song of Solomon 2:1", "/verses/SNG/2/1"},
		{"Psalm 23:1 - 6", "Psalm 23:1-6", "/verses/PSA/23/1-6"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			ref, err := ParseReference(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.canonical, ref.String())
			assert.Equal(t, tt.path, ref.Path())
		})
	}
}

func TestParseReference_Invalid(t *testing.T) {
	for _, in := range []string{"", "Romans", "Romans 8", "Hezekiah 1:1", "John 3:0", "John 3:16-2", "John three:16"} {
		_, err := ParseReference(in)
		assert.ErrorIs(t, err, interfaces.ErrInvalidReference, in)
	}
}

type countingObserver struct {
	hits, misses atomic.Int32
}

func (o *countingObserver) PassageLookup(hit bool) {
	if hit {
		o.hits.Add(1)
	} else {
		o.misses.Add(1)
	}
}

func versesServer(t *testing.T, calls *atomic.Int32, delay time.Duration) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		time.Sleep(delay)
		switch r.URL.Path {
		case "/verses/ROM/8/28":
			_ = json.NewEncoder(w).Encode(response{
				Reference: "ROM.8.28",
				Verses: []types.Verse{{
					Reference: "Romans 8:28",
					Number:    28,
					Text:      "And we know that all things work together for good",
				}},
			})
		case "/verses/JHN/3/16":
			w.WriteHeader(http.StatusInternalServerError)
		case "/verses/JHN/3/17":
			_ = json.NewEncoder(w).Encode(response{})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_LookupAndCache(t *testing.T) {
	var calls atomic.Int32
	srv := versesServer(t, &calls, 0)
	obs := &countingObserver{}
	c := NewClient(Options{BaseURL: srv.URL + "/", Timeout: time.Second, Observer: obs})

	p, err := c.Lookup(context.Background(), "romans 8:28")
	require.NoError(t, err)
	assert.Equal(t, "Romans 8:28", p.Reference)
	require.Len(t, p.Verses, 1)
	assert.Equal(t, 28, p.Verses[0].Number)

	p.Verses[0].Text = "mutated"
	again, err := c.Lookup(context.Background(), "Romans 8:28")
	require.NoError(t, err)
	assert.NotEqual(t, "mutated", again.Verses[0].Text)

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, int32(1), obs.hits.Load())
	assert.Equal(t, int32(1), obs.misses.Load())
}

func TestClient_Errors(t *testing.T) {
	var calls atomic.Int32
	srv := versesServer(t, &calls, 0)
	c := NewClient(Options{BaseURL: srv.URL, Timeout: time.Second})
	ctx := context.Background()

	_, err := c.Lookup(ctx, "not a reference")
	assert.ErrorIs(t, err, interfaces.ErrInvalidReference)
	assert.Equal(t, int32(0), calls.Load())

	_, err = c.Lookup(ctx, "Romans 1:1")
	assert.ErrorIs(t, err, interfaces.ErrPassageNotFound)

	_, err = c.Lookup(ctx, "John 3:17")
	assert.ErrorIs(t, err, interfaces.ErrPassageNotFound)

	_, err = c.Lookup(ctx, "John 3:16")
	assert.ErrorIs(t, err, ErrUpstream)

	_, err = c.Lookup(ctx, "John 3:16")
	assert.ErrorIs(t, err, ErrUpstream, "failures are not cached")
}

func TestClient_ConcurrentMissesShareRequest(t *testing.T) {
	var calls atomic.Int32
	srv := versesServer(t, &calls, 50*time.Millisecond)
	c := NewClient(Options{BaseURL: srv.URL, Timeout: time.Second})

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Lookup(context.Background(), "Romans 8:28")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_CacheFailureFallsThrough(t *testing.T) {
	var calls atomic.Int32
	srv := versesServer(t, &calls, 0)

	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })

	c := NewClient(Options{BaseURL: srv.URL, Timeout: time.Second, Cache: NewRedisCache(rdb, time.Minute)})
	p, err := c.Lookup(context.Background(), "Romans 8:28")
	require.NoError(t, err)
	assert.Equal(t, "Romans 8:28", p.Reference)
}

func TestLRUCache_Expiry(t *testing.T) {
	c := NewLRUCache(2, 20*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", types.Passage{Reference: "a"}))
	p, ok, err := c.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "a", p.Reference)

	assert.Eventually(t, func() bool {
		_, ok, _ := c.Get(ctx, "a")
		return !ok
	}, time.Second, 10*time.Millisecond)
}

func TestLRUCache_Eviction(t *testing.T) {
	c := NewLRUCache(2, time.Minute)
	ctx := context.Background()
	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, c.Set(ctx, k, types.Passage{Reference: k}))
	}
	assert.Equal(t, 2, c.Len())
	_, ok, _ := c.Get(ctx, "a")
	assert.False(t, ok)
}

func TestNewRedisClient_Unreachable(t *testing.T) {
	_, err := NewRedisClient(context.Background(), "127.0.0.1:1", "")
	assert.Error(t, err)
}
