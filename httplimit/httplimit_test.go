package httplimit_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ryhazerus/fastlimit"
	"github.com/ryhazerus/fastlimit/httplimit"
	"github.com/ryhazerus/fastlimit/store"
)

func newLimiter(t *testing.T, st store.Store, limit int64, interval time.Duration) *fastlimit.Limiter {
	t.Helper()
	l, err := fastlimit.New(st, limit, interval)
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func okHandler(hits *atomic.Int64) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	})
}

func serve(h http.Handler, remoteAddr, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, http.NoBody)
	req.RemoteAddr = remoteAddr
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestMiddlewareAdmitsThenRejects(t *testing.T) {
	var hits atomic.Int64
	h := httplimit.Guard(newLimiter(t, store.NewMemoryStore(), 3, 5*time.Second), okHandler(&hits))

	for i := 0; i < 3; i++ {
		rr := serve(h, "192.168.1.1:1234", "/decorator-rate-limit")
		require.Equal(t, http.StatusOK, rr.Code, "request %d", i+1)
		assert.Equal(t, "3", rr.Header().Get(httplimit.HeaderLimit))
		assert.Equal(t, []string{"2", "1", "0"}[i], rr.Header().Get(httplimit.HeaderRemaining))
	}

	rr := serve(h, "192.168.1.1:1234", "/decorator-rate-limit")
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, int64(3), hits.Load(), "wrapped handler must not run on denial")
	assert.Equal(t, "5", rr.Header().Get(httplimit.HeaderRetryAfter))
	assert.NotEmpty(t, rr.Header().Get(httplimit.HeaderReset))
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))

	var body httplimit.ErrorResponse
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&body))
	assert.True(t, strings.HasPrefix(body.Detail, "Too many requests, please try again later. Time until reset: "), body.Detail)
	assert.True(t, strings.HasSuffix(body.Detail, " seconds."), body.Detail)
}

func TestMiddlewareKeysByClientAndPath(t *testing.T) {
	var hits atomic.Int64
	h := httplimit.Guard(newLimiter(t, store.NewMemoryStore(), 1, time.Minute), okHandler(&hits))

	assert.Equal(t, http.StatusOK, serve(h, "10.0.0.1:1000", "/a").Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(h, "10.0.0.1:2000", "/a").Code)
	assert.Equal(t, http.StatusOK, serve(h, "10.0.0.2:1000", "/a").Code)
	assert.Equal(t, http.StatusOK, serve(h, "10.0.0.1:1000", "/b").Code)
}

func TestMiddlewareUsesChiRoutePattern(t *testing.T) {
	var hits atomic.Int64
	l := newLimiter(t, store.NewMemoryStore(), 1, time.Minute)

	r := chi.NewRouter()
	r.With(httplimit.Middleware(l)).Get("/items/{id}", okHandler(&hits).ServeHTTP)

	assert.Equal(t, http.StatusOK, serve(r, "10.0.0.1:1000", "/items/1").Code)
	// Same route pattern, same client: shares the window.
	assert.Equal(t, http.StatusTooManyRequests, serve(r, "10.0.0.1:1000", "/items/2").Code)
}

func TestMiddlewareMissingIdentity(t *testing.T) {
	var hits atomic.Int64
	st := store.NewMemoryStore()
	h := httplimit.Guard(newLimiter(t, st, 1, time.Minute), okHandler(&hits))

	rr := serve(h, "", "/a")
	assert.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, int64(0), hits.Load())
}

func TestClientResourceKeyMissingIdentity(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/a", http.NoBody)
	req.RemoteAddr = ""

	_, err := httplimit.ClientResourceKey(req)
	var cfgErr *fastlimit.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
}

func TestHeaderKey(t *testing.T) {
	var hits atomic.Int64
	h := httplimit.Guard(newLimiter(t, store.NewMemoryStore(), 1, time.Minute), okHandler(&hits),
		httplimit.WithKeyFunc(httplimit.HeaderKey("X-API-Key")))

	send := func(apiKey string) int {
		req := httptest.NewRequest(http.MethodGet, "/a", http.NoBody)
		if apiKey != "" {
			req.Header.Set("X-API-Key", apiKey)
		}
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr.Code
	}

	assert.Equal(t, http.StatusOK, send("alpha"))
	assert.Equal(t, http.StatusTooManyRequests, send("alpha"))
	assert.Equal(t, http.StatusOK, send("beta"))
	assert.Equal(t, http.StatusInternalServerError, send(""))
}

// downStore fails every operation.
type downStore struct{ store.MemoryStore }

func (*downStore) GetTimestamp(context.Context, string) (time.Time, bool, error) {
	return time.Time{}, false, store.NewStorageError("fake", store.OpGetTimestamp, context.DeadlineExceeded)
}

func TestMiddlewareFailurePolicy(t *testing.T) {
	t.Run("FailClosed", func(t *testing.T) {
		var hits atomic.Int64
		h := httplimit.Guard(newLimiter(t, &downStore{}, 1, time.Minute), okHandler(&hits))

		rr := serve(h, "10.0.0.1:1000", "/a")
		assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
		assert.Equal(t, int64(0), hits.Load())
	})

	t.Run("FailOpen", func(t *testing.T) {
		var hits atomic.Int64
		h := httplimit.Guard(newLimiter(t, &downStore{}, 1, time.Minute), okHandler(&hits),
			httplimit.WithFailurePolicy(httplimit.FailOpen))

		rr := serve(h, "10.0.0.1:1000", "/a")
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, int64(1), hits.Load())
	})
}

func TestMiddlewareLogOnly(t *testing.T) {
	var hits atomic.Int64
	h := httplimit.Guard(newLimiter(t, store.NewMemoryStore(), 1, time.Minute), okHandler(&hits),
		httplimit.WithStrategy(fastlimit.LogOnly))

	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, serve(h, "10.0.0.1:1000", "/a").Code)
	}
	assert.Equal(t, int64(3), hits.Load())
}

func TestMiddlewareWait(t *testing.T) {
	var hits atomic.Int64
	h := httplimit.Guard(newLimiter(t, store.NewMemoryStore(), 1, 50*time.Millisecond), okHandler(&hits),
		httplimit.WithStrategy(fastlimit.Wait))

	assert.Equal(t, http.StatusOK, serve(h, "10.0.0.1:1000", "/a").Code)
	assert.Equal(t, http.StatusOK, serve(h, "10.0.0.1:1000", "/a").Code)
	assert.Equal(t, int64(2), hits.Load())
}

func TestMiddlewareWaitCancelled(t *testing.T) {
	var hits atomic.Int64
	h := httplimit.Guard(newLimiter(t, store.NewMemoryStore(), 1, time.Hour), okHandler(&hits),
		httplimit.WithStrategy(fastlimit.Wait))

	assert.Equal(t, http.StatusOK, serve(h, "10.0.0.1:1000", "/a").Code)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/a", http.NoBody).WithContext(ctx)
	req.RemoteAddr = "10.0.0.1:1000"
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, int64(1), hits.Load())
}
