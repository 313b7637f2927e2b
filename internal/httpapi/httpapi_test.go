package httpapi

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lucko/bytebin/internal/backend"
	"github.com/lucko/bytebin/internal/contentcache"
	"github.com/lucko/bytebin/internal/coordinator"
	"github.com/lucko/bytebin/internal/expiry"
	"github.com/lucko/bytebin/internal/index"
	"github.com/lucko/bytebin/internal/ioexec"
	"github.com/lucko/bytebin/internal/metrics"
	"github.com/lucko/bytebin/internal/ratelimit"
	"github.com/lucko/bytebin/internal/selector"
	"github.com/lucko/bytebin/internal/token"
)

func newTestHandlers(t *testing.T, maxContentLength int64) *Handlers {
	t.Helper()
	ctx := t.Context()

	ix, err := index.Open(filepath.Join(t.TempDir(), "index.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { ix.Close() })

	disk := backend.NewDisk("disk", t.TempDir())
	require.NoError(t, disk.Init(ctx))

	m := metrics.New()
	chain := selector.NewChain(selector.Static{BackendID: "disk"})
	coord := coordinator.New(ix, map[string]backend.Backend{"disk": disk}, chain, m, nil)
	pool := ioexec.New(4)
	t.Cleanup(pool.Close)

	return &Handlers{
		Cache:                 contentcache.NewDirect(coord, nil),
		Coord:                 coord,
		Pool:                  pool,
		Tokens:                token.NewGenerator(7),
		Expiry:                expiry.Policy{Default: 0},
		RateLimitPost:         ratelimit.New(time.Minute, 1000),
		RateLimitUpdate:       ratelimit.New(time.Minute, 1000),
		RateLimitGet:          ratelimit.New(time.Minute, 1000),
		NotFound:              ratelimit.NewNotFoundLimiter(time.Second, time.Minute),
		MaxContentLengthBytes: maxContentLength,
		Metrics:               m,
	}
}

func waitForSave(t *testing.T, h *Handlers, key string) {
	t.Helper()
	require.Eventually(t, func() bool {
		_, err := h.Coord.Load(t.Context(), key)
		return err == nil
	}, time.Second, 5*time.Millisecond)
}

func TestScenario1_PostThenGetIdentity(t *testing.T) {
	h := newTestHandlers(t, 10<<20)
	router := NewRouter(h)

	req := httptest.NewRequest(http.MethodPost, "/post", bytes.NewBufferString("hello"))
	req.Header.Set("Content-Type", "text/plain")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusCreated, rr.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	key := body["key"]
	require.Regexp(t, `^[a-zA-Z0-9]{7}$`, key)

	waitForSave(t, h, key)

	getReq := httptest.NewRequest(http.MethodGet, "/"+key, nil)
	getReq.Header.Set("Accept-Encoding", "identity")
	getRR := httptest.NewRecorder()
	router.ServeHTTP(getRR, getReq)

	require.Equal(t, http.StatusOK, getRR.Code)
	require.Equal(t, "hello", getRR.Body.String())
	require.Equal(t, "text/plain", getRR.Header().Get("Content-Type"))
}

func TestScenario2_PreEncodedGzipRoundTrip(t *testing.T) {
	h := newTestHandlers(t, 10<<20)
	router := NewRouter(h)

	raw := bytes.Repeat([]byte{0x00}, 256)
	var gz bytes.Buffer
	w := gzip.NewWriter(&gz)
	_, err := w.Write(raw)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/post", bytes.NewReader(gz.Bytes()))
	req.Header.Set("Content-Encoding", "gzip")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusCreated, rr.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	key := body["key"]
	waitForSave(t, h, key)

	getReq := httptest.NewRequest(http.MethodGet, "/"+key, nil)
	getReq.Header.Set("Accept-Encoding", "gzip")
	getRR := httptest.NewRecorder()
	router.ServeHTTP(getRR, getReq)

	require.Equal(t, http.StatusOK, getRR.Code)
	require.Equal(t, "gzip", getRR.Header().Get("Content-Encoding"))
	require.True(t, bytes.Equal(gz.Bytes(), getRR.Body.Bytes()))
}

func TestScenario3_ModifiableRecordUpdateFlow(t *testing.T) {
	h := newTestHandlers(t, 10<<20)
	router := NewRouter(h)

	req := httptest.NewRequest(http.MethodPost, "/post", bytes.NewBufferString("hello"))
	req.Header.Set("Allow-Modification", "true")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusCreated, rr.Code)
	modKey := rr.Header().Get("Modification-Key")
	require.Regexp(t, `^[a-zA-Z0-9]{32}$`, modKey)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	key := body["key"]
	waitForSave(t, h, key)

	badReq := httptest.NewRequest(http.MethodPut, "/"+key, bytes.NewBufferString("world"))
	badReq.Header.Set("Authorization", "Bearer wrong")
	badRR := httptest.NewRecorder()
	router.ServeHTTP(badRR, badReq)
	require.Equal(t, http.StatusForbidden, badRR.Code)

	goodReq := httptest.NewRequest(http.MethodPut, "/"+key, bytes.NewBufferString("world"))
	goodReq.Header.Set("Authorization", "Bearer "+modKey)
	goodRR := httptest.NewRecorder()
	router.ServeHTTP(goodRR, goodReq)
	require.Equal(t, http.StatusOK, goodRR.Code)

	require.Eventually(t, func() bool {
		rec, err := h.Coord.Load(t.Context(), key)
		return err == nil && string(rec.Content) != "hello"
	}, time.Second, 5*time.Millisecond)

	getReq := httptest.NewRequest(http.MethodGet, "/"+key, nil)
	getReq.Header.Set("Accept-Encoding", "identity")
	getRR := httptest.NewRecorder()
	router.ServeHTTP(getRR, getReq)
	require.Equal(t, http.StatusOK, getRR.Code)
	require.Equal(t, "world", getRR.Body.String())
}

func TestScenario4_RateLimitExceeded(t *testing.T) {
	h := newTestHandlers(t, 10<<20)
	h.RateLimitPost = ratelimit.New(time.Minute, 2)
	router := NewRouter(h)

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodPost, "/post", bytes.NewBufferString("x"))
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		require.Equal(t, http.StatusCreated, rr.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/post", bytes.NewBufferString("x"))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
}

func TestScenario6_TooLargeUncompressibleBodyRejected(t *testing.T) {
	h := newTestHandlers(t, 1<<20)
	router := NewRouter(h)

	random := make([]byte, 2<<20)
	rand.New(rand.NewSource(1)).Read(random)

	req := httptest.NewRequest(http.MethodPost, "/post", bytes.NewReader(random))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
}

func TestScenario6_CompressibleBodyAcceptedUnderLimit(t *testing.T) {
	h := newTestHandlers(t, 1<<20)
	router := NewRouter(h)

	body := bytes.Repeat([]byte{0x41}, 2<<20)
	req := httptest.NewRequest(http.MethodPost, "/post", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusCreated, rr.Code)
}

func TestScenario6_BodyBeyondTruncationCapRejected(t *testing.T) {
	h := newTestHandlers(t, 1<<20)
	router := NewRouter(h)

	// Highly compressible, but its raw size crosses the 4x read cap. Must
	// be rejected outright rather than silently truncated and then
	// accepted because the truncated prefix still compresses small.
	body := bytes.Repeat([]byte{0x41}, 5<<20)
	req := httptest.NewRequest(http.MethodPost, "/post", bytes.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
}

func TestPostAsPutReturnsAbsoluteLocation(t *testing.T) {
	h := newTestHandlers(t, 10<<20)
	router := NewRouter(h)

	req := httptest.NewRequest(http.MethodPut, "/post", bytes.NewBufferString("hello"))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusCreated, rr.Code)
	loc := rr.Header().Get("Location")
	require.True(t, strings.HasPrefix(loc, "http://"+req.Host+"/"), "want absolute URL using request host, got %q", loc)
}

func TestPostAsPutReturnsAbsoluteLocationWithHostAlias(t *testing.T) {
	h := newTestHandlers(t, 10<<20)
	h.HostAliases = []string{"bytebin.example.com"}
	router := NewRouter(h)

	req := httptest.NewRequest(http.MethodPut, "/post", bytes.NewBufferString("hello"))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusCreated, rr.Code)
	require.True(t, strings.HasPrefix(rr.Header().Get("Location"), "http://bytebin.example.com/"))
}

func TestPlainPostReturnsRelativeLocationEvenWithHostAlias(t *testing.T) {
	h := newTestHandlers(t, 10<<20)
	h.HostAliases = []string{"bytebin.example.com"}
	router := NewRouter(h)

	req := httptest.NewRequest(http.MethodPost, "/post", bytes.NewBufferString("hello"))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	require.Equal(t, http.StatusCreated, rr.Code)
	loc := rr.Header().Get("Location")
	require.False(t, strings.Contains(loc, "://"), "want relative Location, got %q", loc)
}

func TestGetUnknownKeyReturnsNotFound(t *testing.T) {
	h := newTestHandlers(t, 10<<20)
	router := NewRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/abc1234", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestGetInvalidKeyShapeReturnsNotFound(t *testing.T) {
	h := newTestHandlers(t, 10<<20)
	router := NewRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/not-valid!", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHealthEndpoint(t *testing.T) {
	h := newTestHandlers(t, 10<<20)
	router := NewRouter(h)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	var status map[string]string
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&status))
	require.Equal(t, "ok", status["status"])
}
