// Package httpapi implements bytebin's HTTP surface: POST/PUT/UPDATE/GET,
// admin bulk delete, health and metrics. Handlers stay thin: parse and
// validate the request, hand blocking work off to the coordinator/cache/
// pool, and map every failure through a single terminal error mapper.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/lucko/bytebin/internal/codec"
	"github.com/lucko/bytebin/internal/content"
	"github.com/lucko/bytebin/internal/contentcache"
	"github.com/lucko/bytebin/internal/coordinator"
	"github.com/lucko/bytebin/internal/expiry"
	"github.com/lucko/bytebin/internal/httpenc"
	"github.com/lucko/bytebin/internal/ioexec"
	"github.com/lucko/bytebin/internal/logsink"
	"github.com/lucko/bytebin/internal/metrics"
	"github.com/lucko/bytebin/internal/ratelimit"
	"github.com/lucko/bytebin/internal/token"
)

// Handlers holds every component the request pipeline depends on. It owns
// no engine state itself; it parses requests, enforces policy, and hands
// blocking work to the coordinator/cache/pool.
type Handlers struct {
	Cache  contentcache.Loader
	Coord  *coordinator.Coordinator
	Pool   *ioexec.Pool
	Tokens *token.Generator
	Expiry expiry.Policy

	RateLimitPost   *ratelimit.Limiter
	RateLimitUpdate *ratelimit.Limiter
	RateLimitGet    *ratelimit.Limiter
	NotFound        *ratelimit.NotFoundLimiter

	TrustedProxyAPIKeys map[string]struct{}
	AdminAPIKeys        map[string]struct{}

	MaxContentLengthBytes int64
	HostAliases           []string

	Sink    *logsink.Sink
	Metrics *metrics.Registry
	Log     *slog.Logger
}

func (h *Handlers) logger() *slog.Logger {
	if h.Log != nil {
		return h.Log
	}
	return slog.Default()
}

func (h *Handlers) classify(r *http.Request) (ip string, realUser bool, err error) {
	apiKey := r.Header.Get("Bytebin-Api-Key")
	forwardedIP := r.Header.Get("Bytebin-Forwarded-For")
	remoteIP := r.Header.Get("X-Real-Ip")
	if remoteIP == "" {
		remoteIP = r.RemoteAddr
	}
	return ratelimit.Classify(apiKey, forwardedIP, remoteIP, h.TrustedProxyAPIKeys)
}

// HandlePost serves POST /post and PUT /post (POST-as-PUT gets an absolute
// Location URL).
func (h *Handlers) HandlePost(w http.ResponseWriter, r *http.Request) {
	body, sErr := h.readBody(r)
	if sErr != nil {
		writeError(w, sErr)
		return
	}
	if len(body) == 0 {
		writeError(w, badRequest("Missing content"))
		return
	}

	ip, realUser, err := h.classify(r)
	if err != nil {
		writeError(w, unauthorized(err.Error()))
		return
	}
	if h.RateLimitPost.IncrementAndCheck(ip) {
		if realUser && h.Metrics != nil {
			h.Metrics.RateLimitRejections.WithLabelValues("post").Inc()
		}
		writeError(w, tooManyRequests("Rate limit exceeded"))
		return
	}

	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "text/plain"
	}
	clientEncoding := httpenc.ParseContentEncoding(r.Header.Get("Content-Encoding"))

	finalBody, finalEncoding, sErr := h.encodeForStorage(body, clientEncoding)
	if sErr != nil {
		writeError(w, sErr)
		return
	}

	exp := h.Expiry.Resolve(r.Header.Get("User-Agent"), r.Header.Get("Origin"), r.Header.Get("Host"))

	modifiable := strings.EqualFold(r.Header.Get("Allow-Modification"), "true")
	var authKey string
	if modifiable {
		authKey, err = h.Tokens.ModificationKey()
		if err != nil {
			writeError(w, errInternal)
			h.logger().Error("failed to generate modification key", "error", err)
			return
		}
	}

	key, err := h.generateFreeKey(r.Context())
	if err != nil {
		h.logger().Error("failed to allocate a free key", "error", err)
		writeError(w, errInternal)
		return
	}

	rec, err := content.New(key, contentType, finalEncoding, exp, modifiable, authKey, finalBody)
	if err != nil {
		writeError(w, badRequest(err.Error()))
		return
	}

	rec.BeginSave()
	h.Cache.Put(rec)
	h.Pool.Submit(func(ctx context.Context) {
		if err := h.Coord.Save(ctx, rec); err != nil {
			h.logger().Error("failed to save record", "key", key, "error", err)
			if h.Metrics != nil {
				h.Metrics.ComponentErrors.WithLabelValues("httpapi").Inc()
			}
		}
		rec.MarkSaved()
		h.enqueue("post", key, realUser)
	})

	if modifiable {
		w.Header().Set("Modification-Key", authKey)
	}
	w.Header().Set("Location", h.locationFor(r, key))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"key": key})
}

// HandleUpdate serves PUT /{id}, replacing an existing modifiable record's
// bytes and metadata in place.
func (h *Handlers) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	rec, err := h.Cache.Get(r.Context(), id)
	if err != nil {
		writeError(w, forbidden("Incorrect modification key"))
		return
	}

	auth := r.Header.Get("Authorization")
	if auth == "" {
		writeError(w, unauthorized("Missing Authorization header"))
		return
	}
	bearer, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok {
		writeError(w, unauthorized("Authorization must use the Bearer scheme"))
		return
	}
	if !rec.Authorized(bearer) {
		writeError(w, forbidden("Incorrect modification key"))
		return
	}

	ip, realUser, err := h.classify(r)
	if err != nil {
		writeError(w, unauthorized(err.Error()))
		return
	}
	if h.RateLimitUpdate.IncrementAndCheck(ip) {
		if realUser && h.Metrics != nil {
			h.Metrics.RateLimitRejections.WithLabelValues("update").Inc()
		}
		writeError(w, tooManyRequests("Rate limit exceeded"))
		return
	}

	body, sErr := h.readBody(r)
	if sErr != nil {
		writeError(w, sErr)
		return
	}
	if len(body) == 0 {
		writeError(w, badRequest("Missing content"))
		return
	}

	clientEncoding := httpenc.ParseContentEncoding(r.Header.Get("Content-Encoding"))
	finalBody, finalEncoding, sErr := h.encodeForStorage(body, clientEncoding)
	if sErr != nil {
		writeError(w, sErr)
		return
	}

	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		contentType = rec.ContentType
	}
	exp := h.Expiry.Resolve(r.Header.Get("User-Agent"), r.Header.Get("Origin"), r.Header.Get("Host"))

	if cached, ok := h.Cache.(*contentcache.Cached); ok {
		cached.Invalidate(id)
	}
	rec.Update(contentType, finalEncoding, exp, finalBody)
	rec.BeginSave()
	h.Cache.Put(rec)
	h.Pool.Submit(func(ctx context.Context) {
		if err := h.Coord.Save(ctx, rec); err != nil {
			h.logger().Error("failed to save updated record", "key", id, "error", err)
			if h.Metrics != nil {
				h.Metrics.ComponentErrors.WithLabelValues("httpapi").Inc()
			}
		}
		rec.MarkSaved()
		h.enqueue("update", id, realUser)
	})

	w.WriteHeader(http.StatusOK)
}

// HandleGet serves GET /{id}.
func (h *Handlers) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !token.Valid(id) {
		writeError(w, notFound("Invalid path"))
		return
	}

	ip, realUser, err := h.classify(r)
	if err != nil {
		writeError(w, unauthorized(err.Error()))
		return
	}
	if h.RateLimitGet.IncrementAndCheck(ip) {
		if realUser && h.Metrics != nil {
			h.Metrics.RateLimitRejections.WithLabelValues("get").Inc()
		}
		writeError(w, tooManyRequests("Rate limit exceeded"))
		return
	}
	if h.NotFound != nil && h.NotFound.Blocked(ip) {
		writeError(w, notFound("Not found"))
		return
	}

	rec, err := h.Cache.Get(r.Context(), id)
	if err != nil {
		if realUser && h.NotFound != nil {
			h.NotFound.RecordMiss(ip)
		}
		writeError(w, notFound("Not found"))
		return
	}

	w.Header().Set("Last-Modified", rec.LastModified.UTC().Format(http.TimeFormat))
	if rec.Modifiable {
		w.Header().Set("Cache-Control", "public, no-cache, proxy-revalidate, no-transform")
	} else {
		w.Header().Set("Cache-Control", "public, max-age=604800, no-transform, immutable")
	}

	accepted := httpenc.ParseAcceptEncoding(r.Header.Get("Accept-Encoding"))
	body := rec.Content
	switch {
	case httpenc.AcceptsAll(accepted, rec.Encoding):
		if len(rec.Encoding) > 0 {
			w.Header().Set("Content-Encoding", rec.EncodingHeader())
		}
	case httpenc.IsExactlyGzip(rec.Encoding):
		decoded, err := codec.Decompress(body)
		if err != nil {
			writeError(w, notFound("Unable to uncompress data"))
			return
		}
		body = decoded
	default:
		writeError(w, notAcceptable("Not Acceptable"))
		return
	}

	w.Header().Set("Content-Type", rec.ContentType)
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

// HandleBulkDelete serves POST /admin/bulkdelete.
func (h *Handlers) HandleBulkDelete(w http.ResponseWriter, r *http.Request) {
	apiKey := r.Header.Get("Bytebin-Api-Key")
	if _, ok := h.AdminAPIKeys[apiKey]; apiKey == "" || !ok {
		writeError(w, unauthorized("Missing or invalid admin API key"))
		return
	}

	var keys []string
	if err := json.NewDecoder(r.Body).Decode(&keys); err != nil {
		writeError(w, badRequest("Body must be a JSON array of keys"))
		return
	}

	force := r.URL.Query().Get("force") == "true"

	n, err := h.Coord.BulkDelete(r.Context(), keys, force)
	if err != nil {
		h.logger().Error("bulk delete failed", "error", err)
		writeError(w, errInternal)
		return
	}
	if cached, ok := h.Cache.(*contentcache.Cached); ok {
		for _, k := range keys {
			cached.Invalidate(k)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{"deleted": n})
}

// HandleHealth serves GET /health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// HandleMetrics wraps the Prometheus exposition handler, denying it when a
// proxy header is present so metrics are never leaked through a public
// front.
func (h *Handlers) HandleMetrics(next http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Forwarded-For") != "" {
			writeError(w, unauthorized("Metrics not available behind a proxy"))
			return
		}
		next.ServeHTTP(w, r)
	}
}

func (h *Handlers) encodeForStorage(body []byte, clientEncoding []string) ([]byte, []string, *statusError) {
	if len(clientEncoding) > 0 {
		if int64(len(body)) > h.MaxContentLengthBytes {
			return nil, nil, tooLarge("Content too large")
		}
		return body, clientEncoding, nil
	}

	compressed, err := codec.Compress(body)
	if err != nil {
		return nil, nil, badRequest("Unable to compress data")
	}
	if int64(len(compressed)) > h.MaxContentLengthBytes {
		return nil, nil, tooLarge("Content too large")
	}
	return compressed, []string{"gzip"}, nil
}

func (h *Handlers) generateFreeKey(ctx context.Context) (string, error) {
	const maxAttempts = 3
	var lastErr error
	for i := 0; i < maxAttempts; i++ {
		key, err := h.Tokens.Generate()
		if err != nil {
			return "", err
		}
		if _, err := h.Coord.Load(ctx, key); err != nil {
			// Not found means the key is free; any other error is
			// unexpected but treated as "free" too, since the generator
			// cannot distinguish a corrupt unrelated record from a miss.
			return key, nil
		}
		lastErr = fmt.Errorf("key collision: %s", key)
	}
	return "", lastErr
}

// locationFor builds the Location header value for a freshly stored key.
// POST /post returns a relative Location; PUT /post (POST-as-PUT, routed
// through the same handler) returns an absolute URL, using the first
// configured host alias or else the request's own Host.
func (h *Handlers) locationFor(r *http.Request, key string) string {
	if r.Method != http.MethodPut {
		return "/" + key
	}
	host := r.Host
	if len(h.HostAliases) > 0 {
		host = h.HostAliases[0]
	}
	scheme := "https"
	if r.TLS == nil {
		scheme = "http"
	}
	return fmt.Sprintf("%s://%s/%s", scheme, host, key)
}

// readBody reads r.Body up to four times the configured content-length
// limit (the raw-size cap applied before server-side compression),
// returning a tooLarge error rather than silently truncating an oversized
// body. It reads one byte past the cap so a body exactly at the cap can be
// distinguished from one that exceeds it.
func (h *Handlers) readBody(r *http.Request) ([]byte, *statusError) {
	body, err := io.ReadAll(io.LimitReader(r.Body, h.MaxContentLengthBytes*4+1))
	if err != nil {
		return nil, badRequest("Missing content")
	}
	if int64(len(body)) > h.MaxContentLengthBytes*4 {
		return nil, tooLarge("Content too large")
	}
	return body, nil
}

func (h *Handlers) enqueue(kind, key string, realUser bool) {
	if h.Sink == nil || !realUser {
		return
	}
	h.Sink.Enqueue(logsink.Event{Time: time.Now(), Kind: kind, Key: key})
}
