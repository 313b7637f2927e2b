// Package content defines the bytebin content record: the metadata and
// bytes that flow through the cache, coordinator and storage backends.
package content

import (
	"errors"
	"regexp"
	"strings"
	"sync"
	"time"
)

var keyPattern = regexp.MustCompile(`^[a-zA-Z0-9]+$`)

// ErrInvalidKey is returned when a key fails the alphanumeric shape check.
var ErrInvalidKey = errors.New("content: invalid key")

// Expiry is either a finite instant or the sentinel Never. A zero Time is
// ambiguous with "never" in most languages; here it is its own type so the
// two cannot be confused.
type Expiry struct {
	at    time.Time
	never bool
}

// Never is the sentinel expiry meaning the record does not expire.
var Never = Expiry{never: true}

// At returns a finite expiry at the given instant.
func At(t time.Time) Expiry { return Expiry{at: t} }

// IsNever reports whether the expiry is the "never" sentinel.
func (e Expiry) IsNever() bool { return e.never }

// Time returns the absolute instant. Only valid when !IsNever().
func (e Expiry) Time() time.Time { return e.at }

// Expired reports whether the expiry is finite and has passed as of now.
func (e Expiry) Expired(now time.Time) bool {
	return !e.never && e.at.Before(now)
}

// Record is a single stored blob plus its metadata. Content may be nil
// when only metadata was loaded (e.g. from the index or a List stream).
type Record struct {
	Key           string
	ContentType   string
	Encoding      []string
	Expiry        Expiry
	LastModified  time.Time
	Modifiable    bool
	AuthKey       string
	BackendID     string
	ContentLength int64
	Content       []byte

	mu    sync.Mutex
	saved chan struct{}
}

// New constructs a Record, validating the invariants from the data model:
// key shape, auth-key presence tied to Modifiable, and content length
// consistency. The save-completion signal is created open.
func New(key, contentType string, encoding []string, expiry Expiry, modifiable bool, authKey string, body []byte) (*Record, error) {
	if !keyPattern.MatchString(key) {
		return nil, ErrInvalidKey
	}
	if modifiable && len(authKey) != 32 {
		return nil, errors.New("content: modifiable record requires a 32-character auth key")
	}
	if !modifiable && authKey != "" {
		return nil, errors.New("content: non-modifiable record must not carry an auth key")
	}
	if len(encoding) > 0 && encoding[len(encoding)-1] == "identity" {
		return nil, errors.New("content: encoding list must not end in identity")
	}
	r := &Record{
		Key:           key,
		ContentType:   contentType,
		Encoding:      encoding,
		Expiry:        expiry,
		LastModified:  time.Now(),
		Modifiable:    modifiable,
		AuthKey:       authKey,
		ContentLength: int64(len(body)),
		Content:       body,
		saved:         make(chan struct{}),
	}
	return r, nil
}

// EncodingHeader joins the encoding list the way it is stored on disk and
// echoed in the Content-Encoding response header.
func (r *Record) EncodingHeader() string {
	return strings.Join(r.Encoding, ", ")
}

// Update overwrites the mutable fields of a record (UPDATE request path).
// It recomputes ContentLength from body; no other invariant is re-checked.
func (r *Record) Update(contentType string, encoding []string, expiry Expiry, body []byte) {
	r.ContentType = contentType
	r.Encoding = encoding
	r.Expiry = expiry
	r.LastModified = time.Now()
	r.Content = body
	r.ContentLength = int64(len(body))
}

// Saved returns a channel that is closed once the in-flight durable write
// for this record has completed, successfully or not. Callers racing a GET
// against a POST or UPDATE select on it alongside their own context.
// Records reconstructed from storage (not freshly written) report as
// already saved.
func (r *Record) Saved() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saved == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return r.saved
}

// BeginSave opens a fresh save-completion signal for a new write, replacing
// any already-fulfilled one from a prior write. Called once per POST/UPDATE
// before the write is scheduled, so concurrent GETs that call Saved() after
// this point wait for *this* write rather than observing a stale signal.
func (r *Record) BeginSave() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = make(chan struct{})
}

// MarkSaved fulfils the current save-completion signal. Safe to call even
// when no signal is open (e.g. a record loaded straight from storage).
func (r *Record) MarkSaved() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.saved == nil {
		return
	}
	select {
	case <-r.saved:
		// already closed
	default:
		close(r.saved)
	}
}

// Authorized reports whether the presented bearer token may modify this
// record. A non-modifiable record is never authorized.
func (r *Record) Authorized(bearer string) bool {
	return r.Modifiable && bearer != "" && bearer == r.AuthKey
}
