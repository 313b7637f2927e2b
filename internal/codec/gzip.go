// Package codec implements bytebin's transport-encoding transforms.
// Compression uses klauspost/compress, a drop-in faster replacement for
// compress/gzip that several repos in the retrieved pack already pull in
// transitively (via prometheus's expfmt encoder).
package codec

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

// Error wraps a codec failure, keeping the operation name for logging
// without leaking it into client-facing messages.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("codec: %s: %v", e.Op, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// Compress gzips buf at the default compression level.
func Compress(buf []byte) ([]byte, error) {
	var out bytes.Buffer
	w := gzip.NewWriter(&out)
	if _, err := w.Write(buf); err != nil {
		return nil, &Error{Op: "compress", Err: err}
	}
	if err := w.Close(); err != nil {
		return nil, &Error{Op: "compress", Err: err}
	}
	return out.Bytes(), nil
}

// Decompress ungzips buf. A truncated or malformed stream is reported as a
// codec.Error, which handlers map to "Unable to uncompress data".
func Decompress(buf []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(buf))
	if err != nil {
		return nil, &Error{Op: "decompress", Err: err}
	}
	defer r.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, &Error{Op: "decompress", Err: err}
	}
	return out, nil
}
