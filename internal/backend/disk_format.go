package backend

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/lucko/bytebin/internal/content"
)

// currentVersion is the on-disk format version this implementation writes.
// Version 1 files (no encoding block, implicit gzip encoding) are still
// readable for backward compatibility but never written.
const currentVersion uint32 = 2

const neverMillis int64 = -1

// writeRecord encodes rec in the version-2 binary layout:
//
//	u32 version
//	UTF-len-prefixed key
//	u32 ctype-len, ctype bytes
//	i64 expiry-millis (-1 = never)
//	i64 last-modified-millis
//	u8 modifiable
//	[UTF-len-prefixed auth_key iff modifiable]
//	u32 enc-len, enc bytes
//	u32 content-len, content bytes
func writeRecord(w io.Writer, rec *content.Record) error {
	bw := bufio.NewWriter(w)

	if err := binary.Write(bw, binary.BigEndian, currentVersion); err != nil {
		return err
	}
	if err := writeString(bw, rec.Key); err != nil {
		return err
	}
	if err := writeBytes(bw, []byte(rec.ContentType)); err != nil {
		return err
	}

	expiryMillis := neverMillis
	if !rec.Expiry.IsNever() {
		expiryMillis = rec.Expiry.Time().UnixMilli()
	}
	if err := binary.Write(bw, binary.BigEndian, expiryMillis); err != nil {
		return err
	}
	if err := binary.Write(bw, binary.BigEndian, rec.LastModified.UnixMilli()); err != nil {
		return err
	}

	var modifiable byte
	if rec.Modifiable {
		modifiable = 1
	}
	if err := bw.WriteByte(modifiable); err != nil {
		return err
	}
	if rec.Modifiable {
		if err := writeString(bw, rec.AuthKey); err != nil {
			return err
		}
	}

	if err := writeBytes(bw, []byte(rec.EncodingHeader())); err != nil {
		return err
	}
	if err := writeBytes(bw, rec.Content); err != nil {
		return err
	}

	return bw.Flush()
}

// readRecord decodes a record from r. When skipContent is true, the final
// content block is skipped rather than buffered in memory — used by List,
// which only needs metadata.
func readRecord(r io.Reader, key string, skipContent bool) (*content.Record, error) {
	br := bufio.NewReader(r)

	var version uint32
	if err := binary.Read(br, binary.BigEndian, &version); err != nil {
		return nil, fmt.Errorf("%w: reading version: %v", ErrCorrupt, err)
	}
	if version != 1 && version != currentVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrCorrupt, version)
	}

	diskKey, err := readString(br)
	if err != nil {
		return nil, fmt.Errorf("%w: reading key: %v", ErrCorrupt, err)
	}
	if diskKey != "" {
		key = diskKey
	}

	ctypeBytes, err := readBytes(br)
	if err != nil {
		return nil, fmt.Errorf("%w: reading content type: %v", ErrCorrupt, err)
	}

	var expiryMillis int64
	if err := binary.Read(br, binary.BigEndian, &expiryMillis); err != nil {
		return nil, fmt.Errorf("%w: reading expiry: %v", ErrCorrupt, err)
	}

	var lastModifiedMillis int64
	if err := binary.Read(br, binary.BigEndian, &lastModifiedMillis); err != nil {
		return nil, fmt.Errorf("%w: reading last-modified: %v", ErrCorrupt, err)
	}

	modifiableByte, err := br.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("%w: reading modifiable flag: %v", ErrCorrupt, err)
	}
	modifiable := modifiableByte != 0

	var authKey string
	if modifiable {
		authKey, err = readString(br)
		if err != nil {
			return nil, fmt.Errorf("%w: reading auth key: %v", ErrCorrupt, err)
		}
	}

	var encoding []string
	if version == 1 {
		encoding = []string{"gzip"}
	} else {
		encBytes, err := readBytes(br)
		if err != nil {
			return nil, fmt.Errorf("%w: reading encoding: %v", ErrCorrupt, err)
		}
		encoding = splitEncoding(string(encBytes))
	}

	var body []byte
	var contentLength int64
	if skipContent {
		// Only the length prefix is read, so ContentLength is still
		// reported without buffering the content bytes.
		var n uint32
		if err := binary.Read(br, binary.BigEndian, &n); err != nil {
			return nil, fmt.Errorf("%w: reading content length: %v", ErrCorrupt, err)
		}
		contentLength = int64(n)
	} else {
		body, err = readBytes(br)
		if err != nil {
			return nil, fmt.Errorf("%w: reading content: %v", ErrCorrupt, err)
		}
		contentLength = int64(len(body))
	}

	rec := &content.Record{
		Key:           key,
		ContentType:   string(ctypeBytes),
		Encoding:      encoding,
		LastModified:  time.UnixMilli(lastModifiedMillis),
		Modifiable:    modifiable,
		AuthKey:       authKey,
		ContentLength: contentLength,
		Content:       body,
	}
	if expiryMillis == neverMillis {
		rec.Expiry = content.Never
	} else {
		rec.Expiry = content.At(time.UnixMilli(expiryMillis))
	}
	return rec, nil
}

func splitEncoding(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			token := trimSpace(s[start:i])
			if token != "" {
				out = append(out, token)
			}
			start = i + 1
		}
	}
	return out
}

func trimSpace(s string) string {
	for len(s) > 0 && s[0] == ' ' {
		s = s[1:]
	}
	for len(s) > 0 && s[len(s)-1] == ' ' {
		s = s[:len(s)-1]
	}
	return s
}

func writeString(w io.Writer, s string) error {
	return writeBytes(w, []byte(s))
}

func writeBytes(w io.Writer, b []byte) error {
	if err := binary.Write(w, binary.BigEndian, uint32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readString(r io.Reader) (string, error) {
	b, err := readBytes(r)
	return string(b), err
}

func binaryWriteUint32(w io.Writer, v uint32) error {
	return binary.Write(w, binary.BigEndian, v)
}

func binaryWriteInt64(w io.Writer, v int64) error {
	return binary.Write(w, binary.BigEndian, v)
}

func readBytes(r io.Reader) ([]byte, error) {
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}
