package backend

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/lucko/bytebin/internal/content"
	"github.com/stretchr/testify/require"
)

func TestDiskSaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	d := NewDisk("disk", dir)
	ctx := context.Background()
	require.NoError(t, d.Init(ctx))

	rec, err := content.New("abc1234", "text/plain", []string{"gzip"}, content.At(time.Now().Add(time.Hour)), true, "01234567890123456789012345678901", []byte("hello world"))
	require.NoError(t, err)

	require.NoError(t, d.Save(ctx, rec))

	loaded, err := d.Load(ctx, "abc1234")
	require.NoError(t, err)
	require.Equal(t, "abc1234", loaded.Key)
	require.Equal(t, "text/plain", loaded.ContentType)
	require.Equal(t, []string{"gzip"}, loaded.Encoding)
	require.True(t, loaded.Modifiable)
	require.Equal(t, "01234567890123456789012345678901", loaded.AuthKey)
	require.Equal(t, []byte("hello world"), loaded.Content)
	require.False(t, loaded.Expiry.IsNever())
	require.Equal(t, "disk", loaded.BackendID)
}

func TestDiskSaveLoadNeverExpires(t *testing.T) {
	dir := t.TempDir()
	d := NewDisk("disk", dir)
	ctx := context.Background()
	require.NoError(t, d.Init(ctx))

	rec, err := content.New("neverkey", "text/plain", nil, content.Never, false, "", []byte("x"))
	require.NoError(t, err)
	require.NoError(t, d.Save(ctx, rec))

	loaded, err := d.Load(ctx, "neverkey")
	require.NoError(t, err)
	require.True(t, loaded.Expiry.IsNever())
}

func TestDiskLoadMissingReturnsErrNotFound(t *testing.T) {
	d := NewDisk("disk", t.TempDir())
	_, err := d.Load(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDiskLoadTruncatedReturnsErrCorrupt(t *testing.T) {
	dir := t.TempDir()
	d := NewDisk("disk", dir)
	require.NoError(t, os.WriteFile(dir+"/badkey", []byte{0, 0}, 0o644))

	_, err := d.Load(context.Background(), "badkey")
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestDiskDeleteAbsentKeyIsNotError(t *testing.T) {
	d := NewDisk("disk", t.TempDir())
	require.NoError(t, d.Delete(context.Background(), "nope"))
}

func TestDiskListStreamsMetadataOnly(t *testing.T) {
	dir := t.TempDir()
	d := NewDisk("disk", dir)
	ctx := context.Background()
	require.NoError(t, d.Init(ctx))

	for _, k := range []string{"key1111", "key2222"} {
		rec, err := content.New(k, "text/plain", nil, content.Never, false, "", []byte("payload-"+k))
		require.NoError(t, err)
		require.NoError(t, d.Save(ctx, rec))
	}

	seen := map[string]bool{}
	err := d.List(ctx, func(rec *content.Record, visitErr error) error {
		require.NoError(t, visitErr)
		require.Nil(t, rec.Content, "List must not populate content bytes")
		seen[rec.Key] = true
		return nil
	})
	require.NoError(t, err)
	require.True(t, seen["key1111"])
	require.True(t, seen["key2222"])
}

func TestDiskVersion1FileImpliesGzip(t *testing.T) {
	dir := t.TempDir()
	d := NewDisk("disk", dir)

	// Hand-construct a version-1 file: no encoding block.
	f, err := os.Create(dir + "/legacykey")
	require.NoError(t, err)
	require.NoError(t, writeV1(f, "legacykey", "application/octet-stream", []byte("legacy")))
	require.NoError(t, f.Close())

	rec, err := d.Load(context.Background(), "legacykey")
	require.NoError(t, err)
	require.Equal(t, []string{"gzip"}, rec.Encoding)
	require.Equal(t, []byte("legacy"), rec.Content)
}

// writeV1 hand-encodes the version-1 layout (no encoding block, no
// trailing content-length skip quirks) for the backward-compatibility test
// above, since writeRecord always writes the current (v2) format.
func writeV1(f *os.File, key, ctype string, body []byte) error {
	w := f
	if err := binaryWriteUint32(w, 1); err != nil {
		return err
	}
	if err := writeString(w, key); err != nil {
		return err
	}
	if err := writeBytes(w, []byte(ctype)); err != nil {
		return err
	}
	if err := binaryWriteInt64(w, neverMillis); err != nil {
		return err
	}
	if err := binaryWriteInt64(w, time.Now().UnixMilli()); err != nil {
		return err
	}
	if _, err := w.Write([]byte{0}); err != nil {
		return err
	}
	return writeBytes(w, body)
}
