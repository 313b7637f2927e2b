package backend

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/lucko/bytebin/internal/content"
)

// metadata keys stored alongside each S3 object.
const (
	metaVersion    = "bytebin-version"
	metaCType      = "bytebin-contenttype"
	metaExpiry     = "bytebin-expiry"
	metaLastMod    = "bytebin-lastmodified"
	metaModifiable = "bytebin-modifiable"
	metaAuthKey    = "bytebin-authkey"
	metaEncoding   = "bytebin-encoding"
)

// S3 is an S3-compatible object-store backend: one object per key, with
// non-content fields carried as object metadata rather than a JSON
// sidecar.
type S3 struct {
	id             string
	client         *s3.Client
	bucket         string
	prefix         string
	forcePathStyle bool
}

// NewS3 creates an S3-compatible backend. Credentials, region and endpoint
// are resolved via the standard AWS SDK default credential chain.
func NewS3(ctx context.Context, id, bucket, prefix string, forcePathStyle bool) (*S3, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("backend/s3: loading AWS config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = forcePathStyle
	})

	if prefix != "" {
		prefix = strings.TrimSuffix(prefix, "/") + "/"
	}

	return &S3{id: id, client: client, bucket: bucket, prefix: prefix, forcePathStyle: forcePathStyle}, nil
}

// Init creates the bucket if it doesn't already exist. It deliberately does
// not apply an S3 lifecycle expiration policy: lifetime is enforced by the
// housekeeper against the content index, which must stay authoritative, so
// a bucket-level TTL could silently delete objects the index still
// believes are live.
func (s *S3) Init(ctx context.Context) error {
	_, err := s.client.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(s.bucket)})
	if err == nil {
		return nil
	}
	var owned *types.BucketAlreadyOwnedByYou
	var exists *types.BucketAlreadyExists
	if errors.As(err, &owned) || errors.As(err, &exists) {
		return nil
	}
	return fmt.Errorf("backend/s3: creating bucket: %w", err)
}

func (s *S3) ID() string { return s.id }

func (s *S3) fullKey(key string) string { return s.prefix + key }

func (s *S3) Load(ctx context.Context, key string) (*content.Record, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.fullKey(key)),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	defer out.Body.Close()

	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("backend/s3: reading body: %w", err)
	}

	rec, err := recordFromMetadata(key, out.Metadata)
	if err != nil {
		return nil, err
	}
	rec.Content = body
	rec.ContentLength = int64(len(body))
	rec.BackendID = s.id
	return rec, nil
}

func (s *S3) Save(ctx context.Context, rec *content.Record) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(s.fullKey(rec.Key)),
		Body:        bytes.NewReader(rec.Content),
		ContentType: aws.String(rec.ContentType),
		Metadata:    metadataFromRecord(rec),
	})
	if err != nil {
		return fmt.Errorf("backend/s3: putting object: %w", err)
	}
	return nil
}

func (s *S3) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.fullKey(key)),
	})
	return err
}

func (s *S3) List(ctx context.Context, visit VisitFunc) error {
	return s.ListKeys(ctx, func(key string) error {
		out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(s.fullKey(key)),
		})
		if err != nil {
			return visit(nil, fmt.Errorf("backend/s3: head %s: %w", key, err))
		}
		rec, err := recordFromMetadata(key, out.Metadata)
		if err != nil {
			return visit(nil, err)
		}
		rec.BackendID = s.id
		rec.ContentLength = aws.ToInt64(out.ContentLength)
		return visit(rec, nil)
	})
}

func (s *S3) ListKeys(ctx context.Context, visit func(key string) error) error {
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return fmt.Errorf("backend/s3: listing objects: %w", err)
		}
		for _, obj := range page.Contents {
			key := strings.TrimPrefix(aws.ToString(obj.Key), s.prefix)
			if err := visit(key); err != nil {
				return err
			}
		}
	}
	return nil
}

func metadataFromRecord(rec *content.Record) map[string]string {
	m := map[string]string{
		metaVersion: "2",
		metaCType:   rec.ContentType,
		metaLastMod: strconv.FormatInt(rec.LastModified.UnixMilli(), 10),
		metaEncoding: rec.EncodingHeader(),
	}
	if rec.Expiry.IsNever() {
		m[metaExpiry] = strconv.FormatInt(neverMillis, 10)
	} else {
		m[metaExpiry] = strconv.FormatInt(rec.Expiry.Time().UnixMilli(), 10)
	}
	if rec.Modifiable {
		m[metaModifiable] = "true"
		m[metaAuthKey] = rec.AuthKey
	} else {
		m[metaModifiable] = "false"
	}
	return m
}

func recordFromMetadata(key string, m map[string]string) (*content.Record, error) {
	expiryMillis, err := strconv.ParseInt(m[metaExpiry], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad expiry metadata for %s: %v", ErrCorrupt, key, err)
	}
	lastModMillis, err := strconv.ParseInt(m[metaLastMod], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad last-modified metadata for %s: %v", ErrCorrupt, key, err)
	}

	rec := &content.Record{
		Key:          key,
		ContentType:  m[metaCType],
		Encoding:     splitEncoding(m[metaEncoding]),
		LastModified: time.UnixMilli(lastModMillis),
		Modifiable:   m[metaModifiable] == "true",
		AuthKey:      m[metaAuthKey],
	}
	if expiryMillis == neverMillis {
		rec.Expiry = content.Never
	} else {
		rec.Expiry = content.At(time.UnixMilli(expiryMillis))
	}
	return rec, nil
}
