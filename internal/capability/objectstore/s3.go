// Package objectstore implements capability.ObjectStore over Amazon S3,
// grounded on original_source/backend/worker/s3_service.py — the S3-backed
// artifact store this component replaces — and wired through the
// aws-sdk-go-v2 module the teacher already depends on (for bedrockruntime).
package objectstore

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/grandcanyonsmith/leadengine/internal/capability"
)

// Option configures a Store.
type Option func(*Store)

// Store implements capability.ObjectStore against a single S3 bucket. When
// CDNDomain is set, stable URLs are rewritten to point at the CDN instead of
// the bucket's regional endpoint (§6 CDN_DOMAIN).
type Store struct {
	client    *s3.Client
	bucket    string
	cdnDomain string
}

// WithCDNDomain configures the CDN host used to build the "stable" URL
// returned from Put, matching §6's CDN_DOMAIN.
func WithCDNDomain(domain string) Option {
	return func(s *Store) { s.cdnDomain = domain }
}

// New constructs a Store backed by client for bucket.
func New(client *s3.Client, bucket string, opts ...Option) *Store {
	s := &Store{client: client, bucket: bucket}
	for _, o := range opts {
		o(s)
	}
	return s
}

var _ capability.ObjectStore = (*Store)(nil)

// Put writes content at key. If an object already exists at key, a
// randomized suffix is appended before the extension so the original is
// never overwritten (§4.2 guarantee: writes are idempotent keyed by
// object_key; an existing key causes the writer to choose a new key rather
// than clobber it).
func (s *Store) Put(ctx context.Context, key string, content []byte, contentType string, public bool) (string, string, error) {
	finalKey := key
	if _, err := s.Head(ctx, key); err == nil {
		finalKey = withRandomSuffix(key)
	}

	acl := types.ObjectCannedACLPrivate
	if public {
		acl = types.ObjectCannedACLPublicRead
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(finalKey),
		Body:        bytes.NewReader(content),
		ContentType: aws.String(contentType),
		ACL:         acl,
	})
	if err != nil {
		return "", "", fmt.Errorf("objectstore: put %s: %w", finalKey, err)
	}

	objectURL := s.regionalURL(finalKey)
	stableURL := objectURL
	if s.cdnDomain != "" {
		stableURL = fmt.Sprintf("https://%s/%s", s.cdnDomain, finalKey)
	}
	return objectURL, stableURL, nil
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("objectstore: get %s: %w", key, err)
	}
	defer out.Body.Close()
	buf := new(bytes.Buffer)
	if _, err := buf.ReadFrom(out.Body); err != nil {
		return nil, fmt.Errorf("objectstore: read %s: %w", key, err)
	}
	return buf.Bytes(), nil
}

func (s *Store) Head(ctx context.Context, key string) (capability.ObjectMeta, error) {
	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var respErr *smithyhttp.ResponseError
		if errors.As(err, &respErr) && respErr.HTTPStatusCode() == 404 {
			return capability.ObjectMeta{}, capability.ErrNotFound
		}
		return capability.ObjectMeta{}, fmt.Errorf("objectstore: head %s: %w", key, err)
	}
	meta := capability.ObjectMeta{SizeBytes: aws.ToInt64(out.ContentLength)}
	if out.ContentType != nil {
		meta.ContentType = *out.ContentType
	}
	if out.ETag != nil {
		meta.ETag = *out.ETag
	}
	return meta, nil
}

func (s *Store) Presign(ctx context.Context, key string, ttl time.Duration) (string, error) {
	presigner := s3.NewPresignClient(s.client)
	req, err := presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(ttl))
	if err != nil {
		return "", fmt.Errorf("objectstore: presign %s: %w", key, err)
	}
	return req.URL, nil
}

func (s *Store) regionalURL(key string) string {
	return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", s.bucket, key)
}

func withRandomSuffix(key string) string {
	buf := make([]byte, 4)
	_, _ = rand.Read(buf)
	ext := path.Ext(key)
	return fmt.Sprintf("%s-%s%s", strings.TrimSuffix(key, ext), hex.EncodeToString(buf), ext)
}
