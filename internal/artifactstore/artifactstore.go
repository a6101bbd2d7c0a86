// Package artifactstore implements C2: content-addressed persistence of
// step outputs and images, and the artifact_id -> object_url mapping,
// grounded on original_source/backend/worker/s3_service.py for object-key
// shape and content-type derivation, layered over the capability.ObjectStore
// and capability.KVStore interfaces (§4.2).
package artifactstore

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"path"
	"strings"

	"github.com/grandcanyonsmith/leadengine/internal/capability"
	"github.com/grandcanyonsmith/leadengine/internal/model"
	"github.com/grandcanyonsmith/leadengine/internal/telemetry"
)

// Store implements C2 over an ObjectStore, a KVStore, an HTTPClient (for
// store_image_from_url), an IDGenerator, and a Clock.
type Store struct {
	objects capability.ObjectStore
	kv      capability.KVStore
	http    capability.HTTPClient
	ids     capability.IDGenerator
	clock   capability.Clock
	logger  telemetry.Logger

	// cdnPrefix marks URLs already hosted under the configured CDN, which
	// store_image_from_url must skip re-fetching (§4.2).
	cdnPrefix string
}

// Option configures a Store.
type Option func(*Store)

// WithLogger injects a structured logger; defaults to a no-op.
func WithLogger(l telemetry.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithCDNPrefix sets the URL prefix that marks an image as already hosted
// and therefore exempt from store_image_from_url's re-hosting.
func WithCDNPrefix(prefix string) Option {
	return func(s *Store) { s.cdnPrefix = prefix }
}

// New constructs a Store.
func New(objects capability.ObjectStore, kv capability.KVStore, httpClient capability.HTTPClient, ids capability.IDGenerator, clock capability.Clock, opts ...Option) *Store {
	s := &Store{objects: objects, kv: kv, http: httpClient, ids: ids, clock: clock, logger: telemetry.NewNoopLogger()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store writes content under the deterministic object key
// {tenant}/jobs/{job}/{filename} (§9 "Artifact object keys"), records the
// Artifact row, and returns its ID.
func (s *Store) Store(ctx context.Context, tenantID, jobID string, artifactType model.ArtifactType, content []byte, filename string) (string, error) {
	key := objectKey(tenantID, jobID, filename)
	contentType := contentTypeFromFilename(filename)
	public := artifactType == model.ArtifactTypeImage || artifactType == model.ArtifactTypeHTMLFinal || artifactType == model.ArtifactTypeMarkdownFinal || artifactType == model.ArtifactTypePDFFinal

	objectURL, stableURL, err := s.objects.Put(ctx, key, content, contentType, public)
	if err != nil {
		return "", fmt.Errorf("artifactstore: put %s: %w", key, err)
	}

	artifactID := s.ids.NewID("art")
	artifact := model.Artifact{
		ArtifactID:   artifactID,
		TenantID:     tenantID,
		JobID:        jobID,
		ArtifactType: artifactType,
		FileName:     filename,
		MimeType:     contentType,
		ObjectKey:    key,
		ObjectURL:    stableURL,
		SizeBytes:    int64(len(content)),
		CreatedAt:    s.clock.Now(),
	}
	if err := s.kv.PutArtifact(ctx, artifact); err != nil {
		return "", fmt.Errorf("artifactstore: record artifact %s: %w", artifactID, err)
	}

	s.logger.Info(ctx, "artifact stored", "artifact_id", artifactID, "artifact_type", string(artifactType), "object_key", key, "size_bytes", len(content))
	_ = objectURL
	return artifactID, nil
}

// StoreImageFromURL fetches the image at sourceURL and re-hosts it under the
// tenant/job path, unless sourceURL is already under the configured CDN
// (§4.2: "Skipped for URLs already under the configured CDN").
func (s *Store) StoreImageFromURL(ctx context.Context, tenantID, jobID, sourceURL, filename string) (string, error) {
	if s.cdnPrefix != "" && strings.HasPrefix(sourceURL, s.cdnPrefix) {
		return sourceURL, nil
	}

	status, body, err := s.http.Do(ctx, "GET", sourceURL, nil, nil)
	if err != nil {
		return "", fmt.Errorf("artifactstore: fetch image %s: %w", sourceURL, err)
	}
	if status < 200 || status >= 300 {
		return "", fmt.Errorf("artifactstore: fetch image %s: status %d", sourceURL, status)
	}

	artifactID, err := s.Store(ctx, tenantID, jobID, model.ArtifactTypeImage, body, filename)
	if err != nil {
		return "", err
	}
	artifact, err := s.kv.GetArtifact(ctx, tenantID, artifactID)
	if err != nil {
		return "", fmt.Errorf("artifactstore: reload rehosted artifact %s: %w", artifactID, err)
	}
	return artifact.ObjectURL, nil
}

// StoreBase64Image decodes nothing itself — callers (the LLM adapter) have
// already base64-decoded the bytes — and just writes them, returning the
// object_url directly rather than an artifact_id, matching the LLM
// adapter's in-place structured-output rewrite (§4.6).
func (s *Store) StoreBase64Image(ctx context.Context, tenantID, jobID string, content []byte, contentType, filenameHint string) (string, error) {
	filename := filenameHint
	if filename == "" {
		filename = fmt.Sprintf("image-%s%s", randomSuffix(), extensionForContentType(contentType))
	}
	artifactID, err := s.Store(ctx, tenantID, jobID, model.ArtifactTypeImage, content, filename)
	if err != nil {
		return "", err
	}
	artifact, err := s.kv.GetArtifact(ctx, tenantID, artifactID)
	if err != nil {
		return "", fmt.Errorf("artifactstore: reload base64 artifact %s: %w", artifactID, err)
	}
	return artifact.ObjectURL, nil
}

// GetURL resolves an artifact ID to its public object URL.
func (s *Store) GetURL(ctx context.Context, tenantID, artifactID string) (string, error) {
	artifact, err := s.kv.GetArtifact(ctx, tenantID, artifactID)
	if err != nil {
		return "", fmt.Errorf("artifactstore: get url for %s: %w", artifactID, err)
	}
	return artifact.ObjectURL, nil
}

// Download returns the raw bytes of a stored artifact.
func (s *Store) Download(ctx context.Context, tenantID, artifactID string) ([]byte, error) {
	artifact, err := s.kv.GetArtifact(ctx, tenantID, artifactID)
	if err != nil {
		return nil, fmt.Errorf("artifactstore: download %s: %w", artifactID, err)
	}
	content, err := s.objects.Get(ctx, artifact.ObjectKey)
	if err != nil {
		return nil, fmt.Errorf("artifactstore: download %s: %w", artifactID, err)
	}
	return content, nil
}

func objectKey(tenantID, jobID, filename string) string {
	return fmt.Sprintf("%s/jobs/%s/%s", tenantID, jobID, filename)
}

var contentTypesByExt = map[string]string{
	".html": "text/html",
	".htm":  "text/html",
	".md":   "text/markdown",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".webp": "image/webp",
	".pdf":  "application/pdf",
	".json": "application/json",
	".txt":  "text/plain",
}

func contentTypeFromFilename(filename string) string {
	ext := strings.ToLower(path.Ext(filename))
	if ct, ok := contentTypesByExt[ext]; ok {
		return ct
	}
	return "application/octet-stream"
}

var extensionsByContentType = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

func extensionForContentType(contentType string) string {
	if ext, ok := extensionsByContentType[contentType]; ok {
		return ext
	}
	return ".bin"
}

func randomSuffix() string {
	buf := make([]byte, 6)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}
