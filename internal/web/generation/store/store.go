// Package store materializes provider-issued remote images into the owned
// object store.
package store

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Laisky/errors/v2"
	glog "github.com/Laisky/go-utils/v6/log"
	"github.com/Laisky/zap"
	"github.com/disintegration/imaging"
	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"

	"github.com/pixmuse/pixmuse-api/library/config"
)

const (
	fetchTimeout = 60 * time.Second
	// maxEdge bounds the longest edge of a stored image
	maxEdge = 2048
	// jpegQuality fixed encode quality for stored images
	jpegQuality = 90
	// maxFetchBytes bounds one downloaded artifact
	maxFetchBytes = 32 << 20
)

// ErrUnavailable the reference cannot be materialized at all.
var ErrUnavailable = errors.New("artifact unavailable")

// ObjectPutter is the object-store surface the materializer needs.
// *minio.Client satisfies it.
type ObjectPutter interface {
	PutObject(ctx context.Context, bucketName, objectName string,
		reader io.Reader, objectSize int64,
		opts minio.PutObjectOptions) (minio.UploadInfo, error)
}

// Artifacts fetches remote images, normalizes them and persists them
// under the configured bucket.
type Artifacts struct {
	logger     glog.Logger
	putter     ObjectPutter
	cfg        *config.ArtifactsConfig
	httpClient *http.Client
}

// New create new artifact store
func New(logger glog.Logger, putter ObjectPutter,
	cfg *config.ArtifactsConfig, httpClient *http.Client) *Artifacts {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: fetchTimeout}
	}

	return &Artifacts{
		logger:     logger,
		putter:     putter,
		cfg:        cfg,
		httpClient: httpClient,
	}
}

// Materialize fetches the remote reference, normalizes the image and stores
// it under the bucket, returning a stable public reference.
//
// Local-filesystem references cannot be fetched from a server process and
// return ErrUnavailable. When the fetch succeeds but the store write fails,
// the original remote URL is returned as a degraded fallback so the result
// is not lost while the store is down.
func (a *Artifacts) Materialize(ctx context.Context, remoteRef string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(remoteRef))
	if err != nil {
		return "", errors.Wrapf(ErrUnavailable, "parse reference %q", remoteRef)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", errors.Wrapf(ErrUnavailable, "unsupported scheme %q", parsed.Scheme)
	}

	raw, contentType, err := a.fetch(ctx, remoteRef)
	if err != nil {
		return "", errors.Wrapf(err, "fetch %q", remoteRef)
	}

	body, objContentType := a.normalize(raw, contentType)

	objKey := a.objectKey(objContentType)
	if _, err = a.putter.PutObject(ctx,
		a.cfg.Bucket,
		objKey,
		bytes.NewReader(body),
		int64(len(body)),
		minio.PutObjectOptions{ContentType: objContentType},
	); err != nil {
		// store is down; hand back the remote URL rather than losing the image
		a.logger.Warn("store artifact, fall back to remote reference",
			zap.Error(err),
			zap.String("remote_ref", remoteRef))
		return remoteRef, nil
	}

	return a.publicRef(objKey), nil
}

// fetch downloads the remote reference with a bounded deadline.
func (a *Artifacts) fetch(ctx context.Context, remoteRef string) (body []byte, contentType string, err error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, remoteRef, nil)
	if err != nil {
		return nil, "", errors.Wrap(err, "build fetch request")
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, "", errors.Wrap(err, "do fetch request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		return nil, "", errors.Errorf("fetch returned status %d", resp.StatusCode)
	}

	body, err = io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return nil, "", errors.Wrap(err, "read fetch body")
	}

	return body, resp.Header.Get("Content-Type"), nil
}

// normalize re-encodes the image as bounded JPEG. Images that cannot be
// decoded are stored unmodified.
func (a *Artifacts) normalize(raw []byte, contentType string) (body []byte, objContentType string) {
	img, err := imaging.Decode(bytes.NewReader(raw), imaging.AutoOrientation(true))
	if err != nil {
		a.logger.Warn("decode artifact, store unmodified", zap.Error(err))
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		return raw, contentType
	}

	bounds := img.Bounds()
	if bounds.Dx() > maxEdge || bounds.Dy() > maxEdge {
		img = imaging.Fit(img, maxEdge, maxEdge, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG,
		imaging.JPEGQuality(jpegQuality)); err != nil {
		a.logger.Warn("encode artifact, store unmodified", zap.Error(err))
		return raw, contentType
	}

	return buf.Bytes(), "image/jpeg"
}

func (a *Artifacts) objectKey(contentType string) string {
	ext := ".jpg"
	if contentType != "image/jpeg" {
		ext = ".bin"
	}

	prefix := strings.Trim(a.cfg.Prefix, "/")
	if prefix == "" {
		return uuid.NewString() + ext
	}

	return fmt.Sprintf("%s/%s%s", prefix, uuid.NewString(), ext)
}

func (a *Artifacts) publicRef(objKey string) string {
	base := strings.TrimRight(a.cfg.PublicURL, "/")
	if base == "" {
		base = fmt.Sprintf("https://%s/%s", a.cfg.Endpoint, a.cfg.Bucket)
	}

	return base + "/" + objKey
}
