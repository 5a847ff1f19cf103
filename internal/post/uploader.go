package post

import (
	"context"
	"errors"
	"path"
	"strconv"
	"strings"
	"time"

	"backend-travellog/internal/apperr"
	"backend-travellog/internal/metrics"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"
)

var tracer = otel.Tracer("backend-travellog/internal/post")

var errNoObjectStore = errors.New("object store not configured")

// ObjectStore is the blob storage the uploader writes to.
// *objectstore.Store implements it.
type ObjectStore interface {
	Upload(ctx context.Context, data []byte, key, contentType string) (string, error)
	URL(key string) string
}

type Uploader struct {
	store       ObjectStore
	timeout     time.Duration
	concurrency int
	metrics     *metrics.Metrics
	now         func() time.Time
}

// NewUploader returns an Uploader. timeout bounds each single upload and
// concurrency caps parallel uploads; zero disables either limit.
func NewUploader(store ObjectStore, timeout time.Duration, concurrency int, m *metrics.Metrics) *Uploader {
	return &Uploader{store: store, timeout: timeout, concurrency: concurrency, metrics: m, now: time.Now}
}

// UploadAll stores every image and returns their public URLs in input order.
// All uploads run to completion; the first failure is returned and objects
// already written are left in the bucket.
func (u *Uploader) UploadAll(ctx context.Context, userID string, images []ImageUpload) ([]string, error) {
	if len(images) == 0 {
		return nil, apperr.NewValidation("images", "no images provided")
	}
	if u.store == nil {
		return nil, &apperr.UploadError{Err: errNoObjectStore}
	}

	ctx, span := tracer.Start(ctx, "post.upload_images")
	defer span.End()
	span.SetAttributes(attribute.Int("images.count", len(images)))

	stamp := u.now().UnixMilli()
	urls := make([]string, len(images))

	var g errgroup.Group
	if u.concurrency > 0 {
		g.SetLimit(u.concurrency)
	}
	for i, img := range images {
		i, img := i, img
		key := objectKey(userID, stamp, i, img.Filename)
		g.Go(func() error {
			stored, err := u.uploadOne(ctx, img, key)
			if err != nil {
				return &apperr.UploadError{Key: key, Err: err}
			}
			urls[i] = u.store.URL(stored)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "upload failed")
		return nil, err
	}
	return urls, nil
}

func (u *Uploader) uploadOne(ctx context.Context, img ImageUpload, key string) (string, error) {
	if u.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, u.timeout)
		defer cancel()
	}
	start := time.Now()
	stored, err := u.store.Upload(ctx, img.Data, key, img.ContentType)
	u.metrics.ObserveUpload(err, time.Since(start))
	if err != nil {
		return "", apperr.Timeout("upload", err)
	}
	if stored == "" {
		stored = key
	}
	return stored, nil
}

// objectKey namespaces uploads per user; the millisecond stamp and the index
// keep keys of one submission apart even when filenames repeat.
func objectKey(userID string, stamp int64, index int, filename string) string {
	return userID + "/" + strconv.FormatInt(stamp, 10) + "-" + strconv.Itoa(index) + "-" + sanitizeFilename(filename)
}

func sanitizeFilename(name string) string {
	name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if name == "." || name == "/" {
		name = ""
	}
	clean := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, name)
	if strings.Trim(clean, "-.") == "" {
		return "unnamed-file"
	}
	return clean
}
