package post

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"backend-travellog/internal/apperr"
	"backend-travellog/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func images(n int) []ImageUpload {
	out := make([]ImageUpload, n)
	for i := range out {
		out[i] = ImageUpload{Data: []byte(fmt.Sprintf("img-%d", i)), Filename: fmt.Sprintf("photo-%d.jpg", i), ContentType: "image/jpeg"}
	}
	return out
}

func TestUploadAllPreservesOrder(t *testing.T) {
	store := newFakeStore()
	up := NewUploader(store, time.Second, 2, nil)
	up.now = func() time.Time { return time.UnixMilli(1714550400000) }

	urls, err := up.UploadAll(context.Background(), testUserID, images(5))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	if len(urls) != 5 {
		t.Fatalf("expected 5 urls, got %d", len(urls))
	}
	for i, u := range urls {
		want := fmt.Sprintf("https://travellog-images.s3.eu-west-2.amazonaws.com/%s/1714550400000-%d-photo-%d.jpg", testUserID, i, i)
		if u != want {
			t.Fatalf("url %d: expected %s, got %s", i, want, u)
		}
	}
}

func TestUploadAllRejectsEmptyWithoutCallingStore(t *testing.T) {
	store := newFakeStore()
	up := NewUploader(store, time.Second, 0, nil)

	_, err := up.UploadAll(context.Background(), testUserID, nil)
	if !apperr.IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if store.callCount() != 0 {
		t.Fatalf("expected no store calls, got %d", store.callCount())
	}
}

func TestUploadAllWithoutStore(t *testing.T) {
	up := NewUploader(nil, time.Second, 0, nil)
	_, err := up.UploadAll(context.Background(), testUserID, images(1))
	if !apperr.IsUpload(err) {
		t.Fatalf("expected upload error, got %v", err)
	}
}

func TestUploadAllFailsWholeBatchButLetsSiblingsFinish(t *testing.T) {
	store := newFakeStore()
	store.failOn = "-2-"
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	up := NewUploader(store, time.Second, 0, m)

	urls, err := up.UploadAll(context.Background(), testUserID, images(4))
	if !apperr.IsUpload(err) {
		t.Fatalf("expected upload error, got %v", err)
	}
	if urls != nil {
		t.Fatalf("expected no urls on failure, got %v", urls)
	}
	if store.callCount() != 4 {
		t.Fatalf("expected every upload attempted, got %d", store.callCount())
	}
	// the other three stay behind as orphans
	if store.objectCount() != 3 {
		t.Fatalf("expected 3 stored objects, got %d", store.objectCount())
	}
	if strings.Contains(apperr.PublicMessage(err), "access denied") {
		t.Fatalf("public message leaks cause: %s", apperr.PublicMessage(err))
	}
	expected := `
# HELP travellog_image_uploads_total Object store uploads by result.
# TYPE travellog_image_uploads_total counter
travellog_image_uploads_total{result="error"} 1
travellog_image_uploads_total{result="ok"} 3
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "travellog_image_uploads_total"); err != nil {
		t.Fatalf("upload metrics: %v", err)
	}
}

func TestUploadAllTimesOut(t *testing.T) {
	store := newFakeStore()
	store.block = true
	up := NewUploader(store, 20*time.Millisecond, 0, nil)

	_, err := up.UploadAll(context.Background(), testUserID, images(2))
	if !apperr.IsTimeout(err) || !apperr.IsUpload(err) {
		t.Fatalf("expected upload timeout, got %v", err)
	}
	if !apperr.Retryable(err) {
		t.Fatalf("expected timeout to be retryable")
	}
}

func TestSanitizeFilename(t *testing.T) {
	cases := map[string]string{
		"":                   "unnamed-file",
		"   ":                "unnamed-file",
		"IMG 0001.JPG":       "IMG-0001.JPG",
		"../../etc/passwd":   "passwd",
		`C:\photos\lake.png`: "lake.png",
		"snow/peak.jpeg":     "peak.jpeg",
		"ÿ.jpg":              "-.jpg",
	}
	for in, want := range cases {
		if got := sanitizeFilename(in); got != want {
			t.Fatalf("sanitize %q: expected %q, got %q", in, want, got)
		}
	}
}
