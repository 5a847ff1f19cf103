package post

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"backend-travellog/internal/objectstore"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
)

const (
	testUserID = "7c9e6679-7425-40de-944b-e07fc1f90ae7"
	testPostID = "f47ac10b-58cc-4372-a567-0e02b2c3d479"
)

// fakeStore records uploads in memory. Keys containing failOn are rejected.
type fakeStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	calls   int
	failOn  string
	block   bool
	before  func()
}

func newFakeStore() *fakeStore {
	return &fakeStore{objects: map[string][]byte{}}
}

func (f *fakeStore) Upload(ctx context.Context, data []byte, key, contentType string) (string, error) {
	f.mu.Lock()
	f.calls++
	block, before := f.block, f.before
	f.mu.Unlock()
	if before != nil {
		before()
	}

	if block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if f.failOn != "" && strings.Contains(key, f.failOn) {
		return "", errors.New("s3: access denied for bucket travellog-images")
	}
	f.mu.Lock()
	f.objects[key] = data
	f.mu.Unlock()
	return key, nil
}

func (f *fakeStore) URL(key string) string {
	return objectstore.ObjectURL("travellog-images", "eu-west-2", key)
}

func (f *fakeStore) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeStore) objectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.objects)
}

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("mock pool: %v", err)
	}
	t.Cleanup(mock.Close)
	return mock
}

func expectPersist(mock pgxmock.PgxPoolIface, p Post, createdAt time.Time) {
	mock.ExpectBeginTx(pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	mock.ExpectQuery(`SELECT id FROM users WHERE id = \$1 FOR UPDATE`).
		WithArgs(p.UserID).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(p.UserID))
	mock.ExpectExec(`UPDATE users\s+SET post_ids = array_append`).
		WithArgs(p.UserID, p.ID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectQuery(`INSERT INTO posts`).
		WithArgs(p.ID, p.UserID, p.SubLocation, p.Description, p.Location, p.Date, p.LocationURL, pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows([]string{"created_at"}).AddRow(createdAt))
	for i, img := range p.Images {
		mock.ExpectExec(`INSERT INTO post_images`).
			WithArgs(p.ID, i, img.URL).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}
	mock.ExpectCommit()
}

func postRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{"id", "user_id", "sub_location", "description", "location", "date", "location_url", "posted_at", "created_at"})
}

func lakeDistrict() Post {
	return Post{
		ID:          testPostID,
		UserID:      testUserID,
		SubLocation: "Lake District",
		Description: "hike",
		Location:    "UK",
		Date:        "2024-05-01",
		Images: []Image{
			{URL: "https://travellog-images.s3.eu-west-2.amazonaws.com/a.jpg"},
			{URL: "https://travellog-images.s3.eu-west-2.amazonaws.com/b.jpg"},
		},
	}
}
