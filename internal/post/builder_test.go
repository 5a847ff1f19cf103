package post

import (
	"reflect"
	"testing"
	"time"

	"backend-travellog/internal/apperr"
)

func TestBuildPostWrapsURLsInOrder(t *testing.T) {
	posted := time.Date(2024, 5, 2, 9, 30, 0, 0, time.UTC)
	fields := Fields{SubLocation: "Lake District", Description: "hike", Location: "UK", Date: "2024-05-01", PostedAt: &posted}
	urls := []string{"https://a", "https://b", "https://c"}

	p, err := BuildPost(fields, urls, testUserID, testPostID)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if p.ID != testPostID || p.UserID != testUserID || p.Date != "2024-05-01" {
		t.Fatalf("unexpected post: %+v", p)
	}
	if len(p.Images) != 3 {
		t.Fatalf("expected 3 images, got %d", len(p.Images))
	}
	for i, u := range urls {
		if p.Images[i].URL != u {
			t.Fatalf("image %d: expected %s, got %s", i, u, p.Images[i].URL)
		}
	}
	if p.PostedAt == nil || !p.PostedAt.Equal(posted) {
		t.Fatalf("expected posted_at carried over")
	}
}

func TestBuildPostIsDeterministic(t *testing.T) {
	fields := Fields{Location: "UK", Date: "2024-05-01"}
	a, _ := BuildPost(fields, []string{"https://a"}, testUserID, testPostID)
	b, _ := BuildPost(fields, []string{"https://a"}, testUserID, testPostID)
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("expected identical posts, got %+v and %+v", a, b)
	}
}

func TestBuildPostAcceptsTimestampDate(t *testing.T) {
	p, err := BuildPost(Fields{Date: "2024-05-01T18:45:00Z"}, []string{"https://a"}, testUserID, testPostID)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if p.Date != "2024-05-01" {
		t.Fatalf("expected truncated date, got %s", p.Date)
	}
}

func TestBuildPostValidation(t *testing.T) {
	cases := []struct {
		name   string
		fields Fields
		urls   []string
		user   string
		field  string
	}{
		{"bad date", Fields{Date: "01/05/2024"}, []string{"https://a"}, testUserID, "date"},
		{"impossible date", Fields{Date: "2024-02-30"}, []string{"https://a"}, testUserID, "date"},
		{"missing date", Fields{}, []string{"https://a"}, testUserID, "date"},
		{"no images", Fields{Date: "2024-05-01"}, nil, testUserID, "images"},
		{"no user", Fields{Date: "2024-05-01"}, []string{"https://a"}, "", "user_id"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := BuildPost(tc.fields, tc.urls, tc.user, testPostID)
			v, ok := err.(*apperr.ValidationError)
			if !ok {
				t.Fatalf("expected validation error, got %v", err)
			}
			if v.Field != tc.field {
				t.Fatalf("expected field %s, got %s", tc.field, v.Field)
			}
		})
	}
}
