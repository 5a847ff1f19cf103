package post

import (
	"strings"
	"time"

	"backend-travellog/internal/apperr"
)

const dateLayout = "2006-01-02"

// BuildPost assembles an unsaved Post. It does no I/O, so the same input
// always yields the same Post.
func BuildPost(f Fields, urls []string, userID, id string) (Post, error) {
	if strings.TrimSpace(userID) == "" {
		return Post{}, apperr.NewValidation("user_id", "user is required")
	}
	if len(urls) == 0 {
		return Post{}, apperr.NewValidation("images", "no images provided")
	}
	date, err := parseDate(f.Date)
	if err != nil {
		return Post{}, err
	}

	images := make([]Image, len(urls))
	for i, u := range urls {
		images[i] = Image{URL: u}
	}
	return Post{
		ID:          id,
		UserID:      userID,
		SubLocation: f.SubLocation,
		Description: f.Description,
		Location:    f.Location,
		Date:        date,
		LocationURL: f.LocationURL,
		PostedAt:    f.PostedAt,
		Images:      images,
	}, nil
}

// parseDate accepts a calendar date or an RFC 3339 timestamp and returns the
// calendar date in YYYY-MM-DD form.
func parseDate(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", apperr.NewValidation("date", "date is required")
	}
	if t, err := time.Parse(dateLayout, s); err == nil {
		return t.Format(dateLayout), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC().Format(dateLayout), nil
	}
	return "", apperr.NewValidation("date", "date must be YYYY-MM-DD")
}
