package post

import "time"

type Post struct {
	ID          string     `json:"id"`
	UserID      string     `json:"user_id"`
	SubLocation string     `json:"sub_location"`
	Description string     `json:"description"`
	Location    string     `json:"location"`
	Date        string     `json:"date"`
	LocationURL string     `json:"location_url,omitempty"`
	PostedAt    *time.Time `json:"posted_at,omitempty"`
	Images      []Image    `json:"images"`
	CreatedAt   time.Time  `json:"created_at"`
}

type Image struct {
	URL string `json:"url"`
}

// Fields are the submitted form values of a new post.
type Fields struct {
	SubLocation string
	Description string
	Location    string
	Date        string
	LocationURL string
	PostedAt    *time.Time
}

type ImageUpload struct {
	Data        []byte
	Filename    string
	ContentType string
}

// Patch carries the fields of an update; nil means "leave unchanged".
type Patch struct {
	SubLocation *string `json:"sub_location"`
	Description *string `json:"description"`
	Location    *string `json:"location"`
	LocationURL *string `json:"location_url"`
	ImageURL    *string `json:"image_url"`

	// Image is an uploaded replacement; the service stores it and sets
	// ImageURL before the repository sees the patch.
	Image *ImageUpload `json:"-"`
}

func (p Patch) empty() bool {
	return p.SubLocation == nil && p.Description == nil && p.Location == nil &&
		p.LocationURL == nil && p.ImageURL == nil && p.Image == nil
}
