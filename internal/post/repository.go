package post

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"backend-travellog/internal/apperr"
	"backend-travellog/internal/db"
	"backend-travellog/internal/logging"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const postColumns = `id, user_id, sub_location, description, location, to_char(date, 'YYYY-MM-DD'), location_url, posted_at, created_at`

// Repository serves reads, field updates and deletes of stored posts.
// Creation goes through Coordinator only.
type Repository struct {
	db             db.Pool
	cache          *Cache
	unlinkOnDelete bool
	log            *slog.Logger
}

func NewRepository(pool db.Pool, cache *Cache, unlinkOnDelete bool, log *slog.Logger) *Repository {
	if log == nil {
		log = logging.Discard()
	}
	return &Repository{db: pool, cache: cache, unlinkOnDelete: unlinkOnDelete, log: log}
}

// FindAll returns every post in insertion order.
func (r *Repository) FindAll(ctx context.Context) ([]Post, error) {
	if r.db == nil {
		return nil, errNoDatabase
	}
	rows, err := r.db.Query(ctx, `SELECT `+postColumns+` FROM posts ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	posts := []Post{}
	var ids []string
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		ids = append(ids, p.ID)
		posts = append(posts, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	images, err := loadImages(ctx, r.db, ids)
	if err != nil {
		return nil, err
	}
	for i := range posts {
		posts[i].Images = imagesOrEmpty(images[posts[i].ID])
	}
	return posts, nil
}

func (r *Repository) FindByID(ctx context.Context, id string) (Post, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Post{}, apperr.NewNotFound("post", id)
	}
	if p, ok := r.cache.Get(ctx, id); ok {
		return p, nil
	}
	if r.db == nil {
		return Post{}, errNoDatabase
	}

	p, err := findPost(ctx, r.db, id)
	if err != nil {
		return Post{}, err
	}
	if err := r.cache.Set(ctx, p); err != nil {
		r.log.Warn("cache post", "post_id", id, "error", err)
	}
	return p, nil
}

// Update merges the non-nil fields of patch into the post. ImageURL replaces
// the whole image list with that single image. The owner's post collection
// is never touched.
func (r *Repository) Update(ctx context.Context, id string, patch Patch) (Post, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Post{}, apperr.NewNotFound("post", id)
	}
	if patch.empty() {
		return r.FindByID(ctx, id)
	}
	if patch.ImageURL != nil && strings.TrimSpace(*patch.ImageURL) == "" {
		return Post{}, apperr.NewValidation("image_url", "image_url must not be empty")
	}
	if r.db == nil {
		return Post{}, errNoDatabase
	}

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return Post{}, err
	}
	committed := false
	defer rollbackUnless(ctx, tx, &committed)

	tag, err := tx.Exec(ctx, `
		UPDATE posts
		SET sub_location = COALESCE($2, sub_location),
		    description  = COALESCE($3, description),
		    location     = COALESCE($4, location),
		    location_url = COALESCE($5, location_url)
		WHERE id = $1
	`, id, patch.SubLocation, patch.Description, patch.Location, patch.LocationURL)
	if err != nil {
		return Post{}, err
	}
	if tag.RowsAffected() == 0 {
		return Post{}, apperr.NewNotFound("post", id)
	}

	if patch.ImageURL != nil {
		if _, err := tx.Exec(ctx, `DELETE FROM post_images WHERE post_id = $1`, id); err != nil {
			return Post{}, err
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO post_images (post_id, position, url)
			VALUES ($1,$2,$3)
		`, id, 0, *patch.ImageURL); err != nil {
			return Post{}, err
		}
	}

	p, err := findPost(ctx, tx, id)
	if err != nil {
		return Post{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Post{}, err
	}
	committed = true
	r.invalidate(ctx, id)
	return p, nil
}

// Delete removes the post and its images. The owner's post_ids entry is
// kept unless the repository was built with unlinkOnDelete. It returns the
// owner of the deleted post.
func (r *Repository) Delete(ctx context.Context, id string) (string, error) {
	if _, err := uuid.Parse(id); err != nil {
		return "", apperr.NewNotFound("post", id)
	}
	if r.db == nil {
		return "", errNoDatabase
	}
	if r.unlinkOnDelete {
		return r.deleteAndUnlink(ctx, id)
	}

	var owner string
	err := r.db.QueryRow(ctx, `DELETE FROM posts WHERE id = $1 RETURNING user_id`, id).Scan(&owner)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", apperr.NewNotFound("post", id)
	}
	if err != nil {
		return "", err
	}
	r.invalidate(ctx, id)
	return owner, nil
}

func (r *Repository) deleteAndUnlink(ctx context.Context, id string) (string, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return "", err
	}
	committed := false
	defer rollbackUnless(ctx, tx, &committed)

	var owner string
	err = tx.QueryRow(ctx, `DELETE FROM posts WHERE id = $1 RETURNING user_id`, id).Scan(&owner)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", apperr.NewNotFound("post", id)
	}
	if err != nil {
		return "", err
	}
	if _, err := tx.Exec(ctx, `
		UPDATE users SET post_ids = array_remove(post_ids, $2), updated_at = NOW()
		WHERE id = $1
	`, owner, id); err != nil {
		return "", err
	}
	if err := tx.Commit(ctx); err != nil {
		return "", err
	}
	committed = true
	r.invalidate(ctx, id)
	return owner, nil
}

// UserPostIDs returns the post collection stored on the user row.
func (r *Repository) UserPostIDs(ctx context.Context, userID string) ([]string, error) {
	if _, err := uuid.Parse(userID); err != nil {
		return nil, apperr.NewNotFound("user", userID)
	}
	if r.db == nil {
		return nil, errNoDatabase
	}
	var ids []string
	err := r.db.QueryRow(ctx, `SELECT post_ids::text[] FROM users WHERE id = $1`, userID).Scan(&ids)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NewNotFound("user", userID)
	}
	if err != nil {
		return nil, err
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

func (r *Repository) invalidate(ctx context.Context, id string) {
	if err := r.cache.Invalidate(ctx, id); err != nil {
		r.log.Warn("invalidate cached post", "post_id", id, "error", err)
	}
}

func rollbackUnless(ctx context.Context, tx pgx.Tx, committed *bool) {
	if !*committed {
		_ = tx.Rollback(context.WithoutCancel(ctx))
	}
}

func findPost(ctx context.Context, q db.Querier, id string) (Post, error) {
	p, err := scanPost(q.QueryRow(ctx, `SELECT `+postColumns+` FROM posts WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Post{}, apperr.NewNotFound("post", id)
	}
	if err != nil {
		return Post{}, err
	}
	images, err := loadImages(ctx, q, []string{id})
	if err != nil {
		return Post{}, err
	}
	p.Images = imagesOrEmpty(images[id])
	return p, nil
}

func scanPost(row pgx.Row) (Post, error) {
	var p Post
	err := row.Scan(&p.ID, &p.UserID, &p.SubLocation, &p.Description, &p.Location, &p.Date, &p.LocationURL, &p.PostedAt, &p.CreatedAt)
	return p, err
}

func loadImages(ctx context.Context, q db.Querier, postIDs []string) (map[string][]Image, error) {
	if len(postIDs) == 0 {
		return map[string][]Image{}, nil
	}
	rows, err := q.Query(ctx, `
		SELECT post_id, url
		FROM post_images WHERE post_id = ANY($1)
		ORDER BY post_id, position
	`, postIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	images := map[string][]Image{}
	for rows.Next() {
		var postID string
		var img Image
		if err := rows.Scan(&postID, &img.URL); err != nil {
			return nil, err
		}
		images[postID] = append(images[postID], img)
	}
	return images, rows.Err()
}

func imagesOrEmpty(images []Image) []Image {
	if images == nil {
		return []Image{}
	}
	return images
}
