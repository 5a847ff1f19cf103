package post

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"backend-travellog/internal/apperr"
	"backend-travellog/internal/events"
	"backend-travellog/internal/idem"
	"backend-travellog/internal/logging"
	"backend-travellog/internal/metrics"

	"github.com/google/uuid"
)

type Service struct {
	uploader    *Uploader
	coordinator *Coordinator
	repo        *Repository
	idem        *idem.Store
	events      events.Publisher
	metrics     *metrics.Metrics
	log         *slog.Logger
	newID       func() string
}

// Deps groups the collaborators of Service. Idem, Events and Metrics may be
// nil.
type Deps struct {
	Uploader    *Uploader
	Coordinator *Coordinator
	Repository  *Repository
	Idem        *idem.Store
	Events      events.Publisher
	Metrics     *metrics.Metrics
	Log         *slog.Logger
}

func NewService(d Deps) *Service {
	if d.Events == nil {
		d.Events = events.Noop{}
	}
	if d.Log == nil {
		d.Log = logging.Discard()
	}
	return &Service{
		uploader:    d.Uploader,
		coordinator: d.Coordinator,
		repo:        d.Repository,
		idem:        d.Idem,
		events:      d.Events,
		metrics:     d.Metrics,
		log:         d.Log,
		newID:       uuid.NewString,
	}
}

// Submission is one create request.
type Submission struct {
	UserID         string
	Fields         Fields
	Images         []ImageUpload
	IdempotencyKey string
}

// Submit uploads the images, builds the post and stores it linked to its
// owner. replayed is true when an earlier submission with the same
// idempotency key already created the returned post.
func (s *Service) Submit(ctx context.Context, sub Submission) (p Post, replayed bool, err error) {
	defer func() {
		s.metrics.ObserveSubmission(apperr.Code(err))
		if err != nil && !apperr.IsValidation(err) {
			s.log.Error("submit post failed", "user_id", sub.UserID, "code", apperr.Code(err), "error", err)
		}
	}()

	// reject bad input before anything reaches the object store
	if sub.UserID == "" {
		return Post{}, false, apperr.NewValidation("user_id", "user is required")
	}
	if len(sub.Images) == 0 {
		return Post{}, false, apperr.NewValidation("images", "no images provided")
	}
	if _, err := parseDate(sub.Fields.Date); err != nil {
		return Post{}, false, err
	}

	if sub.IdempotencyKey != "" && s.idem != nil {
		existing, rerr := s.idem.Reserve(ctx, sub.UserID, sub.IdempotencyKey)
		if errors.Is(rerr, idem.ErrInFlight) {
			return Post{}, false, &apperr.ConflictError{Message: "a submission with this idempotency key is in progress"}
		}
		if rerr != nil {
			return Post{}, false, rerr
		}
		if existing != "" {
			found, ferr := s.repo.FindByID(ctx, existing)
			return found, ferr == nil, ferr
		}
		defer func() {
			// a detached context so the key is settled even if the client left
			bg := context.WithoutCancel(ctx)
			if err != nil {
				if rerr := s.idem.Release(bg, sub.UserID, sub.IdempotencyKey); rerr != nil {
					s.log.Warn("release idempotency key", "user_id", sub.UserID, "error", rerr)
				}
				return
			}
			if cerr := s.idem.Complete(bg, sub.UserID, sub.IdempotencyKey, p.ID); cerr != nil {
				s.log.Warn("record idempotency key", "post_id", p.ID, "error", cerr)
			}
		}()
	}

	urls, err := s.uploader.UploadAll(ctx, sub.UserID, sub.Images)
	if err != nil {
		return Post{}, false, err
	}

	built, err := BuildPost(sub.Fields, urls, sub.UserID, s.newID())
	if err != nil {
		return Post{}, false, err
	}

	saved, err := s.coordinator.Persist(ctx, built)
	if err != nil {
		if apperr.IsNotFoundResource(err, "user") {
			s.log.Warn("uploaded images left without a post", "user_id", sub.UserID, "images", len(urls))
		}
		return Post{}, false, err
	}

	s.publish(ctx, events.PostCreated, saved.ID, saved.UserID)
	s.log.Info("post created", "post_id", saved.ID, "user_id", saved.UserID, "images", len(saved.Images))
	return saved, false, nil
}

func (s *Service) FindAll(ctx context.Context) ([]Post, error) {
	return s.repo.FindAll(ctx)
}

func (s *Service) FindByID(ctx context.Context, id string) (Post, error) {
	return s.repo.FindByID(ctx, id)
}

// Update applies patch. An uploaded image is stored under the post owner's
// prefix first and then replaces the post's images like image_url does.
func (s *Service) Update(ctx context.Context, id string, patch Patch) (Post, error) {
	if patch.Image != nil {
		if patch.ImageURL != nil {
			return Post{}, apperr.NewValidation("image", "send either an image file or image_url, not both")
		}
		// unknown ids fail here, before anything is uploaded
		current, err := s.repo.FindByID(ctx, id)
		if err != nil {
			return Post{}, err
		}
		urls, err := s.uploader.UploadAll(ctx, current.UserID, []ImageUpload{*patch.Image})
		if err != nil {
			return Post{}, err
		}
		patch.ImageURL, patch.Image = &urls[0], nil
	}

	p, err := s.repo.Update(ctx, id, patch)
	if err != nil {
		return Post{}, err
	}
	s.publish(ctx, events.PostUpdated, p.ID, p.UserID)
	return p, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	owner, err := s.repo.Delete(ctx, id)
	if err != nil {
		return err
	}
	s.publish(ctx, events.PostDeleted, id, owner)
	return nil
}

func (s *Service) UserPostIDs(ctx context.Context, userID string) ([]string, error) {
	return s.repo.UserPostIDs(ctx, userID)
}

// publish is best effort; the database is the source of truth.
func (s *Service) publish(ctx context.Context, typ, postID, userID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	ev := events.Event{Type: typ, PostID: postID, UserID: userID, At: time.Now().UTC()}
	if err := s.events.Publish(ctx, ev); err != nil {
		s.log.Warn("publish post event", "type", typ, "post_id", postID, "error", err)
	}
}
