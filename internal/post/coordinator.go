package post

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"backend-travellog/internal/apperr"
	"backend-travellog/internal/db"
	"backend-travellog/internal/logging"
	"backend-travellog/internal/metrics"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// errNoDatabase is returned when the process started without Postgres.
var errNoDatabase = errors.New("database not configured")

// Coordinator writes a new post and links it to its owner in one
// transaction, so users.post_ids and posts never disagree.
type Coordinator struct {
	db          db.Pool
	timeout     time.Duration
	maxAttempts int
	metrics     *metrics.Metrics
	log         *slog.Logger
}

func NewCoordinator(pool db.Pool, timeout time.Duration, maxAttempts int, m *metrics.Metrics, log *slog.Logger) *Coordinator {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if log == nil {
		log = logging.Discard()
	}
	return &Coordinator{db: pool, timeout: timeout, maxAttempts: maxAttempts, metrics: m, log: log}
}

// Persist saves p. It ignores cancellation of ctx so a client that hangs up
// cannot interrupt a transaction halfway; the configured timeout bounds it
// instead.
func (c *Coordinator) Persist(ctx context.Context, p Post) (Post, error) {
	ctx = context.WithoutCancel(ctx)
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	ctx, span := tracer.Start(ctx, "post.persist")
	defer span.End()
	span.SetAttributes(attribute.String("post.id", p.ID), attribute.String("user.id", p.UserID))

	for attempt := 1; ; attempt++ {
		saved, err := c.persistOnce(ctx, p)
		if err == nil {
			c.metrics.ObserveTransaction("committed")
			return saved, nil
		}
		if isSerializationFailure(err) && attempt < c.maxAttempts {
			c.metrics.ObserveRetry()
			c.log.Warn("post transaction conflict, retrying", "post_id", p.ID, "attempt", attempt)
			continue
		}

		err = apperr.Timeout("transaction", err)
		c.metrics.ObserveTransaction(apperr.Code(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "transaction aborted")
		return Post{}, err
	}
}

func (c *Coordinator) persistOnce(ctx context.Context, p Post) (Post, error) {
	if c.db == nil {
		return Post{}, &apperr.TransactionError{Op: "begin", Err: errNoDatabase}
	}
	tx, err := c.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return Post{}, &apperr.TransactionError{Op: "begin", Err: err}
	}
	committed := false
	defer func() {
		if !committed {
			// ctx may already be past its deadline here
			rbCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			_ = tx.Rollback(rbCtx)
		}
	}()

	var owner string
	err = tx.QueryRow(ctx, `SELECT id FROM users WHERE id = $1 FOR UPDATE`, p.UserID).Scan(&owner)
	if errors.Is(err, pgx.ErrNoRows) || isInvalidID(err) {
		return Post{}, apperr.NewNotFound("user", p.UserID)
	}
	if err != nil {
		return Post{}, &apperr.TransactionError{Op: "lock user", Err: err}
	}

	if _, err := tx.Exec(ctx, `
		UPDATE users
		SET post_ids = array_append(post_ids, $2), updated_at = NOW()
		WHERE id = $1
	`, p.UserID, p.ID); err != nil {
		return Post{}, &apperr.TransactionError{Op: "append post id", Err: err}
	}

	row := tx.QueryRow(ctx, `
		INSERT INTO posts (id, user_id, sub_location, description, location, date, location_url, posted_at)
		VALUES ($1,$2,$3,$4,$5,$6::date,$7,$8)
		RETURNING created_at
	`, p.ID, p.UserID, p.SubLocation, p.Description, p.Location, p.Date, p.LocationURL, p.PostedAt)
	if err := row.Scan(&p.CreatedAt); err != nil {
		return Post{}, &apperr.TransactionError{Op: "insert post", Err: err}
	}

	for i, img := range p.Images {
		if _, err := tx.Exec(ctx, `
			INSERT INTO post_images (post_id, position, url)
			VALUES ($1,$2,$3)
		`, p.ID, i, img.URL); err != nil {
			return Post{}, &apperr.TransactionError{Op: "insert image", Err: err}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Post{}, &apperr.TransactionError{Op: "commit", Err: err}
	}
	committed = true
	return p, nil
}

// isSerializationFailure matches serialization_failure and deadlock_detected.
func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

// isInvalidID matches invalid_text_representation, raised when a non-uuid
// string is compared with a uuid column.
func isInvalidID(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "22P02"
}
