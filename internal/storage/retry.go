package storage

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/mfgtest/orchestrator/internal/testplan"
)

// retryingRepository decorates a Repository, retrying operations that fail
// with ErrRepositoryRetryable up to maxAttempts times with exponential
// backoff between attempts (spec.md §4.I, §7: backoff doubles after every
// failed attempt). Fatal errors and context cancellation are never retried.
type retryingRepository struct {
	next        Repository
	maxAttempts int
	backoff     time.Duration
	logger      *slog.Logger
}

// WithRetry wraps repo so transient failures (ErrRepositoryRetryable) are
// retried up to maxAttempts times, sleeping backoff before the first retry
// and doubling the wait for each later one.
func WithRetry(repo Repository, maxAttempts int, backoff time.Duration, logger *slog.Logger) Repository {
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &retryingRepository{next: repo, maxAttempts: maxAttempts, backoff: backoff, logger: logger}
}

func (r *retryingRepository) call(ctx context.Context, op string, fn func() error) error {
	var err error

	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}

		if !errors.Is(err, ErrRepositoryRetryable) {
			return err
		}

		if ctx.Err() != nil {
			return err
		}

		if attempt == r.maxAttempts {
			break
		}

		r.logger.Warn("storage: retrying transient failure",
			slog.String("op", op),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()),
		)

		select {
		case <-ctx.Done():
			return err
		case <-time.After(r.backoff * time.Duration(1<<(attempt-1))):
		}
	}

	return err
}

func (r *retryingRepository) LoadTestPlan(ctx context.Context, projectID, stationID, planName string) ([]testplan.Item, error) {
	var out []testplan.Item

	err := r.call(ctx, "LoadTestPlan", func() error {
		var err error
		out, err = r.next.LoadTestPlan(ctx, projectID, stationID, planName)
		return err
	})

	return out, err
}

func (r *retryingRepository) CreateSession(ctx context.Context, sess Session) (Session, error) {
	var out Session

	err := r.call(ctx, "CreateSession", func() error {
		var err error
		out, err = r.next.CreateSession(ctx, sess)
		return err
	})

	return out, err
}

func (r *retryingRepository) AppendResult(ctx context.Context, result Result) error {
	return r.call(ctx, "AppendResult", func() error {
		return r.next.AppendResult(ctx, result)
	})
}

func (r *retryingRepository) FinalizeSession(ctx context.Context, id string, agg SessionAggregates) error {
	return r.call(ctx, "FinalizeSession", func() error {
		return r.next.FinalizeSession(ctx, id, agg)
	})
}

func (r *retryingRepository) GetSession(ctx context.Context, id string) (Session, error) {
	var out Session

	err := r.call(ctx, "GetSession", func() error {
		var err error
		out, err = r.next.GetSession(ctx, id)
		return err
	})

	return out, err
}

func (r *retryingRepository) ListSessions(ctx context.Context, filter SessionFilter) ([]Session, error) {
	var out []Session

	err := r.call(ctx, "ListSessions", func() error {
		var err error
		out, err = r.next.ListSessions(ctx, filter)
		return err
	})

	return out, err
}

func (r *retryingRepository) ListResults(ctx context.Context, sessionID string) ([]Result, error) {
	var out []Result

	err := r.call(ctx, "ListResults", func() error {
		var err error
		out, err = r.next.ListResults(ctx, sessionID)
		return err
	})

	return out, err
}

func (r *retryingRepository) ListInstruments(ctx context.Context) ([]InstrumentConfig, error) {
	var out []InstrumentConfig

	err := r.call(ctx, "ListInstruments", func() error {
		var err error
		out, err = r.next.ListInstruments(ctx)
		return err
	})

	return out, err
}

func (r *retryingRepository) DeleteSessionsBefore(ctx context.Context, cutoff time.Time, dryRun bool) (int, error) {
	var out int

	err := r.call(ctx, "DeleteSessionsBefore", func() error {
		var err error
		out, err = r.next.DeleteSessionsBefore(ctx, cutoff, dryRun)
		return err
	})

	return out, err
}
