package points

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/vietddude/rewarder/internal/core/domain"
	"github.com/vietddude/rewarder/internal/jobs"
)

// DelayedQueue is the delayed, deduplicated set the scheduler parks refresh
// requests in. The redis client implements it.
type DelayedQueue interface {
	// ScheduleOnce adds a member unless it is already scheduled; the first
	// enqueue in a window wins.
	ScheduleOnce(ctx context.Context, member []byte, readyAt time.Time) (bool, error)

	// PopDue removes and returns every member that became ready.
	PopDue(ctx context.Context, now time.Time) ([][]byte, error)
}

// Enqueuer is the slice of the job transport the scheduler needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, job jobs.Job) (bool, error)
}

// Config holds scheduler tuning.
type Config struct {
	// Delay batches refreshes: a user with many deposits in the window
	// triggers one recomputation, not dozens.
	Delay time.Duration
	// PollInterval is how often due entries are promoted to the job queue.
	PollInterval time.Duration
}

// Scheduler defers points refreshes by a short window and deduplicates them
// per (user, category).
type Scheduler struct {
	delayed DelayedQueue
	queue   Enqueuer
	cfg     Config
	log     *slog.Logger
}

// NewScheduler creates a scheduler.
func NewScheduler(delayed DelayedQueue, queue Enqueuer, cfg Config, log *slog.Logger) *Scheduler {
	if cfg.Delay <= 0 {
		cfg.Delay = 10 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	return &Scheduler{delayed: delayed, queue: queue, cfg: cfg, log: log}
}

// refreshRequest is the delayed-set member. Identical requests marshal to
// identical members, which is what makes the dedup stable.
type refreshRequest struct {
	UserID    int64            `json:"user_id"`
	EventType domain.EventType `json:"event_type"`
}

// Schedule queues one deferred refresh for the user/category. Safe to call
// any number of times within the window.
func (s *Scheduler) Schedule(ctx context.Context, userID int64, t domain.EventType) error {
	member, err := json.Marshal(refreshRequest{UserID: userID, EventType: t})
	if err != nil {
		return err
	}
	_, err = s.delayed.ScheduleOnce(ctx, member, time.Now().Add(s.cfg.Delay))
	return err
}

// Run promotes due refresh requests onto the job queue until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.promoteDue(ctx, time.Now()); err != nil {
				s.log.Error("failed to promote due refreshes", "error", err)
			}
		}
	}
}

func (s *Scheduler) promoteDue(ctx context.Context, now time.Time) error {
	members, err := s.delayed.PopDue(ctx, now)
	if err != nil {
		return err
	}

	for _, member := range members {
		var req refreshRequest
		if err := json.Unmarshal(member, &req); err != nil {
			s.log.Error("malformed refresh request in delayed set", "member", string(member))
			continue
		}

		key := RefreshKey(req.UserID, req.EventType)
		job, err := jobs.New(jobs.TypeRefreshUserPoints, key, jobs.RefreshUserPointsPayload{
			UserID:    req.UserID,
			EventType: req.EventType,
		})
		if err != nil {
			return err
		}
		if _, err := s.queue.Enqueue(ctx, job); err != nil {
			return fmt.Errorf("failed to enqueue refresh for user %d: %w", req.UserID, err)
		}
	}
	return nil
}

// RefreshKey is the stable dedup key for one user/category refresh.
func RefreshKey(userID int64, t domain.EventType) string {
	return fmt.Sprintf("points:%d:%s", userID, t)
}
