// Package quota enforces submission rate and plan limits through a durable
// counter ledger.
package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/appforge/gateway/internal/models"
	"github.com/appforge/gateway/internal/store"
)

// ipHourlyLimit caps submissions per source IP per clock hour, independent
// of plan.
const ipHourlyLimit = 30

// Identity carries the caller identifiers a submission is accounted against.
// Empty fields skip their scope entirely.
type Identity struct {
	UserID   string
	DeviceID string
	IP       string
	Plan     models.Plan
}

// Decision is the outcome of a Consume call.
type Decision struct {
	Allowed  bool
	Reason   string // machine-readable rejection reason, empty when allowed
	Snapshot models.QuotaSnapshot
}

// ErrRejected signals the enclosing WithTx to roll back when consumption is
// denied; the rejection itself is carried in the Decision, not the error.
var ErrRejected = errors.New("quota rejected")

// Ledger checks and records submission quota consumption.
type Ledger struct {
	store  store.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewLedger creates a quota ledger backed by the given store.
func NewLedger(st store.Store, logger *slog.Logger) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		store:  st,
		logger: logger,
		now:    time.Now,
	}
}

// WeekBucket returns the weekly bucket key for t: the ISO date of the Monday
// that starts t's week, in UTC.
func WeekBucket(t time.Time) string {
	t = t.UTC()
	// time.Weekday numbers Sunday as 0; shift so Monday is 0.
	offset := (int(t.Weekday()) + 6) % 7
	monday := t.AddDate(0, 0, -offset)
	return monday.Format("2006-01-02")
}

// HourBucket returns the hourly bucket key for t in UTC.
func HourBucket(t time.Time) string {
	return t.UTC().Format("2006-01-02T15")
}

// Consume atomically checks all applicable limits and, if every check
// passes, increments every applicable counter. On rejection no counter
// changes. Check order: IP hourly rate first, then the weekly plan limit
// taken as max(user, device) against the plan ceiling.
func (l *Ledger) Consume(ctx context.Context, id Identity) (*Decision, error) {
	var decision *Decision

	err := l.store.WithTx(ctx, func(tx store.Store) error {
		d, err := l.ConsumeIn(ctx, tx, id)
		if err != nil {
			return err
		}
		decision = d
		if !d.Allowed {
			return ErrRejected
		}
		return nil
	})
	if err != nil && !errors.Is(err, ErrRejected) {
		return nil, fmt.Errorf("consuming quota: %w", err)
	}
	return decision, nil
}

// ConsumeIn runs the consumption checks and increments against an already
// open transactional store. It performs no rollback itself: callers invoke
// it inside WithTx and propagate ErrRejected when the decision is a
// rejection, so the rows touched here are undone together with whatever else
// the transaction did. This lets a caller commit quota consumption and its
// own writes as one unit.
func (l *Ledger) ConsumeIn(ctx context.Context, tx store.Store, id Identity) (*Decision, error) {
	now := l.now()
	week := WeekBucket(now)
	hour := HourBucket(now)

	quotas := tx.Quotas()

	// Touch rows first so the later counts read locked rows. The enclosing
	// rollback on rejection undoes any rows created here.
	if id.IP != "" {
		if err := quotas.Touch(ctx, models.ScopeIPHourly, id.IP, hour); err != nil {
			return nil, err
		}
	}
	if id.UserID != "" {
		if err := quotas.Touch(ctx, models.ScopeUser, id.UserID, week); err != nil {
			return nil, err
		}
	}
	if id.DeviceID != "" {
		if err := quotas.Touch(ctx, models.ScopeDevice, id.DeviceID, week); err != nil {
			return nil, err
		}
	}

	counts, err := l.readCounts(ctx, quotas, id, week, hour)
	if err != nil {
		return nil, err
	}

	limit, finite := id.Plan.WeeklyLimit()
	decision := &Decision{Snapshot: buildSnapshot(id.Plan, counts)}

	if id.IP != "" && counts.ip >= ipHourlyLimit {
		decision.Reason = models.QuotaReasonIPRateLimit
	} else if finite && max(counts.user, counts.device) >= limit {
		decision.Reason = models.QuotaReasonWeeklyLimit
	}
	if decision.Reason != "" {
		l.logger.Info("submission rejected by quota",
			"reason", decision.Reason,
			"plan", id.Plan,
			"used", decision.Snapshot.Used,
		)
		return decision, nil
	}

	if id.IP != "" {
		if err := quotas.Increment(ctx, models.ScopeIPHourly, id.IP, hour); err != nil {
			return nil, err
		}
		counts.ip++
	}
	if id.UserID != "" {
		if err := quotas.Increment(ctx, models.ScopeUser, id.UserID, week); err != nil {
			return nil, err
		}
		counts.user++
	}
	if id.DeviceID != "" {
		if err := quotas.Increment(ctx, models.ScopeDevice, id.DeviceID, week); err != nil {
			return nil, err
		}
		counts.device++
	}

	decision.Allowed = true
	decision.Snapshot = buildSnapshot(id.Plan, counts)
	return decision, nil
}

// Snapshot reports the caller's current quota standing without consuming
// anything.
func (l *Ledger) Snapshot(ctx context.Context, id Identity) (*models.QuotaSnapshot, error) {
	now := l.now()

	counts, err := l.readCounts(ctx, l.store.Quotas(), id, WeekBucket(now), HourBucket(now))
	if err != nil {
		return nil, fmt.Errorf("reading quota counters: %w", err)
	}

	snap := buildSnapshot(id.Plan, counts)
	return &snap, nil
}

type scopeCounts struct {
	user   int
	device int
	ip     int
}

func (l *Ledger) readCounts(ctx context.Context, quotas store.QuotaStore, id Identity, week, hour string) (scopeCounts, error) {
	var counts scopeCounts
	var err error

	if id.UserID != "" {
		if counts.user, err = quotas.Count(ctx, models.ScopeUser, id.UserID, week); err != nil {
			return counts, err
		}
	}
	if id.DeviceID != "" {
		if counts.device, err = quotas.Count(ctx, models.ScopeDevice, id.DeviceID, week); err != nil {
			return counts, err
		}
	}
	if id.IP != "" {
		if counts.ip, err = quotas.Count(ctx, models.ScopeIPHourly, id.IP, hour); err != nil {
			return counts, err
		}
	}
	return counts, nil
}

func buildSnapshot(plan models.Plan, counts scopeCounts) models.QuotaSnapshot {
	limit, finite := plan.WeeklyLimit()
	used := max(counts.user, counts.device)

	snap := models.QuotaSnapshot{
		Plan:        plan,
		Limit:       limit,
		Unlimited:   !finite,
		Used:        used,
		UserCount:   counts.user,
		DeviceCount: counts.device,
		IPHourCount: counts.ip,
	}
	if finite {
		snap.Remaining = max(limit-used, 0)
	}
	return snap
}
