// Package planlock serializes edit sessions on a plan with an expiring, transferable lock.
package planlock

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/Ramsey-B/fern/pkg/metrics"
	"github.com/Ramsey-B/fern/pkg/models"
)

// DefaultTTL is how long a lock survives without activity.
const DefaultTTL = 15 * time.Minute

var (
	// ErrLockHeld means another user holds an active lock on the plan.
	ErrLockHeld = errors.New("plan is locked by another user")
	// ErrLockNotHeld means the caller does not hold the lock they tried to refresh.
	ErrLockNotHeld = errors.New("plan lock not held")
)

// Store is the atomic lock storage. The redis PlanLockStore implements it.
type Store interface {
	Acquire(ctx context.Context, planID int64, userID, lockedBy string, now time.Time, ttl time.Duration, force bool) (models.PlanLock, *models.PlanLock, bool, error)
	Refresh(ctx context.Context, planID int64, userID string, now time.Time, ttl time.Duration) (models.PlanLock, bool, error)
	Release(ctx context.Context, planID int64, userID string) (bool, error)
	Get(ctx context.Context, planID int64, now time.Time, ttl time.Duration) (*models.PlanLock, error)
	List(ctx context.Context, now time.Time, ttl time.Duration) ([]models.PlanLock, error)
}

// TakeoverListener is told when a lock was forcibly transferred.
type TakeoverListener interface {
	LockTakenOver(ctx context.Context, lock models.PlanLock, previous models.PlanLock) error
}

type Holder struct {
	UserID string
	Name   string
}

type Option func(*Coordinator)

func WithClock(clock func() time.Time) Option {
	return func(c *Coordinator) { c.clock = clock }
}

func WithTakeoverListener(listener TakeoverListener) Option {
	return func(c *Coordinator) { c.listener = listener }
}

type Coordinator struct {
	store    Store
	ttl      time.Duration
	clock    func() time.Time
	listener TakeoverListener
	logger   ectologger.Logger
}

func NewCoordinator(store Store, ttl time.Duration, logger ectologger.Logger, opts ...Option) *Coordinator {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Coordinator{
		store:  store,
		ttl:    ttl,
		clock:  time.Now,
		logger: logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Coordinator) TTL() time.Duration {
	return c.ttl
}

// Acquire grants or refreshes the caller's lock. An active lock held by someone else is a
// conflict carrying the holder and time remaining.
func (c *Coordinator) Acquire(ctx context.Context, planID int64, holder Holder) (*models.PlanLock, error) {
	if holder.UserID == "" {
		return nil, httperror.NewHTTPError(http.StatusBadRequest, "user id is required to lock a plan")
	}

	lock, _, granted, err := c.store.Acquire(ctx, planID, holder.UserID, holder.Name, c.clock(), c.ttl, false)
	if err != nil {
		c.logger.WithContext(ctx).WithError(err).WithField("plan_id", planID).Error("Failed to acquire plan lock")
		return nil, err
	}

	if !granted {
		metrics.LockConflictsTotal.Inc()
		c.logger.WithContext(ctx).WithFields(map[string]any{
			"plan_id":   planID,
			"user_id":   holder.UserID,
			"locked_by": lock.UserID,
		}).Debug("Plan lock conflict")
		return nil, ConflictError(lock)
	}

	metrics.LockAcquisitionsTotal.Inc()
	return &lock, nil
}

// Refresh extends the caller's active lock.
func (c *Coordinator) Refresh(ctx context.Context, planID int64, userID string) (*models.PlanLock, error) {
	lock, ok, err := c.store.Refresh(ctx, planID, userID, c.clock(), c.ttl)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, httperror.WrapError(http.StatusConflict, ErrLockNotHeld)
	}
	return &lock, nil
}

// Takeover forcibly transfers the lock to holder. confirmed must be true; the previous holder
// learns of it only when their next poll shows someone else holding the lock.
func (c *Coordinator) Takeover(ctx context.Context, planID int64, holder Holder, confirmed bool) (*models.PlanLock, *models.PlanLock, error) {
	if !confirmed {
		return nil, nil, httperror.NewHTTPError(http.StatusBadRequest, "lock takeover must be confirmed")
	}
	if holder.UserID == "" {
		return nil, nil, httperror.NewHTTPError(http.StatusBadRequest, "user id is required to lock a plan")
	}

	lock, previous, _, err := c.store.Acquire(ctx, planID, holder.UserID, holder.Name, c.clock(), c.ttl, true)
	if err != nil {
		c.logger.WithContext(ctx).WithError(err).WithField("plan_id", planID).Error("Failed to take over plan lock")
		return nil, nil, err
	}

	metrics.LockAcquisitionsTotal.Inc()
	if previous == nil {
		return &lock, nil, nil
	}

	metrics.LockTakeoversTotal.Inc()
	c.logger.WithContext(ctx).WithFields(map[string]any{
		"plan_id":       planID,
		"user_id":       holder.UserID,
		"previous_user": previous.UserID,
	}).Info("Plan lock taken over")

	if c.listener != nil {
		if err := c.listener.LockTakenOver(ctx, lock, *previous); err != nil {
			c.logger.WithContext(ctx).WithError(err).WithField("plan_id", planID).Warn("Failed to publish lock takeover")
		}
	}

	return &lock, previous, nil
}

// Release drops the caller's lock. Releasing a lock you do not hold is a no-op.
func (c *Coordinator) Release(ctx context.Context, planID int64, userID string) error {
	released, err := c.store.Release(ctx, planID, userID)
	if err != nil {
		return err
	}
	if !released {
		c.logger.WithContext(ctx).WithFields(map[string]any{"plan_id": planID, "user_id": userID}).Debug("Release of a lock not held")
	}
	return nil
}

// Get returns the plan's active lock or nil.
func (c *Coordinator) Get(ctx context.Context, planID int64) (*models.PlanLock, error) {
	return c.store.Get(ctx, planID, c.clock(), c.ttl)
}

func (c *Coordinator) ListActive(ctx context.Context) ([]models.PlanLock, error) {
	return c.store.List(ctx, c.clock(), c.ttl)
}

// CheckEditable fails with a conflict when someone other than userID holds an active lock.
func (c *Coordinator) CheckEditable(ctx context.Context, planID int64, userID string) error {
	lock, err := c.Get(ctx, planID)
	if err != nil {
		return err
	}
	if lock != nil && lock.UserID != userID {
		return ConflictError(*lock)
	}
	return nil
}

// ConflictError is the 409 returned when lock is held by someone else.
func ConflictError(lock models.PlanLock) error {
	return httperror.NewHTTPError(http.StatusConflict, fmt.Sprintf("%s: %s (%d min left)", ErrLockHeld.Error(), lock.LockedBy, lock.MinutesRemaining)).
		AddMetaValue("locked_by", lock.LockedBy).
		AddMetaValue("user_id", lock.UserID).
		AddMetaValue("minutes_remaining", strconv.Itoa(lock.MinutesRemaining))
}

// IsConflict reports whether err is a lock conflict.
func IsConflict(err error) bool {
	return err != nil && httperror.IsHTTPError(err) && httperror.GetStatusCode(err) == http.StatusConflict
}
