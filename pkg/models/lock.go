package models

import (
	"math"
	"time"
)

// PlanLock is the active edit lock on a plan.
type PlanLock struct {
	PlanID           int64     `json:"plan_id"`
	UserID           string    `json:"user_id"`
	LockedBy         string    `json:"locked_by"`
	LastActivity     time.Time `json:"last_activity"`
	ExpiresAt        time.Time `json:"expires_at"`
	MinutesRemaining int       `json:"minutes_remaining"`
}

// NewPlanLock derives expiry and minutes remaining from the last activity and TTL.
func NewPlanLock(planID int64, userID, lockedBy string, lastActivity time.Time, ttl time.Duration, now time.Time) PlanLock {
	expiresAt := lastActivity.Add(ttl)
	return PlanLock{
		PlanID:           planID,
		UserID:           userID,
		LockedBy:         lockedBy,
		LastActivity:     lastActivity,
		ExpiresAt:        expiresAt,
		MinutesRemaining: MinutesRemaining(ttl, now.Sub(lastActivity)),
	}
}

// MinutesRemaining is TTL minus elapsed, rounded up to whole minutes. Zero or less means expired.
func MinutesRemaining(ttl, elapsed time.Duration) int {
	remaining := ttl - elapsed
	if remaining <= 0 {
		return int(math.Floor(remaining.Minutes()))
	}
	return int(math.Ceil(remaining.Minutes()))
}

func (l PlanLock) IsActive() bool {
	return l.MinutesRemaining > 0
}
