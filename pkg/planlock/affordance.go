package planlock

import (
	"fmt"

	"github.com/Ramsey-B/fern/pkg/models"
)

// Affordance is the lock-derived UI state for one viewer of a plan.
type Affordance struct {
	Locked       bool   `json:"locked"`
	HeldByViewer bool   `json:"held_by_viewer"`
	BadgeText    string `json:"badge_text,omitempty"`
	EditDisabled bool   `json:"edit_disabled"`
	CanTakeover  bool   `json:"can_takeover"`
}

// AffordanceFor derives the badge and edit-button state. canEdit is whether the viewer's
// permission allows editing at all; an expired lock counts as no lock.
func AffordanceFor(lock *models.PlanLock, viewerID string, canEdit bool) Affordance {
	if lock == nil || !lock.IsActive() {
		return Affordance{EditDisabled: !canEdit}
	}

	if lock.UserID == viewerID {
		return Affordance{
			Locked:       true,
			HeldByViewer: true,
			BadgeText:    fmt.Sprintf("You are editing (%d min left)", lock.MinutesRemaining),
			EditDisabled: !canEdit,
		}
	}

	name := lock.LockedBy
	if name == "" {
		name = lock.UserID
	}
	return Affordance{
		Locked:       true,
		BadgeText:    fmt.Sprintf("Locked by %s (%d min left)", name, lock.MinutesRemaining),
		EditDisabled: true,
		CanTakeover:  canEdit,
	}
}
