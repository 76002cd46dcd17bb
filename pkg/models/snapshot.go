package models

import "time"

// Snapshot is the point-in-time view a scheduled task runs against.
type Snapshot struct {
	Plans       []Plan
	Permissions map[int64][]Permission
	Users       map[string]User
	TakenAt     time.Time
}

func (s Snapshot) PermissionsFor(planID int64) []Permission {
	if s.Permissions == nil {
		return nil
	}
	return s.Permissions[planID]
}
