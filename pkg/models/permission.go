package models

import "time"

// PermissionLevel governs mutation rights on a plan.
type PermissionLevel string

const (
	PermissionOwner  PermissionLevel = "owner"
	PermissionEditor PermissionLevel = "editor"
	PermissionViewer PermissionLevel = "viewer"
)

func (l PermissionLevel) IsValid() bool {
	switch l {
	case PermissionOwner, PermissionEditor, PermissionViewer:
		return true
	}
	return false
}

// Permission is one (plan, user) -> level row. At most one row exists per pair.
type Permission struct {
	PlanID    int64           `db:"plan_id" json:"plan_id"`
	UserID    string          `db:"user_id" json:"user_id"`
	Level     PermissionLevel `db:"level" json:"level"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}

// TableName returns the database table name
func (Permission) TableName() string {
	return "plan_permissions"
}

// MilestoneUser assigns a plan team member to one milestone.
type MilestoneUser struct {
	PlanID      int64     `db:"plan_id" json:"plan_id"`
	MilestoneID int       `db:"milestone_id" json:"milestone_id"`
	UserID      string    `db:"user_id" json:"user_id"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// TableName returns the database table name
func (MilestoneUser) TableName() string {
	return "milestone_users"
}

type User struct {
	ID          string    `db:"id" json:"id"`
	DisplayName string    `db:"display_name" json:"display_name"`
	Email       string    `db:"email" json:"email"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// TableName returns the database table name
func (User) TableName() string {
	return "users"
}
