package plans_test

import (
	"context"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/Gobusters/ectoerror/httperror"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
)

// memory backs every store interface with maps.
type memory struct {
	mu          sync.Mutex
	nextPlanID  int64
	plans       map[int64]models.Plan
	permissions []models.Permission
	assignments []models.MilestoneUser
	history     []models.HistoryEntry
	users       map[string]models.User
}

func newMemory() *memory {
	return &memory{
		plans: map[int64]models.Plan{},
		users: map[string]models.User{},
	}
}

func clonePlan(p models.Plan) models.Plan {
	fields := models.NewPlanFields()
	for k, v := range p.Fields.Data.Metadata {
		fields.Metadata[k] = v
	}
	for k, v := range p.Fields.Data.Milestones {
		fields.Milestones[k] = v
	}
	p.Fields = database.NewJSONB(fields)
	return p
}

type memPlans struct{ *memory }

func (m memPlans) List(_ context.Context) ([]models.Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	plans := make([]models.Plan, 0, len(m.plans))
	for _, p := range m.plans {
		plans = append(plans, clonePlan(p))
	}
	sort.Slice(plans, func(i, j int) bool { return plans[i].ID < plans[j].ID })
	return plans, nil
}

func (m memPlans) GetByID(_ context.Context, id int64) (*models.Plan, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.plans[id]
	if !ok {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "plan %d not found", id)
	}
	c := clonePlan(p)
	return &c, nil
}

func (m memPlans) GetForUpdate(ctx context.Context, id int64) (*models.Plan, error) {
	return m.GetByID(ctx, id)
}

func (m memPlans) Create(_ context.Context, plan *models.Plan) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextPlanID++
	plan.ID = m.nextPlanID
	plan.Version = 1
	m.plans[plan.ID] = clonePlan(*plan)
	return nil
}

func (m memPlans) Update(_ context.Context, plan *models.Plan, expectedVersion *int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.plans[plan.ID]
	if !ok {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "plan %d not found", plan.ID)
	}
	if expectedVersion != nil && *expectedVersion != stored.Version {
		return httperror.NewHTTPErrorf(http.StatusPreconditionFailed, "plan %d has been modified", plan.ID)
	}
	plan.Version = stored.Version + 1
	m.plans[plan.ID] = clonePlan(*plan)
	return nil
}

func (m memPlans) SetMilestoneStatus(_ context.Context, planID int64, name string, status models.MilestoneStatus) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.plans[planID]
	if !ok {
		return 0, httperror.NewHTTPErrorf(http.StatusNotFound, "plan %d not found", planID)
	}
	stored = clonePlan(stored)
	milestone, ok := stored.Fields.Data.Milestones[name]
	if !ok {
		return 0, httperror.NewHTTPErrorf(http.StatusNotFound, "milestone '%s' not found", name)
	}
	milestone.Status = status
	stored.Fields.Data.Milestones[name] = milestone
	stored.Version++
	m.plans[planID] = stored
	return stored.Version, nil
}

func (m memPlans) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.plans[id]; !ok {
		return httperror.NewHTTPErrorf(http.StatusNotFound, "plan %d not found", id)
	}
	delete(m.plans, id)
	return nil
}

type memPermissions struct{ *memory }

func (m memPermissions) GetPermission(_ context.Context, planID int64, userID string) (*models.Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.permissions {
		if p.PlanID == planID && p.UserID == userID {
			row := p
			return &row, nil
		}
	}
	return nil, nil
}

func (m memPermissions) ListByPlan(_ context.Context, planID int64) ([]models.Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var rows []models.Permission
	for _, p := range m.permissions {
		if p.PlanID == planID {
			rows = append(rows, p)
		}
	}
	return rows, nil
}

func (m memPermissions) ListAll(_ context.Context) (map[int64][]models.Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	table := map[int64][]models.Permission{}
	for _, p := range m.permissions {
		table[p.PlanID] = append(table[p.PlanID], p)
	}
	return table, nil
}

func (m memPermissions) Create(_ context.Context, permission *models.Permission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.permissions {
		if p.PlanID == permission.PlanID && p.UserID == permission.UserID {
			return httperror.NewHTTPError(http.StatusConflict, "permission already exists")
		}
	}
	m.permissions = append(m.permissions, *permission)
	return nil
}

func (m memPermissions) UpdateLevel(_ context.Context, planID int64, userID string, level models.PermissionLevel) (*models.Permission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, p := range m.permissions {
		if p.PlanID == planID && p.UserID == userID {
			m.permissions[i].Level = level
			row := m.permissions[i]
			return &row, nil
		}
	}
	return nil, httperror.NewHTTPError(http.StatusNotFound, "permission not found")
}

func (m memPermissions) Delete(_ context.Context, planID int64, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, p := range m.permissions {
		if p.PlanID == planID && p.UserID == userID {
			m.permissions = append(m.permissions[:i], m.permissions[i+1:]...)
			return nil
		}
	}
	return httperror.NewHTTPError(http.StatusNotFound, "permission not found")
}

type memMilestoneUsers struct{ *memory }

func (m memMilestoneUsers) ListByMilestone(_ context.Context, planID int64, milestoneID int) ([]models.MilestoneUser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var rows []models.MilestoneUser
	for _, a := range m.assignments {
		if a.PlanID == planID && a.MilestoneID == milestoneID {
			rows = append(rows, a)
		}
	}
	return rows, nil
}

func (m memMilestoneUsers) Create(_ context.Context, assignment *models.MilestoneUser) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.assignments {
		if a.PlanID == assignment.PlanID && a.MilestoneID == assignment.MilestoneID && a.UserID == assignment.UserID {
			return httperror.NewHTTPError(http.StatusConflict, "already assigned")
		}
	}
	m.assignments = append(m.assignments, *assignment)
	return nil
}

func (m memMilestoneUsers) Delete(_ context.Context, planID int64, milestoneID int, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, a := range m.assignments {
		if a.PlanID == planID && a.MilestoneID == milestoneID && a.UserID == userID {
			m.assignments = append(m.assignments[:i], m.assignments[i+1:]...)
			return nil
		}
	}
	return httperror.NewHTTPError(http.StatusNotFound, "assignment not found")
}

func (m memMilestoneUsers) deleteWhere(match func(models.MilestoneUser) bool) int64 {
	kept := m.assignments[:0]
	var removed int64
	for _, a := range m.assignments {
		if match(a) {
			removed++
			continue
		}
		kept = append(kept, a)
	}
	m.assignments = kept
	return removed
}

func (m memMilestoneUsers) DeleteByUser(_ context.Context, planID int64, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteWhere(func(a models.MilestoneUser) bool { return a.PlanID == planID && a.UserID == userID }), nil
}

func (m memMilestoneUsers) DeleteByMilestone(_ context.Context, planID int64, milestoneID int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deleteWhere(func(a models.MilestoneUser) bool { return a.PlanID == planID && a.MilestoneID == milestoneID })
	return nil
}

type memHistory struct{ *memory }

func (m memHistory) Append(_ context.Context, entries ...models.HistoryEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range entries {
		e.ID = int64(len(m.history) + 1)
		m.history = append(m.history, e)
	}
	return nil
}

func (m memHistory) ListByPlan(_ context.Context, planID int64) ([]models.HistoryEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var entries []models.HistoryEntry
	for i := len(m.history) - 1; i >= 0; i-- {
		if m.history[i].PlanID == planID {
			entries = append(entries, m.history[i])
		}
	}
	return entries, nil
}

type memUsers struct{ *memory }

func (m memUsers) GetByID(_ context.Context, id string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, httperror.NewHTTPErrorf(http.StatusNotFound, "user '%s' not found", id)
	}
	return &u, nil
}

func (m memUsers) ListAll(_ context.Context) (map[string]models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	users := make(map[string]models.User, len(m.users))
	for k, v := range m.users {
		users[k] = v
	}
	return users, nil
}

func (m memUsers) Upsert(_ context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.users[user.ID]
	if ok && user.DisplayName == "" {
		user.DisplayName = existing.DisplayName
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}
	m.users[user.ID] = *user
	return nil
}
