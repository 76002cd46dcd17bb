// Package plans orchestrates the plan workflow: permission checks, edit locks, status rules and
// history, over the repositories.
package plans

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"

	appctx "github.com/Ramsey-B/fern/pkg/context"
	"github.com/Ramsey-B/fern/pkg/dates"
	"github.com/Ramsey-B/fern/pkg/events"
	"github.com/Ramsey-B/fern/pkg/expressions"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/permissions"
	"github.com/Ramsey-B/fern/pkg/planlock"
	"github.com/Ramsey-B/fern/pkg/status"
)

type PlanStore interface {
	List(ctx context.Context) ([]models.Plan, error)
	GetByID(ctx context.Context, id int64) (*models.Plan, error)
	GetForUpdate(ctx context.Context, id int64) (*models.Plan, error)
	Create(ctx context.Context, plan *models.Plan) error
	Update(ctx context.Context, plan *models.Plan, expectedVersion *int) error
	SetMilestoneStatus(ctx context.Context, planID int64, milestoneName string, status models.MilestoneStatus) (int, error)
	Delete(ctx context.Context, id int64) error
}

type PermissionStore interface {
	permissions.PermissionLookup
	ListByPlan(ctx context.Context, planID int64) ([]models.Permission, error)
	ListAll(ctx context.Context) (map[int64][]models.Permission, error)
	Create(ctx context.Context, permission *models.Permission) error
	UpdateLevel(ctx context.Context, planID int64, userID string, level models.PermissionLevel) (*models.Permission, error)
	Delete(ctx context.Context, planID int64, userID string) error
}

type MilestoneUserStore interface {
	ListByMilestone(ctx context.Context, planID int64, milestoneID int) ([]models.MilestoneUser, error)
	Create(ctx context.Context, assignment *models.MilestoneUser) error
	Delete(ctx context.Context, planID int64, milestoneID int, userID string) error
	DeleteByUser(ctx context.Context, planID int64, userID string) (int64, error)
	DeleteByMilestone(ctx context.Context, planID int64, milestoneID int) error
}

type HistoryStore interface {
	Append(ctx context.Context, entries ...models.HistoryEntry) error
	ListByPlan(ctx context.Context, planID int64) ([]models.HistoryEntry, error)
}

type UserStore interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
	ListAll(ctx context.Context) (map[string]models.User, error)
	Upsert(ctx context.Context, user *models.User) error
}

// TxRunner runs fn in one transaction carried by the ctx it is given.
type TxRunner func(ctx context.Context, fn func(ctx context.Context) error) error

type Dependencies struct {
	Plans          PlanStore
	Permissions    PermissionStore
	MilestoneUsers MilestoneUserStore
	History        HistoryStore
	Users          UserStore
	Tx             TxRunner
	Locks          *planlock.Coordinator
	Events         *events.Emitter
	Logger         ectologger.Logger
	// Now defaults to time.Now
	Now func() time.Time
}

type Service struct {
	plans          PlanStore
	permissions    PermissionStore
	milestoneUsers MilestoneUserStore
	history        HistoryStore
	users          UserStore
	tx             TxRunner
	locks          *planlock.Coordinator
	events         *events.Emitter
	resolver       *permissions.Resolver
	reconciler     *status.Reconciler
	evaluator      *expressions.Evaluator
	logger         ectologger.Logger
	now            func() time.Time
	// known maps user IDs already written to the directory to the name recorded for them
	known sync.Map
}

func NewService(deps Dependencies) *Service {
	s := &Service{
		plans:          deps.Plans,
		permissions:    deps.Permissions,
		milestoneUsers: deps.MilestoneUsers,
		history:        deps.History,
		users:          deps.Users,
		tx:             deps.Tx,
		locks:          deps.Locks,
		events:         deps.Events,
		resolver:       permissions.NewResolver(deps.Permissions, deps.Logger),
		evaluator:      expressions.NewEvaluator(),
		logger:         deps.Logger,
		now:            deps.Now,
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.tx == nil {
		s.tx = func(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }
	}
	s.reconciler = status.NewReconciler(s, deps.Logger)
	return s
}

func (s *Service) today() time.Time {
	return dates.Today(s.now())
}

// Caller is the authenticated user behind a request.
type Caller struct {
	UserID string
	Name   string
}

func callerFrom(ctx context.Context) (Caller, error) {
	userID := appctx.GetUserID(ctx)
	if userID == "" {
		return Caller{}, httperror.NewHTTPError(http.StatusUnauthorized, "authentication required")
	}
	return Caller{UserID: userID, Name: appctx.GetUserName(ctx)}, nil
}

func (c Caller) holder() planlock.Holder {
	return planlock.Holder{UserID: c.UserID, Name: c.Name}
}

// EnsureCaller records the caller in the user directory.
func (s *Service) EnsureCaller(ctx context.Context) error {
	caller, err := callerFrom(ctx)
	if err != nil {
		return err
	}
	user := &models.User{ID: caller.UserID}
	if caller.Name != caller.UserID {
		user.DisplayName = caller.Name
	}
	if err := s.users.Upsert(ctx, user); err != nil {
		return err
	}
	s.known.Store(caller.UserID, caller.Name)
	return nil
}

// caller resolves the authenticated user and makes sure the directory knows them, so anyone who
// has signed in can be added to a team. A failed write is logged and retried on the next call.
func (s *Service) caller(ctx context.Context) (Caller, error) {
	caller, err := callerFrom(ctx)
	if err != nil {
		return Caller{}, err
	}
	if name, ok := s.known.Load(caller.UserID); ok && name == caller.Name {
		return caller, nil
	}
	if err := s.EnsureCaller(ctx); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithField("user_id", caller.UserID).Warn("Failed to record user")
	}
	return caller, nil
}

// authorize loads the plan and checks op for the caller.
func (s *Service) authorize(ctx context.Context, planID int64, op permissions.Operation) (*models.Plan, Caller, permissions.Resolution, error) {
	caller, err := s.caller(ctx)
	if err != nil {
		return nil, Caller{}, permissions.Resolution{}, err
	}
	plan, err := s.plans.GetByID(ctx, planID)
	if err != nil {
		return nil, caller, permissions.Resolution{}, err
	}
	resolution, err := s.resolver.Authorize(ctx, *plan, caller.UserID, op)
	if err != nil {
		return nil, caller, resolution, err
	}
	return plan, caller, resolution, nil
}

// touchLock refreshes the caller's lock after a write. Not holding one is fine.
func (s *Service) touchLock(ctx context.Context, planID int64, userID string) {
	if s.locks == nil {
		return
	}
	lock, err := s.locks.Get(ctx, planID)
	if err != nil || lock == nil || lock.UserID != userID {
		return
	}
	if _, err := s.locks.Refresh(ctx, planID, userID); err != nil {
		s.logger.WithContext(ctx).WithError(err).WithField("plan_id", planID).Debug("Failed to refresh plan lock")
	}
}

func (s *Service) checkEditable(ctx context.Context, planID int64, userID string) error {
	if s.locks == nil {
		return nil
	}
	return s.locks.CheckEditable(ctx, planID, userID)
}

func badRequest(message string) error {
	return httperror.NewHTTPError(http.StatusBadRequest, message)
}
