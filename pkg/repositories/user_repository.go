package repositories

import (
	"context"
	"database/sql"
	"errors"

	"github.com/Gobusters/ectologger"
	"github.com/huandu/go-sqlbuilder"

	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/tracing"
)

const usersTable = "users"

var userStruct = database.NewStruct(new(models.User))

type UserRepository struct {
	*Repository
}

func NewUserRepository(db database.DB, logger ectologger.Logger) *UserRepository {
	return &UserRepository{
		Repository: NewRepository(db, logger),
	}
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	ctx, span := tracing.StartSpan(ctx, "UserRepository.GetByID")
	defer span.End()

	sb := userStruct.SelectFrom(usersTable)
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var user models.User
	err := r.db.Conn(ctx).GetContext(ctx, &user, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, NotFound("user %s does not exist", id)
	}
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("user_id", id).Error("failed to get user")
		return nil, internal("failed to get user")
	}
	return &user, nil
}

// ListAll returns the directory keyed by user id
func (r *UserRepository) ListAll(ctx context.Context) (map[string]models.User, error) {
	ctx, span := tracing.StartSpan(ctx, "UserRepository.ListAll")
	defer span.End()

	sb := userStruct.SelectFrom(usersTable)

	query, args := sb.Build()
	var users []models.User
	if err := r.db.Conn(ctx).SelectContext(ctx, &users, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).Error("failed to list users")
		return nil, internal("failed to list users")
	}

	byID := make(map[string]models.User, len(users))
	for _, u := range users {
		byID[u.ID] = u
	}
	return byID, nil
}

// Upsert records an authenticated user. Empty fields never overwrite known ones.
func (r *UserRepository) Upsert(ctx context.Context, user *models.User) error {
	ctx, span := tracing.StartSpan(ctx, "UserRepository.Upsert")
	defer span.End()

	ib := database.NewInsertBuilder()
	ib.InsertInto(usersTable).
		Cols("id", "display_name", "email", "created_at").
		Values(user.ID, user.DisplayName, user.Email, sqlbuilder.Raw("NOW()"))
	ib.SQL("ON CONFLICT (id) DO UPDATE SET " +
		"display_name = COALESCE(NULLIF(EXCLUDED.display_name, ''), users.display_name), " +
		"email = COALESCE(NULLIF(EXCLUDED.email, ''), users.email)")
	ib.Returning("display_name", "email", "created_at")

	query, args := ib.Build()
	err := r.db.Conn(ctx).QueryRowxContext(ctx, query, args...).Scan(&user.DisplayName, &user.Email, &user.CreatedAt)
	if err != nil {
		r.logger.WithContext(ctx).WithError(err).WithField("user_id", user.ID).Error("failed to upsert user")
		return internal("failed to upsert user")
	}
	return nil
}
