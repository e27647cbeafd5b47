package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	identity "github.com/goliatone/go-identity"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ErrFirstActivityNotFound is returned by Find for users never seen.
var ErrFirstActivityNotFound = goerrors.New("first activity not found", goerrors.CategoryNotFound).
	WithTextCode("FIRST_ACTIVITY_NOT_FOUND").
	WithCode(goerrors.CodeNotFound)

// FirstActivityModel is the Bun model for the first activity of a user.
type FirstActivityModel struct {
	bun.BaseModel `bun:"table:playbook"`

	ID        uuid.UUID `bun:"id,pk,type:uuid"`
	UserID    string    `bun:"user_id,notnull,unique"`
	Email     string    `bun:"email"`
	Provider  string    `bun:"provider"`
	CreatedAt time.Time `bun:"created_at,notnull"`
}

// FirstActivity is the record stored for a user.
type FirstActivity struct {
	ID        string
	UserID    string
	Email     string
	Provider  string
	CreatedAt time.Time
}

// FirstActivityRepository implements identity.FirstActivityRecorder using
// Bun. Only the first record per user is kept.
type FirstActivityRepository struct {
	db *bun.DB
}

var _ identity.FirstActivityRecorder = (*FirstActivityRepository)(nil)

// NewFirstActivityRepository creates a new repository.
func NewFirstActivityRepository(db *bun.DB) *FirstActivityRepository {
	return &FirstActivityRepository{db: db}
}

// CreateSchema creates the playbook table if it does not exist.
func (r *FirstActivityRepository) CreateSchema(ctx context.Context) error {
	_, err := r.db.NewCreateTable().
		Model((*FirstActivityModel)(nil)).
		IfNotExists().
		Exec(ctx)
	return err
}

// RecordFirstActivity implements identity.FirstActivityRecorder. Repeated
// calls for the same user keep the original row.
func (r *FirstActivityRepository) RecordFirstActivity(ctx context.Context, user *identity.User, provider string, at time.Time) error {
	if user == nil || strings.TrimSpace(user.ID) == "" {
		return goerrors.New("first activity requires a user id", goerrors.CategoryBadInput).
			WithTextCode("FIRST_ACTIVITY_INVALID_USER").
			WithCode(goerrors.CodeBadRequest)
	}

	if at.IsZero() {
		at = time.Now()
	}

	model := &FirstActivityModel{
		ID:        uuid.New(),
		UserID:    user.ID,
		Email:     user.Email,
		Provider:  provider,
		CreatedAt: at.UTC(),
	}

	_, err := r.db.NewInsert().
		Model(model).
		On("CONFLICT (user_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to record first activity").
			WithMetadata(map[string]any{"user_id": user.ID})
	}
	return nil
}

// Find returns the first activity recorded for userID.
func (r *FirstActivityRepository) Find(ctx context.Context, userID string) (*FirstActivity, error) {
	var model FirstActivityModel
	err := r.db.NewSelect().
		Model(&model).
		Where("user_id = ?", userID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrFirstActivityNotFound.Clone().WithMetadata(map[string]any{"user_id": userID})
		}
		return nil, err
	}
	return toFirstActivity(&model), nil
}

func toFirstActivity(m *FirstActivityModel) *FirstActivity {
	return &FirstActivity{
		ID:        m.ID.String(),
		UserID:    m.UserID,
		Email:     m.Email,
		Provider:  m.Provider,
		CreatedAt: m.CreatedAt,
	}
}
