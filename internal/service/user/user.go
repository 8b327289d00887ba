package user

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"

	"github.com/nkiryanov/pgtemplate/internal/apperrors"
	"github.com/nkiryanov/pgtemplate/internal/crud"
	"github.com/nkiryanov/pgtemplate/internal/models"
	"github.com/nkiryanov/pgtemplate/internal/query"
	"github.com/nkiryanov/pgtemplate/internal/repository"
	"github.com/nkiryanov/pgtemplate/internal/service/auth"
	"github.com/nkiryanov/pgtemplate/internal/service/validate"
)

type Config struct {
	// BcryptHasher if not set
	Hasher auth.PasswordHasher

	// query.DefaultMaxLimit paginator if not set
	Paginator *query.Paginator

	// Clock for password_updated_at, has to be the one token manager uses
	Now func() time.Time
}

type UserService struct {
	storage   *repository.Storage
	hasher    auth.PasswordHasher
	paginator *query.Paginator
	now       func() time.Time
}

func NewService(cfg Config, storage *repository.Storage) *UserService {
	hasher := cfg.Hasher
	if hasher == nil {
		hasher = auth.BcryptHasher{}
	}

	paginator := cfg.Paginator
	if paginator == nil {
		paginator = query.NewPaginator(query.DefaultMaxLimit)
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &UserService{
		storage:   storage,
		hasher:    hasher,
		paginator: paginator,
		now:       now,
	}
}

// NewUser is a user registered by admin
type NewUser struct {
	Username   string
	Password   string
	IsAdmin    bool
	IsActive   bool
	Attributes map[string]any
}

// ProfileUpdate is what user may change about himself; nil fields are left as is
type ProfileUpdate struct {
	Password   *string
	Attributes map[string]any
}

// AdminUpdate is what admin may change about any user; nil fields are left as is
type AdminUpdate struct {
	Password *string
	IsAdmin  *bool
	IsActive *bool
}

type ListResult struct {
	Items  []models.User
	Total  int64
	Bounds crud.DateBounds
}

// Register creates active user
func (s *UserService) Register(ctx context.Context, sess crud.Session, username string, password string) (models.User, error) {
	created, err := s.BulkCreate(ctx, sess, []NewUser{{Username: username, Password: password, IsActive: true}})
	if err != nil {
		var appErr *apperrors.Error
		if errors.As(err, &appErr) && errors.Is(err, apperrors.ErrBadCreateData) {
			return models.User{}, apperrors.BadSchema("users", appErr.Reason)
		}
		return models.User{}, err
	}

	return created[0], nil
}

// BulkCreate validates and creates all users or none of them.
// Invalid element is reported by its index.
func (s *UserService) BulkCreate(ctx context.Context, sess crud.Session, users []NewUser) ([]models.User, error) {
	now := s.clock()

	payloads := make([]any, 0, len(users))
	for i, u := range users {
		if err := validate.Username(u.Username); err != nil {
			return nil, apperrors.BadCreateData("users", i, err.Error())
		}
		if err := validate.Password(u.Password); err != nil {
			return nil, apperrors.BadCreateData("users", i, err.Error())
		}

		hash, err := s.hasher.Hash(u.Password)
		if err != nil {
			return nil, fmt.Errorf("can't use this as password, Err: %w", err)
		}

		payloads = append(payloads, models.UserCreate{
			Username:          u.Username,
			PasswordHash:      hash,
			PasswordUpdatedAt: now,
			IsAdmin:           u.IsAdmin,
			IsActive:          u.IsActive,
			Attributes:        u.Attributes,
		})
	}

	created, err := s.storage.Users.BulkCreateWithReturn(ctx, sess, payloads, true)
	if errors.Is(err, apperrors.ErrConflict) {
		return nil, &apperrors.Error{Kind: apperrors.ErrUserAlreadyExists, Err: err}
	}
	return created, err
}

// UpdateMe changes password and merges attributes of the user
// New password makes every token issued before stale
func (s *UserService) UpdateMe(ctx context.Context, sess crud.Session, user models.User, upd ProfileUpdate) (models.User, error) {
	fields, err := s.passwordFields(upd.Password)
	if err != nil {
		return user, err
	}

	if upd.Attributes != nil {
		attributes := maps.Clone(user.Attributes)
		if attributes == nil {
			attributes = make(map[string]any, len(upd.Attributes))
		}
		maps.Copy(attributes, upd.Attributes)
		fields["attributes"] = attributes
	}

	return s.patch(ctx, sess, user.ID, fields)
}

func (s *UserService) AdminPatch(ctx context.Context, sess crud.Session, username string, upd AdminUpdate) (models.User, error) {
	user, err := s.storage.Users.GetByUsername(ctx, sess, username)
	if err != nil {
		return user, err
	}

	fields, err := s.passwordFields(upd.Password)
	if err != nil {
		return user, err
	}
	fields["is_admin"] = upd.IsAdmin
	fields["is_active"] = upd.IsActive

	// Deactivated user loses every pair; committed together with the patch
	if upd.IsActive != nil && !*upd.IsActive {
		if _, err := s.storage.Tokens.DeleteForUser(ctx, sess, user.ID, false); err != nil {
			return user, err
		}
	}

	return s.patch(ctx, sess, user.ID, fields)
}

// EnsureAdmin creates active admin unless user with the username exists.
// Existing user is left as is.
func (s *UserService) EnsureAdmin(ctx context.Context, sess crud.Session, username string, password string) (bool, error) {
	existing, err := s.storage.Users.GetByUsernameOrNone(ctx, sess, username)
	if err != nil || existing != nil {
		return false, err
	}

	_, err = s.BulkCreate(ctx, sess, []NewUser{{Username: username, Password: password, IsAdmin: true, IsActive: true}})
	if err != nil {
		return false, err
	}
	return true, nil
}

// List returns a page of users, total count and created_at bounds of all matched users
func (s *UserService) List(ctx context.Context, sess crud.Session, f query.Filter, orderBy []string, page *query.Page) (ListResult, error) {
	var res ListResult

	where, err := s.storage.Users.Where(f)
	if err != nil {
		return res, err
	}
	order, err := s.storage.Users.OrderBy(orderBy)
	if err != nil {
		return res, err
	}

	sel := s.paginator.Paginate(query.Select{Where: where, OrderBy: order}, page)
	res.Items, err = s.storage.Users.GetMulti(ctx, sess, sel)
	if err != nil {
		return res, err
	}

	res.Total, err = s.storage.Users.Count(ctx, sess, where)
	if err != nil {
		return res, err
	}

	res.Bounds, err = s.storage.Users.DateBounds(ctx, sess, where)
	return res, err
}

// Delete removes users by ids with all their tokens
func (s *UserService) Delete(ctx context.Context, sess crud.Session, ids []uuid.UUID) (int64, error) {
	if len(ids) == 0 {
		return 0, apperrors.BadFilter("users", "ids", "at least one id required")
	}
	return s.storage.Users.DeleteByIDs(ctx, sess, ids, true)
}

func (s *UserService) Paginator() *query.Paginator {
	return s.paginator
}

// Ordering of users listing, to check requested tokens at the boundary
func (s *UserService) Ordering() *query.Ordering {
	return s.storage.Users.Ordering()
}

func (s *UserService) passwordFields(password *string) (map[string]any, error) {
	fields := make(map[string]any, 4)
	if password == nil {
		return fields, nil
	}

	if err := validate.Password(*password); err != nil {
		return nil, apperrors.BadSchema("users", err.Error())
	}
	hash, err := s.hasher.Hash(*password)
	if err != nil {
		return nil, fmt.Errorf("can't use this as password, Err: %w", err)
	}

	fields["password_hash"] = hash
	fields["password_updated_at"] = s.clock()
	return fields, nil
}

func (s *UserService) patch(ctx context.Context, sess crud.Session, id uuid.UUID, fields map[string]any) (models.User, error) {
	fields["updated_at"] = s.clock()
	return s.storage.Users.PatchByID(ctx, sess, id, fields, true)
}

// Same precision as token registry
func (s *UserService) clock() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}
