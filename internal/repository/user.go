package repository

import (
	"context"
	"errors"
	"strings"

	"messenger/internal/cache"
	"messenger/internal/models"
	"messenger/internal/observability"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// ErrDuplicateUser is returned by Create when the username is taken.
var ErrDuplicateUser = errors.New("user already exists")

// PostgreSQL SQLSTATE for unique_violation.
const uniqueViolation = "23505"

// UserRepository defines persistence operations for users.
type UserRepository interface {
	GetUsername(ctx context.Context, id uint) (string, error)
	ListOthers(ctx context.Context, userID uint) ([]models.UserSummary, error)
	CountExisting(ctx context.Context, ids []uint) (int64, error)
	Create(ctx context.Context, user *models.User) error
}

type userRepository struct {
	db    *gorm.DB
	redis *redis.Client
}

// NewUserRepository returns a new UserRepository implementation. rdb may be
// nil, in which case lookups always hit the database.
func NewUserRepository(db *gorm.DB, rdb *redis.Client) UserRepository {
	return &userRepository{db: db, redis: rdb}
}

// GetUsername returns the display name of user id, served from Redis when cached.
func (r *userRepository) GetUsername(ctx context.Context, id uint) (string, error) {
	var username string
	err := cache.CacheAside(ctx, r.redis, cache.UsernameKey(id), &username, cache.UsernameTTL, func() error {
		defer observability.TrackQuery("select", "users")()
		var user models.User
		if err := r.db.WithContext(ctx).Select("id", "username").First(&user, id).Error; err != nil {
			return err
		}
		username = user.Username
		return nil
	})
	return username, err
}

// ListOthers returns every user except userID, ordered by username.
func (r *userRepository) ListOthers(ctx context.Context, userID uint) ([]models.UserSummary, error) {
	defer observability.TrackQuery("select", "users")()
	users := []models.UserSummary{}
	err := r.db.WithContext(ctx).
		Model(&models.User{}).
		Select("id", "username").
		Where("id <> ?", userID).
		Order("username ASC").
		Scan(&users).Error
	return users, err
}

// CountExisting returns how many of ids name existing users. ids must be distinct.
func (r *userRepository) CountExisting(ctx context.Context, ids []uint) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	defer observability.TrackQuery("count", "users")()
	var count int64
	err := r.db.WithContext(ctx).Model(&models.User{}).Where("id IN ?", ids).Count(&count).Error
	return count, err
}

func (r *userRepository) Create(ctx context.Context, user *models.User) error {
	defer observability.TrackQuery("insert", "users")()
	if err := r.db.WithContext(ctx).Create(user).Error; err != nil {
		if isUniqueConstraintError(err) {
			return ErrDuplicateUser
		}
		return err
	}
	return nil
}

// isUniqueConstraintError checks if a DB error is a unique constraint violation.
func isUniqueConstraintError(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolation
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, uniqueViolation)
}
