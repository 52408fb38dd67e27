package usecase

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/example/oncoscan/internal/repository"
)

// UserStore defines the persistence operations needed by the account flow.
type UserStore interface {
	Create(ctx context.Context, u *repository.User) error
	FindByUsername(ctx context.Context, username string) (*repository.User, error)
}

const tokenTTL = 24 * time.Hour

// Accounts handles clinician signup and login.
type Accounts struct {
	users     UserStore
	jwtSecret []byte
	logger    *zap.Logger
	now       func() time.Time
}

// NewAccounts constructs a new accounts service.
func NewAccounts(users UserStore, jwtSecret string, logger *zap.Logger) *Accounts {
	return &Accounts{
		users:     users,
		jwtSecret: []byte(jwtSecret),
		logger:    logger.Named("accounts"),
		now:       time.Now,
	}
}

// Signup registers a clinician with a bcrypt-hashed password.
func (a *Accounts) Signup(ctx context.Context, username, password string) error {
	if _, err := a.users.FindByUsername(ctx, username); err == nil {
		return ErrUserExists
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	if err := a.users.Create(ctx, &repository.User{
		Username:     username,
		PasswordHash: string(hash),
		CreatedAt:    a.now().UTC(),
	}); err != nil {
		return err
	}

	a.logger.Info("clinician account created", zap.String("username", username))
	return nil
}

// Login verifies credentials and issues a signed bearer token whose subject
// is the clinician's username.
func (a *Accounts) Login(ctx context.Context, username, password string) (string, error) {
	user, err := a.users.FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", ErrInvalidCredentials
		}
		return "", err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", ErrInvalidCredentials
	}

	now := a.now()
	claims := jwt.RegisteredClaims{
		Subject:   user.Username,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.jwtSecret)
	if err != nil {
		return "", err
	}
	return signed, nil
}
