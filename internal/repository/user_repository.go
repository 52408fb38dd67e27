package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
)

// User is a clinician account.
type User struct {
	ID           uint      `gorm:"primaryKey"`
	Username     string    `gorm:"column:username;uniqueIndex;size:64"`
	PasswordHash string    `gorm:"column:password_hash;size:128"`
	CreatedAt    time.Time `gorm:"column:created_at"`
}

// TableName overrides the default table name.
func (User) TableName() string {
	return "users"
}

// UserRepository provides persistence for clinician accounts.
type UserRepository struct {
	db *gorm.DB
}

// NewUserRepository creates a new repository instance.
func NewUserRepository(db *gorm.DB) *UserRepository {
	return &UserRepository{db: db}
}

// AutoMigrate ensures the schema is available.
func (r *UserRepository) AutoMigrate(ctx context.Context) error {
	return r.db.WithContext(ctx).AutoMigrate(&User{})
}

// Create persists a new clinician account.
func (r *UserRepository) Create(ctx context.Context, u *User) error {
	return r.db.WithContext(ctx).Create(u).Error
}

// FindByUsername retrieves an account by its exact username.
func (r *UserRepository) FindByUsername(ctx context.Context, username string) (*User, error) {
	var u User
	if err := r.db.WithContext(ctx).First(&u, "username = ?", username).Error; err != nil {
		return nil, err
	}
	return &u, nil
}
