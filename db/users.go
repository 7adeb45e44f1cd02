package db

import (
	"context"
	"errors"

	"walkable-city/model"

	"gorm.io/gorm"
)

// UserStore 管理员账号表
type UserStore struct {
	db *gorm.DB
}

// NewUserStore 创建账号存储
func NewUserStore(db *gorm.DB) *UserStore {
	return &UserStore{db: db}
}

// FindUser 按用户名查找，不存在时返回 (nil, nil)
func (s *UserStore) FindUser(ctx context.Context, username string) (*model.User, error) {
	var u model.User
	err := s.db.WithContext(ctx).Where("username = ?", username).First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// EnsureUser 账号不存在时创建 (用于初始化管理员)
func (s *UserStore) EnsureUser(ctx context.Context, username, passwordHash string) error {
	u := model.User{Username: username, Password: passwordHash}
	return s.db.WithContext(ctx).Where(model.User{Username: username}).FirstOrCreate(&u).Error
}
