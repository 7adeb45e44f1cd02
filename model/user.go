package model

import "gorm.io/gorm"

// User 管理员账号 (用于切换地点等受保护接口)
type User struct {
	gorm.Model
	Username string `json:"username" gorm:"uniqueIndex;not null"` // 用户名唯一且不为空
	Password string `json:"-" gorm:"not null"`                    // bcrypt 哈希
	Email    string `json:"email"`
}
