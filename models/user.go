package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/procure_backend/config"
	"bitbucket.org/mmdatafocus/procure_backend/utils"
)

type User struct {
	ID        int       `gorm:"primary_key" json:"id"`
	Username  string    `gorm:"size:100;not null;unique" json:"username" binding:"required"`
	Name      string    `gorm:"size:100;not null" json:"name" binding:"required"`
	Email     *string   `gorm:"size:100;unique" json:"email"`
	Phone     string    `gorm:"size:20" json:"phone"`
	Password  string    `gorm:"size:255;not null" json:"-"`
	IsActive  *bool     `gorm:"not null" json:"is_active"`
	Role      UserRole  `gorm:"type:enum('USER','MANAGER','ADMIN');default:USER" json:"role"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewUser struct {
	Username string   `json:"username" binding:"required"`
	Name     string   `json:"name" binding:"required"`
	Email    string   `json:"email"`
	Phone    string   `json:"phone"`
	Password string   `json:"password" binding:"required"`
	IsActive *bool    `json:"is_active"`
	Role     UserRole `json:"role"`
}

/*
caches:
	User:$id
*/

func (user User) RemoveInstanceRedis() error {
	return config.RemoveRedisKey("User:" + fmt.Sprint(user.ID))
}

func CreateUser(ctx context.Context, input *NewUser) (*User, error) {
	db := config.GetDB()

	hashed, err := utils.HashPassword(input.Password)
	if err != nil {
		return nil, err
	}

	role := input.Role
	if role == "" {
		role = UserRoleUser
	}
	isActive := input.IsActive
	if isActive == nil {
		t := true
		isActive = &t
	}

	user := User{
		Username: input.Username,
		Name:     input.Name,
		Phone:    input.Phone,
		Password: hashed,
		IsActive: isActive,
		Role:     role,
	}
	if input.Email != "" {
		user.Email = &input.Email
	}

	if err := db.WithContext(ctx).Create(&user).Error; err != nil {
		return nil, err
	}
	return &user, nil
}

// GetUserById reads through the redis instance cache.
func GetUserById(ctx context.Context, id int) (*User, error) {
	var user User
	exists, err := config.GetRedisObject("User:"+fmt.Sprint(id), &user)
	if err != nil {
		return nil, err
	}
	if exists {
		return &user, nil
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	_ = config.SetRedisObject("User:"+fmt.Sprint(id), &user, 0)
	return &user, nil
}

func Signin(ctx context.Context, username string, password string) (string, *User, error) {
	db := config.GetDB()

	var user User
	if err := db.WithContext(ctx).Where("username = ?", username).Take(&user).Error; err != nil {
		return "", nil, errors.New("invalid username or password")
	}
	if user.IsActive == nil || !*user.IsActive {
		return "", nil, errors.New("user is inactive")
	}
	if !utils.CheckPasswordHash(password, user.Password) {
		return "", nil, errors.New("invalid username or password")
	}

	token, err := utils.JwtGenerate(user.ID, string(user.Role))
	if err != nil {
		return "", nil, err
	}
	return token, &user, nil
}
