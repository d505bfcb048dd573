package userservice

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"vm-provisioner/internal/models"

	"gorm.io/gorm"
)

var (
	ErrInvalidCredentials = errors.New("아이디 또는 비밀번호가 일치하지 않습니다")
	ErrUserExists         = errors.New("이미 존재하는 사용자입니다")
	ErrUserNotFound       = errors.New("사용자를 찾을 수 없습니다")
)

type UserService struct {
	db *gorm.DB
}

func NewUserService(db *gorm.DB) *UserService {
	return &UserService{db: db}
}

// AuthenticateUser 함수는 아이디와 비밀번호를 받아 유저를 인증하고 반환합니다.
func (s *UserService) AuthenticateUser(ctx context.Context, username, password string) (*models.User, error) {
	var user models.User
	// 아이디로 유저 찾기
	if err := s.db.WithContext(ctx).Where("username = ?", username).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	// 비밀번호 확인
	if !user.CheckPassword(password) {
		return nil, ErrInvalidCredentials
	}

	user.PasswordHash = ""
	return &user, nil
}

func (s *UserService) FetchUserById(ctx context.Context, userId uint) (*models.User, error) {
	var user models.User

	if err := s.db.WithContext(ctx).First(&user, userId).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}

	user.PasswordHash = ""
	return &user, nil
}

type CreateUserParams struct {
	Username string
	Password string
	Email    string
	Role     string
}

func (s *UserService) CreateUser(ctx context.Context, params CreateUserParams) (*models.User, error) {
	database := s.db.WithContext(ctx)

	username := strings.TrimSpace(params.Username)
	if username == "" || params.Password == "" {
		return nil, fmt.Errorf("아이디와 비밀번호는 필수입니다")
	}
	role := params.Role
	if role == "" {
		role = models.RoleUser
	}

	var count int64
	if err := database.Model(&models.User{}).Where("username = ?", username).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("유저 조회 실패: %v", err)
	}
	if count > 0 {
		return nil, ErrUserExists
	}

	hashedPassword, err := models.HashPassword(params.Password)
	if err != nil {
		return nil, fmt.Errorf("비밀번호 해싱 실패: %v", err)
	}

	user := &models.User{
		Username:     username,
		Email:        params.Email,
		PasswordHash: hashedPassword,
		Role:         role,
	}
	if err := database.Create(user).Error; err != nil {
		return nil, fmt.Errorf("유저 생성 실패: %v", err)
	}

	user.PasswordHash = ""
	return user, nil
}

// EnsureAdmin creates the bootstrap admin account when it does not exist yet.
func (s *UserService) EnsureAdmin(ctx context.Context, username, password string) (bool, error) {
	if username == "" || password == "" {
		return false, nil
	}
	_, err := s.CreateUser(ctx, CreateUserParams{Username: username, Password: password, Role: models.RoleAdmin})
	if errors.Is(err, ErrUserExists) {
		return false, nil
	}
	return err == nil, err
}
