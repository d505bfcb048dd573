package controllers

import (
	"errors"
	"net/http"

	"vm-provisioner/internal/middleware"
	userservice "vm-provisioner/internal/services/user_service"

	"github.com/gin-gonic/gin"
)

type UserController struct {
	userService *userservice.UserService
	auth        gin.HandlerFunc
}

func NewUserController(userService *userservice.UserService, auth gin.HandlerFunc) *UserController {
	return &UserController{userService: userService, auth: auth}
}

// RegisterRoutes registers the user-related routes
func (c *UserController) RegisterRoutes(group *gin.RouterGroup) {
	// /api/users
	userGroup := group.Group("/users")
	{
		// 회원가입 (Create User)
		userGroup.POST("/create", c.CreateUser)

		// 내 정보 조회 (Get My Info)
		userGroup.GET("/me", c.auth, c.GetMe)
	}
}

type CreateUserRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required,min=6"`
	Email    string `json:"email" binding:"required,email"`
}

// CreateUser handles user creation. New accounts always get the user role.
func (c *UserController) CreateUser(ctx *gin.Context) {
	var req CreateUserRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "message": "잘못된 요청 형식입니다."})
		return
	}

	user, err := c.userService.CreateUser(ctx.Request.Context(), userservice.CreateUserParams{
		Username: req.Username,
		Password: req.Password,
		Email:    req.Email,
	})
	if err != nil {
		if errors.Is(err, userservice.ErrUserExists) {
			ctx.JSON(http.StatusConflict, gin.H{"error": "User already exists", "message": "이미 존재하는 아이디입니다."})
			return
		}
		_ = ctx.Error(err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": "internal error", "message": "유저 생성 실패"})
		return
	}

	// 비밀번호 해시는 서비스에서 이미 지워져서 옴
	ctx.JSON(http.StatusCreated, gin.H{
		"message": "User created successfully",
		"user":    user,
	})
}

// GetMe handles fetching the current user's info
func (c *UserController) GetMe(ctx *gin.Context) {
	user, err := c.userService.FetchUserById(ctx.Request.Context(), middleware.UserID(ctx))
	if err != nil {
		ctx.JSON(http.StatusNotFound, gin.H{"error": "User not found", "message": "유저를 찾을 수 없습니다."})
		return
	}

	ctx.JSON(http.StatusOK, gin.H{"user": user})
}
