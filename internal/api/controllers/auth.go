package controllers

import (
	"errors"
	"net/http"
	"time"

	"vm-provisioner/internal/logger"
	"vm-provisioner/internal/middleware"
	userservice "vm-provisioner/internal/services/user_service"

	"github.com/gin-gonic/gin"
)

type AuthController struct {
	userService *userservice.UserService
	jwtSecret   string
	secure      bool // 쿠키 Secure 플래그 (release 모드에서만)
}

func NewAuthController(userService *userservice.UserService, jwtSecret string, secure bool) *AuthController {
	return &AuthController{userService: userService, jwtSecret: jwtSecret, secure: secure}
}

func (a *AuthController) RegisterRoutes(r *gin.RouterGroup) {
	auth := r.Group("/auth")
	auth.POST("/login", a.Login)
	auth.POST("/logout", a.Logout)
}

type LoginParams struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

func (a *AuthController) Login(c *gin.Context) {
	var loginParams LoginParams
	if err := c.ShouldBindJSON(&loginParams); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "로그인 정보를 정확하게 전달하세요."})
		return
	}

	user, err := a.userService.AuthenticateUser(c.Request.Context(), loginParams.Username, loginParams.Password)
	if err != nil {
		if !errors.Is(err, userservice.ErrInvalidCredentials) {
			logger.FromContext(c.Request.Context()).WithError(err).Error("login lookup failed")
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": "인증 실패"})
		return
	}

	tokenString, err := middleware.IssueToken(a.jwtSecret, user, time.Now())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "토큰 생성 실패"})
		return
	}

	c.SetCookie(middleware.CookieName, "Bearer "+tokenString, int(middleware.TokenTTL.Seconds()), "/", "", a.secure, true)
	c.JSON(http.StatusOK, gin.H{"message": "로그인 성공", "user": user})
}

func (a *AuthController) Logout(c *gin.Context) {
	c.SetCookie(middleware.CookieName, "", -1, "/", "", a.secure, true)
	c.JSON(http.StatusOK, gin.H{"message": "로그아웃 되었습니다."})
}
