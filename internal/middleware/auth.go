package middleware

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"time"

	"vm-provisioner/internal/models"

	"github.com/gin-gonic/gin"
	jwt "github.com/golang-jwt/jwt/v5"
)

const (
	// CookieName 은 로그인 토큰을 담는 쿠키 이름입니다. 값은 "Bearer <jwt>" 형식.
	CookieName = "authorization"
	TokenTTL   = 24 * time.Hour

	ContextUserID = "user_id"
	ContextRole   = "role"
)

// IssueToken signs a session token for user.
func IssueToken(secret string, user *models.User, now time.Time) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": user.ID,
		"role":    user.Role,
		"exp":     now.Add(TokenTTL).Unix(),
	}).SignedString([]byte(secret))
}

func AuthGuard(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		// 1. 쿠키에서 "authorization" 값 가져오기
		tokenString, err := c.Cookie(CookieName)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "로그인 토큰이 없습니다."})
			return
		}

		// 2. "Bearer " 접두사 제거
		if !strings.HasPrefix(tokenString, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "유효하지 않은 토큰 형식입니다."})
			return
		}
		tokenString = strings.TrimPrefix(tokenString, "Bearer ")

		// 3. 서명 및 만료 검증 (exp 필수)
		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return []byte(secret), nil
		}, jwt.WithExpirationRequired())
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "유효하지 않은 토큰입니다."})
			return
		}

		// 4. 토큰 클레임에서 사용자 식별 정보(user_id) 추출
		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "토큰 클레임을 읽을 수 없습니다."})
			return
		}

		rawID, ok := claims["user_id"].(float64)
		if !ok || rawID <= 0 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "토큰에 사용자 정보가 누락되었습니다."})
			return
		}
		role, _ := claims["role"].(string)
		if role == "" {
			role = models.RoleUser
		}

		c.Set(ContextUserID, uint(rawID))
		c.Set(ContextRole, role)
		c.Next()
	}
}

// AdminGuard must run after AuthGuard.
func AdminGuard() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetString(ContextRole) != models.RoleAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden", "message": "관리자 권한이 필요합니다."})
			return
		}
		c.Next()
	}
}

// HookGuard checks the shared token sent by guests reporting their address,
// either as "X-Hook-Token" or "Authorization: Bearer <token>".
// An empty token disables the check.
func HookGuard(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}
		got := c.GetHeader("X-Hook-Token")
		if got == "" {
			got = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid hook token"})
			return
		}
		c.Next()
	}
}

// UserID returns the id set by AuthGuard.
func UserID(c *gin.Context) uint {
	id, _ := c.Get(ContextUserID)
	uid, _ := id.(uint)
	return uid
}

func IsAdmin(c *gin.Context) bool {
	return c.GetString(ContextRole) == models.RoleAdmin
}
