package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"vm-provisioner/internal/models"

	"github.com/gin-gonic/gin"
	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

const testSecret = "test-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

func newRouter() *gin.Engine {
	r := gin.New()
	r.GET("/me", AuthGuard(testSecret), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"user_id": UserID(c), "admin": IsAdmin(c)})
	})
	r.GET("/admin", AuthGuard(testSecret), AdminGuard(), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	r.POST("/hook", HookGuard("hook-secret"), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r
}

func request(r http.Handler, path, cookie string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if cookie != "" {
		req.AddCookie(&http.Cookie{Name: CookieName, Value: cookie})
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func tokenFor(t *testing.T, id uint, role string, now time.Time) string {
	t.Helper()
	token, err := IssueToken(testSecret, &models.User{Model: gorm.Model{ID: id}, Role: role}, now)
	require.NoError(t, err)
	return "Bearer " + token
}

func TestAuthGuard(t *testing.T) {
	r := newRouter()

	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": 1, "exp": time.Now().Add(-time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{"user_id": 1}).SignedString([]byte(testSecret))
	require.NoError(t, err)

	otherKey, err := IssueToken("other", &models.User{Model: gorm.Model{ID: 1}}, time.Now())
	require.NoError(t, err)

	tests := []struct {
		name   string
		cookie string
		want   int
	}{
		{"valid", tokenFor(t, 7, models.RoleUser, time.Now()), http.StatusOK},
		{"no cookie", "", http.StatusUnauthorized},
		{"no bearer prefix", expired, http.StatusUnauthorized},
		{"expired", "Bearer " + expired, http.StatusUnauthorized},
		{"missing exp", "Bearer " + noExp, http.StatusUnauthorized},
		{"wrong key", "Bearer " + otherKey, http.StatusUnauthorized},
		{"garbage", "Bearer abc.def", http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := request(r, "/me", tt.cookie)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestAuthGuard_SetsUser(t *testing.T) {
	w := request(newRouter(), "/me", tokenFor(t, 7, models.RoleAdmin, time.Now()))
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"user_id":7,"admin":true}`, w.Body.String())
}

func TestAdminGuard(t *testing.T) {
	r := newRouter()

	w := request(r, "/admin", tokenFor(t, 1, models.RoleUser, time.Now()))
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = request(r, "/admin", tokenFor(t, 1, models.RoleAdmin, time.Now()))
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestHookGuard(t *testing.T) {
	r := newRouter()

	send := func(header, value string) int {
		req := httptest.NewRequest(http.MethodPost, "/hook", nil)
		if header != "" {
			req.Header.Set(header, value)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusNoContent, send("X-Hook-Token", "hook-secret"))
	assert.Equal(t, http.StatusNoContent, send("Authorization", "Bearer hook-secret"))
	assert.Equal(t, http.StatusUnauthorized, send("X-Hook-Token", "nope"))
	assert.Equal(t, http.StatusUnauthorized, send("", ""))

	open := gin.New()
	open.POST("/hook", HookGuard(""), func(c *gin.Context) { c.Status(http.StatusNoContent) })
	w := httptest.NewRecorder()
	open.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/hook", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
}
