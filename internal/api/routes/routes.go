package routes

import (
	controllers "vm-provisioner/internal/api/controllers"
	"vm-provisioner/internal/middleware"
	requestservice "vm-provisioner/internal/services/request_service"
	userservice "vm-provisioner/internal/services/user_service"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

// Dependencies are the services the HTTP layer is wired to.
type Dependencies struct {
	DB        *gorm.DB
	Users     *userservice.UserService
	Requests  *requestservice.RequestService
	Proxmox   controllers.VersionChecker
	Guests    controllers.GuestInspector
	JWTSecret string
	HookToken string
	Debug     bool
}

func SetupRouter(deps Dependencies) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), middleware.RequestLogger())

	auth := middleware.AuthGuard(deps.JWTSecret)

	// Health Check, Metrics
	controllers.NewHealthController(deps.DB, deps.Proxmox).RegisterRoutes(&r.RouterGroup)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API Group
	api := r.Group("/api")
	controllers.NewAuthController(deps.Users, deps.JWTSecret, !deps.Debug).RegisterRoutes(api)
	controllers.NewUserController(deps.Users, auth).RegisterRoutes(api)
	controllers.NewVMRequestController(deps.Requests, auth).RegisterRoutes(api)
	controllers.NewAdminController(deps.Requests, auth).RegisterRoutes(api)
	controllers.NewHookController(deps.Requests, middleware.HookGuard(deps.HookToken)).RegisterRoutes(api)

	if deps.Debug {
		controllers.NewTestController(deps.Guests).RegisterRoutes(api)
	}

	return r
}
