package controllers

import (
	"net/http"

	"vm-provisioner/internal/middleware"
	"vm-provisioner/internal/models"
	requestservice "vm-provisioner/internal/services/request_service"

	"github.com/gin-gonic/gin"
)

type AdminController struct {
	requests *requestservice.RequestService
	auth     gin.HandlerFunc
}

func NewAdminController(requests *requestservice.RequestService, auth gin.HandlerFunc) *AdminController {
	return &AdminController{requests: requests, auth: auth}
}

func (a *AdminController) RegisterRoutes(r *gin.RouterGroup) {
	g := r.Group("/admin", a.auth, middleware.AdminGuard())
	g.GET("/requests", a.ListRequests)
	g.POST("/requests/:id/status", a.UpdateStatus)
}

// ListRequests returns every request, newest first.
func (a *AdminController) ListRequests(c *gin.Context) {
	reqs, err := a.requests.ListAll(c.Request.Context())
	if err != nil {
		respondRequestError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requests": reqs})
}

type UpdateStatusParams struct {
	Status models.EnumRequestStatus `json:"status" binding:"required"`
}

// UpdateStatus approves or rejects a request. Approval replies 202 right away;
// clients poll GET /api/requests/:id for the outcome.
func (a *AdminController) UpdateStatus(c *gin.Context) {
	id, ok := requestID(c)
	if !ok {
		return
	}

	var params UpdateStatusParams
	if err := c.ShouldBindJSON(&params); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "message": "status 가 필요합니다."})
		return
	}

	req, err := a.requests.UpdateStatus(c.Request.Context(), id, params.Status)
	if err != nil {
		respondRequestError(c, err)
		return
	}

	code := http.StatusOK
	if req.Status == models.RequestStatusCreating {
		code = http.StatusAccepted
	}
	c.JSON(code, gin.H{"message": "상태가 변경되었습니다.", "request": req})
}
