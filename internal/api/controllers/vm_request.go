package controllers

import (
	"errors"
	"net/http"
	"strconv"

	"vm-provisioner/internal/middleware"
	"vm-provisioner/internal/models"
	requestservice "vm-provisioner/internal/services/request_service"

	"github.com/gin-gonic/gin"
)

type VMRequestController struct {
	requests *requestservice.RequestService
	auth     gin.HandlerFunc
}

func NewVMRequestController(requests *requestservice.RequestService, auth gin.HandlerFunc) *VMRequestController {
	return &VMRequestController{requests: requests, auth: auth}
}

func (rc *VMRequestController) RegisterRoutes(r *gin.RouterGroup) {
	g := r.Group("/requests", rc.auth)
	g.POST("", rc.Submit)
	g.GET("", rc.ListMine)
	g.GET("/:id", rc.Get)
}

type SubmitVMRequestParams struct {
	VMName   string        `json:"vm_name"`
	VMTier   models.VMTier `json:"vm_tier"`
	Category string        `json:"category"`
}

func (rc *VMRequestController) Submit(c *gin.Context) {
	var params SubmitVMRequestParams
	if err := c.ShouldBindJSON(&params); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "message": "잘못된 요청 형식입니다."})
		return
	}

	res, err := rc.requests.Submit(c.Request.Context(), middleware.UserID(c), params.VMName, params.VMTier, params.Category)
	if err != nil {
		respondRequestError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message":   "VM 요청이 등록되었습니다.",
		"request":   res.Request,
		"vm_name":   res.Request.VMName,
		"sanitized": res.Sanitized,
	})
}

func (rc *VMRequestController) ListMine(c *gin.Context) {
	reqs, err := rc.requests.ListForUser(c.Request.Context(), middleware.UserID(c))
	if err != nil {
		respondRequestError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requests": reqs})
}

// Get returns one request. Owners see their own requests, admins see all.
func (rc *VMRequestController) Get(c *gin.Context) {
	id, ok := requestID(c)
	if !ok {
		return
	}

	owner := middleware.UserID(c)
	if middleware.IsAdmin(c) {
		owner = 0
	}

	req, err := rc.requests.Get(c.Request.Context(), id, owner)
	if err != nil {
		respondRequestError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"request": req})
}

func requestID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id", "message": "잘못된 요청 ID 입니다."})
		return 0, false
	}
	return uint(id), true
}

// respondRequestError maps service errors to short HTTP replies. Full causes
// are only logged.
func respondRequestError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, requestservice.ErrEmptyName):
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty vm name", "message": "VM 이름을 입력하세요."})
	case errors.Is(err, requestservice.ErrInvalidTier):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid tier", "message": "지원하지 않는 tier 입니다 (bronze, silver, gold)."})
	case errors.Is(err, requestservice.ErrInvalidStatus):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid status", "message": "status 는 pending, approved, rejected 중 하나여야 합니다."})
	case errors.Is(err, requestservice.ErrInvalidIP):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid ip", "message": "잘못된 IP 주소입니다."})
	case errors.Is(err, requestservice.ErrRequestNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found", "message": "요청을 찾을 수 없습니다."})
	case errors.Is(err, requestservice.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": "locked", "message": "이미 생성 중이거나 생성된 요청입니다."})
	case errors.Is(err, requestservice.ErrQueueFull), errors.Is(err, requestservice.ErrDispatcherClosed):
		_ = c.Error(err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "provisioning unavailable", "message": "프로비저닝 대기열이 가득 찼습니다. 요청이 error 로 표시되었습니다."})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error", "message": "서버 오류가 발생했습니다."})
	}
}
