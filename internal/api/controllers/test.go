package controllers

import (
	"context"
	"net/http"

	"vm-provisioner/internal/sanitize"
	provisionservice "vm-provisioner/internal/services/provision_service"

	"github.com/gin-gonic/gin"
)

// GuestInspector looks up a running VM's address.
type GuestInspector interface {
	Discover(ctx context.Context, vmid int) provisionservice.GuestInfo
}

// TestController 는 debug 모드에서만 등록되는 진단용 엔드포인트입니다.
type TestController struct {
	guests GuestInspector
}

func NewTestController(guests GuestInspector) *TestController {
	return &TestController{guests: guests}
}

func (t *TestController) RegisterRoutes(group *gin.RouterGroup) {
	g := group.Group("/test")
	g.POST("/sanitize", t.Sanitize)
	g.POST("/guest-info", t.GuestInfo)
}

type testSanitizeRequest struct {
	Name string `json:"name"`
}

func (t *TestController) Sanitize(c *gin.Context) {
	var req testSanitizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	name := sanitize.VMName(req.Name)
	c.JSON(http.StatusOK, gin.H{"input": req.Name, "name": name, "sanitized": sanitize.Changed(req.Name, name)})
}

type testGuestInfoRequest struct {
	VMID int `json:"vmid" binding:"required"`
}

func (t *TestController) GuestInfo(c *gin.Context) {
	var req testGuestInfoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	info := t.guests.Discover(c.Request.Context(), req.VMID)
	c.JSON(http.StatusOK, gin.H{"vmid": req.VMID, "guest": info})
}
