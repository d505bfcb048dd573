package controllers

import (
	"net/http"

	requestservice "vm-provisioner/internal/services/request_service"

	"github.com/gin-gonic/gin"
)

// HookController receives addresses reported by the guests themselves
// (cloud-init runcmd posting to /api/addip).
type HookController struct {
	requests *requestservice.RequestService
	guard    gin.HandlerFunc
}

func NewHookController(requests *requestservice.RequestService, guard gin.HandlerFunc) *HookController {
	return &HookController{requests: requests, guard: guard}
}

func (h *HookController) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/addip", h.guard, h.AddIP)
}

type AddIPParams struct {
	VMID int    `json:"vmid"`
	IP   string `json:"ip"`
}

func (h *HookController) AddIP(c *gin.Context) {
	var params AddIPParams
	if err := c.ShouldBindJSON(&params); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing json body"})
		return
	}
	if params.VMID <= 0 || params.IP == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "vmid and ip are required"})
		return
	}

	if err := h.requests.RecordIP(c.Request.Context(), params.VMID, params.IP); err != nil {
		respondRequestError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok", "vmid": params.VMID, "ip": params.IP})
}
