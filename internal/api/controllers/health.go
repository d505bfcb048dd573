package controllers

import (
	"context"
	"net/http"
	"time"

	"vm-provisioner/internal/db"
	"vm-provisioner/internal/logger"
	pve "vm-provisioner/internal/services/proxmox_service"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// VersionChecker is the hypervisor connectivity probe.
type VersionChecker interface {
	Version(ctx context.Context) (pve.Version, error)
}

type HealthController struct {
	db      *gorm.DB
	proxmox VersionChecker
}

func NewHealthController(database *gorm.DB, proxmox VersionChecker) *HealthController {
	return &HealthController{db: database, proxmox: proxmox}
}

func (h *HealthController) RegisterRoutes(group *gin.RouterGroup) {
	group.GET("/health", h.Check)
}

func (h *HealthController) Check(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()
	log := logger.FromContext(ctx)

	if err := db.Ping(h.db); err != nil {
		log.WithError(err).Error("health: database ping failed")
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "database unreachable"})
		return
	}

	version, err := h.proxmox.Version(ctx)
	if err != nil {
		log.WithError(err).Error("health: proxmox unreachable")
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "proxmox unreachable"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":          "ok",
		"proxmox_version": version.Version,
	})
}
