package provisionservice

import (
	"context"
	"time"

	pve "vm-provisioner/internal/services/proxmox_service"
)

// HypervisorClient defines the Proxmox operations needed for provisioning.
//
// In production, this is satisfied by *proxmox_service.ProxmoxService.
// In tests, this is satisfied by fakes.
type HypervisorClient interface {
	NextID(ctx context.Context) (int, error)
	CloneTemplate(ctx context.Context, node string, templateID, newID int, name, target string) (pve.UPID, error)
	CreateVM(ctx context.Context, node string, params pve.CreateParams) (pve.UPID, error)
	ConfigureGuest(ctx context.Context, node string, vmid int, cfg pve.GuestConfig) (pve.UPID, error)
	StartVM(ctx context.Context, node string, vmid int) (pve.UPID, error)
	DeleteVM(ctx context.Context, node string, vmid int) (pve.UPID, error)
	TaskStatus(ctx context.Context, node string, upid pve.UPID) (pve.TaskStatus, error)
	GuestAgent
}

// GuestAgent defines the calls used by guest info discovery.
type GuestAgent interface {
	GuestNetworkInterfaces(ctx context.Context, node string, vmid int) ([]pve.GuestInterface, error)
	GuestHostname(ctx context.Context, node string, vmid int) (string, error)
	VMConfig(ctx context.Context, node string, vmid int) (pve.VMConfig, error)
}

// TaskStatusReader is the minimum the task waiter needs.
type TaskStatusReader interface {
	TaskStatus(ctx context.Context, node string, upid pve.UPID) (pve.TaskStatus, error)
}

// taskBlocker is implemented by clients that can block on a task themselves.
type taskBlocker interface {
	WaitTask(ctx context.Context, node string, upid pve.UPID, timeout time.Duration) (pve.TaskStatus, error)
}

var _ HypervisorClient = (*pve.ProxmoxService)(nil)
var _ taskBlocker = (*pve.ProxmoxService)(nil)
