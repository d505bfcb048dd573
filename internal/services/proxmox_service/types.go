package proxmox_service

import (
	"fmt"
	"strconv"
)

// UPID 는 Proxmox 비동기 작업(task) 핸들입니다. 빈 값이면 작업이 없는 동기 응답입니다.
type UPID string

// TaskStatus mirrors GET /nodes/{node}/tasks/{upid}/status.
type TaskStatus struct {
	Status     string `json:"status"` // running | stopped
	ExitStatus string `json:"exitstatus,omitempty"`
	Type       string `json:"type,omitempty"`
	ID         string `json:"id,omitempty"`
	Node       string `json:"node,omitempty"`
	User       string `json:"user,omitempty"`
}

func (s TaskStatus) Stopped() bool { return s.Status == "stopped" }

func (s TaskStatus) OK() bool { return s.ExitStatus == "OK" }

// CreateParams are the parameters of POST /nodes/{node}/qemu.
type CreateParams struct {
	VMID   int
	Name   string
	Cores  int
	Memory int // MiB
	Net0   string
	SCSIHW string
	SCSI0  string
	OSType string
	KVM    *bool
	Tags   string
}

func (p CreateParams) params() map[string]any {
	v := map[string]any{
		"vmid":   p.VMID,
		"name":   p.Name,
		"cores":  p.Cores,
		"memory": p.Memory,
	}
	setIf(v, "net0", p.Net0)
	setIf(v, "scsihw", p.SCSIHW)
	setIf(v, "scsi0", p.SCSI0)
	setIf(v, "ostype", p.OSType)
	setIf(v, "tags", p.Tags)
	if p.KVM != nil {
		v["kvm"] = boolFlag(*p.KVM)
	}
	return v
}

// GuestConfig is applied to a cloned VM through POST /nodes/{node}/qemu/{vmid}/config.
type GuestConfig struct {
	CIUser     string
	CIPassword string
	DisableKVM bool
	Tags       string
}

// Empty reports whether there is nothing to send.
func (g GuestConfig) Empty() bool {
	return g.CIUser == "" && g.CIPassword == "" && !g.DisableKVM && g.Tags == ""
}

func (g GuestConfig) params() map[string]any {
	v := map[string]any{}
	setIf(v, "ciuser", g.CIUser)
	setIf(v, "cipassword", g.CIPassword)
	setIf(v, "tags", g.Tags)
	if g.DisableKVM {
		v["kvm"] = 0
	}
	return v
}

// GuestInterface is one entry of the guest agent's network-get-interfaces result.
type GuestInterface struct {
	Name            string           `json:"name"`
	HardwareAddress string           `json:"hardware-address,omitempty"`
	IPAddresses     []GuestIPAddress `json:"ip-addresses,omitempty"`
}

type GuestIPAddress struct {
	Address string `json:"ip-address"`
	Type    string `json:"ip-address-type"` // ipv4 | ipv6
	Prefix  int    `json:"prefix"`
}

// VMConfig is the raw key/value configuration of a VM.
type VMConfig map[string]any

// String returns a config value as text, or "" when it is missing.
func (c VMConfig) String(key string) string {
	switch v := c[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

// Version mirrors GET /version.
type Version struct {
	Version string `json:"version"`
	Release string `json:"release"`
	RepoID  string `json:"repoid"`
}

func setIf(v map[string]any, key, val string) {
	if val != "" {
		v[key] = val
	}
}

func boolFlag(b bool) int {
	if b {
		return 1
	}
	return 0
}
