package provisionservice

import (
	"context"
	"strings"
	"time"

	"vm-provisioner/internal/logger"
	"vm-provisioner/internal/metrics"
	"vm-provisioner/internal/retry"
	pve "vm-provisioner/internal/services/proxmox_service"

	"github.com/sirupsen/logrus"
)

// GuestInfo is what could be learned about a running guest. Empty fields mean unknown.
type GuestInfo struct {
	Hostname string `json:"hostname"`
	IPv4     string `json:"ipv4"`
}

// GuestInfoDiscoverer asks the guest agent for the VM's address, falling back
// to the static cloud-init ipconfig0 entry.
type GuestInfoDiscoverer struct {
	client   GuestAgent
	node     string
	Attempts int
	Wait     time.Duration
	Sleep    retry.Sleeper
}

func NewGuestInfoDiscoverer(client GuestAgent, node string) *GuestInfoDiscoverer {
	return &GuestInfoDiscoverer{
		client:   client,
		node:     node,
		Attempts: 5,
		Wait:     5 * time.Second,
		Sleep:    retry.SleepContext,
	}
}

// Discover never fails; when nothing is found the result is empty.
func (d *GuestInfoDiscoverer) Discover(ctx context.Context, vmid int) GuestInfo {
	log := logger.FromContext(ctx).WithFields(logrus.Fields{"vmid": vmid, "node": d.node})

	for attempt := 1; attempt <= d.Attempts; attempt++ {
		ifaces, err := d.client.GuestNetworkInterfaces(ctx, d.node, vmid)
		if err != nil {
			// 게스트 에이전트가 아직 안 올라왔을 수 있음
			log.WithError(err).WithField("attempt", attempt).Debug("guest agent not ready")
		} else if ip := pickAddress(ifaces); ip != "" {
			info := GuestInfo{IPv4: ip}
			if name, err := d.client.GuestHostname(ctx, d.node, vmid); err == nil {
				info.Hostname = name
			} else {
				log.WithError(err).Debug("hostname unavailable")
			}
			metrics.GuestDiscoveryTotal.WithLabelValues("agent").Inc()
			return info
		}

		if attempt == d.Attempts {
			break
		}
		if err := d.Sleep(ctx, d.Wait); err != nil {
			return GuestInfo{}
		}
	}

	cfg, err := d.client.VMConfig(ctx, d.node, vmid)
	if err != nil {
		log.WithError(err).Warn("Failed to read VM config for ipconfig0")
		metrics.GuestDiscoveryTotal.WithLabelValues("none").Inc()
		return GuestInfo{}
	}
	if ip := parseIPConfig(cfg.String("ipconfig0")); ip != "" {
		metrics.GuestDiscoveryTotal.WithLabelValues("ipconfig").Inc()
		return GuestInfo{IPv4: ip}
	}

	metrics.GuestDiscoveryTotal.WithLabelValues("none").Inc()
	return GuestInfo{}
}

// pickAddress returns the first IPv4-looking address that is not link-local or loopback.
func pickAddress(ifaces []pve.GuestInterface) string {
	for _, iface := range ifaces {
		if iface.Name == "lo" {
			continue
		}
		for _, addr := range iface.IPAddresses {
			ip := addr.Address
			if !strings.Contains(ip, ".") {
				continue
			}
			if strings.HasPrefix(ip, "169.254") || strings.HasPrefix(ip, "127.") {
				continue
			}
			return ip
		}
	}
	return ""
}

// parseIPConfig extracts the address from "ip=10.0.0.5/24,gw=10.0.0.1".
func parseIPConfig(raw string) string {
	for _, part := range strings.Split(raw, ",") {
		key, val, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || key != "ip" {
			continue
		}
		addr, _, _ := strings.Cut(val, "/")
		if addr == "dhcp" || !strings.Contains(addr, ".") {
			return ""
		}
		return addr
	}
	return ""
}
