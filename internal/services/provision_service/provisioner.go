package provisionservice

import (
	"context"
	"errors"
	"fmt"
	"time"

	"vm-provisioner/internal/config"
	"vm-provisioner/internal/logger"
	"vm-provisioner/internal/metrics"
	"vm-provisioner/internal/models"
	"vm-provisioner/internal/retry"
	"vm-provisioner/internal/sanitize"
	pve "vm-provisioner/internal/services/proxmox_service"

	"github.com/sirupsen/logrus"
)

// ErrTaskNotSuccessful is returned when RequireTaskSuccess is set and the
// clone/create task did not finish with exit status OK.
var ErrTaskNotSuccessful = errors.New("provisioning task did not finish successfully")

// ProvisioningError wraps any unrecovered failure of Provision.
type ProvisioningError struct {
	VMName string
	VMID   int // 0 if no id was allocated yet
	Step   string
	Err    error
}

func (e *ProvisioningError) Error() string {
	if e.VMID != 0 {
		return fmt.Sprintf("provisioning %s (vmid %d) failed at %s: %v", e.VMName, e.VMID, e.Step, e.Err)
	}
	return fmt.Sprintf("provisioning %s failed at %s: %v", e.VMName, e.Step, e.Err)
}

func (e *ProvisioningError) Unwrap() error { return e.Err }

// ProvisionRequest describes one VM to build. Credentials are used once and never stored.
type ProvisionRequest struct {
	Name       string // already sanitized
	Tier       models.VMTier
	Category   string
	CIUser     string
	CIPassword string
}

// Options are the fixed provisioning parameters, taken from configuration.
type Options struct {
	Node        string
	Bridge      string
	Storage     string
	DisableKVM  bool
	TaskTimeout time.Duration
	// RequireTaskSuccess skips the VM start when the clone/create task
	// did not report OK. Off by default: the task status is advisory.
	RequireTaskSuccess bool
	Tiers              config.TierTable
	Retry              retry.Policy
}

// OptionsFromConfig maps the PROXMOX_* and provisioning settings.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Node:               cfg.Proxmox.Node,
		Bridge:             cfg.Proxmox.Bridge,
		Storage:            cfg.Proxmox.Storage,
		DisableKVM:         cfg.Proxmox.DisableKVM,
		TaskTimeout:        cfg.Proxmox.TaskTimeout,
		RequireTaskSuccess: cfg.Provision.RequireTaskSuccess,
		Tiers:              cfg.Tiers,
		Retry:              retry.DefaultPolicy,
	}
}

// Provisioner decides between cloning a tier template and a full create,
// then starts the VM.
type Provisioner struct {
	client HypervisorClient
	waiter *TaskWaiter
	opts   Options
}

func NewProvisioner(client HypervisorClient, opts Options) *Provisioner {
	if opts.Bridge == "" {
		opts.Bridge = "vmbr0"
	}
	if opts.Storage == "" {
		opts.Storage = "local-lvm"
	}
	if opts.TaskTimeout <= 0 {
		opts.TaskTimeout = 300 * time.Second
	}
	if opts.Retry.Attempts == 0 {
		opts.Retry = retry.DefaultPolicy
	}
	if opts.Retry.OnRetry == nil {
		opts.Retry.OnRetry = func(attempt int, wait time.Duration, err error) {
			metrics.APIRetriesTotal.Inc()
			logrus.WithFields(logrus.Fields{"attempt": attempt, "wait": wait}).WithError(err).Warn("transient Proxmox API error, retrying")
		}
	}
	return &Provisioner{client: client, waiter: NewTaskWaiter(client), opts: opts}
}

// Waiter exposes the task waiter so tests and callers can tune polling.
func (p *Provisioner) Waiter() *TaskWaiter { return p.waiter }

// Provision creates and starts a VM and returns its vmid.
//
// Steps:
//  1. Allocate a vmid
//  2. Clone the tier's cloud-init template and apply guest identity (if a template is configured)
//  3. On clone failure or without template, create the VM from the tier resources
//  4. Start the VM
//
// Task failures and timeouts are logged, not fatal. Any other unrecovered
// error is returned as *ProvisioningError.
func (p *Provisioner) Provision(ctx context.Context, req ProvisionRequest) (vmid int, err error) {
	start := time.Now()
	path := "create"
	log := logger.FromContext(ctx).WithFields(logrus.Fields{"vm_name": req.Name, "tier": req.Tier, "node": p.opts.Node})
	ctx = logger.WithLogger(ctx, log)

	defer func() {
		result := "success"
		if err != nil {
			result = "error"
		}
		metrics.ProvisionTotal.WithLabelValues(result, path).Inc()
		metrics.ProvisionDuration.Observe(time.Since(start).Seconds())
	}()

	fail := func(step string, cause error) (int, error) {
		return 0, &ProvisioningError{VMName: req.Name, VMID: vmid, Step: step, Err: cause}
	}

	if req.Name == "" {
		return fail("validate", errors.New("empty VM name"))
	}
	spec, ok := p.opts.Tiers.Lookup(req.Tier)
	if !ok {
		return fail("validate", fmt.Errorf("unknown tier %q", req.Tier))
	}

	// Step 1: vmid 할당
	vmid, err = retry.Do(ctx, p.opts.Retry, p.client.NextID)
	if err != nil {
		return fail("nextid", err)
	}
	log = log.WithField("vmid", vmid)
	ctx = logger.WithLogger(ctx, log)

	var task *TaskResult

	// Step 2: 템플릿 clone 시도
	cloned := false
	if spec.TemplateID > 0 {
		path = "clone"
		res, state, cerr := p.clonePath(ctx, vmid, spec.TemplateID, req)
		switch {
		case cerr == nil:
			cloned = true
			task = res
		case ctx.Err() != nil:
			return fail("clone", cerr)
		default:
			log.WithError(cerr).WithField("template", spec.TemplateID).Error("Failed to clone template, falling back to full create")
			path = "clone-fallback"
			if vmid, err = p.recoverID(ctx, vmid, state); err != nil {
				return fail("clone cleanup", err)
			}
			log = log.WithField("vmid", vmid)
			ctx = logger.WithLogger(ctx, log)
		}
	}

	// Step 3: full create
	if !cloned {
		res, cerr := p.createPath(ctx, vmid, spec, req)
		if cerr != nil {
			return fail("create", cerr)
		}
		task = res
	}

	// Step 4: start (task 결과와 관계없이 시도)
	if p.opts.RequireTaskSuccess && task != nil && !task.OK {
		return fail("start", ErrTaskNotSuccessful)
	}
	log.Info("Starting VM...")
	if err := retry.Run(ctx, p.opts.Retry, func(ctx context.Context) error {
		_, err := p.client.StartVM(ctx, p.opts.Node, vmid)
		return err
	}); err != nil {
		return fail("start", err)
	}

	log.WithField("path", path).Info("VM provisioned")
	return vmid, nil
}

// cloneState is what is known about a VM object under the clone's vmid.
type cloneState int

const (
	// cloneRejected: every clone request was refused, nothing exists under vmid.
	cloneRejected cloneState = iota
	// cloneUnknown: an attempt failed in transit, Proxmox may have taken it.
	cloneUnknown
	// cloneAccepted: the clone request was taken, a VM exists under vmid.
	cloneAccepted
)

// clonePath clones templateID into vmid, waits for the clone and applies guest
// configuration. The returned state tells the caller what may be left under vmid.
func (p *Provisioner) clonePath(ctx context.Context, vmid, templateID int, req ProvisionRequest) (*TaskResult, cloneState, error) {
	log := logger.FromContext(ctx).WithField("template", templateID)

	log.Info("Cloning template...")
	state := cloneRejected
	upid, err := retry.Do(ctx, p.opts.Retry, func(ctx context.Context) (pve.UPID, error) {
		upid, err := p.client.CloneTemplate(ctx, p.opts.Node, templateID, vmid, req.Name, p.opts.Node)
		if retry.IsTransient(err) {
			// 타임아웃 뒤의 재시도가 "already exists" 로 거부될 수 있음
			state = cloneUnknown
		}
		return upid, err
	})
	if err != nil {
		return nil, state, fmt.Errorf("clone request: %w", err)
	}

	var task *TaskResult
	if upid != "" {
		res := p.waiter.Await(ctx, p.opts.Node, upid, p.opts.TaskTimeout)
		if err := ctx.Err(); err != nil {
			return nil, cloneAccepted, err
		}
		if res.Stopped && !res.OK {
			log.WithFields(logrus.Fields{"upid": upid, "exitstatus": res.ExitStatus}).Error("Clone task finished with error")
		}
		task = &res
	}

	cfg := pve.GuestConfig{
		CIUser:     req.CIUser,
		CIPassword: req.CIPassword,
		DisableKVM: p.opts.DisableKVM,
		Tags:       categoryTag(req.Category),
	}
	if cfg.Empty() {
		return task, cloneAccepted, nil
	}

	log.Info("Applying guest configuration...")
	cfgUPID, err := retry.Do(ctx, p.opts.Retry, func(ctx context.Context) (pve.UPID, error) {
		return p.client.ConfigureGuest(ctx, p.opts.Node, vmid, cfg)
	})
	if err != nil {
		return task, cloneAccepted, fmt.Errorf("configure guest: %w", err)
	}
	if cfgUPID != "" {
		if res := p.waiter.Await(ctx, p.opts.Node, cfgUPID, p.opts.TaskTimeout); res.Stopped && !res.OK {
			log.WithField("upid", cfgUPID).Error("Guest configuration task finished with error")
		}
	}
	return task, cloneAccepted, ctx.Err()
}

// recoverID removes what a failed clone may have left under vmid so the full
// create can reuse it. When removal is impossible a fresh vmid is allocated and
// the orphan is left for the operator.
func (p *Provisioner) recoverID(ctx context.Context, vmid int, state cloneState) (int, error) {
	log := logger.FromContext(ctx)

	switch state {
	case cloneAccepted:
		log.Warn("Removing VM left by failed clone...")
		upid, err := retry.Do(ctx, p.opts.Retry, func(ctx context.Context) (pve.UPID, error) {
			return p.client.DeleteVM(ctx, p.opts.Node, vmid)
		})
		if err == nil {
			if upid == "" {
				return vmid, nil
			}
			if res := p.waiter.Await(ctx, p.opts.Node, upid, p.opts.TaskTimeout); res.OK {
				return vmid, nil
			}
			log.WithField("upid", upid).Warn("Orphan removal task did not finish cleanly")
		} else {
			log.WithError(err).Warn("Failed to remove orphaned clone, it must be deleted manually")
		}
	case cloneRejected:
		// clone 요청 자체가 거부됨 -> VM 객체가 생기지 않았으므로 같은 id 재사용
		return vmid, nil
	case cloneUnknown:
		log.Warn("Clone may have been created under this vmid, leaving it for the operator")
	}

	if err := ctx.Err(); err != nil {
		return vmid, err
	}
	newID, err := retry.Do(ctx, p.opts.Retry, p.client.NextID)
	if err != nil {
		return vmid, err
	}
	log.WithField("new_vmid", newID).Warn("Allocated a new vmid for full create")
	return newID, nil
}

func (p *Provisioner) createPath(ctx context.Context, vmid int, spec config.TierSpec, req ProvisionRequest) (*TaskResult, error) {
	log := logger.FromContext(ctx)

	params := pve.CreateParams{
		VMID:   vmid,
		Name:   req.Name,
		Cores:  spec.CPU,
		Memory: spec.RAM,
		Net0:   "virtio,bridge=" + p.opts.Bridge,
		SCSIHW: "virtio-scsi-pci",
		SCSI0:  fmt.Sprintf("%s:%d", p.opts.Storage, spec.Disk),
		OSType: "l26",
		Tags:   categoryTag(req.Category),
	}
	if p.opts.DisableKVM {
		kvm := false
		params.KVM = &kvm
	}

	log.Infof("Creating VM (%d cores, %d MiB, %d GiB)...", spec.CPU, spec.RAM, spec.Disk)
	upid, err := retry.Do(ctx, p.opts.Retry, func(ctx context.Context) (pve.UPID, error) {
		return p.client.CreateVM(ctx, p.opts.Node, params)
	})
	if err != nil {
		return nil, err
	}
	if upid == "" {
		return nil, nil
	}

	res := p.waiter.Await(ctx, p.opts.Node, upid, p.opts.TaskTimeout)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if res.Stopped && !res.OK {
		log.WithFields(logrus.Fields{"upid": upid, "exitstatus": res.ExitStatus}).Error("Create task finished with error")
	}
	return &res, nil
}

// categoryTag turns a request category into a Proxmox tag.
func categoryTag(category string) string {
	if category == "" {
		return ""
	}
	return sanitize.VMName(category)
}
