package provisionservice

import (
	"context"
	"errors"
	"sync"
	"time"

	pve "vm-provisioner/internal/services/proxmox_service"
)

var errConnRefused = &pve.TransientNetworkError{Op: "test", Err: errors.New("connection refused")}

// fakeHypervisor records calls and returns canned responses. Each hook
// may be nil, in which case a successful default is used.
type fakeHypervisor struct {
	mu    sync.Mutex
	calls []string

	nextIDs  []int
	nextErr  error
	created  []pve.CreateParams
	cloned   []int
	started  []int
	deleted  []int
	configs  []pve.GuestConfig
	statuses []pve.TaskStatus // consumed in order, last one repeats
	statusN  int

	cloneFn     func(n int) (pve.UPID, error)
	cloneN      int
	configureFn func() (pve.UPID, error)
	createFn    func() (pve.UPID, error)
	startFn     func() (pve.UPID, error)
	deleteFn    func() (pve.UPID, error)
	statusFn    func(n int) (pve.TaskStatus, error)

	ifacesFn   func(n int) ([]pve.GuestInterface, error)
	ifacesN    int
	hostname   string
	hostErr    error
	vmConfig   pve.VMConfig
	vmCfgErr   error
	vmCfgCalls int
}

func (f *fakeHypervisor) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakeHypervisor) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeHypervisor) NextID(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("nextid")
	if f.nextErr != nil {
		return 0, f.nextErr
	}
	if len(f.nextIDs) == 0 {
		return 100, nil
	}
	id := f.nextIDs[0]
	if len(f.nextIDs) > 1 {
		f.nextIDs = f.nextIDs[1:]
	}
	return id, nil
}

func (f *fakeHypervisor) CloneTemplate(ctx context.Context, node string, templateID, newID int, name, target string) (pve.UPID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("clone")
	f.cloneN++
	f.cloned = append(f.cloned, newID)
	if f.cloneFn != nil {
		return f.cloneFn(f.cloneN)
	}
	return "UPID:clone", nil
}

func (f *fakeHypervisor) CreateVM(ctx context.Context, node string, params pve.CreateParams) (pve.UPID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("create")
	f.created = append(f.created, params)
	if f.createFn != nil {
		return f.createFn()
	}
	return "UPID:create", nil
}

func (f *fakeHypervisor) ConfigureGuest(ctx context.Context, node string, vmid int, cfg pve.GuestConfig) (pve.UPID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("configure")
	f.configs = append(f.configs, cfg)
	if f.configureFn != nil {
		return f.configureFn()
	}
	return "", nil
}

func (f *fakeHypervisor) StartVM(ctx context.Context, node string, vmid int) (pve.UPID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("start")
	f.started = append(f.started, vmid)
	if f.startFn != nil {
		return f.startFn()
	}
	return "UPID:start", nil
}

func (f *fakeHypervisor) DeleteVM(ctx context.Context, node string, vmid int) (pve.UPID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("delete")
	f.deleted = append(f.deleted, vmid)
	if f.deleteFn != nil {
		return f.deleteFn()
	}
	return "", nil
}

func (f *fakeHypervisor) TaskStatus(ctx context.Context, node string, upid pve.UPID) (pve.TaskStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("status")
	f.statusN++
	if f.statusFn != nil {
		return f.statusFn(f.statusN)
	}
	if len(f.statuses) == 0 {
		return pve.TaskStatus{Status: "stopped", ExitStatus: "OK"}, nil
	}
	i := f.statusN - 1
	if i >= len(f.statuses) {
		i = len(f.statuses) - 1
	}
	return f.statuses[i], nil
}

func (f *fakeHypervisor) GuestNetworkInterfaces(ctx context.Context, node string, vmid int) ([]pve.GuestInterface, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("ifaces")
	f.ifacesN++
	if f.ifacesFn != nil {
		return f.ifacesFn(f.ifacesN)
	}
	return nil, errors.New("QEMU guest agent is not running")
}

func (f *fakeHypervisor) GuestHostname(ctx context.Context, node string, vmid int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("hostname")
	return f.hostname, f.hostErr
}

func (f *fakeHypervisor) VMConfig(ctx context.Context, node string, vmid int) (pve.VMConfig, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("vmconfig")
	f.vmCfgCalls++
	return f.vmConfig, f.vmCfgErr
}

// blockingHypervisor adds a native WaitTask to the fake.
type blockingHypervisor struct {
	*fakeHypervisor
	waitFn    func() (pve.TaskStatus, error)
	waitCalls int
}

func (b *blockingHypervisor) WaitTask(ctx context.Context, node string, upid pve.UPID, timeout time.Duration) (pve.TaskStatus, error) {
	b.mu.Lock()
	b.waitCalls++
	b.record("wait")
	b.mu.Unlock()
	return b.waitFn()
}

// fakeClock advances by step each time Sleep is called.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return ctx.Err()
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}
