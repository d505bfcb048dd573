package requestservice

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"vm-provisioner/internal/config"
	"vm-provisioner/internal/db"
	"vm-provisioner/internal/models"
	provisionservice "vm-provisioner/internal/services/provision_service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeProvisioner struct {
	mu    sync.Mutex
	reqs  []provisionservice.ProvisionRequest
	vmid  int
	err   error
	panic string
}

func (f *fakeProvisioner) Provision(ctx context.Context, req provisionservice.ProvisionRequest) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reqs = append(f.reqs, req)
	if f.panic != "" {
		panic(f.panic)
	}
	return f.vmid, f.err
}

func (f *fakeProvisioner) Requests() []provisionservice.ProvisionRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]provisionservice.ProvisionRequest(nil), f.reqs...)
}

type fakeDiscoverer struct {
	info provisionservice.GuestInfo
}

func (f *fakeDiscoverer) Discover(ctx context.Context, vmid int) provisionservice.GuestInfo {
	return f.info
}

// inlineJobs runs jobs synchronously on Enqueue.
type inlineJobs struct {
	err   error
	count int
}

func (j *inlineJobs) Enqueue(fn func(ctx context.Context)) (string, error) {
	if j.err != nil {
		return "", j.err
	}
	j.count++
	fn(context.Background())
	return "job-1", nil
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	database, err := db.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := database.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return database
}

func createUser(t *testing.T, database *gorm.DB, name string) *models.User {
	t.Helper()
	u := &models.User{Username: name, Email: name + "@example.com", PasswordHash: "x", Role: models.RoleUser}
	require.NoError(t, database.Create(u).Error)
	return u
}

func newTestService(t *testing.T, prov Provisioner, disc Discoverer, jobs Enqueuer) (*RequestService, *models.User) {
	t.Helper()
	return newTestServiceWithTiers(t, config.DefaultTiers(), prov, disc, jobs)
}

func newTestServiceWithTiers(t *testing.T, tiers config.TierTable, prov Provisioner, disc Discoverer, jobs Enqueuer) (*RequestService, *models.User) {
	t.Helper()
	database := newTestDB(t)
	user := createUser(t, database, "alice")
	svc := NewRequestService(NewStore(database), tiers, prov, disc, jobs)
	svc.Credentials = func() (string, string, error) { return "root", "one-time-pass", nil }
	return svc, user
}

func TestSubmit(t *testing.T) {
	svc, user := newTestService(t, &fakeProvisioner{}, nil, &inlineJobs{})
	ctx := context.Background()

	res, err := svc.Submit(ctx, user.ID, "My Web Server!", models.TierSilver, " web ")
	require.NoError(t, err)
	assert.True(t, res.Sanitized)
	assert.Equal(t, "my-web-server", res.Request.VMName)
	assert.Equal(t, models.RequestStatusPending, res.Request.Status)
	assert.Equal(t, "web", res.Request.Category)
	assert.Nil(t, res.Request.VMID)

	stored, err := svc.Get(ctx, res.Request.ID, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "my-web-server", stored.VMName)

	res, err = svc.Submit(ctx, user.ID, "plain", models.TierBronze, "")
	require.NoError(t, err)
	assert.False(t, res.Sanitized)
}

func TestSubmit_Validation(t *testing.T) {
	svc, user := newTestService(t, &fakeProvisioner{}, nil, &inlineJobs{})

	_, err := svc.Submit(context.Background(), user.ID, "", models.TierGold, "")
	assert.ErrorIs(t, err, ErrEmptyName)

	_, err = svc.Submit(context.Background(), user.ID, "ok", "platinum", "")
	assert.ErrorIs(t, err, ErrInvalidTier)
	assert.True(t, IsClientError(err))
}

func TestSubmit_TierNotConfigured(t *testing.T) {
	bronzeOnly := config.TierTable{models.TierBronze: {CPU: 1, RAM: 2048, Disk: 20, TemplateID: 1000}}
	svc, user := newTestServiceWithTiers(t, bronzeOnly, &fakeProvisioner{}, nil, &inlineJobs{})
	ctx := context.Background()

	_, err := svc.Submit(ctx, user.ID, "web-1", models.TierSilver, "")
	assert.ErrorIs(t, err, ErrInvalidTier)

	all, err := svc.ListAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)

	_, err = svc.Submit(ctx, user.ID, "web-1", models.TierBronze, "")
	assert.NoError(t, err)
}

func TestUpdateStatus_ApproveProvisions(t *testing.T) {
	prov := &fakeProvisioner{vmid: 123}
	disc := &fakeDiscoverer{info: provisionservice.GuestInfo{Hostname: "gold-vm", IPv4: "10.0.0.5"}}
	jobs := &inlineJobs{}
	svc, user := newTestService(t, prov, disc, jobs)
	ctx := context.Background()

	sub, err := svc.Submit(ctx, user.ID, "gold-vm", models.TierGold, "research")
	require.NoError(t, err)

	req, err := svc.UpdateStatus(ctx, sub.Request.ID, models.RequestStatusApproved)
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusCreating, req.Status)
	assert.Equal(t, 1, jobs.count)

	require.Len(t, prov.Requests(), 1)
	got := prov.Requests()[0]
	assert.Equal(t, "gold-vm", got.Name)
	assert.Equal(t, models.TierGold, got.Tier)
	assert.Equal(t, "research", got.Category)
	assert.Equal(t, "root", got.CIUser)
	assert.Equal(t, "one-time-pass", got.CIPassword)

	stored, err := svc.Get(ctx, sub.Request.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusCreated, stored.Status)
	require.NotNil(t, stored.VMID)
	assert.Equal(t, 123, *stored.VMID)
	require.NotNil(t, stored.IP)
	assert.Equal(t, "10.0.0.5", *stored.IP)

	// 자격 증명은 어디에도 남지 않음
	raw, err := json.Marshal(stored)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "one-time-pass")
}

func TestUpdateStatus_ProvisionFailure(t *testing.T) {
	prov := &fakeProvisioner{err: errors.New("clone and create both failed")}
	svc, user := newTestService(t, prov, &fakeDiscoverer{}, &inlineJobs{})
	ctx := context.Background()

	sub, err := svc.Submit(ctx, user.ID, "vm", models.TierBronze, "")
	require.NoError(t, err)
	_, err = svc.UpdateStatus(ctx, sub.Request.ID, models.RequestStatusApproved)
	require.NoError(t, err)

	stored, err := svc.Get(ctx, sub.Request.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusError, stored.Status)
	assert.Nil(t, stored.VMID)
}

func TestUpdateStatus_NoAddressDiscovered(t *testing.T) {
	svc, user := newTestService(t, &fakeProvisioner{vmid: 7}, &fakeDiscoverer{}, &inlineJobs{})
	ctx := context.Background()

	sub, err := svc.Submit(ctx, user.ID, "vm", models.TierBronze, "")
	require.NoError(t, err)
	_, err = svc.UpdateStatus(ctx, sub.Request.ID, models.RequestStatusApproved)
	require.NoError(t, err)

	stored, err := svc.Get(ctx, sub.Request.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusCreated, stored.Status)
	assert.Nil(t, stored.IP)
}

func TestUpdateStatus_Transitions(t *testing.T) {
	ctx := context.Background()

	t.Run("reject then reopen", func(t *testing.T) {
		svc, user := newTestService(t, &fakeProvisioner{}, nil, &inlineJobs{})
		sub, err := svc.Submit(ctx, user.ID, "vm", models.TierBronze, "")
		require.NoError(t, err)

		req, err := svc.UpdateStatus(ctx, sub.Request.ID, models.RequestStatusRejected)
		require.NoError(t, err)
		assert.Equal(t, models.RequestStatusRejected, req.Status)

		req, err = svc.UpdateStatus(ctx, sub.Request.ID, models.RequestStatusPending)
		require.NoError(t, err)
		assert.Equal(t, models.RequestStatusPending, req.Status)
	})

	t.Run("invalid status", func(t *testing.T) {
		svc, user := newTestService(t, &fakeProvisioner{}, nil, &inlineJobs{})
		sub, err := svc.Submit(ctx, user.ID, "vm", models.TierBronze, "")
		require.NoError(t, err)

		for _, status := range []models.EnumRequestStatus{models.RequestStatusCreating, models.RequestStatusCreated, models.RequestStatusError, "bogus"} {
			_, err := svc.UpdateStatus(ctx, sub.Request.ID, status)
			assert.ErrorIs(t, err, ErrInvalidStatus, status)
		}
	})

	t.Run("created is locked", func(t *testing.T) {
		prov := &fakeProvisioner{vmid: 1}
		svc, user := newTestService(t, prov, nil, &inlineJobs{})
		sub, err := svc.Submit(ctx, user.ID, "vm", models.TierBronze, "")
		require.NoError(t, err)
		_, err = svc.UpdateStatus(ctx, sub.Request.ID, models.RequestStatusApproved)
		require.NoError(t, err)

		_, err = svc.UpdateStatus(ctx, sub.Request.ID, models.RequestStatusApproved)
		assert.ErrorIs(t, err, ErrInvalidTransition)
		_, err = svc.UpdateStatus(ctx, sub.Request.ID, models.RequestStatusRejected)
		assert.ErrorIs(t, err, ErrInvalidTransition)
		assert.Len(t, prov.Requests(), 1)
	})

	t.Run("not found", func(t *testing.T) {
		svc, _ := newTestService(t, &fakeProvisioner{}, nil, &inlineJobs{})
		_, err := svc.UpdateStatus(ctx, 999, models.RequestStatusApproved)
		assert.ErrorIs(t, err, ErrRequestNotFound)
	})
}

func TestUpdateStatus_QueueFull(t *testing.T) {
	prov := &fakeProvisioner{vmid: 1}
	svc, user := newTestService(t, prov, nil, &inlineJobs{err: ErrQueueFull})
	ctx := context.Background()

	sub, err := svc.Submit(ctx, user.ID, "vm", models.TierBronze, "")
	require.NoError(t, err)

	_, err = svc.UpdateStatus(ctx, sub.Request.ID, models.RequestStatusApproved)
	require.ErrorIs(t, err, ErrQueueFull)

	stored, err := svc.Get(ctx, sub.Request.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusError, stored.Status)
	assert.Empty(t, prov.Requests())
}

func TestGet_OwnerOnly(t *testing.T) {
	svc, alice := newTestService(t, &fakeProvisioner{}, nil, &inlineJobs{})
	ctx := context.Background()

	sub, err := svc.Submit(ctx, alice.ID, "vm", models.TierBronze, "")
	require.NoError(t, err)

	_, err = svc.Get(ctx, sub.Request.ID, alice.ID+1)
	assert.ErrorIs(t, err, ErrRequestNotFound)
}

func TestListOrdering(t *testing.T) {
	svc, user := newTestService(t, &fakeProvisioner{}, nil, &inlineJobs{})
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	for i, name := range []string{"first", "second", "third"} {
		at := base.Add(time.Duration(i) * time.Minute)
		svc.Now = func() time.Time { return at }
		_, err := svc.Submit(ctx, user.ID, name, models.TierBronze, "")
		require.NoError(t, err)
	}

	all, err := svc.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "third", all[0].VMName)
	assert.Equal(t, "first", all[2].VMName)

	mine, err := svc.ListForUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Len(t, mine, 3)

	others, err := svc.ListForUser(ctx, user.ID+1)
	require.NoError(t, err)
	assert.Empty(t, others)
}

func TestRecordIP(t *testing.T) {
	svc, user := newTestService(t, &fakeProvisioner{vmid: 321}, nil, &inlineJobs{})
	ctx := context.Background()

	sub, err := svc.Submit(ctx, user.ID, "vm", models.TierBronze, "")
	require.NoError(t, err)
	_, err = svc.UpdateStatus(ctx, sub.Request.ID, models.RequestStatusApproved)
	require.NoError(t, err)

	require.NoError(t, svc.RecordIP(ctx, 321, " 192.168.0.44 "))
	stored, err := svc.Get(ctx, sub.Request.ID, 0)
	require.NoError(t, err)
	require.NotNil(t, stored.IP)
	assert.Equal(t, "192.168.0.44", *stored.IP)

	assert.ErrorIs(t, svc.RecordIP(ctx, 999, "10.0.0.1"), ErrRequestNotFound)
	assert.ErrorIs(t, svc.RecordIP(ctx, 321, "not-an-ip"), ErrInvalidIP)
	assert.ErrorIs(t, svc.RecordIP(ctx, 321, "fe80::1"), ErrInvalidIP)
}

func TestRecoverInterrupted(t *testing.T) {
	svc, user := newTestService(t, &fakeProvisioner{}, nil, &inlineJobs{})
	ctx := context.Background()
	store := svc.Store()

	stuck := &models.VMRequest{UserID: user.ID, VMName: "stuck", VMTier: models.TierGold, Status: models.RequestStatusCreating, Timestamp: time.Now()}
	done := &models.VMRequest{UserID: user.ID, VMName: "done", VMTier: models.TierGold, Status: models.RequestStatusCreated, Timestamp: time.Now()}
	require.NoError(t, store.Save(ctx, stuck))
	require.NoError(t, store.Save(ctx, done))

	n, err := svc.RecoverInterrupted(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := store.Get(ctx, stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusError, got.Status)
	got, err = store.Get(ctx, done.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RequestStatusCreated, got.Status)
}
