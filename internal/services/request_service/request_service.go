package requestservice

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"vm-provisioner/internal/config"
	"vm-provisioner/internal/logger"
	"vm-provisioner/internal/models"
	"vm-provisioner/internal/sanitize"
	provisionservice "vm-provisioner/internal/services/provision_service"

	"github.com/sirupsen/logrus"
)

// Provisioner builds and starts a VM. Satisfied by *provisionservice.Provisioner.
type Provisioner interface {
	Provision(ctx context.Context, req provisionservice.ProvisionRequest) (int, error)
}

// Discoverer finds a running VM's address. Satisfied by *provisionservice.GuestInfoDiscoverer.
type Discoverer interface {
	Discover(ctx context.Context, vmid int) provisionservice.GuestInfo
}

// Enqueuer is the asynchronous boundary jobs are handed to. Satisfied by *Dispatcher.
type Enqueuer interface {
	Enqueue(fn func(ctx context.Context)) (string, error)
}

// RequestService 는 VM 요청의 제출, 승인, 프로비저닝 결과 기록을 담당합니다.
type RequestService struct {
	store       *Store
	tiers       config.TierTable
	provisioner Provisioner
	discoverer  Discoverer
	jobs        Enqueuer

	// Credentials generates the one-time guest login. Never stored.
	Credentials func() (user, password string, err error)
	Now         func() time.Time
}

// NewRequestService wires the service. Only tiers present in the table are accepted;
// a nil table means the built-in bronze/silver/gold definitions.
func NewRequestService(store *Store, tiers config.TierTable, provisioner Provisioner, discoverer Discoverer, jobs Enqueuer) *RequestService {
	if tiers == nil {
		tiers = config.DefaultTiers()
	}
	return &RequestService{
		store:       store,
		tiers:       tiers,
		provisioner: provisioner,
		discoverer:  discoverer,
		jobs:        jobs,
		Credentials: provisionservice.GenerateCredentials,
		Now:         time.Now,
	}
}

func (s *RequestService) Store() *Store { return s.store }

// SubmitResult carries the stored request and whether the name was rewritten.
type SubmitResult struct {
	Request   *models.VMRequest
	Sanitized bool
}

// Submit sanitizes the name, checks the tier against the configured table and
// stores a pending request.
func (s *RequestService) Submit(ctx context.Context, userID uint, rawName string, tier models.VMTier, category string) (*SubmitResult, error) {
	name := sanitize.VMName(rawName)
	if name == "" {
		return nil, ErrEmptyName
	}
	if _, ok := s.tiers.Lookup(tier); !ok {
		return nil, ErrInvalidTier
	}

	req := &models.VMRequest{
		UserID:    userID,
		VMName:    name,
		VMTier:    tier,
		Category:  strings.TrimSpace(category),
		Status:    models.RequestStatusPending,
		Timestamp: s.Now(),
	}
	if err := s.store.Save(ctx, req); err != nil {
		return nil, err
	}

	logger.FromContext(ctx).WithFields(logrus.Fields{"request_id": req.ID, "vm_name": name, "tier": tier}).Info("VM request submitted")
	return &SubmitResult{Request: req, Sanitized: sanitize.Changed(rawName, name)}, nil
}

// UpdateStatus applies an admin decision. Approval commits creating and
// starts provisioning in the background; the call does not wait for it.
func (s *RequestService) UpdateStatus(ctx context.Context, id uint, status models.EnumRequestStatus) (*models.VMRequest, error) {
	switch status {
	case models.RequestStatusPending, models.RequestStatusApproved, models.RequestStatusRejected:
	default:
		return nil, ErrInvalidStatus
	}

	req, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Status.Locked() {
		return nil, ErrInvalidTransition
	}

	log := logger.FromContext(ctx).WithFields(logrus.Fields{"request_id": id, "status": status})

	// approved 는 저장하지 않고 바로 creating 으로 넘어감
	next := status
	if status == models.RequestStatusApproved {
		next = models.RequestStatusCreating
	}

	changed, err := s.store.transition(ctx, id, next)
	if err != nil {
		return nil, fmt.Errorf("failed to update request status: %v", err)
	}
	if !changed {
		// 다른 요청이 먼저 승인함
		return nil, ErrInvalidTransition
	}
	req.Status = next

	if next != models.RequestStatusCreating {
		log.Info("VM request status updated")
		return req, nil
	}

	snapshot := *req
	jobID, err := s.jobs.Enqueue(func(ctx context.Context) {
		s.provision(ctx, snapshot)
	})
	if err != nil {
		log.WithError(err).Error("Failed to queue provisioning job")
		if serr := s.store.setStatus(context.WithoutCancel(ctx), id, models.RequestStatusError); serr != nil {
			log.WithError(serr).Error("Failed to mark request as error")
		}
		return nil, err
	}

	log.WithField("job_id", jobID).Info("VM request approved, provisioning queued")
	return req, nil
}

// provision runs in a dispatcher worker.
func (s *RequestService) provision(ctx context.Context, req models.VMRequest) {
	log := logger.FromContext(ctx).WithFields(logrus.Fields{"request_id": req.ID, "vm_name": req.VMName})
	ctx = logger.WithLogger(ctx, log)
	// 결과 기록은 dispatcher 가 종료 중이어도 수행
	persist := context.WithoutCancel(ctx)

	settled := false
	defer func() {
		if r := recover(); r != nil {
			// creating 에 남지 않도록 error 로 기록한 뒤 dispatcher 에 넘김
			if !settled {
				s.fail(persist, log, req.ID)
			}
			panic(r)
		}
	}()

	user, password, err := s.Credentials()
	if err != nil {
		log.WithError(err).Error("Failed to generate guest credentials")
		s.fail(persist, log, req.ID)
		return
	}

	vmid, err := s.provisioner.Provision(ctx, provisionservice.ProvisionRequest{
		Name:       req.VMName,
		Tier:       req.VMTier,
		Category:   req.Category,
		CIUser:     user,
		CIPassword: password,
	})
	if err != nil {
		log.WithError(err).Error("VM provisioning failed")
		s.fail(persist, log, req.ID)
		return
	}

	settled = true
	if err := s.store.markCreated(persist, req.ID, vmid); err != nil {
		log.WithError(err).WithField("vmid", vmid).Error("Failed to record created VM")
		return
	}
	log = log.WithField("vmid", vmid)
	log.Info("VM created")

	if s.discoverer == nil {
		return
	}
	info := s.discoverer.Discover(ctx, vmid)
	if info.IPv4 == "" {
		log.Warn("Guest address not discovered")
		return
	}
	if err := s.store.setIP(persist, req.ID, info.IPv4); err != nil {
		log.WithError(err).Error("Failed to record guest address")
		return
	}
	log.WithFields(logrus.Fields{"ip": info.IPv4, "hostname": info.Hostname}).Info("Guest address recorded")
}

func (s *RequestService) fail(ctx context.Context, log *logrus.Entry, id uint) {
	if err := s.store.setStatus(ctx, id, models.RequestStatusError); err != nil {
		log.WithError(err).Error("Failed to mark request as error")
	}
}

// RecordIP stores the address reported by the guest for vmid.
func (s *RequestService) RecordIP(ctx context.Context, vmid int, ip string) error {
	parsed := net.ParseIP(strings.TrimSpace(ip))
	if parsed == nil || parsed.To4() == nil {
		return ErrInvalidIP
	}
	req, err := s.store.FindByVMID(ctx, vmid)
	if err != nil {
		return err
	}
	if err := s.store.setIP(ctx, req.ID, parsed.String()); err != nil {
		return fmt.Errorf("failed to record ip: %v", err)
	}
	logger.FromContext(ctx).WithFields(logrus.Fields{"request_id": req.ID, "vmid": vmid, "ip": parsed.String()}).Info("Guest reported its address")
	return nil
}

// RecoverInterrupted marks requests left in creating by a previous process as error.
func (s *RequestService) RecoverInterrupted(ctx context.Context) (int64, error) {
	n, err := s.store.failCreating(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to recover interrupted requests: %v", err)
	}
	if n > 0 {
		logger.FromContext(ctx).WithField("count", n).Warn("Marked interrupted provisioning requests as error")
	}
	return n, nil
}

// Get returns a request. When userID is non-zero the request must belong to that user.
func (s *RequestService) Get(ctx context.Context, id uint, userID uint) (*models.VMRequest, error) {
	req, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if userID != 0 && req.UserID != userID {
		return nil, ErrRequestNotFound
	}
	return req, nil
}

func (s *RequestService) ListForUser(ctx context.Context, userID uint) ([]models.VMRequest, error) {
	return s.store.ListForUser(ctx, userID)
}

func (s *RequestService) ListAll(ctx context.Context) ([]models.VMRequest, error) {
	return s.store.ListOrderedByTimestampDesc(ctx)
}

// IsClientError reports whether err is caused by the caller's input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrEmptyName) ||
		errors.Is(err, ErrInvalidTier) ||
		errors.Is(err, ErrInvalidStatus) ||
		errors.Is(err, ErrInvalidIP)
}
