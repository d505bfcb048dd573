package requestservice

import (
	"context"
	"errors"
	"fmt"

	"vm-provisioner/internal/models"

	"gorm.io/gorm"
)

// Store 는 vm_request 테이블에 대한 gorm 접근을 담당합니다.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Get(ctx context.Context, id uint) (*models.VMRequest, error) {
	var req models.VMRequest
	if err := s.db.WithContext(ctx).First(&req, id).Error; err != nil {
		// 하나의 행도 발견 못하면 gorm.ErrRecordNotFound
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRequestNotFound
		}
		return nil, err
	}
	return &req, nil
}

// Save inserts req when it has no ID yet, otherwise updates every column.
func (s *Store) Save(ctx context.Context, req *models.VMRequest) error {
	if err := s.db.WithContext(ctx).Save(req).Error; err != nil {
		return fmt.Errorf("failed to save vm request: %v", err)
	}
	return nil
}

// ListOrderedByTimestampDesc returns every request, newest first.
func (s *Store) ListOrderedByTimestampDesc(ctx context.Context) ([]models.VMRequest, error) {
	var reqs []models.VMRequest
	if err := s.db.WithContext(ctx).Order("timestamp DESC").Order("id DESC").Find(&reqs).Error; err != nil {
		return nil, err
	}
	return reqs, nil
}

func (s *Store) ListForUser(ctx context.Context, userID uint) ([]models.VMRequest, error) {
	var reqs []models.VMRequest
	if err := s.db.WithContext(ctx).Where("user_id = ?", userID).Order("timestamp DESC").Order("id DESC").Find(&reqs).Error; err != nil {
		return nil, err
	}
	return reqs, nil
}

func (s *Store) FindByVMID(ctx context.Context, vmid int) (*models.VMRequest, error) {
	var req models.VMRequest
	if err := s.db.WithContext(ctx).Where("vmid = ?", vmid).Order("id DESC").First(&req).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRequestNotFound
		}
		return nil, err
	}
	return &req, nil
}

// transition sets status only if the row is not locked (creating/created).
// It reports whether the row was changed.
func (s *Store) transition(ctx context.Context, id uint, status models.EnumRequestStatus) (bool, error) {
	res := s.db.WithContext(ctx).Model(&models.VMRequest{}).
		Where("id = ? AND status NOT IN ?", id, []models.EnumRequestStatus{models.RequestStatusCreating, models.RequestStatusCreated}).
		Update("status", status)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *Store) markCreated(ctx context.Context, id uint, vmid int) error {
	return s.db.WithContext(ctx).Model(&models.VMRequest{}).Where("id = ?", id).
		Updates(map[string]any{"status": models.RequestStatusCreated, "vmid": vmid}).Error
}

func (s *Store) setStatus(ctx context.Context, id uint, status models.EnumRequestStatus) error {
	return s.db.WithContext(ctx).Model(&models.VMRequest{}).Where("id = ?", id).Update("status", status).Error
}

func (s *Store) setIP(ctx context.Context, id uint, ip string) error {
	return s.db.WithContext(ctx).Model(&models.VMRequest{}).Where("id = ?", id).Update("ip", ip).Error
}

// failCreating moves every row stuck in creating to error.
func (s *Store) failCreating(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Model(&models.VMRequest{}).
		Where("status = ?", models.RequestStatusCreating).
		Update("status", models.RequestStatusError)
	return res.RowsAffected, res.Error
}
