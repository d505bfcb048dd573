package models

import "time"

type VMTier string

const (
	TierBronze VMTier = "bronze"
	TierSilver VMTier = "silver"
	TierGold   VMTier = "gold"
)

func (t VMTier) Valid() bool {
	switch t {
	case TierBronze, TierSilver, TierGold:
		return true
	}
	return false
}

type EnumRequestStatus string

const (
	RequestStatusPending  EnumRequestStatus = "pending"
	RequestStatusApproved EnumRequestStatus = "approved"
	RequestStatusRejected EnumRequestStatus = "rejected"
	RequestStatusCreating EnumRequestStatus = "creating"
	RequestStatusCreated  EnumRequestStatus = "created"
	RequestStatusError    EnumRequestStatus = "error"
)

// Locked reports whether a request is past the point where an admin may change it.
func (s EnumRequestStatus) Locked() bool {
	return s == RequestStatusCreating || s == RequestStatusCreated
}

// VMRequest 구조체는 사용자의 VM 생성 요청과 그 진행 상태를 추적합니다.
// VMID는 상태가 created 가 된 뒤에만 채워집니다.
// 접속 계정 정보(access user/password)는 저장하지 않습니다.
type VMRequest struct {
	ID        uint              `gorm:"primaryKey" json:"id"`
	UserID    uint              `gorm:"column:user_id;not null;index" json:"user_id"`
	User      User              `gorm:"foreignKey:UserID" json:"-"`
	VMName    string            `gorm:"column:vm_name;size:63;not null" json:"vm_name"` // sanitize 를 거친 이름
	VMTier    VMTier            `gorm:"column:vm_tier;size:20;not null" json:"vm_tier"`
	Category  string            `gorm:"column:category;size:80" json:"category,omitempty"`
	Status    EnumRequestStatus `gorm:"column:status;size:20;not null;default:pending;index" json:"status"`
	VMID      *int              `gorm:"column:vmid;index" json:"vmid"`
	IP        *string           `gorm:"column:ip;size:100" json:"ip"`
	Timestamp time.Time         `gorm:"column:timestamp;not null;index" json:"timestamp"`
	UpdatedAt time.Time         `json:"updated_at"`
}

func (VMRequest) TableName() string {
	return "vm_request"
}
