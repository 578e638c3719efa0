package license

import (
	"time"

	"licensing-controlplane/pkg/keygen"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// LicenseStatus is the stored lifecycle state of a license. The stored value
// is a cached read model; every decision path recomputes the effective
// status through the transition logic in state.go first.
type LicenseStatus string

const (
	StatusInactive  LicenseStatus = "INACTIVE"
	StatusActive    LicenseStatus = "ACTIVE"
	StatusExpired   LicenseStatus = "EXPIRED"
	StatusSuspended LicenseStatus = "SUSPENDED"
	StatusRevoked   LicenseStatus = "REVOKED"
	StatusBanned    LicenseStatus = "BANNED"
)

func (s LicenseStatus) Valid() bool {
	switch s {
	case StatusInactive, StatusActive, StatusExpired, StatusSuspended, StatusRevoked, StatusBanned:
		return true
	default:
		return false
	}
}

// Terminal statuses can never be left.
func (s LicenseStatus) Terminal() bool {
	return s == StatusRevoked || s == StatusBanned
}

type ActivationStatus string

const (
	ActivationActive      ActivationStatus = "ACTIVE"
	ActivationDeactivated ActivationStatus = "DEACTIVATED"
)

// UsageAction tags every audit row with the operation that produced it.
type UsageAction string

const (
	ActionValidate    UsageAction = "VALIDATE"
	ActionActivate    UsageAction = "ACTIVATE"
	ActionDeactivate  UsageAction = "DEACTIVATE"
	ActionAdminCreate UsageAction = "ADMIN_CREATE"
	ActionAdminAssign UsageAction = "ADMIN_ASSIGN"
	ActionAdminStatus UsageAction = "ADMIN_STATUS"
	ActionAdminReset  UsageAction = "ADMIN_RESET"
	ActionAdminDelete UsageAction = "ADMIN_DELETE"
)

type DurationType string

const (
	DurationDays     DurationType = "days"
	DurationMonths   DurationType = "months"
	DurationYears    DurationType = "years"
	DurationLifetime DurationType = "lifetime"
)

// Plan defines what an issued license entitles: how many device slots and
// for how long, counted from first activation.
type Plan struct {
	PlanID        string       `gorm:"column:plan_id;primaryKey"`
	Name          string       `gorm:"column:name;uniqueIndex;not null"`
	DurationType  DurationType `gorm:"column:duration_type;not null;default:'days'"`
	DurationValue int          `gorm:"column:duration_value;not null;default:0"`
	MaxDevices    int          `gorm:"column:max_devices;not null;default:1"`
	CreatedAt     time.Time    `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time    `gorm:"column:updated_at;autoUpdateTime"`
}

// ExpiryFrom computes the expiry stamped at first activation. Lifetime plans
// return nil.
func (p *Plan) ExpiryFrom(activatedAt time.Time) *time.Time {
	var expires time.Time
	switch p.DurationType {
	case DurationLifetime:
		return nil
	case DurationMonths:
		expires = activatedAt.AddDate(0, p.DurationValue, 0)
	case DurationYears:
		expires = activatedAt.AddDate(p.DurationValue, 0, 0)
	default:
		expires = activatedAt.AddDate(0, 0, p.DurationValue)
	}
	return &expires
}

type License struct {
	LicenseID        string         `gorm:"column:license_id;primaryKey"`
	LicenseKey       string         `gorm:"column:license_key;uniqueIndex;not null"`
	PlanID           string         `gorm:"column:plan_id;index;not null"`
	UserID           *string        `gorm:"column:user_id;index"`
	Status           LicenseStatus  `gorm:"column:status;not null;default:'INACTIVE'"`
	MaxDevices       int            `gorm:"column:max_devices;not null;default:1"`
	ActivatedAt      *time.Time     `gorm:"column:activated_at"`
	ExpiresAt        *time.Time     `gorm:"column:expires_at"`
	TotalActivations int            `gorm:"column:total_activations;not null;default:0"`
	Notes            string         `gorm:"column:notes"`
	CreatedAt        time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt        time.Time      `gorm:"column:updated_at;autoUpdateTime"`
	DeletedAt        gorm.DeletedAt `gorm:"column:deleted_at;index"`

	// Relations
	Plan        *Plan        `gorm:"foreignKey:PlanID;references:PlanID"`
	Activations []Activation `gorm:"foreignKey:LicenseID;references:LicenseID"`
}

// Activation binds a license to one physical device via its HWID. At most
// one ACTIVE row may exist per (license_id, hwid) pair.
type Activation struct {
	ActivationID  string           `gorm:"column:activation_id;primaryKey"`
	LicenseID     string           `gorm:"column:license_id;index:idx_activation_license_hwid;not null"`
	HWID          string           `gorm:"column:hwid;index:idx_activation_license_hwid;not null"`
	DeviceName    string           `gorm:"column:device_name"`
	DeviceInfo    datatypes.JSON   `gorm:"column:device_info;type:jsonb"`
	IPAddress     string           `gorm:"column:ip_address"`
	UserAgent     string           `gorm:"column:user_agent"`
	Status        ActivationStatus `gorm:"column:status;not null;default:'ACTIVE'"`
	ActivatedAt   time.Time        `gorm:"column:activated_at;autoCreateTime"`
	DeactivatedAt *time.Time       `gorm:"column:deactivated_at"`
	LastSeenAt    time.Time        `gorm:"column:last_seen_at"`
	UpdatedAt     time.Time        `gorm:"column:updated_at;autoUpdateTime"`
}

// UsageLog is append-only. Rows are never mutated or deleted here; retention
// is an external job.
type UsageLog struct {
	LogID     string      `gorm:"column:log_id;primaryKey"`
	LicenseID string      `gorm:"column:license_id;index"`
	Action    UsageAction `gorm:"column:action;not null"`
	ActorID   string      `gorm:"column:actor_id"`
	IPAddress string      `gorm:"column:ip_address"`
	Success   bool        `gorm:"column:success;not null"`
	Detail    string      `gorm:"column:detail"`
	CreatedAt time.Time   `gorm:"column:created_at;autoCreateTime"`
}

// User is the minimal read model backing the admin assignment workflow.
type User struct {
	UserID      string    `gorm:"column:user_id;primaryKey"`
	Email       string    `gorm:"column:email;uniqueIndex;not null"`
	DisplayName string    `gorm:"column:display_name"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
}

// Models lists every entity for migration and test setup.
func Models() []any {
	return []any{&Plan{}, &License{}, &Activation{}, &UsageLog{}, &User{}}
}

// LicenseView is the JSON shape returned to clients and the admin UI.
type LicenseView struct {
	LicenseID        string        `json:"license_id"`
	LicenseKey       string        `json:"license_key"`
	PlanID           string        `json:"plan_id"`
	UserID           *string       `json:"user_id,omitempty"`
	Status           LicenseStatus `json:"status"`
	MaxDevices       int           `json:"max_devices"`
	ActiveDevices    int64         `json:"active_devices"`
	ActivatedAt      *time.Time    `json:"activated_at,omitempty"`
	ExpiresAt        *time.Time    `json:"expires_at,omitempty"`
	TotalActivations int           `json:"total_activations"`
	Notes            string        `json:"notes,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
}

// ToView renders the license with its *effective* status so stale stored
// state never reaches a caller. Masked views hide the key body.
func (l *License) ToView(now time.Time, activeDevices int64, masked bool) *LicenseView {
	key := l.LicenseKey
	if masked {
		key = keygen.Mask(key)
	}
	return &LicenseView{
		LicenseID:        l.LicenseID,
		LicenseKey:       key,
		PlanID:           l.PlanID,
		UserID:           l.UserID,
		Status:           EffectiveStatus(l, now),
		MaxDevices:       l.MaxDevices,
		ActiveDevices:    activeDevices,
		ActivatedAt:      l.ActivatedAt,
		ExpiresAt:        l.ExpiresAt,
		TotalActivations: l.TotalActivations,
		Notes:            l.Notes,
		CreatedAt:        l.CreatedAt,
	}
}

type ActivationView struct {
	ActivationID  string           `json:"activation_id"`
	LicenseID     string           `json:"license_id"`
	HWID          string           `json:"hwid"`
	DeviceName    string           `json:"device_name,omitempty"`
	Status        ActivationStatus `json:"status"`
	ActivatedAt   time.Time        `json:"activated_at"`
	DeactivatedAt *time.Time       `json:"deactivated_at,omitempty"`
	LastSeenAt    time.Time        `json:"last_seen_at"`
}

func (a *Activation) ToView() *ActivationView {
	return &ActivationView{
		ActivationID:  a.ActivationID,
		LicenseID:     a.LicenseID,
		HWID:          a.HWID,
		DeviceName:    a.DeviceName,
		Status:        a.Status,
		ActivatedAt:   a.ActivatedAt,
		DeactivatedAt: a.DeactivatedAt,
		LastSeenAt:    a.LastSeenAt,
	}
}

type UsageLogView struct {
	LogID     string      `json:"log_id"`
	LicenseID string      `json:"license_id"`
	Action    UsageAction `json:"action"`
	ActorID   string      `json:"actor_id,omitempty"`
	IPAddress string      `json:"ip_address,omitempty"`
	Success   bool        `json:"success"`
	Detail    string      `json:"detail,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

func (u *UsageLog) ToView() *UsageLogView {
	return &UsageLogView{
		LogID:     u.LogID,
		LicenseID: u.LicenseID,
		Action:    u.Action,
		ActorID:   u.ActorID,
		IPAddress: u.IPAddress,
		Success:   u.Success,
		Detail:    u.Detail,
		CreatedAt: u.CreatedAt,
	}
}
