package license

import (
	"context"
	"fmt"
	"time"

	"licensing-controlplane/pkg/db/pagination"
	"licensing-controlplane/pkg/errutil"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AdminAction is the closed set of mutations accepted by the PATCH endpoint.
// Modeling it as an enum with exhaustive dispatch keeps illegal actions out
// of the request path entirely.
type AdminAction string

const (
	ActionAssignUser   AdminAction = "assign_user"
	ActionToggleStatus AdminAction = "toggle_status"
	ActionResetHWID    AdminAction = "reset_hwid"
)

func ParseAdminAction(s string) (AdminAction, error) {
	switch AdminAction(s) {
	case ActionAssignUser, ActionToggleStatus, ActionResetHWID:
		return AdminAction(s), nil
	default:
		return "", errutil.BadRequest(fmt.Sprintf("unknown action %q", s))
	}
}

// AdminService exposes the bulk and per-license operations behind the admin
// dashboard. Every mutation is audited with the acting admin's identity.
type AdminService struct {
	db        *gorm.DB
	generator *Generator
	svc       *Service
	audit     *Auditor
	now       func() time.Time
}

type AdminParams struct {
	fx.In
	DB        *gorm.DB
	Generator *Generator
	Service   *Service
	Auditor   *Auditor
}

func NewAdminService(p AdminParams) *AdminService {
	return &AdminService{
		db:        p.DB,
		generator: p.Generator,
		svc:       p.Service,
		audit:     p.Auditor,
		now:       time.Now,
	}
}

// CreateKeys issues count INACTIVE licenses for a plan in one atomic batch.
func (a *AdminService) CreateKeys(ctx context.Context, planID string, count int, notes, actorID string) ([]License, error) {
	rows, err := a.generator.Generate(ctx, planID, count, notes)
	if err != nil {
		a.audit.Record(ctx, "", ActionAdminCreate, actorID, "", false, string(errutil.CodeOf(err)))
		return nil, err
	}

	for _, row := range rows {
		a.audit.Record(ctx, row.LicenseID, ActionAdminCreate, actorID, "", true, "")
	}
	return rows, nil
}

// AssignUser sets or clears the license owner. A nil userID unassigns.
func (a *AdminService) AssignUser(ctx context.Context, licenseID string, userID *string, actorID string) error {
	err := a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		lic, err := lockLicenseByID(ctx, tx, licenseID)
		if err != nil {
			return errutil.Unavailable("license lookup failed", err)
		}
		if lic == nil {
			return errutil.NotFound("license not found")
		}

		if userID != nil {
			var count int64
			if err := tx.Model(&User{}).Where("user_id = ?", *userID).Count(&count).Error; err != nil {
				return errutil.Unavailable("user lookup failed", err)
			}
			if count == 0 {
				return errutil.NotFound("user not found")
			}
		}

		return tx.Model(lic).Update("user_id", userID).Error
	})

	if err != nil {
		a.audit.Record(ctx, licenseID, ActionAdminAssign, actorID, "", false, string(errutil.CodeOf(err)))
		return err
	}

	a.audit.Record(ctx, licenseID, ActionAdminAssign, actorID, "", true, "")
	return nil
}

// ToggleStatus applies an admin-driven transition (suspend, resume, revoke,
// ban), restricted to the state machine's table. Illegal transitions fail
// INVALID_TRANSITION and are themselves recorded as failed audit rows.
func (a *AdminService) ToggleStatus(ctx context.Context, licenseID string, newStatus LicenseStatus, actorID string) error {
	if !newStatus.Valid() {
		err := errutil.BadRequest(fmt.Sprintf("unknown status %q", newStatus))
		a.audit.Record(ctx, licenseID, ActionAdminStatus, actorID, "", false, string(errutil.CodeOf(err)))
		return err
	}

	now := a.now()
	var lic *License
	err := a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		lic, err = lockLicenseByID(ctx, tx, licenseID)
		if err != nil {
			return errutil.Unavailable("license lookup failed", err)
		}
		if lic == nil {
			return errutil.NotFound("license not found")
		}

		// Decide against the effective status so a lazily expired license
		// cannot be resumed as if it were still suspended-but-alive.
		effective := EffectiveStatus(lic, now)
		if !CanTransition(effective, newStatus) {
			return errutil.InvalidTransition(fmt.Sprintf("cannot move %s license to %s", effective, newStatus))
		}

		return tx.Model(lic).Update("status", newStatus).Error
	})

	if err != nil {
		// Persist the lazily detected expiry outside the rolled-back
		// transaction, like the audit row.
		if lic != nil {
			syncStatus(ctx, a.db, lic, EffectiveStatus(lic, now))
		}
		a.audit.Record(ctx, licenseID, ActionAdminStatus, actorID, "", false, string(errutil.CodeOf(err)))
		return err
	}

	a.audit.Record(ctx, licenseID, ActionAdminStatus, actorID, "", true, string(newStatus))
	zap.L().Info("license status changed",
		zap.String("license_id", licenseID),
		zap.String("status", string(newStatus)),
		zap.String("actor_id", actorID),
	)
	return nil
}

// Delete soft-deletes a license, preserving the audit trail. Refused while
// any device slot is occupied unless forced.
func (a *AdminService) Delete(ctx context.Context, licenseID string, force bool, actorID string) error {
	err := a.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		lic, err := lockLicenseByID(ctx, tx, licenseID)
		if err != nil {
			return errutil.Unavailable("license lookup failed", err)
		}
		if lic == nil {
			return errutil.NotFound("license not found")
		}

		active, err := countActiveActivations(ctx, tx, licenseID)
		if err != nil {
			return errutil.Unavailable("device count failed", err)
		}
		if active > 0 && !force {
			return errutil.Conflict(fmt.Sprintf("license has %d active device(s); pass force to delete anyway", active))
		}

		return tx.Delete(lic).Error
	})

	if err != nil {
		a.audit.Record(ctx, licenseID, ActionAdminDelete, actorID, "", false, string(errutil.CodeOf(err)))
		return err
	}

	a.audit.Record(ctx, licenseID, ActionAdminDelete, actorID, "", true, "")
	return nil
}

// ResetHWID frees every device slot of a license; delegated to the
// activation manager which owns the activation set.
func (a *AdminService) ResetHWID(ctx context.Context, licenseID, actorID string) error {
	return a.svc.ResetHWID(ctx, licenseID, actorID)
}

type ListFilter struct {
	Search string
	Status LicenseStatus
	PlanID string
}

// List returns masked license views with derived statuses for the dashboard.
func (a *AdminService) List(ctx context.Context, filter ListFilter, p pagination.Pagination) ([]*LicenseView, *pagination.PageInfo, error) {
	p.Normalize()
	now := a.now()

	query := a.db.WithContext(ctx).Model(&License{})
	if filter.Search != "" {
		like := "%" + filter.Search + "%"
		query = query.Where("license_key LIKE ? OR notes LIKE ?", like, like)
	}
	if filter.Status != "" {
		if !filter.Status.Valid() {
			return nil, nil, errutil.BadRequest(fmt.Sprintf("unknown status %q", filter.Status))
		}
		query = query.Where("status = ?", filter.Status)
	}
	if filter.PlanID != "" {
		query = query.Where("plan_id = ?", filter.PlanID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, nil, errutil.Unavailable("license count failed", err)
	}

	var rows []License
	if err := query.
		Order("created_at DESC").
		Offset(p.Offset()).
		Limit(p.Limit).
		Find(&rows).Error; err != nil {
		return nil, nil, errutil.Unavailable("license query failed", err)
	}

	views := make([]*LicenseView, 0, len(rows))
	for i := range rows {
		active, err := countActiveActivations(ctx, a.db, rows[i].LicenseID)
		if err != nil {
			return nil, nil, errutil.Unavailable("device count failed", err)
		}
		views = append(views, rows[i].ToView(now, active, true))
	}

	return views, pagination.BuildPageInfo(p, total), nil
}

type LicenseDetail struct {
	License     *LicenseView      `json:"license"`
	Activations []*ActivationView `json:"activations"`
	RecentUsage []*UsageLogView   `json:"recent_usage"`
}

// Get aggregates the admin detail view: full key, activations and the most
// recent usage rows.
func (a *AdminService) Get(ctx context.Context, licenseID string) (*LicenseDetail, error) {
	now := a.now()

	lic, err := findLicenseByID(ctx, a.db, licenseID)
	if err != nil {
		return nil, errutil.Unavailable("license lookup failed", err)
	}
	if lic == nil {
		return nil, errutil.NotFound("license not found")
	}

	acts, err := listActivations(ctx, a.db, licenseID)
	if err != nil {
		return nil, errutil.Unavailable("activation query failed", err)
	}

	logs, err := recentUsage(ctx, a.db, licenseID, 20)
	if err != nil {
		return nil, errutil.Unavailable("usage query failed", err)
	}

	var active int64
	actViews := make([]*ActivationView, 0, len(acts))
	for i := range acts {
		if acts[i].Status == ActivationActive {
			active++
		}
		actViews = append(actViews, acts[i].ToView())
	}

	logViews := make([]*UsageLogView, 0, len(logs))
	for i := range logs {
		logViews = append(logViews, logs[i].ToView())
	}

	return &LicenseDetail{
		License:     lic.ToView(now, active, false),
		Activations: actViews,
		RecentUsage: logViews,
	}, nil
}

// SearchUsers is the read-only helper behind the assignment workflow.
func (a *AdminService) SearchUsers(ctx context.Context, search string) ([]*User, error) {
	query := a.db.WithContext(ctx).Model(&User{})
	if search != "" {
		like := "%" + search + "%"
		query = query.Where("email LIKE ? OR display_name LIKE ?", like, like)
	}

	var users []*User
	if err := query.Order("email").Limit(50).Find(&users).Error; err != nil {
		return nil, errutil.Unavailable("user query failed", err)
	}
	return users, nil
}
