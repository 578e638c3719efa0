package license

import (
	"context"
	"time"

	"licensing-controlplane/pkg/errutil"
	"licensing-controlplane/pkg/gen"
	"licensing-controlplane/pkg/keygen"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Service is the activation manager: it owns the client-facing Activate /
// Validate / Deactivate paths and the admin HWID reset.
type Service struct {
	db    *gorm.DB
	node  *gen.SnowflakeNode
	audit *Auditor
	now   func() time.Time
}

type ServiceParams struct {
	fx.In
	DB      *gorm.DB
	Node    *gen.SnowflakeNode
	Auditor *Auditor
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:    p.DB,
		node:  p.Node,
		audit: p.Auditor,
		now:   time.Now,
	}
}

type ActivateRequest struct {
	LicenseKey string
	HWID       string
	DeviceName string
	DeviceInfo datatypes.JSON
	IPAddress  string
	UserAgent  string
}

type ActivateResult struct {
	License    *LicenseView    `json:"license"`
	Activation *ActivationView `json:"activation"`
}

// Activate redeems a device slot. The whole check-and-increment runs in one
// transaction under a row lock on the license, so two devices racing for the
// last slot cannot both win. Re-activating an already-active hwid is
// idempotent and never consumes a slot.
func (s *Service) Activate(ctx context.Context, req ActivateRequest) (*ActivateResult, error) {
	span := trace.SpanFromContext(ctx)
	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("hwid", req.HWID),
	)

	key := keygen.Normalize(req.LicenseKey)
	now := s.now()

	var (
		lic *License
		act *Activation
	)

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		lic, err = lockLicenseByKey(ctx, tx, key)
		if err != nil {
			return errutil.Unavailable("license lookup failed", err)
		}
		if lic == nil {
			return errutil.NotFound("license key not found")
		}

		if denial := DenialFor(EffectiveStatus(lic, now)); denial != nil {
			return denial
		}

		// Idempotent re-activation of the same device.
		existing, err := findActiveActivation(ctx, tx, lic.LicenseID, req.HWID)
		if err != nil {
			return errutil.Unavailable("activation lookup failed", err)
		}
		if existing != nil {
			existing.LastSeenAt = now
			if err := tx.Model(existing).Update("last_seen_at", now).Error; err != nil {
				return errutil.Unavailable("failed to touch activation", err)
			}
			act = existing
			return nil
		}

		active, err := countActiveActivations(ctx, tx, lic.LicenseID)
		if err != nil {
			return errutil.Unavailable("device count failed", err)
		}
		if active >= int64(lic.MaxDevices) {
			return errutil.DeviceLimitReached("all device slots are in use")
		}

		act = &Activation{
			ActivationID: s.node.GenerateID().String(),
			LicenseID:    lic.LicenseID,
			HWID:         req.HWID,
			DeviceName:   req.DeviceName,
			DeviceInfo:   req.DeviceInfo,
			IPAddress:    req.IPAddress,
			UserAgent:    req.UserAgent,
			Status:       ActivationActive,
			ActivatedAt:  now,
			LastSeenAt:   now,
		}
		if err := tx.Create(act).Error; err != nil {
			return errutil.Unavailable("failed to persist activation", err)
		}

		updates := map[string]any{
			"total_activations": gorm.Expr("total_activations + 1"),
		}
		if lic.Status == StatusInactive {
			// First use: the license goes live and its clock starts.
			lic.Status = StatusActive
			lic.ActivatedAt = &now
			if lic.Plan != nil {
				lic.ExpiresAt = lic.Plan.ExpiryFrom(now)
			}
			updates["status"] = StatusActive
			updates["activated_at"] = now
			updates["expires_at"] = lic.ExpiresAt
		}
		if err := tx.Model(lic).Updates(updates).Error; err != nil {
			return errutil.Unavailable("failed to update license", err)
		}
		lic.TotalActivations++
		return nil
	})

	licenseID := ""
	if lic != nil {
		licenseID = lic.LicenseID
	}
	if err != nil {
		// The denial rolled the transaction back, so the lazily detected
		// expiry is persisted here on the outer handle.
		if lic != nil {
			syncStatus(ctx, s.db, lic, EffectiveStatus(lic, now))
		}
		s.audit.Record(ctx, licenseID, ActionActivate, "", req.IPAddress, false, string(errutil.CodeOf(err)))
		zapLog.Warn("activation denied", zap.Error(err))
		return nil, err
	}

	s.audit.Record(ctx, licenseID, ActionActivate, "", req.IPAddress, true, "")
	zapLog.Info("activation ok", zap.String("license_id", licenseID), zap.String("activation_id", act.ActivationID))

	active, countErr := countActiveActivations(ctx, s.db, licenseID)
	if countErr != nil {
		zapLog.Warn("device count failed after activation", zap.Error(countErr))
	}

	return &ActivateResult{
		License:    lic.ToView(now, active, false),
		Activation: act.ToView(),
	}, nil
}

// Validate is the read-only heartbeat. It never consumes a slot and never
// writes anything but its audit row.
func (s *Service) Validate(ctx context.Context, rawKey, hwid, ip string) (bool, errutil.CoreStatus, error) {
	key := keygen.Normalize(rawKey)
	now := s.now()

	lic, err := findLicenseByKey(ctx, s.db, key)
	if err != nil {
		// Transient denials still get their audit row before returning.
		s.audit.Record(ctx, "", ActionValidate, "", ip, false, string(errutil.StatusUnavailable))
		return false, errutil.StatusUnavailable, errutil.Unavailable("license lookup failed", err)
	}

	valid := false
	var reason errutil.CoreStatus
	licenseID := ""

	switch {
	case lic == nil:
		reason = errutil.StatusNotFound
	default:
		licenseID = lic.LicenseID
		effective := EffectiveStatus(lic, now)
		if denial := DenialFor(effective); denial != nil {
			reason = errutil.CodeOf(denial)
			break
		}
		act, err := findActiveActivation(ctx, s.db, lic.LicenseID, hwid)
		if err != nil {
			s.audit.Record(ctx, licenseID, ActionValidate, "", ip, false, string(errutil.StatusUnavailable))
			return false, errutil.StatusUnavailable, errutil.Unavailable("activation lookup failed", err)
		}
		if act == nil {
			reason = errutil.StatusNotFound
			break
		}
		valid = true
	}

	s.audit.Record(ctx, licenseID, ActionValidate, "", ip, valid, string(reason))
	return valid, reason, nil
}

// Deactivate frees the device slot held by hwid. Already-deactivated
// devices are a no-op so clients can retry safely.
func (s *Service) Deactivate(ctx context.Context, rawKey, hwid, ip string) error {
	key := keygen.Normalize(rawKey)
	now := s.now()

	var licenseID string
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		lic, err := lockLicenseByKey(ctx, tx, key)
		if err != nil {
			return errutil.Unavailable("license lookup failed", err)
		}
		if lic == nil {
			return errutil.NotFound("license key not found")
		}
		licenseID = lic.LicenseID

		syncStatus(ctx, tx, lic, EffectiveStatus(lic, now))

		act, err := findActiveActivation(ctx, tx, lic.LicenseID, hwid)
		if err != nil {
			return errutil.Unavailable("activation lookup failed", err)
		}
		if act == nil {
			return nil // idempotent no-op
		}

		return tx.Model(act).Updates(map[string]any{
			"status":         ActivationDeactivated,
			"deactivated_at": now,
		}).Error
	})

	if err != nil {
		s.audit.Record(ctx, licenseID, ActionDeactivate, "", ip, false, string(errutil.CodeOf(err)))
		return err
	}

	s.audit.Record(ctx, licenseID, ActionDeactivate, "", ip, true, "")
	return nil
}

// ResetHWID force-deactivates every activation of a license, freeing all
// slots without touching its status. Used when a user replaces hardware.
func (s *Service) ResetHWID(ctx context.Context, licenseID, actorID string) error {
	now := s.now()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		lic, err := lockLicenseByID(ctx, tx, licenseID)
		if err != nil {
			return errutil.Unavailable("license lookup failed", err)
		}
		if lic == nil {
			return errutil.NotFound("license not found")
		}

		return tx.Model(&Activation{}).
			Where("license_id = ? AND status = ?", licenseID, ActivationActive).
			Updates(map[string]any{
				"status":         ActivationDeactivated,
				"deactivated_at": now,
			}).Error
	})

	if err != nil {
		s.audit.Record(ctx, licenseID, ActionAdminReset, actorID, "", false, string(errutil.CodeOf(err)))
		return err
	}

	s.audit.Record(ctx, licenseID, ActionAdminReset, actorID, "", true, "")
	return nil
}

// syncStatus writes the lazily derived status back to the cached column.
// Only mutating operations call it, keeping heartbeat reads write-free.
func syncStatus(ctx context.Context, tx *gorm.DB, lic *License, effective LicenseStatus) {
	if lic.Status == effective || lic.Status.Terminal() {
		return
	}
	if !CanTransition(lic.Status, effective) {
		return
	}
	if err := tx.WithContext(ctx).Model(lic).Update("status", effective).Error; err != nil {
		zap.L().Warn("failed to sync cached license status",
			zap.String("license_id", lic.LicenseID),
			zap.Error(err),
		)
		return
	}
	lic.Status = effective
}
