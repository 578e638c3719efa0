package license

import (
	"context"
	"errors"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// lockForUpdate adds a row lock for the device-slot check-and-increment.
// SQLite serializes writers on its own and rejects FOR UPDATE syntax, so the
// clause is only applied on server databases.
func lockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector.Name() == "sqlite" {
		return tx
	}
	return tx.Clauses(clause.Locking{Strength: "UPDATE"})
}

func findLicenseByKey(ctx context.Context, tx *gorm.DB, key string) (*License, error) {
	var lic License
	err := tx.WithContext(ctx).Preload("Plan").
		Where("license_key = ?", key).
		First(&lic).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &lic, nil
}

func findLicenseByID(ctx context.Context, tx *gorm.DB, id string) (*License, error) {
	var lic License
	err := tx.WithContext(ctx).Preload("Plan").
		Where("license_id = ?", id).
		First(&lic).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &lic, nil
}

// lockLicenseByKey fetches the license row under a FOR UPDATE lock inside an
// open transaction. The plan is loaded separately so the lock stays on one
// table.
func lockLicenseByKey(ctx context.Context, tx *gorm.DB, key string) (*License, error) {
	var lic License
	err := lockForUpdate(tx.WithContext(ctx)).
		Where("license_key = ?", key).
		First(&lic).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if err := tx.WithContext(ctx).Where("plan_id = ?", lic.PlanID).First(&lic.Plan).Error; err != nil &&
		!errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	return &lic, nil
}

func lockLicenseByID(ctx context.Context, tx *gorm.DB, id string) (*License, error) {
	var lic License
	err := lockForUpdate(tx.WithContext(ctx)).
		Where("license_id = ?", id).
		First(&lic).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &lic, nil
}

func countActiveActivations(ctx context.Context, tx *gorm.DB, licenseID string) (int64, error) {
	var count int64
	err := tx.WithContext(ctx).Model(&Activation{}).
		Where("license_id = ? AND status = ?", licenseID, ActivationActive).
		Count(&count).Error
	return count, err
}

func findActiveActivation(ctx context.Context, tx *gorm.DB, licenseID, hwid string) (*Activation, error) {
	var act Activation
	err := tx.WithContext(ctx).
		Where("license_id = ? AND hwid = ? AND status = ?", licenseID, hwid, ActivationActive).
		First(&act).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &act, nil
}

func listActivations(ctx context.Context, tx *gorm.DB, licenseID string) ([]Activation, error) {
	var acts []Activation
	err := tx.WithContext(ctx).
		Where("license_id = ?", licenseID).
		Order("activated_at DESC").
		Find(&acts).Error
	return acts, err
}

func recentUsage(ctx context.Context, tx *gorm.DB, licenseID string, limit int) ([]UsageLog, error) {
	var logs []UsageLog
	err := tx.WithContext(ctx).
		Where("license_id = ?", licenseID).
		Order("created_at DESC").
		Limit(limit).
		Find(&logs).Error
	return logs, err
}
