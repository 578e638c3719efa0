package license

import (
	"context"
	"errors"
	"fmt"

	"licensing-controlplane/pkg/config"
	"licensing-controlplane/pkg/errutil"
	"licensing-controlplane/pkg/gen"
	"licensing-controlplane/pkg/keygen"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// keyRetries bounds the per-key collision retry. At 150 bits of entropy a
// single collision is already improbable; three misses in a row means the
// random source is broken.
const keyRetries = 3

// Generator mints license keys and persists them as INACTIVE rows.
type Generator struct {
	db       *gorm.DB
	node     *gen.SnowflakeNode
	format   keygen.Format
	maxBatch int
}

func NewGenerator(db *gorm.DB, node *gen.SnowflakeNode, cfg config.LicensingConfig) *Generator {
	return &Generator{
		db:       db,
		node:     node,
		format:   keygen.Format{Groups: cfg.KeyGroups, GroupLen: cfg.KeyGroupLen},
		maxBatch: cfg.MaxBatchSize,
	}
}

// Generate inserts count INACTIVE licenses for the plan in one transaction.
// Partial failure rolls the whole batch back so an admin never sees a
// half-issued run.
func (g *Generator) Generate(ctx context.Context, planID string, count int, notes string) ([]License, error) {
	if count <= 0 {
		return nil, errutil.BadRequest("count must be positive")
	}
	if count > g.maxBatch {
		return nil, errutil.BadRequest(fmt.Sprintf("count exceeds the batch cap of %d", g.maxBatch))
	}

	var plan Plan
	if err := g.db.WithContext(ctx).Where("plan_id = ?", planID).First(&plan).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errutil.NotFound("plan not found")
		}
		return nil, errutil.Unavailable("failed to load plan", err)
	}

	var rows []License
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		minted := make(map[string]struct{}, count)

		for i := 0; i < count; i++ {
			key, err := g.mintUniqueKey(ctx, tx, minted)
			if err != nil {
				return err
			}
			minted[key] = struct{}{}

			rows = append(rows, License{
				LicenseID:  g.node.GenerateID().String(),
				LicenseKey: key,
				PlanID:     plan.PlanID,
				Status:     StatusInactive,
				MaxDevices: plan.MaxDevices,
				Notes:      notes,
			})
		}

		if err := tx.Create(&rows).Error; err != nil {
			// A duplicate slipping past the in-tx check means the store's
			// unique index caught a concurrent mint.
			return errutil.GenerationExhausted("could not issue a unique key batch")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	zap.L().Info("issued license batch",
		zap.String("plan_id", plan.PlanID),
		zap.Int("count", len(rows)),
	)

	return rows, nil
}

func (g *Generator) mintUniqueKey(ctx context.Context, tx *gorm.DB, minted map[string]struct{}) (string, error) {
	for attempt := 0; attempt < keyRetries; attempt++ {
		key, err := keygen.NewKey(g.format)
		if err != nil {
			return "", errutil.Internal("key entropy source failed", err)
		}

		if _, dup := minted[key]; dup {
			continue
		}

		var count int64
		if err := tx.WithContext(ctx).Model(&License{}).
			Unscoped(). // soft-deleted keys still occupy the namespace
			Where("license_key = ?", key).
			Count(&count).Error; err != nil {
			return "", errutil.Unavailable("key uniqueness check failed", err)
		}
		if count == 0 {
			return key, nil
		}
	}

	return "", errutil.GenerationExhausted("exhausted key collision retries")
}
