package license

import (
	"context"

	"licensing-controlplane/pkg/gen"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Auditor appends one UsageLog row per attempt, success or failure. Writes
// go through the outer DB handle, never the operation's transaction, so a
// rolled-back activation still leaves its failed audit row behind.
type Auditor struct {
	db   *gorm.DB
	node *gen.SnowflakeNode
}

func NewAuditor(db *gorm.DB, node *gen.SnowflakeNode) *Auditor {
	return &Auditor{db: db, node: node}
}

// Record is best-effort: a failed audit write is logged but does not fail
// the operation that produced it. Detail must never carry another license's
// hwid or device info.
func (a *Auditor) Record(ctx context.Context, licenseID string, action UsageAction, actorID, ip string, success bool, detail string) {
	row := &UsageLog{
		LogID:     a.node.GenerateID().String(),
		LicenseID: licenseID,
		Action:    action,
		ActorID:   actorID,
		IPAddress: ip,
		Success:   success,
		Detail:    detail,
	}

	if err := a.db.WithContext(ctx).Create(row).Error; err != nil {
		zap.L().Error("failed to append usage log",
			zap.String("license_id", licenseID),
			zap.String("action", string(action)),
			zap.Error(err),
		)
	}
}
