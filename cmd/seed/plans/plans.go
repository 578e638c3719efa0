package main

import (
	"context"
	"log"

	"licensing-controlplane/pkg/config"
	"licensing-controlplane/pkg/db"
	"licensing-controlplane/pkg/gen"
	"licensing-controlplane/pkg/logger"
	"licensing-controlplane/services/license"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Seeds the default plan catalog for local development.
func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		fx.Provide(gen.NewSnowflakeNode),
		fx.Invoke(seedPlans),
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

func seedPlans(gdb *gorm.DB, node *gen.SnowflakeNode, shutdowner fx.Shutdowner) error {
	if err := gdb.AutoMigrate(license.Models()...); err != nil {
		return err
	}

	plans := []license.Plan{
		{
			PlanID:        node.GenerateID().String(),
			Name:          "trial-14d",
			DurationType:  license.DurationDays,
			DurationValue: 14,
			MaxDevices:    1,
		},
		{
			PlanID:        node.GenerateID().String(),
			Name:          "standard-1y",
			DurationType:  license.DurationYears,
			DurationValue: 1,
			MaxDevices:    3,
		},
		{
			PlanID:        node.GenerateID().String(),
			Name:          "lifetime",
			DurationType:  license.DurationLifetime,
			MaxDevices:    5,
		},
	}

	for _, plan := range plans {
		err := gdb.WithContext(context.Background()).
			Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "name"}},
				DoNothing: true,
			}).
			Create(&plan).Error
		if err != nil {
			return err
		}
		zap.L().Info("seeded plan", zap.String("name", plan.Name))
	}

	return shutdowner.Shutdown()
}
