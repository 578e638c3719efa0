package license

import (
	"licensing-controlplane/pkg/config"
	"licensing-controlplane/pkg/gen"

	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("license.module",
	fx.Provide(
		gen.NewSnowflakeNode,
		NewAuditor,
		provideGenerator,
		NewService,
		NewAdminService,
		NewHandler,
	),
	fx.Invoke(
		Migrate,
		RegisterRoutes,
	),
)

func provideGenerator(db *gorm.DB, node *gen.SnowflakeNode, cfg *config.Config) *Generator {
	return NewGenerator(db, node, cfg.Licensing)
}

// Migrate keeps the schema in step with the models on boot.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(Models()...)
}
