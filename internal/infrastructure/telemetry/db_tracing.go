package telemetry

import (
	"fmt"

	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// RegisterDBTracing attaches otelgorm to db so that session and installation
// queries appear as child spans of the request or webhook that issued them.
// Query variables are never recorded; they include access tokens.
func RegisterDBTracing(db *gorm.DB, dbSystem string, enabled bool, logger *zap.Logger) error {
	if !enabled {
		return nil
	}
	plugin := otelgorm.NewPlugin(
		otelgorm.WithDBName(dbSystem),
		otelgorm.WithoutQueryVariables(),
	)
	if err := db.Use(plugin); err != nil {
		return fmt.Errorf("register otelgorm: %w", err)
	}
	logger.Info("Database tracing enabled", zap.String("db_system", dbSystem))
	return nil
}
