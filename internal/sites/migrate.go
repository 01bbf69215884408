package sites

import (
	"context"

	"github.com/rotisserie/eris"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Migrate applies the users and sites schema using Gorm's AutoMigrate and logs progress.
func Migrate(ctx context.Context, db *gorm.DB, logger *logrus.Logger) error {
	if db == nil {
		return eris.New("gorm DB is required")
	}

	logFields := logrus.Fields{"component": "sites.migrate"}
	if logger != nil {
		logger.WithFields(logFields).Info("applying sites schema")
	}

	if err := db.WithContext(ctx).AutoMigrate(&User{}, &Site{}); err != nil {
		if logger != nil {
			logger.WithFields(logFields).WithField("error", err.Error()).Error("sites schema migration failed")
		}
		return eris.Wrap(err, "auto migrating sites schema")
	}

	if logger != nil {
		logger.WithFields(logFields).Info("sites schema migration complete")
	}

	return nil
}
