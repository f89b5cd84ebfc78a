package database

import (
	"fmt"
	"time"

	"github.com/thoka/discourse-login-helper/services/logging"
	gormlogger "gorm.io/gorm/logger"
)

// gormWriter routes gorm's slow query and error lines into zap.
type gormWriter struct {
	logger *logging.Service
}

func (w gormWriter) Printf(format string, args ...any) {
	w.logger.Warn(fmt.Sprintf(format, args...))
}

func newGormLogger(logger *logging.Service) gormlogger.Interface {
	if logger == nil {
		return gormlogger.Default.LogMode(gormlogger.Silent)
	}
	return gormlogger.New(gormWriter{logger: logger.Named("gorm")}, gormlogger.Config{
		SlowThreshold:             200 * time.Millisecond,
		LogLevel:                  gormlogger.Warn,
		IgnoreRecordNotFoundError: true,
		Colorful:                  false,
	})
}
