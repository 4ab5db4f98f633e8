package gorm

import (
	"fmt"
	"strings"
	"time"

	gormlogger "gorm.io/gorm/logger"

	"github.com/tigerroll/chunkbatch/pkg/batch/support/util/logger"
)

// NewGormLogger creates a gorm logger that writes through the framework logger.
//
// Parameters:
//
//	level: "SILENT", "ERROR", "WARN" or "INFO" (case-insensitive). Anything else means SILENT.
func NewGormLogger(level string) gormlogger.Interface {
	var gormLevel gormlogger.LogLevel
	switch strings.ToUpper(level) {
	case "ERROR":
		gormLevel = gormlogger.Error
	case "WARN", "WARNING":
		gormLevel = gormlogger.Warn
	case "INFO", "DEBUG":
		gormLevel = gormlogger.Info
	default:
		gormLevel = gormlogger.Silent
	}

	return gormlogger.New(
		NewGormWriter(),
		gormlogger.Config{
			SlowThreshold:             200 * time.Millisecond,
			LogLevel:                  gormLevel,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
}

// GormWriter redirects GORM log output to the framework logger.
type GormWriter struct{}

// NewGormWriter creates a new instance of GormWriter.
func NewGormWriter() *GormWriter {
	return &GormWriter{}
}

// Printf implements gormlogger.Writer.
// SQL trace lines go to DEBUG, everything else (slow query warnings, errors) to INFO.
func (w *GormWriter) Printf(format string, v ...interface{}) {
	msg := strings.TrimSpace(fmt.Sprintf(format, v...))
	if isSQLTrace(msg) {
		logger.Debugf("[GORM] %s", msg)
		return
	}
	logger.Infof("[GORM] %s", msg)
}

func isSQLTrace(msg string) bool {
	if !strings.Contains(msg, "[") || !strings.Contains(msg, "]") {
		return false
	}
	for _, verb := range []string{"SELECT", "INSERT", "UPDATE", "DELETE"} {
		if strings.Contains(msg, verb) {
			return true
		}
	}
	return false
}
