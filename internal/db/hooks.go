package db

import (
	"time"

	"gorm.io/gorm"

	"example.com/backstage/services/aggregation/internal/metrics"
)

const startTimeKey = "start_time"

// RegisterMetricsHooks registers GORM hooks for database metrics
func RegisterMetricsHooks(db *gorm.DB) {
	db.Callback().Create().After("gorm:create").Register("metrics:create", recordQuery(metrics.DBQueryTypeInsert))
	db.Callback().Query().After("gorm:query").Register("metrics:query", recordQuery(metrics.DBQueryTypeSelect))
	db.Callback().Update().After("gorm:update").Register("metrics:update", recordQuery(metrics.DBQueryTypeUpdate))
	db.Callback().Delete().After("gorm:delete").Register("metrics:delete", recordQuery(metrics.DBQueryTypeDelete))
}

func recordQuery(queryType string) func(*gorm.DB) {
	return func(db *gorm.DB) {
		success := db.Error == nil || IsRecordNotFoundError(db.Error)
		metrics.GetMetricsCollector().RecordDatabaseQuery(queryType, success, getDuration(db))
	}
}

// Get the duration of the database operation
func getDuration(db *gorm.DB) time.Duration {
	if start, ok := db.InstanceGet(startTimeKey); ok {
		return time.Since(start.(time.Time))
	}
	return 0
}

// LogDuration sets the start time of the database operation
func LogDuration(db *gorm.DB) {
	db.InstanceSet(startTimeKey, time.Now())
}

// RegisterDurationHooks adds callbacks that stamp the start time before each operation
func RegisterDurationHooks(db *gorm.DB) {
	db.Callback().Create().Before("gorm:create").Register("duration:create", LogDuration)
	db.Callback().Query().Before("gorm:query").Register("duration:query", LogDuration)
	db.Callback().Update().Before("gorm:update").Register("duration:update", LogDuration)
	db.Callback().Delete().Before("gorm:delete").Register("duration:delete", LogDuration)
}
