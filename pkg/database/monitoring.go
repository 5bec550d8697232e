package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/execledger/execledger/pkg/logger"
	"github.com/execledger/execledger/pkg/metrics"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// SlowQueryThreshold defines the threshold for slow queries
const SlowQueryThreshold = 100 * time.Millisecond

const queryStartKey = "monitor:query_start"

// InstrumentQueries registers gorm callbacks recording query durations
func InstrumentQueries(db *gorm.DB, log logger.Logger) error {
	before := func(tx *gorm.DB) {
		tx.InstanceSet(queryStartKey, time.Now())
	}
	after := func(op string) func(*gorm.DB) {
		return func(tx *gorm.DB) {
			recordQuery(tx, op, log)
		}
	}

	cb := db.Callback()
	errs := []error{
		cb.Query().Before("gorm:query").Register("monitor:before_query", before),
		cb.Query().After("gorm:query").Register("monitor:after_query", after("query")),
		cb.Create().Before("gorm:create").Register("monitor:before_create", before),
		cb.Create().After("gorm:create").Register("monitor:after_create", after("create")),
		cb.Update().Before("gorm:update").Register("monitor:before_update", before),
		cb.Update().After("gorm:update").Register("monitor:after_update", after("update")),
		cb.Delete().Before("gorm:delete").Register("monitor:before_delete", before),
		cb.Delete().After("gorm:delete").Register("monitor:after_delete", after("delete")),
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("failed to register query callbacks: %w", err)
	}
	return nil
}

func recordQuery(tx *gorm.DB, op string, log logger.Logger) {
	start, ok := tx.InstanceGet(queryStartKey)
	if !ok {
		return
	}
	duration := time.Since(start.(time.Time))
	metrics.DatabaseQueryDuration.WithLabelValues(op).Observe(duration.Seconds())

	if duration > SlowQueryThreshold {
		metrics.DatabaseSlowQueries.Inc()
		log.Warn("Slow query detected",
			"operation", op,
			"sql", tx.Statement.SQL.String(),
			"duration", duration,
			"threshold", SlowQueryThreshold,
		)
	}
}

// gormLogger routes gorm's own logging into the service logger
type gormLogger struct {
	log   logger.Logger
	level gormlogger.LogLevel
}

func NewGormLogger(log logger.Logger) gormlogger.Interface {
	return &gormLogger{log: log.Named("gorm"), level: gormlogger.Warn}
}

func (l *gormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	return &gormLogger{log: l.log, level: level}
}

func (l *gormLogger) Info(_ context.Context, msg string, args ...interface{}) {
	if l.level >= gormlogger.Info {
		l.log.Info(fmt.Sprintf(msg, args...))
	}
}

func (l *gormLogger) Warn(_ context.Context, msg string, args ...interface{}) {
	if l.level >= gormlogger.Warn {
		l.log.Warn(fmt.Sprintf(msg, args...))
	}
}

func (l *gormLogger) Error(_ context.Context, msg string, args ...interface{}) {
	if l.level >= gormlogger.Error {
		l.log.Error(fmt.Sprintf(msg, args...))
	}
}

func (l *gormLogger) Trace(_ context.Context, begin time.Time, fc func() (string, int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	switch {
	case err != nil && l.level >= gormlogger.Error &&
		!errors.Is(err, gorm.ErrRecordNotFound) && !errors.Is(err, gorm.ErrDuplicatedKey):
		sql, rows := fc()
		l.log.Error("Query failed", "sql", sql, "rows", rows, "elapsed", elapsed, "error", err)
	case l.level >= gormlogger.Info:
		sql, rows := fc()
		l.log.Debug("Query", "sql", sql, "rows", rows, "elapsed", elapsed)
	}
}
