package repository

import (
	"database/sql"
	"time"

	"go.uber.org/zap"

	"github.com/happy-code-egg/ruidao-sub002/internal/domain/workflow"
)

// rowScanner covers *sql.Row and *sql.Rows
type rowScanner interface {
	Scan(dest ...interface{}) error
}

// storageError logs a failed statement and wraps it as workflow.ErrStorage
func storageError(logger *zap.Logger, op string, err error, fields ...zap.Field) error {
	logger.Error("Storage operation failed", append(fields, zap.String("op", op), zap.Error(err))...)
	return workflow.NewStorageError(op, err)
}

// requireAffected maps a conditional write that matched no rows to ErrAlreadyProcessed
func requireAffected(result sql.Result) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return workflow.ErrAlreadyProcessed
	}
	return nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

func nullInt64(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func now() time.Time {
	return time.Now().UTC()
}
