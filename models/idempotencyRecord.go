package models

import (
	"errors"
	"time"

	mysqlDriver "github.com/go-sql-driver/mysql"
)

// IdempotencyRecord is the exactly-once registry for invoice creation.
// The row is inserted inside the invoice transaction, so the registry entry
// exists if and only if the invoice was committed. The key is unique across
// all stores, so a concurrent duplicate submission fails with a duplicate-key
// error, which the engine resolves by returning the winner, and reusing a key
// from another store surfaces as a fingerprint conflict.
type IdempotencyRecord struct {
	ID          int       `gorm:"primary_key" json:"id"`
	StoreId     string    `gorm:"size:36;not null;index" json:"store_id"`
	IdemKey     string    `gorm:"size:255;not null;uniqueIndex:uniq_idem_key" json:"idem_key"`
	Fingerprint string    `gorm:"size:64;not null" json:"fingerprint"` // sha256 hex of the request payload
	InvoiceId   string    `gorm:"size:36;not null;index" json:"invoice_id"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
}

type IdempotencyStatus string

const (
	IdempotencyStatusStarted   IdempotencyStatus = "STARTED"
	IdempotencyStatusSucceeded IdempotencyStatus = "SUCCEEDED"
	IdempotencyStatusFailed    IdempotencyStatus = "FAILED"
)

// IdempotencyKey provides durable, DB-backed idempotency for worker handlers
// consuming Pub/Sub pushes. Unique constraint: (store_id, handler_name,
// message_id).
type IdempotencyKey struct {
	ID          int               `gorm:"primary_key" json:"id"`
	StoreId     string            `gorm:"size:36;not null;index:uniq_idem,unique" json:"store_id"`
	HandlerName string            `gorm:"size:100;not null;index:uniq_idem,unique" json:"handler_name"`
	MessageId   string            `gorm:"size:255;not null;index:uniq_idem,unique" json:"message_id"`
	Status      IdempotencyStatus `gorm:"size:20;not null;index" json:"status"`
	LastError   *string           `gorm:"type:text" json:"last_error"`
	CreatedAt   time.Time         `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time         `gorm:"autoUpdateTime" json:"updated_at"`
}

func isDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}

// isRetryableTxErr reports whether the transaction failed with an InnoDB
// deadlock (1213) or lock wait timeout (1205) and should be retried.
func isRetryableTxErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1213 || mysqlErr.Number == 1205
	}
	return false
}
