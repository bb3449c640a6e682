package models

import (
	"context"
	"encoding/json"
	"time"

	"bitbucket.org/mmdatafocus/pos_backend/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PublishEvent implements the transactional outbox: it writes the event
// record inside the caller's DB transaction but does NOT publish to Pub/Sub.
// Publishing is performed asynchronously by the outbox dispatcher after
// commit, so side effects are best-effort and never block the invoice.
func PublishEvent(ctx context.Context, tx *gorm.DB, eventName string, storeId string, referenceId string, payload interface{}) error {
	payloadInByte, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	record := EventRecord{
		EventName:     eventName,
		StoreId:       storeId,
		ReferenceId:   referenceId,
		OccurredAt:    time.Now().UTC(),
		Payload:       payloadInByte,
		PublishStatus: OutboxPublishStatusPending,
		CorrelationId: correlationIdFromContextOrNew(ctx),
	}
	if err := tx.Create(&record).Error; err != nil {
		return err
	}
	return nil
}

// clampLimit normalizes a requested page size: non-positive values fall back
// to the default, values above the cap are reduced to the cap.
func clampLimit(limit int, fallback int, ceiling int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > ceiling {
		return ceiling
	}
	return limit
}

func correlationIdFromContextOrNew(ctx context.Context) string {
	if ctx != nil {
		if v, ok := utils.GetCorrelationIdFromContext(ctx); ok && v != "" {
			return v
		}
	}
	return uuid.NewString()
}
