package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/pos_backend/config"
	"bitbucket.org/mmdatafocus/pos_backend/models"
	"bitbucket.org/mmdatafocus/pos_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const (
	handlerPdfGenerate  = "pdf_generate"
	handlerNotification = "notification"
)

// ProcessEventMessage routes a consumed event to its handler. Handlers are
// durable-idempotent: a redelivered message that already SUCCEEDED is
// acked without side effects.
func ProcessEventMessage(ctx context.Context, logger *logrus.Logger, m config.EventMessage) error {
	switch m.EventName {
	case models.EventInvoicePdfRequested:
		return handlePdfRequested(ctx, logger, m)
	case models.EventInvoiceCreated:
		return handleInvoiceNotification(ctx, logger, m)
	default:
		// inventory.updated and pdf_ready have no backend consumer yet
		return nil
	}
}

func messageId(m config.EventMessage) string {
	return fmt.Sprintf("%s:%d", m.EventName, m.ID)
}

// claimIdempotency runs the STARTED claim in its own short transaction so
// the claim is visible before any slow work begins.
func claimIdempotency(ctx context.Context, db *gorm.DB, storeId, handlerName, msgId string) (skip bool, err error) {
	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txErr error
		skip, txErr = BeginIdempotency(tx, storeId, handlerName, msgId)
		return txErr
	})
	return skip, err
}

// markHandlerFailed persists FAILED in its own transaction. The handler's
// error is what the caller returns; a marker write failure only logs.
func markHandlerFailed(ctx context.Context, db *gorm.DB, logger *logrus.Logger, storeId, handlerName, msgId string, cause error) {
	markErr := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return MarkIdempotencyFailed(tx, storeId, handlerName, msgId, cause)
	})
	if markErr != nil {
		config.LogError(logger, "documentWorkflow.go", "markHandlerFailed", "Persisting failure marker", msgId, markErr)
	}
}

// handlePdfRequested renders the invoice through the external PDF renderer,
// uploads the result to GCS and stores the URL on the invoice. The slow
// renderer and upload calls run outside any DB transaction; the idempotency
// claim and outcome markers each commit in their own short transaction so a
// FAILED marker survives the handler error (the upload is
// overwrite-idempotent, so a crash before the final commit retries safely).
func handlePdfRequested(ctx context.Context, logger *logrus.Logger, m config.EventMessage) error {
	db := config.GetDB()

	var payload models.PdfRequestPayload
	if err := json.Unmarshal(m.Payload, &payload); err != nil {
		config.LogError(logger, "documentWorkflow.go", "handlePdfRequested", "Unmarshaling payload", m.Payload, err)
		// malformed payloads never become valid, ack them
		return nil
	}

	msgId := messageId(m)
	skip, err := claimIdempotency(ctx, db, m.StoreId, handlerPdfGenerate, msgId)
	if err != nil {
		return err
	}
	if skip {
		return nil
	}

	invoice, err := models.GetInvoice(ctx, payload.InvoiceId)
	if err != nil {
		if errors.Is(err, utils.ErrorRecordNotFound) {
			// invoice never committed (outbox is only written on commit,
			// so this should not happen); ack rather than retry forever
			return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
				return MarkIdempotencySucceeded(tx, m.StoreId, handlerPdfGenerate, msgId)
			})
		}
		return err
	}

	pdfData, err := renderInvoicePdf(ctx, invoice)
	if err != nil {
		markHandlerFailed(ctx, db, logger, m.StoreId, handlerPdfGenerate, msgId, err)
		return err
	}

	objectName := "invoices/" + invoice.StoreId + "/" + invoice.ID + ".pdf"
	pdfUrl, err := utils.SaveInvoicePdfToGCS(ctx, objectName, pdfData)
	if err != nil {
		markHandlerFailed(ctx, db, logger, m.StoreId, handlerPdfGenerate, msgId, err)
		return err
	}

	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := models.SetInvoicePdfUrl(tx, invoice.ID, pdfUrl); err != nil {
			return err
		}
		if err := models.PublishEvent(ctx, tx, models.EventInvoicePdfReady, invoice.StoreId, invoice.ID,
			map[string]string{"invoice_id": invoice.ID, "pdf_url": pdfUrl}); err != nil {
			return err
		}
		return MarkIdempotencySucceeded(tx, m.StoreId, handlerPdfGenerate, msgId)
	})
}

// renderInvoicePdf POSTs the invoice to the external renderer and returns
// the PDF bytes.
func renderInvoicePdf(ctx context.Context, invoice *models.Invoice) ([]byte, error) {
	rendererURL := strings.TrimSpace(os.Getenv("PDF_RENDERER_URL"))
	if rendererURL == "" {
		return nil, errors.New("PDF_RENDERER_URL is required")
	}

	body, err := json.Marshal(invoice)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rendererURL, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pdf renderer unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pdf renderer returned %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

// handleInvoiceNotification forwards the invoice to the configured webhook
// (store owner notification sink). Missing configuration means the sink is
// disabled, not an error.
func handleInvoiceNotification(ctx context.Context, logger *logrus.Logger, m config.EventMessage) error {
	db := config.GetDB()

	webhookURL := strings.TrimSpace(os.Getenv("NOTIFY_WEBHOOK_URL"))
	if webhookURL == "" {
		return nil
	}

	msgId := messageId(m)
	skip, err := claimIdempotency(ctx, db, m.StoreId, handlerNotification, msgId)
	if err != nil {
		return err
	}
	if skip {
		return nil
	}

	if err := postNotification(ctx, webhookURL, m); err != nil {
		markHandlerFailed(ctx, db, logger, m.StoreId, handlerNotification, msgId, err)
		return err
	}
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return MarkIdempotencySucceeded(tx, m.StoreId, handlerNotification, msgId)
	})
}

func postNotification(ctx context.Context, webhookURL string, m config.EventMessage) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(m.Payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Name", m.EventName)
	req.Header.Set("X-Correlation-Id", m.CorrelationId)

	client := &http.Client{Timeout: 15 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("notification webhook returned %d", resp.StatusCode)
	}
	return nil
}
