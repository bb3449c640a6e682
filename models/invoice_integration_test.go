package models_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/pos_backend/config"
	"bitbucket.org/mmdatafocus/pos_backend/models"
	"bitbucket.org/mmdatafocus/pos_backend/utils"
	"bitbucket.org/mmdatafocus/pos_backend/workflow"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

func TestCreateInvoiceDecrementsStockAndWritesOutbox(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx := context.Background()

	redisName, redisPort := startRedisContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(redisName) })

	mysqlName, mysqlPort := startMySQLContainer(t)
	t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

	// Wire env for config.Connect* helpers.
	t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
	t.Setenv("DB_USER", "root")
	t.Setenv("DB_PASSWORD", "testpw")
	t.Setenv("DB_HOST", "127.0.0.1")
	t.Setenv("DB_PORT", mysqlPort)
	t.Setenv("DB_NAME", "pos_test")

	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()
	models.MigrateTable()

	store, err := models.CreateStore(ctx, &models.NewStore{
		Name:   "Downtown",
		Region: "Yangon",
		City:   "Yangon",
	})
	if err != nil {
		t.Fatalf("CreateStore: %v", err)
	}
	branch, err := models.CreateStore(ctx, &models.NewStore{
		Name:   "Airport Branch",
		Region: "Mandalay",
		City:   "Mandalay",
	})
	if err != nil {
		t.Fatalf("CreateStore(branch): %v", err)
	}

	active := true
	worker, err := models.CreateUser(ctx, &models.NewUser{
		StoreId:  store.ID,
		Username: "cashier1",
		Name:     "Cashier One",
		Password: "testpw123",
		IsActive: &active,
		Role:     models.UserRoleSales,
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	ctx = utils.SetCallerIdInContext(ctx, worker.ID)
	ctx = utils.SetCallerRoleInContext(ctx, string(models.UserRoleSales))

	mug, err := models.CreateProduct(ctx, &models.NewProduct{
		StoreId:  store.ID,
		Name:     "Coffee Mug",
		Sku:      "MUG-001",
		ScanCode: "8850001000011",
		Price:    decimal.NewFromInt(3500),
	})
	if err != nil {
		t.Fatalf("CreateProduct: %v", err)
	}

	// Restock 10. CreateProduct seeds the inventory row at zero.
	if _, err := models.AdjustInventory(ctx, &models.NewInventoryAdjustment{
		StoreId:   store.ID,
		ProductId: mug.ID,
		QtyDelta:  10,
		Note:      "initial restock",
	}); err != nil {
		t.Fatalf("AdjustInventory: %v", err)
	}

	// Scan resolves the product with live quantity.
	scan, err := models.ScanProduct(ctx, store.ID, "8850001000011")
	if err != nil {
		t.Fatalf("ScanProduct: %v", err)
	}
	if scan.Product.ID != mug.ID || scan.QtyOnHand != 10 {
		t.Fatalf("scan mismatch: product=%s qty=%d", scan.Product.ID, scan.QtyOnHand)
	}

	// Sell 3.
	idemKey := "sale-0001"
	inv, err := models.CreateInvoice(ctx, &models.NewInvoice{
		StoreId:        store.ID,
		WorkerId:       worker.ID,
		Items:          []models.NewInvoiceItem{{ProductId: mug.ID, Qty: 3}},
		IdempotencyKey: &idemKey,
	})
	if err != nil {
		t.Fatalf("CreateInvoice: %v", err)
	}
	if len(inv.Lines) != 1 || inv.Lines[0].Qty != 3 {
		t.Fatalf("expected one line qty=3; got %+v", inv.Lines)
	}
	if !inv.TotalAmount.Equal(decimal.NewFromInt(10500)) {
		t.Fatalf("expected total 10500; got %s", inv.TotalAmount.String())
	}

	rec, err := models.GetInventoryRecord(ctx, store.ID, mug.ID)
	if err != nil {
		t.Fatalf("GetInventoryRecord: %v", err)
	}
	if rec.QtyOnHand != 7 {
		t.Fatalf("expected qty_on_hand=7 after sale; got %d", rec.QtyOnHand)
	}

	// Replay with the same key returns the committed invoice, no second decrement.
	replay, err := models.CreateInvoice(ctx, &models.NewInvoice{
		StoreId:        store.ID,
		WorkerId:       worker.ID,
		Items:          []models.NewInvoiceItem{{ProductId: mug.ID, Qty: 3}},
		IdempotencyKey: &idemKey,
	})
	if err != nil {
		t.Fatalf("CreateInvoice(replay): %v", err)
	}
	if replay.ID != inv.ID {
		t.Fatalf("replay returned a different invoice: %s vs %s", replay.ID, inv.ID)
	}
	rec, err = models.GetInventoryRecord(ctx, store.ID, mug.ID)
	if err != nil {
		t.Fatalf("GetInventoryRecord(after replay): %v", err)
	}
	if rec.QtyOnHand != 7 {
		t.Fatalf("replay must not decrement again; got qty_on_hand=%d", rec.QtyOnHand)
	}

	// Same key with a different payload is a conflict.
	if _, err := models.CreateInvoice(ctx, &models.NewInvoice{
		StoreId:        store.ID,
		WorkerId:       worker.ID,
		Items:          []models.NewInvoiceItem{{ProductId: mug.ID, Qty: 5}},
		IdempotencyKey: &idemKey,
	}); !errors.Is(err, utils.ErrorIdempotencyConflict) {
		t.Fatalf("expected ErrorIdempotencyConflict; got %v", err)
	}

	// Oversell is rejected atomically and nothing changes.
	if _, err := models.CreateInvoice(ctx, &models.NewInvoice{
		StoreId:  store.ID,
		WorkerId: worker.ID,
		Items:    []models.NewInvoiceItem{{ProductId: mug.ID, Qty: 8}},
	}); !errors.Is(err, utils.ErrorInsufficientStock) {
		t.Fatalf("expected ErrorInsufficientStock; got %v", err)
	}
	rec, err = models.GetInventoryRecord(ctx, store.ID, mug.ID)
	if err != nil {
		t.Fatalf("GetInventoryRecord(after oversell): %v", err)
	}
	if rec.QtyOnHand != 7 {
		t.Fatalf("failed sale must not move stock; got qty_on_hand=%d", rec.QtyOnHand)
	}

	// Outbox holds invoice.created, inventory.updated and the pdf request.
	db := config.GetDB()
	var names []string
	if err := db.WithContext(ctx).Model(&models.EventRecord{}).
		Where("store_id = ? AND reference_id = ?", store.ID, inv.ID).
		Order("id ASC").
		Pluck("event_name", &names).Error; err != nil {
		t.Fatalf("fetch outbox records: %v", err)
	}
	want := map[string]bool{
		models.EventInvoiceCreated:      false,
		models.EventInventoryUpdated:    false,
		models.EventInvoicePdfRequested: false,
	}
	for _, n := range names {
		if _, ok := want[n]; ok {
			want[n] = true
		}
	}
	for n, seen := range want {
		if !seen {
			t.Fatalf("missing outbox record %q; got %v", n, names)
		}
	}

	// The ledger explains the on-hand quantity: +10 restock, -3 sale.
	movements, err := models.GetInventoryMovements(ctx, models.MovementFilter{
		StoreId:   store.ID,
		ProductId: mug.ID,
	})
	if err != nil {
		t.Fatalf("GetInventoryMovements: %v", err)
	}
	sum := 0
	for _, m := range movements {
		sum += m.QtyDelta
	}
	if sum != 7 {
		t.Fatalf("expected movement sum 7; got %d from %d movements", sum, len(movements))
	}

	// Unknown invoice ids are a straight not-found.
	if _, err := models.GetInvoice(ctx, "00000000-0000-0000-0000-000000000000"); !errors.Is(err, utils.ErrorRecordNotFound) {
		t.Fatalf("expected ErrorRecordNotFound for unknown invoice; got %v", err)
	}

	// A cancelled caller context aborts the sale before anything commits.
	cancelledCtx, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := models.CreateInvoice(cancelledCtx, &models.NewInvoice{
		StoreId:  store.ID,
		WorkerId: worker.ID,
		Items:    []models.NewInvoiceItem{{ProductId: mug.ID, Qty: 1}},
	}); err == nil {
		t.Fatalf("expected error from cancelled context")
	}
	rec, err = models.GetInventoryRecord(ctx, store.ID, mug.ID)
	if err != nil {
		t.Fatalf("GetInventoryRecord(after cancel): %v", err)
	}
	if rec.QtyOnHand != 7 {
		t.Fatalf("cancelled sale must not move stock; got qty_on_hand=%d", rec.QtyOnHand)
	}

	// Keys are unique across all stores: reusing a consumed key from
	// another store is a conflict, never a second invoice.
	branchWorker, err := models.CreateUser(ctx, &models.NewUser{
		StoreId:  branch.ID,
		Username: "cashier2",
		Name:     "Cashier Two",
		Password: "testpw123",
		IsActive: &active,
		Role:     models.UserRoleSales,
	})
	if err != nil {
		t.Fatalf("CreateUser(branch): %v", err)
	}
	branchProduct, err := models.CreateProduct(ctx, &models.NewProduct{
		StoreId:  branch.ID,
		Name:     "Coffee Mug",
		Sku:      "MUG-001",
		ScanCode: "8850001000012",
		Price:    decimal.NewFromInt(3500),
	})
	if err != nil {
		t.Fatalf("CreateProduct(branch): %v", err)
	}
	if _, err := models.AdjustInventory(utils.SetCallerIdInContext(ctx, branchWorker.ID), &models.NewInventoryAdjustment{
		StoreId:   branch.ID,
		ProductId: branchProduct.ID,
		QtyDelta:  10,
		Note:      "initial restock",
	}); err != nil {
		t.Fatalf("AdjustInventory(branch): %v", err)
	}
	branchCtx := utils.SetCallerIdInContext(ctx, branchWorker.ID)
	if _, err := models.CreateInvoice(branchCtx, &models.NewInvoice{
		StoreId:        branch.ID,
		WorkerId:       branchWorker.ID,
		Items:          []models.NewInvoiceItem{{ProductId: branchProduct.ID, Qty: 1}},
		IdempotencyKey: &idemKey,
	}); !errors.Is(err, utils.ErrorIdempotencyConflict) {
		t.Fatalf("expected ErrorIdempotencyConflict for cross-store key reuse; got %v", err)
	}

	// Region and city show up in the dashboard filters.
	options, err := models.GetFilterOptions(ctx, store.ID)
	if err != nil {
		t.Fatalf("GetFilterOptions: %v", err)
	}
	regions := map[string]bool{}
	for _, r := range options.Regions {
		regions[r] = true
	}
	cities := map[string]bool{}
	for _, c := range options.Cities {
		cities[c] = true
	}
	if !regions["Yangon"] || !regions["Mandalay"] {
		t.Fatalf("expected both regions in filters; got %v", options.Regions)
	}
	if !cities["Yangon"] || !cities["Mandalay"] {
		t.Fatalf("expected both cities in filters; got %v", options.Cities)
	}

	// A failed PDF render must leave a durable FAILED marker even though
	// the handler reports the error for redelivery.
	var pdfEvent models.EventRecord
	if err := db.WithContext(ctx).
		Where("store_id = ? AND reference_id = ? AND event_name = ?",
			store.ID, inv.ID, models.EventInvoicePdfRequested).
		Take(&pdfEvent).Error; err != nil {
		t.Fatalf("fetch pdf_requested record: %v", err)
	}
	t.Setenv("PDF_RENDERER_URL", "")
	handlerErr := workflow.ProcessEventMessage(ctx, logrus.New(), models.ConvertToEventMessage(pdfEvent))
	if handlerErr == nil {
		t.Fatalf("expected pdf handler to fail without a renderer")
	}
	var marker models.IdempotencyKey
	if err := db.WithContext(ctx).
		Where("store_id = ? AND message_id = ?",
			store.ID, fmt.Sprintf("%s:%d", pdfEvent.EventName, pdfEvent.ID)).
		Take(&marker).Error; err != nil {
		t.Fatalf("fetch idempotency marker: %v", err)
	}
	if marker.Status != models.IdempotencyStatusFailed {
		t.Fatalf("expected FAILED marker to persist; got %s", marker.Status)
	}
	if marker.LastError == nil || *marker.LastError == "" {
		t.Fatalf("expected last_error to be recorded")
	}
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("pos-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("pos-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=pos_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
