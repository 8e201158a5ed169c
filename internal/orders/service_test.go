package orders

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/bazarika/bazarika-backend/internal/inventory"
	"github.com/bazarika/bazarika-backend/internal/notifications"
	"github.com/bazarika/bazarika-backend/pkg/db/models"
	dbtypes "github.com/bazarika/bazarika-backend/pkg/db/types"
	"github.com/bazarika/bazarika-backend/pkg/enums"
	pkgerrors "github.com/bazarika/bazarika-backend/pkg/errors"
	"github.com/bazarika/bazarika-backend/pkg/outbox"
	"github.com/bazarika/bazarika-backend/pkg/sslcommerz"
	"github.com/bazarika/bazarika-backend/pkg/types"
)

var workflowTables = []string{
	`CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY DEFAULT (lower(hex(randomblob(16)))),
		vendor_id TEXT NOT NULL,
		name TEXT NOT NULL,
		category TEXT NOT NULL,
		price NUMERIC NOT NULL,
		stock_qty INTEGER NOT NULL DEFAULT 0,
		sales_count INTEGER NOT NULL DEFAULT 0,
		total_sales NUMERIC NOT NULL DEFAULT 0,
		service_charge_rate NUMERIC NOT NULL DEFAULT 0.05,
		status TEXT NOT NULL DEFAULT 'active',
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE IF NOT EXISTS orders (
		id TEXT PRIMARY KEY DEFAULT (lower(hex(randomblob(16)))),
		order_number TEXT NOT NULL UNIQUE,
		customer_id TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending_admin_approval',
		admin_approval TEXT NOT NULL DEFAULT 'pending',
		subtotal NUMERIC NOT NULL,
		tax NUMERIC NOT NULL,
		shipping_fee NUMERIC NOT NULL,
		service_charge NUMERIC NOT NULL,
		discount NUMERIC NOT NULL DEFAULT 0,
		total NUMERIC NOT NULL,
		shipping_address TEXT,
		reject_reason TEXT,
		cancel_reason TEXT,
		approved_at DATETIME,
		cancelled_at DATETIME,
		delivered_at DATETIME,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE IF NOT EXISTS order_items (
		id TEXT PRIMARY KEY DEFAULT (lower(hex(randomblob(16)))),
		order_id TEXT NOT NULL,
		product_id TEXT NOT NULL,
		vendor_id TEXT NOT NULL,
		name TEXT NOT NULL,
		category TEXT NOT NULL,
		unit_price NUMERIC NOT NULL,
		quantity INTEGER NOT NULL,
		line_total NUMERIC NOT NULL,
		service_charge_rate NUMERIC NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		stock_committed_at DATETIME,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE IF NOT EXISTS vendor_assignments (
		id TEXT PRIMARY KEY DEFAULT (lower(hex(randomblob(16)))),
		order_id TEXT NOT NULL,
		vendor_id TEXT NOT NULL,
		item_ids TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		reject_reason TEXT,
		responded_at DATETIME,
		created_at DATETIME,
		updated_at DATETIME,
		UNIQUE (order_id, vendor_id)
	)`,
	`CREATE TABLE IF NOT EXISTS payments (
		id TEXT PRIMARY KEY DEFAULT (lower(hex(randomblob(16)))),
		order_id TEXT NOT NULL UNIQUE,
		amount NUMERIC NOT NULL,
		refunded_amount NUMERIC NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'pending',
		session_key TEXT,
		transaction_id TEXT UNIQUE,
		validation_id TEXT,
		bank_tran_id TEXT,
		failure_reason TEXT,
		paid_at DATETIME,
		refunded_at DATETIME,
		refund_initiated_at DATETIME,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE IF NOT EXISTS notifications (
		id TEXT PRIMARY KEY DEFAULT (lower(hex(randomblob(16)))),
		user_id TEXT NOT NULL,
		type TEXT NOT NULL,
		title TEXT NOT NULL,
		body TEXT NOT NULL,
		order_id TEXT,
		read_at DATETIME,
		created_at DATETIME
	)`,
	`CREATE TABLE IF NOT EXISTS outbox_events (
		id TEXT PRIMARY KEY DEFAULT (lower(hex(randomblob(16)))),
		event_type TEXT NOT NULL,
		aggregate_type TEXT NOT NULL,
		aggregate_id TEXT NOT NULL,
		payload TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		created_at DATETIME,
		published_at DATETIME,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		last_error TEXT
	)`,
}

func setupWorkflowDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	for _, stmt := range workflowTables {
		require.NoError(t, db.Exec(stmt).Error)
	}
	return db
}

type gormTxRunner struct {
	db *gorm.DB
}

func (r gormTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		return fn(tx)
	})
}

type fakeDirectory struct {
	admins      []uuid.UUID
	vendorUsers map[uuid.UUID][]uuid.UUID
}

func (d *fakeDirectory) AdminIDs(ctx context.Context) ([]uuid.UUID, error) {
	return d.admins, nil
}

func (d *fakeDirectory) VendorUserIDs(ctx context.Context, vendorID uuid.UUID) ([]uuid.UUID, error) {
	return d.vendorUsers[vendorID], nil
}

type fakeRefundGateway struct {
	err   error
	calls []sslcommerz.RefundRequest
}

func (g *fakeRefundGateway) InitiateRefund(ctx context.Context, req sslcommerz.RefundRequest) (*sslcommerz.RefundResponse, error) {
	g.calls = append(g.calls, req)
	if g.err != nil {
		return nil, g.err
	}
	return &sslcommerz.RefundResponse{Status: "SUCCESS", RefundRefID: "ref-" + uuid.NewString()[:8]}, nil
}

type workflowEnv struct {
	db        *gorm.DB
	repo      Repository
	svc       Service
	directory *fakeDirectory
	gateway   *fakeRefundGateway
}

func newWorkflowEnv(t *testing.T) *workflowEnv {
	t.Helper()
	db := setupWorkflowDB(t)
	notifySvc, err := notifications.NewService(notifications.NewRepository(db))
	require.NoError(t, err)
	outboxSvc := outbox.NewService(outbox.NewRepository(db), nil)
	directory := &fakeDirectory{vendorUsers: map[uuid.UUID][]uuid.UUID{}}
	gateway := &fakeRefundGateway{}
	repo := NewRepository(db)
	svc, err := NewService(repo, gormTxRunner{db: db}, inventory.NewService(), notifySvc, directory, outboxSvc, gateway)
	require.NoError(t, err)
	return &workflowEnv{db: db, repo: repo, svc: svc, directory: directory, gateway: gateway}
}

func adminActor() Actor {
	return Actor{UserID: uuid.New(), Role: enums.MemberRoleAdmin}
}

func customerActor(customerID uuid.UUID) Actor {
	return Actor{UserID: customerID, Role: enums.MemberRoleCustomer}
}

func vendorActor(vendorID uuid.UUID) Actor {
	return Actor{UserID: uuid.New(), Role: enums.MemberRoleVendor, VendorID: &vendorID}
}

func seedWorkflowProduct(t *testing.T, db *gorm.DB, vendorID uuid.UUID, stock int) *models.Product {
	t.Helper()
	product := &models.Product{
		ID:                uuid.New(),
		VendorID:          vendorID,
		Name:              "Clay Teapot",
		Category:          "homeware",
		Price:             decimal.NewFromInt(400),
		StockQty:          stock,
		ServiceChargeRate: decimal.NewFromFloat(0.05),
		Status:            enums.ProductStatusActive,
	}
	require.NoError(t, db.Create(product).Error)
	return product
}

func orderLine(product *models.Product, qty int, status enums.OrderItemStatus, committed bool) models.OrderItem {
	line := models.OrderItem{
		ID:                uuid.New(),
		ProductID:         product.ID,
		VendorID:          product.VendorID,
		Name:              product.Name,
		Category:          product.Category,
		UnitPrice:         product.Price,
		Quantity:          qty,
		LineTotal:         product.Price.Mul(decimal.NewFromInt(int64(qty))),
		ServiceChargeRate: product.ServiceChargeRate,
		Status:            status,
	}
	if committed {
		now := time.Now().UTC()
		line.StockCommittedAt = &now
	}
	return line
}

func seedWorkflowOrder(
	t *testing.T,
	db *gorm.DB,
	customerID uuid.UUID,
	status enums.OrderStatus,
	approval enums.AdminApprovalStatus,
	paymentStatus enums.PaymentStatus,
	items ...models.OrderItem,
) *models.Order {
	t.Helper()
	subtotal := decimal.Zero
	for _, item := range items {
		subtotal = subtotal.Add(item.LineTotal)
	}
	order := &models.Order{
		ID:            uuid.New(),
		OrderNumber:   fmt.Sprintf("ORD-TEST-%s", uuid.NewString()[:8]),
		CustomerID:    customerID,
		Status:        status,
		AdminApproval: approval,
		Subtotal:      subtotal,
		Tax:           decimal.Zero,
		ShippingFee:   decimal.Zero,
		ServiceCharge: decimal.Zero,
		Total:         subtotal,
		ShippingAddress: types.Address{
			Name:       "Asha Rahman",
			Phone:      "01700000000",
			Line1:      "12 Lake Road",
			City:       "Dhaka",
			PostalCode: "1207",
			Country:    "BD",
		},
		Items: items,
		Payment: &models.Payment{
			ID:     uuid.New(),
			Amount: subtotal,
			Status: paymentStatus,
		},
	}
	require.NoError(t, db.Create(order).Error)
	return order
}

func seedAssignment(t *testing.T, db *gorm.DB, orderID, vendorID uuid.UUID, itemIDs []uuid.UUID, status enums.AssignmentStatus) *models.VendorAssignment {
	t.Helper()
	assignment := &models.VendorAssignment{
		ID:       uuid.New(),
		OrderID:  orderID,
		VendorID: vendorID,
		ItemIDs:  dbtypes.UUIDArray(itemIDs),
		Status:   status,
	}
	require.NoError(t, db.Create(assignment).Error)
	return assignment
}

func markPaid(t *testing.T, db *gorm.DB, orderID uuid.UUID) {
	t.Helper()
	now := time.Now().UTC()
	require.NoError(t, db.Model(&models.Payment{}).
		Where("order_id = ?", orderID).
		Updates(map[string]any{
			"status":         enums.PaymentStatusPaid,
			"transaction_id": "TX-" + uuid.NewString()[:8],
			"bank_tran_id":   "BANK-" + uuid.NewString()[:8],
			"paid_at":        now,
		}).Error)
}

func reloadOrder(t *testing.T, repo Repository, orderID uuid.UUID) *models.Order {
	t.Helper()
	order, err := repo.FindByID(context.Background(), orderID)
	require.NoError(t, err)
	require.NotNil(t, order)
	return order
}

func productStock(t *testing.T, db *gorm.DB, productID uuid.UUID) int {
	t.Helper()
	var product models.Product
	require.NoError(t, db.First(&product, "id = ?", productID).Error)
	return product.StockQty
}

func notificationCount(t *testing.T, db *gorm.DB, userID uuid.UUID, typ enums.NotificationType) int64 {
	t.Helper()
	var count int64
	require.NoError(t, db.Model(&models.Notification{}).
		Where("user_id = ? AND type = ?", userID, typ).
		Count(&count).Error)
	return count
}

func outboxCount(t *testing.T, db *gorm.DB, aggregateID uuid.UUID, eventType enums.OutboxEventType) int64 {
	t.Helper()
	var count int64
	require.NoError(t, db.Model(&models.OutboxEvent{}).
		Where("aggregate_id = ? AND event_type = ?", aggregateID, eventType).
		Count(&count).Error)
	return count
}

func itemByID(t *testing.T, order *models.Order, itemID uuid.UUID) *models.OrderItem {
	t.Helper()
	for i := range order.Items {
		if order.Items[i].ID == itemID {
			return &order.Items[i]
		}
	}
	t.Fatalf("item %s not found on order", itemID)
	return nil
}

func TestApproveAssignsVendorsAndNotifies(t *testing.T) {
	env := newWorkflowEnv(t)
	ctx := context.Background()

	customerID := uuid.New()
	vendorA := uuid.New()
	vendorB := uuid.New()
	vendorUserA := uuid.New()
	env.directory.vendorUsers[vendorA] = []uuid.UUID{vendorUserA}

	productA := seedWorkflowProduct(t, env.db, vendorA, 10)
	productB := seedWorkflowProduct(t, env.db, vendorB, 10)
	lineA := orderLine(productA, 2, enums.OrderItemStatusPending, false)
	lineB := orderLine(productB, 1, enums.OrderItemStatusPending, false)
	order := seedWorkflowOrder(t, env.db, customerID,
		enums.OrderStatusPendingAdminApproval, enums.AdminApprovalStatusPending, enums.PaymentStatusPending,
		lineA, lineB)

	require.NoError(t, env.svc.Approve(ctx, adminActor(), order.ID))

	got := reloadOrder(t, env.repo, order.ID)
	assert.Equal(t, enums.OrderStatusVendorAssigned, got.Status)
	assert.Equal(t, enums.AdminApprovalStatusApproved, got.AdminApproval)
	assert.NotNil(t, got.ApprovedAt)

	require.Len(t, got.Assignments, 2)
	byVendor := map[uuid.UUID]models.VendorAssignment{}
	for _, assignment := range got.Assignments {
		byVendor[assignment.VendorID] = assignment
	}
	require.Contains(t, byVendor, vendorA)
	require.Contains(t, byVendor, vendorB)
	assert.Equal(t, enums.AssignmentStatusPending, byVendor[vendorA].Status)
	assert.True(t, byVendor[vendorA].ItemIDs.Contains(lineA.ID))
	assert.True(t, byVendor[vendorB].ItemIDs.Contains(lineB.ID))

	assert.EqualValues(t, 1, notificationCount(t, env.db, customerID, enums.NotificationTypeOrderApproved))
	assert.EqualValues(t, 1, notificationCount(t, env.db, vendorUserA, enums.NotificationTypeVendorAssigned))
	assert.EqualValues(t, 1, outboxCount(t, env.db, order.ID, enums.OutboxEventOrderApproved))
}

func TestApproveGuards(t *testing.T) {
	env := newWorkflowEnv(t)
	ctx := context.Background()

	customerID := uuid.New()
	product := seedWorkflowProduct(t, env.db, uuid.New(), 10)
	order := seedWorkflowOrder(t, env.db, customerID,
		enums.OrderStatusPendingAdminApproval, enums.AdminApprovalStatusPending, enums.PaymentStatusPending,
		orderLine(product, 1, enums.OrderItemStatusPending, false))

	err := env.svc.Approve(ctx, customerActor(customerID), order.ID)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeForbidden, pkgerrors.As(err).Code())

	require.NoError(t, env.svc.Approve(ctx, adminActor(), order.ID))

	err = env.svc.Approve(ctx, adminActor(), order.ID)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.As(err).Code())
}

func TestRejectCancelsOrderAndItems(t *testing.T) {
	env := newWorkflowEnv(t)
	ctx := context.Background()

	customerID := uuid.New()
	product := seedWorkflowProduct(t, env.db, uuid.New(), 10)
	line := orderLine(product, 2, enums.OrderItemStatusPending, false)
	order := seedWorkflowOrder(t, env.db, customerID,
		enums.OrderStatusPendingAdminApproval, enums.AdminApprovalStatusPending, enums.PaymentStatusPending,
		line)

	require.NoError(t, env.svc.Reject(ctx, adminActor(), order.ID, "out of delivery area"))

	got := reloadOrder(t, env.repo, order.ID)
	assert.Equal(t, enums.OrderStatusCancelled, got.Status)
	assert.Equal(t, enums.AdminApprovalStatusRejected, got.AdminApproval)
	require.NotNil(t, got.RejectReason)
	assert.Equal(t, "out of delivery area", *got.RejectReason)
	assert.NotNil(t, got.CancelledAt)
	assert.Equal(t, enums.OrderItemStatusCancelled, itemByID(t, got, line.ID).Status)

	assert.EqualValues(t, 1, notificationCount(t, env.db, customerID, enums.NotificationTypeOrderRejected))
	assert.EqualValues(t, 1, outboxCount(t, env.db, order.ID, enums.OutboxEventOrderRejected))
}

func TestVendorConfirmFlipsOrderWhenLastVendorAnswers(t *testing.T) {
	env := newWorkflowEnv(t)
	ctx := context.Background()

	customerID := uuid.New()
	vendorA := uuid.New()
	vendorB := uuid.New()
	productA := seedWorkflowProduct(t, env.db, vendorA, 10)
	productB := seedWorkflowProduct(t, env.db, vendorB, 10)
	lineA := orderLine(productA, 1, enums.OrderItemStatusPending, false)
	lineB := orderLine(productB, 1, enums.OrderItemStatusPending, false)
	order := seedWorkflowOrder(t, env.db, customerID,
		enums.OrderStatusVendorAssigned, enums.AdminApprovalStatusApproved, enums.PaymentStatusPending,
		lineA, lineB)
	seedAssignment(t, env.db, order.ID, vendorA, []uuid.UUID{lineA.ID}, enums.AssignmentStatusPending)
	seedAssignment(t, env.db, order.ID, vendorB, []uuid.UUID{lineB.ID}, enums.AssignmentStatusPending)

	require.NoError(t, env.svc.VendorConfirm(ctx, vendorActor(vendorA), order.ID))

	got := reloadOrder(t, env.repo, order.ID)
	assert.Equal(t, enums.OrderStatusVendorAssigned, got.Status)
	assert.Equal(t, enums.OrderItemStatusConfirmed, itemByID(t, got, lineA.ID).Status)
	assert.Equal(t, enums.OrderItemStatusPending, itemByID(t, got, lineB.ID).Status)

	require.NoError(t, env.svc.VendorConfirm(ctx, vendorActor(vendorB), order.ID))

	got = reloadOrder(t, env.repo, order.ID)
	assert.Equal(t, enums.OrderStatusVendorConfirmed, got.Status)
	assert.Equal(t, enums.OrderItemStatusConfirmed, itemByID(t, got, lineB.ID).Status)
	assert.EqualValues(t, 1, notificationCount(t, env.db, customerID, enums.NotificationTypeVendorConfirmed))
	assert.EqualValues(t, 1, outboxCount(t, env.db, order.ID, enums.OutboxEventVendorConfirmed))
}

func TestVendorConfirmRejectsForeignVendor(t *testing.T) {
	env := newWorkflowEnv(t)
	ctx := context.Background()

	vendorA := uuid.New()
	product := seedWorkflowProduct(t, env.db, vendorA, 10)
	line := orderLine(product, 1, enums.OrderItemStatusPending, false)
	order := seedWorkflowOrder(t, env.db, uuid.New(),
		enums.OrderStatusVendorAssigned, enums.AdminApprovalStatusApproved, enums.PaymentStatusPending,
		line)
	seedAssignment(t, env.db, order.ID, vendorA, []uuid.UUID{line.ID}, enums.AssignmentStatusPending)

	err := env.svc.VendorConfirm(ctx, vendorActor(uuid.New()), order.ID)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeForbidden, pkgerrors.As(err).Code())
}

func TestVendorRejectLeavesOrderAwaitingAdmin(t *testing.T) {
	env := newWorkflowEnv(t)
	ctx := context.Background()

	customerID := uuid.New()
	vendorID := uuid.New()
	adminID := uuid.New()
	env.directory.admins = []uuid.UUID{adminID}

	product := seedWorkflowProduct(t, env.db, vendorID, 10)
	line := orderLine(product, 1, enums.OrderItemStatusPending, false)
	order := seedWorkflowOrder(t, env.db, customerID,
		enums.OrderStatusVendorAssigned, enums.AdminApprovalStatusApproved, enums.PaymentStatusPending,
		line)
	assignment := seedAssignment(t, env.db, order.ID, vendorID, []uuid.UUID{line.ID}, enums.AssignmentStatusPending)

	require.NoError(t, env.svc.VendorReject(ctx, vendorActor(vendorID), order.ID, "out of stock"))

	// The rejection never auto-cancels; the admin decides what happens next.
	got := reloadOrder(t, env.repo, order.ID)
	assert.Equal(t, enums.OrderStatusVendorAssigned, got.Status)
	assert.Equal(t, enums.OrderItemStatusPending, itemByID(t, got, line.ID).Status)

	var reloaded models.VendorAssignment
	require.NoError(t, env.db.First(&reloaded, "id = ?", assignment.ID).Error)
	assert.Equal(t, enums.AssignmentStatusRejected, reloaded.Status)
	require.NotNil(t, reloaded.RejectReason)
	assert.Equal(t, "out of stock", *reloaded.RejectReason)
	assert.NotNil(t, reloaded.RespondedAt)

	assert.EqualValues(t, 1, notificationCount(t, env.db, adminID, enums.NotificationTypeVendorRejected))
	assert.EqualValues(t, 1, notificationCount(t, env.db, customerID, enums.NotificationTypeVendorRejected))
	assert.EqualValues(t, 1, outboxCount(t, env.db, order.ID, enums.OutboxEventVendorRejected))

	err := env.svc.VendorReject(ctx, vendorActor(vendorID), order.ID, "again")
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.As(err).Code())
}

func TestCancelBeforePaymentLeavesStockAlone(t *testing.T) {
	env := newWorkflowEnv(t)
	ctx := context.Background()

	customerID := uuid.New()
	vendorID := uuid.New()
	product := seedWorkflowProduct(t, env.db, vendorID, 10)
	line := orderLine(product, 3, enums.OrderItemStatusConfirmed, false)
	order := seedWorkflowOrder(t, env.db, customerID,
		enums.OrderStatusVendorAssigned, enums.AdminApprovalStatusApproved, enums.PaymentStatusPending,
		line)
	seedAssignment(t, env.db, order.ID, vendorID, []uuid.UUID{line.ID}, enums.AssignmentStatusConfirmed)

	require.NoError(t, env.svc.Cancel(ctx, customerActor(customerID), order.ID, "changed my mind"))

	got := reloadOrder(t, env.repo, order.ID)
	assert.Equal(t, enums.OrderStatusCancelled, got.Status)
	require.NotNil(t, got.CancelReason)
	assert.Equal(t, "changed my mind", *got.CancelReason)
	assert.Equal(t, enums.OrderItemStatusCancelled, itemByID(t, got, line.ID).Status)

	// Nothing was committed before payment, so nothing comes back.
	assert.Equal(t, 10, productStock(t, env.db, product.ID))
	assert.EqualValues(t, 1, outboxCount(t, env.db, order.ID, enums.OutboxEventOrderCancelled))
}

func TestCancelAfterPaymentReleasesCommittedStock(t *testing.T) {
	env := newWorkflowEnv(t)
	ctx := context.Background()

	customerID := uuid.New()
	vendorID := uuid.New()
	product := seedWorkflowProduct(t, env.db, vendorID, 7)
	line := orderLine(product, 3, enums.OrderItemStatusProcessing, true)
	order := seedWorkflowOrder(t, env.db, customerID,
		enums.OrderStatusProcessing, enums.AdminApprovalStatusApproved, enums.PaymentStatusPending,
		line)
	markPaid(t, env.db, order.ID)
	seedAssignment(t, env.db, order.ID, vendorID, []uuid.UUID{line.ID}, enums.AssignmentStatusConfirmed)

	require.NoError(t, env.svc.Cancel(ctx, adminActor(), order.ID, "customer request"))

	got := reloadOrder(t, env.repo, order.ID)
	assert.Equal(t, enums.OrderStatusCancelled, got.Status)
	assert.Equal(t, enums.OrderItemStatusCancelled, itemByID(t, got, line.ID).Status)
	assert.Nil(t, itemByID(t, got, line.ID).StockCommittedAt)
	assert.Equal(t, 10, productStock(t, env.db, product.ID))
}

func TestCancelGuards(t *testing.T) {
	env := newWorkflowEnv(t)
	ctx := context.Background()

	customerID := uuid.New()
	product := seedWorkflowProduct(t, env.db, uuid.New(), 10)
	order := seedWorkflowOrder(t, env.db, customerID,
		enums.OrderStatusShipped, enums.AdminApprovalStatusApproved, enums.PaymentStatusPending,
		orderLine(product, 1, enums.OrderItemStatusShipped, true))

	err := env.svc.Cancel(ctx, customerActor(customerID), order.ID, "")
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.As(err).Code())

	other := seedWorkflowOrder(t, env.db, customerID,
		enums.OrderStatusVendorAssigned, enums.AdminApprovalStatusApproved, enums.PaymentStatusPending,
		orderLine(product, 1, enums.OrderItemStatusPending, false))

	err = env.svc.Cancel(ctx, customerActor(uuid.New()), other.ID, "")
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeForbidden, pkgerrors.As(err).Code())

	err = env.svc.Cancel(ctx, vendorActor(uuid.New()), other.ID, "")
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeForbidden, pkgerrors.As(err).Code())
}

func TestAdvanceItemRequiresSettledPayment(t *testing.T) {
	env := newWorkflowEnv(t)
	ctx := context.Background()

	vendorID := uuid.New()
	product := seedWorkflowProduct(t, env.db, vendorID, 10)
	line := orderLine(product, 1, enums.OrderItemStatusConfirmed, false)
	order := seedWorkflowOrder(t, env.db, uuid.New(),
		enums.OrderStatusPaymentPending, enums.AdminApprovalStatusApproved, enums.PaymentStatusPending,
		line)

	err := env.svc.AdvanceItem(ctx, vendorActor(vendorID), order.ID, line.ID, enums.OrderItemStatusProcessing)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.As(err).Code())
}

func TestAdvanceItemRejectsSkippedSteps(t *testing.T) {
	env := newWorkflowEnv(t)
	ctx := context.Background()

	vendorID := uuid.New()
	product := seedWorkflowProduct(t, env.db, vendorID, 10)
	line := orderLine(product, 1, enums.OrderItemStatusConfirmed, true)
	order := seedWorkflowOrder(t, env.db, uuid.New(),
		enums.OrderStatusPaid, enums.AdminApprovalStatusApproved, enums.PaymentStatusPending,
		line)
	markPaid(t, env.db, order.ID)

	err := env.svc.AdvanceItem(ctx, vendorActor(vendorID), order.ID, line.ID, enums.OrderItemStatusShipped)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.As(err).Code())

	err = env.svc.AdvanceItem(ctx, customerActor(uuid.New()), order.ID, line.ID, enums.OrderItemStatusProcessing)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeForbidden, pkgerrors.As(err).Code())

	err = env.svc.AdvanceItem(ctx, vendorActor(uuid.New()), order.ID, line.ID, enums.OrderItemStatusProcessing)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeForbidden, pkgerrors.As(err).Code())
}

func TestAdvanceItemDerivesOrderStatus(t *testing.T) {
	env := newWorkflowEnv(t)
	ctx := context.Background()

	customerID := uuid.New()
	vendorID := uuid.New()
	product := seedWorkflowProduct(t, env.db, vendorID, 10)
	lineA := orderLine(product, 1, enums.OrderItemStatusConfirmed, true)
	lineB := orderLine(product, 2, enums.OrderItemStatusConfirmed, true)
	order := seedWorkflowOrder(t, env.db, customerID,
		enums.OrderStatusPaid, enums.AdminApprovalStatusApproved, enums.PaymentStatusPending,
		lineA, lineB)
	markPaid(t, env.db, order.ID)
	seedAssignment(t, env.db, order.ID, vendorID, []uuid.UUID{lineA.ID, lineB.ID}, enums.AssignmentStatusConfirmed)

	actor := vendorActor(vendorID)
	require.NoError(t, env.svc.AdvanceItem(ctx, actor, order.ID, lineA.ID, enums.OrderItemStatusProcessing))
	assert.Equal(t, enums.OrderStatusProcessing, reloadOrder(t, env.repo, order.ID).Status)

	for _, target := range []enums.OrderItemStatus{enums.OrderItemStatusShipped, enums.OrderItemStatusDelivered} {
		require.NoError(t, env.svc.AdvanceItem(ctx, actor, order.ID, lineA.ID, target))
	}
	got := reloadOrder(t, env.repo, order.ID)
	assert.Equal(t, enums.OrderStatusProcessing, got.Status)
	assert.Nil(t, got.DeliveredAt)

	for _, target := range []enums.OrderItemStatus{enums.OrderItemStatusProcessing, enums.OrderItemStatusShipped, enums.OrderItemStatusDelivered} {
		require.NoError(t, env.svc.AdvanceItem(ctx, actor, order.ID, lineB.ID, target))
	}
	got = reloadOrder(t, env.repo, order.ID)
	assert.Equal(t, enums.OrderStatusDelivered, got.Status)
	assert.NotNil(t, got.DeliveredAt)
	assert.EqualValues(t, 1, outboxCount(t, env.db, order.ID, enums.OutboxEventOrderDelivered))
	assert.EqualValues(t, 6, notificationCount(t, env.db, customerID, enums.NotificationTypeItemStatus))
}

func TestRefundFullRestoresStockAndFlipsOrder(t *testing.T) {
	env := newWorkflowEnv(t)
	ctx := context.Background()

	customerID := uuid.New()
	vendorID := uuid.New()
	product := seedWorkflowProduct(t, env.db, vendorID, 7)
	line := orderLine(product, 3, enums.OrderItemStatusProcessing, true)
	order := seedWorkflowOrder(t, env.db, customerID,
		enums.OrderStatusProcessing, enums.AdminApprovalStatusApproved, enums.PaymentStatusPending,
		line)
	markPaid(t, env.db, order.ID)

	require.NoError(t, env.svc.Refund(ctx, adminActor(), order.ID, nil, "damaged in transit"))

	require.Len(t, env.gateway.calls, 1)
	assert.True(t, env.gateway.calls[0].Amount.Equal(decimal.NewFromInt(1200)))
	assert.Equal(t, "damaged in transit", env.gateway.calls[0].Remarks)

	got := reloadOrder(t, env.repo, order.ID)
	assert.Equal(t, enums.OrderStatusRefunded, got.Status)
	require.NotNil(t, got.Payment)
	assert.Equal(t, enums.PaymentStatusRefunded, got.Payment.Status)
	assert.True(t, got.Payment.RefundedAmount.Equal(decimal.NewFromInt(1200)))
	assert.NotNil(t, got.Payment.RefundedAt)
	assert.Nil(t, itemByID(t, got, line.ID).StockCommittedAt)
	assert.Equal(t, 10, productStock(t, env.db, product.ID))

	assert.EqualValues(t, 1, notificationCount(t, env.db, customerID, enums.NotificationTypeOrderRefunded))
	assert.EqualValues(t, 1, outboxCount(t, env.db, order.ID, enums.OutboxEventOrderRefunded))
}

func TestRefundPartialKeepsOrderStatus(t *testing.T) {
	env := newWorkflowEnv(t)
	ctx := context.Background()

	customerID := uuid.New()
	product := seedWorkflowProduct(t, env.db, uuid.New(), 7)
	line := orderLine(product, 3, enums.OrderItemStatusProcessing, true)
	order := seedWorkflowOrder(t, env.db, customerID,
		enums.OrderStatusProcessing, enums.AdminApprovalStatusApproved, enums.PaymentStatusPending,
		line)
	markPaid(t, env.db, order.ID)

	amount := decimal.NewFromInt(200)
	require.NoError(t, env.svc.Refund(ctx, adminActor(), order.ID, &amount, "late delivery goodwill"))

	got := reloadOrder(t, env.repo, order.ID)
	assert.Equal(t, enums.OrderStatusProcessing, got.Status)
	require.NotNil(t, got.Payment)
	assert.Equal(t, enums.PaymentStatusPartialRefund, got.Payment.Status)
	assert.True(t, got.Payment.RefundedAmount.Equal(amount))
	assert.NotNil(t, itemByID(t, got, line.ID).StockCommittedAt)
	assert.Equal(t, 7, productStock(t, env.db, product.ID))
	assert.EqualValues(t, 0, outboxCount(t, env.db, order.ID, enums.OutboxEventOrderRefunded))
}

func TestRefundGatewayFailureChangesNothing(t *testing.T) {
	env := newWorkflowEnv(t)
	ctx := context.Background()

	product := seedWorkflowProduct(t, env.db, uuid.New(), 7)
	line := orderLine(product, 3, enums.OrderItemStatusProcessing, true)
	order := seedWorkflowOrder(t, env.db, uuid.New(),
		enums.OrderStatusProcessing, enums.AdminApprovalStatusApproved, enums.PaymentStatusPending,
		line)
	markPaid(t, env.db, order.ID)
	env.gateway.err = pkgerrors.New(pkgerrors.CodeGateway, "gateway unavailable")

	err := env.svc.Refund(ctx, adminActor(), order.ID, nil, "")
	require.Error(t, err)

	got := reloadOrder(t, env.repo, order.ID)
	assert.Equal(t, enums.OrderStatusProcessing, got.Status)
	require.NotNil(t, got.Payment)
	assert.Equal(t, enums.PaymentStatusPaid, got.Payment.Status)
	assert.Nil(t, got.Payment.RefundInitiatedAt)
	assert.Equal(t, 7, productStock(t, env.db, product.ID))

	// The claim released with the failure, so the retry goes through.
	env.gateway.err = nil
	require.NoError(t, env.svc.Refund(ctx, adminActor(), order.ID, nil, ""))
	got = reloadOrder(t, env.repo, order.ID)
	assert.Equal(t, enums.PaymentStatusRefunded, got.Payment.Status)
}

func TestRefundClaimSerializesInitiation(t *testing.T) {
	env := newWorkflowEnv(t)
	ctx := context.Background()

	product := seedWorkflowProduct(t, env.db, uuid.New(), 7)
	line := orderLine(product, 3, enums.OrderItemStatusProcessing, true)
	order := seedWorkflowOrder(t, env.db, uuid.New(),
		enums.OrderStatusProcessing, enums.AdminApprovalStatusApproved, enums.PaymentStatusPending,
		line)
	markPaid(t, env.db, order.ID)

	// Another admin's refund is already on its way to the gateway.
	require.NoError(t, env.db.Model(&models.Payment{}).
		Where("order_id = ?", order.ID).
		Update("refund_initiated_at", time.Now().UTC()).Error)

	err := env.svc.Refund(ctx, adminActor(), order.ID, nil, "")
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeConflict, pkgerrors.As(err).Code())
	assert.Empty(t, env.gateway.calls)

	got := reloadOrder(t, env.repo, order.ID)
	assert.Equal(t, enums.PaymentStatusPaid, got.Payment.Status)
	assert.True(t, got.Payment.RefundedAmount.IsZero())
}

func TestRefundClaimClearsAfterEachSettlement(t *testing.T) {
	env := newWorkflowEnv(t)
	ctx := context.Background()

	product := seedWorkflowProduct(t, env.db, uuid.New(), 7)
	line := orderLine(product, 3, enums.OrderItemStatusProcessing, true)
	order := seedWorkflowOrder(t, env.db, uuid.New(),
		enums.OrderStatusProcessing, enums.AdminApprovalStatusApproved, enums.PaymentStatusPending,
		line)
	markPaid(t, env.db, order.ID)

	first := decimal.NewFromInt(200)
	require.NoError(t, env.svc.Refund(ctx, adminActor(), order.ID, &first, "late delivery goodwill"))
	got := reloadOrder(t, env.repo, order.ID)
	assert.Nil(t, got.Payment.RefundInitiatedAt)

	second := decimal.NewFromInt(300)
	require.NoError(t, env.svc.Refund(ctx, adminActor(), order.ID, &second, "missing accessory"))
	require.Len(t, env.gateway.calls, 2)

	got = reloadOrder(t, env.repo, order.ID)
	assert.Equal(t, enums.PaymentStatusPartialRefund, got.Payment.Status)
	assert.True(t, got.Payment.RefundedAmount.Equal(decimal.NewFromInt(500)))
	assert.Nil(t, got.Payment.RefundInitiatedAt)
}

func TestRefundGuards(t *testing.T) {
	env := newWorkflowEnv(t)
	ctx := context.Background()

	product := seedWorkflowProduct(t, env.db, uuid.New(), 10)
	order := seedWorkflowOrder(t, env.db, uuid.New(),
		enums.OrderStatusVendorConfirmed, enums.AdminApprovalStatusApproved, enums.PaymentStatusPending,
		orderLine(product, 1, enums.OrderItemStatusConfirmed, false))

	err := env.svc.Refund(ctx, adminActor(), order.ID, nil, "")
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.As(err).Code())

	paid := seedWorkflowOrder(t, env.db, uuid.New(),
		enums.OrderStatusProcessing, enums.AdminApprovalStatusApproved, enums.PaymentStatusPending,
		orderLine(product, 1, enums.OrderItemStatusProcessing, true))
	markPaid(t, env.db, paid.ID)

	tooMuch := decimal.NewFromInt(9999)
	err = env.svc.Refund(ctx, adminActor(), paid.ID, &tooMuch, "")
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())

	err = env.svc.Refund(ctx, vendorActor(uuid.New()), paid.ID, nil, "")
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeForbidden, pkgerrors.As(err).Code())
}

func TestGetAndListScopeByActor(t *testing.T) {
	env := newWorkflowEnv(t)
	ctx := context.Background()

	customerID := uuid.New()
	vendorID := uuid.New()
	product := seedWorkflowProduct(t, env.db, vendorID, 10)
	line := orderLine(product, 1, enums.OrderItemStatusPending, false)
	order := seedWorkflowOrder(t, env.db, customerID,
		enums.OrderStatusVendorAssigned, enums.AdminApprovalStatusApproved, enums.PaymentStatusPending,
		line)
	seedAssignment(t, env.db, order.ID, vendorID, []uuid.UUID{line.ID}, enums.AssignmentStatusPending)

	got, err := env.svc.Get(ctx, customerActor(customerID), order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.ID, got.ID)

	got, err = env.svc.Get(ctx, vendorActor(vendorID), order.ID)
	require.NoError(t, err)
	assert.Equal(t, order.ID, got.ID)

	_, err = env.svc.Get(ctx, customerActor(uuid.New()), order.ID)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeForbidden, pkgerrors.As(err).Code())

	listed, err := env.svc.List(ctx, vendorActor(vendorID), ListParams{Limit: 10})
	require.NoError(t, err)
	require.Len(t, listed.Orders, 1)
	assert.Equal(t, order.ID, listed.Orders[0].ID)

	listed, err = env.svc.List(ctx, vendorActor(uuid.New()), ListParams{Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, listed.Orders)
}
