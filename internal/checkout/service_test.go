package checkout

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/bazarika/bazarika-backend/internal/cart"
	"github.com/bazarika/bazarika-backend/internal/notifications"
	"github.com/bazarika/bazarika-backend/internal/orders"
	"github.com/bazarika/bazarika-backend/internal/products"
	"github.com/bazarika/bazarika-backend/pkg/db/models"
	"github.com/bazarika/bazarika-backend/pkg/enums"
	pkgerrors "github.com/bazarika/bazarika-backend/pkg/errors"
	"github.com/bazarika/bazarika-backend/pkg/outbox"
	"github.com/bazarika/bazarika-backend/pkg/types"
)

var checkoutTables = []string{
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
	`CREATE TABLE IF NOT EXISTS carts (
		id TEXT PRIMARY KEY DEFAULT (lower(hex(randomblob(16)))),
		customer_id TEXT NOT NULL UNIQUE,
		created_at DATETIME,
		updated_at DATETIME
	)`,
	`CREATE TABLE IF NOT EXISTS cart_items (
		id TEXT PRIMARY KEY DEFAULT (lower(hex(randomblob(16)))),
		cart_id TEXT NOT NULL,
		product_id TEXT NOT NULL,
		vendor_id TEXT NOT NULL,
		variant TEXT NOT NULL DEFAULT '',
		quantity INTEGER NOT NULL,
		unit_price NUMERIC NOT NULL,
		created_at DATETIME,
		updated_at DATETIME,
		UNIQUE (cart_id, product_id, variant)
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

type gormTxRunner struct {
	db *gorm.DB
}

func (r gormTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		return fn(tx)
	})
}

type fakeAdminDirectory struct {
	admins []uuid.UUID
}

func (d *fakeAdminDirectory) AdminIDs(ctx context.Context) ([]uuid.UUID, error) {
	return d.admins, nil
}

type checkoutEnv struct {
	db     *gorm.DB
	svc    Service
	cart   cart.Service
	orders orders.Repository
	admins *fakeAdminDirectory
}

func newCheckoutEnv(t *testing.T) *checkoutEnv {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file::memory:?cache=shared"), &gorm.Config{})
	require.NoError(t, err)
	for _, stmt := range checkoutTables {
		require.NoError(t, db.Exec(stmt).Error)
	}

	productRepo := products.NewRepository(db)
	cartSvc, err := cart.NewService(cart.NewRepository(db), productRepo)
	require.NoError(t, err)
	notifySvc, err := notifications.NewService(notifications.NewRepository(db))
	require.NoError(t, err)
	outboxSvc := outbox.NewService(outbox.NewRepository(db), nil)
	admins := &fakeAdminDirectory{admins: []uuid.UUID{uuid.New()}}
	orderRepo := orders.NewRepository(db)

	svc, err := NewService(orderRepo, gormTxRunner{db: db}, cartSvc, productRepo, notifySvc, admins, outboxSvc)
	require.NoError(t, err)
	return &checkoutEnv{db: db, svc: svc, cart: cartSvc, orders: orderRepo, admins: admins}
}

func seedCheckoutProduct(t *testing.T, db *gorm.DB, price int64, rate float64, stock int) *models.Product {
	t.Helper()
	product := &models.Product{
		ID:                uuid.New(),
		VendorID:          uuid.New(),
		Name:              "Jute Rug",
		Category:          "homeware",
		Price:             decimal.NewFromInt(price),
		StockQty:          stock,
		ServiceChargeRate: decimal.NewFromFloat(rate),
		Status:            enums.ProductStatusActive,
	}
	require.NoError(t, db.Create(product).Error)
	return product
}

func shippingAddress() types.Address {
	return types.Address{
		Name:       "Asha Rahman",
		Phone:      "01700000000",
		Line1:      "12 Lake Road",
		City:       "Dhaka",
		PostalCode: "1207",
		Country:    "BD",
	}
}

func TestPlaceOrderFromCart(t *testing.T) {
	env := newCheckoutEnv(t)
	ctx := context.Background()

	customerID := uuid.New()
	product := seedCheckoutProduct(t, env.db, 400, 0.10, 20)
	_, err := env.cart.Add(ctx, customerID, cart.AddInput{ProductID: product.ID, Quantity: 3})
	require.NoError(t, err)

	order, err := env.svc.PlaceOrder(ctx, PlaceOrderInput{
		CustomerID:      customerID,
		UseCart:         true,
		ShippingAddress: shippingAddress(),
	})
	require.NoError(t, err)

	assert.Equal(t, enums.OrderStatusPendingAdminApproval, order.Status)
	assert.Equal(t, enums.AdminApprovalStatusPending, order.AdminApproval)
	assert.True(t, order.Subtotal.Equal(decimal.NewFromInt(1200)), "subtotal %s", order.Subtotal)
	assert.True(t, order.Tax.Equal(decimal.NewFromInt(60)), "tax %s", order.Tax)
	assert.True(t, order.ShippingFee.IsZero(), "shipping %s", order.ShippingFee)
	assert.True(t, order.ServiceCharge.Equal(decimal.NewFromInt(120)), "service charge %s", order.ServiceCharge)
	assert.True(t, order.Discount.IsZero(), "discount %s", order.Discount)
	assert.True(t, order.Total.Equal(decimal.NewFromInt(1380)), "total %s", order.Total)
	expected := order.Subtotal.Add(order.Tax).Add(order.ShippingFee).Add(order.ServiceCharge).Sub(order.Discount)
	assert.True(t, order.Total.Equal(expected), "total %s vs %s", order.Total, expected)
	assert.Regexp(t, `^ORD-\d{8}-[0-9A-F]{8}$`, order.OrderNumber)

	require.Len(t, order.Items, 1)
	item := order.Items[0]
	assert.Equal(t, product.ID, item.ProductID)
	assert.Equal(t, product.VendorID, item.VendorID)
	assert.Equal(t, "homeware", item.Category)
	assert.Equal(t, enums.OrderItemStatusPending, item.Status)

	stored, err := env.orders.FindByID(ctx, order.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.NotNil(t, stored.Payment)
	assert.Equal(t, enums.PaymentStatusPending, stored.Payment.Status)
	assert.True(t, stored.Payment.Amount.Equal(decimal.NewFromInt(1380)))

	// Placement consumed the staged lines.
	summary, err := env.cart.Get(ctx, customerID)
	require.NoError(t, err)
	assert.Empty(t, summary.Items)

	var notifyCount int64
	require.NoError(t, env.db.Model(&models.Notification{}).
		Where("user_id = ? AND type = ?", env.admins.admins[0], enums.NotificationTypeOrderPlaced).
		Count(&notifyCount).Error)
	assert.EqualValues(t, 1, notifyCount)

	var eventCount int64
	require.NoError(t, env.db.Model(&models.OutboxEvent{}).
		Where("aggregate_id = ? AND event_type = ?", order.ID, enums.OutboxEventOrderPlaced).
		Count(&eventCount).Error)
	assert.EqualValues(t, 1, eventCount)
}

func TestPlaceOrderDirectItems(t *testing.T) {
	env := newCheckoutEnv(t)
	ctx := context.Background()

	productA := seedCheckoutProduct(t, env.db, 100, 0.05, 10)
	productB := seedCheckoutProduct(t, env.db, 250, 0.05, 10)

	order, err := env.svc.PlaceOrder(ctx, PlaceOrderInput{
		CustomerID: uuid.New(),
		Items: []ItemInput{
			{ProductID: productA.ID, Quantity: 2},
			{ProductID: productB.ID, Quantity: 1, Variant: "large"},
		},
		ShippingAddress: shippingAddress(),
	})
	require.NoError(t, err)

	assert.True(t, order.Subtotal.Equal(decimal.NewFromInt(450)))
	// Under the free-shipping threshold the flat fee applies.
	assert.True(t, order.ShippingFee.Equal(decimal.NewFromInt(60)), "shipping %s", order.ShippingFee)
	require.Len(t, order.Items, 2)
}

func TestPlaceOrderValidation(t *testing.T) {
	env := newCheckoutEnv(t)
	ctx := context.Background()

	_, err := env.svc.PlaceOrder(ctx, PlaceOrderInput{
		CustomerID:      uuid.New(),
		Items:           []ItemInput{{ProductID: uuid.New(), Quantity: 1}},
		ShippingAddress: types.Address{City: "Dhaka"},
	})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())

	_, err = env.svc.PlaceOrder(ctx, PlaceOrderInput{
		CustomerID:      uuid.New(),
		ShippingAddress: shippingAddress(),
	})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())
}

func TestPlaceOrderReportsEveryUnavailableItem(t *testing.T) {
	env := newCheckoutEnv(t)
	ctx := context.Background()

	lowStock := seedCheckoutProduct(t, env.db, 100, 0.05, 1)
	missing := uuid.New()

	_, err := env.svc.PlaceOrder(ctx, PlaceOrderInput{
		CustomerID: uuid.New(),
		Items: []ItemInput{
			{ProductID: lowStock.ID, Quantity: 5},
			{ProductID: missing, Quantity: 1},
		},
		ShippingAddress: shippingAddress(),
	})
	require.Error(t, err)
	require.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.As(err).Code())

	details, ok := pkgerrors.As(err).Details().(map[string]any)
	require.True(t, ok)
	unavailable, ok := details["unavailable"].([]map[string]any)
	require.True(t, ok)
	assert.Len(t, unavailable, 2)
}

func TestPlaceOrderKeepsCartOnFailure(t *testing.T) {
	env := newCheckoutEnv(t)
	ctx := context.Background()

	customerID := uuid.New()
	product := seedCheckoutProduct(t, env.db, 100, 0.05, 5)
	_, err := env.cart.Add(ctx, customerID, cart.AddInput{ProductID: product.ID, Quantity: 2})
	require.NoError(t, err)

	// Stock drains between staging and checkout.
	require.NoError(t, env.db.Model(&models.Product{}).
		Where("id = ?", product.ID).
		Update("stock_qty", 0).Error)

	_, err = env.svc.PlaceOrder(ctx, PlaceOrderInput{
		CustomerID:      customerID,
		UseCart:         true,
		ShippingAddress: shippingAddress(),
	})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.As(err).Code())

	summary, err := env.cart.Get(ctx, customerID)
	require.NoError(t, err)
	require.Len(t, summary.Items, 1)
}
