package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bazarika/bazarika-backend/api/controllers"
	"github.com/bazarika/bazarika-backend/api/middleware"
	"github.com/bazarika/bazarika-backend/internal/cart"
	"github.com/bazarika/bazarika-backend/internal/checkout"
	"github.com/bazarika/bazarika-backend/internal/notifications"
	"github.com/bazarika/bazarika-backend/internal/orders"
	"github.com/bazarika/bazarika-backend/internal/payments"
	"github.com/bazarika/bazarika-backend/internal/payouts"
	"github.com/bazarika/bazarika-backend/pkg/config"
	"github.com/bazarika/bazarika-backend/pkg/enums"
	"github.com/bazarika/bazarika-backend/pkg/logger"
	pkgredis "github.com/bazarika/bazarika-backend/pkg/redis"
)

// Params carries everything the router wires into handlers.
type Params struct {
	Config   *config.Config
	Logger   *logger.Logger
	Registry *prometheus.Registry

	DB    controllers.Pinger
	Cache controllers.Pinger

	IdempotencyStore pkgredis.IdempotencyStore

	CartService          cart.Service
	CheckoutService      checkout.Service
	OrdersService        orders.Service
	OrdersRepo           orders.Repository
	PaymentsService      payments.Service
	PaymentReconciler    payments.Reconciler
	NotificationsService notifications.Service
	PayoutsRepo          payouts.Repository
}

// NewRouter builds the HTTP surface: public health and gateway callbacks,
// authenticated customer routes, vendor routes, and the admin group.
func NewRouter(p Params) http.Handler {
	cfg := p.Config
	logg := p.Logger

	r := chi.NewRouter()
	r.Use(middleware.Recoverer(logg))
	r.Use(middleware.RequestID(logg))
	r.Use(middleware.Logging(logg))
	r.Use(middleware.CORS())

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, map[string]controllers.Pinger{
			"database": p.DB,
			"cache":    p.Cache,
		}))
	})

	if p.Registry != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(p.Registry, promhttp.HandlerOpts{}))
	}

	// Gateway callbacks are unauthenticated: SSLCommerz cannot carry our
	// bearer tokens. The reconciler validates every report against the
	// gateway before applying it.
	r.Route("/payment/callback", func(r chi.Router) {
		r.Post("/success", controllers.PaymentSuccessCallback(p.PaymentReconciler, logg))
		r.Post("/fail", controllers.PaymentFailCallback(p.PaymentReconciler, logg))
		r.Post("/cancel", controllers.PaymentCancelCallback(p.PaymentReconciler, logg))
		r.Post("/ipn", controllers.PaymentIPN(p.PaymentReconciler, logg))
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.Idempotency(p.IdempotencyStore, logg))

		r.Route("/v1/cart", func(r chi.Router) {
			r.Get("/", controllers.CartFetch(p.CartService, logg))
			r.Delete("/", controllers.CartClear(p.CartService, logg))
			r.Post("/items", controllers.CartAddItem(p.CartService, logg))
			r.Put("/items/{itemId}", controllers.CartUpdateItem(p.CartService, logg))
			r.Delete("/items/{itemId}", controllers.CartRemoveItem(p.CartService, logg))
		})

		r.Route("/v1/orders", func(r chi.Router) {
			r.Post("/", controllers.PlaceOrder(p.CheckoutService, logg))
			r.Get("/", controllers.ListOrders(p.OrdersService, logg))
			r.Get("/{orderId}", controllers.OrderDetail(p.OrdersService, logg))
			r.Post("/{orderId}/cancel", controllers.CancelOrder(p.OrdersService, logg))
			r.Post("/{orderId}/payment", controllers.StartPayment(p.PaymentsService, logg))
		})

		r.Get("/v1/payments/{orderNumber}", controllers.PaymentStatus(p.PaymentsService, logg))

		r.Route("/v1/notifications", func(r chi.Router) {
			r.Get("/", controllers.ListNotifications(p.NotificationsService, logg))
			r.Post("/{notificationId}/read", controllers.MarkNotificationRead(p.NotificationsService, logg))
			r.Post("/read-all", controllers.MarkAllNotificationsRead(p.NotificationsService, logg))
		})

		r.Route("/v1/vendor", func(r chi.Router) {
			r.Use(middleware.RequireRole(enums.MemberRoleVendor, logg))
			r.Post("/orders/{orderId}/confirm", controllers.VendorConfirmOrder(p.OrdersService, logg))
			r.Post("/orders/{orderId}/reject", controllers.VendorRejectOrder(p.OrdersService, logg))
			r.Post("/orders/{orderId}/items/{itemId}/status", controllers.VendorAdvanceItem(p.OrdersService, logg))
			r.Get("/payouts", controllers.VendorPayouts(p.PayoutsRepo, logg))
		})
	})

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(middleware.Auth(cfg.JWT, logg))
		r.Use(middleware.RequireRole(enums.MemberRoleAdmin, logg))
		r.Use(middleware.Idempotency(p.IdempotencyStore, logg))

		r.Route("/v1/orders", func(r chi.Router) {
			r.Post("/{orderId}/approve", controllers.AdminApproveOrder(p.OrdersService, logg))
			r.Post("/{orderId}/reject", controllers.AdminRejectOrder(p.OrdersService, logg))
			r.Post("/{orderId}/refund", controllers.AdminRefundOrder(p.OrdersService, logg))
			r.Post("/{orderId}/verify-payment", controllers.AdminVerifyPayment(p.OrdersRepo, p.PaymentReconciler, logg))
			r.Get("/{orderId}/payouts", controllers.AdminOrderPayouts(p.PayoutsRepo, logg))
		})
	})

	return r
}
