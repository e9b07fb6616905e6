package server

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/dukerupert/fitstack/internal/billing"
	billingstripe "github.com/dukerupert/fitstack/internal/billing/stripe"
	"github.com/dukerupert/fitstack/internal/booking"
	"github.com/dukerupert/fitstack/internal/handler"
	"github.com/dukerupert/fitstack/internal/ledger"
	"github.com/dukerupert/fitstack/internal/membership"
	"github.com/dukerupert/fitstack/internal/middleware"
	"github.com/dukerupert/fitstack/internal/model"
	"github.com/dukerupert/fitstack/internal/notify"
	"github.com/dukerupert/fitstack/internal/store"
	ws "github.com/dukerupert/fitstack/internal/websocket"
)

// Write endpoints share one budget per actor.
const (
	writeLimit  = 30
	writePeriod = time.Minute
)

type Config struct {
	JWTSecret      string
	AllowedOrigins []string
	SweepInterval  time.Duration
	// Stripe is nil when billing is not configured; checkout and the
	// webhook are then not mounted and plans stay local.
	Stripe *billingstripe.Client
	// Mailer may be nil.
	Mailer notify.Mailer
}

type Server struct {
	cfg           Config
	hub           *ws.Hub
	sweeper       *membership.Sweeper
	notifier      *notify.Service
	rateLimiter   *middleware.RateLimiter
	webhookH      *handler.WebhookHandler
	checkoutH     *handler.CheckoutHandler
	planH         *handler.PlanHandler
	walletH       *handler.WalletHandler
	bookingH      *handler.BookingHandler
	notificationH *handler.NotificationHandler
	userH         *handler.UserHandler
	logger        *slog.Logger
}

func New(db *sql.DB, cfg Config, logger *slog.Logger) *Server {
	hub := ws.NewHub(logger.With("component", "ws"))

	userStore := store.NewUserStore(db)
	planStore := store.NewPlanStore(db)
	membershipStore := store.NewMembershipStore(db)
	slotStore := store.NewSlotStore(db)
	sessionStore := store.NewSessionStore(db)
	notificationStore := store.NewNotificationStore(db)

	wallets := ledger.New(db, logger.With("component", "ledger"))
	notifier := notify.NewService(notificationStore, userStore, hub, cfg.Mailer, logger)
	machine := membership.NewMachine(membershipStore, userStore, notifier, logger)
	sweeper := membership.NewSweeper(machine, membershipStore, cfg.SweepInterval, logger)
	coordinator := booking.NewCoordinator(slotStore, sessionStore, userStore, membershipStore, planStore, wallets, notifier, logger)

	var catalog billing.Catalog
	var webhookH *handler.WebhookHandler
	var checkoutH *handler.CheckoutHandler
	if cfg.Stripe != nil {
		catalog = cfg.Stripe
		reconciler := billing.NewReconciler(machine, wallets, cfg.Stripe, logger)
		webhookH = handler.NewWebhookHandler(cfg.Stripe, reconciler, logger)
		checkout := billing.NewCheckout(planStore, userStore, wallets, cfg.Stripe, logger)
		checkoutH = handler.NewCheckoutHandler(checkout, logger)
	}
	plans := billing.NewPlans(planStore, catalog, logger)

	return &Server{
		cfg:           cfg,
		hub:           hub,
		sweeper:       sweeper,
		notifier:      notifier,
		rateLimiter:   middleware.NewRateLimiter(writeLimit, writePeriod),
		webhookH:      webhookH,
		checkoutH:     checkoutH,
		planH:         handler.NewPlanHandler(plans, logger),
		walletH:       handler.NewWalletHandler(wallets, logger),
		bookingH:      handler.NewBookingHandler(coordinator, logger),
		notificationH: handler.NewNotificationHandler(notifier, logger),
		userH:         handler.NewUserHandler(userStore, logger),
		logger:        logger,
	}
}

// Notifier returns the notification service so shutdown can drain pending email.
func (s *Server) Notifier() *notify.Service {
	return s.notifier
}

// Sweeper returns the membership expiration sweeper for the caller to
// start and stop.
func (s *Server) Sweeper() *membership.Sweeper {
	return s.sweeper
}

// RateLimiter returns the rate limiter for cleanup tasks.
func (s *Server) RateLimiter() *middleware.RateLimiter {
	return s.rateLimiter
}

func (s *Server) Router() http.Handler {
	outerMux := http.NewServeMux()

	// Public routes
	outerMux.HandleFunc("GET /health", s.healthHandler)
	if s.webhookH != nil {
		outerMux.HandleFunc("POST /webhooks/stripe", s.webhookH.HandleStripeWebhook)
	}

	protectedMux := http.NewServeMux()
	s.registerProtectedRoutes(protectedMux)

	authMiddleware := middleware.RequireAuth(s.cfg.JWTSecret)
	outerMux.Handle("/", authMiddleware(protectedMux))

	return middleware.RequestLogger(s.logger.With("component", "http"))(outerMux)
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// guard wraps h with the role check and, for writes, the rate limit.
func (s *Server) guard(h http.HandlerFunc, write bool, roles ...model.Role) http.Handler {
	var next http.Handler = h
	if write {
		next = middleware.RateLimit(s.rateLimiter, middleware.ActorKey)(next)
	}
	if len(roles) > 0 {
		next = middleware.RequireRole(roles...)(next)
	}
	return next
}

// admin guards a rate-limited write reserved for admins.
func (s *Server) admin(h http.HandlerFunc) http.Handler {
	return middleware.RequireAdmin(s.guard(h, true))
}

func (s *Server) registerProtectedRoutes(mux *http.ServeMux) {
	// Live notifications
	mux.HandleFunc("GET /ws", ws.HandleWebSocket(s.hub, s.cfg.AllowedOrigins, s.logger.With("component", "ws")))

	// Accounts
	mux.Handle("POST /api/users", s.admin(s.userH.Create))
	mux.HandleFunc("GET /api/users/me", s.userH.Me)

	// Plans
	mux.Handle("GET /api/plans", s.guard(s.planH.List, false))
	mux.Handle("POST /api/plans", s.admin(s.planH.Create))
	mux.Handle("POST /api/plans/{id}/publish", s.admin(s.planH.Publish))
	mux.Handle("PUT /api/plans/{id}/price", s.admin(s.planH.ChangePrice))
	mux.Handle("DELETE /api/plans/{id}", s.admin(s.planH.Deactivate))

	// Billing
	if s.checkoutH != nil {
		mux.Handle("POST /api/checkout", s.guard(s.checkoutH.CreateCheckoutSession, true, model.RoleUser))
		mux.Handle("POST /api/billing/portal", s.guard(s.checkoutH.BillingPortal, true, model.RoleUser))
	}

	// Wallet
	mux.Handle("GET /api/wallet", s.guard(s.walletH.Get, false, model.RoleUser, model.RoleCoach))

	// Slots and sessions
	mux.Handle("POST /api/slots", s.guard(s.bookingH.CreateSlot, true, model.RoleCoach))
	mux.Handle("GET /api/coaches/{id}/slots", s.guard(s.bookingH.ListSlots, false))
	mux.Handle("POST /api/slots/{id}/book", s.guard(s.bookingH.BookSlot, true, model.RoleUser))
	mux.Handle("GET /api/sessions", s.guard(s.bookingH.ListSessions, false, model.RoleUser, model.RoleCoach))
	mux.Handle("POST /api/sessions/{id}/cancel", s.guard(s.bookingH.CancelSession, true, model.RoleUser, model.RoleCoach))

	// Notifications
	mux.Handle("GET /api/notifications", s.guard(s.notificationH.List, false))
	mux.Handle("POST /api/notifications/{id}/read", s.guard(s.notificationH.MarkRead, true))
}
