package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/tringuyen-psa/shopify-shop-sub002/internal/auth"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/checkout"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/config"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/db"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/events"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/fees"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/httpx"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/logbus"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/notify"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/orders"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/payments"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/platform"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/products"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/shipping"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/shops"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/storage"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/subscriptions"
	"github.com/tringuyen-psa/shopify-shop-sub002/internal/ws"
)

// schema lists every table in foreign-key order.
func schema() []string {
	var out []string
	for _, s := range [][]string{
		auth.Schema,
		shops.Schema,
		products.Schema,
		shipping.Schema,
		orders.Schema,
		subscriptions.Schema,
		checkout.Schema,
		fees.Schema,
		payments.EventLogSchema,
		platform.Schema,
	} {
		out = append(out, s...)
	}
	return out
}

type app struct {
	cfg     config.Config
	db      *sql.DB
	bus     *logbus.Bus
	gateway payments.Gateway

	auth          *auth.Service
	authMW        *auth.Middleware
	shops         *shops.Service
	products      *products.Service
	shipping      *shipping.Service
	orders        *orders.Service
	subscriptions *subscriptions.Service
	checkout      *checkout.Service
	fees          *fees.Settings
	platform      *platform.Service
	webhooks      *payments.Webhooks

	closers []func(context.Context) error
}

func loadConfig(path string) (config.Config, *logbus.Bus, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, nil, err
	}
	bus := logbus.New(cfg.Log.BusSize)
	level := logbus.ParseLevel(cfg.Log.Level)
	base := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(logbus.NewHandler(base, bus, level)).With("module", cfg.Module))
	return cfg, bus, nil
}

// connect returns nil when no database is configured or reachable; every
// store then runs in memory mode.
func connect(ctx context.Context, cfg config.DatabaseConfig) *sql.DB {
	conn, err := db.Connect(ctx, cfg)
	if err != nil {
		if errors.Is(err, db.ErrNotConfigured) {
			slog.Warn("no database configured, running in memory mode")
		} else {
			slog.Warn("database unavailable, running in memory mode", "error", err.Error())
		}
		return nil
	}
	if err := db.EnsureSchema(ctx, conn, schema()); err != nil {
		slog.Warn("schema setup failed, using memory mode", "error", err.Error())
		_ = conn.Close()
		return nil
	}
	return conn
}

// newApp wires every service. gw overrides the Stripe client when non-nil.
func newApp(ctx context.Context, cfg config.Config, bus *logbus.Bus, conn *sql.DB, gw payments.Gateway) *app {
	a := &app{cfg: cfg, db: conn, bus: bus}
	if conn != nil {
		a.closers = append(a.closers, func(context.Context) error { return conn.Close() })
	}

	pub := events.Multi{events.BusPublisher{Bus: bus}}
	if cfg.AMQP.URL != "" {
		amqpPub, err := events.DialAMQP(cfg.AMQP.URL, cfg.AMQP.Exchange)
		if err != nil {
			slog.Warn("event broker unavailable, publishing to the log bus only", "error", err.Error())
		} else {
			pub = append(pub, amqpPub)
			a.closers = append(a.closers, func(context.Context) error { return amqpPub.Close() })
		}
	}

	var notifier notify.Notifier = notify.Nop{}
	if cfg.SMTP.Enabled() {
		email := notify.NewEmailNotifier(cfg.SMTP)
		notifier = email
		a.closers = append(a.closers, email.Close)
	}

	var images storage.Store
	if cfg.Storage.Enabled() {
		m, err := storage.NewMinIO(cfg.Storage)
		if err == nil {
			err = m.EnsureBucket(ctx)
		}
		if err != nil {
			slog.Warn("object storage unavailable, image uploads disabled", "error", err.Error())
		} else {
			images = m
		}
	}

	if gw == nil {
		gw = payments.NewStripeClient(cfg.Stripe)
	}
	a.gateway = gw

	a.auth = auth.NewService(auth.NewStore(conn), auth.NewTokens(cfg.Auth), pub)
	a.authMW = auth.NewMiddleware(a.auth)
	a.shops = shops.NewService(shops.Deps{
		Store:    shops.NewStore(conn),
		Users:    a.auth.Users(),
		Gateway:  gw,
		Stripe:   cfg.Stripe,
		Events:   pub,
		Notifier: notifier,
	})
	a.products = products.NewService(products.NewStore(conn), a.shops, images, pub, cfg.Database.CacheTTL)
	a.shipping = shipping.NewService(shipping.NewStore(conn), a.shops, pub)
	a.fees = fees.NewSettings(conn, cfg.Platform.DefaultFeePercent)
	a.orders = orders.NewService(orders.Deps{Store: orders.NewStore(conn), Shops: a.shops, Gateway: gw, Events: pub, Notifier: notifier})
	a.subscriptions = subscriptions.NewService(subscriptions.Deps{Store: subscriptions.NewStore(conn), Orders: a.orders, Shops: a.shops, Gateway: gw, Events: pub})
	a.checkout = checkout.NewService(checkout.Deps{
		Store:         checkout.NewStore(conn),
		Products:      a.products,
		Shipping:      a.shipping,
		Shops:         a.shops,
		Orders:        a.orders,
		Subscriptions: a.subscriptions,
		Fees:          a.fees,
		Users:         a.auth,
		Gateway:       gw,
		Events:        pub,
		TTL:           cfg.Platform.CheckoutTTL,
	})
	a.platform = platform.NewService(platform.Deps{
		Disputes:      platform.NewDisputeStore(conn),
		Users:         a.auth,
		Shops:         a.shops,
		Orders:        a.orders,
		Subscriptions: a.subscriptions,
		Fees:          a.fees,
		Events:        pub,
	})

	// checkout completes first payments before subscriptions mirrors them.
	a.webhooks = payments.NewWebhooks(cfg.Stripe.WebhookSecret, payments.NewEventLog(conn))
	a.webhooks.On(payments.EventAccountUpdated, a.shops.HandleAccountUpdated)
	a.checkout.Register(a.webhooks)
	a.subscriptions.Register(a.webhooks)
	a.platform.Register(a.webhooks)
	return a
}

func (a *app) routes() http.Handler {
	mux := http.NewServeMux()
	limiter := httpx.NewRateLimiter(a.cfg.Server.RateLimit)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"status": "healthy", "module": a.cfg.Module, "service": "marketplace", "mode": db.Mode(a.db)})
	})
	auth.NewHandler(a.auth, a.authMW).Register(mux, limiter.Middleware)
	shops.NewHandler(a.shops, a.authMW).Register(mux)
	products.NewHandler(a.products, a.authMW).Register(mux)
	shipping.NewHandler(a.shipping, a.authMW).Register(mux)
	checkout.NewHandler(a.checkout, a.authMW).Register(mux, limiter.Middleware)
	orders.NewHandler(a.orders, a.authMW).Register(mux)
	subscriptions.NewHandler(a.subscriptions, a.authMW).Register(mux)
	platform.NewHandler(a.platform, a.authMW).Register(mux)
	mux.Handle("GET /v1/admin/live", ws.NewHandler(a.bus, a.auth, a.cfg.Server.Cors.AllowOrigins))
	mux.Handle("POST /v1/webhooks/stripe", a.webhooks)

	return httpx.WithServerDefaults(httpx.CORS(a.cfg.Server.Cors, mux))
}

// sweep expires stale checkout sessions and marks subscriptions past_due
// when their period ended more than the grace period ago.
func (a *app) sweep(ctx context.Context) {
	now := time.Now().UTC()
	if _, err := a.checkout.SweepExpired(ctx, now); err != nil {
		slog.ErrorContext(ctx, "checkout sweep failed", "error", err.Error())
	}
	if _, err := a.subscriptions.SweepLapsed(ctx, now, a.cfg.Platform.SubscriptionGrace); err != nil {
		slog.ErrorContext(ctx, "subscription sweep failed", "error", err.Error())
	}
}

func (a *app) runSweeper(ctx context.Context) {
	t := time.NewTicker(a.cfg.Platform.SweepInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			a.sweep(ctx)
		}
	}
}

func (a *app) close(ctx context.Context) {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			slog.Warn("shutdown", "error", err.Error())
		}
	}
	a.bus.Close()
}
