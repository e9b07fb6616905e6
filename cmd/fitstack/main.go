package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dukerupert/fitstack/internal/auth"
	billingstripe "github.com/dukerupert/fitstack/internal/billing/stripe"
	"github.com/dukerupert/fitstack/internal/config"
	"github.com/dukerupert/fitstack/internal/database"
	"github.com/dukerupert/fitstack/internal/email"
	"github.com/dukerupert/fitstack/internal/logging"
	"github.com/dukerupert/fitstack/internal/model"
	"github.com/dukerupert/fitstack/internal/server"
	"github.com/dukerupert/fitstack/internal/store"
)

func main() {
	tokenFor := flag.String("token", "", "print a bearer token for this user id and exit")
	tokenRole := flag.String("role", string(model.RoleUser), "role for -token (user, coach or admin)")
	tokenTTL := flag.Duration("ttl", 24*time.Hour, "lifetime for -token")
	provisionEmail := flag.String("email", "", "with -token, create the account with this email if it does not exist")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if *tokenFor != "" {
		if *provisionEmail != "" {
			if err := provision(cfg.DBPath, *tokenFor, *provisionEmail, model.Role(*tokenRole)); err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
		}
		token, err := auth.IssueToken(cfg.JWTSecret, *tokenFor, model.Role(*tokenRole), *tokenTTL)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		fmt.Println(token)
		return
	}

	logger := logging.Setup(cfg.LogLevel, cfg.LogFormat)

	db, err := database.Open(cfg.DBPath)
	if err != nil {
		slog.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	srvCfg := server.Config{
		JWTSecret:      cfg.JWTSecret,
		AllowedOrigins: cfg.AllowedOrigins,
		SweepInterval:  cfg.SweepInterval,
		Mailer:         email.NewClient(cfg.PostmarkToken, cfg.MailFrom),
	}
	if cfg.StripeEnabled() {
		srvCfg.Stripe = billingstripe.NewClient(billingstripe.Config{
			SecretKey:       cfg.StripeSecretKey,
			WebhookSecret:   cfg.StripeWebhookSecret,
			Currency:        cfg.StripeCurrency,
			SuccessURL:      cfg.CheckoutSuccessURL(),
			CancelURL:       cfg.CheckoutCancelURL(),
			PortalReturnURL: cfg.PortalReturnURL(),
		}, logger)
	} else {
		slog.Warn("STRIPE_SECRET_KEY not set, checkout and webhooks disabled")
	}

	srv := server.New(db, srvCfg, logger)

	// No WriteTimeout: websocket connections are long-lived.
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	srv.Sweeper().Start(bgCtx)

	// Background cleanup goroutine
	go func() {
		ticker := time.NewTicker(10 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				srv.RateLimiter().Cleanup()
			case <-bgCtx.Done():
				return
			}
		}
	}()

	go func() {
		slog.Info("fitstack starting", "addr", ":"+cfg.Port, "base_url", cfg.BaseURL)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")
	srv.Sweeper().Stop()
	bgCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "error", err)
		os.Exit(1)
	}
	srv.Notifier().Wait()
}

// provision creates the account a bootstrap token is issued for.
func provision(dbPath, id, emailAddr string, role model.Role) error {
	db, err := database.Open(dbPath)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := context.Background()
	users := store.NewUserStore(db)
	existing, err := users.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if existing != nil {
		if existing.Role != role {
			return fmt.Errorf("user %s exists with role %s", id, existing.Role)
		}
		return nil
	}
	_, err = users.Create(ctx, id, emailAddr, id, role)
	return err
}
