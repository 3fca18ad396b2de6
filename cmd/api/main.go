package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"

	"github.com/jharden/gigpay/internal/booking"
	"github.com/jharden/gigpay/internal/config"
	"github.com/jharden/gigpay/internal/conversation"
	"github.com/jharden/gigpay/internal/database"
	"github.com/jharden/gigpay/internal/escrow"
	"github.com/jharden/gigpay/internal/metrics"
	"github.com/jharden/gigpay/internal/notification"
	"github.com/jharden/gigpay/internal/payments"
	"github.com/jharden/gigpay/internal/sweeper"
	"github.com/jharden/gigpay/internal/tasks"
	mw "github.com/jharden/gigpay/pkg/middleware"
)

func main() {
	// Load .env file
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	db, err := database.NewPostgresConnection(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	log.Println("Connected to database successfully")

	metrics.Register()

	processor := payments.NewStripeProcessor(cfg.StripeSecretKey)
	queue := tasks.NewClient(cfg.TaskQueueURL, cfg.TaskQueueToken, cfg.TaskTargetBaseURL)

	// Notification feature (mail outbox)
	notificationRepo := notification.NewRepository(db)
	mailer := notification.NewService(notificationRepo)

	// Conversation feature
	conversationRepo := conversation.NewRepository(db)
	conversationService := conversation.NewService(conversationRepo)
	conversationHandler := conversation.NewHandler(conversationService, mailer)

	// Escrow feature
	escrowRepo := escrow.NewRepository(db)
	writer := escrow.NewWriter(escrowRepo, queue, conversationService, mailer, cfg.DisputeWindow, cfg.SchedulingHorizon)
	finalizer := escrow.NewFinalizer(escrowRepo, processor, mailer, cfg.Currency)
	disputes := escrow.NewDisputeService(escrowRepo, queue)
	escrowHandler := escrow.NewHandler(finalizer, disputes, escrowRepo)

	// Booking feature
	bookingRepo := booking.NewRepository(db)
	recordRepo := payments.NewRecordRepository(db)
	bookingService := booking.NewService(bookingRepo, recordRepo, processor, cfg.Currency)
	bookingHandler := booking.NewHandler(bookingService)
	failureHandler := booking.NewFailureHandler(bookingRepo, conversationService)

	// Webhook dispatcher and trampoline share the writer with the sweeper so
	// every settlement path produces identical state.
	webhookHandler := payments.NewWebhookHandler(
		cfg.StripeWebhookSecret, cfg.Currency,
		writer, failureHandler, recordRepo, escrowRepo, processor,
	)
	trampoline := tasks.NewTrampoline(queue, escrowRepo, cfg.SchedulingHorizon)

	sweep := sweeper.NewSweeper(
		sweeper.NewLeaseRepository(db), recordRepo, processor, writer, failureHandler,
		sweeper.Config{
			Interval:   cfg.SweepInterval,
			StaleAfter: cfg.SweepStaleAfter,
			LeaseTTL:   cfg.SweepLeaseTTL,
			PageSize:   cfg.SweepPageSize,
		},
	)

	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(mw.Actor)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/swagger/*", httpSwagger.WrapHandler)

	r.Post("/webhooks/stripe", webhookHandler.Handle)

	// Queue-delivered task targets, reachable only with the shared token
	r.Route("/internal/tasks", func(r chi.Router) {
		r.Use(mw.QueueToken(cfg.TaskQueueToken))
		r.Post("/trampoline", trampoline.Handle)
		r.Post("/clear-fee", escrowHandler.ClearFee)
		r.Post("/review-prompt", conversationHandler.ReviewPrompt)
	})

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Mount("/bookings", bookingHandler.Routes())
		r.Mount("/recipients", escrowHandler.APIRoutes())
	})

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go sweep.Run(rootCtx)

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		log.Printf("Server starting on port %s", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	<-rootCtx.Done()
	log.Println("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Graceful shutdown failed: %v", err)
	}
}
