// Command dispatcher runs the Notification Dispatch Pipeline (spec §4.3):
// the push and email bus consumers, the SendGrid delivery webhook, and the
// send-notification API that invokes the Send Planner.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"relaycore/internal/bootstrap"
	"relaycore/internal/bus"
	"relaycore/internal/config"
	"relaycore/internal/dispatch"
	"relaycore/internal/middleware"
	"relaycore/internal/models"
	"relaycore/internal/planner"
	"relaycore/internal/provider/email"
	"relaycore/internal/provider/push"
	"relaycore/internal/store"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	middleware.InitMiddleware(cfg)

	rt, err := bootstrap.InitRuntime(cfg)
	if err != nil {
		log.Fatalf("runtime initialization failed: %v", err)
	}

	notifications := store.NewNotificationStore(rt.DB)
	templates := store.NewTemplateStore(rt.DB)
	preferences := store.NewPreferencesStore(rt.DB)
	tokens := store.NewDeviceTokenStore(rt.DB)

	brokers := strings.Split(cfg.Brokers, ",")
	producer, err := bus.NewProducer(brokers)
	if err != nil {
		log.Fatalf("dispatcher: producer init failed: %v", err)
	}
	defer producer.Close()

	ctx, cancel := context.WithCancel(context.Background())

	tokenManager, err := push.NewTokenManager(ctx)
	if err != nil {
		log.Fatalf("dispatcher: push token manager init failed: %v", err)
	}
	pushClient := push.NewClient(cfg.FCMProjectID, tokenManager)
	emailClient := email.NewClient(cfg.SendgridAPIKey)

	pushDispatcher := dispatch.NewPushDispatcher(notifications, templates, producer, pushClient)
	emailDispatcher := dispatch.NewEmailDispatcher(notifications, templates, producer, emailClient)

	pushConsumer, err := bus.NewConsumer(brokers, cfg.PushGroup, cfg.PushTopic, pushDispatcher.HandleJob)
	if err != nil {
		log.Fatalf("dispatcher: push consumer init failed: %v", err)
	}
	emailConsumer, err := bus.NewConsumer(brokers, cfg.EmailGroup, cfg.EmailTopic, emailDispatcher.HandleJob)
	if err != nil {
		log.Fatalf("dispatcher: email consumer init failed: %v", err)
	}

	go func() {
		if err := pushConsumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("dispatcher: push consumer stopped: %v", err)
		}
	}()
	go func() {
		if err := emailConsumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Printf("dispatcher: email consumer stopped: %v", err)
		}
	}()

	sendPlanner := planner.New(preferences, tokens, producer)
	webhook := dispatch.NewWebhookHandler(notifications)

	app := fiber.New(fiber.Config{AppName: "relaycore dispatcher"})
	app.Use(middleware.StructuredLogger())
	app.Use(middleware.ContextMiddleware())

	app.Post("/webhook/sendgrid", webhook.Handle)
	app.Post("/notifications/send",
		middleware.RateLimitWithPolicy(rt.Redis, 60, time.Minute, middleware.FailOpen, "notifications_send"),
		sendHandler(sendPlanner))

	go func() {
		log.Printf("dispatcher: metrics listening on %s", cfg.MetricsAddr)
		if err := (&http.Server{Addr: cfg.MetricsAddr, Handler: promhttp.Handler()}).ListenAndServe(); err != nil {
			log.Printf("dispatcher: metrics server stopped: %v", err)
		}
	}()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("dispatcher: shutting down...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			log.Printf("dispatcher: fiber shutdown error: %v", err)
		}
		cancel() // lets in-flight claims finish their current job, then consumers exit
		_ = pushConsumer.Close()
		_ = emailConsumer.Close()
	}()

	log.Printf("dispatcher: listening on :%s", cfg.Port)
	log.Fatal(app.Listen(":" + cfg.Port))
}

// sendRequest is the JSON body of POST /notifications/send (spec §4.3.4).
type sendRequest struct {
	Recipient     string                   `json:"recipient"`
	Type          models.NotificationType  `json:"type"`
	Channels      []string                 `json:"channels"`
	From          planner.Address          `json:"from"`
	Title         string                   `json:"title"`
	Content       *string                  `json:"content,omitempty"`
	ContentType   string                   `json:"content_type"`
	TemplateID    *int32                   `json:"template_id,omitempty"`
	TemplateProps map[string]string        `json:"template_props,omitempty"`
	Attachments   []planner.Attachment     `json:"attachments,omitempty"`
	ReplyTo       *planner.Address         `json:"reply_to,omitempty"`
}

func sendHandler(p *planner.Planner) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var req sendRequest
		if err := c.BodyParser(&req); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid payload"})
		}

		err := p.Plan(c.Context(), planner.SendNotification{
			Recipient:     req.Recipient,
			Type:          req.Type,
			Channels:      req.Channels,
			From:          req.From,
			Title:         req.Title,
			Content:       req.Content,
			ContentType:   req.ContentType,
			TemplateID:    req.TemplateID,
			TemplateProps: req.TemplateProps,
			Attachments:   req.Attachments,
			ReplyTo:       req.ReplyTo,
		})
		switch {
		case err == nil:
			return c.SendStatus(fiber.StatusAccepted)
		case errors.Is(err, planner.ErrNotImplemented):
			return c.Status(fiber.StatusNotImplemented).JSON(fiber.Map{"error": err.Error()})
		case errors.Is(err, store.ErrNotFound), errors.Is(err, planner.ErrNoChannelIntersection):
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
		case errors.Is(err, planner.ErrDoNotDisturb):
			return c.Status(fiber.StatusOK).JSON(fiber.Map{"message": err.Error()})
		default:
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
		}
	}
}
