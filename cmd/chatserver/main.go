// Command chatserver runs the WS Session Framing + Chat Router subsystem
// (spec §4.1, §4.2): accepts WebSocket upgrades, authenticates the
// connecting user, and hands the connection to internal/ws for its
// lifetime.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"relaycore/internal/bootstrap"
	"relaycore/internal/chat"
	"relaycore/internal/config"
	"relaycore/internal/middleware"
	"relaycore/internal/notifyrpc"
	"relaycore/internal/presence"
	"relaycore/internal/store"
	"relaycore/internal/ws"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
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

	convs := store.NewConversationStore(rt.DB)
	attachments := store.NewAttachmentStore(rt.DB)
	presenceStore := presence.New(rt.Redis)
	notify := notifyrpc.NewClient(cfg.NotificationServiceDialAddr())
	defer notify.Close()

	ctx, cancel := context.WithCancel(context.Background())
	router := chat.New(ctx, presenceStore, convs, attachments, notify)
	go router.RunFlusher(ctx)

	app := fiber.New(fiber.Config{AppName: "relaycore chat server"})
	app.Use(middleware.StructuredLogger())
	app.Use(middleware.ContextMiddleware())

	app.Get("/ws",
		middleware.RateLimitWithPolicy(rt.Redis, 20, time.Minute, middleware.FailOpen, "ws_connect"),
		middleware.WebSocketAuthRequired,
		websocket.New(func(c *websocket.Conn) {
		userID, _ := c.Locals("userID").(string)
		ws.Run(ctx, c, router, convs, userID)
	}))

	go func() {
		mux := promhttp.Handler()
		log.Printf("chatserver: metrics listening on %s", cfg.MetricsAddr)
		if err := (&http.Server{Addr: cfg.MetricsAddr, Handler: mux}).ListenAndServe(); err != nil {
			log.Printf("chatserver: metrics server stopped: %v", err)
		}
	}()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("chatserver: shutting down...")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()

		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			log.Printf("chatserver: fiber shutdown error: %v", err)
		}
		if err := router.Shutdown(shutdownCtx); err != nil {
			log.Printf("chatserver: router shutdown error: %v", err)
		}
		cancel()
	}()

	log.Printf("chatserver: listening on :%s", cfg.Port)
	log.Fatal(app.Listen(":" + cfg.Port))
}
