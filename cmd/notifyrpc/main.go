// Command notifyrpc runs the minimal Notification service the Chat Router
// dials over net/rpc (spec §4.4): device-token lookup backed by Postgres,
// and push delivery backed by the FCM client.
package main

import (
	"context"
	"log"

	"relaycore/internal/bootstrap"
	"relaycore/internal/config"
	"relaycore/internal/middleware"
	"relaycore/internal/notifyrpc"
	"relaycore/internal/provider/push"
	"relaycore/internal/store"
)

// fanOutPushSender adapts the single-message FCM client to notifyrpc's
// multi-token PushSender contract by sending once per token.
type fanOutPushSender struct {
	client *push.Client
}

func (s *fanOutPushSender) Send(ctx context.Context, tokens []string, title, body string) error {
	var firstErr error
	for _, tok := range tokens {
		msg := push.Message{Token: tok, Notification: &push.Notification{Title: title, Body: body}}
		if err := s.client.Send(ctx, msg); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

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

	tokenManager, err := push.NewTokenManager(context.Background())
	if err != nil {
		log.Fatalf("notifyrpc: push token manager init failed: %v", err)
	}
	pushClient := push.NewClient(cfg.FCMProjectID, tokenManager)

	tokens := store.NewDeviceTokenStore(rt.DB)
	svc := notifyrpc.NewService(tokens, &fanOutPushSender{client: pushClient})

	addr := cfg.NotificationServiceDialAddr()
	log.Printf("notifyrpc: serving on %s", addr)
	log.Fatal(notifyrpc.Serve(addr, svc))
}
