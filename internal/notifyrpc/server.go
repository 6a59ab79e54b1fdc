package notifyrpc

import (
	"context"
	"net"
	"net/rpc"

	"log/slog"

	"relaycore/internal/store"
)

// PushSender delivers a push payload to a set of device tokens. cmd/notifyrpc
// implements this by sending one message per token through the FCM client in
// internal/provider/push.
type PushSender interface {
	Send(ctx context.Context, tokens []string, title, body string) error
}

// Service is the net/rpc-registered Notification service. Method names and
// signatures follow the net/rpc convention: exported method, two arguments
// (request, reply pointer), single error return.
type Service struct {
	tokens store.DeviceTokenStore
	push   PushSender
}

// NewService returns a Service backed by tokens and push.
func NewService(tokens store.DeviceTokenStore, push PushSender) *Service {
	return &Service{tokens: tokens, push: push}
}

// GetUserDeviceTokens is the RPC entry point backing Client.GetUserDeviceTokens.
func (s *Service) GetUserDeviceTokens(args *GetUserDeviceTokensArgs, reply *GetUserDeviceTokensReply) error {
	tokens, err := s.tokens.TokensFor(context.Background(), args.UserID)
	if err != nil {
		return err
	}
	reply.Tokens = tokens
	return nil
}

// SendPushNotification is the RPC entry point backing Client.SendPushNotification.
func (s *Service) SendPushNotification(args *SendPushNotificationArgs, reply *SendPushNotificationReply) error {
	return s.push.Send(context.Background(), args.Tokens, args.Title, args.Body)
}

// Serve registers svc under the "Notification" name and accepts connections
// on addr until the listener is closed. Mirrors the teacher pack's
// rpc.Register/rpc.Accept pairing for intra-cluster RPC.
func Serve(addr string, svc *Service) error {
	server := rpc.NewServer()
	if err := server.RegisterName("Notification", svc); err != nil {
		return err
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	slog.Default().Info("notifyrpc: listening", "addr", addr)
	server.Accept(listener)
	return nil
}
