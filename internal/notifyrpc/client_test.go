package notifyrpc

import (
	"context"
	"net"
	"net/rpc"
	"testing"

	"relaycore/internal/breaker"
	"relaycore/internal/models"
	"relaycore/internal/store"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type fakePushSender struct {
	sent []string
}

func (f *fakePushSender) Send(_ context.Context, tokens []string, title, body string) error {
	f.sent = append(f.sent, title+":"+body)
	_ = tokens
	return nil
}

// startTestServer registers svc on an ephemeral local listener and returns
// its address; the listener is closed by t.Cleanup.
func startTestServer(t *testing.T, svc *Service) string {
	t.Helper()
	server := rpc.NewServer()
	require.NoError(t, server.RegisterName("Notification", svc))

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = listener.Close() })
	go server.Accept(listener)

	return listener.Addr().String()
}

func newTestDeviceTokens(t *testing.T) store.DeviceTokenStore {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.UserDeviceToken{}))
	require.NoError(t, db.Create(&models.UserDeviceToken{UserID: "user-a", Token: "tok-1"}).Error)
	return store.NewDeviceTokenStore(db)
}

func TestClient_GetUserDeviceTokensRoundTrip(t *testing.T) {
	svc := NewService(newTestDeviceTokens(t), &fakePushSender{})
	addr := startTestServer(t, svc)

	client := NewClient(addr)
	t.Cleanup(func() { _ = client.Close() })

	tokens, err := client.GetUserDeviceTokens(context.Background(), "user-a")
	require.NoError(t, err)
	assert.Equal(t, []string{"tok-1"}, tokens)
}

func TestClient_SendPushNotificationRoundTrip(t *testing.T) {
	sender := &fakePushSender{}
	svc := NewService(newTestDeviceTokens(t), sender)
	addr := startTestServer(t, svc)

	client := NewClient(addr)
	t.Cleanup(func() { _ = client.Close() })

	err := client.SendPushNotification(context.Background(), []string{"tok-1"}, "hello", "world")
	require.NoError(t, err)
	assert.Equal(t, []string{"hello:world"}, sender.sent)
}

func TestClient_UnreachableServerTripsBreaker(t *testing.T) {
	// Port with nothing listening: dial fails immediately, three failures
	// should open the breaker per spec §4.4.
	client := NewClient("127.0.0.1:1")
	t.Cleanup(func() { _ = client.Close() })
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := client.GetUserDeviceTokens(ctx, "user-a")
		require.Error(t, err)
	}

	_, err := client.GetUserDeviceTokens(ctx, "user-a")
	assert.ErrorIs(t, err, breaker.ErrOpen)
}
