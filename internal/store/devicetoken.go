package store

import (
	"context"
	"time"

	"relaycore/internal/models"
	"relaycore/internal/observability"

	"gorm.io/gorm"
)

// DeviceTokenStore reads a user's registered push tokens. Device tokens are
// written by the out-of-scope CRUD surface (spec §1); this store only reads
// them for the planner and the Notification service.
type DeviceTokenStore interface {
	TokensFor(ctx context.Context, userID string) ([]string, error)
}

type deviceTokenStore struct {
	db     *gorm.DB
	logger *observability.RepoLogger
}

// NewDeviceTokenStore returns a DeviceTokenStore backed by db.
func NewDeviceTokenStore(db *gorm.DB) DeviceTokenStore {
	return &deviceTokenStore{db: db, logger: observability.NewRepoLogger("user_device_tokens")}
}

func (s *deviceTokenStore) TokensFor(ctx context.Context, userID string) ([]string, error) {
	start := time.Now()
	defer func() {
		observability.DatabaseQueryLatency.WithLabelValues("read", "user_device_tokens").Observe(time.Since(start).Seconds())
	}()
	var tokens []string
	err := s.db.WithContext(ctx).Model(&models.UserDeviceToken{}).
		Where("user_id = ?", userID).
		Pluck("token", &tokens).Error
	if err != nil {
		s.logger.LogError(ctx, err, "tokens_for")
		return nil, err
	}
	return tokens, nil
}
