package store

import (
	"context"
	"errors"
	"time"

	"relaycore/internal/models"
	"relaycore/internal/observability"

	"gorm.io/gorm"
)

// PreferencesStore reads and writes UserPreferences.
type PreferencesStore interface {
	Get(ctx context.Context, userID string) (*models.UserPreferences, error)
	// Upsert de-duplicates every channel set before writing (§3 invariant 6).
	Upsert(ctx context.Context, prefs *models.UserPreferences) error
}

type preferencesStore struct {
	db     *gorm.DB
	logger *observability.RepoLogger
}

// NewPreferencesStore returns a PreferencesStore backed by db.
func NewPreferencesStore(db *gorm.DB) PreferencesStore {
	return &preferencesStore{db: db, logger: observability.NewRepoLogger("user_preferences")}
}

func (s *preferencesStore) track(op string) func() {
	start := time.Now()
	return func() {
		observability.DatabaseQueryLatency.WithLabelValues(op, "user_preferences").Observe(time.Since(start).Seconds())
	}
}

func (s *preferencesStore) Get(ctx context.Context, userID string) (*models.UserPreferences, error) {
	defer s.track("read")()
	var prefs models.UserPreferences
	err := s.db.WithContext(ctx).First(&prefs, "user_id = ?", userID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		s.logger.LogError(ctx, err, "get")
		return nil, err
	}
	return &prefs, nil
}

func (s *preferencesStore) Upsert(ctx context.Context, prefs *models.UserPreferences) error {
	defer s.track("update")()
	prefs.TransactionalChannels = models.DedupeChannels(prefs.TransactionalChannels)
	prefs.SystemAlertChannels = models.DedupeChannels(prefs.SystemAlertChannels)
	prefs.ChatChannels = models.DedupeChannels(prefs.ChatChannels)

	err := s.db.WithContext(ctx).Save(prefs).Error
	if err != nil {
		s.logger.LogError(ctx, err, "upsert")
		return err
	}
	s.logger.LogUpdate(ctx, map[string]interface{}{"user_id": prefs.UserID})
	return nil
}
