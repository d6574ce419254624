package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("TRIGO_JWT_SECRET", "secret")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTP.Addr)
	assert.Equal(t, 10*time.Second, cfg.HTTP.ShutdownTimeout)
	assert.Equal(t, "postgres", cfg.Store)
	assert.Equal(t, 5.0, cfg.Matching.RadiusKm)
	assert.Equal(t, 50.0, cfg.Matching.MaxRadiusKm)
	assert.Equal(t, 20, cfg.Matching.QueueLimit)
	assert.Equal(t, 20.0, cfg.Fare.Base)
	assert.Equal(t, 5.0, cfg.Fare.PerKm)
	assert.Equal(t, "PHP", cfg.Fare.Currency)
	assert.Equal(t, "jwt", cfg.Auth.Mode)
	assert.Equal(t, "ride-events", cfg.Kafka.Topic)
	assert.Empty(t, cfg.Kafka.Brokers)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("TRIGO_STORE", "memory")
	t.Setenv("TRIGO_AUTH_MODE", "firebase")
	t.Setenv("TRIGO_FIREBASE_PROJECT_ID", "trigo-dev")
	t.Setenv("TRIGO_KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092,")
	t.Setenv("TRIGO_MATCH_RADIUS_KM", "3.5")
	t.Setenv("TRIGO_PLACE_CACHE_TTL", "15m")
	t.Setenv("TRIGO_SEED_DRIVERS", "d1,d2")
	t.Setenv("TRIGO_FCM_PUSH", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Store)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, 3.5, cfg.Matching.RadiusKm)
	assert.Equal(t, 15*time.Minute, cfg.Redis.PlaceTTL)
	assert.Equal(t, []string{"d1", "d2"}, cfg.SeedDrivers)
	assert.True(t, cfg.Firebase.Push)
}

func TestLoadCollectsErrors(t *testing.T) {
	t.Setenv("TRIGO_MATCH_QUEUE_LIMIT", "many")
	t.Setenv("TRIGO_FARE_BASE", "-1")
	t.Setenv("TRIGO_STORE", "mongo")
	t.Setenv("TRIGO_FCM_PUSH", "true")

	_, err := Load()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "TRIGO_MATCH_QUEUE_LIMIT")
	assert.Contains(t, msg, "TRIGO_STORE")
	assert.Contains(t, msg, "TRIGO_JWT_SECRET")
	assert.Contains(t, msg, "non-negative")
	assert.Contains(t, msg, "TRIGO_FCM_PUSH")
}
