package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRequiresOwner(t *testing.T) {
	_, err := Load()
	assert.Error(t, err)
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("OWNER_ID", "42")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, int64(42), cfg.OwnerID)
	assert.Equal(t, "edge-dispatch", cfg.ServiceName)
	assert.Equal(t, "steamaccount", cfg.PaymentMethod)
	assert.False(t, cfg.UseInformed)
	assert.Equal(t, "localhost", cfg.Database.Host)
	assert.Equal(t, 5432, cfg.Database.Port)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.Equal(t, "purchases.v1", cfg.Kafka.PurchasesTopic)
}

func TestLoadRejectsUnknownPaymentMethod(t *testing.T) {
	t.Setenv("OWNER_ID", "42")
	t.Setenv("PAYMENT_METHOD", "paypal")

	_, err := Load()
	assert.Error(t, err)
}

func TestLoadParsesBrokerList(t *testing.T) {
	t.Setenv("OWNER_ID", "42")
	t.Setenv("KAFKA_BROKERS", "one:9092, two:9092 ,")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, []string{"one:9092", "two:9092"}, cfg.Kafka.Brokers)
}

func TestLoadBitcoinNeedsNoExtraConfig(t *testing.T) {
	t.Setenv("OWNER_ID", "42")
	t.Setenv("PAYMENT_METHOD", "bitcoin")
	t.Setenv("USE_INFORMED", "1")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "bitcoin", cfg.PaymentMethod)
	assert.True(t, cfg.UseInformed)
}
