package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRequiresToken(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "")

	_, err := Load()
	assert.ErrorIs(t, err, ErrMissingToken)
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("KAFKA_BROKERS", "")
	t.Setenv("REDIS_ADDR", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.15", cfg.Business.CommissionRate.String())
	assert.Equal(t, 10, cfg.Assistant.DailyLimit)
	assert.Equal(t, 15*time.Second, cfg.Business.ProcessorTimeout)
	assert.False(t, cfg.Kafka.Enabled())
	assert.False(t, cfg.Redis.Enabled())
}

func TestLoadParsesValues(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("ADMIN_ID", "987654")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("REFERRAL_COMMISSION_RATE", "0.2")
	t.Setenv("WEBHOOK_HOST", "https://bot.example.com/")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, int64(987654), cfg.Bot.AdminID)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.Equal(t, "0.2", cfg.Business.CommissionRate.String())
	assert.Equal(t, "https://bot.example.com", cfg.Server.WebhookHost)
}

func TestLoadRejectsMalformedNumbers(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("ADMIN_ID", "not-a-number")

	_, err := Load()
	assert.ErrorContains(t, err, "ADMIN_ID")
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("STORE_DRIVER", "sqlite")

	_, err := Load()
	assert.Error(t, err)
}
