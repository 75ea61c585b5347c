package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func baseViper() *viper.Viper {
	v := newViper()
	v.Set("JWT_SECRET", "jwt")
	v.Set("STRIPE_SECRET_KEY", "sk_test_123")
	v.Set("STRIPE_WEBHOOK_SECRET", "whsec_123")
	return v
}

func TestFromViper_Defaults(t *testing.T) {
	cfg, err := FromViper(baseViper())
	require.NoError(t, err)

	assert.Equal(t, ":5000", cfg.Port)
	assert.Equal(t, "ecommerce", cfg.MongoDB)
	assert.Equal(t, "usd", cfg.Stripe.Currency)
	assert.Equal(t, 100, cfg.RateLimit)
	assert.Equal(t, 15*time.Minute, cfg.RateWindow)
	assert.Equal(t, "jwt", cfg.ReceiptSecret)
	assert.False(t, cfg.Production())
}

func TestFromViper_TrimsFrontendURL(t *testing.T) {
	v := baseViper()
	v.Set("FRONTEND_URL", "https://shop.example.com/")
	v.Set("PORT", ":8080")

	cfg, err := FromViper(v)
	require.NoError(t, err)
	assert.Equal(t, "https://shop.example.com", cfg.FrontendURL)
	assert.Equal(t, ":8080", cfg.Port)
}

func TestFromViper_MissingSecrets(t *testing.T) {
	t.Setenv("STRIPE_SECRET_KEY", "")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "")
	v := newViper()
	v.Set("JWT_SECRET", "jwt")

	_, err := FromViper(v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STRIPE_SECRET_KEY")
	assert.Contains(t, err.Error(), "STRIPE_WEBHOOK_SECRET")
}
