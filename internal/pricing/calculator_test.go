package pricing

import (
	"math/rand"
	"testing"

	"coachbook/internal/config"
	"coachbook/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCalculator(t *testing.T) *Calculator {
	t.Helper()
	c, err := NewCalculator(config.PricingConfig{
		GatewayPercent:       "2.9",
		GatewayFixed:         30,
		PlatformPercent:      "10",
		ServicePercent:       "5",
		BundleServicePercent: "2.5",
	})
	require.NoError(t, err)
	return c
}

func TestCompute(t *testing.T) {
	c := newTestCalculator(t)

	t.Run("Gateway", func(t *testing.T) {
		fees, err := c.Compute(10000, models.ModeGateway, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(320), fees.GatewayFee)
		assert.Equal(t, int64(1000), fees.PlatformFee)
		assert.Equal(t, int64(500), fees.ServiceFee)
		assert.Equal(t, int64(8180), fees.ProviderNet)
		assert.Equal(t, int64(10000), fees.Total())
	})

	t.Run("GatewayBundle", func(t *testing.T) {
		fees, err := c.Compute(40000, models.ModeGateway, 5)
		require.NoError(t, err)
		assert.Equal(t, int64(1000), fees.ServiceFee)
		assert.Equal(t, int64(40000), fees.Total())
	})

	t.Run("FixedFeeLargerThanGross", func(t *testing.T) {
		fees, err := c.Compute(20, models.ModeGateway, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(20), fees.GatewayFee)
		assert.Equal(t, int64(0), fees.ProviderNet)
		assert.Equal(t, int64(20), fees.Total())
	})

	t.Run("External", func(t *testing.T) {
		fees, err := c.Compute(7500, models.ModeExternal, 0)
		require.NoError(t, err)
		assert.Equal(t, models.FeeBreakdown{ProviderNet: 7500}, fees)
	})

	t.Run("ZeroPrice", func(t *testing.T) {
		fees, err := c.Compute(0, models.ModeFree, 0)
		require.NoError(t, err)
		assert.Equal(t, models.FeeBreakdown{}, fees)

		_, err = c.Compute(100, models.ModeFree, 0)
		assert.Error(t, err)
	})

	t.Run("Errors", func(t *testing.T) {
		_, err := c.Compute(-1, models.ModeGateway, 0)
		assert.ErrorIs(t, err, ErrNegativePrice)

		_, err = c.Compute(100, models.SettlementMode("barter"), 0)
		assert.ErrorIs(t, err, ErrUnknownMode)
	})
}

func TestCompute_FeeSumProperty(t *testing.T) {
	c := newTestCalculator(t)
	rng := rand.New(rand.NewSource(7))
	modes := []models.SettlementMode{models.ModeGateway, models.ModeExternal}

	for i := 0; i < 500; i++ {
		gross := rng.Int63n(1_000_000)
		mode := modes[rng.Intn(len(modes))]
		fees, err := c.Compute(gross, mode, rng.Int63n(3))
		require.NoError(t, err)
		assert.Equal(t, gross, fees.Total(), "gross=%d mode=%s", gross, mode)
		assert.GreaterOrEqual(t, fees.ProviderNet, int64(0))
	}
}

func TestNewCalculator(t *testing.T) {
	_, err := NewCalculator(config.PricingConfig{GatewayPercent: "abc"})
	assert.Error(t, err)

	_, err = NewCalculator(config.PricingConfig{PlatformPercent: "120"})
	assert.Error(t, err)

	_, err = NewCalculator(config.PricingConfig{GatewayFixed: -1})
	assert.Error(t, err)

	c, err := NewCalculator(config.PricingConfig{ServicePercent: "4"})
	require.NoError(t, err)
	fees, err := c.Compute(1000, models.ModeGateway, 3)
	require.NoError(t, err)
	assert.Equal(t, int64(40), fees.ServiceFee, "bundle rate falls back to service rate")
}

func TestSessionPrice(t *testing.T) {
	assert.Equal(t, int64(10000), SessionPrice(10000, 60))
	assert.Equal(t, int64(15000), SessionPrice(10000, 90))
	assert.Equal(t, int64(3333), SessionPrice(10000, 20))
	assert.Equal(t, int64(17), SessionPrice(50, 20), "16.67 rounds up")
	assert.Equal(t, int64(0), SessionPrice(0, 60))
}
