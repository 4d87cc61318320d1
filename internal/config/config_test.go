package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, []float64{100, 250, 500, 1000}, cfg.WagerTiers)
	assert.Equal(t, 1.8, cfg.PayoutFactor)
	assert.Equal(t, int64(300000), cfg.InitialClockMs)
	assert.Equal(t, int64(2000), cfg.MoveIncrementMs)
}

func TestWagerTiersFromEnv(t *testing.T) {
	t.Setenv("WAGER_TIERS", "50, 100,200")
	cfg := Load()
	assert.Equal(t, []float64{50, 100, 200}, cfg.WagerTiers)
}

func TestMalformedWagerTiersFallBack(t *testing.T) {
	t.Setenv("WAGER_TIERS", "50,banana")
	cfg := Load()
	assert.Equal(t, []float64{100, 250, 500, 1000}, cfg.WagerTiers)
}

func TestValidWager(t *testing.T) {
	cfg := &Config{WagerTiers: []float64{100, 250}}
	assert.True(t, cfg.ValidWager(100))
	assert.True(t, cfg.ValidWager(250))
	assert.False(t, cfg.ValidWager(99.99))
	assert.False(t, cfg.ValidWager(0))
	assert.False(t, cfg.ValidWager(500))
}
