package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8081", cfg.HTTPAddr)
	assert.Equal(t, time.Minute, cfg.SweepInterval)

	p := cfg.Policy()
	assert.Equal(t, 48*time.Hour, p.PremiumPhase)
	assert.Equal(t, 24*time.Hour, p.StandardClaimWindow)
	assert.Equal(t, 14*24*time.Hour, p.LoanPeriod)
	assert.False(t, p.ReservePremiumPhase)
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("PREMIUM_PHASE", "2h")
	t.Setenv("RESERVE_PREMIUM_PHASE", "true")
	t.Setenv("LOAN_LIMIT_STANDARD", "1")
	t.Setenv("SIMULATED_NOW", "2026-01-02T03:04:05Z")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Len(t, cfg.KafkaBrokers, 2)
	assert.Equal(t, 2*time.Hour, cfg.Policy().PremiumPhase)
	assert.True(t, cfg.Policy().ReservePremiumPhase)
	assert.Equal(t, 1, cfg.Policy().StandardLoanLimit)

	at, err := cfg.SimulatedTime()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC), at)
}

func TestLoad_RejectsBadSimulatedNow(t *testing.T) {
	t.Setenv("SIMULATED_NOW", "yesterday")
	_, err := Load()
	assert.Error(t, err)
}
