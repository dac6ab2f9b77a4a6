package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	for _, key := range []string{
		"PORT", "STORE_DRIVER", "ENGINE_BASE_DECAY", "ENGINE_HORIZON_DAYS",
		"SIM_MAX_ITERATIONS", "CCC_FREEZE_THRESHOLD_DAYS", "POST_MORTEM_DELAY", "SIGNAL_TIMEOUT",
	} {
		t.Setenv(key, "")
	}

	cfg := Load()

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 0.05, cfg.Engine.BaseDecay)
	assert.Equal(t, 30, cfg.Engine.HorizonDays)
	assert.Equal(t, 50000, cfg.Engine.MaxIterations)
	assert.Equal(t, 45.0, cfg.Engine.CCCThresholdDays)
	assert.Equal(t, 24*time.Hour, cfg.Engine.PostMortemDelay)
	assert.Equal(t, 2*time.Second, cfg.Signals.Timeout)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("ENGINE_BASE_DECAY", "0.2")
	t.Setenv("CCC_FREEZE_THRESHOLD_DAYS", "60")
	t.Setenv("POST_MORTEM_DELAY", "90s")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg := Load()

	assert.Equal(t, "memory", cfg.Database.Driver)
	assert.Equal(t, 0.2, cfg.Engine.BaseDecay)
	assert.Equal(t, 60.0, cfg.Engine.CCCThresholdDays)
	assert.Equal(t, 90*time.Second, cfg.Engine.PostMortemDelay)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
}

func TestLoadIgnoresMalformedNumbers(t *testing.T) {
	t.Setenv("SIM_MAX_ITERATIONS", "lots")
	t.Setenv("SIGNAL_TIMEOUT", "soon")

	cfg := Load()

	assert.Equal(t, 50000, cfg.Engine.MaxIterations)
	assert.Equal(t, 2*time.Second, cfg.Signals.Timeout)
}
