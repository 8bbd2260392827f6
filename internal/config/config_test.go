package config_test

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/mel-run/taskflow/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg := config.Load(viper.New())

	require.Equal(t, "taskflow", cfg.QueueName)
	require.Equal(t, 30*time.Second, cfg.QueueProcessingTimeout)
	require.Equal(t, 3, cfg.MaxRetries)
	require.Equal(t, "8080", cfg.HTTPPort)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("TASKFLOW_HTTP_PORT", "9090")
	t.Setenv("TASKFLOW_MAX_RETRIES", "7")

	cfg := config.Load(viper.New())

	require.Equal(t, "9090", cfg.HTTPPort)
	require.Equal(t, 7, cfg.MaxRetries)
}
