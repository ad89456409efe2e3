package logging

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"researchbuddy/internal/config"
)

func TestSetupWritesJSONToFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "logs", "rb.log")
	cfg := config.Default().Log
	cfg.Level = "debug"

	logger, closer, err := Setup(cfg, file)
	require.NoError(t, err)
	logger.Debug().Str("session_id", "abc").Msg("hello")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	line := string(data)
	assert.True(t, strings.Contains(line, `"session_id":"abc"`))
	assert.True(t, strings.Contains(line, `"level":"debug"`))
}

func TestSetupFiltersBelowLevel(t *testing.T) {
	file := filepath.Join(t.TempDir(), "rb.log")
	cfg := config.Default().Log
	cfg.Level = "warn"

	logger, closer, err := Setup(cfg, file)
	require.NoError(t, err)
	logger.Info().Msg("quiet")
	logger.Warn().Msg("loud")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(file)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "quiet")
	assert.Contains(t, string(data), "loud")
}

func TestSetupWithoutOutputsIsNop(t *testing.T) {
	cfg := config.Default().Log
	cfg.Console = false
	logger, closer, err := Setup(cfg, "")
	require.NoError(t, err)
	require.NotNil(t, closer)
	logger.Info().Msg("dropped")
}
