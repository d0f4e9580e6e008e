package sandbox

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 30*time.Minute, cfg.Timeout)
	assert.True(t, cfg.InheritEnv)
	assert.Empty(t, cfg.FilesystemAccess.AllowedPaths)
	assert.NoError(t, ValidateConfig(cfg))
}

func TestValidateConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Timeout = -1
	assert.ErrorIs(t, ValidateConfig(cfg), ErrInvalidTimeout)

	cfg = DefaultConfig()
	cfg.Env = map[string]string{"": "v"}
	assert.ErrorIs(t, ValidateConfig(cfg), ErrInvalidEnv)

	cfg = DefaultConfig()
	cfg.Timeout = 0
	assert.NoError(t, ValidateConfig(cfg))
}
