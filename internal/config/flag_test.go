package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func Test_parseFlags(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	os.Args = []string{"testbin",
		"-d", "/tmp/data",
		"-b", "bundle.yaml",
		"-s", "flagsecret",
		"-t", "5",
		"-r", "120",
		"-w", "7",
		"-x", "12",
		"-m", "30",
		"-e", "http://localhost:11434",
	}

	cfg := &Config{}
	cfg.LoadDefaults()
	parseFlags(cfg)

	assert.Equal(t, "/tmp/data", cfg.DataDir)
	assert.Equal(t, "bundle.yaml", cfg.PolicyBundlePath)
	assert.Equal(t, "flagsecret", cfg.SecretKey)
	assert.Equal(t, 5*time.Minute, cfg.AccessTokenValidityDuration)
	assert.Equal(t, 120*time.Minute, cfg.RefreshTokenValidityDuration)
	assert.Equal(t, 7*time.Minute, cfg.IdleWarnAfter)
	assert.Equal(t, 12*time.Minute, cfg.IdleExpireAfter)
	assert.Equal(t, 30*time.Minute, cfg.SessionMaxDuration)
	assert.Equal(t, "http://localhost:11434", cfg.InferenceEndpoint)
}
