// Package config handles configuration for the safety engine, including
// defaults, JSON overlay, and command-line flags.
package config

import (
	"os"
	"path/filepath"
	"time"
)

// Config holds runtime settings for the Haven engine.
//
// Fields:
//   - DataDir: writable root for profiles, logs, and the local database.
//   - PolicyBundlePath: optional YAML policy bundle; empty means the embedded default.
//   - StrikeLimit: in-session strike count that triggers an immediate parent alert.
//   - IdleWarnAfter / IdleExpireAfter: idle windows for ACTIVE→IDLE_WARNED→EXPIRED.
//   - SessionMaxDuration: absolute wall-clock cap per session.
//   - SecretKey: HMAC secret for signing dashboard JWTs (HS256). Do not use test defaults in prod.
//   - AccessTokenValidityDuration / RefreshTokenValidityDuration: dashboard token lifetimes.
//   - InferenceEndpoint: base URL of the local inference engine.
//   - InferenceModel: model name requested from the inference engine.
//   - BackupEnabled / S3*: optional encrypted export to an S3-compatible backend.
type Config struct {
	DataDir                      string
	PolicyBundlePath             string
	StrikeLimit                  int
	IdleWarnAfter                time.Duration
	IdleExpireAfter              time.Duration
	SessionMaxDuration           time.Duration
	SecretKey                    string
	AccessTokenValidityDuration  time.Duration
	RefreshTokenValidityDuration time.Duration
	InferenceEndpoint            string
	InferenceModel               string
	BackupEnabled                bool
	S3RootUser                   string
	S3RootPassword               string
	S3Bucket                     string
	S3Region                     string
	S3BaseEndpoint               string
}

// LoadDefaults populates Config with sensible development defaults.
// NOTE: SecretKey and S3 credentials are insecure placeholders and must be
// overridden on a real installation.
func (c *Config) LoadDefaults() {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	c.DataDir = filepath.Join(home, ".haven")
	c.PolicyBundlePath = ""
	c.StrikeLimit = 3
	c.IdleWarnAfter = 10 * time.Minute
	c.IdleExpireAfter = 15 * time.Minute
	c.SessionMaxDuration = 60 * time.Minute
	c.SecretKey = "secretKey"
	c.AccessTokenValidityDuration = 15 * time.Minute
	c.RefreshTokenValidityDuration = 24 * time.Hour
	c.InferenceEndpoint = "http://127.0.0.1:11434"
	c.InferenceModel = "llama3.2"
	c.BackupEnabled = false
	c.S3RootUser = "admin"
	c.S3RootPassword = "secretpassword"
	c.S3Bucket = "haven-backup"
	c.S3Region = "us-east-1"
	c.S3BaseEndpoint = "http://127.0.0.1:9000/"
}

// LoadConfig builds a Config by applying defaults, then overlaying values
// from an optional JSON file and finally from command-line flags.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
