package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/brightnest/haven/internal/flagx"
	"github.com/brightnest/haven/internal/timex"
)

// JsonConfig is an intermediate DTO used only for reading JSON configuration
// files. It uses timex.Duration for interval fields, which allows parsing
// both string values such as "30m" and integer nanoseconds. After
// unmarshalling, its fields are copied into the runtime Config struct.
type JsonConfig struct {
	DataDir                      string         `json:"data_dir"`
	PolicyBundlePath             string         `json:"policy_bundle_path"`
	StrikeLimit                  int            `json:"strike_limit"`
	IdleWarnAfter                timex.Duration `json:"idle_warn_after"`
	IdleExpireAfter              timex.Duration `json:"idle_expire_after"`
	SessionMaxDuration           timex.Duration `json:"session_max_duration"`
	SecretKey                    string         `json:"secret_key"`
	AccessTokenValidityDuration  timex.Duration `json:"access_token_validity_duration"`
	RefreshTokenValidityDuration timex.Duration `json:"refresh_token_validity_duration"`
	InferenceEndpoint            string         `json:"inference_endpoint"`
	InferenceModel               string         `json:"inference_model"`
	BackupEnabled                bool           `json:"backup_enabled"`
	S3RootUser                   string         `json:"s3_root_user"`
	S3RootPassword               string         `json:"s3_root_password"`
	S3Bucket                     string         `json:"s3_bucket"`
	S3Region                     string         `json:"s3_region"`
	S3BaseEndpoint               string         `json:"s3_base_endpoint"`
}

// parseJson loads configuration values from a JSON file into the provided
// Config instance. The file path comes from the -c or -config command-line
// flags; if neither is set, no JSON file is loaded. If the file cannot be
// read or contains invalid JSON, the function panics: a half-applied config
// on a safety product is worse than a refusal to start.
func parseJson(config *Config) {

	jsonConfigFile := flagx.JsonConfigFlags()

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	config.DataDir = c.DataDir
	config.PolicyBundlePath = c.PolicyBundlePath
	config.StrikeLimit = c.StrikeLimit
	config.IdleWarnAfter = time.Duration(c.IdleWarnAfter.Duration)
	config.IdleExpireAfter = time.Duration(c.IdleExpireAfter.Duration)
	config.SessionMaxDuration = time.Duration(c.SessionMaxDuration.Duration)
	config.SecretKey = c.SecretKey
	config.AccessTokenValidityDuration = time.Duration(c.AccessTokenValidityDuration.Duration)
	config.RefreshTokenValidityDuration = time.Duration(c.RefreshTokenValidityDuration.Duration)
	config.InferenceEndpoint = c.InferenceEndpoint
	config.InferenceModel = c.InferenceModel
	config.BackupEnabled = c.BackupEnabled
	config.S3RootUser = c.S3RootUser
	config.S3RootPassword = c.S3RootPassword
	config.S3Bucket = c.S3Bucket
	config.S3Region = c.S3Region
	config.S3BaseEndpoint = c.S3BaseEndpoint
}
