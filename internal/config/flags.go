package config

import (
	"flag"
	"os"
	"time"

	"github.com/brightnest/haven/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-d string   data directory
//	-b string   policy bundle path (YAML)
//	-s string   JWT HMAC secret key
//	-t int      access token validity, minutes
//	-r int      refresh token validity, minutes
//	-w int      idle warning window, minutes
//	-x int      idle expiry window, minutes
//	-m int      absolute session cap, minutes
//	-e string   inference engine endpoint
//	-n string   inference model name
//
// The function first filters os.Args to only the flags it recognizes using
// flagx.FilterArgs, avoiding collisions with other components. Duration
// flags are accepted as integers in minutes.
func parseFlags(config *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-d", "-b", "-s", "-t", "-r", "-w", "-x", "-m", "-e", "-n"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.DataDir, "d", config.DataDir, "data directory")
	fs.StringVar(&config.PolicyBundlePath, "b", config.PolicyBundlePath, "policy bundle path")
	fs.StringVar(&config.SecretKey, "s", config.SecretKey, "secret key")

	accessTokenValidityDuration := fs.Int("t", int(config.AccessTokenValidityDuration.Minutes()), "access_token_validity_duration (in minutes)")
	refreshTokenValidityDuration := fs.Int("r", int(config.RefreshTokenValidityDuration.Minutes()), "refresh_token_validity_duration (in minutes)")
	idleWarnAfter := fs.Int("w", int(config.IdleWarnAfter.Minutes()), "idle warning window (in minutes)")
	idleExpireAfter := fs.Int("x", int(config.IdleExpireAfter.Minutes()), "idle expiry window (in minutes)")
	sessionMaxDuration := fs.Int("m", int(config.SessionMaxDuration.Minutes()), "absolute session cap (in minutes)")

	fs.StringVar(&config.InferenceEndpoint, "e", config.InferenceEndpoint, "inference engine endpoint")
	fs.StringVar(&config.InferenceModel, "n", config.InferenceModel, "inference model name")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.AccessTokenValidityDuration = time.Duration(*accessTokenValidityDuration) * time.Minute
	config.RefreshTokenValidityDuration = time.Duration(*refreshTokenValidityDuration) * time.Minute
	config.IdleWarnAfter = time.Duration(*idleWarnAfter) * time.Minute
	config.IdleExpireAfter = time.Duration(*idleExpireAfter) * time.Minute
	config.SessionMaxDuration = time.Duration(*sessionMaxDuration) * time.Minute
}
