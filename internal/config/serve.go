package config

import (
	"time"

	"github.com/spf13/pflag"
)

// ServeConfig holds configuration for the HTTP service.
type ServeConfig struct {
	Config
	Listen          string
	ShutdownTimeout time.Duration
	// BehindProxy declares that an authenticating proxy sets the caller header.
	BehindProxy bool
}

// LoadServe merges config file, environment variables, and flags into ServeConfig.
func LoadServe(cfgFile string, flags *pflag.FlagSet) (ServeConfig, error) {
	v, err := newViper(cfgFile, flags)
	if err != nil {
		return ServeConfig{}, err
	}
	v.SetDefault("listen", ":8080")
	v.SetDefault("shutdown-timeout", 10*time.Second)

	base, err := fromViper(v)
	if err != nil {
		return ServeConfig{}, err
	}
	return ServeConfig{
		Config:          base,
		Listen:          v.GetString("listen"),
		ShutdownTimeout: v.GetDuration("shutdown-timeout"),
		BehindProxy:     v.GetBool("behind-proxy"),
	}, nil
}
