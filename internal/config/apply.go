package config

import (
	"github.com/spf13/pflag"
)

// ApplyConfig holds configuration for the apply command.
type ApplyConfig struct {
	Config
	In                string
	Results           string
	Errors            string
	Checkpoint        string
	CheckpointEnabled bool
}

// LoadApply merges config file, environment variables, and flags into ApplyConfig.
func LoadApply(cfgFile string, flags *pflag.FlagSet) (ApplyConfig, error) {
	v, err := newViper(cfgFile, flags)
	if err != nil {
		return ApplyConfig{}, err
	}
	v.SetDefault("results", "./data/results.jsonl")
	v.SetDefault("errors", "./data/apply_errors.jsonl")
	v.SetDefault("checkpoint", "./data/apply_checkpoint.json")
	v.SetDefault("checkpoint-enabled", true)

	base, err := fromViper(v)
	if err != nil {
		return ApplyConfig{}, err
	}
	return ApplyConfig{
		Config:            base,
		In:                v.GetString("in"),
		Results:           v.GetString("results"),
		Errors:            v.GetString("errors"),
		Checkpoint:        v.GetString("checkpoint"),
		CheckpointEnabled: v.GetBool("checkpoint-enabled"),
	}, nil
}
