package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	StoreFile     = "file"
	StoreLevelDB  = "leveldb"
	StorePostgres = "postgres"

	TokenMemory = "memory"
	TokenERC20  = "erc20"
)

// Config holds the settings shared by every command: where ledger state
// lives, which token moves funds and who may administer pools.
type Config struct {
	Store          string
	StateFile      string
	LevelDBPath    string
	PGDSN          string
	Journal        string
	Admins         []string
	Custody        string
	Token          string
	RPCURL         string
	TokenAddress   string
	SignerKey      string
	Decimals       uint8
	MaxRetries     int
	RetryBackoff   time.Duration
	ReceiptTimeout time.Duration
	LogLevel       string
	LogFile        string
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v, err := newViper(cfgFile, flags)
	if err != nil {
		return Config{}, err
	}
	return fromViper(v)
}

func newViper(cfgFile string, flags *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix("STAKELEDGER")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetDefault("store", StoreFile)
	v.SetDefault("state-file", "./data/ledger.json")
	v.SetDefault("leveldb-path", "./data/ledger.db")
	v.SetDefault("journal", "./data/events.jsonl")
	v.SetDefault("token", TokenMemory)
	v.SetDefault("decimals", 18)
	v.SetDefault("max-retries", 5)
	v.SetDefault("retry-backoff", 500*time.Millisecond)
	v.SetDefault("receipt-timeout", 2*time.Minute)
	v.SetDefault("log-level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}
	return v, nil
}

func fromViper(v *viper.Viper) (Config, error) {
	decimals := v.GetInt("decimals")
	if decimals < 0 || decimals > 77 {
		return Config{}, fmt.Errorf("decimals out of range: %d", decimals)
	}

	cfg := Config{
		Store:          strings.ToLower(v.GetString("store")),
		StateFile:      v.GetString("state-file"),
		LevelDBPath:    v.GetString("leveldb-path"),
		PGDSN:          v.GetString("pg-dsn"),
		Journal:        v.GetString("journal"),
		Admins:         getStringSlice(v, "admins"),
		Custody:        v.GetString("custody"),
		Token:          strings.ToLower(v.GetString("token")),
		RPCURL:         v.GetString("rpc"),
		TokenAddress:   v.GetString("token-address"),
		SignerKey:      v.GetString("signer-key"),
		Decimals:       uint8(decimals),
		MaxRetries:     v.GetInt("max-retries"),
		RetryBackoff:   v.GetDuration("retry-backoff"),
		ReceiptTimeout: v.GetDuration("receipt-timeout"),
		LogLevel:       v.GetString("log-level"),
		LogFile:        v.GetString("log-file"),
	}

	switch cfg.Store {
	case StoreFile, StoreLevelDB:
	case StorePostgres:
		if cfg.PGDSN == "" {
			return Config{}, fmt.Errorf("pg-dsn is required for the postgres store")
		}
	default:
		return Config{}, fmt.Errorf("unknown store: %s", cfg.Store)
	}

	switch cfg.Token {
	case TokenMemory:
		if cfg.Custody == "" {
			return Config{}, fmt.Errorf("custody is required for the memory token")
		}
	case TokenERC20:
		if cfg.RPCURL == "" || cfg.TokenAddress == "" || cfg.SignerKey == "" {
			return Config{}, fmt.Errorf("rpc, token-address and signer-key are required for the erc20 token")
		}
	default:
		return Config{}, fmt.Errorf("unknown token: %s", cfg.Token)
	}

	return cfg, nil
}

func getStringSlice(v *viper.Viper, key string) []string {
	if !v.IsSet(key) {
		return nil
	}

	val := v.Get(key)
	switch typed := val.(type) {
	case []string:
		return cleanStrings(typed)
	case string:
		return splitAndClean(typed)
	case []interface{}:
		items := make([]string, 0, len(typed))
		for _, item := range typed {
			items = append(items, fmt.Sprintf("%v", item))
		}
		return cleanStrings(items)
	default:
		return nil
	}
}

func splitAndClean(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	return cleanStrings(parts)
}

func cleanStrings(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		out = append(out, item)
	}
	return out
}
