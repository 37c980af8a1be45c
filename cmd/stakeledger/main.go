package main

import (
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

func main() {
	root := &cobra.Command{
		Use:          "stakeledger",
		Short:        "Multi-pool staking ledger",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")
	root.PersistentFlags().String("store", "file", "state store (file, leveldb, postgres)")
	root.PersistentFlags().String("state-file", "./data/ledger.json", "snapshot file for the file store")
	root.PersistentFlags().String("leveldb-path", "./data/ledger.db", "database directory for the leveldb store")
	root.PersistentFlags().String("pg-dsn", "", "Postgres DSN for the postgres store")
	root.PersistentFlags().String("journal", "./data/events.jsonl", "event journal JSONL for the file store")
	root.PersistentFlags().StringSlice("admins", nil, "admin addresses (comma-separated)")
	root.PersistentFlags().String("custody", "", "custody account holding staked funds")
	root.PersistentFlags().String("token", "memory", "token backend (memory, erc20)")
	root.PersistentFlags().String("rpc", "", "RPC URL for the erc20 token")
	root.PersistentFlags().String("token-address", "", "ERC20 token contract address")
	root.PersistentFlags().String("signer-key", "", "hex private key of the custody account")
	root.PersistentFlags().Int("decimals", 18, "token decimals used for human-readable amounts")
	root.PersistentFlags().Int("max-retries", 5, "maximum retry attempts for RPC reads")
	root.PersistentFlags().Duration("retry-backoff", 500*time.Millisecond, "initial retry backoff")
	root.PersistentFlags().Duration("receipt-timeout", 2*time.Minute, "how long to wait for a token transaction receipt")
	root.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().String("log-file", "", "also write logs to this file, rotated")

	root.AddCommand(opsCommands()...)
	root.AddCommand(applyCommand(), serveCommand())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func newLogger(level, logFile string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	if logFile == "" {
		return cfg.Build()
	}

	rotated := zapcore.NewCore(
		zapcore.NewJSONEncoder(cfg.EncoderConfig),
		zapcore.AddSync(&lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     28,
			Compress:   true,
		}),
		cfg.Level,
	)
	return cfg.Build(zap.WrapCore(func(core zapcore.Core) zapcore.Core {
		return zapcore.NewTee(core, rotated)
	}))
}
