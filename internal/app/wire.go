// Package app wires config into the shared infrastructure every process
// needs: logger, Redis, ledger and inbox.
package app

import (
	"context"
	"fmt"
	"os"
	"regexp"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"acp-broker/internal/config"
	"acp-broker/internal/ledger"
	"acp-broker/internal/logger"
	"acp-broker/internal/service"
)

const ledgerPrefix = "acp:escrow"

// LoadConfig reads the YAML file named by ACP_CONFIG, if set, then the env.
func LoadConfig() (*config.Config, error) {
	return config.Load(os.Getenv("ACP_CONFIG"))
}

func Logger(cfg *config.Config) *logrus.Logger {
	return logger.New(logger.Config{Level: cfg.Log.Level, Format: cfg.Log.Format})
}

// Redis returns nil when no address is configured.
func Redis(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	if cfg.Redis.Addr == "" {
		return nil, nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis: %w", err)
	}
	return rdb, nil
}

// Inbox is nil without Redis; agents then only poll.
func Inbox(cfg *config.Config, rdb *redis.Client) service.Inbox {
	if rdb == nil {
		return nil
	}
	return service.NewRedisInbox(rdb, cfg.Redis.InboxPrefix)
}

// Ledger picks the escrow backend. "auto" (the default) uses Redis when
// redis.addr is set and fails otherwise: registry and buyer are separate
// processes and only a shared escrow lets the registry verify payments.
// "memory" is an explicit single-process opt-in.
func Ledger(cfg *config.Config, rdb *redis.Client, log *logrus.Entry) (ledger.Ledger, error) {
	switch cfg.Ledger.Driver {
	case "", "auto":
		if rdb == nil {
			return nil, fmt.Errorf("ledger.driver=auto needs redis.addr; set ledger.driver=memory only when everything runs in one process")
		}
		return ledger.NewRedis(rdb, ledgerPrefix, cfg.Ledger.ConfirmDelay), nil
	case "memory":
		log.Warn("memory ledger is process-local; payments made by another process will never verify")
		return ledger.NewMemory(), nil
	case "redis":
		if rdb == nil {
			return nil, fmt.Errorf("ledger.driver=redis needs redis.addr")
		}
		return ledger.NewRedis(rdb, ledgerPrefix, cfg.Ledger.ConfirmDelay), nil
	default:
		return nil, fmt.Errorf("unknown ledger driver %q", cfg.Ledger.Driver)
	}
}

var dsnPassword = regexp.MustCompile(`://([^:/?#]+):([^@/]+)@`)

// RedactDSN masks the password: user:pass@ -> user:****@
func RedactDSN(dsn string) string {
	return dsnPassword.ReplaceAllString(dsn, `://$1:****@`)
}
