package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/tongyi-community/dashscope-go/config"
	"github.com/tongyi-community/dashscope-go/internal/database"
	"github.com/tongyi-community/dashscope-go/vectorstore"
)

// =============================================================================
// 🗄️ migrate 命令
// =============================================================================

func runMigrate(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "migrate: subcommand required (up, status)")
		os.Exit(1)
	}
	sub := args[0]

	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	fs.Parse(args[1:])

	cfg, logger := loadConfig(*configPath)
	defer logger.Sync()

	pool := openPool(cfg, logger)
	defer pool.Close()

	switch sub {
	case "up":
		if err := vectorstore.MigrateOceanBase(pool.SQLDB(), cfg.OceanBase.TableName); err != nil {
			logger.Error("migration failed", zap.Error(err))
			os.Exit(1)
		}
		logger.Info("migrations applied", zap.String("table", cfg.OceanBase.TableName))
	case "status":
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := pool.Ping(ctx); err != nil {
			logger.Error("database unreachable", zap.Error(err))
			os.Exit(1)
		}
		stats := pool.GetStats()
		fmt.Printf("connected: open=%d in_use=%d idle=%d\n",
			stats.OpenConnections, stats.InUse, stats.Idle)
	default:
		fmt.Fprintf(os.Stderr, "migrate: unknown subcommand %q\n", sub)
		os.Exit(1)
	}
}

// openPool 按配置建立 OceanBase 连接池。
func openPool(cfg *config.Config, logger *zap.Logger) *database.PoolManager {
	poolCfg := database.DefaultPoolConfig()
	if cfg.OceanBase.MaxOpenConns > 0 {
		poolCfg.MaxOpenConns = cfg.OceanBase.MaxOpenConns
	}
	if cfg.OceanBase.MaxIdleConns > 0 {
		poolCfg.MaxIdleConns = cfg.OceanBase.MaxIdleConns
	}
	if cfg.OceanBase.ConnMaxLifetime > 0 {
		poolCfg.ConnMaxLifetime = cfg.OceanBase.ConnMaxLifetime
	}

	pool, err := database.Open(cfg.OceanBase.DSN(), poolCfg, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
		os.Exit(1)
	}
	return pool
}
