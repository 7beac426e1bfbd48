// =============================================================================
// dashscope 命令行入口
// =============================================================================
// 调试用 CLI，覆盖聊天补全、文本向量化、文档解析与数据库迁移
//
// 使用方法:
//
//	dashscope chat "你好"                       # 聊天补全
//	dashscope chat --stream "讲个故事"           # 流式输出
//	dashscope chat --interactive                # 多轮对话，配置热更新
//	dashscope embed "文本一" "文本二"             # 文本向量化
//	dashscope parse --file report.pdf           # 上传并解析文档
//	dashscope migrate up                        # 初始化 OceanBase 向量表
//	dashscope version                           # 显示版本信息
// =============================================================================

package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/tongyi-community/dashscope-go/cache"
	"github.com/tongyi-community/dashscope-go/config"
	"github.com/tongyi-community/dashscope-go/dashscope"
	"github.com/tongyi-community/dashscope-go/dashscope/files"
)

// =============================================================================
// 📦 版本信息（构建时注入）
// =============================================================================

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// =============================================================================
// 🎯 主函数
// =============================================================================

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "chat":
		runChat(os.Args[2:])
	case "embed":
		runEmbed(os.Args[2:])
	case "parse":
		runParse(os.Args[2:])
	case "migrate":
		runMigrate(os.Args[2:])
	case "version":
		printVersion()
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// loadConfig 加载配置并初始化日志。
func loadConfig(configPath string) (*config.Config, *zap.Logger) {
	loader := config.NewLoader()
	if configPath != "" {
		loader = loader.WithConfigPath(configPath)
	}

	cfg, err := loader.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	return cfg, config.BuildLogger(cfg.Log)
}

// newAPIClient 基于配置创建 DashScope 客户端。
func newAPIClient(cfg *config.Config, logger *zap.Logger) *dashscope.Client {
	client, err := dashscope.NewClient(dashscope.Config{
		APIKey:      cfg.DashScope.APIKey,
		BaseURL:     cfg.DashScope.BaseURL,
		WorkspaceID: cfg.DashScope.WorkspaceID,
		Timeout:     cfg.DashScope.Timeout,
		RateLimit:   cfg.DashScope.RateLimit,
		RateBurst:   cfg.DashScope.RateBurst,
	}, dashscope.WithLogger(logger))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create client: %v\n", err)
		os.Exit(1)
	}
	return client
}

func interruptibleContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// =============================================================================
// 💬 chat 命令
// =============================================================================

func runChat(args []string) {
	fs := flag.NewFlagSet("chat", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	model := fs.String("model", "", "Override the chat model")
	stream := fs.Bool("stream", false, "Stream the response via SSE")
	useCache := fs.Bool("cache", false, "Cache completions (local LRU + Redis)")
	interactive := fs.Bool("interactive", false, "Multi-turn REPL, reloads --config on change")
	fs.Parse(args)

	cfg, logger := loadConfig(*configPath)
	defer logger.Sync()
	client := newAPIClient(cfg, logger)

	if *interactive {
		runChatREPL(cfg, logger, client, *configPath, *model)
		return
	}

	if fs.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "chat: prompt is required")
		os.Exit(1)
	}
	prompt := fs.Arg(0)

	req := &dashscope.ChatRequest{
		Model:    *model,
		Messages: []dashscope.Message{{Role: dashscope.RoleUser, Content: prompt}},
	}
	if req.Model == "" {
		req.Model = cfg.DashScope.ChatModel
	}

	ctx, cancel := interruptibleContext()
	defer cancel()

	if *stream {
		ch, err := client.ChatStream(ctx, req)
		if err != nil {
			fmt.Fprintf(os.Stderr, "chat: %v\n", err)
			os.Exit(1)
		}
		for chunk := range ch {
			if chunk.Err != nil {
				fmt.Fprintf(os.Stderr, "\nchat: %v\n", chunk.Err)
				os.Exit(1)
			}
			fmt.Print(chunk.Delta.Content)
		}
		fmt.Println()
		return
	}

	if *useCache {
		ccfg := cache.DefaultConfig()
		var rdb redis.UniversalClient
		if cfg.Redis.Addr != "" {
			rc := redis.NewClient(&redis.Options{
				Addr:         cfg.Redis.Addr,
				Password:     cfg.Redis.Password,
				DB:           cfg.Redis.DB,
				PoolSize:     cfg.Redis.PoolSize,
				MinIdleConns: cfg.Redis.MinIdleConns,
			})
			defer rc.Close()
			rdb = rc
		} else {
			ccfg.EnableRedis = false
		}

		chatCache := cache.NewChatCache(rdb, ccfg, logger)
		resp, hit, err := chatCache.Completion(ctx, client, req)
		if err != nil {
			fmt.Fprintf(os.Stderr, "chat: %v\n", err)
			os.Exit(1)
		}
		if hit {
			logger.Debug("served from cache")
		}
		fmt.Println(resp.Text())
		return
	}

	resp, err := client.ChatCompletion(ctx, req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "chat: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(resp.Text())
}

// runChatREPL 多轮对话。配置文件变更时热更新运行期参数，
// 模型切换在下一轮生效。
func runChatREPL(cfg *config.Config, logger *zap.Logger, client *dashscope.Client, configPath, modelOverride string) {
	ctx, cancel := interruptibleContext()
	defer cancel()

	manager := config.NewHotReloadManager(cfg,
		config.WithConfigPath(configPath),
		config.WithHotReloadLogger(logger),
		config.WithValidateFunc(func(c *config.Config) error { return c.Validate() }),
	)
	manager.OnReload(func(_, newCfg *config.Config) {
		fmt.Fprintf(os.Stderr, "(config reloaded, model=%s)\n", newCfg.DashScope.ChatModel)
	})
	if configPath != "" {
		if err := manager.Start(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "chat: %v\n", err)
			os.Exit(1)
		}
		defer manager.Stop()
	}

	fmt.Println("Interactive chat. Ctrl-D to exit.")
	var history []dashscope.Message
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return
		}
		prompt := strings.TrimSpace(scanner.Text())
		if prompt == "" {
			continue
		}

		reqModel := modelOverride
		if reqModel == "" {
			reqModel = manager.GetConfig().DashScope.ChatModel
		}

		history = append(history, dashscope.Message{Role: dashscope.RoleUser, Content: prompt})
		resp, err := client.ChatCompletion(ctx, &dashscope.ChatRequest{
			Model:    reqModel,
			Messages: history,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "chat: %v\n", err)
			history = history[:len(history)-1]
			continue
		}
		fmt.Println(resp.Text())
		history = append(history, dashscope.Message{Role: dashscope.RoleAssistant, Content: resp.Text()})
	}
}

// =============================================================================
// 🧮 embed 命令
// =============================================================================

func runEmbed(args []string) {
	fs := flag.NewFlagSet("embed", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	model := fs.String("model", "", "Override the embedding model")
	fs.Parse(args)

	if fs.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "embed: at least one text is required")
		os.Exit(1)
	}

	cfg, logger := loadConfig(*configPath)
	defer logger.Sync()
	client := newAPIClient(cfg, logger)

	embedModel := *model
	if embedModel == "" {
		embedModel = cfg.Embedding.Model
	}

	ctx, cancel := interruptibleContext()
	defer cancel()

	vectors, err := client.EmbedDocuments(ctx, embedModel, fs.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "embed: %v\n", err)
		os.Exit(1)
	}
	for i, vec := range vectors {
		fmt.Printf("text %d: %d dimensions\n", i, len(vec))
	}
}

// =============================================================================
// 📄 parse 命令
// =============================================================================

func runParse(args []string) {
	fs := flag.NewFlagSet("parse", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	file := fs.String("file", "", "Path to the document to parse")
	fs.Parse(args)

	if *file == "" {
		fmt.Fprintln(os.Stderr, "parse: --file is required")
		os.Exit(1)
	}

	cfg, logger := loadConfig(*configPath)
	defer logger.Sync()
	api := newAPIClient(cfg, logger)

	// 复用已解析的鉴权信息（含环境变量回退）
	client, err := files.NewClient(files.Config{
		APIKey:      api.APIKey(),
		BaseURL:     api.BaseURL(),
		WorkspaceID: api.WorkspaceID(),
		MaxFileSize: cfg.Files.MaxFileSize,
	}, files.WithLogger(logger))
	if err != nil {
		fmt.Fprintf(os.Stderr, "parse: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := interruptibleContext()
	defer cancel()

	doc, err := client.ParseFile(ctx, cfg.Files.CategoryID, *file)
	if err != nil {
		fmt.Fprintf(os.Stderr, "parse: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(doc.Text)
}

// =============================================================================
// 📋 版本和帮助
// =============================================================================

func printVersion() {
	fmt.Printf("dashscope %s\n", Version)
	fmt.Printf("  Build Time: %s\n", BuildTime)
	fmt.Printf("  Git Commit: %s\n", GitCommit)
}

func printUsage() {
	fmt.Println(`dashscope - Alibaba Cloud Model Studio client

Usage:
  dashscope <command> [options]

Commands:
  chat      Run a chat completion (--stream for incremental output,
            --cache to serve repeats from the local/Redis cache,
            --interactive for a multi-turn REPL with config hot reload)
  embed     Embed one or more texts
  parse     Upload a document and wait for cloud parsing
  migrate   OceanBase vector table migration commands
  version   Show version information
  help      Show this help message

Common options:
  --config <path>   Path to configuration file (YAML)

Migration subcommands:
  migrate up        Apply all pending migrations
  migrate status    Check database connectivity and pool stats

Environment:
  DASHSCOPE_API_KEY       API key (overrides config file)
  DASHSCOPE_API_BASE_URL  API base URL`)
}
