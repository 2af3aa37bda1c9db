package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/cacher/internal/cache"
	"github.com/any-hub/cacher/internal/config"
	"github.com/any-hub/cacher/internal/fetcher"
	"github.com/any-hub/cacher/internal/logging"
	"github.com/any-hub/cacher/internal/metrics"
	"github.com/any-hub/cacher/internal/server"
	"github.com/any-hub/cacher/internal/server/routes"
	"github.com/any-hub/cacher/internal/transport"
	"github.com/any-hub/cacher/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
	fetchURL    string
	tier        string
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

func main() {
	opts, err := parseCLIFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(stdErr, err.Error())
		os.Exit(2)
	}
	os.Exit(run(opts))
}

// run 根据解析到的 CLI 选项执行业务流程，并返回退出码，方便测试。
func run(opts cliOptions) int {
	if opts.showVersion {
		printVersion()
		return 0
	}

	cfg, err := config.Load(opts.configPath)
	if err != nil {
		fmt.Fprintf(stdErr, "加载配置失败: %v\n", err)
		return 1
	}

	logger, err := logging.InitLogger(cfg.Global)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化日志失败: %v\n", err)
		return 1
	}

	if opts.checkOnly {
		fields := logging.BaseFields("check_config", opts.configPath)
		fields["storage_path"] = cfg.Global.StoragePath
		fields["default_tier"] = cfg.Global.DefaultTier
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	if opts.fetchURL != "" {
		// 抓取模式占用 stdout 输出字节，未配置日志文件时日志改写到 stderr。
		if cfg.Global.LogFilePath == "" {
			logger.SetOutput(stdErr)
		}
		return runFetch(cfg, logger, opts)
	}

	m := metrics.New("cacher")
	coord, err := buildCoordinator(cfg, logger, m)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化缓存失败: %v\n", err)
		return 1
	}

	fields := logging.BaseFields("startup", opts.configPath)
	fields["listen_port"] = cfg.Global.ListenPort
	fields["storage_path"] = cfg.Global.StoragePath
	fields["default_tier"] = cfg.Global.DefaultTier
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if err := startHTTPServer(cfg, coord, m, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("cacher", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
		fetchURL   string
		tier       string
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 CACHER_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")
	fs.StringVar(&fetchURL, "fetch", "", "抓取单个 URL 并把内容写到 stdout")
	fs.StringVar(&tier, "tier", "", "抓取使用的缓存层：memory|disk|none（默认取配置 DefaultTier）")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}
	if tier != "" {
		if _, err := cache.ParseTier(tier); err != nil {
			return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
		}
	}

	path := os.Getenv("CACHER_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}

	return cliOptions{
		configPath:  path,
		checkOnly:   checkOnly,
		showVersion: showVer,
		fetchURL:    fetchURL,
		tier:        tier,
	}, nil
}

// buildCoordinator 按“磁盘缓存 → 上游客户端 → 协调器”顺序装配，
// 保证 HTTP 与 CLI 抓取模式共享同一套缓存实例。
func buildCoordinator(cfg *config.Config, logger *logrus.Logger, m *metrics.Metrics) (*fetcher.Coordinator, error) {
	disk, err := cache.NewDiskStore(cfg.Global.StoragePath)
	if err != nil {
		return nil, err
	}
	httpTransport := transport.NewHTTP(transport.HTTPOptions{
		Client:        transport.NewUpstreamClient(cfg),
		Logger:        logger,
		MaxObjectSize: cfg.Global.MaxObjectSize,
		UserAgent:     version.UserAgent(),
	})
	return fetcher.New(fetcher.Options{
		Memory:               cache.NewMemoryStore(),
		Disk:                 disk,
		Transport:            httpTransport,
		Logger:               logger,
		Metrics:              m,
		ClearDiskOnRemoveAll: cfg.Global.ClearDiskOnRemoveAll,
	})
}

// runFetch 执行一次抓取；无数据时返回 1。
func runFetch(cfg *config.Config, logger *logrus.Logger, opts cliOptions) int {
	tier := cfg.DefaultCacheTier()
	if opts.tier != "" {
		parsed, err := cache.ParseTier(opts.tier)
		if err != nil {
			fmt.Fprintf(stdErr, "解析缓存层失败: %v\n", err)
			return 2
		}
		tier = parsed
	}

	coord, err := buildCoordinator(cfg, logger, nil)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化缓存失败: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	call := coord.Fetch(ctx, tier, opts.fetchURL)
	res, err := call.Wait(ctx)
	if err != nil {
		if token, ok := call.Token(); ok {
			coord.Cancel(token)
		}
		fmt.Fprintf(stdErr, "抓取被中断: %v\n", err)
		return 1
	}
	if !res.Found() {
		if res.Err != nil {
			fmt.Fprintf(stdErr, "未获取到内容: %v\n", res.Err)
		} else {
			fmt.Fprintln(stdErr, "未获取到内容")
		}
		return 1
	}

	logger.WithFields(logging.FetchFields(tier.String(), "", res.Source.String())).
		WithField("bytes", len(res.Data)).
		Info("cli_fetch_complete")
	if _, err := stdOut.Write(res.Data); err != nil {
		fmt.Fprintf(stdErr, "写出内容失败: %v\n", err)
		return 1
	}
	return 0
}

func startHTTPServer(cfg *config.Config, coord *fetcher.Coordinator, m *metrics.Metrics, logger *logrus.Logger) error {
	port := cfg.Global.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		ListenPort: port,
		BodyLimit:  int(cfg.Global.MaxObjectSize),
	})
	if err != nil {
		return err
	}
	routes.RegisterCacheRoutes(app, routes.CacheDeps{
		Coordinator: coord,
		DefaultTier: cfg.DefaultCacheTier(),
		Logger:      logger,
	})
	routes.RegisterDiagnosticsRoutes(app, coord, m)

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}
