package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/britannia/offline-hub/internal/cache"
	"github.com/britannia/offline-hub/internal/config"
	"github.com/britannia/offline-hub/internal/lifecycle"
	"github.com/britannia/offline-hub/internal/logging"
	"github.com/britannia/offline-hub/internal/server"
	"github.com/britannia/offline-hub/internal/server/routes"
	"github.com/britannia/offline-hub/internal/upstream"
	"github.com/britannia/offline-hub/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
}

var (
	stdOut io.Writer = os.Stdout
	stdErr io.Writer = os.Stderr
)

const shutdownTimeout = 15 * time.Second

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
		for key, value := range cfg.Summary() {
			fields[key] = value
		}
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	// 启动顺序：配置 → 存储 → 上游客户端 → Controller(install/activate) → Fiber server，
	// 接收请求前缓存已完成预热并清理旧分区。
	store, err := cache.OpenBackend(cfg.Global.StorageBackend, cfg.Global.StoragePath)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化缓存存储失败: %v\n", err)
		return 1
	}
	defer store.Close()

	fetcher := upstream.NewFetcher(upstream.NewClient(cfg))
	ctrl, err := lifecycle.New(lifecycle.Options{
		Config:  cfg,
		Store:   store,
		Fetcher: fetcher,
		Logger:  logger,
	})
	if err != nil {
		fmt.Fprintf(stdErr, "初始化控制器失败: %v\n", err)
		return 1
	}

	fields := logging.BaseFields("startup", opts.configPath)
	for key, value := range cfg.Summary() {
		fields[key] = value
	}
	fields["listen_port"] = cfg.Global.ListenPort
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report := ctrl.Install(ctx)
	if len(report.Failed) > 0 {
		logger.WithFields(logrus.Fields{
			"action": "install",
			"failed": report.Failed,
		}).Warn("预缓存未全部完成，将在首次请求时补齐")
	}
	ctrl.Activate(ctx)

	if err := startHTTPServer(ctx, cfg, ctrl, fetcher, logger); err != nil {
		fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
		return 1
	}
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("offline-hub", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		configFlag string
		checkOnly  bool
		showVer    bool
	)

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 OFFLINE_HUB_CONFIG 覆盖）")
	fs.BoolVar(&checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&showVer, "version", false, "显示版本信息")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("OFFLINE_HUB_CONFIG")
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
	}, nil
}

// startHTTPServer 阻塞直到 ctx 结束，随后停止接收请求并等待后台刷新完成。
func startHTTPServer(ctx context.Context, cfg *config.Config, ctrl *lifecycle.Controller, fetcher upstream.Fetcher, logger *logrus.Logger) error {
	port := cfg.Global.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger:      logger,
		Config:      cfg,
		Interceptor: ctrl,
		Passthrough: fetcher,
	})
	if err != nil {
		return err
	}
	routes.RegisterDiagnosticsRoutes(app, cfg, ctrl)

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
		"mode":   cfg.Global.Mode,
	}).Info("Fiber 服务启动")

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(fmt.Sprintf(":%d", port), fiber.ListenConfig{DisableStartupMessage: true})
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	logger.WithFields(logrus.Fields{"action": "shutdown"}).Info("收到退出信号，停止接收请求")
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.WithError(err).WithFields(logrus.Fields{"action": "shutdown"}).Warn("fiber_shutdown_failed")
	}
	if err := ctrl.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		logger.WithError(err).WithFields(logrus.Fields{
			"action":  "shutdown",
			"pending": ctrl.PendingTasks(),
		}).Warn("background_tasks_abandoned")
	}
	return nil
}
