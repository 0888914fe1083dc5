package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/garrix/Calamari/internal/cache"
	"github.com/garrix/Calamari/internal/config"
	"github.com/garrix/Calamari/internal/download"
	"github.com/garrix/Calamari/internal/feed"
	"github.com/garrix/Calamari/internal/logging"
	"github.com/garrix/Calamari/internal/maven"
	"github.com/garrix/Calamari/internal/server"
	"github.com/garrix/Calamari/internal/server/routes"
	"github.com/garrix/Calamari/internal/version"
)

// cliOptions 汇总 CLI 标志解析后的结果，便于在测试中注入。
type cliOptions struct {
	configPath  string
	checkOnly   bool
	showVersion bool
	serve       bool

	packageID  string
	packageVer string
	feedName   string
	force      bool
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
		fields["feeds"] = len(cfg.Feeds)
		fields["credentials"] = config.CredentialModes(cfg.Feeds)
		fields["result"] = "ok"
		logger.WithFields(fields).Info("配置校验通过")
		return 0
	}

	downloader, registry, err := buildDownloader(cfg, logger)
	if err != nil {
		fmt.Fprintf(stdErr, "初始化下载器失败: %v\n", err)
		return 1
	}

	fields := logging.BaseFields("startup", opts.configPath)
	fields["feeds"] = len(cfg.Feeds)
	fields["credentials"] = config.CredentialModes(cfg.Feeds)
	fields["version"] = version.Full()
	logger.WithFields(fields).Info("配置加载完成")

	if opts.serve {
		if err := startHTTPServer(cfg, downloader, registry, logger); err != nil {
			fmt.Fprintf(stdErr, "HTTP 服务启动失败: %v\n", err)
			return 1
		}
		return 0
	}

	return runOnce(opts, downloader)
}

// buildDownloader 按“配置 → feed 注册表 → 缓存扫描 → 解析/下载”顺序
// 装配所有协作对象，一次构建后在 CLI 与 HTTP 两种模式间共享。
func buildDownloader(cfg *config.Config, logger *logrus.Logger) (*download.Downloader, *feed.Registry, error) {
	registry, err := feed.NewRegistry(cfg.Feeds)
	if err != nil {
		return nil, nil, err
	}

	roots, err := cache.NewRoots(cfg.Global.StoragePath)
	if err != nil {
		return nil, nil, err
	}

	codec := maven.NewCodec()
	client := feed.NewUpstreamClient(cfg)

	downloader, err := download.New(download.Options{
		Roots:        roots,
		Scanner:      cache.NewScanner(codec, logger),
		Resolver:     feed.NewResolver(client, codec, logger),
		Fetcher:      feed.NewFetcher(client, codec, logger),
		Feeds:        registry,
		Logger:       logger,
		MaxAttempts:  cfg.Global.MaxDownloadAttempts,
		Backoff:      cfg.Global.DownloadBackoff.DurationValue(),
		MinFreeSpace: cfg.Global.MinFreeSpace,
	})
	if err != nil {
		return nil, nil, err
	}
	return downloader, registry, nil
}

// runOnce 在前台执行单次下载并把结果 JSON 打到标准输出。
func runOnce(opts cliOptions, downloader *download.Downloader) int {
	result, err := downloader.Download(context.Background(), download.Request{
		PackageID: opts.packageID,
		Version:   opts.packageVer,
		FeedID:    opts.feedName,
		Force:     opts.force,
	})
	if err != nil {
		fmt.Fprintf(stdErr, "下载失败: %v\n", err)
		return 1
	}

	encoded, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		fmt.Fprintf(stdErr, "序列化结果失败: %v\n", err)
		return 1
	}
	fmt.Fprintln(stdOut, string(encoded))
	return 0
}

// parseCLIFlags 解析 CLI 参数，并结合环境变量计算最终的配置路径。
func parseCLIFlags(args []string) (cliOptions, error) {
	fs := flag.NewFlagSet("calamari", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var opts cliOptions
	var configFlag string

	fs.StringVar(&configFlag, "config", "", "配置文件路径（默认 ./config.toml，可被 CALAMARI_CONFIG 覆盖）")
	fs.BoolVar(&opts.checkOnly, "check-config", false, "仅校验配置后退出")
	fs.BoolVar(&opts.showVersion, "version", false, "显示版本信息")
	fs.BoolVar(&opts.serve, "serve", false, "以 HTTP 服务模式运行")
	fs.StringVar(&opts.packageID, "package", "", "要下载的包标识，形如 group:artifact")
	fs.StringVar(&opts.packageVer, "package-version", "", "要下载的版本号")
	fs.StringVar(&opts.feedName, "feed", "", "使用的 feed 名称")
	fs.BoolVar(&opts.force, "force", false, "忽略缓存强制回源下载")

	if err := fs.Parse(args); err != nil {
		return cliOptions{}, fmt.Errorf("解析参数失败: %w", err)
	}

	path := os.Getenv("CALAMARI_CONFIG")
	if configFlag != "" {
		path = configFlag
	}
	if path == "" {
		path = "config.toml"
	}
	opts.configPath = path

	return opts, nil
}

func startHTTPServer(cfg *config.Config, downloader *download.Downloader, registry *feed.Registry, logger *logrus.Logger) error {
	port := cfg.Global.ListenPort
	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Downloader: downloader,
		Feeds:      registry,
		ListenPort: port,
	})
	if err != nil {
		return err
	}
	routes.RegisterDiagnostics(app, registry)

	logger.WithFields(logrus.Fields{
		"action": "listen",
		"port":   port,
	}).Info("Fiber 服务启动")

	return app.Listen(fmt.Sprintf(":%d", port))
}
