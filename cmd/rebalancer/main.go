package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"go.uber.org/zap"

	"rebalancer-go/config"
	"rebalancer-go/gateway"
	"rebalancer-go/infrastructure/logger"
	"rebalancer-go/infrastructure/monitor"
	"rebalancer-go/internal/display"
	"rebalancer-go/internal/engine"
	"rebalancer-go/internal/report"
)

func main() {
	cfgPath := flag.String("config", "configs/config.yaml", "配置文件路径")
	dryRun := flag.Bool("dryRun", false, "强制干跑，覆盖配置文件")
	restRate := flag.Float64("restRate", 5, "REST 限流：每秒令牌数")
	restBurst := flag.Int("restBurst", 10, "REST 限流：最大突发令牌数")
	flag.Parse()

	cfg, err := config.LoadWithEnvOverrides(*cfgPath)
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	if *dryRun {
		cfg.Rebalancing.DryRun = true
	}

	zlog, err := logger.New(cfg.Logger)
	if err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}
	defer zlog.Close()

	mon := monitor.New(monitor.DefaultConfig())
	if cfg.Metrics.Enabled {
		go serveMetrics(zlog, mon, cfg.Metrics.Addr)
	}

	var rep report.Reporter = report.NopReporter{}
	if cfg.Reporting.Enabled {
		influx, err := report.NewInfluxReporter(zlog, report.Config{
			Addr:     cfg.Reporting.Addr,
			Username: cfg.Reporting.Username,
			Password: cfg.Reporting.Password,
			Database: cfg.Reporting.Database,
		})
		if err != nil {
			zlog.Fatal("初始化 influx 失败", zap.Error(err))
		}
		defer influx.Close()
		rep = influx
	}

	newClient := func(ec config.ExchangeConfig) (gateway.Client, error) {
		recv := ec.RecvWindowMs
		if recv <= 0 {
			recv = 5000
		}
		rate := ec.RateLimit
		if rate <= 0 {
			rate = *restRate
		}
		return &gateway.BinanceRESTClient{
			BaseURL:      ec.BaseURL,
			APIKey:       ec.APIKey,
			Secret:       ec.APISecret,
			HTTPClient:   gateway.NewDefaultHTTPClient(),
			RecvWindowMs: recv,
			Limiter:      gateway.NewTokenBucketLimiter(rate, *restBurst),
		}, nil
	}

	reb, err := engine.New(cfg, engine.Components{
		Logger:    zlog,
		Monitor:   mon,
		Reporter:  rep,
		Display:   display.NewLogDisplay(zlog),
		NewClient: newClient,
	})
	if err != nil {
		zlog.Fatal("初始化再平衡器失败", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	watcher, err := config.NewWatcher(*cfgPath, 5*time.Second)
	if err != nil {
		zlog.Fatal("初始化配置监听失败", zap.Error(err))
	}
	defer watcher.Close()
	if err := watcher.Start(ctx, func(newCfg config.AppConfig) {
		if *dryRun {
			newCfg.Rebalancing.DryRun = true
		}
		reb.ConfigUpdated(newCfg)
	}); err != nil {
		zlog.Fatal("启动配置监听失败", zap.Error(err))
	}

	daemon.SdNotify(false, daemon.SdNotifyReady)

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		zlog.Info("收到退出信号")
		daemon.SdNotify(false, daemon.SdNotifyStopping)
		cancel()
	}()

	if err := reb.Run(ctx); err != nil && err != context.Canceled {
		zlog.Error("再平衡器退出", zap.Error(err))
	}
	zlog.Info("进程退出")
}

func serveMetrics(zlog *logger.Logger, mon *monitor.Monitor, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", mon.Handler())
	zlog.Info("metrics 监听", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, mux); err != nil {
		zlog.Error("metrics 服务退出", zap.Error(err))
	}
}
