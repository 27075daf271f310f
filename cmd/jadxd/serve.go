package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jadx-daemon/jadx-daemon-go/internal/api"
	"github.com/jadx-daemon/jadx-daemon-go/internal/api/handlers"
	"github.com/jadx-daemon/jadx-daemon-go/internal/config"
	"github.com/jadx-daemon/jadx-daemon-go/internal/engine"
	"github.com/jadx-daemon/jadx-daemon-go/internal/engine/bridge"
	"github.com/jadx-daemon/jadx-daemon-go/internal/events"
	"github.com/jadx-daemon/jadx-daemon-go/internal/middleware"
	"github.com/jadx-daemon/jadx-daemon-go/internal/queue"
	"github.com/jadx-daemon/jadx-daemon-go/internal/registry"
	"github.com/jadx-daemon/jadx-daemon-go/internal/repository"
	"github.com/jadx-daemon/jadx-daemon-go/internal/session"
	"github.com/jadx-daemon/jadx-daemon-go/internal/watcher"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const shutdownTimeout = 30 * time.Second

var configPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP daemon",
	Long: `Start the jadx daemon HTTP server.

Configuration is read from the optional YAML file given by --config, then from
JADXD_* environment variables, then from command line flags.`,
	RunE: runServe,
}

func init() {
	f := serveCmd.Flags()
	f.StringVarP(&configPath, "config", "c", "", "path to YAML config file")
	f.String("host", "localhost", "listen host")
	f.Int("port", 8651, "listen port")
	f.Int("max-instances", registry.DefaultCapacity, "maximum number of concurrent sessions")
	f.String("engine", "jadx-engine-worker", "engine worker command")
	f.String("log-level", "info", "log level: debug, info, warn, error")
	f.String("watch-dir", "", "auto-load packages dropped into this directory")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath, cmd.Flags())
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("watch-dir") {
		cfg.Watch.Enabled = true
	}

	logger := config.InitLogger(&cfg.Log)
	logger.WithFields(logrus.Fields{
		"version": Version,
		"commit":  GitCommit,
		"config":  configPath,
	}).Info("Starting jadx daemon")

	switch cfg.Server.Mode {
	case "debug":
		gin.SetMode(gin.DebugMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	d, err := newDaemon(ctx, cfg, logger)
	if err != nil {
		return err
	}
	return d.run(ctx)
}

// daemon 进程内所有组件
type daemon struct {
	cfg    *config.Config
	logger *logrus.Logger

	reg        *registry.Registry
	dispatcher *events.Dispatcher
	metrics    *middleware.PrometheusMetrics
	memMonitor *middleware.MemoryMonitor
	hub        *handlers.SessionHub
	db         *gorm.DB
	mq         *queue.RabbitMQ
	watcher    *watcher.FileWatcher
	server     *http.Server
}

func newDaemon(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*daemon, error) {
	d := &daemon{cfg: cfg, logger: logger}
	dispatcher := events.NewDispatcher(cfg.Events.Buffer, logger)
	d.dispatcher = dispatcher

	// 1. 指标
	if cfg.Metrics.Enabled {
		d.metrics = middleware.NewPrometheusMetrics(logger, cfg.Metrics.Namespace)
		d.metrics.SetCapacity(cfg.Registry.MaxInstances)
		d.memMonitor = middleware.NewMemoryMonitor(logger, cfg.Metrics.MemoryInterval, d.metrics.UpdateMemoryStats)
		dispatcher.AddSink(d.metrics)
	}

	// 2. 事件日志
	var history repository.EventRepository
	if cfg.Events.Journal.Enabled {
		db, err := repository.InitDB(&cfg.Events.Journal, logger)
		if err != nil {
			return nil, err
		}
		d.db = db
		history = repository.NewEventRepository(db, logger)
		dispatcher.AddSink(repository.NewJournalSink(history))
		logger.WithField("type", cfg.Events.Journal.Type).Info("Session event journal connected")
	}

	// 3. WebSocket 推送
	if cfg.Events.WebSocket.Enabled {
		d.hub = handlers.NewSessionHub(logger)
		dispatcher.AddSink(d.hub)
	}

	// 4. RabbitMQ 发布，连接失败不影响启动
	if cfg.Events.RabbitMQ.Enabled {
		mq, err := queue.NewRabbitMQ(ctx, &queue.RabbitMQConfig{
			Host:     cfg.Events.RabbitMQ.Host,
			Port:     cfg.Events.RabbitMQ.Port,
			User:     cfg.Events.RabbitMQ.User,
			Password: cfg.Events.RabbitMQ.Password,
			VHost:    cfg.Events.RabbitMQ.VHost,
			Exchange: cfg.Events.RabbitMQ.Exchange,
		}, logger)
		if err != nil {
			logger.WithError(err).Warn("RabbitMQ unavailable, session events will not be published")
		} else {
			d.mq = mq
			dispatcher.AddSink(queue.NewProducer(mq, logger))
		}
	}

	// 5. 引擎与会话注册表
	eng := bridge.New(bridge.Config{
		Command:      cfg.Engine.Command,
		Args:         cfg.Engine.Args,
		Env:          cfg.Engine.Env,
		StartTimeout: cfg.Engine.StartTimeout,
		LoadTimeout:  cfg.Engine.LoadTimeout,
		CallTimeout:  cfg.Engine.CallTimeout,
		StopGrace:    cfg.Engine.StopGrace,
	}, logger)
	filter := engine.NewInputFilter(cfg.Engine.Extensions)

	d.reg = registry.New(func(id string) *session.Session {
		return session.New(id, eng, filter, logger)
	}, logger,
		registry.WithCapacity(cfg.Registry.MaxInstances),
		registry.WithNotifier(dispatcher),
	)

	// 6. 目录自动加载
	if cfg.Watch.Enabled {
		loader := watcher.NewAutoLoader(d.reg, logger)
		fw, err := watcher.NewFileWatcher(cfg.Watch.Dir, filter, loader.Handlers(), watcher.Options{
			Debounce:     cfg.Watch.Debounce,
			ScanExisting: true,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create file watcher: %w", err)
		}
		d.watcher = fw
	}

	// 7. HTTP
	router := api.SetupRouter(api.Deps{
		Addr:     cfg.Server.Addr(),
		Registry: d.reg,
		Logger:   logger,
		Metrics:  d.metrics,
		History:  history,
		Hub:      d.hub,
	})
	d.server = &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		// 不设置 WriteTimeout：反编译可能很慢，且 /ws/sessions 是长连接
		IdleTimeout: 120 * time.Second,
	}

	return d, nil
}

// run 启动所有组件，ctx 取消后按依赖逆序关闭
func (d *daemon) run(ctx context.Context) error {
	// 分发器在关闭阶段还要投递 removed 事件，不跟随 ctx
	d.dispatcher.Start(context.Background())
	if d.memMonitor != nil {
		d.memMonitor.Start()
	}
	if d.watcher != nil {
		if err := d.watcher.Start(ctx); err != nil {
			d.shutdown()
			return fmt.Errorf("failed to start file watcher: %w", err)
		}
		d.logger.WithField("dir", d.watcher.WatchDir()).Info("Auto-load watcher started")
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		d.logger.Infof("Jadx daemon HTTP server started at http://%s", d.server.Addr)
		if err := d.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		d.logger.Info("Shutting down gracefully...")
		d.shutdown()
		return nil
	})

	err := g.Wait()
	d.logger.Info("Server stopped")
	return err
}

func (d *daemon) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := d.server.Shutdown(ctx); err != nil {
		d.logger.WithError(err).Error("HTTP server shutdown error")
	}
	if d.watcher != nil {
		d.watcher.Stop()
	}

	closed := d.reg.RemoveAll(ctx)
	d.logger.WithField("sessions", closed).Info("All sessions closed")

	// 先排空事件，再关闭各个下游
	d.dispatcher.Stop()
	if d.hub != nil {
		d.hub.Close()
	}
	if d.mq != nil {
		d.mq.Close()
	}
	if d.db != nil {
		if sqlDB, err := d.db.DB(); err == nil {
			sqlDB.Close()
		}
	}
	if d.memMonitor != nil {
		d.memMonitor.Stop()
	}
}
