package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"fleetwatch/api/server"
	"fleetwatch/internal/alertstore"
	"fleetwatch/internal/config"
	"fleetwatch/internal/database"
	"fleetwatch/internal/engine"
	"fleetwatch/internal/esarchive"
	"fleetwatch/internal/escalation"
	"fleetwatch/internal/maintenance"
	"fleetwatch/internal/metricsource"
	"fleetwatch/internal/notify"
	"fleetwatch/internal/oncall"
	"fleetwatch/internal/rules"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"fleetwatch/internal/logger"
)

var (
	configFile = flag.String("config", "etc/config.yaml", "Path to configuration file")
	version    = "1.0.0"
)

func main() {
	flag.Parse()

	// 加载配置
	var cfg *config.Config

	// 优先从配置文件加载，如果失败则从环境变量加载
	if _, err := os.Stat(*configFile); err == nil {
		cfg, err = config.LoadFromFile(*configFile)
		if err != nil {
			fmt.Printf("Failed to load config from file: %v\n", err)
			fmt.Println("Falling back to environment variables...")
			cfg = config.Load()
		}
	} else {
		fmt.Println("Config file not found, loading from environment variables...")
		cfg = config.Load()
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// 初始化日志系统
	if err := logger.Init(cfg.Logger.Level, cfg.Logger.Output); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting FleetWatch",
		zap.String("version", version),
		zap.String("config_file", *configFile),
	)

	// 初始化数据库
	if err := database.InitDB(database.Config{
		Driver:   cfg.Database.Driver,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
	}); err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	db := database.GetDB()

	logger.Info("Database initialized",
		zap.String("driver", cfg.Database.Driver),
		zap.String("database", cfg.Database.DBName),
	)

	// 初始化 Elasticsearch（如果启用）
	esClient, err := esarchive.NewESClient(cfg.Elasticsearch)
	if err != nil {
		logger.Fatal("Failed to initialize Elasticsearch", zap.Error(err))
	}
	if esClient == nil {
		logger.Info("Elasticsearch is disabled")
	}

	archiver := esarchive.NewArchiver(cfg.Elasticsearch, esClient)
	if archiver != nil {
		if err := archiver.CreateIndexTemplate(); err != nil {
			logger.Warn("Failed to create index template", zap.Error(err))
		}
		archiver.Start()
		defer archiver.Stop()
	}

	// 存储层
	ruleStore := rules.NewStore(db)
	alertStore := alertstore.NewStore(db)
	maintStore := maintenance.NewStore(db)
	policyStore := escalation.NewStore(db)
	oncallStore := oncall.NewStore(db)

	// 遥测数据源
	sourceTimeout := time.Duration(cfg.Engine.SourceTimeoutMS) * time.Millisecond
	var source metricsource.Source = metricsource.NewDBSource(db, sourceTimeout)
	if cfg.Elasticsearch.TelemetrySource {
		source = metricsource.NewESSource(esClient, cfg.Elasticsearch.IndexPrefix+"-telemetry-*", sourceTimeout)
		logger.Info("Using Elasticsearch as telemetry source")
	}

	// 持续状态存储：单实例用内存，多实例用 Redis
	var breach engine.BreachStore = engine.NewMemoryBreachStore()
	if cfg.Redis.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(context.Background()).Err(); err != nil {
			logger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		breach = engine.NewRedisBreachStore(redisClient, cfg.Redis.KeyPrefix,
			time.Duration(cfg.Redis.StateTTLHours)*time.Hour)
		logger.Info("Using Redis breach state store", zap.String("addr", cfg.Redis.Addr))
	}

	// 通知分发
	dispatcher := notify.NewDispatcher(notify.Options{
		QueueSize:    cfg.Notify.QueueSize,
		LogDir:       cfg.Notify.LogDir,
		SMTPHost:     cfg.Notify.SMTPHost,
		SMTPPort:     cfg.Notify.SMTPPort,
		SMTPUsername: cfg.Notify.SMTPUser,
		SMTPPassword: cfg.Notify.SMTPPass,
		SMTPFrom:     cfg.Notify.SMTPFrom,
	})
	dispatcher.Start()
	defer dispatcher.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 评估引擎
	var sinks []engine.EventSink
	if archiver != nil {
		sinks = append(sinks, archiver)
	}
	eng := engine.New(ruleStore, alertStore, maintStore, source, breach, engine.Options{
		TickInterval: time.Duration(cfg.Engine.TickSeconds) * time.Second,
		Workers:      cfg.Engine.Workers,
		QueueSize:    cfg.Engine.QueueSize,
	}, sinks...)
	eng.Start(ctx)
	defer eng.Stop()

	// 升级管理器
	manager := escalation.NewManager(db, policyStore, oncallStore, maintStore, dispatcher,
		time.Duration(cfg.Escalation.TickSeconds)*time.Second)
	manager.Start(ctx)
	defer manager.Stop()

	// 设置信号处理
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// 启动HTTP服务器
	var wg sync.WaitGroup
	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HTTPPort)
	wg.Add(1)
	go func() {
		defer wg.Done()
		httpServer := server.NewServer(db, ruleStore, alertStore, maintStore, policyStore, oncallStore, archiver, cfg)
		logger.Info("Starting HTTP server", zap.String("address", httpAddr))
		if err := httpServer.Run(httpAddr); err != nil {
			logger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	logger.Info("FleetWatch is running", zap.Int("http_port", cfg.Server.HTTPPort))

	// 等待信号
	sig := <-sigChan
	logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
	cancel()
}
