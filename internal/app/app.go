package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/listwatch/internal/config"
	"github.com/hitoshi/listwatch/internal/database"
	"github.com/hitoshi/listwatch/internal/eventlog"
	"github.com/hitoshi/listwatch/internal/handler"
	"github.com/hitoshi/listwatch/internal/integrity"
	"github.com/hitoshi/listwatch/internal/kpi"
	"github.com/hitoshi/listwatch/internal/logger"
	"github.com/hitoshi/listwatch/internal/metrics"
	"github.com/hitoshi/listwatch/internal/middleware"
	"github.com/hitoshi/listwatch/internal/reconcile"
	"github.com/hitoshi/listwatch/internal/repository"
	"github.com/hitoshi/listwatch/internal/worker/cleanup"
	"github.com/hitoshi/listwatch/internal/worker/pipeline"
)

// Init はアプリケーションの初期化を行う。
// .envファイルがあれば読み込み、環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. .envファイルの読み込み（ローカル開発用。無ければシステム環境変数にフォールバック）
	_ = godotenv.Load()

	// 2. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 3. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("port", cfg.ServerPort),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	case CommandAudit:
		return runAudit(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はAPIサーバーモードで起動する。
// DB接続を開き、全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established")

	// 2. リポジトリの初期化
	listingRepo := repository.NewPostgresListingRepo(db)
	eventRepo := repository.NewPostgresEventRepo(db)

	// 3. KPIエンジンの初期化
	engine := kpi.NewEngine(listingRepo, eventRepo, kpi.EngineOptions{
		MinSoldConfidence: cfg.MinSoldConfidence,
		WindowDays:        float64(cfg.SellThroughWindowDays),
		Refs: kpi.References{
			SellThroughPct: cfg.ReferenceSellThroughPct,
			DTSDays:        cfg.ReferenceDTSDays,
		},
	})

	// 4. メトリクスの初期化
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	// 5. ルーターの構築
	rateLimiter := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(cfg.RateLimitGeneral))
	defer rateLimiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,
		Logger:            slog.Default(),

		KPIService:     engine,
		ListingService: listingRepo,

		DB:             db,
		Collector:      collector,
		MetricsHandler: metrics.Handler(reg),
	})

	// 6. HTTPサーバーの起動
	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はパイプラインワーカーモードで起動する。
// DB接続を開き、スナップショット照合パイプラインのスケジューラを起動する。
// メトリクス公開用の軽量HTTPサーバーも併せて起動する。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	// 1. DB接続
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("database connection established (worker)")

	// 2. リポジトリとサービスの初期化
	listingRepo := repository.NewPostgresListingRepo(db)
	eventRepo := repository.NewPostgresEventRepo(db)
	runRepo := repository.NewPostgresRunRepo(db)
	eventService := eventlog.NewService(eventRepo)

	// 3. メトリクスの初期化
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)

	// 4. パイプラインランナーの初期化
	runner := pipeline.NewRunner(
		db, listingRepo, runRepo, eventService, collector,
		slog.Default(), cfg.ScrapeDir,
		reconcile.Options{
			SnapshotInterval:   cfg.SnapshotInterval,
			MissingThreshold:   cfg.MissingThreshold,
			ConfirmedThreshold: cfg.ConfirmedThreshold,
			MaxListingAge:      cfg.MaxListingAge(),
		},
	)

	scheduler := pipeline.NewScheduler(runner, slog.Default(), cfg.PipelineCron)

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	// 5. メトリクス公開用の軽量HTTPサーバーをバックグラウンドで起動
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	metricsServer := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: mux,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server listen error", slog.String("error", err.Error()))
		}
	}()
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	slog.Info("worker starting",
		slog.String("scrape_dir", cfg.ScrapeDir),
		slog.String("cron", cfg.PipelineCron),
	)

	// 6. 実行記録クリーンアップジョブを日次でバックグラウンド実行
	cleanupJob := cleanup.NewRunCleanupJob(db, slog.Default())
	go func() {
		// 起動直後に1回実行
		if err := cleanupJob.Run(ctx); err != nil {
			slog.Error("cleanup job failed", slog.String("error", err.Error()))
		}

		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := cleanupJob.Run(ctx); err != nil {
					slog.Error("cleanup job failed", slog.String("error", err.Error()))
				}
			}
		}
	}()

	// 7. スケジューラをメインgoroutineで実行（ブロッキング）
	if err := scheduler.Start(ctx); err != nil {
		return fmt.Errorf("scheduler stopped with error: %w", err)
	}

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	if err := database.RunMigrations(cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully")
	return nil
}

// runAudit はストア全体の整合性監査を1回実行する。
// 違反が見つかった場合はエラーで終了する。cronからの定期実行を想定している。
func runAudit(cfg *config.Config) error {
	db, err := database.Open(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	listingRepo := repository.NewPostgresListingRepo(db)
	eventRepo := repository.NewPostgresEventRepo(db)

	auditor := integrity.NewAuditor(listingRepo, eventRepo)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	report, err := auditor.Run(ctx)
	if err != nil {
		return fmt.Errorf("integrity audit failed: %w", err)
	}

	slog.Info("integrity audit passed",
		slog.Int("listings", report.ListingCount),
		slog.Int("sold_events", report.SoldEventCount),
	)
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
