package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/spotter/internal/abuse"
	"github.com/hitoshi/spotter/internal/config"
	"github.com/hitoshi/spotter/internal/counter"
	"github.com/hitoshi/spotter/internal/database"
	"github.com/hitoshi/spotter/internal/gateway"
	"github.com/hitoshi/spotter/internal/identity"
	"github.com/hitoshi/spotter/internal/ingest"
	"github.com/hitoshi/spotter/internal/logger"
	"github.com/hitoshi/spotter/internal/metrics"
	"github.com/hitoshi/spotter/internal/middleware"
	"github.com/hitoshi/spotter/internal/notify"
	"github.com/hitoshi/spotter/internal/registry"
	"github.com/hitoshi/spotter/internal/repository"
	"github.com/hitoshi/spotter/internal/room"
	"github.com/hitoshi/spotter/internal/security"
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
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
		port := os.Getenv("ADMIN_PORT")
		if port == "" {
			port = "9090"
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
		slog.String("admin_port", cfg.AdminPort),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(cfg)
	}
}

// runServe はゲートウェイサーバーモードで起動する。
// DBとRedisに接続し、全依存関係をワイヤリングして、WebSocketゲートウェイと
// 運用エンドポイント（ヘルスチェック・メトリクス）の2つのサーバーを起動する。
// INGEST_FEED_URLSが設定されている場合は取り込みスケジューラも同一プロセスで動かし、
// 取り込んだレポートを接続中ユーザーへの近接通知に直結させる。
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

	// 2. Redis接続（頻度カウンタ用）
	redisOpt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return fmt.Errorf("failed to parse redis url: %w", err)
	}
	rdb := redis.NewClient(redisOpt)
	defer rdb.Close()

	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return fmt.Errorf("failed to connect to redis: %w", err)
	}

	slog.Info("redis connection established")

	// 3. リポジトリの初期化
	reportRepo := repository.NewPostgresReportRepo(db)
	messageRepo := repository.NewPostgresMessageRepo(db)
	userDirRepo := repository.NewPostgresUserDirectoryRepo(db)

	// 4. メトリクスの初期化
	promReg := prometheus.NewRegistry()
	collector := metrics.NewCollector(promReg)

	// 5. 接続台帳とルームハブの初期化
	reg := registry.New(cfg.SendBufferSize)
	reg.SetDropHook(collector.RecordEventDropped)

	hub := room.NewHub(reg, slog.Default(), cfg.RoomDisposeGrace)
	defer hub.Close()

	// 6. セキュリティ・スコアリングサービスの初期化
	sanitizer := security.NewContentSanitizer()
	scorer := abuse.NewScorer(counter.NewRedisCounter(rdb), slog.Default(), scorerConfig(cfg))
	verifier := identity.NewVerifier(cfg.TokenSecret)

	// 7. コーディネーターとゲートウェイの構築
	coordinator := gateway.NewCoordinator(
		reg, hub, scorer, sanitizer,
		reportRepo, messageRepo, collector,
		slog.Default(), cfg.HistoryLimit,
	)
	server := gateway.NewServer(
		coordinator, reg, verifier, collector,
		slog.Default(), cfg.VerifyTimeout, cfg.FrameRate, cfg.FrameBurst,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 8. 取り込みスケジューラの起動（フィードソースが設定されている場合のみ）
	if len(cfg.IngestFeedURLs) > 0 {
		notifier := notify.NewProximityNotifier(userDirRepo, reg, slog.Default())
		fetcher := ingest.NewFetcher(
			reportRepo, notifier, sanitizer, security.NewSSRFGuard(),
			collector, slog.Default(), cfg.IngestTimeout, cfg.IngestMaxSize,
		)
		scheduler := ingest.NewScheduler(cfg.IngestFeedURLs, fetcher, slog.Default(), cfg.IngestMaxConcurrent)
		go scheduler.Start(ctx, cfg.IngestInterval)
	}

	// 9. 運用エンドポイントサーバーの構築
	opsServer := &http.Server{
		Addr:         ":" + cfg.AdminPort,
		Handler:      newOpsRouter(db, promReg),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("ops server starting", slog.String("addr", opsServer.Addr))
		if err := opsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("ops server listen error", slog.String("error", err.Error()))
		}
	}()

	go func() {
		slog.Info("gateway server starting", slog.String("addr", ":"+cfg.ServerPort))
		if err := server.Listen(":" + cfg.ServerPort); err != nil {
			slog.Error("gateway listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down servers...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(); err != nil {
		slog.Error("gateway shutdown failed", slog.String("error", err.Error()))
	}
	if err := opsServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("ops server shutdown failed: %w", err)
	}

	slog.Info("servers stopped gracefully")
	return nil
}

// runWorker は取り込み専用のワーカーモードで起動する。
// 外部フィードへのegressをこのプロセスに限定したいトポロジー向けのモード。
// ワーカープロセスはWebSocket接続を保持しないため、近接通知の配信先は常に空になる。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	if len(cfg.IngestFeedURLs) == 0 {
		return fmt.Errorf("INGEST_FEED_URLS is not set: worker mode requires at least one feed source")
	}

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

	// 2. 依存関係の初期化
	reportRepo := repository.NewPostgresReportRepo(db)
	userDirRepo := repository.NewPostgresUserDirectoryRepo(db)
	sanitizer := security.NewContentSanitizer()
	ssrfGuard := security.NewSSRFGuard()

	promReg := prometheus.NewRegistry()
	collector := metrics.NewCollector(promReg)

	// 空の接続台帳。配信件数は常に0件になる。
	reg := registry.New(cfg.SendBufferSize)
	notifier := notify.NewProximityNotifier(userDirRepo, reg, slog.Default())

	// 3. フェッチャーとスケジューラの初期化
	fetcher := ingest.NewFetcher(
		reportRepo, notifier, sanitizer, ssrfGuard,
		collector, slog.Default(), cfg.IngestTimeout, cfg.IngestMaxSize,
	)
	scheduler := ingest.NewScheduler(cfg.IngestFeedURLs, fetcher, slog.Default(), cfg.IngestMaxConcurrent)

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

	slog.Info("worker starting",
		slog.Duration("ingest_interval", cfg.IngestInterval),
		slog.Int("max_concurrent", cfg.IngestMaxConcurrent),
		slog.Int("sources", len(cfg.IngestFeedURLs)),
	)

	// 取り込みスケジューラをメインgoroutineで実行（ブロッキング）
	scheduler.Start(ctx, cfg.IngestInterval)

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

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// 運用ポートの /healthz エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/healthz", port)
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

// newOpsRouter は運用エンドポイント（ヘルスチェック・メトリクス）のルーターを構築する。
func newOpsRouter(db *sql.DB, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(slog.Default()))

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if err := db.PingContext(req.Context()); err != nil {
			http.Error(w, "unhealthy", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Method(http.MethodGet, "/metrics", metrics.Handler(gatherer))

	return r
}

// scorerConfig はConfigからスコアラー設定を組み立てる。
func scorerConfig(cfg *config.Config) abuse.Config {
	return abuse.Config{
		FlagThreshold:  cfg.FlagThreshold,
		BlockThreshold: cfg.BlockThreshold,
		Limits: map[counter.ActionType]abuse.FrequencyLimit{
			counter.ActionSubmission: {Limit: int64(cfg.SubmissionLimit), Window: cfg.SubmissionWindow},
			counter.ActionChat:       {Limit: int64(cfg.ChatLimit), Window: cfg.ChatWindow},
			counter.ActionGeneral:    {Limit: int64(cfg.GeneralLimit), Window: cfg.GeneralWindow},
		},
	}
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
