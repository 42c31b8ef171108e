// Package ingest は自治体等の公開フィードからのレポート取り込みを提供する。
// スケジューラとフェッチャーを含む。取り込まれたレポートは通常の
// ユーザー投稿と同様に近接通知の対象となる。
package ingest

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// SourceFetcherService はフィードソース1件の取り込み実行インターフェース。
type SourceFetcherService interface {
	// Fetch は指定URLのフィードを取り込む。
	Fetch(ctx context.Context, sourceURL string) error
}

// Scheduler はフィード取り込みのスケジューリングと並列制御を行う。
// 設定された全ソースを一定間隔で巡回し、semaphoreパターンで
// 最大並列数を制御しながら取り込みを実行する。
type Scheduler struct {
	sources        []string
	fetcher        SourceFetcherService
	logger         *slog.Logger
	maxConcurrency int
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
// maxConcurrencyが0以下の場合はデフォルト値5を使用する。
func NewScheduler(
	sources []string,
	fetcher SourceFetcherService,
	logger *slog.Logger,
	maxConcurrency int,
) *Scheduler {
	if maxConcurrency <= 0 {
		maxConcurrency = 5
	}
	return &Scheduler{
		sources:        sources,
		fetcher:        fetcher,
		logger:         logger,
		maxConcurrency: maxConcurrency,
	}
}

// Start は指定間隔のティッカーでスケジューラを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("取り込みスケジューラを開始しました",
		slog.Duration("interval", interval),
		slog.Int("source_count", len(s.sources)),
		slog.Int("max_concurrency", s.maxConcurrency),
	)

	// 起動直後に1回実行
	s.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("取り込みスケジューラを停止しました")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce は全ソースを1回巡回し、並列で取り込みを実行する。
// ソース1件の失敗はログに記録され、他のソースの取り込みは継続される。
func (s *Scheduler) RunOnce(ctx context.Context) {
	if len(s.sources) == 0 {
		return
	}

	start := time.Now()
	s.logger.Info("取り込みサイクルを開始します",
		slog.Int("source_count", len(s.sources)),
	)

	sem := make(chan struct{}, s.maxConcurrency)
	var wg sync.WaitGroup

	for _, source := range s.sources {
		wg.Add(1)
		sem <- struct{}{}

		go func(sourceURL string) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := s.fetcher.Fetch(ctx, sourceURL); err != nil {
				s.logger.Error("フィード取り込みに失敗しました",
					slog.String("source_url", sourceURL),
					slog.String("error", err.Error()),
				)
			}
		}(source)
	}

	wg.Wait()

	duration := time.Since(start)
	s.logger.Info("取り込みサイクルが完了しました",
		slog.Int("source_count", len(s.sources)),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)
}
