package ingest

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/oklog/ulid/v2"

	"github.com/hitoshi/spotter/internal/geo"
	"github.com/hitoshi/spotter/internal/metrics"
	"github.com/hitoshi/spotter/internal/model"
	"github.com/hitoshi/spotter/internal/repository"
	"github.com/hitoshi/spotter/internal/security"
)

// ingestReporterID は取り込み由来レポートの投稿者ID。
// 実ユーザーと衝突しない予約値。
const ingestReporterID = "system-ingest"

// NotifierService は新規レポートの近接通知インターフェース。
type NotifierService interface {
	OnNewReport(ctx context.Context, report *model.Report) (int, error)
}

// SSRFValidator はSSRF検証のインターフェース。
type SSRFValidator interface {
	ValidateURL(rawURL string) error
	NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client
}

// conditionalState はソースごとの条件付きGET情報。
type conditionalState struct {
	etag         string
	lastModified string
}

// Fetcher は個別フィードソースのHTTPフェッチ・パース・レポート作成を行う。
// ETag/Last-Modifiedを使用した条件付きGET、SSRF検証、gofeedによるパース、
// 位置情報の抽出、GUIDによる重複排除、近接通知の起動を実行する。
type Fetcher struct {
	reports   repository.ReportRepository
	notifier  NotifierService
	sanitizer security.ContentSanitizerService
	ssrfGuard SSRFValidator
	metrics   metrics.MetricsCollector
	logger    *slog.Logger

	timeout     time.Duration
	maxBodySize int64

	// 条件付きGET情報はプロセス内キャッシュで保持する。
	// 再起動後の初回はフル取得になるが、GUID重複排除があるため問題ない。
	mu          sync.Mutex
	conditional map[string]conditionalState
}

// NewFetcher はFetcherの新しいインスタンスを生成する。
func NewFetcher(
	reports repository.ReportRepository,
	notifier NotifierService,
	sanitizer security.ContentSanitizerService,
	ssrfGuard SSRFValidator,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	timeout time.Duration,
	maxBodySize int64,
) *Fetcher {
	return &Fetcher{
		reports:     reports,
		notifier:    notifier,
		sanitizer:   sanitizer,
		ssrfGuard:   ssrfGuard,
		metrics:     collector,
		logger:      logger,
		timeout:     timeout,
		maxBodySize: maxBodySize,
		conditional: make(map[string]conditionalState),
	}
}

// Fetch はフィードソースを取り込む。SourceFetcherServiceインターフェースを実装する。
// アイテム1件の失敗はスキップして続行し、サイクル全体を中断しない。
func (f *Fetcher) Fetch(ctx context.Context, sourceURL string) error {
	start := time.Now()

	if err := f.ssrfGuard.ValidateURL(sourceURL); err != nil {
		f.metrics.RecordIngestFailure(sourceURL, "ssrf")
		return fmt.Errorf("SSRF検証に失敗: %w", err)
	}

	client := f.ssrfGuard.NewSafeClient(f.timeout, f.maxBodySize)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return fmt.Errorf("リクエスト作成に失敗: %w", err)
	}

	req.Header.Set("User-Agent", "Spotter/1.0 Feed Ingest")
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml, */*")

	f.mu.Lock()
	state := f.conditional[sourceURL]
	f.mu.Unlock()
	if state.etag != "" {
		req.Header.Set("If-None-Match", state.etag)
	}
	if state.lastModified != "" {
		req.Header.Set("If-Modified-Since", state.lastModified)
	}

	resp, err := client.Do(req)
	if err != nil {
		f.metrics.RecordIngestFailure(sourceURL, "http")
		return fmt.Errorf("HTTPリクエスト失敗: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		f.logger.Info("フィードは未変更です（304）",
			slog.String("source_url", sourceURL),
		)
		f.metrics.RecordIngestSuccess(sourceURL)
		f.metrics.RecordIngestLatency(time.Since(start))
		return nil
	}
	if resp.StatusCode != http.StatusOK {
		f.metrics.RecordIngestFailure(sourceURL, "status")
		return fmt.Errorf("HTTPステータス %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodySize))
	if err != nil {
		f.metrics.RecordIngestFailure(sourceURL, "read")
		return fmt.Errorf("レスポンス読み取り失敗: %w", err)
	}

	f.storeConditional(sourceURL, resp)

	parsedFeed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		f.metrics.RecordIngestFailure(sourceURL, "parse")
		return fmt.Errorf("フィードのパースに失敗: %w", err)
	}

	created := 0
	for _, item := range parsedFeed.Items {
		if item == nil {
			continue
		}
		ok, err := f.ingestItem(ctx, sourceURL, item)
		if err != nil {
			f.logger.Warn("アイテムの取り込みに失敗したためスキップします",
				slog.String("source_url", sourceURL),
				slog.String("guid", item.GUID),
				slog.String("error", err.Error()),
			)
			continue
		}
		if ok {
			created++
		}
	}

	duration := time.Since(start)
	f.metrics.RecordIngestSuccess(sourceURL)
	f.metrics.RecordIngestLatency(duration)
	f.metrics.RecordReportsIngested(created)

	f.logger.Info("フィード取り込みが完了しました",
		slog.String("source_url", sourceURL),
		slog.Int("items_total", len(parsedFeed.Items)),
		slog.Int("reports_created", created),
		slog.Float64("duration_ms", float64(duration.Milliseconds())),
	)
	return nil
}

// storeConditional はレスポンスのETag/Last-Modifiedを次回の条件付きGET用に保存する。
func (f *Fetcher) storeConditional(sourceURL string, resp *http.Response) {
	state := conditionalState{
		etag:         resp.Header.Get("ETag"),
		lastModified: resp.Header.Get("Last-Modified"),
	}
	if state.etag == "" && state.lastModified == "" {
		return
	}
	f.mu.Lock()
	f.conditional[sourceURL] = state
	f.mu.Unlock()
}

// ingestItem はフィードアイテム1件をレポートへ変換する。
// 作成した場合はtrueを返す。位置情報のないアイテム、重複アイテム、
// サニタイズ後にタイトルが空になるアイテムはスキップされる（エラーではない）。
func (f *Fetcher) ingestItem(ctx context.Context, sourceURL string, item *gofeed.Item) (bool, error) {
	guid := item.GUID
	if guid == "" {
		guid = item.Link
	}
	if guid == "" {
		return false, nil
	}

	point, ok := extractPoint(item)
	if !ok {
		return false, nil
	}
	if err := point.Validate(); err != nil {
		return false, err
	}

	exists, err := f.reports.ExistsBySourceGUID(ctx, guid)
	if err != nil {
		return false, fmt.Errorf("重複確認に失敗: %w", err)
	}
	if exists {
		return false, nil
	}

	title := f.sanitizer.Sanitize(item.Title)
	if title == "" {
		return false, nil
	}
	description := f.sanitizer.Sanitize(item.Description)

	now := time.Now().UTC()
	createdAt := now
	if item.PublishedParsed != nil {
		createdAt = item.PublishedParsed.UTC()
	}

	report := &model.Report{
		ID:          ulid.Make().String(),
		ReporterID:  ingestReporterID,
		Category:    categoryFor(item),
		Title:       title,
		Description: description,
		Latitude:    point.Lat,
		Longitude:   point.Lon,
		SourceGUID:  guid,
		CreatedAt:   createdAt,
		UpdatedAt:   now,
	}

	if err := f.reports.Create(ctx, report); err != nil {
		return false, fmt.Errorf("レポート作成に失敗: %w", err)
	}

	notified, err := f.notifier.OnNewReport(ctx, report)
	if err != nil {
		// 通知失敗でも取り込み自体は成立している
		f.logger.Warn("近接通知の起動に失敗しました",
			slog.String("report_id", report.ID),
			slog.String("error", err.Error()),
		)
	} else {
		f.metrics.RecordNotificationsSent(notified)
	}

	return true, nil
}

// extractPoint はアイテムの位置情報拡張から座標を取り出す。
// georss:point（"lat lon"）を優先し、なければgeo:lat/geo:longペアを参照する。
func extractPoint(item *gofeed.Item) (geo.Point, bool) {
	if ext, ok := item.Extensions["georss"]; ok {
		if points, ok := ext["point"]; ok && len(points) > 0 {
			fields := strings.Fields(points[0].Value)
			if len(fields) == 2 {
				lat, errLat := strconv.ParseFloat(fields[0], 64)
				lon, errLon := strconv.ParseFloat(fields[1], 64)
				if errLat == nil && errLon == nil {
					return geo.Point{Lat: lat, Lon: lon}, true
				}
			}
		}
	}

	if ext, ok := item.Extensions["geo"]; ok {
		lats, hasLat := ext["lat"]
		lons, hasLon := ext["long"]
		if hasLat && hasLon && len(lats) > 0 && len(lons) > 0 {
			lat, errLat := strconv.ParseFloat(strings.TrimSpace(lats[0].Value), 64)
			lon, errLon := strconv.ParseFloat(strings.TrimSpace(lons[0].Value), 64)
			if errLat == nil && errLon == nil {
				return geo.Point{Lat: lat, Lon: lon}, true
			}
		}
	}

	return geo.Point{}, false
}

// categoryFor はフィードのカテゴリ表記をレポートカテゴリへ対応付ける。
// 対応しない表記はotherとして扱う。
func categoryFor(item *gofeed.Item) model.ReportCategory {
	for _, raw := range item.Categories {
		switch strings.ToLower(strings.TrimSpace(raw)) {
		case "wildlife", "animal", "野生動物":
			return model.ReportCategoryWildlife
		case "hazard", "danger", "災害", "危険":
			return model.ReportCategoryHazard
		case "lost_found", "lost-and-found", "遺失物":
			return model.ReportCategoryLostFound
		}
	}
	return model.ReportCategoryOther
}
