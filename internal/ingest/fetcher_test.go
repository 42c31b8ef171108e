package ingest

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/spotter/internal/model"
	"github.com/hitoshi/spotter/internal/security"
)

// passthroughGuard はテスト用のSSRF検証モック。
// httptestサーバーはループバックで起動されるため、本物のガードは使えない。
type passthroughGuard struct {
	validateErr error
}

func (g *passthroughGuard) ValidateURL(rawURL string) error {
	return g.validateErr
}

func (g *passthroughGuard) NewSafeClient(timeout time.Duration, maxResponseSize int64) *http.Client {
	return &http.Client{Timeout: timeout}
}

type mockReportRepo struct {
	mu       sync.Mutex
	existing map[string]bool
	created  []*model.Report

	createErr error
	existsErr error
}

func newMockReportRepo() *mockReportRepo {
	return &mockReportRepo{existing: make(map[string]bool)}
}

func (m *mockReportRepo) FindByID(ctx context.Context, id string) (*model.Report, error) {
	return nil, nil
}

func (m *mockReportRepo) Create(ctx context.Context, report *model.Report) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created = append(m.created, report)
	m.existing[report.SourceGUID] = true
	return nil
}

func (m *mockReportRepo) ExistsBySourceGUID(ctx context.Context, guid string) (bool, error) {
	if m.existsErr != nil {
		return false, m.existsErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.existing[guid], nil
}

func (m *mockReportRepo) createdReports() []*model.Report {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*model.Report, len(m.created))
	copy(out, m.created)
	return out
}

type mockNotifier struct {
	mu      sync.Mutex
	reports []*model.Report
	err     error
}

func (m *mockNotifier) OnNewReport(ctx context.Context, report *model.Report) (int, error) {
	if m.err != nil {
		return 0, m.err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports = append(m.reports, report)
	return 2, nil
}

type mockCollector struct {
	mu            sync.Mutex
	success       int
	failures      map[string]int
	notifications int
	ingested      int
}

func newMockCollector() *mockCollector {
	return &mockCollector{failures: make(map[string]int)}
}

func (m *mockCollector) SetActiveConnections(count int) {}
func (m *mockCollector) SetActiveRooms(count int)       {}
func (m *mockCollector) RecordMessage()                 {}
func (m *mockCollector) RecordMessageFlagged()          {}
func (m *mockCollector) RecordMessageBlocked()          {}
func (m *mockCollector) RecordNotificationsSent(count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifications += count
}
func (m *mockCollector) RecordEventDropped() {}
func (m *mockCollector) RecordIngestSuccess(sourceURL string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.success++
}
func (m *mockCollector) RecordIngestFailure(sourceURL string, reason string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[reason]++
}
func (m *mockCollector) RecordIngestLatency(duration time.Duration) {}
func (m *mockCollector) RecordReportsIngested(count int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ingested += count
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

const testFeedXML = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:georss="http://www.georss.org/georss">
<channel>
<title>市民安全情報</title>
<item>
<title><![CDATA[<b>倒木</b>による道路封鎖]]></title>
<description>強風により倒木が発生しています</description>
<guid>alert-1</guid>
<category>hazard</category>
<georss:point>40.7589 -73.9851</georss:point>
</item>
<item>
<title>座標のないお知らせ</title>
<guid>alert-2</guid>
</item>
<item>
<title>公園でアライグマの群れ</title>
<guid>alert-3</guid>
<category>wildlife</category>
<georss:point>40.7812 -73.9665</georss:point>
</item>
</channel>
</rss>`

func newTestFetcher(reports *mockReportRepo, notifier *mockNotifier, collector *mockCollector) *Fetcher {
	return NewFetcher(
		reports, notifier, security.NewContentSanitizer(), &passthroughGuard{},
		collector, testLogger(), 5*time.Second, 5*1024*1024,
	)
}

func TestFetcher_CreatesReportsFromFeedItems(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		io.WriteString(w, testFeedXML)
	}))
	defer ts.Close()

	reports := newMockReportRepo()
	notifier := &mockNotifier{}
	collector := newMockCollector()
	f := newTestFetcher(reports, notifier, collector)

	if err := f.Fetch(context.Background(), ts.URL); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	created := reports.createdReports()
	// 座標のないアイテムはスキップされる
	if len(created) != 2 {
		t.Fatalf("expected 2 reports, got %d", len(created))
	}

	first := created[0]
	if first.Title != "倒木による道路封鎖" {
		t.Errorf("expected sanitized title, got %q", first.Title)
	}
	if first.Category != model.ReportCategoryHazard {
		t.Errorf("expected hazard category, got %s", first.Category)
	}
	if first.Latitude != 40.7589 || first.Longitude != -73.9851 {
		t.Errorf("unexpected coordinates: %v, %v", first.Latitude, first.Longitude)
	}
	if first.SourceGUID != "alert-1" {
		t.Errorf("unexpected source guid: %s", first.SourceGUID)
	}
	if first.ReporterID != ingestReporterID {
		t.Errorf("unexpected reporter id: %s", first.ReporterID)
	}

	if created[1].Category != model.ReportCategoryWildlife {
		t.Errorf("expected wildlife category, got %s", created[1].Category)
	}

	// 各レポートごとに近接通知が起動される
	if len(notifier.reports) != 2 {
		t.Errorf("expected 2 notifier invocations, got %d", len(notifier.reports))
	}
	if collector.notifications != 4 {
		t.Errorf("expected 4 notified users recorded, got %d", collector.notifications)
	}
	if collector.ingested != 2 {
		t.Errorf("expected 2 ingested reports recorded, got %d", collector.ingested)
	}
}

func TestFetcher_DeduplicatesBySourceGUID(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, testFeedXML)
	}))
	defer ts.Close()

	reports := newMockReportRepo()
	f := newTestFetcher(reports, &mockNotifier{}, newMockCollector())

	for i := 0; i < 2; i++ {
		if err := f.Fetch(context.Background(), ts.URL); err != nil {
			t.Fatalf("fetch %d failed: %v", i, err)
		}
	}

	if got := len(reports.createdReports()); got != 2 {
		t.Errorf("expected 2 reports after repeated fetch, got %d", got)
	}
}

func TestFetcher_ConditionalGet(t *testing.T) {
	requests := 0
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		io.WriteString(w, testFeedXML)
	}))
	defer ts.Close()

	reports := newMockReportRepo()
	collector := newMockCollector()
	f := newTestFetcher(reports, &mockNotifier{}, collector)

	for i := 0; i < 2; i++ {
		if err := f.Fetch(context.Background(), ts.URL); err != nil {
			t.Fatalf("fetch %d failed: %v", i, err)
		}
	}

	if requests != 2 {
		t.Fatalf("expected 2 requests, got %d", requests)
	}
	if got := len(reports.createdReports()); got != 2 {
		t.Errorf("expected no reprocessing on 304, got %d reports", got)
	}
	if collector.success != 2 {
		t.Errorf("expected both cycles recorded as success, got %d", collector.success)
	}
}

func TestFetcher_SSRFValidationFailure(t *testing.T) {
	collector := newMockCollector()
	f := NewFetcher(
		newMockReportRepo(), &mockNotifier{}, security.NewContentSanitizer(),
		&passthroughGuard{validateErr: errors.New("blocked host")},
		collector, testLogger(), 5*time.Second, 5*1024*1024,
	)

	if err := f.Fetch(context.Background(), "http://169.254.169.254/feed"); err == nil {
		t.Error("expected error for blocked URL")
	}
	if collector.failures["ssrf"] != 1 {
		t.Errorf("expected ssrf failure metric, got %v", collector.failures)
	}
}

func TestFetcher_ParseFailure(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "これはフィードではありません")
	}))
	defer ts.Close()

	collector := newMockCollector()
	f := newTestFetcher(newMockReportRepo(), &mockNotifier{}, collector)

	if err := f.Fetch(context.Background(), ts.URL); err == nil {
		t.Error("expected parse error")
	}
	if collector.failures["parse"] != 1 {
		t.Errorf("expected parse failure metric, got %v", collector.failures)
	}
}

func TestFetcher_ItemFailureDoesNotAbortCycle(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, testFeedXML)
	}))
	defer ts.Close()

	reports := newMockReportRepo()
	reports.existsErr = errors.New("connection refused")
	f := newTestFetcher(reports, &mockNotifier{}, newMockCollector())

	// 全アイテムの重複確認が失敗してもサイクル自体は成功として完了する
	if err := f.Fetch(context.Background(), ts.URL); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := len(reports.createdReports()); got != 0 {
		t.Errorf("expected no reports, got %d", got)
	}
}

func TestFetcher_NotifierFailureDoesNotUndoIngest(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, testFeedXML)
	}))
	defer ts.Close()

	reports := newMockReportRepo()
	notifier := &mockNotifier{err: errors.New("directory unavailable")}
	f := newTestFetcher(reports, notifier, newMockCollector())

	if err := f.Fetch(context.Background(), ts.URL); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := len(reports.createdReports()); got != 2 {
		t.Errorf("expected reports to be created despite notifier failure, got %d", got)
	}
}
