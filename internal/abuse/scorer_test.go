package abuse

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/hitoshi/spotter/internal/counter"
)

// --- モック ---

type mockCounter struct {
	incrementAndGetFn func(ctx context.Context, actorKey string, action counter.ActionType, window time.Duration) (int64, error)
}

func (m *mockCounter) IncrementAndGet(ctx context.Context, actorKey string, action counter.ActionType, window time.Duration) (int64, error) {
	if m.incrementAndGetFn != nil {
		return m.incrementAndGetFn(ctx, actorKey, action, window)
	}
	return 1, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestScorer(c counter.FrequencyCounter) *Scorer {
	return NewScorer(c, testLogger(), DefaultConfig())
}

// TestScore_CleanContent_Allows は通常のメッセージが許可されることを検証する。
func TestScore_CleanContent_Allows(t *testing.T) {
	s := newTestScorer(&mockCounter{})

	contents := []string{
		"近所の公園でタヌキを見かけました",
		"I saw a fox near the station this morning.",
		"気をつけて帰ってください",
	}
	for _, content := range contents {
		got := s.Score(context.Background(), "user-1", counter.ActionChat, content)
		if got.Decision != DecisionAllow {
			t.Errorf("Score(%q) decision = %s (score %d, signals %v), want allow",
				content, got.Decision, got.Score, got.Signals)
		}
	}
}

// TestScore_BlocklistHit_Flags はブロックリスト語を含む投稿がflagされることを検証する。
func TestScore_BlocklistHit_Flags(t *testing.T) {
	s := newTestScorer(&mockCounter{})

	// blocklist +2 + URL +1 = 3 -> flag
	got := s.Score(context.Background(), "user-1", counter.ActionChat,
		"click here to claim your prize http://spam.example/win")
	if got.Decision != DecisionFlag {
		t.Errorf("decision = %s (score %d), want flag", got.Decision, got.Score)
	}
}

// TestScore_MultipleSignals_Blocks は複数シグナルの重複でblockに達することを検証する。
func TestScore_MultipleSignals_Blocks(t *testing.T) {
	s := newTestScorer(&mockCounter{})

	// blocklist(free money) +2、blocklist(casino) +2、URL +1、連続文字 +1 で計6
	content := "FREE MONEY CASINO http://win.example/aaaaaaaaaa"
	got := s.Score(context.Background(), "user-1", counter.ActionChat, content)
	if got.Decision != DecisionBlock {
		t.Errorf("decision = %s (score %d, signals %v), want block", got.Decision, got.Score, got.Signals)
	}
}

// TestScore_FrequencySignal は頻度超過がスコアに加算されることを検証する。
// 境界ぎりぎりのコンテンツ（flag水準）は、頻度超過と組み合わさると
// blockThresholdを超えて拒否される。
func TestScore_FrequencySignal(t *testing.T) {
	// 境界コンテンツ: blocklist +2 + URL +1 = 3
	borderline := "click here for details http://example.com/info"

	tests := []struct {
		name  string
		count int64
		want  Decision
	}{
		{"9th submission stays under the limit", 9, DecisionFlag},
		{"11th submission crosses the limit", 11, DecisionBlock},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &mockCounter{
				incrementAndGetFn: func(ctx context.Context, actorKey string, action counter.ActionType, window time.Duration) (int64, error) {
					if action != counter.ActionSubmission {
						t.Errorf("action = %s, want submission", action)
					}
					if window != time.Hour {
						t.Errorf("window = %v, want 1h", window)
					}
					return tt.count, nil
				},
			}
			s := newTestScorer(c)

			got := s.Score(context.Background(), "user-1", counter.ActionSubmission, borderline)
			if got.Decision != tt.want {
				t.Errorf("decision = %s (score %d), want %s", got.Decision, got.Score, tt.want)
			}
		})
	}
}

// TestScore_CounterFailure_FailsOpen はカウンタ障害時に頻度シグナルを
// 加算せず、許可側に倒れることを検証する。
func TestScore_CounterFailure_FailsOpen(t *testing.T) {
	c := &mockCounter{
		incrementAndGetFn: func(ctx context.Context, actorKey string, action counter.ActionType, window time.Duration) (int64, error) {
			return 0, errors.New("redis: connection refused")
		},
	}
	s := newTestScorer(c)

	got := s.Score(context.Background(), "user-1", counter.ActionChat, "ふつうのメッセージです")
	if got.Decision != DecisionAllow {
		t.Errorf("decision = %s, want allow (fail open)", got.Decision)
	}

	if s.OverLimit(context.Background(), "user-1", counter.ActionGeneral) {
		t.Error("OverLimit should fail open and return false on counter error")
	}
}

// TestOverLimit_Boundary は一般アクションの頻度ゲートの境界を検証する。
func TestOverLimit_Boundary(t *testing.T) {
	tests := []struct {
		count int64
		want  bool
	}{
		{99, false},
		{100, false},
		{101, true},
	}
	for _, tt := range tests {
		c := &mockCounter{
			incrementAndGetFn: func(ctx context.Context, actorKey string, action counter.ActionType, window time.Duration) (int64, error) {
				return tt.count, nil
			},
		}
		s := newTestScorer(c)

		got := s.OverLimit(context.Background(), "user-1", counter.ActionGeneral)
		if got != tt.want {
			t.Errorf("OverLimit with count %d = %v, want %v", tt.count, got, tt.want)
		}
	}
}

// TestHasRepeatedRun は連続文字シグナルの検出を検証する。
func TestHasRepeatedRun(t *testing.T) {
	tests := []struct {
		content string
		want    bool
	}{
		{"aaaaaaaa", true},
		{"aaaaaaa", false},
		{"わああああああああ", true},
		{"abababababab", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := hasRepeatedRun(tt.content, repeatedRunLength); got != tt.want {
			t.Errorf("hasRepeatedRun(%q) = %v, want %v", tt.content, got, tt.want)
		}
	}
}

// TestSymbolDensity は記号密度シグナルの検出を検証する。
func TestSymbolDensity(t *testing.T) {
	// 記号のみ（8文字以上）は密度1.0
	if d := symbolDensity("!!!$$$%%%###"); d <= symbolDensityLimit {
		t.Errorf("symbolDensity of pure symbols = %v, want > %v", d, symbolDensityLimit)
	}
	// 通常の文章は閾値以下
	if d := symbolDensity("normal message here"); d > symbolDensityLimit {
		t.Errorf("symbolDensity of normal text = %v, want <= %v", d, symbolDensityLimit)
	}
	// 短い入力は判定対象外
	if d := symbolDensity("!?"); d != 0 {
		t.Errorf("symbolDensity of short input = %v, want 0", d)
	}
	// 日本語テキストは記号として扱わない
	if d := symbolDensity("タヌキを見かけました"); d > symbolDensityLimit {
		t.Errorf("symbolDensity of japanese text = %v, want <= %v", d, symbolDensityLimit)
	}
}

// TestExcessiveUppercase は大文字比率シグナルの検出を検証する。
func TestExcessiveUppercase(t *testing.T) {
	tests := []struct {
		content string
		want    bool
	}{
		{"THIS IS ALL CAPS SHOUTING", true},
		{"This is a normal sentence here", false},
		{"OK", false}, // 英字数が少なく判定対象外
		{"すべて日本語のメッセージ", false},
	}
	for _, tt := range tests {
		if got := excessiveUppercase(tt.content); got != tt.want {
			t.Errorf("excessiveUppercase(%q) = %v, want %v", tt.content, got, tt.want)
		}
	}
}

// TestScore_LengthAnomaly は長さ異常シグナルを検証する。
func TestScore_LengthAnomaly(t *testing.T) {
	s := newTestScorer(&mockCounter{})

	// 1文字: 長さ異常のみ（+1）でallowのまま
	got := s.Score(context.Background(), "user-1", counter.ActionChat, "あ")
	if got.Score != incrementLength {
		t.Errorf("score of 1-rune content = %d, want %d", got.Score, incrementLength)
	}
	if got.Decision != DecisionAllow {
		t.Errorf("decision = %s, want allow", got.Decision)
	}

	// 上限超過
	long := make([]rune, maxContentRunes+1)
	for i := range long {
		long[i] = 'あ'
		if i%7 == 0 {
			long[i] = 'い'
		}
	}
	got = s.Score(context.Background(), "user-1", counter.ActionChat, string(long))
	if got.Score < incrementLength {
		t.Errorf("score of oversized content = %d, want >= %d", got.Score, incrementLength)
	}
}
