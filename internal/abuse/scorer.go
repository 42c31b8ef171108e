// Package abuse は投稿・メッセージのリスクスコアリングを提供する。
// 語彙ブロックリスト、構造的な異常、長さ、頻度などの独立したシグナルを
// 加算してスコアを算出し、allow / flag / block のいずれかを判定する。
// 頻度カウンタは外部ストアに委譲されており、参照に失敗した場合は
// フェイルオープン（許可側に倒す）で正規トラフィックを妨げない。
package abuse

import (
	"context"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/hitoshi/spotter/internal/counter"
)

// Decision はリスク判定の結果を表す。
type Decision string

const (
	// DecisionAllow はアクションを許可することを示す。
	DecisionAllow Decision = "allow"
	// DecisionFlag はアクションを許可しつつレビュー対象として記録することを示す。
	DecisionFlag Decision = "flag"
	// DecisionBlock はアクションを拒否することを示す。
	DecisionBlock Decision = "block"
)

// RiskAssessment は1アクションに対するスコアリング結果。保持はされず、
// 判定後に破棄される。Signalsはモデレーター向けログにのみ使用し、
// クライアントには開示しない。
type RiskAssessment struct {
	Score    int
	Decision Decision
	Signals  []string
}

// 各シグナルの固定加算値
const (
	incrementBlocklist  = 2
	incrementStructural = 1
	incrementLength     = 1
	incrementUppercase  = 1
	incrementFrequency  = 3

	// maxURLIncrements は埋め込みURLシグナルの加算上限。
	maxURLIncrements = 3
)

// シグナル検出の閾値
const (
	repeatedRunLength  = 8
	symbolDensityLimit = 0.5
	symbolDensityMin   = 8
	minContentRunes    = 2
	maxContentRunes    = 2000
	uppercaseRatioMax  = 0.7
	uppercaseMinLetter = 12
)

// defaultBlocklist は既定の語彙ブロックリスト。
// 部分一致（小文字化後）で判定する。
var defaultBlocklist = []string{
	"viagra",
	"casino",
	"lottery winner",
	"free money",
	"crypto giveaway",
	"click here",
	"出会い系",
	"副業で稼げる",
	"今すぐ換金",
}

// FrequencyLimit はアクション種別ごとのウィンドウと許容回数。
type FrequencyLimit struct {
	Limit  int64
	Window time.Duration
}

// Config はスコアラーの設定。
type Config struct {
	FlagThreshold  int
	BlockThreshold int
	// Limits はアクション種別ごとの頻度制限。未設定の種別は頻度シグナルを加算しない。
	Limits map[counter.ActionType]FrequencyLimit
	// Blocklist は語彙ブロックリスト。nilの場合は既定リストを使用する。
	Blocklist []string
}

// DefaultConfig は既定のスコアラー設定を返す。
// 頻度制限の要件: 投稿 10回/時、チャット 30回/分、一般アクション 100回/15分。
func DefaultConfig() Config {
	return Config{
		FlagThreshold:  3,
		BlockThreshold: 6,
		Limits: map[counter.ActionType]FrequencyLimit{
			counter.ActionSubmission: {Limit: 10, Window: time.Hour},
			counter.ActionChat:       {Limit: 30, Window: time.Minute},
			counter.ActionGeneral:    {Limit: 100, Window: 15 * time.Minute},
		},
	}
}

// Scorer はリスクスコアリングを行う。
type Scorer struct {
	counter   counter.FrequencyCounter
	logger    *slog.Logger
	config    Config
	blocklist []string
}

// NewScorer はScorerを生成する。
func NewScorer(freq counter.FrequencyCounter, logger *slog.Logger, config Config) *Scorer {
	blocklist := config.Blocklist
	if blocklist == nil {
		blocklist = defaultBlocklist
	}
	return &Scorer{
		counter:   freq,
		logger:    logger,
		config:    config,
		blocklist: blocklist,
	}
}

// Score はコンテンツと頻度からリスクを評価する。
// 頻度カウンタの参照に失敗した場合はフェイルオープンとし、
// 頻度シグナルを加算せずにコンテンツシグナルのみで判定する。
func (s *Scorer) Score(ctx context.Context, actorKey string, action counter.ActionType, content string) RiskAssessment {
	score := 0
	var signals []string

	add := func(inc int, signal string) {
		score += inc
		signals = append(signals, signal)
	}

	lower := strings.ToLower(content)
	for _, term := range s.blocklist {
		if strings.Contains(lower, term) {
			add(incrementBlocklist, "blocklist:"+term)
		}
	}

	if hasRepeatedRun(content, repeatedRunLength) {
		add(incrementStructural, "repeated_run")
	}
	if symbolDensity(content) > symbolDensityLimit {
		add(incrementStructural, "symbol_density")
	}
	for i, n := 0, countURLs(lower); i < n && i < maxURLIncrements; i++ {
		add(incrementStructural, "embedded_url")
	}

	runes := len([]rune(strings.TrimSpace(content)))
	if runes < minContentRunes || runes > maxContentRunes {
		add(incrementLength, "length_anomaly")
	}

	if excessiveUppercase(content) {
		add(incrementUppercase, "uppercase_ratio")
	}

	if s.overFrequencyLimit(ctx, actorKey, action) {
		add(incrementFrequency, "frequency")
	}

	decision := DecisionAllow
	switch {
	case score >= s.config.BlockThreshold:
		decision = DecisionBlock
	case score >= s.config.FlagThreshold:
		decision = DecisionFlag
	}

	if decision != DecisionAllow {
		// スコアの詳細はクライアントに開示せず、モデレーター向けにのみ記録する
		s.logger.Warn("content risk detected",
			slog.String("actor_key", actorKey),
			slog.String("action", string(action)),
			slog.Int("score", score),
			slog.String("decision", string(decision)),
			slog.Any("signals", signals),
		)
	}

	return RiskAssessment{Score: score, Decision: decision, Signals: signals}
}

// OverLimit は指定アクションの頻度カウンタをインクリメントし、
// 許容回数を超過しているかを返す。コンテンツを持たないアクション
// （参加・位置更新等）の頻度ゲートに使用する。
// カウンタ障害時はフェイルオープンでfalseを返す。
func (s *Scorer) OverLimit(ctx context.Context, actorKey string, action counter.ActionType) bool {
	return s.overFrequencyLimit(ctx, actorKey, action)
}

// overFrequencyLimit はカウンタをインクリメントし、許容回数超過を判定する。
func (s *Scorer) overFrequencyLimit(ctx context.Context, actorKey string, action counter.ActionType) bool {
	limit, ok := s.config.Limits[action]
	if !ok {
		return false
	}

	count, err := s.counter.IncrementAndGet(ctx, actorKey, action, limit.Window)
	if err != nil {
		// フェイルオープン: カウンタ障害で正規トラフィックをブロックしない
		s.logger.Warn("frequency counter unavailable, failing open",
			slog.String("actor_key", actorKey),
			slog.String("action", string(action)),
			slog.String("error", err.Error()),
		)
		return false
	}

	return count > limit.Limit
}

// hasRepeatedRun は同一文字がn回以上連続する箇所があるかを判定する。
func hasRepeatedRun(s string, n int) bool {
	var prev rune
	run := 0
	for _, r := range s {
		if r == prev {
			run++
			if run >= n {
				return true
			}
		} else {
			prev = r
			run = 1
		}
	}
	return false
}

// symbolDensity は空白を除く文字に占める非英数字（記号）の割合を返す。
// 短い入力（symbolDensityMin未満）では誤検知を避けるため0を返す。
// 日本語等の文字はunicode.IsLetterにより英数字側として扱う。
func symbolDensity(s string) float64 {
	total := 0
	symbols := 0
	for _, r := range s {
		if unicode.IsSpace(r) {
			continue
		}
		total++
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			symbols++
		}
	}
	if total < symbolDensityMin {
		return 0
	}
	return float64(symbols) / float64(total)
}

// countURLs はコンテンツ中のURLらしき文字列の個数を数える。
func countURLs(lower string) int {
	return strings.Count(lower, "http://") +
		strings.Count(lower, "https://") +
		strings.Count(lower, "www.")
}

// excessiveUppercase は英字に占める大文字の割合が閾値を超えるかを判定する。
// 英字数がuppercaseMinLetter未満の場合は判定しない。
func excessiveUppercase(s string) bool {
	letters := 0
	uppers := 0
	for _, r := range s {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		if unicode.IsUpper(r) {
			uppers++
		}
	}
	if letters < uppercaseMinLetter {
		return false
	}
	return float64(uppers)/float64(letters) > uppercaseRatioMax
}
