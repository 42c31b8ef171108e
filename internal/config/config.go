package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Database
	DatabaseURL string

	// Redis（頻度カウンタ用）
	RedisURL string

	// Token
	TokenSecret   string
	VerifyTimeout time.Duration

	// Server
	ServerPort string
	AdminPort  string

	// Room
	RoomDisposeGrace time.Duration
	HistoryLimit     int
	SendBufferSize   int

	// Abuse
	FlagThreshold  int
	BlockThreshold int

	// 頻度制限（ウィンドウあたりの許容回数）
	SubmissionLimit  int
	SubmissionWindow time.Duration
	ChatLimit        int
	ChatWindow       time.Duration
	GeneralLimit     int
	GeneralWindow    time.Duration

	// 接続ごとの受信フレームレート（フレーム/秒）
	FrameRate  float64
	FrameBurst int

	// Ingest
	IngestFeedURLs      []string
	IngestInterval      time.Duration
	IngestTimeout       time.Duration
	IngestMaxSize       int64
	IngestMaxConcurrent int
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	cfg.RedisURL = os.Getenv("REDIS_URL")
	if cfg.RedisURL == "" {
		missing = append(missing, "REDIS_URL")
	}

	cfg.TokenSecret = os.Getenv("TOKEN_SECRET")
	if cfg.TokenSecret == "" {
		missing = append(missing, "TOKEN_SECRET")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.VerifyTimeout = getEnvDuration("VERIFY_TIMEOUT", 3*time.Second)
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.AdminPort = getEnvString("ADMIN_PORT", "9090")
	cfg.RoomDisposeGrace = getEnvDuration("ROOM_DISPOSE_GRACE", 30*time.Second)
	cfg.HistoryLimit = getEnvInt("HISTORY_LIMIT", 50)
	cfg.SendBufferSize = getEnvInt("SEND_BUFFER_SIZE", 256)
	cfg.FlagThreshold = getEnvInt("FLAG_THRESHOLD", 3)
	cfg.BlockThreshold = getEnvInt("BLOCK_THRESHOLD", 6)
	cfg.SubmissionLimit = getEnvInt("SUBMISSION_LIMIT", 10)
	cfg.SubmissionWindow = getEnvDuration("SUBMISSION_WINDOW", time.Hour)
	cfg.ChatLimit = getEnvInt("CHAT_LIMIT", 30)
	cfg.ChatWindow = getEnvDuration("CHAT_WINDOW", time.Minute)
	cfg.GeneralLimit = getEnvInt("GENERAL_LIMIT", 100)
	cfg.GeneralWindow = getEnvDuration("GENERAL_WINDOW", 15*time.Minute)
	cfg.FrameRate = getEnvFloat("FRAME_RATE", 10)
	cfg.FrameBurst = getEnvInt("FRAME_BURST", 20)
	cfg.IngestFeedURLs = splitNonEmpty(os.Getenv("INGEST_FEED_URLS"))
	cfg.IngestInterval = getEnvDuration("INGEST_INTERVAL", 5*time.Minute)
	cfg.IngestTimeout = getEnvDuration("INGEST_TIMEOUT", 10*time.Second)
	cfg.IngestMaxSize = getEnvInt64("INGEST_MAX_SIZE", 5242880)
	cfg.IngestMaxConcurrent = getEnvInt("INGEST_MAX_CONCURRENT", 5)

	return cfg, nil
}

// splitNonEmpty はカンマ区切りの値を分割し、空要素を除去する。
func splitNonEmpty(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		s := strings.TrimSpace(part)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvInt64(key string, defaultVal int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
