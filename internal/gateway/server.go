package gateway

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"golang.org/x/time/rate"

	"github.com/hitoshi/spotter/internal/identity"
	"github.com/hitoshi/spotter/internal/metrics"
	"github.com/hitoshi/spotter/internal/model"
	"github.com/hitoshi/spotter/internal/protocol"
	"github.com/hitoshi/spotter/internal/registry"
)

const (
	// writeWait はWebSocket書き込みの期限。
	writeWait = 10 * time.Second
	// pongWait はpong応答を待つ期限。超過した接続は切断される。
	pongWait = 60 * time.Second
	// pingPeriod はping送信間隔。pongWaitより短くなければならない。
	pingPeriod = (pongWait * 9) / 10
	// maxFrameSize は受信フレームの上限バイト数。
	maxFrameSize = 64 * 1024

	identityLocalKey = "identity"
)

// Server はWebSocketゲートウェイのHTTP境界。
type Server struct {
	app         *fiber.App
	coordinator *Coordinator
	registry    *registry.Registry
	verifier    *identity.Verifier
	metrics     metrics.MetricsCollector
	logger      *slog.Logger

	verifyTimeout time.Duration
	frameRate     rate.Limit
	frameBurst    int
}

// NewServer はWebSocketゲートウェイを構築する。
// frameRate/frameBurstは接続ごとの受信フレームレート制限。
func NewServer(
	coordinator *Coordinator,
	reg *registry.Registry,
	verifier *identity.Verifier,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	verifyTimeout time.Duration,
	frameRate float64,
	frameBurst int,
) *Server {
	s := &Server{
		coordinator:   coordinator,
		registry:      reg,
		verifier:      verifier,
		metrics:       collector,
		logger:        logger,
		verifyTimeout: verifyTimeout,
		frameRate:     rate.Limit(frameRate),
		frameBurst:    frameBurst,
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})

	app.Use("/ws", func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		// アイデンティティ解決はアップグレード前に行う。
		// トークン不正は接続拒否にならず、匿名として受理される。
		ident := identity.ResolveIdentity(c.Context(), s.verifier, bearerToken(c), s.verifyTimeout, s.logger)
		c.Locals(identityLocalKey, ident)
		return c.Next()
	})
	app.Get("/ws", websocket.New(s.handleConnection))

	s.app = app
	return s
}

// App は構築済みのFiberアプリを返す。
func (s *Server) App() *fiber.App {
	return s.app
}

// Listen はゲートウェイのリッスンを開始する。
func (s *Server) Listen(addr string) error {
	return s.app.Listen(addr)
}

// Shutdown はゲートウェイを正常停止する。
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// bearerToken はハンドシェイクからアクセストークンを取り出す。
// tokenクエリパラメータを優先し、なければAuthorizationヘッダを参照する。
func bearerToken(c *fiber.Ctx) string {
	if token := c.Query("token"); token != "" {
		return token
	}
	auth := c.Get(fiber.HeaderAuthorization)
	if after, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return after
	}
	return ""
}

// handleConnection は1接続のライフサイクル全体を担う。
// このゴルーチンが読み取りループとなり、書き込みポンプを別ゴルーチンで起動する。
func (s *Server) handleConnection(wsc *websocket.Conn) {
	ident, ok := wsc.Locals(identityLocalKey).(model.Identity)
	if !ok {
		ident = identity.Anonymous()
	}

	conn := s.registry.Register(ident)
	s.metrics.SetActiveConnections(s.registry.Count())
	s.logger.Info("WebSocket接続を受理しました",
		slog.String("connection_id", conn.ID),
		slog.String("user_id", ident.UserID),
		slog.Bool("authenticated", ident.Authenticated),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go s.writePump(wsc, conn, done)

	s.readLoop(ctx, wsc, conn)

	// 読み取り終了 = 切断。台帳除去により送信チャネルがクローズされ、
	// 書き込みポンプはバッファを排出してから終了する。
	s.coordinator.Disconnect(conn.ID)
	cancel()
	<-done

	s.logger.Info("WebSocket接続を終了しました",
		slog.String("connection_id", conn.ID),
		slog.String("user_id", ident.UserID),
	)
}

// readLoop はクライアントからのイベントを順次処理する。
// 単一ゴルーチンでの逐次処理により、同一接続のイベント順序が保たれる。
func (s *Server) readLoop(ctx context.Context, wsc *websocket.Conn, conn *registry.Connection) {
	limiter := rate.NewLimiter(s.frameRate, s.frameBurst)

	wsc.SetReadLimit(maxFrameSize)
	wsc.SetReadDeadline(time.Now().Add(pongWait))
	wsc.SetPongHandler(func(string) error {
		wsc.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var event protocol.ClientEvent
		if err := wsc.ReadJSON(&event); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Warn("WebSocket読み取りエラー",
					slog.String("connection_id", conn.ID),
					slog.String("error", err.Error()),
				)
			}
			return
		}

		// フレームレート制限: 超過分は処理せずエラーのみ返す
		if !limiter.Allow() {
			s.registry.Send(conn.ID, protocol.NewErrorEvent(model.NewTooManyRequestsError()))
			continue
		}

		s.coordinator.HandleEvent(ctx, conn, event)
	}
}

// writePump は送信チャネルのイベントをWebSocketへ書き出す。
// ping送信もここで行う。チャネルクローズ（=切断処理完了）で終了する。
func (s *Server) writePump(wsc *websocket.Conn, conn *registry.Connection, done chan<- struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		close(done)
	}()

	for {
		select {
		case event, ok := <-conn.Events():
			wsc.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				wsc.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := wsc.WriteJSON(event); err != nil {
				s.logger.Warn("WebSocket書き込みエラー",
					slog.String("connection_id", conn.ID),
					slog.String("error", err.Error()),
				)
				return
			}
		case <-ticker.C:
			wsc.SetWriteDeadline(time.Now().Add(writeWait))
			if err := wsc.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
