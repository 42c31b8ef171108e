// Package registry はライブ接続の台帳を提供する。
// 接続のID・識別情報・参加ルーム・最終既知位置を保持し、
// ユーザーIDから接続への逆引きを可能にする。
// 状態はプロセスローカルかつ非永続であり、プロセス再起動で失われるが、
// クライアントの再接続により復元されるため許容される。
package registry

import (
	"sync"

	"github.com/google/uuid"

	"github.com/hitoshi/spotter/internal/geo"
	"github.com/hitoshi/spotter/internal/model"
	"github.com/hitoshi/spotter/internal/protocol"
)

// DefaultSendBuffer は接続ごとの送信バッファの既定サイズ。
const DefaultSendBuffer = 256

// Connection は1本のライブ双方向セッションを表す。
// 生成はRegister、破棄はDeregisterのみが行う。
// 可変フィールド（rooms, location）はRegistryのロックで保護される。
type Connection struct {
	ID       string
	Identity model.Identity

	send   chan protocol.ServerEvent
	closed bool

	rooms    map[string]struct{}
	location *geo.Point
}

// Events は接続への送信イベントを受け取るチャネルを返す。
// Deregister時にクローズされる。
func (c *Connection) Events() <-chan protocol.ServerEvent {
	return c.send
}

// Registry はライブ接続の台帳。全メソッドは並行安全。
type Registry struct {
	mu      sync.RWMutex
	conns   map[string]*Connection
	byUser  map[string]map[string]*Connection
	bufSize int

	// onDrop は送信バッファ溢れでイベントを破棄した際に呼ばれるフック。
	// メトリクス連携用でnil許容。
	onDrop func()
}

// New はRegistryを生成する。bufSizeが0以下の場合は既定値を使用する。
func New(bufSize int) *Registry {
	if bufSize <= 0 {
		bufSize = DefaultSendBuffer
	}
	return &Registry{
		conns:   make(map[string]*Connection),
		byUser:  make(map[string]map[string]*Connection),
		bufSize: bufSize,
	}
}

// SetDropHook はイベント破棄時のフックを設定する。起動時に1回だけ呼ぶこと。
func (r *Registry) SetDropHook(fn func()) {
	r.onDrop = fn
}

// Register は新しい接続を登録して返す。接続IDはUUIDで合成される。
func (r *Registry) Register(identity model.Identity) *Connection {
	conn := &Connection{
		ID:       uuid.NewString(),
		Identity: identity,
		send:     make(chan protocol.ServerEvent, r.bufSize),
		rooms:    make(map[string]struct{}),
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.conns[conn.ID] = conn
	userConns, ok := r.byUser[identity.UserID]
	if !ok {
		userConns = make(map[string]*Connection)
		r.byUser[identity.UserID] = userConns
	}
	userConns[conn.ID] = conn

	return conn
}

// Deregister は接続を台帳から除去し、参加していたルームIDの一覧を返す。
// 返されたルームは呼び出し側がBroadcaster経由で退出処理を行う。
// 送信チャネルはクローズされ、以後のSendは破棄される。
// 未登録IDの場合はnilを返す。
func (r *Registry) Deregister(connID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, ok := r.conns[connID]
	if !ok {
		return nil
	}

	delete(r.conns, connID)
	if userConns, ok := r.byUser[conn.Identity.UserID]; ok {
		delete(userConns, connID)
		if len(userConns) == 0 {
			delete(r.byUser, conn.Identity.UserID)
		}
	}

	rooms := make([]string, 0, len(conn.rooms))
	for roomID := range conn.rooms {
		rooms = append(rooms, roomID)
	}

	conn.closed = true
	close(conn.send)

	return rooms
}

// AddRoom は接続の参加ルーム集合にルームIDを追加する。
// Broadcasterが参加確定時に呼ぶ。
func (r *Registry) AddRoom(connID, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if conn, ok := r.conns[connID]; ok {
		conn.rooms[roomID] = struct{}{}
	}
}

// RemoveRoom は接続の参加ルーム集合からルームIDを除去する。
func (r *Registry) RemoveRoom(connID, roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if conn, ok := r.conns[connID]; ok {
		delete(conn.rooms, roomID)
	}
}

// InRoom は接続が指定ルームに参加しているかを返す。
func (r *Registry) InRoom(connID, roomID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.conns[connID]
	if !ok {
		return false
	}
	_, ok = conn.rooms[roomID]
	return ok
}

// UpdateLocation は接続の最終既知位置を更新する。
// 範囲外・非有限の座標はValidationErrorで拒否する。
func (r *Registry) UpdateLocation(connID string, lat, lon float64) error {
	p := geo.Point{Lat: lat, Lon: lon}
	if err := p.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if conn, ok := r.conns[connID]; ok {
		conn.location = &p
	}
	return nil
}

// Location は接続の最終既知位置を返す。未設定の場合はfalseを返す。
func (r *Registry) Location(connID string) (geo.Point, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.conns[connID]
	if !ok || conn.location == nil {
		return geo.Point{}, false
	}
	return *conn.location, true
}

// LookupByUser は指定ユーザーの全ライブ接続を返す。
// 1ユーザーが複数端末から同時接続している場合は複数返る。
func (r *Registry) LookupByUser(userID string) []*Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()

	userConns, ok := r.byUser[userID]
	if !ok {
		return nil
	}
	conns := make([]*Connection, 0, len(userConns))
	for _, conn := range userConns {
		conns = append(conns, conn)
	}
	return conns
}

// Send は接続へイベントを送信する。ブロックせず、バッファ満杯または
// 接続クローズ済みの場合はイベントを破棄してfalseを返す。
// 遅いクライアントが他の接続への配信を遅延させないための方針。
func (r *Registry) Send(connID string, event protocol.ServerEvent) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	conn, ok := r.conns[connID]
	if !ok || conn.closed {
		return false
	}

	select {
	case conn.send <- event:
		return true
	default:
		if r.onDrop != nil {
			r.onDrop()
		}
		return false
	}
}

// PushToUser は指定ユーザーの全ライブ接続へイベントを送信し、
// 配信に成功した接続数を返す。接続が1つもない場合は0。
func (r *Registry) PushToUser(userID string, event protocol.ServerEvent) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	delivered := 0
	for _, conn := range r.byUser[userID] {
		if conn.closed {
			continue
		}
		select {
		case conn.send <- event:
			delivered++
		default:
			if r.onDrop != nil {
				r.onDrop()
			}
		}
	}
	return delivered
}

// Count は現在のライブ接続数を返す。
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
