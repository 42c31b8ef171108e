// Package room はレポート単位のチャットルームとメッセージファンアウトを提供する。
//
// 各ルームは1本の受信キューと1つの処理ゴルーチンを持ち、同一ルームに対する
// 参加・退出・投稿は到着順に直列化される。異なるルームは並行に進行し、
// 共有するのは接続台帳のみ。ルーム状態を手動ロックで保護する必要はない。
//
// ルームは最初の参加で遅延生成され、メンバーが0になると猶予期間の経過後に
// 破棄される。猶予期間内の再参加は破棄を取り消す（短時間の再接続による
// 生成・破棄の繰り返しを避けるため）。
package room

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/spotter/internal/model"
	"github.com/hitoshi/spotter/internal/protocol"
)

// inboxSize はルームごとの受信キューの容量。
const inboxSize = 256

// errRoomClosed は破棄済みルームへのコマンド投入を示す内部エラー。
// 呼び出し側（Hub）は新しいルームを生成してリトライする。
var errRoomClosed = errors.New("room closed")

// ConnectionDirectory はファンアウト先の接続台帳インターフェース。
// registry.Registryが実装する。
type ConnectionDirectory interface {
	// Send は接続へイベントを送信する。ブロックしてはならない。
	Send(connID string, event protocol.ServerEvent) bool
	// AddRoom は接続の参加ルーム集合を更新する。
	AddRoom(connID, roomID string)
	// RemoveRoom は接続の参加ルーム集合を更新する。
	RemoveRoom(connID, roomID string)
}

type cmdKind int

const (
	cmdJoin cmdKind = iota
	cmdLeave
	cmdDetach
	cmdPublish
	cmdTyping
	cmdMembers
)

// command はルームの処理ゴルーチンへ投入される作業単位。
type command struct {
	kind     cmdKind
	connID   string
	member   model.IdentitySummary
	history  protocol.ChatHistory
	msg      protocol.NewChatMessage
	isTyping bool

	// reply は同期コマンド（join/leave/members）の応答チャネル。容量1。
	reply chan error
	count chan int
}

type room struct {
	id  string
	hub *Hub

	inbox chan command

	// postMu はclosedフラグとinboxへの投入を保護する。
	// 処理ゴルーチン自身はこのロックを取らない。
	postMu sync.RWMutex
	closed bool

	// 以下は処理ゴルーチンのみが触る
	members map[string]model.IdentitySummary
	typing  map[string]struct{}
}

// Hub は全ルームの生成・破棄とコマンドのルーティングを行う。
type Hub struct {
	dir    ConnectionDirectory
	logger *slog.Logger
	grace  time.Duration

	mu     sync.Mutex
	rooms  map[string]*room
	closed bool
	// emptyGen はルームごとの破棄世代。空になるたびに進み、
	// 再参加で無効化されるため、古いタイマーは何もしない。
	emptyGen map[string]uint64
	nextGen  uint64

	wg sync.WaitGroup
}

// NewHub はHubを生成する。graceはメンバー0になってから破棄までの猶予期間。
func NewHub(dir ConnectionDirectory, logger *slog.Logger, grace time.Duration) *Hub {
	return &Hub{
		dir:      dir,
		logger:   logger,
		grace:    grace,
		rooms:    make(map[string]*room),
		emptyGen: make(map[string]uint64),
	}
}

// Join は接続をルームに参加させる。ルームが存在しない場合は生成する。
// 参加確定後、既存メンバーへmember_joinedを配信し、参加者本人には
// 事前取得済みのチャット履歴を送信する。同一接続の再参加は冪等で、
// 履歴の再送も行わない。
func (h *Hub) Join(ctx context.Context, roomID, connID string, member model.IdentitySummary, history protocol.ChatHistory) error {
	for {
		r, err := h.getOrCreate(roomID)
		if err != nil {
			return err
		}

		reply := make(chan error, 1)
		if !r.post(command{kind: cmdJoin, connID: connID, member: member, history: history, reply: reply}) {
			// 猶予期間満了で破棄された直後。新しいルームでリトライする。
			continue
		}

		select {
		case err := <-reply:
			if errors.Is(err, errRoomClosed) {
				continue
			}
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Leave は接続をルームから退出させ、残メンバーへmember_leftを配信する。
// 未参加・ルーム不存在の場合は何もしない。
func (h *Hub) Leave(roomID, connID string) {
	if r := h.get(roomID); r != nil {
		r.post(command{kind: cmdLeave, connID: connID})
	}
}

// Detach は切断された接続をルームから取り除く。
// 入力中だった場合はtyping停止を配信してから退出処理を行う。
// 切断はユーザー可視のエラーではないため、応答を返さない。
func (h *Hub) Detach(roomID, connID string) {
	if r := h.get(roomID); r != nil {
		r.post(command{kind: cmdDetach, connID: connID})
	}
}

// Publish は受理済みメッセージを全メンバーへ配信する。
// 投稿者自身にも同一のnew_chat_messageが届く（クライアントはIDで重複抑制する）。
// 受理後に投稿者が切断しても、残メンバーへの配信は完了する。
func (h *Hub) Publish(roomID string, msg protocol.NewChatMessage) {
	if r := h.get(roomID); r != nil {
		r.post(command{kind: cmdPublish, msg: msg})
	}
}

// SetTyping は入力中状態を更新し、本人以外のメンバーへ配信する。
// 未参加の接続からの更新は無視される。
func (h *Hub) SetTyping(roomID, connID string, isTyping bool) {
	if r := h.get(roomID); r != nil {
		r.post(command{kind: cmdTyping, connID: connID, isTyping: isTyping})
	}
}

// MemberCount はルームの現在のメンバー数を返す。ルーム不存在の場合は0。
func (h *Hub) MemberCount(roomID string) int {
	r := h.get(roomID)
	if r == nil {
		return 0
	}

	count := make(chan int, 1)
	if !r.post(command{kind: cmdMembers, count: count}) {
		return 0
	}
	return <-count
}

// RoomCount は現在アクティブな（破棄されていない）ルーム数を返す。
func (h *Hub) RoomCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms)
}

// Close は全ルームを停止する。以後のコマンドは無視される。
// 全処理ゴルーチンの終了まで待機する。
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	rooms := make([]*room, 0, len(h.rooms))
	for _, r := range h.rooms {
		rooms = append(rooms, r)
	}
	h.rooms = make(map[string]*room)
	h.mu.Unlock()

	for _, r := range rooms {
		r.shutdown()
	}
	h.wg.Wait()
}

// get は既存ルームを返す。存在しない場合はnil。
func (h *Hub) get(roomID string) *room {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.rooms[roomID]
}

// getOrCreate はルームを取得し、なければ生成して処理ゴルーチンを起動する。
func (h *Hub) getOrCreate(roomID string) (*room, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, errors.New("hub is shut down")
	}

	if r, ok := h.rooms[roomID]; ok {
		return r, nil
	}

	r := &room{
		id:      roomID,
		hub:     h,
		inbox:   make(chan command, inboxSize),
		members: make(map[string]model.IdentitySummary),
		typing:  make(map[string]struct{}),
	}
	h.rooms[roomID] = r

	h.wg.Add(1)
	go r.run()

	h.logger.Debug("room created", slog.String("room_id", roomID))
	return r, nil
}

// scheduleDispose はメンバー0になったルームの破棄タイマーを開始する。
// ルームの処理ゴルーチンから呼ばれる。
func (h *Hub) scheduleDispose(roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}

	h.nextGen++
	gen := h.nextGen
	h.emptyGen[roomID] = gen

	time.AfterFunc(h.grace, func() {
		h.tryDispose(roomID, gen)
	})
}

// cancelDispose は再参加による破棄タイマーの無効化を行う。
func (h *Hub) cancelDispose(roomID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.emptyGen, roomID)
}

// tryDispose は猶予期間満了時にルームを破棄する。
// 猶予期間中に再参加があった場合（世代不一致）は何もしない。
func (h *Hub) tryDispose(roomID string, gen uint64) {
	h.mu.Lock()
	if h.closed || h.emptyGen[roomID] != gen {
		h.mu.Unlock()
		return
	}
	r := h.rooms[roomID]
	delete(h.rooms, roomID)
	delete(h.emptyGen, roomID)
	h.mu.Unlock()

	if r != nil {
		r.shutdown()
		h.logger.Debug("room disposed", slog.String("room_id", roomID))
	}
}

// post はコマンドを受信キューへ投入する。破棄済みの場合はfalseを返す。
func (r *room) post(cmd command) bool {
	r.postMu.RLock()
	defer r.postMu.RUnlock()

	if r.closed {
		return false
	}
	r.inbox <- cmd
	return true
}

// shutdown はルームへの投入を止め、受信キューをクローズする。
// キューに残ったコマンドは処理ゴルーチンが排出してから終了する。
func (r *room) shutdown() {
	r.postMu.Lock()
	if !r.closed {
		r.closed = true
		close(r.inbox)
	}
	r.postMu.Unlock()
}

// run はルームの処理ループ。受信キューのコマンドを到着順に処理する。
// 同一投稿者のメッセージは単一の読み取りループから投入されるため、
// このキューのFIFO性により投稿者ごとの順序が全メンバーへ保たれる。
func (r *room) run() {
	defer r.hub.wg.Done()

	for cmd := range r.inbox {
		switch cmd.kind {
		case cmdJoin:
			r.handleJoin(cmd)
		case cmdLeave:
			r.handleLeave(cmd.connID, false)
		case cmdDetach:
			r.handleLeave(cmd.connID, true)
		case cmdPublish:
			r.handlePublish(cmd.msg)
		case cmdTyping:
			r.handleTyping(cmd.connID, cmd.isTyping)
		case cmdMembers:
			cmd.count <- len(r.members)
		}
	}
}

func (r *room) handleJoin(cmd command) {
	// クローズ後にキューへ残っていた参加要求。Hub側でリトライさせる。
	if r.isClosed() {
		cmd.reply <- errRoomClosed
		return
	}

	if _, ok := r.members[cmd.connID]; ok {
		// 冪等: 再参加はメンバー集合を変えず、履歴も再送しない
		cmd.reply <- nil
		return
	}

	wasEmpty := len(r.members) == 0
	r.members[cmd.connID] = cmd.member
	r.hub.dir.AddRoom(cmd.connID, r.id)

	if wasEmpty {
		r.hub.cancelDispose(r.id)
	}

	joined := protocol.NewMemberJoined(r.id, cmd.member)
	for connID := range r.members {
		if connID == cmd.connID {
			continue
		}
		r.hub.dir.Send(connID, joined)
	}

	r.hub.dir.Send(cmd.connID, cmd.history)
	cmd.reply <- nil
}

// handleLeave は退出・切断の共通処理。detachは切断由来であることを示す。
func (r *room) handleLeave(connID string, detach bool) {
	member, ok := r.members[connID]
	if !ok {
		return
	}

	// 入力中だった場合は先に停止を配信する
	if _, typing := r.typing[connID]; typing {
		delete(r.typing, connID)
		r.fanoutExcept(connID, protocol.NewTypingUpdate(r.id, connID, false))
	}

	delete(r.members, connID)
	if !detach {
		// 切断由来の場合、台帳側のエントリはDeregisterが既に除去している
		r.hub.dir.RemoveRoom(connID, r.id)
	}

	r.fanoutExcept(connID, protocol.NewMemberLeft(r.id, member))

	if len(r.members) == 0 {
		r.hub.scheduleDispose(r.id)
	}
}

func (r *room) handlePublish(msg protocol.NewChatMessage) {
	// 投稿者を含む全メンバーへ配信する。受理時点のメンバーが対象であり、
	// 投稿者がその後切断していても残メンバーへの配信は行われる。
	for connID := range r.members {
		r.hub.dir.Send(connID, msg)
	}
}

func (r *room) handleTyping(connID string, isTyping bool) {
	if _, ok := r.members[connID]; !ok {
		return
	}

	if isTyping {
		if _, already := r.typing[connID]; already {
			return
		}
		r.typing[connID] = struct{}{}
	} else {
		if _, was := r.typing[connID]; !was {
			return
		}
		delete(r.typing, connID)
	}

	r.fanoutExcept(connID, protocol.NewTypingUpdate(r.id, connID, isTyping))
}

// fanoutExcept はexcept以外の全メンバーへイベントを配信する。
func (r *room) fanoutExcept(except string, event protocol.ServerEvent) {
	for connID := range r.members {
		if connID == except {
			continue
		}
		r.hub.dir.Send(connID, event)
	}
}

func (r *room) isClosed() bool {
	r.postMu.RLock()
	defer r.postMu.RUnlock()
	return r.closed
}
