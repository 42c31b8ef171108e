package protocol

// NotificationKind は通知の種別を表す。
// 種別ごとに固有のフィールドセットを持つ明示的なバリアントが定義される。
type NotificationKind string

const (
	// KindNewNearbyReport は近隣での新規レポート発生の通知。
	KindNewNearbyReport NotificationKind = "new_nearby_report"
	// KindChatActivity は参加中ルームでのチャット活動の通知。
	KindChatActivity NotificationKind = "chat_activity"
	// KindSystemAnnouncement は運営からの告知。
	KindSystemAnnouncement NotificationKind = "system_announcement"
)

// NewNearbyReport は最終既知位置の近隣で新規レポートが
// 作成されたことを伝える通知バリアント。
type NewNearbyReport struct {
	Type       string           `json:"type"`
	Kind       NotificationKind `json:"kind"`
	ReportID   string           `json:"report_id"`
	Title      string           `json:"title"`
	Category   string           `json:"category"`
	DistanceKm float64          `json:"distance_km"`
	Lat        float64          `json:"lat"`
	Lon        float64          `json:"lon"`
}

// NewNewNearbyReport はNewNearbyReport通知を生成する。
func NewNewNearbyReport(reportID, title, category string, distanceKm, lat, lon float64) NewNearbyReport {
	return NewNearbyReport{
		Type:       ServerNotification,
		Kind:       KindNewNearbyReport,
		ReportID:   reportID,
		Title:      title,
		Category:   category,
		DistanceKm: distanceKm,
		Lat:        lat,
		Lon:        lon,
	}
}

// EventType はワイヤ上のtypeタグを返す。
func (e NewNearbyReport) EventType() string { return ServerNotification }

// ChatActivity は参加中ルームでの活動を伝える通知バリアント。
type ChatActivity struct {
	Type       string           `json:"type"`
	Kind       NotificationKind `json:"kind"`
	ReportID   string           `json:"report_id"`
	AuthorName string           `json:"author_name"`
	Preview    string           `json:"preview"`
}

// NewChatActivity はChatActivity通知を生成する。
func NewChatActivity(reportID, authorName, preview string) ChatActivity {
	return ChatActivity{
		Type:       ServerNotification,
		Kind:       KindChatActivity,
		ReportID:   reportID,
		AuthorName: authorName,
		Preview:    preview,
	}
}

// EventType はワイヤ上のtypeタグを返す。
func (e ChatActivity) EventType() string { return ServerNotification }

// SystemAnnouncement は運営からの告知を伝える通知バリアント。
type SystemAnnouncement struct {
	Type  string           `json:"type"`
	Kind  NotificationKind `json:"kind"`
	Title string           `json:"title"`
	Body  string           `json:"body"`
}

// NewSystemAnnouncement はSystemAnnouncement通知を生成する。
func NewSystemAnnouncement(title, body string) SystemAnnouncement {
	return SystemAnnouncement{
		Type:  ServerNotification,
		Kind:  KindSystemAnnouncement,
		Title: title,
		Body:  body,
	}
}

// EventType はワイヤ上のtypeタグを返す。
func (e SystemAnnouncement) EventType() string { return ServerNotification }
