package model

// Identity は接続時に解決されたユーザーの識別情報を表す。
// 有効な資格情報を提示した場合は認証済みID、
// それ以外は接続時に合成される匿名IDが割り当てられる。
type Identity struct {
	UserID string
	// DisplayName は表示名。匿名の場合は合成されたゲスト名。
	DisplayName   string
	Authenticated bool
	Admin         bool
}

// IdentitySummary はルームの参加・退出イベントで他メンバーに
// 公開される識別情報の要約。ユーザーIDそのものは匿名性維持のため含めない。
type IdentitySummary struct {
	DisplayName   string `json:"display_name"`
	Authenticated bool   `json:"authenticated"`
}

// Summary は他メンバーに公開可能な要約を返す。
func (i Identity) Summary() IdentitySummary {
	return IdentitySummary{
		DisplayName:   i.DisplayName,
		Authenticated: i.Authenticated,
	}
}
