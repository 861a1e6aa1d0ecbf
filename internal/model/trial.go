// Package model はドメインモデルを定義する。
package model

import "time"

// UnknownNCTID は外部APIがNCT IDを返さなかった場合のセンチネル値。
// この値を持つ治験は検索結果には含めてよいが、永続化対象から除外する。
const UnknownNCTID = "unknown"

// UntitledStudy はタイトルが一切取得できなかった治験のフォールバックタイトル。
const UntitledStudy = "Untitled Study"

// TrialMatchCriteria は治験検索リクエストの条件を表す。
// HTTPリクエストごとに生成され、永続化しない。
type TrialMatchCriteria struct {
	// CancerType はがん種（自由テキストまたはコード値）。
	// 外部API照会前に検索フレーズへ変換される。
	CancerType string
	// Mutations は追加の自由テキスト検索語（遺伝子名など）。
	Mutations []string
	// ZipCode は米国の郵便番号。ジオコーディング成功時のみ地理フィルタが有効になる。
	ZipCode string
	// Statuses は募集ステータスコード。空の場合はDefaultStatuses()が適用される。
	Statuses []string
	// Age は予約フィールド。現時点では外部クエリに適用しない。
	Age int
	// Refresh がtrueの場合、保存済みマッチを全置換（delete-then-insert）する。
	Refresh bool
}

// DefaultStatuses は募集ステータス未指定時のデフォルトフィルタを返す。
func DefaultStatuses() []string {
	return []string{"RECRUITING", "NOT_YET_RECRUITING", "ENROLLING_BY_INVITATION"}
}

// Trial は外部APIレスポンスから正規化した治験情報を表す。
// DBには永続化せず、リクエストごとに外部APIから導出する。
type Trial struct {
	NCTID               string     `json:"nctId"`
	Title               string     `json:"title"`
	Description         string     `json:"description,omitempty"`
	Status              string     `json:"status,omitempty"`
	Conditions          []string   `json:"conditions"`
	EligibilityCriteria string     `json:"eligibilityCriteria,omitempty"`
	Locations           []Location `json:"locations"`
	MinimumAge          string     `json:"minimumAge,omitempty"`
	MaximumAge          string     `json:"maximumAge,omitempty"`
}

// Location は治験の実施施設を表す。全フィールドは空文字列をデフォルトとする。
type Location struct {
	Facility string `json:"facility"`
	City     string `json:"city"`
	State    string `json:"state"`
	Zip      string `json:"zip"`
	Country  string `json:"country"`
}

// IsEmpty は施設名・市・州がすべて空かを返す。
// すべて空のロケーションは正規化時に除外される。
func (l Location) IsEmpty() bool {
	return l.Facility == "" && l.City == "" && l.State == ""
}

// UserTrialMatch はユーザーと治験のマッチを表す永続化エンティティ。
// (UserID, NCTID) の組は一意で、重複挿入は冪等にスキップされる。
type UserTrialMatch struct {
	ID        string
	UserID    string
	NCTID     string
	MatchedAt time.Time
}

// Coordinates はジオコーディング結果の緯度経度を表す。
type Coordinates struct {
	Lat float64
	Lon float64
}
