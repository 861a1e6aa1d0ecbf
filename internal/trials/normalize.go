package trials

import (
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/hifarrer/trialmatch/internal/model"
)

// maxEligibilityLength は適格基準テキストの最大文字数。
// 空白圧縮の後に切り詰める。
const maxEligibilityLength = 500

// TextSanitizer は自由テキストからマークアップを除去するインターフェース。
// security.TextSanitizerServiceの部分集合として定義する。
type TextSanitizer interface {
	Sanitize(raw string) string
}

// Normalizer は外部APIの生の治験レコードをmodel.Trialに正規化する。
// 全モジュール・全フィールドの欠落を許容し、デフォルト値で補完する。
type Normalizer struct {
	sanitizer TextSanitizer
}

// NewNormalizer はNormalizerの新しいインスタンスを生成する。
// sanitizerがnilの場合はマークアップ除去をスキップする。
func NewNormalizer(sanitizer TextSanitizer) *Normalizer {
	return &Normalizer{sanitizer: sanitizer}
}

// Normalize は生の治験レコードをmodel.Trialに変換する。
// protocolSectionが欠落しているレコードはnilを返し、呼び出し元で除外される。
// それ以外の欠落はすべてデフォルト値で補完し、nilを返すことはない。
func (n *Normalizer) Normalize(raw RawStudy) *model.Trial {
	ps := raw.ProtocolSection
	if ps == nil {
		return nil
	}

	// 各モジュールの欠落は空のモジュールとして扱う
	ident := ps.IdentificationModule
	if ident == nil {
		ident = &IdentificationModule{}
	}
	status := ps.StatusModule
	if status == nil {
		status = &StatusModule{}
	}
	desc := ps.DescriptionModule
	if desc == nil {
		desc = &DescriptionModule{}
	}
	conds := ps.ConditionsModule
	if conds == nil {
		conds = &ConditionsModule{}
	}
	elig := ps.EligibilityModule
	if elig == nil {
		elig = &EligibilityModule{}
	}
	locs := ps.ContactsLocationsModule
	if locs == nil {
		locs = &ContactsLocationsModule{}
	}

	trial := &model.Trial{
		NCTID:               ident.NCTID,
		Title:               ident.BriefTitle,
		Description:         n.sanitize(desc.BriefSummary),
		Status:              status.RecruitmentStatus,
		Conditions:          conds.Conditions,
		EligibilityCriteria: normalizeEligibility(n.sanitize(elig.EligibilityCriteria)),
		Locations:           normalizeLocations(locs.Locations),
		MinimumAge:          elig.MinimumAge,
		MaximumAge:          elig.MaximumAge,
	}

	if trial.NCTID == "" {
		trial.NCTID = model.UnknownNCTID
	}
	if trial.Title == "" {
		trial.Title = ident.OfficialTitle
	}
	if trial.Title == "" {
		trial.Title = model.UntitledStudy
	}
	// 募集ステータスが無い場合は全体ステータスにフォールバック
	if trial.Status == "" {
		trial.Status = status.OverallStatus
	}
	if trial.Conditions == nil {
		trial.Conditions = []string{}
	}

	return trial
}

// sanitize はサニタイザが設定されている場合のみマークアップ除去を行う。
func (n *Normalizer) sanitize(text string) string {
	if n.sanitizer == nil {
		return text
	}
	return n.sanitizer.Sanitize(text)
}

// normalizeEligibility は適格基準テキストを正規化する純粋関数。
// 連続する空白文字を1つのスペースに圧縮してトリムし、
// その後に500バイトへ切り詰める（切り詰めは圧縮後に行う）。
// マルチバイト文字の途中で切らないよう、切り詰め位置はルーン境界まで戻す。
func normalizeEligibility(text string) string {
	collapsed := strings.Join(strings.Fields(text), " ")
	if len(collapsed) <= maxEligibilityLength {
		return collapsed
	}
	cut := maxEligibilityLength
	for cut > 0 && !utf8.RuneStart(collapsed[cut]) {
		cut--
	}
	return collapsed[:cut]
}

// normalizeLocations はロケーションリストを正規化する純粋関数。
// 各エントリはフラット形式と {"location": {...}} のラップ形式の両方を受け付け、
// 施設名・市・州がすべて空のエントリは除外する。
// デコードできないエントリも除外する。
func normalizeLocations(entries []json.RawMessage) []model.Location {
	locations := make([]model.Location, 0, len(entries))

	for _, entry := range entries {
		loc, ok := decodeLocation(entry)
		if !ok {
			continue
		}
		if loc.IsEmpty() {
			continue
		}
		locations = append(locations, loc)
	}

	return locations
}

// decodeLocation は1件のロケーションエントリをデコードする。
// ラップ形式（{"location": {...}}）を先に試し、該当しない場合はフラット形式として扱う。
func decodeLocation(entry json.RawMessage) (model.Location, bool) {
	var wrapped wrappedLocation
	if err := json.Unmarshal(entry, &wrapped); err == nil && wrapped.Location != nil {
		return toLocation(*wrapped.Location), true
	}

	var flat rawLocation
	if err := json.Unmarshal(entry, &flat); err != nil {
		return model.Location{}, false
	}
	return toLocation(flat), true
}

// toLocation はrawLocationをmodel.Locationに変換する。
func toLocation(raw rawLocation) model.Location {
	return model.Location{
		Facility: raw.Facility,
		City:     raw.City,
		State:    raw.State,
		Zip:      raw.Zip,
		Country:  raw.Country,
	}
}
