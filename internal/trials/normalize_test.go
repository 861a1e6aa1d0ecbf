package trials

import (
	"encoding/json"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/hifarrer/trialmatch/internal/model"
)

// upperSanitizer はサニタイズ呼び出しを観測するためのテスト用実装。
type upperSanitizer struct {
	calls int
}

func (s *upperSanitizer) Sanitize(raw string) string {
	s.calls++
	return strings.ToUpper(raw)
}

func TestNormalize_NilProtocolSection_ReturnsNil(t *testing.T) {
	n := NewNormalizer(nil)

	if got := n.Normalize(RawStudy{}); got != nil {
		t.Errorf("protocolSection欠落でnil以外が返った: %+v", got)
	}
}

func TestNormalize_EmptyProtocolSection_ReturnsDefaults(t *testing.T) {
	// 全モジュール欠落でもnilを返さず、全フィールドがデフォルト値で補完されること
	n := NewNormalizer(nil)

	trial := n.Normalize(RawStudy{ProtocolSection: &ProtocolSection{}})
	if trial == nil {
		t.Fatal("空のprotocolSectionでnilが返った")
	}

	if trial.NCTID != model.UnknownNCTID {
		t.Errorf("NCTID = %q, want %q", trial.NCTID, model.UnknownNCTID)
	}
	if trial.Title != model.UntitledStudy {
		t.Errorf("Title = %q, want %q", trial.Title, model.UntitledStudy)
	}
	if trial.Status != "" {
		t.Errorf("Status = %q, want 空文字列", trial.Status)
	}
	if trial.Conditions == nil {
		t.Error("Conditions がnil（空スライスであるべき）")
	}
	if len(trial.Conditions) != 0 {
		t.Errorf("Conditions = %v, want 空", trial.Conditions)
	}
	if trial.Locations == nil {
		t.Error("Locations がnil（空スライスであるべき）")
	}
}

func TestNormalize_TitleFallbackChain(t *testing.T) {
	n := NewNormalizer(nil)

	tests := []struct {
		name  string
		ident *IdentificationModule
		want  string
	}{
		{
			name:  "briefTitleを優先する",
			ident: &IdentificationModule{BriefTitle: "Brief", OfficialTitle: "Official"},
			want:  "Brief",
		},
		{
			name:  "briefTitleが空ならofficialTitle",
			ident: &IdentificationModule{OfficialTitle: "Official"},
			want:  "Official",
		},
		{
			name:  "両方空ならプレースホルダー",
			ident: &IdentificationModule{},
			want:  model.UntitledStudy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trial := n.Normalize(RawStudy{ProtocolSection: &ProtocolSection{
				IdentificationModule: tt.ident,
			}})
			if trial.Title != tt.want {
				t.Errorf("Title = %q, want %q", trial.Title, tt.want)
			}
		})
	}
}

func TestNormalize_StatusPrefersRecruitmentStatus(t *testing.T) {
	n := NewNormalizer(nil)

	trial := n.Normalize(RawStudy{ProtocolSection: &ProtocolSection{
		StatusModule: &StatusModule{
			OverallStatus:     "COMPLETED",
			RecruitmentStatus: "RECRUITING",
		},
	}})
	if trial.Status != "RECRUITING" {
		t.Errorf("Status = %q, want RECRUITING", trial.Status)
	}

	trial = n.Normalize(RawStudy{ProtocolSection: &ProtocolSection{
		StatusModule: &StatusModule{OverallStatus: "COMPLETED"},
	}})
	if trial.Status != "COMPLETED" {
		t.Errorf("Status = %q, want COMPLETED（overallStatusフォールバック）", trial.Status)
	}
}

func TestNormalize_AppliesSanitizer(t *testing.T) {
	sanitizer := &upperSanitizer{}
	n := NewNormalizer(sanitizer)

	trial := n.Normalize(RawStudy{ProtocolSection: &ProtocolSection{
		DescriptionModule: &DescriptionModule{BriefSummary: "summary text"},
		EligibilityModule: &EligibilityModule{EligibilityCriteria: "criteria text"},
	}})

	if trial.Description != "SUMMARY TEXT" {
		t.Errorf("Description = %q, サニタイザが適用されていない", trial.Description)
	}
	if trial.EligibilityCriteria != "CRITERIA TEXT" {
		t.Errorf("EligibilityCriteria = %q, サニタイザが適用されていない", trial.EligibilityCriteria)
	}
	if sanitizer.calls != 2 {
		t.Errorf("サニタイザ呼び出し回数 = %d, want 2", sanitizer.calls)
	}
}

func TestNormalizeEligibility_CollapsesWhitespace(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "連続空白を1つに圧縮する",
			input: "Inclusion:   age  18+",
			want:  "Inclusion: age 18+",
		},
		{
			name:  "改行とタブも圧縮する",
			input: "Inclusion:\n\n\tage 18+\r\n  ECOG 0-1",
			want:  "Inclusion: age 18+ ECOG 0-1",
		},
		{
			name:  "前後の空白をトリムする",
			input: "  criteria  ",
			want:  "criteria",
		},
		{
			name:  "空文字列はそのまま",
			input: "",
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := normalizeEligibility(tt.input); got != tt.want {
				t.Errorf("normalizeEligibility(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestNormalizeEligibility_TruncatesAfterCollapse(t *testing.T) {
	// 切り詰めは空白圧縮の後に行われるため、
	// 空白まみれの600文字が圧縮後500文字以下なら切り詰められない
	input := strings.Repeat("ab   ", 120) // 600文字、圧縮後は359文字
	got := normalizeEligibility(input)
	if len(got) > maxEligibilityLength {
		t.Errorf("長さ = %d, want <= %d", len(got), maxEligibilityLength)
	}
	if strings.Contains(got, "  ") {
		t.Error("圧縮後の出力に連続空白が残っている")
	}

	// 圧縮後も500文字を超える場合は切り詰められる
	long := strings.Repeat("a", 600)
	got = normalizeEligibility(long)
	if len(got) != maxEligibilityLength {
		t.Errorf("長さ = %d, want %d", len(got), maxEligibilityLength)
	}
}

func TestNormalizeEligibility_TruncatesOnRuneBoundary(t *testing.T) {
	// 3バイト文字の列では500バイト目が文字の途中に落ちる。
	// ルーン境界まで戻して切り詰め、不正なUTF-8を出力しない。
	input := strings.Repeat("適", 200) // 600バイト
	got := normalizeEligibility(input)

	if !utf8.ValidString(got) {
		t.Error("切り詰め後の出力が不正なUTF-8になっている")
	}
	if len(got) > maxEligibilityLength {
		t.Errorf("長さ = %d, want <= %d", len(got), maxEligibilityLength)
	}
	if len(got) != 498 {
		t.Errorf("長さ = %d, want 498（166文字 x 3バイト）", len(got))
	}
}

func TestNormalizeLocations_FlatShape(t *testing.T) {
	entries := []json.RawMessage{
		json.RawMessage(`{"facility":"Mayo Clinic","city":"Rochester","state":"MN","zip":"55905","country":"United States"}`),
	}

	locations := normalizeLocations(entries)
	if len(locations) != 1 {
		t.Fatalf("件数 = %d, want 1", len(locations))
	}
	if locations[0].Facility != "Mayo Clinic" || locations[0].City != "Rochester" || locations[0].State != "MN" {
		t.Errorf("ロケーションのデコード結果が不正: %+v", locations[0])
	}
}

func TestNormalizeLocations_WrappedShape(t *testing.T) {
	entries := []json.RawMessage{
		json.RawMessage(`{"location":{"facility":"MD Anderson","city":"Houston","state":"TX"}}`),
	}

	locations := normalizeLocations(entries)
	if len(locations) != 1 {
		t.Fatalf("件数 = %d, want 1", len(locations))
	}
	if locations[0].Facility != "MD Anderson" {
		t.Errorf("ラップ形式のデコード結果が不正: %+v", locations[0])
	}
}

func TestNormalizeLocations_MixedShapes(t *testing.T) {
	// フラット形式とラップ形式が同一リスト内に混在しても両方デコードされること
	entries := []json.RawMessage{
		json.RawMessage(`{"facility":"Site A","city":"Chicago","state":"IL"}`),
		json.RawMessage(`{"location":{"facility":"Site B","city":"Boston","state":"MA"}}`),
	}

	locations := normalizeLocations(entries)
	if len(locations) != 2 {
		t.Fatalf("件数 = %d, want 2", len(locations))
	}
	if locations[0].Facility != "Site A" || locations[1].Facility != "Site B" {
		t.Errorf("混在デコード結果が不正: %+v", locations)
	}
}

func TestNormalizeLocations_DropsEmptyEntries(t *testing.T) {
	entries := []json.RawMessage{
		// 施設名・市・州がすべて空のエントリは除外（zipとcountryのみでは不十分）
		json.RawMessage(`{"zip":"60601","country":"United States"}`),
		// 市だけあれば残す
		json.RawMessage(`{"city":"Chicago"}`),
		// デコード不能なエントリも除外
		json.RawMessage(`"not an object"`),
	}

	locations := normalizeLocations(entries)
	if len(locations) != 1 {
		t.Fatalf("件数 = %d, want 1: %+v", len(locations), locations)
	}
	if locations[0].City != "Chicago" {
		t.Errorf("残ったロケーションが不正: %+v", locations[0])
	}
}

func TestNormalizeLocations_EmptyInput(t *testing.T) {
	locations := normalizeLocations(nil)
	if locations == nil {
		t.Fatal("nil入力で非nilの空スライスを返すべき")
	}
	if len(locations) != 0 {
		t.Errorf("件数 = %d, want 0", len(locations))
	}
}
