// Package trials はClinicalTrials.gov v2 APIのクライアントと
// レスポンスの正規化処理を提供する。
package trials

import "encoding/json"

// RawStudy は外部APIの生の治験レコードを表す。
// v2 APIのレスポンスは全モジュール・全フィールドがオプショナルであるため、
// モジュールはポインタで保持し、欠落時はnilになる。
type RawStudy struct {
	ProtocolSection *ProtocolSection `json:"protocolSection"`
}

// ProtocolSection は治験レコードの主要モジュール群を表す。
// どのモジュールも欠落しうる。
type ProtocolSection struct {
	IdentificationModule    *IdentificationModule    `json:"identificationModule"`
	StatusModule            *StatusModule            `json:"statusModule"`
	DescriptionModule       *DescriptionModule       `json:"descriptionModule"`
	ConditionsModule        *ConditionsModule        `json:"conditionsModule"`
	EligibilityModule       *EligibilityModule       `json:"eligibilityModule"`
	ContactsLocationsModule *ContactsLocationsModule `json:"contactsLocationsModule"`
}

// IdentificationModule はNCT IDとタイトルを保持する。
type IdentificationModule struct {
	NCTID         string `json:"nctId"`
	BriefTitle    string `json:"briefTitle"`
	OfficialTitle string `json:"officialTitle"`
}

// StatusModule は治験のステータスを保持する。
// recruitmentStatusが存在する場合はoverallStatusより優先する。
type StatusModule struct {
	OverallStatus     string `json:"overallStatus"`
	RecruitmentStatus string `json:"recruitmentStatus"`
}

// DescriptionModule は治験の概要テキストを保持する。
type DescriptionModule struct {
	BriefSummary string `json:"briefSummary"`
}

// ConditionsModule は対象疾患リストを保持する。
type ConditionsModule struct {
	Conditions []string `json:"conditions"`
}

// EligibilityModule は適格基準と年齢条件を保持する。
type EligibilityModule struct {
	EligibilityCriteria string `json:"eligibilityCriteria"`
	MinimumAge          string `json:"minimumAge"`
	MaximumAge          string `json:"maximumAge"`
}

// ContactsLocationsModule は実施施設リストを保持する。
// 各エントリはフラット形式と {"location": {...}} のラップ形式が混在するため、
// RawMessageのまま保持してデコードを正規化関数に委譲する。
type ContactsLocationsModule struct {
	Locations []json.RawMessage `json:"locations"`
}

// rawLocation はロケーションエントリのフラット形式を表す。
type rawLocation struct {
	Facility string `json:"facility"`
	City     string `json:"city"`
	State    string `json:"state"`
	Zip      string `json:"zip"`
	Country  string `json:"country"`
}

// wrappedLocation はロケーションエントリのラップ形式を表す。
type wrappedLocation struct {
	Location *rawLocation `json:"location"`
}
