// Package model はドメインモデルを定義する。
package model

import (
	"slices"
	"time"
)

// UserType はコンソールの利用者種別を表す。
// 到達可能なルートのサブツリーを決定する。
type UserType string

const (
	// UserTypeAdmin はプラットフォーム管理者。
	UserTypeAdmin UserType = "admin"
	// UserTypeServiceProvider はサービス提供者。
	UserTypeServiceProvider UserType = "service-provider"
)

// AccountStatus はアカウントの利用可否状態を表す。
// ログイン有無とは独立に評価される。
type AccountStatus string

const (
	// AccountStatusActive は利用可能な状態。
	AccountStatusActive AccountStatus = "active"
	// AccountStatusSuspended は一時停止中の状態。
	AccountStatusSuspended AccountStatus = "suspended"
	// AccountStatusBlacklisted はブラックリスト登録済みの状態。
	AccountStatusBlacklisted AccountStatus = "blacklisted"
	// AccountStatusPendingKYC は本人確認待ちの状態。
	AccountStatusPendingKYC AccountStatus = "pending-kyc"
)

// AccountType はサービス提供者のアカウント区分を表す。管理者の場合は空。
type AccountType string

const (
	// AccountTypeIndependent は個人事業のサービス提供者。
	AccountTypeIndependent AccountType = "service-provider-independent"
	// AccountTypeBusiness は法人のサービス提供者。
	AccountTypeBusiness AccountType = "service-provider-business"
)

// Identity は認証済みユーザーのプロフィールのスナップショット。
// Roleは表示用であり、アクセス制御にはUserTypeとPermissionsを使う。
type Identity struct {
	ID            string        `json:"id"`
	Email         string        `json:"email"`
	UserType      UserType      `json:"userType"`
	Role          string        `json:"role"`
	AccountType   AccountType   `json:"accountType,omitempty"`
	AccountStatus AccountStatus `json:"status"`
	Permissions   []string      `json:"permissions"`
	TenantID      string        `json:"tenantId,omitempty"`
	CityID        string        `json:"cityId,omitempty"`
}

// HasPermission は権限文字列を保持しているかを返す。
func (i *Identity) HasPermission(permission string) bool {
	if i == nil {
		return false
	}
	return slices.Contains(i.Permissions, permission)
}

// Clone はIdentityのディープコピーを返す。
// ストアの外に渡したコピーが内部表現を書き換えられないようにする。
func (i *Identity) Clone() *Identity {
	if i == nil {
		return nil
	}
	c := *i
	c.Permissions = slices.Clone(i.Permissions)
	return &c
}

// Snapshot は永続化されるセッションの内容。
// 起動時のローディングフラグなど一時的な状態は含まない。
type Snapshot struct {
	Identity     *Identity `json:"user"`
	AccessToken  string    `json:"token,omitempty"`
	RefreshToken string    `json:"refreshToken,omitempty"`
}

// IsEmpty はスナップショットが未ログイン状態と等価かを返す。
func (s *Snapshot) IsEmpty() bool {
	return s == nil || (s.Identity == nil && s.AccessToken == "" && s.RefreshToken == "")
}

// StoredSnapshot はリポジトリに保存されたスナップショットと有効期限。
type StoredSnapshot struct {
	Key       string
	Snapshot  Snapshot
	ExpiresAt time.Time
	UpdatedAt time.Time
}
