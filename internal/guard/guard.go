// Package guard はルートごとの認可判定（ガードチェーン）を提供する。
//
// 各ガードはセッション状態に対する純粋な述語であり、Chainは定義順に評価して
// 最初にPass以外を返したガードの判定を採用する。
// 保護ルートの順序は Authentication → AccountStatus → UserType で固定する。
// 権限ガードはルートではなく個々のメニュー項目・操作に対して独立に適用する。
package guard

import (
	"slices"

	"github.com/hitoshi/servease-console/internal/model"
	"github.com/hitoshi/servease-console/internal/session"
)

// Outcome はガード評価の結果種別。
type Outcome string

const (
	// OutcomePass は次のガード（または画面）へ進むことを表す。
	OutcomePass Outcome = "pass"
	// OutcomeLoading はセッション復元中のため判定を保留することを表す。
	OutcomeLoading Outcome = "loading"
	// OutcomeRedirectLogin はログイン画面へのリダイレクトを表す。
	OutcomeRedirectLogin Outcome = "redirect_login"
	// OutcomeBlocked はアカウント停止通知の表示を表す。リダイレクトはしない。
	OutcomeBlocked Outcome = "blocked"
	// OutcomeRedirectAccessDenied はアクセス拒否画面へのリダイレクトを表す。
	OutcomeRedirectAccessDenied Outcome = "redirect_access_denied"
)

// Decision はガードの判定結果。
// OutcomeBlockedの場合のみStatusにブロック理由のアカウント状態が入る。
type Decision struct {
	Outcome Outcome
	Status  model.AccountStatus
}

// Passed は判定が通過かを返す。
func (d Decision) Passed() bool {
	return d.Outcome == OutcomePass
}

var pass = Decision{Outcome: OutcomePass}

// Guard はセッション状態に対する認可述語。
type Guard interface {
	// Name はメトリクスとログで使うガード名を返す。
	Name() string
	// Check は状態を評価して判定を返す。
	Check(state session.State) Decision
}

// GuardFunc は関数をGuardとして扱うアダプタ。
type GuardFunc struct {
	GuardName string
	Fn        func(state session.State) Decision
}

// Name はガード名を返す。
func (g GuardFunc) Name() string { return g.GuardName }

// Check は関数を呼び出す。
func (g GuardFunc) Check(state session.State) Decision { return g.Fn(state) }

// Authentication はログイン済みかを判定するガードを返す。
// 復元中はリダイレクトせずローディング表示とし、復元前のセッションを誤ってログアウト扱いしない。
func Authentication() Guard {
	return GuardFunc{
		GuardName: "authentication",
		Fn: func(state session.State) Decision {
			if state.IsLoading {
				return Decision{Outcome: OutcomeLoading}
			}
			if !state.IsAuthenticated() {
				return Decision{Outcome: OutcomeRedirectLogin}
			}
			return pass
		},
	}
}

// DefaultBlockedStatuses はAccountStatusガードのデフォルトのブロック対象。
// pending-kycはデフォルトではブロックしない。
func DefaultBlockedStatuses() []model.AccountStatus {
	return []model.AccountStatus{model.AccountStatusSuspended, model.AccountStatusBlacklisted}
}

// AccountStatus はアカウント状態がブロック対象でないかを判定するガードを返す。
// blockedを省略した場合はDefaultBlockedStatusesを使う。
func AccountStatus(blocked ...model.AccountStatus) Guard {
	if len(blocked) == 0 {
		blocked = DefaultBlockedStatuses()
	}
	blocked = slices.Clone(blocked)

	return GuardFunc{
		GuardName: "account_status",
		Fn: func(state session.State) Decision {
			if !state.IsAuthenticated() {
				return Decision{Outcome: OutcomeRedirectLogin}
			}
			status := state.Identity.AccountStatus
			if slices.Contains(blocked, status) {
				return Decision{Outcome: OutcomeBlocked, Status: status}
			}
			return pass
		},
	}
}

// UserType は利用者種別が許可リストに含まれるかを判定するガードを返す。
func UserType(allowed ...model.UserType) Guard {
	allowed = slices.Clone(allowed)

	return GuardFunc{
		GuardName: "user_type",
		Fn: func(state session.State) Decision {
			if !state.IsAuthenticated() {
				return Decision{Outcome: OutcomeRedirectLogin}
			}
			if !slices.Contains(allowed, state.Identity.UserType) {
				return Decision{Outcome: OutcomeRedirectAccessDenied}
			}
			return pass
		},
	}
}

// Chain は順序付きのガード列。
type Chain []Guard

// Evaluate はガードを順に評価し、最初に通過しなかったガードの判定と名前を返す。
// 全て通過した場合はPassと空文字列を返す。
func (c Chain) Evaluate(state session.State) (Decision, string) {
	for _, g := range c {
		if d := g.Check(state); !d.Passed() {
			return d, g.Name()
		}
	}
	return pass, ""
}

// Names はガード名を評価順に返す。
func (c Chain) Names() []string {
	names := make([]string, len(c))
	for i, g := range c {
		names[i] = g.Name()
	}
	return names
}

// ForUserType は指定した利用者種別のサブツリー用の標準チェーンを返す。
// 順序は Authentication → AccountStatus → UserType。
func ForUserType(userType model.UserType, blocked ...model.AccountStatus) Chain {
	return Chain{
		Authentication(),
		AccountStatus(blocked...),
		UserType(userType),
	}
}

// Allowed は権限ガード。状態が権限文字列を保持しているかを返す。
// 未認証の場合は常にfalse。
func Allowed(state session.State, permission string) bool {
	return state.HasPermission(permission)
}
