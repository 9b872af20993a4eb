// Package route は管理コンソールのルートテーブルを構築する。
//
// テーブルは起動時に静的な定義から一度だけ構築され、以降は変更されない。
// 各ルートは遅延ロードされる画面、レイアウト種別、ガードチェーンを持つ。
package route

import (
	"fmt"
	"slices"
	"strings"

	"github.com/hitoshi/servease-console/internal/guard"
	"github.com/hitoshi/servease-console/internal/model"
)

// LayoutKind は画面を包むレイアウトの種別。
type LayoutKind string

const (
	LayoutAuth     LayoutKind = "auth"
	LayoutAdmin    LayoutKind = "admin"
	LayoutProvider LayoutKind = "provider"
)

// ScreenKey は画面の識別子。Factoryの登録キーとして使う。
type ScreenKey string

const (
	ScreenLogin          ScreenKey = "auth.login"
	ScreenVerifyOTP      ScreenKey = "auth.verify-otp"
	ScreenRegister       ScreenKey = "auth.register"
	ScreenForgotPassword ScreenKey = "auth.forgot-password"
	ScreenLogout         ScreenKey = "auth.logout"

	ScreenAdminDashboard     ScreenKey = "admin.dashboard"
	ScreenAdminUsers         ScreenKey = "admin.users"
	ScreenAdminRoles         ScreenKey = "admin.roles"
	ScreenAdminKYC           ScreenKey = "admin.kyc"
	ScreenAdminTenants       ScreenKey = "admin.tenants"
	ScreenAdminCities        ScreenKey = "admin.cities"
	ScreenAdminBookings      ScreenKey = "admin.bookings"
	ScreenAdminTransactions  ScreenKey = "admin.transactions"
	ScreenAdminPayments      ScreenKey = "admin.payments"
	ScreenAdminSupport       ScreenKey = "admin.customer-support"
	ScreenAdminAnnouncements ScreenKey = "admin.announcements"
	ScreenAdminCMS           ScreenKey = "admin.cms"
	ScreenAdminBlogs         ScreenKey = "admin.blogs"
	ScreenAdminSecurity      ScreenKey = "admin.security"
	ScreenAdminSettings      ScreenKey = "admin.settings"

	ScreenProviderDashboard ScreenKey = "provider.dashboard"
	ScreenProviderServices  ScreenKey = "provider.services"
	ScreenProviderBookings  ScreenKey = "provider.bookings"
	ScreenProviderProfile   ScreenKey = "provider.profile"
	ScreenProviderKYC       ScreenKey = "provider.kyc"

	ScreenAccessDenied ScreenKey = "access-denied"
)

const (
	// HomePath はルートパスのリダイレクト先。
	HomePath = "/admin/dashboard"
	// FallbackPath は未定義パスのリダイレクト先。
	FallbackPath = guard.LoginPath
)

// Descriptor はルート1件の定義。
type Descriptor struct {
	Path   string
	Layout LayoutKind
	Key    ScreenKey
	Screen *Lazy
	// Guardsが空のルートは認証不要。
	Guards guard.Chain
	// AuthEntryPointは未認証サブツリーの画面であることを表す。
	// この画面上で受けた401はセッションを終了させず画面側で処理する。
	AuthEntryPoint bool
}

// definition はFactoryを割り当てる前の静的なルート定義。
type definition struct {
	path      string
	layout    LayoutKind
	key       ScreenKey
	userType  model.UserType
	authEntry bool
}

var definitions = []definition{
	{path: "/auth/login", layout: LayoutAuth, key: ScreenLogin, authEntry: true},
	{path: "/auth/verify-otp", layout: LayoutAuth, key: ScreenVerifyOTP, authEntry: true},
	{path: "/auth/register", layout: LayoutAuth, key: ScreenRegister, authEntry: true},
	{path: "/auth/forgot-password", layout: LayoutAuth, key: ScreenForgotPassword, authEntry: true},
	{path: "/auth/logout", layout: LayoutAuth, key: ScreenLogout, authEntry: true},

	{path: "/admin/dashboard", layout: LayoutAdmin, key: ScreenAdminDashboard, userType: model.UserTypeAdmin},
	{path: "/admin/users", layout: LayoutAdmin, key: ScreenAdminUsers, userType: model.UserTypeAdmin},
	{path: "/admin/roles", layout: LayoutAdmin, key: ScreenAdminRoles, userType: model.UserTypeAdmin},
	{path: "/admin/kyc", layout: LayoutAdmin, key: ScreenAdminKYC, userType: model.UserTypeAdmin},
	{path: "/admin/tenants", layout: LayoutAdmin, key: ScreenAdminTenants, userType: model.UserTypeAdmin},
	{path: "/admin/cities", layout: LayoutAdmin, key: ScreenAdminCities, userType: model.UserTypeAdmin},
	{path: "/admin/bookings", layout: LayoutAdmin, key: ScreenAdminBookings, userType: model.UserTypeAdmin},
	{path: "/admin/transactions", layout: LayoutAdmin, key: ScreenAdminTransactions, userType: model.UserTypeAdmin},
	{path: "/admin/payments", layout: LayoutAdmin, key: ScreenAdminPayments, userType: model.UserTypeAdmin},
	{path: "/admin/customer-support", layout: LayoutAdmin, key: ScreenAdminSupport, userType: model.UserTypeAdmin},
	{path: "/admin/announcements", layout: LayoutAdmin, key: ScreenAdminAnnouncements, userType: model.UserTypeAdmin},
	{path: "/admin/cms", layout: LayoutAdmin, key: ScreenAdminCMS, userType: model.UserTypeAdmin},
	{path: "/admin/blogs", layout: LayoutAdmin, key: ScreenAdminBlogs, userType: model.UserTypeAdmin},
	{path: "/admin/security", layout: LayoutAdmin, key: ScreenAdminSecurity, userType: model.UserTypeAdmin},
	{path: "/admin/settings", layout: LayoutAdmin, key: ScreenAdminSettings, userType: model.UserTypeAdmin},

	{path: "/provider/dashboard", layout: LayoutProvider, key: ScreenProviderDashboard, userType: model.UserTypeServiceProvider},
	{path: "/provider/services", layout: LayoutProvider, key: ScreenProviderServices, userType: model.UserTypeServiceProvider},
	{path: "/provider/bookings", layout: LayoutProvider, key: ScreenProviderBookings, userType: model.UserTypeServiceProvider},
	{path: "/provider/profile", layout: LayoutProvider, key: ScreenProviderProfile, userType: model.UserTypeServiceProvider},
	{path: "/provider/kyc", layout: LayoutProvider, key: ScreenProviderKYC, userType: model.UserTypeServiceProvider},

	{path: guard.AccessDeniedPath, layout: LayoutAuth, key: ScreenAccessDenied},
}

// Config はテーブル構築の設定。
type Config struct {
	// Factories は画面キーごとの生成関数。定義された全画面分が必要。
	Factories map[ScreenKey]Factory
	// BlockedStatuses はアカウント状態ガードのブロック対象。空ならデフォルト。
	BlockedStatuses []model.AccountStatus
}

// Table は構築済みのルートテーブル。構築後は変更されない。
type Table struct {
	descriptors []Descriptor
}

// Build は静的定義と画面生成関数からテーブルを構築する。
// 生成関数が未登録の画面があればエラーを返す。
func Build(cfg Config) (*Table, error) {
	descriptors := make([]Descriptor, 0, len(definitions))
	for _, def := range definitions {
		factory, ok := cfg.Factories[def.key]
		if !ok || factory == nil {
			return nil, fmt.Errorf("no screen factory registered for %s (%s)", def.key, def.path)
		}

		d := Descriptor{
			Path:           def.path,
			Layout:         def.layout,
			Key:            def.key,
			Screen:         NewLazy(factory),
			AuthEntryPoint: def.authEntry,
		}
		if def.userType != "" {
			d.Guards = guard.ForUserType(def.userType, cfg.BlockedStatuses...)
		}
		descriptors = append(descriptors, d)
	}
	return &Table{descriptors: descriptors}, nil
}

// Descriptors はルート定義のコピーを返す。
func (t *Table) Descriptors() []Descriptor {
	return slices.Clone(t.descriptors)
}

// Lookup はパスに完全一致するルート定義を返す。
func (t *Table) Lookup(path string) (Descriptor, bool) {
	for _, d := range t.descriptors {
		if d.Path == path {
			return d, true
		}
	}
	return Descriptor{}, false
}

// ScreenKeys は定義済みの全画面キーを定義順に返す。
func ScreenKeys() []ScreenKey {
	keys := make([]ScreenKey, len(definitions))
	for i, def := range definitions {
		keys[i] = def.key
	}
	return keys
}

// AuthEntryPaths は未認証サブツリーのパス一覧を返す。
func AuthEntryPaths() []string {
	var paths []string
	for _, def := range definitions {
		if def.authEntry {
			paths = append(paths, def.path)
		}
	}
	return paths
}

// IsAuthEntryPath はパスが未認証サブツリーの画面（またはその配下）かを返す。
func IsAuthEntryPath(path string) bool {
	for _, p := range AuthEntryPaths() {
		if path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}
