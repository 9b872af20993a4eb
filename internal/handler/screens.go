package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/servease-console/internal/backend"
	"github.com/hitoshi/servease-console/internal/guard"
	"github.com/hitoshi/servease-console/internal/model"
	"github.com/hitoshi/servease-console/internal/route"
	"github.com/hitoshi/servease-console/internal/security"
	"github.com/hitoshi/servease-console/internal/view"
)

// Backend は全画面が必要とするバックエンド操作。*backend.Clientが実装する。
type Backend interface {
	AuthBackend
	UserBackend
	BusinessBackend
	SupportBackend
	ContentBackend
	SystemBackend
	ProviderBackend
}

// sessionEndedNotice はセッション終了でログイン画面へ戻したときの通知。
const sessionEndedNotice = "Your session has expired. Please sign in again."

// ScreenDeps は画面ハンドラー群の依存関係。
type ScreenDeps struct {
	Backend   Backend
	Renderer  *view.Renderer
	Responder *view.Responder
	Sanitizer security.HTMLSanitizer
	MediaURL  security.MediaURLChecker
	Logger    *slog.Logger
	// AuthLimit は認証フォームのPOSTに適用するレート制限。nilなら制限しない。
	AuthLimit func(http.Handler) http.Handler
	// Sessions はログイン時にブラウザセッションキーを発行し直す。nilなら発行し直さない。
	Sessions     SessionRotator
	CookieSecure bool
}

// SessionRotator はブラウザセッションキーを発行し直し、新しいStoreを持つリクエストを返す。
// *middleware.SessionRotatorが実装する。
type SessionRotator interface {
	Rotate(w http.ResponseWriter, r *http.Request) (*http.Request, error)
}

// base は各画面ハンドラーが共有する描画とエラー処理。
type base struct {
	renderer  *view.Renderer
	responder guard.Responder
	logger    *slog.Logger
}

func newBase(deps ScreenDeps) base {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return base{renderer: deps.Renderer, responder: deps.Responder, logger: logger}
}

// require は操作用エンドポイントを権限で保護するミドルウェアを返す。
func (b *base) require(permission string) func(http.Handler) http.Handler {
	return guard.RequirePermission(permission, b.responder)
}

// loadFailed は一覧取得の失敗を通知に変換する。
// セッションが終了していればログイン画面へリダイレクトしてtrueを返す。
func (b *base) loadFailed(w http.ResponseWriter, r *http.Request, err error, page *view.Page) bool {
	if redirectIfSessionEnded(w, r, err) {
		return true
	}
	b.logger.Warn("failed to load screen data",
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	page.Notices = append(page.Notices, view.Failure(backend.Notice(err)))
	return false
}

// actionFailed は操作の失敗を通知として一覧へリダイレクトする。
func (b *base) actionFailed(w http.ResponseWriter, r *http.Request, back string, err error) {
	if redirectIfSessionEnded(w, r, err) {
		return
	}
	b.logger.Warn("backend action failed",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.String("error", err.Error()),
	)
	redirectWith(w, r, back, view.Failure(backend.Notice(err)))
}

// redirectIfSessionEnded はバックエンドの401でセッションが終了していればログイン画面へ戻す。
func redirectIfSessionEnded(w http.ResponseWriter, r *http.Request, err error) bool {
	if !backend.IsSessionEnded(err) {
		return false
	}
	redirectWith(w, r, guard.LoginPath, view.Info(sessionEndedNotice))
	return true
}

// redirectWith は通知を保存してリダイレクトする（POST/redirect/GET）。
func redirectWith(w http.ResponseWriter, r *http.Request, path string, notices ...view.Notice) {
	view.SetFlash(w, notices...)
	http.Redirect(w, r, path, http.StatusSeeOther)
}

// formValues はフォームの指定キーをトリムして取り出す。
func formValues(r *http.Request, keys ...string) map[string]string {
	out := make(map[string]string, len(keys))
	for _, k := range keys {
		out[k] = strings.TrimSpace(r.FormValue(k))
	}
	return out
}

// HomePathFor は利用者種別ごとのダッシュボードのパスを返す。
func HomePathFor(identity *model.Identity) string {
	if identity != nil && identity.UserType == model.UserTypeServiceProvider {
		return "/provider/dashboard"
	}
	return route.HomePath
}

// Screens は全画面の生成関数をまとめる。
type Screens struct {
	auth     *AuthHandler
	users    *UserHandler
	business *BusinessHandler
	support  *SupportHandler
	content  *ContentHandler
	system   *SystemHandler
	provider *ProviderHandler
}

// NewScreens は画面ハンドラー群を生成する。テンプレートはまだ解析しない。
func NewScreens(deps ScreenDeps) *Screens {
	if deps.Sanitizer == nil {
		deps.Sanitizer = security.NewHTMLSanitizer()
	}
	return &Screens{
		auth:     NewAuthHandler(deps),
		users:    NewUserHandler(deps),
		business: NewBusinessHandler(deps),
		support:  NewSupportHandler(deps),
		content:  NewContentHandler(deps),
		system:   NewSystemHandler(deps),
		provider: NewProviderHandler(deps),
	}
}

// Factories はルートテーブルに登録する画面生成関数を返す。
func (s *Screens) Factories() map[route.ScreenKey]route.Factory {
	return map[route.ScreenKey]route.Factory{
		route.ScreenLogin:          s.auth.LoginScreen,
		route.ScreenVerifyOTP:      s.auth.VerifyOTPScreen,
		route.ScreenRegister:       s.auth.RegisterScreen,
		route.ScreenForgotPassword: s.auth.ForgotPasswordScreen,
		route.ScreenLogout:         s.auth.LogoutScreen,
		route.ScreenAccessDenied:   s.auth.AccessDeniedScreen,

		route.ScreenAdminDashboard:     s.system.DashboardScreen,
		route.ScreenAdminUsers:         s.users.UsersScreen,
		route.ScreenAdminRoles:         s.users.RolesScreen,
		route.ScreenAdminKYC:           s.users.KYCScreen,
		route.ScreenAdminTenants:       s.business.TenantsScreen,
		route.ScreenAdminCities:        s.business.CitiesScreen,
		route.ScreenAdminBookings:      s.business.BookingsScreen,
		route.ScreenAdminTransactions:  s.business.TransactionsScreen,
		route.ScreenAdminPayments:      s.business.PaymentsScreen,
		route.ScreenAdminSupport:       s.support.TicketsScreen,
		route.ScreenAdminAnnouncements: s.content.AnnouncementsScreen,
		route.ScreenAdminCMS:           s.content.PagesScreen,
		route.ScreenAdminBlogs:         s.content.PostsScreen,
		route.ScreenAdminSecurity:      s.system.SecurityScreen,
		route.ScreenAdminSettings:      s.system.SettingsScreen,

		route.ScreenProviderDashboard: s.provider.DashboardScreen,
		route.ScreenProviderServices:  s.provider.ServicesScreen,
		route.ScreenProviderBookings:  s.provider.BookingsScreen,
		route.ScreenProviderProfile:   s.provider.ProfileScreen,
		route.ScreenProviderKYC:       s.provider.KYCScreen,
	}
}
