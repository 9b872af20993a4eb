package handler

import (
	"context"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/servease-console/internal/model"
	"github.com/hitoshi/servease-console/internal/view"
)

// SystemBackend はダッシュボードとセキュリティ画面が必要とするバックエンド操作。
type SystemBackend interface {
	DashboardMetrics(ctx context.Context) (*model.DashboardMetrics, error)
	DashboardAlerts(ctx context.Context) ([]model.DashboardAlert, error)

	ListBlacklistedIPs(ctx context.Context) ([]model.BlacklistedIP, error)
	AddBlacklistedIP(ctx context.Context, ip string) error
	RemoveBlacklistedIP(ctx context.Context, ip string) error
	BlockEmail(ctx context.Context, email string) error
}

const securityPath = "/admin/security"

// SystemHandler は管理者ダッシュボード、セキュリティ、設定の画面ハンドラー。
type SystemHandler struct {
	base
	backend      SystemBackend
	cookieSecure bool
}

// NewSystemHandler はSystemHandlerを生成する。
func NewSystemHandler(deps ScreenDeps) *SystemHandler {
	return &SystemHandler{base: newBase(deps), backend: deps.Backend, cookieSecure: deps.CookieSecure}
}

type dashboardData struct {
	Metrics *model.DashboardMetrics
	Alerts  []model.DashboardAlert
}

// DashboardScreen は管理者ダッシュボードを生成する。
// 集計と警告は個別に取得し、片方の失敗はもう片方の表示を妨げない。
//
//	GET /admin/dashboard
func (h *SystemHandler) DashboardScreen() (http.Handler, error) {
	screen, err := h.renderer.Screen("admin-dashboard")
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		page := view.Page{}
		metrics, err := h.backend.DashboardMetrics(r.Context())
		if err != nil && h.loadFailed(w, r, err, &page) {
			return
		}
		alerts, err := h.backend.DashboardAlerts(r.Context())
		if err != nil && h.loadFailed(w, r, err, &page) {
			return
		}
		page.Data = dashboardData{Metrics: metrics, Alerts: alerts}
		screen.Render(w, r, http.StatusOK, page)
	})
	return r, nil
}

type securityData struct {
	BlacklistedIPs []model.BlacklistedIP
}

// SecurityScreen はIPとメールアドレスのブロック画面を生成する。
// 一覧は管理者なら誰でも閲覧でき、変更にはSYSTEM_SECURITYが必要。
//
//	GET  /admin/security
//	POST /admin/security/blacklist             (SYSTEM_SECURITY)
//	POST /admin/security/blacklist/{ip}/delete (SYSTEM_SECURITY)
//	POST /admin/security/block-email           (SYSTEM_SECURITY)
func (h *SystemHandler) SecurityScreen() (http.Handler, error) {
	screen, err := h.renderer.Screen("admin-security")
	if err != nil {
		return nil, err
	}

	render := func(w http.ResponseWriter, r *http.Request, status int, page view.Page) {
		ips, err := h.backend.ListBlacklistedIPs(r.Context())
		if err != nil && h.loadFailed(w, r, err, &page) {
			return
		}
		page.Data = securityData{BlacklistedIPs: ips}
		screen.Render(w, r, status, page)
	}

	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		render(w, r, http.StatusOK, view.Page{})
	})

	r.Group(func(r chi.Router) {
		r.Use(h.require(model.PermSystemSecurity))
		r.Post("/blacklist", func(w http.ResponseWriter, r *http.Request) {
			form := formValues(r, "ip")
			ip := net.ParseIP(form["ip"])
			if ip == nil {
				render(w, r, http.StatusUnprocessableEntity, view.Page{
					Form:   form,
					Errors: fieldErrors{"ip": "Enter a valid IPv4 or IPv6 address"},
				})
				return
			}
			if err := h.backend.AddBlacklistedIP(r.Context(), ip.String()); err != nil {
				h.actionFailed(w, r, securityPath, err)
				return
			}
			redirectWith(w, r, securityPath, view.Success("IP address "+ip.String()+" blocked"))
		})
		r.Post("/blacklist/{ip}/delete", func(w http.ResponseWriter, r *http.Request) {
			ip := chi.URLParam(r, "ip")
			if err := h.backend.RemoveBlacklistedIP(r.Context(), ip); err != nil {
				h.actionFailed(w, r, securityPath, err)
				return
			}
			redirectWith(w, r, securityPath, view.Success("IP address "+ip+" removed from the blacklist"))
		})
		r.Post("/block-email", func(w http.ResponseWriter, r *http.Request) {
			form := formValues(r, "email")
			errs := fieldErrors{}
			validateEmail(errs, "email", form["email"])
			if !errs.ok() {
				render(w, r, http.StatusUnprocessableEntity, view.Page{Form: form, Errors: errs})
				return
			}
			if err := h.backend.BlockEmail(r.Context(), form["email"]); err != nil {
				h.actionFailed(w, r, securityPath, err)
				return
			}
			redirectWith(w, r, securityPath, view.Success("Email address blocked"))
		})
	})
	return r, nil
}

// SettingsScreen は管理者の設定画面を生成する。
//
//	GET  /admin/settings
//	POST /admin/settings/theme
func (h *SystemHandler) SettingsScreen() (http.Handler, error) {
	screen, err := h.renderer.Screen("admin-settings")
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		screen.Render(w, r, http.StatusOK, view.Page{})
	})
	r.Post("/theme", themeHandler("/admin/settings", h.cookieSecure))
	return r, nil
}

// themeHandler は表示テーマを保存して元の画面へ戻すハンドラーを返す。
func themeHandler(back string, secure bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view.SetTheme(w, r.FormValue("theme"), secure)
		redirectWith(w, r, back, view.Success("Appearance updated"))
	}
}
