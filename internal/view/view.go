// Package view は管理コンソールの画面をhtml/templateで描画する。
//
// レイアウトは起動時に一度だけ解析し、各画面のテンプレートは遅延ロードの
// 生成関数の中でScreenとして解析する。描画時にはセッションの状態から
// 利用者情報、権限で絞り込んだメニュー、CSRFトークン、通知を埋める。
package view

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/hitoshi/servease-console/internal/middleware"
	"github.com/hitoshi/servease-console/internal/model"
	"github.com/hitoshi/servease-console/internal/route"
	"github.com/hitoshi/servease-console/internal/security"
	"github.com/hitoshi/servease-console/internal/session"
)

//go:embed templates
var templateFS embed.FS

const layoutsFile = "templates/layouts.html"

// Page は1回の描画に渡すページデータ。
// 画面側はTitle、Data、Errorsなどを設定し、残りはRenderが埋める。
type Page struct {
	Title       string
	Breadcrumb  string
	Layout      route.LayoutKind
	Identity    *model.Identity
	Menu        []model.MenuSection
	CurrentPath string
	CSRFField   string
	CSRFToken   string
	Theme       string
	Notices     []Notice
	// Errors はフォーム項目ごとの検証エラー。
	Errors map[string]string
	// Form は再表示するフォームの入力値。
	Form map[string]string
	Data any
}

// Renderer は解析済みのレイアウトを保持し、画面を生成する。
type Renderer struct {
	base      *template.Template
	logger    *slog.Logger
	sanitizer security.HTMLSanitizer
}

// NewRenderer はレイアウトを解析してRendererを生成する。
func NewRenderer(logger *slog.Logger, sanitizer security.HTMLSanitizer) (*Renderer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if sanitizer == nil {
		sanitizer = security.NewHTMLSanitizer()
	}
	rd := &Renderer{logger: logger, sanitizer: sanitizer}

	base, err := template.New("base").Funcs(rd.funcMap()).ParseFS(templateFS, layoutsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to parse layouts: %w", err)
	}
	rd.base = base
	return rd, nil
}

// Screen はレイアウトに画面テンプレートを追加したScreenを返す。
// nameはtemplates配下のファイル名から拡張子を除いたもの。
func (rd *Renderer) Screen(name string) (*Screen, error) {
	tmpl, err := rd.base.Clone()
	if err != nil {
		return nil, fmt.Errorf("failed to clone layouts for %s: %w", name, err)
	}
	if _, err := tmpl.ParseFS(templateFS, "templates/"+name+".html"); err != nil {
		return nil, fmt.Errorf("failed to parse screen %s: %w", name, err)
	}
	if tmpl.Lookup("content") == nil {
		return nil, fmt.Errorf("screen %s does not define content", name)
	}
	return &Screen{name: name, tmpl: tmpl, renderer: rd}, nil
}

// Screen は解析済みの画面テンプレート。並行して描画してよい。
type Screen struct {
	name     string
	tmpl     *template.Template
	renderer *Renderer
}

// Name は画面テンプレート名を返す。
func (s *Screen) Name() string {
	return s.name
}

// Render はページを描画する。
// 実行前にテンプレートを複製し、canをリクエストのセッション状態に束縛する。
func (s *Screen) Render(w http.ResponseWriter, r *http.Request, status int, page Page) {
	state := session.StateFromContext(r.Context())
	s.renderer.fill(w, r, state, &page)

	tmpl, err := s.tmpl.Clone()
	if err != nil {
		s.renderer.fail(w, s.name, err)
		return
	}
	tmpl.Funcs(template.FuncMap{"can": state.HasPermission})

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "layout-"+string(page.Layout), page); err != nil {
		s.renderer.fail(w, s.name, err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	buf.WriteTo(w)
}

// fill はセッション状態とリクエストからページの共通項目を埋める。
func (rd *Renderer) fill(w http.ResponseWriter, r *http.Request, state session.State, page *Page) {
	if page.Layout == "" {
		page.Layout = route.LayoutAuth
		if d, ok := route.DescriptorFromContext(r.Context()); ok {
			page.Layout = d.Layout
		}
	}

	page.Identity = state.Identity
	page.CurrentPath = r.URL.Path
	page.CSRFField = middleware.CSRFFormField
	page.CSRFToken = middleware.CSRFTokenFromContext(r.Context())
	page.Theme = ThemeFromRequest(r)
	page.Notices = append(TakeFlash(w, r), page.Notices...)

	var menu []model.MenuSection
	switch page.Layout {
	case route.LayoutAdmin:
		menu = model.AdminMenu()
	case route.LayoutProvider:
		menu = model.ProviderMenu()
	}
	if menu == nil {
		return
	}

	if item, ok := model.FindMenuItem(menu, page.CurrentPath); ok {
		if page.Title == "" {
			page.Title = item.Title
		}
		if page.Breadcrumb == "" {
			page.Breadcrumb = item.Breadcrumb
		}
	}
	page.Menu = model.FilterMenu(menu, state.HasPermission)
}

func (rd *Renderer) fail(w http.ResponseWriter, name string, err error) {
	rd.logger.Error("failed to render screen",
		slog.String("screen", name),
		slog.String("error", err.Error()),
	)
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}
