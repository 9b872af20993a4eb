package view

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/hitoshi/servease-console/internal/model"
	"github.com/hitoshi/servease-console/internal/route"
)

// loadingRefreshSeconds はローディング画面が再読み込みするまでの秒数。
const loadingRefreshSeconds = "1"

// Responder はガードと画面ロードの判定結果を描画する。guard.Responderを実装する。
type Responder struct {
	loading   *Screen
	blocked   *Screen
	forbidden *Screen
	failed    *Screen
}

// NewResponder はステータス画面を解析してResponderを生成する。
func NewResponder(rd *Renderer) (*Responder, error) {
	var errs []error
	screen := func(name string) *Screen {
		s, err := rd.Screen(name)
		if err != nil {
			errs = append(errs, err)
		}
		return s
	}

	p := &Responder{
		loading:   screen("loading"),
		blocked:   screen("blocked"),
		forbidden: screen("forbidden"),
		failed:    screen("error"),
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("failed to build responder: %w", err)
	}
	return p, nil
}

// Loading はセッションや画面の準備中に表示する中立な画面を描画する。
// 認証状態を確定させないため、保護された内容もリダイレクトも返さない。
func (p *Responder) Loading(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Refresh", loadingRefreshSeconds)
	p.loading.Render(w, r, http.StatusOK, Page{Layout: route.LayoutAuth, Title: "Loading"})
}

// Blocked はアカウント停止の通知画面を描画する。
func (p *Responder) Blocked(w http.ResponseWriter, r *http.Request, status model.AccountStatus) {
	p.blocked.Render(w, r, http.StatusForbidden, Page{
		Layout: route.LayoutAuth,
		Title:  "Account unavailable",
		Data:   status,
	})
}

// Forbidden は権限不足で操作を拒否した画面を描画する。
func (p *Responder) Forbidden(w http.ResponseWriter, r *http.Request, permission string) {
	p.forbidden.Render(w, r, http.StatusForbidden, Page{
		Title: "Not permitted",
		Data:  permission,
	})
}

// LoadFailed は画面の生成に失敗した場合のエラー画面を描画する。
func (p *Responder) LoadFailed(w http.ResponseWriter, r *http.Request, err error) {
	p.failed.Render(w, r, http.StatusInternalServerError, Page{
		Title: "Something went wrong",
	})
}
