package view

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
)

const (
	flashCookieName = "console_flash"
	themeCookieName = "console_theme"

	// ThemeLight は既定の配色。
	ThemeLight = "light"
	// ThemeDark は暗い配色。
	ThemeDark = "dark"
)

// NoticeLevel は通知の種別。
type NoticeLevel string

const (
	NoticeSuccess NoticeLevel = "success"
	NoticeInfo    NoticeLevel = "info"
	NoticeError   NoticeLevel = "error"
)

// Notice は画面上部に表示する非ブロッキングの通知。
type Notice struct {
	Level   NoticeLevel `json:"level"`
	Message string      `json:"message"`
}

// Success は成功通知を返す。
func Success(message string) Notice { return Notice{Level: NoticeSuccess, Message: message} }

// Info は情報通知を返す。
func Info(message string) Notice { return Notice{Level: NoticeInfo, Message: message} }

// Failure はエラー通知を返す。
func Failure(message string) Notice { return Notice{Level: NoticeError, Message: message} }

// SetFlash はリダイレクト後の画面で一度だけ表示する通知をCookieに保存する。
func SetFlash(w http.ResponseWriter, notices ...Notice) {
	if len(notices) == 0 {
		return
	}
	data, err := json.Marshal(notices)
	if err != nil {
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     flashCookieName,
		Value:    base64.RawURLEncoding.EncodeToString(data),
		Path:     "/",
		MaxAge:   60,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// TakeFlash はCookieに保存された通知を取り出し、Cookieを削除する。
// 壊れたCookieは無視する。
func TakeFlash(w http.ResponseWriter, r *http.Request) []Notice {
	cookie, err := r.Cookie(flashCookieName)
	if err != nil || cookie.Value == "" {
		return nil
	}
	http.SetCookie(w, &http.Cookie{
		Name:     flashCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})

	data, err := base64.RawURLEncoding.DecodeString(cookie.Value)
	if err != nil {
		return nil
	}
	var notices []Notice
	if err := json.Unmarshal(data, &notices); err != nil {
		return nil
	}
	return notices
}

// SetTheme は配色の設定をCookieに保存する。未知の値はlightとして扱う。
func SetTheme(w http.ResponseWriter, theme string, secure bool) {
	if theme != ThemeDark {
		theme = ThemeLight
	}
	http.SetCookie(w, &http.Cookie{
		Name:     themeCookieName,
		Value:    theme,
		Path:     "/",
		MaxAge:   365 * 24 * 60 * 60,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ThemeFromRequest はCookieから配色の設定を読み取る。
func ThemeFromRequest(r *http.Request) string {
	if cookie, err := r.Cookie(themeCookieName); err == nil && cookie.Value == ThemeDark {
		return ThemeDark
	}
	return ThemeLight
}
