// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/servease-console/internal/session"
)

// SessionCookieName はブラウザセッションキーを保持するCookieの名前。
const SessionCookieName = "console_session"

// sessionIssuedContextKey はこのリクエストでキーを発行したことを示す。
var sessionIssuedContextKey = contextKey("session_issued")

func sessionIssued(r *http.Request) bool {
	issued, _ := r.Context().Value(sessionIssuedContextKey).(bool)
	return issued
}

// StoreProvider はブラウザセッションキーに対応するStoreを返す。
// session.Managerが実装する。
type StoreProvider interface {
	// Get は既存キーのStoreを返す。必要なら永続化層から復元する。
	Get(key string) *session.Store
	// New は発行したばかりのキーのStoreを返す。
	New(key string) *session.Store
	// Discard はStoreをメモリから破棄する。
	Discard(key string)
}

// SessionConfig はセッションミドルウェアの設定。
type SessionConfig struct {
	Secret       string
	MaxAge       int           // Cookieの有効期間（秒）
	HydrateWait  time.Duration // スナップショット復元を待つ最大時間
	CookieSecure bool
	CookieDomain string
}

// NewSessionMiddleware はCookieからブラウザセッションキーを読み取り、
// 対応するStoreをリクエストコンテキストに注入するミドルウェアを返す。
// Cookieがない、または署名が不正な場合は新しいキーを発行し、空のStoreを使う。
// 復元中のStoreはHydrateWaitまで待ち、それでも終わらなければ読み込み中のまま先へ進める。
func NewSessionMiddleware(provider StoreProvider, config SessionConfig) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			var store *session.Store
			if key, ok := readSessionKey(r, config.Secret); ok {
				store = provider.Get(key)
				waitReady(r, store, config.HydrateWait)
			} else {
				key = uuid.NewString()
				setSessionCookie(w, key, config)
				store = provider.New(key)
				ctx = context.WithValue(ctx, sessionIssuedContextKey, true)
			}

			ctx = session.NewContext(ctx, store)
			ctx = session.WithCurrentPath(ctx, r.URL.Path)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SessionRotator はログイン時にブラウザセッションキーを発行し直す。
// ログイン前のCookieを知る第三者がログイン後のセッションを使えないようにする。
type SessionRotator struct {
	provider StoreProvider
	config   SessionConfig
}

// NewSessionRotator は新しいSessionRotatorを生成する。
func NewSessionRotator(provider StoreProvider, config SessionConfig) *SessionRotator {
	return &SessionRotator{provider: provider, config: config}
}

// Rotate は新しいキーのCookieを設定し、空のStoreに差し替えたリクエストを返す。
// 旧キーのStoreはログアウトしてメモリから破棄する。
func (s *SessionRotator) Rotate(w http.ResponseWriter, r *http.Request) (*http.Request, error) {
	ctx := r.Context()
	if old, ok := session.FromContext(ctx); ok {
		if err := old.Logout(ctx); err != nil {
			return nil, fmt.Errorf("failed to end previous session: %w", err)
		}
		s.provider.Discard(old.Key())
	}

	key := uuid.NewString()
	setSessionCookie(w, key, s.config)
	store := s.provider.New(key)
	return r.WithContext(session.NewContext(ctx, store)), nil
}

func setSessionCookie(w http.ResponseWriter, key string, config SessionConfig) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    signSessionKey(key, config.Secret),
		Path:     "/",
		Domain:   config.CookieDomain,
		MaxAge:   config.MaxAge,
		HttpOnly: true,
		Secure:   config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// waitReady はStoreの復元完了、待機時間の経過、リクエストのキャンセルのいずれかまで待つ。
func waitReady(r *http.Request, store *session.Store, wait time.Duration) {
	select {
	case <-store.Ready():
		return
	default:
	}
	if wait <= 0 {
		return
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-store.Ready():
	case <-timer.C:
	case <-r.Context().Done():
	}
}

// readSessionKey はCookieから署名を検証したセッションキーを取り出す。
func readSessionKey(r *http.Request, secret string) (string, bool) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil || cookie.Value == "" {
		return "", false
	}
	key, sig, found := strings.Cut(cookie.Value, ".")
	if !found {
		return "", false
	}
	if _, err := uuid.Parse(key); err != nil {
		return "", false
	}
	want := sessionSignature(key, secret)
	if !hmac.Equal([]byte(sig), []byte(want)) {
		return "", false
	}
	return key, true
}

func signSessionKey(key, secret string) string {
	return key + "." + sessionSignature(key, secret)
}

func sessionSignature(key, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(key))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// SessionKeyFromContext はリクエストコンテキストのStoreからブラウザセッションキーを取得する。
func SessionKeyFromContext(r *http.Request) (string, bool) {
	store, ok := session.FromContext(r.Context())
	if !ok {
		return "", false
	}
	return store.Key(), true
}

// UserIDFromContext はリクエストコンテキストのStoreからログイン中のユーザーIDを取得する。
// 未ログインの場合は空文字を返す。
func UserIDFromContext(r *http.Request) string {
	st := session.StateFromContext(r.Context())
	if st.Identity == nil {
		return ""
	}
	return st.Identity.ID
}
