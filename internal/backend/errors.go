package backend

import (
	"errors"
	"fmt"
)

// Kind はバックエンドエラーの分類。
type Kind int

const (
	// KindClient は401以外の4xx。業務バリデーションエラーなどで画面側が処理する。
	KindClient Kind = iota
	// KindUnauthorized は401。
	KindUnauthorized
	// KindServer は5xx。一時的な障害として通知する。
	KindServer
	// KindNetwork はレスポンスを受け取れなかった場合。接続障害として通知する。
	KindNetwork
)

func (k Kind) String() string {
	switch k {
	case KindClient:
		return "client"
	case KindUnauthorized:
		return "unauthorized"
	case KindServer:
		return "server"
	case KindNetwork:
		return "network"
	default:
		return "unknown"
	}
}

// Error はバックエンド呼び出しのエラー。
type Error struct {
	Kind       Kind
	StatusCode int
	// Message はバックエンドが返したエラーメッセージ。
	Message string
	// SessionEnded は401によりセッションがログアウトされたことを表す。
	// 呼び出し元はログイン画面へリダイレクトする。
	SessionEnded bool
	Err          error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindNetwork:
		return fmt.Sprintf("backend unreachable: %v", e.Err)
	default:
		if e.Message != "" {
			return fmt.Sprintf("backend %s error (status %d): %s", e.Kind, e.StatusCode, e.Message)
		}
		return fmt.Sprintf("backend %s error (status %d)", e.Kind, e.StatusCode)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// AsError はerrから*Errorを取り出す。
func AsError(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// IsSessionEnded はerrが401によるセッション終了を表すかを返す。
func IsSessionEnded(err error) bool {
	e, ok := AsError(err)
	return ok && e.SessionEnded
}

// IsUnauthorized はerrが401かを返す。
func IsUnauthorized(err error) bool {
	e, ok := AsError(err)
	return ok && e.Kind == KindUnauthorized
}

// IsNotFound はerrが404かを返す。
func IsNotFound(err error) bool {
	e, ok := AsError(err)
	return ok && e.Kind == KindClient && e.StatusCode == 404
}

const (
	noticeServer  = "The server encountered a temporary error. Please try again later."
	noticeNetwork = "Unable to reach the server. Check your network connection."
	noticeGeneric = "The request could not be completed."
)

// Notice はエラーを利用者向けの通知文に変換する。
// 5xxとネットワーク障害は汎用の文言、それ以外はバックエンドのメッセージを優先する。
func Notice(err error) string {
	e, ok := AsError(err)
	if !ok {
		return noticeGeneric
	}
	switch e.Kind {
	case KindServer:
		return noticeServer
	case KindNetwork:
		return noticeNetwork
	default:
		if e.Message != "" {
			return e.Message
		}
		return noticeGeneric
	}
}
