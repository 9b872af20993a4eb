package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/hitoshi/servease-console/internal/model"
)

// ErrorResponseBody はJSONエラーレスポンスの形式。
// 原因カテゴリと対処方法を含む。
type ErrorResponseBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

// WriteErrorResponse は画面を描画しないエラー応答を書き込む。
// JSONを受け付けるクライアント（fetchやAPIツール）にはJSONを、
// ブラウザのフォーム送信にはメッセージと対処方法のプレーンテキストを返す。
func WriteErrorResponse(w http.ResponseWriter, r *http.Request, statusCode int, apiErr *model.APIError) {
	w.Header().Set("Cache-Control", "no-store")

	if !wantsJSON(r) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(statusCode)
		fmt.Fprintf(w, "%s %s\n", apiErr.Message, apiErr.Action)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(ErrorResponseBody{
		Code:     apiErr.Code,
		Message:  apiErr.Message,
		Category: apiErr.Category,
		Action:   apiErr.Action,
	})
}

func wantsJSON(r *http.Request) bool {
	if r == nil {
		return true
	}
	accept := r.Header.Get("Accept")
	if strings.Contains(accept, "application/json") {
		return true
	}
	return !strings.Contains(accept, "text/html")
}
