// Package backend はServease REST APIのクライアントを提供する。
//
// 全ての画面はこのパッケージのClientを経由してバックエンドを呼び出す。
// Clientはリクエストのコンテキストに格納されたセッションストアからアクセストークンを読み取り、
// Bearer認証ヘッダーとして付与する。401応答を受けた場合は、認証画面上でなければ
// セッションをログアウトさせる。
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/servease-console/internal/session"
)

// PayloadType はリクエストボディの種別。
type PayloadType int

const (
	// PayloadJSON はJSONボディ（デフォルト）。
	PayloadJSON PayloadType = iota
	// PayloadMultipart はファイルアップロード用のmultipart/form-dataボディ。
	PayloadMultipart
)

// maxResponseSize はレスポンスボディの最大読み取りサイズ（5MB）。
const maxResponseSize = 5 * 1024 * 1024

// File はmultipartリクエストで送信するファイル。
type File struct {
	Field       string
	Name        string
	ContentType string
	Data        []byte
}

// Request はバックエンドへのリクエスト。
type Request struct {
	Method string
	Path   string
	Query  url.Values
	// Body はPayloadJSONの場合にJSONエンコードされる。nilならボディなし。
	Body    any
	Payload PayloadType
	// Fields と Files はPayloadMultipartの場合に使う。
	Fields map[string]string
	Files  []File
}

// Response はバックエンドからの成功レスポンス。
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Decode はレスポンスボディをJSONとしてデコードする。
func (r *Response) Decode(v any) error {
	if len(bytes.TrimSpace(r.Body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(r.Body, v); err != nil {
		return fmt.Errorf("failed to decode backend response: %w", err)
	}
	return nil
}

// Recorder はバックエンド呼び出しの記録先。
type Recorder interface {
	RecordBackendResponse(method string, statusCode int, duration time.Duration)
	RecordBackendNetworkError(method string)
	RecordForcedLogout()
}

// Client はServease REST APIのクライアント。
type Client struct {
	baseURL         string
	httpClient      *http.Client
	logger          *slog.Logger
	recorder        Recorder
	isAuthEntryPath func(path string) bool
}

// Option はClientの任意設定。
type Option func(*Client)

// WithRecorder はメトリクスの記録先を設定する。
func WithRecorder(r Recorder) Option {
	return func(c *Client) { c.recorder = r }
}

// WithAuthEntryMatcher は認証画面のパス判定関数を設定する。
// 判定がtrueのパス上で受けた401はセッションを終了させない。
func WithAuthEntryMatcher(fn func(path string) bool) Option {
	return func(c *Client) { c.isAuthEntryPath = fn }
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger, opts ...Option) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		baseURL:         strings.TrimRight(baseURL, "/"),
		httpClient:      httpClient,
		logger:          logger,
		isAuthEntryPath: func(string) bool { return false },
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Do はリクエストを送信する。2xx応答はそのまま返し、それ以外は*Errorを返す。
// 再試行は行わない。
func (c *Client) Do(ctx context.Context, req Request) (*Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	httpReq, err := c.newHTTPRequest(ctx, method, req)
	if err != nil {
		return nil, err
	}

	store, hasStore := session.FromContext(ctx)
	if hasStore {
		if token := store.State().AccessToken; token != "" {
			httpReq.Header.Set("Authorization", "Bearer "+token)
		}
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if c.recorder != nil {
			c.recorder.RecordBackendNetworkError(method)
		}
		c.logger.Warn("backend request failed",
			slog.String("method", method),
			slog.String("path", req.Path),
			slog.String("error", err.Error()),
		)
		return nil, &Error{Kind: KindNetwork, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, &Error{Kind: KindNetwork, Err: fmt.Errorf("failed to read backend response: %w", err)}
	}

	if c.recorder != nil {
		c.recorder.RecordBackendResponse(method, resp.StatusCode, time.Since(start))
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return &Response{StatusCode: resp.StatusCode, Header: resp.Header, Body: body}, nil
	}

	return nil, c.handleErrorStatus(ctx, method, req.Path, resp.StatusCode, body, store, hasStore)
}

func (c *Client) newHTTPRequest(ctx context.Context, method string, req Request) (*http.Request, error) {
	target := c.baseURL + "/" + strings.TrimLeft(req.Path, "/")
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	var (
		body        io.Reader
		contentType string
	)
	switch req.Payload {
	case PayloadMultipart:
		buf, ct, err := encodeMultipart(req.Fields, req.Files)
		if err != nil {
			return nil, err
		}
		body, contentType = buf, ct
	default:
		if req.Body != nil {
			data, err := json.Marshal(req.Body)
			if err != nil {
				return nil, fmt.Errorf("failed to encode request body: %w", err)
			}
			body, contentType = bytes.NewReader(data), "application/json"
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create backend request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	return httpReq, nil
}

func encodeMultipart(fields map[string]string, files []File) (*bytes.Buffer, string, error) {
	buf := &bytes.Buffer{}
	mw := multipart.NewWriter(buf)
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			return nil, "", fmt.Errorf("failed to write multipart field: %w", err)
		}
	}
	for _, f := range files {
		part, err := mw.CreateFormFile(f.Field, f.Name)
		if err != nil {
			return nil, "", fmt.Errorf("failed to create multipart file: %w", err)
		}
		if _, err := part.Write(f.Data); err != nil {
			return nil, "", fmt.Errorf("failed to write multipart file: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}
	return buf, mw.FormDataContentType(), nil
}

func (c *Client) handleErrorStatus(ctx context.Context, method, path string, status int, body []byte, store *session.Store, hasStore bool) error {
	message := extractMessage(body)

	switch {
	case status == http.StatusUnauthorized:
		e := &Error{Kind: KindUnauthorized, StatusCode: status, Message: message}
		currentPath := session.CurrentPath(ctx)
		if !hasStore || c.isAuthEntryPath(currentPath) {
			return e
		}
		// リクエストがキャンセルされてもログアウトの永続化は完了させる
		if err := store.Logout(context.WithoutCancel(ctx)); err != nil {
			c.logger.Error("failed to clear session after 401",
				slog.String("error", err.Error()),
			)
		}
		if c.recorder != nil {
			c.recorder.RecordForcedLogout()
		}
		c.logger.Info("session ended by backend",
			slog.String("method", method),
			slog.String("path", path),
			slog.String("current_path", currentPath),
		)
		e.SessionEnded = true
		return e
	case status >= 500:
		c.logger.Error("backend returned server error",
			slog.String("method", method),
			slog.String("path", path),
			slog.Int("http_status", status),
		)
		return &Error{Kind: KindServer, StatusCode: status, Message: message}
	default:
		return &Error{Kind: KindClient, StatusCode: status, Message: message}
	}
}

// extractMessage はエラーレスポンスからメッセージを取り出す。
// messageは文字列または文字列配列のどちらも受け付ける。
func extractMessage(body []byte) string {
	var payload struct {
		Message json.RawMessage `json:"message"`
		Error   string          `json:"error"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}

	var s string
	if err := json.Unmarshal(payload.Message, &s); err == nil && s != "" {
		return s
	}
	var list []string
	if err := json.Unmarshal(payload.Message, &list); err == nil && len(list) > 0 {
		return strings.Join(list, ", ")
	}
	return payload.Error
}

// getJSON はGETリクエストを送信しレスポンスをvにデコードする。
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, v any) error {
	resp, err := c.Do(ctx, Request{Method: http.MethodGet, Path: path, Query: query})
	if err != nil {
		return err
	}
	return resp.Decode(v)
}

// sendJSON はボディ付きリクエストを送信し、vがnilでなければレスポンスをデコードする。
func (c *Client) sendJSON(ctx context.Context, method, path string, body, v any) error {
	resp, err := c.Do(ctx, Request{Method: method, Path: path, Body: body})
	if err != nil {
		return err
	}
	if v == nil {
		return nil
	}
	return resp.Decode(v)
}

// escape はパスセグメントをエスケープする。
func escape(segment string) string {
	return url.PathEscape(segment)
}

var errEmptyID = errors.New("id must not be empty")
