package handler

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/servease-console/internal/backend"
	"github.com/hitoshi/servease-console/internal/model"
	"github.com/hitoshi/servease-console/internal/repository"
	"github.com/hitoshi/servease-console/internal/route"
	"github.com/hitoshi/servease-console/internal/session"
	"github.com/hitoshi/servease-console/internal/view"
)

// --- モック定義 ---

// mockBackend はBackendのモック実装。
// fnが未設定のメソッドはゼロ値を返す。ここで定義していないメソッドを呼ぶとpanicする。
type mockBackend struct {
	Backend

	signInFn     func(ctx context.Context, email, password string) (string, error)
	verifyOTPFn  func(ctx context.Context, email, otp string) (*backend.VerifyOTPResult, error)
	profileFn    func(ctx context.Context) (*model.Identity, error)
	resendOTPFn  func(ctx context.Context, email string) error
	resetFn      func(ctx context.Context, email string) error
	registerFn   func(ctx context.Context, req backend.RegisterRequest) (string, error)
	listUsersFn  func(ctx context.Context, filter backend.Filter) ([]model.User, error)
	userStatusFn func(ctx context.Context, id, status string) error
	listRolesFn  func(ctx context.Context) ([]model.Role, error)
	createRoleFn func(ctx context.Context, params backend.RoleParams) (*model.Role, error)
	updateRoleFn func(ctx context.Context, id string, params backend.RoleParams) (*model.Role, error)

	listTransactionsFn func(ctx context.Context, filter backend.Filter) ([]model.Transaction, error)
	refundTxFn         func(ctx context.Context, id string, amount *float64) error
	listTicketsFn      func(ctx context.Context, filter backend.Filter) ([]model.SupportTicket, error)
	ticketStatusFn     func(ctx context.Context, id, status string) error

	listPostsFn func(ctx context.Context, filter backend.Filter) ([]model.BlogPost, error)
	savePostFn  func(ctx context.Context, post model.BlogPost) (*model.BlogPost, error)

	metricsFn   func(ctx context.Context) (*model.DashboardMetrics, error)
	alertsFn    func(ctx context.Context) ([]model.DashboardAlert, error)
	listIPsFn   func(ctx context.Context) ([]model.BlacklistedIP, error)
	addIPFn     func(ctx context.Context, ip string) error
	blockMailFn func(ctx context.Context, email string) error

	kycStatusFn func(ctx context.Context) (*model.ProviderKYCStatus, error)
	submitKYCFn func(ctx context.Context, documentType string, files []backend.File) error
}

func (m *mockBackend) SignIn(ctx context.Context, email, password string) (string, error) {
	if m.signInFn != nil {
		return m.signInFn(ctx, email, password)
	}
	return "", nil
}

func (m *mockBackend) VerifyOTP(ctx context.Context, email, otp string) (*backend.VerifyOTPResult, error) {
	if m.verifyOTPFn != nil {
		return m.verifyOTPFn(ctx, email, otp)
	}
	return &backend.VerifyOTPResult{AccessToken: "access"}, nil
}

func (m *mockBackend) Profile(ctx context.Context) (*model.Identity, error) {
	if m.profileFn != nil {
		return m.profileFn(ctx)
	}
	return nil, nil
}

func (m *mockBackend) ResendOTP(ctx context.Context, email string) error {
	if m.resendOTPFn != nil {
		return m.resendOTPFn(ctx, email)
	}
	return nil
}

func (m *mockBackend) RequestPasswordReset(ctx context.Context, email string) error {
	if m.resetFn != nil {
		return m.resetFn(ctx, email)
	}
	return nil
}

func (m *mockBackend) Register(ctx context.Context, req backend.RegisterRequest) (string, error) {
	if m.registerFn != nil {
		return m.registerFn(ctx, req)
	}
	return "", nil
}

func (m *mockBackend) ListUsers(ctx context.Context, filter backend.Filter) ([]model.User, error) {
	if m.listUsersFn != nil {
		return m.listUsersFn(ctx, filter)
	}
	return nil, nil
}

func (m *mockBackend) UpdateUserStatus(ctx context.Context, id, status string) error {
	if m.userStatusFn != nil {
		return m.userStatusFn(ctx, id, status)
	}
	return nil
}

func (m *mockBackend) ListRoles(ctx context.Context) ([]model.Role, error) {
	if m.listRolesFn != nil {
		return m.listRolesFn(ctx)
	}
	return nil, nil
}

func (m *mockBackend) CreateRole(ctx context.Context, params backend.RoleParams) (*model.Role, error) {
	if m.createRoleFn != nil {
		return m.createRoleFn(ctx, params)
	}
	return &model.Role{}, nil
}

func (m *mockBackend) UpdateRole(ctx context.Context, id string, params backend.RoleParams) (*model.Role, error) {
	if m.updateRoleFn != nil {
		return m.updateRoleFn(ctx, id, params)
	}
	return &model.Role{}, nil
}

func (m *mockBackend) ListTransactions(ctx context.Context, filter backend.Filter) ([]model.Transaction, error) {
	if m.listTransactionsFn != nil {
		return m.listTransactionsFn(ctx, filter)
	}
	return nil, nil
}

func (m *mockBackend) RefundTransaction(ctx context.Context, id string, amount *float64) error {
	if m.refundTxFn != nil {
		return m.refundTxFn(ctx, id, amount)
	}
	return nil
}

func (m *mockBackend) ListTickets(ctx context.Context, filter backend.Filter) ([]model.SupportTicket, error) {
	if m.listTicketsFn != nil {
		return m.listTicketsFn(ctx, filter)
	}
	return nil, nil
}

func (m *mockBackend) UpdateTicketStatus(ctx context.Context, id, status string) error {
	if m.ticketStatusFn != nil {
		return m.ticketStatusFn(ctx, id, status)
	}
	return nil
}

func (m *mockBackend) ListPosts(ctx context.Context, filter backend.Filter) ([]model.BlogPost, error) {
	if m.listPostsFn != nil {
		return m.listPostsFn(ctx, filter)
	}
	return nil, nil
}

func (m *mockBackend) GetPost(ctx context.Context, id string) (*model.BlogPost, error) {
	return nil, &backend.Error{Kind: backend.KindClient, StatusCode: http.StatusNotFound}
}

func (m *mockBackend) SavePost(ctx context.Context, post model.BlogPost) (*model.BlogPost, error) {
	if m.savePostFn != nil {
		return m.savePostFn(ctx, post)
	}
	return &post, nil
}

func (m *mockBackend) DashboardMetrics(ctx context.Context) (*model.DashboardMetrics, error) {
	if m.metricsFn != nil {
		return m.metricsFn(ctx)
	}
	return &model.DashboardMetrics{}, nil
}

func (m *mockBackend) DashboardAlerts(ctx context.Context) ([]model.DashboardAlert, error) {
	if m.alertsFn != nil {
		return m.alertsFn(ctx)
	}
	return nil, nil
}

func (m *mockBackend) ListBlacklistedIPs(ctx context.Context) ([]model.BlacklistedIP, error) {
	if m.listIPsFn != nil {
		return m.listIPsFn(ctx)
	}
	return nil, nil
}

func (m *mockBackend) AddBlacklistedIP(ctx context.Context, ip string) error {
	if m.addIPFn != nil {
		return m.addIPFn(ctx, ip)
	}
	return nil
}

func (m *mockBackend) BlockEmail(ctx context.Context, email string) error {
	if m.blockMailFn != nil {
		return m.blockMailFn(ctx, email)
	}
	return nil
}

func (m *mockBackend) ProviderKYCStatus(ctx context.Context) (*model.ProviderKYCStatus, error) {
	if m.kycStatusFn != nil {
		return m.kycStatusFn(ctx)
	}
	return &model.ProviderKYCStatus{Status: "not-submitted"}, nil
}

func (m *mockBackend) SubmitKYCDocuments(ctx context.Context, documentType string, files []backend.File) error {
	if m.submitKYCFn != nil {
		return m.submitKYCFn(ctx, documentType, files)
	}
	return nil
}

// mockMediaURL はsecurity.MediaURLCheckerのモック実装。
type mockMediaURL struct {
	preflightFn func(ctx context.Context, rawURL string) error
}

func (m *mockMediaURL) ValidateURL(rawURL string) error {
	return nil
}

func (m *mockMediaURL) Preflight(ctx context.Context, rawURL string) error {
	if m.preflightFn != nil {
		return m.preflightFn(ctx, rawURL)
	}
	return nil
}

// --- ヘルパー ---

func newTestDeps(t *testing.T, b Backend) ScreenDeps {
	t.Helper()
	rd, err := view.NewRenderer(nil, nil)
	if err != nil {
		t.Fatalf("NewRenderer: %v", err)
	}
	responder, err := view.NewResponder(rd)
	if err != nil {
		t.Fatalf("NewResponder: %v", err)
	}
	return ScreenDeps{Backend: b, Renderer: rd, Responder: responder}
}

// newTestStore は復元済みの匿名Storeを返す。
func newTestStore(t *testing.T) *session.Store {
	t.Helper()
	store := session.NewStore("test-session", repository.NewMemorySnapshotRepo(time.Hour))
	store.Hydrate(context.Background())
	return store
}

// signedInStore はidentityでログイン済みのStoreを返す。
func signedInStore(t *testing.T, identity *model.Identity) *session.Store {
	t.Helper()
	store := newTestStore(t)
	if err := store.SignIn(context.Background(), identity, "token", ""); err != nil {
		t.Fatalf("SignIn: %v", err)
	}
	return store
}

func adminWith(perms ...string) *model.Identity {
	return &model.Identity{
		ID:            "admin-1",
		Email:         "ops@servease.test",
		UserType:      model.UserTypeAdmin,
		Role:          "Operator",
		AccountStatus: model.AccountStatusActive,
		Permissions:   perms,
	}
}

func provider() *model.Identity {
	return &model.Identity{
		ID:            "prov-1",
		Email:         "pro@servease.test",
		UserType:      model.UserTypeServiceProvider,
		AccountStatus: model.AccountStatusActive,
	}
}

// mountScreen は画面を実際のパスにマウントしたルーターを返す。
func mountScreen(t *testing.T, path string, layout route.LayoutKind, factory route.Factory) http.Handler {
	t.Helper()
	screen, err := factory()
	if err != nil {
		t.Fatalf("screen factory for %s: %v", path, err)
	}
	r := chi.NewRouter()
	r.Mount(path, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		ctx := route.WithDescriptor(req.Context(), route.Descriptor{Path: path, Layout: layout})
		screen.ServeHTTP(w, req.WithContext(ctx))
	}))
	return r
}

// serve はstoreをコンテキストに格納してリクエストを処理する。
func serve(h http.Handler, req *http.Request, store *session.Store) *httptest.ResponseRecorder {
	if store != nil {
		req = req.WithContext(session.NewContext(req.Context(), store))
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func postForm(path string, form url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

// flashNotices はレスポンスに保存された通知を取り出す。
func flashNotices(t *testing.T, w *httptest.ResponseRecorder) []view.Notice {
	t.Helper()
	for _, c := range w.Result().Cookies() {
		if c.Name != "console_flash" || c.Value == "" {
			continue
		}
		data, err := base64.RawURLEncoding.DecodeString(c.Value)
		if err != nil {
			t.Fatalf("decode flash: %v", err)
		}
		var notices []view.Notice
		if err := json.Unmarshal(data, &notices); err != nil {
			t.Fatalf("unmarshal flash: %v", err)
		}
		return notices
	}
	return nil
}

// assertRedirect は303リダイレクトと通知を検証する。
func assertRedirect(t *testing.T, w *httptest.ResponseRecorder, location string, level view.NoticeLevel, message string) {
	t.Helper()
	if w.Code != http.StatusSeeOther {
		t.Fatalf("status = %d, want %d; body = %s", w.Code, http.StatusSeeOther, w.Body.String())
	}
	if got := w.Header().Get("Location"); got != location {
		t.Errorf("Location = %q, want %q", got, location)
	}
	if message == "" {
		return
	}
	notices := flashNotices(t, w)
	if len(notices) == 0 {
		t.Fatalf("no flash notice, want %q", message)
	}
	if notices[0].Level != level || notices[0].Message != message {
		t.Errorf("notice = %+v, want {%s %q}", notices[0], level, message)
	}
}

func unauthorized(message string) error {
	return &backend.Error{Kind: backend.KindUnauthorized, StatusCode: http.StatusUnauthorized, Message: message}
}

func serverError() error {
	return &backend.Error{Kind: backend.KindServer, StatusCode: http.StatusInternalServerError}
}
