package handler

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/servease-console/internal/backend"
	"github.com/hitoshi/servease-console/internal/model"
	"github.com/hitoshi/servease-console/internal/repository"
	"github.com/hitoshi/servease-console/internal/route"
	"github.com/hitoshi/servease-console/internal/session"
	"github.com/hitoshi/servease-console/internal/view"
)

func loginScreen(t *testing.T, b *mockBackend) http.Handler {
	t.Helper()
	h := NewAuthHandler(newTestDeps(t, b))
	return mountScreen(t, "/auth/login", route.LayoutAuth, h.LoginScreen)
}

func verifyScreen(t *testing.T, b *mockBackend) http.Handler {
	t.Helper()
	h := NewAuthHandler(newTestDeps(t, b))
	return mountScreen(t, "/auth/verify-otp", route.LayoutAuth, h.VerifyOTPScreen)
}

func withPendingEmail(req *http.Request, email string) *http.Request {
	req.AddCookie(&http.Cookie{Name: pendingEmailCookie, Value: email})
	return req
}

// --- ログイン ---

func TestLogin_Success_RedirectsToVerifyOTP(t *testing.T) {
	var gotEmail, gotPassword string
	b := &mockBackend{
		signInFn: func(ctx context.Context, email, password string) (string, error) {
			gotEmail, gotPassword = email, password
			return "", nil
		},
	}

	w := serve(loginScreen(t, b), postForm("/auth/login", url.Values{
		"email":    {" jane@servease.test "},
		"password": {"secret-pass"},
	}), newTestStore(t))

	assertRedirect(t, w, "/auth/verify-otp", view.NoticeSuccess, "OTP sent to your email")
	if gotEmail != "jane@servease.test" || gotPassword != "secret-pass" {
		t.Errorf("SignIn(%q, %q)", gotEmail, gotPassword)
	}

	var pending *http.Cookie
	for _, c := range w.Result().Cookies() {
		if c.Name == pendingEmailCookie {
			pending = c
		}
	}
	if pending == nil {
		t.Fatal("pending email cookie not set")
	}
	if pending.Value != "jane@servease.test" || pending.Path != "/auth" || !pending.HttpOnly {
		t.Errorf("pending cookie = %+v", pending)
	}
}

func TestLogin_BackendMessage_IsFlashed(t *testing.T) {
	b := &mockBackend{
		signInFn: func(ctx context.Context, email, password string) (string, error) {
			return "Check your inbox for a code", nil
		},
	}
	w := serve(loginScreen(t, b), postForm("/auth/login", url.Values{
		"email": {"jane@servease.test"}, "password": {"x"},
	}), newTestStore(t))

	assertRedirect(t, w, "/auth/verify-otp", view.NoticeSuccess, "Check your inbox for a code")
}

func TestLogin_InvalidInput_DoesNotCallBackend(t *testing.T) {
	b := &mockBackend{
		signInFn: func(ctx context.Context, email, password string) (string, error) {
			t.Error("SignIn should not be called")
			return "", nil
		},
	}
	w := serve(loginScreen(t, b), postForm("/auth/login", url.Values{
		"email": {"not-an-email"}, "password": {""},
	}), newTestStore(t))

	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnprocessableEntity)
	}
	body := w.Body.String()
	for _, want := range []string{"Invalid email address", "Password is required"} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q", want)
		}
	}
}

func TestLogin_BackendErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantNotice string
	}{
		{"401 without message", unauthorized(""), http.StatusUnauthorized, "Invalid email or password"},
		{"401 with message", unauthorized("Account locked"), http.StatusUnauthorized, "Account locked"},
		{"5xx", serverError(), http.StatusBadGateway, "The server encountered a temporary error"},
		{"network", &backend.Error{Kind: backend.KindNetwork, Err: errors.New("dial")}, http.StatusBadGateway, "Unable to reach the server"},
		{"4xx", &backend.Error{Kind: backend.KindClient, StatusCode: 400, Message: "Email not verified"}, http.StatusUnprocessableEntity, "Email not verified"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &mockBackend{
				signInFn: func(ctx context.Context, email, password string) (string, error) {
					return "", tt.err
				},
			}
			w := serve(loginScreen(t, b), postForm("/auth/login", url.Values{
				"email": {"jane@servease.test"}, "password": {"x"},
			}), newTestStore(t))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if !strings.Contains(w.Body.String(), tt.wantNotice) {
				t.Errorf("body missing notice %q", tt.wantNotice)
			}
		})
	}
}

func TestLogin_GET_AuthenticatedUser_RedirectsHome(t *testing.T) {
	tests := []struct {
		name     string
		identity *model.Identity
		want     string
	}{
		{"admin", adminWith(model.PermUserRead), "/admin/dashboard"},
		{"provider", provider(), "/provider/dashboard"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := serve(loginScreen(t, &mockBackend{}),
				httptest.NewRequest(http.MethodGet, "/auth/login", nil), signedInStore(t, tt.identity))

			if w.Code != http.StatusFound {
				t.Fatalf("status = %d, want %d", w.Code, http.StatusFound)
			}
			if got := w.Header().Get("Location"); got != tt.want {
				t.Errorf("Location = %q, want %q", got, tt.want)
			}
		})
	}
}

// --- OTP検証 ---

func TestVerifyOTP_GET_WithoutPendingEmail_RedirectsToLogin(t *testing.T) {
	w := serve(verifyScreen(t, &mockBackend{}),
		httptest.NewRequest(http.MethodGet, "/auth/verify-otp", nil), newTestStore(t))

	assertRedirect(t, w, "/auth/login", view.NoticeError, "Invalid session. Please login again.")
}

func TestVerifyOTP_GET_EmailQueryFallback(t *testing.T) {
	w := serve(verifyScreen(t, &mockBackend{}),
		httptest.NewRequest(http.MethodGet, "/auth/verify-otp?email=jane%40servease.test", nil), newTestStore(t))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), "jane@servease.test") {
		t.Error("body should show the pending email")
	}
}

func TestVerifyOTP_Success_SignsInWithReturnedUser(t *testing.T) {
	identity := adminWith(model.PermUserRead)
	b := &mockBackend{
		verifyOTPFn: func(ctx context.Context, email, otp string) (*backend.VerifyOTPResult, error) {
			if email != "ops@servease.test" || otp != "123456" {
				t.Errorf("VerifyOTP(%q, %q)", email, otp)
			}
			return &backend.VerifyOTPResult{AccessToken: "access", RefreshToken: "refresh", Identity: identity}, nil
		},
		profileFn: func(ctx context.Context) (*model.Identity, error) {
			t.Error("Profile should not be called when the user is returned")
			return nil, nil
		},
	}
	store := newTestStore(t)
	req := withPendingEmail(postForm("/auth/verify-otp", url.Values{"otp": {"123456"}}), "ops@servease.test")

	w := serve(verifyScreen(t, b), req, store)

	assertRedirect(t, w, "/admin/dashboard", view.NoticeSuccess, "Login successful!")
	state := store.State()
	if !state.IsAuthenticated() || state.AccessToken != "access" || state.RefreshToken != "refresh" {
		t.Errorf("state = %+v", state)
	}
}

func TestVerifyOTP_MissingUser_FetchesProfile(t *testing.T) {
	store := newTestStore(t)
	b := &mockBackend{
		verifyOTPFn: func(ctx context.Context, email, otp string) (*backend.VerifyOTPResult, error) {
			return &backend.VerifyOTPResult{AccessToken: "access"}, nil
		},
		profileFn: func(ctx context.Context) (*model.Identity, error) {
			// プロフィール取得時点でトークンが設定済みであること
			if got := store.State().AccessToken; got != "access" {
				t.Errorf("access token during Profile = %q", got)
			}
			return provider(), nil
		},
	}
	req := withPendingEmail(postForm("/auth/verify-otp", url.Values{"otp": {"654321"}}), "pro@servease.test")

	w := serve(verifyScreen(t, b), req, store)

	assertRedirect(t, w, "/provider/dashboard", view.NoticeSuccess, "Login successful!")
	if id := store.State().Identity; id == nil || id.ID != "prov-1" {
		t.Errorf("identity = %+v", id)
	}
}

func TestVerifyOTP_ProfileFailure_LeavesSessionSignedOut(t *testing.T) {
	store := newTestStore(t)
	b := &mockBackend{
		profileFn: func(ctx context.Context) (*model.Identity, error) {
			return nil, serverError()
		},
	}
	req := withPendingEmail(postForm("/auth/verify-otp", url.Values{"otp": {"654321"}}), "pro@servease.test")

	w := serve(verifyScreen(t, b), req, store)

	if w.Code != http.StatusBadGateway {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadGateway)
	}
	if !strings.Contains(w.Body.String(), "Failed to fetch user information") {
		t.Error("body missing profile failure notice")
	}
	if state := store.State(); state.AccessToken != "" || state.Identity != nil {
		t.Errorf("state should be cleared, got %+v", state)
	}
}

// stubRotator は呼び出しごとに新しいStoreへ差し替えるSessionRotatorのモック。
type stubRotator struct {
	calls   int
	rotated *session.Store
}

func (s *stubRotator) Rotate(w http.ResponseWriter, r *http.Request) (*http.Request, error) {
	s.calls++
	s.rotated = session.NewEmptyStore("rotated-"+strconv.Itoa(s.calls), repository.NewMemorySnapshotRepo(time.Hour))
	return r.WithContext(session.NewContext(r.Context(), s.rotated)), nil
}

func verifyScreenWithRotator(t *testing.T, b *mockBackend, rotator SessionRotator) http.Handler {
	t.Helper()
	deps := newTestDeps(t, b)
	deps.Sessions = rotator
	h := NewAuthHandler(deps)
	return mountScreen(t, "/auth/verify-otp", route.LayoutAuth, h.VerifyOTPScreen)
}

func TestVerifyOTP_Success_SignsInOnRotatedSession(t *testing.T) {
	b := &mockBackend{
		verifyOTPFn: func(ctx context.Context, email, otp string) (*backend.VerifyOTPResult, error) {
			return &backend.VerifyOTPResult{AccessToken: "access", Identity: adminWith()}, nil
		},
	}
	rotator := &stubRotator{}
	store := newTestStore(t)
	req := withPendingEmail(postForm("/auth/verify-otp", url.Values{"otp": {"123456"}}), "ops@servease.test")

	w := serve(verifyScreenWithRotator(t, b, rotator), req, store)

	assertRedirect(t, w, "/admin/dashboard", view.NoticeSuccess, "Login successful!")
	if rotator.calls != 1 {
		t.Fatalf("Rotate calls = %d, want 1", rotator.calls)
	}
	if !rotator.rotated.State().IsAuthenticated() {
		t.Error("identity should be written to the rotated session")
	}
	if store.State().IsAuthenticated() {
		t.Error("the pre-login session must stay anonymous")
	}
}

func TestVerifyOTP_Rejected_DoesNotRotate(t *testing.T) {
	b := &mockBackend{
		verifyOTPFn: func(ctx context.Context, email, otp string) (*backend.VerifyOTPResult, error) {
			return nil, unauthorized("")
		},
	}
	rotator := &stubRotator{}
	req := withPendingEmail(postForm("/auth/verify-otp", url.Values{"otp": {"123456"}}), "ops@servease.test")

	w := serve(verifyScreenWithRotator(t, b, rotator), req, newTestStore(t))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
	if rotator.calls != 0 {
		t.Errorf("Rotate calls = %d, want 0", rotator.calls)
	}
}

func TestVerifyOTP_InvalidCode(t *testing.T) {
	tests := []struct {
		name       string
		otp        string
		backendErr error
		wantStatus int
		want       string
	}{
		{"too short", "123", nil, http.StatusUnprocessableEntity, "OTP must be 6 digits"},
		{"not numeric", "12ab56", nil, http.StatusUnprocessableEntity, "OTP must contain only numbers"},
		{"rejected", "123456", unauthorized(""), http.StatusUnauthorized, "Invalid or expired OTP"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := &mockBackend{
				verifyOTPFn: func(ctx context.Context, email, otp string) (*backend.VerifyOTPResult, error) {
					if tt.backendErr == nil {
						t.Error("VerifyOTP should not be called")
					}
					return nil, tt.backendErr
				},
			}
			req := withPendingEmail(postForm("/auth/verify-otp", url.Values{"otp": {tt.otp}}), "ops@servease.test")
			w := serve(verifyScreen(t, b), req, newTestStore(t))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if !strings.Contains(w.Body.String(), tt.want) {
				t.Errorf("body missing %q", tt.want)
			}
		})
	}
}

func TestVerifyOTP_Resend(t *testing.T) {
	var resent string
	b := &mockBackend{
		resendOTPFn: func(ctx context.Context, email string) error {
			resent = email
			return nil
		},
	}
	req := withPendingEmail(postForm("/auth/verify-otp/resend", url.Values{}), "ops@servease.test")
	w := serve(verifyScreen(t, b), req, newTestStore(t))

	assertRedirect(t, w, "/auth/verify-otp", view.NoticeSuccess, "OTP has been resent to your email")
	if resent != "ops@servease.test" {
		t.Errorf("ResendOTP email = %q", resent)
	}
}

// --- 登録 ---

func registerForm(step int) url.Values {
	v := url.Values{
		"step":               {strconv.Itoa(step)},
		"firstName":          {"Jane"},
		"lastName":           {"Doe"},
		"email":              {"jane@servease.test"},
		"phone":              {"+1 555 123 4567"},
		"password":           {"Str0ngPass"},
		"confirmPassword":    {"Str0ngPass"},
		"serviceName":        {"Leak repair"},
		"serviceDescription": {"Fast and tidy plumbing repairs"},
		"serviceCategory":    {"plumbing"},
		"hourlyRate":         {"45"},
		"experience":         {"expert"},
		"accountType":        {"independent"},
	}
	return v
}

func TestRegister_StepProgression(t *testing.T) {
	h := NewAuthHandler(newTestDeps(t, &mockBackend{}))
	screen := mountScreen(t, "/auth/register", route.LayoutAuth, h.RegisterScreen)

	w := serve(screen, postForm("/auth/register", registerForm(1)), newTestStore(t))
	if w.Code != http.StatusOK {
		t.Fatalf("step 1 status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), "Step 2 of 3") || !strings.Contains(w.Body.String(), `id="serviceName"`) {
		t.Error("step 1 should advance to the service details step")
	}
}

func TestRegister_Step1_WeakPassword(t *testing.T) {
	h := NewAuthHandler(newTestDeps(t, &mockBackend{}))
	screen := mountScreen(t, "/auth/register", route.LayoutAuth, h.RegisterScreen)

	form := registerForm(1)
	form.Set("password", "password")
	form.Set("confirmPassword", "password")
	w := serve(screen, postForm("/auth/register", form), newTestStore(t))

	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnprocessableEntity)
	}
	if !strings.Contains(w.Body.String(), "Password is too weak") {
		t.Error("body missing weak password error")
	}
}

func TestRegister_FinalStep_SubmitsAndRedirects(t *testing.T) {
	var got backend.RegisterRequest
	b := &mockBackend{
		registerFn: func(ctx context.Context, req backend.RegisterRequest) (string, error) {
			got = req
			return "", nil
		},
	}
	h := NewAuthHandler(newTestDeps(t, b))
	screen := mountScreen(t, "/auth/register", route.LayoutAuth, h.RegisterScreen)

	form := registerForm(3)
	form.Set("businessName", "ignored for independent accounts")
	w := serve(screen, postForm("/auth/register", form), newTestStore(t))

	assertRedirect(t, w, "/auth/login", view.NoticeSuccess,
		"Registration successful! Please check your email to verify your account.")
	if got.Email != "jane@servease.test" || got.ServiceCategory != "plumbing" || got.AccountType != model.AccountTypeIndependent {
		t.Errorf("RegisterRequest = %+v", got)
	}
	if got.BusinessName != "" {
		t.Errorf("BusinessName = %q, want empty for independent accounts", got.BusinessName)
	}
}

func TestRegister_FinalStep_TamperedEarlierStep_ReturnsToThatStep(t *testing.T) {
	b := &mockBackend{
		registerFn: func(ctx context.Context, req backend.RegisterRequest) (string, error) {
			t.Error("Register should not be called")
			return "", nil
		},
	}
	h := NewAuthHandler(newTestDeps(t, b))
	screen := mountScreen(t, "/auth/register", route.LayoutAuth, h.RegisterScreen)

	form := registerForm(3)
	form.Set("hourlyRate", "-5")
	w := serve(screen, postForm("/auth/register", form), newTestStore(t))

	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusUnprocessableEntity)
	}
	if !strings.Contains(w.Body.String(), "Hourly rate must be a positive number") {
		t.Error("body missing hourly rate error")
	}
}

func TestRegister_BusinessAccount_RequiresBusinessFields(t *testing.T) {
	errs := validateRegisterStep(3, map[string]string{"accountType": "business"})
	if _, ok := errs["businessName"]; !ok {
		t.Error("businessName should be required for business accounts")
	}
	if _, ok := errs["businessRegistrationNumber"]; !ok {
		t.Error("businessRegistrationNumber should be required for business accounts")
	}
}

// --- パスワード再設定・ログアウト ---

func TestForgotPassword_Success(t *testing.T) {
	var got string
	b := &mockBackend{
		resetFn: func(ctx context.Context, email string) error {
			got = email
			return nil
		},
	}
	h := NewAuthHandler(newTestDeps(t, b))
	screen := mountScreen(t, "/auth/forgot-password", route.LayoutAuth, h.ForgotPasswordScreen)

	w := serve(screen, postForm("/auth/forgot-password", url.Values{"email": {"jane@servease.test"}}), newTestStore(t))

	assertRedirect(t, w, "/auth/login", view.NoticeSuccess, "Password reset link sent to your email")
	if got != "jane@servease.test" {
		t.Errorf("RequestPasswordReset email = %q", got)
	}
}

func TestLogout_POST_ClearsSession(t *testing.T) {
	store := signedInStore(t, adminWith(model.PermUserRead))
	h := NewAuthHandler(newTestDeps(t, &mockBackend{}))
	screen := mountScreen(t, "/auth/logout", route.LayoutAuth, h.LogoutScreen)

	w := serve(screen, postForm("/auth/logout", url.Values{}), store)

	assertRedirect(t, w, "/auth/login", view.NoticeInfo, "You have been logged out")
	if store.State().IsAuthenticated() {
		t.Error("store should be signed out")
	}
}

func TestAccessDenied_ShowsHomeLink(t *testing.T) {
	h := NewAuthHandler(newTestDeps(t, &mockBackend{}))
	screen := mountScreen(t, "/access-denied", route.LayoutAuth, h.AccessDeniedScreen)

	w := serve(screen, httptest.NewRequest(http.MethodGet, "/access-denied", nil), signedInStore(t, provider()))

	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusForbidden)
	}
	if !strings.Contains(w.Body.String(), "/provider/dashboard") {
		t.Error("body should link to the provider dashboard")
	}
}

func TestFailureStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{errors.New("plain"), http.StatusInternalServerError},
		{serverError(), http.StatusBadGateway},
		{unauthorized(""), http.StatusUnauthorized},
		{&backend.Error{Kind: backend.KindClient, StatusCode: 409}, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		if got := failureStatus(tt.err); got != tt.want {
			t.Errorf("failureStatus(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
