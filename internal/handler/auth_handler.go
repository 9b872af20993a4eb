// Package handler は管理コンソールの画面ハンドラーを提供する。
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"slices"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/servease-console/internal/backend"
	"github.com/hitoshi/servease-console/internal/guard"
	"github.com/hitoshi/servease-console/internal/model"
	"github.com/hitoshi/servease-console/internal/session"
	"github.com/hitoshi/servease-console/internal/view"
)

// pendingEmailCookie はOTP検証待ちのメールアドレスを保持するCookieの名前。
const pendingEmailCookie = "console_pending_email"

// AuthBackend は認証画面が必要とするバックエンド操作。
type AuthBackend interface {
	SignIn(ctx context.Context, email, password string) (string, error)
	VerifyOTP(ctx context.Context, email, otp string) (*backend.VerifyOTPResult, error)
	Profile(ctx context.Context) (*model.Identity, error)
	ResendOTP(ctx context.Context, email string) error
	RequestPasswordReset(ctx context.Context, email string) error
	Register(ctx context.Context, req backend.RegisterRequest) (string, error)
}

// AuthHandler はログイン、OTP検証、登録、ログアウトの画面ハンドラー。
type AuthHandler struct {
	base
	backend      AuthBackend
	authLimit    func(http.Handler) http.Handler
	sessions     SessionRotator
	cookieSecure bool
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(deps ScreenDeps) *AuthHandler {
	limit := deps.AuthLimit
	if limit == nil {
		limit = func(next http.Handler) http.Handler { return next }
	}
	return &AuthHandler{
		base:         newBase(deps),
		backend:      deps.Backend,
		authLimit:    limit,
		sessions:     deps.Sessions,
		cookieSecure: deps.CookieSecure,
	}
}

// --- ログイン ---

// LoginScreen はログイン画面を生成する。
//
//	GET  /auth/login
//	POST /auth/login
func (h *AuthHandler) LoginScreen() (http.Handler, error) {
	screen, err := h.renderer.Screen("login")
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		if state := session.StateFromContext(r.Context()); state.IsAuthenticated() {
			http.Redirect(w, r, HomePathFor(state.Identity), http.StatusFound)
			return
		}
		screen.Render(w, r, http.StatusOK, view.Page{Title: "Sign in"})
	})
	r.With(h.authLimit).Post("/", h.login(screen))
	return r, nil
}

func (h *AuthHandler) login(screen *view.Screen) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		email := formValues(r, "email")["email"]
		password := r.FormValue("password")

		errs := fieldErrors{}
		validateEmail(errs, "email", email)
		validateRequired(errs, "password", password, "Password is required")
		page := view.Page{Title: "Sign in", Form: map[string]string{"email": email}, Errors: errs}
		if !errs.ok() {
			screen.Render(w, r, http.StatusUnprocessableEntity, page)
			return
		}

		message, err := h.backend.SignIn(r.Context(), email, password)
		if err != nil {
			h.logger.Info("signin rejected", slog.String("error", err.Error()))
			page.Notices = append(page.Notices, view.Failure(signInNotice(err)))
			screen.Render(w, r, failureStatus(err), page)
			return
		}

		h.setPendingEmail(w, email)
		if message == "" {
			message = "OTP sent to your email"
		}
		redirectWith(w, r, "/auth/verify-otp", view.Success(message))
	}
}

// signInNotice は認証失敗の通知文を返す。
func signInNotice(err error) string {
	if backend.IsUnauthorized(err) {
		if e, ok := backend.AsError(err); ok && e.Message != "" {
			return e.Message
		}
		return "Invalid email or password"
	}
	return backend.Notice(err)
}

// --- OTP検証 ---

// VerifyOTPScreen はOTP検証画面を生成する。
//
//	GET  /auth/verify-otp
//	POST /auth/verify-otp
//	POST /auth/verify-otp/resend
func (h *AuthHandler) VerifyOTPScreen() (http.Handler, error) {
	screen, err := h.renderer.Screen("verify-otp")
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		email, ok := h.pendingEmail(w, r)
		if !ok {
			return
		}
		screen.Render(w, r, http.StatusOK, verifyPage(email))
	})
	r.With(h.authLimit).Post("/", h.verifyOTP(screen))
	r.With(h.authLimit).Post("/resend", h.resendOTP)
	return r, nil
}

type verifyData struct {
	Email string
}

func verifyPage(email string) view.Page {
	return view.Page{Title: "Verify your sign-in", Data: verifyData{Email: email}}
}

func (h *AuthHandler) verifyOTP(screen *view.Screen) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		email, ok := h.pendingEmail(w, r)
		if !ok {
			return
		}
		otp := formValues(r, "otp")["otp"]

		page := verifyPage(email)
		errs := fieldErrors{}
		validateOTP(errs, "otp", otp)
		if !errs.ok() {
			page.Errors = errs
			screen.Render(w, r, http.StatusUnprocessableEntity, page)
			return
		}

		identity, err := h.completeSignIn(w, r, email, otp)
		if err != nil {
			h.logger.Info("otp verification failed", slog.String("error", err.Error()))
			page.Notices = append(page.Notices, view.Failure(verifyNotice(err)))
			screen.Render(w, r, failureStatus(err), page)
			return
		}

		h.clearPendingEmail(w)
		h.logger.Info("user signed in",
			slog.String("user_id", identity.ID),
			slog.String("user_type", string(identity.UserType)),
		)
		redirectWith(w, r, HomePathFor(identity), view.Success("Login successful!"))
	}
}

var (
	errNoSession       = errors.New("no session store in request context")
	errProfileRequired = errors.New("failed to fetch user information")
)

// completeSignIn はOTPを検証し、トークンとIdentityをセッションに書き込む。
// 検証に成功したらブラウザセッションキーを発行し直し、新しいStoreへ書き込む。
// 応答にユーザーが含まれない場合は取得したトークンでプロフィールを取得する。
func (h *AuthHandler) completeSignIn(w http.ResponseWriter, r *http.Request, email, otp string) (*model.Identity, error) {
	if _, ok := session.FromContext(r.Context()); !ok {
		return nil, errNoSession
	}

	result, err := h.backend.VerifyOTP(r.Context(), email, otp)
	if err != nil {
		return nil, err
	}

	if h.sessions != nil {
		if r, err = h.sessions.Rotate(w, r); err != nil {
			return nil, err
		}
	}
	ctx := r.Context()
	store, ok := session.FromContext(ctx)
	if !ok {
		return nil, errNoSession
	}

	identity := result.Identity
	if identity == nil {
		if err := store.SetAccessToken(ctx, result.AccessToken); err != nil {
			return nil, err
		}
		identity, err = h.backend.Profile(ctx)
		if err != nil {
			if logoutErr := store.Logout(ctx); logoutErr != nil {
				h.logger.Error("failed to clear partial sign-in", slog.String("error", logoutErr.Error()))
			}
			return nil, errors.Join(errProfileRequired, err)
		}
	}

	if err := store.SignIn(ctx, identity, result.AccessToken, result.RefreshToken); err != nil {
		return nil, err
	}
	return identity, nil
}

func verifyNotice(err error) string {
	switch {
	case errors.Is(err, errProfileRequired):
		return "Failed to fetch user information"
	case backend.IsUnauthorized(err):
		return "Invalid or expired OTP"
	default:
		return backend.Notice(err)
	}
}

// resendOTP はOTPを再送する。
func (h *AuthHandler) resendOTP(w http.ResponseWriter, r *http.Request) {
	email, ok := h.pendingEmail(w, r)
	if !ok {
		return
	}
	if err := h.backend.ResendOTP(r.Context(), email); err != nil {
		h.logger.Warn("failed to resend otp", slog.String("error", err.Error()))
		redirectWith(w, r, "/auth/verify-otp", view.Failure(backend.Notice(err)))
		return
	}
	redirectWith(w, r, "/auth/verify-otp", view.Success("OTP has been resent to your email"))
}

// pendingEmail はOTP検証対象のメールアドレスを返す。
// Cookieがなければクエリのemailを使い、どちらもなければログイン画面へ戻す。
func (h *AuthHandler) pendingEmail(w http.ResponseWriter, r *http.Request) (string, bool) {
	if cookie, err := r.Cookie(pendingEmailCookie); err == nil && cookie.Value != "" {
		return cookie.Value, true
	}
	if email := r.URL.Query().Get("email"); email != "" {
		errs := fieldErrors{}
		if validateEmail(errs, "email", email); errs.ok() {
			return email, true
		}
	}
	redirectWith(w, r, guard.LoginPath, view.Failure("Invalid session. Please login again."))
	return "", false
}

func (h *AuthHandler) setPendingEmail(w http.ResponseWriter, email string) {
	http.SetCookie(w, &http.Cookie{
		Name:     pendingEmailCookie,
		Value:    email,
		Path:     "/auth",
		MaxAge:   600, // 10分
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *AuthHandler) clearPendingEmail(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     pendingEmailCookie,
		Value:    "",
		Path:     "/auth",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

// --- 登録 ---

var (
	personalFields = []string{"firstName", "lastName", "email", "phone", "password", "confirmPassword"}
	serviceFields  = []string{"serviceName", "serviceDescription", "serviceCategory", "hourlyRate", "experience"}
	businessFields = []string{"accountType", "businessName", "businessRegistrationNumber", "businessAddress", "taxId"}

	serviceCategories = []string{"plumbing", "electrical", "cleaning", "landscaping", "handyman", "painting", "carpentry", "other"}
	experienceLevels  = []string{"beginner", "intermediate", "experienced", "expert"}
	accountTypes      = []string{string(model.AccountTypeIndependent), string(model.AccountTypeBusiness)}
)

const registerSteps = 3

type registerData struct {
	Step        int
	Carried     []string
	Categories  []string
	Experiences []string
}

func stepFields(step int) []string {
	switch step {
	case 1:
		return personalFields
	case 2:
		return serviceFields
	default:
		return businessFields
	}
}

func registerPage(step int, form map[string]string, errs fieldErrors) view.Page {
	var carried []string
	for s := 1; s <= registerSteps; s++ {
		if s != step {
			carried = append(carried, stepFields(s)...)
		}
	}
	return view.Page{
		Title:  "Become a service provider",
		Form:   form,
		Errors: errs,
		Data: registerData{
			Step:        step,
			Carried:     carried,
			Categories:  serviceCategories,
			Experiences: experienceLevels,
		},
	}
}

// RegisterScreen はサービス提供者の3ステップ登録画面を生成する。
// 各ステップの入力は隠しフィールドで次のステップへ引き継ぐ。
//
//	GET  /auth/register
//	POST /auth/register
func (h *AuthHandler) RegisterScreen() (http.Handler, error) {
	screen, err := h.renderer.Screen("register")
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		screen.Render(w, r, http.StatusOK, registerPage(1, map[string]string{}, nil))
	})
	r.With(h.authLimit).Post("/", h.register(screen))
	return r, nil
}

func (h *AuthHandler) register(screen *view.Screen) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		step, err := strconv.Atoi(r.FormValue("step"))
		if err != nil || step < 1 || step > registerSteps {
			step = 1
		}

		form := formValues(r, slices.Concat(personalFields, serviceFields, businessFields)...)
		form["password"] = r.FormValue("password")
		form["confirmPassword"] = r.FormValue("confirmPassword")

		if r.FormValue("back") != "" && step > 1 {
			screen.Render(w, r, http.StatusOK, registerPage(step-1, form, nil))
			return
		}

		errs := validateRegisterStep(step, form)
		if !errs.ok() {
			screen.Render(w, r, http.StatusUnprocessableEntity, registerPage(step, form, errs))
			return
		}
		if step < registerSteps {
			screen.Render(w, r, http.StatusOK, registerPage(step+1, form, nil))
			return
		}

		// 最終ステップでは前のステップの改ざんも検出する
		for s := 1; s < registerSteps; s++ {
			if errs := validateRegisterStep(s, form); !errs.ok() {
				screen.Render(w, r, http.StatusUnprocessableEntity, registerPage(s, form, errs))
				return
			}
		}

		message, err := h.backend.Register(r.Context(), registerRequest(form))
		if err != nil {
			h.logger.Info("registration rejected", slog.String("error", err.Error()))
			page := registerPage(step, form, nil)
			page.Notices = append(page.Notices, view.Failure(backend.Notice(err)))
			screen.Render(w, r, failureStatus(err), page)
			return
		}
		if message == "" {
			message = "Registration successful! Please check your email to verify your account."
		}
		redirectWith(w, r, guard.LoginPath, view.Success(message))
	}
}

// validateRegisterStep は登録フォームの指定ステップを検証する。
func validateRegisterStep(step int, form map[string]string) fieldErrors {
	errs := fieldErrors{}
	switch step {
	case 1:
		validateRequired(errs, "firstName", form["firstName"], "First name is required")
		validateRequired(errs, "lastName", form["lastName"], "Last name is required")
		validateEmail(errs, "email", form["email"])
		validatePhone(errs, "phone", form["phone"])
		validatePassword(errs, form["password"], form["confirmPassword"])
	case 2:
		validateRequired(errs, "serviceName", form["serviceName"], "Service name is required")
		validateMinLength(errs, "serviceDescription", form["serviceDescription"], 10, "Description must be at least 10 characters")
		validateOneOf(errs, "serviceCategory", form["serviceCategory"], serviceCategories, "Please select a service category")
		validatePositiveNumber(errs, "hourlyRate", form["hourlyRate"], "Hourly rate must be a positive number")
		validateOneOf(errs, "experience", form["experience"], experienceLevels, "Please select your experience level")
	case 3:
		validateOneOf(errs, "accountType", form["accountType"], accountTypes, "Please select an account type")
		if form["accountType"] == string(model.AccountTypeBusiness) {
			const msg = "Business name and registration number are required for business accounts"
			validateRequired(errs, "businessName", form["businessName"], msg)
			validateRequired(errs, "businessRegistrationNumber", form["businessRegistrationNumber"], msg)
		}
	}
	return errs
}

func registerRequest(form map[string]string) backend.RegisterRequest {
	req := backend.RegisterRequest{
		FirstName:          form["firstName"],
		LastName:           form["lastName"],
		Email:              form["email"],
		Phone:              form["phone"],
		Password:           form["password"],
		ServiceName:        form["serviceName"],
		ServiceDescription: form["serviceDescription"],
		ServiceCategory:    form["serviceCategory"],
		HourlyRate:         form["hourlyRate"],
		Experience:         form["experience"],
		AccountType:        model.AccountType(form["accountType"]),
	}
	if req.AccountType == model.AccountTypeBusiness {
		req.BusinessName = form["businessName"]
		req.BusinessRegistrationNumber = form["businessRegistrationNumber"]
		req.BusinessAddress = form["businessAddress"]
		req.TaxID = form["taxId"]
	}
	return req
}

// --- パスワード再設定 ---

// ForgotPasswordScreen はパスワード再設定の申請画面を生成する。
//
//	GET  /auth/forgot-password
//	POST /auth/forgot-password
func (h *AuthHandler) ForgotPasswordScreen() (http.Handler, error) {
	screen, err := h.renderer.Screen("forgot-password")
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		screen.Render(w, r, http.StatusOK, view.Page{Title: "Reset your password"})
	})
	r.With(h.authLimit).Post("/", func(w http.ResponseWriter, r *http.Request) {
		email := formValues(r, "email")["email"]
		page := view.Page{Title: "Reset your password", Form: map[string]string{"email": email}}

		errs := fieldErrors{}
		validateEmail(errs, "email", email)
		if !errs.ok() {
			page.Errors = errs
			screen.Render(w, r, http.StatusUnprocessableEntity, page)
			return
		}

		if err := h.backend.RequestPasswordReset(r.Context(), email); err != nil {
			page.Notices = append(page.Notices, view.Failure(backend.Notice(err)))
			screen.Render(w, r, failureStatus(err), page)
			return
		}
		redirectWith(w, r, guard.LoginPath, view.Success("Password reset link sent to your email"))
	})
	return r, nil
}

// --- ログアウト ---

// LogoutScreen はログアウト画面を生成する。
// POSTでセッションの認証情報を一括で消去する。
//
//	GET  /auth/logout
//	POST /auth/logout
func (h *AuthHandler) LogoutScreen() (http.Handler, error) {
	screen, err := h.renderer.Screen("logout")
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		screen.Render(w, r, http.StatusOK, view.Page{Title: "Log out"})
	})
	r.Post("/", func(w http.ResponseWriter, r *http.Request) {
		if store, ok := session.FromContext(r.Context()); ok {
			userID := ""
			if id := store.State().Identity; id != nil {
				userID = id.ID
			}
			if err := store.Logout(r.Context()); err != nil {
				h.logger.Error("failed to persist logout", slog.String("error", err.Error()))
			}
			h.logger.Info("user logged out", slog.String("user_id", userID))
		}
		h.clearPendingEmail(w)
		redirectWith(w, r, guard.LoginPath, view.Info("You have been logged out"))
	})
	return r, nil
}

// --- アクセス拒否 ---

// AccessDeniedScreen は利用者種別が一致しない場合の画面を生成する。
//
//	GET /access-denied
func (h *AuthHandler) AccessDeniedScreen() (http.Handler, error) {
	screen, err := h.renderer.Screen("access-denied")
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		state := session.StateFromContext(r.Context())
		screen.Render(w, r, http.StatusForbidden, view.Page{
			Title: "Access denied",
			Data:  HomePathFor(state.Identity),
		})
	})
	return r, nil
}

// failureStatus はバックエンドエラーを再描画時のステータスコードに変換する。
func failureStatus(err error) int {
	e, ok := backend.AsError(err)
	if !ok {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case backend.KindServer, backend.KindNetwork:
		return http.StatusBadGateway
	case backend.KindUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusUnprocessableEntity
	}
}
