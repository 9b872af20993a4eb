package backend

import (
	"context"
	"fmt"
	"net/http"

	"github.com/hitoshi/servease-console/internal/model"
)

// apiPermission はバックエンドが返す権限オブジェクト。
type apiPermission struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// apiRole はバックエンドが返すロールオブジェクト。
type apiRole struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Permissions []apiPermission `json:"permissions"`
}

// apiProfile は /auth/profile および /admin/users のユーザー表現。
type apiProfile struct {
	ID            string   `json:"id"`
	Email         string   `json:"email"`
	AccountType   string   `json:"accountType"`
	AccountStatus string   `json:"accountStatus"`
	RoleID        *string  `json:"roleId"`
	Role          *apiRole `json:"role"`
	TenantID      *string  `json:"tenantId"`
	CityID        *string  `json:"cityId"`
}

var accountStatusMap = map[string]model.AccountStatus{
	"ACTIVE":      model.AccountStatusActive,
	"SUSPENDED":   model.AccountStatusSuspended,
	"BLACKLISTED": model.AccountStatusBlacklisted,
	"PENDING_KYC": model.AccountStatusPendingKYC,
}

var userTypeMap = map[string]model.UserType{
	"admin":                              model.UserTypeAdmin,
	string(model.AccountTypeIndependent): model.UserTypeServiceProvider,
	string(model.AccountTypeBusiness):    model.UserTypeServiceProvider,
}

// ParseAccountStatus はバックエンドのアカウント状態を変換する。未知の値はactive。
func ParseAccountStatus(s string) model.AccountStatus {
	if status, ok := accountStatusMap[s]; ok {
		return status
	}
	return model.AccountStatusActive
}

// toIdentity はプロフィールをセッションのIdentityに変換する。
// 未知のaccountTypeはservice-provider、未知のaccountStatusはactiveとして扱う。
func (p apiProfile) toIdentity() *model.Identity {
	userType, ok := userTypeMap[p.AccountType]
	if !ok {
		userType = model.UserTypeServiceProvider
	}

	identity := &model.Identity{
		ID:            p.ID,
		Email:         p.Email,
		UserType:      userType,
		AccountStatus: ParseAccountStatus(p.AccountStatus),
		Permissions:   []string{},
		TenantID:      deref(p.TenantID),
		CityID:        deref(p.CityID),
	}
	if p.AccountType != "admin" {
		identity.AccountType = model.AccountType(p.AccountType)
	}
	if p.Role != nil {
		identity.Role = p.Role.Name
		for _, perm := range p.Role.Permissions {
			identity.Permissions = append(identity.Permissions, perm.Name)
		}
	}
	return identity
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// SignIn はメールアドレスとパスワードで認証を開始する。
// 成功時（201）はOTPが送信されており、バックエンドのメッセージを返す。
func (c *Client) SignIn(ctx context.Context, email, password string) (string, error) {
	resp, err := c.Do(ctx, Request{
		Method: http.MethodPost,
		Path:   "/auth/signin",
		Body:   map[string]string{"email": email, "password": password},
	})
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("unexpected signin status %d, expected 201", resp.StatusCode)
	}

	var out struct {
		Message string `json:"message"`
	}
	if err := resp.Decode(&out); err != nil {
		return "", err
	}
	return out.Message, nil
}

// VerifyOTPResult はOTP検証の結果。
// バックエンドがユーザーを返さなかった場合Identityはnil。
type VerifyOTPResult struct {
	AccessToken  string
	RefreshToken string
	Identity     *model.Identity
}

// VerifyOTP はOTPを検証しトークンを取得する。
func (c *Client) VerifyOTP(ctx context.Context, email, otp string) (*VerifyOTPResult, error) {
	var out struct {
		AccessToken  string      `json:"accessToken"`
		RefreshToken string      `json:"refreshToken"`
		User         *apiProfile `json:"user"`
	}
	err := c.sendJSON(ctx, http.MethodPost, "/auth/signin/verify-otp",
		map[string]string{"email": email, "otp": otp}, &out)
	if err != nil {
		return nil, err
	}
	if out.AccessToken == "" {
		return nil, fmt.Errorf("verify-otp response has no access token")
	}

	result := &VerifyOTPResult{AccessToken: out.AccessToken, RefreshToken: out.RefreshToken}
	if out.User != nil {
		result.Identity = out.User.toIdentity()
	}
	return result, nil
}

// Profile はログイン中のユーザーのプロフィールを取得する。
func (c *Client) Profile(ctx context.Context) (*model.Identity, error) {
	var out apiProfile
	if err := c.getJSON(ctx, "/auth/profile", nil, &out); err != nil {
		return nil, err
	}
	return out.toIdentity(), nil
}

// ResendOTP はOTPを再送する。
func (c *Client) ResendOTP(ctx context.Context, email string) error {
	return c.sendJSON(ctx, http.MethodPost, "/auth/resend-otp", map[string]string{"email": email}, nil)
}

// RequestPasswordReset はパスワード再設定メールを要求する。
func (c *Client) RequestPasswordReset(ctx context.Context, email string) error {
	return c.sendJSON(ctx, http.MethodPost, "/auth/forgot-password", map[string]string{"email": email}, nil)
}

// RegisterRequest はサービス提供者の新規登録内容。
type RegisterRequest struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Password  string `json:"password"`

	ServiceName        string `json:"serviceName"`
	ServiceDescription string `json:"serviceDescription"`
	ServiceCategory    string `json:"serviceCategory"`
	HourlyRate         string `json:"hourlyRate"`
	Experience         string `json:"experience"`

	AccountType                model.AccountType `json:"accountType"`
	BusinessName               string            `json:"businessName,omitempty"`
	BusinessRegistrationNumber string            `json:"businessRegistrationNumber,omitempty"`
	BusinessAddress            string            `json:"businessAddress,omitempty"`
	TaxID                      string            `json:"taxId,omitempty"`
}

// Register はサービス提供者を登録し、バックエンドのメッセージを返す。
func (c *Client) Register(ctx context.Context, req RegisterRequest) (string, error) {
	var out struct {
		Message string `json:"message"`
	}
	if err := c.sendJSON(ctx, http.MethodPost, "/auth/register", req, &out); err != nil {
		return "", err
	}
	return out.Message, nil
}
