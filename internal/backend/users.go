package backend

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode"

	"github.com/hitoshi/servease-console/internal/model"
)

// Filter は一覧取得のクエリパラメータ。空の値は送信しない。
type Filter map[string]string

// Values はフィルターをクエリパラメータに変換する。
func (f Filter) Values() url.Values {
	v := url.Values{}
	for k, val := range f {
		if val = strings.TrimSpace(val); val != "" {
			v.Set(k, val)
		}
	}
	return v
}

// FilterFromQuery はリクエストのクエリから指定キーの値を取り出す。
func FilterFromQuery(q url.Values, keys ...string) Filter {
	f := Filter{}
	for _, k := range keys {
		if v := strings.TrimSpace(q.Get(k)); v != "" {
			f[k] = v
		}
	}
	return f
}

// apiUser は /admin/users のユーザー表現。
type apiUser struct {
	apiProfile
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (u apiUser) toUser() model.User {
	return model.User{
		ID:        u.ID,
		Name:      displayNameFromEmail(u.Email),
		Email:     u.Email,
		Role:      u.roleName(),
		Status:    ParseAccountStatus(u.AccountStatus),
		TenantID:  deref(u.TenantID),
		CityID:    deref(u.CityID),
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

func (u apiUser) roleName() string {
	if u.Role != nil {
		return u.Role.Name
	}
	switch u.AccountType {
	case "admin":
		return "Admin"
	case string(model.AccountTypeIndependent), string(model.AccountTypeBusiness):
		return "Service Provider"
	case "customer":
		return "Customer"
	default:
		return "User"
	}
}

// displayNameFromEmail はメールアドレスのローカル部から表示名を作る。
// "jane.doe@x" は "Jane Doe" になる。
func displayNameFromEmail(email string) string {
	local, _, _ := strings.Cut(email, "@")
	parts := strings.FieldsFunc(local, func(r rune) bool {
		return r == '.' || r == '_' || r == '-'
	})
	for i, p := range parts {
		runes := []rune(p)
		runes[0] = unicode.ToUpper(runes[0])
		parts[i] = string(runes)
	}
	return strings.Join(parts, " ")
}

// ListUsers はユーザー一覧を取得する。フィルターキーは role, status, tenant, city。
func (c *Client) ListUsers(ctx context.Context, filter Filter) ([]model.User, error) {
	var out []apiUser
	if err := c.getJSON(ctx, "/admin/users", filter.Values(), &out); err != nil {
		return nil, err
	}
	users := make([]model.User, len(out))
	for i, u := range out {
		users[i] = u.toUser()
	}
	return users, nil
}

// GetUser はユーザーを取得する。
func (c *Client) GetUser(ctx context.Context, id string) (*model.User, error) {
	if id == "" {
		return nil, errEmptyID
	}
	var out apiUser
	if err := c.getJSON(ctx, "/admin/users/"+escape(id), nil, &out); err != nil {
		return nil, err
	}
	u := out.toUser()
	return &u, nil
}

// UpdateUserStatus はユーザーのアカウント状態を変更する。
func (c *Client) UpdateUserStatus(ctx context.Context, id, status string) error {
	if id == "" {
		return errEmptyID
	}
	return c.sendJSON(ctx, http.MethodPatch, "/admin/users/"+escape(id)+"/status",
		map[string]string{"status": status}, nil)
}

// ForceUserLogout はユーザーの全セッションを無効化する。
func (c *Client) ForceUserLogout(ctx context.Context, id string) error {
	if id == "" {
		return errEmptyID
	}
	_, err := c.Do(ctx, Request{Method: http.MethodPost, Path: "/admin/users/" + escape(id) + "/logout"})
	return err
}

// ListRoles はロール一覧を取得する。
func (c *Client) ListRoles(ctx context.Context) ([]model.Role, error) {
	var out []model.Role
	if err := c.getJSON(ctx, "/admin/roles", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// RoleParams はロールの作成・更新内容。
type RoleParams struct {
	Name        string   `json:"name,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// CreateRole はロールを作成する。
func (c *Client) CreateRole(ctx context.Context, params RoleParams) (*model.Role, error) {
	var out model.Role
	if err := c.sendJSON(ctx, http.MethodPost, "/admin/roles", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateRole はロールを更新する。
func (c *Client) UpdateRole(ctx context.Context, id string, params RoleParams) (*model.Role, error) {
	if id == "" {
		return nil, errEmptyID
	}
	var out model.Role
	if err := c.sendJSON(ctx, http.MethodPatch, "/admin/roles/"+escape(id), params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListKYCSubmissions は本人確認の提出物一覧を取得する。
func (c *Client) ListKYCSubmissions(ctx context.Context, filter Filter) ([]model.KYCSubmission, error) {
	var out []model.KYCSubmission
	if err := c.getJSON(ctx, "/admin/kyc", filter.Values(), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ApproveKYC は提出物を承認する。
func (c *Client) ApproveKYC(ctx context.Context, id string) error {
	if id == "" {
		return errEmptyID
	}
	_, err := c.Do(ctx, Request{Method: http.MethodPatch, Path: "/admin/kyc/" + escape(id) + "/approve"})
	return err
}

// RejectKYC は提出物を理由付きで却下する。
func (c *Client) RejectKYC(ctx context.Context, id, reason string) error {
	if id == "" {
		return errEmptyID
	}
	return c.sendJSON(ctx, http.MethodPatch, "/admin/kyc/"+escape(id)+"/reject",
		map[string]string{"reason": reason}, nil)
}

// ListTenants はテナント一覧を取得する。
func (c *Client) ListTenants(ctx context.Context) ([]model.Tenant, error) {
	var out []model.Tenant
	if err := c.getJSON(ctx, "/admin/tenants", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// TenantParams はテナントの作成・更新内容。
type TenantParams struct {
	Name        string `json:"name,omitempty"`
	Enabled     *bool  `json:"enabled,omitempty"`
	AdminUserID string `json:"adminUserId,omitempty"`
}

// CreateTenant はテナントを作成する。
func (c *Client) CreateTenant(ctx context.Context, params TenantParams) (*model.Tenant, error) {
	var out model.Tenant
	if err := c.sendJSON(ctx, http.MethodPost, "/admin/tenants", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateTenant はテナントを更新する。
func (c *Client) UpdateTenant(ctx context.Context, id string, params TenantParams) (*model.Tenant, error) {
	if id == "" {
		return nil, errEmptyID
	}
	var out model.Tenant
	if err := c.sendJSON(ctx, http.MethodPatch, "/admin/tenants/"+escape(id), params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListCities は都市一覧を取得する。
func (c *Client) ListCities(ctx context.Context) ([]model.City, error) {
	var out []model.City
	if err := c.getJSON(ctx, "/admin/cities", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CityParams は都市の作成・更新内容。
type CityParams struct {
	Name     string `json:"name,omitempty"`
	Enabled  *bool  `json:"enabled,omitempty"`
	TenantID string `json:"tenantId,omitempty"`
}

// CreateCity は都市を作成する。
func (c *Client) CreateCity(ctx context.Context, params CityParams) (*model.City, error) {
	var out model.City
	if err := c.sendJSON(ctx, http.MethodPost, "/admin/cities", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateCity は都市を更新する。
func (c *Client) UpdateCity(ctx context.Context, id string, params CityParams) (*model.City, error) {
	if id == "" {
		return nil, errEmptyID
	}
	var out model.City
	if err := c.sendJSON(ctx, http.MethodPatch, "/admin/cities/"+escape(id), params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
