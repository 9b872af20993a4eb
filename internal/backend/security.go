package backend

import (
	"context"
	"net/http"

	"github.com/hitoshi/servease-console/internal/model"
)

// ListBlacklistedIPs はアクセス拒否IPの一覧を取得する。
func (c *Client) ListBlacklistedIPs(ctx context.Context) ([]model.BlacklistedIP, error) {
	var out []model.BlacklistedIP
	if err := c.getJSON(ctx, "/admin/security/ips", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// AddBlacklistedIP はIPをアクセス拒否リストに追加する。
func (c *Client) AddBlacklistedIP(ctx context.Context, ip string) error {
	return c.sendJSON(ctx, http.MethodPost, "/admin/security/ips", map[string]string{"ip": ip}, nil)
}

// RemoveBlacklistedIP はIPをアクセス拒否リストから削除する。
func (c *Client) RemoveBlacklistedIP(ctx context.Context, ip string) error {
	return c.deleteByID(ctx, "/admin/security/ips/", ip)
}

// BlockEmail はメールアドレスを登録拒否にする。
func (c *Client) BlockEmail(ctx context.Context, email string) error {
	return c.sendJSON(ctx, http.MethodPost, "/admin/security/emails", map[string]string{"email": email}, nil)
}

// DashboardMetrics は管理者ダッシュボードの集計値を取得する。
func (c *Client) DashboardMetrics(ctx context.Context) (*model.DashboardMetrics, error) {
	var out model.DashboardMetrics
	if err := c.getJSON(ctx, "/admin/dashboard/metrics", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DashboardAlerts は管理者ダッシュボードの警告一覧を取得する。
func (c *Client) DashboardAlerts(ctx context.Context) ([]model.DashboardAlert, error) {
	var out []model.DashboardAlert
	if err := c.getJSON(ctx, "/admin/dashboard/alerts", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}
