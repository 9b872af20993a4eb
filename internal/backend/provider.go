package backend

import (
	"context"
	"net/http"

	"github.com/hitoshi/servease-console/internal/model"
)

// ProviderDashboard はログイン中のサービス提供者のダッシュボード集計を取得する。
func (c *Client) ProviderDashboard(ctx context.Context) (*model.ProviderDashboard, error) {
	var out model.ProviderDashboard
	if err := c.getJSON(ctx, "/provider/dashboard", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ProviderServices はログイン中のサービス提供者のサービス一覧を取得する。
func (c *Client) ProviderServices(ctx context.Context) ([]model.ProviderService, error) {
	var out []model.ProviderService
	if err := c.getJSON(ctx, "/provider/services", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ProviderBookings はログイン中のサービス提供者の予約一覧を取得する。
func (c *Client) ProviderBookings(ctx context.Context, filter Filter) ([]model.Booking, error) {
	var out []model.Booking
	if err := c.getJSON(ctx, "/provider/bookings", filter.Values(), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// ProviderKYCStatus はログイン中のサービス提供者の本人確認状況を取得する。
func (c *Client) ProviderKYCStatus(ctx context.Context) (*model.ProviderKYCStatus, error) {
	var out model.ProviderKYCStatus
	if err := c.getJSON(ctx, "/provider/kyc", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SubmitKYCDocuments は本人確認書類をmultipartでアップロードする。
func (c *Client) SubmitKYCDocuments(ctx context.Context, documentType string, files []File) error {
	_, err := c.Do(ctx, Request{
		Method:  http.MethodPost,
		Path:    "/provider/kyc/documents",
		Payload: PayloadMultipart,
		Fields:  map[string]string{"documentType": documentType},
		Files:   files,
	})
	return err
}
