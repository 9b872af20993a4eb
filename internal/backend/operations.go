package backend

import (
	"context"
	"net/http"

	"github.com/hitoshi/servease-console/internal/model"
)

// ListBookings は予約一覧を取得する。
// フィルターキーは status, providerId, userId, startDate, endDate。
func (c *Client) ListBookings(ctx context.Context, filter Filter) ([]model.Booking, error) {
	var out []model.Booking
	if err := c.getJSON(ctx, "/admin/bookings", filter.Values(), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetBooking は予約を取得する。
func (c *Client) GetBooking(ctx context.Context, id string) (*model.Booking, error) {
	if id == "" {
		return nil, errEmptyID
	}
	var out model.Booking
	if err := c.getJSON(ctx, "/admin/bookings/"+escape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateBookingStatus は予約の状態を変更する。
func (c *Client) UpdateBookingStatus(ctx context.Context, id, status string) error {
	if id == "" {
		return errEmptyID
	}
	return c.sendJSON(ctx, http.MethodPatch, "/admin/bookings/"+escape(id)+"/status",
		map[string]string{"status": status}, nil)
}

// CancelBooking は予約をキャンセルする。reasonは空でもよい。
func (c *Client) CancelBooking(ctx context.Context, id, reason string) error {
	if id == "" {
		return errEmptyID
	}
	return c.sendJSON(ctx, http.MethodPost, "/admin/bookings/"+escape(id)+"/cancel",
		map[string]string{"reason": reason}, nil)
}

// refundBody は返金リクエスト。Amountがnilの場合は全額返金。
type refundBody struct {
	Amount *float64 `json:"amount,omitempty"`
}

// ListPayments は支払い一覧を取得する。
func (c *Client) ListPayments(ctx context.Context, filter Filter) ([]model.Payment, error) {
	var out []model.Payment
	if err := c.getJSON(ctx, "/admin/payments", filter.Values(), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetPayment は支払いを取得する。
func (c *Client) GetPayment(ctx context.Context, id string) (*model.Payment, error) {
	if id == "" {
		return nil, errEmptyID
	}
	var out model.Payment
	if err := c.getJSON(ctx, "/admin/payments/"+escape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RefundPayment は支払いを返金する。amountがnilの場合は全額返金。
func (c *Client) RefundPayment(ctx context.Context, id string, amount *float64) error {
	if id == "" {
		return errEmptyID
	}
	return c.sendJSON(ctx, http.MethodPost, "/admin/payments/"+escape(id)+"/refund", refundBody{Amount: amount}, nil)
}

// ListTransactions は取引一覧を取得する。
func (c *Client) ListTransactions(ctx context.Context, filter Filter) ([]model.Transaction, error) {
	var out []model.Transaction
	if err := c.getJSON(ctx, "/admin/transactions", filter.Values(), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetTransaction は取引を取得する。
func (c *Client) GetTransaction(ctx context.Context, id string) (*model.Transaction, error) {
	if id == "" {
		return nil, errEmptyID
	}
	var out model.Transaction
	if err := c.getJSON(ctx, "/admin/transactions/"+escape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RefundTransaction は取引を返金する。
func (c *Client) RefundTransaction(ctx context.Context, id string, amount *float64) error {
	if id == "" {
		return errEmptyID
	}
	return c.sendJSON(ctx, http.MethodPost, "/admin/transactions/"+escape(id)+"/refund", refundBody{Amount: amount}, nil)
}

// ListTickets はサポートチケット一覧を取得する。
func (c *Client) ListTickets(ctx context.Context, filter Filter) ([]model.SupportTicket, error) {
	var out []model.SupportTicket
	if err := c.getJSON(ctx, "/admin/support/tickets", filter.Values(), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetTicket はサポートチケットを取得する。
func (c *Client) GetTicket(ctx context.Context, id string) (*model.SupportTicket, error) {
	if id == "" {
		return nil, errEmptyID
	}
	var out model.SupportTicket
	if err := c.getJSON(ctx, "/admin/support/tickets/"+escape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdateTicketStatus はチケットの状態を変更する。
func (c *Client) UpdateTicketStatus(ctx context.Context, id, status string) error {
	return c.patchTicket(ctx, id, "status", map[string]string{"status": status})
}

// AssignTicket はチケットの担当者を設定する。
func (c *Client) AssignTicket(ctx context.Context, id, assignedTo string) error {
	return c.patchTicket(ctx, id, "assign", map[string]string{"assignedTo": assignedTo})
}

// UpdateTicketPriority はチケットの優先度を変更する。
func (c *Client) UpdateTicketPriority(ctx context.Context, id, priority string) error {
	return c.patchTicket(ctx, id, "priority", map[string]string{"priority": priority})
}

func (c *Client) patchTicket(ctx context.Context, id, action string, body map[string]string) error {
	if id == "" {
		return errEmptyID
	}
	return c.sendJSON(ctx, http.MethodPatch, "/admin/support/tickets/"+escape(id)+"/"+action, body, nil)
}
