package handler

import (
	"context"
	"net/http"
	"slices"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/servease-console/internal/backend"
	"github.com/hitoshi/servease-console/internal/model"
	"github.com/hitoshi/servease-console/internal/view"
)

// SupportBackend はカスタマーサポート画面が必要とするバックエンド操作。
type SupportBackend interface {
	ListTickets(ctx context.Context, filter backend.Filter) ([]model.SupportTicket, error)
	UpdateTicketStatus(ctx context.Context, id, status string) error
	UpdateTicketPriority(ctx context.Context, id, priority string) error
	AssignTicket(ctx context.Context, id, assignedTo string) error
}

var (
	ticketStatuses   = []string{"open", "in-progress", "resolved", "closed"}
	ticketPriorities = []string{"low", "medium", "high", "urgent"}
)

const supportPath = "/admin/customer-support"

// SupportHandler はカスタマーサポートの画面ハンドラー。
type SupportHandler struct {
	base
	backend SupportBackend
}

// NewSupportHandler はSupportHandlerを生成する。
func NewSupportHandler(deps ScreenDeps) *SupportHandler {
	return &SupportHandler{base: newBase(deps), backend: deps.Backend}
}

type ticketsData struct {
	Tickets    []model.SupportTicket
	Filter     backend.Filter
	Statuses   []string
	Priorities []string
}

// TicketsScreen は問い合わせ一覧画面を生成する。
//
//	GET  /admin/customer-support
//	POST /admin/customer-support/{id}/status     (SUPPORT_MANAGE)
//	POST /admin/customer-support/{id}/priority   (SUPPORT_MANAGE)
//	POST /admin/customer-support/{id}/assign     (SUPPORT_MANAGE)
func (h *SupportHandler) TicketsScreen() (http.Handler, error) {
	screen, err := h.renderer.Screen("admin-support")
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		filter := backend.FilterFromQuery(r.URL.Query(), "status", "priority", "assignedTo")
		page := view.Page{}
		tickets, err := h.backend.ListTickets(r.Context(), filter)
		if err != nil && h.loadFailed(w, r, err, &page) {
			return
		}
		page.Data = ticketsData{
			Tickets:    tickets,
			Filter:     filter,
			Statuses:   ticketStatuses,
			Priorities: ticketPriorities,
		}
		screen.Render(w, r, http.StatusOK, page)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.require(model.PermSupportManage))
		r.Post("/{id}/status", h.choice("status", ticketStatuses, h.backend.UpdateTicketStatus, "Ticket status updated"))
		r.Post("/{id}/priority", h.choice("priority", ticketPriorities, h.backend.UpdateTicketPriority, "Ticket priority updated"))
		r.Post("/{id}/assign", func(w http.ResponseWriter, r *http.Request) {
			assignee := formValues(r, "assignedTo")["assignedTo"]
			if assignee == "" {
				redirectWith(w, r, supportPath, view.Failure("Enter the ID of the agent to assign"))
				return
			}
			if err := h.backend.AssignTicket(r.Context(), chi.URLParam(r, "id"), assignee); err != nil {
				h.actionFailed(w, r, supportPath, err)
				return
			}
			redirectWith(w, r, supportPath, view.Success("Ticket assigned"))
		})
	})
	return r, nil
}

// choice は選択肢から1つを送信する更新操作のハンドラーを返す。
func (h *SupportHandler) choice(field string, allowed []string, fn func(ctx context.Context, id, value string) error, done string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		value := formValues(r, field)[field]
		if !slices.Contains(allowed, value) {
			redirectWith(w, r, supportPath, view.Failure("Unknown "+field+": "+value))
			return
		}
		if err := fn(r.Context(), chi.URLParam(r, "id"), value); err != nil {
			h.actionFailed(w, r, supportPath, err)
			return
		}
		redirectWith(w, r, supportPath, view.Success(done))
	}
}
