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

// BusinessBackend はテナント、都市、予約、決済の画面が必要とするバックエンド操作。
type BusinessBackend interface {
	ListTenants(ctx context.Context) ([]model.Tenant, error)
	CreateTenant(ctx context.Context, params backend.TenantParams) (*model.Tenant, error)
	UpdateTenant(ctx context.Context, id string, params backend.TenantParams) (*model.Tenant, error)

	ListCities(ctx context.Context) ([]model.City, error)
	CreateCity(ctx context.Context, params backend.CityParams) (*model.City, error)
	UpdateCity(ctx context.Context, id string, params backend.CityParams) (*model.City, error)

	ListBookings(ctx context.Context, filter backend.Filter) ([]model.Booking, error)
	UpdateBookingStatus(ctx context.Context, id, status string) error
	CancelBooking(ctx context.Context, id, reason string) error

	ListTransactions(ctx context.Context, filter backend.Filter) ([]model.Transaction, error)
	RefundTransaction(ctx context.Context, id string, amount *float64) error

	ListPayments(ctx context.Context, filter backend.Filter) ([]model.Payment, error)
	RefundPayment(ctx context.Context, id string, amount *float64) error
}

var (
	bookingStatuses  = []string{"pending", "confirmed", "in-progress", "completed", "cancelled"}
	paymentStatuses  = []string{"pending", "completed", "failed", "refunded"}
	transactionTypes = []string{"payment", "refund", "payout"}
)

// BusinessHandler はテナントと取引系の画面ハンドラー。
type BusinessHandler struct {
	base
	backend BusinessBackend
}

// NewBusinessHandler はBusinessHandlerを生成する。
func NewBusinessHandler(deps ScreenDeps) *BusinessHandler {
	return &BusinessHandler{base: newBase(deps), backend: deps.Backend}
}

// checked はチェックボックスの値をboolに変換する。未チェックはfalseとして送信する。
func checked(value string) *bool {
	b := value == "true"
	return &b
}

func boolValue(b bool) string {
	if b {
		return "true"
	}
	return ""
}

// --- テナント ---

type tenantsData struct {
	Tenants []model.Tenant
	Editing *model.Tenant
}

func findTenant(tenants []model.Tenant, id string) *model.Tenant {
	for i := range tenants {
		if tenants[i].ID == id {
			return &tenants[i]
		}
	}
	return nil
}

// TenantsScreen はテナント管理画面を生成する。
//
//	GET  /admin/tenants[?edit={id}]
//	POST /admin/tenants        (TENANT_MANAGE)
//	POST /admin/tenants/{id}   (TENANT_MANAGE)
func (h *BusinessHandler) TenantsScreen() (http.Handler, error) {
	screen, err := h.renderer.Screen("admin-tenants")
	if err != nil {
		return nil, err
	}

	render := func(w http.ResponseWriter, r *http.Request, status int, editID string, page view.Page) {
		tenants, err := h.backend.ListTenants(r.Context())
		if err != nil && h.loadFailed(w, r, err, &page) {
			return
		}
		page.Data = tenantsData{Tenants: tenants, Editing: findTenant(tenants, editID)}
		screen.Render(w, r, status, page)
	}

	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		tenants, err := h.backend.ListTenants(r.Context())
		page := view.Page{Form: map[string]string{"enabled": "true"}}
		if err != nil && h.loadFailed(w, r, err, &page) {
			return
		}
		editing := findTenant(tenants, r.URL.Query().Get("edit"))
		if editing != nil {
			page.Form = map[string]string{
				"name":        editing.Name,
				"adminUserId": editing.AdminUserID,
				"enabled":     boolValue(editing.Enabled),
			}
		}
		page.Data = tenantsData{Tenants: tenants, Editing: editing}
		screen.Render(w, r, http.StatusOK, page)
	})

	save := func(w http.ResponseWriter, r *http.Request) {
		const back = "/admin/tenants"
		id := chi.URLParam(r, "id")
		form := formValues(r, "name", "adminUserId", "enabled")

		errs := fieldErrors{}
		validateRequired(errs, "name", form["name"], "Tenant name is required")
		if !errs.ok() {
			render(w, r, http.StatusUnprocessableEntity, id, view.Page{Form: form, Errors: errs})
			return
		}

		params := backend.TenantParams{Name: form["name"], Enabled: checked(form["enabled"])}
		var err error
		if id == "" {
			_, err = h.backend.CreateTenant(r.Context(), params)
		} else {
			params.AdminUserID = form["adminUserId"]
			_, err = h.backend.UpdateTenant(r.Context(), id, params)
		}
		if err != nil {
			h.actionFailed(w, r, back, err)
			return
		}
		redirectWith(w, r, back, view.Success("Tenant saved"))
	}

	r.Group(func(r chi.Router) {
		r.Use(h.require(model.PermTenantManage))
		r.Post("/", save)
		r.Post("/{id}", save)
	})
	return r, nil
}

// --- 都市 ---

type citiesData struct {
	Cities  []model.City
	Editing *model.City
	Tenants []model.Tenant
}

func findCity(cities []model.City, id string) *model.City {
	for i := range cities {
		if cities[i].ID == id {
			return &cities[i]
		}
	}
	return nil
}

// CitiesScreen は都市管理画面を生成する。テナント一覧は選択肢として取得する。
//
//	GET  /admin/cities[?edit={id}]
//	POST /admin/cities        (TENANT_MANAGE)
//	POST /admin/cities/{id}   (TENANT_MANAGE)
func (h *BusinessHandler) CitiesScreen() (http.Handler, error) {
	screen, err := h.renderer.Screen("admin-cities")
	if err != nil {
		return nil, err
	}

	load := func(w http.ResponseWriter, r *http.Request, page *view.Page) ([]model.City, []model.Tenant, bool) {
		cities, err := h.backend.ListCities(r.Context())
		if err != nil && h.loadFailed(w, r, err, page) {
			return nil, nil, false
		}
		tenants, err := h.backend.ListTenants(r.Context())
		if err != nil && h.loadFailed(w, r, err, page) {
			return nil, nil, false
		}
		return cities, tenants, true
	}

	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		page := view.Page{Form: map[string]string{"enabled": "true"}}
		cities, tenants, ok := load(w, r, &page)
		if !ok {
			return
		}
		editing := findCity(cities, r.URL.Query().Get("edit"))
		if editing != nil {
			page.Form = map[string]string{
				"name":     editing.Name,
				"tenantId": editing.TenantID,
				"enabled":  boolValue(editing.Enabled),
			}
		}
		page.Data = citiesData{Cities: cities, Editing: editing, Tenants: tenants}
		screen.Render(w, r, http.StatusOK, page)
	})

	save := func(w http.ResponseWriter, r *http.Request) {
		const back = "/admin/cities"
		id := chi.URLParam(r, "id")
		form := formValues(r, "name", "tenantId", "enabled")

		errs := fieldErrors{}
		validateRequired(errs, "name", form["name"], "City name is required")
		if !errs.ok() {
			page := view.Page{Form: form, Errors: errs}
			cities, tenants, ok := load(w, r, &page)
			if !ok {
				return
			}
			page.Data = citiesData{Cities: cities, Editing: findCity(cities, id), Tenants: tenants}
			screen.Render(w, r, http.StatusUnprocessableEntity, page)
			return
		}

		params := backend.CityParams{Name: form["name"], Enabled: checked(form["enabled"]), TenantID: form["tenantId"]}
		var err error
		if id == "" {
			_, err = h.backend.CreateCity(r.Context(), params)
		} else {
			_, err = h.backend.UpdateCity(r.Context(), id, params)
		}
		if err != nil {
			h.actionFailed(w, r, back, err)
			return
		}
		redirectWith(w, r, back, view.Success("City saved"))
	}

	r.Group(func(r chi.Router) {
		r.Use(h.require(model.PermTenantManage))
		r.Post("/", save)
		r.Post("/{id}", save)
	})
	return r, nil
}

// --- 予約 ---

type bookingsData struct {
	Bookings []model.Booking
	Filter   backend.Filter
	Statuses []string
}

// BookingsScreen は予約一覧画面を生成する。
//
//	GET  /admin/bookings
//	POST /admin/bookings/{id}/status   (BOOKING_MANAGE)
//	POST /admin/bookings/{id}/cancel   (BOOKING_MANAGE)
func (h *BusinessHandler) BookingsScreen() (http.Handler, error) {
	screen, err := h.renderer.Screen("admin-bookings")
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		filter := backend.FilterFromQuery(r.URL.Query(), "status", "userId", "providerId")
		page := view.Page{}
		bookings, err := h.backend.ListBookings(r.Context(), filter)
		if err != nil && h.loadFailed(w, r, err, &page) {
			return
		}
		page.Data = bookingsData{Bookings: bookings, Filter: filter, Statuses: bookingStatuses}
		screen.Render(w, r, http.StatusOK, page)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.require(model.PermBookingManage))
		r.Post("/{id}/status", func(w http.ResponseWriter, r *http.Request) {
			const back = "/admin/bookings"
			status := formValues(r, "status")["status"]
			if !slices.Contains(bookingStatuses, status) {
				redirectWith(w, r, back, view.Failure("Unknown booking status"))
				return
			}
			if err := h.backend.UpdateBookingStatus(r.Context(), chi.URLParam(r, "id"), status); err != nil {
				h.actionFailed(w, r, back, err)
				return
			}
			redirectWith(w, r, back, view.Success("Booking status updated"))
		})
		r.Post("/{id}/cancel", func(w http.ResponseWriter, r *http.Request) {
			const back = "/admin/bookings"
			reason := formValues(r, "reason")["reason"]
			if err := h.backend.CancelBooking(r.Context(), chi.URLParam(r, "id"), reason); err != nil {
				h.actionFailed(w, r, back, err)
				return
			}
			redirectWith(w, r, back, view.Success("Booking cancelled"))
		})
	})
	return r, nil
}

// --- 取引と支払い ---

type transactionsData struct {
	Transactions []model.Transaction
	Filter       backend.Filter
	Types        []string
}

// TransactionsScreen は取引履歴画面を生成する。
//
//	GET  /admin/transactions
//	POST /admin/transactions/{id}/refund   (PAYMENT_REFUND)
func (h *BusinessHandler) TransactionsScreen() (http.Handler, error) {
	screen, err := h.renderer.Screen("admin-transactions")
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		filter := backend.FilterFromQuery(r.URL.Query(), "type", "status", "userId", "bookingId")
		page := view.Page{}
		txs, err := h.backend.ListTransactions(r.Context(), filter)
		if err != nil && h.loadFailed(w, r, err, &page) {
			return
		}
		page.Data = transactionsData{Transactions: txs, Filter: filter, Types: transactionTypes}
		screen.Render(w, r, http.StatusOK, page)
	})
	r.With(h.require(model.PermPaymentRefund)).
		Post("/{id}/refund", h.refund("/admin/transactions", h.backend.RefundTransaction))
	return r, nil
}

type paymentsData struct {
	Payments []model.Payment
	Filter   backend.Filter
	Statuses []string
}

// PaymentsScreen は支払い一覧画面を生成する。
//
//	GET  /admin/payments
//	POST /admin/payments/{id}/refund   (PAYMENT_REFUND)
func (h *BusinessHandler) PaymentsScreen() (http.Handler, error) {
	screen, err := h.renderer.Screen("admin-payments")
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		filter := backend.FilterFromQuery(r.URL.Query(), "status", "bookingId")
		page := view.Page{}
		payments, err := h.backend.ListPayments(r.Context(), filter)
		if err != nil && h.loadFailed(w, r, err, &page) {
			return
		}
		page.Data = paymentsData{Payments: payments, Filter: filter, Statuses: paymentStatuses}
		screen.Render(w, r, http.StatusOK, page)
	})
	r.With(h.require(model.PermPaymentRefund)).
		Post("/{id}/refund", h.refund("/admin/payments", h.backend.RefundPayment))
	return r, nil
}

// refund は返金操作のハンドラーを返す。金額が空なら全額返金する。
func (h *BusinessHandler) refund(back string, fn func(ctx context.Context, id string, amount *float64) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		amount, ok := parseAmount(r.FormValue("amount"))
		if !ok {
			redirectWith(w, r, back, view.Failure("Refund amount must be a positive number"))
			return
		}
		if err := fn(r.Context(), chi.URLParam(r, "id"), amount); err != nil {
			h.actionFailed(w, r, back, err)
			return
		}
		redirectWith(w, r, back, view.Success("Refund issued"))
	}
}
