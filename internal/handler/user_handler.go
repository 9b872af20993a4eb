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

// UserBackend はユーザー、ロール、本人確認の画面が必要とするバックエンド操作。
type UserBackend interface {
	ListUsers(ctx context.Context, filter backend.Filter) ([]model.User, error)
	UpdateUserStatus(ctx context.Context, id, status string) error
	ForceUserLogout(ctx context.Context, id string) error

	ListRoles(ctx context.Context) ([]model.Role, error)
	CreateRole(ctx context.Context, params backend.RoleParams) (*model.Role, error)
	UpdateRole(ctx context.Context, id string, params backend.RoleParams) (*model.Role, error)

	ListKYCSubmissions(ctx context.Context, filter backend.Filter) ([]model.KYCSubmission, error)
	ApproveKYC(ctx context.Context, id string) error
	RejectKYC(ctx context.Context, id, reason string) error
}

var (
	userStatuses = []string{
		string(model.AccountStatusActive),
		string(model.AccountStatusSuspended),
		string(model.AccountStatusBlacklisted),
		string(model.AccountStatusPendingKYC),
	}
	kycStatuses = []string{"pending", "approved", "rejected"}
)

// UserHandler はユーザー管理系の画面ハンドラー。
type UserHandler struct {
	base
	backend UserBackend
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(deps ScreenDeps) *UserHandler {
	return &UserHandler{base: newBase(deps), backend: deps.Backend}
}

// --- ユーザー ---

type usersData struct {
	Users    []model.User
	Filter   backend.Filter
	Statuses []string
}

// UsersScreen はユーザー一覧画面を生成する。
//
//	GET  /admin/users
//	POST /admin/users/{id}/status   (USER_MANAGE)
//	POST /admin/users/{id}/logout   (USER_MANAGE)
func (h *UserHandler) UsersScreen() (http.Handler, error) {
	screen, err := h.renderer.Screen("admin-users")
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		filter := backend.FilterFromQuery(r.URL.Query(), "search", "status")
		page := view.Page{}
		users, err := h.backend.ListUsers(r.Context(), filter)
		if err != nil && h.loadFailed(w, r, err, &page) {
			return
		}
		page.Data = usersData{Users: users, Filter: filter, Statuses: userStatuses}
		screen.Render(w, r, http.StatusOK, page)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.require(model.PermUserManage))
		r.Post("/{id}/status", h.updateUserStatus)
		r.Post("/{id}/logout", h.forceLogout)
	})
	return r, nil
}

func (h *UserHandler) updateUserStatus(w http.ResponseWriter, r *http.Request) {
	const back = "/admin/users"
	status := formValues(r, "status")["status"]
	if !slices.Contains(userStatuses, status) {
		redirectWith(w, r, back, view.Failure("Unknown account status"))
		return
	}
	if err := h.backend.UpdateUserStatus(r.Context(), chi.URLParam(r, "id"), status); err != nil {
		h.actionFailed(w, r, back, err)
		return
	}
	redirectWith(w, r, back, view.Success("User status updated"))
}

func (h *UserHandler) forceLogout(w http.ResponseWriter, r *http.Request) {
	const back = "/admin/users"
	if err := h.backend.ForceUserLogout(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.actionFailed(w, r, back, err)
		return
	}
	redirectWith(w, r, back, view.Success("User has been signed out of all sessions"))
}

// --- ロール ---

type rolesData struct {
	Roles       []model.Role
	Editing     *model.Role
	Permissions []string
	Selected    []string
}

// RolesScreen はロールと権限の管理画面を生成する。
// システムロールは編集できない。
//
//	GET  /admin/roles[?edit={id}]
//	POST /admin/roles        (ROLE_MANAGE)
//	POST /admin/roles/{id}   (ROLE_MANAGE)
func (h *UserHandler) RolesScreen() (http.Handler, error) {
	screen, err := h.renderer.Screen("admin-roles")
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		page := view.Page{Form: map[string]string{}}
		roles, err := h.backend.ListRoles(r.Context())
		if err != nil && h.loadFailed(w, r, err, &page) {
			return
		}

		data := rolesData{Roles: roles, Permissions: model.AllPermissions()}
		if id := r.URL.Query().Get("edit"); id != "" {
			if role := findRole(roles, id); role != nil && !role.IsSystem {
				data.Editing = role
				data.Selected = role.Permissions
				page.Form["name"] = role.Name
			}
		}
		page.Data = data
		screen.Render(w, r, http.StatusOK, page)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.require(model.PermRoleManage))
		r.Post("/", h.saveRole(screen))
		r.Post("/{id}", h.saveRole(screen))
	})
	return r, nil
}

func findRole(roles []model.Role, id string) *model.Role {
	for i := range roles {
		if roles[i].ID == id {
			return &roles[i]
		}
	}
	return nil
}

func (h *UserHandler) saveRole(screen *view.Screen) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		const back = "/admin/roles"
		id := chi.URLParam(r, "id")
		name := formValues(r, "name")["name"]
		if err := r.ParseForm(); err != nil {
			redirectWith(w, r, back, view.Failure("Invalid form submission"))
			return
		}
		selected := r.PostForm["permissions"]

		errs := fieldErrors{}
		validateRequired(errs, "name", name, "Role name is required")
		if len(selected) == 0 {
			errs.add("permissions", "Select at least one permission")
		}
		for _, p := range selected {
			if !model.IsKnownPermission(p) {
				errs.add("permissions", "Unknown permission: "+p)
			}
		}

		if !errs.ok() {
			page := view.Page{Form: map[string]string{"name": name}, Errors: errs}
			roles, err := h.backend.ListRoles(r.Context())
			if err != nil && h.loadFailed(w, r, err, &page) {
				return
			}
			page.Data = rolesData{
				Roles:       roles,
				Editing:     findRole(roles, id),
				Permissions: model.AllPermissions(),
				Selected:    selected,
			}
			screen.Render(w, r, http.StatusUnprocessableEntity, page)
			return
		}

		params := backend.RoleParams{Name: name, Permissions: selected}
		var err error
		if id == "" {
			_, err = h.backend.CreateRole(r.Context(), params)
		} else {
			_, err = h.backend.UpdateRole(r.Context(), id, params)
		}
		if err != nil {
			h.actionFailed(w, r, back, err)
			return
		}
		redirectWith(w, r, back, view.Success("Role saved"))
	}
}

// --- 本人確認 ---

type kycData struct {
	Submissions []model.KYCSubmission
	Filter      backend.Filter
	Statuses    []string
}

// KYCScreen は本人確認の審査画面を生成する。
//
//	GET  /admin/kyc
//	POST /admin/kyc/{id}/approve   (KYC_REVIEW)
//	POST /admin/kyc/{id}/reject    (KYC_REVIEW)
func (h *UserHandler) KYCScreen() (http.Handler, error) {
	screen, err := h.renderer.Screen("admin-kyc")
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		filter := backend.FilterFromQuery(r.URL.Query(), "status")
		page := view.Page{}
		subs, err := h.backend.ListKYCSubmissions(r.Context(), filter)
		if err != nil && h.loadFailed(w, r, err, &page) {
			return
		}
		page.Data = kycData{Submissions: subs, Filter: filter, Statuses: kycStatuses}
		screen.Render(w, r, http.StatusOK, page)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.require(model.PermKYCReview))
		r.Post("/{id}/approve", func(w http.ResponseWriter, r *http.Request) {
			if err := h.backend.ApproveKYC(r.Context(), chi.URLParam(r, "id")); err != nil {
				h.actionFailed(w, r, "/admin/kyc", err)
				return
			}
			redirectWith(w, r, "/admin/kyc", view.Success("KYC submission approved"))
		})
		r.Post("/{id}/reject", func(w http.ResponseWriter, r *http.Request) {
			reason := formValues(r, "reason")["reason"]
			if reason == "" {
				redirectWith(w, r, "/admin/kyc", view.Failure("A rejection reason is required"))
				return
			}
			if err := h.backend.RejectKYC(r.Context(), chi.URLParam(r, "id"), reason); err != nil {
				h.actionFailed(w, r, "/admin/kyc", err)
				return
			}
			redirectWith(w, r, "/admin/kyc", view.Success("KYC submission rejected"))
		})
	})
	return r, nil
}
