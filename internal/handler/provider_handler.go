package handler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"slices"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/servease-console/internal/backend"
	"github.com/hitoshi/servease-console/internal/model"
	"github.com/hitoshi/servease-console/internal/session"
	"github.com/hitoshi/servease-console/internal/view"
)

// ProviderBackend はサービス提供者の画面が必要とするバックエンド操作。
type ProviderBackend interface {
	Profile(ctx context.Context) (*model.Identity, error)
	ProviderDashboard(ctx context.Context) (*model.ProviderDashboard, error)
	ProviderServices(ctx context.Context) ([]model.ProviderService, error)
	ProviderBookings(ctx context.Context, filter backend.Filter) ([]model.Booking, error)
	ProviderKYCStatus(ctx context.Context) (*model.ProviderKYCStatus, error)
	SubmitKYCDocuments(ctx context.Context, documentType string, files []backend.File) error
}

const (
	// maxKYCFiles は1回の提出で受け付けるファイル数の上限。
	maxKYCFiles = 5
	// maxKYCFileSize はファイル1件あたりのサイズ上限。
	maxKYCFileSize = 10 << 20
	// maxKYCUpload はリクエスト全体のサイズ上限。
	maxKYCUpload = maxKYCFiles*maxKYCFileSize + 1<<20
)

var (
	kycDocumentTypes = []string{"national-id", "passport", "drivers-license", "business-registration", "proof-of-address"}
	// 提出可能な本人確認状態。審査中と承認済みは再提出できない。
	kycSubmittable = []string{"", "not-submitted", "rejected"}
)

// ProviderHandler はサービス提供者向けの画面ハンドラー。
type ProviderHandler struct {
	base
	backend      ProviderBackend
	cookieSecure bool
}

// NewProviderHandler はProviderHandlerを生成する。
func NewProviderHandler(deps ScreenDeps) *ProviderHandler {
	return &ProviderHandler{base: newBase(deps), backend: deps.Backend, cookieSecure: deps.CookieSecure}
}

type providerDashboardData struct {
	Summary *model.ProviderDashboard
}

// DashboardScreen はサービス提供者のダッシュボードを生成する。
//
//	GET /provider/dashboard
func (h *ProviderHandler) DashboardScreen() (http.Handler, error) {
	screen, err := h.renderer.Screen("provider-dashboard")
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		page := view.Page{}
		summary, err := h.backend.ProviderDashboard(r.Context())
		if err != nil && h.loadFailed(w, r, err, &page) {
			return
		}
		page.Data = providerDashboardData{Summary: summary}
		screen.Render(w, r, http.StatusOK, page)
	})
	return r, nil
}

type providerServicesData struct {
	Services []model.ProviderService
}

// ServicesScreen は出品中のサービス一覧を生成する。
//
//	GET /provider/services
func (h *ProviderHandler) ServicesScreen() (http.Handler, error) {
	screen, err := h.renderer.Screen("provider-services")
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		page := view.Page{}
		services, err := h.backend.ProviderServices(r.Context())
		if err != nil && h.loadFailed(w, r, err, &page) {
			return
		}
		page.Data = providerServicesData{Services: services}
		screen.Render(w, r, http.StatusOK, page)
	})
	return r, nil
}

// BookingsScreen はサービス提供者宛ての予約一覧を生成する。
//
//	GET /provider/bookings
func (h *ProviderHandler) BookingsScreen() (http.Handler, error) {
	screen, err := h.renderer.Screen("provider-bookings")
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		filter := backend.FilterFromQuery(r.URL.Query(), "status")
		page := view.Page{}
		bookings, err := h.backend.ProviderBookings(r.Context(), filter)
		if err != nil && h.loadFailed(w, r, err, &page) {
			return
		}
		page.Data = bookingsData{Bookings: bookings, Filter: filter, Statuses: bookingStatuses}
		screen.Render(w, r, http.StatusOK, page)
	})
	return r, nil
}

type providerProfileData struct {
	Profile *model.Identity
}

// ProfileScreen はプロフィール画面を生成する。
// 表示のたびにプロフィールを取得し直し、セッションのIdentityを更新する。
// 取得に失敗した場合はセッションに保持しているIdentityを表示する。
//
//	GET  /provider/profile
//	POST /provider/profile/theme
func (h *ProviderHandler) ProfileScreen() (http.Handler, error) {
	screen, err := h.renderer.Screen("provider-profile")
	if err != nil {
		return nil, err
	}

	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		page := view.Page{}
		profile, err := h.refreshIdentity(r.Context())
		if err != nil {
			if h.loadFailed(w, r, err, &page) {
				return
			}
			profile = session.StateFromContext(r.Context()).Identity
		}
		page.Data = providerProfileData{Profile: profile}
		screen.Render(w, r, http.StatusOK, page)
	})
	r.Post("/theme", themeHandler("/provider/profile", h.cookieSecure))
	return r, nil
}

// refreshIdentity は最新のプロフィールを取得してセッションに反映する。
func (h *ProviderHandler) refreshIdentity(ctx context.Context) (*model.Identity, error) {
	profile, err := h.backend.Profile(ctx)
	if err != nil {
		return nil, err
	}
	if store, ok := session.FromContext(ctx); ok {
		if err := store.SetIdentity(ctx, profile); err != nil {
			h.logger.Error("failed to persist refreshed identity", slog.String("error", err.Error()))
		}
	}
	return profile, nil
}

type providerKYCData struct {
	Status        *model.ProviderKYCStatus
	CanSubmit     bool
	DocumentTypes []string
}

// KYCScreen は本人確認の状況と書類提出の画面を生成する。
//
//	GET  /provider/kyc
//	POST /provider/kyc   (multipart/form-data)
func (h *ProviderHandler) KYCScreen() (http.Handler, error) {
	screen, err := h.renderer.Screen("provider-kyc")
	if err != nil {
		return nil, err
	}

	render := func(w http.ResponseWriter, r *http.Request, httpStatus int, page view.Page) {
		status, err := h.backend.ProviderKYCStatus(r.Context())
		if err != nil && h.loadFailed(w, r, err, &page) {
			return
		}
		canSubmit := status == nil || slices.Contains(kycSubmittable, status.Status)
		page.Data = providerKYCData{Status: status, CanSubmit: canSubmit, DocumentTypes: kycDocumentTypes}
		screen.Render(w, r, httpStatus, page)
	}

	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		render(w, r, http.StatusOK, view.Page{Form: map[string]string{}})
	})
	r.Post("/", func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > maxKYCUpload {
			render(w, r, http.StatusRequestEntityTooLarge, view.Page{
				Errors: fieldErrors{"documents": "Upload is too large. Files must be 10 MB or smaller."},
			})
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxKYCUpload)
		if err := r.ParseMultipartForm(maxKYCFileSize); err != nil {
			render(w, r, http.StatusRequestEntityTooLarge, view.Page{
				Errors: fieldErrors{"documents": "Upload could not be read. Files must be 10 MB or smaller."},
			})
			return
		}
		defer r.MultipartForm.RemoveAll()

		docType := strings.TrimSpace(r.FormValue("documentType"))
		form := map[string]string{"documentType": docType}
		errs := fieldErrors{}
		validateOneOf(errs, "documentType", docType, kycDocumentTypes, "Please select a document type")

		files, problem := readKYCFiles(r.MultipartForm.File["documents"])
		if problem != "" {
			errs.add("documents", problem)
		}
		if !errs.ok() {
			render(w, r, http.StatusUnprocessableEntity, view.Page{Form: form, Errors: errs})
			return
		}

		if err := h.backend.SubmitKYCDocuments(r.Context(), docType, files); err != nil {
			h.actionFailed(w, r, "/provider/kyc", err)
			return
		}
		h.logger.Info("kyc documents submitted",
			slog.String("document_type", docType),
			slog.Int("files", len(files)),
		)
		redirectWith(w, r, "/provider/kyc", view.Success("Documents submitted for review"))
	})
	return r, nil
}

// kycMIMETypes は本人確認書類として受け付ける形式。
var kycMIMETypes = []string{"image/jpeg", "image/png", "image/webp", "image/heic", "application/pdf"}

// readKYCFiles はアップロードされたファイルを読み込む。
// 画像とPDFだけを受け付け、種別は拡張子ではなく内容から判定する。問題があれば利用者向けの説明を返す。
func readKYCFiles(headers []*multipart.FileHeader) ([]backend.File, string) {
	if len(headers) == 0 {
		return nil, "Please attach at least one document"
	}
	if len(headers) > maxKYCFiles {
		return nil, fmt.Sprintf("Attach at most %d documents", maxKYCFiles)
	}

	files := make([]backend.File, 0, len(headers))
	for _, fh := range headers {
		if fh.Size > maxKYCFileSize {
			return nil, fh.Filename + " is larger than 10 MB"
		}
		data, err := readMultipartFile(fh)
		if err != nil {
			return nil, fh.Filename + " could not be read"
		}
		mt := mimetype.Detect(data)
		if !slices.ContainsFunc(kycMIMETypes, mt.Is) {
			return nil, fh.Filename + " must be an image or a PDF"
		}
		files = append(files, backend.File{
			Field:       "documents",
			Name:        fh.Filename,
			ContentType: mt.String(),
			Data:        data,
		})
	}
	return files, ""
}

func readMultipartFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(io.LimitReader(f, maxKYCFileSize+1))
}
