package handler

import (
	"context"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/servease-console/internal/backend"
	"github.com/hitoshi/servease-console/internal/model"
	"github.com/hitoshi/servease-console/internal/security"
	"github.com/hitoshi/servease-console/internal/view"
)

// ContentBackend はお知らせ、CMS、ブログの画面が必要とするバックエンド操作。
type ContentBackend interface {
	ListAnnouncements(ctx context.Context, filter backend.Filter) ([]model.Announcement, error)
	GetAnnouncement(ctx context.Context, id string) (*model.Announcement, error)
	SaveAnnouncement(ctx context.Context, a model.Announcement) (*model.Announcement, error)
	DeleteAnnouncement(ctx context.Context, id string) error

	ListPages(ctx context.Context, filter backend.Filter) ([]model.CMSPage, error)
	GetPage(ctx context.Context, id string) (*model.CMSPage, error)
	SavePage(ctx context.Context, page model.CMSPage) (*model.CMSPage, error)
	DeletePage(ctx context.Context, id string) error

	ListPosts(ctx context.Context, filter backend.Filter) ([]model.BlogPost, error)
	GetPost(ctx context.Context, id string) (*model.BlogPost, error)
	SavePost(ctx context.Context, post model.BlogPost) (*model.BlogPost, error)
	DeletePost(ctx context.Context, id string) error
}

var (
	contentStatuses      = []string{"draft", "published", "archived"}
	announcementTypes    = []string{"info", "warning", "success", "error"}
	announcementAudience = []string{"all", "admin", "provider", "customer"}

	slugPattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)
)

// blogExcerptRunes は抜粋を自動生成するときの最大文字数。
const blogExcerptRunes = 200

// mediaPreflightTimeout はカバー画像URLの確認に使う時間の上限。
const mediaPreflightTimeout = 5 * time.Second

// ContentHandler はコンテンツ管理の画面ハンドラー。
// 本文HTMLは保存前にサニタイズする。
type ContentHandler struct {
	base
	backend   ContentBackend
	sanitizer security.HTMLSanitizer
	mediaURL  security.MediaURLChecker
}

// NewContentHandler はContentHandlerを生成する。MediaURLがnilの場合カバー画像の確認を省略する。
func NewContentHandler(deps ScreenDeps) *ContentHandler {
	sanitizer := deps.Sanitizer
	if sanitizer == nil {
		sanitizer = security.NewHTMLSanitizer()
	}
	return &ContentHandler{
		base:      newBase(deps),
		backend:   deps.Backend,
		sanitizer: sanitizer,
		mediaURL:  deps.MediaURL,
	}
}

// editing は?edit={id}の対象を取得する。取得できなければ新規作成フォームとして扱う。
func editing[T any](h *ContentHandler, r *http.Request, get func(ctx context.Context, id string) (*T, error)) *T {
	id := r.URL.Query().Get("edit")
	if id == "" {
		return nil
	}
	item, err := get(r.Context(), id)
	if err != nil {
		h.logger.Warn("failed to load item for editing",
			slog.String("path", r.URL.Path),
			slog.String("id", id),
			slog.String("error", err.Error()),
		)
		return nil
	}
	return item
}

func (h *ContentHandler) deleteHandler(back, done string, fn func(ctx context.Context, id string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(r.Context(), chi.URLParam(r, "id")); err != nil {
			h.actionFailed(w, r, back, err)
			return
		}
		redirectWith(w, r, back, view.Success(done))
	}
}

// --- お知らせ ---

type announcementsData struct {
	Announcements []model.Announcement
	Editing       *model.Announcement
	Types         []string
	Audiences     []string
	Statuses      []string
}

// AnnouncementsScreen はお知らせ管理画面を生成する。
//
//	GET  /admin/announcements[?edit={id}]
//	POST /admin/announcements               (ANNOUNCEMENT_MANAGE)
//	POST /admin/announcements/{id}/delete   (ANNOUNCEMENT_MANAGE)
func (h *ContentHandler) AnnouncementsScreen() (http.Handler, error) {
	const back = "/admin/announcements"
	screen, err := h.renderer.Screen("admin-announcements")
	if err != nil {
		return nil, err
	}

	render := func(w http.ResponseWriter, r *http.Request, status int, page view.Page, edit *model.Announcement) {
		filter := backend.FilterFromQuery(r.URL.Query(), "status", "type", "targetAudience")
		items, err := h.backend.ListAnnouncements(r.Context(), filter)
		if err != nil && h.loadFailed(w, r, err, &page) {
			return
		}
		page.Data = announcementsData{
			Announcements: items,
			Editing:       edit,
			Types:         announcementTypes,
			Audiences:     announcementAudience,
			Statuses:      contentStatuses,
		}
		screen.Render(w, r, status, page)
	}

	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		form := map[string]string{"type": "info", "targetAudience": "all", "status": "draft"}
		edit := editing(h, r, h.backend.GetAnnouncement)
		if edit != nil {
			form = map[string]string{
				"title":          edit.Title,
				"content":        edit.Content,
				"type":           edit.Type,
				"targetAudience": edit.TargetAudience,
				"startDate":      edit.StartDate,
				"endDate":        edit.EndDate,
				"status":         edit.Status,
			}
		}
		render(w, r, http.StatusOK, view.Page{Form: form}, edit)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.require(model.PermAnnouncementManage))
		r.Post("/", func(w http.ResponseWriter, r *http.Request) {
			form := formValues(r, "id", "title", "content", "type", "targetAudience", "startDate", "endDate", "status")
			errs := validateAnnouncement(form)
			if !errs.ok() {
				var edit *model.Announcement
				if form["id"] != "" {
					edit = &model.Announcement{ID: form["id"]}
				}
				render(w, r, http.StatusUnprocessableEntity, view.Page{Form: form, Errors: errs}, edit)
				return
			}

			_, err := h.backend.SaveAnnouncement(r.Context(), model.Announcement{
				ID:             form["id"],
				Title:          form["title"],
				Content:        h.sanitizer.Sanitize(form["content"]),
				Type:           form["type"],
				TargetAudience: form["targetAudience"],
				StartDate:      form["startDate"],
				EndDate:        form["endDate"],
				Status:         form["status"],
			})
			if err != nil {
				h.actionFailed(w, r, back, err)
				return
			}
			redirectWith(w, r, back, view.Success("Announcement saved"))
		})
		r.Post("/{id}/delete", h.deleteHandler(back, "Announcement deleted", h.backend.DeleteAnnouncement))
	})
	return r, nil
}

// validateAnnouncement はお知らせの入力を検証する。終了日は開始日以降であること。
func validateAnnouncement(form map[string]string) fieldErrors {
	errs := fieldErrors{}
	validateRequired(errs, "title", form["title"], "Title is required")
	validateRequired(errs, "content", form["content"], "Content is required")
	validateOneOf(errs, "type", form["type"], announcementTypes, "Unknown announcement type")
	validateOneOf(errs, "targetAudience", form["targetAudience"], announcementAudience, "Unknown audience")
	validateOneOf(errs, "status", form["status"], contentStatuses, "Unknown status")

	const layout = "2006-01-02"
	var start, end time.Time
	var err error
	if v := form["startDate"]; v != "" {
		if start, err = time.Parse(layout, v); err != nil {
			errs.add("startDate", "Invalid start date")
		}
	}
	if v := form["endDate"]; v != "" {
		if end, err = time.Parse(layout, v); err != nil {
			errs.add("endDate", "Invalid end date")
		}
	}
	if !start.IsZero() && !end.IsZero() && end.Before(start) {
		errs.add("endDate", "End date must be on or after the start date")
	}
	return errs
}

// --- CMSページ ---

type pagesData struct {
	Pages    []model.CMSPage
	Editing  *model.CMSPage
	Statuses []string
}

// PagesScreen はCMSの固定ページ管理画面を生成する。
//
//	GET  /admin/cms[?edit={id}]
//	POST /admin/cms               (CMS_MANAGE)
//	POST /admin/cms/{id}/delete   (CMS_MANAGE)
func (h *ContentHandler) PagesScreen() (http.Handler, error) {
	const back = "/admin/cms"
	screen, err := h.renderer.Screen("admin-cms")
	if err != nil {
		return nil, err
	}

	render := func(w http.ResponseWriter, r *http.Request, status int, page view.Page, edit *model.CMSPage) {
		filter := backend.FilterFromQuery(r.URL.Query(), "status", "search")
		pages, err := h.backend.ListPages(r.Context(), filter)
		if err != nil && h.loadFailed(w, r, err, &page) {
			return
		}
		page.Data = pagesData{Pages: pages, Editing: edit, Statuses: contentStatuses}
		screen.Render(w, r, status, page)
	}

	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		form := map[string]string{"status": "draft"}
		edit := editing(h, r, h.backend.GetPage)
		if edit != nil {
			form = map[string]string{
				"title":   edit.Title,
				"slug":    edit.Slug,
				"content": edit.Content,
				"status":  edit.Status,
			}
		}
		render(w, r, http.StatusOK, view.Page{Form: form}, edit)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.require(model.PermCMSManage))
		r.Post("/", func(w http.ResponseWriter, r *http.Request) {
			form := formValues(r, "id", "title", "slug", "content", "status")
			errs := fieldErrors{}
			validateRequired(errs, "title", form["title"], "Title is required")
			validateSlug(errs, form["slug"])
			validateRequired(errs, "content", form["content"], "Content is required")
			validateOneOf(errs, "status", form["status"], contentStatuses, "Unknown status")
			if !errs.ok() {
				var edit *model.CMSPage
				if form["id"] != "" {
					edit = &model.CMSPage{ID: form["id"], Content: form["content"]}
				}
				render(w, r, http.StatusUnprocessableEntity, view.Page{Form: form, Errors: errs}, edit)
				return
			}

			_, err := h.backend.SavePage(r.Context(), model.CMSPage{
				ID:      form["id"],
				Title:   form["title"],
				Slug:    form["slug"],
				Content: h.sanitizer.Sanitize(form["content"]),
				Status:  form["status"],
			})
			if err != nil {
				h.actionFailed(w, r, back, err)
				return
			}
			redirectWith(w, r, back, view.Success("Page saved"))
		})
		r.Post("/{id}/delete", h.deleteHandler(back, "Page deleted", h.backend.DeletePage))
	})
	return r, nil
}

func validateSlug(errs fieldErrors, slug string) {
	switch {
	case slug == "":
		errs.add("slug", "Slug is required")
	case !slugPattern.MatchString(slug):
		errs.add("slug", "Slug may only contain lowercase letters, digits and hyphens")
	}
}

// --- ブログ ---

type postsData struct {
	Posts    []model.BlogPost
	Editing  *model.BlogPost
	Statuses []string
}

// PostsScreen はブログ記事管理画面を生成する。
// 抜粋が空なら本文から生成し、カバー画像URLは保存前に到達性と画像であることを確認する。
//
//	GET  /admin/blogs[?edit={id}]
//	POST /admin/blogs               (BLOG_MANAGE)
//	POST /admin/blogs/{id}/delete   (BLOG_MANAGE)
func (h *ContentHandler) PostsScreen() (http.Handler, error) {
	const back = "/admin/blogs"
	screen, err := h.renderer.Screen("admin-blogs")
	if err != nil {
		return nil, err
	}

	render := func(w http.ResponseWriter, r *http.Request, status int, page view.Page, edit *model.BlogPost) {
		filter := backend.FilterFromQuery(r.URL.Query(), "status", "authorId", "search")
		posts, err := h.backend.ListPosts(r.Context(), filter)
		if err != nil && h.loadFailed(w, r, err, &page) {
			return
		}
		page.Data = postsData{Posts: posts, Editing: edit, Statuses: contentStatuses}
		screen.Render(w, r, status, page)
	}

	r := chi.NewRouter()
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		form := map[string]string{"status": "draft"}
		edit := editing(h, r, h.backend.GetPost)
		if edit != nil {
			form = map[string]string{
				"title":         edit.Title,
				"slug":          edit.Slug,
				"featuredImage": edit.FeaturedImage,
				"excerpt":       edit.Excerpt,
				"content":       edit.Content,
				"status":        edit.Status,
			}
		}
		render(w, r, http.StatusOK, view.Page{Form: form}, edit)
	})

	r.Group(func(r chi.Router) {
		r.Use(h.require(model.PermBlogManage))
		r.Post("/", func(w http.ResponseWriter, r *http.Request) {
			form := formValues(r, "id", "title", "slug", "featuredImage", "excerpt", "content", "status")
			errs := fieldErrors{}
			validateRequired(errs, "title", form["title"], "Title is required")
			validateSlug(errs, form["slug"])
			validateRequired(errs, "content", form["content"], "Content is required")
			validateOneOf(errs, "status", form["status"], contentStatuses, "Unknown status")
			if errs.ok() && form["featuredImage"] != "" {
				h.checkCover(r.Context(), errs, form["featuredImage"])
			}
			if !errs.ok() {
				var edit *model.BlogPost
				if form["id"] != "" {
					edit = &model.BlogPost{ID: form["id"], Content: form["content"]}
				}
				render(w, r, http.StatusUnprocessableEntity, view.Page{Form: form, Errors: errs}, edit)
				return
			}

			content := h.sanitizer.Sanitize(form["content"])
			excerpt := form["excerpt"]
			if excerpt == "" {
				excerpt = h.sanitizer.Excerpt(content, blogExcerptRunes)
			}
			_, err := h.backend.SavePost(r.Context(), model.BlogPost{
				ID:            form["id"],
				Title:         form["title"],
				Slug:          form["slug"],
				Excerpt:       excerpt,
				Content:       content,
				FeaturedImage: form["featuredImage"],
				Status:        form["status"],
			})
			if err != nil {
				h.actionFailed(w, r, back, err)
				return
			}
			redirectWith(w, r, back, view.Success("Post saved"))
		})
		r.Post("/{id}/delete", h.deleteHandler(back, "Post deleted", h.backend.DeletePost))
	})
	return r, nil
}

// checkCover はカバー画像URLを確認し、問題があればフォームエラーに記録する。
func (h *ContentHandler) checkCover(ctx context.Context, errs fieldErrors, rawURL string) {
	if h.mediaURL == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, mediaPreflightTimeout)
	defer cancel()
	if err := h.mediaURL.Preflight(ctx, rawURL); err != nil {
		h.logger.Info("cover image rejected",
			slog.String("url", rawURL),
			slog.String("error", err.Error()),
		)
		errs.add("featuredImage", "Cover image must be a reachable https image URL")
	}
}
