package backend

import (
	"context"
	"net/http"

	"github.com/hitoshi/servease-console/internal/model"
)

// ListPages はCMSページ一覧を取得する。フィルターキーは status, search。
func (c *Client) ListPages(ctx context.Context, filter Filter) ([]model.CMSPage, error) {
	var out []model.CMSPage
	if err := c.getJSON(ctx, "/admin/cms/pages", filter.Values(), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetPage はCMSページを取得する。
func (c *Client) GetPage(ctx context.Context, id string) (*model.CMSPage, error) {
	if id == "" {
		return nil, errEmptyID
	}
	var out model.CMSPage
	if err := c.getJSON(ctx, "/admin/cms/pages/"+escape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SavePage はIDが空なら作成、そうでなければ更新する。
func (c *Client) SavePage(ctx context.Context, page model.CMSPage) (*model.CMSPage, error) {
	method, path := http.MethodPost, "/admin/cms/pages"
	if page.ID != "" {
		method, path = http.MethodPatch, path+"/"+escape(page.ID)
	}
	page.ID = ""
	var out model.CMSPage
	if err := c.sendJSON(ctx, method, path, page, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeletePage はCMSページを削除する。
func (c *Client) DeletePage(ctx context.Context, id string) error {
	return c.deleteByID(ctx, "/admin/cms/pages/", id)
}

// ListPosts はブログ記事一覧を取得する。フィルターキーは status, authorId, search。
func (c *Client) ListPosts(ctx context.Context, filter Filter) ([]model.BlogPost, error) {
	var out []model.BlogPost
	if err := c.getJSON(ctx, "/admin/blog/posts", filter.Values(), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetPost はブログ記事を取得する。
func (c *Client) GetPost(ctx context.Context, id string) (*model.BlogPost, error) {
	if id == "" {
		return nil, errEmptyID
	}
	var out model.BlogPost
	if err := c.getJSON(ctx, "/admin/blog/posts/"+escape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SavePost はIDが空なら作成、そうでなければ更新する。
func (c *Client) SavePost(ctx context.Context, post model.BlogPost) (*model.BlogPost, error) {
	method, path := http.MethodPost, "/admin/blog/posts"
	if post.ID != "" {
		method, path = http.MethodPatch, path+"/"+escape(post.ID)
	}
	post.ID = ""
	var out model.BlogPost
	if err := c.sendJSON(ctx, method, path, post, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeletePost はブログ記事を削除する。
func (c *Client) DeletePost(ctx context.Context, id string) error {
	return c.deleteByID(ctx, "/admin/blog/posts/", id)
}

// ListAnnouncements はお知らせ一覧を取得する。フィルターキーは status, type, targetAudience。
func (c *Client) ListAnnouncements(ctx context.Context, filter Filter) ([]model.Announcement, error) {
	var out []model.Announcement
	if err := c.getJSON(ctx, "/admin/announcements", filter.Values(), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetAnnouncement はお知らせを取得する。
func (c *Client) GetAnnouncement(ctx context.Context, id string) (*model.Announcement, error) {
	if id == "" {
		return nil, errEmptyID
	}
	var out model.Announcement
	if err := c.getJSON(ctx, "/admin/announcements/"+escape(id), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SaveAnnouncement はIDが空なら作成、そうでなければ更新する。
func (c *Client) SaveAnnouncement(ctx context.Context, a model.Announcement) (*model.Announcement, error) {
	method, path := http.MethodPost, "/admin/announcements"
	if a.ID != "" {
		method, path = http.MethodPatch, path+"/"+escape(a.ID)
	}
	a.ID = ""
	var out model.Announcement
	if err := c.sendJSON(ctx, method, path, a, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeleteAnnouncement はお知らせを削除する。
func (c *Client) DeleteAnnouncement(ctx context.Context, id string) error {
	return c.deleteByID(ctx, "/admin/announcements/", id)
}

func (c *Client) deleteByID(ctx context.Context, prefix, id string) error {
	if id == "" {
		return errEmptyID
	}
	_, err := c.Do(ctx, Request{Method: http.MethodDelete, Path: prefix + escape(id)})
	return err
}
