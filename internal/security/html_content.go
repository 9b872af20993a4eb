// Package security はアプリケーションのセキュリティ機能を提供する。
//
// HTMLSanitizer はCMSページ、ブログ記事、お知らせの本文HTMLをサニタイズする。
// 管理者が入力した本文はエンドユーザー向けサイトでも表示されるため、
// 保存前とプレビュー表示前の両方で許可リストベースのポリシーを適用する。
package security

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
)

// HTMLSanitizer は本文HTMLのサニタイズと抜粋生成のインターフェース。
type HTMLSanitizer interface {
	// Sanitize は許可タグ以外を除去した安全なHTMLを返す。
	// 同一入力に対して常に同一出力を返す（冪等）。
	Sanitize(rawHTML string) string

	// Excerpt は本文HTMLからテキストだけを取り出し、maxRunes文字以内に切り詰める。
	Excerpt(rawHTML string, maxRunes int) string
}

// htmlSanitizer はHTMLSanitizerの実装。bluemondayのポリシーはスレッドセーフ。
type htmlSanitizer struct {
	policy *bluemonday.Policy
}

// NewHTMLSanitizer は本文用のサニタイザーを生成する。
// ポリシーの内容:
//   - 見出し、段落、リスト、引用、コード、表、強調などの本文タグを許可
//   - script, iframe, style, form と全てのon*イベント属性を除去
//   - URLは https と mailto、およびサイト内の相対URLのみ許可
//   - 外部リンクには target="_blank" と rel="noopener noreferrer" を付与
func NewHTMLSanitizer() *htmlSanitizer {
	p := bluemonday.NewPolicy()

	p.AllowElements(
		"h1", "h2", "h3", "h4", "h5", "h6",
		"p", "br", "hr", "ul", "ol", "li",
		"blockquote", "pre", "code",
		"strong", "em", "b", "i", "u", "s",
		"table", "thead", "tbody", "tr", "th", "td",
		"figure", "figcaption",
	)

	p.AllowAttrs("href").OnElements("a")
	p.AllowRelativeURLs(true)
	p.AddTargetBlankToFullyQualifiedLinks(true)
	p.RequireNoReferrerOnLinks(true)

	p.AllowAttrs("src", "alt").OnElements("img")
	p.AllowURLSchemes("https", "mailto")

	return &htmlSanitizer{policy: p}
}

// Sanitize はHTMLコンテンツをサニタイズして安全なHTMLを返す。
func (s *htmlSanitizer) Sanitize(rawHTML string) string {
	return s.policy.Sanitize(rawHTML)
}

// Excerpt はHTMLのテキストノードを連結し、空白を正規化して切り詰める。
// script と style の中身は含めない。切り詰めた場合は末尾に「…」を付ける。
func (s *htmlSanitizer) Excerpt(rawHTML string, maxRunes int) string {
	if rawHTML == "" || maxRunes <= 0 {
		return ""
	}

	var b strings.Builder
	tokenizer := html.NewTokenizer(strings.NewReader(rawHTML))
	skipDepth := 0

	for {
		tt := tokenizer.Next()
		switch tt {
		case html.ErrorToken:
			return truncateRunes(collapseSpaces(b.String()), maxRunes)

		case html.StartTagToken:
			tn, _ := tokenizer.TagName()
			if isSkippedTag(tn) {
				skipDepth++
			}
			if isBlockTag(tn) {
				b.WriteByte(' ')
			}

		case html.EndTagToken:
			tn, _ := tokenizer.TagName()
			if isSkippedTag(tn) && skipDepth > 0 {
				skipDepth--
			}
			if isBlockTag(tn) {
				b.WriteByte(' ')
			}

		case html.SelfClosingTagToken:
			tn, _ := tokenizer.TagName()
			if isBlockTag(tn) {
				b.WriteByte(' ')
			}

		case html.TextToken:
			if skipDepth == 0 {
				b.Write(tokenizer.Text())
			}
		}
	}
}

func isSkippedTag(tn []byte) bool {
	return bytes.Equal(tn, []byte("script")) || bytes.Equal(tn, []byte("style"))
}

func isBlockTag(tn []byte) bool {
	switch string(tn) {
	case "p", "br", "div", "li", "h1", "h2", "h3", "h4", "h5", "h6", "blockquote", "pre", "tr", "td", "th":
		return true
	}
	return false
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func truncateRunes(s string, maxRunes int) string {
	if utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:maxRunes])) + "…"
}
