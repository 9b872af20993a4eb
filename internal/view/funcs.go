package view

import (
	"fmt"
	"html/template"
	"slices"
	"strings"
	"time"
)

// excerptRunes は一覧に表示する本文抜粋の最大文字数。
const excerptRunes = 140

func (rd *Renderer) funcMap() template.FuncMap {
	return template.FuncMap{
		// canは描画ごとにセッション状態の判定へ差し替える
		"can": func(string) bool { return false },
		"sanitize": func(rawHTML string) template.HTML {
			return template.HTML(rd.sanitizer.Sanitize(rawHTML))
		},
		"excerpt": func(rawHTML string) string {
			return rd.sanitizer.Excerpt(rawHTML, excerptRunes)
		},
		"date":      formatDate,
		"datetime":  formatDateTime,
		"money":     formatMoney,
		"has":       hasString,
		"badge":     badgeClass,
		"upper":     strings.ToUpper,
		"humanize":  humanize,
		"fieldErr":  fieldError,
		"formValue": formValue,
	}
}

// formatDate はtime.Timeまたは*time.Timeを日付で表示する。ゼロ値とnilは"-"。
func formatDate(v any) string {
	t, ok := asTime(v)
	if !ok {
		return "-"
	}
	return t.Format("2006-01-02")
}

func formatDateTime(v any) string {
	t, ok := asTime(v)
	if !ok {
		return "-"
	}
	return t.Format("2006-01-02 15:04")
}

func asTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, !t.IsZero()
	case *time.Time:
		if t == nil || t.IsZero() {
			return time.Time{}, false
		}
		return *t, true
	default:
		return time.Time{}, false
	}
}

// formatMoney は金額を小数2桁で表示する。通貨が空ならUSD。
func formatMoney(amount float64, currency ...string) string {
	cur := "USD"
	if len(currency) > 0 && currency[0] != "" {
		cur = strings.ToUpper(currency[0])
	}
	return fmt.Sprintf("%s %.2f", cur, amount)
}

// badgeClass は状態文字列をバッジのCSSクラスに変換する。
func badgeClass(status string) string {
	switch strings.ToLower(status) {
	case "active", "approved", "completed", "confirmed", "published", "resolved", "closed", "enabled", "success":
		return "badge-ok"
	case "pending", "pending-kyc", "pending_kyc", "in_progress", "in-progress", "draft", "open", "scheduled":
		return "badge-wait"
	case "suspended", "blacklisted", "rejected", "cancelled", "failed", "refunded", "disabled", "critical", "high":
		return "badge-bad"
	default:
		return "badge"
	}
}

// humanize は"pending-kyc"や"IN_PROGRESS"を"Pending kyc"のような表示にする。
func humanize(s string) string {
	s = strings.NewReplacer("_", " ", "-", " ").Replace(strings.ToLower(s))
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func hasString(list []string, v string) bool {
	return slices.Contains(list, v)
}

func fieldError(errs map[string]string, field string) string {
	return errs[field]
}

func formValue(form map[string]string, field string) string {
	return form[field]
}
