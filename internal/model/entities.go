package model

import "time"

// User は管理画面のユーザー一覧に表示するユーザー。
type User struct {
	ID        string        `json:"id"`
	Name      string        `json:"name"`
	Email     string        `json:"email"`
	Role      string        `json:"role"`
	Status    AccountStatus `json:"status"`
	TenantID  string        `json:"tenantId,omitempty"`
	CityID    string        `json:"cityId,omitempty"`
	CreatedAt time.Time     `json:"createdAt"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// Role は権限の束。IsSystemのロールは編集できない。
type Role struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Permissions []string  `json:"permissions"`
	IsSystem    bool      `json:"isSystem"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// KYCSubmission は本人確認の提出物。
type KYCSubmission struct {
	ID              string     `json:"id"`
	UserID          string     `json:"userId"`
	Status          string     `json:"status"`
	Documents       []string   `json:"documents"`
	RejectionReason string     `json:"rejectionReason,omitempty"`
	SubmittedAt     time.Time  `json:"submittedAt"`
	ReviewedAt      *time.Time `json:"reviewedAt,omitempty"`
}

// Tenant はマーケットプレイスのテナント。
type Tenant struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Enabled     bool      `json:"enabled"`
	AdminUserID string    `json:"adminUserId,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// City はサービス提供エリアの都市。
type City struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Enabled   bool      `json:"enabled"`
	TenantID  string    `json:"tenantId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Booking はサービスの予約。
type Booking struct {
	ID            string    `json:"id"`
	UserID        string    `json:"userId"`
	ServiceID     string    `json:"serviceId"`
	ProviderID    string    `json:"providerId"`
	Status        string    `json:"status"`
	ScheduledDate string    `json:"scheduledDate"`
	ScheduledTime string    `json:"scheduledTime"`
	TotalAmount   float64   `json:"totalAmount"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Payment は予約に対する支払い。
type Payment struct {
	ID               string    `json:"id"`
	TransactionID    string    `json:"transactionId"`
	BookingID        string    `json:"bookingId"`
	Amount           float64   `json:"amount"`
	Currency         string    `json:"currency"`
	Status           string    `json:"status"`
	PaymentMethod    string    `json:"paymentMethod"`
	PaymentReference string    `json:"paymentReference,omitempty"`
	CreatedAt        time.Time `json:"createdAt"`
	UpdatedAt        time.Time `json:"updatedAt"`
}

// Transaction は支払い・返金・払い出しの取引記録。
type Transaction struct {
	ID                   string    `json:"id"`
	BookingID            string    `json:"bookingId,omitempty"`
	UserID               string    `json:"userId"`
	Type                 string    `json:"type"`
	Amount               float64   `json:"amount"`
	Currency             string    `json:"currency"`
	Status               string    `json:"status"`
	PaymentMethod        string    `json:"paymentMethod,omitempty"`
	TransactionReference string    `json:"transactionReference,omitempty"`
	CreatedAt            time.Time `json:"createdAt"`
	UpdatedAt            time.Time `json:"updatedAt"`
}

// SupportTicket はカスタマーサポートの問い合わせ。
type SupportTicket struct {
	ID          string    `json:"id"`
	UserID      string    `json:"userId"`
	Subject     string    `json:"subject"`
	Description string    `json:"description"`
	Status      string    `json:"status"`
	Priority    string    `json:"priority"`
	AssignedTo  string    `json:"assignedTo,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// CMSPage はCMSの固定ページ。ContentはHTML。
type CMSPage struct {
	ID        string    `json:"id,omitempty"`
	Title     string    `json:"title"`
	Slug      string    `json:"slug"`
	Content   string    `json:"content"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt,omitzero"`
	UpdatedAt time.Time `json:"updatedAt,omitzero"`
}

// BlogPost はブログ記事。ContentはHTML。
type BlogPost struct {
	ID            string     `json:"id,omitempty"`
	Title         string     `json:"title"`
	Slug          string     `json:"slug"`
	Excerpt       string     `json:"excerpt,omitempty"`
	Content       string     `json:"content"`
	AuthorID      string     `json:"authorId,omitempty"`
	AuthorName    string     `json:"authorName,omitempty"`
	FeaturedImage string     `json:"featuredImage,omitempty"`
	Status        string     `json:"status"`
	PublishedAt   *time.Time `json:"publishedAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt,omitzero"`
	UpdatedAt     time.Time  `json:"updatedAt,omitzero"`
}

// Announcement はユーザー向けのお知らせ。
type Announcement struct {
	ID             string    `json:"id,omitempty"`
	Title          string    `json:"title"`
	Content        string    `json:"content"`
	Type           string    `json:"type"`
	Status         string    `json:"status"`
	TargetAudience string    `json:"targetAudience,omitempty"`
	StartDate      string    `json:"startDate,omitempty"`
	EndDate        string    `json:"endDate,omitempty"`
	CreatedAt      time.Time `json:"createdAt,omitzero"`
	UpdatedAt      time.Time `json:"updatedAt,omitzero"`
}

// BlacklistedIP はアクセス拒否リストに登録されたIPアドレス。
type BlacklistedIP struct {
	IP        string    `json:"ip"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// DashboardMetrics は管理者ダッシュボードの集計値。
type DashboardMetrics struct {
	TotalUsers             int `json:"totalUsers"`
	ActiveUsers            int `json:"activeUsers"`
	PendingKYC             int `json:"pendingKYC"`
	TotalTenants           int `json:"totalTenants"`
	ActiveServiceProviders int `json:"activeServiceProviders"`
	TotalBookings          int `json:"totalBookings"`
}

// DashboardAlert はダッシュボードに表示する警告。
type DashboardAlert struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Severity  string    `json:"severity"`
	CreatedAt time.Time `json:"createdAt"`
}

// ProviderService はサービス提供者が出品しているサービス。
type ProviderService struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	Category    string  `json:"category"`
	HourlyRate  float64 `json:"hourlyRate"`
	Active      bool    `json:"active"`
}

// ProviderKYCStatus はサービス提供者自身の本人確認状況。
type ProviderKYCStatus struct {
	Status          string     `json:"status"`
	RejectionReason string     `json:"rejectionReason,omitempty"`
	SubmittedAt     *time.Time `json:"submittedAt,omitempty"`
	ReviewedAt      *time.Time `json:"reviewedAt,omitempty"`
}

// ProviderDashboard はサービス提供者ダッシュボードの集計値。
type ProviderDashboard struct {
	ActiveServices    int     `json:"activeServices"`
	UpcomingBookings  int     `json:"upcomingBookings"`
	CompletedBookings int     `json:"completedBookings"`
	Earnings          float64 `json:"earnings"`
}
