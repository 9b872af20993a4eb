package model

// MenuItem はサイドバーのナビゲーション項目。
// Permissionが空の項目は常に表示する。
type MenuItem struct {
	Path       string
	Label      string
	Permission string
	Title      string
	Breadcrumb string
}

// MenuSection はラベル付きのナビゲーション項目グループ。
type MenuSection struct {
	Label string
	Items []MenuItem
}

var adminMenu = []MenuSection{
	{
		Items: []MenuItem{
			{Path: "/admin/dashboard", Label: "Dashboard", Permission: PermUserRead, Title: "DASHBOARD", Breadcrumb: "Analytics"},
		},
	},
	{
		Label: "User Management",
		Items: []MenuItem{
			{Path: "/admin/users", Label: "Users", Permission: PermUserRead, Title: "USERS", Breadcrumb: "Users"},
			{Path: "/admin/roles", Label: "Roles & Permissions", Permission: PermRoleManage, Title: "ROLES & PERMISSIONS", Breadcrumb: "Roles & Permissions"},
			{Path: "/admin/kyc", Label: "KYC Review", Permission: PermKYCReview, Title: "KYC REVIEW", Breadcrumb: "KYC Review"},
		},
	},
	{
		Label: "Business Operations",
		Items: []MenuItem{
			{Path: "/admin/tenants", Label: "Service Providers", Permission: PermTenantManage, Title: "SERVICE PROVIDERS", Breadcrumb: "Service Providers"},
			{Path: "/admin/cities", Label: "Cities", Permission: PermTenantManage, Title: "CITIES", Breadcrumb: "Cities"},
			{Path: "/admin/bookings", Label: "Bookings", Permission: PermBookingManage, Title: "BOOKINGS", Breadcrumb: "Bookings"},
			{Path: "/admin/transactions", Label: "Transactions", Permission: PermTransactionRead, Title: "TRANSACTIONS", Breadcrumb: "Transactions"},
			{Path: "/admin/payments", Label: "Payments", Permission: PermPaymentRead, Title: "PAYMENTS", Breadcrumb: "Payments"},
		},
	},
	{
		Label: "Support & Communication",
		Items: []MenuItem{
			{Path: "/admin/customer-support", Label: "Customer Support", Permission: PermSupportManage, Title: "CUSTOMER SUPPORT", Breadcrumb: "Customer Support"},
			{Path: "/admin/announcements", Label: "Announcements", Permission: PermAnnouncementManage, Title: "ANNOUNCEMENTS", Breadcrumb: "Announcements"},
		},
	},
	{
		Label: "Content Management",
		Items: []MenuItem{
			{Path: "/admin/cms", Label: "CMS", Permission: PermCMSManage, Title: "CMS", Breadcrumb: "CMS"},
			{Path: "/admin/blogs", Label: "Blogs", Permission: PermBlogManage, Title: "BLOGS", Breadcrumb: "Blogs"},
		},
	},
	{
		Label: "System",
		Items: []MenuItem{
			{Path: "/admin/security", Label: "Security", Permission: PermSystemSecurity, Title: "SECURITY", Breadcrumb: "Security"},
			{Path: "/admin/settings", Label: "Settings", Permission: PermSystemSecurity, Title: "SETTINGS", Breadcrumb: "Settings"},
		},
	},
}

var providerMenu = []MenuSection{
	{
		Items: []MenuItem{
			{Path: "/provider/dashboard", Label: "Dashboard", Title: "DASHBOARD", Breadcrumb: "Overview"},
			{Path: "/provider/services", Label: "My Services", Title: "MY SERVICES", Breadcrumb: "Services"},
			{Path: "/provider/bookings", Label: "Bookings", Title: "BOOKINGS", Breadcrumb: "Bookings"},
		},
	},
	{
		Label: "Account",
		Items: []MenuItem{
			{Path: "/provider/profile", Label: "Profile", Title: "PROFILE", Breadcrumb: "Profile"},
			{Path: "/provider/kyc", Label: "KYC Status", Title: "KYC STATUS", Breadcrumb: "KYC"},
		},
	},
}

// AdminMenu は管理者レイアウトのメニュー定義のコピーを返す。
func AdminMenu() []MenuSection { return cloneMenu(adminMenu) }

// ProviderMenu はサービス提供者レイアウトのメニュー定義のコピーを返す。
func ProviderMenu() []MenuSection { return cloneMenu(providerMenu) }

// FindMenuItem はパスに一致するメニュー項目を探す。
func FindMenuItem(sections []MenuSection, path string) (MenuItem, bool) {
	for _, s := range sections {
		for _, item := range s.Items {
			if item.Path == path {
				return item, true
			}
		}
	}
	return MenuItem{}, false
}

// FilterMenu は許可判定関数を通過した項目だけを残したメニューを返す。
// 項目が空になったセクションは除外する。
func FilterMenu(sections []MenuSection, allowed func(permission string) bool) []MenuSection {
	out := make([]MenuSection, 0, len(sections))
	for _, s := range sections {
		var items []MenuItem
		for _, item := range s.Items {
			if item.Permission == "" || allowed(item.Permission) {
				items = append(items, item)
			}
		}
		if len(items) > 0 {
			out = append(out, MenuSection{Label: s.Label, Items: items})
		}
	}
	return out
}

func cloneMenu(src []MenuSection) []MenuSection {
	out := make([]MenuSection, len(src))
	for i, s := range src {
		out[i] = MenuSection{Label: s.Label, Items: append([]MenuItem(nil), s.Items...)}
	}
	return out
}
