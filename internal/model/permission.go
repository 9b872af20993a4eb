package model

// 権限文字列のカタログ。UIの出し分けに使う。
// バックエンドはすべての権限をサーバー側で再検証する前提であり、
// ここでの判定はセキュリティ境界ではない。
const (
	PermUserRead           = "USER_READ"
	PermUserManage         = "USER_MANAGE"
	PermRoleManage         = "ROLE_MANAGE"
	PermKYCReview          = "KYC_REVIEW"
	PermTenantManage       = "TENANT_MANAGE"
	PermBookingManage      = "BOOKING_MANAGE"
	PermTransactionRead    = "TRANSACTION_READ"
	PermPaymentRead        = "PAYMENT_READ"
	PermPaymentRefund      = "PAYMENT_REFUND"
	PermSupportManage      = "SUPPORT_MANAGE"
	PermAnnouncementManage = "ANNOUNCEMENT_MANAGE"
	PermCMSManage          = "CMS_MANAGE"
	PermBlogManage         = "BLOG_MANAGE"
	PermSystemSecurity     = "SYSTEM_SECURITY"
)

var allPermissions = []string{
	PermUserRead,
	PermUserManage,
	PermRoleManage,
	PermKYCReview,
	PermTenantManage,
	PermBookingManage,
	PermTransactionRead,
	PermPaymentRead,
	PermPaymentRefund,
	PermSupportManage,
	PermAnnouncementManage,
	PermCMSManage,
	PermBlogManage,
	PermSystemSecurity,
}

// AllPermissions はカタログ全体をコピーして返す。
func AllPermissions() []string {
	out := make([]string, len(allPermissions))
	copy(out, allPermissions)
	return out
}

// IsKnownPermission は権限文字列がカタログに含まれるかを返す。
func IsKnownPermission(p string) bool {
	for _, known := range allPermissions {
		if known == p {
			return true
		}
	}
	return false
}
