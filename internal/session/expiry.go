package session

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hitoshi/servease-console/internal/model"
)

// ExpiresAt はスナップショットの保存期限を算出する。
// 基本はnow+maxAgeとし、アクセストークンがJWTでexpクレームを持つ場合はそれより後にしない。
// 署名はバックエンドが検証するため、ここでは検証せずにクレームだけを読む。
func ExpiresAt(snapshot model.Snapshot, maxAge time.Duration, now time.Time) time.Time {
	expires := now.Add(maxAge)

	exp, ok := TokenExpiry(snapshot.AccessToken)
	if ok && exp.Before(expires) {
		expires = exp
	}
	return expires
}

// TokenExpiry はJWTのexpクレームを検証なしで読み取る。
// JWTでない場合やexpがない場合はfalseを返す。
func TokenExpiry(token string) (time.Time, bool) {
	if token == "" {
		return time.Time{}, false
	}

	parsed, _, err := jwt.NewParser().ParseUnverified(token, jwt.MapClaims{})
	if err != nil {
		return time.Time{}, false
	}

	exp, err := parsed.Claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
