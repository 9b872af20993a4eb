package handler

import (
	"slices"
	"strconv"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

// fieldErrors はフォーム項目ごとの検証エラー。空なら検証成功。
type fieldErrors map[string]string

// add は項目に最初のエラーだけを記録する。
func (e fieldErrors) add(field, message string) {
	if _, exists := e[field]; !exists {
		e[field] = message
	}
}

func (e fieldErrors) ok() bool {
	return len(e) == 0
}

var validate = validator.New()

// validateRequired は値が空でないことを検証する。
func validateRequired(errs fieldErrors, field, value, message string) {
	if strings.TrimSpace(value) == "" {
		errs.add(field, message)
	}
}

// validateEmail はメールアドレスの形式を検証する。表示名付きの形式は受け付けない。
func validateEmail(errs fieldErrors, field, value string) {
	if value == "" {
		errs.add(field, "Email is required")
		return
	}
	if err := validate.Var(value, "email"); err != nil {
		errs.add(field, "Invalid email address")
	}
}

// validatePhone は電話番号が10桁以上の数字を含むことを検証する。
// 空白、ハイフン、括弧、先頭の+は区切りとして許可する。
func validatePhone(errs fieldErrors, field, value string) {
	digits := 0
	for i, r := range value {
		switch {
		case unicode.IsDigit(r):
			digits++
		case r == '+' && i == 0, r == ' ', r == '-', r == '(', r == ')':
		default:
			errs.add(field, "Phone number may only contain digits")
			return
		}
	}
	if digits < 10 {
		errs.add(field, "Phone number must be at least 10 digits")
	}
}

// validatePassword はパスワードの長さと確認入力の一致を検証する。
func validatePassword(errs fieldErrors, password, confirm string) {
	if len(password) < 8 {
		errs.add("password", "Password must be at least 8 characters")
	} else if passwordStrength(password) < minPasswordStrength {
		errs.add("password", "Password is too weak: mix letter case, digits or symbols")
	}
	if confirm == "" {
		errs.add("confirmPassword", "Please confirm your password")
	} else if password != confirm {
		errs.add("confirmPassword", "Passwords don't match")
	}
}

// minPasswordStrength は登録時に求めるパスワード強度の下限。
const minPasswordStrength = 2

// passwordStrength はパスワードの強度を0から4で返す。
// 8文字以上、大文字と小文字の混在、数字、記号をそれぞれ1点とする。
func passwordStrength(password string) int {
	var lower, upper, digit, symbol bool
	for _, r := range password {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		default:
			symbol = true
		}
	}

	score := 0
	if len(password) >= 8 {
		score++
	}
	if lower && upper {
		score++
	}
	if digit {
		score++
	}
	if symbol {
		score++
	}
	return score
}

// validateOTP は6桁の数字であることを検証する。
func validateOTP(errs fieldErrors, field, value string) {
	switch {
	case value == "":
		errs.add(field, "OTP is required")
	case len(value) != 6:
		errs.add(field, "OTP must be 6 digits")
	case validate.Var(value, "number") != nil:
		errs.add(field, "OTP must contain only numbers")
	}
}

// validatePositiveNumber は正の数であることを検証する。
func validatePositiveNumber(errs fieldErrors, field, value, message string) {
	n, err := strconv.ParseFloat(value, 64)
	if err != nil || validate.Var(n, "gt=0") != nil {
		errs.add(field, message)
	}
}

// validateMinLength は最小文字数を検証する。
func validateMinLength(errs fieldErrors, field, value string, minLen int, message string) {
	if len([]rune(strings.TrimSpace(value))) < minLen {
		errs.add(field, message)
	}
}

// validateOneOf は値が候補のいずれかであることを検証する。
func validateOneOf(errs fieldErrors, field, value string, allowed []string, message string) {
	if !slices.Contains(allowed, value) {
		errs.add(field, message)
	}
}

// parseAmount は任意入力の金額を解析する。空ならnil（全額）を返す。
func parseAmount(value string) (*float64, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, true
	}
	n, err := strconv.ParseFloat(value, 64)
	if err != nil || n <= 0 {
		return nil, false
	}
	return &n, true
}
