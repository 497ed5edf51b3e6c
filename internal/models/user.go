package models

import (
	"github.com/shopspring/decimal"
)

// Profile keys written to the token store on login
// Nothing in the session core reads them back
const (
	KeyUsername       = "username"
	KeyRole           = "role"
	KeyEmail          = "email"
	KeyUserID         = "user_id"
	KeyCompanyID      = "company_id"
	KeyKYCVerified    = "kyc_verified"
	KeyAccountBalance = "account_balance"
	KeyProfitBalance  = "profit_balance"
)

// Roles known by the backend
const (
	RoleTrader       = "trader"
	RoleCompanyAdmin = "company_admin"
	RoleRegulator    = "regulator"
)

type Credentials struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type Profile struct {
	ID             int64           `json:"id"`
	Username       string          `json:"username"`
	Email          string          `json:"email"`
	Role           string          `json:"role"`
	KYCVerified    bool            `json:"kyc_verified"`
	CompanyID      *int64          `json:"company_id"`
	AccountBalance decimal.Decimal `json:"account_balance"`
	ProfitBalance  decimal.Decimal `json:"profit_balance"`
	TokenVersion   int             `json:"token_version"`
}

// Stored profile fields, all keys from above
func (p Profile) StorageKeys() []string {
	return []string{
		KeyUsername,
		KeyRole,
		KeyEmail,
		KeyUserID,
		KeyCompanyID,
		KeyKYCVerified,
		KeyAccountBalance,
		KeyProfitBalance,
	}
}
