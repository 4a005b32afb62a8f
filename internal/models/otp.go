package models

import "time"

// OTPPurpose scopes a one-time code to a single flow.
type OTPPurpose string

const (
	OTPPurposeVerify OTPPurpose = "verify"
	OTPPurposeReset  OTPPurpose = "reset"
)

type OTPData struct {
	OTPHash   string     `json:"otp_hash"`
	Email     string     `json:"email"`
	Purpose   OTPPurpose `json:"purpose"`
	Attempts  int        `json:"attempts"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt time.Time  `json:"expires_at"`
}
