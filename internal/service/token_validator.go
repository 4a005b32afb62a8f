package service

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenValidator decides locally whether a JWT has expired. It only reads the
// exp claim; signatures are the server's business.
type TokenValidator struct {
	now    func() time.Time
	parser *jwt.Parser
}

func NewTokenValidator() *TokenValidator {
	return &TokenValidator{
		now:    time.Now,
		parser: jwt.NewParser(),
	}
}

// WithClock returns a copy of the validator that reads time from now.
func (v *TokenValidator) WithClock(now func() time.Time) *TokenValidator {
	return &TokenValidator{now: now, parser: v.parser}
}

// IsExpired reports whether token must be treated as expired: it fails to
// decode, carries no numeric exp claim, or exp is not after the current second.
func (v *TokenValidator) IsExpired(token string) bool {
	claims := jwt.MapClaims{}
	if _, _, err := v.parser.ParseUnverified(token, claims); err != nil {
		return true
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return true
	}

	return exp.Unix() <= v.now().Unix()
}
