package users

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// verificationPurpose keeps a verification code from being accepted anywhere
// else the same secret might sign tokens.
const verificationPurpose = "account-verification"

// ErrInvalidVerificationCode covers malformed, tampered and expired codes.
var ErrInvalidVerificationCode = errors.New("invalid or expired verification code")

type verificationClaims struct {
	jwt.RegisteredClaims
	Purpose string `json:"purpose"`
}

// VerificationCodes issues and checks signed, expiring account confirmation
// codes. No server-side state is kept for them.
type VerificationCodes struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewVerificationCodes creates a code issuer signing with secret (HS256).
func NewVerificationCodes(secret string, ttl time.Duration) *VerificationCodes {
	return &VerificationCodes{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue returns a code that confirms userID until the TTL elapses.
func (v *VerificationCodes) Issue(userID int64) (string, error) {
	now := v.now()
	claims := verificationClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(userID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(v.ttl)),
		},
		Purpose: verificationPurpose,
	}
	code, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("signing verification code: %w", err)
	}
	return code, nil
}

// Parse returns the user id a code confirms.
func (v *VerificationCodes) Parse(code string) (int64, error) {
	claims := &verificationClaims{}
	token, err := jwt.ParseWithClaims(code, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(v.now))
	if err != nil || !token.Valid || claims.Purpose != verificationPurpose {
		return 0, ErrInvalidVerificationCode
	}
	id, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return 0, ErrInvalidVerificationCode
	}
	return id, nil
}
