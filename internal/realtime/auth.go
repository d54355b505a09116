package realtime

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Handshake rejection reasons. These are wire-visible codes: clients match on
// them to decide whether to refresh credentials before re-handshaking.
const (
	CodeAuthenticationRequired = "AuthenticationRequired"
	CodeTokenExpired           = "TokenExpired"
	CodeInvalidToken           = "InvalidToken"
)

var (
	ErrAuthenticationRequired = errors.New("authentication required")
	ErrTokenExpired           = errors.New("token expired")
	ErrInvalidToken           = errors.New("invalid token")
)

// verifyToken checks an identity token against the shared API signing key and
// returns the owner ID from the subject claim.
func verifyToken(key []byte, tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return key, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrTokenExpired
		}
		return "", ErrInvalidToken
	}
	sub, err := token.Claims.GetSubject()
	if err != nil || sub == "" {
		return "", ErrInvalidToken
	}
	return sub, nil
}

// rejectionCode maps a verification error to its wire code.
func rejectionCode(err error) string {
	switch {
	case errors.Is(err, ErrAuthenticationRequired):
		return CodeAuthenticationRequired
	case errors.Is(err, ErrTokenExpired):
		return CodeTokenExpired
	default:
		return CodeInvalidToken
	}
}
