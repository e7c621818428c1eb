package security

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token validation errors.
var (
	// ErrInvalidToken indicates a token is malformed or fails signature validation.
	ErrInvalidToken = errors.New("invalid token")
	// ErrExpiredToken indicates a session token has expired.
	ErrExpiredToken = errors.New("token expired")
	// ErrChallengeExpired indicates a pending-login challenge outlived its window.
	ErrChallengeExpired = errors.New("challenge expired")
	// ErrStampExpired indicates the two-factor stamp outlived its window.
	ErrStampExpired = errors.New("two-factor stamp expired")
)

// SessionClaims defines the signed claims of an authenticated admin session.
type SessionClaims struct {
	UserID            uint64 `json:"user_id"`
	Email             string `json:"email"`
	Role              string `json:"role"`
	TwoFactorVerified bool   `json:"two_factor_verified"`
	jwt.RegisteredClaims
}

// ChallengeClaims defines the signed claims of a password-verified,
// 2FA-pending login.
type ChallengeClaims struct {
	UserID uint64 `json:"user_id"`
	jwt.RegisteredClaims
}

// StampClaims defines the signed claims of a satisfied two-factor check.
// The issuance time is the stamp; it never renews on activity.
type StampClaims struct {
	jwt.RegisteredClaims
}

// GenerateSessionToken signs a session token with the configured expiry.
func GenerateSessionToken(secret string, userID uint64, email, role string, twoFactorVerified bool, expiry time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := SessionClaims{
		UserID:            userID,
		Email:             email,
		Role:              role,
		TwoFactorVerified: twoFactorVerified,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(expiry)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseSessionToken validates a session token and returns its claims. Claims
// are never trusted before the HMAC signature verifies.
func ParseSessionToken(secret, tokenString string) (*SessionClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, hmacKeyFunc(secret))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*SessionClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// GenerateChallengeToken signs a challenge token for a password-verified
// login awaiting its second factor.
func GenerateChallengeToken(secret string, userID uint64, expiry time.Duration) (string, error) {
	return generateChallengeTokenAt(secret, userID, expiry, time.Now().UTC())
}

func generateChallengeTokenAt(secret string, userID uint64, expiry time.Duration, issuedAt time.Time) (string, error) {
	claims := ChallengeClaims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(expiry)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseChallengeToken validates a challenge token and returns the pending
// user ID. Verification is stateless: a token may be presented any number of
// times inside its window.
func ParseChallengeToken(secret, tokenString string) (uint64, error) {
	token, err := jwt.ParseWithClaims(tokenString, &ChallengeClaims{}, hmacKeyFunc(secret))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return 0, ErrChallengeExpired
		}
		return 0, ErrInvalidToken
	}
	claims, ok := token.Claims.(*ChallengeClaims)
	if !ok || !token.Valid {
		return 0, ErrInvalidToken
	}
	return claims.UserID, nil
}

// GenerateStamp signs a two-factor stamp recording when 2FA last succeeded.
func GenerateStamp(secret string, expiry time.Duration) (string, error) {
	return generateStampAt(secret, expiry, time.Now().UTC())
}

func generateStampAt(secret string, expiry time.Duration, issuedAt time.Time) (string, error) {
	claims := StampClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(issuedAt.Add(expiry)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseStamp validates a two-factor stamp. Expiry is evaluated here, at read
// time; no sweeper exists.
func ParseStamp(secret, tokenString string) (*StampClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &StampClaims{}, hmacKeyFunc(secret))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrStampExpired
		}
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*StampClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func hmacKeyFunc(secret string) jwt.Keyfunc {
	return func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(secret), nil
	}
}
