// Package auth - token.go handles session token creation, signing, and verification
// using a shared secret, including lazy secret initialization and claims parsing.
//
// Session tokens are short-lived bearer tokens minted by a successful license
// validation. They carry the device id and a truncated key hint, never the full
// license key.
package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// jwtSecret holds the validated signing secret
	jwtSecret     string
	jwtSecretOnce sync.Once
	jwtSecretErr  error
)

// PurposeSession is the only purpose claim this service mints or accepts.
const PurposeSession = "session"

// SessionClaims represents the session token claims structure
type SessionClaims struct {
	DeviceID string `json:"device_id"`
	KeyHint  string `json:"key_hint"`
	Purpose  string `json:"purpose"`
	jwt.RegisteredClaims
}

// isDevMode checks if we're in development mode (duplicated here to avoid import cycle)
func isDevMode() bool {
	devMode := os.Getenv("DEV_MODE")
	ginMode := os.Getenv("GIN_MODE")

	return devMode == "true" || devMode == "1" || ginMode == "debug"
}

// generateRandomSecret creates a cryptographically secure random secret
func generateRandomSecret() string {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to a less secure but functional secret
		return fmt.Sprintf("dev-fallback-%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}

// ValidateSecret checks that the signing secret is properly configured.
// In production, this will fail if KG_JWT_SECRET is not set.
// In dev mode, it will generate a random secret and log a warning.
// Call this at application startup.
func ValidateSecret() error {
	jwtSecretOnce.Do(func() {
		secret := os.Getenv("KG_JWT_SECRET")

		if secret == "" {
			if isDevMode() {
				// In dev mode, generate a random secret and warn
				jwtSecret = generateRandomSecret()
				log.Printf("WARNING: KG_JWT_SECRET not set. Using auto-generated secret for development.")
				log.Printf("WARNING: Session tokens will not survive restarts. Set KG_JWT_SECRET for stable sessions.")
			} else {
				// In production, fail fast
				jwtSecretErr = errors.New("SECURITY ERROR: KG_JWT_SECRET environment variable is required in production. " +
					"Generate a secure secret with: openssl rand -hex 32")
			}
			return
		}

		// Validate secret length (minimum 32 characters recommended)
		if len(secret) < 32 {
			log.Printf("WARNING: KG_JWT_SECRET is shorter than recommended 32 characters. Consider using a longer secret.")
		}

		jwtSecret = secret
	})

	return jwtSecretErr
}

// GetSecret retrieves the validated signing secret.
// Panics if ValidateSecret() hasn't been called or failed.
func GetSecret() string {
	if jwtSecret == "" {
		// If ValidateSecret wasn't called, try to validate now
		if err := ValidateSecret(); err != nil {
			panic(err)
		}
	}
	return jwtSecret
}

// GenerateSessionToken mints a session token for a validated device. keyHint
// must already be truncated; callers pass models.KeyHint(licenseKey), never the
// raw key.
func GenerateSessionToken(deviceID, keyHint string, expiresIn time.Duration) (string, error) {
	if expiresIn == 0 {
		expiresIn = 5 * time.Minute // Default session lifetime
	}

	claims := &SessionClaims{
		DeviceID: deviceID,
		KeyHint:  keyHint,
		Purpose:  PurposeSession,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			Issuer:    "keygate",
			Subject:   deviceID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	secret := GetSecret()

	tokenString, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", err
	}

	return tokenString, nil
}

// ValidateSessionToken parses and validates a session token. Tokens minted for
// any other purpose are rejected even when the signature is valid.
func ValidateSessionToken(tokenString string) (*SessionClaims, error) {
	secret := GetSecret()

	token, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(token *jwt.Token) (interface{}, error) {
		// Validate signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})

	if err != nil {
		return nil, err
	}

	if !token.Valid {
		return nil, errors.New("invalid token")
	}

	claims, ok := token.Claims.(*SessionClaims)
	if !ok {
		return nil, errors.New("invalid claims type")
	}

	if claims.Purpose != PurposeSession {
		return nil, errors.New("token is not a session token")
	}

	return claims, nil
}
