package hardware

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token modes. Static tokens are deterministic per door and can be
// burned into minimal controller firmware; timestamped tokens expire
// and suit controllers with a reliable clock.
const (
	TokenModeStatic      = "static"
	TokenModeTimestamped = "timestamped"
)

// TokenIssuer signs unlock tokens for door controllers.
// Both sides hold the same shared secret; there is no per-controller key
// distribution.
type TokenIssuer struct {
	secret []byte
	mode   string
	ttl    time.Duration
}

// NewTokenIssuer creates a token issuer.
// An unrecognised mode falls back to static.
func NewTokenIssuer(secret, mode string, ttl time.Duration) *TokenIssuer {
	if mode != TokenModeTimestamped {
		mode = TokenModeStatic
	}
	return &TokenIssuer{
		secret: []byte(secret),
		mode:   mode,
		ttl:    ttl,
	}
}

// Mode returns the configured token mode.
func (t *TokenIssuer) Mode() string {
	return t.mode
}

// Issue produces an unlock token for one door.
// In static mode the token is stable for the door's lifetime, so
// controllers can verify without tracking state.
func (t *TokenIssuer) Issue(siteID, doorID string, doorNumber int) (string, error) {
	if t.mode == TokenModeTimestamped {
		return t.issueTimestamped(doorID, doorNumber)
	}
	return t.StaticToken(siteID, doorID, doorNumber), nil
}

// StaticToken derives the deterministic HMAC-SHA256 tag for a door.
// The message binds site, door ID, and physical door number so a token
// recorded from one door cannot open another.
func (t *TokenIssuer) StaticToken(siteID, doorID string, doorNumber int) string {
	mac := hmac.New(sha256.New, t.secret)
	mac.Write([]byte(siteID))
	mac.Write([]byte{'|'})
	mac.Write([]byte(doorID))
	mac.Write([]byte{'|'})
	mac.Write([]byte(strconv.Itoa(doorNumber)))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyStatic checks a static token in constant time.
func (t *TokenIssuer) VerifyStatic(token, siteID, doorID string, doorNumber int) bool {
	expected := t.StaticToken(siteID, doorID, doorNumber)
	return hmac.Equal([]byte(token), []byte(expected))
}

// ControllerToken derives the polling credential for a QUEUED controller.
// Controllers present it when fetching commands or posting results over
// HTTP; it is provisioned once at install time alongside the secret.
func (t *TokenIssuer) ControllerToken(controllerID string) string {
	mac := hmac.New(sha256.New, t.secret)
	mac.Write([]byte("controller|"))
	mac.Write([]byte(controllerID))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyController checks a controller polling credential in constant time.
func (t *TokenIssuer) VerifyController(controllerID, token string) bool {
	expected := t.ControllerToken(controllerID)
	return hmac.Equal([]byte(token), []byte(expected))
}

// unlockClaims are the JWT claims carried by a timestamped unlock token.
type unlockClaims struct {
	DoorID     string `json:"door_id"`
	DoorNumber int    `json:"door_number"`
	jwt.RegisteredClaims
}

// issueTimestamped signs an expiry-bound unlock token.
func (t *TokenIssuer) issueTimestamped(doorID string, doorNumber int) (string, error) {
	now := time.Now().UTC()
	claims := unlockClaims{
		DoorID:     doorID,
		DoorNumber: doorNumber,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("signing unlock token: %w", err)
	}
	return signed, nil
}

// VerifyTimestamped parses and validates a timestamped unlock token,
// returning the door ID and door number it was issued for.
func (t *TokenIssuer) VerifyTimestamped(token string) (string, int, error) {
	var claims unlockClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(tok *jwt.Token) (any, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
		}
		return t.secret, nil
	})
	if err != nil {
		return "", 0, fmt.Errorf("parsing unlock token: %w", err)
	}
	if !parsed.Valid {
		return "", 0, fmt.Errorf("invalid unlock token")
	}
	return claims.DoorID, claims.DoorNumber, nil
}
