package notify

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"missionline/internal/domain"
)

const (
	tokenIssuer = "missionline"
	tokenTTL    = 5 * time.Minute
)

// DeliveryClaims travel in the bearer token of a signed delivery. BodySHA256
// binds the token to the exact request body.
type DeliveryClaims struct {
	jwt.RegisteredClaims
	EventID    int64  `json:"event_id"`
	EventType  string `json:"event_type"`
	BodySHA256 string `json:"body_sha256"`
}

func bodyDigest(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// SignDelivery returns an HS256 token for one delivery of evt.
func SignDelivery(secret string, evt domain.Event, body []byte, now time.Time) (string, error) {
	if strings.TrimSpace(secret) == "" {
		return "", errors.New("webhook secret not configured")
	}
	claims := DeliveryClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   evt.Type,
			ID:        strconv.FormatInt(evt.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
		},
		EventID:    evt.ID,
		EventType:  evt.Type,
		BodySHA256: bodyDigest(body),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// VerifyDelivery checks a delivery token against the shared secret and the
// received body. Receivers written in Go can call it directly.
func VerifyDelivery(token, secret string, body []byte) (DeliveryClaims, error) {
	if strings.TrimSpace(secret) == "" {
		return DeliveryClaims{}, errors.New("webhook secret not configured")
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithIssuedAt(),
	)
	claims := &DeliveryClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return DeliveryClaims{}, err
	}
	if !parsed.Valid {
		return DeliveryClaims{}, errors.New("invalid token")
	}
	if claims.BodySHA256 != bodyDigest(body) {
		return DeliveryClaims{}, errors.New("body does not match token")
	}
	return *claims, nil
}
