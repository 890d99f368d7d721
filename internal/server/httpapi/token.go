package httpapi

import (
	"errors"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
)

const tokenIssuer = "portal-keeper"

type claims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// tokens issues and checks HS256 bearer tokens bound to a vault session.
type tokens struct {
	key []byte
	ttl time.Duration
	now func() time.Time
}

func (t tokens) issue(sid uuid.UUID) (string, time.Time, error) {
	now := t.now()
	exp := now.Add(t.ttl)
	c := claims{
		SessionID: sid.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(t.key)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

func (t tokens) parse(raw string) (uuid.UUID, error) {
	var c claims
	parsed, err := jwt.ParseWithClaims(raw, &c, func(tok *jwt.Token) (any, error) {
		if tok.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return t.key, nil
	},
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30*time.Second),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil || !parsed.Valid {
		return uuid.Nil, errors.New("invalid token")
	}
	id, err := uuid.FromString(c.SessionID)
	if err != nil {
		return uuid.Nil, errors.New("bad session id")
	}
	return id, nil
}
