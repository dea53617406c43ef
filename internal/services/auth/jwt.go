package auth

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

const tokenIssuer = "stars-shop"

// JWTManager signs and checks operator API tokens. Only ids in the
// operator allow-list can obtain or present a valid token.
type JWTManager struct {
	secret    []byte
	accessTTL time.Duration
	operators map[int64]struct{}
	now       func() time.Time
}

type tokenClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

func NewJWTManager(secret string, accessTTL time.Duration, operatorIDs []int64) *JWTManager {
	if accessTTL <= 0 {
		accessTTL = 12 * time.Hour
	}
	operators := make(map[int64]struct{}, len(operatorIDs))
	for _, id := range operatorIDs {
		if id > 0 {
			operators[id] = struct{}{}
		}
	}

	return &JWTManager{
		secret:    []byte(secret),
		accessTTL: accessTTL,
		operators: operators,
		now:       time.Now,
	}
}

func (m *JWTManager) IsOperator(userID int64) bool {
	_, ok := m.operators[userID]
	return ok
}

func (m *JWTManager) GenerateOperatorToken(operatorID int64) (string, time.Time, error) {
	if len(m.secret) == 0 {
		return "", time.Time{}, fmt.Errorf("jwt secret is empty")
	}
	if operatorID <= 0 {
		return "", time.Time{}, ErrInvalidInput
	}
	if !m.IsOperator(operatorID) {
		return "", time.Time{}, ErrForbidden
	}

	now := m.now().UTC()
	expiresAt := now.Add(m.accessTTL)
	claims := tokenClaims{
		Role: RoleOperator,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   strconv.FormatInt(operatorID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign operator token: %w", err)
	}

	return signed, expiresAt, nil
}

func (m *JWTManager) ParseAccessToken(raw string) (AccessClaims, error) {
	if strings.TrimSpace(raw) == "" {
		return AccessClaims{}, ErrUnauthorized
	}

	claims := &tokenClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(_ *jwt.Token) (interface{}, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil || token == nil || !token.Valid {
		return AccessClaims{}, ErrUnauthorized
	}

	operatorID, parseErr := strconv.ParseInt(claims.Subject, 10, 64)
	if parseErr != nil || operatorID <= 0 {
		return AccessClaims{}, ErrUnauthorized
	}
	if claims.Role != RoleOperator || !m.IsOperator(operatorID) {
		return AccessClaims{}, ErrForbidden
	}

	return AccessClaims{
		OperatorID: operatorID,
		Role:       claims.Role,
		ExpiresAt:  claims.ExpiresAt.Time,
	}, nil
}
