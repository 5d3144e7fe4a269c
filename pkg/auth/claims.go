package auth

import (
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/swiftwatch/swiftwatch-backend/pkg/enums"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	AccountID uuid.UUID
	Plan      enums.Plan
	JTI       string
}

// AccessTokenClaims represents the typed JWT issued to CI clients.
type AccessTokenClaims struct {
	AccountID uuid.UUID  `json:"account_id"`
	Plan      enums.Plan `json:"plan"`
	jwt.RegisteredClaims
}
