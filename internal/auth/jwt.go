package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenTTL covers one shift.
const TokenTTL = 12 * time.Hour

// Claims identify the person at the terminal. Role is the actor the order
// state machine checks transitions against.
type Claims struct {
	UserID  uuid.UUID `json:"user_id"`
	HotelID string    `json:"hotel_id"`
	Role    string    `json:"role"`
	jwt.RegisteredClaims
}

func GenerateToken(secret string, userID uuid.UUID, hotelID, role string) (string, error) {
	claims := Claims{
		UserID:  userID,
		HotelID: hotelID,
		Role:    role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(TokenTTL)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func ValidateToken(secret, tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}
