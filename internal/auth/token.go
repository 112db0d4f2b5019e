// ABOUTME: JWT verification for staff dashboard sessions
// ABOUTME: HS256 tokens carrying the staff ID and their clinic

package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Token errors
var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
	ErrMissingClaim = errors.New("missing required claim")
)

// StaffClaims identifies an authenticated dashboard session.
type StaffClaims struct {
	StaffID  string
	ClinicID string
}

// TokenVerifier validates a dashboard token.
type TokenVerifier interface {
	Verify(tokenString string) (*StaffClaims, error)
}

// JWTVerifier implements TokenVerifier using HS256 signed JWTs.
type JWTVerifier struct {
	secret []byte
}

func NewJWTVerifier(secret []byte) *JWTVerifier {
	return &JWTVerifier{secret: secret}
}

// Verify validates the token and extracts the staff ID from "sub" and the
// clinic from "clinic_id".
func (v *JWTVerifier) Verify(tokenString string) (*StaffClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return nil, fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	clinicID, ok := claims["clinic_id"].(string)
	if !ok || clinicID == "" {
		return nil, fmt.Errorf("%w: clinic_id", ErrMissingClaim)
	}

	return &StaffClaims{StaffID: sub, ClinicID: clinicID}, nil
}

// Generate creates a dashboard token for the given staff member.
func (v *JWTVerifier) Generate(staffID, clinicID string, expiresIn time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":       staffID,
		"clinic_id": clinicID,
		"iat":       now.Unix(),
		"exp":       now.Add(expiresIn).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(v.secret)
}
