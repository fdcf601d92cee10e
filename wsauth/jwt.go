package wsauth

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// UserValidator which accepts HMAC-SHA256 signed JWT. The user ID is the "sub" claim.
type JWTValidator struct {
	secret   []byte
	issuer   string
	audience string
	parser   *jwt.Parser
}

// # Description
//
// Factory which creates a new JWTValidator.
//
// # Inputs
//
//   - secret: HMAC secret. Must not be empty.
//   - issuer: Required "iss" claim. Not checked if empty.
//   - audience: Required "aud" claim. Not checked if empty.
func NewJWTValidator(secret []byte, issuer string, audience string) (*JWTValidator, error) {
	if len(secret) == 0 {
		return nil, errors.New("jwt secret is empty")
	}
	return &JWTValidator{
		secret:   secret,
		issuer:   issuer,
		audience: audience,
		parser:   jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})),
	}, nil
}

func (v *JWTValidator) IsValidToken(ctx context.Context, token string) bool {
	_, err := v.parse(token)
	return err == nil
}

func (v *JWTValidator) GetID(ctx context.Context, token string) (string, error) {
	claims, err := v.parse(token)
	if err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", ErrNoUserID
	}
	return claims.Subject, nil
}

func (v *JWTValidator) parse(token string) (*jwt.RegisteredClaims, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := v.parser.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil {
		return nil, errors.Join(ErrInvalidToken, err)
	}
	if v.issuer != "" && !claims.VerifyIssuer(v.issuer, true) {
		return nil, errors.Join(ErrInvalidToken, jwt.ErrTokenInvalidIssuer)
	}
	if v.audience != "" && !claims.VerifyAudience(v.audience, true) {
		return nil, errors.Join(ErrInvalidToken, jwt.ErrTokenInvalidAudience)
	}
	return claims, nil
}

// # Description
//
// Issue a HMAC-SHA256 signed JWT for subject.
//
// # Inputs
//
//   - secret: HMAC secret.
//   - subject: User ID stored in the "sub" claim.
//   - issuer: "iss" claim. Omitted if empty.
//   - audience: "aud" claim. Omitted if empty.
//   - ttl: Token lifetime. 0 issues a token without expiration, negative values an expired token.
func IssueToken(secret []byte, subject string, issuer string, audience string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:  subject,
		Issuer:   issuer,
		IssuedAt: jwt.NewNumericDate(now),
	}
	if audience != "" {
		claims.Audience = jwt.ClaimStrings{audience}
	}
	if ttl != 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}
