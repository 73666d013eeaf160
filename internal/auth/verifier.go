package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"studysync/pkg/types"
)

// Claims is the identity token body. UserID falls back to the standard
// subject claim for tokens minted by other services.
type Claims struct {
	UserID string `json:"user_id,omitempty"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// Verifier validates signed identity tokens. It holds no mutable state and
// is safe for concurrent use.
type Verifier struct {
	secret []byte
	issuer string
	parser *jwt.Parser
}

// NewVerifier creates a verifier for HS256 tokens signed with secret.
// An empty issuer disables the issuer check.
func NewVerifier(secret, issuer string) (*Verifier, error) {
	if len(secret) < minSecretLength {
		return nil, ErrWeakSecret
	}
	return &Verifier{
		secret: []byte(secret),
		issuer: issuer,
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})),
	}, nil
}

// Verify returns the identity carried by token. Expiry is reported as
// types.ErrExpiredCredential; every other failure is types.ErrInvalidCredential.
func (v *Verifier) Verify(token string) (types.Identity, error) {
	if token == "" {
		return types.Identity{}, fmt.Errorf("%w: missing token", types.ErrInvalidCredential)
	}

	claims := &Claims{}
	_, err := v.parser.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil {
		return types.Identity{}, classify(err)
	}

	if v.issuer != "" && !claims.VerifyIssuer(v.issuer, true) {
		return types.Identity{}, fmt.Errorf("%w: unexpected issuer %q", types.ErrInvalidCredential, claims.Issuer)
	}

	userID := claims.UserID
	if userID == "" {
		userID = claims.Subject
	}
	if !types.IsValidUserID(userID) {
		return types.Identity{}, fmt.Errorf("%w: missing or malformed user id", types.ErrInvalidCredential)
	}

	role, err := types.ParseRole(claims.Role)
	if err != nil {
		return types.Identity{}, fmt.Errorf("%w: %v", types.ErrInvalidCredential, err)
	}

	return types.Identity{UserID: userID, Role: role}, nil
}

// classify maps jwt parse errors onto the credential taxonomy. A token with
// a bad signature is invalid even if it is also expired.
func classify(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenMalformed),
		errors.Is(err, jwt.ErrTokenSignatureInvalid),
		errors.Is(err, jwt.ErrTokenUnverifiable):
		return fmt.Errorf("%w: %v", types.ErrInvalidCredential, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return fmt.Errorf("%w: %v", types.ErrExpiredCredential, err)
	default:
		return fmt.Errorf("%w: %v", types.ErrInvalidCredential, err)
	}
}

// Issuer mints tokens. The serve command never uses it; it backs the token
// CLI command and tests.
type Issuer struct {
	secret []byte
	issuer string
	now    func() time.Time
}

func NewIssuer(secret, issuer string) (*Issuer, error) {
	if len(secret) < minSecretLength {
		return nil, ErrWeakSecret
	}
	return &Issuer{secret: []byte(secret), issuer: issuer, now: time.Now}, nil
}

// Issue signs a token for id valid for ttl.
func (i *Issuer) Issue(id types.Identity, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		return "", ErrInvalidTTL
	}
	now := i.now()
	claims := Claims{
		UserID: id.UserID,
		Role:   id.Role.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.UserID,
			Issuer:    i.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
