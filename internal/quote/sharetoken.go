package quote

import (
	"errors"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ShareTokenManager issues and verifies the opaque tokens behind read-only
// quotation share links. Each issue embeds a fresh jti, so revoking a link and
// re-enabling it produces a token that never matches the old one; the stored
// token on the quotation is the revocation source of truth, the signature
// check only rejects fabricated tokens before any store lookup happens.
type ShareTokenManager struct {
	secret []byte
	issuer string
}

type shareClaims struct {
	jwtlib.RegisteredClaims
	Scope string `json:"scope"`
}

const shareScope = "quotation:read"

func NewShareTokenManager(secret string) *ShareTokenManager {
	return &ShareTokenManager{secret: []byte(secret), issuer: "cloudquote"}
}

// Issue signs a new share token for the quotation. Tokens carry no expiry:
// a link stays valid until it is explicitly revoked.
func (m *ShareTokenManager) Issue(quotationID string) (string, error) {
	claims := shareClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:  quotationID,
			ID:       uuid.NewString(),
			IssuedAt: jwtlib.NewNumericDate(time.Now().UTC()),
			Issuer:   m.issuer,
		},
		Scope: shareScope,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(m.secret)
}

// Verify checks the token signature and shape and returns the quotation id it
// was issued for.
func (m *ShareTokenManager) Verify(tokenStr string) (string, error) {
	claims := &shareClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return "", errors.New("invalid share token")
	}
	if claims.Scope != shareScope {
		return "", errors.New("invalid share token scope")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", errors.New("invalid share token subject")
	}
	return sub, nil
}
