package app

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/louisbranch/yesand/internal/platform/errors"
	"github.com/louisbranch/yesand/internal/services/stage/domain/board"
)

const sessionCookieName = "yesand_session"

// SessionClaims is the identity carried by a verified session token.
type SessionClaims struct {
	Subject string
	Name    string
	Role    board.Role
	SceneID string
}

type sessionTokenClaims struct {
	jwt.RegisteredClaims
	Name    string `json:"name,omitempty"`
	Role    string `json:"role,omitempty"`
	SceneID string `json:"scene_id,omitempty"`
}

// SessionVerifier checks HS256 session tokens issued by an external
// service. A verifier with no secret accepts anonymous connections.
type SessionVerifier struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewSessionVerifier returns a verifier for secret. issuer is checked when
// non-empty.
func NewSessionVerifier(secret, issuer string, now func() time.Time) *SessionVerifier {
	if now == nil {
		now = time.Now
	}
	return &SessionVerifier{secret: []byte(strings.TrimSpace(secret)), issuer: strings.TrimSpace(issuer), now: now}
}

// Required reports whether connections must present a token.
func (v *SessionVerifier) Required() bool {
	return v != nil && len(v.secret) > 0
}

// Verify parses and validates token.
func (v *SessionVerifier) Verify(token string) (SessionClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return SessionClaims{}, apperrors.New(apperrors.CodeForbidden, "session token is required")
	}
	if !v.Required() {
		return SessionClaims{}, errors.New("session verifier is not configured")
	}

	var parsed sessionTokenClaims
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(v.now),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	_, err := jwt.ParseWithClaims(token, &parsed, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return SessionClaims{}, mapJWTError(err)
	}

	subject := strings.TrimSpace(parsed.Subject)
	if subject == "" {
		return SessionClaims{}, apperrors.New(apperrors.CodeForbidden, "session token subject is required")
	}
	role := board.Role(parsed.Role)
	if !role.Valid() {
		role = board.RolePlayer
	}
	return SessionClaims{
		Subject: subject,
		Name:    strings.TrimSpace(parsed.Name),
		Role:    role,
		SceneID: strings.TrimSpace(parsed.SceneID),
	}, nil
}

func mapJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return apperrors.Wrap(apperrors.CodeForbidden, "session token is expired", err)
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return apperrors.Wrap(apperrors.CodeForbidden, "session token signature is invalid", err)
	case errors.Is(err, jwt.ErrTokenInvalidIssuer):
		return apperrors.Wrap(apperrors.CodeForbidden, "session token issuer mismatch", err)
	default:
		return apperrors.Wrap(apperrors.CodeForbidden, "session token is invalid", err)
	}
}

// sessionTokenFromRequest reads the token from the Authorization header,
// the session cookie, or the token query parameter, in that order.
func sessionTokenFromRequest(r *http.Request) string {
	if r == nil {
		return ""
	}
	if auth := strings.TrimSpace(r.Header.Get("Authorization")); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		if token := strings.TrimSpace(cookie.Value); token != "" {
			return token
		}
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}
