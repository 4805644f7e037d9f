package middleware

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

type contextKey string

const (
	UserIDKey   contextKey = "user_id"
	identityKey contextKey = "identity"
)

// maxBeaconBody bounds how much of a beacon body is buffered to look for a token.
const maxBeaconBody = 64 << 10

var (
	ErrMissingToken = errors.New("missing authorization token")
	ErrBadFormat    = errors.New("invalid authorization format")
	ErrTokenExpired = errors.New("token has expired")
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenRevoked = errors.New("token has been revoked")
)

// Identity is the caller resolved from a bearer credential.
type Identity struct {
	UserID    uuid.UUID
	Email     string
	TokenID   string
	ExpiresAt time.Time
}

// RevocationChecker reports whether a token id was logged out.
type RevocationChecker interface {
	IsRevoked(ctx context.Context, jti string) (bool, error)
}

// TokenExtractor pulls a raw bearer token out of a request. It returns
// ErrMissingToken when the request carries none.
type TokenExtractor func(r *http.Request) (string, error)

type JWTAuth struct {
	Secret  []byte
	TTL     time.Duration
	revoked RevocationChecker
}

func NewJWTAuth(secret string, ttl time.Duration, revoked RevocationChecker) *JWTAuth {
	return &JWTAuth{Secret: []byte(secret), TTL: ttl, revoked: revoked}
}

func (j *JWTAuth) GenerateAccessToken(userID uuid.UUID, email string) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"user_id": userID.String(),
		"email":   email,
		"jti":     uuid.NewString(),
		"exp":     now.Add(j.TTL).Unix(),
		"iat":     now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(j.Secret)
}

// Resolve validates a raw token and returns the identity it carries.
func (j *JWTAuth) Resolve(ctx context.Context, tokenStr string) (Identity, error) {
	token, err := jwt.Parse(tokenStr, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return j.Secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, ErrTokenExpired
		}
		return Identity{}, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return Identity{}, ErrInvalidToken
	}

	userIDStr, _ := claims["user_id"].(string)
	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		return Identity{}, ErrInvalidToken
	}

	identity := Identity{UserID: userID}
	identity.Email, _ = claims["email"].(string)
	identity.TokenID, _ = claims["jti"].(string)
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		identity.ExpiresAt = exp.Time
	}

	if j.revoked != nil && identity.TokenID != "" {
		revoked, err := j.revoked.IsRevoked(ctx, identity.TokenID)
		if err != nil {
			log.Ctx(ctx).Warn().Err(err).Msg("revocation check failed")
		} else if revoked {
			return Identity{}, ErrTokenRevoked
		}
	}

	return identity, nil
}

// Middleware authenticates with the Authorization header only.
func (j *JWTAuth) Middleware(next http.Handler) http.Handler {
	return j.Authenticate(HeaderToken)(next)
}

// BeaconMiddleware also accepts a `token` field in the JSON body, for
// navigator.sendBeacon calls that cannot set headers.
func (j *JWTAuth) BeaconMiddleware(next http.Handler) http.Handler {
	return j.Authenticate(HeaderToken, BodyToken)(next)
}

// Authenticate tries each extractor in order; the first one that finds a token wins.
func (j *JWTAuth) Authenticate(extractors ...TokenExtractor) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenStr, err := extractToken(r, extractors)
			if err != nil {
				msg := "Missing authorization header"
				if errors.Is(err, ErrBadFormat) {
					msg = "Invalid authorization format"
				}
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", msg, r)
				return
			}

			identity, err := j.Resolve(r.Context(), tokenStr)
			if err != nil {
				switch {
				case errors.Is(err, ErrTokenExpired):
					writeError(w, http.StatusUnauthorized, "TOKEN_EXPIRED", "Token has expired", r)
				case errors.Is(err, ErrTokenRevoked):
					writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Token has been revoked", r)
				default:
					writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Invalid token", r)
				}
				return
			}

			ctx := context.WithValue(r.Context(), UserIDKey, identity.UserID)
			ctx = context.WithValue(ctx, identityKey, identity)
			ctx = log.Ctx(ctx).With().Str("user_id", identity.UserID.String()).Logger().WithContext(ctx)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func extractToken(r *http.Request, extractors []TokenExtractor) (string, error) {
	lastErr := ErrMissingToken
	for _, extract := range extractors {
		token, err := extract(r)
		if err == nil && token != "" {
			return token, nil
		}
		if err != nil && !errors.Is(err, ErrMissingToken) {
			lastErr = err
		}
	}
	return "", lastErr
}

// HeaderToken reads "Authorization: Bearer <token>".
func HeaderToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", ErrMissingToken
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", ErrBadFormat
	}
	return parts[1], nil
}

// BodyToken reads a top-level "token" field from a JSON body and restores the body
// so the handler can decode it again. Only the first maxBeaconBody bytes are searched.
func BodyToken(r *http.Request) (string, error) {
	if r.Body == nil {
		return "", ErrMissingToken
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBeaconBody))
	// Put back the buffered prefix ahead of whatever was not read.
	r.Body = readCloser{io.MultiReader(bytes.NewReader(body), r.Body), r.Body}
	if err != nil {
		return "", ErrMissingToken
	}

	var payload struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || payload.Token == "" {
		return "", ErrMissingToken
	}
	return payload.Token, nil
}

type readCloser struct {
	io.Reader
	io.Closer
}

// GetUserID extracts user_id from request context
func GetUserID(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(UserIDKey).(uuid.UUID)
	return id
}

func GetIdentity(ctx context.Context) Identity {
	identity, _ := ctx.Value(identityKey).(Identity)
	return identity
}

func writeError(w http.ResponseWriter, status int, code, message string, r *http.Request) {
	requestID := r.Header.Get(RequestIDHeader)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]interface{}{
			"code":       code,
			"message":    message,
			"request_id": requestID,
		},
	})
}
