package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"puzzlepass/internal/domain"
	"puzzlepass/internal/infra/logging"
	"puzzlepass/internal/usecase"
)

const (
	appCheckHeader    = "X-Firebase-AppCheck"
	anonymousProvider = "anonymous"
)

var errNoToken = errors.New("missing token")

// IDClaims is the identity token payload. Only the fields used here are decoded.
type IDClaims struct {
	Firebase struct {
		SignInProvider string `json:"sign_in_provider"`
	} `json:"firebase"`
	jwt.RegisteredClaims
}

// IdentityVerifier validates HS256 identity tokens minted by the auth provider.
type IdentityVerifier struct {
	secret []byte
	issuer string
}

func NewIdentityVerifier(secret, issuer string) *IdentityVerifier {
	return &IdentityVerifier{secret: []byte(secret), issuer: issuer}
}

func (v *IdentityVerifier) Verify(token string) (usecase.Caller, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	claims := &IDClaims{}
	tkn, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, opts...)
	if err != nil || !tkn.Valid {
		return usecase.Caller{}, errors.New("invalid token")
	}
	if claims.Subject == "" {
		return usecase.Caller{}, errors.New("token has no subject")
	}
	return usecase.Caller{
		UserID:    claims.Subject,
		Anonymous: claims.Firebase.SignInProvider == anonymousProvider,
	}, nil
}

// AppCheckVerifier validates app attestation tokens.
type AppCheckVerifier struct {
	secret []byte
}

func NewAppCheckVerifier(secret string) *AppCheckVerifier {
	return &AppCheckVerifier{secret: []byte(secret)}
}

func (v *AppCheckVerifier) Verify(token string) error {
	if token == "" {
		return errNoToken
	}
	tkn, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil || !tkn.Valid {
		return errors.New("invalid app check token")
	}
	return nil
}

type callerKey struct{}

func WithCaller(ctx context.Context, c usecase.Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, c)
}

func CallerFrom(ctx context.Context) (usecase.Caller, bool) {
	c, ok := ctx.Value(callerKey{}).(usecase.Caller)
	return c, ok
}

func bearer(r *http.Request) string {
	hdr := r.Header.Get("Authorization")
	if len(hdr) > 7 && strings.EqualFold(hdr[:7], "bearer ") {
		return strings.TrimSpace(hdr[7:])
	}
	return ""
}

// Authenticate rejects requests without a valid identity token and stores the caller.
func Authenticate(v *IdentityVerifier, logger *zerolog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok := bearer(r)
			if tok == "" {
				writeError(w, domain.NewError(domain.CodeUnauthenticated, "Sign in required."))
				return
			}
			caller, err := v.Verify(tok)
			if err != nil {
				logging.With(r.Context(), logger).Debug().Err(err).Msg("identity token rejected")
				writeError(w, domain.NewError(domain.CodeUnauthenticated, "Sign in required."))
				return
			}
			ctx := logging.WithUserID(WithCaller(r.Context(), caller), caller.UserID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
