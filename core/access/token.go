package access

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v4"
	"github.com/gorilla/mux"

	"github.com/schemaforge/schemaforge/core/logger"
)

// TokenMiddlewareBuilder is a helper builder for the bearer token
// middleware.
type TokenMiddlewareBuilder struct {
	// AdminToken is the static management token. A request presenting it
	// as bearer token is authorized with the admin role. The token is
	// also the HS256 secret for signed JWTs.
	AdminToken string
}

// claims carried by signed tokens
type tokenClaims struct {
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// NewTokenMiddleware returns a middleware handler which authorizes
// requests from bearer tokens.
//
// Example: with the admin token "please", any request with an
// authorization bearer token consisting of the single magic word
// "please" is authorized with the admin role.
//
// With curl, use -H 'Authorization: Bearer please' or pass a cookie
// with -b 'SchemaForge-JWT=please'
//
// Any other bearer token is verified as an HS256 JWT signed with the
// admin token. The verified token contributes its "roles" claim and its
// subject as identity. Requests without a token pass through without an
// authorization.
func NewTokenMiddleware(tmb *TokenMiddlewareBuilder) mux.MiddlewareFunc {
	if tmb.AdminToken == "" {
		panic("token middleware requires an admin token")
	}
	adminAuth := &Authorization{
		Roles:      []string{"admin"},
		Properties: map[string]string{"identity": "admin"},
	}
	cache := NewAuthorizationCache()

	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if AuthorizationFromContext(r.Context()) != nil { // already authorized?
				h.ServeHTTP(w, r)
				return
			}
			tokenString := ""
			bearer := r.Header.Get("Authorization")
			if len(bearer) > 0 {
				if len(bearer) >= 8 && strings.ToLower(bearer[:7]) == "bearer " {
					tokenString = bearer[7:]
				}
			} else if cookie, _ := r.Cookie("SchemaForge-JWT"); cookie != nil {
				tokenString = cookie.Value
			}
			if len(tokenString) == 0 {
				h.ServeHTTP(w, r)
				return
			}

			auth := adminAuth
			if tokenString != tmb.AdminToken {
				if auth = cache.Read(tokenString); auth == nil {
					claims := tokenClaims{}
					token, err := jwt.ParseWithClaims(tokenString, &claims,
						func(token *jwt.Token) (interface{}, error) {
							if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
								return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
							}
							return []byte(tmb.AdminToken), nil
						})
					if err != nil || !token.Valid {
						http.Error(w, "invalid token", http.StatusUnauthorized)
						return
					}
					auth = &Authorization{Roles: claims.Roles}
					if claims.Subject != "" {
						auth.Properties = map[string]string{"identity": claims.Subject}
					}
					cache.Write(tokenString, auth)
				}
			}

			ctx := ContextWithAuthorization(r.Context(), auth)
			if identity, ok := auth.Property("identity"); ok {
				ctx = logger.ContextWithLoggerIdentity(ctx, identity)
			}
			h.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
