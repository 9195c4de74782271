package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

// Claims identify the agent operating the inbox.
type Claims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// JWTAuth verifies the bearer token with an HMAC secret and stores the parsed
// token under "user".
func JWTAuth(secret string) echo.MiddlewareFunc {
	key := []byte(secret)
	keyFunc := func(t *jwt.Token) (any, error) {
		return key, nil
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{
		jwt.SigningMethodHS256.Alg(),
		jwt.SigningMethodHS384.Alg(),
		jwt.SigningMethodHS512.Alg(),
	}))

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			authHeader := c.Request().Header.Get(echo.HeaderAuthorization)
			// browsers cannot set headers on websocket upgrades
			if authHeader == "" && c.QueryParam("access_token") != "" {
				authHeader = "Bearer " + c.QueryParam("access_token")
			}
			if authHeader == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "missing authorization header")
			}

			tokenString := strings.TrimPrefix(authHeader, "Bearer ")
			if tokenString == authHeader {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid authorization header format")
			}

			token, err := parser.ParseWithClaims(tokenString, &Claims{}, keyFunc)
			if err != nil || !token.Valid {
				return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
			}
			claims := token.Claims.(*Claims)
			if claims.Subject == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "token has no subject")
			}

			c.Set("user", token)
			c.Set("user_id", claims.Subject)
			return next(c)
		}
	}
}

// SignToken issues an HS256 token for the agent. Used by the token command
// and tests.
func SignToken(secret string, claims Claims) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}
