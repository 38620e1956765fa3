package middleware

import (
	"net/http"
	"strings"

	"github.com/frostdev-ops/hmip-go/pkg/utils"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// AuthMiddleware validates HS256 bearer tokens signed with jwtSecret and stores the
// token subject under "subject"
func AuthMiddleware(jwtSecret string) gin.HandlerFunc {
	key := []byte(jwtSecret)
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))

	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			utils.SendError(c, http.StatusUnauthorized, "Authorization header required")
			return
		}

		raw, found := strings.CutPrefix(header, "Bearer ")
		if !found || raw == "" || strings.Contains(raw, " ") {
			utils.SendError(c, http.StatusUnauthorized, "Invalid authorization header format")
			return
		}

		claims := &jwt.RegisteredClaims{}
		if _, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
			return key, nil
		}); err != nil {
			utils.SendError(c, http.StatusUnauthorized, "Invalid token")
			return
		}

		if claims.Subject != "" {
			c.Set("subject", claims.Subject)
		}
		c.Next()
	}
}
