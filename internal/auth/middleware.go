package auth

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// ContextKey is the gin key holding the verified Claims; "operator" holds the
// subject for audit logging.
const ContextKey = "auth.claims"

// Middleware guards /api/ and /swagger. Health probes stay open. Viewers may
// only read. A disabled JWT lets everything through.
func Middleware(j JWT) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !j.Enabled() {
			c.Next()
			return
		}
		p := c.Request.URL.Path
		if !strings.HasPrefix(p, "/api/") && !strings.HasPrefix(p, "/swagger") {
			c.Next()
			return
		}
		tok := bearerToken(c.GetHeader("Authorization"))
		if tok == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "missing bearer token"})
			return
		}
		claims, err := j.Verify(tok)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": http.StatusUnauthorized, "message": "invalid token"})
			return
		}
		if claims.Role == RoleViewer && !readOnly(c.Request.Method) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"code": http.StatusForbidden, "message": "operator role required"})
			return
		}
		c.Set(ContextKey, claims)
		c.Set("operator", claims.Subject)
		c.Next()
	}
}

// Operator returns the authenticated subject, or fallback when auth is off.
func Operator(c *gin.Context, fallback string) string {
	if v, ok := c.Get(ContextKey); ok {
		if claims, ok := v.(Claims); ok && claims.Subject != "" {
			return claims.Subject
		}
	}
	return fallback
}

func readOnly(method string) bool {
	return method == http.MethodGet || method == http.MethodHead || method == http.MethodOptions
}

func bearerToken(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	parts := strings.SplitN(v, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
