package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// CORS lets browser clients call the API from other origins. An empty
// allowlist admits any origin; otherwise only listed origins are echoed back.
// The route table is GET and POST only, so preflights advertise just those.
func CORS(allowlist []string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(allowlist))
	for _, origin := range allowlist {
		if origin = strings.TrimSpace(origin); origin != "" {
			allowed[origin] = struct{}{}
		}
	}
	return func(c *gin.Context) {
		if origin := corsOrigin(allowed, c.GetHeader("Origin")); origin != "" {
			header := c.Writer.Header()
			header.Set("Access-Control-Allow-Origin", origin)
			header.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			header.Set("Access-Control-Allow-Headers", "Authorization, Content-Type, "+HeaderRequestID)
			header.Set("Access-Control-Max-Age", "600")
			if origin != "*" {
				header.Set("Vary", "Origin")
			}
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// corsOrigin resolves the Access-Control-Allow-Origin value, "" when the
// request origin is not admitted.
func corsOrigin(allowed map[string]struct{}, origin string) string {
	if len(allowed) == 0 {
		return "*"
	}
	if _, ok := allowed[origin]; ok {
		return origin
	}
	return ""
}
