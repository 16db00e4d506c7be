package middleware

import (
	"crypto/rand"
	"encoding/hex"

	"github.com/gin-gonic/gin"
)

// HeaderRequestID is echoed on every response so a search or an ingest
// trigger can be matched to its server logs.
const HeaderRequestID = "X-Request-Id"

const requestIDKey = "request_id"

// RequestID tags each request with an id, keeping one supplied by the client.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" {
			id = randomID()
		}
		c.Writer.Header().Set(HeaderRequestID, id)
		c.Set(requestIDKey, id)
		c.Next()
	}
}

// RequestIDFrom returns the id assigned by RequestID, or "" when the
// middleware is not installed.
func RequestIDFrom(c *gin.Context) string {
	id, _ := c.Value(requestIDKey).(string)
	return id
}

func randomID() string {
	var buf [12]byte
	_, _ = rand.Read(buf[:])
	return hex.EncodeToString(buf[:])
}
