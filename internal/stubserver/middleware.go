package stubserver

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

const (
	csrfCookieName = "csrftoken"
	csrfHeaderName = "X-CSRFToken"

	ctxAccountKey = "account"
)

// csrfProtect rejects mutating requests whose anti-forgery header does not
// match the cookie seeded by /auth/csrf/.
func csrfProtect() gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			c.Next()
			return
		}

		cookie, err := c.Cookie(csrfCookieName)
		if err != nil || cookie == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"detail": "CSRF cookie not set."})
			return
		}
		if c.GetHeader(csrfHeaderName) != cookie {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"detail": "CSRF token missing or incorrect."})
			return
		}
		c.Next()
	}
}

// seedCSRF issues the anti-forgery cookie.
func seedCSRF(c *gin.Context) {
	token := strings.ReplaceAll(uuid.New().String(), "-", "")
	c.SetCookie(csrfCookieName, token, 3600, "/", "", false, false)
	c.JSON(http.StatusOK, gin.H{"detail": "CSRF cookie set"})
}

// requireToken validates the Token authorization scheme and resolves the
// acting account into the request context.
func (s *Server) requireToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Authentication credentials were not provided."})
			return
		}

		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Token" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Invalid token header."})
			return
		}

		claims, err := s.tokens.Validate(parts[1])
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Invalid token."})
			return
		}

		acc, ok := s.data.accountByCodigo(claims.Codigo)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"detail": "Invalid token."})
			return
		}

		c.Set(ctxAccountKey, acc)
		c.Next()
	}
}

func actorFrom(c *gin.Context) *account {
	v, ok := c.Get(ctxAccountKey)
	if !ok {
		return nil
	}
	return v.(*account)
}

// rateLimit bounds request throughput for the whole stub.
func rateLimit(r rate.Limit, burst int) gin.HandlerFunc {
	limiter := rate.NewLimiter(r, burst)
	return func(c *gin.Context) {
		if !limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"detail": "Request was throttled."})
			return
		}
		c.Next()
	}
}
