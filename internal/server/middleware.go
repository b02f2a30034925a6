package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/user/sagecodex/internal/types"
)

const userIDKey = "user_id"

// claims are the JWT claims the daemon accepts. The subject carries the
// user id; issuing tokens is the auth collaborator's job, not ours.
type claims struct {
	jwt.RegisteredClaims
}

// JWTAuth validates the bearer token and stores the user id in the
// request context. Auth is a precondition of every /api route, carried
// out-of-band from the turn protocol itself.
func JWTAuth(secret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if header == "" {
			abortError(c, http.StatusUnauthorized, "AUTH_ERROR", "authorization header missing")
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
			abortError(c, http.StatusUnauthorized, "AUTH_ERROR", "invalid authorization header format")
			return
		}

		cl := &claims{}
		token, err := jwt.ParseWithClaims(parts[1], cl, func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
			}
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			abortError(c, http.StatusUnauthorized, "AUTH_ERROR", "invalid or expired token")
			return
		}
		if cl.Subject == "" {
			abortError(c, http.StatusUnauthorized, "AUTH_ERROR", "token has no subject")
			return
		}

		c.Set(userIDKey, types.UserID(cl.Subject))
		c.Next()
	}
}

func authedUser(c *gin.Context) types.UserID {
	if v, ok := c.Get(userIDKey); ok {
		if id, ok := v.(types.UserID); ok {
			return id
		}
	}
	return ""
}

func abortError(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, gin.H{"error": gin.H{"code": code, "message": message}})
}

// RequestLogger logs one structured line per request.
func RequestLogger(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		event := log.Info()
		if c.Writer.Status() >= http.StatusInternalServerError {
			event = log.Error()
		}
		event.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	}
}
