package gin

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	// HeaderUserAddress carries the caller address verified by the upstream auth layer.
	HeaderUserAddress = "X-User-Address"
	// HeaderAPIKey carries an operator or gateway key.
	HeaderAPIKey = "X-API-Key"

	userAddressKey = "mint.userAddress"
)

// Authenticator resolves the verified user address of a request.
type Authenticator interface {
	Authenticate(c *gin.Context) (string, error)
}

// AuthenticatorFunc adapts a function to Authenticator.
type AuthenticatorFunc func(c *gin.Context) (string, error)

func (f AuthenticatorFunc) Authenticate(c *gin.Context) (string, error) {
	return f(c)
}

var errMissingUser = errors.New("missing or malformed user address")

// HeaderAuthenticator trusts an address set by a gateway that already verified the caller's
// signature. Only deploy it behind such a gateway.
func HeaderAuthenticator(header string) Authenticator {
	return AuthenticatorFunc(func(c *gin.Context) (string, error) {
		addr := strings.TrimSpace(c.GetHeader(header))
		if !common.IsHexAddress(addr) {
			return "", errMissingUser
		}
		return addr, nil
	})
}

// RequireUser aborts with 401 unless auth resolves a user address.
func RequireUser(auth Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := auth.Authenticate(c)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": err.Error(),
			})
			return
		}
		c.Set(userAddressKey, user)
		c.Next()
	}
}

// RequireAPIKey aborts with 401 unless the request carries one of keys.
// With no keys configured every request is let through.
func RequireAPIKey(keys []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if len(keys) == 0 {
			c.Next()
			return
		}
		presented := c.GetHeader(HeaderAPIKey)
		for _, k := range keys {
			if subtle.ConstantTimeCompare([]byte(presented), []byte(k)) == 1 {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
	}
}

// RequestLogger logs one line per request.
func RequestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		fields := []zap.Field{
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
		}
		if user, ok := c.Get(userAddressKey); ok {
			fields = append(fields, zap.Any("user", user))
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			logger.Warn("request failed", fields...)
			return
		}
		logger.Debug("request", fields...)
	}
}

func userAddress(c *gin.Context) string {
	return c.GetString(userAddressKey)
}
