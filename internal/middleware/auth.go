package middleware

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/osvaldoandrade/flagq/pkg/auth"
	"github.com/osvaldoandrade/flagq/pkg/config"

	"github.com/gin-gonic/gin"
)

// NewProducerValidator builds the validator for job producers from the configured
// provider. In dev with no credentials configured it returns nil and the API is open.
func NewProducerValidator(cfg *config.Config) (auth.Validator, error) {
	if raw := strings.TrimSpace(cfg.ProducerAuthConfig); raw != "" {
		return auth.NewValidator(auth.ProviderConfig{Type: cfg.ProducerAuthProvider, Config: json.RawMessage(raw)})
	}
	if strings.TrimSpace(cfg.ProducerToken) == "" && cfg.Env == "dev" {
		return nil, nil
	}
	raw, err := json.Marshal(map[string]any{
		"token":   cfg.ProducerToken,
		"subject": "producer",
		"scopes":  auth.AllScopes(),
	})
	if err != nil {
		return nil, err
	}
	return auth.NewValidator(auth.ProviderConfig{Type: cfg.ProducerAuthProvider, Config: raw})
}

func AuthMiddleware(validator auth.Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if validator == nil {
			c.Set("producerSubject", "anonymous")
			c.Next()
			return
		}
		claims, err := validateBearer(validator, c.GetHeader("Authorization"))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}
		c.Set("producerClaims", claims)
		c.Set("producerSubject", claims.Subject)
		c.Next()
	}
}

// RequireScope rejects callers whose claims lack scope. An open API (no
// validator) has no claims and lets everything through.
func RequireScope(scope string) gin.HandlerFunc {
	return func(c *gin.Context) {
		v, ok := c.Get("producerClaims")
		if !ok {
			c.Next()
			return
		}
		claims, _ := v.(*auth.Claims)
		if !claims.HasScope(scope) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "missing scope " + scope})
			return
		}
		c.Next()
	}
}

func validateBearer(validator auth.Validator, authHeader string) (*auth.Claims, error) {
	if strings.TrimSpace(authHeader) == "" {
		return nil, fmt.Errorf("missing Authorization header")
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return nil, fmt.Errorf("invalid Authorization format")
	}
	return validator.Validate(parts[1])
}
