// Package auth validates bearer tokens presented by job producers. Providers
// register themselves by type name and are selected from configuration.
package auth

// Scopes understood by the producer API.
const (
	ScopeEnqueue = "flagq:enqueue"
	ScopeRead    = "flagq:read"
	ScopeAdmin   = "flagq:admin"
)

// AllScopes is granted to the single configured producer token.
func AllScopes() []string { return []string{ScopeEnqueue, ScopeRead, ScopeAdmin} }

// Claims is what a validator learned about the caller.
type Claims struct {
	Subject string
	Scopes  []string
}

// HasScope reports whether scope was granted. ScopeAdmin implies every other scope.
func (c *Claims) HasScope(scope string) bool {
	if c == nil {
		return false
	}
	for _, s := range c.Scopes {
		if s == scope || s == ScopeAdmin {
			return true
		}
	}
	return false
}

type Validator interface {
	Validate(token string) (*Claims, error)
}
