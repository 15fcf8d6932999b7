// Package static validates shared-secret bearer tokens. It registers itself as
// the "static" auth provider.
package static

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/osvaldoandrade/flagq/pkg/auth"
)

// producer is one accepted token. A bare token gets subject "static" and every scope.
type producer struct {
	Token   string   `json:"token"`
	Subject string   `json:"subject,omitempty"`
	Scopes  []string `json:"scopes,omitempty"`
}

type validatorConfig struct {
	producer
	Producers []producer `json:"producers,omitempty"`
}

type validator struct {
	producers []producer
}

// NewValidatorFromJSON accepts a bare JSON string holding the token, a single
// producer object ({"token":"...","subject":"...","scopes":[...]}), or
// {"producers":[...]} when several callers hold distinct tokens.
func NewValidatorFromJSON(raw json.RawMessage) (auth.Validator, error) {
	raw = json.RawMessage(strings.TrimSpace(string(raw)))
	if len(raw) == 0 {
		return nil, errors.New("static auth: missing config")
	}

	var cfg validatorConfig
	if raw[0] == '"' {
		if err := json.Unmarshal(raw, &cfg.Token); err != nil {
			return nil, fmt.Errorf("static auth: invalid config: %w", err)
		}
	} else if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("static auth: invalid config: %w", err)
	}

	list := cfg.Producers
	if strings.TrimSpace(cfg.Token) != "" {
		list = append([]producer{cfg.producer}, list...)
	}
	if len(list) == 0 {
		return nil, errors.New("static auth: token is required")
	}
	seen := make(map[string]bool, len(list))
	for i := range list {
		p := &list[i]
		p.Token = strings.TrimSpace(p.Token)
		if p.Token == "" {
			return nil, fmt.Errorf("static auth: producer %d has no token", i)
		}
		if seen[p.Token] {
			return nil, fmt.Errorf("static auth: duplicate token for producer %d", i)
		}
		seen[p.Token] = true
		p.Subject = strings.TrimSpace(p.Subject)
		if p.Subject == "" {
			p.Subject = "static"
		}
		if len(p.Scopes) == 0 {
			p.Scopes = auth.AllScopes()
		}
	}
	return &validator{producers: list}, nil
}

// Validate compares against every producer so timing does not reveal which one matched.
func (v *validator) Validate(token string) (*auth.Claims, error) {
	presented := []byte(strings.TrimSpace(token))
	var match *producer
	for i := range v.producers {
		if subtle.ConstantTimeCompare(presented, []byte(v.producers[i].Token)) == 1 && match == nil {
			match = &v.producers[i]
		}
	}
	if match == nil {
		return nil, errors.New("invalid token")
	}
	return &auth.Claims{
		Subject: match.Subject,
		Scopes:  append([]string(nil), match.Scopes...),
	}, nil
}

func init() {
	auth.RegisterProvider("static", NewValidatorFromJSON)
}
