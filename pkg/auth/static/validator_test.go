package static

import (
	"encoding/json"
	"testing"

	"github.com/osvaldoandrade/flagq/pkg/auth"
)

func TestStaticValidator(t *testing.T) {
	raw := json.RawMessage(`{"token":"t-1","subject":"controller","scopes":["flagq:enqueue"]}`)
	v, err := NewValidatorFromJSON(raw)
	if err != nil {
		t.Fatalf("NewValidatorFromJSON: %v", err)
	}

	claims, err := v.Validate("t-1")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if claims.Subject != "controller" {
		t.Fatalf("expected subject controller, got %q", claims.Subject)
	}
	if !claims.HasScope(auth.ScopeEnqueue) {
		t.Fatalf("expected enqueue scope")
	}
	if claims.HasScope(auth.ScopeAdmin) || claims.HasScope(auth.ScopeRead) {
		t.Fatalf("unexpected scopes %v", claims.Scopes)
	}

	for _, bad := range []string{"wrong", "", "t-11", "t-"} {
		if _, err := v.Validate(bad); err == nil {
			t.Fatalf("expected validation error for %q", bad)
		}
	}
}

func TestStaticValidator_StringConfig(t *testing.T) {
	v, err := NewValidatorFromJSON(json.RawMessage(`"t-2"`))
	if err != nil {
		t.Fatalf("NewValidatorFromJSON: %v", err)
	}
	claims, err := v.Validate(" t-2 ")
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if claims.Subject != "static" {
		t.Fatalf("expected default subject, got %q", claims.Subject)
	}
	for _, s := range auth.AllScopes() {
		if !claims.HasScope(s) {
			t.Fatalf("bare token should carry %s", s)
		}
	}
}

func TestStaticValidator_Producers(t *testing.T) {
	raw := json.RawMessage(`{"producers":[
		{"token":"ctl","subject":"controller","scopes":["flagq:enqueue","flagq:read"]},
		{"token":"ops","subject":"ops","scopes":["flagq:admin"]}
	]}`)
	v, err := NewValidatorFromJSON(raw)
	if err != nil {
		t.Fatalf("NewValidatorFromJSON: %v", err)
	}

	ctl, err := v.Validate("ctl")
	if err != nil || ctl.Subject != "controller" || ctl.HasScope(auth.ScopeAdmin) {
		t.Fatalf("controller claims %+v err %v", ctl, err)
	}
	ops, err := v.Validate("ops")
	if err != nil || ops.Subject != "ops" || !ops.HasScope(auth.ScopeEnqueue) {
		t.Fatalf("ops claims %+v err %v", ops, err)
	}
}

func TestStaticValidator_ConfigErrors(t *testing.T) {
	for _, raw := range []string{
		``, `  `, `{}`, `{"token":"   "}`, `""`, `{bad`,
		`{"producers":[{"token":""}]}`,
		`{"producers":[{"token":"a"},{"token":"a"}]}`,
	} {
		if _, err := NewValidatorFromJSON(json.RawMessage(raw)); err == nil {
			t.Fatalf("expected error for config %q", raw)
		}
	}
}

func TestStaticRegistered(t *testing.T) {
	v, err := auth.NewValidator(auth.ProviderConfig{Type: "static", Config: json.RawMessage(`"tok"`)})
	if err != nil {
		t.Fatalf("NewValidator: %v", err)
	}
	if _, err := v.Validate("tok"); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}
