package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"testing"
)

const testSecret = "sk_live_gaiya_4eC39HqLyjWDarjtT1"

func TestSecretString_FmtVerbsRedact(t *testing.T) {
	s := SecretString(testSecret)

	for _, verb := range []string{"%s", "%v", "%+v"} {
		out := fmt.Sprintf("key="+verb, s)
		if strings.Contains(out, testSecret) {
			t.Errorf("fmt.Sprintf(%q) leaked the secret: %s", verb, out)
		}
		if !strings.Contains(out, Redacted) {
			t.Errorf("fmt.Sprintf(%q) = %q, want it to contain %q", verb, out, Redacted)
		}
	}
}

func TestSecretString_MarshalJSON(t *testing.T) {
	type billingConfig struct {
		StripeKey SecretString `json:"stripe_key"`
		Label     string       `json:"label"`
	}

	data, err := json.Marshal(billingConfig{StripeKey: SecretString(testSecret), Label: "prod"})
	if err != nil {
		t.Fatalf("json.Marshal returned error: %v", err)
	}
	if strings.Contains(string(data), testSecret) {
		t.Errorf("json.Marshal leaked the secret: %s", data)
	}
	if !strings.Contains(string(data), Redacted) {
		t.Errorf("json.Marshal = %s, want it to contain %q", data, Redacted)
	}
}

func TestSecretString_SlogAttributeRedacts(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	logger.Info("stripe client configured", "api_key", SecretString(testSecret))

	out := buf.String()
	if strings.Contains(out, testSecret) {
		t.Errorf("slog output leaked the secret: %s", out)
	}
	if !strings.Contains(out, Redacted) {
		t.Errorf("slog output = %q, want it to contain %q", out, Redacted)
	}
}

func TestSecretString_Unmask(t *testing.T) {
	if got := SecretString(testSecret).Unmask(); got != testSecret {
		t.Errorf("Unmask() = %q, want %q", got, testSecret)
	}
}

func TestSecretString_EmptyValue(t *testing.T) {
	s := SecretString("")

	if s.String() != Redacted {
		t.Errorf("String() on empty secret = %q, want %q", s.String(), Redacted)
	}
	if s.Unmask() != "" {
		t.Errorf("Unmask() on empty secret = %q, want empty string", s.Unmask())
	}
}
