package types

import "log/slog"

// Redacted is the placeholder written wherever a secret would otherwise
// appear in output.
const Redacted = "[redacted]"

// SecretString carries the credentials this service is configured with:
// gateway merchant keys, the Stripe secret and webhook signing secret,
// the Resend API key, the database DSN. Every accidental path out of
// the process is closed off -- fmt verbs, JSON marshalling, and slog
// fields all emit Redacted -- so a secret can only leave through an
// explicit Unmask call at the point it is genuinely spent (an
// Authorization header, a signature input, a connection string).
type SecretString string

// String implements fmt.Stringer, so %s and %v print the placeholder.
func (s SecretString) String() string {
	return Redacted
}

// MarshalJSON redacts the value in any serialized form: config dumps,
// API responses, structured log entries.
func (s SecretString) MarshalJSON() ([]byte, error) {
	return []byte(`"` + Redacted + `"`), nil
}

// LogValue implements slog.LogValuer, so a secret passed directly as a
// log attribute is redacted before the handler sees it.
func (s SecretString) LogValue() slog.Value {
	return slog.StringValue(Redacted)
}

// Unmask returns the plaintext. Call sites are the audit surface for
// where secrets actually flow.
func (s SecretString) Unmask() string {
	return string(s)
}
