package config

// Secret is a string that redacts itself in logs, YAML and JSON output.
// Use it for passphrases and API key material carried through config.
type Secret string

const redacted = "[REDACTED]"

// Value returns the underlying secret.
func (s Secret) Value() string { return string(s) }

func (s Secret) String() string { return redacted }

// GoString hides the secret from %#v formatting.
func (s Secret) GoString() string { return redacted }

// MarshalYAML hides the secret when config is echoed back out.
func (s Secret) MarshalYAML() (interface{}, error) { return redacted, nil }

// MarshalJSON hides the secret in JSON output.
func (s Secret) MarshalJSON() ([]byte, error) { return []byte(`"` + redacted + `"`), nil }

// UnmarshalYAML reads the secret verbatim.
func (s *Secret) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}
	*s = Secret(raw)
	return nil
}
