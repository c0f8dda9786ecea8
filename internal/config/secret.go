package config

// Secret is a string that redacts itself in every printable form. Config
// fields holding credentials use it so a stray %v or JSON dump never leaks
// token material. Call Reveal at the single point of use.
type Secret string

// Reveal returns the underlying secret value.
func (s Secret) Reveal() string { return string(s) }

// String implements fmt.Stringer and always redacts.
func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "[redacted]"
}

// GoString redacts %#v output.
func (s Secret) GoString() string { return s.String() }

// MarshalJSON redacts the value when a Config is serialized.
func (s Secret) MarshalJSON() ([]byte, error) {
	if s == "" {
		return []byte(`""`), nil
	}
	return []byte(`"[redacted]"`), nil
}
