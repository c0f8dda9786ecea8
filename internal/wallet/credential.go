package wallet

import (
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// ExtractCID pulls the credential identifier out of a wallet credential JWT.
// The jti claim is a URI whose final path segment is the identifier
// (".../credential/{id}"). The signature is deliberately not verified: the
// identifier is opaque bookkeeping, never an authorization input.
func ExtractCID(credentialToken string) (string, error) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(credentialToken, claims); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCredentialToken, err)
	}

	jti, _ := claims["jti"].(string)
	if jti == "" {
		return "", fmt.Errorf("%w: missing jti claim", ErrInvalidCredentialToken)
	}
	segment := jti
	if i := strings.LastIndex(jti, "/"); i >= 0 {
		segment = jti[i+1:]
	}
	if segment == "" {
		return "", fmt.Errorf("%w: jti %q has empty final segment", ErrInvalidCredentialToken, jti)
	}
	return segment, nil
}

// SanitizeDisplayName strips a member display name down to characters the
// wallet credential layout renders safely: ASCII letters and digits,
// underscore, and CJK ideographs. An empty result falls back to "Member".
func SanitizeDisplayName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		case r >= 0x4E00 && r <= 0x9FFF:
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "Member"
	}
	return b.String()
}
