package models

import "time"

// SecretKind classifies a shared secret.
type SecretKind string

const (
	SecretSSHPassword SecretKind = "ssh_password"
	SecretSSHKey      SecretKind = "ssh_key"
	SecretAPIToken    SecretKind = "api_token"
)

// Valid reports whether k is a known kind.
func (k SecretKind) Valid() bool {
	switch k {
	case SecretSSHPassword, SecretSSHKey, SecretAPIToken:
		return true
	}
	return false
}

// SharedSecret is a machine credential shared across users. Value holds an
// envelope under the system key, or legacy plaintext written before
// encryption was introduced.
type SharedSecret struct {
	ID        string
	Name      string
	Kind      SecretKind
	Value     string
	CreatedAt time.Time
	UpdatedAt time.Time
}
