package vault

import (
	"strings"

	"github.com/rotisserie/eris"
)

// Provider identifies an LLM vendor a user may configure their own key for.
type Provider string

const (
	ProviderGemini Provider = "gemini"
	ProviderOpenAI Provider = "openai"
	ProviderClaude Provider = "claude"
	ProviderOther  Provider = "other"
)

// ErrUnknownProvider is returned by ParseProvider for values outside the enumeration.
var ErrUnknownProvider = eris.New("unknown ai provider")

// Providers lists every accepted provider identifier.
func Providers() []Provider {
	return []Provider{ProviderGemini, ProviderOpenAI, ProviderClaude, ProviderOther}
}

// Valid reports whether p belongs to the closed enumeration.
func (p Provider) Valid() bool {
	switch p {
	case ProviderGemini, ProviderOpenAI, ProviderClaude, ProviderOther:
		return true
	}
	return false
}

// ParseProvider converts raw input into a Provider.
func ParseProvider(raw string) (Provider, error) {
	p := Provider(strings.TrimSpace(raw))
	if !p.Valid() {
		return "", eris.Wrapf(ErrUnknownProvider, "provider %q", raw)
	}
	return p, nil
}

// CredentialHolder is a user record carrying a provider selection. Absent
// values are reported as empty strings.
type CredentialHolder interface {
	CredentialProvider() string
	StoredCredential() string
}

// SelectProviderKey returns the holder's decrypted key when the holder
// configured exactly the target provider. The boolean is false when no
// user key applies and the caller should fall back to the shared
// application key. Decryption failures are returned as *DecryptionError.
func SelectProviderKey(holder CredentialHolder, target Provider, masterSecret string) (string, bool, error) {
	if !applies(holder, target) {
		return "", false, nil
	}

	plaintext, err := Decrypt(holder.StoredCredential(), masterSecret)
	if err != nil {
		return "", false, err
	}
	return plaintext, true, nil
}

func applies(holder CredentialHolder, target Provider) bool {
	if holder == nil {
		return false
	}

	provider := holder.CredentialProvider()
	if provider == "" || Provider(provider) != target {
		return false
	}

	return holder.StoredCredential() != ""
}

// Vault binds the credential operations to one master secret, validated and
// derived once at startup.
type Vault struct {
	keys derivedKeys
}

// New validates masterSecret and derives the cipher and MAC keys.
func New(masterSecret string) (*Vault, error) {
	keys, err := deriveKeys(masterSecret)
	if err != nil {
		return nil, err
	}
	return &Vault{keys: keys}, nil
}

// Encrypt seals plaintext into its stored form.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	return encrypt(v.keys, plaintext)
}

// Decrypt opens a stored form produced by Encrypt.
func (v *Vault) Decrypt(stored string) (string, error) {
	return decrypt(v.keys, stored)
}

// SelectProviderKey is SelectProviderKey bound to the vault's master secret.
func (v *Vault) SelectProviderKey(holder CredentialHolder, target Provider) (string, bool, error) {
	if !applies(holder, target) {
		return "", false, nil
	}

	plaintext, err := decrypt(v.keys, holder.StoredCredential())
	if err != nil {
		return "", false, err
	}
	return plaintext, true, nil
}
