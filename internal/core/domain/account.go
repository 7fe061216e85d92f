package domain

import (
	"fmt"
	"regexp"
	"strings"
)

// Account is an identity used to authenticate against the portal.
// Constructed from configuration at process start; immutable for the run.
type Account struct {
	// Name is the display name for the account holder.
	Name string

	// AnonName replaces Name in anonymised summaries.
	AnonName string

	// Username is the login credential identifier.
	Username string

	// Password is the login credential secret.
	Password string

	// TOTPSecret is the base32 shared secret for one-time codes.
	TOTPSecret string

	// Cases are the cases tracked under this account.
	Cases []Case
}

// Case is a tracked immigration case.
type Case struct {
	// Number is the portal receipt number (e.g. "IOE0123456789").
	Number string

	// Nickname is the human label for the case (e.g. "John AP").
	Nickname string
}

// Validate checks the fields required to authenticate and track cases.
// Returns a *ConfigError naming the first missing field.
func (a *Account) Validate(index int) error {
	prefix := fmt.Sprintf("accounts[%d]", index)
	if a.Name != "" {
		prefix = fmt.Sprintf("accounts[%s]", a.Name)
	}
	switch {
	case strings.TrimSpace(a.Username) == "":
		return &ConfigError{Field: prefix + ".username", Reason: "required"}
	case strings.TrimSpace(a.Password) == "":
		return &ConfigError{Field: prefix + ".password", Reason: "required"}
	case strings.TrimSpace(a.TOTPSecret) == "":
		return &ConfigError{Field: prefix + ".totp_secret", Reason: "required"}
	}
	for i, c := range a.Cases {
		if strings.TrimSpace(c.Number) == "" {
			return &ConfigError{Field: fmt.Sprintf("%s.cases[%d].case_number", prefix, i), Reason: "required"}
		}
		if strings.TrimSpace(c.Nickname) == "" {
			return &ConfigError{Field: fmt.Sprintf("%s.cases[%d].nickname", prefix, i), Reason: "required"}
		}
	}
	return nil
}

// DisplayName returns the name used in reports, honouring anonymisation.
func (a *Account) DisplayName(anon bool) string {
	if anon && a.AnonName != "" {
		return a.AnonName
	}
	if a.Name == "" {
		return "default"
	}
	return a.Name
}

// Key returns the storage key for a case owned by this account.
func (a *Account) Key(c Case) CaseKey {
	return CaseKey{Account: a.DisplayName(false), CaseNumber: c.Number}
}

// CaseKey scopes persisted state for one case under its owning account.
type CaseKey struct {
	Account    string
	CaseNumber string
}

func (k CaseKey) String() string {
	return k.Account + "/" + k.CaseNumber
}

// Kind returns the case type suffix of a nickname ("John AP" -> "AP").
func (c Case) Kind() string {
	parts := strings.Fields(c.Nickname)
	if len(parts) == 0 {
		return ""
	}
	return parts[len(parts)-1]
}

var (
	slugInvalid   = regexp.MustCompile(`[^\w\s-]`)
	slugSeparator = regexp.MustCompile(`[-\s]+`)
)

// Slug converts a nickname to a filesystem-safe directory name.
func Slug(text string) string {
	text = strings.ToLower(strings.TrimSpace(text))
	text = slugInvalid.ReplaceAllString(text, "")
	return slugSeparator.ReplaceAllString(text, "-")
}
