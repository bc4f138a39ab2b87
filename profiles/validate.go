package profiles

import (
	"fmt"
	"strings"
)

// NotFoundError is returned when a profile name is not present.
type NotFoundError struct {
	Profile string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("profile %s not found", e.Profile)
}

// InvalidProfileError reports conflicting or missing keys, an unsupported
// credential_source, or a circular role chain (Cycle is then non-empty).
type InvalidProfileError struct {
	Profile string
	Message string
	Cycle   []string
}

func (e *InvalidProfileError) Error() string {
	return fmt.Sprintf("invalid profile %s: %s", e.Profile, e.Message)
}

func invalid(name, format string, args ...interface{}) error {
	return &InvalidProfileError{Profile: name, Message: fmt.Sprintf(format, args...)}
}

// Validate checks the named profile against the shape rules for role and user
// profiles. Only the named profile is checked; a referenced source_profile is
// checked for existence.
func Validate(name string, ps Profiles) error {
	p, err := ps.Get(name)
	if err != nil {
		return err
	}

	if _, err := p.DurationSeconds(); err != nil {
		return invalid(name, "%s", err)
	}

	if cs := p.CredentialSource(); cs != "" && !validCredentialSources[cs] {
		return invalid(name, "unsupported credential_source profile option: %s", cs)
	}

	if p.IsRole() {
		return validateRole(name, p, ps)
	}
	return validateUser(name, p)
}

func validateRole(name string, p Profile, ps Profiles) error {
	source := p.SourceProfile()
	if source != "" && p.CredentialSource() != "" {
		return invalid(name, "credential_source and source_profile are mutually exclusive profile options")
	}

	var set []string
	for _, k := range []string{KeySourceProfile, KeyCredentialSource, KeyCredentialProcess} {
		if p[k] != "" {
			set = append(set, k)
		}
	}
	switch {
	case len(set) == 0:
		return invalid(name, "role profiles must contain one of credential_source or source_profile or credential_process")
	case len(set) > 1:
		return invalid(name, "%s are mutually exclusive profile options", strings.Join(set, " and "))
	}

	if source != "" {
		if _, ok := ps[source]; !ok {
			return &NotFoundError{Profile: source}
		}
	}
	return nil
}

func validateUser(name string, p Profile) error {
	if p.CredentialProcess() != "" || p.CredentialSource() != "" {
		return nil
	}

	var missing []string
	id, secret, _ := p.StaticCredentials()
	if id == "" {
		missing = append(missing, KeyAccessKeyID)
	}
	if secret == "" {
		missing = append(missing, KeySecretAccessKey)
	}
	if len(missing) > 0 {
		return invalid(name, "missing keys %s", strings.Join(missing, ", "))
	}
	return nil
}
