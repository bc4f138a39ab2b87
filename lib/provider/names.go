package provider

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/segmentio/aws-assume/profiles"
)

const (
	// FallbackSessionName is used when nothing better is known.
	FallbackSessionName = "aws-assume-session"
	// CLIRoleSessionName is the default session name for --role-arn.
	CLIRoleSessionName = "aws-assume-cli-role"

	minSessionNameLength = 2
)

var accountIDRegexp = regexp.MustCompile(`^[0-9]{12}$`)

// ParseRoleARN accepts a full role ARN or the <account id>:<role name>
// shorthand.
func ParseRoleARN(s string) (string, error) {
	if strings.HasPrefix(s, "arn:") {
		return s, nil
	}
	parts := strings.Split(s, ":")
	if len(parts) != 2 || parts[1] == "" {
		return "", validationf(`--role-arn must be a valid role arn or follow the format "<account_id>:<role_name>"`)
	}
	if !accountIDRegexp.MatchString(parts[0]) {
		return "", validationf("--role-arn account id must be valid numeric account id of length 12")
	}
	return fmt.Sprintf("arn:aws:iam::%s:role/%s", parts[0], parts[1]), nil
}

// PadSessionName centers name in underscores up to the minimum length STS
// accepts.
func PadSessionName(name string) string {
	n := len(name)
	if n >= minSessionNameLength {
		return name
	}
	pad := minSessionNameLength - n
	left := pad / 2
	return strings.Repeat("_", left) + name + strings.Repeat("_", pad-left)
}

// sessionName picks, in order: the override, role_session_name, the
// configured default, the profile name, the fallback.
func sessionName(override, profileName string, p profiles.Profile, configured string) string {
	name := FallbackSessionName
	for _, candidate := range []string{override, p.RoleSessionName(), configured, profileName} {
		if candidate != "" {
			name = candidate
			break
		}
	}
	return PadSessionName(name)
}

// region picks, in order: the override, the target's region, its source
// profile's region, the default profile's region, the configured default.
func region(override string, target profiles.Profile, ps profiles.Profiles, skipDefaultProfile bool, configured string) string {
	if override != "" {
		return override
	}
	if r := target.Region(); r != "" {
		return r
	}
	if src := target.SourceProfile(); src != "" {
		if r := ps[src].Region(); r != "" {
			return r
		}
	}
	if !skipDefaultProfile {
		if r := ps[profiles.DefaultProfile].Region(); r != "" {
			return r
		}
	}
	return configured
}
