package assumerolewithcreds

import (
	"fmt"
	"time"

	"github.com/segmentio/aws-assume/lib/awscreds"
)

const (
	MinAssumeRoleDuration = time.Minute * 15
	MaxAssumeRoleDuration = time.Hour * 12

	MinSessionTokenDuration = time.Minute * 15
	MaxSessionTokenDuration = time.Hour * 36
)

// SessionTokenInput describes a GetSessionToken call. Duration 0 lets STS pick.
type SessionTokenInput struct {
	Identity  awscreds.Creds
	Region    string
	MFASerial string
	MFAToken  string
	Duration  time.Duration
}

// AssumeRoleInput describes an AssumeRole call made as Identity.
type AssumeRoleInput struct {
	Identity    awscreds.Creds
	Region      string
	RoleARN     string
	SessionName string
	ExternalID  string
	Duration    time.Duration
	Tags        map[string]string
	MFASerial   string
	MFAToken    string
}

type ErrDurationOOB struct {
	Call   string
	Min    time.Duration
	Max    time.Duration
	Actual time.Duration
}

func (e *ErrDurationOOB) Error() string {
	if e.Actual < e.Min {
		return fmt.Sprintf("%s duration %s < minimum %s", e.Call, e.Actual, e.Min)
	}
	return fmt.Sprintf("%s duration %s > maximum %s", e.Call, e.Actual, e.Max)
}

func checkDuration(call string, d, min, max time.Duration) error {
	if d == 0 {
		return nil
	}
	if d < min || d > max {
		return &ErrDurationOOB{Call: call, Min: min, Max: max, Actual: d}
	}
	return nil
}

func (in SessionTokenInput) Validate() error {
	if in.MFASerial != "" && in.MFAToken == "" {
		return fmt.Errorf("an MFA token is required for %s", in.MFASerial)
	}
	return checkDuration("GetSessionToken", in.Duration, MinSessionTokenDuration, MaxSessionTokenDuration)
}

func (in AssumeRoleInput) Validate() error {
	if in.RoleARN == "" {
		return fmt.Errorf("a role ARN is required")
	}
	if in.SessionName == "" {
		return fmt.Errorf("a role session name is required")
	}
	if in.MFASerial != "" && in.MFAToken == "" {
		return fmt.Errorf("an MFA token is required for %s", in.MFASerial)
	}
	return checkDuration("AssumeRole", in.Duration, MinAssumeRoleDuration, MaxAssumeRoleDuration)
}
