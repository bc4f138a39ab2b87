package provider

import (
	"fmt"

	"github.com/aws/aws-sdk-go/aws/awserr"
	"golang.org/x/xerrors"
)

// UserAuthenticationError is returned when a session-token call fails.
type UserAuthenticationError struct {
	Profile string
	Err     error
}

func (e *UserAuthenticationError) Error() string {
	return fmt.Sprintf("user authentication failed for %s: %s", e.Profile, remoteMessage(e.Err))
}

func (e *UserAuthenticationError) Unwrap() error { return e.Err }

// RoleAuthenticationError is returned when an assume-role call fails.
type RoleAuthenticationError struct {
	Profile string
	RoleARN string
	Err     error
}

func (e *RoleAuthenticationError) Error() string {
	return fmt.Sprintf("role authentication failed for %s (%s): %s", e.Profile, e.RoleARN, remoteMessage(e.Err))
}

func (e *RoleAuthenticationError) Unwrap() error { return e.Err }

// NoCredentialsError is returned when a credential_process yields nothing
// usable.
type NoCredentialsError struct {
	Profile string
	Err     error
}

func (e *NoCredentialsError) Error() string {
	return fmt.Sprintf("no credentials for %s: %s", e.Profile, e.Err)
}

func (e *NoCredentialsError) Unwrap() error { return e.Err }

// ValidationError reports an incompatible combination of options.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func validationf(format string, args ...interface{}) error {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// remoteMessage keeps the service's own error text.
func remoteMessage(err error) string {
	if err == nil {
		return ""
	}
	var aerr awserr.Error
	if xerrors.As(err, &aerr) {
		return fmt.Sprintf("%s: %s", aerr.Code(), aerr.Message())
	}
	return err.Error()
}
