package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/alessio/shellescape"

	"github.com/segmentio/aws-assume/lib/awscreds"
)

// Variables exported for resolved credentials.
const (
	envAccessKeyID     = "AWS_ACCESS_KEY_ID"
	envSecretAccessKey = "AWS_SECRET_ACCESS_KEY"
	envSessionToken    = "AWS_SESSION_TOKEN"
	envSecurityToken   = "AWS_SECURITY_TOKEN"
	envRegion          = "AWS_REGION"
	envDefaultRegion   = "AWS_DEFAULT_REGION"
	envProfile         = "AWS_PROFILE"
	envDefaultProfile  = "AWS_DEFAULT_PROFILE"
	envAssumeProfile   = "AWS_ASSUME_PROFILE"
	envAssumeExpiry    = "AWS_ASSUME_EXPIRATION"
)

// managedVars are cleared before exporting new values and by env --unset.
var managedVars = []string{
	envAccessKeyID,
	envSecretAccessKey,
	envSessionToken,
	envSecurityToken,
	envRegion,
	envDefaultRegion,
	envProfile,
	envDefaultProfile,
	envAssumeProfile,
	envAssumeExpiry,
}

// keyVars hold the credentials themselves.
var keyVars = []string{envAccessKeyID, envSecretAccessKey, envSessionToken, envSecurityToken}

func isKeyVar(key string) bool {
	for _, k := range keyVars {
		if k == key {
			return true
		}
	}
	return false
}

type kv struct {
	key, value string
}

// credentialVars lists the variables describing creds for profile. Creds
// naming a credential_source carry no keys; the ambient ones stay in use.
func credentialVars(profile string, creds awscreds.Creds) []kv {
	var vars []kv
	if !creds.IsSentinel() {
		vars = append(vars, kv{envAccessKeyID, creds.AccessKeyID}, kv{envSecretAccessKey, creds.SecretAccessKey})
		if creds.SessionToken != "" {
			vars = append(vars, kv{envSessionToken, creds.SessionToken}, kv{envSecurityToken, creds.SessionToken})
		}
	}
	if creds.Region != "" {
		vars = append(vars, kv{envRegion, creds.Region}, kv{envDefaultRegion, creds.Region})
	}
	if profile != "" {
		vars = append(vars, kv{envAssumeProfile, profile})
	}
	if creds.HasExpiration() {
		vars = append(vars, kv{envAssumeExpiry, creds.Expiration.UTC().Format("2006-01-02T15:04:05Z")})
	}
	return vars
}

// shellSyntax renders export and unset statements for one shell family.
type shellSyntax struct {
	fish bool
}

func shellFor(shellPath string) shellSyntax {
	return shellSyntax{fish: strings.Contains(shellPath, "fish")}
}

func (s shellSyntax) export(w io.Writer, key, value string) {
	if s.fish {
		fmt.Fprintf(w, "set -x %s %s\n", key, shellescape.Quote(value))
		return
	}
	fmt.Fprintf(w, "export %s=%s\n", key, shellescape.Quote(value))
}

func (s shellSyntax) unsetLine(key string) string {
	if s.fish {
		return "set -e " + key
	}
	return "unset " + key
}

// environ is a slice of strings representing the environment, in the form "key=value".
type environ []string

// Unset an environment variable by key
func (e *environ) Unset(key string) {
	for i := range *e {
		if strings.HasPrefix((*e)[i], key+"=") {
			(*e)[i] = (*e)[len(*e)-1]
			*e = (*e)[:len(*e)-1]
			break
		}
	}
}

// Set adds an environment variable, replacing any existing ones of the same key
func (e *environ) Set(key, val string) {
	e.Unset(key)
	*e = append(*e, key+"="+val)
}
