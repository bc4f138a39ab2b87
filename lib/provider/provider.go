// Package provider resolves the credentials for a profile, walking its role
// chain and consulting the session cache.
package provider

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	// use xerrors until 1.13 is stable/oldest supported version
	"golang.org/x/xerrors"

	"github.com/segmentio/aws-assume/internal/sessioncache"
	"github.com/segmentio/aws-assume/lib/assumerolewithcreds"
	"github.com/segmentio/aws-assume/lib/awscreds"
	"github.com/segmentio/aws-assume/lib/chain"
	"github.com/segmentio/aws-assume/lib/credprocess"
	"github.com/segmentio/aws-assume/profiles"
)

const MaxRoleDuration = assumerolewithcreds.MaxAssumeRoleDuration

// TokenProvider supplies MFA codes.
type TokenProvider interface {
	Token(serial string) (string, error)
}

// TokenFunc adapts a function to TokenProvider.
type TokenFunc func(serial string) (string, error)

func (f TokenFunc) Token(serial string) (string, error) { return f(serial) }

// ErrMFATokenRequired is returned when MFA is needed and no token source is
// available.
var ErrMFATokenRequired = errors.New("an MFA token is required but none was supplied")

type Options struct {
	Roles  assumerolewithcreds.Service
	Runner credprocess.Runner
	// Cache may be nil, in which case session tokens are never cached.
	Cache sessioncache.Store
	MFA   TokenProvider
	Hooks *Hooks
	Now   func() time.Time

	// configured defaults
	DefaultRegion            string
	DefaultSessionName       string
	DefaultRoleDuration      time.Duration
	SkipDefaultProfileRegion bool
}

func (o *Options) ApplyDefaults() {
	if o.Roles == nil {
		o.Roles = assumerolewithcreds.New()
	}
	if o.Runner == nil {
		o.Runner = credprocess.ExecRunner{}
	}
	if o.MFA == nil {
		o.MFA = TokenFunc(func(string) (string, error) { return "", ErrMFATokenRequired })
	}
	if o.Hooks == nil {
		o.Hooks = &Hooks{}
	}
	if o.Now == nil {
		o.Now = time.Now
	}
}

func (o *Options) Validate() error {
	if o.DefaultRoleDuration < 0 || o.DefaultRoleDuration > MaxRoleDuration {
		return fmt.Errorf("role duration must be between 0 and %s", MaxRoleDuration)
	}
	return nil
}

// Request describes one resolution.
type Request struct {
	Target string

	// RoleARN assumes a role that has no profile, optionally from
	// SourceProfile.
	RoleARN       string
	SourceProfile string

	ExternalID   string
	SessionName  string
	Region       string
	RoleDuration time.Duration
	Tags         map[string]string

	// MFAToken is used instead of asking the TokenProvider.
	MFAToken string
	// ForceRefresh skips the session cache read.
	ForceRefresh bool
}

// Validate rejects option combinations that can never resolve.
func (r Request) Validate() error {
	if r.RoleDuration < 0 || r.RoleDuration > MaxRoleDuration {
		return validationf("--role-duration must be between 0 and %d seconds", int(MaxRoleDuration.Seconds()))
	}
	if r.SourceProfile != "" && r.RoleARN == "" {
		return validationf("--source-profile can only be used with --role-arn")
	}
	return nil
}

type Provider struct {
	Options
}

func New(opts Options) (*Provider, error) {
	opts.ApplyDefaults()
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	return &Provider{Options: opts}, nil
}

// Run resolves req through the hook registry.
func (p *Provider) Run(ctx context.Context, req Request, ps profiles.Profiles) (Result, error) {
	exit, err := p.Hooks.postCollectProfiles(ctx, req, ps)
	if err != nil {
		return nil, p.Hooks.catchError(ctx, req, err)
	} else if exit != nil {
		log.Debugf("early exit after collecting profiles: %s", exit.Reason)
		return exit, nil
	}

	exit, err = p.Hooks.preGetCredentials(ctx, req, ps)
	if err != nil {
		return nil, p.Hooks.catchError(ctx, req, err)
	} else if exit != nil {
		log.Debugf("early exit before resolving: %s", exit.Reason)
		return exit, nil
	}

	creds, err := p.Retrieve(ctx, req, ps)
	if err != nil {
		return nil, p.Hooks.catchError(ctx, req, err)
	}
	if err := p.Hooks.postGetCredentials(ctx, req, creds); err != nil {
		return nil, p.Hooks.catchError(ctx, req, err)
	}
	return &Resolved{Creds: creds}, nil
}

// Retrieve resolves every step of the target's chain, root first, feeding
// each result to the next step.
func (p *Provider) Retrieve(ctx context.Context, req Request, ps profiles.Profiles) (awscreds.Creds, error) {
	if err := req.Validate(); err != nil {
		return awscreds.Creds{}, err
	}

	if req.RoleARN != "" {
		var err error
		if req, ps, err = withRoleARN(req, ps); err != nil {
			return awscreds.Creds{}, err
		}
	}

	steps, err := chain.Resolve(ps, req.Target, chain.Options{
		RoleDuration:        req.RoleDuration,
		DefaultRoleDuration: p.DefaultRoleDuration,
	})
	if err != nil {
		return awscreds.Creds{}, err
	}

	var upstream *awscreds.Creds
	for _, step := range steps {
		creds, err := p.ResolveStep(ctx, req, ps, step, upstream)
		if err != nil {
			return awscreds.Creds{}, err
		}
		log.Debugf("resolved %s as ...%s", step.Name, creds.ShortKey())
		upstream = &creds
	}
	return *upstream, nil
}

// withRoleARN adds a profile for req.RoleARN and targets it. The loaded
// profiles are not modified.
func withRoleARN(req Request, ps profiles.Profiles) (Request, profiles.Profiles, error) {
	arn, err := ParseRoleARN(req.RoleARN)
	if err != nil {
		return req, nil, err
	}

	synthetic := profiles.Profile{
		profiles.KeyRoleARN:         arn,
		profiles.KeyRoleSessionName: CLIRoleSessionName,
	}
	if req.SourceProfile != "" {
		if _, err := ps.Get(req.SourceProfile); err != nil {
			return req, nil, err
		}
		synthetic[profiles.KeySourceProfile] = req.SourceProfile
	} else {
		synthetic[profiles.KeyCredentialSource] = profiles.CredentialSourceEnvironment
	}

	withRole := make(profiles.Profiles, len(ps)+1)
	for name, p := range ps {
		withRole[name] = p
	}
	withRole[arn] = synthetic

	req.Target = arn
	req.RoleARN = ""
	req.SourceProfile = ""
	log.Debugf("assuming %s from the command line", arn)
	return req, withRole, nil
}

// ResolveStep produces the credentials for one chain step. upstream is the
// previous step's result, nil for the first step.
func (p *Provider) ResolveStep(ctx context.Context, req Request, ps profiles.Profiles, step chain.Step, upstream *awscreds.Creds) (awscreds.Creds, error) {
	prof := step.Profile
	rgn := region(req.Region, ps[req.Target], ps, p.SkipDefaultProfileRegion, p.DefaultRegion)

	switch {
	case prof.CredentialProcess() != "":
		creds, err := credprocess.Retrieve(ctx, p.Runner, prof.CredentialProcess(), rgn)
		if err != nil {
			return awscreds.Creds{}, &NoCredentialsError{Profile: step.Name, Err: err}
		}
		return creds, nil

	case prof.IsRole():
		return p.resolveRole(ctx, req, ps, step, upstream, rgn)

	case prof.MFASerial() != "":
		identity := staticCreds(prof, rgn)
		if !prof.HasStaticCredentials() && prof.CredentialSource() != "" {
			identity = awscreds.Creds{CredentialSource: prof.CredentialSource(), Region: rgn}
		}
		return p.sessionToken(ctx, req, step.Name, identity, prof.MFASerial(), rgn)

	case prof.CredentialSource() != "":
		log.Debugf("%s uses credential_source %s", step.Name, prof.CredentialSource())
		return awscreds.Creds{CredentialSource: prof.CredentialSource(), Region: rgn}, nil
	}

	log.Debugf("%s uses static credentials", step.Name)
	return staticCreds(prof, rgn), nil
}

func staticCreds(p profiles.Profile, region string) awscreds.Creds {
	id, secret, token := p.StaticCredentials()
	return awscreds.Creds{AccessKeyID: id, SecretAccessKey: secret, SessionToken: token, Region: region}
}

func (p *Provider) resolveRole(ctx context.Context, req Request, ps profiles.Profiles, step chain.Step, upstream *awscreds.Creds, rgn string) (awscreds.Creds, error) {
	prof := step.Profile
	in := assumerolewithcreds.AssumeRoleInput{
		Region:     rgn,
		RoleARN:    prof.RoleARN(),
		ExternalID: prof.ExternalID(),
		Duration:   step.Duration,
	}
	override := ""
	if step.Name == req.Target {
		override = req.SessionName
		in.Tags = req.Tags
		if req.ExternalID != "" {
			in.ExternalID = req.ExternalID
		}
	}
	in.SessionName = sessionName(override, step.Name, prof, p.DefaultSessionName)

	if upstream != nil {
		in.Identity = *upstream
		creds, err := p.assumeRole(ctx, step.Name, in)
		if err != nil {
			return awscreds.Creds{}, err
		}
		creds.SourceExpiration = upstream.Upstream()
		return creds, nil
	}

	serial := prof.MFASerial()
	source := ps[prof.SourceProfile()]
	if serial == "" {
		serial = source.MFASerial()
	}

	switch {
	case prof.CredentialSource() != "":
		in.Identity = awscreds.Creds{CredentialSource: prof.CredentialSource()}
		if serial != "" {
			if err := p.withMFA(&in, req, serial); err != nil {
				return awscreds.Creds{}, err
			}
		}
		return p.assumeRole(ctx, step.Name, in)

	case source == nil:
		return awscreds.Creds{}, &profiles.InvalidProfileError{
			Profile: step.Name,
			Message: "role profiles must contain one of credential_source or source_profile or credential_process",
		}
	}

	identity, err := p.sourceIdentity(ctx, step.Name, prof.SourceProfile(), source, rgn)
	if err != nil {
		return awscreds.Creds{}, err
	}
	in.Identity = identity

	switch {
	case serial == "":
		return p.assumeRole(ctx, step.Name, in)

	case chain.IsCustomDuration(step.Duration):
		log.Debugf("custom role duration for %s, skipping the session token", step.Name)
		if err := p.withMFA(&in, req, serial); err != nil {
			return awscreds.Creds{}, err
		}
		return p.assumeRole(ctx, step.Name, in)
	}

	session, err := p.sessionToken(ctx, req, prof.SourceProfile(), identity, serial, rgn)
	if err != nil {
		return awscreds.Creds{}, err
	}
	in.Identity = session
	creds, err := p.assumeRole(ctx, step.Name, in)
	if err != nil {
		return awscreds.Creds{}, err
	}
	creds.SourceExpiration = session.Upstream()
	return creds, nil
}

// sourceIdentity returns the credentials a role assumes from when its source
// was not resolved as a step of its own.
func (p *Provider) sourceIdentity(ctx context.Context, role, name string, source profiles.Profile, rgn string) (awscreds.Creds, error) {
	switch {
	case source.HasStaticCredentials():
		return staticCreds(source, rgn), nil
	case source.CredentialSource() != "":
		return awscreds.Creds{CredentialSource: source.CredentialSource(), Region: rgn}, nil
	case source.CredentialProcess() != "":
		creds, err := credprocess.Retrieve(ctx, p.Runner, source.CredentialProcess(), rgn)
		if err != nil {
			return awscreds.Creds{}, &NoCredentialsError{Profile: name, Err: err}
		}
		return creds, nil
	}
	return awscreds.Creds{}, &profiles.InvalidProfileError{
		Profile: role,
		Message: fmt.Sprintf("source profile %s has no credentials to assume the role with directly", name),
	}
}

func (p *Provider) withMFA(in *assumerolewithcreds.AssumeRoleInput, req Request, serial string) error {
	token, err := p.token(req, serial)
	if err != nil {
		return err
	}
	in.MFASerial = serial
	in.MFAToken = token
	return nil
}

func (p *Provider) token(req Request, serial string) (string, error) {
	if req.MFAToken != "" {
		return req.MFAToken, nil
	}
	return p.MFA.Token(serial)
}

func (p *Provider) assumeRole(ctx context.Context, name string, in assumerolewithcreds.AssumeRoleInput) (awscreds.Creds, error) {
	creds, err := p.Roles.AssumeRole(ctx, in)
	if err != nil {
		return awscreds.Creds{}, &RoleAuthenticationError{Profile: name, RoleARN: in.RoleARN, Err: err}
	}
	return creds, nil
}

// sessionToken returns an MFA session for identity, from the cache when a
// valid entry exists.
func (p *Provider) sessionToken(ctx context.Context, req Request, name string, identity awscreds.Creds, serial, rgn string) (awscreds.Creds, error) {
	key := sessioncache.IdentityKey{AccessKeyID: identity.AccessKeyID}
	cacheable := p.Cache != nil && identity.AccessKeyID != ""

	if cacheable && !req.ForceRefresh {
		creds, err := sessioncache.Lookup(p.Cache, key, p.Now())
		if err == nil {
			log.Debugf("session cache hit for ...%s", identity.ShortKey())
			if rgn != "" {
				creds = creds.WithRegion(rgn)
			}
			return creds, nil
		}
		if !xerrors.Is(err, sessioncache.ErrNotFound) && !xerrors.Is(err, sessioncache.ErrSessionExpired) {
			log.Warnf("reading session cache: %s", err)
		}
		log.Debugf("session cache miss for ...%s", identity.ShortKey())
	}

	token, err := p.token(req, serial)
	if err != nil {
		return awscreds.Creds{}, &UserAuthenticationError{Profile: name, Err: err}
	}
	creds, err := p.Roles.GetSessionToken(ctx, assumerolewithcreds.SessionTokenInput{
		Identity:  identity,
		Region:    rgn,
		MFASerial: serial,
		MFAToken:  token,
	})
	if err != nil {
		return awscreds.Creds{}, &UserAuthenticationError{Profile: name, Err: err}
	}

	if cacheable {
		if err := p.Cache.Put(key, sessioncache.NewEntry(creds)); err != nil {
			log.Warnf("writing session cache: %s", err)
		}
	}
	return creds, nil
}
