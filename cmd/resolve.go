package cmd

import (
	"context"
	"fmt"
	"io/ioutil"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/xerrors"

	"github.com/segmentio/aws-assume/lib"
	"github.com/segmentio/aws-assume/lib/autorefresh"
	"github.com/segmentio/aws-assume/lib/awscreds"
	"github.com/segmentio/aws-assume/lib/provider"
)

// requestFlags are the resolution flags shared by env, exec, cred-process and
// console.
type requestFlags struct {
	refresh       bool
	roleARN       string
	sourceProfile string
	externalID    string
	mfaToken      string
	region        string
	sessionName   string
	roleDuration  int
	tags          map[string]string
}

func (f *requestFlags) register(fs *pflag.FlagSet) {
	fs.BoolVarP(&f.refresh, "refresh", "r", false, "Ignore cached session credentials")
	fs.StringVar(&f.roleARN, "role-arn", "", "Role ARN, or <account id>:<role name>, to assume without a profile")
	fs.StringVar(&f.sourceProfile, "source-profile", "", "Profile whose credentials assume --role-arn")
	fs.StringVar(&f.externalID, "external-id", "", "External ID passed when assuming the role")
	fs.StringVar(&f.mfaToken, "mfa-token", "", "MFA token code, instead of prompting")
	fs.StringVar(&f.region, "region", "", "Region of the resulting credentials")
	fs.StringVar(&f.sessionName, "session-name", "", "Role session name")
	fs.IntVar(&f.roleDuration, "role-duration", 0, "Role duration in seconds (0 uses the profile or settings)")
	fs.StringToStringVar(&f.tags, "tag", nil, "Session tag as key=value (repeatable)")
}

func (f *requestFlags) request(target string) provider.Request {
	return provider.Request{
		Target:        target,
		RoleARN:       f.roleARN,
		SourceProfile: f.sourceProfile,
		ExternalID:    f.externalID,
		SessionName:   f.sessionName,
		Region:        f.region,
		RoleDuration:  time.Duration(f.roleDuration) * time.Second,
		Tags:          f.tags,
		MFAToken:      f.mfaToken,
		ForceRefresh:  f.refresh,
	}
}

// refreshArgs renders req as the env invocation the daemon replays. The MFA
// token and --refresh are left out: the daemon relies on the cached session.
func refreshArgs(req provider.Request) []string {
	args := []string{"env", req.Target}
	add := func(flag, value string) {
		if value != "" {
			args = append(args, "--"+flag, value)
		}
	}
	add("external-id", req.ExternalID)
	add("region", req.Region)
	add("session-name", req.SessionName)
	if req.RoleDuration > 0 {
		add("role-duration", strconv.Itoa(int(req.RoleDuration.Seconds())))
	}

	keys := make([]string, 0, len(req.Tags))
	for k := range req.Tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		add("tag", k+"="+req.Tags[k])
	}
	return args
}

// parseRefreshArgs is the inverse of refreshArgs.
func parseRefreshArgs(args []string) (provider.Request, error) {
	if len(args) == 0 || args[0] != "env" {
		return provider.Request{}, fmt.Errorf("unsupported refresh command %q", args)
	}
	var f requestFlags
	fs := pflag.NewFlagSet("refresh", pflag.ContinueOnError)
	fs.SetOutput(ioutil.Discard)
	f.register(fs)
	if err := fs.Parse(args[1:]); err != nil {
		return provider.Request{}, xerrors.Errorf("parsing refresh command: %w", err)
	}
	if fs.NArg() != 1 {
		return provider.Request{}, fmt.Errorf("refresh command must name exactly one profile, got %q", fs.Args())
	}
	return f.request(fs.Arg(0)), nil
}

// newProvider builds a provider from the settings. A nil mfa makes any MFA
// step fail with provider.ErrMFATokenRequired.
func newProvider(c *lib.Config, mfa provider.TokenProvider, hooks *provider.Hooks) (*provider.Provider, error) {
	cache, err := c.SessionCache(keyringPassword)
	if err != nil {
		return nil, err
	}
	return provider.New(provider.Options{
		Cache:                    cache,
		MFA:                      mfa,
		Hooks:                    hooks,
		DefaultRegion:            c.Settings.Region,
		DefaultSessionName:       c.Settings.RoleSessionName,
		DefaultRoleDuration:      time.Duration(c.Settings.RoleDuration) * time.Second,
		SkipDefaultProfileRegion: c.Settings.SkipDefaultProfileRegion,
	})
}

// retrieve resolves target interactively, for the commands that have no
// early exits.
func retrieve(ctx context.Context, f *requestFlags, args []string) (provider.Request, awscreds.Creds, error) {
	req, err := requestFor(f, args)
	if err != nil {
		return req, awscreds.Creds{}, err
	}
	ps, err := cfg.ProfileStore().Load()
	if err != nil {
		return req, awscreds.Creds{}, err
	}
	p, err := newProvider(cfg, mfaPrompt(), nil)
	if err != nil {
		return req, awscreds.Creds{}, err
	}
	creds, err := p.Retrieve(ctx, req, ps)
	return req, creds, err
}

// requestFor checks the positional arguments and the MFA token format.
func requestFor(f *requestFlags, args []string) (provider.Request, error) {
	if len(args) > 1 {
		return provider.Request{}, ErrTooManyArguments
	}
	if len(args) == 0 && f.roleARN == "" {
		return provider.Request{}, ErrTooFewArguments
	}
	if f.mfaToken != "" && !mfaTokenRegexp.MatchString(f.mfaToken) {
		return provider.Request{}, &provider.ValidationError{Message: "--mfa-token must be a 6 digit code"}
	}
	var target string
	if len(args) == 1 {
		target = args[0]
	}
	return f.request(target), nil
}

// commandRefresher replays a bookkeeping profile's saved env command without
// a terminal.
type commandRefresher struct {
	config *lib.Config
}

func (r commandRefresher) Refresh(ctx context.Context, b autorefresh.Bookkeeping) (awscreds.Creds, error) {
	req, err := parseRefreshArgs(b.Command)
	if err != nil {
		return awscreds.Creds{}, err
	}
	ps, err := r.config.ProfileStore().Load()
	if err != nil {
		return awscreds.Creds{}, err
	}
	p, err := newProvider(r.config, nil, nil)
	if err != nil {
		return awscreds.Creds{}, err
	}
	return p.Retrieve(ctx, req, ps)
}
