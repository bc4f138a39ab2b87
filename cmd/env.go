package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/xerrors"

	"github.com/segmentio/aws-assume/lib/autorefresh"
	"github.com/segmentio/aws-assume/lib/awscreds"
	"github.com/segmentio/aws-assume/lib/chain"
	"github.com/segmentio/aws-assume/lib/provider"
	"github.com/segmentio/aws-assume/profiles"
)

var (
	envFlags       requestFlags
	envAutoRefresh bool
	envUnset       bool
	envList        bool
)

// envCmd represents the env command
var envCmd = &cobra.Command{
	Use:     "env [profile]",
	Aliases: []string{"assume"},
	Short:   "env prints out export commands for the specified profile",
	RunE:    envRun,
	Example: "eval $(aws-assume env admin)",
}

func init() {
	RootCmd.AddCommand(envCmd)
	envFlags.register(envCmd.Flags())
	envCmd.Flags().BoolVarP(&envAutoRefresh, "auto-refresh", "a", false, "Keep the role credentials refreshed in the credentials file")
	envCmd.Flags().BoolVarP(&envUnset, "unset", "u", false, "Print commands clearing the exported variables")
	envCmd.Flags().BoolVarP(&envList, "list", "l", false, "List the configured profiles")
}

// envHooks wires the env-only behaviours into the provider's extension points.
type envHooks struct {
	shell       shellSyntax
	autoRefresh bool
	unset       bool
	list        bool
	// settings role duration
	defaultDuration time.Duration

	// set by the auto-refresh hook once bookkeeping is written
	bookkeeping string
	write       func(b autorefresh.Bookkeeping) error
}

func (h *envHooks) register(hooks *provider.Hooks) {
	hooks.Register(provider.Hook{
		Name: "unset",
		PostCollectProfiles: func(ctx context.Context, req provider.Request, ps profiles.Profiles) (*provider.EarlyExit, error) {
			if !h.unset {
				return nil, nil
			}
			var lines []string
			for _, key := range managedVars {
				lines = append(lines, h.shell.unsetLine(key))
			}
			return &provider.EarlyExit{Reason: "unset", Lines: lines}, nil
		},
	})
	hooks.Register(provider.Hook{
		Name: "list",
		PostCollectProfiles: func(ctx context.Context, req provider.Request, ps profiles.Profiles) (*provider.EarlyExit, error) {
			if !h.list {
				return nil, nil
			}
			return &provider.EarlyExit{Reason: "list", Lines: profileTable(ps)}, nil
		},
	})
	hooks.Register(provider.Hook{
		Name:               "auto-refresh",
		PreGetCredentials:  h.checkAutoRefresh,
		PostGetCredentials: h.writeBookkeeping,
	})
	hooks.Register(provider.Hook{
		Name: "not-found",
		CatchError: func(ctx context.Context, req provider.Request, err error) error {
			var nf *profiles.NotFoundError
			if xerrors.As(err, &nf) {
				return xerrors.Errorf("%w. Use `list` to see configured profiles", err)
			}
			return nil
		},
	})
}

func (h *envHooks) checkAutoRefresh(ctx context.Context, req provider.Request, ps profiles.Profiles) (*provider.EarlyExit, error) {
	if !h.autoRefresh {
		return nil, nil
	}
	if req.RoleARN != "" {
		return nil, &provider.ValidationError{Message: "--auto-refresh cannot be used with --role-arn"}
	}
	p, err := ps.Get(req.Target)
	if err != nil {
		return nil, err
	}
	d, err := chain.TargetDuration(p, chain.Options{RoleDuration: req.RoleDuration, DefaultRoleDuration: h.defaultDuration})
	if err != nil {
		return nil, err
	}
	if chain.IsCustomDuration(d) {
		return nil, &provider.ValidationError{Message: fmt.Sprintf("--auto-refresh cannot be used with a role duration above %s", chain.CustomDurationThreshold)}
	}
	return nil, nil
}

func (h *envHooks) writeBookkeeping(ctx context.Context, req provider.Request, creds awscreds.Creds) error {
	if !h.autoRefresh {
		return nil
	}
	if !creds.HasExpiration() {
		log.Warnf("%s resolves to long-lived credentials, nothing to refresh", req.Target)
		return nil
	}
	b := autorefresh.NewBookkeeping(req.Target, creds, refreshArgs(req))
	if err := h.write(b); err != nil {
		return err
	}
	h.bookkeeping = b.Name
	return nil
}

func envRun(cmd *cobra.Command, args []string) error {
	if len(args) > 1 {
		return ErrTooManyArguments
	}
	if len(args) == 0 && envFlags.roleARN == "" && !envUnset && !envList {
		return ErrTooFewArguments
	}
	req, err := requestFor(&envFlags, args)
	if err != nil && err != ErrTooFewArguments {
		return err
	}

	store := cfg.ProfileStore()
	ps, err := store.Load()
	if err != nil {
		return err
	}

	h := &envHooks{
		shell:           shellFor(os.Getenv("SHELL")),
		autoRefresh:     envAutoRefresh,
		unset:           envUnset,
		list:            envList,
		defaultDuration: time.Duration(cfg.Settings.RoleDuration) * time.Second,
		write: func(b autorefresh.Bookkeeping) error {
			if err := store.AddOrReplace(b.Name, b.Fields(), true); err != nil {
				return err
			}
			return restartDaemon(cfg)
		},
	}
	hooks := &provider.Hooks{}
	h.register(hooks)

	p, err := newProvider(cfg, mfaPrompt(), hooks)
	if err != nil {
		return err
	}

	res, err := p.Run(cmd.Context(), req, ps)
	if err != nil {
		return err
	}
	writeEnvResult(os.Stdout, h, req, res)
	return nil
}

func writeEnvResult(w io.Writer, h *envHooks, req provider.Request, res provider.Result) {
	switch r := res.(type) {
	case *provider.EarlyExit:
		for _, line := range r.Lines {
			fmt.Fprintln(w, line)
		}

	case *provider.Resolved:
		if h.bookkeeping != "" {
			// let the SDK read the refreshed profile from the credentials file
			for _, key := range keyVars {
				fmt.Fprintln(w, h.shell.unsetLine(key))
			}
			h.shell.export(w, envProfile, h.bookkeeping)
			h.shell.export(w, envAssumeProfile, req.Target)
			if r.Creds.Region != "" {
				h.shell.export(w, envRegion, r.Creds.Region)
				h.shell.export(w, envDefaultRegion, r.Creds.Region)
			}
			return
		}
		fmt.Fprintln(w, h.shell.unsetLine(envProfile))
		fmt.Fprintln(w, h.shell.unsetLine(envDefaultProfile))
		if r.Creds.IsSentinel() {
			log.Infof("%s uses credential_source %s, keeping the current credentials", req.Target, r.Creds.CredentialSource)
			fmt.Fprintln(w, h.shell.unsetLine(envAssumeExpiry))
		}
		for _, v := range credentialVars(req.Target, r.Creds) {
			h.shell.export(w, v.key, v.value)
		}
	}
}
