package provider

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/segmentio/aws-assume/lib/awscreds"
	"github.com/segmentio/aws-assume/profiles"
)

// Result is either *Resolved or *EarlyExit.
type Result interface {
	isResult()
}

// Resolved carries the final credentials of a resolution.
type Resolved struct {
	Creds awscreds.Creds
}

// EarlyExit ends a run successfully without credentials. Lines are printed
// as-is by the caller.
type EarlyExit struct {
	Reason string
	Lines  []string
}

func (*Resolved) isResult()  {}
func (*EarlyExit) isResult() {}

// Hook is a named set of extension point implementations. Any field may be
// nil.
type Hook struct {
	Name string

	// PostCollectProfiles runs once the profiles are loaded.
	PostCollectProfiles func(ctx context.Context, req Request, ps profiles.Profiles) (*EarlyExit, error)
	// PreGetCredentials runs right before resolution starts.
	PreGetCredentials func(ctx context.Context, req Request, ps profiles.Profiles) (*EarlyExit, error)
	// PostGetCredentials sees the final credentials.
	PostGetCredentials func(ctx context.Context, req Request, creds awscreds.Creds) error
	// CatchError sees a failed resolution. A non-nil return replaces the
	// error passed to the next hook.
	CatchError func(ctx context.Context, req Request, err error) error
}

// Hooks runs registered hooks in registration order.
type Hooks struct {
	hooks []Hook
}

func (h *Hooks) Register(hook Hook) {
	log.Debugf("registering hook %s", hook.Name)
	h.hooks = append(h.hooks, hook)
}

// Names lists the registered hooks in order.
func (h *Hooks) Names() []string {
	var names []string
	for _, hook := range h.hooks {
		names = append(names, hook.Name)
	}
	return names
}

// the first EarlyExit wins
func (h *Hooks) postCollectProfiles(ctx context.Context, req Request, ps profiles.Profiles) (*EarlyExit, error) {
	for _, hook := range h.hooks {
		if hook.PostCollectProfiles == nil {
			continue
		}
		exit, err := hook.PostCollectProfiles(ctx, req, ps)
		if err != nil || exit != nil {
			return exit, err
		}
	}
	return nil, nil
}

func (h *Hooks) preGetCredentials(ctx context.Context, req Request, ps profiles.Profiles) (*EarlyExit, error) {
	for _, hook := range h.hooks {
		if hook.PreGetCredentials == nil {
			continue
		}
		exit, err := hook.PreGetCredentials(ctx, req, ps)
		if err != nil || exit != nil {
			return exit, err
		}
	}
	return nil, nil
}

func (h *Hooks) postGetCredentials(ctx context.Context, req Request, creds awscreds.Creds) error {
	for _, hook := range h.hooks {
		if hook.PostGetCredentials == nil {
			continue
		}
		if err := hook.PostGetCredentials(ctx, req, creds); err != nil {
			return err
		}
	}
	return nil
}

func (h *Hooks) catchError(ctx context.Context, req Request, err error) error {
	for _, hook := range h.hooks {
		if hook.CatchError == nil {
			continue
		}
		if replaced := hook.CatchError(ctx, req, err); replaced != nil {
			err = replaced
		}
	}
	return err
}
