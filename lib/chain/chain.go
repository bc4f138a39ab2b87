// Package chain works out which profiles have to be resolved, and in what
// order, to obtain credentials for a target profile.
package chain

import (
	"fmt"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/segmentio/aws-assume/profiles"
)

// CustomDurationThreshold separates default role sessions from custom ones.
// Session-token credentials cannot request a role session longer than this.
const CustomDurationThreshold = time.Hour

type Options struct {
	// RoleDuration, when set, overrides the target's duration_seconds.
	RoleDuration time.Duration
	// DefaultRoleDuration applies to the target when neither RoleDuration nor
	// duration_seconds is set.
	DefaultRoleDuration time.Duration
}

// Step is one profile to resolve. Profile is the effective copy, which may
// carry an mfa_serial inherited from the role above it.
type Step struct {
	Name     string
	Profile  profiles.Profile
	Duration time.Duration
}

// IsCustomDuration reports whether d needs a direct assume-role call.
func IsCustomDuration(d time.Duration) bool {
	return d > CustomDurationThreshold
}

// TargetDuration is the role duration that applies to the target profile.
func TargetDuration(p profiles.Profile, opts Options) (time.Duration, error) {
	if opts.RoleDuration != 0 {
		return opts.RoleDuration, nil
	}
	d, err := p.DurationSeconds()
	if err != nil {
		return 0, err
	}
	if d != 0 {
		return d, nil
	}
	return opts.DefaultRoleDuration, nil
}

// Resolve returns the steps for target, root first and target last. Every
// visited profile is validated before it is added.
func Resolve(ps profiles.Profiles, target string, opts Options) ([]Step, error) {
	if err := profiles.Validate(target, ps); err != nil {
		return nil, err
	}
	tp := ps[target]

	targetDuration, err := TargetDuration(tp, opts)
	if err != nil {
		return nil, &profiles.InvalidProfileError{Profile: target, Message: err.Error()}
	}
	if tp.IsRole() && IsCustomDuration(targetDuration) {
		log.Debugf("custom duration %s for %s, resolving it directly", targetDuration, target)
		return []Step{{Name: target, Profile: tp, Duration: targetDuration}}, nil
	}

	// walk from the target towards the root
	var walk []Step
	seen := map[string]int{}
	current := target
	for {
		if i, ok := seen[current]; ok {
			var cycle []string
			for _, s := range walk[i:] {
				cycle = append(cycle, s.Name)
			}
			return nil, &profiles.InvalidProfileError{
				Profile: target,
				Message: fmt.Sprintf("circular role-chain detected: %s -> %s", strings.Join(cycle, " -> "), current),
				Cycle:   cycle,
			}
		}
		if err := profiles.Validate(current, ps); err != nil {
			return nil, err
		}
		p := ps[current]

		step := Step{Name: current, Profile: p}
		if current == target {
			step.Duration = targetDuration
		} else if step.Duration, err = p.DurationSeconds(); err != nil {
			return nil, &profiles.InvalidProfileError{Profile: current, Message: err.Error()}
		}
		seen[current] = len(walk)
		walk = append(walk, step)

		if !p.IsRole() || p.SourceProfile() == "" {
			break
		}
		if current != target && IsCustomDuration(step.Duration) {
			break
		}
		current = p.SourceProfile()
	}

	propagateMFA(walk)

	steps := make([]Step, len(walk))
	for i, s := range walk {
		steps[len(walk)-1-i] = s
	}
	log.Debugf("role chain for %s: %s", target, strings.Join(Names(steps), " -> "))
	return steps, nil
}

// propagateMFA copies a role's mfa_serial onto its source when the source
// declares none, so the MFA challenge happens on the session-token call.
// walk is ordered target first.
func propagateMFA(walk []Step) {
	for i := 0; i+1 < len(walk); i++ {
		serial := walk[i].Profile.MFASerial()
		if serial == "" || walk[i+1].Profile.MFASerial() != "" {
			continue
		}
		log.Debugf("%s inherits mfa_serial from %s", walk[i+1].Name, walk[i].Name)
		walk[i+1].Profile = walk[i+1].Profile.With(profiles.KeyMFASerial, serial)
	}
}

// Names returns the profile names of steps in order.
func Names(steps []Step) []string {
	names := make([]string, len(steps))
	for i, s := range steps {
		names[i] = s.Name
	}
	return names
}
