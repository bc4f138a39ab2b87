package autorefresh

import (
	"context"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"

	"github.com/segmentio/aws-assume/lib/awscreds"
	"github.com/segmentio/aws-assume/profiles"
)

// DefaultThreshold is how long before expiry a role is refreshed.
const DefaultThreshold = 60 * time.Second

// MinSleep is the shortest wait between two scans.
const MinSleep = time.Second

type State int

const (
	Fresh State = iota
	NearExpiry
	SourceExpired
	Unrecoverable
)

func (s State) String() string {
	switch s {
	case Fresh:
		return "FRESH"
	case NearExpiry:
		return "NEAR_EXPIRY"
	case SourceExpired:
		return "SOURCE_EXPIRED"
	case Unrecoverable:
		return "UNRECOVERABLE"
	}
	return "UNKNOWN"
}

// Classify places b in the refresh state machine at now.
func Classify(b Bookkeeping, now time.Time, threshold time.Duration) State {
	exp := b.Creds.Expiration
	if src := b.Creds.SourceExpiration; !src.IsZero() && !src.After(now) {
		if !exp.After(now) {
			return Unrecoverable
		}
		return SourceExpired
	}
	if exp.Sub(now) <= threshold {
		return NearExpiry
	}
	return Fresh
}

// Store is where bookkeeping profiles live.
type Store interface {
	Bookkeeping() (profiles.Profiles, error)
	AddOrReplace(name string, fields map[string]string, overwrite bool) error
	Delete(name string) error
}

// Refresher resolves a bookkeeping profile's target again.
type Refresher interface {
	Refresh(ctx context.Context, b Bookkeeping) (awscreds.Creds, error)
}

type RefresherFunc func(ctx context.Context, b Bookkeeping) (awscreds.Creds, error)

func (f RefresherFunc) Refresh(ctx context.Context, b Bookkeeping) (awscreds.Creds, error) {
	return f(ctx, b)
}

type Daemon struct {
	Store     Store
	Refresher Refresher
	Threshold time.Duration
	Now       func() time.Time
	Sleep     func(ctx context.Context, d time.Duration) error
	Log       logrus.FieldLogger
}

func (d *Daemon) applyDefaults() {
	if d.Threshold == 0 {
		d.Threshold = DefaultThreshold
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Sleep == nil {
		d.Sleep = sleepContext
	}
	if d.Log == nil {
		d.Log = logrus.StandardLogger()
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Run scans and sleeps until no bookkeeping profile is left or ctx is done.
func (d *Daemon) Run(ctx context.Context) error {
	d.applyDefaults()
	d.Log.Info("auto-refresh started")
	for {
		sleep, remaining, err := d.Scan(ctx)
		if err != nil {
			return err
		}
		if remaining == 0 {
			d.Log.Info("no auto-refresh profiles left, exiting")
			return nil
		}
		d.Log.WithField("profiles", remaining).Infof("sleeping for %s", sleep)
		if err := d.Sleep(ctx, sleep); err != nil {
			return err
		}
	}
}

// Scan moves every bookkeeping profile through one step of the state machine.
// It returns how long to sleep before the next scan and how many profiles are
// still being looked after.
func (d *Daemon) Scan(ctx context.Context) (time.Duration, int, error) {
	d.applyDefaults()

	ps, err := d.Store.Bookkeeping()
	if err != nil {
		return 0, 0, xerrors.Errorf("reading auto-refresh profiles: %w", err)
	}
	names := make([]string, 0, len(ps))
	for name := range ps {
		names = append(names, name)
	}
	sort.Strings(names)

	now := d.Now()
	var earliest time.Time
	remaining := 0
	for _, name := range names {
		log := d.Log.WithField("profile", name)

		b, err := ParseBookkeeping(name, ps[name])
		if err != nil {
			log.Errorf("unreadable, removing: %s", err)
			d.remove(name, log)
			continue
		}

		var wake time.Time
		state := Classify(b, now, d.Threshold)
		log.Debugf("state %s", state)
		switch state {
		case Fresh:
			wake = b.Creds.Expiration

		case NearExpiry:
			creds, err := d.Refresher.Refresh(ctx, b)
			if err != nil {
				log.Errorf("refresh failed, removing: %s", err)
				d.remove(name, log)
				continue
			}
			if Classify(Bookkeeping{Creds: creds}, now, d.Threshold) == NearExpiry {
				log.Errorf("refresh returned credentials expiring within %s, removing", d.Threshold)
				d.remove(name, log)
				continue
			}
			b.Creds = creds
			if err := d.Store.AddOrReplace(name, b.Fields(), true); err != nil {
				return 0, 0, xerrors.Errorf("saving %s: %w", name, err)
			}
			log.Infof("refreshed, expires %s", awscreds.FormatTime(creds.Expiration))
			wake = creds.Expiration

		case SourceExpired:
			// wake once the role has expired too, then remove it
			log.Infof("source credentials expired, role credentials valid until %s", awscreds.FormatTime(b.Creds.Expiration))
			wake = b.Creds.Expiration.Add(d.Threshold)

		case Unrecoverable:
			log.Info("source and role credentials expired, removing")
			d.remove(name, log)
			continue
		}

		remaining++
		if earliest.IsZero() || wake.Before(earliest) {
			earliest = wake
		}
	}

	if remaining == 0 {
		return 0, 0, nil
	}
	sleep := earliest.Sub(now) - d.Threshold
	if sleep < MinSleep {
		sleep = MinSleep
	}
	return sleep, remaining, nil
}

func (d *Daemon) remove(name string, log logrus.FieldLogger) {
	if err := d.Store.Delete(name); err != nil {
		log.Errorf("removing: %s", err)
	}
}
