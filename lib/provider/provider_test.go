package provider

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/golang/mock/gomock"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"

	"github.com/segmentio/aws-assume/internal/sessioncache"
	"github.com/segmentio/aws-assume/lib/assumerolewithcreds"
	"github.com/segmentio/aws-assume/lib/awscreds"
	"github.com/segmentio/aws-assume/lib/credprocess/mock_credprocess"
	"github.com/segmentio/aws-assume/profiles"
)

var testNow = time.Date(2030, 6, 1, 12, 0, 0, 0, time.Local)

const (
	bobSerial   = "arn:aws:iam::123456789012:mfa/bob"
	adminARN    = "arn:aws:iam::123456789012:role/Admin"
	readOnlyARN = "arn:aws:iam::123456789012:role/ReadOnly"
)

type fakeRoles struct {
	sessionCalls []assumerolewithcreds.SessionTokenInput
	assumeCalls  []assumerolewithcreds.AssumeRoleInput
	sessionErr   error
	assumeErr    error
}

func (f *fakeRoles) GetSessionToken(_ context.Context, in assumerolewithcreds.SessionTokenInput) (awscreds.Creds, error) {
	f.sessionCalls = append(f.sessionCalls, in)
	if f.sessionErr != nil {
		return awscreds.Creds{}, f.sessionErr
	}
	return awscreds.Creds{
		AccessKeyID:     fmt.Sprintf("ASIASESSION%d", len(f.sessionCalls)),
		SecretAccessKey: "session-secret",
		SessionToken:    "session-token",
		Region:          in.Region,
		Expiration:      testNow.Add(12 * time.Hour),
	}, nil
}

func (f *fakeRoles) AssumeRole(_ context.Context, in assumerolewithcreds.AssumeRoleInput) (awscreds.Creds, error) {
	f.assumeCalls = append(f.assumeCalls, in)
	if f.assumeErr != nil {
		return awscreds.Creds{}, f.assumeErr
	}
	return awscreds.Creds{
		AccessKeyID:     fmt.Sprintf("ASIAROLE%d", len(f.assumeCalls)),
		SecretAccessKey: "role-secret",
		SessionToken:    "role-token",
		Region:          in.Region,
		Expiration:      testNow.Add(time.Hour),
	}, nil
}

type harness struct {
	roles   *fakeRoles
	cache   *sessioncache.FileStore
	prompts []string
	p       *Provider
}

func newHarness(t *testing.T, opts Options) *harness {
	h := &harness{
		roles: &fakeRoles{},
		cache: &sessioncache.FileStore{Fs: afero.NewMemMapFs(), Dir: "/home/test/.aws-assume/cache"},
	}
	opts.Roles = h.roles
	opts.Cache = h.cache
	opts.Now = func() time.Time { return testNow }
	opts.MFA = TokenFunc(func(serial string) (string, error) {
		h.prompts = append(h.prompts, serial)
		return "123456", nil
	})
	p, err := New(opts)
	require.NoError(t, err)
	h.p = p
	return h
}

// same provider setup sharing h's cache, as a later process would see it
func (h *harness) again(t *testing.T) *harness {
	next := newHarness(t, h.p.Options)
	next.cache = h.cache
	next.p.Cache = h.cache
	return next
}

func bobAndAdmin() profiles.Profiles {
	return profiles.Profiles{
		"bob": {
			"access_key_id":     "AKIA1",
			"secret_access_key": "S1",
		},
		"admin": {
			profiles.KeyRoleARN:       adminARN,
			profiles.KeySourceProfile: "bob",
			profiles.KeyMFASerial:     bobSerial,
		},
	}
}

func TestRetrieveRoleWithMFA(t *testing.T) {
	h := newHarness(t, Options{})
	ps := bobAndAdmin()

	creds, err := h.p.Retrieve(context.Background(), Request{Target: "admin"}, ps)
	require.NoError(t, err)

	assert.Equal(t, []string{bobSerial}, h.prompts, "exactly one MFA prompt")

	require.Len(t, h.roles.sessionCalls, 1)
	st := h.roles.sessionCalls[0]
	assert.Equal(t, "AKIA1", st.Identity.AccessKeyID)
	assert.Equal(t, bobSerial, st.MFASerial)
	assert.Equal(t, "123456", st.MFAToken)

	require.Len(t, h.roles.assumeCalls, 1)
	ar := h.roles.assumeCalls[0]
	assert.Equal(t, adminARN, ar.RoleARN)
	assert.Equal(t, "ASIASESSION1", ar.Identity.AccessKeyID)
	assert.Empty(t, ar.MFASerial, "the assume-role call is not MFA gated")
	assert.Equal(t, "admin", ar.SessionName)

	assert.Equal(t, "ASIAROLE1", creds.AccessKeyID)
	assert.Equal(t, "role-secret", creds.SecretAccessKey)
	assert.Equal(t, "role-token", creds.SessionToken)
	assert.True(t, creds.SourceExpiration.Equal(testNow.Add(12*time.Hour)))
	assert.Empty(t, ps["bob"].MFASerial(), "loaded profiles are not mutated")
}

func TestRetrieveMFATokenFromRequest(t *testing.T) {
	h := newHarness(t, Options{})
	_, err := h.p.Retrieve(context.Background(), Request{Target: "admin", MFAToken: "654321"}, bobAndAdmin())
	require.NoError(t, err)
	assert.Empty(t, h.prompts)
	assert.Equal(t, "654321", h.roles.sessionCalls[0].MFAToken)
}

func TestRetrieveSessionCacheSharedAcrossAliases(t *testing.T) {
	ps := bobAndAdmin()
	ps["readonly"] = profiles.Profile{
		profiles.KeyRoleARN:       readOnlyARN,
		profiles.KeySourceProfile: "bob",
		profiles.KeyMFASerial:     bobSerial,
	}
	ps["bob-mfa"] = ps["bob"].With(profiles.KeyMFASerial, bobSerial)

	h := newHarness(t, Options{})
	_, err := h.p.Retrieve(context.Background(), Request{Target: "admin"}, ps)
	require.NoError(t, err)

	later := h.again(t)
	_, err = later.p.Retrieve(context.Background(), Request{Target: "readonly"}, ps)
	require.NoError(t, err)
	user, err := later.p.Retrieve(context.Background(), Request{Target: "bob-mfa", Region: "eu-west-1"}, ps)
	require.NoError(t, err)

	assert.Empty(t, later.prompts, "cached session is reused")
	assert.Empty(t, later.roles.sessionCalls)
	require.Len(t, later.roles.assumeCalls, 1)
	assert.Equal(t, "ASIASESSION1", later.roles.assumeCalls[0].Identity.AccessKeyID)
	assert.Equal(t, "ASIASESSION1", user.AccessKeyID)
	assert.Equal(t, "eu-west-1", user.Region, "requested region replaces the cached one")

	t.Run("force refresh skips the cache", func(t *testing.T) {
		_, err := later.p.Retrieve(context.Background(), Request{Target: "admin", ForceRefresh: true}, ps)
		require.NoError(t, err)
		assert.Len(t, later.prompts, 1)
		assert.Len(t, later.roles.sessionCalls, 1)
	})

	t.Run("expired entry is ignored", func(t *testing.T) {
		key := sessioncache.IdentityKey{AccessKeyID: "AKIA1"}
		require.NoError(t, h.cache.Put(key, sessioncache.NewEntry(awscreds.Creds{
			AccessKeyID: "ASIAOLD", SecretAccessKey: "s", SessionToken: "t",
			Expiration: testNow.Add(-time.Minute),
		})))
		fresh := h.again(t)
		_, err := fresh.p.Retrieve(context.Background(), Request{Target: "admin"}, ps)
		require.NoError(t, err)
		assert.Len(t, fresh.prompts, 1)
	})
}

func TestRetrieveCustomDuration(t *testing.T) {
	h := newHarness(t, Options{})

	_, err := h.p.Retrieve(context.Background(), Request{Target: "admin", RoleDuration: 2 * time.Hour}, bobAndAdmin())
	require.NoError(t, err)

	assert.Empty(t, h.roles.sessionCalls, "no session token for a custom duration")
	require.Len(t, h.roles.assumeCalls, 1)
	ar := h.roles.assumeCalls[0]
	assert.Equal(t, "AKIA1", ar.Identity.AccessKeyID)
	assert.Equal(t, bobSerial, ar.MFASerial)
	assert.Equal(t, "123456", ar.MFAToken)
	assert.Equal(t, 2*time.Hour, ar.Duration)
	assert.Len(t, h.prompts, 1)

	t.Run("source without static credentials", func(t *testing.T) {
		ps := bobAndAdmin()
		ps["top"] = profiles.Profile{
			profiles.KeyRoleARN:         readOnlyARN,
			profiles.KeySourceProfile:   "admin",
			profiles.KeyDurationSeconds: "7200",
		}
		_, err := h.p.Retrieve(context.Background(), Request{Target: "top"}, ps)
		var invalid *profiles.InvalidProfileError
		require.True(t, xerrors.As(err, &invalid), "got %v", err)
		assert.Equal(t, "top", invalid.Profile)
	})
}

func TestRetrieveDispatch(t *testing.T) {
	t.Run("role without MFA", func(t *testing.T) {
		h := newHarness(t, Options{})
		ps := bobAndAdmin()
		delete(ps["admin"], profiles.KeyMFASerial)

		creds, err := h.p.Retrieve(context.Background(), Request{Target: "admin"}, ps)
		require.NoError(t, err)
		assert.Empty(t, h.roles.sessionCalls)
		require.Len(t, h.roles.assumeCalls, 1)
		assert.Equal(t, "AKIA1", h.roles.assumeCalls[0].Identity.AccessKeyID)
		assert.Empty(t, h.prompts)
		assert.True(t, creds.SourceExpiration.IsZero(), "static credentials never expire")
	})

	t.Run("role from credential_source with MFA", func(t *testing.T) {
		h := newHarness(t, Options{})
		ps := profiles.Profiles{"ambient": {
			profiles.KeyRoleARN:          adminARN,
			profiles.KeyCredentialSource: profiles.CredentialSourceEc2Metadata,
			profiles.KeyMFASerial:        bobSerial,
		}}
		_, err := h.p.Retrieve(context.Background(), Request{Target: "ambient"}, ps)
		require.NoError(t, err)
		require.Len(t, h.roles.assumeCalls, 1)
		ar := h.roles.assumeCalls[0]
		assert.True(t, ar.Identity.IsSentinel())
		assert.Equal(t, bobSerial, ar.MFASerial)
		assert.Empty(t, h.roles.sessionCalls)
	})

	t.Run("user with MFA", func(t *testing.T) {
		h := newHarness(t, Options{})
		ps := profiles.Profiles{"bob": bobAndAdmin()["bob"].With(profiles.KeyMFASerial, bobSerial)}
		creds, err := h.p.Retrieve(context.Background(), Request{Target: "bob"}, ps)
		require.NoError(t, err)
		assert.Equal(t, "ASIASESSION1", creds.AccessKeyID)
		assert.Empty(t, h.roles.assumeCalls)
	})

	t.Run("user with credential_source", func(t *testing.T) {
		h := newHarness(t, Options{})
		ps := profiles.Profiles{"env": {
			profiles.KeyCredentialSource: profiles.CredentialSourceEnvironment,
			profiles.KeyRegion:           "ap-south-1",
		}}
		creds, err := h.p.Retrieve(context.Background(), Request{Target: "env"}, ps)
		require.NoError(t, err)
		assert.True(t, creds.IsSentinel())
		assert.Equal(t, profiles.CredentialSourceEnvironment, creds.CredentialSource)
		assert.Equal(t, "ap-south-1", creds.Region)
	})

	t.Run("plain user", func(t *testing.T) {
		h := newHarness(t, Options{})
		creds, err := h.p.Retrieve(context.Background(), Request{Target: "bob"}, bobAndAdmin())
		require.NoError(t, err)
		assert.Equal(t, awscreds.Creds{AccessKeyID: "AKIA1", SecretAccessKey: "S1"}, creds)
		assert.Empty(t, h.roles.sessionCalls)
		assert.Empty(t, h.roles.assumeCalls)
	})

	t.Run("role chained through roles", func(t *testing.T) {
		h := newHarness(t, Options{})
		ps := bobAndAdmin()
		delete(ps["admin"], profiles.KeyMFASerial)
		ps["top"] = profiles.Profile{profiles.KeyRoleARN: readOnlyARN, profiles.KeySourceProfile: "admin"}

		creds, err := h.p.Retrieve(context.Background(), Request{Target: "top", SessionName: "me"}, ps)
		require.NoError(t, err)
		require.Len(t, h.roles.assumeCalls, 2)
		assert.Equal(t, "ASIAROLE1", h.roles.assumeCalls[1].Identity.AccessKeyID)
		assert.Equal(t, "admin", h.roles.assumeCalls[0].SessionName, "override only applies to the target")
		assert.Equal(t, "me", h.roles.assumeCalls[1].SessionName)
		assert.True(t, creds.SourceExpiration.Equal(testNow.Add(time.Hour)))
	})
}

func TestRetrieveCredentialProcess(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	runner := mock_credprocess.NewMockRunner(ctrl)
	h := newHarness(t, Options{Runner: runner})
	ps := profiles.Profiles{"proc": {profiles.KeyCredentialProcess: "get-creds --team infra"}}

	runner.EXPECT().
		Run(gomock.Any(), []string{"get-creds", "--team", "infra"}).
		Return([]byte(`{"Version":1,"AccessKeyId":"AKIAPROC","SecretAccessKey":"S"}`), nil)
	creds, err := h.p.Retrieve(context.Background(), Request{Target: "proc"}, ps)
	require.NoError(t, err)
	assert.Equal(t, "AKIAPROC", creds.AccessKeyID)
	assert.False(t, creds.HasExpiration())

	runner.EXPECT().Run(gomock.Any(), gomock.Any()).Return(nil, errors.New("exit status 2"))
	_, err = h.p.Retrieve(context.Background(), Request{Target: "proc"}, ps)
	var noCreds *NoCredentialsError
	require.True(t, xerrors.As(err, &noCreds))
	assert.Equal(t, "proc", noCreds.Profile)

	runner.EXPECT().Run(gomock.Any(), gomock.Any()).Return([]byte(""), nil)
	_, err = h.p.Retrieve(context.Background(), Request{Target: "proc"}, ps)
	require.True(t, xerrors.As(err, &noCreds))
}

func TestRetrieveErrors(t *testing.T) {
	t.Run("session token failure", func(t *testing.T) {
		h := newHarness(t, Options{})
		h.roles.sessionErr = awserr.New("AccessDenied", "MultiFactorAuthentication failed with invalid MFA one time pass code.", nil)

		_, err := h.p.Retrieve(context.Background(), Request{Target: "admin"}, bobAndAdmin())
		var userErr *UserAuthenticationError
		require.True(t, xerrors.As(err, &userErr))
		assert.Contains(t, err.Error(), "AccessDenied: MultiFactorAuthentication failed with invalid MFA one time pass code.")
		assert.Empty(t, h.roles.assumeCalls, "no partial result")
	})

	t.Run("assume role failure", func(t *testing.T) {
		h := newHarness(t, Options{})
		h.roles.assumeErr = errors.New("not authorized to perform sts:AssumeRole")

		_, err := h.p.Retrieve(context.Background(), Request{Target: "admin"}, bobAndAdmin())
		var roleErr *RoleAuthenticationError
		require.True(t, xerrors.As(err, &roleErr))
		assert.Equal(t, adminARN, roleErr.RoleARN)
		assert.Contains(t, err.Error(), "not authorized to perform sts:AssumeRole")
	})

	t.Run("missing MFA source", func(t *testing.T) {
		p, err := New(Options{Roles: &fakeRoles{}})
		require.NoError(t, err)
		_, err = p.Retrieve(context.Background(), Request{Target: "admin"}, bobAndAdmin())
		assert.True(t, xerrors.Is(err, ErrMFATokenRequired))
	})

	t.Run("validation happens before any remote call", func(t *testing.T) {
		h := newHarness(t, Options{})
		ps := bobAndAdmin()
		ps["admin"] = ps["admin"].With(profiles.KeyCredentialSource, profiles.CredentialSourceEnvironment)

		_, err := h.p.Retrieve(context.Background(), Request{Target: "admin"}, ps)
		var invalid *profiles.InvalidProfileError
		require.True(t, xerrors.As(err, &invalid))
		assert.Empty(t, h.roles.sessionCalls)
		assert.Empty(t, h.roles.assumeCalls)
		assert.Empty(t, h.prompts)
	})

	t.Run("request validation", func(t *testing.T) {
		h := newHarness(t, Options{})
		for _, req := range []Request{
			{Target: "admin", RoleDuration: 13 * time.Hour},
			{Target: "admin", RoleDuration: -time.Second},
			{Target: "admin", SourceProfile: "bob"},
			{RoleARN: "12345:Admin"},
		} {
			_, err := h.p.Retrieve(context.Background(), req, bobAndAdmin())
			var verr *ValidationError
			assert.True(t, xerrors.As(err, &verr), "%+v: %v", req, err)
		}
	})
}

func TestRetrieveRoleARN(t *testing.T) {
	t.Run("ambient credentials", func(t *testing.T) {
		h := newHarness(t, Options{})
		_, err := h.p.Retrieve(context.Background(), Request{RoleARN: "123456789012:Admin"}, bobAndAdmin())
		require.NoError(t, err)

		require.Len(t, h.roles.assumeCalls, 1)
		ar := h.roles.assumeCalls[0]
		assert.Equal(t, adminARN, ar.RoleARN)
		assert.Equal(t, CLIRoleSessionName, ar.SessionName)
		assert.True(t, ar.Identity.IsSentinel())
	})

	t.Run("from a source profile with MFA", func(t *testing.T) {
		h := newHarness(t, Options{})
		ps := bobAndAdmin()
		ps["bob"] = ps["bob"].With(profiles.KeyMFASerial, bobSerial).With(profiles.KeyRegion, "us-west-2")

		creds, err := h.p.Retrieve(context.Background(), Request{
			RoleARN:       readOnlyARN,
			SourceProfile: "bob",
			SessionName:   "ops",
			ExternalID:    "ext",
		}, ps)
		require.NoError(t, err)

		require.Len(t, h.roles.sessionCalls, 1)
		require.Len(t, h.roles.assumeCalls, 1)
		ar := h.roles.assumeCalls[0]
		assert.Equal(t, "ops", ar.SessionName)
		assert.Equal(t, "ext", ar.ExternalID)
		assert.Equal(t, "us-west-2", ar.Region)
		assert.Equal(t, "us-west-2", creds.Region)
		_, ok := ps[readOnlyARN]
		assert.False(t, ok, "loaded profiles are not modified")
	})

	t.Run("unknown source profile", func(t *testing.T) {
		h := newHarness(t, Options{})
		_, err := h.p.Retrieve(context.Background(), Request{RoleARN: readOnlyARN, SourceProfile: "nobody"}, bobAndAdmin())
		var nf *profiles.NotFoundError
		require.True(t, xerrors.As(err, &nf))
	})
}

func TestRetrieveRegion(t *testing.T) {
	ps := bobAndAdmin()
	delete(ps["admin"], profiles.KeyMFASerial)
	ps["bob"] = ps["bob"].With(profiles.KeyRegion, "us-west-2")
	ps[profiles.DefaultProfile] = profiles.Profile{profiles.KeyRegion: "us-east-1"}

	h := newHarness(t, Options{})
	creds, err := h.p.Retrieve(context.Background(), Request{Target: "admin"}, ps)
	require.NoError(t, err)
	assert.Equal(t, "us-west-2", creds.Region)
	assert.Equal(t, "us-west-2", h.roles.assumeCalls[0].Region)
}

func TestRun(t *testing.T) {
	ps := bobAndAdmin()
	delete(ps["admin"], profiles.KeyMFASerial)

	t.Run("resolved", func(t *testing.T) {
		var seen []string
		h := newHarness(t, Options{})
		h.p.Hooks.Register(Hook{
			Name: "recorder",
			PostCollectProfiles: func(context.Context, Request, profiles.Profiles) (*EarlyExit, error) {
				seen = append(seen, "post-collect")
				return nil, nil
			},
			PreGetCredentials: func(context.Context, Request, profiles.Profiles) (*EarlyExit, error) {
				seen = append(seen, "pre-get")
				return nil, nil
			},
			PostGetCredentials: func(_ context.Context, _ Request, creds awscreds.Creds) error {
				seen = append(seen, "post-get "+creds.AccessKeyID)
				return nil
			},
		})

		res, err := h.p.Run(context.Background(), Request{Target: "admin"}, ps)
		require.NoError(t, err)
		resolved, ok := res.(*Resolved)
		require.True(t, ok)
		assert.Equal(t, "ASIAROLE1", resolved.Creds.AccessKeyID)
		assert.Equal(t, []string{"post-collect", "pre-get", "post-get ASIAROLE1"}, seen)
	})

	t.Run("first early exit wins", func(t *testing.T) {
		h := newHarness(t, Options{})
		exitWith := func(reason string) func(context.Context, Request, profiles.Profiles) (*EarlyExit, error) {
			return func(context.Context, Request, profiles.Profiles) (*EarlyExit, error) {
				return &EarlyExit{Reason: reason}, nil
			}
		}
		h.p.Hooks.Register(Hook{Name: "first", PreGetCredentials: exitWith("first")})
		h.p.Hooks.Register(Hook{Name: "second", PreGetCredentials: exitWith("second")})
		assert.Equal(t, []string{"first", "second"}, h.p.Hooks.Names())

		res, err := h.p.Run(context.Background(), Request{Target: "admin"}, ps)
		require.NoError(t, err)
		exit, ok := res.(*EarlyExit)
		require.True(t, ok)
		assert.Equal(t, "first", exit.Reason)
		assert.Empty(t, h.roles.assumeCalls)
	})

	t.Run("catch error", func(t *testing.T) {
		h := newHarness(t, Options{})
		wrapped := errors.New("wrapped")
		var caught error
		h.p.Hooks.Register(Hook{Name: "observer", CatchError: func(_ context.Context, _ Request, err error) error {
			caught = err
			return nil
		}})
		h.p.Hooks.Register(Hook{Name: "rewriter", CatchError: func(context.Context, Request, error) error {
			return wrapped
		}})

		_, err := h.p.Run(context.Background(), Request{Target: "nobody"}, ps)
		assert.Equal(t, wrapped, err)
		var nf *profiles.NotFoundError
		assert.True(t, xerrors.As(caught, &nf))
	})
}

func TestNewValidatesOptions(t *testing.T) {
	_, err := New(Options{DefaultRoleDuration: 24 * time.Hour})
	assert.Error(t, err)
}
