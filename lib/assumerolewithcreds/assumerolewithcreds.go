// Package assumerolewithcreds talks to STS on behalf of an identity: it gets
// session tokens and assumes roles.
package assumerolewithcreds

import (
	"context"
	"sort"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	awssession "github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/sts"
	"github.com/aws/aws-sdk-go/service/sts/stsiface"
	log "github.com/sirupsen/logrus"

	"github.com/segmentio/aws-assume/lib/awscreds"
)

// DefaultRegion is used for the STS endpoint when nothing else is configured.
const DefaultRegion = "us-east-1"

// Service is the remote role service.
type Service interface {
	GetSessionToken(ctx context.Context, in SessionTokenInput) (awscreds.Creds, error)
	AssumeRole(ctx context.Context, in AssumeRoleInput) (awscreds.Creds, error)
}

// ClientFactory builds an STS client acting as identity.
type ClientFactory func(identity awscreds.Creds, region string) (stsiface.STSAPI, error)

// STS implements Service with aws-sdk-go.
type STS struct {
	NewClient ClientFactory
}

func New() *STS {
	return &STS{NewClient: NewClient}
}

// NewClient authenticates with identity's keys. A credential_source sentinel,
// or an empty identity, uses the SDK's default credential chain.
func NewClient(identity awscreds.Creds, region string) (stsiface.STSAPI, error) {
	if region == "" {
		region = DefaultRegion
	}
	cfg := &aws.Config{Region: aws.String(region)}
	if identity.AccessKeyID != "" {
		cfg.Credentials = credentials.NewStaticCredentials(
			identity.AccessKeyID,
			identity.SecretAccessKey,
			identity.SessionToken,
		)
	}
	sess, err := awssession.NewSession(cfg)
	if err != nil {
		return nil, err
	}
	return sts.New(sess), nil
}

func (s *STS) client(identity awscreds.Creds, region string) (stsiface.STSAPI, error) {
	f := s.NewClient
	if f == nil {
		f = NewClient
	}
	return f(identity, region)
}

func (s *STS) GetSessionToken(ctx context.Context, in SessionTokenInput) (awscreds.Creds, error) {
	if err := in.Validate(); err != nil {
		return awscreds.Creds{}, err
	}
	cl, err := s.client(in.Identity, in.Region)
	if err != nil {
		return awscreds.Creds{}, err
	}

	input := &sts.GetSessionTokenInput{}
	if in.Duration != 0 {
		input.DurationSeconds = aws.Int64(int64(in.Duration.Seconds()))
	}
	if in.MFASerial != "" {
		input.SerialNumber = aws.String(in.MFASerial)
		input.TokenCode = aws.String(in.MFAToken)
	}

	log.Debugf("getting session token for ...%s", in.Identity.ShortKey())
	resp, err := cl.GetSessionTokenWithContext(ctx, input)
	if err != nil {
		return awscreds.Creds{}, err
	}
	return awscreds.FromSTS(resp.Credentials, in.Region), nil
}

func (s *STS) AssumeRole(ctx context.Context, in AssumeRoleInput) (awscreds.Creds, error) {
	if err := in.Validate(); err != nil {
		return awscreds.Creds{}, err
	}
	cl, err := s.client(in.Identity, in.Region)
	if err != nil {
		return awscreds.Creds{}, err
	}

	input := &sts.AssumeRoleInput{
		RoleArn:         aws.String(in.RoleARN),
		RoleSessionName: aws.String(in.SessionName),
	}
	if in.ExternalID != "" {
		input.ExternalId = aws.String(in.ExternalID)
	}
	if in.Duration != 0 {
		input.DurationSeconds = aws.Int64(int64(in.Duration.Seconds()))
	}
	if in.MFASerial != "" {
		input.SerialNumber = aws.String(in.MFASerial)
		input.TokenCode = aws.String(in.MFAToken)
	}
	if len(in.Tags) > 0 {
		keys := make([]string, 0, len(in.Tags))
		for k := range in.Tags {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			input.Tags = append(input.Tags, &sts.Tag{Key: aws.String(k), Value: aws.String(in.Tags[k])})
		}
	}

	log.Debugf("assuming role %s as %s", in.RoleARN, in.SessionName)
	resp, err := cl.AssumeRoleWithContext(ctx, input)
	if err != nil {
		return awscreds.Creds{}, err
	}
	return awscreds.FromSTS(resp.Credentials, in.Region), nil
}
