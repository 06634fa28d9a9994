// Package creds exchanges long-lived role ARNs for short-lived,
// purpose-scoped session credentials. Credentials are obtained fresh per
// use and never cached; expiry is enforced by STS, not tracked here.
package creds

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sts"
)

// Purpose narrows a credential to a single use. Provisioning and realtime
// publishing assume different roles and are never interchangeable.
type Purpose string

const (
	// PurposeProvisioning scopes credentials to driving the
	// provisioning engine.
	PurposeProvisioning Purpose = "provisioning"

	// PurposeRealtime scopes credentials to publishing outcome events.
	PurposeRealtime Purpose = "realtime-publish"
)

// maxSessionNameLen is the STS role session name limit.
const maxSessionNameLen = 64

// Broker issues purpose-scoped session credentials.
type Broker interface {
	Credentials(ctx context.Context, purpose Purpose, sessionName string) (aws.Credentials, error)
}

// STSClient defines the STS operations used by the broker.
type STSClient interface {
	AssumeRole(ctx context.Context, params *sts.AssumeRoleInput, optFns ...func(*sts.Options)) (*sts.AssumeRoleOutput, error)
}

// RoleSpec names an assumable role and the external id it requires.
type RoleSpec struct {
	ARN        string
	ExternalID string
}

// STSBroker implements Broker with STS AssumeRole. A failed exchange is
// fatal to the calling operation; the broker does not retry.
type STSBroker struct {
	client STSClient
	roles  map[Purpose]RoleSpec
}

// NewSTSBroker creates a broker for the given purpose-to-role mapping.
func NewSTSBroker(client STSClient, roles map[Purpose]RoleSpec) *STSBroker {
	return &STSBroker{client: client, roles: roles}
}

// Credentials exchanges the role configured for purpose into a session
// credential triple.
func (b *STSBroker) Credentials(ctx context.Context, purpose Purpose, sessionName string) (aws.Credentials, error) {
	role, ok := b.roles[purpose]
	if !ok {
		return aws.Credentials{}, fmt.Errorf("no role configured for purpose %q", purpose)
	}

	if len(sessionName) > maxSessionNameLen {
		sessionName = sessionName[:maxSessionNameLen]
	}

	input := &sts.AssumeRoleInput{
		RoleArn:         aws.String(role.ARN),
		RoleSessionName: aws.String(sessionName),
	}
	if role.ExternalID != "" {
		input.ExternalId = aws.String(role.ExternalID)
	}

	out, err := b.client.AssumeRole(ctx, input)
	if err != nil {
		return aws.Credentials{}, fmt.Errorf("assume role for %s: %w", purpose, err)
	}
	if out.Credentials == nil {
		return aws.Credentials{}, fmt.Errorf("assume role for %s: response carried no credentials", purpose)
	}

	creds := aws.Credentials{
		AccessKeyID:     aws.ToString(out.Credentials.AccessKeyId),
		SecretAccessKey: aws.ToString(out.Credentials.SecretAccessKey),
		SessionToken:    aws.ToString(out.Credentials.SessionToken),
		Source:          "STSBroker",
	}
	if out.Credentials.Expiration != nil {
		creds.CanExpire = true
		creds.Expires = *out.Credentials.Expiration
	}
	return creds, nil
}

var _ Broker = (*STSBroker)(nil)
var _ STSClient = (*sts.Client)(nil)
