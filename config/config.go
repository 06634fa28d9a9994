// Package config resolves environment-injected resource descriptors into
// typed lookup structures. Each descriptor arrives as a JSON blob in a
// RESOURCE_<Name> environment variable, bound at deploy time. Descriptors
// are resolved once at startup; a missing required descriptor or field is
// a fatal startup error, never a runtime lookup failure.
package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// EnvPrefix is prepended to descriptor names to form environment
// variable keys.
const EnvPrefix = "RESOURCE_"

// AppData identifies the application and deployment stage.
type AppData struct {
	Name       string     `json:"name"`
	Stage      string     `json:"stage"`
	DomainName DomainName `json:"domainName"`
}

// DomainName carries the apex zone and its fully qualified form for the
// current stage.
type DomainName struct {
	Value          string `json:"value"`
	FullyQualified string `json:"fullyQualified"`
}

// IsProduction reports whether the stage is the production stage. It
// gates destructive cleanup such as stack state removal.
func (a AppData) IsProduction() bool {
	return a.Stage == "production"
}

// AWS holds account-level AWS descriptors.
type AWS struct {
	Region    string `json:"region"`
	AccountID string `json:"accountId"`
}

// Role is a descriptor for an assumable IAM role.
type Role struct {
	ARN string `json:"arn"`
}

// Secret is a descriptor whose value is sensitive.
type Secret struct {
	Value string `json:"value"`
}

// Bucket is a descriptor for an S3 bucket.
type Bucket struct {
	Name string `json:"name"`
}

// Queue is a descriptor for an SQS queue.
type Queue struct {
	URL string `json:"url"`
	ARN string `json:"arn"`
}

// Function is a descriptor for a deployed function another component
// targets or invokes.
type Function struct {
	Name    string `json:"name"`
	ARN     string `json:"arn"`
	RoleARN string `json:"roleArn"`
}

// Domains lists service endpoints by purpose.
type Domains struct {
	Realtime string `json:"realtime"`
}

// NameTemplate is a logical-name template containing the tenant
// placeholder token.
type NameTemplate struct {
	NameTemplate string `json:"nameTemplate"`
}

// TenantRoles groups the per-tenant IAM role name templates.
type TenantRoles struct {
	BucketsAccess     NameTemplate `json:"bucketsAccess"`
	PutParameters     NameTemplate `json:"putParameters"`
	RealtimePublisher NameTemplate `json:"realtimePublisher"`
	RealtimeSubscriber NameTemplate `json:"realtimeSubscriber"`
}

// TenantDomains groups the per-tenant domain name templates.
type TenantDomains struct {
	API      NameTemplate `json:"api"`
	CDN      NameTemplate `json:"cdn"`
	Storage  NameTemplate `json:"storage"`
	Realtime NameTemplate `json:"realtime"`
}

// TenantParameters groups the per-tenant SSM parameter name templates.
type TenantParameters struct {
	DocumentsMimeTypes      NameTemplate `json:"documentsMimeTypes"`
	DocumentsSizeLimit      NameTemplate `json:"documentsSizeLimit"`
	TailnetPapercutServerURI NameTemplate `json:"tailnetPapercutServerUri"`
	PapercutServerAuthToken NameTemplate `json:"papercutServerAuthToken"`
	TailscaleOauthClient    NameTemplate `json:"tailscaleOauthClient"`
}

// Resources is the full set of resolved descriptors consumed by the
// provisioning service.
type Resources struct {
	AppData                 AppData
	AWS                     AWS
	Domains                 Domains
	StateBucket             Bucket
	InfraQueue              Queue
	ProvisionRole           Role
	ProvisionRoleExternalID Secret
	RealtimeRole            Role
	DNSAPIToken             Secret
	TenantRoles             TenantRoles
	TenantDomains           TenantDomains
	TenantParameters        TenantParameters
	PapercutSync            Function
	InvoicesProcessor       Function
	APIFunction             Function
}

// Load resolves all descriptors from the process environment.
func Load() (*Resources, error) {
	return LoadEnv(os.LookupEnv)
}

// LoadEnv resolves all descriptors using the given lookup function.
func LoadEnv(lookup func(string) (string, bool)) (*Resources, error) {
	var res Resources

	required := []struct {
		name string
		dst  any
	}{
		{"AppData", &res.AppData},
		{"Aws", &res.AWS},
		{"Domains", &res.Domains},
		{"StateBucket", &res.StateBucket},
		{"InfraQueue", &res.InfraQueue},
		{"ProvisionRole", &res.ProvisionRole},
		{"ProvisionRoleExternalId", &res.ProvisionRoleExternalID},
		{"RealtimeRole", &res.RealtimeRole},
		{"DnsApiToken", &res.DNSAPIToken},
		{"TenantRoles", &res.TenantRoles},
		{"TenantDomains", &res.TenantDomains},
		{"TenantParameters", &res.TenantParameters},
		{"PapercutSync", &res.PapercutSync},
		{"InvoicesProcessor", &res.InvoicesProcessor},
		{"ApiFunction", &res.APIFunction},
	}

	for _, d := range required {
		raw, ok := lookup(EnvPrefix + d.name)
		if !ok || raw == "" {
			return nil, fmt.Errorf("missing resource descriptor %s%s", EnvPrefix, d.name)
		}
		if err := json.Unmarshal([]byte(raw), d.dst); err != nil {
			return nil, fmt.Errorf("decode resource descriptor %s%s: %w", EnvPrefix, d.name, err)
		}
	}

	if err := res.validate(); err != nil {
		return nil, err
	}
	return &res, nil
}

// validate checks the fields every component depends on.
func (r *Resources) validate() error {
	checks := []struct {
		field string
		value string
	}{
		{"AppData.name", r.AppData.Name},
		{"AppData.stage", r.AppData.Stage},
		{"AppData.domainName.value", r.AppData.DomainName.Value},
		{"AppData.domainName.fullyQualified", r.AppData.DomainName.FullyQualified},
		{"Aws.region", r.AWS.Region},
		{"Aws.accountId", r.AWS.AccountID},
		{"Domains.realtime", r.Domains.Realtime},
		{"StateBucket.name", r.StateBucket.Name},
		{"InfraQueue.url", r.InfraQueue.URL},
		{"ProvisionRole.arn", r.ProvisionRole.ARN},
		{"ProvisionRoleExternalId.value", r.ProvisionRoleExternalID.Value},
		{"RealtimeRole.arn", r.RealtimeRole.ARN},
		{"DnsApiToken.value", r.DNSAPIToken.Value},
		{"PapercutSync.arn", r.PapercutSync.ARN},
		{"PapercutSync.name", r.PapercutSync.Name},
		{"InvoicesProcessor.name", r.InvoicesProcessor.Name},
		{"ApiFunction.roleArn", r.APIFunction.RoleARN},
	}
	for _, c := range checks {
		if c.value == "" {
			return fmt.Errorf("resource descriptor field %s is empty", c.field)
		}
	}
	return nil
}
