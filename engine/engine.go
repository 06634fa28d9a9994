// Package engine manages durable per-tenant stacks and drives the
// declarative provisioning engine over them. The stack layer owns
// dependency ordering, physical-name minting, and per-resource state
// records; the per-resource reconcile logic (diffing desired against live
// provider state) belongs to the external Runner collaborator.
package engine

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"

	"github.com/printworks/tenant-infra/graph"
)

// ChangeKind classifies what the runner did to a resource.
type ChangeKind string

const (
	ChangeCreate ChangeKind = "create"
	ChangeUpdate ChangeKind = "update"
	ChangeSame   ChangeKind = "same"
	ChangeDelete ChangeKind = "delete"
)

// ConfigValue is a stack configuration entry. Secret values are withheld
// from logs and output callbacks.
type ConfigValue struct {
	Value  string `json:"value"`
	Secret bool   `json:"secret"`
}

// ResourceOp is the unit of work handed to the runner: one node, its
// resolved physical name, the stack configuration, and the credentials
// the engine should act under.
type ResourceOp struct {
	Project      string
	Stack        string
	Node         *graph.Node
	PhysicalName string
	StackConfig  map[string]ConfigValue
	Credentials  aws.Credentials
}

// ApplyResult reports the outcome of reconciling one resource.
type ApplyResult struct {
	Change  ChangeKind
	Outputs map[string]any
}

// Runner reconciles individual resources against real-world provider
// state. It is an external collaborator: implementations decide whether a
// resource needs create, update, or nothing, and perform the provider
// calls. "Already exists" on a shared precondition resource is success,
// not failure.
type Runner interface {
	Apply(ctx context.Context, op ResourceOp) (*ApplyResult, error)
	Destroy(ctx context.Context, op ResourceOp) error
}

// CertificateWaiter blocks until a just-applied certificate is issued.
// Satisfied by certwait.Waiter.
type CertificateWaiter interface {
	WaitIssued(ctx context.Context, certificateARN string) error
}

// Summary aggregates resource change counts for one stack operation.
type Summary struct {
	ResourceChanges map[string]int `json:"resourceChanges"`
}

// UpResult is returned by Stack.Up.
type UpResult struct {
	Summary Summary `json:"summary"`
}

// DestroyResult is returned by Stack.Destroy.
type DestroyResult struct {
	Summary Summary `json:"summary"`
}

// UpOptions configures a reconcile-to-match operation.
type UpOptions struct {
	// Credentials are the provisioning-scoped session credentials the
	// runner acts under.
	Credentials aws.Credentials

	// OnOutput, when set, receives human-readable progress lines.
	OnOutput func(line string)
}

// DestroyOptions configures a teardown operation.
type DestroyOptions struct {
	Credentials aws.Credentials
	OnOutput    func(line string)
}
