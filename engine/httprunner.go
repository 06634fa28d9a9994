package engine

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/printworks/tenant-infra/graph"
)

// reconcileRequest is the wire shape of one resource operation sent to
// the reconciler service.
type reconcileRequest struct {
	Project      string                 `json:"project"`
	Stack        string                 `json:"stack"`
	Kind         graph.Kind             `json:"kind"`
	LogicalName  string                 `json:"logicalName"`
	PhysicalName string                 `json:"physicalName,omitempty"`
	Config       map[string]any         `json:"config,omitempty"`
	DependsOn    []string               `json:"dependsOn,omitempty"`
	Parent       string                 `json:"parent,omitempty"`
	StackConfig  map[string]ConfigValue `json:"stackConfig,omitempty"`
}

// reconcileResponse is the reconciler's answer for an apply.
type reconcileResponse struct {
	Change  ChangeKind     `json:"change"`
	Outputs map[string]any `json:"outputs,omitempty"`
}

// HTTPRunner drives the external reconciler service over HTTP. Requests
// are SigV4 signed with the op's provisioning credentials, so the
// reconciler both authenticates the caller and assumes the same role to
// act in the tenant account.
type HTTPRunner struct {
	endpoint   string
	region     string
	httpClient *http.Client
	signer     *v4.Signer
	now        func() time.Time
}

// signingService is the service namespace the reconciler's IAM
// authorizer validates against.
const signingService = "execute-api"

// NewHTTPRunner creates a runner for the reconciler at the given base
// URL (e.g. "https://reconciler.internal.example.com") in the given
// signing region.
func NewHTTPRunner(endpoint, region string, httpClient *http.Client) *HTTPRunner {
	if httpClient == nil {
		httpClient = &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			Timeout:   2 * time.Minute,
		}
	}
	return &HTTPRunner{
		endpoint:   endpoint,
		region:     region,
		httpClient: httpClient,
		signer:     v4.NewSigner(),
		now:        time.Now,
	}
}

// Apply asks the reconciler to bring one resource in line with its
// declared config.
func (r *HTTPRunner) Apply(ctx context.Context, op ResourceOp) (*ApplyResult, error) {
	var resp reconcileResponse
	if err := r.post(ctx, "/v1/resources/apply", op, &resp); err != nil {
		return nil, err
	}
	return &ApplyResult{Change: resp.Change, Outputs: resp.Outputs}, nil
}

// Destroy asks the reconciler to remove one resource.
func (r *HTTPRunner) Destroy(ctx context.Context, op ResourceOp) error {
	return r.post(ctx, "/v1/resources/destroy", op, nil)
}

func (r *HTTPRunner) post(ctx context.Context, path string, op ResourceOp, out any) error {
	body, err := json.Marshal(reconcileRequest{
		Project:      op.Project,
		Stack:        op.Stack,
		Kind:         op.Node.Kind,
		LogicalName:  op.Node.LogicalName,
		PhysicalName: op.PhysicalName,
		Config:       op.Node.Config,
		DependsOn:    op.Node.DependsOn,
		Parent:       op.Node.Parent,
		StackConfig:  op.StackConfig,
	})
	if err != nil {
		return fmt.Errorf("encode reconcile request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build reconcile request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	payloadHash := sha256.Sum256(body)
	if err := r.signer.SignHTTP(ctx, op.Credentials, req,
		hex.EncodeToString(payloadHash[:]), signingService, r.region, r.now()); err != nil {
		return fmt.Errorf("sign reconcile request: %w", err)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call reconciler: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("reconciler returned status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode reconcile response: %w", err)
	}
	return nil
}

var _ Runner = (*HTTPRunner)(nil)
