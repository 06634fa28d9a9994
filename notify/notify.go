// Package notify publishes provisioning outcome events to the realtime
// event endpoint. Delivery is best effort: the orchestrator logs a failed
// publish and moves on, so nothing here may panic or block indefinitely.
package notify

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

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
)

// signingService is the service namespace the realtime endpoint signs
// requests against.
const signingService = "appsync"

// OutcomeEvent is the signal published after a provisioning attempt.
type OutcomeEvent struct {
	Kind       string `json:"kind"`
	Success    bool   `json:"success"`
	DispatchID string `json:"dispatchId"`
	Retrying   bool   `json:"retrying"`
}

// KindProvisionResult is the event kind for provisioning outcomes.
const KindProvisionResult = "infra_provision_result"

// Error reports a failed publish: either a transport error or a non-2xx
// response from the realtime endpoint.
type Error struct {
	StatusCode int
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("publish realtime event: %v", e.Err)
	}
	return fmt.Sprintf("publish realtime event: endpoint returned status %d", e.StatusCode)
}

func (e *Error) Unwrap() error { return e.Err }

// Notifier delivers an outcome event to a realtime channel using the
// given purpose-scoped credentials.
type Notifier interface {
	Notify(ctx context.Context, channel string, event OutcomeEvent, credentials aws.Credentials) error
}

// eventBatch is the wire shape of a publish request. Events are
// individually JSON-encoded strings.
type eventBatch struct {
	Channel string   `json:"channel"`
	Events  []string `json:"events"`
}

// RealtimeNotifier signs and posts single-event batches to the realtime
// ingestion endpoint.
type RealtimeNotifier struct {
	endpoint   string
	region     string
	httpClient *http.Client
	signer     *v4.Signer
	now        func() time.Time
}

// NewRealtimeNotifier creates a notifier for the given endpoint host
// (e.g. "realtime.dev.example.com") in the given signing region.
func NewRealtimeNotifier(endpoint, region string, httpClient *http.Client) *RealtimeNotifier {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &RealtimeNotifier{
		endpoint:   endpoint,
		region:     region,
		httpClient: httpClient,
		signer:     v4.NewSigner(),
		now:        time.Now,
	}
}

// Notify publishes the event to the channel. Any transport failure or
// non-2xx response is returned as a *Error.
func (n *RealtimeNotifier) Notify(ctx context.Context, channel string, event OutcomeEvent, credentials aws.Credentials) error {
	encoded, err := json.Marshal(event)
	if err != nil {
		return &Error{Err: fmt.Errorf("encode event: %w", err)}
	}

	body, err := json.Marshal(eventBatch{
		Channel: channel,
		Events:  []string{string(encoded)},
	})
	if err != nil {
		return &Error{Err: fmt.Errorf("encode event batch: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		fmt.Sprintf("https://%s/event", n.endpoint), bytes.NewReader(body))
	if err != nil {
		return &Error{Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")

	payloadHash := sha256.Sum256(body)
	if err := n.signer.SignHTTP(ctx, credentials, req,
		hex.EncodeToString(payloadHash[:]), signingService, n.region, n.now()); err != nil {
		return &Error{Err: fmt.Errorf("sign request: %w", err)}
	}

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return &Error{Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &Error{StatusCode: resp.StatusCode}
	}
	return nil
}

var _ Notifier = (*RealtimeNotifier)(nil)
