package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/printworks/tenant-infra/config"
	"github.com/printworks/tenant-infra/creds"
	"github.com/printworks/tenant-infra/engine"
	"github.com/printworks/tenant-infra/graph"
	"github.com/printworks/tenant-infra/notify"
)

type configCall struct {
	key    string
	value  string
	secret bool
}

type fakeStack struct {
	configs    []configCall
	upCalls    int
	upErr      error
	destroyed  int
	destroyErr error
}

func (s *fakeStack) SetConfig(key, value string, secret bool) {
	s.configs = append(s.configs, configCall{key, value, secret})
}

func (s *fakeStack) Up(context.Context, *graph.Graph, engine.UpOptions) (*engine.UpResult, error) {
	s.upCalls++
	if s.upErr != nil {
		return &engine.UpResult{}, s.upErr
	}
	return &engine.UpResult{Summary: engine.Summary{ResourceChanges: map[string]int{"create": 5}}}, nil
}

func (s *fakeStack) Destroy(context.Context, *graph.Graph, engine.DestroyOptions) (*engine.DestroyResult, error) {
	s.destroyed++
	if s.destroyErr != nil {
		return &engine.DestroyResult{}, s.destroyErr
	}
	return &engine.DestroyResult{Summary: engine.Summary{ResourceChanges: map[string]int{"delete": 5}}}, nil
}

type fakeWorkspace struct {
	stack     *fakeStack
	selectErr error
	removed   []string
}

func (w *fakeWorkspace) CreateOrSelectStack(_ context.Context, _, stack string) (Stack, error) {
	if w.selectErr != nil {
		return nil, w.selectErr
	}
	return w.stack, nil
}

func (w *fakeWorkspace) RemoveStack(_ context.Context, _, stack string) error {
	w.removed = append(w.removed, stack)
	return nil
}

type brokerCall struct {
	purpose     creds.Purpose
	sessionName string
}

type fakeBroker struct {
	calls        []brokerCall
	provisionErr error
	realtimeErr  error
}

func (b *fakeBroker) Credentials(_ context.Context, purpose creds.Purpose, sessionName string) (aws.Credentials, error) {
	b.calls = append(b.calls, brokerCall{purpose, sessionName})
	switch purpose {
	case creds.PurposeProvisioning:
		if b.provisionErr != nil {
			return aws.Credentials{}, b.provisionErr
		}
	case creds.PurposeRealtime:
		if b.realtimeErr != nil {
			return aws.Credentials{}, b.realtimeErr
		}
	}
	return aws.Credentials{AccessKeyID: "AKID"}, nil
}

type fakeNotifier struct {
	events   []notify.OutcomeEvent
	channels []string
	err      error
}

func (n *fakeNotifier) Notify(_ context.Context, channel string, event notify.OutcomeEvent, _ aws.Credentials) error {
	n.channels = append(n.channels, channel)
	n.events = append(n.events, event)
	return n.err
}

func testResources() *config.Resources {
	nt := func(t string) config.NameTemplate { return config.NameTemplate{NameTemplate: t} }
	return &config.Resources{
		AppData: config.AppData{
			Name:  "printdesk",
			Stage: "dev",
			DomainName: config.DomainName{
				Value:          "printdesk.app",
				FullyQualified: "dev.printdesk.app",
			},
		},
		AWS:                     config.AWS{Region: "us-east-2", AccountID: "123456789012"},
		Domains:                 config.Domains{Realtime: "realtime.dev.printdesk.app"},
		ProvisionRole:           config.Role{ARN: "arn:aws:iam::123456789012:role/provision"},
		ProvisionRoleExternalID: config.Secret{Value: "external-id"},
		RealtimeRole:            config.Role{ARN: "arn:aws:iam::123456789012:role/realtime"},
		DNSAPIToken:             config.Secret{Value: "dns-token"},
		TenantRoles: config.TenantRoles{
			BucketsAccess:      nt("{{tenant_id}}-buckets-access"),
			PutParameters:      nt("{{tenant_id}}-put-parameters"),
			RealtimePublisher:  nt("{{tenant_id}}-realtime-publisher"),
			RealtimeSubscriber: nt("{{tenant_id}}-realtime-subscriber"),
		},
		TenantDomains: config.TenantDomains{
			API:      nt("{{tenant_id}}.api.dev.printdesk.app"),
			CDN:      nt("{{tenant_id}}.dev.printdesk.app"),
			Storage:  nt("{{tenant_id}}.storage.dev.printdesk.app"),
			Realtime: nt("{{tenant_id}}.realtime.dev.printdesk.app"),
		},
		TenantParameters: config.TenantParameters{
			DocumentsMimeTypes:       nt("/{{tenant_id}}/documents/mime-types"),
			DocumentsSizeLimit:       nt("/{{tenant_id}}/documents/size-limit"),
			TailnetPapercutServerURI: nt("/{{tenant_id}}/tailnet/papercut-uri"),
			PapercutServerAuthToken:  nt("/{{tenant_id}}/papercut/auth-token"),
			TailscaleOauthClient:     nt("/{{tenant_id}}/tailscale/oauth"),
		},
		PapercutSync: config.Function{
			Name:    "papercut-sync",
			ARN:     "arn:aws:lambda:us-east-2:123456789012:function:papercut-sync",
			RoleARN: "arn:aws:iam::123456789012:role/papercut-sync",
		},
		InvoicesProcessor: config.Function{
			Name: "invoices-processor",
			ARN:  "arn:aws:lambda:us-east-2:123456789012:function:invoices-processor",
		},
		APIFunction: config.Function{
			Name:    "tenant-api",
			ARN:     "arn:aws:lambda:us-east-2:123456789012:function:tenant-api",
			RoleARN: "arn:aws:iam::123456789012:role/tenant-api",
		},
	}
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

type fixture struct {
	orchestrator *Orchestrator
	workspace    *fakeWorkspace
	stack        *fakeStack
	broker       *fakeBroker
	notifier     *fakeNotifier
}

func newFixture(res *config.Resources) *fixture {
	stack := &fakeStack{}
	workspace := &fakeWorkspace{stack: stack}
	broker := &fakeBroker{}
	notifier := &fakeNotifier{}
	return &fixture{
		orchestrator: New(res, workspace, broker, notifier, Options{Logger: testLogger()}),
		workspace:    workspace,
		stack:        stack,
		broker:       broker,
		notifier:     notifier,
	}
}

func testRequest() Request {
	return Request{TenantID: "tenant-1", SyncSchedule: "0 8 * * ? *", Timezone: "UTC"}
}

func testDelivery() Delivery {
	return Delivery{MessageID: "msg-1", ReceiveCount: 1}
}

func TestHandleSuccessNotifies(t *testing.T) {
	f := newFixture(testResources())

	err := f.orchestrator.Handle(context.Background(), testRequest(), testDelivery())
	require.NoError(t, err)

	require.Len(t, f.notifier.events, 1)
	event := f.notifier.events[0]
	assert.Equal(t, notify.KindProvisionResult, event.Kind)
	assert.True(t, event.Success)
	assert.False(t, event.Retrying)
	assert.Equal(t, "msg-1", event.DispatchID)
	assert.Equal(t, "/events/msg-1", f.notifier.channels[0])
}

func TestHandleInjectsStackConfig(t *testing.T) {
	f := newFixture(testResources())

	require.NoError(t, f.orchestrator.Handle(context.Background(), testRequest(), testDelivery()))

	byKey := map[string]configCall{}
	for _, c := range f.stack.configs {
		byKey[c.key] = c
	}
	assert.Equal(t, "us-east-2", byKey["aws:region"].value)
	assert.False(t, byKey["aws:region"].secret)
	assert.True(t, byKey["aws:assumeRole.externalId"].secret)
	assert.True(t, byKey["dns:apiToken"].secret)
}

func TestHandleFailureStillNotifiesAndReraises(t *testing.T) {
	f := newFixture(testResources())
	upErr := errors.New("reconcile blew up")
	f.stack.upErr = upErr

	err := f.orchestrator.Handle(context.Background(), testRequest(), testDelivery())
	require.ErrorIs(t, err, upErr)

	require.Len(t, f.notifier.events, 1)
	event := f.notifier.events[0]
	assert.False(t, event.Success)
	assert.True(t, event.Retrying, "receive count 1 is below the ceiling")
}

func TestHandleRetryFlagBoundary(t *testing.T) {
	cases := []struct {
		receiveCount int
		retrying     bool
	}{
		{1, true},
		{2, true},
		{3, false},
		{4, false},
	}
	for _, tc := range cases {
		f := newFixture(testResources())
		f.stack.upErr = errors.New("boom")

		delivery := testDelivery()
		delivery.ReceiveCount = tc.receiveCount
		_ = f.orchestrator.Handle(context.Background(), testRequest(), delivery)

		require.Len(t, f.notifier.events, 1)
		assert.Equal(t, tc.retrying, f.notifier.events[0].Retrying,
			"receive count %d", tc.receiveCount)
	}
}

func TestHandleNotifyFailureNeverMasksOutcome(t *testing.T) {
	// Successful reconcile, failed publish: still success.
	f := newFixture(testResources())
	f.notifier.err = &notify.Error{StatusCode: 500}
	assert.NoError(t, f.orchestrator.Handle(context.Background(), testRequest(), testDelivery()))

	// Failed reconcile, failed publish: the reconcile error survives.
	f = newFixture(testResources())
	upErr := errors.New("reconcile blew up")
	f.stack.upErr = upErr
	f.notifier.err = &notify.Error{StatusCode: 500}
	assert.ErrorIs(t, f.orchestrator.Handle(context.Background(), testRequest(), testDelivery()), upErr)
}

func TestHandleRealtimeCredentialFailureIsLoggedOnly(t *testing.T) {
	f := newFixture(testResources())
	f.broker.realtimeErr = errors.New("denied")

	assert.NoError(t, f.orchestrator.Handle(context.Background(), testRequest(), testDelivery()))
	assert.Empty(t, f.notifier.events, "publish should not have been attempted")
}

func TestHandleProvisioningCredentialFailureIsFatal(t *testing.T) {
	f := newFixture(testResources())
	denied := errors.New("denied")
	f.broker.provisionErr = denied

	err := f.orchestrator.Handle(context.Background(), testRequest(), testDelivery())
	require.ErrorIs(t, err, denied)
	assert.Zero(t, f.stack.upCalls)
	assert.Empty(t, f.notifier.events)
}

func TestHandleStackResolutionFailureIsFatal(t *testing.T) {
	f := newFixture(testResources())
	f.workspace.selectErr = errors.New("bucket gone")

	err := f.orchestrator.Handle(context.Background(), testRequest(), testDelivery())
	require.Error(t, err)
	assert.Empty(t, f.notifier.events)
}

func TestHandleDestroyRemovesStateOutsideProduction(t *testing.T) {
	f := newFixture(testResources())
	req := testRequest()
	req.Destroy = true

	require.NoError(t, f.orchestrator.Handle(context.Background(), req, testDelivery()))
	assert.Equal(t, 1, f.stack.destroyed)
	assert.Equal(t, []string{"tenant-1"}, f.workspace.removed)
	assert.Empty(t, f.notifier.events, "destroy sends no notification")
}

func TestHandleDestroyRetainsStateInProduction(t *testing.T) {
	res := testResources()
	res.AppData.Stage = "production"
	f := newFixture(res)
	req := testRequest()
	req.Destroy = true

	require.NoError(t, f.orchestrator.Handle(context.Background(), req, testDelivery()))
	assert.Equal(t, 1, f.stack.destroyed)
	assert.Empty(t, f.workspace.removed)
}

func TestHandleDestroyFailureKeepsState(t *testing.T) {
	f := newFixture(testResources())
	f.stack.destroyErr = errors.New("still in use")
	req := testRequest()
	req.Destroy = true

	err := f.orchestrator.Handle(context.Background(), req, testDelivery())
	require.Error(t, err)
	assert.Empty(t, f.workspace.removed)
}

func TestHandleSessionNamesCarryPurposeContext(t *testing.T) {
	f := newFixture(testResources())
	require.NoError(t, f.orchestrator.Handle(context.Background(), testRequest(), testDelivery()))

	require.Len(t, f.broker.calls, 2)
	assert.Equal(t, creds.PurposeProvisioning, f.broker.calls[0].purpose)
	assert.Equal(t, "provision-tenant-1", f.broker.calls[0].sessionName)
	assert.Equal(t, creds.PurposeRealtime, f.broker.calls[1].purpose)
	assert.Equal(t, "notify-msg-1", f.broker.calls[1].sessionName)
}
