// Package orchestrator processes one provisioning request end to end:
// stack resolution, graph build, reconcile or destroy, outcome
// classification, and the best-effort realtime notification.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/printworks/tenant-infra/config"
	"github.com/printworks/tenant-infra/creds"
	"github.com/printworks/tenant-infra/engine"
	"github.com/printworks/tenant-infra/graph"
	"github.com/printworks/tenant-infra/metrics"
	"github.com/printworks/tenant-infra/notify"
	"github.com/printworks/tenant-infra/program"
)

// RetryCeiling is the delivery attempt count at which the outcome event
// stops announcing a retry. At-least-once redelivery is the queue's
// responsibility; this only shapes the event consumers see.
const RetryCeiling = 3

// Request is one decoded provisioning request.
type Request struct {
	TenantID     string
	SyncSchedule string
	Timezone     string
	Destroy      bool
}

// Delivery carries the queue delivery metadata the orchestrator needs:
// the message id names the notification channel, and the receive count
// drives the retry flag.
type Delivery struct {
	MessageID    string
	ReceiveCount int
}

// Stack is the slice of the engine stack the orchestrator drives.
type Stack interface {
	SetConfig(key, value string, secret bool)
	Up(ctx context.Context, g *graph.Graph, opts engine.UpOptions) (*engine.UpResult, error)
	Destroy(ctx context.Context, g *graph.Graph, opts engine.DestroyOptions) (*engine.DestroyResult, error)
}

// Workspace resolves and removes stacks.
type Workspace interface {
	CreateOrSelectStack(ctx context.Context, project, stack string) (Stack, error)
	RemoveStack(ctx context.Context, project, stack string) error
}

// engineWorkspace adapts *engine.Workspace to the local interface.
type engineWorkspace struct {
	ws *engine.Workspace
}

func (w engineWorkspace) CreateOrSelectStack(ctx context.Context, project, stack string) (Stack, error) {
	return w.ws.CreateOrSelectStack(ctx, project, stack)
}

func (w engineWorkspace) RemoveStack(ctx context.Context, project, stack string) error {
	return w.ws.RemoveStack(ctx, project, stack)
}

// WrapWorkspace adapts an engine workspace for the orchestrator.
func WrapWorkspace(ws *engine.Workspace) Workspace {
	return engineWorkspace{ws: ws}
}

// Orchestrator handles provisioning requests one at a time. Concurrency
// across tenants belongs to the consumer layer; concurrent requests for
// the same tenant are serialized by the stack state backend.
type Orchestrator struct {
	res       *config.Resources
	workspace Workspace
	broker    creds.Broker
	notifier  notify.Notifier
	metrics   *metrics.Metrics
	logger    *slog.Logger
	tracer    trace.Tracer
}

// Options carry the ambient collaborators.
type Options struct {
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// New creates an orchestrator.
func New(res *config.Resources, workspace Workspace, broker creds.Broker, notifier notify.Notifier, opts Options) *Orchestrator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		res:       res,
		workspace: workspace,
		broker:    broker,
		notifier:  notifier,
		metrics:   opts.Metrics,
		logger:    logger,
		tracer:    otel.Tracer("orchestrator"),
	}
}

// project is the stack project shared by every tenant stack in this
// deployment.
func (o *Orchestrator) project() string {
	return fmt.Sprintf("%s-%s-infra", o.res.AppData.Name, o.res.AppData.Stage)
}

// Handle processes one request. The returned error signals the consumer
// to leave the message for redelivery; a nil return deletes it.
func (o *Orchestrator) Handle(ctx context.Context, req Request, delivery Delivery) error {
	ctx, span := o.tracer.Start(ctx, "orchestrator.handle", trace.WithAttributes(
		attribute.String("tenant.id", req.TenantID),
		attribute.Bool("request.destroy", req.Destroy),
		attribute.Int("delivery.receive_count", delivery.ReceiveCount),
	))
	defer span.End()

	logger := o.logger.With("tenant_id", req.TenantID, "message_id", delivery.MessageID)

	stack, err := o.workspace.CreateOrSelectStack(ctx, o.project(), req.TenantID)
	if err != nil {
		return o.fail(span, fmt.Errorf("resolve stack for tenant %s: %w", req.TenantID, err))
	}

	stack.SetConfig("aws:region", o.res.AWS.Region, false)
	stack.SetConfig("aws:assumeRole.roleArn", o.res.ProvisionRole.ARN, false)
	stack.SetConfig("aws:assumeRole.externalId", o.res.ProvisionRoleExternalID.Value, true)
	stack.SetConfig("dns:apiToken", o.res.DNSAPIToken.Value, true)

	g, err := program.Build(program.Params{
		TenantID:     req.TenantID,
		SyncSchedule: req.SyncSchedule,
		Timezone:     req.Timezone,
	}, o.res)
	if err != nil {
		return o.fail(span, err)
	}

	credentials, err := o.broker.Credentials(ctx, creds.PurposeProvisioning, "provision-"+req.TenantID)
	if err != nil {
		return o.fail(span, err)
	}

	if req.Destroy {
		return o.destroy(ctx, span, logger, stack, g, engine.DestroyOptions{
			Credentials: credentials,
			OnOutput:    func(line string) { logger.Debug("engine output", "line", line) },
		}, req.TenantID)
	}

	upCtx, upSpan := o.tracer.Start(ctx, "stack.up")
	result, upErr := stack.Up(upCtx, g, engine.UpOptions{
		Credentials: credentials,
		OnOutput:    func(line string) { logger.Debug("engine output", "line", line) },
	})
	if upErr != nil {
		upSpan.RecordError(upErr)
		upSpan.SetStatus(codes.Error, upErr.Error())
	}
	upSpan.End()

	success := upErr == nil
	o.countAttempt("up", success)
	if success {
		logger.Info("tenant provisioned", "resource_changes", result.Summary.ResourceChanges)
	} else {
		logger.Error("tenant provisioning failed", "error", upErr)
	}

	// The outcome event goes out regardless of the reconcile result, and
	// a failed publish never rewrites that result.
	o.notifyOutcome(ctx, logger, delivery, success)

	if upErr != nil {
		return o.fail(span, upErr)
	}
	return nil
}

func (o *Orchestrator) destroy(ctx context.Context, span trace.Span, logger *slog.Logger, stack Stack, g *graph.Graph, opts engine.DestroyOptions, tenantID string) error {
	destroyCtx, destroySpan := o.tracer.Start(ctx, "stack.destroy")
	result, err := stack.Destroy(destroyCtx, g, opts)
	if err != nil {
		destroySpan.RecordError(err)
		destroySpan.SetStatus(codes.Error, err.Error())
	}
	destroySpan.End()

	o.countAttempt("destroy", err == nil)
	if err != nil {
		logger.Error("tenant destroy failed", "error", err)
		return o.fail(span, err)
	}
	logger.Info("tenant destroyed", "resource_changes", result.Summary.ResourceChanges)

	// Production stack state is retained for audit; elsewhere the whole
	// stack prefix goes away.
	if !o.res.AppData.IsProduction() {
		if err := o.workspace.RemoveStack(ctx, o.project(), tenantID); err != nil {
			return o.fail(span, err)
		}
		logger.Info("stack state removed")
	}
	return nil
}

// notifyOutcome publishes the outcome event. Failures here are logged
// and counted, never propagated.
func (o *Orchestrator) notifyOutcome(ctx context.Context, logger *slog.Logger, delivery Delivery, success bool) {
	ctx, span := o.tracer.Start(ctx, "notify.outcome")
	defer span.End()

	event := notify.OutcomeEvent{
		Kind:       notify.KindProvisionResult,
		Success:    success,
		DispatchID: delivery.MessageID,
		Retrying:   !success && delivery.ReceiveCount < RetryCeiling,
	}

	credentials, err := o.broker.Credentials(ctx, creds.PurposeRealtime, "notify-"+delivery.MessageID)
	if err == nil {
		err = o.notifier.Notify(ctx, "/events/"+delivery.MessageID, event, credentials)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("publish outcome event failed", "error", err, "success", success)
		if o.metrics != nil {
			o.metrics.NotifyFailures.Inc()
		}
	}
}

func (o *Orchestrator) countAttempt(operation string, success bool) {
	if o.metrics == nil {
		return
	}
	outcome := "success"
	if !success {
		outcome = "failure"
	}
	o.metrics.ProvisionAttempts.WithLabelValues(operation, outcome).Inc()
}

func (o *Orchestrator) fail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
