package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/acm"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/sync/errgroup"

	"github.com/printworks/tenant-infra/certwait"
	"github.com/printworks/tenant-infra/config"
	"github.com/printworks/tenant-infra/consumer"
	"github.com/printworks/tenant-infra/creds"
	"github.com/printworks/tenant-infra/engine"
	"github.com/printworks/tenant-infra/metrics"
	"github.com/printworks/tenant-infra/naming"
	"github.com/printworks/tenant-infra/notify"
	"github.com/printworks/tenant-infra/orchestrator"
)

var (
	metricsAddr = flag.String("metrics-addr", ":9090", "Prometheus metrics listen address")
	reconciler  = flag.String("reconciler", os.Getenv("RECONCILER_ENDPOINT"), "Reconciler service base URL")
	debug       = flag.Bool("debug", false, "Enable debug logging")
)

func main() {
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if *reconciler == "" {
		log.Fatalf("No reconciler endpoint configured (flag -reconciler or RECONCILER_ENDPOINT)")
	}

	res, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load resource descriptors: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(res.AWS.Region))
	if err != nil {
		log.Fatalf("Failed to load AWS config: %v", err)
	}

	shutdownTracing, err := initTracing(ctx)
	if err != nil {
		log.Fatalf("Failed to initialize tracing: %v", err)
	}
	defer shutdownTracing()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	broker := creds.NewSTSBroker(sts.NewFromConfig(awsCfg), map[creds.Purpose]creds.RoleSpec{
		creds.PurposeProvisioning: {
			ARN:        res.ProvisionRole.ARN,
			ExternalID: res.ProvisionRoleExternalID.Value,
		},
		creds.PurposeRealtime: {
			ARN:        res.RealtimeRole.ARN,
			ExternalID: res.ProvisionRoleExternalID.Value,
		},
	})

	workspace := engine.NewWorkspace(s3.NewFromConfig(awsCfg), res.StateBucket.Name, engine.WorkspaceOptions{
		Runner: engine.NewHTTPRunner(*reconciler, res.AWS.Region, nil),
		Waiter: certwait.NewWaiter(acm.NewFromConfig(awsCfg), logger),
		Namer:  naming.Namer{App: res.AppData.Name, Stage: res.AppData.Stage},
		Logger: logger,
	})

	notifier := notify.NewRealtimeNotifier(res.Domains.Realtime, res.AWS.Region, nil)

	orch := orchestrator.New(res, orchestrator.WrapWorkspace(workspace), broker, notifier, orchestrator.Options{
		Metrics: m,
		Logger:  logger,
	})

	cons := consumer.New(sqs.NewFromConfig(awsCfg), res.InfraQueue.URL, orch, consumer.Options{
		Metrics: m,
		Logger:  logger,
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: *metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return cons.Run(ctx)
	})
	g.Go(func() error {
		logger.Info("metrics server started", "addr", *metricsAddr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	logger.Info("provisioner started",
		"stage", res.AppData.Stage,
		"queue_url", res.InfraQueue.URL,
		"state_bucket", res.StateBucket.Name,
	)

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Provisioner exited: %v", err)
	}
	logger.Info("shutdown complete")
}

// initTracing wires the OTLP trace exporter when an endpoint is
// configured, and is a no-op otherwise.
func initTracing(ctx context.Context) (func(), error) {
	if os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") == "" {
		return func() {}, nil
	}

	exporter, err := otlptracehttp.New(ctx)
	if err != nil {
		return nil, err
	}
	provider := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(provider)

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			slog.Error("trace provider shutdown failed", "error", err)
		}
	}, nil
}
