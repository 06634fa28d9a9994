// Package certwait polls ACM until a DNS-validated certificate reaches
// the issued state. Issuance depends on out-of-band DNS propagation, so
// this is the one point in a provisioning run that genuinely suspends.
package certwait

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/acm"
	acmtypes "github.com/aws/aws-sdk-go-v2/service/acm/types"
)

// Defaults for the bounded poll loop.
const (
	DefaultInterval = 5 * time.Second
	DefaultAttempts = 10
)

// ACMClient defines the ACM operations used by the waiter.
type ACMClient interface {
	DescribeCertificate(ctx context.Context, params *acm.DescribeCertificateInput, optFns ...func(*acm.Options)) (*acm.DescribeCertificateOutput, error)
}

// ExhaustedError reports that the poll budget ran out before the
// certificate was issued.
type ExhaustedError struct {
	CertificateARN string
	Attempts       int
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("exhausted %d attempts waiting for issued certificate: %s", e.Attempts, e.CertificateARN)
}

// Waiter polls certificate status a bounded number of times.
type Waiter struct {
	client   ACMClient
	interval time.Duration
	attempts int
	logger   *slog.Logger

	// sleep is swappable in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewWaiter creates a waiter with the default interval and attempt budget.
func NewWaiter(client ACMClient, logger *slog.Logger) *Waiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Waiter{
		client:   client,
		interval: DefaultInterval,
		attempts: DefaultAttempts,
		logger:   logger,
		sleep:    sleepContext,
	}
}

// WaitIssued blocks until the certificate is issued, the attempt budget
// is exhausted, or ctx is cancelled. Exhaustion returns *ExhaustedError.
func (w *Waiter) WaitIssued(ctx context.Context, certificateARN string) error {
	for attempt := 1; attempt <= w.attempts; attempt++ {
		out, err := w.client.DescribeCertificate(ctx, &acm.DescribeCertificateInput{
			CertificateArn: aws.String(certificateARN),
		})
		if err != nil {
			return fmt.Errorf("describe certificate %s: %w", certificateARN, err)
		}

		if out.Certificate != nil && out.Certificate.Status == acmtypes.CertificateStatusIssued {
			w.logger.Info("certificate issued", "certificate_arn", certificateARN, "attempt", attempt)
			return nil
		}

		status := acmtypes.CertificateStatus("")
		if out.Certificate != nil {
			status = out.Certificate.Status
		}
		w.logger.Info("certificate not yet issued",
			"certificate_arn", certificateARN,
			"status", string(status),
			"attempt", attempt,
		)

		if attempt < w.attempts {
			if err := w.sleep(ctx, w.interval); err != nil {
				return err
			}
		}
	}

	return &ExhaustedError{CertificateARN: certificateARN, Attempts: w.attempts}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var _ ACMClient = (*acm.Client)(nil)
