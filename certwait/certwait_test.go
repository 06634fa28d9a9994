package certwait

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/acm"
	acmtypes "github.com/aws/aws-sdk-go-v2/service/acm/types"
)

const testARN = "arn:aws:acm:us-east-2:123456789012:certificate/abc"

type mockACMClient struct {
	describeFunc func(ctx context.Context, params *acm.DescribeCertificateInput, optFns ...func(*acm.Options)) (*acm.DescribeCertificateOutput, error)
}

func (m *mockACMClient) DescribeCertificate(ctx context.Context, params *acm.DescribeCertificateInput, optFns ...func(*acm.Options)) (*acm.DescribeCertificateOutput, error) {
	return m.describeFunc(ctx, params, optFns...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

func newTestWaiter(client ACMClient) *Waiter {
	w := NewWaiter(client, testLogger())
	w.sleep = func(context.Context, time.Duration) error { return nil }
	return w
}

func statusOutput(status acmtypes.CertificateStatus) *acm.DescribeCertificateOutput {
	return &acm.DescribeCertificateOutput{
		Certificate: &acmtypes.CertificateDetail{Status: status},
	}
}

func TestWaitIssuedImmediate(t *testing.T) {
	w := newTestWaiter(&mockACMClient{
		describeFunc: func(context.Context, *acm.DescribeCertificateInput, ...func(*acm.Options)) (*acm.DescribeCertificateOutput, error) {
			return statusOutput(acmtypes.CertificateStatusIssued), nil
		},
	})
	if err := w.WaitIssued(context.Background(), testARN); err != nil {
		t.Fatalf("WaitIssued() error: %v", err)
	}
}

func TestWaitIssuedEventually(t *testing.T) {
	calls := 0
	w := newTestWaiter(&mockACMClient{
		describeFunc: func(context.Context, *acm.DescribeCertificateInput, ...func(*acm.Options)) (*acm.DescribeCertificateOutput, error) {
			calls++
			if calls < 4 {
				return statusOutput(acmtypes.CertificateStatusPendingValidation), nil
			}
			return statusOutput(acmtypes.CertificateStatusIssued), nil
		},
	})
	if err := w.WaitIssued(context.Background(), testARN); err != nil {
		t.Fatalf("WaitIssued() error: %v", err)
	}
	if calls != 4 {
		t.Errorf("polled %d times, want 4", calls)
	}
}

func TestWaitIssuedExhaustion(t *testing.T) {
	calls := 0
	w := newTestWaiter(&mockACMClient{
		describeFunc: func(context.Context, *acm.DescribeCertificateInput, ...func(*acm.Options)) (*acm.DescribeCertificateOutput, error) {
			calls++
			return statusOutput(acmtypes.CertificateStatusPendingValidation), nil
		},
	})

	err := w.WaitIssued(context.Background(), testARN)
	if err == nil {
		t.Fatal("expected exhaustion error")
	}
	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("error %v is not *ExhaustedError", err)
	}
	if exhausted.CertificateARN != testARN {
		t.Errorf("CertificateARN = %q", exhausted.CertificateARN)
	}
	if !strings.Contains(err.Error(), testARN) {
		t.Errorf("error %q does not reference the certificate", err)
	}
	if calls != DefaultAttempts {
		t.Errorf("polled %d times, want %d", calls, DefaultAttempts)
	}
}

func TestWaitIssuedDescribeError(t *testing.T) {
	boom := errors.New("throttled")
	w := newTestWaiter(&mockACMClient{
		describeFunc: func(context.Context, *acm.DescribeCertificateInput, ...func(*acm.Options)) (*acm.DescribeCertificateOutput, error) {
			return nil, boom
		},
	})
	if err := w.WaitIssued(context.Background(), testARN); !errors.Is(err, boom) {
		t.Errorf("error %v does not wrap describe failure", err)
	}
}

func TestWaitIssuedCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	w := NewWaiter(&mockACMClient{
		describeFunc: func(context.Context, *acm.DescribeCertificateInput, ...func(*acm.Options)) (*acm.DescribeCertificateOutput, error) {
			return statusOutput(acmtypes.CertificateStatusPendingValidation), nil
		},
	}, testLogger())
	w.sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	if err := w.WaitIssued(ctx, testARN); !errors.Is(err, context.Canceled) {
		t.Errorf("error %v, want context.Canceled", err)
	}
}
