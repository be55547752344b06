package job

import (
	"context"
	"log/slog"
	"time"
)

// ReceiptRetrier is implemented by the signature service.
type ReceiptRetrier interface {
	RetryPendingReceipts(ctx context.Context, limit int) (int, error)
}

// ReceiptRetryJob renders and attaches receipts for signatures that were
// stored without one.
type ReceiptRetryJob struct {
	retrier ReceiptRetrier
	batch   int
}

func NewReceiptRetryJob(r ReceiptRetrier, batch int) *ReceiptRetryJob {
	if batch <= 0 {
		batch = 50
	}
	return &ReceiptRetryJob{retrier: r, batch: batch}
}

func (j *ReceiptRetryJob) Name() string { return "receipt-retry" }

func (j *ReceiptRetryJob) Run(ctx context.Context) error {
	n, err := j.retrier.RetryPendingReceipts(ctx, j.batch)
	if n > 0 {
		slog.Info("receipts attached", "count", n)
	}
	return err
}

// ExpiredOTPPurger deletes OTP requests that expired before cutoff.
type ExpiredOTPPurger interface {
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// OTPCleanupJob purges expired OTP requests for stores without native TTL.
type OTPCleanupJob struct {
	purger ExpiredOTPPurger
	grace  time.Duration
	now    func() time.Time
}

func NewOTPCleanupJob(p ExpiredOTPPurger, grace time.Duration) *OTPCleanupJob {
	return &OTPCleanupJob{purger: p, grace: grace, now: time.Now}
}

func (j *OTPCleanupJob) Name() string { return "otp-cleanup" }

func (j *OTPCleanupJob) Run(ctx context.Context) error {
	n, err := j.purger.DeleteExpired(ctx, j.now().Add(-j.grace))
	if err != nil {
		return err
	}
	slog.Info("expired otp requests purged", "count", n)
	return nil
}
