package otp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-petition/internal/domain"
	"github.com/go-petition/internal/infrastructure/smtp"
	"github.com/go-petition/internal/pkg/hashing"
	"github.com/go-petition/internal/pkg/id"
	"github.com/go-petition/internal/pkg/ratelimit"
	"github.com/go-petition/internal/pkg/validate"
)

// msgInvalidOrExpired is shared by "no usable request" and "lost the consume
// race" so neither reveals whether a code was ever issued.
const msgInvalidOrExpired = "invalid or expired code"

type RequestInput struct {
	Email string `json:"email" validate:"required,email,max=254"`
	IP    string `json:"-"`
}

type VerifyInput struct {
	Email string `json:"email" validate:"required,email,max=254"`
	Code  string `json:"code" validate:"required,numeric,len=6"`
}

// VerifyResult is the capability handed out after a successful verification.
type VerifyResult struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type Service interface {
	RequestOTP(ctx context.Context, in RequestInput) error
	VerifyOTP(ctx context.Context, in VerifyInput) (*VerifyResult, error)
}

// OTPStore is the persistence the service needs. MarkConsumed must be a
// conditional write that returns domain.ErrAlreadyConsumed to all but one caller.
// RecordAttempt must be an atomic conditional increment that returns
// domain.ErrAttemptsExhausted once domain.MaxOTPAttempts is reached.
type OTPStore interface {
	Insert(ctx context.Context, req *domain.OTPRequest) error
	FindLatestValid(ctx context.Context, email string, now time.Time) (*domain.OTPRequest, error)
	MarkConsumed(ctx context.Context, requestID string, at time.Time) error
	RecordAttempt(ctx context.Context, requestID string) error
	Delete(ctx context.Context, requestID string) error
}

type TokenIssuer interface {
	Issue(email string) (string, time.Time, error)
}

type RateLimiter interface {
	Allow(ctx context.Context, r ratelimit.Rule, subject string) (bool, error)
}

// ServiceDeps holds all dependencies for the OTP service.
type ServiceDeps struct {
	OTPRepo OTPStore
	Mailer  smtp.Mailer
	Tokens  TokenIssuer
	Limiter RateLimiter
	Policy  ratelimit.Policy
	Secret  string
	TTL     time.Duration
	Now     func() time.Time // defaults to time.Now
}

type service struct {
	otpRepo OTPStore
	mailer  smtp.Mailer
	tokens  TokenIssuer
	limiter RateLimiter
	policy  ratelimit.Policy
	secret  string
	ttl     time.Duration
	now     func() time.Time
}

func NewService(d ServiceDeps) Service {
	now := d.Now
	if now == nil {
		now = time.Now
	}
	return &service{
		otpRepo: d.OTPRepo,
		mailer:  d.Mailer,
		tokens:  d.Tokens,
		limiter: d.Limiter,
		policy:  d.Policy,
		secret:  d.Secret,
		ttl:     d.TTL,
		now:     now,
	}
}

// RequestOTP issues a code for in.Email. The request row is written before
// the email is sent and removed again if sending fails, so no stored request
// exists without a delivered code.
func (s *service) RequestOTP(ctx context.Context, in RequestInput) error {
	in.Email = domain.NormalizeEmail(in.Email)
	if err := validate.Struct(&in); err != nil {
		return err
	}
	if err := s.checkLimits(ctx, in.Email, in.IP); err != nil {
		return err
	}

	code, err := hashing.OtpCode()
	if err != nil {
		return fmt.Errorf("generate otp: %w", err)
	}
	now := s.now().UTC()
	req := &domain.OTPRequest{
		RequestID: id.New(),
		Email:     in.Email,
		CodeHash:  hashing.OtpHash(code, in.Email, s.secret),
		OriginIP:  in.IP,
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.otpRepo.Insert(ctx, req); err != nil {
		return fmt.Errorf("store otp request: %w", err)
	}

	if err := s.mailer.Send(ctx, otpMessage(in.Email, code, s.ttl)); err != nil {
		slog.Error("otp delivery failed", "email", in.Email, "request_id", req.RequestID, "err", err)
		if derr := s.otpRepo.Delete(context.WithoutCancel(ctx), req.RequestID); derr != nil {
			slog.Warn("failed to remove undelivered otp request", "request_id", req.RequestID, "err", derr)
		}
		return domain.NewError(domain.ErrUnavailable, domain.CodeDeliveryFailed, "failed to send verification code, please try again")
	}
	slog.Info("otp issued", "email", in.Email, "request_id", req.RequestID)
	return nil
}

func (s *service) checkLimits(ctx context.Context, email, ip string) error {
	checks := []struct {
		rule    ratelimit.Rule
		subject string
	}{
		{s.policy.OTPPerEmail, email},
		{s.policy.OTPPerIP, ip},
	}
	for _, c := range checks {
		if c.subject == "" {
			continue
		}
		ok, err := s.limiter.Allow(ctx, c.rule, c.subject)
		if err != nil {
			return domain.NewError(domain.ErrUnavailable, domain.CodeUnavailable, "service temporarily unavailable")
		}
		if !ok {
			return domain.NewError(domain.ErrTooManyRequests, domain.CodeRateLimited, "too many verification requests, please try again later")
		}
	}
	return nil
}

// VerifyOTP checks code against the newest usable request for the email and
// consumes it. Every attempt is counted against the request before the code
// is compared, so a request allows at most domain.MaxOTPAttempts guesses.
func (s *service) VerifyOTP(ctx context.Context, in VerifyInput) (*VerifyResult, error) {
	in.Email = domain.NormalizeEmail(in.Email)
	if err := validate.Struct(&in); err != nil {
		return nil, err
	}
	ok, err := s.limiter.Allow(ctx, s.policy.OTPVerifyPerEmail, in.Email)
	if err != nil {
		return nil, domain.NewError(domain.ErrUnavailable, domain.CodeUnavailable, "service temporarily unavailable")
	}
	if !ok {
		return nil, domain.NewError(domain.ErrTooManyRequests, domain.CodeRateLimited, "too many verification attempts, please try again later")
	}
	now := s.now().UTC()

	req, err := s.otpRepo.FindLatestValid(ctx, in.Email, now)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.NewError(domain.ErrUnauthorized, domain.CodeInvalidCode, msgInvalidOrExpired)
	}
	if err != nil {
		return nil, fmt.Errorf("find otp request: %w", err)
	}

	if err := s.otpRepo.RecordAttempt(ctx, req.RequestID); err != nil {
		if errors.Is(err, domain.ErrAttemptsExhausted) || errors.Is(err, domain.ErrNotFound) {
			slog.Warn("otp attempts exhausted", "request_id", req.RequestID)
			return nil, domain.NewError(domain.ErrUnauthorized, domain.CodeInvalidCode, msgInvalidOrExpired)
		}
		return nil, fmt.Errorf("record otp attempt: %w", err)
	}

	if !hashing.VerifyOtpHash(in.Code, in.Email, s.secret, req.CodeHash) {
		return nil, domain.NewError(domain.ErrUnauthorized, domain.CodeInvalidCode, "invalid code")
	}

	if err := s.otpRepo.MarkConsumed(ctx, req.RequestID, now); err != nil {
		if errors.Is(err, domain.ErrAlreadyConsumed) {
			slog.Warn("otp consumed concurrently", "request_id", req.RequestID)
			return nil, domain.NewError(domain.ErrUnauthorized, domain.CodeInvalidCode, msgInvalidOrExpired)
		}
		return nil, fmt.Errorf("consume otp request: %w", err)
	}

	token, exp, err := s.tokens.Issue(in.Email)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	return &VerifyResult{Token: token, ExpiresAt: exp}, nil
}

func otpMessage(to, code string, ttl time.Duration) smtp.Message {
	minutes := int(ttl.Minutes())
	return smtp.Message{
		To:      to,
		Subject: "Your verification code",
		Text: fmt.Sprintf("Your verification code is: %s\n\nThis code will expire in %d minutes.\n\n"+
			"If you didn't request this code, please ignore this email.", code, minutes),
		HTML: fmt.Sprintf("<h2>Email Verification</h2>\n<p>Your verification code is: <strong>%s</strong></p>\n"+
			"<p>This code will expire in %d minutes.</p>\n"+
			"<p>If you didn't request this code, please ignore this email.</p>", code, minutes),
	}
}
