package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"membercard-engine/internal/oidvp"
	"membercard-engine/internal/oidvp/domain"
	"membercard-engine/internal/oidvp/repository"
)

// ErrSessionNotFound is returned when no session exists for the given id.
var ErrSessionNotFound = errors.New("verification session not found")

// VerifierClient is the part of the OIDVP API the service needs.
type VerifierClient interface {
	RequestQR(ctx context.Context, refCode, transactionID string) (*oidvp.QRResponse, error)
	PollResult(ctx context.Context, transactionID string) (*oidvp.Result, error)
}

// AuditRecorder appends verification events best-effort.
type AuditRecorder interface {
	Record(ctx context.Context, eventRef, cardID, result string, contextJSON []byte, rawPayload string)
}

// Service drives wallet presentation sessions: QR creation, result polling,
// and the exactly-once terminal transition.
type Service struct {
	sessions repository.Repository
	verifier VerifierClient
	audit    AuditRecorder
	now      func() time.Time
}

func NewService(sessions repository.Repository, verifier VerifierClient, audit AuditRecorder) *Service {
	return &Service{
		sessions: sessions,
		verifier: verifier,
		audit:    audit,
		now:      time.Now,
	}
}

// StartVerification asks the verifier for a presentation QR and records a
// pending session with a fixed TTL.
func (s *Service) StartVerification(ctx context.Context, refCode string) (*domain.VerificationSession, error) {
	transactionID := uuid.NewString()
	qr, err := s.verifier.RequestQR(ctx, refCode, transactionID)
	if err != nil {
		return nil, fmt.Errorf("request presentation qr: %w", err)
	}

	now := s.now()
	session := &domain.VerificationSession{
		ID:            uuid.NewString(),
		TransactionID: transactionID,
		QRImage:       qr.QRCodeImage,
		AuthURI:       qr.AuthURI,
		Status:        domain.StatusPending,
		CreatedAt:     now,
		ExpiresAt:     now.Add(domain.SessionTTL),
	}
	if err := s.sessions.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return session, nil
}

// CheckResult polls the verifier for the session's presentation result and
// applies at most one terminal transition. A still-pending presentation
// returns the session unchanged.
func (s *Service) CheckResult(ctx context.Context, sessionID string) (*domain.VerificationSession, error) {
	session, err := s.sessions.GetByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	if session.Terminal() {
		return session, nil
	}

	now := s.now()
	if session.Expired(now) {
		return s.complete(ctx, session, domain.StatusExpired, nil, "verification window elapsed", nil, now)
	}

	result, err := s.verifier.PollResult(ctx, session.TransactionID)
	if err != nil {
		if errors.Is(err, oidvp.ErrNotReady) {
			return session, nil
		}
		return nil, fmt.Errorf("poll presentation result: %w", err)
	}

	resultData, err := oidvp.ExtractMemberInfo(result.Data)
	if err != nil {
		return nil, fmt.Errorf("extract claim data: %w", err)
	}

	status := domain.StatusCompleted
	if !result.VerifyResult {
		status = domain.StatusFailed
	}
	verifyResult := result.VerifyResult
	return s.complete(ctx, session, status, &verifyResult, result.ResultDescription, resultData, now)
}

func (s *Service) complete(ctx context.Context, session *domain.VerificationSession, status domain.Status, verifyResult *bool, description string, resultData []byte, at time.Time) (*domain.VerificationSession, error) {
	transitioned, err := s.sessions.Complete(ctx, session.ID, status, verifyResult, description, resultData, at)
	if err != nil {
		return nil, fmt.Errorf("complete session: %w", err)
	}
	if !transitioned {
		// Another poller won the transition; return what they wrote.
		fresh, err := s.sessions.GetByID(ctx, session.ID)
		if err != nil {
			return nil, fmt.Errorf("reload session: %w", err)
		}
		if fresh == nil {
			return nil, ErrSessionNotFound
		}
		return fresh, nil
	}

	session.Status = status
	session.VerifyResult = verifyResult
	session.ResultDescription = description
	session.ResultData = resultData
	session.CompletedAt = &at

	if s.audit != nil {
		s.audit.Record(ctx, session.TransactionID, "", string(status), resultData, description)
	}
	return session, nil
}
