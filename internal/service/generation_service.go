package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/timzhangherenow/product-contextualizer/internal/gemini"
	"github.com/timzhangherenow/product-contextualizer/internal/models"
	"github.com/timzhangherenow/product-contextualizer/internal/repository"
)

var (
	ErrMissingImage         = errors.New("a product image must be selected")
	ErrMissingScenario      = errors.New("a usage scenario is required")
	ErrGenerationInProgress = errors.New("a generation is already in progress")
	ErrResetRequired        = errors.New("previous result must be reset first")
)

// ImageGenerator is the boundary to the remote image service.
type ImageGenerator interface {
	Generate(ctx context.Context, req gemini.Request) (string, error)
}

// Session is the orchestrator's view of one user's generation cycle: the
// current state plus whatever result or error it holds until reset.
type Session struct {
	State        models.GenerationState
	Result       *models.GenerationResult
	ErrorMessage string
}

// GenerationService sequences one credit-gated generation per user:
// precondition checks, the remote call, and the debit on success.
// It holds at most one in-flight request per user and no history.
type GenerationService struct {
	log       *slog.Logger
	ledger    *LedgerService
	generator ImageGenerator

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewGenerationService(log *slog.Logger, ledger *LedgerService, generator ImageGenerator) *GenerationService {
	return &GenerationService{
		log:       log,
		ledger:    ledger,
		generator: generator,
		sessions:  make(map[string]*Session),
	}
}

// Submit runs one generation attempt for the user. All preconditions must
// hold or the request is refused without leaving IDLE: an image selected,
// a non-empty scenario, and a positive balance. On a successful remote call
// one credit is debited; a debit that loses the race to a concurrent balance
// change is logged and the result still surfaces as SUCCESS, since the
// expensive remote work already completed.
func (s *GenerationService) Submit(ctx context.Context, userID string, image []byte, mimeType string, cfg models.ProductConfig) (*models.GenerationResult, error) {
	s.mu.Lock()
	sess := s.session(userID)
	switch sess.State {
	case models.StateGenerating:
		s.mu.Unlock()
		return nil, ErrGenerationInProgress
	case models.StateSuccess, models.StateError:
		s.mu.Unlock()
		return nil, ErrResetRequired
	}

	if len(image) == 0 || !strings.HasPrefix(mimeType, "image/") {
		s.mu.Unlock()
		return nil, ErrMissingImage
	}
	if strings.TrimSpace(cfg.Scenario) == "" {
		s.mu.Unlock()
		return nil, ErrMissingScenario
	}

	balance, err := s.ledger.Balance(ctx, userID)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if balance <= 0 {
		s.mu.Unlock()
		return nil, repository.ErrInsufficientBalance
	}

	sess.State = models.StateGenerating
	sess.Result = nil
	sess.ErrorMessage = ""
	s.mu.Unlock()

	// The remote call is the only operation that suspends; the session
	// stays GENERATING until it completes or fails.
	imageData, err := s.generator.Generate(ctx, gemini.Request{
		ImageData: image,
		MimeType:  mimeType,
		Config:    cfg,
	})

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		sess.State = models.StateError
		sess.ErrorMessage = err.Error()
		return nil, fmt.Errorf("generate image: %w", err)
	}

	if _, debitErr := s.ledger.Debit(ctx, userID); debitErr != nil {
		s.log.Warn("debit failed after successful generation", "user_id", userID, "err", debitErr)
	}

	result := &models.GenerationResult{ImageData: imageData}
	sess.State = models.StateSuccess
	sess.Result = result
	return result, nil
}

// Status returns a snapshot of the user's current session.
func (s *GenerationService) Status(userID string) Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.session(userID)
}

// Reset discards any held result or error and returns to IDLE. It never
// touches the balance and cannot interrupt an in-flight generation.
func (s *GenerationService) Reset(userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess := s.session(userID)
	if sess.State == models.StateGenerating {
		return ErrGenerationInProgress
	}
	sess.State = models.StateIdle
	sess.Result = nil
	sess.ErrorMessage = ""
	return nil
}

// session returns the tracked session for the user, creating an idle one on
// first use. Callers must hold s.mu.
func (s *GenerationService) session(userID string) *Session {
	sess, ok := s.sessions[userID]
	if !ok {
		sess = &Session{State: models.StateIdle}
		s.sessions[userID] = sess
	}
	return sess
}
