package service

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timzhangherenow/product-contextualizer/internal/gemini"
	"github.com/timzhangherenow/product-contextualizer/internal/models"
	"github.com/timzhangherenow/product-contextualizer/internal/repository"
)

// fakeGenerator stands in for the remote image service. It can return a
// canned result, fail, block until released, or run a hook mid-call to
// simulate concurrent balance changes.
type fakeGenerator struct {
	result   string
	err      error
	calls    atomic.Int32
	block    chan struct{}
	onCall   func()
	captured gemini.Request
}

func (f *fakeGenerator) Generate(ctx context.Context, req gemini.Request) (string, error) {
	f.calls.Add(1)
	f.captured = req
	if f.onCall != nil {
		f.onCall()
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.err != nil {
		return "", f.err
	}
	return f.result, nil
}

var testLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))

func newTestOrchestrator(t *testing.T, balance int, gen *fakeGenerator) (*GenerationService, *LedgerService, string) {
	t.Helper()

	repo := newTestUserRepo(t)
	user, err := repo.Create(context.Background(), &models.User{
		ID:      "user-1",
		Email:   "alice@example.com",
		Name:    "alice",
		Balance: balance,
	})
	require.NoError(t, err)

	ledger := NewLedgerService(repo)
	return NewGenerationService(testLogger, ledger, gen), ledger, user.ID
}

var (
	pngBytes  = []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}
	testCfg   = models.ProductConfig{Region: "Nordic", Scenario: "cozy cabin evening", Resolution: models.Resolution1K}
	resultURI = "data:image/png;base64,Zm9v"
)

func TestSubmit_SuccessDebitsOneCredit(t *testing.T) {
	gen := &fakeGenerator{result: resultURI}
	svc, ledger, userID := newTestOrchestrator(t, 3, gen)

	result, err := svc.Submit(context.Background(), userID, pngBytes, "image/png", testCfg)
	require.NoError(t, err)
	assert.Equal(t, resultURI, result.ImageData)

	balance, err := ledger.Balance(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, 2, balance)

	sess := svc.Status(userID)
	assert.Equal(t, models.StateSuccess, sess.State)
	require.NotNil(t, sess.Result)
	assert.Equal(t, resultURI, sess.Result.ImageData)

	assert.Equal(t, "cozy cabin evening", gen.captured.Config.Scenario)
}

func TestSubmit_ZeroBalanceNeverReachesAdapter(t *testing.T) {
	gen := &fakeGenerator{result: resultURI}
	svc, ledger, userID := newTestOrchestrator(t, 0, gen)

	_, err := svc.Submit(context.Background(), userID, pngBytes, "image/png", testCfg)
	assert.ErrorIs(t, err, repository.ErrInsufficientBalance)
	assert.Equal(t, int32(0), gen.calls.Load())
	assert.Equal(t, models.StateIdle, svc.Status(userID).State)

	balance, err := ledger.Balance(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, 0, balance)
}

func TestSubmit_MissingInput(t *testing.T) {
	tests := []struct {
		name    string
		image   []byte
		mime    string
		cfg     models.ProductConfig
		wantErr error
	}{
		{name: "no image", image: nil, mime: "", cfg: testCfg, wantErr: ErrMissingImage},
		{name: "not an image", image: []byte("plain"), mime: "text/plain", cfg: testCfg, wantErr: ErrMissingImage},
		{name: "blank scenario", image: pngBytes, mime: "image/png", cfg: models.ProductConfig{Scenario: "   "}, wantErr: ErrMissingScenario},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &fakeGenerator{result: resultURI}
			svc, _, userID := newTestOrchestrator(t, 3, gen)

			_, err := svc.Submit(context.Background(), userID, tt.image, tt.mime, tt.cfg)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, int32(0), gen.calls.Load())
			assert.Equal(t, models.StateIdle, svc.Status(userID).State)
		})
	}
}

func TestSubmit_AdapterFailureLeavesBalanceUntouched(t *testing.T) {
	gen := &fakeGenerator{err: gemini.ErrNoImage}
	svc, ledger, userID := newTestOrchestrator(t, 3, gen)

	_, err := svc.Submit(context.Background(), userID, pngBytes, "image/png", testCfg)
	assert.ErrorIs(t, err, gemini.ErrNoImage)

	balance, err := ledger.Balance(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, 3, balance)

	sess := svc.Status(userID)
	assert.Equal(t, models.StateError, sess.State)
	assert.NotEmpty(t, sess.ErrorMessage)
	assert.Nil(t, sess.Result)
}

// An administrative override can zero the balance between the precondition
// check and the debit. The generated image still surfaces as SUCCESS; the
// lost debit is forgiven, not turned into a failure.
func TestSubmit_DebitRaceStaysSuccessful(t *testing.T) {
	gen := &fakeGenerator{result: resultURI}
	svc, ledger, userID := newTestOrchestrator(t, 1, gen)
	gen.onCall = func() {
		_, err := ledger.SetBalance(context.Background(), userID, 0)
		require.NoError(t, err)
	}

	result, err := svc.Submit(context.Background(), userID, pngBytes, "image/png", testCfg)
	require.NoError(t, err)
	assert.Equal(t, resultURI, result.ImageData)
	assert.Equal(t, models.StateSuccess, svc.Status(userID).State)

	balance, err := ledger.Balance(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, 0, balance)
}

func TestSubmit_RefusedWhileGenerating(t *testing.T) {
	gen := &fakeGenerator{result: resultURI, block: make(chan struct{})}
	svc, _, userID := newTestOrchestrator(t, 3, gen)

	done := make(chan error, 1)
	go func() {
		_, err := svc.Submit(context.Background(), userID, pngBytes, "image/png", testCfg)
		done <- err
	}()

	require.Eventually(t, func() bool {
		return svc.Status(userID).State == models.StateGenerating
	}, time.Second, 5*time.Millisecond)

	_, err := svc.Submit(context.Background(), userID, pngBytes, "image/png", testCfg)
	assert.ErrorIs(t, err, ErrGenerationInProgress)
	assert.ErrorIs(t, svc.Reset(userID), ErrGenerationInProgress)

	close(gen.block)
	require.NoError(t, <-done)
	assert.Equal(t, models.StateSuccess, svc.Status(userID).State)
	assert.Equal(t, int32(1), gen.calls.Load())
}

func TestSubmit_ResetRequiredAfterTerminalState(t *testing.T) {
	gen := &fakeGenerator{result: resultURI}
	svc, _, userID := newTestOrchestrator(t, 3, gen)

	_, err := svc.Submit(context.Background(), userID, pngBytes, "image/png", testCfg)
	require.NoError(t, err)

	_, err = svc.Submit(context.Background(), userID, pngBytes, "image/png", testCfg)
	assert.ErrorIs(t, err, ErrResetRequired)
}

func TestReset_ClearsResultWithoutTouchingBalance(t *testing.T) {
	gen := &fakeGenerator{result: resultURI}
	svc, ledger, userID := newTestOrchestrator(t, 3, gen)

	_, err := svc.Submit(context.Background(), userID, pngBytes, "image/png", testCfg)
	require.NoError(t, err)

	require.NoError(t, svc.Reset(userID))
	sess := svc.Status(userID)
	assert.Equal(t, models.StateIdle, sess.State)
	assert.Nil(t, sess.Result)
	assert.Empty(t, sess.ErrorMessage)

	balance, err := ledger.Balance(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, 2, balance)

	// Reset from ERROR behaves the same and is a no-op on IDLE.
	gen.err = errors.New("boom")
	_, err = svc.Submit(context.Background(), userID, pngBytes, "image/png", testCfg)
	require.Error(t, err)
	require.Equal(t, models.StateError, svc.Status(userID).State)
	require.NoError(t, svc.Reset(userID))
	require.NoError(t, svc.Reset(userID))
	assert.Equal(t, models.StateIdle, svc.Status(userID).State)
}
