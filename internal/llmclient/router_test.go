package llmclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/atlas-cli/api/schemas"
)

// -- Test Setup Helper --

// setupRouter creates a standard LLMRouter instance for testing, along with its mocks and a log observer.
func setupRouter(t *testing.T) (*LLMRouter, *MockLLMClient, *MockLLMClient, *observer.ObservedLogs) {
	t.Helper()
	loggerCore, observedLogs := observer.New(zap.DebugLevel)

	fastClient := &MockLLMClient{Name: "FastClient"}
	powerfulClient := &MockLLMClient{Name: "PowerfulClient"}

	router, err := NewLLMRouter(zap.New(loggerCore), fastClient, powerfulClient, nil)
	require.NoError(t, err, "NewLLMRouter should initialize successfully")
	return router, fastClient, powerfulClient, observedLogs
}

// -- Test Cases: Initialization --

// Verifies error handling when required clients are nil.
func TestNewLLMRouter_MissingClients(t *testing.T) {
	logger := setupTestLogger(t)
	validClient := new(MockLLMClient)

	tests := []struct {
		name     string
		fast     schemas.LLMClient
		powerful schemas.LLMClient
	}{
		{"Missing Fast Client", nil, validClient},
		{"Missing Powerful Client", validClient, nil},
		{"Missing Both Clients", nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router, err := NewLLMRouter(logger, tt.fast, tt.powerful, nil)
			assert.Nil(t, router)
			assert.ErrorContains(t, err, "both fast and powerful tier clients must be provided")
		})
	}
}

// -- Test Cases: Routing Logic --

// Verifies requests are routed by tier, defaulting to powerful.
func TestGenerate_Routing(t *testing.T) {
	tests := []struct {
		name     string
		tier     schemas.ModelTier
		wantFast bool
	}{
		{"fast tier", schemas.TierFast, true},
		{"powerful tier", schemas.TierPowerful, false},
		{"unspecified tier", "", false},
	}

	for _, tc := range tests {
		tt := tc
		t.Run(tt.name, func(t *testing.T) {
			router, fastClient, powerfulClient, observedLogs := setupRouter(t)
			ctx := context.Background()
			req := schemas.GenerationRequest{Tier: tt.tier, UserPrompt: "prompt"}

			target, other := powerfulClient, fastClient
			if tt.wantFast {
				target, other = fastClient, powerfulClient
			}
			target.On("Generate", ctx, req).Return("response", nil).Once()

			response, err := router.Generate(ctx, req)
			require.NoError(t, err)
			assert.Equal(t, "response", response)
			target.AssertExpectations(t)
			other.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)

			require.Equal(t, 1, observedLogs.Len())
			assert.Equal(t, "Routing LLM request", observedLogs.All()[0].Message)
		})
	}
}

// Verifies client errors propagate unchanged.
func TestGenerate_PropagatesError(t *testing.T) {
	router, fastClient, _, _ := setupRouter(t)
	boom := errors.New("upstream down")
	fastClient.On("Generate", mock.Anything, mock.Anything).Return("", boom)

	_, err := router.Generate(context.Background(), schemas.GenerationRequest{Tier: schemas.TierFast})
	assert.ErrorIs(t, err, boom)
}

// Verifies unknown tiers are rejected.
func TestGenerate_UnknownTier(t *testing.T) {
	router, _, _, _ := setupRouter(t)
	_, err := router.Generate(context.Background(), schemas.GenerationRequest{Tier: "turbo"})
	assert.ErrorContains(t, err, "no LLM client configured for tier: turbo")
}

// Verifies the limiter wait honours cancellation.
func TestGenerate_RateLimited(t *testing.T) {
	fast, powerful := new(MockLLMClient), new(MockLLMClient)
	limiter := rate.NewLimiter(rate.Every(time.Hour), 1)
	router, err := NewLLMRouter(nil, fast, powerful, limiter)
	require.NoError(t, err)
	powerful.On("Generate", mock.Anything, mock.Anything).Return("first", nil).Once()

	out, err := router.Generate(context.Background(), schemas.GenerationRequest{})
	require.NoError(t, err)
	assert.Equal(t, "first", out)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = router.Generate(ctx, schemas.GenerationRequest{})
	assert.ErrorContains(t, err, "rate limiter")
	powerful.AssertNumberOfCalls(t, "Generate", 1)
}

// Verifies Close reaches both clients, and a shared client only once.
func TestRouter_Close(t *testing.T) {
	router, fastClient, powerfulClient, _ := setupRouter(t)
	fastClient.On("Close").Return(nil).Once()
	powerfulClient.On("Close").Return(errors.New("close failed")).Once()
	assert.ErrorContains(t, router.Close(), "close failed")
	fastClient.AssertExpectations(t)
	powerfulClient.AssertExpectations(t)

	shared := new(MockLLMClient)
	shared.On("Close").Return(nil).Once()
	r, err := NewLLMRouter(nil, shared, shared, nil)
	require.NoError(t, err)
	assert.NoError(t, r.Close())
	shared.AssertNumberOfCalls(t, "Close", 1)
}
