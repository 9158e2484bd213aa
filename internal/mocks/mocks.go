// File: internal/mocks/mocks.go
package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/xkilldash9x/atlas-cli/api/schemas"
	"github.com/xkilldash9x/atlas-cli/internal/config"
)

var (
	_ config.Interface        = (*MockConfig)(nil)
	_ schemas.LLMClient       = (*MockLLMClient)(nil)
	_ schemas.Oracle          = (*MockOracle)(nil)
	_ schemas.SessionStore    = (*MockSessionStore)(nil)
	_ schemas.BrowserProvider = (*MockBrowserProvider)(nil)
)

// -- Config Mock --

// MockConfig mocks the config.Interface.
type MockConfig struct {
	mock.Mock
}

// --- Getters ---

func (m *MockConfig) Logger() config.LoggerConfig {
	args := m.Called()
	return args.Get(0).(config.LoggerConfig)
}

func (m *MockConfig) Agent() config.AgentConfig {
	args := m.Called()
	return args.Get(0).(config.AgentConfig)
}

func (m *MockConfig) Browser() config.BrowserConfig {
	args := m.Called()
	return args.Get(0).(config.BrowserConfig)
}

func (m *MockConfig) Network() config.NetworkConfig {
	args := m.Called()
	return args.Get(0).(config.NetworkConfig)
}

func (m *MockConfig) Security() config.SecurityConfig {
	args := m.Called()
	return args.Get(0).(config.SecurityConfig)
}

func (m *MockConfig) Challenge() config.ChallengeConfig {
	args := m.Called()
	return args.Get(0).(config.ChallengeConfig)
}

func (m *MockConfig) Heal() config.HealConfig {
	args := m.Called()
	return args.Get(0).(config.HealConfig)
}

func (m *MockConfig) LLM() config.LLMRouterConfig {
	args := m.Called()
	return args.Get(0).(config.LLMRouterConfig)
}

func (m *MockConfig) Metrics() config.MetricsConfig {
	args := m.Called()
	return args.Get(0).(config.MetricsConfig)
}

// --- Setters ---

func (m *MockConfig) SetAgentMaxSteps(n int) {
	m.Called(n)
}

func (m *MockConfig) SetBrowserHeadless(b bool) {
	m.Called(b)
}

func (m *MockConfig) SetBrowserDriver(d string) {
	m.Called(d)
}

func (m *MockConfig) SetBrowserHumanoidEnabled(b bool) {
	m.Called(b)
}

// -- LLM Client Mock --

// MockLLMClient mocks the schemas.LLMClient interface.
type MockLLMClient struct {
	mock.Mock
}

func (m *MockLLMClient) Generate(ctx context.Context, req schemas.GenerationRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

func (m *MockLLMClient) Close() error {
	return m.Called().Error(0)
}

// -- Oracle Mock --

// MockOracle mocks the schemas.Oracle interface.
type MockOracle struct {
	mock.Mock
}

func (m *MockOracle) GenerateAction(ctx context.Context, observation string, goals []string, history []schemas.HistoryEntry) (schemas.ActionProposal, error) {
	args := m.Called(ctx, observation, goals, history)
	return args.Get(0).(schemas.ActionProposal), args.Error(1)
}

func (m *MockOracle) AnalyzeImage(ctx context.Context, png []byte, prompt string) (string, error) {
	args := m.Called(ctx, png, prompt)
	return args.String(0), args.Error(1)
}

// -- Session Store Mock --

// MockSessionStore mocks the schemas.SessionStore interface.
type MockSessionStore struct {
	mock.Mock
}

func (m *MockSessionStore) Save(ctx context.Context, s *schemas.Session) error {
	return m.Called(ctx, s).Error(0)
}

func (m *MockSessionStore) Get(ctx context.Context, id string) (*schemas.Session, error) {
	args := m.Called(ctx, id)
	if s, ok := args.Get(0).(*schemas.Session); ok {
		return s, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockSessionStore) List(ctx context.Context) ([]*schemas.Session, error) {
	args := m.Called(ctx)
	if list, ok := args.Get(0).([]*schemas.Session); ok {
		return list, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockSessionStore) Delete(ctx context.Context, id string) error {
	return m.Called(ctx, id).Error(0)
}

// -- Browser Provider Mock --

// MockBrowserProvider mocks the schemas.BrowserProvider interface.
type MockBrowserProvider struct {
	mock.Mock
}

func (m *MockBrowserProvider) NewPage(ctx context.Context) (schemas.Page, error) {
	args := m.Called(ctx)
	if p, ok := args.Get(0).(schemas.Page); ok {
		return p, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockBrowserProvider) Shutdown(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}
