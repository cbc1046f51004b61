package ai

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) Name() string { return "gemini" }

func (m *mockProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	args := m.Called(req.Model)
	resp, _ := args.Get(0).(*Response)
	return resp, args.Error(1)
}

type countingProvider struct {
	mockProvider
}

func (c *countingProvider) CountTokens(ctx context.Context, model, system string, parts []Part) (int, error) {
	args := c.Called(model)
	return args.Int(0), args.Error(1)
}

func TestTieredRetriesUnsupportedModelOnce(t *testing.T) {
	p := &mockProvider{}
	p.On("Generate", "gemini-next").Return(nil, errors.New("models/gemini-next is not found for API version v1beta")).Once()
	p.On("Generate", DefaultGeminiModel).Return(&Response{Text: `{"action":"done"}`, PromptTokens: 10, ResponseTokens: 3}, nil).Once()

	m := NewTiered(p, "gemini-next", "", nil, WithEstimator(nil))
	resp, err := m.Generate(context.Background(), "sys", Text("hi"))
	require.NoError(t, err)
	assert.Equal(t, `{"action":"done"}`, resp.Text)
	assert.Equal(t, DefaultGeminiModel, resp.Model)
	p.AssertExpectations(t)
}

func TestTieredDoesNotRetryOtherErrors(t *testing.T) {
	p := &mockProvider{}
	p.On("Generate", "primary").Return(nil, errors.New("quota exceeded")).Once()

	m := NewTiered(p, "primary", "stable", nil, WithEstimator(nil))
	_, err := m.Generate(context.Background(), "", Text("hi"))
	require.Error(t, err)
	p.AssertNumberOfCalls(t, "Generate", 1)
}

func TestTieredFallbackFailureIsReturned(t *testing.T) {
	p := &mockProvider{}
	p.On("Generate", "primary").Return(nil, errors.New("model does not support images")).Once()
	p.On("Generate", "stable").Return(nil, errors.New("stable also unsupported")).Once()

	m := NewTiered(p, "primary", "stable", nil, WithEstimator(nil))
	_, err := m.Generate(context.Background(), "", Text("hi"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "stable also unsupported")
	p.AssertNumberOfCalls(t, "Generate", 2)
}

func TestTieredSameModelNoRetry(t *testing.T) {
	p := &mockProvider{}
	p.On("Generate", DefaultGeminiModel).Return(nil, errors.New("not found")).Once()

	m := NewTiered(p, "", "", nil, WithEstimator(nil))
	assert.Equal(t, DefaultGeminiModel, m.Primary())
	_, err := m.Generate(context.Background(), "", Text("hi"))
	require.Error(t, err)
	p.AssertNumberOfCalls(t, "Generate", 1)
}

func TestTieredFillsMissingUsage(t *testing.T) {
	p := &mockProvider{}
	p.On("Generate", "m").Return(&Response{Text: "twelve chars"}, nil).Once()

	m := NewTiered(p, "m", "m", nil, WithEstimator(nil))
	resp, err := m.Generate(context.Background(), "sixteen  chars!!", Text("abcd"), JPEG([]byte{1, 2, 3}))
	require.NoError(t, err)
	assert.Equal(t, 4+1+ImageTokens, resp.PromptTokens)
	assert.Equal(t, 3, resp.ResponseTokens)
}

func TestCountTokensPrefersProvider(t *testing.T) {
	p := &countingProvider{}
	p.On("CountTokens", "m").Return(77, nil).Once()

	m := NewTiered(p, "m", "m", nil, WithEstimator(nil))
	assert.Equal(t, 77, m.CountTokens(context.Background(), "", Text("hello")))

	p.On("CountTokens", "m").Return(0, errors.New("boom")).Once()
	assert.Equal(t, Rough("hello world!"), m.CountTokens(context.Background(), "", Text("hello world!")))
}

func TestIsUnsupportedModel(t *testing.T) {
	tests := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("404 model Not Found"), true},
		{errors.New("this model does not support vision"), true},
		{errors.New("Unsupported model id"), true},
		{errors.New("rate limited"), false},
		{fmt.Errorf("wrapped: %w", context.Canceled), false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsUnsupportedModel(tt.err), "%v", tt.err)
	}
}

func TestBuildExtractionPromptUsesGuidance(t *testing.T) {
	p := BuildExtractionPrompt("find the ceo", "https://acme.test/about", "About Acme", "company", "HEADING: Acme")
	assert.Contains(t, p, "leadership")
	assert.Contains(t, p, "HEADING: Acme")

	p = BuildExtractionPrompt("x", "u", "t", "weird", "c")
	assert.Contains(t, p, "main facts relevant")
}
