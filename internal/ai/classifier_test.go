package ai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/feedpilot/feedpilot/internal/circuitbreaker"
)

func chatServer(t *testing.T, answer string, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)

		w.WriteHeader(status)
		if status == http.StatusOK {
			json.NewEncoder(w).Encode(chatResponse{Choices: []struct {
				Message chatMessage `json:"message"`
			}{{Message: chatMessage{Role: "assistant", Content: answer}}}})
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClassifyYes(t *testing.T) {
	srv := chatServer(t, "Yes", http.StatusOK)
	c := NewClassifier(Config{BaseURL: srv.URL, APIKey: "test-key"}, zap.NewNop())

	matched, err := c.Classify(context.Background(), `{"description":"cat"}`, "is this about cats?")
	require.NoError(t, err)
	assert.True(t, matched)
}

func TestClassifyNo(t *testing.T) {
	srv := chatServer(t, "no, it is not", http.StatusOK)
	c := NewClassifier(Config{BaseURL: srv.URL, APIKey: "test-key"}, zap.NewNop())

	matched, err := c.Classify(context.Background(), `{"description":"dog"}`, "is this about cats?")
	require.NoError(t, err)
	assert.False(t, matched)
}

func TestClassifyAmbiguousAnswerIsNo(t *testing.T) {
	srv := chatServer(t, "maybe", http.StatusOK)
	c := NewClassifier(Config{BaseURL: srv.URL, APIKey: "test-key"}, zap.NewNop())

	matched, err := c.Classify(context.Background(), `{}`, "cats?")
	require.NoError(t, err)
	assert.False(t, matched)
}

func TestClassifyServerError(t *testing.T) {
	srv := chatServer(t, "", http.StatusInternalServerError)
	c := NewClassifier(Config{BaseURL: srv.URL, APIKey: "test-key"}, zap.NewNop())

	_, err := c.Classify(context.Background(), `{}`, "cats?")
	assert.Error(t, err)
}

func TestClassifyBreakerShedsAfterRepeatedFailures(t *testing.T) {
	srv := chatServer(t, "", http.StatusBadGateway)
	c := NewClassifier(Config{BaseURL: srv.URL, APIKey: "test-key"}, zap.NewNop())

	threshold := circuitbreaker.DefaultConfig().FailureThreshold
	for i := 0; i < threshold; i++ {
		_, err := c.Classify(context.Background(), `{}`, "cats?")
		require.Error(t, err)
	}

	_, err := c.Classify(context.Background(), `{}`, "cats?")
	assert.ErrorIs(t, err, circuitbreaker.ErrOpen)
}
