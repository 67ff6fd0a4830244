package cli

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentpass/agentpass/pkg/escalation"
)

func TestEscalationsCommand(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/escalations", r.URL.Path)
		json.NewEncoder(w).Encode([]*escalation.Escalation{
			{
				ID:          "esc-1",
				PassportID:  "ap_0123456789ab",
				Service:     "github.com",
				CaptchaType: "recaptcha-v2",
				Status:      escalation.CaptchaPending,
				CreatedAt:   time.Now().UTC(),
			},
		})
	}))
	defer server.Close()

	output, err := captureStdout(t, func() error {
		return runEscalations([]string{"-server", server.URL})
	})

	require.NoError(t, err)
	assert.Contains(t, output, "esc-1")
	assert.Contains(t, output, "github.com")
	assert.Contains(t, output, "recaptcha-v2")
}

func TestEscalationsCommand_PassportFilter(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "ap_0123456789ab", r.URL.Query().Get("passport_id"))
		json.NewEncoder(w).Encode([]*escalation.Escalation{})
	}))
	defer server.Close()

	output, err := captureStdout(t, func() error {
		return runEscalations([]string{"-passport", "ap_0123456789ab", "-server", server.URL})
	})

	require.NoError(t, err)
	assert.Contains(t, output, "No escalations")
}

func TestResolveCommand(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/escalations/esc-1/resolve", r.URL.Path)
		now := time.Now().UTC()
		json.NewEncoder(w).Encode(&escalation.Escalation{
			ID:         "esc-1",
			Status:     escalation.CaptchaResolved,
			ResolvedAt: &now,
		})
	}))
	defer server.Close()

	output, err := captureStdout(t, func() error {
		return runResolve([]string{"-id", "esc-1", "-server", server.URL})
	})

	require.NoError(t, err)
	assert.Contains(t, output, "Escalation esc-1 resolved")
}

func TestResolveCommand_MissingID(t *testing.T) {
	err := runResolve([]string{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "escalation id is required")
}
