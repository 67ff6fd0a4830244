package cli

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentpass/agentpass/pkg/identity"
)

func TestCreateCommand(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/passports", r.URL.Path)

		var req map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "owner@example.com", req["owner_email"])
		assert.Equal(t, "ci-bot", req["name"])

		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(identity.Passport{
			PassportID: "ap_0123456789ab",
			PublicKey:  "pubkey-base64",
			OwnerEmail: req["owner_email"],
			Name:       req["name"],
			Status:     identity.StatusActive,
			CreatedAt:  time.Now().UTC(),
		})
	}))
	defer server.Close()

	output, err := captureStdout(t, func() error {
		return runCreate([]string{
			"-owner", "owner@example.com",
			"-name", "ci-bot",
			"-server", server.URL,
		})
	})

	require.NoError(t, err)
	assert.Contains(t, output, "Created passport ap_0123456789ab")
	assert.Contains(t, output, "pubkey-base64")
}

func TestCreateCommand_MissingArgs(t *testing.T) {
	err := runCreate([]string{"-owner", "owner@example.com"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "owner and name are required")
}

func TestListCommand(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/passports", r.URL.Path)
		json.NewEncoder(w).Encode([]map[string]string{
			{"passport_id": "ap_0123456789ab", "name": "ci-bot", "status": "active"},
			{"passport_id": "ap_ba9876543210", "name": "crawler", "status": "revoked"},
		})
	}))
	defer server.Close()

	output, err := captureStdout(t, func() error {
		return runList([]string{"-server", server.URL})
	})

	require.NoError(t, err)
	assert.Contains(t, output, "ap_0123456789ab")
	assert.Contains(t, output, "ci-bot")
	assert.Contains(t, output, "revoked")
}

func TestListCommand_Empty(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]map[string]string{})
	}))
	defer server.Close()

	output, err := captureStdout(t, func() error {
		return runList([]string{"-server", server.URL})
	})

	require.NoError(t, err)
	assert.Contains(t, output, "No passports registered")
}

func TestRevokeCommand(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/passports/ap_0123456789ab/revoke", r.URL.Path)
		json.NewEncoder(w).Encode(identity.Passport{
			PassportID: "ap_0123456789ab",
			Status:     identity.StatusRevoked,
		})
	}))
	defer server.Close()

	output, err := captureStdout(t, func() error {
		return runRevoke([]string{"-passport", "ap_0123456789ab", "-server", server.URL})
	})

	require.NoError(t, err)
	assert.Contains(t, output, "Revoked passport ap_0123456789ab")
}

func TestRevokeCommand_InvalidID(t *testing.T) {
	err := runRevoke([]string{"-passport", "not-a-passport"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid passport id")
}

func TestServerErrorSurfaced(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"error": "passport not found"})
	}))
	defer server.Close()

	err := runRevoke([]string{"-passport", "ap_0123456789ab", "-server", server.URL})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server error (404): passport not found")
}
