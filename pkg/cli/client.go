package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
)

// apiError is the daemon's JSON error envelope
type apiError struct {
	Error string `json:"error"`
}

// getJSON fetches url and decodes the response into dest
func getJSON(url string, dest interface{}) error {
	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("failed to reach server: %w", err)
	}
	defer resp.Body.Close()
	return decodeResponse(resp, dest)
}

// postJSON posts body as JSON to url and decodes the response into dest
func postJSON(url string, body, dest interface{}) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	resp, err := http.Post(url, "application/json", reader)
	if err != nil {
		return fmt.Errorf("failed to reach server: %w", err)
	}
	defer resp.Body.Close()
	return decodeResponse(resp, dest)
}

func decodeResponse(resp *http.Response, dest interface{}) error {
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr apiError
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
			return fmt.Errorf("server error (%d): %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("server error: %s", resp.Status)
	}
	if dest == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(dest); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
