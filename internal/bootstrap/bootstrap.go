package bootstrap

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/stone-age-io/torrentd/internal/config"
	"go.uber.org/zap"
)

const httpTimeout = 15 * time.Second

// authResponse is the PocketBase auth-with-password response
type authResponse struct {
	Token string `json:"token"`
}

// FetchCredentials makes sure the NATS .creds file exists, downloading it from
// PocketBase on first boot. An existing file is left untouched.
func FetchCredentials(ctx context.Context, auth *config.AuthConfig, deviceID string, logger *zap.Logger) error {
	credsPath := auth.CredsFile
	pb := auth.PocketBase

	if _, err := os.Stat(credsPath); err == nil {
		logger.Info("Credentials file exists, skipping bootstrap", zap.String("path", credsPath))
		return nil
	}

	logger.Info("Credentials file not found, bootstrapping from PocketBase",
		zap.String("path", credsPath),
		zap.String("pocketbase_url", pb.URL))

	password := os.Getenv(pb.PasswordEnv)
	if password == "" {
		return fmt.Errorf("bootstrap: environment variable %s is not set or empty", pb.PasswordEnv)
	}

	client := &http.Client{Timeout: httpTimeout}

	token, err := authenticate(ctx, client, pb, password)
	if err != nil {
		return fmt.Errorf("bootstrap: authentication failed: %w", err)
	}
	logger.Info("Authenticated with PocketBase")

	creds, err := fetchCredsRecord(ctx, client, pb, token, deviceID)
	if err != nil {
		return fmt.Errorf("bootstrap: failed to fetch credentials: %w", err)
	}

	if err := writeCredsFile(credsPath, creds); err != nil {
		return fmt.Errorf("bootstrap: failed to write credentials file: %w", err)
	}
	logger.Info("Credentials file written", zap.String("path", credsPath))

	return nil
}

func authenticate(ctx context.Context, client *http.Client, pb config.PocketBaseConfig, password string) (string, error) {
	endpoint := fmt.Sprintf("%s/api/collections/%s/auth-with-password",
		strings.TrimRight(pb.URL, "/"), url.PathEscape(pb.AuthCollection))

	payload, err := json.Marshal(map[string]string{
		"identity": pb.Identity,
		"password": password,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(string(payload)))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("auth returned %d: %s", resp.StatusCode, string(body))
	}

	var authResp authResponse
	if err := json.NewDecoder(resp.Body).Decode(&authResp); err != nil {
		return "", fmt.Errorf("failed to parse auth response: %w", err)
	}
	if authResp.Token == "" {
		return "", fmt.Errorf("auth response contained no token")
	}

	return authResp.Token, nil
}

// fetchCredsRecord looks up the device's record and returns its creds field
func fetchCredsRecord(ctx context.Context, client *http.Client, pb config.PocketBaseConfig, token, deviceID string) (string, error) {
	query := url.Values{}
	query.Set("filter", fmt.Sprintf("%s='%s'", pb.DeviceIDField, deviceID))
	query.Set("perPage", "1")

	endpoint := fmt.Sprintf("%s/api/collections/%s/records?%s",
		strings.TrimRight(pb.URL, "/"), url.PathEscape(pb.Collection), query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", token)

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("request returned %d: %s", resp.StatusCode, string(body))
	}

	var result struct {
		Items      []map[string]interface{} `json:"items"`
		TotalItems int                      `json:"totalItems"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}

	if result.TotalItems == 0 || len(result.Items) == 0 {
		return "", fmt.Errorf("no record found for %s='%s' in collection '%s'", pb.DeviceIDField, deviceID, pb.Collection)
	}

	value, ok := result.Items[0][pb.CredsField].(string)
	if !ok || value == "" {
		return "", fmt.Errorf("field '%s' is missing, empty or not a string", pb.CredsField)
	}

	return value, nil
}

// writeCredsFile writes the creds owner-only, creating parent directories
func writeCredsFile(path, content string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}

	return nil
}
