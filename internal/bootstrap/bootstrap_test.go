package bootstrap

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stone-age-io/torrentd/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testCreds = "-----BEGIN NATS USER JWT-----\nabc\n------END NATS USER JWT------\n"

func pocketBaseServer(t *testing.T, records int) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/api/collections/users/auth-with-password", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body["password"] != "s3cret" {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"message":"Failed to authenticate."}`))
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"token": "tok-123"})
	})
	mux.HandleFunc("/api/collections/nats_creds/records", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "tok-123" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.Equal(t, "device_id='lab-01'", r.URL.Query().Get("filter"))

		items := []map[string]interface{}{}
		for i := 0; i < records; i++ {
			items = append(items, map[string]interface{}{"device_id": "lab-01", "creds": testCreds})
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"items": items, "totalItems": records})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testAuth(t *testing.T, url string) *config.AuthConfig {
	t.Helper()
	return &config.AuthConfig{
		Type:      "pocketbase",
		CredsFile: filepath.Join(t.TempDir(), "nested", "torrentd.creds"),
		PocketBase: config.PocketBaseConfig{
			URL:            url,
			AuthCollection: "users",
			Identity:       "lab-01@example.com",
			PasswordEnv:    "TORRENTD_TEST_PB_PASSWORD",
			Collection:     "nats_creds",
			DeviceIDField:  "device_id",
			CredsField:     "creds",
		},
	}
}

func TestFetchCredentials(t *testing.T) {
	srv := pocketBaseServer(t, 1)
	auth := testAuth(t, srv.URL)
	t.Setenv("TORRENTD_TEST_PB_PASSWORD", "s3cret")

	require.NoError(t, FetchCredentials(context.Background(), auth, "lab-01", zap.NewNop()))

	data, err := os.ReadFile(auth.CredsFile)
	require.NoError(t, err)
	assert.Equal(t, testCreds, string(data))

	info, err := os.Stat(auth.CredsFile)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
}

func TestFetchCredentialsExistingFile(t *testing.T) {
	auth := testAuth(t, "http://127.0.0.1:1")
	require.NoError(t, os.MkdirAll(filepath.Dir(auth.CredsFile), 0700))
	require.NoError(t, os.WriteFile(auth.CredsFile, []byte("existing"), 0600))

	// No server and no password needed
	require.NoError(t, FetchCredentials(context.Background(), auth, "lab-01", zap.NewNop()))

	data, _ := os.ReadFile(auth.CredsFile)
	assert.Equal(t, "existing", string(data))
}

func TestFetchCredentialsErrors(t *testing.T) {
	tests := []struct {
		name     string
		password string
		records  int
		errText  string
	}{
		{name: "missing password env", password: "", records: 1, errText: "is not set"},
		{name: "wrong password", password: "nope", records: 1, errText: "authentication failed"},
		{name: "no record", password: "s3cret", records: 0, errText: "no record found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := pocketBaseServer(t, tt.records)
			auth := testAuth(t, srv.URL)
			t.Setenv("TORRENTD_TEST_PB_PASSWORD", tt.password)

			err := FetchCredentials(context.Background(), auth, "lab-01", zap.NewNop())
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errText)

			_, statErr := os.Stat(auth.CredsFile)
			assert.True(t, os.IsNotExist(statErr), "no creds file on failure")
		})
	}
}
