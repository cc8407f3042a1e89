package version

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompareVersions(t *testing.T) {
	tests := []struct {
		current, latest string
		want            bool
	}{
		{"1.0.0", "v1.0.1", true},
		{"v1.2.0", "v1.10.0", true},
		{"1.2", "1.2.0", false},
		{"2.0.0", "1.9.9", false},
		{"1.0.0-rc1", "1.0.0", false},
		{"1.0.0+abc", "v1.1.0-beta", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, compareVersions(tt.current, tt.latest), "%s -> %s", tt.current, tt.latest)
	}
}

func withReleaseServer(t *testing.T, h http.HandlerFunc) {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	old := releasesURL
	releasesURL = srv.URL
	t.Cleanup(func() { releasesURL = old })
}

func TestCheckForUpdates(t *testing.T) {
	withReleaseServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"tag_name":"v0.3.0","html_url":"https://example.invalid/v0.3.0"}`))
	})

	info, err := checkForUpdates(context.Background(), "0.2.1")
	require.NoError(t, err)
	assert.True(t, info.Available)
	assert.Equal(t, "v0.3.0", info.LatestVersion)
	assert.Equal(t, "0.2.1", info.CurrentVersion)
	assert.Equal(t, "https://example.invalid/v0.3.0", info.URL)
}

func TestCheckForUpdatesStatusError(t *testing.T) {
	withReleaseServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	info, err := checkForUpdates(context.Background(), "0.2.1")
	require.Error(t, err)
	assert.False(t, info.Available)
}

func TestDevBuildSkipsCheck(t *testing.T) {
	withReleaseServer(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("dev builds must not call the release API")
	})

	info, err := checkForUpdates(context.Background(), "dev")
	require.NoError(t, err)
	assert.False(t, info.Available)
}

func TestFullVersion(t *testing.T) {
	oldVersion, oldCommit := Version, GitCommit
	t.Cleanup(func() { Version, GitCommit = oldVersion, oldCommit })

	Version, GitCommit = "dev", "0123456789abcdef"
	assert.Equal(t, "dev+01234567", FullVersion())

	Version = "1.4.0"
	assert.Equal(t, "1.4.0", FullVersion())
	assert.Equal(t, "1.4.0", ShortVersion())
}
