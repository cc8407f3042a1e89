package version

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const updateCheckTimeout = 3 * time.Second

// overridden in tests
var releasesURL = "https://api.github.com/repos/alpindale/smi-dashboard/releases/latest"

type UpdateInfo struct {
	Available      bool
	LatestVersion  string
	CurrentVersion string
	URL            string
}

type githubRelease struct {
	TagName string `json:"tag_name"`
	HTMLURL string `json:"html_url"`
}

// CheckForUpdates compares the running version with the latest release.
// Development builds never report an update.
func CheckForUpdates(ctx context.Context) (UpdateInfo, error) {
	return checkForUpdates(ctx, Version)
}

func checkForUpdates(ctx context.Context, currentVersion string) (UpdateInfo, error) {
	info := UpdateInfo{CurrentVersion: currentVersion}
	if currentVersion == "dev" {
		return info, nil
	}

	release, err := fetchLatestRelease(ctx)
	if err != nil {
		return info, err
	}

	info.LatestVersion = release.TagName
	info.URL = release.HTMLURL
	info.Available = compareVersions(currentVersion, release.TagName)
	return info, nil
}

func fetchLatestRelease(ctx context.Context) (githubRelease, error) {
	var release githubRelease

	ctx, cancel := context.WithTimeout(ctx, updateCheckTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, releasesURL, nil)
	if err != nil {
		return release, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return release, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return release, fmt.Errorf("github api returned status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return release, err
	}
	return release, nil
}

// compareVersions reports whether latest is newer than current, looking at
// major.minor.patch only.
func compareVersions(current, latest string) bool {
	current = strings.TrimPrefix(current, "v")
	latest = strings.TrimPrefix(latest, "v")

	currentBase := strings.Split(strings.Split(current, "-")[0], "+")[0]
	latestBase := strings.Split(strings.Split(latest, "-")[0], "+")[0]

	currentParts := strings.Split(currentBase, ".")
	latestParts := strings.Split(latestBase, ".")

	for len(currentParts) < 3 {
		currentParts = append(currentParts, "0")
	}
	for len(latestParts) < 3 {
		latestParts = append(latestParts, "0")
	}

	for i := 0; i < 3; i++ {
		var currentNum, latestNum int
		fmt.Sscanf(currentParts[i], "%d", &currentNum)
		fmt.Sscanf(latestParts[i], "%d", &latestNum)

		if latestNum > currentNum {
			return true
		} else if latestNum < currentNum {
			return false
		}
	}

	return false
}
