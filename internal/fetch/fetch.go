// Package fetch installs tools from release archives when no package manager
// can provide them. It resolves a download URL (fixed, or looked up from a
// GitHub release by OS/architecture), downloads it with a bounded fixed-delay
// retry, extracts the archive, and places the executable on the PATH.
package fetch

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"provision-host/internal/detect"
	"provision-host/internal/logger"
	"provision-host/internal/registry"
)

// Installer downloads and installs release artifacts. BinDir and the retry
// knobs have working defaults; tests point them elsewhere.
type Installer struct {
	Client *http.Client

	// BinDir receives installed executables. Empty means /usr/local/bin
	// with ~/.local/bin as a permission fallback.
	BinDir string

	// Downloads retry a fixed number of times with a fixed delay between
	// attempts. Deliberately not exponential: a flaky mirror either
	// recovers within seconds or not at all.
	Attempts int
	Delay    time.Duration

	// APIBase is the GitHub API root, swappable in tests.
	APIBase string

	sleep func(time.Duration)
}

// New returns an Installer with production defaults.
func New() *Installer {
	return &Installer{
		Client:   &http.Client{Timeout: 2 * time.Minute},
		Attempts: 3,
		Delay:    2 * time.Second,
		APIBase:  "https://api.github.com",
		sleep:    time.Sleep,
	}
}

// Install satisfies a tool from its declared fallback source.
func (f *Installer) Install(tool registry.Tool, system *detect.SystemProfile) error {
	if tool.Fallback == nil {
		return fmt.Errorf("%s declares no fallback source", tool.Name)
	}

	url := tool.Fallback.URL
	if url == "" {
		var err error
		url, err = f.resolveReleaseAsset(tool.Fallback, system)
		if err != nil {
			return err
		}
	}

	tmpDir, err := os.MkdirTemp("", "provision-host-*")
	if err != nil {
		return fmt.Errorf("failed to create staging directory: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	archive := filepath.Join(tmpDir, path.Base(url))
	if err := f.downloadFile(url, archive); err != nil {
		return err
	}

	binary, err := f.extractBinary(archive, tmpDir, tool.Name)
	if err != nil {
		return err
	}
	return f.installBinary(binary)
}

// githubRelease is the slice of the GitHub release JSON this package reads.
type githubRelease struct {
	TagName string `json:"tag_name"`
	Assets  []struct {
		Name               string `json:"name"`
		BrowserDownloadURL string `json:"browser_download_url"`
	} `json:"assets"`
}

// archPatterns lists the spellings release assets use per normalized
// architecture.
var archPatterns = map[string][]string{
	"x86_64": {"x86_64", "amd64"},
	"i386":   {"i386", "i686", "386"},
	"arm64":  {"arm64", "aarch64"},
	"armhf":  {"armv7", "armhf", "arm"},
}

var archiveSuffixes = []string{".tar.gz", ".tgz", ".tar.bz2", ".tar.xz", ".zip", ".7z"}

// resolveReleaseAsset finds the release asset matching the host's OS and
// architecture.
func (f *Installer) resolveReleaseAsset(fb *registry.Fallback, system *detect.SystemProfile) (string, error) {
	url := fmt.Sprintf("%s/repos/%s/releases/tags/%s", f.APIBase, fb.Repo, fb.Tag)
	logger.Debug("[DEBUG] Fetching release metadata from %s\n", url)

	resp, err := f.Client.Get(url)
	if err != nil {
		return "", fmt.Errorf("failed to fetch release %s@%s: %w", fb.Repo, fb.Tag, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("release fetch for %s@%s returned HTTP %d", fb.Repo, fb.Tag, resp.StatusCode)
	}

	var release githubRelease
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return "", fmt.Errorf("failed to decode release JSON for %s: %w", fb.Repo, err)
	}

	osName := "linux"
	if system.Family == detect.FamilyDarwin {
		osName = "darwin"
	}
	patterns := archPatterns[system.Arch]
	if patterns == nil {
		patterns = []string{runtime.GOARCH}
	}

	for _, asset := range release.Assets {
		name := strings.ToLower(asset.Name)
		if !hasAnySuffix(name, archiveSuffixes) {
			continue
		}
		if !strings.Contains(name, osName) && !(osName == "darwin" && strings.Contains(name, "macos")) {
			continue
		}
		for _, arch := range patterns {
			if strings.Contains(name, arch) {
				logger.Debug("[DEBUG] Matched release asset %s\n", asset.Name)
				return asset.BrowserDownloadURL, nil
			}
		}
	}
	return "", fmt.Errorf("no %s/%s asset in release %s", osName, system.Arch, release.TagName)
}

func hasAnySuffix(s string, suffixes []string) bool {
	for _, suffix := range suffixes {
		if strings.HasSuffix(s, suffix) {
			return true
		}
	}
	return false
}

// downloadFile fetches url into destPath, retrying on any failure with the
// configured fixed delay. A partial file from a failed attempt is truncated
// by the next one.
func (f *Installer) downloadFile(url, destPath string) error {
	var lastErr error
	for attempt := 1; attempt <= f.Attempts; attempt++ {
		lastErr = f.downloadOnce(url, destPath)
		if lastErr == nil {
			logger.Debug("[DEBUG] Downloaded %s to %s\n", url, destPath)
			return nil
		}
		logger.Warn("[WARN] Download attempt %d/%d failed: %v\n", attempt, f.Attempts, lastErr)
		if attempt < f.Attempts {
			f.sleep(f.Delay)
		}
	}
	return fmt.Errorf("download of %s failed after %d attempts: %w", url, f.Attempts, lastErr)
}

func (f *Installer) downloadOnce(url, destPath string) error {
	resp, err := f.Client.Get(url)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}

	out, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", destPath, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, resp.Body); err != nil {
		return fmt.Errorf("failed to write %s: %w", destPath, err)
	}
	return nil
}

// extractBinary unpacks the archive and locates the tool's executable inside
// it. A bare (non-archive) download is treated as the binary itself.
func (f *Installer) extractBinary(archive, dest, toolName string) (string, error) {
	if !hasAnySuffix(strings.ToLower(archive), archiveSuffixes) {
		return archive, nil
	}
	root, err := Extract(archive, dest)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(root)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return root, nil
	}
	return findExecutable(root, toolName)
}

// findExecutable walks the extraction tree for a regular executable file whose
// name starts with the tool's name.
func findExecutable(root, toolName string) (string, error) {
	var found string
	err := filepath.WalkDir(root, func(p string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() || found != "" {
			return err
		}
		if !strings.HasPrefix(d.Name(), toolName) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.Mode().IsRegular() && info.Mode().Perm()&0111 != 0 {
			found = p
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if found == "" {
		return "", fmt.Errorf("no executable named %s* found under %s", toolName, root)
	}
	logger.Debug("[DEBUG] Found executable %s\n", found)
	return found, nil
}

// installBinary copies the executable into the bin directory, preferring
// /usr/local/bin and falling back to ~/.local/bin when that is not writable.
func (f *Installer) installBinary(binary string) error {
	dirs := []string{f.BinDir}
	if f.BinDir == "" {
		home, _ := os.UserHomeDir()
		dirs = []string{"/usr/local/bin", filepath.Join(home, ".local", "bin")}
	}

	var lastErr error
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			lastErr = err
			continue
		}
		dest := filepath.Join(dir, filepath.Base(binary))
		if err := copyExecutable(binary, dest); err != nil {
			lastErr = err
			continue
		}
		logger.Info("[INFO] Installed %s\n", dest)
		return nil
	}
	return fmt.Errorf("could not place binary in any bin directory: %w", lastErr)
}

func copyExecutable(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0755)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, in)
	return err
}
