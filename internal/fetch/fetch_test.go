package fetch

import (
	"archive/tar"
	"archive/zip"
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"provision-host/internal/detect"
	"provision-host/internal/logger"
	"provision-host/internal/registry"
)

func TestMain(m *testing.M) {
	logger.SetOutput(io.Discard)
	os.Exit(m.Run())
}

// tarGzWith builds an in-memory .tar.gz archive from name→content pairs.
// Files whose name ends in the tool binary get the executable bit.
func tarGzWith(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)
	for name, content := range files {
		mode := int64(0644)
		if filepath.Ext(name) == "" {
			mode = 0755
		}
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name: name, Mode: mode, Size: int64(len(content)), Typeflag: tar.TypeReg,
		}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gw.Close())
	return buf.Bytes()
}

func zipWith(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		hdr := &zip.FileHeader{Name: name, Method: zip.Deflate}
		if filepath.Ext(name) == "" {
			hdr.SetMode(0755)
		}
		w, err := zw.CreateHeader(hdr)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func testInstaller(client *http.Client) *Installer {
	f := New()
	f.Client = client
	f.Attempts = 3
	f.Delay = 0
	f.sleep = func(time.Duration) {}
	return f
}

func TestExtractTarGz(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "tool.tar.gz")
	data := tarGzWith(t, map[string]string{
		"tool-1.0/tool":      "#!/bin/sh\necho tool\n",
		"tool-1.0/README.md": "docs",
	})
	require.NoError(t, os.WriteFile(src, data, 0644))

	root, err := Extract(src, dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "tool-1.0"), root)
	assert.FileExists(t, filepath.Join(root, "tool"))
}

func TestExtractZip(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "tool.zip")
	require.NoError(t, os.WriteFile(src, zipWith(t, map[string]string{
		"tool-2.0/tool": "binary",
	}), 0644))

	root, err := Extract(src, dir)
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(root, "tool"))
}

func TestExtractRejectsEscapingEntries(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "evil.tar.gz")
	require.NoError(t, os.WriteFile(src, tarGzWith(t, map[string]string{
		"../outside.txt": "escaped",
	}), 0644))

	_, err := Extract(src, t.TempDir())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "escapes")
}

func TestExtractUnsupportedFormat(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "tool.rar")
	require.NoError(t, os.WriteFile(src, []byte("x"), 0644))

	_, err := Extract(src, dir)
	require.Error(t, err)
}

func TestFindExecutable(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "doc"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "doc", "tool.1"), []byte("man"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "tool"), []byte("bin"), 0755))

	found, err := findExecutable(root, "tool")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "tool"), found)

	_, err = findExecutable(root, "other")
	require.Error(t, err)
}

func TestDownloadRetriesWithFixedDelay(t *testing.T) {
	var requests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		if requests < 3 {
			http.Error(w, "flaky mirror", http.StatusInternalServerError)
			return
		}
		fmt.Fprint(w, "payload")
	}))
	defer server.Close()

	f := testInstaller(server.Client())
	dest := filepath.Join(t.TempDir(), "out")
	require.NoError(t, f.downloadFile(server.URL, dest))

	assert.Equal(t, 3, requests)
	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
}

func TestDownloadGivesUpAfterBoundedAttempts(t *testing.T) {
	var requests int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer server.Close()

	f := testInstaller(server.Client())
	f.Attempts = 2
	err := f.downloadFile(server.URL, filepath.Join(t.TempDir(), "out"))
	require.Error(t, err)
	assert.Equal(t, 2, requests, "retry count is bounded and fixed")
}

func TestInstallFromFixedURL(t *testing.T) {
	archive := tarGzWith(t, map[string]string{
		"rg-14.1.1/rg":        "elf bytes",
		"rg-14.1.1/README.md": "docs",
	})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(archive)
	}))
	defer server.Close()

	binDir := t.TempDir()
	f := testInstaller(server.Client())
	f.BinDir = binDir

	tool := registry.Tool{
		Name:     "rg",
		Fallback: &registry.Fallback{URL: server.URL + "/rg.tar.gz"},
	}
	system := &detect.SystemProfile{Family: detect.FamilyDebian, Arch: "x86_64"}
	require.NoError(t, f.Install(tool, system))

	installed := filepath.Join(binDir, "rg")
	info, err := os.Stat(installed)
	require.NoError(t, err)
	assert.NotZero(t, info.Mode().Perm()&0111, "installed binary must be executable")
}

func TestInstallResolvesGitHubReleaseAsset(t *testing.T) {
	archive := tarGzWith(t, map[string]string{"fd-v10/fd": "elf"})

	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/repos/sharkdp/fd/releases/tags/v10.2.0", func(w http.ResponseWriter, r *http.Request) {
		release := map[string]any{
			"tag_name": "v10.2.0",
			"assets": []map[string]string{
				{"name": "fd-v10.2.0-x86_64-apple-darwin.tar.gz", "browser_download_url": server.URL + "/darwin/fd.tar.gz"},
				{"name": "fd-v10.2.0-x86_64-unknown-linux-gnu.tar.gz", "browser_download_url": server.URL + "/linux/fd.tar.gz"},
				{"name": "fd-v10.2.0-x86_64-unknown-linux-gnu.deb", "browser_download_url": server.URL + "/deb/fd.deb"},
			},
		}
		json.NewEncoder(w).Encode(release)
	})
	var downloaded string
	serve := func(w http.ResponseWriter, r *http.Request) {
		downloaded = r.URL.Path
		w.Write(archive)
	}
	mux.HandleFunc("/linux/", serve)
	mux.HandleFunc("/darwin/", serve)

	binDir := t.TempDir()
	f := testInstaller(server.Client())
	f.BinDir = binDir
	f.APIBase = server.URL

	tool := registry.Tool{
		Name:     "fd",
		Fallback: &registry.Fallback{Repo: "sharkdp/fd", Tag: "v10.2.0"},
	}
	system := &detect.SystemProfile{Family: detect.FamilyDebian, Arch: "x86_64"}
	require.NoError(t, f.Install(tool, system))

	assert.Equal(t, "/linux/fd.tar.gz", downloaded, "asset selection must honor OS and architecture")
	assert.FileExists(t, filepath.Join(binDir, "fd"))
}

func TestInstallWithoutFallbackSource(t *testing.T) {
	f := testInstaller(http.DefaultClient)
	err := f.Install(registry.Tool{Name: "rg"}, &detect.SystemProfile{})
	require.Error(t, err)
}
