package detect

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"provision-host/internal/logger"
)

func TestMain(m *testing.M) {
	logger.SetOutput(io.Discard)
	os.Exit(m.Run())
}

// scriptedRunner answers commands from a map keyed by the joined command
// line. Unscripted commands fail, which exercises the fallback paths.
type scriptedRunner struct {
	outputs map[string]string
}

func (r scriptedRunner) Run(program string, args ...string) (int, string, string) {
	key := strings.TrimSpace(program + " " + strings.Join(args, " "))
	if out, ok := r.outputs[key]; ok {
		return 0, out, ""
	}
	return 127, "", "not scripted"
}

func pathWith(names ...string) func(string) (string, error) {
	return func(name string) (string, error) {
		for _, n := range names {
			if n == name {
				return "/usr/bin/" + name, nil
			}
		}
		return "", errors.New("not found")
	}
}

func writeEtc(t *testing.T, root, name, content string) {
	t.Helper()
	dir := filepath.Join(root, "etc")
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func newTestDetector(root string, runner scriptedRunner) *Detector {
	return &Detector{
		Root:     root,
		Runner:   runner,
		LookPath: pathWith(),
		GOOS:     "linux",
	}
}

func TestDetectFromOSRelease(t *testing.T) {
	root := t.TempDir()
	writeEtc(t, root, "os-release", `NAME="Ubuntu"
VERSION_ID="24.04"
VERSION_CODENAME=noble
ID=ubuntu
ID_LIKE=debian
`)
	d := newTestDetector(root, scriptedRunner{outputs: map[string]string{"uname -m": "x86_64\n"}})

	p, err := d.Detect()
	require.NoError(t, err)
	assert.Equal(t, "ubuntu", p.ID)
	assert.Equal(t, "Ubuntu", p.Name)
	assert.Equal(t, "24.04", p.Version)
	assert.Equal(t, "noble", p.Codename)
	assert.Equal(t, FamilyDebian, p.Family)
	assert.Equal(t, "x86_64", p.Arch)
	assert.Equal(t, SupportFull, p.Support)
}

func TestDetectDerivativeUsesIDLike(t *testing.T) {
	root := t.TempDir()
	writeEtc(t, root, "os-release", `ID=neon
NAME="KDE neon"
VERSION_ID="6.0"
ID_LIKE="ubuntu debian"
`)
	d := newTestDetector(root, scriptedRunner{})

	p, err := d.Detect()
	require.NoError(t, err)
	assert.Equal(t, FamilyDebian, p.Family, "ID_LIKE should pin the family for unknown derivatives")
	assert.Equal(t, SupportUnsupported, p.Support, "unknown id is unsupported, not an error")
}

func TestDetectFallsBackToLSBRelease(t *testing.T) {
	root := t.TempDir() // no os-release
	runner := scriptedRunner{outputs: map[string]string{
		"lsb_release -a": "Distributor ID:\tDebian\nDescription:\tDebian GNU/Linux 12\nRelease:\t12\nCodename:\tbookworm\n",
		"uname -m":       "aarch64",
	}}
	d := newTestDetector(root, runner)
	d.LookPath = pathWith("lsb_release")

	p, err := d.Detect()
	require.NoError(t, err)
	assert.Equal(t, "debian", p.ID)
	assert.Equal(t, "12", p.Version)
	assert.Equal(t, "bookworm", p.Codename)
	assert.Equal(t, FamilyDebian, p.Family)
	assert.Equal(t, "arm64", p.Arch)
}

func TestDetectLegacyFiles(t *testing.T) {
	tests := []struct {
		name        string
		file        string
		content     string
		wantID      string
		wantVersion string
		wantFamily  Family
	}{
		{"centos", "redhat-release", "CentOS Linux release 7.9.2009 (Core)", "centos", "7.9.2009", FamilyRedHat},
		{"rhel", "redhat-release", "Red Hat Enterprise Linux release 9.3 (Plow)", "rhel", "9.3", FamilyRedHat},
		{"fedora", "redhat-release", "Fedora release 40 (Forty)", "fedora", "40", FamilyRedHat},
		{"debian", "debian_version", "12.4", "debian", "12.4", FamilyDebian},
		{"alpine", "alpine-release", "3.19.1", "alpine", "3.19.1", FamilyAlpine},
		{"arch", "arch-release", "", "arch", "rolling", FamilyArch},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			writeEtc(t, root, tt.file, tt.content)
			d := newTestDetector(root, scriptedRunner{})

			p, err := d.Detect()
			require.NoError(t, err)
			assert.Equal(t, tt.wantID, p.ID)
			assert.Equal(t, tt.wantVersion, p.Version)
			assert.Equal(t, tt.wantFamily, p.Family)
		})
	}
}

func TestDetectOSReleaseWinsOverLegacyFiles(t *testing.T) {
	root := t.TempDir()
	writeEtc(t, root, "os-release", "ID=fedora\nNAME=Fedora Linux\nVERSION_ID=40\n")
	writeEtc(t, root, "debian_version", "12.4")
	d := newTestDetector(root, scriptedRunner{})

	p, err := d.Detect()
	require.NoError(t, err)
	assert.Equal(t, "fedora", p.ID, "first strategy yielding an identifier must win")
}

func TestDetectNoSignalFails(t *testing.T) {
	d := newTestDetector(t.TempDir(), scriptedRunner{})

	_, err := d.Detect()
	require.ErrorIs(t, err, ErrNoDistribution)
}

func TestDetectSubstitutesMissingNameAndVersion(t *testing.T) {
	root := t.TempDir()
	writeEtc(t, root, "os-release", "ID=arch\n")
	d := newTestDetector(root, scriptedRunner{})

	p, err := d.Detect()
	require.NoError(t, err)
	assert.Equal(t, "arch", p.Name)
	assert.Equal(t, "arch", p.Version)
}

func TestDetectDarwin(t *testing.T) {
	runner := scriptedRunner{outputs: map[string]string{
		"sw_vers -productVersion": "14.5\n",
		"sw_vers -buildVersion":   "23F79\n",
		"uname -m":                "arm64",
	}}
	d := &Detector{Root: t.TempDir(), Runner: runner, LookPath: pathWith(), GOOS: "darwin"}

	p, err := d.Detect()
	require.NoError(t, err)
	assert.Equal(t, "macos", p.ID)
	assert.Equal(t, "14.5", p.Version)
	assert.Equal(t, "23F79", p.Codename)
	assert.Equal(t, FamilyDarwin, p.Family)
	assert.Equal(t, "arm64", p.Arch)
	assert.Equal(t, SupportFull, p.Support)
}

func TestArchNormalization(t *testing.T) {
	tests := []struct {
		uname string
		want  string
	}{
		{"x86_64", "x86_64"},
		{"amd64", "x86_64"},
		{"i686", "i386"},
		{"i386", "i386"},
		{"aarch64", "arm64"},
		{"arm64", "arm64"},
		{"armv7l", "armhf"},
		{"armv6l", "armhf"},
		{"riscv64", "riscv64"}, // unknown spellings pass through
	}
	for _, tt := range tests {
		t.Run(tt.uname, func(t *testing.T) {
			d := newTestDetector(t.TempDir(), scriptedRunner{outputs: map[string]string{"uname -m": tt.uname + "\n"}})
			assert.Equal(t, tt.want, d.detectArch())
		})
	}
}
