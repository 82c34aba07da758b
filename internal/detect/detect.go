package detect

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"

	"provision-host/internal/executil"
	"provision-host/internal/logger"
)

// Family groups distributions that share a package-manager lineage.
type Family string

const (
	FamilyDebian  Family = "debian"
	FamilyRedHat  Family = "redhat"
	FamilyArch    Family = "arch"
	FamilySuse    Family = "suse"
	FamilyAlpine  Family = "alpine"
	FamilyDarwin  Family = "darwin"
	FamilyUnknown Family = "unknown"
)

// SupportLevel indicates how well this tool has been exercised on a
// distribution. An unsupported host still gets a best-effort run.
type SupportLevel string

const (
	SupportFull         SupportLevel = "full"
	SupportPartial      SupportLevel = "partial"
	SupportExperimental SupportLevel = "experimental"
	SupportUnsupported  SupportLevel = "unsupported"
)

// SystemProfile is the detected identity of the host. It is built once at run
// start and treated as immutable by everything downstream.
type SystemProfile struct {
	ID       string       // canonical distribution identifier, e.g. "ubuntu"
	Name     string       // human-readable name, e.g. "Ubuntu"
	Version  string       // release version string
	Codename string       // release codename, or macOS build number
	Family   Family       // package-manager lineage
	Arch     string       // normalized architecture: x86_64, i386, arm64, armhf
	Support  SupportLevel // allow-list lookup keyed by ID
}

// ErrNoDistribution is returned when every detection strategy comes up empty.
var ErrNoDistribution = errors.New("no distribution identifiable by any detection strategy")

// Detector identifies the operating environment. Root prefixes every marker
// file path (left empty in production, pointed at a temp dir in tests); the
// Runner and LookPath fields allow faking the probe commands.
type Detector struct {
	Root     string
	Runner   executil.Runner
	LookPath executil.LookPath

	// GOOS overrides runtime.GOOS when set. Tests use it to force the
	// Linux and darwin paths regardless of where they run.
	GOOS string
}

// New returns a Detector wired to the real host.
func New(runner executil.Runner) *Detector {
	return &Detector{Runner: runner, LookPath: executil.SystemLookPath}
}

// Detect identifies the host and returns its SystemProfile. On macOS a single
// dedicated path is used; on Linux an ordered chain of strategies runs until
// one yields a non-empty distribution identifier. Architecture detection is
// independent of the chain and always executes.
func (d *Detector) Detect() (*SystemProfile, error) {
	p := &SystemProfile{Family: FamilyUnknown}

	goos := d.GOOS
	if goos == "" {
		goos = runtime.GOOS
	}

	if goos == "darwin" {
		d.detectDarwin(p)
	} else {
		// Ordered Linux strategies: stop at the first one that
		// produces a distribution identifier.
		strategies := []struct {
			name string
			fn   func(*SystemProfile)
		}{
			{"os-release", d.fromOSRelease},
			{"lsb_release", d.fromLSBRelease},
			{"legacy release files", d.fromLegacyFiles},
		}
		for _, s := range strategies {
			s.fn(p)
			if p.ID != "" {
				logger.Debug("[DEBUG] Distribution identified via %s: %s\n", s.name, p.ID)
				break
			}
		}
	}

	p.Arch = d.detectArch()

	if p.ID == "" {
		return nil, ErrNoDistribution
	}
	if p.Name == "" {
		logger.Warn("[WARN] Distribution name missing, falling back to identifier %q\n", p.ID)
		p.Name = p.ID
	}
	if p.Version == "" {
		logger.Warn("[WARN] Distribution version missing, falling back to identifier %q\n", p.ID)
		p.Version = p.ID
	}
	if p.Family == FamilyUnknown {
		p.Family = familyByID[p.ID]
	}
	if p.Family == "" || p.Family == FamilyUnknown {
		return nil, fmt.Errorf("distribution %q resolved but its package-manager family is unknown", p.ID)
	}

	if lvl, ok := supportByID[p.ID]; ok {
		p.Support = lvl
	} else {
		p.Support = SupportUnsupported
		logger.Warn("[WARN] Distribution %q is not in the support list; proceeding best-effort\n", p.ID)
	}

	logger.Info("[INFO] Detected %s %s (%s/%s, support: %s)\n",
		p.Name, p.Version, p.Family, p.Arch, p.Support)
	return p, nil
}

// detectDarwin fills the profile via sw_vers. There is no fallback chain on
// macOS; a broken sw_vers still leaves the identifier set so validation can
// substitute sensible defaults.
func (d *Detector) detectDarwin(p *SystemProfile) {
	p.ID = "macos"
	p.Name = "macOS"
	p.Family = FamilyDarwin

	if code, out, _ := d.Runner.Run("sw_vers", "-productVersion"); code == 0 {
		p.Version = strings.TrimSpace(out)
	}
	if code, out, _ := d.Runner.Run("sw_vers", "-buildVersion"); code == 0 {
		p.Codename = strings.TrimSpace(out)
	}
}

// fromOSRelease parses /etc/os-release, the authoritative descriptor on
// modern Linux systems: a flat file of KEY=VALUE lines, values optionally
// quoted.
func (d *Detector) fromOSRelease(p *SystemProfile) {
	path := filepath.Join(d.Root, "/etc/os-release")
	f, err := os.Open(path)
	if err != nil {
		logger.Debug("[DEBUG] %s not readable: %v\n", path, err)
		return
	}
	defer f.Close()

	fields := map[string]string{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		fields[key] = strings.Trim(value, `"'`)
	}

	p.ID = strings.ToLower(fields["ID"])
	p.Name = fields["NAME"]
	p.Version = fields["VERSION_ID"]
	p.Codename = fields["VERSION_CODENAME"]

	// ID_LIKE lists ancestor distributions; the first one with a known
	// family pins the lineage for derivatives absent from the ID table.
	if p.ID != "" && familyByID[p.ID] == "" {
		for _, like := range strings.Fields(strings.ToLower(fields["ID_LIKE"])) {
			if fam, ok := familyByID[like]; ok {
				p.Family = fam
				break
			}
		}
	}
}

// fromLSBRelease queries the lsb_release utility, if installed.
func (d *Detector) fromLSBRelease(p *SystemProfile) {
	if _, err := d.LookPath("lsb_release"); err != nil {
		logger.Debug("[DEBUG] lsb_release not available\n")
		return
	}
	code, out, _ := d.Runner.Run("lsb_release", "-a")
	if code != 0 {
		return
	}
	for _, line := range strings.Split(out, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		value = strings.TrimSpace(value)
		switch strings.TrimSpace(key) {
		case "Distributor ID":
			p.ID = strings.ToLower(value)
		case "Description":
			p.Name = value
		case "Release":
			p.Version = value
		case "Codename":
			p.Codename = value
		}
	}
}

// versionPattern extracts a dotted version number from free-form release text,
// e.g. "CentOS Linux release 7.9.2009 (Core)".
var versionPattern = regexp.MustCompile(`\d+(\.\d+)*`)

// fromLegacyFiles scans the fixed list of per-distribution marker files that
// predate os-release. Each file has its own ad-hoc format.
func (d *Detector) fromLegacyFiles(p *SystemProfile) {
	read := func(name string) (string, bool) {
		data, err := os.ReadFile(filepath.Join(d.Root, name))
		if err != nil {
			return "", false
		}
		return strings.TrimSpace(string(data)), true
	}

	if text, ok := read("/etc/redhat-release"); ok && text != "" {
		// Free-form, e.g. "Fedora release 38 (Thirty Eight)".
		p.Name = text
		p.Version = versionPattern.FindString(text)
		p.Family = FamilyRedHat
		switch {
		case strings.HasPrefix(text, "Red Hat"):
			p.ID = "rhel"
		case strings.HasPrefix(text, "CentOS"):
			p.ID = "centos"
		case strings.HasPrefix(text, "Fedora"):
			p.ID = "fedora"
		case strings.HasPrefix(text, "Rocky"):
			p.ID = "rocky"
		default:
			p.ID = strings.ToLower(strings.Fields(text)[0])
		}
		return
	}
	if text, ok := read("/etc/debian_version"); ok {
		// Bare version string, e.g. "12.4" or "trixie/sid".
		p.ID = "debian"
		p.Name = "Debian GNU/Linux"
		p.Version = text
		p.Family = FamilyDebian
		return
	}
	if text, ok := read("/etc/alpine-release"); ok {
		p.ID = "alpine"
		p.Name = "Alpine Linux"
		p.Version = text
		p.Family = FamilyAlpine
		return
	}
	if _, ok := read("/etc/arch-release"); ok {
		// Usually empty; its existence is the signal.
		p.ID = "arch"
		p.Name = "Arch Linux"
		p.Version = "rolling"
		p.Family = FamilyArch
		return
	}
	if text, ok := read("/etc/SuSE-release"); ok {
		p.ID = "opensuse"
		p.Family = FamilySuse
		lines := strings.Split(text, "\n")
		p.Name = strings.TrimSpace(lines[0])
		for _, line := range lines[1:] {
			if key, value, ok := strings.Cut(line, "="); ok && strings.TrimSpace(key) == "VERSION" {
				p.Version = strings.TrimSpace(value)
			}
		}
		return
	}
}

// archAliases collapses the spellings different kernels and firmwares use for
// the same architecture into one canonical value.
var archAliases = map[string]string{
	"x86_64": "x86_64", "amd64": "x86_64",
	"i386": "i386", "i486": "i386", "i586": "i386", "i686": "i386", "x86": "i386", "386": "i386",
	"aarch64": "arm64", "arm64": "arm64",
	"armv6l": "armhf", "armv7l": "armhf", "armhf": "armhf", "arm": "armhf",
}

// detectArch normalizes the machine architecture reported by uname -m. If the
// probe cannot run, the compile-time architecture is normalized instead.
func (d *Detector) detectArch() string {
	raw := runtime.GOARCH
	if code, out, _ := d.Runner.Run("uname", "-m"); code == 0 && strings.TrimSpace(out) != "" {
		raw = strings.TrimSpace(out)
	}
	raw = strings.ToLower(raw)
	if canonical, ok := archAliases[raw]; ok {
		return canonical
	}
	logger.Debug("[DEBUG] Unrecognized architecture %q, keeping as-is\n", raw)
	return raw
}

// familyByID maps distribution identifiers to their package-manager lineage.
// Used only when the winning strategy did not set the family directly.
var familyByID = map[string]Family{
	"ubuntu": FamilyDebian, "debian": FamilyDebian, "linuxmint": FamilyDebian,
	"pop": FamilyDebian, "raspbian": FamilyDebian, "kali": FamilyDebian,
	"fedora": FamilyRedHat, "rhel": FamilyRedHat, "centos": FamilyRedHat,
	"rocky": FamilyRedHat, "almalinux": FamilyRedHat, "amzn": FamilyRedHat, "ol": FamilyRedHat,
	"arch": FamilyArch, "manjaro": FamilyArch, "endeavouros": FamilyArch,
	"opensuse": FamilySuse, "opensuse-leap": FamilySuse, "opensuse-tumbleweed": FamilySuse, "sles": FamilySuse,
	"alpine": FamilyAlpine,
	"macos":  FamilyDarwin,
}

// supportByID is the allow-list of distributions this tool is exercised on.
// Anything absent is unsupported, which warns but never aborts.
var supportByID = map[string]SupportLevel{
	"ubuntu": SupportFull,
	"debian": SupportFull,
	"fedora": SupportFull,
	"macos":  SupportFull,
	"arch":   SupportFull,

	"centos": SupportPartial, "rhel": SupportPartial, "rocky": SupportPartial,
	"almalinux": SupportPartial, "linuxmint": SupportPartial,
	"opensuse-leap": SupportPartial, "alpine": SupportPartial,

	"manjaro": SupportExperimental, "pop": SupportExperimental,
	"opensuse-tumbleweed": SupportExperimental, "raspbian": SupportExperimental,
	"kali": SupportExperimental,
}
