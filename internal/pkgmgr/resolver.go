package pkgmgr

import (
	"errors"
	"fmt"

	"provision-host/internal/detect"
	"provision-host/internal/executil"
	"provision-host/internal/logger"
)

// Command is a structured command template: a program plus its fixed leading
// arguments. Package names are appended at invocation time, never spliced into
// a shell string.
type Command struct {
	Program string
	Args    []string
}

// WithPackages returns the program and the full argument list for invoking
// this template against the given packages.
func (c Command) WithPackages(pkgs ...string) (string, []string) {
	args := make([]string, 0, len(c.Args)+len(pkgs))
	args = append(args, c.Args...)
	args = append(args, pkgs...)
	return c.Program, args
}

// Profile describes a resolved package manager: its identifier and the
// command templates the engine needs. Resolved once per run from the detected
// family plus local binary presence, and immutable afterwards.
type Profile struct {
	ID      string  // manager identifier, e.g. "apt-get"
	Install Command // install one or more packages
	Update  Command // refresh the package index
	Search  Command // search the remote catalog
	Remove  Command // remove one or more packages
	Query   Command // check the installed-package database for a package
}

// ErrNoManager is returned when the family resolved but none of its candidate
// manager binaries exist on the host.
var ErrNoManager = errors.New("no supported package manager binary found")

// candidatesByFamily lists manager identifiers per family in preference
// order. Families with two historically-successive managers list the modern
// one first (dnf before yum); the resolver picks the first binary present.
var candidatesByFamily = map[detect.Family][]string{
	detect.FamilyDebian: {"apt-get", "apt"},
	detect.FamilyRedHat: {"dnf", "yum"},
	detect.FamilyArch:   {"pacman"},
	detect.FamilySuse:   {"zypper"},
	detect.FamilyAlpine: {"apk"},
	detect.FamilyDarwin: {"brew"},
}

// profiles is the static command-template table keyed by manager identifier.
// Everything the engine does with a manager is a lookup here; no manager
// conditionals exist anywhere downstream.
var profiles = map[string]Profile{
	"apt-get": {
		ID:      "apt-get",
		Install: Command{"apt-get", []string{"install", "-y"}},
		Update:  Command{"apt-get", []string{"update"}},
		Search:  Command{"apt-cache", []string{"search"}},
		Remove:  Command{"apt-get", []string{"remove", "-y"}},
		Query:   Command{"dpkg", []string{"-s"}},
	},
	"apt": {
		ID:      "apt",
		Install: Command{"apt", []string{"install", "-y"}},
		Update:  Command{"apt", []string{"update"}},
		Search:  Command{"apt", []string{"search"}},
		Remove:  Command{"apt", []string{"remove", "-y"}},
		Query:   Command{"dpkg", []string{"-s"}},
	},
	"dnf": {
		ID:      "dnf",
		Install: Command{"dnf", []string{"install", "-y"}},
		Update:  Command{"dnf", []string{"makecache"}},
		Search:  Command{"dnf", []string{"search"}},
		Remove:  Command{"dnf", []string{"remove", "-y"}},
		Query:   Command{"rpm", []string{"-q"}},
	},
	"yum": {
		ID:      "yum",
		Install: Command{"yum", []string{"install", "-y"}},
		Update:  Command{"yum", []string{"makecache"}},
		Search:  Command{"yum", []string{"search"}},
		Remove:  Command{"yum", []string{"remove", "-y"}},
		Query:   Command{"rpm", []string{"-q"}},
	},
	"pacman": {
		ID:      "pacman",
		Install: Command{"pacman", []string{"-S", "--noconfirm", "--needed"}},
		Update:  Command{"pacman", []string{"-Sy"}},
		Search:  Command{"pacman", []string{"-Ss"}},
		Remove:  Command{"pacman", []string{"-R", "--noconfirm"}},
		Query:   Command{"pacman", []string{"-Qi"}},
	},
	"zypper": {
		ID:      "zypper",
		Install: Command{"zypper", []string{"--non-interactive", "install"}},
		Update:  Command{"zypper", []string{"refresh"}},
		Search:  Command{"zypper", []string{"search"}},
		Remove:  Command{"zypper", []string{"--non-interactive", "remove"}},
		Query:   Command{"rpm", []string{"-q"}},
	},
	"apk": {
		ID:      "apk",
		Install: Command{"apk", []string{"add"}},
		Update:  Command{"apk", []string{"update"}},
		Search:  Command{"apk", []string{"search"}},
		Remove:  Command{"apk", []string{"del"}},
		Query:   Command{"apk", []string{"info", "-e"}},
	},
	"brew": {
		ID:      "brew",
		Install: Command{"brew", []string{"install"}},
		Update:  Command{"brew", []string{"update"}},
		Search:  Command{"brew", []string{"search"}},
		Remove:  Command{"brew", []string{"uninstall"}},
		Query:   Command{"brew", []string{"list", "--formula"}},
	},
}

// Resolve maps a distribution family to the first candidate package manager
// whose executable is present on the host. The result is deterministic for a
// fixed environment: same family, same PATH, same Profile.
func Resolve(family detect.Family, look executil.LookPath) (*Profile, error) {
	candidates, ok := candidatesByFamily[family]
	if !ok {
		return nil, fmt.Errorf("%w: family %q has no known managers", ErrNoManager, family)
	}
	for _, id := range candidates {
		if _, err := look(id); err != nil {
			logger.Debug("[DEBUG] Candidate manager %s not present\n", id)
			continue
		}
		p := profiles[id]
		logger.Info("[INFO] Using package manager: %s\n", p.ID)
		return &p, nil
	}
	return nil, fmt.Errorf("%w: tried %v for family %q", ErrNoManager, candidates, family)
}
