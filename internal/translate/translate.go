package translate

import (
	"provision-host/internal/executil"
	"provision-host/internal/logger"
	"provision-host/internal/pkgmgr"
	"provision-host/internal/registry"
)

// Translator converts generic tool names into the native package identifiers
// of one resolved package manager, and answers whether a tool is already
// satisfied on the host. Both the manager profile and the execution
// collaborators are explicit fields; nothing here reads ambient state.
type Translator struct {
	Profile  *pkgmgr.Profile
	Runner   executil.Runner
	LookPath executil.LookPath
}

// New returns a Translator for the given manager wired to the real host.
func New(profile *pkgmgr.Profile, runner executil.Runner) *Translator {
	return &Translator{Profile: profile, Runner: runner, LookPath: executil.SystemLookPath}
}

// NativeIdentifiers resolves the native package name(s) satisfying tool under
// the active manager. An explicit per-manager override wins and may expand to
// several packages; otherwise the generic name is used verbatim. The result
// is never empty and translation never fails: a missing override is identity,
// not an error.
func (t *Translator) NativeIdentifiers(tool registry.Tool) []string {
	if pkgs, ok := tool.Packages[t.Profile.ID]; ok && len(pkgs) > 0 {
		logger.Debug("[DEBUG] Translated %s -> %v for %s\n", tool.Name, pkgs, t.Profile.ID)
		return pkgs
	}
	return []string{tool.Name}
}

// IsPresent reports whether the tool is already satisfied. The rule is
// deliberately decoupled from package identity: a native package name is not
// assumed to match a runnable binary.
//
//   - default: a runnable command matching the generic name (or one of its
//     alias identities) exists
//   - any-of: any of the tool's listed binaries is runnable
//   - package: every translated native package is recorded in the manager's
//     installed-package database; used for meta-packages with no runnable
//     artifact of their own
func (t *Translator) IsPresent(tool registry.Tool) bool {
	switch tool.Check.Kind {
	case registry.CheckPackage:
		for _, pkg := range t.NativeIdentifiers(tool) {
			program, args := t.Profile.Query.WithPackages(pkg)
			if code, _, _ := t.Runner.Run(program, args...); code != 0 {
				return false
			}
		}
		return true

	case registry.CheckAnyOf:
		return t.anyRunnable(tool.Check.Binaries)

	default:
		names := append([]string{tool.Name}, tool.Aliases...)
		return t.anyRunnable(names)
	}
}

func (t *Translator) anyRunnable(names []string) bool {
	for _, name := range names {
		if _, err := t.LookPath(name); err == nil {
			logger.Debug("[DEBUG] Found runnable %s\n", name)
			return true
		}
	}
	return false
}
