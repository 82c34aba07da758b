package engine

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"provision-host/internal/detect"
	"provision-host/internal/executil"
	"provision-host/internal/logger"
	"provision-host/internal/pkgmgr"
	"provision-host/internal/registry"
	"provision-host/internal/translate"
)

// Fetcher is the optional direct-download collaborator, consulted only when a
// tool declares a fallback source and every package-manager attempt for it
// has failed.
type Fetcher interface {
	Install(tool registry.Tool, system *detect.SystemProfile) error
}

// Engine orchestrates installation: it partitions each category into
// satisfied tools and candidates, tries a combined install for small
// candidate sets with individual fallback, classifies every outcome from
// per-tool presence re-checks, and runs a separate functional-verification
// pass. Execution is strictly sequential: package managers hold an exclusive
// lock on their database, so exactly one external operation is in flight at
// any moment.
type Engine struct {
	System     *detect.SystemProfile
	Manager    *pkgmgr.Profile
	Catalog    *registry.Catalog
	Translator *translate.Translator
	Runner     executil.Runner
	Fetcher    Fetcher // may be nil

	// SkipRefresh suppresses the package-index refresh pre-step.
	SkipRefresh bool

	// Index refresh is network-bound: bounded fixed-count retry with a
	// fixed inter-attempt delay, no backoff.
	RefreshAttempts int
	RefreshDelay    time.Duration

	sleep func(time.Duration)
}

// New assembles an engine over an immutable environment. The profiles are
// detected once per run before the engine exists and are never re-detected
// mid-run.
func New(system *detect.SystemProfile, manager *pkgmgr.Profile, catalog *registry.Catalog,
	translator *translate.Translator, runner executil.Runner) *Engine {
	return &Engine{
		System:          system,
		Manager:         manager,
		Catalog:         catalog,
		Translator:      translator,
		Runner:          runner,
		RefreshAttempts: 3,
		RefreshDelay:    2 * time.Second,
		sleep:           time.Sleep,
	}
}

func (e *Engine) newRun() *Run {
	return &Run{
		ID:        uuid.New(),
		StartedAt: time.Now(),
		System:    *e.System,
		Manager:   *e.Manager,
	}
}

// InstallAll processes every category in strict high → medium → low priority
// order. Individual tool failures never abort the run; every remaining tool
// and category is still attempted.
func (e *Engine) InstallAll() *Run {
	run := e.newRun()
	e.refreshIndex()
	for _, cat := range e.Catalog.Sorted() {
		e.installCategory(cat, run)
	}
	return run
}

// InstallCategory processes a single category. An unknown id returns
// registry.ErrCategoryNotFound before any side effect is performed.
func (e *Engine) InstallCategory(id string) (*Run, error) {
	cat, err := e.Catalog.CategoryByID(id)
	if err != nil {
		return nil, err
	}
	run := e.newRun()
	e.refreshIndex()
	e.installCategory(*cat, run)
	return run, nil
}

// VerifyOnly runs the presence and functional checks for every tool without
// attempting a single installation. Absent tools are recorded as failed with
// verification unattempted.
func (e *Engine) VerifyOnly() *Run {
	run := e.newRun()
	for _, cat := range e.Catalog.Sorted() {
		logger.Info("[INFO] Verifying category %s (%s)\n", cat.ID, cat.Priority)
		for _, tool := range cat.Tools {
			if !e.Translator.IsPresent(tool) {
				run.record(Outcome{
					Tool: tool.Name, Category: cat.ID,
					Status: StatusFailed, Verification: Unattempted,
					Detail: "not installed",
				})
				continue
			}
			run.record(Outcome{
				Tool: tool.Name, Category: cat.ID,
				Status: StatusAlreadySatisfied, Verification: Unattempted,
			})
			e.verifyOutcome(run, len(run.Outcomes)-1, tool)
		}
	}
	return run
}

// refreshIndex runs the manager's index update with a bounded fixed-delay
// retry. Failure is a soft warning: installs proceed against a potentially
// stale index and are allowed to fail naturally rather than being blocked.
func (e *Engine) refreshIndex() {
	if e.SkipRefresh {
		logger.Debug("[DEBUG] Skipping package index refresh\n")
		return
	}
	program, args := e.Manager.Update.WithPackages()
	for attempt := 1; attempt <= e.RefreshAttempts; attempt++ {
		code, _, stderr := e.Runner.Run(program, args...)
		if code == 0 {
			logger.Info("[INFO] Package index refreshed\n")
			return
		}
		logger.Debug("[DEBUG] Index refresh attempt %d/%d failed (exit %d): %s\n",
			attempt, e.RefreshAttempts, code, stderr)
		if attempt < e.RefreshAttempts {
			e.sleep(e.RefreshDelay)
		}
	}
	logger.Warn("[WARN] Package index refresh failed after %d attempts; proceeding with a possibly stale index\n",
		e.RefreshAttempts)
}

// installCategory runs the per-category procedure: partition, batch or
// individual installs, then the verification pass. The procedure is
// self-contained; nothing in it depends on another category having run.
func (e *Engine) installCategory(cat registry.Category, run *Run) {
	logger.Info("[INFO] Processing category %s (%s priority, %d tools)\n",
		cat.ID, cat.Priority, len(cat.Tools))

	first := len(run.Outcomes)
	var candidates []registry.Tool

	// Partition: tools already present are satisfied immediately, the
	// rest become installation candidates in declared order.
	for _, tool := range cat.Tools {
		if e.Translator.IsPresent(tool) {
			logger.Info("[INFO] %s already satisfied\n", tool.Name)
			run.record(Outcome{
				Tool: tool.Name, Category: cat.ID,
				Status: StatusAlreadySatisfied, Verification: Unattempted,
			})
		} else {
			candidates = append(candidates, tool)
		}
	}

	switch {
	case len(candidates) == 0:
		// Nothing to install.

	case len(candidates) > 1 && len(candidates) <= cat.BatchSize:
		e.installBatch(cat, candidates, run)

	default:
		// A single candidate never needs batching, and oversized
		// batches are not trusted to report actionable partial
		// failure: go straight to individual attempts.
		for _, tool := range candidates {
			e.installOne(cat, tool, run)
		}
	}

	e.verifyCategory(cat, run, first)
}

// installBatch issues one combined install request for all candidates. The
// batch exit status is one bit while members can succeed or fail
// independently (some managers roll back the transaction, others leave
// partial state), so classification never comes from the exit code:
//
//   - reported success: every candidate is re-checked individually and
//     classified installed or failed from that re-check alone;
//   - reported failure: no candidate is abandoned — every one falls back to
//     an individual attempt.
func (e *Engine) installBatch(cat registry.Category, candidates []registry.Tool, run *Run) {
	var pkgs []string
	for _, tool := range candidates {
		pkgs = append(pkgs, e.Translator.NativeIdentifiers(tool)...)
	}
	logger.Info("[INFO] Batch installing %d tools in %s: %v\n", len(candidates), cat.ID, pkgs)

	program, args := e.Manager.Install.WithPackages(pkgs...)
	code, _, stderr := e.Runner.Run(program, args...)
	if code != 0 {
		logger.Warn("[WARN] Batch install for %s failed (exit %d), retrying each tool individually\n", cat.ID, code)
		logger.Debug("[DEBUG] Batch stderr: %s\n", stderr)
		for _, tool := range candidates {
			e.installOne(cat, tool, run)
		}
		return
	}

	for _, tool := range candidates {
		if e.Translator.IsPresent(tool) {
			logger.Info("[INFO] Installed %s\n", tool.Name)
			run.record(Outcome{
				Tool: tool.Name, Category: cat.ID,
				Status: StatusInstalled, Verification: Unattempted,
			})
		} else {
			logger.Error("[ERROR] Batch reported success but %s is still absent\n", tool.Name)
			run.record(Outcome{
				Tool: tool.Name, Category: cat.ID,
				Status: StatusFailed, Verification: Unattempted,
				Detail: "batch install reported success but tool is absent",
			})
		}
	}
}

// installOne attempts a single tool: install its translated native
// identifiers, then decide from a presence re-check, never from the command's
// exit status alone. A manager can report success for a misnamed or empty
// meta-package that leaves the capability absent.
func (e *Engine) installOne(cat registry.Category, tool registry.Tool, run *Run) {
	pkgs := e.Translator.NativeIdentifiers(tool)
	logger.Info("[INFO] Installing %s as %v\n", tool.Name, pkgs)

	program, args := e.Manager.Install.WithPackages(pkgs...)
	code, _, stderr := e.Runner.Run(program, args...)

	if e.Translator.IsPresent(tool) {
		logger.Info("[INFO] Installed %s\n", tool.Name)
		run.record(Outcome{
			Tool: tool.Name, Category: cat.ID,
			Status: StatusInstalled, Verification: Unattempted,
		})
		return
	}

	detail := fmt.Sprintf("install failed (exit %d)", code)
	if code == 0 {
		detail = "package reported installed but command not found"
	}
	logger.Debug("[DEBUG] Install stderr for %s: %s\n", tool.Name, stderr)

	// Last resort: a declared direct-download source.
	if tool.Fallback != nil && e.Fetcher != nil {
		logger.Warn("[WARN] %s unavailable via %s, trying direct download\n", tool.Name, e.Manager.ID)
		if err := e.Fetcher.Install(tool, e.System); err != nil {
			logger.Error("[ERROR] Direct download for %s failed: %v\n", tool.Name, err)
		} else if e.Translator.IsPresent(tool) {
			logger.Info("[INFO] Installed %s via direct download\n", tool.Name)
			run.record(Outcome{
				Tool: tool.Name, Category: cat.ID,
				Status: StatusInstalled, Verification: Unattempted,
			})
			return
		}
	}

	logger.Error("[ERROR] Failed to install %s: %s\n", tool.Name, detail)
	run.record(Outcome{
		Tool: tool.Name, Category: cat.ID,
		Status: StatusFailed, Verification: Unattempted,
		Detail: detail,
	})
}

// verifyCategory runs the functional-verification pass over every outcome the
// category produced. Presence is not proof of correct operation: a binary can
// exist yet be broken by an architecture mismatch or a missing shared
// library. Verification annotates, it never reclassifies.
func (e *Engine) verifyCategory(cat registry.Category, run *Run, first int) {
	byName := map[string]registry.Tool{}
	for _, tool := range cat.Tools {
		byName[tool.Name] = tool
	}
	for i := first; i < len(run.Outcomes); i++ {
		o := run.Outcomes[i]
		if o.Status != StatusAlreadySatisfied && o.Status != StatusInstalled {
			continue
		}
		e.verifyOutcome(run, i, byName[o.Tool])
	}
}

// verifyOutcome runs a tool's functional probe. Tools with a registered probe
// must exit zero; tools without one fall back to the generic presence check.
func (e *Engine) verifyOutcome(run *Run, index int, tool registry.Tool) {
	if tool.Verify != nil {
		code, _, _ := e.Runner.Run(tool.Verify.Program, tool.Verify.Args...)
		if code == 0 {
			run.annotate(index, Verified, "")
		} else {
			logger.Warn("[WARN] %s is present but its probe failed (exit %d)\n", tool.Name, code)
			run.annotate(index, NotVerified,
				fmt.Sprintf("functional probe %s exited %d", tool.Verify.Program, code))
		}
		return
	}
	if e.Translator.IsPresent(tool) {
		run.annotate(index, Verified, "")
	} else {
		run.annotate(index, NotVerified, "tool disappeared between install and verification")
	}
}
