package report

import (
	"provision-host/internal/engine"
	"provision-host/internal/logger"
)

// Print writes a human-readable run summary through the logger: aggregate
// counts followed by an itemized list of failed and unverified tools with
// remediation hints. Structured rendering (JSON, HTML, CSV) belongs to an
// external reporting component, not here.
func Print(run *engine.Run) {
	logger.Info("[INFO] Run %s on %s %s (%s, %s via %s)\n",
		run.ID, run.System.Name, run.System.Version,
		run.System.Arch, run.System.Family, run.Manager.ID)
	logger.Info("[INFO] %d already satisfied, %d installed, %d failed; %d verified, %d not verified\n",
		run.Counts.AlreadySatisfied, run.Counts.Installed, run.Counts.Failed,
		run.Counts.Verified, run.Counts.NotVerified)

	for _, o := range run.Outcomes {
		switch {
		case o.Status == engine.StatusFailed:
			detail := o.Detail
			if detail == "" {
				detail = "install attempt did not yield a working tool"
			}
			logger.Error("[ERROR] %s/%s: %s\n", o.Category, o.Tool, detail)
		case o.Verification == engine.NotVerified:
			detail := o.Detail
			if detail == "" {
				detail = "present but the functional probe failed; try reinstalling"
			}
			logger.Warn("[WARN] %s/%s: %s\n", o.Category, o.Tool, detail)
		}
	}
}
