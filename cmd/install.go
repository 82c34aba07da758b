package cmd

import (
	"github.com/spf13/cobra"

	"provision-host/internal/detect"
	"provision-host/internal/engine"
	"provision-host/internal/executil"
	"provision-host/internal/fetch"
	"provision-host/internal/logger"
	"provision-host/internal/pkgmgr"
	"provision-host/internal/registry"
	"provision-host/internal/report"
	"provision-host/internal/translate"
)

// skipRefresh suppresses the package-index refresh pre-step.
var skipRefresh bool

// installCmd installs the whole catalog, or a single category when one is
// named as an argument.
var installCmd = &cobra.Command{
	Use:   "install [category]",
	Short: "Install the tool catalog (optionally a single category)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := buildEngine()
		if err != nil {
			return err
		}
		eng.SkipRefresh = skipRefresh

		var run *engine.Run
		if len(args) == 1 {
			run, err = eng.InstallCategory(args[0])
			if err != nil {
				logger.Error("[ERROR] %v\n", err)
				return err
			}
		} else {
			run = eng.InstallAll()
		}
		report.Print(run)
		return nil
	},
}

// verifyCmd runs presence and functional checks only; no install attempts.
var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Check which catalog tools are present and working, without installing anything",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := buildEngine()
		if err != nil {
			return err
		}
		report.Print(eng.VerifyOnly())
		return nil
	},
}

// categoriesCmd lists the catalog: a pure registry read, no detection needed.
var categoriesCmd = &cobra.Command{
	Use:   "categories",
	Short: "List catalog categories and their tools",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		catalog, err := registry.Load(registryPath)
		if err != nil {
			logger.Error("[ERROR] %v\n", err)
			return err
		}
		for _, cat := range catalog.Sorted() {
			logger.Info("[INFO] %s (%s priority, batch size %d): %s\n",
				cat.ID, cat.Priority, cat.BatchSize, cat.Description)
			for _, tool := range cat.Tools {
				logger.Info("[INFO]   %s\n", tool.Name)
			}
		}
		return nil
	},
}

// buildEngine performs the once-per-run environment resolution: load the
// catalog, detect the system, resolve the package manager, and assemble the
// engine over those immutable inputs.
func buildEngine() (*engine.Engine, error) {
	catalog, err := registry.Load(registryPath)
	if err != nil {
		logger.Error("[ERROR] %v\n", err)
		return nil, err
	}

	runner := executil.ExecRunner{}
	system, err := detect.New(runner).Detect()
	if err != nil {
		logger.Error("[ERROR] %v\n", err)
		return nil, err
	}

	manager, err := pkgmgr.Resolve(system.Family, executil.SystemLookPath)
	if err != nil {
		logger.Error("[ERROR] %v\n", err)
		return nil, err
	}

	translator := translate.New(manager, runner)
	eng := engine.New(system, manager, catalog, translator, runner)
	eng.Fetcher = fetch.New()
	return eng, nil
}

func init() {
	installCmd.Flags().BoolVar(&skipRefresh, "skip-refresh", false, "Skip the package index refresh pre-step")

	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(categoriesCmd)
}
