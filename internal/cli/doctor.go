package cli

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"dominds/internal/config"
	"dominds/internal/store"
)

// NewDoctorCmd creates the doctor command.
func NewDoctorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Diagnose workspace health",
		Long: `Run diagnostic checks against the moted configuration and workspace.

This command checks:
- Configuration file validity
- Workspace root accessibility
- Dialog counts per status
- Dialogs left running by a prior crash`,
		RunE: runDoctor,
	}

	return cmd
}

type checkResult struct {
	name    string
	status  string // ok, warning, error
	message string
}

func runDoctor(cmd *cobra.Command, args []string) error {
	fmt.Println("moted doctor")
	fmt.Println("============")
	fmt.Println()

	var results []checkResult
	results = append(results, checkSystemInfo())

	cfg, cfgResult := checkConfigFile()
	results = append(results, cfgResult)

	if cfg != nil {
		results = append(results, checkWorkspaceRoot(cfg))
		results = append(results, checkDialogCounts(cfg))
		results = append(results, checkCrashRecovery(cfg))
	}

	hasErrors := false
	hasWarnings := false
	for _, r := range results {
		icon := "✓"
		switch r.status {
		case "warning":
			icon = "⚠️"
			hasWarnings = true
		case "error":
			icon = "✗"
			hasErrors = true
		}
		fmt.Printf("%s %s: %s\n", icon, r.name, r.message)
	}

	fmt.Println()
	switch {
	case hasErrors:
		fmt.Println("❌ Some checks failed. Please address the issues above.")
	case hasWarnings:
		fmt.Println("⚠️  Some warnings detected. moted should still run.")
	default:
		fmt.Println("✅ All checks passed.")
	}

	return nil
}

func checkSystemInfo() checkResult {
	return checkResult{
		name:    "System",
		status:  "ok",
		message: fmt.Sprintf("Go %s on %s/%s", runtime.Version(), runtime.GOOS, runtime.GOARCH),
	}
}

func checkConfigFile() (*config.Config, checkResult) {
	configPath := globalFlags.ConfigPath
	if configPath == "" {
		path, err := config.DefaultConfigPath()
		if err != nil {
			return nil, checkResult{name: "Config File", status: "error", message: fmt.Sprintf("cannot determine config path: %v", err)}
		}
		configPath = path
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, checkResult{name: "Config File", status: "warning", message: fmt.Sprintf("not found: %s (using defaults)", configPath)}
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, checkResult{name: "Config File", status: "error", message: fmt.Sprintf("invalid config: %v", err)}
	}

	return cfg, checkResult{name: "Config File", status: "ok", message: fmt.Sprintf("found: %s", configPath)}
}

func checkWorkspaceRoot(cfg *config.Config) checkResult {
	root := cfg.Storage.WorkspaceRoot
	if root == "" {
		var err error
		root, err = config.DefaultWorkspaceRoot()
		if err != nil {
			return checkResult{name: "Workspace Root", status: "error", message: fmt.Sprintf("cannot determine workspace root: %v", err)}
		}
	}

	if info, err := os.Stat(root); err != nil {
		if os.IsNotExist(err) {
			return checkResult{name: "Workspace Root", status: "warning", message: fmt.Sprintf("will be created: %s", root)}
		}
		return checkResult{name: "Workspace Root", status: "error", message: fmt.Sprintf("cannot stat %s: %v", root, err)}
	} else if !info.IsDir() {
		return checkResult{name: "Workspace Root", status: "error", message: fmt.Sprintf("%s is not a directory", root)}
	}

	testFile := root + "/.moted-doctor-test"
	if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
		return checkResult{name: "Workspace Root", status: "error", message: fmt.Sprintf("cannot write to %s: %v", root, err)}
	}
	os.Remove(testFile)

	return checkResult{name: "Workspace Root", status: "ok", message: fmt.Sprintf("ready: %s", root)}
}

func checkDialogCounts(cfg *config.Config) checkResult {
	s := store.New(workspaceRootOf(cfg))

	running, err := s.ListDialogs(store.StatusRunning)
	if err != nil {
		return checkResult{name: "Dialogs", status: "error", message: fmt.Sprintf("cannot list running dialogs: %v", err)}
	}
	completed, err := s.ListDialogs(store.StatusCompleted)
	if err != nil {
		return checkResult{name: "Dialogs", status: "error", message: fmt.Sprintf("cannot list completed dialogs: %v", err)}
	}

	return checkResult{
		name:    "Dialogs",
		status:  "ok",
		message: fmt.Sprintf("%d running, %d completed", len(running), len(completed)),
	}
}

// checkCrashRecovery reports dialogs a prior process left mid-round without
// applying the reconciliation — it only reads, it does not rewrite state.
// `moted serve` performs the actual reconciliation on startup (§4.7).
func checkCrashRecovery(cfg *config.Config) checkResult {
	s := store.New(workspaceRootOf(cfg))

	ids, err := s.ListDialogIDs(store.StatusRunning)
	if err != nil {
		return checkResult{name: "Crash Recovery", status: "error", message: fmt.Sprintf("cannot list dialog ids: %v", err)}
	}

	stale := 0
	for _, id := range ids {
		latest, err := s.LoadLatest(id)
		if err != nil {
			continue
		}
		if latest.RunState.Kind == store.RunProceeding || latest.RunState.Kind == store.RunProceedingStopRequested {
			stale++
		}
	}

	if stale > 0 {
		return checkResult{
			name:    "Crash Recovery",
			status:  "warning",
			message: fmt.Sprintf("%d dialog(s) left mid-round by a prior crash; `moted serve` will reconcile them on startup", stale),
		}
	}
	return checkResult{name: "Crash Recovery", status: "ok", message: "no dialogs left mid-round"}
}

func workspaceRootOf(cfg *config.Config) string {
	if cfg.Storage.WorkspaceRoot != "" {
		return cfg.Storage.WorkspaceRoot
	}
	root, err := config.DefaultWorkspaceRoot()
	if err != nil {
		return "."
	}
	return root
}
