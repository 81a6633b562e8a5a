package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/dirmirror/dirmirror/pkg/buildinfo"
	"github.com/dirmirror/dirmirror/pkg/config"
	"github.com/dirmirror/dirmirror/pkg/plog"
	"github.com/dirmirror/dirmirror/pkg/scheduler"
)

// init is called before main. We use it to set up a custom, more descriptive
// help message for the command-line flags.
func init() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage of %s (version %s):\n", buildinfo.Name, buildinfo.Version)
		fmt.Fprintf(flag.CommandLine.Output(), "A periodic one-way directory mirror daemon.\n\n")
		flag.PrintDefaults()
	}
}

// action defines a special command to execute instead of running the mirror.
type action int

const (
	actionRunService action = iota // The default action is to run the mirror service.
	actionShowVersion
	actionInitConfig
)

// parseFlagConfig defines and parses command-line flags, and constructs a
// map containing only the values the user explicitly provided.
func parseFlagConfig() (action, string, map[string]any) {
	// --- Flag Design Philosophy ---
	// Every configuration option has a flag so the daemon can run entirely
	// flag-driven, but for long-lived deployments the config file is the
	// recommended home: explicitly set flags override the file per run.

	configFlag := flag.String("config", config.ConfigFileName, "Path to the configuration file.")
	sourceFlag := flag.String("source", "", "Source directory to mirror from.")
	destFlag := flag.String("dest", "", "Destination directory to mirror into.")
	intervalFlag := flag.Int("interval", 0, "Seconds between the end of one pass and the start of the next.")
	excludeHiddenFlag := flag.Bool("exclude-hidden", false, "Skip hidden files and directories in the source.")
	deleteFromDestFlag := flag.Bool("delete-from-dest", false, "Delete destination entries that no longer exist in the source.")
	excludeFilesFlag := flag.String("exclude-files", "", "Comma-separated list of case-insensitive file name patterns to exclude ('*' and '?' wildcards).")
	includeFilesFlag := flag.String("include-files", "", "Comma-separated list of file name patterns; only matching files are mirrored.")
	excludeDirsFlag := flag.String("exclude-dirs", "", "Comma-separated list of directory name patterns to exclude.")
	includeDirsFlag := flag.String("include-dirs", "", "Comma-separated list of directory name patterns; only matching directories are mirrored.")
	deleteExcludeFilesFlag := flag.String("delete-exclude-files", "", "Comma-separated list of file name patterns never deleted from the destination.")
	deleteExcludeDirsFlag := flag.String("delete-exclude-dirs", "", "Comma-separated list of directory name patterns never deleted from the destination.")
	logLevelFlag := flag.String("log-level", "info", "Set the logging level: 'debug', 'notice', 'info', 'warn', 'error'.")
	metricsFlag := flag.Bool("metrics", false, "Enable periodic progress reporting during passes.")
	modTimeWindowFlag := flag.Int("mod-time-window", 1, "Time window in seconds to consider file modification times equal (0=exact).")
	bufferSizeKBFlag := flag.Int("buffer-size-kb", 0, "Size of the I/O buffer in kilobytes for file copies.")
	trashFlag := flag.Bool("trash", false, "Archive deleted destination entries instead of discarding them.")
	trashDirFlag := flag.String("trash-dir", "", "Directory for trash archives (must be outside the destination).")
	trashFormatFlag := flag.String("trash-format", "", "Trash archive format: 'tar.gz' or 'tar.zst'.")
	dryRunFlag := flag.Bool("dry-run", false, "Show what would be done without making any changes.")
	quietFlag := flag.Bool("quiet", false, "Suppress informational output.")
	onceFlag := flag.Bool("once", false, "Run a single mirror pass and exit instead of scheduling.")
	initFlag := flag.Bool("init", false, "Generate a default configuration file and exit.")
	versionFlag := flag.Bool("version", false, "Print the application version and exit.")

	flag.Parse()

	// Record which flags the user actually set, so only those override the
	// loaded configuration.
	usedFlags := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { usedFlags[f.Name] = true })

	flagMap := make(map[string]any)

	addIfUsed := func(name string, value any) {
		if usedFlags[name] {
			flagMap[name] = value
		}
	}
	addParsedIfUsed := func(name string, rawValue string) {
		if usedFlags[name] {
			flagMap[name] = config.ParseList(rawValue)
		}
	}

	addIfUsed("source", *sourceFlag)
	addIfUsed("dest", *destFlag)
	addIfUsed("interval", *intervalFlag)
	addIfUsed("exclude-hidden", *excludeHiddenFlag)
	addIfUsed("delete-from-dest", *deleteFromDestFlag)
	addIfUsed("log-level", *logLevelFlag)
	addIfUsed("metrics", *metricsFlag)
	addIfUsed("mod-time-window", *modTimeWindowFlag)
	addIfUsed("buffer-size-kb", *bufferSizeKBFlag)
	addIfUsed("trash", *trashFlag)
	addIfUsed("trash-dir", *trashDirFlag)
	addIfUsed("trash-format", *trashFormatFlag)
	addIfUsed("dry-run", *dryRunFlag)
	addIfUsed("quiet", *quietFlag)
	addIfUsed("once", *onceFlag)

	addParsedIfUsed("exclude-files", *excludeFilesFlag)
	addParsedIfUsed("include-files", *includeFilesFlag)
	addParsedIfUsed("exclude-dirs", *excludeDirsFlag)
	addParsedIfUsed("include-dirs", *includeDirsFlag)
	addParsedIfUsed("delete-exclude-files", *deleteExcludeFilesFlag)
	addParsedIfUsed("delete-exclude-dirs", *deleteExcludeDirsFlag)

	if *versionFlag {
		return actionShowVersion, *configFlag, flagMap
	}
	if *initFlag {
		return actionInitConfig, *configFlag, flagMap
	}
	return actionRunService, *configFlag, flagMap
}

// runInit generates a configuration file pre-filled with defaults and any
// explicitly set flags.
func runInit(configPath string, flagMap map[string]any) error {
	generated := config.MergeWithFlags(config.NewDefault(), flagMap)
	if err := config.Generate(generated, configPath); err != nil {
		return err
	}
	plog.Info("Edit the generated file and start the service.", "path", configPath)
	return nil
}

// runService loads the configuration, applies flag overrides and starts the
// mirror service (or a single pass with -once).
func runService(ctx context.Context, configPath string, flagMap map[string]any) error {
	loadedConfig, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	runConfig := config.MergeWithFlags(loadedConfig, flagMap)

	// Set the global log behavior based on the final configuration.
	plog.SetLevel(plog.LevelFromString(runConfig.LogLevel))
	plog.SetQuiet(runConfig.Runtime.Quiet)

	once, _ := flagMap["once"].(bool)

	if err := runConfig.Validate(); err != nil {
		if once {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		// In service mode the process stays alive but idle; no pass is
		// ever scheduled until the operator fixes the configuration and
		// restarts.
		plog.Error("Invalid configuration, service is idle until shutdown", "error", err)
		<-ctx.Done()
		return nil
	}

	runConfig.LogSummary()

	service := scheduler.New(runConfig)
	if once {
		return service.RunPass(ctx)
	}
	return service.Run(ctx)
}

// run encapsulates the main application logic and returns an error if
// something goes wrong, allowing main to handle exit codes.
func run(ctx context.Context) error {
	appAction, configPath, flagMap := parseFlagConfig()

	switch appAction {
	case actionShowVersion:
		fmt.Printf("%s version %s\n", buildinfo.Name, buildinfo.Version)
		return nil
	case actionInitConfig:
		return runInit(configPath, flagMap)
	case actionRunService:
		plog.Info("Starting "+buildinfo.Name, "version", buildinfo.Version, "pid", os.Getpid())
		return runService(ctx, configPath, flagMap)
	default:
		return fmt.Errorf("internal error: unknown action %d", appAction)
	}
}

func main() {
	// Set up a context that is canceled when an interrupt signal is received.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Listen for interrupt signals (like Ctrl+C) in a separate goroutine.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	go func() {
		<-sigChan
		plog.Info("Shutdown signal received, finishing the current pass")
		cancel()
	}()

	if err := run(ctx); err != nil {
		plog.Error(buildinfo.Name+" exited with error", "error", err)
		os.Exit(1)
	}
}
