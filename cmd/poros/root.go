package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/KilimcininKorOglu/poros-engine/internal/config"
	"github.com/KilimcininKorOglu/poros-engine/internal/enrich"
	"github.com/KilimcininKorOglu/poros-engine/internal/output"
	"github.com/KilimcininKorOglu/poros-engine/internal/trace"
	"github.com/KilimcininKorOglu/poros-engine/internal/tui"
	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	// Flags
	maxHops    int
	probeCount int
	timeout    time.Duration
	forceIPv4  bool
	forceIPv6  bool
	verbose    bool
	jsonOutput bool
	csvOutput  bool
	htmlOutput string
	tuiMode    bool
	noEnrich   bool
	noRDNS     bool
	noASN      bool
	noGeoIP    bool
	noColor    bool

	// Config file
	cfgFile string
	cfg     *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "poros [flags] <target>",
	Short: "Modern ICMP path tracer",
	Long: `Poros (Πόρος) - A modern, cross-platform ICMP path tracer

Poros traces the route packets take to reach a destination host,
showing each hop along the path with timing information, ASN data,
and geographic location.

Features:
  • ICMP Echo probing, one hop at a time
  • ASN and GeoIP enrichment
  • Interactive TUI mode
  • Multiple output formats: text, JSON, CSV, HTML
  • Configuration file support (~/.config/poros/config.yaml)

Examples:
  poros google.com              Basic trace
  poros -v google.com           Verbose table output
  poros --json google.com       JSON output
  poros --tui google.com        Interactive TUI mode
  poros config --init           Create default config file
  poros                         Interactive mode (prompts for target)`,
	Args:              cobra.MaximumNArgs(1),
	PersistentPreRunE: loadConfig,
	RunE:              runTrace,
}

func init() {
	// Config file flag
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: ~/.config/poros/config.yaml)")

	// Trace parameters
	rootCmd.Flags().IntVarP(&maxHops, "max-hops", "m", 0, "Maximum number of hops")
	rootCmd.Flags().IntVarP(&probeCount, "queries", "q", 0, "Number of probes per hop")
	rootCmd.Flags().DurationVarP(&timeout, "timeout", "w", 0, "Probe timeout")

	// Network settings
	rootCmd.Flags().BoolVarP(&forceIPv4, "ipv4", "4", false, "Use IPv4 only")
	rootCmd.Flags().BoolVarP(&forceIPv6, "ipv6", "6", false, "Use IPv6 only")

	// Output flags
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Show detailed table output")
	rootCmd.Flags().BoolVarP(&jsonOutput, "json", "j", false, "Output in JSON format")
	rootCmd.Flags().BoolVar(&csvOutput, "csv", false, "Output in CSV format")
	rootCmd.Flags().StringVar(&htmlOutput, "html", "", "Generate HTML report to file")
	rootCmd.Flags().BoolVarP(&tuiMode, "tui", "t", false, "Interactive TUI mode")
	rootCmd.Flags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	// Enrichment flags
	rootCmd.Flags().BoolVar(&noEnrich, "no-enrich", false, "Disable all enrichment")
	rootCmd.Flags().BoolVar(&noRDNS, "no-rdns", false, "Disable reverse DNS lookups")
	rootCmd.Flags().BoolVar(&noASN, "no-asn", false, "Disable ASN lookups")
	rootCmd.Flags().BoolVar(&noGeoIP, "no-geoip", false, "Disable GeoIP lookups")

	// Add subcommands
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
}

// loadConfig loads configuration from file and applies defaults.
// If no user config file exists yet, it writes one with the default values
// on first run.
func loadConfig(cmd *cobra.Command, args []string) error {
	var err error

	if cfgFile != "" {
		cfg, err = config.LoadFrom(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
	} else {
		cfg, err = config.Load()
		if err != nil {
			cfg = config.DefaultConfig()
		}
		if _, statErr := os.Stat(config.GetConfigPath()); os.IsNotExist(statErr) {
			if saveErr := config.DefaultConfig().Save(); saveErr == nil {
				fmt.Fprintf(os.Stderr, "Created default config: %s\n", config.GetConfigPath())
				fmt.Fprintf(os.Stderr, "Edit this file to customize defaults (e.g., set tui: true)\n\n")
			}
		}
	}

	applyConfigDefaults(cmd)
	return nil
}

// applyConfigDefaults applies config file values for flags the user did not
// set explicitly. Trace parameters (max-hops/queries/timeout/ipv4/ipv6) are
// resolved directly from cfg.Defaults via Defaults.ToTraceConfig in runTrace,
// so only the output-mode and enrichment toggles need merging here.
func applyConfigDefaults(cmd *cobra.Command) {
	if cfg == nil {
		return
	}

	defaults := cfg.Defaults

	if !cmd.Flags().Changed("tui") && defaults.TUI {
		tuiMode = true
	}
	if !cmd.Flags().Changed("verbose") && defaults.Verbose {
		verbose = true
	}
	if !cmd.Flags().Changed("json") && defaults.JSON {
		jsonOutput = true
	}
	if !cmd.Flags().Changed("csv") && defaults.CSV {
		csvOutput = true
	}
	if !cmd.Flags().Changed("no-color") && defaults.NoColor {
		noColor = true
	}

	if !defaults.Enrichment.Enabled {
		noEnrich = true
	}
	if !cmd.Flags().Changed("no-rdns") && !defaults.Enrichment.RDNS {
		noRDNS = true
	}
	if !cmd.Flags().Changed("no-asn") && !defaults.Enrichment.ASN {
		noASN = true
	}
	if !cmd.Flags().Changed("no-geoip") && !defaults.Enrichment.GeoIP {
		noGeoIP = true
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Poros %s\n", version)
		fmt.Printf("  Commit: %s\n", commit)
		fmt.Printf("  Built:  %s\n", date)
		fmt.Printf("  Config: %s\n", config.GetConfigPath())
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage configuration",
	Long: `Manage Poros configuration file.

Commands:
  poros config --init     Create default config file
  poros config --show     Show current configuration
  poros config --path     Show config file path`,
	RunE: runConfig,
}

var (
	configInit bool
	configShow bool
	configPath bool
)

func init() {
	configCmd.Flags().BoolVar(&configInit, "init", false, "Create default config file")
	configCmd.Flags().BoolVar(&configShow, "show", false, "Show current configuration")
	configCmd.Flags().BoolVar(&configPath, "path", false, "Show config file path")
}

func runConfig(cmd *cobra.Command, args []string) error {
	if configPath {
		fmt.Println(config.GetConfigPath())
		return nil
	}

	if configInit {
		path := config.GetConfigPath()

		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists: %s", path)
		}

		cfg := config.DefaultConfig()
		if err := cfg.Save(); err != nil {
			return fmt.Errorf("failed to create config: %w", err)
		}

		fmt.Printf("Created config file: %s\n", path)
		fmt.Println("\nEdit this file to customize defaults.")
		fmt.Println("Example: Set 'tui: true' under 'defaults:' to always use TUI mode.")
		return nil
	}

	if configShow {
		fmt.Println(config.GenerateExample())
		return nil
	}

	return cmd.Help()
}

func runTrace(cmd *cobra.Command, args []string) error {
	var target string

	if len(args) == 0 {
		var err error
		target, err = promptForTarget()
		if err != nil {
			return err
		}
	} else {
		target = args[0]
	}

	if cfg != nil && cfg.Aliases != nil {
		if alias, ok := cfg.Aliases[target]; ok {
			target = alias
		}
	}

	// Build engine configuration, starting from the config file's defaults
	// and layering on any flags the user set explicitly.
	traceConfig := config.DefaultConfig().Defaults.ToTraceConfig(target)
	if cfg != nil {
		traceConfig = cfg.Defaults.ToTraceConfig(target)
	}
	if cmd.Flags().Changed("max-hops") {
		traceConfig.MaxHops = maxHops
	}
	if cmd.Flags().Changed("queries") {
		traceConfig.ProbesPerHop = probeCount
	}
	if cmd.Flags().Changed("timeout") {
		traceConfig.TimeoutPerProbe = timeout
	}
	if forceIPv4 {
		traceConfig.AddressStyle = trace.AddressV4
	}
	if forceIPv6 {
		traceConfig.AddressStyle = trace.AddressV6
	}

	if err := traceConfig.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if tuiMode {
		return tui.Run(target, traceConfig)
	}

	outputConfig := output.Config{
		Colors:     !noColor,
		NoHostname: false,
		NoASN:      noASN,
		NoGeoIP:    noGeoIP,
	}

	// For streaming text output, print each hop as it completes.
	var textFormatter *output.TextFormatter
	streamHops := !jsonOutput && !csvOutput && !verbose
	if streamHops {
		textFormatter = output.NewTextFormatter(outputConfig)
		fmt.Printf("traceroute to %s, %d hops max\n\n", target, traceConfig.MaxHops)
	}

	var result *trace.TracerouteResult
	var engineErr error
	sink := trace.EventSinkFunc(func(ev trace.Event) {
		switch e := ev.(type) {
		case trace.HopCompletedEvent:
			if textFormatter != nil {
				hv := output.BuildHopView(e.Hop, nil)
				fmt.Print(textFormatter.FormatHop(&hv))
				os.Stdout.Sync()
			}
		case trace.FinishedEvent:
			result = e.Result
		case trace.FailedEvent:
			engineErr = e.Err
		}
	})

	engine := trace.NewEngine(traceConfig, trace.DefaultResolver{}, sink)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	if err := engine.Start(ctx); err != nil {
		return fmt.Errorf("trace failed: %w", err)
	}
	if engineErr != nil {
		return fmt.Errorf("trace failed: %w", engineErr)
	}
	if result == nil {
		return fmt.Errorf("trace did not produce a result")
	}

	// Enrich discovered router addresses, unless disabled.
	var enrichment map[string]*enrich.EnrichmentResult
	if !noEnrich {
		enricher, err := buildEnricher(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: enrichment initialization failed: %v\n", err)
		} else if enricher != nil {
			defer enricher.Close()
			addrs := output.RouterAddresses(result)
			enrichment = enricher.EnrichIPs(ctx, addrs)
		}
	}

	view := output.BuildResultView(result, enrichment)

	if jsonOutput || csvOutput {
		format := output.FormatCSV
		if jsonOutput {
			format = output.FormatJSON
		}
		writer := output.NewWriter(format, outputConfig)
		if err := writer.Write(view); err != nil {
			return err
		}
	} else if verbose {
		writer := output.NewWriter(output.FormatVerbose, outputConfig)
		if err := writer.Write(view); err != nil {
			return err
		}
	} else {
		fmt.Println()
		if view.Completed {
			fmt.Printf("Trace complete. %d hops, %.2f ms total\n",
				view.Summary.TotalHops, view.Summary.TotalTimeMs)
		} else {
			fmt.Printf("Trace incomplete after %d hops\n", view.Summary.TotalHops)
		}
	}

	if htmlOutput != "" {
		htmlFormatter := output.NewHTMLFormatter(outputConfig)
		if err := output.WriteToFile(view, htmlOutput, htmlFormatter); err != nil {
			return fmt.Errorf("failed to write HTML report: %w", err)
		}
		fmt.Fprintf(os.Stderr, "\nHTML report saved to: %s\n", htmlOutput)
	}

	return nil
}

// buildEnricher constructs the enricher for this run, wiring in the MaxMind
// database when the config file enables it and falling back to the online
// lookup APIs otherwise.
func buildEnricher(ctx context.Context) (*enrich.Enricher, error) {
	enricherConfig := enrich.DefaultEnricherConfig()
	enricherConfig.EnableRDNS = !noRDNS
	enricherConfig.EnableASN = !noASN
	enricherConfig.EnableGeoIP = !noGeoIP

	if cfg == nil || !cfg.MaxMind.Enabled || cfg.MaxMind.LicenseKey == "" {
		return enrich.NewEnricher(enricherConfig), nil
	}

	maxmindDB, err := initMaxMind(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if maxmindDB == nil {
		return enrich.NewEnricher(enricherConfig), nil
	}
	return enrich.NewEnricherWithMaxMind(enricherConfig, maxmindDB), nil
}

// promptForTarget displays an interactive prompt for the user to enter a target.
func promptForTarget() (string, error) {
	cyan := color.New(color.FgCyan, color.Bold)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	fmt.Println()
	cyan.Println("╔═══════════════════════════════════════════════════════════╗")
	cyan.Println("║         Poros - Modern ICMP Path Tracer                    ║")
	cyan.Println("╚═══════════════════════════════════════════════════════════╝")
	fmt.Println()

	fmt.Println("  Examples:")
	yellow.Println("    • google.com      - Trace to Google")
	yellow.Println("    • 8.8.8.8         - Trace to Google DNS")
	yellow.Println("    • cloudflare.com  - Trace to Cloudflare")
	fmt.Println()

	if cfg != nil && len(cfg.Aliases) > 0 {
		fmt.Println("  Aliases:")
		for alias, target := range cfg.Aliases {
			yellow.Printf("    • %s → %s\n", alias, target)
		}
		fmt.Println()
	}

	reader := bufio.NewReader(os.Stdin)

	for {
		green.Print("  Enter target (IP or hostname): ")
		os.Stdout.Sync()

		input, err := reader.ReadString('\n')
		if err != nil {
			if err.Error() == "EOF" {
				return "", fmt.Errorf("no input provided")
			}
			return "", fmt.Errorf("failed to read input: %w", err)
		}

		target := strings.TrimSpace(input)

		if target == "" {
			color.Red("  ✗ Target cannot be empty. Please try again.")
			fmt.Println()
			continue
		}

		if target == "q" || target == "quit" || target == "exit" {
			fmt.Println("  Goodbye!")
			os.Exit(0)
		}

		fmt.Println()
		return target, nil
	}
}

// initMaxMind initializes the MaxMind database, downloading it if necessary.
func initMaxMind(ctx context.Context, cfg *config.Config) (*enrich.MaxMindDB, error) {
	if !cfg.MaxMind.Enabled || cfg.MaxMind.LicenseKey == "" {
		return nil, nil
	}

	maxmindConfig := enrich.MaxMindDBConfig{
		LicenseKey:  cfg.MaxMind.LicenseKey,
		ASNDBPath:   config.GetASNDBPath(),
		GeoDBPath:   config.GetGeoDBPath(),
		AutoUpdate:  true,
		UpdateHours: cfg.MaxMind.UpdateHours,
	}

	db, err := enrich.NewMaxMindDB(maxmindConfig)
	if err != nil {
		return nil, err
	}

	if cfg.MaxMind.UpdateHours > 0 {
		maxAge := time.Duration(cfg.MaxMind.UpdateHours) * time.Hour
		if db.NeedsUpdate(maxAge) {
			fmt.Fprintf(os.Stderr, "Updating MaxMind databases...\n")
			dlCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
			defer cancel()

			if err := db.DownloadDatabases(dlCtx); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: Failed to update databases: %v\n", err)
			} else {
				fmt.Fprintf(os.Stderr, "MaxMind databases updated successfully.\n\n")
			}
		}
	}

	if !db.HasASN() && !db.HasGeo() {
		fmt.Fprintf(os.Stderr, "Downloading MaxMind databases (first run)...\n")
		dlCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
		defer cancel()

		if err := db.DownloadDatabases(dlCtx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to download databases: %w", err)
		}
		fmt.Fprintf(os.Stderr, "MaxMind databases downloaded successfully.\n\n")
	}

	return db, nil
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets version information for the CLI.
func SetVersion(v, c, d string) {
	version = v
	commit = c
	date = d
}
