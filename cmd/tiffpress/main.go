package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"tiffpress/internal/compressor"
	"tiffpress/internal/config"
	"tiffpress/internal/inspector"
	"tiffpress/internal/logger"
	"tiffpress/internal/service"
	"tiffpress/internal/statistics"
	"tiffpress/internal/web"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile           string
	verbose           bool
	quiet             bool
	version           string
	buildTime         string
	port              int
	outputPath        string
	targetSizeKB      int
	minSizePercentage float64
	scaleFactor       float64
	sharpnessFactor   float64
	contrastFactor    float64
	blurRadius        float64
	dpi               int
)

// rootCmd is the base command for the CLI.
var rootCmd = &cobra.Command{
	Use:   "tiffpress <file>",
	Short: "Compress TIFF images to a target file size",
	Long: `tiffpress compresses TIFF images down to a caller-specified target size.

It searches for the largest raster scale whose deflate-compressed encoding
fits the target, applying sharpening, contrast and blur controls between
scaling and encoding.

Features:
- Size-targeted compression with an iterative scale search
- Sharpness, contrast and blur tuning per request
- DPI metadata control on the output file
- HTTP API with WebSocket progress events
- Comprehensive logging and statistics`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCompress(cmd, args[0])
	},
}

// inspectCmd probes a file and prints what the compressor would see.
var inspectCmd = &cobra.Command{
	Use:   "inspect <file>",
	Short: "Inspect a file without compressing it",
	Long: `Probes a file and prints its MIME type, dimensions and resolution
metadata. This is useful for checking whether a file would be accepted
for compression and what its recorded DPI is.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runInspect(args[0])
	},
}

// serveCmd starts the HTTP API server.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the compression API server",
	Long: `Starts an HTTP server exposing the compression API:
- POST /api/compress accepts a multipart upload and returns the compressed TIFF
- GET /api/status, /api/defaults and /api/stats report service state
- /ws streams per-attempt progress events over WebSocket

The listen port comes from the configuration unless --port is given.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd)
	},
}

// versionCmd prints build information.
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		v := version
		if v == "" {
			v = "dev"
		}
		fmt.Printf("tiffpress %s\n", v)
		if buildTime != "" {
			fmt.Printf("built at %s\n", buildTime)
		}
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "suppress non-error output")

	rootCmd.Flags().IntVar(&targetSizeKB, "target-size-kb", 0, "target output size in kilobytes (required)")
	rootCmd.Flags().StringVar(&outputPath, "output", "", "output path (default: compressed_<name> next to the input)")
	rootCmd.Flags().Float64Var(&minSizePercentage, "min-size-percentage", compressor.DefaultMinSizePercentage, "lowest scale fraction the search may reach")
	rootCmd.Flags().Float64Var(&scaleFactor, "scale-factor", compressor.DefaultScaleFactor, "initial raster scale")
	rootCmd.Flags().Float64Var(&sharpnessFactor, "sharpness-factor", compressor.DefaultSharpnessFactor, "sharpening strength, 1.0 leaves the image untouched")
	rootCmd.Flags().Float64Var(&contrastFactor, "contrast-factor", compressor.DefaultContrastFactor, "contrast strength, 1.0 leaves the image untouched")
	rootCmd.Flags().Float64Var(&blurRadius, "blur-radius", compressor.DefaultBlurRadius, "gaussian blur radius, 0 disables")
	rootCmd.Flags().IntVar(&dpi, "dpi", compressor.DefaultDPI, "resolution stamped on the output file")
	rootCmd.MarkFlagRequired("target-size-kb")

	serveCmd.Flags().IntVar(&port, "port", 0, "port to run the server on (default from config)")

	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

// initConfig loads configuration file and environment variables.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.tiffpress")
		viper.AddConfigPath("/etc/tiffpress")
	}

	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

// runCompress compresses one file and writes the result next to it.
func runCompress(cmd *cobra.Command, inputPath string) error {
	if !fileExists(inputPath) {
		return fmt.Errorf("file does not exist: %s", inputPath)
	}

	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	raw, err := os.ReadFile(inputPath)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", inputPath, err)
	}

	log := setupLogger(cfg)
	stats := statistics.NewStatistics()
	svc := service.NewCompressionService(cfg, log, stats)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	outcome, err := svc.Process(ctx, service.Input{
		Name:   filepath.Base(inputPath),
		Raw:    raw,
		Params: buildParams(cmd),
	})
	if err != nil {
		return fmt.Errorf("compression failed: %w", err)
	}

	out := outputPath
	if out == "" {
		out = filepath.Join(filepath.Dir(inputPath), service.OutputName(inputPath))
	}
	if err := os.WriteFile(out, outcome.Result.Bytes, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", out, err)
	}

	if !quiet {
		result := outcome.Result
		fmt.Printf("Compressed %s: %d -> %d bytes in %d iterations (final scale %.2f)\n",
			inputPath, result.OriginalSize, result.AchievedSize, result.Iterations, result.FinalScale)
		if !result.State.MetTarget() {
			fmt.Printf("Note: target not reached (%s); output is the best attempt\n", result.State)
		}
		fmt.Printf("Saved to: %s\n", out)
		if verbose {
			fmt.Println("\n" + stats.GetSummary())
		}
	}

	return nil
}

// buildParams converts CLI flags into request parameters. Flags the user
// did not set stay nil so the configured defaults apply.
func buildParams(cmd *cobra.Command) compressor.Params {
	params := compressor.Params{TargetSizeKB: targetSizeKB}

	if cmd.Flags().Changed("min-size-percentage") {
		params.MinSizePercentage = &minSizePercentage
	}
	if cmd.Flags().Changed("scale-factor") {
		params.ScaleFactor = &scaleFactor
	}
	if cmd.Flags().Changed("sharpness-factor") {
		params.SharpnessFactor = &sharpnessFactor
	}
	if cmd.Flags().Changed("contrast-factor") {
		params.ContrastFactor = &contrastFactor
	}
	if cmd.Flags().Changed("blur-radius") {
		params.BlurRadius = &blurRadius
	}
	if cmd.Flags().Changed("dpi") {
		params.DPI = &dpi
	}

	return params
}

// runInspect probes a file and prints the findings.
func runInspect(filePath string) error {
	if !fileExists(filePath) {
		return fmt.Errorf("file does not exist: %s", filePath)
	}

	raw, err := os.ReadFile(filePath)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", filePath, err)
	}

	fmt.Printf("Inspecting: %s\n", filePath)

	log := logrus.New()
	insp := inspector.NewDefaultInspector(log)
	info, err := insp.Probe(raw)
	if err != nil {
		fmt.Printf("Error probing file: %v\n", err)
		return nil
	}

	fmt.Printf("MIME type: %s\n", info.MIME)
	fmt.Printf("Format: %s\n", info.Format)
	fmt.Printf("Dimensions: %dx%d (%.1f MP)\n", info.Width, info.Height, info.Megapixels)
	fmt.Printf("File size: %d bytes\n", info.SizeBytes)
	if info.DPI > 0 {
		fmt.Printf("Resolution: %g DPI\n", info.DPI)
	} else {
		fmt.Println("Resolution: not recorded")
	}
	if info.IsTIFF() {
		fmt.Println("Accepted for compression: yes")
	} else {
		fmt.Println("Accepted for compression: no (only TIFF input is supported)")
	}

	return nil
}

// runServe starts the web server and handles graceful shutdown.
func runServe(cmd *cobra.Command) error {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "CONFIG LOAD ERROR: %v\n", err)
		cfg = config.DefaultConfig()
	}

	if !cmd.Flags().Changed("port") {
		port = cfg.Server.Port
	}

	log := setupLogger(cfg)
	server := web.NewServer(cfg, log)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		if err := server.Start(port); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed to start: %v", err)
		}
	}()

	fmt.Printf("🚀 tiffpress compression service started!\n")
	fmt.Printf("📱 API available at: http://localhost:%d\n", port)
	fmt.Printf("🛑 Press Ctrl+C to stop the server\n\n")

	<-sigChan
	fmt.Println("\n🛑 Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Stop(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	fmt.Println("✅ Server stopped gracefully")
	return nil
}

// setupLogger configures and returns a logger.
func setupLogger(cfg *config.Config) *logrus.Logger {
	loggerCfg := logger.LoggerConfig{
		Level:      cfg.Logging.Level,
		FilePath:   cfg.Logging.FilePath,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
		Compress:   cfg.Logging.Compress,
		Console:    !quiet,
	}

	if verbose {
		loggerCfg.Level = "debug"
	}
	if quiet {
		loggerCfg.Level = "error"
	}

	log, err := logger.NewLogger(loggerCfg)
	if err != nil {
		log = logrus.New()
		log.SetLevel(logrus.InfoLevel)
	}

	return log
}

// fileExists returns true if the given path exists and is a file.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
