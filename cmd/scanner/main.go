package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"foire/backend/internal/config"
	"foire/backend/internal/logging"
	"foire/backend/internal/scanner"

	"github.com/spf13/cobra"
)

var Version = "dev"

type options struct {
	apiURL    string
	eventSlug string
	checkOnly bool
	pause     time.Duration
	timeout   time.Duration
	input     string
	device    string
	logLevel  string
}

func main() {
	opts := &options{}
	rootCmd := &cobra.Command{
		Use:     "scanner",
		Short:   "Gate scanner: reads QR payloads line by line and validates them",
		Version: Version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGate(cmd, opts)
		},
	}
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.apiURL, "api", envOr("SCANNER_API_URL", "http://localhost:8080"), "Backend base URL")
	flags.StringVarP(&opts.eventSlug, "event", "e", os.Getenv("SCANNER_EVENT_SLUG"), "Event slug the gate admits")
	flags.BoolVar(&opts.checkOnly, "check-only", false, "Validate without marking tickets used")
	flags.DurationVar(&opts.timeout, "timeout", 5*time.Second, "Per-request timeout")
	flags.StringVar(&opts.device, "device", "", "Gate name sent with requests")
	flags.StringVar(&opts.logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	rootCmd.Flags().DurationVar(&opts.pause, "pause", 2*time.Second, "Pause after an accepted ticket")
	rootCmd.Flags().StringVarP(&opts.input, "input", "i", "-", "Payload source, - for stdin")

	rootCmd.AddCommand(validateCmd(opts))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func validateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [payload]",
		Short: "Validate a single payload and exit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.eventSlug == "" {
				return fmt.Errorf("--event is required")
			}
			client := newClient(opts)
			res, err := client.Validate(cmd.Context(), args[0])
			fmt.Fprintln(cmd.OutOrStdout(), scanner.FormatOutcome(scanner.Outcome{Payload: args[0], Result: res, Err: err}))
			if err != nil {
				return err
			}
			if !res.Valid {
				os.Exit(2)
			}
			return nil
		},
	}
}

func runGate(cmd *cobra.Command, opts *options) error {
	if opts.eventSlug == "" {
		return fmt.Errorf("--event is required")
	}
	logger, cleanup, err := logging.New(config.LoggingConfig{Level: opts.logLevel}, "scanner")
	if err != nil {
		return err
	}
	defer func() {
		_ = cleanup()
	}()

	var source io.Reader = cmd.InOrStdin()
	if opts.input != "" && opts.input != "-" {
		f, err := os.Open(opts.input)
		if err != nil {
			return err
		}
		defer f.Close()
		source = f
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loop := scanner.NewLoop(newClient(opts), scanner.NewWriterReporter(cmd.OutOrStdout()), scanner.LoopConfig{Pause: opts.pause}, logger)
	fmt.Fprintf(cmd.ErrOrStderr(), "scanning for %s at %s\n", opts.eventSlug, opts.apiURL)
	if err := loop.Run(ctx, scanner.ReadLines(ctx, source, nil)); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func newClient(opts *options) *scanner.Client {
	return scanner.NewClient(scanner.ClientConfig{
		BaseURL:    opts.apiURL,
		EventSlug:  opts.eventSlug,
		CheckOnly:  opts.checkOnly,
		Timeout:    opts.timeout,
		DeviceName: opts.device,
	}, nil)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
