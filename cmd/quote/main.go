package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"freightquote/internal/app"
	"freightquote/internal/config"
	"freightquote/internal/logging"
	"freightquote/internal/normalize"
	"freightquote/internal/quote"
)

var configFile string

func main() {
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:   "quote",
		Short: "Quote a freight shipment across every configured provider",
		Long: `quote sends one shipment request to the REST carrier, the XML carrier
	and the rate forecast service concurrently and prints the three normalized
	quotes. A failing provider only fills its own slot with an error.`,
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configFile, "config", os.Getenv("CONFIG_FILE"), "path to config file (json or yaml)")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(configCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runCmd() *cobra.Command {
	var requestFile string
	var summary bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Aggregate quotes for a request file",
		Long: `Reads a unified quote request as JSON from --request ("-" for stdin)
	and writes the aggregated response to stdout.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := logging.New(cmd.ErrOrStderr(), cfg.Log.Level, cfg.Log.Format)

			in, closeIn, err := openRequest(requestFile)
			if err != nil {
				return err
			}
			defer closeIn()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			agg, cleanup, err := app.Build(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer cleanup()

			resp, err := runQuote(ctx, agg, in, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			if summary {
				for _, q := range resp.Quotes() {
					fmt.Fprintln(cmd.ErrOrStderr(), normalize.String(q))
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&requestFile, "request", "r", "-", "request JSON file, - for stdin")
	cmd.Flags().BoolVar(&summary, "summary", false, "also print a one-line summary per provider to stderr")
	return cmd
}

func configCmd() *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration with secrets redacted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return printConfig(cmd.OutOrStdout(), cfg, format)
		},
	}
	cmd.Flags().StringVar(&format, "format", "yaml", "output format: yaml or json")
	return cmd
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return cfg, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func openRequest(path string) (io.Reader, func(), error) {
	if path == "" || path == "-" {
		return os.Stdin, func() {}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open request: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}

type aggregator interface {
	Aggregate(ctx context.Context, req *quote.Request) quote.Response
}

func runQuote(ctx context.Context, agg aggregator, in io.Reader, out io.Writer) (quote.Response, error) {
	var req quote.Request
	if err := json.NewDecoder(in).Decode(&req); err != nil {
		return quote.Response{}, fmt.Errorf("decode request: %w", err)
	}
	resp := agg.Aggregate(ctx, &req)

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(resp); err != nil {
		return resp, fmt.Errorf("write response: %w", err)
	}
	return resp, nil
}

func printConfig(w io.Writer, cfg config.Config, format string) error {
	red := cfg.Redacted()
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(red)
	case "yaml", "":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(red); err != nil {
			return err
		}
		return enc.Close()
	default:
		return errors.New("format must be yaml or json")
	}
}
