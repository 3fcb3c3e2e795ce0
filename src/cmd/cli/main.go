package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"region-capture/src/capture"
	"region-capture/src/config"
	"region-capture/src/logutil"
	"region-capture/src/messages"
	"region-capture/src/nativemsg"
	"region-capture/src/screenshot"
	"region-capture/src/singleinstance"
	"region-capture/src/transfer"
)

const (
	maxFileSizeMB = 64
	maxFileSize   = maxFileSizeMB * 1024 * 1024
)

var (
	errEmptyRegion = errors.New("region is empty, nothing captured")
	errNotPNG      = errors.New("input is not a valid PNG file (invalid magic number)")
)

var pngMagic = []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}

type cliOptions struct {
	region      string
	outPath     string
	filePath    string
	dispatch    bool
	delegate    bool
	jsonOutput  bool
	verbose     bool
	envPath     string
	manifestDir string
	host        string
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	return runWithArgs(normalizeLegacyArgs(os.Args))
}

func runWithArgs(args []string) error {
	if len(args) == 0 {
		args = []string{"capture-tool"}
	}

	opts := &cliOptions{}
	cmd := newRootCmd(opts)
	cmd.SetArgs(args[1:])
	return cmd.Execute()
}

func newRootCmd(opts *cliOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "capture-tool",
		Short:         "Capture a screen region to PNG and optionally hand it to a native host",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithOptions(cmd.Context(), *opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.region, "region", "", "Region to capture as x,y,width,height in viewport units")
	cmd.Flags().StringVar(&opts.filePath, "file", "", "Send an existing PNG file instead of capturing (use '-' for stdin)")
	cmd.Flags().StringVarP(&opts.outPath, "out", "o", "", "Write the PNG to this path (use '-' for stdout)")
	cmd.Flags().BoolVar(&opts.dispatch, "dispatch", false, "Send the PNG to the native host and wait for its answer")
	cmd.Flags().BoolVar(&opts.delegate, "delegate", false, "Ask a running resident to capture and dispatch the region")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "Output results as JSON")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "Verbose output to stderr")
	cmd.Flags().StringVar(&opts.envPath, "env", "", "Path to a .env file (highest precedence)")
	cmd.Flags().StringVar(&opts.manifestDir, "manifest-dir", "", "Directory holding native host manifests")
	cmd.Flags().StringVar(&opts.host, "host", "", "Native host name (defaults to NATIVE_HOST_NAME)")
	cmd.MarkFlagsMutuallyExclusive("region", "file")
	cmd.MarkFlagsOneRequired("region", "file")

	return cmd
}

func runWithOptions(ctx context.Context, opts cliOptions, stdout io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	// Configure logging BEFORE any other operations.
	logutil.SetupStderr(opts.verbose)

	cfg, err := config.LoadWithOptions(config.LoadOptions{
		EnvPathOverride:     opts.envPath,
		ManifestDirOverride: opts.manifestDir,
	})
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	host := cfg.NativeHostName
	if opts.host != "" {
		host = opts.host
	}
	log.Printf("Config loaded: display=%d scale=%.2f host=%s", cfg.DisplayIndex, cfg.DeviceScale, host)

	result := CaptureResult{Source: "screen"}
	start := time.Now()

	var data []byte
	if opts.filePath != "" {
		result.Source = opts.filePath
		data, err = readPNG(opts.filePath, os.Stdin)
		if err != nil {
			return err
		}
	} else {
		r, err := parseRegion(opts.region)
		if err != nil {
			return err
		}
		result.Region = &r

		if opts.delegate {
			delegated, text, err := singleinstance.NewClient(singleinstance.PortRange{Start: cfg.PortStart, End: cfg.PortEnd}).Send(ctx, messages.CaptureRegion(r))
			switch {
			case delegated && err != nil:
				return fmt.Errorf("resident: %w", err)
			case delegated:
				log.Printf("Delegated to resident: %s", text)
				result.Delegated = true
				result.Detail = text
				result.Duration = time.Since(start).Seconds()
				return outputResult(stdout, result, opts.jsonOutput)
			case err != nil:
				log.Printf("Delegation error: %v; capturing locally", err)
			default:
				log.Printf("No resident detected, capturing locally")
			}
		}

		pipeline := capture.New(screenshot.NewDisplay(cfg.DisplayIndex), cfg.DeviceScale)
		data, err = captureRegion(ctx, pipeline, r)
		if err != nil {
			return err
		}
	}
	result.Bytes = len(data)

	if opts.outPath != "" {
		if err := writeOutput(opts.outPath, data, stdout); err != nil {
			return err
		}
		result.Output = opts.outPath
	}

	if opts.dispatch {
		d := transfer.NewDispatcher(nativemsg.NewExecChannel(cfg.ManifestDir), host, nil)
		resp, err := d.Send(ctx, transfer.SaveRequest{Action: transfer.ActionSaveScreenshot, Data: data})
		if err != nil {
			return err
		}
		result.Host = d.Host()
		result.Detail = resp.Message
	}

	result.Duration = time.Since(start).Seconds()
	if opts.outPath == "-" {
		// stdout carries the image.
		return nil
	}
	return outputResult(stdout, result, opts.jsonOutput)
}

func normalizeLegacyArgs(args []string) []string {
	if len(args) == 0 {
		return args
	}

	normalized := make([]string, len(args))
	copy(normalized, args)

	for i := 1; i < len(normalized); i++ {
		arg := normalized[i]
		for _, name := range []string{"region", "file", "out", "dispatch", "delegate", "json", "verbose", "env", "manifest-dir", "host"} {
			if arg == "-"+name || strings.HasPrefix(arg, "-"+name+"=") {
				normalized[i] = "-" + arg
				break
			}
		}
	}

	return normalized
}

// parseRegion reads "x,y,width,height". Negative, non-finite and oversized
// regions are rejected; zero is allowed.
func parseRegion(s string) (screenshot.Region, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return screenshot.Region{}, fmt.Errorf("region must be x,y,width,height, got %q", s)
	}
	var v [4]float64
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
		if err != nil {
			return screenshot.Region{}, fmt.Errorf("region component %d: %w", i+1, err)
		}
		v[i] = f
	}
	r := screenshot.Region{X: v[0], Y: v[1], Width: v[2], Height: v[3]}
	if err := messages.CaptureRegion(r).Validate(); err != nil {
		return screenshot.Region{}, err
	}
	return r, nil
}

// captureRegion runs the pipeline and returns raw PNG bytes.
func captureRegion(ctx context.Context, p *capture.Pipeline, r screenshot.Region) ([]byte, error) {
	enc, empty, err := p.Capture(ctx, r)
	if err != nil {
		return nil, err
	}
	if empty {
		return nil, errEmptyRegion
	}
	data, err := transfer.DecodeDataURL(string(enc))
	if err != nil {
		return nil, err
	}
	if err := validatePNG(data); err != nil {
		return nil, err
	}
	log.Printf("Captured %d bytes for region %+v", len(data), r)
	return data, nil
}

func readPNG(path string, stdin io.Reader) ([]byte, error) {
	var data []byte
	var err error
	if path == "-" {
		log.Printf("Reading image from stdin")
		data, err = io.ReadAll(io.LimitReader(stdin, maxFileSize+1))
		if err != nil {
			return nil, fmt.Errorf("failed to read from stdin: %w", err)
		}
	} else {
		log.Printf("Reading image from file: %s", path)
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read file %s: %w", path, err)
		}
	}

	if len(data) == 0 {
		return nil, fmt.Errorf("input file is empty")
	}
	if len(data) > maxFileSize {
		return nil, fmt.Errorf("input file exceeds maximum size of %d MB", maxFileSizeMB)
	}
	if err := validatePNG(data); err != nil {
		return nil, err
	}
	return data, nil
}

func validatePNG(data []byte) error {
	if len(data) < len(pngMagic) || !bytes.Equal(data[:len(pngMagic)], pngMagic) {
		return errNotPNG
	}
	return nil
}

func writeOutput(path string, data []byte, stdout io.Writer) error {
	if path == "-" {
		_, err := stdout.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	log.Printf("Wrote %d bytes to %s", len(data), path)
	return nil
}

type CaptureResult struct {
	Source    string             `json:"source"`
	Region    *screenshot.Region `json:"region,omitempty"`
	Bytes     int                `json:"bytes"`
	Output    string             `json:"output,omitempty"`
	Host      string             `json:"host,omitempty"`
	Delegated bool               `json:"delegated,omitempty"`
	Detail    string             `json:"detail,omitempty"`
	Timestamp string             `json:"timestamp"`
	Duration  float64            `json:"duration_seconds"`
}

func outputResult(w io.Writer, result CaptureResult, jsonOutput bool) error {
	result.Timestamp = time.Now().UTC().Format(time.RFC3339)
	if jsonOutput {
		encoder := json.NewEncoder(w)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(result); err != nil {
			return fmt.Errorf("failed to encode JSON output: %w", err)
		}
		return nil
	}

	switch {
	case result.Delegated:
		fmt.Fprintf(w, "delegated: %s\n", result.Detail)
	case result.Host != "":
		fmt.Fprintf(w, "sent %d bytes to %s\n", result.Bytes, result.Host)
	case result.Output != "":
		fmt.Fprintf(w, "wrote %d bytes to %s\n", result.Bytes, result.Output)
	default:
		fmt.Fprintf(w, "captured %d bytes\n", result.Bytes)
	}
	return nil
}
