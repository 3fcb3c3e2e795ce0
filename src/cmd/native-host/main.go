// Command native-host is the consumer end of saveScreenshot: it reads framed
// requests on stdin, puts each PNG on the clipboard and answers on stdout.
// Stdout carries protocol frames only; logs go to the log file or nowhere.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"region-capture/src/clipboard"
	"region-capture/src/config"
	"region-capture/src/logutil"
	"region-capture/src/nativemsg"
	"region-capture/src/runtimeinit"
	"region-capture/src/transfer"
)

var errUnknownAction = errors.New("unknown action")

type hostOptions struct {
	envPath string
	saveDir string
	noClip  bool
	hold    time.Duration
}

type installOptions struct {
	dir     string
	name    string
	path    string
	origins []string
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cmd := newRootCmd(&hostOptions{}, &installOptions{})
	cmd.SetArgs(os.Args[1:])
	return cmd.Execute()
}

func newRootCmd(opts *hostOptions, inst *installOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "native-host [caller-origin]",
		Short:         "Native messaging host that stores screenshots",
		SilenceUsage:  true,
		SilenceErrors: true,
		// The caller passes its origin as the first argument.
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				log.Printf("native-host: caller %s", args[0])
			}
			return serve(cmd.Context(), *opts)
		},
	}
	cmd.Flags().StringVar(&opts.envPath, "env", "", "Path to a .env file (highest precedence)")
	cmd.Flags().StringVar(&opts.saveDir, "save-dir", "", "Also write every screenshot as a PNG file into this directory")
	cmd.Flags().BoolVar(&opts.noClip, "no-clipboard", false, "Do not place screenshots on the clipboard")
	cmd.Flags().DurationVar(&opts.hold, "clipboard-hold", defaultClipboardHold(), "Keep serving the clipboard image after replying until it is replaced or this long has passed (0 exits at once)")

	cmd.AddCommand(newInstallCmd(inst))
	return cmd
}

func newInstallCmd(opts *installOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Write the host manifest so region-capture can find this executable",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := install(*opts)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "manifest written to %s\n", p)
			return nil
		},
	}
	cmd.Flags().StringVar(&opts.dir, "dir", "", "Manifest directory (defaults to NATIVE_HOST_MANIFEST_DIR or the per-user directory)")
	cmd.Flags().StringVar(&opts.name, "name", config.DefaultNativeHost, "Host name to register")
	cmd.Flags().StringVar(&opts.path, "path", "", "Host executable (defaults to this binary)")
	cmd.Flags().StringSliceVar(&opts.origins, "origin", nil, "Allowed caller origin (repeatable)")
	return cmd
}

func install(opts installOptions) (string, error) {
	dir := opts.dir
	if dir == "" {
		cfg, err := config.Load()
		if err != nil {
			return "", err
		}
		dir = cfg.ManifestDir
	}
	if dir == "" {
		dir = nativemsg.DefaultManifestDir()
	}
	path := opts.path
	if path == "" {
		exe, err := os.Executable()
		if err != nil {
			return "", fmt.Errorf("locate executable: %w", err)
		}
		path = exe
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	origins := opts.origins
	if len(origins) == 0 {
		origins = []string{nativemsg.CallerOrigin}
	}
	return nativemsg.WriteManifest(dir, nativemsg.Manifest{
		Name:           opts.name,
		Description:    "Stores region-capture screenshots",
		Path:           abs,
		AllowedOrigins: origins,
	})
}

func serve(ctx context.Context, opts hostOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, err := runtimeinit.Bootstrap(runtimeinit.Options{
		LoadOptions:   config.LoadOptions{EnvPathOverride: opts.envPath},
		SetupLogging:  logutil.Setup,
		InitClipboard: !opts.noClip,
	}); err != nil {
		return err
	}

	var sinks []sink
	if !opts.noClip {
		sinks = append(sinks, clipboardSink)
	}
	if opts.saveDir != "" {
		sinks = append(sinks, dirSink(opts.saveDir))
	}
	if err := nativemsg.Serve(ctx, os.Stdin, os.Stdout, handleRequest(sinks...)); err != nil {
		return err
	}
	if !opts.noClip && opts.hold > 0 {
		if clipboard.Hold(ctx, opts.hold) {
			log.Printf("native-host: clipboard image replaced, exiting")
		}
	}
	return nil
}

// defaultClipboardHold is how long the host keeps running after its last
// reply. X11 clipboards lose their content when the owning process exits;
// Windows and macOS keep it.
func defaultClipboardHold() time.Duration {
	switch runtime.GOOS {
	case "windows", "darwin":
		return 0
	default:
		return 10 * time.Minute
	}
}

// sink stores one screenshot.
type sink func(data []byte) error

func clipboardSink(data []byte) error {
	return clipboard.WriteImage(data)
}

func dirSink(dir string) sink {
	return func(data []byte) error {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
		name := fmt.Sprintf("capture-%s-%s.png", time.Now().Format("20060102-150405"), uuid.NewString()[:8])
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, data, 0o644); err != nil {
			return err
		}
		log.Printf("native-host: saved %s", p)
		return nil
	}
}

func handleRequest(sinks ...sink) nativemsg.Handler {
	return func(ctx context.Context, raw json.RawMessage) any {
		var req transfer.SaveRequest
		if err := json.Unmarshal(raw, &req); err != nil {
			log.Printf("native-host: bad request: %v", err)
			return errorResponse(err)
		}
		if req.Action != transfer.ActionSaveScreenshot {
			return errorResponse(fmt.Errorf("%w: %q", errUnknownAction, req.Action))
		}
		log.Printf("native-host: %s with %d bytes", req.Action, len(req.Data))
		for _, s := range sinks {
			if err := s(req.Data); err != nil {
				log.Printf("native-host: store failed: %v", err)
				return errorResponse(err)
			}
		}
		return transfer.Response{Status: "ok", Size: len(req.Data)}
	}
}

func errorResponse(err error) transfer.Response {
	return transfer.Response{Status: "error", Message: err.Error()}
}
