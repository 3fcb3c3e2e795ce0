package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"region-capture/src/config"
	"region-capture/src/eventloop"
	"region-capture/src/hotkey"
	"region-capture/src/logutil"
	"region-capture/src/messages"
	"region-capture/src/notification"
	"region-capture/src/runtimeinit"
	"region-capture/src/singleinstance"
	"region-capture/src/transfer"
	"region-capture/src/tray"
)

// dispatchWait bounds how long a standalone run waits for the consumer to
// answer. It only caps the wait here; the dispatch itself has no timeout and
// may still complete after the process gives up on it.
const dispatchWait = 30 * time.Second

type mainOptions struct {
	runOnce       bool
	envPath       string
	manifestDir   string
	sessionPolicy string
}

// delegator is the part of singleinstance.Client used by --run-once.
type delegator interface {
	Send(ctx context.Context, t messages.Trigger) (bool, string, error)
}

func main() {
	// Lock main goroutine to its own OS thread; the tray message loop runs here.
	runtime.LockOSThread()

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
		args = []string{"region-capture"}
	}

	opts := &mainOptions{}
	cmd := newRootCmd(opts)
	cmd.SetArgs(args[1:])
	return cmd.Execute()
}

func newRootCmd(opts *mainOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "region-capture",
		Short:         "Drag-select a screen region and hand the PNG to a native host",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithOptions(*opts)
		},
	}

	cmd.Flags().BoolVar(&opts.runOnce, "run-once", false, "Capture one region and exit, delegating to a running resident when present")
	cmd.Flags().StringVar(&opts.envPath, "env", "", "Path to a .env file (highest precedence)")
	cmd.Flags().StringVar(&opts.manifestDir, "manifest-dir", "", "Directory holding native host manifests")
	cmd.Flags().StringVar(&opts.sessionPolicy, "session-policy", "", "What a second startCapture does while one is armed: reset or reject")

	return cmd
}

func normalizeLegacyArgs(args []string) []string {
	if len(args) == 0 {
		return args
	}

	normalized := make([]string, len(args))
	copy(normalized, args)

	for i := 1; i < len(normalized); i++ {
		arg := normalized[i]
		for _, name := range []string{"run-once", "env", "manifest-dir", "session-policy"} {
			switch {
			case arg == "-"+name:
				normalized[i] = "--" + name
			case strings.HasPrefix(arg, "-"+name+"="):
				normalized[i] = "-" + arg
			}
		}
	}

	return normalized
}

func runWithOptions(opts mainOptions) error {
	enableDPIAwareness()

	loadOptions := config.LoadOptions{
		EnvPathOverride:       opts.envPath,
		ManifestDirOverride:   opts.manifestDir,
		SessionPolicyOverride: opts.sessionPolicy,
	}

	if opts.runOnce {
		// Load .env early so the port range is known before the delegation scan
		cfg, err := config.LoadWithOptions(loadOptions)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		logutil.Setup(cfg.EnableFileLogging)
		return handleRunOnceWithDelegation(context.Background(), singleinstance.NewClient(portRange(cfg)), func() error {
			return runStandalone(loadOptions)
		})
	}
	return runResident(loadOptions)
}

// handleRunOnceWithDelegation prefers a running resident and falls back to a
// standalone capture when none answers. A resident that answered with an
// error is not retried locally.
func handleRunOnceWithDelegation(ctx context.Context, client delegator, fallback func() error) error {
	delegated, text, err := client.Send(ctx, messages.StartCapture())
	switch {
	case delegated && err != nil:
		// The resident reports errors as plain text.
		if err.Error() == eventloop.ErrSelectionCancelled.Error() {
			log.Printf("Delegated capture cancelled")
			return nil
		}
		return fmt.Errorf("resident: %w", err)
	case delegated:
		log.Printf("Delegated to resident: %s", text)
		return nil
	case err != nil:
		log.Printf("Delegation error: %v; falling back to standalone", err)
	default:
		log.Printf("No resident detected (not delegated), running standalone")
	}
	return fallback()
}

// portRange is the single-instance range configured in cfg.
func portRange(cfg *config.Config) singleinstance.PortRange {
	return singleinstance.PortRange{Start: cfg.PortStart, End: cfg.PortEnd}.Normalize()
}

func runResident(loadOptions config.LoadOptions) error {
	// Load .env early so the port range is available for pre-flight
	early, err := config.LoadWithOptions(loadOptions)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	ports := portRange(early)
	scanCtx, scanCancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	port, found := singleinstance.DetectResidentPort(scanCtx, ports)
	scanCancel()
	if found {
		fmt.Printf("one is already running on port %d\n", port)
		return fmt.Errorf("resident already running on port %d", port)
	}
	startPort := ports.Start
	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", startPort))
	if err != nil {
		log.Printf("Pre-flight: port %d busy → resident already exists", startPort)
		fmt.Printf("one is already running on port %d\n", startPort)
		return fmt.Errorf("resident already running on port %d", startPort)
	}
	// We claimed the port; release it so the event loop can re-bind.
	_ = listener.Close()
	log.Printf("Pre-flight: port %d free → we are the one true resident", startPort)

	cfg, err := runtimeinit.Bootstrap(runtimeinit.Options{
		LoadOptions:    loadOptions,
		SetupLogging:   logutil.Setup,
		RequireDisplay: true,
	})
	if err != nil {
		notification.ShowBlockingError("Region capture unavailable", err.Error())
		return err
	}
	logMonitorConfiguration()

	a, err := newApp(cfg, singleinstance.NewServer(portRange(cfg)), func(resp transfer.Response, err error) {
		if err != nil {
			notification.ShowError("Screenshot not saved", err.Error())
			return
		}
		log.Printf("Consumer stored %d bytes", resp.Size)
	})
	if err != nil {
		return err
	}
	a.loop = eventloop.New(a.loopOptions(func(busy bool) {
		if busy {
			tray.UpdateTooltip("Region Capture - capturing...")
		} else {
			tray.UpdateTooltip(idleTooltip(cfg))
		}
	}))

	log.Printf("Region Capture initialized")
	log.Printf("Hotkey: %s", cfg.Hotkey)
	log.Printf("Native host: %s (manifests in %s)", cfg.NativeHostName, cfg.ManifestDir)
	log.Printf("Session policy: %s, settle delay %v", cfg.SessionPolicy, cfg.SettleDelay)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := a.hub.Start(); err != nil {
		return fmt.Errorf("failed to start input hook: %w", err)
	}
	defer a.hub.Stop()

	activator := a.activator(a.loop.Send)
	activate := func() {
		go func() {
			if err := activator.Activate(ctx); err != nil {
				log.Printf("Activation failed: %v", err)
				notification.ShowError("Region capture", err.Error())
			}
		}()
	}

	hotkeyEvents, unsubscribe := a.hub.Subscribe(64)
	defer unsubscribe()
	if err := hotkey.Listen(hotkeyEvents, cfg.Hotkey, activate); err != nil {
		return fmt.Errorf("invalid HOTKEY: %w", err)
	}

	// Handle SIGINT/SIGTERM
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-ch:
			cancel()
			tray.Quit()
		case <-ctx.Done():
		}
	}()

	loopErr := make(chan error, 1)
	go func() {
		loopErr <- a.loop.Run(ctx)
		tray.Quit()
	}()

	tray.Run(tray.Options{
		OnCapture: activate,
		OnReady: func() {
			tray.UpdateTooltip(idleTooltip(cfg))
			tray.SetAboutExtra(fmt.Sprintf("%s → %s", cfg.Hotkey, cfg.NativeHostName))
		},
		OnExit: cancel,
	})

	cancel()
	if err := <-loopErr; err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("event loop stopped: %v", err)
		return err
	}
	return nil
}

// runStandalone arms one selection in this process, waits for its outcome and
// for the consumer's answer, then returns.
func runStandalone(loadOptions config.LoadOptions) error {
	cfg, err := runtimeinit.Bootstrap(runtimeinit.Options{
		LoadOptions:    loadOptions,
		SetupLogging:   logutil.Setup,
		RequireDisplay: true,
	})
	if err != nil {
		return err
	}

	consumed := make(chan error, 1)
	a, err := newApp(cfg, nil, func(resp transfer.Response, err error) {
		consumed <- err
	})
	if err != nil {
		return err
	}
	a.loop = eventloop.New(a.loopOptions(nil))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	loopErr := make(chan error, 1)
	go func() { loopErr <- a.loop.Run(ctx) }()
	defer func() {
		cancel()
		<-loopErr
	}()

	type outcome struct {
		summary string
		err     error
	}
	done := make(chan outcome, 1)
	activator := a.activator(func(_ context.Context, t messages.Trigger) error {
		return a.loop.Trigger(t, func(summary string, err error) {
			done <- outcome{summary, err}
		})
	})
	defer a.hub.Stop()
	if err := activator.Activate(ctx); err != nil {
		return err
	}

	log.Printf("Running capture once (--run-once mode)")
	var res outcome
	select {
	case res = <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	switch {
	case errors.Is(res.err, eventloop.ErrSelectionCancelled):
		log.Printf("Selection cancelled")
		return nil
	case res.err != nil:
		return res.err
	}
	log.Printf("Capture finished: %s", res.summary)

	if a.dispatched.Load() == 0 {
		return nil
	}
	return awaitConsumer(consumed, dispatchWait, cfg.NativeHostName)
}

// awaitConsumer returns the consumer's answer, or an error once wait has
// passed. Giving up does not cancel the dispatch.
func awaitConsumer(consumed <-chan error, wait time.Duration, host string) error {
	select {
	case err := <-consumed:
		return err
	case <-time.After(wait):
		return fmt.Errorf("native host %s did not answer within %v", host, wait)
	}
}

func idleTooltip(cfg *config.Config) string {
	return fmt.Sprintf("Region Capture - Press %s to capture", cfg.Hotkey)
}
