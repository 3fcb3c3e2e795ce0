package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"region-capture/src/config"
	"region-capture/src/messages"
	"region-capture/src/screenshot"
	"region-capture/src/singleinstance"
)

type stressOptions struct {
	n        int
	mode     string
	region   string
	deadline time.Duration
	envPath  string
}

type counts struct {
	ok, busy, err, missed int32
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	opts := &stressOptions{}
	cmd := newRootCmd(opts)
	return cmd.Execute()
}

func newRootCmd(opts *stressOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "stress-runonce",
		Short:         "Stress test trigger delegation to a running resident",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			t, err := buildTrigger(*opts)
			if err != nil {
				return err
			}
			cfg, err := config.LoadWithOptions(config.LoadOptions{EnvPathOverride: opts.envPath})
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			ports := singleinstance.PortRange{Start: cfg.PortStart, End: cfg.PortEnd}
			fmt.Fprintf(cmd.OutOrStdout(), "scanning ports %v\n", ports.Normalize())
			runWithOptions(*opts, t, singleinstance.NewClient(ports), cmd.OutOrStdout())
			return nil
		},
	}

	cmd.Flags().IntVar(&opts.n, "n", 50, "number of clients to launch")
	cmd.Flags().StringVar(&opts.mode, "mode", "region", "region|select: captureRegion with --region, or startCapture")
	cmd.Flags().StringVar(&opts.region, "region", "0,0,64,64", "region for --mode region as x,y,width,height")
	cmd.Flags().DurationVar(&opts.deadline, "deadline", 5*time.Second, "per-client timeout")
	cmd.Flags().StringVar(&opts.envPath, "env", "", "path to a .env file with SINGLEINSTANCE_PORT_START/END")

	return cmd
}

func buildTrigger(opts stressOptions) (messages.Trigger, error) {
	switch opts.mode {
	case "select":
		return messages.StartCapture(), nil
	case "region":
		var r screenshot.Region
		if _, err := fmt.Sscanf(opts.region, "%g,%g,%g,%g", &r.X, &r.Y, &r.Width, &r.Height); err != nil {
			return messages.Trigger{}, fmt.Errorf("invalid --region %q: %w", opts.region, err)
		}
		t := messages.CaptureRegion(r)
		return t, t.Validate()
	default:
		return messages.Trigger{}, fmt.Errorf("unknown mode %q", opts.mode)
	}
}

func runWithOptions(opts stressOptions, t messages.Trigger, client singleinstance.Client, w io.Writer) counts {
	var wg sync.WaitGroup
	var c counts

	start := time.Now()
	for i := 0; i < opts.n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), opts.deadline)
			defer cancel()
			delegated, _, err := client.Send(ctx, t)
			if err != nil {
				if strings.Contains(strings.ToLower(err.Error()), "busy") {
					atomic.AddInt32(&c.busy, 1)
					return
				}
				atomic.AddInt32(&c.err, 1)
				return
			}
			if delegated {
				atomic.AddInt32(&c.ok, 1)
				return
			}
			atomic.AddInt32(&c.missed, 1)
		}()
	}
	wg.Wait()
	elapsed := time.Since(start)
	fmt.Fprintf(w, "launched=%d ok=%d busy=%d err=%d no-resident=%d elapsed=%s\n", opts.n, c.ok, c.busy, c.err, c.missed, elapsed)
	return c
}
