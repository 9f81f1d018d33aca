// Command rpkid is an RPKI relying-party daemon: it fetches and
// validates the global RPKI repository, publishes the resulting VRPs,
// router keys, and ASPAs over RTR, and serves them over HTTP in a
// handful of router- and tool-friendly formats.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/schollz/progressbar/v3"

	"github.com/bgpfix/rpkid/internal/daemon"
)

func main() {
	cfg, err := daemon.ParseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, "rpkid:", err)
		os.Exit(1)
	}

	d, err := bootstrap(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "rpkid:", err)
		os.Exit(1)
	}

	if cfg.Explain {
		color.New(color.FgCyan, color.Bold).Fprintln(os.Stdout, "rpkid configuration:")
		fmt.Fprint(os.Stdout, d.Explain())
		os.Exit(0)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch err := d.Run(ctx); {
	case err == nil:
		os.Exit(0)
	case errors.Is(err, daemon.ErrComplete):
		os.Exit(2)
	default:
		fmt.Fprintln(os.Stderr, "rpkid:", err)
		os.Exit(1)
	}
}

// bootstrap runs daemon.New behind a spinner: opening (or --fresh
// rebuilding) the archive and loading every TAL can take a visible
// moment, and otherwise the operator stares at a blank terminal.
func bootstrap(cfg daemon.Config) (*daemon.Daemon, error) {
	bar := progressbar.NewOptions(-1,
		progressbar.OptionSetDescription("bootstrapping rpkid"),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetWriter(os.Stderr),
	)
	done := make(chan struct{})
	go func() {
		t := time.NewTicker(100 * time.Millisecond)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				bar.Add(1)
			case <-done:
				return
			}
		}
	}()

	d, err := daemon.New(cfg)
	close(done)
	bar.Finish()
	fmt.Fprintln(os.Stderr)
	return d, err
}
