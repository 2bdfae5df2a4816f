// Command snacd runs the store and queue core as a standalone daemon:
// it upgrades the on-disk layout if needed, then serves the ambient
// admin surface (/healthz, /metrics, /logs) and runs the queue orphan
// purger in the background until signaled to stop.
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/klppl/fedcore/internal/adminhttp"
	"github.com/klppl/fedcore/internal/logging"
	"github.com/klppl/fedcore/internal/store"
	"github.com/klppl/fedcore/internal/upgrade"
)

// CLI defines the top-level command structure for snacd.
type CLI struct {
	BaseDir string `help:"Server base directory (contains server.json)." arg:"" type:"existingdir"`

	Serve   ServeCmd   `cmd:"" help:"Run the upgrader then serve the admin surface until signaled." default:"1"`
	Upgrade UpgradeCmd `cmd:"" help:"Apply any pending on-disk layout upgrade steps and exit."`
	Purge   PurgeCmd   `cmd:"" help:"Run one queue-orphan purge pass over every user and exit."`
}

// ServeCmd implements the 'serve' subcommand.
type ServeCmd struct {
	AdminAddr     string        `help:"Address for the admin HTTP surface." default:":9090" name:"admin-addr"`
	PurgeInterval time.Duration `help:"How often to sweep queue orphans." default:"10m" name:"purge-interval"`
}

func (c *ServeCmd) Run(globals *CLI) error {
	srv, err := store.OpenServer(globals.BaseDir)
	if err != nil {
		return fmt.Errorf("open server: %w", err)
	}

	broadcaster := logging.NewBroadcaster(io.Discard, srv.MaxTimelineEntries(), srv.Redact)
	logging.Setup(srv.DebugLevel(), broadcaster)

	if err := upgrade.Run(srv); err != nil {
		return fmt.Errorf("layout upgrade: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	purger := &store.QueuePurger{Server: srv, Interval: c.PurgeInterval}
	go purger.Start(ctx)

	httpSrv := &http.Server{
		Addr:    c.AdminAddr,
		Handler: adminhttp.Mux(srv, broadcaster),
	}

	go func() {
		<-ctx.Done()
		srv.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("admin http server: %w", err)
	}
	return nil
}

// UpgradeCmd implements the 'upgrade' subcommand.
type UpgradeCmd struct{}

func (c *UpgradeCmd) Run(globals *CLI) error {
	srv, err := store.OpenServer(globals.BaseDir)
	if err != nil {
		return fmt.Errorf("open server: %w", err)
	}
	before := srv.Layout()
	if err := upgrade.Run(srv); err != nil {
		return fmt.Errorf("layout upgrade: %w", err)
	}
	fmt.Printf("layout %.1f -> %.1f\n", before, srv.Layout())
	return nil
}

// PurgeCmd implements the 'purge' subcommand.
type PurgeCmd struct{}

func (c *PurgeCmd) Run(globals *CLI) error {
	srv, err := store.OpenServer(globals.BaseDir)
	if err != nil {
		return fmt.Errorf("open server: %w", err)
	}
	uids, err := store.ListUsers(srv)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}

	total := 0
	now := time.Now()
	for _, uid := range uids {
		u, err := store.OpenUser(srv, uid)
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: open user %s: %v\n", uid, err)
			continue
		}
		n, err := u.PurgeOrphans(now)
		u.Free()
		if err != nil {
			fmt.Fprintf(os.Stderr, "warning: purge %s: %v\n", uid, err)
			continue
		}
		total += n
	}
	fmt.Printf("purged %d orphaned queue files across %d users\n", total, len(uids))
	return nil
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("snacd"),
		kong.Description("Filesystem-backed store and queue core for a federated timeline server."),
		kong.UsageOnError(),
	)
	if err := ctx.Run(&cli); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
