// Command streamtest is the connect-role binary of spec section 6: it
// dials one or more target addresses and drives the configured number of
// connections through the configured I/O pattern, printing a verdict per
// connection and exiting non-zero if any connection failed.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tpn/ctstraffic"
	"github.com/tpn/ctstraffic/cmd/internal/cli"
	"github.com/tpn/ctstraffic/internal/broker"
	"github.com/tpn/ctstraffic/internal/connection"
	"github.com/tpn/ctstraffic/internal/metrics"
	"github.com/tpn/ctstraffic/internal/stats"
	"github.com/tpn/ctstraffic/internal/statusline"
	"github.com/tpn/ctstraffic/internal/transport"
)

func main() {
	flags := cli.New("streamtest")

	root := &cobra.Command{
		Use:   "streamtest",
		Short: "Generate outbound network traffic and verify protocol integrity",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := flags.Load(); err != nil {
				return err
			}
			return run(flags)
		},
	}
	root.Flags().AddFlagSet(flags.Set())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(flags *cli.Flags) error {
	cfg := flags.Build(ctstraffic.RoleConnect)
	log := cli.NewLogger()
	defer log.Sync()

	if len(cfg.TargetAddrs) == 0 {
		return fmt.Errorf("streamtest: at least one --target address is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	global := &stats.Global{}
	connector := transport.NewConnector(cfg)

	b := broker.New(cfg, func() connection.SocketProvider { return connector }, log, global)

	if addr := flags.MetricsAddr(); addr != "" {
		if err := metrics.Serve(ctx, addr, metrics.NewCollector(global, b), log); err != nil {
			log.Warnw("metrics server failed to start", "err", err)
		}
	}

	printer := statusline.New(global, b, log, flags.StatusInterval())
	go printer.Run(ctx)

	verdicts := b.Run(ctx, nil)

	failed := 0
	for _, v := range verdicts {
		if !v.Success {
			failed++
		}
	}
	log.Infow("run complete", "connections", len(verdicts), "failed", failed,
		"bytes_sent", global.TotalBytesSent(), "bytes_recv", global.TotalBytesRecv())

	if failed > 0 {
		os.Exit(1)
	}
	return nil
}
