// Command streamtestd is the listen-role binary of spec section 6: it
// accepts incoming connections on the configured address and serves each
// one according to the configured I/O pattern until server-exit-limit
// connections have been served (or indefinitely if unset).
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
	flags := cli.New("streamtestd")

	root := &cobra.Command{
		Use:   "streamtestd",
		Short: "Accept inbound network traffic and serve the configured I/O pattern",
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
	cfg := flags.Build(ctstraffic.RoleListen)
	log := cli.NewLogger()
	defer log.Sync()

	if len(cfg.ListenAddrs) == 0 {
		return fmt.Errorf("streamtestd: at least one --listen address is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var sockets func() connection.SocketProvider
	if cfg.Protocol == ctstraffic.ProtocolDatagram {
		handoff, err := transport.NewDatagramHandoff(ctx, cfg)
		if err != nil {
			return err
		}
		defer handoff.Close()
		log.Infow("listening", "addr", handoff.Addr(), "protocol", "udp")
		sockets = func() connection.SocketProvider { return handoff }
	} else {
		ln, err := transport.NewListener(cfg)
		if err != nil {
			return err
		}
		defer ln.Close()
		log.Infow("listening", "addr", ln.Addr(), "protocol", "tcp")
		sockets = func() connection.SocketProvider { return ln }
	}

	global := &stats.Global{}
	b := broker.New(cfg, sockets, log, global)

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
