package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"firestige.xyz/netsensor/internal/sensor"
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Run the pipeline over a capture file",
	Long: `Replay a pcap or pcapng file as the traffic of one configured interface,
then print the size of every table. The interface's address, netmask and MAC
must be set in the configuration.

Examples:
  netsensor replay -c config.yml -f capture.pcap
  netsensor replay -c config.yml -f capture.pcapng -i eth1`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, _, logger, err := loadConfig(configFile)
		if err != nil {
			exitWithError("failed to load config", err)
		}
		cfg.Replay.File = replayFile
		if replayInterface != "" {
			cfg.Replay.Interface = replayInterface
		}
		if cfg.Replay.Interface == "" && len(cfg.Interfaces) > 0 {
			cfg.Replay.Interface = cfg.Interfaces[0].Name
		}

		s, err := sensor.NewReplay(cfg, logger)
		if err != nil {
			exitWithError("failed to build sensor", err)
		}
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		if err := runStart(ctx, s, io.Discard); err != nil {
			exitWithError("replay failed", err)
		}
		printSizes(os.Stdout, s.Sizes())
	},
}

var (
	replayFile      string
	replayInterface string
)

func init() {
	replayCmd.Flags().StringVarP(&replayFile, "file", "f", "", "capture file to replay (required)")
	replayCmd.Flags().StringVarP(&replayInterface, "interface", "i", "",
		"configured interface the file was captured on (default: replay.interface, then the first interface)")
	replayCmd.MarkFlagRequired("file")
}

func printSizes(out io.Writer, sz sensor.Sizes) {
	fmt.Fprintf(out, "%-16s %d\n", "traffic", sz.Traffic)
	fmt.Fprintf(out, "%-16s %d\n", "topology", sz.Topology)
	fmt.Fprintf(out, "%-16s %d\n", "topology_cache", sz.Cache)
	fmt.Fprintf(out, "%-16s %d\n", "icmp", sz.ICMP)
	fmt.Fprintf(out, "%-16s %d\n", "rtt", sz.RTT)
}
