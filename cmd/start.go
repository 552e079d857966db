package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"firestige.xyz/netsensor/internal/config"
	"firestige.xyz/netsensor/internal/sensor"
)

// runner is the part of the sensor the commands drive.
type runner interface {
	Init() error
	Run(ctx context.Context) error
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start capturing on the configured interfaces",
	Long: `
Start the sensor on every configured interface and run until SIGINT or SIGTERM.
Interfaces that fail to initialize are skipped; the sensor exits only when
none of them can be used.

Examples:
  netsensor start                      # Start with /etc/netsensor/config.yml
  netsensor start -c config.yml        # Start with config.yml
`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, acc, logger, err := loadConfig(configFile)
		if err != nil {
			exitWithError("failed to load config", err)
		}
		logger.WithFields(effectiveSettings(acc)).Info("configuration loaded")
		s, err := sensor.New(cfg, logger)
		if err != nil {
			exitWithError("failed to build sensor", err)
		}

		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		if err := runStart(ctx, s, os.Stdout); err != nil {
			exitWithError("sensor failed", err)
		}
	},
}

func runStart(ctx context.Context, r runner, out io.Writer) error {
	if err := r.Init(); err != nil {
		return err
	}
	fmt.Fprintln(out, "✓ Sensor started")
	if err := r.Run(ctx); err != nil {
		return err
	}
	fmt.Fprintln(out, "✓ Sensor stopped")
	return nil
}

// effectiveSettings picks the settings worth a line in the startup log.
func effectiveSettings(acc *config.Accessor) map[string]interface{} {
	fields := map[string]interface{}{
		"queue_capacity": acc.GetValueAsInt("queue.capacity"),
		"tcp_rtt":        acc.GetValueAsBool("detection.tcp_rtt"),
		"icmp":           acc.GetValueAsBool("detection.icmp"),
	}
	if acc.GetValueAsBool("delivery.enabled") {
		fields["delivery"] = acc.GetValue("delivery.transport")
	}
	if acc.GetValueAsBool("api.enabled") && acc.HasValue("api.listen") {
		fields["api"] = acc.GetValue("api.listen")
	}
	return fields
}
