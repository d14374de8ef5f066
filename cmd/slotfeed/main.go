package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/kingrea/slotfeed/internal/config"
	"github.com/kingrea/slotfeed/internal/distributor"
	"github.com/kingrea/slotfeed/internal/ledger"
	"github.com/kingrea/slotfeed/internal/logbook"
	"github.com/kingrea/slotfeed/internal/logging"
	"github.com/kingrea/slotfeed/internal/metrics"
	"github.com/kingrea/slotfeed/internal/scheduler"
	"github.com/kingrea/slotfeed/internal/slotqueue"
	"github.com/kingrea/slotfeed/internal/slots"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().String("config", "", "config file (default is <workload>.yaml when present)")
	rootCmd.Flags().String("log-level", "", "override logging.level")
	rootCmd.Flags().String("log-format", "", "override logging.format (text or json)")
	rootCmd.Flags().String("metrics-listen", "", "override metrics.listen, e.g. :9101")

	viper.SetEnvPrefix("slotfeed")
	viper.AutomaticEnv()
	_ = viper.BindPFlag("config", rootCmd.Flags().Lookup("config"))
	_ = viper.BindPFlag("log_level", rootCmd.Flags().Lookup("log-level"))
	_ = viper.BindPFlag("log_format", rootCmd.Flags().Lookup("log-format"))
	_ = viper.BindPFlag("metrics_listen", rootCmd.Flags().Lookup("metrics-listen"))
}

var rootCmd = &cobra.Command{
	Use:          "slotfeed <workload>",
	Short:        "Feed a newline-delimited workload to a fixed pool of batch jobs",
	Example:      "slotfeed tasks.txt",
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(args[0])
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return run(ctx, cfg)
	},
}

func loadConfig(workload string) (*config.Config, error) {
	cfg, err := config.Load(workload, viper.GetString("config"))
	if err != nil {
		return nil, err
	}
	if level := override("log_level"); level != "" {
		cfg.Run.Logging.Level = strings.ToLower(level)
	}
	if format := override("log_format"); format != "" {
		cfg.Run.Logging.Format = strings.ToLower(format)
	}
	if listen := override("metrics_listen"); listen != "" {
		cfg.Run.Metrics.Listen = listen
	}
	if err := cfg.Run.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

func override(key string) string {
	return strings.TrimSpace(viper.GetString(key))
}

// run drives one distributor until it terminates. An interrupt through ctx is
// a clean stop.
func run(ctx context.Context, cfg *config.Config) error {
	logger, err := logging.New(cfg.Run.Logging, os.Stderr)
	if err != nil {
		return err
	}
	defer logger.Close()
	logger.CaptureStdlib()

	runID := uuid.NewString()
	log := logger.ForRun(runID)
	if cfg.Source != "" {
		log.WithField("config", cfg.Source).Info("loaded configuration")
	}

	paths := cfg.Paths()
	journal, err := logbook.New(paths.Journal())
	if err != nil {
		log.WithError(err).Error("open journal")
		return err
	}
	journal.Event(logbook.LevelInfo, "RUN", logbook.Fields{"run": runID, "workload": paths.Workload})

	work := ledger.New(paths.Workload, paths.Remaining())
	if err := work.Load(); err != nil {
		if errors.Is(err, ledger.ErrNoWorkload) {
			log.WithError(err).Error("nothing to distribute")
		} else {
			log.WithError(err).Error("load work ledger")
		}
		journal.Event(logbook.LevelError, "FATAL", logbook.Fields{"error": err})
		return err
	}
	mgr := slots.New(cfg.Run.Slots.Max, paths)
	if err := mgr.Load(); err != nil {
		log.WithError(err).Error("restore slot bindings")
		return err
	}
	adapter := scheduler.NewSlurm(cfg.Run.Scheduler.Slurm,
		scheduler.WithUser(cfg.Run.Scheduler.User),
		scheduler.WithStatusTimeout(cfg.Run.Loop.StatusTimeout),
	)

	m := metrics.New()
	if addr := cfg.Run.Metrics.Listen; addr != "" {
		go func() {
			if err := m.Serve(ctx, addr); err != nil {
				log.WithError(err).Warn("metrics listener stopped")
			}
		}()
		log.WithField("addr", addr).Info("serving metrics")
	}

	d := distributor.New(distributor.Deps{
		Ledger:    work,
		Queues:    slotqueue.New(paths),
		Slots:     mgr,
		Scheduler: adapter,
		Paths:     paths,
		Log:       log.WithField("component", "distributor"),
		Metrics:   m,
		Journal:   journal,
	}, distributor.OptionsFrom(cfg.Run))

	if err := d.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.WithFields(logrus.Fields{"remaining": work.Len()}).Info("distributor stopped")
	return nil
}
