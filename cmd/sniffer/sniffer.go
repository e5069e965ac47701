package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/LinkTsang/go-sniffer/internal/device"
	"github.com/LinkTsang/go-sniffer/internal/logging"
	"github.com/LinkTsang/go-sniffer/internal/orchestrator"
	"github.com/LinkTsang/go-sniffer/internal/output"
	"github.com/LinkTsang/go-sniffer/internal/sniffer"
)

const defaultDrainTimeout = 30 * time.Second

// selectDevice validates --device against the catalog, or prompts for one.
func selectDevice(list device.Lister, prompter device.Prompter, name string) (device.Device, error) {
	devices, err := list()
	if err != nil {
		return device.Device{}, err
	}
	if name != "" {
		return device.Find(devices, name)
	}
	return device.Select(devices, prompter)
}

func buildConsumer(cCtx *cli.Context, log *zap.SugaredLogger) (output.RecordConsumer, error) {
	files, err := output.NewFileOutput(cCtx.String("output-dir"), log)
	if err != nil {
		return nil, err
	}
	consumers := output.Multi{files}

	if raw := cCtx.String("kafka-brokers"); raw != "" {
		brokers := strings.Split(raw, ";")
		topic := cCtx.String("kafka-topic")
		log.Infof("mirroring packets to kafka %v topic %s", brokers, topic)
		kafka, err := output.NewKafkaOutput(brokers, topic)
		if err != nil {
			return nil, err
		}
		consumers = append(consumers, kafka)
	}
	return consumers, nil
}

// sessionConfig range-checks the numeric flags before they reach pcap.
func sessionConfig(cCtx *cli.Context, deviceName string) (sniffer.Config, error) {
	return sniffer.BuildConfig(deviceName,
		sniffer.WithSnapLen(cCtx.Int("snaplen")),
		sniffer.WithPromiscuous(cCtx.Bool("promisc")),
		sniffer.WithFilter(cCtx.String("filter")),
		sniffer.WithServerPort(cCtx.Int("server-port")),
		sniffer.WithIncludeEmpty(cCtx.Bool("include-empty")),
	)
}

func loggingConfig(cCtx *cli.Context) logging.Config {
	return logging.Config{
		Level:     cCtx.String("log-level"),
		File:      cCtx.String("log-file"),
		MaxSizeMB: cCtx.Int("log-max-size"),
		MaxAge:    cCtx.Int("log-max-age"),
	}
}

func logSummary(log *zap.SugaredLogger, stats sniffer.Snapshot, res output.DrainResult) {
	log.Infof("captured %d frames (%d bytes) in %v, forwarded %d, skipped %d, persisted %d, failed %d",
		stats.Captured, stats.Bytes, stats.Uptime.Round(time.Millisecond), stats.Forwarded, stats.Skipped,
		res.Consumed-res.Failed, res.Failed)
	if !stats.LastPacket.IsZero() {
		log.Infof("last packet at %s", stats.LastPacket.Format("2006-01-02 15:04:05.000"))
	}
}

func handle(cCtx *cli.Context) error {
	if err := logging.Init(loggingConfig(cCtx)); err != nil {
		return cli.Exit(fmt.Sprintf("failed to initialize logging: %v", err), 1)
	}
	log := logging.L()
	defer func() { _ = log.Sync() }()

	selected, err := selectDevice(device.List, device.PromptUI{}, cCtx.String("device"))
	if err != nil {
		return err
	}

	cfg, err := sessionConfig(cCtx, selected.Name)
	if err != nil {
		return err
	}
	log.Infof("capturing on %s", selected.Label())
	log.Debugf("pcap snaplen: %v, bpf filter: %q, server port: %v", cfg.SnapLen, cfg.Filter, cfg.ServerPort)

	consumer, err := buildConsumer(cCtx, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := consumer.Close(); err != nil {
			log.Errorf("failed to close outputs: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(cCtx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine := sniffer.NewEngine(log)
	coordinator := orchestrator.New(engine, consumer, log, orchestrator.WithDrainTimeout(cCtx.Duration("drain-timeout")))
	res, err := coordinator.Run(ctx, cfg)

	logSummary(log, engine.Stats(), res)
	return err
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "go-sniffer",
		Usage: "capture packets of one endpoint and dump them to disk",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "device",
				Aliases: []string{"pcap-device"},
				Usage:   "device for pcap, prompts when empty",
				EnvVars: []string{"SNIFFER_DEVICE"},
			},
			&cli.StringFlag{
				Name:    "output-dir",
				Value:   "dump",
				Usage:   "directory for packet files",
				EnvVars: []string{"SNIFFER_OUTPUT_DIR"},
			},
			&cli.IntFlag{
				Name:    "snaplen",
				Aliases: []string{"pcap-snaplen"},
				Value:   65535,
				Usage:   "snaplen for pcap, 1..2147483647",
				EnvVars: []string{"SNIFFER_SNAPLEN"},
			},
			&cli.BoolFlag{
				Name:    "promisc",
				Value:   true,
				Usage:   "open the device in promiscuous mode",
				EnvVars: []string{"SNIFFER_PROMISC"},
			},
			&cli.StringFlag{
				Name:    "filter",
				Aliases: []string{"pcap-filter"},
				Value:   "tcp port 8080",
				Usage:   "bpf filter for pcap",
				EnvVars: []string{"SNIFFER_FILTER"},
			},
			&cli.IntFlag{
				Name:    "server-port",
				Value:   8080,
				Usage:   "tcp port of the monitored server, 1..65535",
				EnvVars: []string{"SNIFFER_SERVER_PORT"},
			},
			&cli.BoolFlag{
				Name:    "include-empty",
				Usage:   "also dump segments without payload",
				EnvVars: []string{"SNIFFER_INCLUDE_EMPTY"},
			},
			&cli.StringFlag{
				Name:    "kafka-brokers",
				Usage:   "kafka brokers separated by ';', empty disables the mirror",
				EnvVars: []string{"SNIFFER_KAFKA_BROKERS"},
			},
			&cli.StringFlag{
				Name:    "kafka-topic",
				Value:   "packets",
				Usage:   "kafka topic",
				EnvVars: []string{"SNIFFER_KAFKA_TOPIC"},
			},
			&cli.DurationFlag{
				Name:    "drain-timeout",
				Value:   defaultDrainTimeout,
				Usage:   "how long to wait for queued packets on shutdown, 0 waits forever",
				EnvVars: []string{"SNIFFER_DRAIN_TIMEOUT"},
			},
			&cli.StringFlag{
				Name:    "log-level",
				Value:   "debug",
				Usage:   "debug, info, warn or error",
				EnvVars: []string{"SNIFFER_LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:    "log-file",
				Usage:   "also write logs to this rotated file",
				EnvVars: []string{"SNIFFER_LOG_FILE"},
			},
			&cli.IntFlag{
				Name:    "log-max-size",
				Value:   100,
				Usage:   "megabytes before the log file is rotated",
				EnvVars: []string{"SNIFFER_LOG_MAX_SIZE"},
			},
			&cli.IntFlag{
				Name:    "log-max-age",
				Usage:   "days to keep rotated log files, 0 keeps them forever",
				EnvVars: []string{"SNIFFER_LOG_MAX_AGE"},
			},
		},
		Action: handle,
	}
}

func main() {
	if err := newApp().RunContext(context.Background(), os.Args); err != nil {
		logging.L().Fatal(err)
	}
}
