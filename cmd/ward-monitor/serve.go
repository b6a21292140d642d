package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sweeney/ward-monitor/internal/config"
	"github.com/sweeney/ward-monitor/internal/ingest"
	"github.com/sweeney/ward-monitor/internal/kafka"
	"github.com/sweeney/ward-monitor/internal/live"
	"github.com/sweeney/ward-monitor/internal/metrics"
	"github.com/sweeney/ward-monitor/internal/mqtt"
	"github.com/sweeney/ward-monitor/internal/report"
	"github.com/sweeney/ward-monitor/internal/status"
	"github.com/sweeney/ward-monitor/internal/store"
	"github.com/sweeney/ward-monitor/internal/web"
)

// statusInterval is how often the daemon refreshes connectivity and
// checks whether a heartbeat is due.
const statusInterval = 5 * time.Second

func newServeCmd(load loader) *cobra.Command {
	var httpAddr, storageMode string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the ingestion daemon and HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := load()
			if err != nil {
				return err
			}
			defer logger.Sync()

			if cmd.Flags().Changed("http") {
				cfg.HTTP.Addr = httpAddr
			}
			if cmd.Flags().Changed("storage") {
				cfg.Storage.Mode = storageMode
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), color.CyanString(banner))
			return run(cfg, logger)
		},
	}
	cmd.Flags().StringVar(&httpAddr, "http", "", "HTTP listen address, overrides http.addr (empty to disable)")
	cmd.Flags().StringVar(&storageMode, "storage", "", "storage mode: file or sqlite, overrides storage.mode")
	return cmd
}

func run(cfg *config.Config, logger *zap.Logger) error {
	st, err := store.Open(store.Config{
		Mode:   cfg.Storage.Mode,
		Dir:    cfg.Storage.Dir,
		DBPath: cfg.Storage.DBPath,
	}, logger.Named("store"))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	statusCfg := status.Config{
		StorageMode: cfg.Storage.Mode,
		HTTPAddr:    cfg.HTTP.Addr,
	}
	if cfg.MQTT.Enabled {
		statusCfg.Broker = cfg.MQTT.Broker
	}
	if cfg.Kafka.Topic != "" {
		statusCfg.KafkaTopic = cfg.Kafka.Topic
	}
	tracker := status.NewTracker(time.Now(), statusCfg)

	hub := live.NewHub(logger.Named("live"))
	defer hub.Close()

	svc := ingest.NewService(st, logger.Named("ingest"),
		ingest.WithListener(tracker),
		ingest.WithListener(hub))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// MQTT
	var publisher mqtt.Publisher
	var mqttStatus mqtt.ConnectionStatus
	if cfg.MQTT.Enabled {
		client, err := mqtt.NewRealClient(mqtt.Options{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Topic:    cfg.MQTT.Topic,
			QoS:      byte(cfg.MQTT.QoS),
		}, logger.Named("mqtt"))
		if err != nil {
			logger.Warn("mqtt unavailable, continuing without it",
				zap.String("broker", cfg.MQTT.Broker), zap.Error(err))
		} else {
			defer client.Close()
			if err := client.Subscribe(cfg.MQTT.Topic, mqtt.IngestHandler(ctx, svc, logger.Named("mqtt"))); err != nil {
				return fmt.Errorf("subscribe %s: %w", cfg.MQTT.Topic, err)
			}
			publisher = client
			mqttStatus = client
			tracker.SetMQTTConnected(client.IsConnected())
			logger.Info("mqtt subscribed", zap.String("broker", cfg.MQTT.Broker), zap.String("topic", cfg.MQTT.Topic))
		}
	}

	// Kafka
	var wg sync.WaitGroup
	if cfg.Kafka.Topic != "" {
		reader := kafka.NewReader(kafka.Config{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
			GroupID: cfg.Kafka.GroupID,
		})
		consumer := kafka.NewConsumer(reader, svc, logger.Named("kafka"),
			kafka.WithStatus(tracker.SetKafkaConnected))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := consumer.Run(ctx); err != nil {
				logger.Error("kafka consumer stopped", zap.Error(err))
			}
		}()
		logger.Info("kafka consumer started", zap.String("brokers", cfg.Kafka.Brokers), zap.String("topic", cfg.Kafka.Topic))
	}

	// Metrics are optional; ingestion works without the backlog database.
	var dashboard web.Metrics
	if src, err := metrics.OpenSQLSource(cfg.Metrics.DBPath); err != nil {
		logger.Warn("metrics source unavailable, /metrics disabled", zap.Error(err))
	} else {
		defer src.Close()
		dashboard = metrics.NewDashboard(src)
	}

	reports := report.NewExecGenerator(cfg.Report.Command, cfg.Report.Timeout, logger.Named("report"))

	publishSystem(publisher, mqttStatus, tracker, "STARTUP", "", time.Now(), logger)

	var srv *web.Server
	if cfg.HTTP.Addr != "" {
		srv = web.New(cfg.HTTP.Addr, web.Deps{
			Ingester:        svc,
			Readings:        st,
			Metrics:         dashboard,
			Reports:         reports,
			Tracker:         tracker,
			Live:            hub,
			HistoryLimit:    cfg.HTTP.HistoryLimit,
			MaxHistoryLimit: cfg.HTTP.MaxHistoryLimit,
		}, logger.Named("http"))
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http server error", zap.Error(err))
			}
		}()
		logger.Info("http server listening", zap.String("addr", cfg.HTTP.Addr))
	}

	logger.Info("started",
		zap.String("storage", cfg.Storage.Mode),
		zap.Bool("mqtt", publisher != nil),
		zap.Bool("kafka", cfg.Kafka.Topic != ""),
		zap.Bool("metrics", dashboard != nil),
		zap.Duration("heartbeat", cfg.MQTT.Heartbeat))

	ticker := time.NewTicker(statusInterval)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	err = runLoop(publisher, mqttStatus, tracker, cfg.MQTT.Heartbeat, time.Now, ticker.C, sigCh, logger)

	if srv != nil {
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("http shutdown", zap.Error(err))
		}
		cancelShutdown()
	}
	cancel()
	wg.Wait()
	return err
}

// runLoop keeps the tracker's connectivity current, emits heartbeats and
// publishes SHUTDOWN when a signal arrives. publisher may be nil when MQTT
// is disabled.
func runLoop(publisher mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, tracker *status.Tracker, heartbeat time.Duration, now func() time.Time, tick <-chan time.Time, sig <-chan os.Signal, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	lastHeartbeat := now()

	for {
		select {
		case s := <-sig:
			name := signalName(s)
			logger.Info("shutting down", zap.String("signal", name))
			publishSystem(publisher, mqttStatus, tracker, "SHUTDOWN", name, now(), logger)
			return nil

		case <-tick:
			t := now()
			if tracker != nil && mqttStatus != nil {
				tracker.SetMQTTConnected(mqttStatus.IsConnected())
			}
			if heartbeat <= 0 || t.Sub(lastHeartbeat) < heartbeat {
				continue
			}
			lastHeartbeat = t

			if tracker != nil {
				snap := tracker.Snapshot()
				logger.Info("heartbeat",
					zap.Duration("uptime", snap.Uptime()),
					zap.Int("accepted", snap.Counts.Accepted),
					zap.Int("empty_payload", snap.Counts.EmptyPayload),
					zap.Int("malformed_input", snap.Counts.MalformedInput),
					zap.Int("storage_failure", snap.Counts.StorageFailure))
			}
			publishSystem(publisher, mqttStatus, tracker, "HEARTBEAT", "", t, logger)
		}
	}
}

// publishSystem sends a lifecycle event carrying the current status
// snapshot. STARTUP and SHUTDOWN are retained; heartbeats are not.
func publishSystem(publisher mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, tracker *status.Tracker, event, reason string, at time.Time, logger *zap.Logger) {
	if publisher == nil {
		return
	}
	se := mqtt.SystemEvent{
		Timestamp: at,
		Event:     event,
		Reason:    reason,
		Retained:  event != "HEARTBEAT",
	}
	if tracker != nil {
		if mqttStatus != nil {
			tracker.SetMQTTConnected(mqttStatus.IsConnected())
		}
		se.RawPayload = status.FormatStatusEvent(tracker.Snapshot(), event, reason)
	}
	if err := publisher.PublishSystem(se); err != nil {
		logger.Warn("failed to publish system event", zap.String("event", event), zap.Error(err))
		return
	}
	logger.Info("published system event", zap.String("event", event))
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	default:
		return "UNKNOWN"
	}
}
