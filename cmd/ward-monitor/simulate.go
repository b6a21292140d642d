package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sweeney/ward-monitor/internal/config"
	"github.com/sweeney/ward-monitor/internal/mqtt"
	"github.com/sweeney/ward-monitor/internal/simulator"
)

func newSimulateCmd(load loader) *cobra.Command {
	var (
		transport string
		url       string
		deviceID  string
		interval  time.Duration
		once      bool
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Send generated ward readings over MQTT or HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := load()
			if err != nil {
				return err
			}
			defer logger.Sync()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			var sender simulator.Sender
			switch transport {
			case "mqtt":
				client, err := mqtt.NewRealClient(mqtt.Options{
					Broker:   cfg.MQTT.Broker,
					ClientID: cfg.MQTT.ClientID + "-simulator",
					Topic:    cfg.MQTT.Topic,
					QoS:      byte(cfg.MQTT.QoS),
				}, logger.Named("mqtt"))
				if err != nil {
					return fmt.Errorf("init mqtt: %w", err)
				}
				defer client.Close()
				sender = simulator.MQTTSender{Publisher: client}
			case "http":
				if url == "" {
					url = receiveURL(cfg)
				}
				sender = simulator.NewHTTPSender(url)
			default:
				return fmt.Errorf("unknown transport %q (want mqtt or http)", transport)
			}

			r := &simulator.Runner{
				Sender:   sender,
				DeviceID: deviceID,
				Interval: interval,
				Logger:   logger.Named("simulator"),
			}
			return r.Run(ctx, once)
		},
	}
	cmd.Flags().StringVar(&transport, "transport", "mqtt", "mqtt or http")
	cmd.Flags().StringVar(&url, "url", "", "ingestion endpoint for --transport=http (default derived from http.addr)")
	cmd.Flags().StringVar(&deviceID, "device", simulator.DefaultDeviceID, "device id stamped on each reading")
	cmd.Flags().DurationVar(&interval, "interval", simulator.DefaultInterval, "time between readings")
	cmd.Flags().BoolVar(&once, "once", false, "send a single reading and exit")
	return cmd
}

// receiveURL derives the local ingestion endpoint from the HTTP listen
// address. An address without a host targets localhost.
func receiveURL(cfg *config.Config) string {
	host, port, err := net.SplitHostPort(cfg.HTTP.Addr)
	if err != nil {
		return "http://localhost:8080/iot/receive"
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, port) + "/iot/receive"
}
