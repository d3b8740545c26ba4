// Command kiln-controller runs kiln firings: it follows a temperature schedule
// with a PID-driven heater relay, tolerates thermocouple faults, sends
// notifications, writes a per-firing audit log and serves an HTTP control page.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sweeney/kiln-controller/internal/config"
	"github.com/sweeney/kiln-controller/internal/firing"
	"github.com/sweeney/kiln-controller/internal/gpio"
	"github.com/sweeney/kiln-controller/internal/mqtt"
	"github.com/sweeney/kiln-controller/internal/notify"
	"github.com/sweeney/kiln-controller/internal/preset"
	"github.com/sweeney/kiln-controller/internal/sensor"
	"github.com/sweeney/kiln-controller/internal/status"
	"github.com/sweeney/kiln-controller/internal/web"
)

// shutdownTimeout bounds how long a signal waits for the firing to stop.
const shutdownTimeout = 10 * time.Second

type flags struct {
	config    string
	http      string
	broker    string
	printTemp bool
	profile   string
	sim       bool
}

func main() {
	var f flags
	flag.StringVar(&f.config, "config", "", "YAML config file (empty uses built-in defaults)")
	flag.StringVar(&f.http, "http", "", `HTTP control address, overrides http.addr ("off" disables)`)
	flag.StringVar(&f.broker, "broker", "", "MQTT broker address, overrides mqtt.broker")
	flag.BoolVar(&f.printTemp, "print-temp", false, "Print the current thermocouple temperature and exit")
	flag.StringVar(&f.profile, "profile", "", "Start a firing of this stored profile on boot")
	flag.BoolVar(&f.sim, "sim", false, "Use the simulated kiln instead of GPIO hardware")
	flag.Parse()

	cfg, err := loadConfig(f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}

	logger, closeLog, err := newLogger(cfg.Log, os.Stdout)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	if err := run(cfg, f, logger); err != nil {
		logger.Error("fatal", "error", err)
		closeLog()
		os.Exit(1)
	}
	closeLog()
}

// loadConfig reads the config file, applies command-line overrides and only
// then validates.
func loadConfig(f flags) (*config.Config, error) {
	cfg, err := config.Read(f.config)
	if err != nil {
		return nil, err
	}
	switch f.http {
	case "":
	case "off":
		cfg.HTTP.Addr = ""
	default:
		cfg.HTTP.Addr = f.http
	}
	if f.broker != "" {
		cfg.MQTT.Broker = f.broker
	}
	if f.sim {
		cfg.Sensor.Driver = config.DriverSim
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func run(cfg *config.Config, f flags, logger *slog.Logger) error {
	unit := sensor.Unit(cfg.Unit)

	// Print temperature mode
	if f.printTemp {
		tc, _, err := openHardware(cfg, false)
		if err != nil {
			return err
		}
		defer tc.Close()
		return printTemperature(os.Stdout, sensor.InUnit(tc, unit), unit)
	}

	tc, relay, err := openHardware(cfg, true)
	if err != nil {
		return err
	}
	defer tc.Close()
	defer relay.Close()

	store, closeStore, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	// Initialize status tracker (before STARTUP so snapshot is available)
	tracker := status.NewTracker(time.Now(), statusConfig(cfg))

	// Initialize MQTT
	var publisher mqtt.Publisher
	var mqttStatus mqtt.ConnectionStatus
	if cfg.MQTT.Broker != "" {
		rp, err := mqtt.NewRealPublisher(mqtt.Options{
			Broker:             cfg.MQTT.Broker,
			ClientID:           cfg.MQTT.ClientID,
			Topics:             cfg.Topics(),
			BufferSize:         cfg.MQTT.BufferSize,
			Logger:             logger,
			OnConnectionChange: tracker.SetMQTTConnected,
		})
		if err != nil {
			return fmt.Errorf("init mqtt: %w", err)
		}
		defer rp.Close()
		publisher, mqttStatus = rp, rp
	}

	transport := notify.NewAsync(notificationTransport(cfg, publisher, logger),
		cfg.Notify.QueueSize, cfg.Notify.WebhookTimeout, logger)
	notifier, err := notify.New(transport, cfg.NotifyConfig(), logger)
	if err != nil {
		return fmt.Errorf("init notifier: %w", err)
	}

	var telemetry firing.Telemetry
	if publisher != nil {
		telemetry = publisher
	}
	manager, err := firing.NewManager(
		firing.Config{Period: cfg.Tick, Gains: cfg.Gains(), Sensor: cfg.SensorConfig()},
		firing.Deps{
			Source:    sensor.InUnit(tc, unit),
			Relay:     relay,
			Notifier:  notifier,
			OpenAudit: firing.AuditDir(cfg.Audit.Dir),
			Tracker:   tracker,
			Telemetry: telemetry,
			Logger:    logger,
		}, nil)
	if err != nil {
		return fmt.Errorf("init firing manager: %w", err)
	}

	publishSystem(publisher, mqttStatus, tracker, logger, "STARTUP", "")

	// Start HTTP control server
	if cfg.HTTP.Addr != "" {
		srv := web.New(cfg.HTTP.Addr, tracker, web.FromManager(manager), store, logger,
			web.WithDefaultProfile(f.profile))
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("http_server_failed", "error", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		logger.Info("http_listening", "addr", cfg.HTTP.Addr)
	}

	if f.profile != "" {
		if err := startProfile(context.Background(), manager, store, f.profile); err != nil {
			logger.Error("boot_firing_failed", "profile", f.profile, "error", err)
		}
	}

	logger.Info("started",
		"tick", cfg.Tick, "unit", cfg.Unit, "sensor", cfg.Sensor.Driver,
		"suppress_above", cfg.SuppressAbove(), "broker", cfg.MQTT.Broker)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	err = runLoop(manager, relay, publisher, mqttStatus, tracker, logger, sigCh, shutdownTimeout)

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if cerr := transport.Close(ctx); cerr != nil {
		logger.Warn("notification_flush_incomplete", "error", cerr)
	}
	return err
}

// runLoop waits for a signal, then stops the firing and announces shutdown.
// If the session does not stop in time the relay is forced off directly.
func runLoop(manager *firing.Manager, relay gpio.Relay, publisher mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, tracker *status.Tracker, logger *slog.Logger, sig <-chan os.Signal, timeout time.Duration) error {
	s := <-sig
	name := signalName(s)
	logger.Info("shutting_down", "signal", name)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	err := manager.Shutdown(ctx)
	if err != nil {
		logger.Error("firing_shutdown_timeout", "error", err)
		if rerr := relay.Set(false); rerr != nil {
			logger.Error("relay_write_failed", "on", false, "error", rerr)
		}
		err = fmt.Errorf("stop firing: %w", err)
	}

	publishSystem(publisher, mqttStatus, tracker, logger, "SHUTDOWN", name)
	return err
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

// publishSystem sends a retained lifecycle event with a full status snapshot.
// publisher may be nil when MQTT is disabled.
func publishSystem(publisher mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, tracker *status.Tracker, logger *slog.Logger, event, reason string) {
	if publisher == nil {
		return
	}
	if mqttStatus != nil {
		tracker.SetMQTTConnected(mqttStatus.IsConnected())
	}
	snap := tracker.Snapshot()
	err := publisher.PublishSystem(mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      event,
		Reason:     reason,
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, event, reason),
	})
	if err != nil {
		logger.Warn("system_event_publish_failed", "event", event, "error", err)
		return
	}
	logger.Info("system_event_published", "event", event)
}

// openHardware opens the thermocouple and, when withRelay is set, the relay.
func openHardware(cfg *config.Config, withRelay bool) (gpio.Thermocouple, gpio.Relay, error) {
	if cfg.Sensor.Driver == config.DriverSim {
		kiln := gpio.NewSimKiln(nil)
		kiln.FaultEvery = cfg.Sensor.SimFaultEvery
		return kiln.Thermocouple(), kiln.Relay(), nil
	}

	tc, err := gpio.NewRealThermocouple(cfg.Pins())
	if err != nil {
		return nil, nil, fmt.Errorf("init thermocouple: %w", err)
	}
	if !withRelay {
		return tc, nil, nil
	}
	relay, err := gpio.NewRealRelay(cfg.Relay.Pin, cfg.Relay.ActiveLow)
	if err != nil {
		tc.Close()
		return nil, nil, fmt.Errorf("init relay: %w", err)
	}
	return tc, relay, nil
}

func printTemperature(w io.Writer, src sensor.Source, unit sensor.Unit) error {
	v, err := src.ReadTemperature()
	if err != nil {
		return fmt.Errorf("read thermocouple: %w", err)
	}
	fmt.Fprintf(w, "Temperature: %.2f°%s\n", v, unit)
	return nil
}

// openStore returns the configured profile store and a function releasing it.
func openStore(cfg *config.Config) (preset.Store, func(), error) {
	switch cfg.Presets.Driver {
	case config.StoreRedis:
		r := cfg.Presets.Redis
		s := preset.NewRedisStore(r.Addr, r.Password, r.DB, r.Prefix)
		return s, func() { s.Close() }, nil
	default:
		s, err := preset.NewFileStore(cfg.Presets.Dir)
		if err != nil {
			return nil, nil, err
		}
		return s, func() {}, nil
	}
}

// notificationTransport fans notifications out to the configured sinks. With
// none configured, messages only reach the log.
func notificationTransport(cfg *config.Config, publisher mqtt.Publisher, logger *slog.Logger) notify.Transport {
	var sinks notify.Multi
	if cfg.Notify.WebhookURL != "" {
		sinks = append(sinks, notify.NewWebhook(cfg.Notify.WebhookURL, cfg.Notify.WebhookTimeout))
	}
	if cfg.Notify.MQTT && publisher != nil {
		sinks = append(sinks, publisher)
	}
	if len(sinks) == 0 {
		return logTransport{logger: logger}
	}
	return sinks
}

// logTransport writes notifications to the log.
type logTransport struct {
	logger *slog.Logger
}

func (t logTransport) Send(_ context.Context, text string) error {
	t.logger.Info("notification", "text", text)
	return nil
}

func startProfile(ctx context.Context, manager *firing.Manager, store preset.Store, name string) error {
	p, err := store.Get(ctx, name)
	if err != nil {
		return err
	}
	sched, err := p.Schedule()
	if err != nil {
		return err
	}
	_, err = manager.Start(name, sched)
	return err
}

func statusConfig(cfg *config.Config) status.Config {
	return status.Config{
		TickMs:           cfg.Tick.Milliseconds(),
		Unit:             cfg.Unit,
		SuppressAbove:    cfg.SuppressAbove(),
		StatusIntervalMs: cfg.Notify.StatusInterval.Milliseconds(),
		FaultIntervalMs:  cfg.Notify.FaultInterval.Milliseconds(),
		Broker:           cfg.MQTT.Broker,
		HTTPPort:         cfg.HTTP.Addr,
		AuditDir:         cfg.Audit.Dir,
	}
}
