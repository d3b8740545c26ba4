package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/sweeney/kiln-controller/internal/config"
	"github.com/sweeney/kiln-controller/internal/control"
	"github.com/sweeney/kiln-controller/internal/firing"
	"github.com/sweeney/kiln-controller/internal/gpio"
	"github.com/sweeney/kiln-controller/internal/mqtt"
	"github.com/sweeney/kiln-controller/internal/notify"
	"github.com/sweeney/kiln-controller/internal/preset"
	"github.com/sweeney/kiln-controller/internal/schedule"
	"github.com/sweeney/kiln-controller/internal/sensor"
	"github.com/sweeney/kiln-controller/internal/status"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kiln.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadConfigFlagOverrides(t *testing.T) {
	path := writeConfig(t, "http:\n  addr: \":8080\"\nmqtt:\n  broker: tcp://a:1883\n")

	cfg, err := loadConfig(flags{config: path})
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.HTTP.Addr != ":8080" || cfg.MQTT.Broker != "tcp://a:1883" {
		t.Errorf("file values: got http=%q broker=%q", cfg.HTTP.Addr, cfg.MQTT.Broker)
	}

	cfg, err = loadConfig(flags{config: path, http: ":9090", broker: "tcp://b:1883", sim: true})
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.HTTP.Addr != ":9090" {
		t.Errorf("http: got %q, want :9090", cfg.HTTP.Addr)
	}
	if cfg.MQTT.Broker != "tcp://b:1883" {
		t.Errorf("broker: got %q, want tcp://b:1883", cfg.MQTT.Broker)
	}
	if cfg.Sensor.Driver != config.DriverSim {
		t.Errorf("driver: got %q, want sim", cfg.Sensor.Driver)
	}

	cfg, err = loadConfig(flags{config: path, http: "off"})
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.HTTP.Addr != "" {
		t.Errorf("http off: got %q, want empty", cfg.HTTP.Addr)
	}
}

func TestLoadConfigErrors(t *testing.T) {
	if _, err := loadConfig(flags{config: filepath.Join(t.TempDir(), "missing.yaml")}); err == nil {
		t.Error("expected error for missing file")
	}
	path := writeConfig(t, "notify:\n  mqtt: true\n")
	if _, err := loadConfig(flags{config: path}); err == nil {
		t.Error("expected error: notify.mqtt without broker")
	}
	if _, err := loadConfig(flags{config: path, broker: "tcp://a:1883"}); err != nil {
		t.Errorf("broker flag should satisfy notify.mqtt: %v", err)
	}

	// A driver the file gets wrong is fixed by -sim before validation.
	path = writeConfig(t, "sensor:\n  driver: max31855\n  cs: 17\n")
	if _, err := loadConfig(flags{config: path}); err == nil {
		t.Error("expected error: cs shares the relay pin")
	}
	if _, err := loadConfig(flags{config: path, sim: true}); err != nil {
		t.Errorf("sim flag should lift pin checks: %v", err)
	}
}

func TestSignalName(t *testing.T) {
	tests := []struct {
		sig  os.Signal
		want string
	}{
		{syscall.SIGINT, "SIGINT"},
		{syscall.SIGTERM, "SIGTERM"},
		{syscall.SIGHUP, "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := signalName(tt.sig); got != tt.want {
			t.Errorf("signalName(%v): got %q, want %q", tt.sig, got, tt.want)
		}
	}
}

func TestPrintTemperature(t *testing.T) {
	var buf bytes.Buffer
	tc := gpio.NewFakeThermocouple(gpio.Sample{Temp: 100})
	if err := printTemperature(&buf, sensor.InUnit(tc, sensor.Fahrenheit), sensor.Fahrenheit); err != nil {
		t.Fatalf("printTemperature: %v", err)
	}
	if got := buf.String(); got != "Temperature: 212.00°F\n" {
		t.Errorf("output: got %q", got)
	}

	failing := gpio.NewFakeThermocouple(gpio.Sample{Err: gpio.ErrOpenCircuit})
	if err := printTemperature(&buf, failing, sensor.Celsius); err == nil {
		t.Error("expected error for faulted thermocouple")
	}
}

func TestOpenHardwareSim(t *testing.T) {
	cfg := config.Default()
	cfg.Sensor.Driver = config.DriverSim
	tc, relay, err := openHardware(&cfg, true)
	if err != nil {
		t.Fatalf("openHardware: %v", err)
	}
	v, err := tc.ReadTemperature()
	if err != nil {
		t.Fatalf("ReadTemperature: %v", err)
	}
	if v < 20 || v > 30 {
		t.Errorf("sim kiln starts near ambient, got %v", v)
	}
	if err := relay.Set(true); err != nil {
		t.Errorf("relay.Set: %v", err)
	}
	if err := relay.Close(); err != nil {
		t.Errorf("relay.Close: %v", err)
	}
}

func TestOpenStoreFile(t *testing.T) {
	cfg := config.Default()
	cfg.Presets.Dir = filepath.Join(t.TempDir(), "presets")
	store, closeStore, err := openStore(&cfg)
	if err != nil {
		t.Fatalf("openStore: %v", err)
	}
	defer closeStore()
	if _, ok := store.(*preset.FileStore); !ok {
		t.Errorf("store: got %T, want *preset.FileStore", store)
	}
}

func TestOpenStoreRedis(t *testing.T) {
	cfg := config.Default()
	cfg.Presets.Driver = config.StoreRedis
	store, closeStore, err := openStore(&cfg)
	if err != nil {
		t.Fatalf("openStore: %v", err)
	}
	defer closeStore()
	if _, ok := store.(*preset.RedisStore); !ok {
		t.Errorf("store: got %T, want *preset.RedisStore", store)
	}
}

func TestNotificationTransport(t *testing.T) {
	cfg := config.Default()
	pub := mqtt.NewFakePublisher()

	if _, ok := notificationTransport(&cfg, nil, quietLogger()).(logTransport); !ok {
		t.Error("no sinks: expected logTransport")
	}

	cfg.Notify.WebhookURL = "http://example.invalid/hook"
	tr, ok := notificationTransport(&cfg, pub, quietLogger()).(notify.Multi)
	if !ok || len(tr) != 1 {
		t.Errorf("webhook only: got %#v", tr)
	}

	cfg.Notify.MQTT = true
	tr, ok = notificationTransport(&cfg, pub, quietLogger()).(notify.Multi)
	if !ok || len(tr) != 2 {
		t.Fatalf("webhook + mqtt: got %#v", tr)
	}
	tr[1].Send(context.Background(), "hello")
	if len(pub.Notifications) != 1 || pub.Notifications[0] != "hello" {
		t.Errorf("mqtt notifications: got %v", pub.Notifications)
	}
}

func TestStatusConfig(t *testing.T) {
	cfg := config.Default()
	sc := statusConfig(&cfg)
	if sc.TickMs != 1000 {
		t.Errorf("TickMs: got %d, want 1000", sc.TickMs)
	}
	if sc.FaultIntervalMs != 300000 {
		t.Errorf("FaultIntervalMs: got %d, want 300000", sc.FaultIntervalMs)
	}
	if sc.SuppressAbove != 700 || sc.Unit != "C" || sc.AuditDir != "firings" || sc.HTTPPort != ":5000" {
		t.Errorf("status config: got %+v", sc)
	}

	cfg.Unit = "F"
	if got := statusConfig(&cfg).SuppressAbove; got != 1292 {
		t.Errorf("SuppressAbove in F: got %v, want 1292", got)
	}
}

func TestNewLoggerTee(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "kiln.log")
	var out bytes.Buffer
	logger, closeLog, err := newLogger(config.LogConfig{Level: "debug", File: path}, &out)
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	logger.Debug("relay_on", "temp", 512.5)
	closeLog()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	for name, got := range map[string]string{"stdout": out.String(), "file": string(data)} {
		if !strings.Contains(got, "msg=relay_on") || !strings.Contains(got, "temp=512.5") {
			t.Errorf("%s: got %q", name, got)
		}
	}
}

func TestNewLoggerLevel(t *testing.T) {
	var out bytes.Buffer
	logger, _, err := newLogger(config.LogConfig{Level: "warn"}, &out)
	if err != nil {
		t.Fatalf("newLogger: %v", err)
	}
	logger.Info("hidden")
	logger.Warn("shown")
	if strings.Contains(out.String(), "hidden") || !strings.Contains(out.String(), "shown") {
		t.Errorf("output: got %q", out.String())
	}

	if _, _, err := newLogger(config.LogConfig{Level: "loud"}, &out); err == nil {
		t.Error("expected error for bad level")
	}
}

// --- runLoop tests ---

type loopRig struct {
	manager *firing.Manager
	relay   *gpio.FakeRelay
	tc      *gpio.FakeThermocouple
	pub     *mqtt.FakePublisher
	tracker *status.Tracker
}

func newLoopRig(t *testing.T, samples ...gpio.Sample) *loopRig {
	t.Helper()
	r := &loopRig{
		relay:   gpio.NewFakeRelay(),
		tc:      gpio.NewFakeThermocouple(samples...),
		pub:     mqtt.NewFakePublisher(),
		tracker: status.NewTracker(time.Now(), status.Config{}),
	}
	n, err := notify.New(&notify.FakeTransport{}, notify.Config{FaultInterval: time.Minute}, quietLogger())
	if err != nil {
		t.Fatalf("notify.New: %v", err)
	}
	never := func(time.Duration) (<-chan time.Time, func()) { return make(chan time.Time), func() {} }
	r.manager, err = firing.NewManager(
		firing.Config{
			Period: time.Second,
			Gains:  control.Gains{Kp: 1, OutMax: 1},
			Sensor: sensor.Config{Policy: sensor.RetryPolicy{SuppressAbove: 700}, Min: -50, Max: 1400, Default: 20},
		},
		firing.Deps{
			Source:    r.tc,
			Relay:     r.relay,
			Notifier:  n,
			OpenAudit: firing.AuditDir(t.TempDir()),
			Tracker:   r.tracker,
			Telemetry: r.pub,
			Logger:    quietLogger(),
		}, never)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return r
}

func (r *loopRig) start(t *testing.T) {
	t.Helper()
	sched, err := schedule.FromMinutes([][2]float64{{0, 25}, {60, 600}})
	if err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if _, err := r.manager.Start("bisque", sched); err != nil {
		t.Fatalf("Start: %v", err)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func runRunLoop(r *loopRig, sig os.Signal, timeout time.Duration) error {
	sigCh := make(chan os.Signal, 1)
	sigCh <- sig
	return runLoop(r.manager, r.relay, r.pub, r.pub, r.tracker, quietLogger(), sigCh, timeout)
}

func TestRunLoopShutdownStopsFiring(t *testing.T) {
	r := newLoopRig(t, gpio.Sample{Temp: 20})
	r.start(t)
	waitFor(t, "first tick", func() bool { return r.tracker.Snapshot().Ticks >= 1 })
	if !r.relay.State() {
		t.Fatal("expected relay on below setpoint")
	}

	if err := runRunLoop(r, syscall.SIGTERM, 5*time.Second); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	if r.relay.State() {
		t.Error("relay on after shutdown")
	}
	if got := r.tracker.Snapshot().State; got != status.StateStopped {
		t.Errorf("state: got %s, want STOPPED", got)
	}
	want := []string{"SESSION_START", "SESSION_STOP", "SHUTDOWN"}
	if got := r.pub.Events(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("system events: got %v, want %v", got, want)
	}
	se := r.pub.SystemEvents[2]
	if se.Reason != "SIGTERM" {
		t.Errorf("expected reason SIGTERM, got %q", se.Reason)
	}
	if !se.Retained {
		t.Error("expected Retained=true for SHUTDOWN")
	}
	if !strings.Contains(string(se.RawPayload), `"state":"STOPPED"`) {
		t.Errorf("payload: got %s", se.RawPayload)
	}
}

func TestRunLoopShutdownIdle(t *testing.T) {
	r := newLoopRig(t, gpio.Sample{Temp: 20})

	if err := runRunLoop(r, syscall.SIGINT, time.Second); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}
	if len(r.pub.SystemEvents) != 1 {
		t.Fatalf("expected 1 system event, got %d", len(r.pub.SystemEvents))
	}
	se := r.pub.SystemEvents[0]
	if se.Event != "SHUTDOWN" || se.Reason != "SIGINT" {
		t.Errorf("got %s/%s, want SHUTDOWN/SIGINT", se.Event, se.Reason)
	}
	if !strings.Contains(string(se.RawPayload), `"state":"IDLE"`) {
		t.Errorf("payload: got %s", se.RawPayload)
	}
}

func TestRunLoopForcesRelayOffWhenSessionHangs(t *testing.T) {
	r := newLoopRig(t, gpio.Sample{Temp: 20})
	release := make(chan struct{})
	reading := make(chan struct{}, 1)
	r.tc.OnRead = func(n int) {
		if n == 1 {
			reading <- struct{}{}
			<-release
		}
	}
	t.Cleanup(r.manager.Wait)
	defer close(release)

	r.start(t)
	<-reading
	r.relay.Set(true)

	err := runRunLoop(r, syscall.SIGTERM, 50*time.Millisecond)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("runLoop: got %v, want deadline exceeded", err)
	}
	if r.relay.State() {
		t.Error("relay on after shutdown timeout")
	}
	events := r.pub.Events()
	if len(events) == 0 || events[len(events)-1] != "SHUTDOWN" {
		t.Errorf("system events: got %v, want SHUTDOWN last", events)
	}
}

func TestPublishSystemWithoutMQTT(t *testing.T) {
	tr := status.NewTracker(time.Now(), status.Config{})
	// A nil publisher is a no-op.
	publishSystem(nil, nil, tr, quietLogger(), "STARTUP", "")
}

func TestPublishSystemRefreshesConnection(t *testing.T) {
	tr := status.NewTracker(time.Now(), status.Config{})
	pub := mqtt.NewFakePublisher()
	pub.Connected = true

	publishSystem(pub, pub, tr, quietLogger(), "STARTUP", "")

	if !tr.Snapshot().MQTTConnected {
		t.Error("expected tracker MQTT state refreshed")
	}
	if len(pub.SystemEvents) != 1 || pub.SystemEvents[0].Event != "STARTUP" {
		t.Fatalf("events: got %v", pub.Events())
	}
	if !strings.Contains(string(pub.SystemPayloads[0]), `"event":"STARTUP"`) {
		t.Errorf("payload: got %s", pub.SystemPayloads[0])
	}
}
