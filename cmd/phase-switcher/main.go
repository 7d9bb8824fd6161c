// Command phase-switcher runs the AC EV charger phase switcher: it
// polls the EVSE controller and energy meter, drives the phase
// contactors, and serves the HTTP/websocket control surface.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"fenwick-energy/phase-switcher/internal/api"
	"fenwick-energy/phase-switcher/internal/config"
	"fenwick-energy/phase-switcher/internal/evse"
	"fenwick-energy/phase-switcher/internal/hardware"
	"fenwick-energy/phase-switcher/internal/meter"
	"fenwick-energy/phase-switcher/internal/mqttpub"
	"fenwick-energy/phase-switcher/internal/scheduler"
	"fenwick-energy/phase-switcher/internal/switcher"
	"fenwick-energy/phase-switcher/internal/telemetry"
)

var opts struct {
	configPath string
	logLevel   string

	evseURL string

	meterAddress  string
	meterUnitID   uint8
	meterRegister uint16
	meterEncoding string

	mqttBroker string
	httpAddr   string

	fakeHardware bool
}

func main() {
	cmd := newCommand()
	if err := cmd.Execute(); err != nil {
		logrus.Fatal(err)
	}
}

func newCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "phase-switcher",
		Short: "Supervisory controller for dynamic 1/2/3-phase EV charging",
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return setupLogger(opts.logLevel)
		},
		RunE: func(_ *cobra.Command, _ []string) error {
			return run()
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.configPath, "config", "/etc/phase-switcher/config.yaml", "Path to the persisted configuration file")
	flags.StringVar(&opts.logLevel, "log-level", "info", "Log level (trace, debug, info, warn, error)")
	flags.StringVar(&opts.evseURL, "evse-url", "http://192.168.1.50", "Base URL of the EVSE controller")
	flags.StringVar(&opts.meterAddress, "meter-address", "192.168.1.60:502", "Modbus TCP address of the energy meter")
	flags.Uint8Var(&opts.meterUnitID, "meter-unit-id", 1, "Modbus unit/slave ID of the energy meter")
	flags.Uint16Var(&opts.meterRegister, "meter-register", 0, "Holding register address of the instantaneous power reading")
	flags.StringVar(&opts.meterEncoding, "meter-encoding", "float32", "Register encoding: uint16, float32, or float64")
	flags.StringVar(&opts.mqttBroker, "mqtt-broker", "tcp://localhost:1883", "MQTT broker address")
	flags.StringVar(&opts.httpAddr, "http", ":8080", "HTTP listen address")
	flags.BoolVar(&opts.fakeHardware, "fake-hardware", false, "Use in-memory relay/digital-in/EVSE/meter/MQTT doubles instead of real hardware (for bench testing off the target platform)")

	return cmd
}

func setupLogger(levelName string) error {
	level, err := logrus.ParseLevel(levelName)
	if err != nil {
		return fmt.Errorf("parse log level: %w", err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	return nil
}

func run() error {
	log := logrus.StandardLogger()

	store := config.NewStore(opts.configPath)
	cfg, err := store.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log.WithField("path", opts.configPath).Info("configuration loaded")

	deps, closers, err := buildDeps(log)
	if err != nil {
		return fmt.Errorf("build hardware/network dependencies: %w", err)
	}
	defer closeAll(closers, log)

	meterAvailable := probeMeter(deps.meterRdr)
	if !meterAvailable {
		log.Warn("energy meter not available at startup: disabling phase switcher module")
		cfg.Enabled = false
	}

	now := time.Now()
	sw := switcher.New(now, cfg, deps.switcherDeps())
	if !meterAvailable {
		sw.DisableModule()
	}

	// apiServer and harness reference each other (handlers Defer onto the
	// harness; the harness's snapshot task broadcasts over apiServer's
	// websocket subscribers), so apiServer is declared before it exists
	// and filled in once the harness is built.
	var apiServer *api.Server
	harness := scheduler.New(scheduler.Callbacks{
		Tick: sw.Tick,
		PublishSnapshot: func(t time.Time) {
			sw.PublishSnapshot(t)
			apiServer.BroadcastSnapshot(sw.Snapshot(t))
		},
		RecordTelemetry: sw.RecordTelemetry,
	}, time.Now, log)

	apiServer = api.New(api.Deps{
		Switcher:    sw,
		Scheduler:   harness,
		ConfigStore: store,
		Recorder:    deps.recorder,
		Now:         time.Now,
		Log:         log,
	})

	httpSrv := &http.Server{
		Addr:    opts.httpAddr,
		Handler: apiServer.Handler(),
	}

	go func() {
		log.WithField("addr", opts.httpAddr).Info("http server listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Error("http server exited")
		}
	}()

	go harness.Run()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.WithField("signal", sig).Info("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("http server shutdown error")
	}
	harness.Stop()

	return nil
}

// runtimeDeps bundles the collaborators run() wires into both the
// Switcher and (where needed) the API server.
type runtimeDeps struct {
	evseClient evse.Client
	meterRdr   meter.Reader
	relay      hardware.Relay
	digitalIn  hardware.DigitalIn
	publisher  mqttpub.Publisher
	recorder   *telemetry.Recorder
	log        logrus.FieldLogger
}

func (d runtimeDeps) switcherDeps() switcher.Deps {
	return switcher.Deps{
		EVSE:      d.evseClient,
		Meter:     d.meterRdr,
		Relay:     d.relay,
		DigitalIn: d.digitalIn,
		Publisher: d.publisher,
		Recorder:  d.recorder,
		Log:       d.log,
	}
}

func buildDeps(log logrus.FieldLogger) (runtimeDeps, []func() error, error) {
	recorder := telemetry.NewRecorder()

	if opts.fakeHardware {
		log.Warn("fake-hardware enabled: relay, digital-in, EVSE, meter, and MQTT are all in-memory doubles")
		relay := hardware.NewFakeRelay()
		digitalIn := hardware.NewFakeDigitalIn()
		pub := mqttpub.NewFakePublisher()
		return runtimeDeps{
			evseClient: evse.NewFakeClient(nil),
			meterRdr:   meter.NewFakeReader(0, false),
			relay:      relay,
			digitalIn:  digitalIn,
			publisher:  pub,
			recorder:   recorder,
			log:        log,
		}, nil, nil
	}

	relay, err := hardware.NewGPIORelay()
	if err != nil {
		return runtimeDeps{}, nil, fmt.Errorf("open relay outputs: %w", err)
	}
	digitalIn, err := hardware.NewGPIODigitalIn()
	if err != nil {
		relay.Close()
		return runtimeDeps{}, nil, fmt.Errorf("open feedback inputs: %w", err)
	}

	encoding, err := parseRegisterEncoding(opts.meterEncoding)
	if err != nil {
		relay.Close()
		digitalIn.Close()
		return runtimeDeps{}, nil, err
	}
	meterRdr := meter.NewModbusReader(meter.ModbusReaderConfig{
		Address:          opts.meterAddress,
		UnitID:           opts.meterUnitID,
		RegisterAddr:     opts.meterRegister,
		RegisterEncoding: encoding,
	})

	pub, err := mqttpub.NewRealPublisher(opts.mqttBroker)
	if err != nil {
		relay.Close()
		digitalIn.Close()
		return runtimeDeps{}, nil, fmt.Errorf("connect mqtt broker: %w", err)
	}

	closers := []func() error{relay.Close, digitalIn.Close, pub.Close}

	return runtimeDeps{
		evseClient: evse.NewHTTPClient(opts.evseURL),
		meterRdr:   meterRdr,
		relay:      relay,
		digitalIn:  digitalIn,
		publisher:  pub,
		recorder:   recorder,
		log:        log,
	}, closers, nil
}

// probeMeter checks the energy meter is reachable before the module
// starts, matching phase_switcher.cpp:setup's modbus_meter.initialized
// gate: a meter absent at boot disables the whole module rather than
// being treated like a later transient read error. A zero reading with
// ok=false but no error (the fake-hardware double's steady state) is
// not a probe failure — only a connection/protocol error is.
func probeMeter(r meter.Reader) bool {
	_, _, err := r.ReadPowerWatts()
	return err == nil
}

func parseRegisterEncoding(name string) (meter.RegisterEncoding, error) {
	switch name {
	case "uint16":
		return meter.Uint16, nil
	case "float32":
		return meter.Float32, nil
	case "float64":
		return meter.Float64, nil
	default:
		return 0, fmt.Errorf("unknown meter encoding %q (want uint16, float32, or float64)", name)
	}
}

func closeAll(closers []func() error, log logrus.FieldLogger) {
	for _, c := range closers {
		if err := c(); err != nil {
			log.WithError(err).Warn("cleanup error during shutdown")
		}
	}
}
