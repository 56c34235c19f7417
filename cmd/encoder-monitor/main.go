// Command encoder-monitor tracks a quadrature shaft encoder and publishes its
// angle to MQTT.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/sweeney/shaft-encoder/internal/config"
	"github.com/sweeney/shaft-encoder/internal/counter"
	"github.com/sweeney/shaft-encoder/internal/encoder"
	"github.com/sweeney/shaft-encoder/internal/gpio"
	"github.com/sweeney/shaft-encoder/internal/logic"
	"github.com/sweeney/shaft-encoder/internal/mqtt"
	"github.com/sweeney/shaft-encoder/internal/status"
	"github.com/sweeney/shaft-encoder/internal/web"
)

type options struct {
	printState  bool
	printConfig bool
	debug       bool
}

func main() {
	cfg, opts, err := parseFlags(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) {
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "encoder-monitor: %v\n", err)
		os.Exit(2)
	}

	logger, err := newLogger(opts.debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "encoder-monitor: init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, opts, logger.Sugar()); err != nil {
		logger.Sugar().Fatalw("fatal", "error", err)
	}
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// parseFlags builds the configuration from defaults, an optional --config
// file, and finally any flags given explicitly on the command line.
func parseFlags(args []string) (config.Config, options, error) {
	fs := flag.NewFlagSet("encoder-monitor", flag.ContinueOnError)

	def := config.Default()
	fromFlags := def
	var opts options
	var path string

	fs.StringVar(&path, "config", "", "YAML configuration file")
	fs.IntVar(&fromFlags.PinA, "pin-a", def.PinA, "BCM pin number for channel A")
	fs.IntVar(&fromFlags.PinB, "pin-b", def.PinB, "BCM pin number for channel B")
	fs.IntVar(&fromFlags.PinIndex, "pin-index", def.PinIndex, "BCM pin number for the index pulse (-1 for none)")
	fs.IntVar(&fromFlags.PPR, "ppr", def.PPR, "Encoder pulses per revolution")
	fs.StringVar(&fromFlags.Pull, "pull", def.Pull, "Input pull mode: none, internal or external")
	fs.StringVar(&fromFlags.Chip, "chip", def.Chip, "GPIO character device")
	fs.IntVar(&fromFlags.Units, "units", def.Units, "Counting units available")
	fs.DurationVar(&fromFlags.Poll, "poll", def.Poll, "Angle polling interval")
	fs.Float64Var(&fromFlags.DeadbandDeg, "deadband", def.DeadbandDeg, "Minimum angle change in degrees to publish")
	fs.DurationVar(&fromFlags.Heartbeat, "heartbeat", def.Heartbeat, "Heartbeat interval (0 to disable)")
	fs.StringVar(&fromFlags.Broker, "broker", def.Broker, "MQTT broker address")
	fs.StringVar(&fromFlags.HTTP, "http", def.HTTP, "HTTP status address (empty to disable)")
	fs.StringVar(&fromFlags.ClientID, "client-id", def.ClientID, "MQTT client ID")
	fs.BoolVar(&opts.printState, "print-state", false, "Print the current angle and exit")
	fs.BoolVar(&opts.printConfig, "print-config", false, "Print the effective configuration and exit")
	fs.BoolVar(&opts.debug, "debug", false, "Development logging")

	if err := fs.Parse(args); err != nil {
		return config.Config{}, options{}, err
	}

	cfg := def
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return config.Config{}, options{}, err
		}
		cfg = loaded
	}

	fs.Visit(func(f *flag.Flag) {
		if override, ok := flagOverrides[f.Name]; ok {
			override(&cfg, fromFlags)
		}
	})

	if err := cfg.Validate(); err != nil {
		return config.Config{}, options{}, err
	}
	return cfg, opts, nil
}

var flagOverrides = map[string]func(dst *config.Config, src config.Config){
	"pin-a":     func(d *config.Config, s config.Config) { d.PinA = s.PinA },
	"pin-b":     func(d *config.Config, s config.Config) { d.PinB = s.PinB },
	"pin-index": func(d *config.Config, s config.Config) { d.PinIndex = s.PinIndex },
	"ppr":       func(d *config.Config, s config.Config) { d.PPR = s.PPR },
	"pull":      func(d *config.Config, s config.Config) { d.Pull = s.Pull },
	"chip":      func(d *config.Config, s config.Config) { d.Chip = s.Chip },
	"units":     func(d *config.Config, s config.Config) { d.Units = s.Units },
	"poll":      func(d *config.Config, s config.Config) { d.Poll = s.Poll },
	"deadband":  func(d *config.Config, s config.Config) { d.DeadbandDeg = s.DeadbandDeg },
	"heartbeat": func(d *config.Config, s config.Config) { d.Heartbeat = s.Heartbeat },
	"broker":    func(d *config.Config, s config.Config) { d.Broker = s.Broker },
	"http":      func(d *config.Config, s config.Config) { d.HTTP = s.HTTP },
	"client-id": func(d *config.Config, s config.Config) { d.ClientID = s.ClientID },
}

// angleSource is the part of the encoder the poll loop reads.
type angleSource interface {
	Angle() float64
	NeedsSearch() bool
	Initialized() bool
	Position() int64
}

// unavailable stands in for hardware that could not be opened, so the
// encoder fails Init and the daemon keeps reporting an uninitialized angle.
type unavailable struct{ err error }

func (u unavailable) Acquire(counter.Config) (counter.Unit, error) {
	return nil, fmt.Errorf("%w: %v", counter.ErrNoFreeUnit, u.err)
}

func (u unavailable) AttachRising(int, gpio.Pull, func()) error { return u.err }
func (u unavailable) Close() error                               { return nil }

// openEncoder builds and initializes the encoder. A failed Init is logged and
// the uninitialized encoder is still returned.
func openEncoder(cfg config.Config, alloc counter.Allocator, irq gpio.Interrupts, logger *zap.SugaredLogger) (*encoder.Encoder, error) {
	ec, err := cfg.Encoder()
	if err != nil {
		return nil, err
	}
	enc, err := encoder.New(ec, alloc, irq, logger.Named("encoder"))
	if err != nil {
		return nil, fmt.Errorf("create encoder: %w", err)
	}
	if err := enc.Init(); err != nil {
		logger.Warnw("encoder not initialized, reporting angle -1", "error", err)
	}
	return enc, nil
}

func run(cfg config.Config, opts options, logger *zap.SugaredLogger) error {
	if opts.printConfig {
		data, err := cfg.Marshal()
		if err != nil {
			return fmt.Errorf("marshal config: %w", err)
		}
		fmt.Print(string(data))
		return nil
	}

	var alloc counter.Allocator
	pool, err := counter.NewChipPool(cfg.Chip, cfg.Units)
	if err != nil {
		logger.Warnw("counting units unavailable", "chip", cfg.Chip, "error", err)
		alloc = unavailable{err}
	} else {
		alloc = pool
	}

	var irq gpio.Interrupts
	if cfg.PinIndex != encoder.NoIndex {
		ri, err := gpio.NewRealInterrupts(cfg.Chip)
		if err != nil {
			logger.Warnw("index interrupts unavailable", "chip", cfg.Chip, "error", err)
			irq = unavailable{err}
		} else {
			irq = ri
		}
	}

	enc, err := openEncoder(cfg, alloc, irq, logger)
	if err != nil {
		return err
	}
	defer func() {
		var err error
		err = multierr.Append(err, enc.Close())
		if irq != nil {
			err = multierr.Append(err, irq.Close())
		}
		if err != nil {
			logger.Warnw("release hardware", "error", err)
		}
	}()

	// Print state mode
	if opts.printState {
		if !enc.Initialized() {
			return errors.New("encoder not initialized")
		}
		fmt.Printf("angle: %.2f° (%.4f rad), position: %d/%d, needs search: %v\n",
			status.Degrees(enc.Angle()), enc.Angle(), enc.Position(), enc.CPR(), enc.NeedsSearch())
		return nil
	}

	// Initialize MQTT
	publisher, err := mqtt.NewRealPublisher(cfg.Broker, cfg.ClientID, logger.Named("mqtt"))
	if err != nil {
		return fmt.Errorf("init mqtt: %w", err)
	}
	defer publisher.Close()

	// Initialize status tracker (before STARTUP so snapshot is available)
	tracker := status.NewTracker(time.Now(), statusConfig(cfg))
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}
	tracker.SetMQTTConnected(publisher.IsConnected())
	tracker.Update(sample(enc, time.Now()), enc.Position(), false, logic.EventCounts{})

	// Publish startup event with full status snapshot
	snap := tracker.Snapshot()
	startupEvent := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      "STARTUP",
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, "STARTUP", ""),
	}
	if err := publisher.PublishSystem(startupEvent); err != nil {
		logger.Warnw("failed to publish startup event", "error", err)
	} else {
		logger.Infow("published startup event")
	}

	// Start HTTP status server
	if cfg.HTTP != "" {
		srv := web.New(cfg.HTTP, tracker, logger.Named("web"))
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Errorw("http server error", "error", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		logger.Infow("http status server listening", "addr", cfg.HTTP)
	}

	logger.Infow("started",
		"poll", cfg.Poll,
		"deadband_deg", cfg.DeadbandDeg,
		"broker", cfg.Broker,
		"heartbeat", cfg.Heartbeat,
		"initialized", enc.Initialized())

	ticker := time.NewTicker(cfg.Poll)
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	deadband := cfg.DeadbandDeg * math.Pi / 180
	return runLoop(enc, publisher, publisher, tracker, deadband, cfg.Heartbeat, time.Now, ticker.C, sigCh, logger)
}

func statusConfig(cfg config.Config) status.Config {
	return status.Config{
		PollMs:      cfg.Poll.Milliseconds(),
		DeadbandDeg: cfg.DeadbandDeg,
		HeartbeatMs: cfg.Heartbeat.Milliseconds(),
		Broker:      cfg.Broker,
		HTTPPort:    cfg.HTTP,
		PinA:        cfg.PinA,
		PinB:        cfg.PinB,
		PinIndex:    cfg.PinIndex,
		PPR:         cfg.PPR,
		Pull:        cfg.Pull,
	}
}

func sample(src angleSource, t time.Time) logic.Sample {
	return logic.Sample{
		Angle:       src.Angle(),
		NeedsSearch: src.NeedsSearch(),
		Initialized: src.Initialized(),
		Time:        t,
	}
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

// runLoop polls src on every tick until a signal arrives. tracker and
// mqttStatus may be nil.
func runLoop(src angleSource, publisher mqtt.Publisher, mqttStatus mqtt.ConnectionStatus, tracker *status.Tracker, deadband float64, heartbeat time.Duration, now func() time.Time, tick <-chan time.Time, sig <-chan os.Signal, logger *zap.SugaredLogger) error {
	startTime := now()
	detector := logic.NewDetector(deadband, startTime)

	refresh := func(s logic.Sample) {
		if tracker == nil {
			return
		}
		tracker.Update(s, src.Position(), detector.IsBaselined(), detector.EventCountsSnapshot())
		if mqttStatus != nil {
			tracker.SetMQTTConnected(mqttStatus.IsConnected())
		}
	}

	for {
		select {
		case s := <-sig:
			name := signalName(s)
			logger.Infow("shutting down", "signal", name)
			event := mqtt.SystemEvent{
				Timestamp: now(),
				Event:     "SHUTDOWN",
				Reason:    name,
				Retained:  true,
			}
			if tracker != nil {
				refresh(detector.Current())
				snap := tracker.Snapshot()
				event.RawPayload = status.FormatStatusEvent(snap, "SHUTDOWN", name)
			}
			if err := publisher.PublishSystem(event); err != nil {
				logger.Warnw("failed to publish shutdown event", "error", err)
			} else {
				logger.Infow("published shutdown event")
			}
			return nil

		case <-tick:
			t := now()
			s := sample(src, t)

			for _, event := range detector.Process(s) {
				logger.Infow("event",
					"type", event.Type,
					"angle_deg", event.AngleDegrees(),
					"needs_search", event.NeedsSearch)
				if err := publisher.Publish(event); err != nil {
					// Don't crash on publish failure
					logger.Warnw("publish error", "error", err)
				}
			}

			// Check for heartbeat
			if hbData := detector.CheckHeartbeat(t, heartbeat); hbData != nil {
				logger.Infow("heartbeat",
					"uptime", hbData.Uptime,
					"reference_found", hbData.Counts.ReferenceFound,
					"angle_events", hbData.Counts.Angle)

				hbEvent := mqtt.SystemEvent{
					Timestamp: hbData.Timestamp,
					Event:     "HEARTBEAT",
				}
				if tracker != nil {
					// Refresh network info for heartbeat
					if net := readNetworkInfo(); net != nil {
						tracker.SetNetwork(net)
					}
					refresh(s)
					snap := tracker.Snapshot()
					hbEvent.RawPayload = status.FormatStatusEvent(snap, "HEARTBEAT", "")
				}
				if err := publisher.PublishSystem(hbEvent); err != nil {
					logger.Warnw("heartbeat publish error", "error", err)
				}
			}

			// Update status tracker for HTTP consumers
			refresh(s)
		}
	}
}

// pi-helper env var names (written to /run/pi-helper.env).
const (
	envNetworkType       = "NETWORK_TYPE"
	envNetworkIP         = "NETWORK_IP"
	envNetworkStatus     = "NETWORK_STATUS"
	envNetworkGateway    = "NETWORK_GATEWAY"
	envNetworkWifiStatus = "NETWORK_WIFI_STATUS"
	envNetworkWifiSSID   = "NETWORK_WIFI_SSID"
)

func readNetworkInfo() *status.NetworkInfo {
	s := os.Getenv(envNetworkStatus)
	if s == "" {
		return nil
	}
	return &status.NetworkInfo{
		Type:       os.Getenv(envNetworkType),
		IP:         os.Getenv(envNetworkIP),
		Status:     s,
		Gateway:    os.Getenv(envNetworkGateway),
		WifiStatus: os.Getenv(envNetworkWifiStatus),
		SSID:       os.Getenv(envNetworkWifiSSID),
	}
}
