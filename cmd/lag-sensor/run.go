package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/sweeney/lag-sensor/internal/clock"
	"github.com/sweeney/lag-sensor/internal/config"
	"github.com/sweeney/lag-sensor/internal/gpio"
	"github.com/sweeney/lag-sensor/internal/history"
	"github.com/sweeney/lag-sensor/internal/mqtt"
	"github.com/sweeney/lag-sensor/internal/sensor"
	"github.com/sweeney/lag-sensor/internal/status"
	"github.com/sweeney/lag-sensor/internal/web"
)

// pruneMargin is kept beyond the longest configured delay, so a reload to a
// somewhat longer delay still finds its history.
const pruneMargin = 24 * time.Hour

func newRunCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the lag sensors until interrupted",
		Long: `Connect to the broker, replay history and publish lagged values.

SIGHUP reloads the configuration and rebuilds every sensor.
SIGINT and SIGTERM shut down cleanly.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(opts.configPath)
		},
	}
}

func run(path string) error {
	f, err := config.Load(path)
	if err != nil {
		return err
	}
	sensors, err := f.Validate()
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	store, err := history.Open(f.History)
	if err != nil {
		return err
	}
	defer store.Close()

	client, err := mqtt.NewRealClient(f.Broker, f.ClientID)
	if err != nil {
		return fmt.Errorf("init mqtt: %w", err)
	}
	defer client.Close()

	// Initialize status tracker (before STARTUP so snapshot is available)
	wsBroker := resolveWSBroker(f.WSBroker, f.Broker)
	tracker := status.NewTracker(time.Now(), status.Config{
		Broker:      f.Broker,
		ClientID:    f.ClientID,
		HTTPAddr:    f.HTTP,
		WSBroker:    wsBroker,
		History:     f.History,
		HeartbeatMs: f.Heartbeat.Milliseconds(),
	})
	if net := readNetworkInfo(); net != nil {
		tracker.SetNetwork(net)
	}

	mgr := sensor.NewManager(store, client, clock.NewReal(), sensor.Sources{
		Sub:     client,
		OpenPin: openPin,
	})
	defer mgr.Stop()
	tracker.SetSensors(mgr.Statuses)

	if err := mgr.Apply(context.Background(), sensors); err != nil {
		log.Printf("some sensors failed to start: %v", err)
	}

	tracker.SetMQTTConnected(client.IsConnected())
	publishSystem(client, tracker, "STARTUP", "")

	// Start HTTP status server
	if f.HTTP != "" {
		srv := web.New(f.HTTP, tracker)
		go func() {
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("http server error: %v", err)
			}
		}()
		defer srv.Shutdown(context.Background())
		log.Printf("http status server listening on %s", f.HTTP)
	}

	log.Printf("started: sensors=%d broker=%s history=%s heartbeat=%v", mgr.Len(), f.Broker, f.History, f.Heartbeat)

	var tick <-chan time.Time
	if f.Heartbeat > 0 {
		ticker := time.NewTicker(f.Heartbeat)
		defer ticker.Stop()
		tick = ticker.C
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	d := &daemon{
		mgr:      mgr,
		pub:      client,
		conn:     client,
		tracker:  tracker,
		store:    store,
		maxDelay: config.MaxDelay(sensors),
		reload:   reloadFrom(path),
		now:      time.Now,
	}
	return d.runLoop(tick, sigCh)
}

func openPin(pin int, activeLow bool) (gpio.Reader, error) {
	r, err := gpio.NewRealReader(pin, activeLow)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// reloadFrom returns a function that re-reads and validates the file at path.
func reloadFrom(path string) func() ([]config.Sensor, error) {
	return func() ([]config.Sensor, error) {
		f, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		return f.Validate()
	}
}

// pruner deletes history older than a cutoff.
type pruner interface {
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// daemon holds what the main loop acts on.
type daemon struct {
	mgr      *sensor.Manager
	pub      mqtt.Publisher
	conn     mqtt.ConnectionStatus
	tracker  *status.Tracker
	store    pruner
	maxDelay time.Duration
	reload   func() ([]config.Sensor, error)
	now      func() time.Time
}

// runLoop handles heartbeats and signals until SIGINT or SIGTERM.
func (d *daemon) runLoop(tick <-chan time.Time, sig <-chan os.Signal) error {
	for {
		select {
		case s := <-sig:
			if s == syscall.SIGHUP {
				d.reloadSensors()
				continue
			}

			log.Printf("received %v, shutting down", s)
			signalName := "UNKNOWN"
			if s == syscall.SIGINT {
				signalName = "SIGINT"
			} else if s == syscall.SIGTERM {
				signalName = "SIGTERM"
			}
			d.refresh()
			publishSystem(d.pub, d.tracker, "SHUTDOWN", signalName)
			return nil

		case <-tick:
			d.refresh()
			if net := readNetworkInfo(); net != nil {
				d.tracker.SetNetwork(net)
			}
			snap := d.tracker.Snapshot()
			totals := snap.Totals()
			log.Printf("heartbeat: uptime=%v sensors=%d received=%d emitted=%d dropped=%d emit_errors=%d",
				snap.Uptime().Truncate(time.Second), len(snap.Sensors), totals.Received, totals.Emitted, totals.Dropped, totals.EmitErrors)
			publishSystem(d.pub, d.tracker, "HEARTBEAT", "")
			d.prune()
		}
	}
}

func (d *daemon) refresh() {
	if d.conn != nil {
		d.tracker.SetMQTTConnected(d.conn.IsConnected())
	}
}

// reloadSensors rebuilds every sensor from the configuration file. A file
// that fails to load or validate leaves the running sensors untouched.
func (d *daemon) reloadSensors() {
	log.Printf("received SIGHUP, reloading configuration")
	sensors, err := d.reload()
	if err != nil {
		log.Printf("reload rejected, keeping current sensors: %v", err)
		return
	}

	if err := d.mgr.Apply(context.Background(), sensors); err != nil {
		log.Printf("reload: some sensors failed to start: %v", err)
	}
	d.maxDelay = config.MaxDelay(sensors)
	d.tracker.Reloaded(d.now())
	d.refresh()
	publishSystem(d.pub, d.tracker, "RELOAD", "")
	log.Printf("reloaded: %d sensor(s)", d.mgr.Len())
}

func (d *daemon) prune() {
	if d.store == nil {
		return
	}
	before := d.now().Add(-(d.maxDelay + pruneMargin))
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	n, err := d.store.Prune(ctx, before)
	if err != nil {
		log.Printf("history prune error: %v", err)
		return
	}
	if n > 0 {
		log.Printf("history: pruned %d record(s) observed before %s", n, before.UTC().Format(time.RFC3339))
	}
}

// publishSystem sends a lifecycle event carrying a full status snapshot.
func publishSystem(pub mqtt.Publisher, tracker *status.Tracker, event, reason string) {
	snap := tracker.Snapshot()
	ev := mqtt.SystemEvent{
		Timestamp:  snap.Now,
		Event:      event,
		Reason:     reason,
		Retained:   event != "HEARTBEAT",
		RawPayload: status.FormatStatusEvent(snap, event, reason),
	}
	if err := pub.PublishSystem(ev); err != nil {
		log.Printf("failed to publish %s event: %v", event, err)
		return
	}
	log.Printf("published %s event", event)
}
