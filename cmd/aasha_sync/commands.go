package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/chetankumar-rs/AASHAKIRANA/internal/connectivity"
	"github.com/chetankumar-rs/AASHAKIRANA/internal/gateway"
	"github.com/chetankumar-rs/AASHAKIRANA/internal/model"
	"github.com/chetankumar-rs/AASHAKIRANA/internal/pipeline"
	"github.com/chetankumar-rs/AASHAKIRANA/internal/store"
	"github.com/chetankumar-rs/AASHAKIRANA/internal/sync"
)

// App holds the wired components for one invocation
type App struct {
	cfg      *Config
	out      io.Writer
	stdin    io.Reader
	store    store.Store
	monitor  *connectivity.Monitor
	pipeline *pipeline.Pipeline
}

// NewApp opens the local store and wires gateway, monitor, engine and pipeline
func NewApp(ctx context.Context, cfg *Config, out io.Writer) (*App, error) {
	gw, err := gateway.New(cfg.GatewayURL, gateway.WithToken(cfg.Token))
	if err != nil {
		return nil, err
	}
	st, err := store.Open(ctx, cfg.StoreDSN)
	if err != nil {
		return nil, err
	}

	monitor := connectivity.NewMonitor(gw, cfg.ProbeInterval)
	opts := sync.DefaultOptions()
	opts.SubmitTimeout = cfg.SubmitTimeout
	opts.GroupWorkers = cfg.GroupWorkers
	if cfg.LegacyAccounting {
		opts.Accounting = sync.AccountingPrefix
	}
	engine := sync.NewEngine(st, gw, monitor, opts)
	pipe := pipeline.New(st, gw, monitor, engine)
	monitor.OnOnline(pipe)

	return &App{cfg: cfg, out: out, stdin: os.Stdin, store: st, monitor: monitor, pipeline: pipe}, nil
}

// Close releases the local store
func (a *App) Close() error {
	return a.store.Close()
}

// Execute runs the selected command
func (a *App) Execute(ctx context.Context) error {
	switch a.cfg.Command {
	case "", "run":
		return a.run(ctx)
	case "submit":
		a.monitor.Seed(ctx)
		return a.submit(ctx)
	case "sync":
		a.monitor.Seed(ctx)
		return a.syncNow(ctx)
	case "status":
		a.monitor.Seed(ctx)
		return a.status(ctx)
	case "alerts":
		a.monitor.Seed(ctx)
		return a.alerts(ctx)
	case "alerts-read":
		a.monitor.Seed(ctx)
		return a.pipeline.MarkAlertRead(ctx, a.cfg.AlertsRead.ID)
	case "dashboard":
		a.monitor.Seed(ctx)
		return a.dashboard(ctx)
	case "reset":
		return a.reset(ctx)
	default:
		return fmt.Errorf("unknown command %q", a.cfg.Command)
	}
}

func (a *App) run(ctx context.Context) error {
	if a.monitor.Seed(ctx) {
		a.pipeline.Drain(ctx)
	}
	err := a.monitor.Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *App) submit(ctx context.Context) error {
	t, err := model.ParseRecordType(a.cfg.Submit.Type)
	if err != nil {
		return err
	}
	data, err := a.readPayload(a.cfg.Submit.File)
	if err != nil {
		return err
	}
	payload, err := model.DecodePayload(t, data)
	if err != nil {
		return err
	}
	out, err := a.pipeline.Submit(ctx, payload)
	if err != nil {
		return err
	}
	if out.Sent {
		fmt.Fprintf(a.out, "sent %s\n", t)
		return nil
	}
	fmt.Fprintf(a.out, "queued %s as #%d\n", t, out.ID)
	return nil
}

func (a *App) readPayload(file string) ([]byte, error) {
	if file == "" || file == "-" {
		return io.ReadAll(a.stdin)
	}
	return os.ReadFile(file)
}

func (a *App) syncNow(ctx context.Context) error {
	summary := a.pipeline.SyncNow(ctx)
	fmt.Fprintln(a.out, summary.Message())
	if summary.Err != nil {
		return summary.Err
	}
	if !summary.Success && !summary.Skipped {
		return fmt.Errorf("%d record type(s) failed to sync", len(summary.Errors))
	}
	return nil
}

func (a *App) status(ctx context.Context) error {
	n, err := a.pipeline.PendingCount(ctx)
	if err != nil {
		return err
	}
	state := "offline"
	if a.monitor.Online() {
		state = "online"
	}
	fmt.Fprintf(a.out, "%s, %d forms waiting to sync\n", state, n)
	return nil
}

func (a *App) alerts(ctx context.Context) error {
	alerts, src, err := a.pipeline.Alerts(ctx)
	if err != nil {
		return err
	}
	if src == pipeline.SourceCache {
		logrus.Info("Showing cached alerts")
	}
	w := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTYPE\tTITLE\tPATIENT\tDUE\tREAD")
	for _, al := range alerts {
		due := "-"
		if !al.DueDate.IsZero() {
			due = al.DueDate.Format(time.DateOnly)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%t\n", al.ID, al.AlertType, al.Title, al.PatientName, due, al.IsRead)
	}
	return w.Flush()
}

func (a *App) dashboard(ctx context.Context) error {
	snap, src, err := a.pipeline.Dashboard(ctx)
	if err != nil {
		return err
	}
	if snap == nil {
		fmt.Fprintln(a.out, "no dashboard data available offline")
		return nil
	}
	stats, err := snap.Stats()
	if err != nil {
		return fmt.Errorf("invalid dashboard snapshot: %w", err)
	}
	doc := struct {
		model.DashboardStats
		FetchedAt time.Time       `json:"fetched_at"`
		Source    pipeline.Source `json:"source"`
	}{stats, snap.FetchedAt, src}
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}

func (a *App) reset(ctx context.Context) error {
	if !a.cfg.Reset.Yes {
		n, err := a.pipeline.PendingCount(ctx)
		if err != nil {
			return err
		}
		return fmt.Errorf("refusing to clear %d pending forms without --yes", n)
	}
	if err := a.pipeline.Reset(ctx); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "local data cleared")
	return nil
}
