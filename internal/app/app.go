// Package app wires configuration, logging, storage, dispatch, and the
// scheduler into one runnable unit for the CLI.
package app

import (
	"context"
	"os"

	"github.com/coreos/go-systemd/v22/daemon"

	"recurd/internal/config"
	"recurd/internal/dispatch"
	"recurd/internal/eventbus"
	"recurd/internal/form"
	"recurd/internal/sched"
	"recurd/internal/store"
	"recurd/pkg/logx"
)

type Options struct {
	ConfigPath string

	// Flag-level overrides; empty keeps the config file value.
	StoreDriver string
	StorePath   string
	RunnerCmd   string
	RunnerArgs  []string

	// Transport defaults to an interactive prompt on stdin/stderr.
	Transport form.Transport
}

type App struct {
	cfgMgr *config.Manager
	logSvc *logx.Service
	log    logx.Logger
	st     store.Store
	bus    eventbus.Bus
	sched  *sched.Scheduler
}

func New(opts Options) (*App, error) {
	cfg := config.Default()
	var mgr *config.Manager
	if opts.ConfigPath != "" {
		mgr = config.NewManager(opts.ConfigPath)
		loaded, err := mgr.Load()
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}
	if opts.StoreDriver != "" {
		cfg.Storage.Driver = opts.StoreDriver
	}
	if opts.StorePath != "" {
		cfg.Storage.Path = opts.StorePath
	}
	if opts.RunnerCmd != "" {
		cfg.Dispatch.Command = opts.RunnerCmd
		cfg.Dispatch.Args = opts.RunnerArgs
	}

	logSvc, log := logx.New(cfg.LogOptions())
	if mgr != nil {
		mgr.SetLogger(log)
	}

	storeCfg, err := cfg.StoreOptions()
	if err != nil {
		return nil, err
	}
	st, err := store.Open(storeCfg, log)
	if err != nil {
		return nil, err
	}
	rs := store.NewRequestStore(st, log)

	dispCfg, err := cfg.DispatchOptions()
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	var runner dispatch.Runner
	if cfg.Dispatch.Command != "" {
		runner = dispatch.NewExecRunner(cfg.Dispatch.Command, cfg.Dispatch.Args...)
	} else {
		runner = logRunner{log: log}
	}

	bus := eventbus.New()
	disp := dispatch.New(runner, dispCfg, bus, log)

	tr := opts.Transport
	if tr == nil {
		tr = form.NewPromptTransport(os.Stdin, os.Stderr)
	}

	askTimeout, err := cfg.AskTimeout()
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	s := sched.New(sched.Config{
		Broker:     form.NewBroker(tr, log),
		Store:      rs,
		Dispatcher: disp,
		Bus:        bus,
		AskTimeout: askTimeout,
	}, log)

	return &App{cfgMgr: mgr, logSvc: logSvc, log: log, st: st, bus: bus, sched: s}, nil
}

func (a *App) Log() logx.Logger { return a.log }

// Run executes one scheduler invocation. Config hot reload and the bus
// event log live for the duration of the run.
func (a *App) Run(ctx context.Context, st sched.Start) (sched.Summary, error) {
	events, unsub := a.bus.Subscribe(32)
	defer unsub()
	go a.logEvents(events)

	if a.cfgMgr != nil {
		go func() { _ = a.cfgMgr.Watch(ctx) }()
	}

	_, _ = daemon.SdNotify(false, daemon.SdNotifyReady)
	return a.sched.Run(ctx, st)
}

// Respond answers the persisted questions of a detached request so a
// later run can resume it.
func (a *App) Respond(ctx context.Context, id string) error {
	return a.sched.Respond(ctx, id)
}

func (a *App) Close() error {
	err := a.st.Close()
	if cerr := a.logSvc.Close(); err == nil {
		err = cerr
	}
	return err
}

func (a *App) logEvents(events <-chan eventbus.Event) {
	for e := range events {
		switch e.Type {
		case eventbus.TypeScheduleSuspended:
			if ev, ok := e.Data.(sched.SuspendEvent); ok {
				a.log.Info("next fire scheduled",
					logx.String("request_id", ev.RequestID),
					logx.Time("until", ev.Until), logx.Int("iteration", ev.Iteration))
			}
		case eventbus.TypeIterationDone:
			if rec, ok := e.Data.(sched.IterationRecord); ok {
				a.log.Info("iteration done",
					logx.Int("iteration", rec.Index),
					logx.String("outcome", string(rec.Outcome)),
					logx.String("note", rec.Note))
			}
		case eventbus.TypeChildFailed:
			if ev, ok := e.Data.(dispatch.ChildEvent); ok {
				a.log.Warn("child work failed",
					logx.String("child", ev.Name), logx.String("reason", ev.Error),
					logx.Int("attempts", ev.Attempts))
			}
		}
	}
}

// logRunner stands in when no child command is configured: it records
// the dispatch and succeeds, which keeps dry runs and demos useful.
type logRunner struct{ log logx.Logger }

func (r logRunner) Run(ctx context.Context, name string, inputs map[string]string) error {
	r.log.Info("child dispatched (no runner command configured)",
		logx.String("child", name),
		logx.String("iteration", inputs["iteration"]))
	return nil
}
