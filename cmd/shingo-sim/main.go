package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
	"nyiyui.ca/hato/shingo/config"
	"nyiyui.ca/hato/shingo/interlock"
	"nyiyui.ca/hato/shingo/kujo"
	"nyiyui.ca/hato/shingo/layout"
	"nyiyui.ca/hato/shingo/notify"
	"nyiyui.ca/hato/shingo/savestore"
	"nyiyui.ca/hato/shingo/sim"
	"nyiyui.ca/hato/shingo/ui"
)

var (
	configPath string
	restore    string
	saveOnExit string
	keepSaves  int
	uiFlag     bool
)

func main() {
	level := zap.LevelFlag("log-level", zap.InfoLevel, "set log level (overrides the config file)")
	flag.StringVar(&configPath, "config", "", "path to config file")
	flag.StringVar(&restore, "restore", "", "save ID to restore, or \"latest\"")
	flag.StringVar(&saveOnExit, "save-on-exit", "", "save the state under this name when exiting")
	flag.IntVar(&keepSaves, "keep", 10, "saves to keep when saving on exit")
	flag.BoolVar(&uiFlag, "ui", false, "show the terminal dashboard")
	flag.Parse()

	cfg := config.Default()
	if configPath != "" {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(2)
		}
	}
	levelSet := false
	flag.Visit(func(f *flag.Flag) { levelSet = levelSet || f.Name == "log-level" })
	if !levelSet {
		l, err := zapcore.ParseLevel(cfg.Log.Level)
		if err != nil {
			fmt.Fprintf(os.Stderr, "log level: %s\n", err)
			os.Exit(2)
		}
		*level = l
	}
	cfg.UI.Enabled = cfg.UI.Enabled || uiFlag

	logger, err := buildLogger(cfg, *level)
	if err != nil {
		panic(err)
	}
	zap.ReplaceGlobals(logger)
	defer zap.S().Sync()

	err = main2(cfg)
	if err != nil {
		zap.S().Fatalf("%s", err)
	}
}

// buildLogger logs to the console like a development build, and in JSON to a rotated file
// when one is configured. The console is left alone while the dashboard owns the terminal.
func buildLogger(cfg config.Config, level zapcore.Level) (*zap.Logger, error) {
	dev := zap.NewDevelopmentConfig()
	dev.Level = zap.NewAtomicLevelAt(level)
	var cores []zapcore.Core
	if cfg.Log.File != "" {
		w := zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.Log.File,
			MaxSize:    cfg.Log.MaxSize,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAge:     cfg.Log.MaxAge,
		})
		cores = append(cores, zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), w, dev.Level))
	}
	return dev.Build(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		if cfg.UI.Enabled {
			c = zapcore.NewNopCore()
		}
		return zapcore.NewTee(append(cores, c)...)
	}))
}

func main2(cfg config.Config) error {
	y, err := layout.InitPreset(cfg.Sim.Preset)
	if err != nil {
		return err
	}
	e, err := interlock.New(y, cfg.Interlock)
	if err != nil {
		return err
	}
	store, err := savestore.Open(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer store.Close()

	d := sim.New(e, sim.Conf{
		Speed:     cfg.Sim.Speed,
		LookAhead: cfg.Sim.LookAhead,
	})
	if restore != "" {
		err = restoreFrom(store, d, cfg.Sim.Preset)
	} else {
		err = placeTrains(d, e.Layout(), cfg.Sim.Trains)
	}
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	sender, mux := notify.NewMultiplexerSender[interlock.Snapshot]("snapshot")
	kujoServer := kujo.NewServer(mux, kujo.Conf{
		AllowedOrigins: cfg.Kujo.AllowedOrigins,
		Saves:          store,
	})
	defer kujoServer.Close()
	srv := &http.Server{Addr: cfg.Kujo.Listen, Handler: kujoServer.Handler()}
	go func() {
		zap.S().Infof("starting kujo on %s…", cfg.Kujo.Listen)
		err := srv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.S().Errorf("kujo: %s", err)
		}
	}()

	if cfg.UI.Enabled {
		go func() {
			err := ui.Run(ctx, mux)
			if err != nil {
				zap.S().Errorf("ui: %s", err)
			}
			stop()
		}()
	}

	zap.S().Infof("starting simulation…")
	e.Update(true)
	sender.SendSync(e.Snapshot())
	d.Run(ctx, time.Duration(cfg.Sim.Tick), sender)
	zap.S().Infow("stopped", "done", d.Done(), "running", len(d.Trains()), "dropped", mux.Dropped())

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zap.S().Warnw("kujo shutdown", "err", err)
	}

	if saveOnExit != "" {
		return save(store, d, e, saveOnExit, cfg.Sim.Preset)
	}
	return nil
}

func placeTrains(d *sim.Driver, y *layout.Layout, trains []config.Train) error {
	lookup := func(comment string) (int, error) {
		si, ok := y.LookupIndex(comment)
		if !ok {
			return 0, fmt.Errorf("no section named %q", comment)
		}
		return si, nil
	}
	for _, ct := range trains {
		from, err := lookup(ct.From)
		if err != nil {
			return fmt.Errorf("train %d: %w", ct.Number, err)
		}
		names := append(append([]string{}, ct.Via...), ct.To)
		vias := make([]int, 0, len(names))
		for _, v := range names {
			si, err := lookup(v)
			if err != nil {
				return fmt.Errorf("train %d: %w", ct.Number, err)
			}
			vias = append(vias, si)
		}
		route, err := d.Path(from, ct.FromDirection, vias...)
		if err != nil {
			return fmt.Errorf("train %d: %w", ct.Number, err)
		}
		t := interlock.NewTrain(ct.Number, ct.Name, ct.Length)
		if ct.Node {
			t.ControlMode = interlock.ControlAutoNode
		}
		if err := d.Place(t, route); err != nil {
			return fmt.Errorf("train %d: %w", ct.Number, err)
		}
		zap.S().Infow("placed train", "train", t.String(), "route", route.Sections())
	}
	return nil
}

func restoreFrom(store *savestore.Store, d *sim.Driver, preset string) error {
	var id uuid.UUID
	if restore == "latest" {
		m, err := store.Latest()
		if err != nil {
			return fmt.Errorf("latest save: %w", err)
		}
		id = m.ID
	} else {
		var err error
		id, err = uuid.Parse(restore)
		if err != nil {
			return fmt.Errorf("save ID %s: %w", restore, err)
		}
	}
	m, data, err := store.Get(id)
	if err != nil {
		return err
	}
	if m.Preset != preset {
		return fmt.Errorf("save %s is of preset %q, running %q", id, m.Preset, preset)
	}
	if err := d.Restore(bytes.NewReader(data)); err != nil {
		return fmt.Errorf("restore %s: %w", id, err)
	}
	zap.S().Infow("restored", "save", id, "name", m.Name, "saved", m.Saved())
	return nil
}

func save(store *savestore.Store, d *sim.Driver, e *interlock.Environment, name, preset string) error {
	var buf bytes.Buffer
	if err := d.Save(&buf); err != nil {
		return err
	}
	m, err := store.Put(name, preset, e.RunID, buf.Bytes())
	if err != nil {
		return err
	}
	zap.S().Infow("saved", "save", m.ID, "name", name, "size", m.Size)
	n, err := store.Prune(keepSaves)
	if err != nil {
		return err
	}
	if n > 0 {
		zap.S().Infof("pruned %d old saves", n)
	}
	return nil
}
