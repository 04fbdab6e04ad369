package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/go-redis/redis/v8"
	"github.com/robfig/cron/v3"

	"calcore/internal/alias"
	"calcore/internal/aliascache"
	"calcore/internal/config"
	"calcore/internal/ics"
	appLog "calcore/internal/log"
	"calcore/internal/override"
	"calcore/internal/recurrence"
	"calcore/internal/temporal"
	"calcore/internal/web"
)

type flagConfig struct {
	configPath string
	listen     string
	once       bool
	uid        string
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))
	if err := conf.Validate(); err != nil {
		appLog.Error("invalid config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"refresh", conf.RefreshCron,
		"horizon_days", conf.HorizonDays,
		"calendars", len(conf.Calendars),
		"collections", len(conf.Collections),
		"cache", conf.Cache.Backend,
		"once", flags.once,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	zones := temporal.DefaultZones()
	loader := ics.NewLoader(conf.CacheDir, zones)
	sources := sourcesFromConfig(conf)

	if flags.once {
		if err := runOnce(ctx, conf, loader, sources, flags.uid); err != nil {
			appLog.Error("run failed", err)
			os.Exit(1)
		}
		return
	}

	if err := serve(ctx, conf, zones, loader, sources); err != nil {
		appLog.Error("server failed", err)
		os.Exit(1)
	}
	appLog.Info("calcore exiting")
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/calcore/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Load calendars, print expanded instances as JSON and exit")
	flag.StringVar(&cfg.uid, "uid", "", "With -once, only print instances of this UID")

	flag.Parse()

	return cfg
}

func sourcesFromConfig(conf *config.Config) []ics.Source {
	out := make([]ics.Source, 0, len(conf.Calendars))
	for _, c := range conf.Calendars {
		out = append(out, ics.Source{ID: c.ID, Name: c.Name, Path: c.Path, URL: c.URL})
	}
	return out
}

// load builds a fresh snapshot. The zone registry is shared by every
// reload and by the server, so resolved locations stay memoized.
func load(ctx context.Context, loader *ics.Loader, sources []ics.Source) *web.Snapshot {
	cals, errs := loader.LoadAll(ctx, sources)
	if len(errs) > 0 {
		appLog.Warn("some calendars failed to load", "failed", len(errs), "loaded", len(cals), "err", errors.Join(errs...))
	}
	return &web.Snapshot{Calendars: cals, LoadedAt: time.Now()}
}

type printedInstance struct {
	Calendar string         `json:"calendar"`
	Key      string         `json:"key"`
	Start    temporal.Value `json:"start"`
	End      temporal.Value `json:"end"`
	Summary  string         `json:"summary"`
	Override bool           `json:"override"`
}

func runOnce(ctx context.Context, conf *config.Config, loader *ics.Loader, sources []ics.Source, uid string) error {
	snap := load(ctx, loader, sources)

	now := time.Now()
	cfg := recurrence.Config{
		RangeStart:     now,
		RangeEnd:       now.AddDate(0, 0, conf.HorizonDays),
		MaxOccurrences: conf.MaxOccurrences,
	}

	var out []printedInstance
	for _, cal := range snap.Calendars {
		for _, set := range cal.Sets {
			if uid != "" && set.Master().UID() != uid {
				continue
			}
			res, err := set.Expand(cfg)
			if err != nil {
				appLog.Error("expand failed", err, "calendar", cal.Source.ID, "uid", set.Master().UID())
				continue
			}
			for _, inst := range res.Instances {
				summary, _ := inst.Text(override.Summary)
				out = append(out, printedInstance{
					Calendar: cal.Source.ID,
					Key:      inst.Key(),
					Start:    inst.Start,
					End:      inst.End,
					Summary:  summary,
					Override: inst.Override != nil,
				})
			}
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func newCache(ctx context.Context, conf *config.Config) (aliascache.Cache, func()) {
	ttl := conf.Cache.TTLDuration()
	if conf.Cache.Backend == "redis" {
		rdb := redis.NewClient(&redis.Options{Addr: conf.Cache.RedisAddr})
		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		err := rdb.Ping(pingCtx).Err()
		if err == nil {
			appLog.Info("alias cache: redis", "addr", conf.Cache.RedisAddr, "ttl", ttl.String())
			return aliascache.NewRedis(rdb, conf.Cache.RedisPrefix, ttl), func() { _ = rdb.Close() }
		}
		appLog.Warn("alias cache: redis unreachable, using memory", "addr", conf.Cache.RedisAddr, "err", err)
		_ = rdb.Close()
	}
	appLog.Info("alias cache: memory", "size", conf.Cache.Size, "ttl", ttl.String())
	return aliascache.NewMemory(conf.Cache.Size, ttl), func() {}
}

func serve(ctx context.Context, conf *config.Config, zones temporal.Zones, loader *ics.Loader, sources []ics.Source) error {
	cache, closeCache := newCache(ctx, conf)
	defer closeCache()

	var lookup *aliascache.Lookup
	if len(conf.Collections) > 0 {
		graph := alias.NewGraph(alias.NewMapDirectory(conf.Collections...), nil)
		lookup = aliascache.NewLookup(graph, cache)
	}

	srv := web.NewServer(conf, lookup, zones)
	srv.Swap(load(ctx, loader, sources))

	loc, err := zones.Load(conf.Timezone)
	if err != nil {
		appLog.Warn("unknown timezone for schedule, using UTC", "timezone", conf.Timezone)
		loc = time.UTC
	}
	sched := cron.New(cron.WithLocation(loc))
	if _, err := sched.AddFunc(conf.RefreshCron, func() {
		snap := load(ctx, loader, sources)
		srv.Swap(snap)
		appLog.Info("calendars reloaded", "calendars", len(snap.Calendars))
	}); err != nil {
		return err
	}
	sched.Start()
	defer func() { <-sched.Stop().Done() }()

	httpSrv := &http.Server{
		Addr:              conf.Listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+conf.Listen)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		appLog.Info("signal received, shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}
