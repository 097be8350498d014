package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"inkcal/internal/battery"
	"inkcal/internal/button"
	"inkcal/internal/config"
	"inkcal/internal/display"
	"inkcal/internal/feed"
	appLog "inkcal/internal/log"
	"inkcal/internal/pipeline"
	"inkcal/internal/render"
	"inkcal/internal/web"
)

type flagConfig struct {
	configPath string
	listen     string
	once       bool
	demo       bool
	noDisplay  bool
}

func main() {
	appLog.Info("inkcal starting", "version", "0.1.0")

	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}

	loc, err := time.LoadLocation(conf.Timezone)
	if err != nil {
		appLog.Error("invalid timezone", err, "timezone", conf.Timezone)
		os.Exit(1)
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"refresh", conf.RefreshCron,
		"calendars", len(conf.Calendars),
		"canvas", fmt.Sprintf("%dx%d", conf.CanvasWidth, conf.CanvasHeight),
		"display", conf.Display,
		"once", flags.once,
		"demo", flags.demo,
	)

	renderer, err := render.New(conf)
	if err != nil {
		appLog.Error("renderer init failed", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	sinks := []display.Sink{display.NewFileSink(conf.CachePath)}
	var panel *display.EPD
	if conf.Display == "epd" && !flags.noDisplay {
		panel, err = display.NewEPD(display.DefaultEPDConfig(conf.CanvasWidth, conf.CanvasHeight))
		if err != nil {
			appLog.Error("e-paper init failed", err)
			os.Exit(1)
		}
		defer panel.Close()
		sinks = append(sinks, panel)
	}

	var bat battery.Reader
	if conf.Display == "epd" && !flags.noDisplay {
		if ps, err := battery.NewPiSugar3(); err != nil {
			appLog.Warn("battery reader unavailable", "reason", err)
		} else {
			defer ps.Close()
			bat = ps
		}
	}

	fetcher := feed.NewFetcher(conf.FeedCacheDir, time.Duration(conf.RequestTimeoutSec)*time.Second)

	runner := pipeline.New(conf, loc, renderer, fetcher, sinks)
	runner.Battery = bat
	runner.Demo = flags.demo

	if flags.once {
		if err := runner.RenderNow(ctx); err != nil {
			appLog.Error("render cycle failed", err)
			os.Exit(1)
		}
		appLog.Info("inkcal exiting")
		return
	}

	sched := cron.New()
	if _, err := sched.AddFunc(conf.RefreshCron, func() {
		if err := runner.RenderNow(ctx); err != nil {
			appLog.Error("scheduled render failed", err)
		}
	}); err != nil {
		appLog.Error("invalid refresh schedule", err, "refresh", conf.RefreshCron)
		os.Exit(1)
	}
	sched.Start()
	defer sched.Stop()

	if conf.ButtonPin != "" {
		go func() {
			err := button.Watch(ctx, conf.ButtonPin, func() {
				if err := runner.RenderNow(ctx); err != nil {
					appLog.Error("button render failed", err)
				}
			})
			if err != nil && ctx.Err() == nil {
				appLog.Error("button watch stopped", err, "pin", conf.ButtonPin)
			}
		}()
	}

	var server *web.Server
	if conf.Listen != "" {
		server = web.NewServer(conf, runner, bat)
		go func() {
			if err := server.ListenAndServe(); err != nil && ctx.Err() == nil {
				appLog.Error("status server failed", err)
				cancel()
			}
		}()
	}

	// Initial render so the panel shows something before the first tick.
	if err := runner.RenderNow(ctx); err != nil {
		appLog.Error("initial render failed", err)
	}

	<-ctx.Done()

	if server != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			appLog.Error("status server shutdown failed", err)
		}
	}

	appLog.Info("inkcal exiting")
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/inkcal/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Run one fetch+render(+display) cycle and exit")
	flag.BoolVar(&cfg.demo, "demo", false, "Render a built-in sample schedule instead of fetching feeds")
	flag.BoolVar(&cfg.noDisplay, "no-display", false, "Render the preview image without touching display hardware")

	flag.Parse()

	return cfg
}
