package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/jeongseonghan/lte-cellsync/internal/acquire"
	"github.com/jeongseonghan/lte-cellsync/internal/capture"
	"github.com/jeongseonghan/lte-cellsync/internal/config"
	"github.com/jeongseonghan/lte-cellsync/internal/metrics"
	"github.com/jeongseonghan/lte-cellsync/internal/monitoring"
	"github.com/jeongseonghan/lte-cellsync/internal/publish"
	"github.com/jeongseonghan/lte-cellsync/internal/radio"
	"github.com/jeongseonghan/lte-cellsync/internal/scan"
	"github.com/jeongseonghan/lte-cellsync/internal/server"
)

func main() {
	configPath := flag.String("config", "", "YAML configuration file (defaults are used when empty)")
	addr := flag.String("addr", "", "Override server.listen")
	frameDir := flag.String("frame-dir", "", "Store the aligned frame of every resolved cell here")
	serve := flag.Bool("serve", false, "Keep the HTTP server running after the search finishes")
	quiet := flag.Bool("quiet", false, "Suppress acquisition progress logs")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	}
	if *addr != "" {
		cfg.Server.Listen = *addr
	}
	if *quiet {
		monitoring.SetLogger(nil)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, *frameDir, *serve); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("cellsearch: %v", err)
	}
}

func openDevice(cfg *config.Config) (radio.Device, func(), error) {
	switch cfg.Radio.Source {
	case config.SourceRTLTCP:
		dev, err := radio.DialRTLTCP(cfg.Radio.Address, cfg.Radio.DialTimeout)
		if err != nil {
			return nil, nil, err
		}
		info := dev.Tuner()
		log.Printf("Connected to rtl_tcp at %s (tuner %d, %d gain levels)", cfg.Radio.Address, info.TunerType, info.GainLevels)
		return dev, func() { dev.Close() }, nil
	default:
		sim, err := cfg.NewSimulator()
		if err != nil {
			return nil, nil, err
		}
		if len(sim.Cells) == 0 {
			log.Printf("Simulator has no cells configured, every channel carries noise only")
		}
		return sim, func() {}, nil
	}
}

func run(ctx context.Context, cfg *config.Config, frameDir string, serve bool) error {
	dev, closeDev, err := openDevice(cfg)
	if err != nil {
		return fmt.Errorf("open radio: %w", err)
	}
	defer closeDev()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	var handlers acquire.Handlers
	var status *server.Handlers
	srvErr := make(chan error, 1)
	if cfg.Server.Enabled {
		status = server.NewHandlers()
		handlers = append(handlers, status)
		srv := server.NewServer(cfg.Server.Listen, status, reg, cfg.Server.StaticDir)
		go func() { srvErr <- srv.Start(ctx) }()
	}
	setStatus := func(s string, freq float64, msg string) {
		if status != nil {
			status.SetStatus(s, freq, msg)
		}
	}

	if cfg.MQTT.Enabled {
		pub, err := publish.Dial(cfg.PublishConfig(), reg)
		if err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
		handlers = append(handlers, pub)
		go pub.Start(ctx)
	}

	freqs, err := cfg.Frequencies()
	if err != nil {
		return err
	}
	setStatus("scanning", 0, fmt.Sprintf("%d channels", len(freqs)))
	scanner, err := scan.NewScanner(cfg.ScanConfig(), radio.DeviceMeter{Device: dev, Settle: cfg.Radio.SettleSamples}, m)
	if err != nil {
		return err
	}
	res, err := scanner.Scan(ctx, freqs, cfg.Scan.Samples)
	if err != nil {
		setStatus("error", 0, err.Error())
		return fmt.Errorf("scan: %w", err)
	}
	cands := scanner.Candidates(res, cfg.Scan.RSSIThresholdDB)
	if cfg.Scan.MaxCandidates > 0 && len(cands) > cfg.Scan.MaxCandidates {
		cands = cands[:cfg.Scan.MaxCandidates]
	}
	if status != nil {
		status.SetScan(cands)
	}
	log.Printf("Scan found %d candidate channels above %.1f dB", len(cands), cfg.Scan.RSSIThresholdDB)

	acqCfg, err := cfg.AcquireConfig()
	if err != nil {
		return err
	}
	searcher, err := acquire.NewSearcher(dev, acqCfg, m)
	if err != nil {
		return err
	}
	searcher.GainDB = cfg.Radio.GainDB
	if len(handlers) > 0 {
		searcher.Handler = handlers
	}
	if frameDir != "" {
		w, err := capture.NewWriter(frameDir)
		if err != nil {
			return err
		}
		searcher.Sink = w
	}

	resolved := 0
	for _, c := range cands {
		setStatus("acquiring", c.FrequencyHz, fmt.Sprintf("%.1f dB", c.EnergyDB))
		r, err := searcher.Acquire(ctx, c.FrequencyHz)
		if err != nil {
			setStatus("error", c.FrequencyHz, err.Error())
			return err
		}
		if r.State == acquire.StateResolved {
			resolved++
			log.Printf("%.1f MHz: cell %d, %s CP, CFO %.0f Hz, %.1f dB",
				c.FrequencyHz/1e6, r.Candidate.CellID, r.Candidate.CyclicPrefix, r.Candidate.CFOHz, r.Candidate.Quality)
		} else {
			log.Printf("%.1f MHz: no cell after %d frames", c.FrequencyHz/1e6, r.Frames)
		}
	}
	setStatus("done", 0, fmt.Sprintf("%d of %d candidates resolved", resolved, len(cands)))
	log.Printf("Resolved %d of %d candidates", resolved, len(cands))

	if serve && cfg.Server.Enabled {
		select {
		case <-ctx.Done():
		case err := <-srvErr:
			return err
		}
	}
	return nil
}
