package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/kstaniek/cz2gate/internal/bus"
	"github.com/kstaniek/cz2gate/internal/cache"
	"github.com/kstaniek/cz2gate/internal/events"
	"github.com/kstaniek/cz2gate/internal/httpapi"
	"github.com/kstaniek/cz2gate/internal/hvac"
	"github.com/kstaniek/cz2gate/internal/metrics"
	"github.com/kstaniek/cz2gate/internal/mqttpub"
)

func main() {
	cfg, showVersion := parseFlags()
	if showVersion {
		fmt.Printf("cz2gate %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	if cfg == nil {
		os.Exit(1)
	}
	l := setupLogger(cfg.logFormat, cfg.logLevel)
	l.Info("build_info", "version", version, "commit", commit, "date", date, "zones", cfg.zones)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)

	c, err := cache.New(cache.Options{
		DBPath:        cfg.cacheDBPath,
		ZoneCount:     cfg.zones,
		StaleAfterSec: cfg.cacheStaleSeconds,
	})
	if err != nil {
		l.Error("cache_init_error", "error", err)
		os.Exit(1)
	}
	defer func() { _ = c.Close() }()

	client := bus.NewClient(cfg.connect, byte(cfg.deviceID), cfg.zones)

	svc := hvac.New(client, c, hvac.Options{
		RefreshInterval: cfg.cacheRefreshInterval,
		CommandTimeout:  time.Duration(cfg.commandTimeoutSeconds) * time.Second,
	})
	svc.Start(ctx)
	defer svc.Stop()

	evMgr := events.New(c, events.Options{
		MaxTotalSubscribers: cfg.sseMaxSubscribers,
		MaxSubscribersPerIP: cfg.sseMaxSubscribersPerIP,
		HeartbeatInterval:   cfg.sseHeartbeatInterval,
	})
	if cfg.sseEnable {
		evMgr.Start(ctx)
		defer evMgr.Stop()
	}

	pub := mqttpub.New(ctx, mqttpub.Options{
		Enabled:        cfg.mqttEnable,
		Broker:         cfg.mqttBroker,
		ClientID:       cfg.mqttClientID,
		Username:       cfg.mqttUsername,
		Password:       cfg.mqttPassword,
		TopicPrefix:    cfg.mqttTopicPrefix,
		ConnectTimeout: 5 * time.Second,
	})
	defer pub.Close()
	if cfg.mqttEnable {
		go publishLoop(ctx, c, pub)
	}

	httpSrv := httpapi.NewServer(
		httpapi.WithListenAddr(cfg.listenAddr),
		httpapi.WithHVACService(svc),
		httpapi.WithCache(c),
		httpapi.WithEvents(evMgr),
		httpapi.WithMQTT(pub),
		httpapi.WithZoneCount(cfg.zones),
		httpapi.WithSSEEnabled(cfg.sseEnable),
		httpapi.WithCacheRoutesEnabled(cfg.cacheEnable),
	)
	go func() {
		if err := httpSrv.Serve(ctx); err != nil {
			l.Error("http_server_error", "error", err)
			cancel()
		}
	}()

	go func() {
		if !cfg.mdnsEnable {
			return
		}
		select {
		case <-httpSrv.Ready():
		case <-ctx.Done():
			return
		}
		addr := httpSrv.Addr()
		var portNum int
		if _, p, err := net.SplitHostPort(addr); err == nil {
			if pn, perr := strconv.Atoi(p); perr == nil {
				portNum = pn
			}
		}
		if portNum == 0 {
			if idx := strings.LastIndex(addr, ":"); idx >= 0 {
				if pn, perr := strconv.Atoi(addr[idx+1:]); perr == nil {
					portNum = pn
				}
			}
		}
		cleanupMDNS, err := startMDNS(ctx, cfg, portNum)
		if err != nil {
			l.Warn("mdns_start_failed", "error", err)
			return
		}
		l.Info("mdns_started", "service", mdnsServiceType, "name", cfg.mdnsName, "port", portNum)
		go func() { <-ctx.Done(); cleanupMDNS() }()
	}()

	metrics.SetReadinessFunc(func() bool {
		select {
		case <-httpSrv.Ready():
		default:
			return false
		}
		return ctx.Err() == nil
	})
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		metricsSrv := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = metricsSrv.Shutdown(context.Background()) }()
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	s := <-sigCh
	l.Info("shutdown_signal", "signal", s.String())
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	wg.Wait()
}
