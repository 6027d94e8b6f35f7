package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/spooky-finn/go-terminal-bridge/config"
	"github.com/spooky-finn/go-terminal-bridge/domain"
	"github.com/spooky-finn/go-terminal-bridge/domain/interfaces"
	promclient "github.com/spooky-finn/go-terminal-bridge/infrastructure/prometheus"
	"github.com/spooky-finn/go-terminal-bridge/persistence"
	"github.com/spooky-finn/go-terminal-bridge/provider"
	"github.com/spooky-finn/go-terminal-bridge/provider/terminal"
	"github.com/spooky-finn/go-terminal-bridge/usecase"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %s", err)
	}

	go promclient.StartPromClientServer(cfg.MetricsAddr)

	agg, err := domain.NewAggregator(domain.AggregatorConfig{
		TickSizes:  cfg.TickSizes(),
		PreferMode: cfg.PreferMode,
	})
	if err != nil {
		log.Fatalf("invalid aggregator configuration: %s", err)
	}

	var store *persistence.Store
	stopAutosave := func() {}
	if cfg.Persist {
		store = persistence.NewStore(cfg.DataDir)
		agg.RestoreState(store.Load(domain.CurrentSessionKey()))
		stopAutosave = store.StartAutosave(cfg.AutosaveInterval, func() *domain.SessionState {
			return agg.ExportState(domain.CurrentSessionKey())
		})
	}

	factory := interfaces.SessionFactory(func() interfaces.TerminalSession {
		return terminal.NewSession(cfg.TerminalHost, cfg.TerminalPort)
	})

	cm := provider.NewConnectionManager(provider.Config{
		BaseClientID:       cfg.BaseClientID,
		ClientIDSpan:       cfg.ClientIDSpan,
		AutoConnect:        true,
		HeartbeatInterval:  cfg.HeartbeatInterval,
		HeartbeatTimeout:   cfg.HeartbeatTimeout,
		SupervisorInterval: cfg.SupervisorInterval,
		FirstBackoff:       cfg.FirstBackoff,
		MaxBackoff:         cfg.MaxBackoff,
		MinTickersReady:    cfg.MinTickersReady,
		MinStableWindow:    cfg.MinStableWindow,
	}, factory)

	controller := usecase.NewFeedController(cm, agg, cfg.Symbols)
	if err := controller.Start(); err != nil {
		log.Fatalf("starting feed controller: %s", err)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	log.Printf("shutting down")
	cm.Stop()
	stopAutosave()
	if store != nil {
		if err := store.Save(agg.ExportState(domain.CurrentSessionKey())); err != nil {
			log.Printf("final snapshot: %s", err)
		}
	}
}
