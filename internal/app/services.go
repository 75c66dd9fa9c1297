package app

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/glowlab/glowd/internal/area"
	"github.com/glowlab/glowd/internal/config"
	"github.com/glowlab/glowd/internal/curve"
	"github.com/glowlab/glowd/internal/db"
	"github.com/glowlab/glowd/internal/eventbus"
	"github.com/glowlab/glowd/internal/light"
	"github.com/glowlab/glowd/internal/orchestrator"
	"github.com/glowlab/glowd/internal/registry"
	"github.com/glowlab/glowd/internal/router"
	"github.com/glowlab/glowd/internal/solar"
	"github.com/glowlab/glowd/internal/transport"
)

// Services is a container for all application services.
// It manages service initialization order and dependencies.
type Services struct {
	cfg *config.Config

	// Core infrastructure
	DB         *db.DB
	CurveStore *curve.SQLiteStore

	// Domain state
	Areas    *area.Manager
	Clock    *solar.Clock
	Engine   *curve.Engine
	Registry *registry.Cache

	// Transport and routing
	Bus    *eventbus.Bus
	Bridge *transport.Bridge
	Router *router.Router

	// Pipeline
	Orchestrator *orchestrator.Orchestrator
}

// NewServices creates all services with proper dependency injection.
func NewServices(cfg *config.Config) (*Services, error) {
	s := &Services{cfg: cfg}

	// Initialize database
	database, err := db.Open(cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	s.DB = database

	// Area state: offsets restored from the database, modes start off
	s.Areas, err = area.NewManager(area.NewSQLiteStore(database.DB))
	if err != nil {
		s.Close()
		return nil, err
	}

	// Solar clock for the configured location
	s.Clock = solar.New(cfg.Location.Lat, cfg.Location.Lon, cfg.Location.Timezone)

	// Curve engine: a persisted parameter set overrides the config file
	s.CurveStore = curve.NewSQLiteStore(database.DB)
	params, persisted, err := s.CurveStore.LoadParams(cfg.Curve)
	if err != nil {
		s.Close()
		return nil, err
	}
	if persisted {
		log.Info().Msg("Using persisted curve parameters")
	}
	s.Engine = curve.NewEngine(params)

	// Event bus
	s.Bus = eventbus.NewWithConfig(cfg.EventBus.GetWorkers(), cfg.EventBus.GetQueueSize())

	// Registry cache, fed by the transport
	s.Registry = registry.NewCache()

	// MQTT bridge doubles as the router's commander
	s.Bridge = transport.New(cfg.MQTT, s.Bus)

	colorMode, err := light.ParseColorMode(cfg.ColorMode)
	if err != nil {
		s.Close()
		return nil, err
	}
	s.Router = router.New(s.Registry, s.Bridge, colorMode)

	// Routing cache follows the registry
	s.Registry.OnChange(s.Router.Invalidate)

	s.Orchestrator = orchestrator.New(s.Clock, s.Engine, s.Areas, s.Router, orchestrator.Options{
		TickInterval:   cfg.Updater.Interval.Duration(),
		TransitionOn:   cfg.Updater.TransitionOn.Duration(),
		TransitionStep: cfg.Updater.TransitionStep.Duration(),
	})

	return s, nil
}

// Start starts all services in the correct order.
// The onFatalError callback is called when a fatal error occurs.
func (s *Services) Start(ctx context.Context, onFatalError func(error)) error {
	s.registerHandlers(ctx)

	// Connect to the broker; subscriptions happen in the connect handler
	if err := s.Bridge.Connect(ctx); err != nil {
		return err
	}

	// Periodic updater
	go func() {
		if err := s.Orchestrator.Run(ctx); err != nil && ctx.Err() == nil {
			onFatalError(err)
		}
	}()

	return nil
}

// registerHandlers wires transport events into the pipeline.
func (s *Services) registerHandlers(ctx context.Context) {
	s.Bus.Subscribe(eventbus.EventTypeButton, func(e eventbus.Event) {
		device, _ := e.Data["device"].(string)
		command, _ := e.Data["command"].(string)
		if device == "" || command == "" {
			return
		}
		if err := s.Orchestrator.HandleButton(ctx, device, command); err != nil {
			log.Error().Err(err).Str("device", device).Str("command", command).Msg("Button handling failed")
		}
	})

	s.Bus.Subscribe(eventbus.EventTypeRegistry, func(e eventbus.Event) {
		snap, ok := e.Data["snapshot"].(*registry.Snapshot)
		if !ok || snap == nil {
			return
		}
		s.Registry.Update(snap)
	})

	s.Bus.Subscribe(eventbus.EventTypeCurve, func(e eventbus.Event) {
		params, ok := e.Data["params"].(curve.Params)
		if !ok {
			return
		}
		if err := s.CurveStore.SaveParams(params); err != nil {
			log.Error().Err(err).Msg("Failed to persist curve params")
			return
		}
		s.Engine.SetParams(params)
		log.Info().Msg("Curve parameters updated")
		// Active areas pick up the new curve immediately
		s.Orchestrator.Tick(ctx)
	})
}

// ResetOffsets clears all persisted area offsets.
func (s *Services) ResetOffsets() error {
	reset := s.Areas.ResetOffsets()
	if len(reset) > 0 {
		log.Info().Strs("areas", reset).Msg("Offsets cleared")
	}
	return nil
}

// Stop gracefully stops all services.
func (s *Services) Stop() error {
	s.Close()
	return nil
}

// Close releases all resources.
func (s *Services) Close() {
	if s.Bridge != nil {
		s.Bridge.Close()
	}
	if s.Bus != nil {
		s.Bus.Close(context.Background())
	}
	if s.DB != nil {
		s.DB.Close()
	}
}
