package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/internal/domain/models"
	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/internal/engine"
	pkgkafka "github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/pkg/kafka"
	"github.com/chetandhule123/nse-stock-screener-enhanced-complete-telegram/pkg/logger"
)

// EngineControl is the part of the engine the control surfaces drive.
type EngineControl interface {
	TriggerManualRun() (engine.TriggerOutcome, error)
	UpdateScannerConfig(id string, fn func(*models.ScannerConfig)) (models.ScannerConfig, error)
	SetUniverse(symbols []string)
	Heartbeat(sessionID string)
}

const (
	CommandTrigger   = "trigger"
	CommandConfigure = "configure"
	CommandUniverse  = "universe"
	CommandHeartbeat = "heartbeat"
)

// ScannerPatch is a partial scanner config; nil fields are left unchanged.
type ScannerPatch struct {
	ID         string             `json:"id"`
	Enabled    *bool              `json:"enabled,omitempty"`
	Timeframe  *models.Timeframe  `json:"timeframe,omitempty"`
	Parameters map[string]float64 `json:"parameters,omitempty"`
}

// Apply merges the patch into c. Parameters are merged key by key.
func (p ScannerPatch) Apply(c *models.ScannerConfig) {
	if p.Enabled != nil {
		c.Enabled = *p.Enabled
	}
	if p.Timeframe != nil {
		c.Timeframe = *p.Timeframe
	}
	if len(p.Parameters) > 0 && c.Parameters == nil {
		c.Parameters = make(map[string]float64, len(p.Parameters))
	}
	for k, v := range p.Parameters {
		c.Parameters[k] = v
	}
}

type controlCommand struct {
	Type      string        `json:"type"`
	Scanner   *ScannerPatch `json:"scanner,omitempty"`
	Symbols   []string      `json:"symbols,omitempty"`
	SessionID string        `json:"session_id,omitempty"`
}

var ErrInvalidCommand = errors.New("invalid control command")

// ControlHandler consumes engine commands from Kafka.
type ControlHandler struct {
	topic  string
	engine EngineControl
	log    *logger.Logger
}

func NewControlHandler(topic string, eng EngineControl, lgr *logger.Logger) *ControlHandler {
	if lgr == nil {
		lgr = logger.Nop()
	}
	return &ControlHandler{topic: topic, engine: eng, log: lgr.With(logger.String("component", "control_handler"))}
}

func (h *ControlHandler) Topic() string { return h.topic }

func (h *ControlHandler) Handle(ctx context.Context, b []byte) error {
	var cmd controlCommand
	if err := json.Unmarshal(b, &cmd); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCommand, err)
	}

	log := h.log
	if id := pkgkafka.TraceIDFrom(ctx); id != "" {
		log = log.With(logger.String("trace_id", id))
	}

	switch cmd.Type {
	case CommandTrigger:
		outcome, err := h.engine.TriggerManualRun()
		if errors.Is(err, models.ErrNotStarted) {
			// Nothing to retry: the engine is shutting down or not yet up.
			log.Warn("trigger ignored, engine not running")
			return nil
		}
		if err != nil {
			return err
		}
		log.Info("trigger command applied", logger.String("outcome", string(outcome)))

	case CommandConfigure:
		if cmd.Scanner == nil || cmd.Scanner.ID == "" {
			return fmt.Errorf("%w: configure requires scanner.id", ErrInvalidCommand)
		}
		cfg, err := h.engine.UpdateScannerConfig(cmd.Scanner.ID, cmd.Scanner.Apply)
		if err != nil {
			return err
		}
		log.Info("configure command applied",
			logger.String("scanner", cfg.ID),
			logger.Bool("enabled", cfg.Enabled),
		)

	case CommandUniverse:
		if len(cmd.Symbols) == 0 {
			return fmt.Errorf("%w: universe requires symbols", ErrInvalidCommand)
		}
		h.engine.SetUniverse(cmd.Symbols)
		log.Info("universe command applied", logger.Int("symbols", len(cmd.Symbols)))

	case CommandHeartbeat:
		h.engine.Heartbeat(cmd.SessionID)

	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidCommand, cmd.Type)
	}
	return nil
}
