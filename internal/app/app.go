// Package app assembles the BookSoul components from a Config. Both processes
// build the same graph; they differ only in which entry points they serve.
package app

import (
	"errors"
	"fmt"
	"log/slog"

	"booksoul/internal/config"
	"booksoul/internal/integrations/openai"
	"booksoul/internal/integrations/paramstore"
	"booksoul/internal/integrations/telegram"
	"booksoul/internal/supervisor"
	"booksoul/internal/usecase"
)

// Deps are the process-level clients created in main.
type Deps struct {
	Store  usecase.Store
	Params paramstore.Getter

	// Transport and Interpreter override the SSM-backed defaults.
	Transport   usecase.Transport
	Interpreter usecase.Interpreter
}

type App struct {
	Supervisor *supervisor.Supervisor
	Production *usecase.Production
	Intake     *usecase.IntakeService
	Leases     *usecase.LeaseManager
	Poller     *usecase.Poller
}

func New(cfg config.Config, log *slog.Logger, deps Deps) (*App, error) {
	if deps.Store == nil {
		return nil, errors.New("app: store must not be nil")
	}
	if log == nil {
		log = slog.Default()
	}

	transport := deps.Transport
	if transport == nil {
		if deps.Params == nil {
			return nil, errors.New("app: params must not be nil")
		}
		tg, err := telegram.NewClient(deps.Params, cfg.ParamPrefix, telegram.WithRate(cfg.TelegramRate))
		if err != nil {
			return nil, fmt.Errorf("app: telegram client: %w", err)
		}
		transport = tg
	}

	interpreter, err := newInterpreter(cfg, deps)
	if err != nil {
		return nil, err
	}

	policy, err := usecase.StagePolicyByName(cfg.StagePolicy)
	if err != nil {
		return nil, err
	}
	production, err := usecase.NewProduction(deps.Store, policy, log.With("component", "production"))
	if err != nil {
		return nil, err
	}

	outbox, err := usecase.NewOutbox(deps.Store, transport, log.With("component", "outbox"))
	if err != nil {
		return nil, err
	}
	processor, err := usecase.NewProcessor(outbox, interpreter, production, cfg.InterpreterTimeout, log.With("component", "pipeline"))
	if err != nil {
		return nil, err
	}
	notifier, err := usecase.NewCadenceNotifier(deps.Store, transport, usecase.CadenceThresholds{
		StillWorkingAfter: cfg.StillWorkingAfter,
		ReconnectAfter:    cfg.ReconnectAfter,
		BannerCooldown:    cfg.BannerCooldown,
	}, cfg.BannerPhoto, log.With("component", "cadence"))
	if err != nil {
		return nil, err
	}

	sup := supervisor.New(log.With("component", "supervisor"), cfg.SupervisorConcurrency, cfg.TaskTimeout)
	intake, err := usecase.NewIntakeService(deps.Store, deps.Store, sup, processor, notifier, log.With("component", "intake"))
	if err != nil {
		return nil, err
	}

	leases, err := usecase.NewLeaseManager(deps.Store, usecase.LeaseConfig{TTL: cfg.LeaseTTL, MaxBatch: cfg.LeaseBatch}, log.With("component", "lease"))
	if err != nil {
		return nil, err
	}
	executor, err := usecase.NewStageExecutor(production, transport, log.With("component", "executor"))
	if err != nil {
		return nil, err
	}
	poller, err := usecase.NewPoller(leases, executor.Executors(), cfg.LeaseBatch, log.With("component", "poller", "owner", leases.Owner()))
	if err != nil {
		return nil, err
	}

	return &App{
		Supervisor: sup,
		Production: production,
		Intake:     intake,
		Leases:     leases,
		Poller:     poller,
	}, nil
}

func newInterpreter(cfg config.Config, deps Deps) (usecase.Interpreter, error) {
	if deps.Interpreter != nil {
		return deps.Interpreter, nil
	}
	switch cfg.Interpreter {
	case config.InterpreterRules:
		return usecase.RulesInterpreter{}, nil
	case config.InterpreterOpenAI:
		if deps.Params == nil {
			return nil, errors.New("app: params must not be nil")
		}
		llm, err := openai.NewClient(deps.Params, cfg.ParamPrefix)
		if err != nil {
			return nil, fmt.Errorf("app: openai client: %w", err)
		}
		return usecase.NewLLMInterpreter(deps.Params, llm, cfg.ParamPrefix)
	default:
		return nil, fmt.Errorf("app: unknown interpreter %q", cfg.Interpreter)
	}
}
