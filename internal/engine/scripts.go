package engine

import (
	"context"
	"fmt"

	"cmtools/internal/blocks"
	"cmtools/internal/hierarchy"
	"cmtools/internal/logging"
	"cmtools/internal/store"
)

// Script block keys.
const (
	keyScriptKind  = "kind"
	keyScriptFake  = "fake"
	keyScriptStamp = "stamp"
)

// scriptOutcome is the first failing script of a batch, if any.
type scriptOutcome struct {
	failed     bool
	script     string
	diagnostic string
}

// runScripts runs every script listed by ent's block whose kind matches,
// in declared order, stopping at the first failure. A script whose run is
// already recorded as successful is not repeated.
func (e *Engine) runScripts(ctx context.Context, op *opState, ent *hierarchy.Entity, cfg blocks.Resolved, match func(hierarchy.ScriptKind) bool) (scriptOutcome, error) {
	if len(cfg.Scripts) == 0 {
		return scriptOutcome{}, nil
	}
	existing, err := e.store.ScriptRuns(ctx, ent.ID)
	if err != nil {
		return scriptOutcome{}, err
	}
	byName := make(map[string]*hierarchy.ScriptRun, len(existing))
	for _, run := range existing {
		byName[run.Name] = run
	}

	for _, name := range cfg.Scripts {
		scriptCfg, err := e.resolveBlock(ctx, e.store, ent.ConfigID, name)
		if err != nil {
			return scriptOutcome{}, err
		}
		kind, ok := hierarchy.ParseScriptKind(scriptCfg.String(keyScriptKind))
		if !ok {
			return scriptOutcome{}, &blocks.ConfigError{Block: name, Reason: fmt.Sprintf("unknown script kind %q", scriptCfg.String(keyScriptKind))}
		}
		if !match(kind) {
			continue
		}
		stamp := hierarchy.StatusCompleted
		if raw := scriptCfg.String(keyScriptStamp); raw != "" {
			parsed, ok := hierarchy.ParseStatus(raw)
			if !ok {
				return scriptOutcome{}, &blocks.ConfigError{Block: name, Reason: fmt.Sprintf("unknown stamp %q", raw)}
			}
			stamp = parsed
		}

		run := byName[name]
		if run != nil && run.Status != hierarchy.StatusFailed && run.Status == run.Stamp {
			continue
		}
		if run == nil {
			run = &hierarchy.ScriptRun{EntityID: ent.ID, Name: name}
		}
		run.Block = name
		run.Handler = scriptCfg.ClassName
		run.Kind = kind
		run.Fake = scriptCfg.Bool(keyScriptFake)
		run.Stamp = stamp
		run.Status = hierarchy.StatusRunning
		run.Diagnostic = ""
		if err := e.saveScriptRun(ctx, run); err != nil {
			return scriptOutcome{}, err
		}

		handler, err := e.registry.New(scriptCfg.ClassName, e.env)
		if err != nil {
			return scriptOutcome{}, err
		}
		result, err := handler.RunScript(ctx, *run, scriptCfg)
		if err != nil {
			run.Status = hierarchy.StatusFailed
			run.Diagnostic = err.Error()
			if saveErr := e.saveScriptRun(ctx, run); saveErr != nil {
				return scriptOutcome{}, saveErr
			}
			return scriptOutcome{}, err
		}
		run.Status = result.Status
		run.Diagnostic = result.Diagnostic
		if err := e.saveScriptRun(ctx, run); err != nil {
			return scriptOutcome{}, err
		}
		op.logger.Debug("script finished",
			logging.Fullname(ent.Fullname),
			logging.String("script", name),
			logging.String("kind", string(kind)),
			logging.Status(result.Status),
		)
		if result.Status == hierarchy.StatusFailed {
			return scriptOutcome{failed: true, script: name, diagnostic: result.Diagnostic}, nil
		}
	}
	return scriptOutcome{}, nil
}

func (e *Engine) saveScriptRun(ctx context.Context, run *hierarchy.ScriptRun) error {
	return e.store.WithTx(ctx, func(tx *store.Tx) error {
		if run.ID == 0 {
			return tx.InsertScriptRun(ctx, run)
		}
		return tx.UpdateScriptRun(ctx, run)
	})
}

// failEntity marks ent FAILED with a diagnostic and re-folds its ancestors.
func (e *Engine) failEntity(ctx context.Context, op *opState, ent *hierarchy.Entity, outcome scriptOutcome) error {
	return e.commit(ctx, op, func(cs *changeSet) error {
		fresh, err := cs.tx.GetByID(ctx, ent.ID)
		if err != nil {
			return err
		}
		fresh.Diagnostic = outcome.diagnostic
		if err := cs.set(ctx, fresh, hierarchy.StatusFailed, "script "+outcome.script+" failed"); err != nil {
			return err
		}
		return propagateUp(ctx, cs, fresh)
	})
}
