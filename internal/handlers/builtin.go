package handlers

import (
	"context"
	"fmt"
	"strings"

	"cmtools/internal/blocks"
	"cmtools/internal/execution"
	"cmtools/internal/hierarchy"
	"cmtools/internal/services"
)

// Built-in class names.
const (
	ClassCampaign = "campaign"
	ClassStep     = "step"
	ClassGroup    = "group"
	ClassWorkflow = "workflow"
	ClassScript   = "script"
)

// Handler-specific config keys.
const (
	KeyPartitions    = "partitions"
	KeyGroupBlock    = "group_block"
	KeyWorkflowBlock = "workflow_block"
	KeyWorkflowName  = "workflow_name"
	KeyCommand       = "command"
	KeyInputColl     = "coll_in"
	KeyOutputColl    = "coll_out"

	defaultGroupBlock    = "group"
	defaultWorkflowBlock = "workflow"
	defaultWorkflowName  = "w00"
)

func builtins() map[string]Factory {
	return map[string]Factory{
		ClassCampaign: func(env Env) LevelHandler { return &CampaignHandler{Base{Env: env}} },
		ClassStep:     func(env Env) LevelHandler { return &StepHandler{Base{Env: env}} },
		ClassGroup:    func(env Env) LevelHandler { return &GroupHandler{Base{Env: env}} },
		ClassWorkflow: func(env Env) LevelHandler { return &WorkflowHandler{Base{Env: env}} },
		ClassScript:   func(env Env) LevelHandler { return &Base{Env: env} },
	}
}

// Base supplies the defaults: no children, no submission, and the generic
// script runner. Custom handlers embed it and override what they need.
type Base struct {
	Env Env
}

func (b *Base) Partition(ctx context.Context, entity hierarchy.Entity, cfg blocks.Resolved) ([]ChildSpec, error) {
	return nil, nil
}

func (b *Base) BuildSubmission(ctx context.Context, workflow hierarchy.Entity, cfg blocks.Resolved) (execution.SubmissionDescriptor, error) {
	return execution.SubmissionDescriptor{}, services.Wrap(services.ErrInvalidTransition, "handler", "build submission",
		fmt.Sprintf("%s entities do not submit work", workflow.Level), nil)
}

func (b *Base) RunScript(ctx context.Context, run hierarchy.ScriptRun, cfg blocks.Resolved) (ScriptResult, error) {
	return runScript(ctx, b.Env, run, cfg)
}

// CampaignHandler lists the campaign's steps in declared order.
type CampaignHandler struct{ Base }

func (h *CampaignHandler) Partition(ctx context.Context, entity hierarchy.Entity, cfg blocks.Resolved) ([]ChildSpec, error) {
	specs := make([]ChildSpec, 0, len(cfg.Steps))
	for _, step := range cfg.Steps {
		specs = append(specs, ChildSpec{Name: step, Block: step})
	}
	return specs, nil
}

// StepHandler splits a step's data query into one group per partition
// predicate, or a single group when none are configured.
type StepHandler struct{ Base }

func (h *StepHandler) Partition(ctx context.Context, entity hierarchy.Entity, cfg blocks.Resolved) ([]ChildSpec, error) {
	block := firstNonEmpty(cfg.String(KeyGroupBlock), defaultGroupBlock)
	base := firstNonEmpty(entity.DataQuery, cfg.DataQuery)
	parts := cfg.Strings(KeyPartitions)
	if len(parts) == 0 {
		return []ChildSpec{{Name: "group_0", Block: block, DataQuery: base}}, nil
	}
	specs := make([]ChildSpec, 0, len(parts))
	for i, part := range parts {
		specs = append(specs, ChildSpec{
			Name:      fmt.Sprintf("group_%d", i),
			Block:     block,
			DataQuery: CombineQueries(base, part),
		})
	}
	return specs, nil
}

// GroupHandler creates the group's single workflow.
type GroupHandler struct{ Base }

func (h *GroupHandler) Partition(ctx context.Context, entity hierarchy.Entity, cfg blocks.Resolved) ([]ChildSpec, error) {
	return []ChildSpec{{
		Name:      firstNonEmpty(cfg.String(KeyWorkflowName), defaultWorkflowName),
		Block:     firstNonEmpty(cfg.String(KeyWorkflowBlock), defaultWorkflowBlock),
		DataQuery: entity.DataQuery,
	}}, nil
}

// WorkflowHandler turns a workflow's expanded attributes into a submission.
type WorkflowHandler struct{ Base }

func (h *WorkflowHandler) BuildSubmission(ctx context.Context, workflow hierarchy.Entity, cfg blocks.Resolved) (execution.SubmissionDescriptor, error) {
	if workflow.Level != hierarchy.LevelWorkflow {
		return h.Base.BuildSubmission(ctx, workflow, cfg)
	}
	return execution.SubmissionDescriptor{
		Fullname:   workflow.Fullname,
		Handler:    cfg.ClassName,
		Generation: workflow.Generation,
		Command:    firstNonEmpty(workflow.Attribute(KeyCommand), cfg.String(KeyCommand)),
		InputColl:  workflow.Attribute(KeyInputColl),
		OutputColl: workflow.Attribute(KeyOutputColl),
		DataQuery:  workflow.DataQuery,
		Attributes: workflow.Clone().Attributes,
	}, nil
}

// CombineQueries joins two predicates with AND, skipping empty ones.
func CombineQueries(base, part string) string {
	base, part = strings.TrimSpace(base), strings.TrimSpace(part)
	switch {
	case base == "":
		return part
	case part == "":
		return base
	default:
		return fmt.Sprintf("(%s) AND (%s)", base, part)
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
