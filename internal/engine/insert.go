package engine

import (
	"context"
	"fmt"
	"strings"

	"cmtools/internal/blocks"
	"cmtools/internal/handlers"
	"cmtools/internal/hierarchy"
	"cmtools/internal/services"
)

// DefaultCampaignBlock is the block a campaign is built from when none is named.
const DefaultCampaignBlock = "campaign"

// InsertRequest describes one entity created by an operator.
type InsertRequest struct {
	Level hierarchy.Level
	// Parent is the parent's fullname; empty for productions.
	Parent string
	Name   string
	Block  string
	// Config is the campaign's YAML document. Only campaigns take one.
	Config []byte
}

// Insert creates one entity in WAITING. Campaigns store their config
// document as a new version; steps link their prerequisites to existing
// sibling steps.
func (e *Engine) Insert(ctx context.Context, req InsertRequest) (*Result, error) {
	parent := strings.Trim(strings.TrimSpace(req.Parent), "/")
	fullname := hierarchy.JoinFullname(parent, req.Name)
	return e.run(ctx, "insert", fullname, func(ctx context.Context, op *opState) error {
		if err := hierarchy.ValidateName(req.Name); err != nil {
			return services.Wrap(services.ErrValidation, "engine", "insert", "", err)
		}
		switch req.Level {
		case hierarchy.LevelProduction:
			if parent != "" {
				return services.Wrap(services.ErrValidation, "engine", "insert", "productions have no parent", nil)
			}
			return e.commit(ctx, op, func(cs *changeSet) error {
				prod, err := e.newChild(ctx, cs.tx, nil, handlers.ChildSpec{Name: req.Name}, 0)
				if err != nil {
					return err
				}
				return cs.insert(ctx, prod, "inserted")
			})
		case hierarchy.LevelCampaign:
			return e.insertCampaign(ctx, op, parent, req)
		case hierarchy.LevelStep, hierarchy.LevelGroup, hierarchy.LevelWorkflow:
			return e.insertBelowCampaign(ctx, op, parent, req)
		default:
			return services.Wrap(services.ErrValidation, "engine", "insert",
				fmt.Sprintf("%s entities cannot be inserted directly", req.Level), nil)
		}
	})
}

func (e *Engine) insertCampaign(ctx context.Context, op *opState, parent string, req InsertRequest) error {
	block := strings.TrimSpace(req.Block)
	if block == "" {
		block = DefaultCampaignBlock
	}
	doc, err := blocks.Parse(req.Config)
	if err != nil {
		return err
	}
	if err := e.validateCampaignDoc(doc, block); err != nil {
		return err
	}
	body, err := doc.Marshal()
	if err != nil {
		return services.Wrap(services.ErrConfiguration, "engine", "insert campaign", "render config", err)
	}

	var storedID int64
	err = e.commit(ctx, op, func(cs *changeSet) error {
		prod, err := e.target(ctx, cs.tx, parent)
		if err != nil {
			return err
		}
		if prod.Level != hierarchy.LevelProduction {
			return services.Wrap(services.ErrValidation, "engine", "insert campaign",
				fmt.Sprintf("parent %s is a %s, not a production", prod.Fullname, prod.Level), nil)
		}
		stored, err := cs.tx.InsertConfigDocument(ctx, hierarchy.JoinFullname(prod.Fullname, req.Name), string(body))
		if err != nil {
			return err
		}
		storedID = stored.ID
		campaign, err := e.newChild(ctx, cs.tx, prod, handlers.ChildSpec{Name: req.Name, Block: block}, stored.ID)
		if err != nil {
			return err
		}
		if err := cs.insert(ctx, campaign, fmt.Sprintf("inserted with config v%d", stored.Version)); err != nil {
			return err
		}
		return propagateUp(ctx, cs, campaign)
	})
	if err != nil {
		e.forget(storedID)
	}
	return err
}

// validateCampaignDoc resolves the campaign block and every step it lists,
// rejecting unknown handlers, unknown prerequisites and cycles up front.
func (e *Engine) validateCampaignDoc(doc *blocks.Document, block string) error {
	r := blocks.NewResolver(doc, blocks.WithClassCheck(e.registry.Has))
	campaign, err := r.Resolve(block)
	if err != nil {
		return err
	}
	_, err = blocks.StepOrder(r, campaign)
	return err
}

func (e *Engine) insertBelowCampaign(ctx context.Context, op *opState, parent string, req InsertRequest) error {
	return e.commit(ctx, op, func(cs *changeSet) error {
		owner, err := e.target(ctx, cs.tx, parent)
		if err != nil {
			return err
		}
		if owner.Level.Child() != req.Level {
			return services.Wrap(services.ErrValidation, "engine", "insert",
				fmt.Sprintf("a %s cannot hold a %s", owner.Level, req.Level), nil)
		}
		if owner.Status.Resolved() {
			return services.Wrap(services.ErrIntegrity, "engine", "insert",
				fmt.Sprintf("%s is %s", owner.Fullname, owner.Status.Upper()), nil)
		}
		block := strings.TrimSpace(req.Block)
		if block == "" {
			block = req.Name
		}
		child, err := e.newChild(ctx, cs.tx, owner, handlers.ChildSpec{Name: req.Name, Block: block}, owner.ConfigID)
		if err != nil {
			return err
		}
		if err := cs.insert(ctx, child, "inserted"); err != nil {
			return err
		}
		if child.Level == hierarchy.LevelStep {
			if _, err := e.linkPrerequisites(ctx, cs, owner, child); err != nil {
				return err
			}
		}
		return propagateUp(ctx, cs, child)
	})
}

// Extend merges additional blocks into a campaign's config as a new document
// version and inserts the named steps from it.
func (e *Engine) Extend(ctx context.Context, campaignName string, extra []byte, steps ...string) (*Result, error) {
	return e.run(ctx, "extend", campaignName, func(ctx context.Context, op *opState) error {
		campaign, err := e.target(ctx, e.store, campaignName)
		if err != nil {
			return err
		}
		if campaign.Level != hierarchy.LevelCampaign {
			return services.Wrap(services.ErrValidation, "engine", "extend",
				fmt.Sprintf("%s is a %s, not a campaign", campaign.Fullname, campaign.Level), nil)
		}
		if campaign.Status.Resolved() {
			return services.Wrap(services.ErrIntegrity, "engine", "extend",
				fmt.Sprintf("%s is %s", campaign.Fullname, campaign.Status.Upper()), nil)
		}
		current, err := e.resolverFor(ctx, e.store, campaign.ConfigID)
		if err != nil {
			return err
		}
		addition, err := blocks.Parse(extra)
		if err != nil {
			return err
		}
		merged := current.Document().Merge(addition)
		r := blocks.NewResolver(merged, blocks.WithClassCheck(e.registry.Has))
		for _, step := range steps {
			if _, err := r.Resolve(step); err != nil {
				return err
			}
		}
		body, err := merged.Marshal()
		if err != nil {
			return services.Wrap(services.ErrConfiguration, "engine", "extend", "render config", err)
		}

		var storedID int64
		err = e.commit(ctx, op, func(cs *changeSet) error {
			fresh, err := cs.tx.GetByID(ctx, campaign.ID)
			if err != nil {
				return err
			}
			stored, err := cs.tx.InsertConfigDocument(ctx, fresh.Fullname, string(body))
			if err != nil {
				return err
			}
			storedID = stored.ID
			fresh.ConfigID = stored.ID
			if err := cs.set(ctx, fresh, fresh.Status, fmt.Sprintf("config v%d", stored.Version)); err != nil {
				return err
			}
			added := make([]*hierarchy.Entity, 0, len(steps))
			for _, name := range steps {
				step, err := e.newChild(ctx, cs.tx, fresh, handlers.ChildSpec{Name: name, Block: name}, stored.ID)
				if err != nil {
					return err
				}
				if err := cs.insert(ctx, step, "extended"); err != nil {
					return err
				}
				added = append(added, step)
			}
			for _, step := range added {
				if _, err := e.linkPrerequisites(ctx, cs, fresh, step); err != nil {
					return err
				}
			}
			return propagate(ctx, cs, fresh.Fullname)
		})
		if err != nil {
			e.forget(storedID)
		}
		return err
	})
}
