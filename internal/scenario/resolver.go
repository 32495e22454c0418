package scenario

import (
	"context"
	"strings"

	"github.com/frethen/casenotify/internal/aggregate"
	"github.com/frethen/casenotify/internal/event"
)

// Resolver picks exactly one strategy for an event. Selection is total: every
// syntactically valid discriminator triple maps to a strategy, with the
// not-implemented strategy covering everything outside the supported set.
// An error is returned only when a data fetch needed for selection fails.
type Resolver struct {
	cfg Settings
}

// NewResolver builds a resolver over the operator settings.
func NewResolver(cfg Settings) *Resolver {
	return &Resolver{cfg: cfg}
}

// Resolve inspects the event discriminators in fixed priority order and,
// where necessary, queries the aggregator. Facts fetched here stay memoized
// on the aggregator, so the chosen strategy never re-fetches them.
func (r *Resolver) Resolve(ctx context.Context, ev *event.InboundEvent, agg *aggregate.Aggregator) (Strategy, error) {
	switch {
	case ev.Action == event.ActionCreate && ev.Channel == event.ChannelCases && ev.Resource == event.ResourceStatus:
		return r.resolveCaseStatus(ctx, agg)
	case ev.Action == event.ActionCreate && ev.Channel == event.ChannelObjects && ev.Resource == event.ResourceObject:
		return r.resolveObject(ctx, agg)
	case ev.Action == event.ActionCreate && ev.Channel == event.ChannelDecisions && ev.Resource == event.ResourceDecision:
		return newDecisionMade(r.cfg), nil
	default:
		return newNotImplemented(r.cfg), nil
	}
}

func (r *Resolver) resolveCaseStatus(ctx context.Context, agg *aggregate.Aggregator) (Strategy, error) {
	history, err := agg.CaseStatusHistory(ctx)
	if err != nil {
		return nil, err
	}
	if history.Count() == 1 {
		return newCaseCreated(r.cfg), nil
	}

	statusType, err := agg.LastStatusType(ctx)
	if err != nil {
		return nil, err
	}
	if statusType.IsFinal {
		return newCaseFinished(r.cfg), nil
	}
	return newCaseStatusUpdated(r.cfg), nil
}

func (r *Resolver) resolveObject(ctx context.Context, agg *aggregate.Aggregator) (Strategy, error) {
	objectType, err := agg.ObjectType(ctx)
	if err != nil {
		return nil, err
	}

	id := strings.TrimSpace(objectType.ID)
	switch {
	case strings.EqualFold(id, strings.TrimSpace(r.cfg.TaskObjectTypeID)) && id != "":
		return newTaskAssigned(r.cfg), nil
	case strings.EqualFold(id, strings.TrimSpace(r.cfg.MessageObjectTypeID)) && id != "":
		return newMessageReceived(r.cfg), nil
	case r.cfg.UnknownObjectTypePolicy == PolicySkip:
		return newNotImplemented(r.cfg), nil
	default:
		return newUnsupportedObject(r.cfg, id), nil
	}
}
