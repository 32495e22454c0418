package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/frethen/casenotify/internal/aggregate"
	"github.com/frethen/casenotify/internal/dispatch"
	"github.com/frethen/casenotify/internal/event"
	"github.com/frethen/casenotify/internal/faults"
	"github.com/frethen/casenotify/internal/observability"
	"github.com/frethen/casenotify/internal/scenario"
)

// Sender dispatches one payload for a destination-owning organization.
type Sender interface {
	Send(ctx context.Context, org string, p dispatch.Payload) error
}

// Pipeline processes one inbound event end to end. Instances are safe for
// concurrent use; all per-event state lives in the aggregator and scenario
// context created inside Process.
type Pipeline struct {
	validator  *event.Validator
	resolver   *scenario.Resolver
	sources    aggregate.Sources
	dispatcher Sender
	cfg        scenario.Settings
	log        *slog.Logger
}

// New wires the pipeline.
func New(sources aggregate.Sources, resolver *scenario.Resolver, dispatcher Sender, cfg scenario.Settings, log *slog.Logger) *Pipeline {
	if log == nil {
		log = slog.Default()
	}
	return &Pipeline{
		validator:  event.NewValidator(),
		resolver:   resolver,
		sources:    sources,
		dispatcher: dispatcher,
		cfg:        cfg,
		log:        log,
	}
}

// Process runs the four pipeline phases strictly in order: validate, resolve,
// prepare, dispatch.
func (p *Pipeline) Process(ctx context.Context, raw []byte) (result Result) {
	defer func() {
		if rec := recover(); rec != nil {
			result = Result{
				Status:      StatusFailure,
				Description: fmt.Sprintf("unhandled panic %T: %v", rec, rec),
				Detail:      Detail{Message: "processing panicked", Causes: receiverCauses("defect in this pipeline")},
				Kind:        faults.KindProgrammer,
			}
		}
	}()

	ev, err := event.Decode(raw)
	if err != nil {
		return Result{
			Status:      StatusSkipped,
			Description: "payload is not valid JSON",
			Detail: Detail{
				Message: err.Error(),
				Causes:  senderCauses("event producer sent a malformed body"),
			},
		}
	}

	ctx = observability.WithEventIdentity(ctx, string(ev.Action), string(ev.Channel), string(ev.Resource))

	if health := p.validator.Validate(ev); health == event.HealthErrorInvalid {
		return Result{
			Status:      StatusNotPossible,
			Description: "event is structurally unusable",
			Detail: Detail{
				Message: strings.Join(ev.Details, "; "),
				Causes: append(
					senderCauses("event producer schema has drifted ahead of this consumer"),
					receiverCauses("this consumer has not been updated for a new event schema")...),
			},
		}
	} else if health == event.HealthOKInconsistent {
		p.log.WarnContext(ctx, "Event is missing expected attributes", "details", ev.Details)
	}

	if ev.IsConnectivityProbe() {
		return Result{Status: StatusSkipped, Description: "connectivity test event"}
	}

	agg := aggregate.New(ev, p.sources)
	strat, err := p.resolver.Resolve(ctx, ev, agg)
	if err != nil {
		return p.classify(ctx, err)
	}

	sc := scenario.NewContext(agg)
	outcome := scenario.Gate(ctx, sc, strat.Kind(), p.cfg)
	if _, ok := outcome.Proceeded(); ok {
		outcome = strat.Prepare(ctx, sc)
	}
	if reason, ok := outcome.Aborted(); ok {
		p.log.InfoContext(ctx, "Notification aborted by business rule", "scenario", string(strat.Kind()), "reason", reason)
		return Result{
			Status:      StatusAborted,
			Description: reason,
			Detail:      Detail{Message: "an operator rule vetoed this notification; it will never succeed unless the rule changes"},
			Kind:        faults.KindBusinessAbort,
		}
	}
	if err := outcome.Err(); err != nil {
		return p.classify(ctx, err)
	}

	party, _ := outcome.Proceeded()
	channels, err := scenario.FanOut(party.Preference)
	if err != nil {
		return p.classify(ctx, err)
	}
	if len(channels) == 0 {
		return Result{
			Status:      StatusSuccess,
			Description: "contact preference is none; nothing to dispatch",
		}
	}

	audit, err := dispatch.EncodeAudit(ev)
	if err != nil {
		return p.classify(ctx, err)
	}

	org := strings.TrimSpace(sc.Case.OwnerOrg)
	if org == "" {
		org = strings.TrimSpace(ev.Attributes.ResponsibleOrg)
	}

	for _, ch := range channels {
		templateID, err := strat.TemplateID(ch)
		if err != nil {
			return p.classify(ctx, err)
		}
		personalization, err := strat.Personalization(ch, sc, party)
		if err != nil {
			return p.classify(ctx, err)
		}
		destination, err := scenario.Destination(ch, party)
		if err != nil {
			return p.classify(ctx, err)
		}

		payload := dispatch.Payload{
			Channel:         ch,
			Destination:     destination,
			TemplateID:      templateID,
			Personalization: personalization,
			Reference:       audit,
		}
		if err := p.dispatcher.Send(ctx, org, payload); err != nil {
			return p.classify(ctx, err)
		}
	}

	return Result{
		Status:      StatusSuccess,
		Description: fmt.Sprintf("dispatched %d message(s) for scenario %s", len(channels), strat.Kind()),
	}
}

// classify converts an error into the result taxonomy. The not-implemented
// scenario is a known, accepted gap, not a bug alarm; unclassified errors
// embed the error's type name for diagnosability.
func (p *Pipeline) classify(ctx context.Context, err error) Result {
	kind := faults.KindOf(err)
	switch kind {
	case faults.KindNotImplemented:
		return Result{
			Status:      StatusSkipped,
			Description: "no scenario is implemented for this event",
			Kind:        kind,
		}
	case faults.KindBadInput, faults.KindBadReference:
		p.log.ErrorContext(ctx, "Event can never be processed", "error", err, "kind", string(kind))
		return Result{
			Status:      StatusFailure,
			Description: err.Error(),
			Detail: Detail{
				Message: "input or configuration defect; retrying will not help",
				Causes:  senderCauses("event carries a reference this pipeline cannot resolve"),
			},
			Kind: kind,
		}
	case faults.KindTransport, faults.KindProvider:
		p.log.WarnContext(ctx, "Downstream call failed", "error", err, "kind", string(kind))
		return Result{
			Status:      StatusFailure,
			Description: err.Error(),
			Detail: Detail{
				Message: "downstream service failure; the caller may retry",
				Causes:  receiverCauses("an external collaborator was unreachable or rejected the call"),
			},
			Kind:      kind,
			Retryable: true,
		}
	default:
		p.log.ErrorContext(ctx, "Unclassified processing error", "error", err)
		return Result{
			Status:      StatusFailure,
			Description: fmt.Sprintf("unhandled %T: %v", err, err),
			Detail:      Detail{Message: "unclassified error", Causes: receiverCauses("defect in this pipeline")},
			Kind:        kind,
		}
	}
}

func senderCauses(reasons ...string) []Cause {
	causes := make([]Cause, 0, len(reasons))
	for _, reason := range reasons {
		causes = append(causes, Cause{Side: "sender", Reason: reason})
	}
	return causes
}

func receiverCauses(reasons ...string) []Cause {
	causes := make([]Cause, 0, len(reasons))
	for _, reason := range reasons {
		causes = append(causes, Cause{Side: "receiver", Reason: reason})
	}
	return causes
}
