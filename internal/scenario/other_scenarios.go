package scenario

import (
	"context"

	"github.com/frethen/casenotify/internal/dispatch"
	"github.com/frethen/casenotify/internal/faults"
	"github.com/frethen/casenotify/internal/registry"
)

// decisionMade notifies the party that a decision was recorded on their case.
type decisionMade struct {
	base
}

func newDecisionMade(cfg Settings) *decisionMade {
	return &decisionMade{base{kind: KindDecisionMade, cfg: cfg}}
}

func (s *decisionMade) Prepare(ctx context.Context, sc *Context) Outcome {
	decision, err := sc.Agg.Decision(ctx)
	if err != nil {
		return Fail(err)
	}
	sc.Decision = &decision

	party, err := sc.Agg.Party(ctx)
	if err != nil {
		return Fail(err)
	}
	return Proceed(party)
}

func (s *decisionMade) Personalization(ch dispatch.Channel, sc *Context, party registry.PartyData) (map[string]string, error) {
	fields := commonPersonalization(ch, sc, party)
	if sc.Decision != nil {
		fields["decision_title"] = sc.Decision.Title
	}
	return fields, nil
}

// notImplemented is the uniform stand-in for events outside the supported
// scenario set. The pipeline always has a strategy object to call, never nil.
type notImplemented struct {
	base
}

func newNotImplemented(cfg Settings) *notImplemented {
	return &notImplemented{base{kind: KindNotImplemented, cfg: cfg}}
}

func errNotImplemented(op string) error {
	return faults.New(faults.KindNotImplemented, op, "scenario is not implemented")
}

func (s *notImplemented) Prepare(context.Context, *Context) Outcome {
	return Fail(errNotImplemented("scenario.prepare"))
}

func (s *notImplemented) TemplateID(dispatch.Channel) (string, error) {
	return "", errNotImplemented("scenario.template")
}

func (s *notImplemented) Personalization(dispatch.Channel, *Context, registry.PartyData) (map[string]string, error) {
	return nil, errNotImplemented("scenario.personalization")
}
