package scenario

import (
	"context"

	"github.com/frethen/casenotify/internal/dispatch"
	"github.com/frethen/casenotify/internal/registry"
)

type base struct {
	kind Kind
	cfg  Settings
}

func (b base) Kind() Kind {
	return b.kind
}

func (b base) TemplateID(ch dispatch.Channel) (string, error) {
	return b.cfg.template(b.kind, ch)
}

func commonPersonalization(ch dispatch.Channel, sc *Context, party registry.PartyData) map[string]string {
	fields := map[string]string{
		"name":        party.FullName(),
		"case_number": sc.Case.Number,
	}
	// SMS templates are short; the case title only appears in email bodies.
	if ch == dispatch.ChannelEmail {
		fields["case_title"] = sc.Case.Title
	}
	return fields
}

// caseCreated notifies the party that a case was registered for them.
// Creation needs no status-type lookup: a single-entry history already
// identified the scenario.
type caseCreated struct {
	base
}

func newCaseCreated(cfg Settings) *caseCreated {
	return &caseCreated{base{kind: KindCaseCreated, cfg: cfg}}
}

func (s *caseCreated) Prepare(ctx context.Context, sc *Context) Outcome {
	party, err := sc.Agg.Party(ctx)
	if err != nil {
		return Fail(err)
	}
	return Proceed(party)
}

func (s *caseCreated) Personalization(ch dispatch.Channel, sc *Context, party registry.PartyData) (map[string]string, error) {
	return commonPersonalization(ch, sc, party), nil
}

// caseStatus covers both the updated and finished variants; they differ only
// in kind (and therefore whitelist and templates).
type caseStatus struct {
	base
}

func newCaseStatusUpdated(cfg Settings) *caseStatus {
	return &caseStatus{base{kind: KindCaseStatusUpdated, cfg: cfg}}
}

func newCaseFinished(cfg Settings) *caseStatus {
	return &caseStatus{base{kind: KindCaseFinished, cfg: cfg}}
}

func (s *caseStatus) Prepare(ctx context.Context, sc *Context) Outcome {
	// The resolver already resolved the newest status type; the aggregator
	// memo makes this a lookup, not a fetch.
	statusType, err := sc.Agg.LastStatusType(ctx)
	if err != nil {
		return Fail(err)
	}
	sc.StatusType = &statusType

	party, err := sc.Agg.Party(ctx)
	if err != nil {
		return Fail(err)
	}
	return Proceed(party)
}

func (s *caseStatus) Personalization(ch dispatch.Channel, sc *Context, party registry.PartyData) (map[string]string, error) {
	fields := commonPersonalization(ch, sc, party)
	if sc.StatusType != nil {
		fields["status"] = sc.StatusType.Name
	}
	return fields, nil
}
