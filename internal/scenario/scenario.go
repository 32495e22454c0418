// Package scenario resolves which business scenario an event describes and
// prepares the channel-specific message data for it.
package scenario

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/frethen/casenotify/internal/aggregate"
	"github.com/frethen/casenotify/internal/dispatch"
	"github.com/frethen/casenotify/internal/faults"
	"github.com/frethen/casenotify/internal/registry"
)

// Kind identifies one of the closed set of business scenarios.
type Kind string

const (
	KindCaseCreated       Kind = "case_created"
	KindCaseStatusUpdated Kind = "case_status_updated"
	KindCaseFinished      Kind = "case_finished"
	KindTaskAssigned      Kind = "task_assigned"
	KindMessageReceived   Kind = "message_received"
	KindDecisionMade      Kind = "decision_made"
	KindNotImplemented    Kind = "not_implemented"

	// kindUnsupportedObject marks an object event whose type id matched no
	// configured scenario. Whether that skips or escalates is policy.
	kindUnsupportedObject Kind = "unsupported_object"
)

// Policy decides what happens to object events with an unrecognized type id.
type Policy string

const (
	// PolicyEscalate classifies an unmatched object-type id as a
	// configuration error.
	PolicyEscalate Policy = "escalate"
	// PolicySkip silently skips unmatched object-type events.
	PolicySkip Policy = "skip"
)

// Settings is the operator configuration driving scenario selection and
// message preparation.
type Settings struct {
	// Whitelists lists the case-type identifiers each scenario kind is
	// permitted to notify about.
	Whitelists map[Kind][]string

	// Templates maps scenario kind and channel to a provider template id.
	Templates map[Kind]map[dispatch.Channel]string

	// TaskObjectTypeID and MessageObjectTypeID are the well-known object-type
	// identifiers selecting the task-assigned and message-received scenarios.
	TaskObjectTypeID    string
	MessageObjectTypeID string

	UnknownObjectTypePolicy Policy
}

func (s Settings) whitelisted(kind Kind, caseTypeID string) bool {
	for _, allowed := range s.Whitelists[kind] {
		if strings.EqualFold(strings.TrimSpace(allowed), caseTypeID) {
			return true
		}
	}
	return false
}

func (s Settings) template(kind Kind, ch dispatch.Channel) (string, error) {
	if id := s.Templates[kind][ch]; id != "" {
		return id, nil
	}
	return "", faults.New(faults.KindProgrammer, "scenario.template",
		fmt.Sprintf("no template configured for scenario %q on channel %q", kind, ch))
}

// Context is the per-event memoization cache owned by one strategy invocation.
// It is created when the resolver selects a strategy and discarded when the
// event completes; nothing in it is shared across events.
type Context struct {
	Agg *aggregate.Aggregator

	// Facts cached during Prepare so personalization never re-queries.
	Case       registry.Case
	StatusType *registry.StatusType
	Object     *registry.CaseObject
	Decision   *registry.Decision
}

// NewContext builds the scenario context around one event's aggregator.
func NewContext(agg *aggregate.Aggregator) *Context {
	return &Context{Agg: agg}
}

// Strategy is the per-scenario contract. Prepare aggregates scenario-specific
// facts; TemplateID and Personalization render one channel from facts already
// cached on the Context.
type Strategy interface {
	Kind() Kind
	Prepare(ctx context.Context, sc *Context) Outcome
	TemplateID(ch dispatch.Channel) (string, error)
	Personalization(ch dispatch.Channel, sc *Context, party registry.PartyData) (map[string]string, error)
}

type outcomeState int

const (
	outcomeProceeded outcomeState = iota
	outcomeAborted
	outcomeFailed
)

// Outcome is the explicit result of preparing a scenario: proceed with party
// data, abort on a business rule, or fail with a classified error.
type Outcome struct {
	state  outcomeState
	party  registry.PartyData
	reason string
	err    error
}

// Proceed reports the scenario is ready to send to the given party.
func Proceed(party registry.PartyData) Outcome {
	return Outcome{state: outcomeProceeded, party: party}
}

// Abort reports a business rule decided no notification should be produced.
func Abort(reason string) Outcome {
	return Outcome{state: outcomeAborted, reason: reason}
}

// Fail reports preparation failed.
func Fail(err error) Outcome {
	return Outcome{state: outcomeFailed, err: err}
}

// Proceeded returns the party data when the scenario should send.
func (o Outcome) Proceeded() (registry.PartyData, bool) {
	return o.party, o.state == outcomeProceeded
}

// Aborted returns the business rule reason when sending was vetoed.
func (o Outcome) Aborted() (string, bool) {
	return o.reason, o.state == outcomeAborted
}

// Err returns the preparation error, if any.
func (o Outcome) Err() error {
	return o.err
}

// Gate enforces the preconditions shared by every real scenario before its
// strategy runs: the case type must be whitelisted for the scenario kind and
// the party must have asked to be informed. Both checks happen before any
// dispatch because dispatch is not transactional.
func Gate(ctx context.Context, sc *Context, kind Kind, cfg Settings) Outcome {
	switch kind {
	case KindNotImplemented:
		return Fail(faults.New(faults.KindNotImplemented, "scenario.gate",
			"event matches no implemented scenario"))
	case kindUnsupportedObject:
		return Fail(faults.New(faults.KindBadReference, "scenario.gate",
			"object-type id matches no configured scenario; check task/message object-type configuration"))
	}

	rec, err := sc.Agg.Case(ctx)
	if err != nil {
		return Fail(err)
	}
	sc.Case = rec

	caseTypeURI, err := sc.Agg.CaseTypeURI(ctx)
	if err != nil {
		return Fail(err)
	}
	caseTypeID := path.Base(caseTypeURI)
	if !cfg.whitelisted(kind, caseTypeID) {
		return Abort(fmt.Sprintf("case type %q is not whitelisted for scenario %q", caseTypeID, kind))
	}
	if !rec.InformRequested {
		return Abort("party has not requested to be informed about this case")
	}
	return Proceed(registry.PartyData{})
}

// FanOut maps a contact preference onto the channels to dispatch on: none
// means zero messages, both means one per channel, and unknown is a hard
// error because the pipeline never guesses a channel.
func FanOut(pref registry.ContactPreference) ([]dispatch.Channel, error) {
	switch pref {
	case registry.PreferenceNone:
		return nil, nil
	case registry.PreferenceEmail:
		return []dispatch.Channel{dispatch.ChannelEmail}, nil
	case registry.PreferenceSMS:
		return []dispatch.Channel{dispatch.ChannelSMS}, nil
	case registry.PreferenceBoth:
		return []dispatch.Channel{dispatch.ChannelEmail, dispatch.ChannelSMS}, nil
	default:
		return nil, faults.New(faults.KindBadInput, "scenario.fanout",
			"contact preference is unknown; the source system must supply an explicit preference")
	}
}

// Destination picks the contact detail for one channel.
func Destination(ch dispatch.Channel, party registry.PartyData) (string, error) {
	switch ch {
	case dispatch.ChannelEmail:
		if strings.TrimSpace(party.Email) == "" {
			return "", faults.New(faults.KindBadInput, "scenario.destination",
				"party prefers email but has no email address")
		}
		return party.Email, nil
	case dispatch.ChannelSMS:
		if strings.TrimSpace(party.Phone) == "" {
			return "", faults.New(faults.KindBadInput, "scenario.destination",
				"party prefers sms but has no phone number")
		}
		return party.Phone, nil
	default:
		return "", faults.New(faults.KindProgrammer, "scenario.destination",
			fmt.Sprintf("unsupported channel %q", ch))
	}
}
