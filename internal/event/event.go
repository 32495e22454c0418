// Package event models the inbound webhook payload describing a change in the
// originating record-keeping system.
package event

import (
	"encoding/json"
	"strings"
	"time"
)

// Action discriminates what happened to the upstream resource.
type Action string

const (
	ActionCreate  Action = "create"
	ActionUpdate  Action = "update"
	ActionDestroy Action = "destroy"
	ActionUnknown Action = "unknown"
)

// Channel discriminates which upstream record domain emitted the event.
type Channel string

const (
	ChannelCases     Channel = "cases"
	ChannelObjects   Channel = "objects"
	ChannelDecisions Channel = "decisions"
	ChannelUnknown   Channel = "unknown"
)

// Resource discriminates which aspect of the record changed.
type Resource string

const (
	ResourceStatus   Resource = "status"
	ResourceObject   Resource = "object"
	ResourceDecision Resource = "decision"
	ResourceUnknown  Resource = "unknown"
)

// ParseAction maps a wire value onto the closed Action set.
// Unrecognized values become ActionUnknown, never an error.
func ParseAction(s string) Action {
	switch Action(strings.ToLower(strings.TrimSpace(s))) {
	case ActionCreate, ActionUpdate, ActionDestroy:
		return Action(strings.ToLower(strings.TrimSpace(s)))
	default:
		return ActionUnknown
	}
}

// ParseChannel maps a wire value onto the closed Channel set.
func ParseChannel(s string) Channel {
	switch Channel(strings.ToLower(strings.TrimSpace(s))) {
	case ChannelCases, ChannelObjects, ChannelDecisions:
		return Channel(strings.ToLower(strings.TrimSpace(s)))
	default:
		return ChannelUnknown
	}
}

// ParseResource maps a wire value onto the closed Resource set.
func ParseResource(s string) Resource {
	switch Resource(strings.ToLower(strings.TrimSpace(s))) {
	case ResourceStatus, ResourceObject, ResourceDecision:
		return Resource(strings.ToLower(strings.TrimSpace(s)))
	default:
		return ResourceUnknown
	}
}

func (a *Action) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*a = ParseAction(s)
	return nil
}

func (c *Channel) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*c = ParseChannel(s)
	return nil
}

func (r *Resource) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*r = ParseResource(s)
	return nil
}

// Attributes carries the channel-specific optional fields of an event.
// Every field is expected by convention; the validator reports missing ones
// without aborting the pipeline.
type Attributes struct {
	CaseTypeURI     string `json:"caseTypeUri" validate:"required"`
	ObjectTypeURI   string `json:"objectTypeUri" validate:"required"`
	DecisionTypeURI string `json:"decisionTypeUri" validate:"required"`
	SourceOrg       string `json:"sourceOrganization" validate:"required"`
	ResponsibleOrg  string `json:"responsibleOrganization" validate:"required"`
	Confidentiality string `json:"confidentiality" validate:"required"`

	// Orphans holds attribute keys the current schema does not recognize.
	// Non-empty orphans here signal schema drift but remain processable.
	Orphans map[string]json.RawMessage `json:"-" validate:"-"`
}

var knownAttributeKeys = map[string]struct{}{
	"caseTypeUri":             {},
	"objectTypeUri":           {},
	"decisionTypeUri":         {},
	"sourceOrganization":      {},
	"responsibleOrganization": {},
	"confidentiality":         {},
}

func (a *Attributes) UnmarshalJSON(data []byte) error {
	type plain Attributes
	var typed plain
	if err := json.Unmarshal(data, &typed); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for key := range raw {
		if _, ok := knownAttributeKeys[key]; ok {
			continue
		}
		if typed.Orphans == nil {
			typed.Orphans = make(map[string]json.RawMessage)
		}
		typed.Orphans[key] = raw[key]
	}

	*a = Attributes(typed)
	return nil
}

func (a Attributes) isZero() bool {
	return a.CaseTypeURI == "" &&
		a.ObjectTypeURI == "" &&
		a.DecisionTypeURI == "" &&
		a.SourceOrg == "" &&
		a.ResponsibleOrg == "" &&
		a.Confidentiality == "" &&
		len(a.Orphans) == 0
}

// ConnectivityProbeURI is the placeholder main-object reference the outbound
// provider uses for its connectivity test events.
const ConnectivityProbeURI = "https://ping.invalid/connectivity-test"

// InboundEvent is the deserialized webhook body. It lives for exactly one
// pipeline invocation.
type InboundEvent struct {
	Action        Action     `json:"action"`
	Channel       Channel    `json:"channel"`
	Resource      Resource   `json:"resource"`
	MainObjectURI string     `json:"mainObjectUri"`
	ResourceURI   string     `json:"resourceUri"`
	CreatedAt     time.Time  `json:"createdAt"`
	Attributes    Attributes `json:"attributes"`

	// Orphans holds top-level keys the current schema does not recognize.
	// A non-empty map here marks the event as malformed.
	Orphans map[string]json.RawMessage `json:"-"`

	// Details records why validation produced a given health state.
	Details []string `json:"-"`
}

var knownRootKeys = map[string]struct{}{
	"action":        {},
	"channel":       {},
	"resource":      {},
	"mainObjectUri": {},
	"resourceUri":   {},
	"createdAt":     {},
	"attributes":    {},
}

func (e *InboundEvent) UnmarshalJSON(data []byte) error {
	type plain InboundEvent
	var typed plain
	if err := json.Unmarshal(data, &typed); err != nil {
		return err
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for key := range raw {
		if _, ok := knownRootKeys[key]; ok {
			continue
		}
		if typed.Orphans == nil {
			typed.Orphans = make(map[string]json.RawMessage)
		}
		typed.Orphans[key] = raw[key]
	}

	*e = InboundEvent(typed)
	return nil
}

// Decode deserializes a webhook body.
func Decode(raw []byte) (*InboundEvent, error) {
	var ev InboundEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

// IsZero reports whether deserialization produced nothing usable.
func (e *InboundEvent) IsZero() bool {
	return e == nil ||
		(e.Action == ActionUnknown || e.Action == "") &&
			(e.Channel == ChannelUnknown || e.Channel == "") &&
			(e.Resource == ResourceUnknown || e.Resource == "") &&
			e.MainObjectURI == "" &&
			e.ResourceURI == "" &&
			len(e.Orphans) == 0 &&
			e.Attributes.isZero()
}

// IsConnectivityProbe reports whether the event matches the provider's
// connectivity test shape: the known placeholder URI with unknown
// channel and resource.
func (e *InboundEvent) IsConnectivityProbe() bool {
	return e.MainObjectURI == ConnectivityProbeURI &&
		e.Channel == ChannelUnknown &&
		e.Resource == ResourceUnknown
}
