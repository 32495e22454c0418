// Package aggregate unifies the external data sources behind a single
// per-event facade with request memoization and explicit fallback chains.
package aggregate

import (
	"context"
	"strings"

	"github.com/frethen/casenotify/internal/event"
	"github.com/frethen/casenotify/internal/faults"
	"github.com/frethen/casenotify/internal/registry"
)

// CaseReader reads case records.
type CaseReader interface {
	Case(ctx context.Context, uri string) (registry.Case, error)
	StatusHistory(ctx context.Context, caseURI string) (registry.CaseStatusHistory, error)
}

// PartyReader reads normalized party contact records.
type PartyReader interface {
	ByExternalID(ctx context.Context, externalID string) (registry.PartyData, error)
}

// DecisionReader reads decision records.
type DecisionReader interface {
	Decision(ctx context.Context, uri string) (registry.Decision, error)
}

// ObjectReader reads generic case objects.
type ObjectReader interface {
	Object(ctx context.Context, uri string) (registry.CaseObject, error)
}

// TypeReader resolves type references.
type TypeReader interface {
	ObjectType(ctx context.Context, uri string) (registry.ObjectType, error)
	StatusType(ctx context.Context, uri string) (registry.StatusType, error)
}

// Sources bundles the data source clients the aggregator composes.
type Sources struct {
	Cases     CaseReader
	Parties   PartyReader
	Decisions DecisionReader
	Objects   ObjectReader
	Types     TypeReader
}

// Aggregator answers fact queries for exactly one event. Resolved values are
// memoized so repeated calls within one pipeline run never repeat an HTTP
// fetch. Instances are never shared between events or goroutines.
type Aggregator struct {
	ev  *event.InboundEvent
	src Sources

	caseRec    *registry.Case
	history    *registry.CaseStatusHistory
	statusType *registry.StatusType
	party      *registry.PartyData
	decision   *registry.Decision
	object     *registry.CaseObject
	objectType *registry.ObjectType
}

// New builds the aggregator for one event.
func New(ev *event.InboundEvent, src Sources) *Aggregator {
	return &Aggregator{ev: ev, src: src}
}

// Case resolves the case record behind the event's main object reference.
func (a *Aggregator) Case(ctx context.Context) (registry.Case, error) {
	if a.caseRec != nil {
		return *a.caseRec, nil
	}
	rec, err := a.src.Cases.Case(ctx, a.ev.MainObjectURI)
	if err != nil {
		return registry.Case{}, err
	}
	a.caseRec = &rec
	return rec, nil
}

// CaseStatusHistory resolves the case's status history, newest first.
func (a *Aggregator) CaseStatusHistory(ctx context.Context) (registry.CaseStatusHistory, error) {
	if a.history != nil {
		return *a.history, nil
	}
	history, err := a.src.Cases.StatusHistory(ctx, a.ev.MainObjectURI)
	if err != nil {
		return registry.CaseStatusHistory{}, err
	}
	a.history = &history
	return history, nil
}

// LastStatusType resolves the status type of the newest history entry.
func (a *Aggregator) LastStatusType(ctx context.Context) (registry.StatusType, error) {
	if a.statusType != nil {
		return *a.statusType, nil
	}
	history, err := a.CaseStatusHistory(ctx)
	if err != nil {
		return registry.StatusType{}, err
	}
	newest, ok := history.Newest()
	if !ok {
		return registry.StatusType{}, faults.New(faults.KindBadInput, "aggregate.status_type",
			"case has no status history")
	}
	statusType, err := a.src.Types.StatusType(ctx, newest.StatusTypeURI)
	if err != nil {
		return registry.StatusType{}, err
	}
	a.statusType = &statusType
	return statusType, nil
}

// CaseTypeURI resolves the case-type reference through an ordered fallback
// chain: the value embedded on the event wins, otherwise the case record is
// fetched and read. The chain never invents a value.
func (a *Aggregator) CaseTypeURI(ctx context.Context) (string, error) {
	steps := []func(context.Context) (string, error){
		func(context.Context) (string, error) {
			return strings.TrimSpace(a.ev.Attributes.CaseTypeURI), nil
		},
		func(ctx context.Context) (string, error) {
			rec, err := a.Case(ctx)
			if err != nil {
				return "", err
			}
			return strings.TrimSpace(rec.CaseTypeURI), nil
		},
	}
	for _, step := range steps {
		value, err := step(ctx)
		if err != nil {
			return "", err
		}
		if value != "" {
			return value, nil
		}
	}
	return "", faults.New(faults.KindBadReference, "aggregate.case_type",
		"case-type reference is absent from both the event and the case record")
}

// Party resolves the contact record of the party behind the event's case.
func (a *Aggregator) Party(ctx context.Context) (registry.PartyData, error) {
	if a.party != nil {
		return *a.party, nil
	}
	rec, err := a.Case(ctx)
	if err != nil {
		return registry.PartyData{}, err
	}
	if strings.TrimSpace(rec.PartyExternalID) == "" {
		return registry.PartyData{}, faults.New(faults.KindBadReference, "aggregate.party",
			"case record carries no party external id")
	}
	party, err := a.src.Parties.ByExternalID(ctx, rec.PartyExternalID)
	if err != nil {
		return registry.PartyData{}, err
	}
	a.party = &party
	return party, nil
}

// Decision resolves the decision record behind the event's resource reference.
func (a *Aggregator) Decision(ctx context.Context) (registry.Decision, error) {
	if a.decision != nil {
		return *a.decision, nil
	}
	decision, err := a.src.Decisions.Decision(ctx, a.ev.ResourceURI)
	if err != nil {
		return registry.Decision{}, err
	}
	a.decision = &decision
	return decision, nil
}

// Object resolves the generic object behind the event's resource reference.
func (a *Aggregator) Object(ctx context.Context) (registry.CaseObject, error) {
	if a.object != nil {
		return *a.object, nil
	}
	object, err := a.src.Objects.Object(ctx, a.ev.ResourceURI)
	if err != nil {
		return registry.CaseObject{}, err
	}
	a.object = &object
	return object, nil
}

// ObjectType resolves the event's object-type reference, preferring the value
// embedded on the event over fetching the object first.
func (a *Aggregator) ObjectType(ctx context.Context) (registry.ObjectType, error) {
	if a.objectType != nil {
		return *a.objectType, nil
	}
	ref := strings.TrimSpace(a.ev.Attributes.ObjectTypeURI)
	if ref == "" {
		object, err := a.Object(ctx)
		if err != nil {
			return registry.ObjectType{}, err
		}
		ref = strings.TrimSpace(object.ObjectTypeURI)
	}
	if ref == "" {
		return registry.ObjectType{}, faults.New(faults.KindBadReference, "aggregate.object_type",
			"object-type reference is absent from both the event and the object record")
	}
	objectType, err := a.src.Types.ObjectType(ctx, ref)
	if err != nil {
		return registry.ObjectType{}, err
	}
	a.objectType = &objectType
	return objectType, nil
}
