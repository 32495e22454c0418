package aggregate

import (
	"context"
	"strings"
	"testing"

	"github.com/frethen/casenotify/internal/event"
	"github.com/frethen/casenotify/internal/faults"
	"github.com/frethen/casenotify/internal/registry"
)

type fakeSources struct {
	caseRec  registry.Case
	history  registry.CaseStatusHistory
	party    registry.PartyData
	decision registry.Decision
	object   registry.CaseObject

	objectTypes map[string]registry.ObjectType
	statusTypes map[string]registry.StatusType

	caseCalls       int
	historyCalls    int
	partyCalls      int
	decisionCalls   int
	objectCalls     int
	objectTypeCalls int
	statusTypeCalls int
}

func (f *fakeSources) Case(ctx context.Context, uri string) (registry.Case, error) {
	f.caseCalls++
	return f.caseRec, nil
}

func (f *fakeSources) StatusHistory(ctx context.Context, caseURI string) (registry.CaseStatusHistory, error) {
	f.historyCalls++
	return f.history, nil
}

func (f *fakeSources) ByExternalID(ctx context.Context, externalID string) (registry.PartyData, error) {
	f.partyCalls++
	return f.party, nil
}

func (f *fakeSources) Decision(ctx context.Context, uri string) (registry.Decision, error) {
	f.decisionCalls++
	return f.decision, nil
}

func (f *fakeSources) Object(ctx context.Context, uri string) (registry.CaseObject, error) {
	f.objectCalls++
	return f.object, nil
}

func (f *fakeSources) ObjectType(ctx context.Context, uri string) (registry.ObjectType, error) {
	f.objectTypeCalls++
	return f.objectTypes[uri], nil
}

func (f *fakeSources) StatusType(ctx context.Context, uri string) (registry.StatusType, error) {
	f.statusTypeCalls++
	return f.statusTypes[uri], nil
}

func (f *fakeSources) sources() Sources {
	return Sources{Cases: f, Parties: f, Decisions: f, Objects: f, Types: f}
}

func testEvent() *event.InboundEvent {
	return &event.InboundEvent{
		Action:        event.ActionCreate,
		Channel:       event.ChannelCases,
		Resource:      event.ResourceStatus,
		MainObjectURI: "https://records.example.org/cases/c-1",
		ResourceURI:   "https://records.example.org/objects/o-1",
	}
}

func TestCaseIsFetchedOnce(t *testing.T) {
	t.Parallel()

	src := &fakeSources{caseRec: registry.Case{URI: "https://records.example.org/cases/c-1", PartyExternalID: "p-1"}}
	agg := New(testEvent(), src.sources())

	ctx := context.Background()
	for range 3 {
		if _, err := agg.Case(ctx); err != nil {
			t.Fatalf("case: %v", err)
		}
	}
	if _, err := agg.Party(ctx); err != nil {
		t.Fatalf("party: %v", err)
	}
	if src.caseCalls != 1 {
		t.Fatalf("expected a single case fetch, got %d", src.caseCalls)
	}
	if src.partyCalls != 1 {
		t.Fatalf("expected a single party fetch, got %d", src.partyCalls)
	}
}

func TestLastStatusTypeMemoizesHistoryAndType(t *testing.T) {
	t.Parallel()

	src := &fakeSources{
		history: registry.CaseStatusHistory{Statuses: []registry.CaseStatus{
			{StatusTypeURI: "https://types.example.org/status-types/closed"},
			{StatusTypeURI: "https://types.example.org/status-types/open"},
		}},
		statusTypes: map[string]registry.StatusType{
			"https://types.example.org/status-types/closed": {Name: "closed", IsFinal: true},
		},
	}
	agg := New(testEvent(), src.sources())

	ctx := context.Background()
	for range 3 {
		statusType, err := agg.LastStatusType(ctx)
		if err != nil {
			t.Fatalf("last status type: %v", err)
		}
		if !statusType.IsFinal || statusType.Name != "closed" {
			t.Fatalf("unexpected status type: %+v", statusType)
		}
	}
	if src.historyCalls != 1 || src.statusTypeCalls != 1 {
		t.Fatalf("expected single fetches, got history=%d statusType=%d", src.historyCalls, src.statusTypeCalls)
	}
}

func TestLastStatusTypeRejectsEmptyHistory(t *testing.T) {
	t.Parallel()

	src := &fakeSources{}
	agg := New(testEvent(), src.sources())

	_, err := agg.LastStatusType(context.Background())
	if err == nil {
		t.Fatal("expected an error for an empty history")
	}
	if faults.KindOf(err) != faults.KindBadInput {
		t.Fatalf("unexpected fault kind %q", faults.KindOf(err))
	}
}

func TestCaseTypeURIPrefersEventAttribute(t *testing.T) {
	t.Parallel()

	src := &fakeSources{caseRec: registry.Case{CaseTypeURI: "https://types.example.org/case-types/from-record"}}
	ev := testEvent()
	ev.Attributes.CaseTypeURI = " https://types.example.org/case-types/from-event "
	agg := New(ev, src.sources())

	uri, err := agg.CaseTypeURI(context.Background())
	if err != nil {
		t.Fatalf("case type: %v", err)
	}
	if uri != "https://types.example.org/case-types/from-event" {
		t.Fatalf("unexpected case type %q", uri)
	}
	if src.caseCalls != 0 {
		t.Fatal("event-supplied case type must not trigger a case fetch")
	}
}

func TestCaseTypeURIFallsBackToCaseRecord(t *testing.T) {
	t.Parallel()

	src := &fakeSources{caseRec: registry.Case{CaseTypeURI: "https://types.example.org/case-types/from-record"}}
	agg := New(testEvent(), src.sources())

	uri, err := agg.CaseTypeURI(context.Background())
	if err != nil {
		t.Fatalf("case type: %v", err)
	}
	if uri != "https://types.example.org/case-types/from-record" {
		t.Fatalf("unexpected case type %q", uri)
	}
	if src.caseCalls != 1 {
		t.Fatalf("expected one case fetch, got %d", src.caseCalls)
	}
}

func TestCaseTypeURIFailsWhenAbsentEverywhere(t *testing.T) {
	t.Parallel()

	src := &fakeSources{}
	agg := New(testEvent(), src.sources())

	_, err := agg.CaseTypeURI(context.Background())
	if err == nil {
		t.Fatal("expected an error when no source carries the case type")
	}
	if faults.KindOf(err) != faults.KindBadReference {
		t.Fatalf("unexpected fault kind %q", faults.KindOf(err))
	}
	if !strings.Contains(err.Error(), "absent") {
		t.Fatalf("unexpected error text %q", err.Error())
	}
}

func TestPartyFailsWithoutExternalID(t *testing.T) {
	t.Parallel()

	src := &fakeSources{caseRec: registry.Case{URI: "https://records.example.org/cases/c-1"}}
	agg := New(testEvent(), src.sources())

	_, err := agg.Party(context.Background())
	if err == nil {
		t.Fatal("expected an error for a case without a party reference")
	}
	if faults.KindOf(err) != faults.KindBadReference {
		t.Fatalf("unexpected fault kind %q", faults.KindOf(err))
	}
	if src.partyCalls != 0 {
		t.Fatal("party lookup must not be attempted without an external id")
	}
}

func TestObjectTypePrefersEventAttribute(t *testing.T) {
	t.Parallel()

	src := &fakeSources{
		object: registry.CaseObject{ObjectTypeURI: "https://types.example.org/object-types/message"},
		objectTypes: map[string]registry.ObjectType{
			"https://types.example.org/object-types/task":    {ID: "task"},
			"https://types.example.org/object-types/message": {ID: "message"},
		},
	}
	ev := testEvent()
	ev.Attributes.ObjectTypeURI = "https://types.example.org/object-types/task"
	agg := New(ev, src.sources())

	objectType, err := agg.ObjectType(context.Background())
	if err != nil {
		t.Fatalf("object type: %v", err)
	}
	if objectType.ID != "task" {
		t.Fatalf("unexpected object type %q", objectType.ID)
	}
	if src.objectCalls != 0 {
		t.Fatal("event-supplied object type must not trigger an object fetch")
	}
}

func TestObjectTypeFallsBackToObjectRecord(t *testing.T) {
	t.Parallel()

	src := &fakeSources{
		object: registry.CaseObject{ObjectTypeURI: "https://types.example.org/object-types/message"},
		objectTypes: map[string]registry.ObjectType{
			"https://types.example.org/object-types/message": {ID: "message"},
		},
	}
	agg := New(testEvent(), src.sources())

	ctx := context.Background()
	for range 2 {
		objectType, err := agg.ObjectType(ctx)
		if err != nil {
			t.Fatalf("object type: %v", err)
		}
		if objectType.ID != "message" {
			t.Fatalf("unexpected object type %q", objectType.ID)
		}
	}
	if src.objectCalls != 1 || src.objectTypeCalls != 1 {
		t.Fatalf("expected single fetches, got object=%d objectType=%d", src.objectCalls, src.objectTypeCalls)
	}
}
