package scenario

import (
	"context"

	"github.com/frethen/casenotify/internal/dispatch"
	"github.com/frethen/casenotify/internal/faults"
	"github.com/frethen/casenotify/internal/registry"
)

// taskAssigned notifies the party that a task was assigned on their case.
type taskAssigned struct {
	base
}

func newTaskAssigned(cfg Settings) *taskAssigned {
	return &taskAssigned{base{kind: KindTaskAssigned, cfg: cfg}}
}

func (s *taskAssigned) Prepare(ctx context.Context, sc *Context) Outcome {
	object, err := sc.Agg.Object(ctx)
	if err != nil {
		return Fail(err)
	}
	sc.Object = &object

	party, err := sc.Agg.Party(ctx)
	if err != nil {
		return Fail(err)
	}
	return Proceed(party)
}

func (s *taskAssigned) Personalization(ch dispatch.Channel, sc *Context, party registry.PartyData) (map[string]string, error) {
	fields := commonPersonalization(ch, sc, party)
	if sc.Object != nil {
		fields["task_title"] = sc.Object.Title
		if !sc.Object.Deadline.IsZero() {
			fields["deadline"] = sc.Object.Deadline.Format("2006-01-02")
		}
	}
	return fields, nil
}

// messageReceived notifies the party that a message arrived on their case.
type messageReceived struct {
	base
}

func newMessageReceived(cfg Settings) *messageReceived {
	return &messageReceived{base{kind: KindMessageReceived, cfg: cfg}}
}

func (s *messageReceived) Prepare(ctx context.Context, sc *Context) Outcome {
	object, err := sc.Agg.Object(ctx)
	if err != nil {
		return Fail(err)
	}
	sc.Object = &object

	party, err := sc.Agg.Party(ctx)
	if err != nil {
		return Fail(err)
	}
	return Proceed(party)
}

func (s *messageReceived) Personalization(ch dispatch.Channel, sc *Context, party registry.PartyData) (map[string]string, error) {
	fields := commonPersonalization(ch, sc, party)
	if sc.Object != nil {
		fields["message_title"] = sc.Object.Title
	}
	return fields, nil
}

// unsupportedObject stands in for object events whose type id matched no
// configured scenario under the escalate policy. Every operation reports the
// configuration defect.
type unsupportedObject struct {
	base
	typeID string
}

func newUnsupportedObject(cfg Settings, typeID string) *unsupportedObject {
	return &unsupportedObject{base: base{kind: kindUnsupportedObject, cfg: cfg}, typeID: typeID}
}

func (s *unsupportedObject) err() error {
	return faults.New(faults.KindBadReference, "scenario.object_type",
		"object-type id "+s.typeID+" matches no configured scenario")
}

func (s *unsupportedObject) Prepare(context.Context, *Context) Outcome {
	return Fail(s.err())
}

func (s *unsupportedObject) TemplateID(dispatch.Channel) (string, error) {
	return "", s.err()
}

func (s *unsupportedObject) Personalization(dispatch.Channel, *Context, registry.PartyData) (map[string]string, error) {
	return nil, s.err()
}
