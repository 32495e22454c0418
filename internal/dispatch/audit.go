package dispatch

import (
	"encoding/base64"
	"encoding/json"

	"github.com/frethen/casenotify/internal/event"
	"github.com/frethen/casenotify/internal/faults"
)

// EncodeAudit serializes the original event into the compact reference string
// attached to every outbound message.
func EncodeAudit(ev *event.InboundEvent) (string, error) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return "", faults.Wrap(faults.KindProgrammer, "dispatch.audit", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// DecodeAudit recovers the original event from a delivery-status reference.
func DecodeAudit(reference string) (*event.InboundEvent, error) {
	raw, err := base64.RawURLEncoding.DecodeString(reference)
	if err != nil {
		return nil, faults.Wrap(faults.KindBadInput, "dispatch.audit", err)
	}
	ev, err := event.Decode(raw)
	if err != nil {
		return nil, faults.Wrap(faults.KindBadInput, "dispatch.audit", err)
	}
	return ev, nil
}
