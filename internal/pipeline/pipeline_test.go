package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/frethen/casenotify/internal/aggregate"
	"github.com/frethen/casenotify/internal/dispatch"
	"github.com/frethen/casenotify/internal/event"
	"github.com/frethen/casenotify/internal/faults"
	"github.com/frethen/casenotify/internal/registry"
	"github.com/frethen/casenotify/internal/scenario"
)

type fakeSources struct {
	caseRec registry.Case
	history registry.CaseStatusHistory
	party   registry.PartyData
	object  registry.CaseObject

	objectTypes map[string]registry.ObjectType
	statusTypes map[string]registry.StatusType

	caseCalls       int
	statusTypeCalls int
}

func (f *fakeSources) Case(context.Context, string) (registry.Case, error) {
	f.caseCalls++
	return f.caseRec, nil
}

func (f *fakeSources) StatusHistory(context.Context, string) (registry.CaseStatusHistory, error) {
	return f.history, nil
}

func (f *fakeSources) ByExternalID(context.Context, string) (registry.PartyData, error) {
	return f.party, nil
}

func (f *fakeSources) Decision(context.Context, string) (registry.Decision, error) {
	return registry.Decision{}, nil
}

func (f *fakeSources) Object(context.Context, string) (registry.CaseObject, error) {
	return f.object, nil
}

func (f *fakeSources) ObjectType(ctx context.Context, uri string) (registry.ObjectType, error) {
	return f.objectTypes[uri], nil
}

func (f *fakeSources) StatusType(ctx context.Context, uri string) (registry.StatusType, error) {
	f.statusTypeCalls++
	return f.statusTypes[uri], nil
}

func (f *fakeSources) sources() aggregate.Sources {
	return aggregate.Sources{Cases: f, Parties: f, Decisions: f, Objects: f, Types: f}
}

type sentMessage struct {
	org     string
	payload dispatch.Payload
}

type fakeSender struct {
	sent []sentMessage
	err  error
}

func (s *fakeSender) Send(_ context.Context, org string, p dispatch.Payload) error {
	if s.err != nil {
		return s.err
	}
	s.sent = append(s.sent, sentMessage{org: org, payload: p})
	return nil
}

func testSettings() scenario.Settings {
	return scenario.Settings{
		Whitelists: map[scenario.Kind][]string{
			scenario.KindCaseCreated:       {"permit"},
			scenario.KindCaseStatusUpdated: {"permit"},
			scenario.KindCaseFinished:      {"permit"},
		},
		Templates: map[scenario.Kind]map[dispatch.Channel]string{
			scenario.KindCaseCreated: {
				dispatch.ChannelEmail: "tpl-created-email",
				dispatch.ChannelSMS:   "tpl-created-sms",
			},
			scenario.KindCaseStatusUpdated: {
				dispatch.ChannelEmail: "tpl-updated-email",
				dispatch.ChannelSMS:   "tpl-updated-sms",
			},
			scenario.KindCaseFinished: {
				dispatch.ChannelEmail: "tpl-finished-email",
				dispatch.ChannelSMS:   "tpl-finished-sms",
			},
		},
		TaskObjectTypeID:        "task",
		MessageObjectTypeID:     "message",
		UnknownObjectTypePolicy: scenario.PolicyEscalate,
	}
}

func newTestPipeline(src *fakeSources, sender Sender) *Pipeline {
	cfg := testSettings()
	return New(src.sources(), scenario.NewResolver(cfg), sender, cfg, nil)
}

func statusEventJSON() []byte {
	return []byte(`{
		"action": "create",
		"channel": "cases",
		"resource": "status",
		"mainObjectUri": "https://records.example.org/cases/c-1",
		"resourceUri": "https://records.example.org/cases/c-1",
		"createdAt": "2026-08-01T10:00:00Z",
		"attributes": {
			"caseTypeUri": "https://types.example.org/case-types/permit",
			"objectTypeUri": "https://types.example.org/object-types/none",
			"decisionTypeUri": "https://types.example.org/decision-types/none",
			"sourceOrganization": "org-src",
			"responsibleOrganization": "org-resp",
			"confidentiality": "normal"
		}
	}`)
}

func objectEventJSON() []byte {
	return []byte(`{
		"action": "create",
		"channel": "objects",
		"resource": "object",
		"mainObjectUri": "https://records.example.org/cases/c-1",
		"resourceUri": "https://records.example.org/objects/o-1",
		"createdAt": "2026-08-01T10:00:00Z",
		"attributes": {
			"caseTypeUri": "https://types.example.org/case-types/permit",
			"objectTypeUri": "https://types.example.org/object-types/t-1",
			"decisionTypeUri": "https://types.example.org/decision-types/none",
			"sourceOrganization": "org-src",
			"responsibleOrganization": "org-resp",
			"confidentiality": "normal"
		}
	}`)
}

func consentingSources(pref registry.ContactPreference, statuses int, isFinal bool) *fakeSources {
	history := registry.CaseStatusHistory{}
	for i := range statuses {
		history.Statuses = append(history.Statuses, registry.CaseStatus{
			StatusTypeURI: fmt.Sprintf("https://types.example.org/status-types/s-%d", i),
		})
	}
	return &fakeSources{
		caseRec: registry.Case{
			URI:             "https://records.example.org/cases/c-1",
			CaseTypeURI:     "https://types.example.org/case-types/permit",
			Title:           "Parking permit",
			Number:          "C-2026-001",
			OwnerOrg:        "org-owner",
			PartyExternalID: "p-1",
			InformRequested: true,
		},
		history: history,
		party: registry.PartyData{
			GivenName:  "Anna",
			FamilyName: "Jansen",
			Email:      "anna@example.org",
			Phone:      "+31600000001",
			Preference: pref,
		},
		statusTypes: map[string]registry.StatusType{
			"https://types.example.org/status-types/s-0": {Name: "Latest", IsFinal: isFinal},
		},
	}
}

func TestProcessDispatchesCaseCreatedEmail(t *testing.T) {
	t.Parallel()

	src := consentingSources(registry.PreferenceEmail, 1, false)
	sender := &fakeSender{}
	result := newTestPipeline(src, sender).Process(context.Background(), statusEventJSON())

	require.Equal(t, StatusSuccess, result.Status)
	assert.Equal(t, http.StatusAccepted, result.HTTPStatus())
	require.Len(t, sender.sent, 1)

	msg := sender.sent[0]
	assert.Equal(t, "org-owner", msg.org)
	assert.Equal(t, dispatch.ChannelEmail, msg.payload.Channel)
	assert.Equal(t, "anna@example.org", msg.payload.Destination)
	assert.Equal(t, "tpl-created-email", msg.payload.TemplateID)
	assert.Equal(t, "Anna Jansen", msg.payload.Personalization["name"])
	assert.Equal(t, "C-2026-001", msg.payload.Personalization["case_number"])

	// A single-entry history selects case creation without a status lookup.
	assert.Zero(t, src.statusTypeCalls)
}

func TestProcessDispatchesStatusUpdateOnce(t *testing.T) {
	t.Parallel()

	src := consentingSources(registry.PreferenceEmail, 2, false)
	sender := &fakeSender{}
	result := newTestPipeline(src, sender).Process(context.Background(), statusEventJSON())

	require.Equal(t, StatusSuccess, result.Status)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "tpl-updated-email", sender.sent[0].payload.TemplateID)
	assert.Equal(t, "Latest", sender.sent[0].payload.Personalization["status"])

	// Resolution and preparation both need the newest status type; the
	// aggregator memo keeps that to a single fetch.
	assert.Equal(t, 1, src.statusTypeCalls)
	assert.Equal(t, 1, src.caseCalls)
}

func TestProcessSelectsFinishedScenarioForFinalStatus(t *testing.T) {
	t.Parallel()

	src := consentingSources(registry.PreferenceEmail, 2, true)
	sender := &fakeSender{}
	result := newTestPipeline(src, sender).Process(context.Background(), statusEventJSON())

	require.Equal(t, StatusSuccess, result.Status)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "tpl-finished-email", sender.sent[0].payload.TemplateID)
}

func TestProcessFansOutToBothChannels(t *testing.T) {
	t.Parallel()

	src := consentingSources(registry.PreferenceBoth, 1, false)
	sender := &fakeSender{}
	result := newTestPipeline(src, sender).Process(context.Background(), statusEventJSON())

	require.Equal(t, StatusSuccess, result.Status)
	require.Len(t, sender.sent, 2)
	assert.Equal(t, dispatch.ChannelEmail, sender.sent[0].payload.Channel)
	assert.Equal(t, dispatch.ChannelSMS, sender.sent[1].payload.Channel)
	assert.Equal(t, "+31600000001", sender.sent[1].payload.Destination)
}

func TestProcessSucceedsWithNothingToDispatchForPreferenceNone(t *testing.T) {
	t.Parallel()

	src := consentingSources(registry.PreferenceNone, 1, false)
	sender := &fakeSender{}
	result := newTestPipeline(src, sender).Process(context.Background(), statusEventJSON())

	require.Equal(t, StatusSuccess, result.Status)
	assert.Contains(t, result.Description, "nothing to dispatch")
	assert.Empty(t, sender.sent)
}

func TestProcessFailsOnUnknownPreference(t *testing.T) {
	t.Parallel()

	src := consentingSources(registry.PreferenceUnknown, 1, false)
	sender := &fakeSender{}
	result := newTestPipeline(src, sender).Process(context.Background(), statusEventJSON())

	require.Equal(t, StatusFailure, result.Status)
	assert.Equal(t, faults.KindBadInput, result.Kind)
	assert.False(t, result.Retryable)
	assert.Equal(t, http.StatusUnprocessableEntity, result.HTTPStatus())
	assert.Empty(t, sender.sent)
}

func TestProcessAbortsNonWhitelistedCaseType(t *testing.T) {
	t.Parallel()

	src := consentingSources(registry.PreferenceEmail, 1, false)
	src.caseRec.CaseTypeURI = "https://types.example.org/case-types/audit"
	sender := &fakeSender{}
	result := newTestPipeline(src, sender).Process(context.Background(), statusEventJSON())

	require.Equal(t, StatusAborted, result.Status)
	assert.Equal(t, faults.KindBusinessAbort, result.Kind)
	assert.Equal(t, http.StatusPartialContent, result.HTTPStatus())
	assert.Empty(t, sender.sent)
}

func TestProcessAbortsWithoutConsent(t *testing.T) {
	t.Parallel()

	src := consentingSources(registry.PreferenceEmail, 1, false)
	src.caseRec.InformRequested = false
	sender := &fakeSender{}
	result := newTestPipeline(src, sender).Process(context.Background(), statusEventJSON())

	require.Equal(t, StatusAborted, result.Status)
	assert.Empty(t, sender.sent)
}

func TestProcessSurfacesProviderRejection(t *testing.T) {
	t.Parallel()

	src := consentingSources(registry.PreferenceEmail, 1, false)
	sender := &fakeSender{err: faults.New(faults.KindProvider, "dispatch.send", "provider returned 400: template missing")}
	result := newTestPipeline(src, sender).Process(context.Background(), statusEventJSON())

	require.Equal(t, StatusFailure, result.Status)
	assert.True(t, result.Retryable)
	assert.Contains(t, result.Description, "template missing")
	assert.Equal(t, http.StatusBadRequest, result.HTTPStatus())
}

func TestProcessSkipsMalformedPayload(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	result := newTestPipeline(&fakeSources{}, sender).Process(context.Background(), []byte("{not json"))

	require.Equal(t, StatusSkipped, result.Status)
	assert.Equal(t, http.StatusPartialContent, result.HTTPStatus())
	require.Len(t, result.Detail.Causes, 1)
	assert.Equal(t, "sender", result.Detail.Causes[0].Side)
	assert.Empty(t, sender.sent)
}

func TestProcessRejectsStructurallyUnusableEvent(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	result := newTestPipeline(&fakeSources{}, sender).Process(context.Background(), []byte("{}"))

	require.Equal(t, StatusNotPossible, result.Status)
	assert.Equal(t, http.StatusPartialContent, result.HTTPStatus())
	assert.NotEmpty(t, result.Detail.Message)
	assert.Len(t, result.Detail.Causes, 2)
	assert.Empty(t, sender.sent)
}

func TestProcessSkipsConnectivityProbe(t *testing.T) {
	t.Parallel()

	probe := []byte(`{
		"action": "create",
		"channel": "unrecognized",
		"resource": "unrecognized",
		"mainObjectUri": "` + event.ConnectivityProbeURI + `"
	}`)
	sender := &fakeSender{}
	result := newTestPipeline(&fakeSources{}, sender).Process(context.Background(), probe)

	require.Equal(t, StatusSkipped, result.Status)
	assert.Equal(t, "connectivity test event", result.Description)
	assert.Empty(t, sender.sent)
}

func TestProcessSkipsUnmatchedDiscriminators(t *testing.T) {
	t.Parallel()

	payload := []byte(strings.Replace(string(statusEventJSON()), `"action": "create"`, `"action": "destroy"`, 1))

	sender := &fakeSender{}
	result := newTestPipeline(consentingSources(registry.PreferenceEmail, 1, false), sender).Process(context.Background(), payload)

	require.Equal(t, StatusSkipped, result.Status)
	assert.Equal(t, faults.KindNotImplemented, result.Kind)
	assert.Empty(t, sender.sent)
}

func TestProcessFailsUnknownObjectTypeUnderEscalatePolicy(t *testing.T) {
	t.Parallel()

	src := consentingSources(registry.PreferenceEmail, 1, false)
	src.objectTypes = map[string]registry.ObjectType{
		"https://types.example.org/object-types/t-1": {ID: "invoice"},
	}
	sender := &fakeSender{}
	result := newTestPipeline(src, sender).Process(context.Background(), objectEventJSON())

	require.Equal(t, StatusFailure, result.Status)
	assert.Equal(t, faults.KindBadReference, result.Kind)
	assert.False(t, result.Retryable)
	assert.Empty(t, sender.sent)
}

func TestProcessDispatchesTaskAssignment(t *testing.T) {
	t.Parallel()

	src := consentingSources(registry.PreferenceSMS, 1, false)
	src.object = registry.CaseObject{Title: "Submit documents"}
	src.objectTypes = map[string]registry.ObjectType{
		"https://types.example.org/object-types/t-1": {ID: "task"},
	}
	cfg := testSettings()
	cfg.Whitelists[scenario.KindTaskAssigned] = []string{"permit"}
	cfg.Templates[scenario.KindTaskAssigned] = map[dispatch.Channel]string{
		dispatch.ChannelSMS: "tpl-task-sms",
	}
	sender := &fakeSender{}
	p := New(src.sources(), scenario.NewResolver(cfg), sender, cfg, nil)

	result := p.Process(context.Background(), objectEventJSON())
	require.Equal(t, StatusSuccess, result.Status)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "tpl-task-sms", sender.sent[0].payload.TemplateID)
	assert.Equal(t, "Submit documents", sender.sent[0].payload.Personalization["task_title"])
}

func TestProcessAttachesDecodableAuditReference(t *testing.T) {
	t.Parallel()

	src := consentingSources(registry.PreferenceEmail, 1, false)
	sender := &fakeSender{}
	result := newTestPipeline(src, sender).Process(context.Background(), statusEventJSON())

	require.Equal(t, StatusSuccess, result.Status)
	require.Len(t, sender.sent, 1)

	decoded, err := dispatch.DecodeAudit(sender.sent[0].payload.Reference)
	require.NoError(t, err)
	assert.Equal(t, event.ActionCreate, decoded.Action)
	assert.Equal(t, "https://records.example.org/cases/c-1", decoded.MainObjectURI)
}

func TestProcessFallsBackToResponsibleOrganization(t *testing.T) {
	t.Parallel()

	src := consentingSources(registry.PreferenceEmail, 1, false)
	src.caseRec.OwnerOrg = ""
	sender := &fakeSender{}
	result := newTestPipeline(src, sender).Process(context.Background(), statusEventJSON())

	require.Equal(t, StatusSuccess, result.Status)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "org-resp", sender.sent[0].org)
}

func TestProcessRecoversFromPanics(t *testing.T) {
	t.Parallel()

	src := consentingSources(registry.PreferenceEmail, 1, false)
	sender := &panickingSender{}
	result := newTestPipeline(src, sender).Process(context.Background(), statusEventJSON())

	require.Equal(t, StatusFailure, result.Status)
	assert.Equal(t, faults.KindProgrammer, result.Kind)
	assert.Contains(t, result.Description, "unhandled panic")
}

type panickingSender struct{}

func (panickingSender) Send(context.Context, string, dispatch.Payload) error {
	panic("boom")
}
