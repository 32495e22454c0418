package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/frethen/casenotify/internal/faults"
	"github.com/frethen/casenotify/internal/httpx"
	"github.com/frethen/casenotify/internal/observability"
)

const maxResponseBytes = 1 << 20

func fetchJSON(ctx context.Context, doer *httpx.Doer, rawURL, authorization string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return faults.Wrap(faults.KindBadReference, "registry.request", err)
	}
	req.Header.Set("Accept", "application/json")
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}

	resp, err := doer.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return faults.Wrap(faults.KindTransport, "registry.read", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return faults.New(faults.KindTransport, "registry.fetch",
			fmt.Sprintf("GET %s returned %d: %s", rawURL, resp.StatusCode, strings.TrimSpace(string(body))))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return faults.Wrap(faults.KindTransport, "registry.decode", err)
	}
	return nil
}

// requireRecordURI checks that uri is an https reference of the expected
// record shape before any request is issued. A mismatch is an input defect,
// not a network failure.
func requireRecordURI(uri string, shape *regexp.Regexp, kind string) error {
	if err := httpx.RequireHTTPS(uri); err != nil {
		return err
	}
	if !shape.MatchString(uri) {
		return faults.New(faults.KindBadReference, "registry.uri",
			fmt.Sprintf("%q does not look like a %s reference", uri, kind))
	}
	return nil
}

var (
	casePathRe     = regexp.MustCompile(`/cases/[A-Za-z0-9._-]+$`)
	decisionPathRe = regexp.MustCompile(`/decisions/[A-Za-z0-9._-]+$`)
	objectPathRe   = regexp.MustCompile(`/objects/[A-Za-z0-9._-]+$`)
	objectTypeRe   = regexp.MustCompile(`/object-types/[A-Za-z0-9._-]+$`)
	statusTypeRe   = regexp.MustCompile(`/status-types/[A-Za-z0-9._-]+$`)
)

// CaseClient reads case records and status histories. Authenticates with the
// static service bearer token.
type CaseClient struct {
	doer   *httpx.Doer
	bearer string
}

// NewCaseClient builds a case records client.
func NewCaseClient(doer *httpx.Doer, bearerToken string) *CaseClient {
	return &CaseClient{doer: doer, bearer: "Bearer " + strings.TrimSpace(bearerToken)}
}

// Case fetches one case record by its absolute URI.
func (c *CaseClient) Case(ctx context.Context, uri string) (Case, error) {
	if err := requireRecordURI(uri, casePathRe, "case"); err != nil {
		return Case{}, err
	}
	ctx, span := observability.StartSourceSpan(ctx, "caserecords", "case.fetch")
	defer span.End()

	var out Case
	if err := fetchJSON(ctx, c.doer, uri, c.bearer, &out); err != nil {
		span.RecordError(err)
		return Case{}, err
	}
	return out, nil
}

// StatusHistory fetches a case's status history, newest first.
func (c *CaseClient) StatusHistory(ctx context.Context, caseURI string) (CaseStatusHistory, error) {
	if err := requireRecordURI(caseURI, casePathRe, "case"); err != nil {
		return CaseStatusHistory{}, err
	}
	ctx, span := observability.StartSourceSpan(ctx, "caserecords", "case.status_history")
	defer span.End()

	var out CaseStatusHistory
	if err := fetchJSON(ctx, c.doer, caseURI+"/statuses", c.bearer, &out); err != nil {
		span.RecordError(err)
		return CaseStatusHistory{}, err
	}
	return out, nil
}

// DecisionClient reads decision records with the service bearer token.
type DecisionClient struct {
	doer   *httpx.Doer
	bearer string
}

// NewDecisionClient builds a decision records client.
func NewDecisionClient(doer *httpx.Doer, bearerToken string) *DecisionClient {
	return &DecisionClient{doer: doer, bearer: "Bearer " + strings.TrimSpace(bearerToken)}
}

// Decision fetches one decision record by its absolute URI.
func (c *DecisionClient) Decision(ctx context.Context, uri string) (Decision, error) {
	if err := requireRecordURI(uri, decisionPathRe, "decision"); err != nil {
		return Decision{}, err
	}
	ctx, span := observability.StartSourceSpan(ctx, "decisionrecords", "decision.fetch")
	defer span.End()

	var out Decision
	if err := fetchJSON(ctx, c.doer, uri, c.bearer, &out); err != nil {
		span.RecordError(err)
		return Decision{}, err
	}
	return out, nil
}

// ObjectClient reads generic case objects with the service bearer token.
type ObjectClient struct {
	doer   *httpx.Doer
	bearer string
}

// NewObjectClient builds a generic objects client.
func NewObjectClient(doer *httpx.Doer, bearerToken string) *ObjectClient {
	return &ObjectClient{doer: doer, bearer: "Bearer " + strings.TrimSpace(bearerToken)}
}

// Object fetches one generic object by its absolute URI.
func (c *ObjectClient) Object(ctx context.Context, uri string) (CaseObject, error) {
	if err := requireRecordURI(uri, objectPathRe, "object"); err != nil {
		return CaseObject{}, err
	}
	ctx, span := observability.StartSourceSpan(ctx, "objects", "object.fetch")
	defer span.End()

	var out CaseObject
	if err := fetchJSON(ctx, c.doer, uri, c.bearer, &out); err != nil {
		span.RecordError(err)
		return CaseObject{}, err
	}
	return out, nil
}

// TypeRegistryClient resolves object-type and status-type references with the
// service bearer token.
type TypeRegistryClient struct {
	doer   *httpx.Doer
	bearer string
}

// NewTypeRegistryClient builds a type registry client.
func NewTypeRegistryClient(doer *httpx.Doer, bearerToken string) *TypeRegistryClient {
	return &TypeRegistryClient{doer: doer, bearer: "Bearer " + strings.TrimSpace(bearerToken)}
}

// ObjectType resolves an object-type reference.
func (c *TypeRegistryClient) ObjectType(ctx context.Context, uri string) (ObjectType, error) {
	if err := requireRecordURI(uri, objectTypeRe, "object-type"); err != nil {
		return ObjectType{}, err
	}
	ctx, span := observability.StartSourceSpan(ctx, "typeregistry", "object_type.fetch")
	defer span.End()

	var out ObjectType
	if err := fetchJSON(ctx, c.doer, uri, c.bearer, &out); err != nil {
		span.RecordError(err)
		return ObjectType{}, err
	}
	return out, nil
}

// StatusType resolves a status-type reference to learn whether it is final.
func (c *TypeRegistryClient) StatusType(ctx context.Context, uri string) (StatusType, error) {
	if err := requireRecordURI(uri, statusTypeRe, "status-type"); err != nil {
		return StatusType{}, err
	}
	ctx, span := observability.StartSourceSpan(ctx, "typeregistry", "status_type.fetch")
	defer span.End()

	var out StatusType
	if err := fetchJSON(ctx, c.doer, uri, c.bearer, &out); err != nil {
		span.RecordError(err)
		return StatusType{}, err
	}
	return out, nil
}

// PartyClient reads citizen and organization contact records. Person data
// requires the generated short-lived signed token instead of the static
// service token.
type PartyClient struct {
	doer   *httpx.Doer
	base   string
	tokens *TokenSource
}

// NewPartyClient builds a party records client rooted at base.
func NewPartyClient(doer *httpx.Doer, base string, tokens *TokenSource) *PartyClient {
	return &PartyClient{
		doer:   doer,
		base:   strings.TrimRight(strings.TrimSpace(base), "/"),
		tokens: tokens,
	}
}

// ByExternalID fetches and normalizes the party record for one external id.
func (c *PartyClient) ByExternalID(ctx context.Context, externalID string) (PartyData, error) {
	externalID = strings.TrimSpace(externalID)
	if externalID == "" {
		return PartyData{}, faults.New(faults.KindBadReference, "registry.party", "empty party external id")
	}
	token, err := c.tokens.Token()
	if err != nil {
		return PartyData{}, err
	}

	ctx, span := observability.StartSourceSpan(ctx, "partyrecords", "party.fetch")
	defer span.End()

	var raw json.RawMessage
	if err := fetchJSON(ctx, c.doer, c.base+"/parties/"+externalID, "Bearer "+token, &raw); err != nil {
		span.RecordError(err)
		return PartyData{}, err
	}
	party, err := normalizeParty(raw)
	if err != nil {
		err = faults.Wrap(faults.KindTransport, "registry.party", err)
		span.RecordError(err)
		return PartyData{}, err
	}
	return party, nil
}
