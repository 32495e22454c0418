// Package registry contains the typed HTTP clients for the external record
// keeping services and the shared domain records they return.
package registry

import (
	"encoding/json"
	"strings"
	"time"
)

// Case is a case record as served by the case records service.
type Case struct {
	URI             string `json:"uri"`
	CaseTypeURI     string `json:"caseTypeUri"`
	Title           string `json:"title"`
	Number          string `json:"number"`
	OwnerOrg        string `json:"ownerOrganization"`
	PartyExternalID string `json:"partyExternalId"`
	InformRequested bool   `json:"informRequested"`
}

// CaseStatus is one entry of a case's status history.
type CaseStatus struct {
	StatusTypeURI string    `json:"statusTypeUri"`
	Note          string    `json:"note"`
	ChangedAt     time.Time `json:"changedAt"`
}

// CaseStatusHistory is the ordered status history of a case, newest first.
// A count of one means the case was never updated after creation.
type CaseStatusHistory struct {
	Statuses []CaseStatus `json:"statuses"`
}

// Count returns the number of recorded statuses.
func (h CaseStatusHistory) Count() int {
	return len(h.Statuses)
}

// Newest returns the most recent status record.
func (h CaseStatusHistory) Newest() (CaseStatus, bool) {
	if len(h.Statuses) == 0 {
		return CaseStatus{}, false
	}
	return h.Statuses[0], true
}

// StatusType resolves whether a status closes a case.
type StatusType struct {
	URI     string `json:"uri"`
	Name    string `json:"name"`
	IsFinal bool   `json:"isFinal"`
}

// Decision is a decision record attached to a case.
type Decision struct {
	URI             string    `json:"uri"`
	DecisionTypeURI string    `json:"decisionTypeUri"`
	CaseURI         string    `json:"caseUri"`
	Title           string    `json:"title"`
	DecidedAt       time.Time `json:"decidedAt"`
}

// CaseObject is a generic object (task, message, document) attached to a case.
type CaseObject struct {
	URI           string    `json:"uri"`
	ObjectTypeURI string    `json:"objectTypeUri"`
	CaseURI       string    `json:"caseUri"`
	Title         string    `json:"title"`
	Deadline      time.Time `json:"deadline"`
}

// ObjectType is an entry of the object-type registry.
type ObjectType struct {
	URI  string `json:"uri"`
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ContactPreference is the party's distribution channel choice.
type ContactPreference string

const (
	PreferenceNone    ContactPreference = "none"
	PreferenceEmail   ContactPreference = "email"
	PreferenceSMS     ContactPreference = "sms"
	PreferenceBoth    ContactPreference = "both"
	PreferenceUnknown ContactPreference = "unknown"
)

// ParseContactPreference maps a wire value onto the closed preference set.
func ParseContactPreference(s string) ContactPreference {
	switch ContactPreference(strings.ToLower(strings.TrimSpace(s))) {
	case PreferenceNone, PreferenceEmail, PreferenceSMS, PreferenceBoth:
		return ContactPreference(strings.ToLower(strings.TrimSpace(s)))
	default:
		return PreferenceUnknown
	}
}

// PartyData is the normalized citizen or organization contact record. The
// party service answers in two incompatible schema versions; both normalize
// into this one shape.
type PartyData struct {
	GivenName       string
	FamilyName      string
	Email           string
	Phone           string
	Preference      ContactPreference
	InformRequested bool
}

// FullName joins the name parts for personalization fields.
func (p PartyData) FullName() string {
	return strings.TrimSpace(strings.TrimSpace(p.GivenName) + " " + strings.TrimSpace(p.FamilyName))
}

type partyWireV1 struct {
	FirstName           string `json:"firstName"`
	LastName            string `json:"lastName"`
	Email               string `json:"email"`
	PhoneNumber         string `json:"phoneNumber"`
	NotificationChannel string `json:"notificationChannel"`
	InformRequested     bool   `json:"informRequested"`
}

type partyWireV2 struct {
	Name struct {
		Given  string `json:"given"`
		Family string `json:"family"`
	} `json:"name"`
	Contact struct {
		Email            string `json:"email"`
		Mobile           string `json:"mobile"`
		PreferredChannel string `json:"preferredChannel"`
	} `json:"contact"`
	InformRequested bool `json:"informRequested"`
}

// normalizeParty converts either upstream party schema version into PartyData.
// The nested schema is detected by its name or contact block.
func normalizeParty(raw []byte) (PartyData, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return PartyData{}, err
	}

	if _, nested := probe["name"]; nested || hasKey(probe, "contact") {
		var v2 partyWireV2
		if err := json.Unmarshal(raw, &v2); err != nil {
			return PartyData{}, err
		}
		return PartyData{
			GivenName:       v2.Name.Given,
			FamilyName:      v2.Name.Family,
			Email:           v2.Contact.Email,
			Phone:           v2.Contact.Mobile,
			Preference:      ParseContactPreference(v2.Contact.PreferredChannel),
			InformRequested: v2.InformRequested,
		}, nil
	}

	var v1 partyWireV1
	if err := json.Unmarshal(raw, &v1); err != nil {
		return PartyData{}, err
	}
	return PartyData{
		GivenName:       v1.FirstName,
		FamilyName:      v1.LastName,
		Email:           v1.Email,
		Phone:           v1.PhoneNumber,
		Preference:      ParseContactPreference(v1.NotificationChannel),
		InformRequested: v1.InformRequested,
	}, nil
}

func hasKey(m map[string]json.RawMessage, key string) bool {
	_, ok := m[key]
	return ok
}
