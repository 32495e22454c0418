package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/frethen/casenotify/internal/faults"
	"github.com/frethen/casenotify/internal/httpx"
)

// Provider is the outbound notification provider contract.
type Provider interface {
	Send(ctx context.Context, p Payload) error
}

type providerClient struct {
	base   string
	apiKey string
	doer   *httpx.Doer
}

func newProviderClient(base, apiKey string, doer *httpx.Doer) *providerClient {
	return &providerClient{
		base:   strings.TrimRight(strings.TrimSpace(base), "/"),
		apiKey: strings.TrimSpace(apiKey),
		doer:   doer,
	}
}

type providerRequest struct {
	ID              string            `json:"id"`
	EmailAddress    string            `json:"email_address,omitempty"`
	PhoneNumber     string            `json:"phone_number,omitempty"`
	TemplateID      string            `json:"template_id"`
	Personalization map[string]string `json:"personalisation,omitempty"`
	Reference       string            `json:"reference"`
}

// Send posts one message to the provider. An ordinary provider-side rejection
// comes back as an error value carrying the provider's response text.
func (c *providerClient) Send(ctx context.Context, p Payload) error {
	body := providerRequest{
		ID:              uuid.NewString(),
		TemplateID:      p.TemplateID,
		Personalization: p.Personalization,
		Reference:       p.Reference,
	}
	var path string
	switch p.Channel {
	case ChannelEmail:
		body.EmailAddress = p.Destination
		path = "/v2/notifications/email"
	case ChannelSMS:
		body.PhoneNumber = p.Destination
		path = "/v2/notifications/sms"
	default:
		return faults.New(faults.KindProgrammer, "dispatch.send",
			fmt.Sprintf("unsupported channel %q", p.Channel))
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return faults.Wrap(faults.KindProgrammer, "dispatch.send", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, bytes.NewReader(raw))
	if err != nil {
		return faults.Wrap(faults.KindProgrammer, "dispatch.send", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.doer.Do(req)
	if err != nil {
		return faults.Wrap(faults.KindProvider, "dispatch.send", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return faults.New(faults.KindProvider, "dispatch.send",
			fmt.Sprintf("provider returned %d: %s", resp.StatusCode, strings.TrimSpace(string(text))))
	}
	return nil
}
