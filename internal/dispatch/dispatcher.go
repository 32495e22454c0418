package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/frethen/casenotify/internal/faults"
	"github.com/frethen/casenotify/internal/httpx"
)

// ClientFactory builds the provider client serving one destination-owning
// organization. Returning an error means the organization has no provider
// configuration, which is a wiring defect rather than a runtime failure.
type ClientFactory func(org string) (Provider, error)

// Dispatcher sends payloads through per-organization provider clients. The
// client cache outlives individual events, so the read-check-create sequence
// is guarded by one mutex.
type Dispatcher struct {
	mu      sync.Mutex
	clients map[string]Provider
	factory ClientFactory
	log     *slog.Logger
}

// New builds a dispatcher around a client factory.
func New(factory ClientFactory, log *slog.Logger) *Dispatcher {
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		clients: make(map[string]Provider),
		factory: factory,
		log:     log,
	}
}

// Send dispatches one payload for the given organization, reusing a cached
// provider client when one exists.
func (d *Dispatcher) Send(ctx context.Context, org string, p Payload) error {
	client, err := d.clientFor(org)
	if err != nil {
		return err
	}
	if err := client.Send(ctx, p); err != nil {
		return err
	}
	d.log.InfoContext(ctx, "Message dispatched",
		"channel", string(p.Channel),
		"template_id", p.TemplateID,
		"organization", org,
	)
	return nil
}

// Reset drops all cached provider clients. Test hook.
func (d *Dispatcher) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.clients = make(map[string]Provider)
}

func (d *Dispatcher) clientFor(org string) (Provider, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if client, ok := d.clients[org]; ok {
		return client, nil
	}
	client, err := d.factory(org)
	if err != nil {
		return nil, faults.Wrap(faults.KindProgrammer, "dispatch.client", err)
	}
	d.clients[org] = client
	return client, nil
}

// NewProviderFactory builds the default HTTP client factory. Organizations
// without a dedicated API key fall back to the default key; no key at all is
// a configuration defect.
func NewProviderFactory(baseURL string, apiKeys map[string]string, defaultKey string, doer *httpx.Doer) ClientFactory {
	return func(org string) (Provider, error) {
		key := apiKeys[org]
		if key == "" {
			key = defaultKey
		}
		if key == "" {
			return nil, fmt.Errorf("no provider api key configured for organization %q", org)
		}
		if err := httpx.RequireHTTPS(baseURL); err != nil {
			return nil, err
		}
		return newProviderClient(baseURL, key, doer), nil
	}
}
