// Package dispatch sends rendered messages through the outbound notification
// provider and correlates deliveries back to their originating event.
package dispatch

// Channel is an outbound message channel.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// Payload is one message ready for dispatch: a template plus its
// personalization for a single destination on a single channel.
type Payload struct {
	Channel         Channel
	Destination     string
	TemplateID      string
	Personalization map[string]string

	// Reference is the audit reference: the encoded original event, echoed
	// back by the provider's delivery-status callback.
	Reference string
}
