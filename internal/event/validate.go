package event

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Health is the structural verdict over an inbound event.
type Health string

const (
	// HealthOK means the event is complete.
	HealthOK Health = "ok"
	// HealthOKInconsistent means the event is processable but expected
	// optional fields are missing or its attributes carry unknown keys.
	HealthOKInconsistent Health = "ok_inconsistent"
	// HealthErrorInvalid means the event is structurally unusable.
	HealthErrorInvalid Health = "error_invalid"
)

// Validator checks structural completeness of deserialized events.
type Validator struct {
	validate *validator.Validate
}

// NewValidator builds a validator reporting missing fields by their JSON names.
func NewValidator() *Validator {
	v := validator.New()
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return field.Name
		}
		return name
	})
	return &Validator{validate: v}
}

// Validate classifies the event and writes the explanation into its Details.
// Calling it again on the same event yields the same verdict and never
// mutates the orphan maps.
func (v *Validator) Validate(ev *InboundEvent) Health {
	if ev == nil {
		return HealthErrorInvalid
	}

	var details []string
	defer func() {
		ev.Details = details
	}()

	if ev.IsZero() {
		details = append(details, "event is empty: deserialization produced no usable fields")
		return HealthErrorInvalid
	}

	if len(ev.Orphans) > 0 {
		details = append(details, fmt.Sprintf(
			"unknown top-level fields %v: event shape does not match any supported schema", orphanKeys(ev.Orphans)))
		return HealthErrorInvalid
	}

	health := HealthOK

	if missing := missingReferences(ev); len(missing) > 0 {
		details = append(details, fmt.Sprintf("missing expected references: %s", strings.Join(missing, ", ")))
		health = HealthOKInconsistent
	}

	if missing := v.missingAttributes(ev.Attributes); len(missing) > 0 {
		details = append(details, fmt.Sprintf("missing expected attributes: %s", strings.Join(missing, ", ")))
		health = HealthOKInconsistent
	}

	if len(ev.Attributes.Orphans) > 0 {
		details = append(details, fmt.Sprintf(
			"unknown attribute fields %v: sender schema is ahead of this consumer", orphanKeys(ev.Attributes.Orphans)))
		health = HealthOKInconsistent
	}

	return health
}

// missingReferences lists the record references the event should carry.
// Their absence is reported but does not block processing; a scenario that
// needs the reference fails later with a non-retryable bad-reference error.
func missingReferences(ev *InboundEvent) []string {
	var missing []string
	if strings.TrimSpace(ev.MainObjectURI) == "" {
		missing = append(missing, "mainObjectUri")
	}
	if strings.TrimSpace(ev.ResourceURI) == "" {
		missing = append(missing, "resourceUri")
	}
	return missing
}

func (v *Validator) missingAttributes(attrs Attributes) []string {
	err := v.validate.Struct(attrs)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return []string{err.Error()}
	}

	missing := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		if fe.Tag() == "required" {
			missing = append(missing, fe.Field())
		}
	}
	sort.Strings(missing)
	return missing
}

func orphanKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
