package config

import "context"

// Capabilities describes optional schema features detected once at startup.
// The value is immutable and travels with each request context.
type Capabilities struct {
	ClosingWasteColumn   bool
	DepositVerifyPayload bool
}

// AllCapabilities is what a fully migrated schema (or the memory store)
// reports.
func AllCapabilities() Capabilities {
	return Capabilities{ClosingWasteColumn: true, DepositVerifyPayload: true}
}

type capabilitiesKey struct{}

func WithCapabilities(ctx context.Context, caps Capabilities) context.Context {
	return context.WithValue(ctx, capabilitiesKey{}, caps)
}

// CapabilitiesFrom returns the capabilities attached to ctx. A context without
// them is treated as a fully migrated schema.
func CapabilitiesFrom(ctx context.Context) Capabilities {
	if caps, ok := ctx.Value(capabilitiesKey{}).(Capabilities); ok {
		return caps
	}
	return AllCapabilities()
}
