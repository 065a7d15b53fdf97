package observability

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var (
	AttrOperation = attribute.Key("gpw.operation")

	AttrTokenID            = attribute.Key("gpw.registration.token_id")
	AttrRegistrationAction = attribute.Key("gpw.registration.action")
	AttrAuthorization      = attribute.Key("gpw.authorization.status")

	AttrCallID        = attribute.Key("gpw.call.id")
	AttrCallState     = attribute.Key("gpw.call.state")
	AttrCallSynthetic = attribute.Key("gpw.call.synthetic")

	AttrCategory     = attribute.Key("gpw.notification.category")
	AttrDecryptError = attribute.Key("gpw.notification.error_kind")

	AttrFunction = attribute.Key("gpw.function.name")
	AttrRegion   = attribute.Key("gpw.function.region")
)

// ReconcileOperation creates attributes for a reconciliation pass.
func ReconcileOperation(action, tokenID, authorization string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrRegistrationAction.String(action),
		AttrTokenID.String(tokenID),
		AttrAuthorization.String(authorization),
	}
}

// CallOperation creates attributes for call reporting.
func CallOperation(callID, state string, synthetic bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrCallID.String(callID),
		AttrCallState.String(state),
		AttrCallSynthetic.Bool(synthetic),
	}
}

// FunctionOperation creates attributes for a remote function call.
func FunctionOperation(name, region string) []attribute.KeyValue {
	return []attribute.KeyValue{
		AttrFunction.String(name),
		AttrRegion.String(region),
	}
}

// AddSpanEvent adds an event to the span in ctx.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).AddEvent(name, trace.WithAttributes(attrs...))
}

// SetSpanAttributes annotates the span in ctx.
func SetSpanAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	trace.SpanFromContext(ctx).SetAttributes(attrs...)
}
