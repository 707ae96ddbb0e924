package bus

import (
	"context"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("roomchat/bus")

// headerCarrier adapts nats.Header to propagation.TextMapCarrier.
type headerCarrier struct {
	h nats.Header
}

func (c headerCarrier) Get(key string) string { return c.h.Get(key) }

func (c headerCarrier) Set(key, value string) { c.h.Set(key, value) }

func (c headerCarrier) Keys() []string {
	keys := make([]string, 0, len(c.h))
	for k := range c.h {
		keys = append(keys, k)
	}
	return keys
}

func injectContext(ctx context.Context) nats.Header {
	h := nats.Header{}
	otel.GetTextMapPropagator().Inject(ctx, headerCarrier{h: h})
	return h
}

func startProducerSpan(ctx context.Context, topic string, size int) (context.Context, trace.Span) {
	return tracer.Start(ctx, topic+" publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("messaging.system", "nats"),
			attribute.String("messaging.destination.name", Subject(topic)),
			attribute.Int("messaging.message.payload_size_bytes", size),
		),
	)
}

func startConsumerSpan(ctx context.Context, m *nats.Msg) (context.Context, trace.Span) {
	if m.Header != nil {
		ctx = otel.GetTextMapPropagator().Extract(ctx, headerCarrier{h: m.Header})
	}
	return tracer.Start(ctx, m.Subject+" receive",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("messaging.system", "nats"),
			attribute.String("messaging.destination.name", m.Subject),
			attribute.Int("messaging.message.payload_size_bytes", len(m.Data)),
		),
	)
}
