package qsync

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("qsync.input")

const (
	outcomeProcessed = "processed"
	outcomeOutOfSync = "out_of_sync"
	outcomeFailed    = "failed"

	skipUndeclared = "undeclared"
	skipNoPeer     = "no_peer"

	eventDataNone    = "none"
	eventDataDecoded = "decoded"
	eventDataNoPeer  = "no_peer"
)

var (
	// inputMessages counts client messages by how processing ended
	inputMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "qsync",
		Subsystem: "input",
		Name:      "messages_total",
		Help:      "Client messages processed, by outcome",
	}, []string{"outcome"})

	propertiesSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "qsync",
		Subsystem: "input",
		Name:      "properties_skipped_total",
		Help:      "Client property values skipped, by reason",
	}, []string{"reason"})

	propertiesStored = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "qsync",
		Subsystem: "input",
		Name:      "properties_stored_total",
		Help:      "Client property values stored on components",
	})

	// eventsDispatched counts events by how their data was handled
	eventsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "qsync",
		Subsystem: "input",
		Name:      "events_total",
		Help:      "Client events dispatched, by event data handling",
	}, []string{"data"})

	processDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "qsync",
		Subsystem: "input",
		Name:      "process_seconds",
		Help:      "Time spent processing one client message",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14), // 0.1ms to ~800ms
	})
)

func startProcessSpan(ctx context.Context, ui *UserInstance) (context.Context, trace.Span) {
	return tracer.Start(ctx, "qsync.input.process",
		trace.WithAttributes(
			attribute.Int("transaction.server", ui.CurrentTransactionID()),
		),
	)
}

func setMessageSpanAttributes(span trace.Span, msg *ClientMessage) {
	span.SetAttributes(
		attribute.String("message.type", msg.Type),
		attribute.Int("transaction.client", msg.TransactionID),
	)
}

// finishProcessSpan records the outcome on the span and the message counter.
func finishProcessSpan(span trace.Span, state *SynchronizationState, err error) {
	outcome := outcomeProcessed
	if err != nil {
		outcome = outcomeFailed
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else if state.OutOfSync() {
		outcome = outcomeOutOfSync
	}
	span.SetAttributes(attribute.Bool("sync.out_of_sync", state.OutOfSync()))
	inputMessages.WithLabelValues(outcome).Inc()
}
