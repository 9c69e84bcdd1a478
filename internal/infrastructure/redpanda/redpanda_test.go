package redpanda

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twmb/franz-go/pkg/kgo"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/drfirst/go-intake/internal/domain/response"
)

func TestTopicFor(t *testing.T) {
	assert.Equal(t, TopicResponseCompleted, TopicFor(response.EventResponseCompleted))
	assert.Equal(t, TopicResponseCompleted, TopicFor(response.EventIntakeSubmitted))
	assert.Equal(t, TopicResponseEvents, TopicFor(response.EventResponseSubmitted))
	assert.Equal(t, TopicResponseEvents, TopicFor(response.EventAttachmentRecorded))
}

func TestDefaultTopicConfigsCoverRouting(t *testing.T) {
	names := map[string]bool{}
	for _, c := range DefaultTopicConfigs(0) {
		names[c.Name] = true
		assert.Equal(t, int16(1), c.ReplicationFactor)
	}
	for _, typ := range []response.EventType{
		response.EventResponseSubmitted, response.EventResponseCompleted, response.EventResponseReviewed,
		response.EventAttachmentRecorded, response.EventIntakeSubmitted,
	} {
		assert.True(t, names[TopicFor(typ)], "topic for %s is provisioned", typ)
	}
	assert.True(t, names[TopicDeadLetter])
}

func TestTraceHeadersRoundTrip(t *testing.T) {
	prev := otel.GetTextMapPropagator()
	otel.SetTextMapPropagator(propagation.TraceContext{})
	defer otel.SetTextMapPropagator(prev)

	traceID, err := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	require.NoError(t, err)
	spanID, err := trace.SpanIDFromHex("00f067aa0ba902b7")
	require.NoError(t, err)
	sc := trace.NewSpanContext(trace.SpanContextConfig{TraceID: traceID, SpanID: spanID, TraceFlags: trace.FlagsSampled})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	rec := &kgo.Record{Headers: []kgo.RecordHeader{{Key: HeaderEventType, Value: []byte("ResponseCompleted")}}}
	injectTraceHeaders(ctx, rec)
	assert.Equal(t, "ResponseCompleted", headerCarrier{record: rec}.Get(HeaderEventType))
	assert.Contains(t, headerCarrier{record: rec}.Keys(), "traceparent")

	got := trace.SpanContextFromContext(extractTraceContext(context.Background(), rec))
	assert.Equal(t, traceID, got.TraceID())
	assert.True(t, got.IsRemote())
}

func TestHeaderCarrierSetReplaces(t *testing.T) {
	rec := &kgo.Record{}
	c := headerCarrier{record: rec}
	c.Set("k", "1")
	c.Set("k", "2")
	require.Len(t, rec.Headers, 1)
	assert.Equal(t, "2", c.Get("k"))
	assert.Equal(t, "", c.Get("missing"))
}

func TestEventRecordRoundTrip(t *testing.T) {
	ev, err := response.NewEvent(response.AggregateFormResponse, "resp-1", response.EventResponseCompleted,
		&response.ResponseCompletedData{ResponseID: "resp-1", PatientID: "pat-9"})
	require.NoError(t, err)
	ev.WithPatient("pat-9").Version = 2

	rec, err := EventRecord(ev)
	require.NoError(t, err)
	assert.Equal(t, TopicResponseCompleted, rec.Topic)
	assert.Equal(t, "pat-9", rec.Key)
	assert.Equal(t, "ResponseCompleted", rec.Headers[HeaderEventType])

	got, err := DecodeEvent(&ConsumedMessage{Topic: rec.Topic, Value: rec.Value})
	require.NoError(t, err)
	assert.Equal(t, ev.ID, got.ID)
	assert.Equal(t, 2, got.Version)
	assert.Equal(t, "pat-9", got.PatientID)
}

func TestEventRecordKeysByAggregateWithoutPatient(t *testing.T) {
	ev, err := response.NewEvent(response.AggregateFormResponse, "resp-2", response.EventResponseSubmitted, struct{}{})
	require.NoError(t, err)
	rec, err := EventRecord(ev)
	require.NoError(t, err)
	assert.Equal(t, "resp-2", rec.Key)
}

func TestDecodeEventSkipsGarbage(t *testing.T) {
	_, err := DecodeEvent(&ConsumedMessage{Value: []byte("not json")})
	assert.ErrorIs(t, err, ErrSkip)
	_, err = DecodeEvent(&ConsumedMessage{Value: []byte(`{"id":"x"}`)})
	assert.ErrorIs(t, err, ErrSkip)
}
