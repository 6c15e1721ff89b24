// Package audit records every message exchanged with remote peers.
package audit

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MessageType distinguishes requests from responses.
type MessageType string

const (
	MessageTypeRequest  MessageType = "REQUEST"
	MessageTypeResponse MessageType = "RESPONSE"
)

// Direction is relative to the driver.
type Direction string

const (
	DirectionSent     Direction = "SENT"
	DirectionReceived Direction = "RECEIVED"
)

// TransportHTTP is the only transport the driver uses towards peers.
const TransportHTTP = "HTTP"

// Message is one recorded exchange half.
type Message struct {
	Payload       string
	Type          MessageType
	Direction     Direction
	CorrelationID string
	ContentType   string
	Transport     string
	Endpoint      map[string]string
	RequestID     string
}

// Recorder receives audit messages. Implementations must not block.
type Recorder interface {
	RecordMessage(ctx context.Context, msg Message)
}

type correlationKey struct{}
type requestIDKey struct{}

// WithCorrelationID attaches a correlation id to ctx.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

// CorrelationID returns the correlation id carried by ctx, if any.
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

// WithRequestID attaches the caller's request id to ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the request id carried by ctx, if any.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

var messagesRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sol003_messages_total",
	Help: "Messages exchanged with remote peers",
}, []string{"type", "direction", "method"})

// LogRecorder writes audit messages to a logr.Logger and counts them.
type LogRecorder struct {
	log        logr.Logger
	maxPayload int
}

// NewLogRecorder creates a recorder logging at verbosity 1.
func NewLogRecorder(log logr.Logger) *LogRecorder {
	return &LogRecorder{log: log.WithName("audit"), maxPayload: 4096}
}

// RecordMessage implements Recorder.
func (r *LogRecorder) RecordMessage(_ context.Context, msg Message) {
	messagesRecorded.WithLabelValues(string(msg.Type), string(msg.Direction), msg.Endpoint["method"]).Inc()

	payload := msg.Payload
	if len(payload) > r.maxPayload {
		payload = payload[:r.maxPayload] + "..."
	}
	r.log.V(1).Info("Message exchanged",
		"messageType", msg.Type,
		"direction", msg.Direction,
		"correlationId", msg.CorrelationID,
		"requestId", msg.RequestID,
		"contentType", msg.ContentType,
		"transport", msg.Transport,
		"endpoint", msg.Endpoint,
		"payload", payload)
}

// Middleware records the request and response of every round trip.
func Middleware(recorder Recorder) func(next http.RoundTripper) http.RoundTripper {
	return func(next http.RoundTripper) http.RoundTripper {
		return &transport{recorder: recorder, next: next}
	}
}

type transport struct {
	recorder Recorder
	next     http.RoundTripper
}

func (t *transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	correlationID := CorrelationID(ctx)
	if correlationID == "" {
		correlationID = uuid.New().String()
	}
	endpoint := map[string]string{
		"method": req.Method,
		"uri":    req.URL.String(),
	}

	var payload []byte
	if req.Body != nil && req.Body != http.NoBody {
		var err error
		payload, err = io.ReadAll(req.Body)
		req.Body.Close()
		if err != nil {
			return nil, err
		}
		req = req.Clone(ctx)
		req.Body = io.NopCloser(bytes.NewReader(payload))
	}
	t.recorder.RecordMessage(ctx, Message{
		Payload:       string(payload),
		Type:          MessageTypeRequest,
		Direction:     DirectionSent,
		CorrelationID: correlationID,
		ContentType:   req.Header.Get("Content-Type"),
		Transport:     TransportHTTP,
		Endpoint:      endpoint,
		RequestID:     RequestID(ctx),
	})

	resp, err := t.next.RoundTrip(req)
	if err != nil {
		return nil, err
	}

	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, err
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))

	respEndpoint := map[string]string{
		"method": req.Method,
		"uri":    req.URL.String(),
		"status": strconv.Itoa(resp.StatusCode),
	}
	t.recorder.RecordMessage(ctx, Message{
		Payload:       string(body),
		Type:          MessageTypeResponse,
		Direction:     DirectionReceived,
		CorrelationID: correlationID,
		ContentType:   resp.Header.Get("Content-Type"),
		Transport:     TransportHTTP,
		Endpoint:      respEndpoint,
		RequestID:     RequestID(ctx),
	})
	return resp, nil
}
