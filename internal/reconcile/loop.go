// Package reconcile polls VNF LCM operation occurrences until they reach a
// terminal state and publishes the outcome as an async response.
package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/time/rate"

	"github.com/thc1006/nephoran-sol003-driver/internal/bus"
	"github.com/thc1006/nephoran-sol003-driver/internal/credentials"
	"github.com/thc1006/nephoran-sol003-driver/internal/sol003"
	"github.com/thc1006/nephoran-sol003-driver/pkg/models"
)

var (
	pollsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sol003_reconcile_polls_total",
		Help: "Operation occurrence polls by observed state",
	}, []string{"state"})

	outcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sol003_reconcile_outcomes_total",
		Help: "Async responses published by status",
	}, []string{"status"})

	failuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sol003_reconcile_failures_total",
		Help: "Polling messages that could not be processed",
	}, []string{"reason"})
)

// OpOccReader reads an operation occurrence from a VNFM.
type OpOccReader interface {
	GetLcmOpOcc(ctx context.Context, target models.DeploymentTarget, opOccID string) (*sol003.VnfLcmOpOcc, error)
}

// Config tunes the loop.
type Config struct {
	PollingTopic  string `yaml:"pollingTopic" envconfig:"POLLING_TOPIC"`
	ResponseTopic string `yaml:"responseTopic" envconfig:"RESPONSE_TOPIC"`
	// DeadLetterTopic receives messages that could not be processed. When
	// empty such messages are dropped after logging.
	DeadLetterTopic string `yaml:"deadLetterTopic" envconfig:"DEAD_LETTER_TOPIC"`

	InitialBackoff time.Duration `yaml:"initialBackoff" envconfig:"INITIAL_BACKOFF"`
	MaxBackoff     time.Duration `yaml:"maxBackoff" envconfig:"MAX_BACKOFF"`
	BackoffFactor  float64       `yaml:"backoffFactor" envconfig:"BACKOFF_FACTOR"`
	// MaxAttempts is the number of polls after which the operation is
	// reported as failed. Zero means unlimited.
	MaxAttempts int `yaml:"maxAttempts" envconfig:"MAX_ATTEMPTS"`

	QueriesPerSecond float64 `yaml:"queriesPerSecond" envconfig:"QUERIES_PER_SECOND"`
	Burst            int     `yaml:"burst" envconfig:"BURST"`
}

// DefaultConfig returns the loop defaults.
func DefaultConfig() Config {
	return Config{
		PollingTopic:     "sol003_lcm_op_occ_polling_requests",
		ResponseTopic:    "lm_vnfc_lifecycle_execution_events",
		InitialBackoff:   2 * time.Second,
		MaxBackoff:       time.Minute,
		BackoffFactor:    2,
		MaxAttempts:      360,
		QueriesPerSecond: 20,
		Burst:            5,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.PollingTopic == "" {
		return fmt.Errorf("polling topic is required")
	}
	if c.ResponseTopic == "" {
		return fmt.Errorf("response topic is required")
	}
	if c.InitialBackoff <= 0 || c.MaxBackoff < c.InitialBackoff {
		return fmt.Errorf("backoff must satisfy 0 < initial (%s) <= max (%s)", c.InitialBackoff, c.MaxBackoff)
	}
	if c.BackoffFactor < 1 {
		return fmt.Errorf("backoff factor must be >= 1, got %v", c.BackoffFactor)
	}
	if c.MaxAttempts < 0 {
		return fmt.Errorf("max attempts must not be negative")
	}
	return nil
}

// Loop is the operation occurrence reconciliation loop.
type Loop struct {
	cfg       Config
	reader    OpOccReader
	publisher bus.Publisher
	limiter   *rate.Limiter
	log       logr.Logger
}

// NewLoop creates a loop. A non-positive QueriesPerSecond disables limiting.
func NewLoop(cfg Config, reader OpOccReader, publisher bus.Publisher, log logr.Logger) *Loop {
	limit := rate.Inf
	if cfg.QueriesPerSecond > 0 {
		limit = rate.Limit(cfg.QueriesPerSecond)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Loop{
		cfg:       cfg,
		reader:    reader,
		publisher: publisher,
		limiter:   rate.NewLimiter(limit, burst),
		log:       log.WithName("reconcile"),
	}
}

// Run consumes the polling topic until ctx is cancelled.
func (l *Loop) Run(ctx context.Context, consumer bus.Consumer) error {
	l.log.Info("Starting reconciliation loop", "topic", l.cfg.PollingTopic, "maxAttempts", l.cfg.MaxAttempts)
	return consumer.Consume(ctx, l.cfg.PollingTopic, l.Handle)
}

// Handle processes one polling message. Failures never propagate: they are
// logged, counted and forwarded to the dead-letter topic when configured.
func (l *Loop) Handle(ctx context.Context, msg bus.Message) error {
	var req models.PollingRequest
	if err := json.Unmarshal(msg.Value, &req); err != nil {
		l.reject(ctx, msg, "decode", err)
		return nil
	}
	if req.RequestID == "" {
		l.reject(ctx, msg, "decode", errors.New("polling request has no requestId"))
		return nil
	}
	if err := l.Process(ctx, req); err != nil {
		l.reject(ctx, msg, "process", err)
	}
	return nil
}

// Process performs one poll of req.
func (l *Loop) Process(ctx context.Context, req models.PollingRequest) error {
	log := l.log.WithValues("requestId", req.RequestID, "target", req.DeploymentLocation.Name, "attempt", req.Attempt)

	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter: %w", err)
	}

	opOcc, err := l.reader.GetLcmOpOcc(ctx, req.DeploymentLocation, req.RequestID)
	if err != nil {
		var cfgErr *credentials.ConfigError
		var perr *sol003.ProtocolError
		switch {
		case errors.As(err, &cfgErr):
			return l.publish(ctx, models.NewFailedResponse(req.RequestID, models.FailureCodeInternalError, err.Error()))
		case errors.As(err, &perr) && perr.StatusCode() == http.StatusNotFound:
			return l.publish(ctx, models.NewFailedResponse(req.RequestID, models.FailureCodeResourceNotFound, perr.Problem.Detail))
		}
		log.Error(err, "Failed to query operation occurrence")
		pollsTotal.WithLabelValues("error").Inc()
		return l.requeue(ctx, req, log)
	}

	state := opOcc.OperationState
	pollsTotal.WithLabelValues(string(state)).Inc()
	log.V(1).Info("Polled operation occurrence", "operationState", state)

	if !state.IsTerminal() {
		return l.requeue(ctx, req, log)
	}

	var resp *models.AsyncResponse
	if state == sol003.OperationCompleted {
		resp = models.NewCompletedResponse(req.RequestID, nil)
	} else {
		resp = models.NewFailedResponse(req.RequestID, models.FailureCodeInfrastructureError, failureDescription(opOcc))
	}
	log.Info("Operation occurrence reached a terminal state", "operationState", state, "status", resp.Status)
	return l.publish(ctx, resp)
}

// requeue re-publishes req after the backoff for its attempt, or reports a
// failure once the attempt budget is exhausted.
func (l *Loop) requeue(ctx context.Context, req models.PollingRequest, log logr.Logger) error {
	next := req
	next.Attempt++
	if l.cfg.MaxAttempts > 0 && next.Attempt >= l.cfg.MaxAttempts {
		log.Info("Giving up on operation occurrence", "maxAttempts", l.cfg.MaxAttempts)
		return l.publish(ctx, models.NewFailedResponse(req.RequestID, models.FailureCodeInfrastructureError,
			fmt.Sprintf("operation occurrence %s did not complete after %d polls", req.RequestID, next.Attempt)))
	}

	payload, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("failed to encode polling request: %w", err)
	}
	delay := l.Backoff(req.Attempt)
	if err := l.publisher.PublishAfter(ctx, l.cfg.PollingTopic, req.RequestID, payload, delay); err != nil {
		return fmt.Errorf("failed to re-queue polling request: %w", err)
	}
	log.V(1).Info("Re-queued polling request", "delay", delay.String())
	return nil
}

// Backoff returns the delay before the poll following attempt.
func (l *Loop) Backoff(attempt int) time.Duration {
	factor := l.cfg.BackoffFactor
	if factor < 1 {
		factor = 1
	}
	d := float64(l.cfg.InitialBackoff) * math.Pow(factor, float64(attempt))
	if d > float64(l.cfg.MaxBackoff) || math.IsInf(d, 0) || math.IsNaN(d) {
		return l.cfg.MaxBackoff
	}
	return time.Duration(d)
}

func (l *Loop) publish(ctx context.Context, resp *models.AsyncResponse) error {
	payload, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("failed to encode async response: %w", err)
	}
	if err := l.publisher.Publish(ctx, l.cfg.ResponseTopic, resp.RequestID, payload); err != nil {
		return fmt.Errorf("failed to publish async response: %w", err)
	}
	outcomesTotal.WithLabelValues(string(resp.Status)).Inc()
	return nil
}

func (l *Loop) reject(ctx context.Context, msg bus.Message, reason string, err error) {
	failuresTotal.WithLabelValues(reason).Inc()
	if l.cfg.DeadLetterTopic == "" {
		l.log.Error(err, "Dropping polling message", "key", msg.Key, "reason", reason)
		return
	}
	l.log.Error(err, "Forwarding polling message to dead-letter topic", "key", msg.Key, "reason", reason, "topic", l.cfg.DeadLetterTopic)
	if perr := l.publisher.Publish(ctx, l.cfg.DeadLetterTopic, msg.Key, msg.Value); perr != nil {
		l.log.Error(perr, "Failed to forward polling message to dead-letter topic", "key", msg.Key)
	}
}

func failureDescription(opOcc *sol003.VnfLcmOpOcc) string {
	if opOcc.Error != nil && opOcc.Error.Detail != "" {
		return opOcc.Error.Detail
	}
	return fmt.Sprintf("operation occurrence %s ended in state %s", opOcc.ID, opOcc.OperationState)
}
