package reconcile

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/go-logr/logr"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/thc1006/nephoran-sol003-driver/internal/bus"
	"github.com/thc1006/nephoran-sol003-driver/internal/credentials"
	"github.com/thc1006/nephoran-sol003-driver/internal/sol003"
	"github.com/thc1006/nephoran-sol003-driver/pkg/models"
)

type fakeReader struct {
	mu      sync.Mutex
	opOcc   *sol003.VnfLcmOpOcc
	err     error
	queries []string
}

func (f *fakeReader) GetLcmOpOcc(_ context.Context, _ models.DeploymentTarget, id string) (*sol003.VnfLcmOpOcc, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, id)
	if f.err != nil {
		return nil, f.err
	}
	occ := *f.opOcc
	occ.ID = id
	return &occ, nil
}

type published struct {
	topic string
	key   string
	value []byte
	delay time.Duration
}

type fakePublisher struct {
	mu       sync.Mutex
	messages []published
	err      error
}

func (f *fakePublisher) Publish(ctx context.Context, topic, key string, value []byte) error {
	return f.PublishAfter(ctx, topic, key, value, 0)
}

func (f *fakePublisher) PublishAfter(_ context.Context, topic, key string, value []byte, delay time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.messages = append(f.messages, published{topic: topic, key: key, value: value, delay: delay})
	return nil
}

func (f *fakePublisher) only() published {
	f.mu.Lock()
	defer f.mu.Unlock()
	Expect(f.messages).To(HaveLen(1))
	return f.messages[0]
}

func pollingMessage(req models.PollingRequest) bus.Message {
	data, err := json.Marshal(req)
	Expect(err).NotTo(HaveOccurred())
	return bus.Message{Topic: "polling", Key: req.RequestID, Value: data}
}

var _ = Describe("Reconciliation Loop", func() {
	var (
		ctx       context.Context
		cfg       Config
		reader    *fakeReader
		publisher *fakePublisher
		loop      *Loop
		request   models.PollingRequest
	)

	BeforeEach(func() {
		ctx = context.Background()
		cfg = DefaultConfig()
		cfg.PollingTopic = "polling"
		cfg.ResponseTopic = "responses"
		cfg.InitialBackoff = time.Second
		cfg.MaxBackoff = 8 * time.Second
		cfg.MaxAttempts = 5
		cfg.QueriesPerSecond = 0
		reader = &fakeReader{opOcc: &sol003.VnfLcmOpOcc{OperationState: sol003.OperationProcessing}}
		publisher = &fakePublisher{}
		loop = NewLoop(cfg, reader, publisher, logr.Discard())
		request = models.PollingRequest{
			DeploymentLocation: models.DeploymentTarget{Name: "vnfm-1"},
			RequestID:          "occ-1",
		}
	})

	Context("when the occurrence is still in progress", func() {
		DescribeTable("re-publishes the polling request with backoff",
			func(state sol003.LcmOperationState) {
				reader.opOcc.OperationState = state
				Expect(loop.Handle(ctx, pollingMessage(request))).To(Succeed())

				msg := publisher.only()
				Expect(msg.topic).To(Equal("polling"))
				Expect(msg.key).To(Equal("occ-1"))
				Expect(msg.delay).To(Equal(time.Second))

				var next models.PollingRequest
				Expect(json.Unmarshal(msg.value, &next)).To(Succeed())
				Expect(next.RequestID).To(Equal("occ-1"))
				Expect(next.DeploymentLocation.Name).To(Equal("vnfm-1"))
				Expect(next.Attempt).To(Equal(1))
			},
			Entry("STARTING", sol003.OperationStarting),
			Entry("PROCESSING", sol003.OperationProcessing),
			Entry("FAILED_TEMP", sol003.OperationFailedTemp),
			Entry("ROLLING_BACK", sol003.OperationRollingBack),
		)

		It("reports a failure once the attempt budget is spent", func() {
			request.Attempt = cfg.MaxAttempts - 1
			Expect(loop.Handle(ctx, pollingMessage(request))).To(Succeed())

			msg := publisher.only()
			Expect(msg.topic).To(Equal("responses"))
			var resp models.AsyncResponse
			Expect(json.Unmarshal(msg.value, &resp)).To(Succeed())
			Expect(resp.Status).To(Equal(models.ExecutionStatusFailed))
			Expect(resp.FailureDetails.FailureCode).To(Equal(models.FailureCodeInfrastructureError))
		})
	})

	Context("when the occurrence reaches a terminal state", func() {
		It("publishes a completed response with empty outputs", func() {
			reader.opOcc.OperationState = sol003.OperationCompleted
			Expect(loop.Handle(ctx, pollingMessage(request))).To(Succeed())

			msg := publisher.only()
			Expect(msg.topic).To(Equal("responses"))
			Expect(msg.key).To(Equal("occ-1"))
			var resp models.AsyncResponse
			Expect(json.Unmarshal(msg.value, &resp)).To(Succeed())
			Expect(resp.RequestID).To(Equal("occ-1"))
			Expect(resp.Status).To(Equal(models.ExecutionStatusComplete))
			Expect(resp.Outputs).To(BeEmpty())
			Expect(resp.FailureDetails).To(BeNil())
		})

		DescribeTable("publishes an infrastructure failure carrying the remote detail",
			func(state sol003.LcmOperationState) {
				reader.opOcc.OperationState = state
				reader.opOcc.Error = &sol003.ProblemDetails{Status: 500, Detail: "Out of quota"}
				Expect(loop.Handle(ctx, pollingMessage(request))).To(Succeed())

				var resp models.AsyncResponse
				Expect(json.Unmarshal(publisher.only().value, &resp)).To(Succeed())
				Expect(resp.Status).To(Equal(models.ExecutionStatusFailed))
				Expect(resp.FailureDetails.FailureCode).To(Equal(models.FailureCodeInfrastructureError))
				Expect(resp.FailureDetails.Description).To(Equal("Out of quota"))
			},
			Entry("FAILED", sol003.OperationFailed),
			Entry("ROLLED_BACK", sol003.OperationRolledBack),
		)
	})

	Context("when the VNFM query fails", func() {
		It("re-queues on transient errors", func() {
			reader.err = errors.New("connection refused")
			Expect(loop.Handle(ctx, pollingMessage(request))).To(Succeed())
			Expect(publisher.only().topic).To(Equal("polling"))
		})

		It("reports a missing occurrence as not found", func() {
			reader.err = &sol003.ProtocolError{Problem: sol003.ProblemDetails{Status: 404, Detail: "no such occurrence"}}
			Expect(loop.Handle(ctx, pollingMessage(request))).To(Succeed())

			var resp models.AsyncResponse
			Expect(json.Unmarshal(publisher.only().value, &resp)).To(Succeed())
			Expect(resp.FailureDetails.FailureCode).To(Equal(models.FailureCodeResourceNotFound))
		})

		It("reports configuration errors as internal failures", func() {
			reader.err = &credentials.ConfigError{Reason: "no vnfmServerUrl"}
			Expect(loop.Handle(ctx, pollingMessage(request))).To(Succeed())

			var resp models.AsyncResponse
			Expect(json.Unmarshal(publisher.only().value, &resp)).To(Succeed())
			Expect(resp.FailureDetails.FailureCode).To(Equal(models.FailureCodeInternalError))
		})
	})

	Context("when a message cannot be processed", func() {
		It("drops it without a dead-letter topic", func() {
			Expect(loop.Handle(ctx, bus.Message{Key: "bad", Value: []byte("not json")})).To(Succeed())
			Expect(publisher.messages).To(BeEmpty())
			Expect(reader.queries).To(BeEmpty())
		})

		It("forwards it to the dead-letter topic", func() {
			cfg.DeadLetterTopic = "dead"
			loop = NewLoop(cfg, reader, publisher, logr.Discard())

			Expect(loop.Handle(ctx, bus.Message{Key: "bad", Value: []byte(`{"attempt":1}`)})).To(Succeed())
			msg := publisher.only()
			Expect(msg.topic).To(Equal("dead"))
			Expect(string(msg.value)).To(Equal(`{"attempt":1}`))
		})

		It("keeps going when publishing fails", func() {
			publisher.err = errors.New("bus down")
			reader.opOcc.OperationState = sol003.OperationCompleted
			Expect(loop.Handle(ctx, pollingMessage(request))).To(Succeed())
		})
	})

	Describe("Backoff", func() {
		It("grows exponentially and is capped", func() {
			Expect(loop.Backoff(0)).To(Equal(time.Second))
			Expect(loop.Backoff(1)).To(Equal(2 * time.Second))
			Expect(loop.Backoff(2)).To(Equal(4 * time.Second))
			Expect(loop.Backoff(3)).To(Equal(8 * time.Second))
			Expect(loop.Backoff(10)).To(Equal(8 * time.Second))
			Expect(loop.Backoff(5000)).To(Equal(8 * time.Second))
		})
	})

	Describe("Config", func() {
		It("accepts the defaults", func() {
			Expect(DefaultConfig().Validate()).To(Succeed())
		})

		It("rejects a missing response topic", func() {
			c := DefaultConfig()
			c.ResponseTopic = ""
			Expect(c.Validate()).To(HaveOccurred())
		})
	})

	Describe("Run", func() {
		It("drives the loop from a bus", func() {
			memory := bus.NewMemoryBus(logr.Discard())
			defer memory.Close()
			reader.opOcc.OperationState = sol003.OperationCompleted

			runCtx, cancel := context.WithCancel(ctx)
			defer cancel()
			loop = NewLoop(cfg, reader, memory, logr.Discard())
			go loop.Run(runCtx, memory)

			msg := pollingMessage(request)
			Expect(memory.Publish(ctx, cfg.PollingTopic, msg.Key, msg.Value)).To(Succeed())

			responses := make(chan bus.Message, 1)
			go memory.Consume(runCtx, cfg.ResponseTopic, func(_ context.Context, m bus.Message) error {
				responses <- m
				return nil
			})
			Eventually(responses).Should(Receive(HaveField("Key", "occ-1")))
		})
	})
})
