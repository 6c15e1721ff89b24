// Package execution turns execute-lifecycle requests into SOL003 driver
// calls and hands asynchronous operations to the reconciliation loop.
package execution

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/thc1006/nephoran-sol003-driver/internal/bus"
	"github.com/thc1006/nephoran-sol003-driver/internal/sol003"
	"github.com/thc1006/nephoran-sol003-driver/internal/templates"
	"github.com/thc1006/nephoran-sol003-driver/pkg/models"
)

// Lifecycle names accepted by Execute.
const (
	LifecycleCreate                = "Create"
	LifecycleDelete                = "Delete"
	LifecycleInstall               = "Install"
	LifecycleScale                 = "Scale"
	LifecycleScaleToLevel          = "ScaleToLevel"
	LifecycleChangeFlavour         = "ChangeFlavour"
	LifecycleStart                 = "Start"
	LifecycleStop                  = "Stop"
	LifecycleHeal                  = "Heal"
	LifecycleChangeExtConnectivity = "ChangeExtConnectivity"
	LifecycleUninstall             = "Uninstall"
	LifecycleUpgrade               = "Upgrade"
)

// PropertyVnfInstanceID names the VNF instance an operation applies to.
// Create reports it as an output.
const PropertyVnfInstanceID = "vnfInstanceId"

var executionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sol003_executions_total",
	Help: "Execute lifecycle requests by lifecycle and result",
}, []string{"lifecycle", "result"})

// LifecycleDriver is the subset of the LCM driver used by the executor.
type LifecycleDriver interface {
	CreateVnfInstance(ctx context.Context, target models.DeploymentTarget, req *sol003.CreateVnfRequest) (*sol003.VnfInstance, error)
	DeleteVnfInstance(ctx context.Context, target models.DeploymentTarget, vnfInstanceID string) error
	Instantiate(ctx context.Context, target models.DeploymentTarget, vnfInstanceID string, req *sol003.InstantiateVnfRequest) (string, error)
	Scale(ctx context.Context, target models.DeploymentTarget, vnfInstanceID string, req *sol003.ScaleVnfRequest) (string, error)
	ScaleToLevel(ctx context.Context, target models.DeploymentTarget, vnfInstanceID string, req *sol003.ScaleVnfToLevelRequest) (string, error)
	ChangeFlavour(ctx context.Context, target models.DeploymentTarget, vnfInstanceID string, req *sol003.ChangeVnfFlavourRequest) (string, error)
	Operate(ctx context.Context, target models.DeploymentTarget, vnfInstanceID string, req *sol003.OperateVnfRequest) (string, error)
	Heal(ctx context.Context, target models.DeploymentTarget, vnfInstanceID string, req *sol003.HealVnfRequest) (string, error)
	ChangeExtConnectivity(ctx context.Context, target models.DeploymentTarget, vnfInstanceID string, req *sol003.ChangeExtVnfConnectivityRequest) (string, error)
	Terminate(ctx context.Context, target models.DeploymentTarget, vnfInstanceID string, req *sol003.TerminateVnfRequest) (string, error)
	ChangeCurrentVnfPkg(ctx context.Context, target models.DeploymentTarget, vnfInstanceID string, req *sol003.ChangeCurrentVnfPkgRequest) (string, error)
}

// UnsupportedLifecycleError names a lifecycle with no SOL003 mapping.
type UnsupportedLifecycleError struct {
	Lifecycle string
}

func (e *UnsupportedLifecycleError) Error() string {
	return fmt.Sprintf("unsupported lifecycle %q", e.Lifecycle)
}

// InvalidRequestError is an execution request that cannot be turned into a
// SOL003 request.
type InvalidRequestError struct {
	Reason string
	Err    error
}

func (e *InvalidRequestError) Error() string {
	if e.Err != nil {
		return e.Reason + ": " + e.Err.Error()
	}
	return e.Reason
}

func (e *InvalidRequestError) Unwrap() error {
	return e.Err
}

// Topics names the bus topics the executor publishes to.
type Topics struct {
	Polling  string
	Response string
}

// task submits an asynchronous operation and returns its occurrence id.
type task func(ctx context.Context, target models.DeploymentTarget, vnfInstanceID string, body []byte) (string, error)

func submit[T any](call func(context.Context, models.DeploymentTarget, string, *T) (string, error)) task {
	return func(ctx context.Context, target models.DeploymentTarget, vnfInstanceID string, body []byte) (string, error) {
		var req T
		if err := json.Unmarshal(body, &req); err != nil {
			return "", &InvalidRequestError{Reason: "rendered request does not match the SOL003 schema", Err: err}
		}
		return call(ctx, target, vnfInstanceID, &req)
	}
}

// Executor runs execute-lifecycle requests.
type Executor struct {
	driver    LifecycleDriver
	engine    *templates.Engine
	publisher bus.Publisher
	topics    Topics
	tasks     map[string]task
	log       logr.Logger
}

// NewExecutor wires the lifecycle table to driver.
func NewExecutor(driver LifecycleDriver, engine *templates.Engine, publisher bus.Publisher, topics Topics, log logr.Logger) *Executor {
	return &Executor{
		driver:    driver,
		engine:    engine,
		publisher: publisher,
		topics:    topics,
		log:       log.WithName("executor"),
		tasks: map[string]task{
			LifecycleInstall:               submit(driver.Instantiate),
			LifecycleScale:                 submit(driver.Scale),
			LifecycleScaleToLevel:          submit(driver.ScaleToLevel),
			LifecycleChangeFlavour:         submit(driver.ChangeFlavour),
			LifecycleStart:                 submit(driver.Operate),
			LifecycleStop:                  submit(driver.Operate),
			LifecycleHeal:                  submit(driver.Heal),
			LifecycleChangeExtConnectivity: submit(driver.ChangeExtConnectivity),
			LifecycleUninstall:             submit(driver.Terminate),
			LifecycleUpgrade:               submit(driver.ChangeCurrentVnfPkg),
		},
	}
}

// Lifecycles lists the supported lifecycle names.
func (e *Executor) Lifecycles() []string {
	names := []string{LifecycleCreate, LifecycleDelete}
	for name := range e.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Execute runs req. Create and Delete complete synchronously and their
// response is published immediately under a fresh request id. Every other
// lifecycle is polled by the reconciliation loop under its occurrence id.
func (e *Executor) Execute(ctx context.Context, req *models.ExecutionRequest) (*models.ExecutionAccepted, error) {
	log := e.log.WithValues("lifecycle", req.LifecycleName, "target", req.DeploymentLocation.Name)

	accepted, err := e.execute(ctx, req)
	if err != nil {
		executionsTotal.WithLabelValues(req.LifecycleName, "error").Inc()
		log.Error(err, "Lifecycle execution failed")
		return nil, err
	}
	executionsTotal.WithLabelValues(req.LifecycleName, "accepted").Inc()
	log.Info("Lifecycle execution accepted", "requestId", accepted.RequestID)
	return accepted, nil
}

func (e *Executor) execute(ctx context.Context, req *models.ExecutionRequest) (*models.ExecutionAccepted, error) {
	switch req.LifecycleName {
	case LifecycleCreate:
		return e.create(ctx, req)
	case LifecycleDelete:
		return e.delete(ctx, req)
	}

	run, ok := e.tasks[req.LifecycleName]
	if !ok {
		return nil, &UnsupportedLifecycleError{Lifecycle: req.LifecycleName}
	}
	vnfInstanceID, err := requireProperty(req, PropertyVnfInstanceID)
	if err != nil {
		return nil, err
	}
	body, err := e.render(req)
	if err != nil {
		return nil, err
	}
	opOccID, err := run(ctx, req.DeploymentLocation, vnfInstanceID, body)
	if err != nil {
		return nil, err
	}

	polling, err := json.Marshal(models.PollingRequest{DeploymentLocation: req.DeploymentLocation, RequestID: opOccID})
	if err != nil {
		return nil, fmt.Errorf("failed to encode polling request: %w", err)
	}
	if err := e.publisher.Publish(ctx, e.topics.Polling, opOccID, polling); err != nil {
		return nil, fmt.Errorf("failed to enqueue polling request for %s: %w", opOccID, err)
	}
	return &models.ExecutionAccepted{RequestID: opOccID}, nil
}

func (e *Executor) create(ctx context.Context, req *models.ExecutionRequest) (*models.ExecutionAccepted, error) {
	body, err := e.render(req)
	if err != nil {
		return nil, err
	}
	var createReq sol003.CreateVnfRequest
	if err := json.Unmarshal(body, &createReq); err != nil {
		return nil, &InvalidRequestError{Reason: "rendered request does not match the SOL003 schema", Err: err}
	}
	instance, err := e.driver.CreateVnfInstance(ctx, req.DeploymentLocation, &createReq)
	if err != nil {
		return nil, err
	}
	return e.complete(ctx, map[string]string{
		PropertyVnfInstanceID: instance.ID,
		"vnfInstanceName":     instance.VnfInstanceName,
	})
}

func (e *Executor) delete(ctx context.Context, req *models.ExecutionRequest) (*models.ExecutionAccepted, error) {
	vnfInstanceID, err := requireProperty(req, PropertyVnfInstanceID)
	if err != nil {
		return nil, err
	}
	if err := e.driver.DeleteVnfInstance(ctx, req.DeploymentLocation, vnfInstanceID); err != nil {
		return nil, err
	}
	return e.complete(ctx, nil)
}

// complete publishes a successful response for a synchronous lifecycle.
func (e *Executor) complete(ctx context.Context, outputs map[string]string) (*models.ExecutionAccepted, error) {
	requestID := uuid.NewString()
	payload, err := json.Marshal(models.NewCompletedResponse(requestID, outputs))
	if err != nil {
		return nil, fmt.Errorf("failed to encode async response: %w", err)
	}
	if err := e.publisher.Publish(ctx, e.topics.Response, requestID, payload); err != nil {
		return nil, fmt.Errorf("failed to publish async response: %w", err)
	}
	return &models.ExecutionAccepted{RequestID: requestID}, nil
}

func (e *Executor) render(req *models.ExecutionRequest) ([]byte, error) {
	body, err := e.engine.Render(templates.Name(req.LifecycleName), templates.NewData(req))
	if err != nil {
		return nil, &InvalidRequestError{Reason: "failed to build the SOL003 request", Err: err}
	}
	return body, nil
}

func requireProperty(req *models.ExecutionRequest, name string) (string, error) {
	v := req.Properties.String(name)
	if v == "" {
		return "", &InvalidRequestError{Reason: fmt.Sprintf("property %s is required for lifecycle %s", name, req.LifecycleName)}
	}
	return v, nil
}
