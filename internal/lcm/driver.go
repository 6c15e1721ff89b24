// Package lcm implements the SOL003 VNF lifecycle management driver.
package lcm

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-logr/logr"

	"github.com/thc1006/nephoran-sol003-driver/internal/audit"
	"github.com/thc1006/nephoran-sol003-driver/internal/authclient"
	"github.com/thc1006/nephoran-sol003-driver/internal/credentials"
	"github.com/thc1006/nephoran-sol003-driver/internal/sol003"
	"github.com/thc1006/nephoran-sol003-driver/pkg/models"
)

const (
	// PropertyServerURL is the deployment target property holding the VNFM
	// API root, e.g. https://vnfm.example.com.
	PropertyServerURL = "vnfmServerUrl"

	DefaultAPIRoot = "/vnflcm/v2"

	// APIVersion is sent in the Version header required by SOL013.
	APIVersion = "2.0.0"
)

// Task resource names appended to /vnf_instances/{id}.
const (
	TaskInstantiate           = "instantiate"
	TaskScale                 = "scale"
	TaskScaleToLevel          = "scale_to_level"
	TaskChangeFlavour         = "change_flavour"
	TaskOperate               = "operate"
	TaskHeal                  = "heal"
	TaskChangeExtConnectivity = "change_ext_conn"
	TaskTerminate             = "terminate"
	TaskChangeCurrentVnfPkg   = "change_vnfpkg"
)

// ClientProvider returns the authenticated client for a target.
type ClientProvider interface {
	Get(target models.DeploymentTarget) (*authclient.Client, error)
}

// NewClientCache builds a client cache whose clients normalize SOL003 errors
// and record every exchange.
func NewClientCache(opts authclient.Options, recorder audit.Recorder) *authclient.Cache {
	opts.ErrorHandler = sol003.NormalizeError
	if recorder != nil {
		opts.Middleware = append(opts.Middleware, audit.Middleware(recorder))
	}
	return authclient.NewCache(opts)
}

// Driver performs SOL003 LCM exchanges against the VNFM of a target.
type Driver struct {
	clients ClientProvider
	apiRoot string
	log     logr.Logger
}

// NewDriver creates a driver using the default API root.
func NewDriver(clients ClientProvider, log logr.Logger) *Driver {
	return &Driver{
		clients: clients,
		apiRoot: DefaultAPIRoot,
		log:     log.WithName("lcm-driver"),
	}
}

// WithAPIRoot overrides the API root appended to the VNFM server URL.
func (d *Driver) WithAPIRoot(root string) *Driver {
	d.apiRoot = "/" + strings.Trim(root, "/")
	return d
}

// CreateVnfInstance creates a VNF instance resource (201 with body).
func (d *Driver) CreateVnfInstance(ctx context.Context, target models.DeploymentTarget, req *sol003.CreateVnfRequest) (*sol003.VnfInstance, error) {
	resp, err := d.exchange(ctx, target, http.MethodPost, req, "vnf_instances")
	if err != nil {
		return nil, fmt.Errorf("create VNF instance failed: %w", err)
	}
	if err := sol003.CheckResponse(d.log, resp, http.StatusCreated, true); err != nil {
		return nil, err
	}
	var instance sol003.VnfInstance
	if err := sol003.DecodeBody(resp, &instance); err != nil {
		return nil, err
	}
	d.log.Info("Created VNF instance", "target", target.Name, "vnfInstanceId", instance.ID)
	return &instance, nil
}

// GetVnfInstance reads a VNF instance resource (200 with body).
func (d *Driver) GetVnfInstance(ctx context.Context, target models.DeploymentTarget, vnfInstanceID string) (*sol003.VnfInstance, error) {
	resp, err := d.exchange(ctx, target, http.MethodGet, nil, "vnf_instances", vnfInstanceID)
	if err != nil {
		return nil, fmt.Errorf("get VNF instance %s failed: %w", vnfInstanceID, err)
	}
	if err := sol003.CheckResponse(d.log, resp, http.StatusOK, true); err != nil {
		return nil, err
	}
	var instance sol003.VnfInstance
	if err := sol003.DecodeBody(resp, &instance); err != nil {
		return nil, err
	}
	return &instance, nil
}

// DeleteVnfInstance deletes a VNF instance resource (204 without body).
func (d *Driver) DeleteVnfInstance(ctx context.Context, target models.DeploymentTarget, vnfInstanceID string) error {
	resp, err := d.exchange(ctx, target, http.MethodDelete, nil, "vnf_instances", vnfInstanceID)
	if err != nil {
		return fmt.Errorf("delete VNF instance %s failed: %w", vnfInstanceID, err)
	}
	if err := sol003.CheckResponse(d.log, resp, http.StatusNoContent, false); err != nil {
		return err
	}
	d.log.Info("Deleted VNF instance", "target", target.Name, "vnfInstanceId", vnfInstanceID)
	return nil
}

// Instantiate starts the instantiate operation and returns the occurrence id.
func (d *Driver) Instantiate(ctx context.Context, target models.DeploymentTarget, vnfInstanceID string, req *sol003.InstantiateVnfRequest) (string, error) {
	return d.submitTask(ctx, target, vnfInstanceID, TaskInstantiate, req)
}

// Scale starts a scale operation.
func (d *Driver) Scale(ctx context.Context, target models.DeploymentTarget, vnfInstanceID string, req *sol003.ScaleVnfRequest) (string, error) {
	return d.submitTask(ctx, target, vnfInstanceID, TaskScale, req)
}

// ScaleToLevel starts a scale to level operation.
func (d *Driver) ScaleToLevel(ctx context.Context, target models.DeploymentTarget, vnfInstanceID string, req *sol003.ScaleVnfToLevelRequest) (string, error) {
	return d.submitTask(ctx, target, vnfInstanceID, TaskScaleToLevel, req)
}

// ChangeFlavour starts a change flavour operation.
func (d *Driver) ChangeFlavour(ctx context.Context, target models.DeploymentTarget, vnfInstanceID string, req *sol003.ChangeVnfFlavourRequest) (string, error) {
	return d.submitTask(ctx, target, vnfInstanceID, TaskChangeFlavour, req)
}

// Operate starts an operate (start/stop) operation.
func (d *Driver) Operate(ctx context.Context, target models.DeploymentTarget, vnfInstanceID string, req *sol003.OperateVnfRequest) (string, error) {
	return d.submitTask(ctx, target, vnfInstanceID, TaskOperate, req)
}

// Heal starts a heal operation.
func (d *Driver) Heal(ctx context.Context, target models.DeploymentTarget, vnfInstanceID string, req *sol003.HealVnfRequest) (string, error) {
	return d.submitTask(ctx, target, vnfInstanceID, TaskHeal, req)
}

// ChangeExtConnectivity starts a change external connectivity operation.
func (d *Driver) ChangeExtConnectivity(ctx context.Context, target models.DeploymentTarget, vnfInstanceID string, req *sol003.ChangeExtVnfConnectivityRequest) (string, error) {
	return d.submitTask(ctx, target, vnfInstanceID, TaskChangeExtConnectivity, req)
}

// Terminate starts a terminate operation.
func (d *Driver) Terminate(ctx context.Context, target models.DeploymentTarget, vnfInstanceID string, req *sol003.TerminateVnfRequest) (string, error) {
	return d.submitTask(ctx, target, vnfInstanceID, TaskTerminate, req)
}

// ChangeCurrentVnfPkg starts a change current VNF package operation.
func (d *Driver) ChangeCurrentVnfPkg(ctx context.Context, target models.DeploymentTarget, vnfInstanceID string, req *sol003.ChangeCurrentVnfPkgRequest) (string, error) {
	return d.submitTask(ctx, target, vnfInstanceID, TaskChangeCurrentVnfPkg, req)
}

// submitTask posts a task and expects 202 without body and a Location
// header naming the new operation occurrence.
func (d *Driver) submitTask(ctx context.Context, target models.DeploymentTarget, vnfInstanceID, task string, body interface{}) (string, error) {
	resp, err := d.exchange(ctx, target, http.MethodPost, body, "vnf_instances", vnfInstanceID, task)
	if err != nil {
		return "", fmt.Errorf("%s of VNF instance %s failed: %w", task, vnfInstanceID, err)
	}
	if err := sol003.CheckResponse(d.log, resp, http.StatusAccepted, false); err != nil {
		return "", err
	}
	opOccID, err := sol003.LocationID(resp)
	if err != nil {
		return "", err
	}
	d.log.Info("Submitted VNF LCM operation", "target", target.Name, "vnfInstanceId", vnfInstanceID,
		"operation", task, "vnfLcmOpOccId", opOccID)
	return opOccID, nil
}

// GetLcmOpOcc reads an operation occurrence (200 with body).
func (d *Driver) GetLcmOpOcc(ctx context.Context, target models.DeploymentTarget, opOccID string) (*sol003.VnfLcmOpOcc, error) {
	resp, err := d.exchange(ctx, target, http.MethodGet, nil, "vnf_lcm_op_occs", opOccID)
	if err != nil {
		return nil, fmt.Errorf("get VNF LCM operation occurrence %s failed: %w", opOccID, err)
	}
	if err := sol003.CheckResponse(d.log, resp, http.StatusOK, true); err != nil {
		return nil, err
	}
	var opOcc sol003.VnfLcmOpOcc
	if err := sol003.DecodeBody(resp, &opOcc); err != nil {
		return nil, err
	}
	return &opOcc, nil
}

// RollbackLcmOpOcc rolls back a FAILED_TEMP occurrence.
func (d *Driver) RollbackLcmOpOcc(ctx context.Context, target models.DeploymentTarget, opOccID string) error {
	return d.opOccTask(ctx, target, opOccID, "rollback")
}

// RetryLcmOpOcc retries a FAILED_TEMP occurrence.
func (d *Driver) RetryLcmOpOcc(ctx context.Context, target models.DeploymentTarget, opOccID string) error {
	return d.opOccTask(ctx, target, opOccID, "retry")
}

// CancelLcmOpOcc cancels an in-progress occurrence.
func (d *Driver) CancelLcmOpOcc(ctx context.Context, target models.DeploymentTarget, opOccID string, cancelMode string) error {
	var body interface{}
	if cancelMode != "" {
		body = map[string]string{"cancelMode": cancelMode}
	}
	resp, err := d.exchange(ctx, target, http.MethodPost, body, "vnf_lcm_op_occs", opOccID, "cancel")
	if err != nil {
		return fmt.Errorf("cancel of VNF LCM operation occurrence %s failed: %w", opOccID, err)
	}
	return sol003.CheckResponse(d.log, resp, http.StatusAccepted, false)
}

// FailLcmOpOcc marks a FAILED_TEMP occurrence as FAILED and returns it.
func (d *Driver) FailLcmOpOcc(ctx context.Context, target models.DeploymentTarget, opOccID string) (*sol003.VnfLcmOpOcc, error) {
	resp, err := d.exchange(ctx, target, http.MethodPost, nil, "vnf_lcm_op_occs", opOccID, "fail")
	if err != nil {
		return nil, fmt.Errorf("fail of VNF LCM operation occurrence %s failed: %w", opOccID, err)
	}
	if err := sol003.CheckResponse(d.log, resp, http.StatusOK, true); err != nil {
		return nil, err
	}
	var opOcc sol003.VnfLcmOpOcc
	if err := sol003.DecodeBody(resp, &opOcc); err != nil {
		return nil, err
	}
	return &opOcc, nil
}

func (d *Driver) opOccTask(ctx context.Context, target models.DeploymentTarget, opOccID, task string) error {
	resp, err := d.exchange(ctx, target, http.MethodPost, nil, "vnf_lcm_op_occs", opOccID, task)
	if err != nil {
		return fmt.Errorf("%s of VNF LCM operation occurrence %s failed: %w", task, opOccID, err)
	}
	return sol003.CheckResponse(d.log, resp, http.StatusAccepted, false)
}

// CreateLifecycleSubscription subscribes to lifecycle notifications (201 with body).
func (d *Driver) CreateLifecycleSubscription(ctx context.Context, target models.DeploymentTarget, req *sol003.LccnSubscriptionRequest) (*sol003.LccnSubscription, error) {
	resp, err := d.exchange(ctx, target, http.MethodPost, req, "subscriptions")
	if err != nil {
		return nil, fmt.Errorf("create lifecycle subscription failed: %w", err)
	}
	if err := sol003.CheckResponse(d.log, resp, http.StatusCreated, true); err != nil {
		return nil, err
	}
	var sub sol003.LccnSubscription
	if err := sol003.DecodeBody(resp, &sub); err != nil {
		return nil, err
	}
	d.log.Info("Created lifecycle subscription", "target", target.Name, "subscriptionId", sub.ID)
	return &sub, nil
}

// DeleteLifecycleSubscription removes a subscription (204 without body).
func (d *Driver) DeleteLifecycleSubscription(ctx context.Context, target models.DeploymentTarget, subscriptionID string) error {
	resp, err := d.exchange(ctx, target, http.MethodDelete, nil, "subscriptions", subscriptionID)
	if err != nil {
		return fmt.Errorf("delete lifecycle subscription %s failed: %w", subscriptionID, err)
	}
	return sol003.CheckResponse(d.log, resp, http.StatusNoContent, false)
}

// QueryLcmOpOccs is left to the caller.
func (d *Driver) QueryLcmOpOccs(context.Context, models.DeploymentTarget, string) ([]sol003.VnfLcmOpOcc, error) {
	return nil, sol003.ErrNotImplemented
}

// QueryLifecycleSubscriptions is left to the caller.
func (d *Driver) QueryLifecycleSubscriptions(context.Context, models.DeploymentTarget, string) ([]sol003.LccnSubscription, error) {
	return nil, sol003.ErrNotImplemented
}

// GetLifecycleSubscription is left to the caller.
func (d *Driver) GetLifecycleSubscription(context.Context, models.DeploymentTarget, string) (*sol003.LccnSubscription, error) {
	return nil, sol003.ErrNotImplemented
}

func (d *Driver) exchange(ctx context.Context, target models.DeploymentTarget, method string, body interface{}, segments ...string) (*authclient.Response, error) {
	endpoint, err := d.endpoint(target, segments...)
	if err != nil {
		return nil, err
	}
	client, err := d.clients.Get(target)
	if err != nil {
		return nil, err
	}
	req, err := sol003.NewJSONRequest(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Version", APIVersion)
	return client.Do(req)
}

func (d *Driver) endpoint(target models.DeploymentTarget, segments ...string) (string, error) {
	base := strings.TrimRight(target.Property(PropertyServerURL), "/")
	if base == "" {
		return "", &credentials.ConfigError{
			Reason: fmt.Sprintf("deployment target %q has no %s property", target.Name, PropertyServerURL),
		}
	}
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	return base + d.apiRoot + "/" + strings.Join(escaped, "/"), nil
}
