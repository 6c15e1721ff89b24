package lcm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-logr/logr"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thc1006/nephoran-sol003-driver/internal/audit"
	"github.com/thc1006/nephoran-sol003-driver/internal/authclient"
	"github.com/thc1006/nephoran-sol003-driver/internal/credentials"
	"github.com/thc1006/nephoran-sol003-driver/internal/sol003"
	"github.com/thc1006/nephoran-sol003-driver/pkg/models"
)

type recorderStub struct {
	messages []audit.Message
}

func (r *recorderStub) RecordMessage(_ context.Context, msg audit.Message) {
	r.messages = append(r.messages, msg)
}

func newTestDriver(t *testing.T, router *mux.Router) (*Driver, models.DeploymentTarget, *recorderStub) {
	t.Helper()
	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	rec := &recorderStub{}
	cache := NewClientCache(authclient.DefaultOptions(), rec)
	t.Cleanup(cache.Close)

	target := models.DeploymentTarget{
		Name: "vnfm-1",
		Type: "vnfm",
		Properties: map[string]string{
			PropertyServerURL:                      server.URL,
			credentials.PropertyAuthenticationType: "BASIC",
			credentials.PropertyUsername:           "user",
			credentials.PropertyPassword:           "pass",
		},
	}
	return NewDriver(cache, logr.Discard()), target, rec
}

func TestDriver_CreateAndDeleteVnfInstance(t *testing.T) {
	router := mux.NewRouter()
	router.HandleFunc("/vnflcm/v2/vnf_instances", func(w http.ResponseWriter, r *http.Request) {
		user, _, _ := r.BasicAuth()
		assert.Equal(t, "user", user)
		assert.Equal(t, APIVersion, r.Header.Get("Version"))
		var req sol003.CreateVnfRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "vnfd-1", req.VnfdID)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(sol003.VnfInstance{ID: "vnf-1", VnfdID: req.VnfdID, InstantiationState: sol003.NotInstantiated})
	}).Methods(http.MethodPost)
	router.HandleFunc("/vnflcm/v2/vnf_instances/{id}", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "vnf-1", mux.Vars(r)["id"])
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodDelete)

	driver, target, rec := newTestDriver(t, router)
	ctx := context.Background()

	instance, err := driver.CreateVnfInstance(ctx, target, &sol003.CreateVnfRequest{VnfdID: "vnfd-1", VnfInstanceName: "test"})
	require.NoError(t, err)
	assert.Equal(t, "vnf-1", instance.ID)
	assert.Equal(t, sol003.NotInstantiated, instance.InstantiationState)

	require.NoError(t, driver.DeleteVnfInstance(ctx, target, "vnf-1"))
	assert.Len(t, rec.messages, 4)
}

func TestDriver_CreateWithoutBodyFails(t *testing.T) {
	router := mux.NewRouter()
	router.HandleFunc("/vnflcm/v2/vnf_instances", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	})

	driver, target, _ := newTestDriver(t, router)
	_, err := driver.CreateVnfInstance(context.Background(), target, &sol003.CreateVnfRequest{VnfdID: "vnfd-1"})
	var perr *sol003.ProtocolError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, "No response body", perr.Problem.Detail)
}

func TestDriver_DeleteTolerates200WithoutBody(t *testing.T) {
	router := mux.NewRouter()
	router.HandleFunc("/vnflcm/v2/vnf_instances/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	driver, target, _ := newTestDriver(t, router)
	assert.NoError(t, driver.DeleteVnfInstance(context.Background(), target, "vnf-1"))
}

func TestDriver_OperationsReturnOccurrenceID(t *testing.T) {
	router := mux.NewRouter()
	router.HandleFunc("/vnflcm/v2/vnf_instances/{id}/{task}", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		assert.NotEmpty(t, body)
		w.Header().Set("Location", "http://vnfm/vnflcm/v2/vnf_lcm_op_occs/"+mux.Vars(r)["task"]+"-occ")
		w.WriteHeader(http.StatusAccepted)
	}).Methods(http.MethodPost)

	driver, target, _ := newTestDriver(t, router)
	ctx := context.Background()

	calls := map[string]func() (string, error){
		TaskInstantiate: func() (string, error) {
			return driver.Instantiate(ctx, target, "vnf-1", &sol003.InstantiateVnfRequest{FlavourID: "default"})
		},
		TaskScale: func() (string, error) {
			return driver.Scale(ctx, target, "vnf-1", &sol003.ScaleVnfRequest{Type: sol003.ScaleOut, AspectID: "a"})
		},
		TaskScaleToLevel: func() (string, error) {
			return driver.ScaleToLevel(ctx, target, "vnf-1", &sol003.ScaleVnfToLevelRequest{InstantiationLevelID: "l1"})
		},
		TaskChangeFlavour: func() (string, error) {
			return driver.ChangeFlavour(ctx, target, "vnf-1", &sol003.ChangeVnfFlavourRequest{NewFlavourID: "big"})
		},
		TaskOperate: func() (string, error) {
			return driver.Operate(ctx, target, "vnf-1", &sol003.OperateVnfRequest{ChangeStateTo: sol003.Started})
		},
		TaskHeal: func() (string, error) {
			return driver.Heal(ctx, target, "vnf-1", &sol003.HealVnfRequest{Cause: "test"})
		},
		TaskChangeExtConnectivity: func() (string, error) {
			return driver.ChangeExtConnectivity(ctx, target, "vnf-1", &sol003.ChangeExtVnfConnectivityRequest{ExtVirtualLinks: []json.RawMessage{json.RawMessage(`{"id":"vl"}`)}})
		},
		TaskTerminate: func() (string, error) {
			return driver.Terminate(ctx, target, "vnf-1", &sol003.TerminateVnfRequest{TerminationType: sol003.TerminationForceful})
		},
		TaskChangeCurrentVnfPkg: func() (string, error) {
			return driver.ChangeCurrentVnfPkg(ctx, target, "vnf-1", &sol003.ChangeCurrentVnfPkgRequest{VnfdID: "vnfd-2"})
		},
	}

	for task, call := range calls {
		t.Run(task, func(t *testing.T) {
			id, err := call()
			require.NoError(t, err)
			assert.Equal(t, task+"-occ", id)
		})
	}
}

func TestDriver_OperationWithoutLocationFails(t *testing.T) {
	router := mux.NewRouter()
	router.HandleFunc("/vnflcm/v2/vnf_instances/{id}/instantiate", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	driver, target, _ := newTestDriver(t, router)
	_, err := driver.Instantiate(context.Background(), target, "vnf-1", &sol003.InstantiateVnfRequest{FlavourID: "default"})
	var perr *sol003.ProtocolError
	require.True(t, errors.As(err, &perr))
	assert.Contains(t, perr.Problem.Detail, "Location")
}

func TestDriver_OperationWithBodyFails(t *testing.T) {
	router := mux.NewRouter()
	router.HandleFunc("/vnflcm/v2/vnf_instances/{id}/terminate", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "/vnf_lcm_op_occs/1")
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte(`{"unexpected":true}`))
	})

	driver, target, _ := newTestDriver(t, router)
	_, err := driver.Terminate(context.Background(), target, "vnf-1", &sol003.TerminateVnfRequest{TerminationType: sol003.TerminationGraceful})
	var perr *sol003.ProtocolError
	assert.True(t, errors.As(err, &perr))
}

func TestDriver_ProblemDetailsAreNormalized(t *testing.T) {
	router := mux.NewRouter()
	router.HandleFunc("/vnflcm/v2/vnf_instances/{id}/heal", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/problem+json")
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"status":409,"title":"Conflict","detail":"VNF instance is not instantiated"}`))
	})

	driver, target, _ := newTestDriver(t, router)
	_, err := driver.Heal(context.Background(), target, "vnf-1", &sol003.HealVnfRequest{})
	var perr *sol003.ProtocolError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, http.StatusConflict, perr.StatusCode())
	assert.Equal(t, "VNF instance is not instantiated", perr.Problem.Detail)
}

func TestDriver_GetLcmOpOccAndTasks(t *testing.T) {
	router := mux.NewRouter()
	router.HandleFunc("/vnflcm/v2/vnf_lcm_op_occs/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id":             mux.Vars(r)["id"],
			"operationState": "PROCESSING",
			"operation":      "INSTANTIATE",
			"vnfInstanceId":  "vnf-1",
		})
	}).Methods(http.MethodGet)
	router.HandleFunc("/vnflcm/v2/vnf_lcm_op_occs/{id}/fail", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{"id": mux.Vars(r)["id"], "operationState": "FAILED"})
	}).Methods(http.MethodPost)
	router.HandleFunc("/vnflcm/v2/vnf_lcm_op_occs/{id}/{task}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	}).Methods(http.MethodPost)

	driver, target, _ := newTestDriver(t, router)
	ctx := context.Background()

	occ, err := driver.GetLcmOpOcc(ctx, target, "occ-1")
	require.NoError(t, err)
	assert.Equal(t, sol003.OperationProcessing, occ.OperationState)
	assert.Equal(t, sol003.OperationInstantiate, occ.Operation)

	assert.NoError(t, driver.RetryLcmOpOcc(ctx, target, "occ-1"))
	assert.NoError(t, driver.RollbackLcmOpOcc(ctx, target, "occ-1"))
	assert.NoError(t, driver.CancelLcmOpOcc(ctx, target, "occ-1", "GRACEFUL"))

	failed, err := driver.FailLcmOpOcc(ctx, target, "occ-1")
	require.NoError(t, err)
	assert.Equal(t, sol003.OperationFailed, failed.OperationState)
}

func TestDriver_Subscriptions(t *testing.T) {
	router := mux.NewRouter()
	router.HandleFunc("/vnflcm/v2/subscriptions", func(w http.ResponseWriter, r *http.Request) {
		var req sol003.LccnSubscriptionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(sol003.LccnSubscription{ID: "sub-1", CallbackURI: req.CallbackURI})
	}).Methods(http.MethodPost)
	router.HandleFunc("/vnflcm/v2/subscriptions/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}).Methods(http.MethodDelete)

	driver, target, _ := newTestDriver(t, router)
	ctx := context.Background()

	sub, err := driver.CreateLifecycleSubscription(ctx, target, &sol003.LccnSubscriptionRequest{CallbackURI: "http://driver/vnflcm/v2/notifications"})
	require.NoError(t, err)
	assert.Equal(t, "sub-1", sub.ID)
	assert.NoError(t, driver.DeleteLifecycleSubscription(ctx, target, "sub-1"))

	_, err = driver.QueryLcmOpOccs(ctx, target, "")
	assert.ErrorIs(t, err, sol003.ErrNotImplemented)
	_, err = driver.QueryLifecycleSubscriptions(ctx, target, "")
	assert.ErrorIs(t, err, sol003.ErrNotImplemented)
	_, err = driver.GetLifecycleSubscription(ctx, target, "sub-1")
	assert.ErrorIs(t, err, sol003.ErrNotImplemented)
}

func TestDriver_TargetWithoutServerURL(t *testing.T) {
	driver := NewDriver(NewClientCache(authclient.DefaultOptions(), nil), logr.Discard())
	_, err := driver.GetVnfInstance(context.Background(), models.DeploymentTarget{Name: "broken"}, "vnf-1")
	var cfgErr *credentials.ConfigError
	assert.True(t, errors.As(err, &cfgErr))
}
