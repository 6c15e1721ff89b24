// Package sol003 holds the ETSI GS NFV-SOL 003 data structures and the
// helpers shared by the drivers talking to a VNFM or grant provider.
package sol003

import (
	"encoding/json"
	"time"
)

// Link is a hyperlink to a related resource.
type Link struct {
	Href string `json:"href"`
}

// InstantiationState of a VNF instance.
type InstantiationState string

const (
	NotInstantiated InstantiationState = "NOT_INSTANTIATED"
	Instantiated    InstantiationState = "INSTANTIATED"
)

// VnfInstance is the VNFM's view of one VNF instance.
type VnfInstance struct {
	ID                     string                 `json:"id"`
	VnfInstanceName        string                 `json:"vnfInstanceName,omitempty"`
	VnfInstanceDescription string                 `json:"vnfInstanceDescription,omitempty"`
	VnfdID                 string                 `json:"vnfdId"`
	VnfProvider            string                 `json:"vnfProvider,omitempty"`
	VnfProductName         string                 `json:"vnfProductName,omitempty"`
	VnfSoftwareVersion     string                 `json:"vnfSoftwareVersion,omitempty"`
	VnfdVersion            string                 `json:"vnfdVersion,omitempty"`
	InstantiationState     InstantiationState     `json:"instantiationState,omitempty"`
	InstantiatedVnfInfo    json.RawMessage        `json:"instantiatedVnfInfo,omitempty"`
	VimConnectionInfo      map[string]interface{} `json:"vimConnectionInfo,omitempty"`
	Metadata               map[string]interface{} `json:"metadata,omitempty"`
	Extensions             map[string]interface{} `json:"extensions,omitempty"`
	Links                  map[string]Link        `json:"_links,omitempty"`
}

// CreateVnfRequest creates a VNF instance resource.
type CreateVnfRequest struct {
	VnfdID                 string                 `json:"vnfdId"`
	VnfInstanceName        string                 `json:"vnfInstanceName,omitempty"`
	VnfInstanceDescription string                 `json:"vnfInstanceDescription,omitempty"`
	Metadata               map[string]interface{} `json:"metadata,omitempty"`
}

// InstantiateVnfRequest is the body of the instantiate task.
type InstantiateVnfRequest struct {
	FlavourID              string                 `json:"flavourId"`
	InstantiationLevelID   string                 `json:"instantiationLevelId,omitempty"`
	ExtVirtualLinks        []json.RawMessage      `json:"extVirtualLinks,omitempty"`
	ExtManagedVirtualLinks []json.RawMessage      `json:"extManagedVirtualLinks,omitempty"`
	VimConnectionInfo      map[string]interface{} `json:"vimConnectionInfo,omitempty"`
	LocalizationLanguage   string                 `json:"localizationLanguage,omitempty"`
	AdditionalParams       map[string]interface{} `json:"additionalParams,omitempty"`
	Extensions             map[string]interface{} `json:"extensions,omitempty"`
}

// ScaleType is the direction of a scale operation.
type ScaleType string

const (
	ScaleOut ScaleType = "SCALE_OUT"
	ScaleIn  ScaleType = "SCALE_IN"
)

// ScaleVnfRequest is the body of the scale task.
type ScaleVnfRequest struct {
	Type             ScaleType              `json:"type"`
	AspectID         string                 `json:"aspectId"`
	NumberOfSteps    int                    `json:"numberOfSteps,omitempty"`
	AdditionalParams map[string]interface{} `json:"additionalParams,omitempty"`
}

// ScaleInfo is the target level of one scaling aspect.
type ScaleInfo struct {
	AspectID   string `json:"aspectId"`
	ScaleLevel int    `json:"scaleLevel"`
}

// ScaleVnfToLevelRequest is the body of the scale_to_level task.
type ScaleVnfToLevelRequest struct {
	InstantiationLevelID string                 `json:"instantiationLevelId,omitempty"`
	ScaleInfo            []ScaleInfo            `json:"scaleInfo,omitempty"`
	AdditionalParams     map[string]interface{} `json:"additionalParams,omitempty"`
}

// ChangeVnfFlavourRequest is the body of the change_flavour task.
type ChangeVnfFlavourRequest struct {
	NewFlavourID           string                 `json:"newFlavourId"`
	InstantiationLevelID   string                 `json:"instantiationLevelId,omitempty"`
	ExtVirtualLinks        []json.RawMessage      `json:"extVirtualLinks,omitempty"`
	ExtManagedVirtualLinks []json.RawMessage      `json:"extManagedVirtualLinks,omitempty"`
	VimConnectionInfo      map[string]interface{} `json:"vimConnectionInfo,omitempty"`
	AdditionalParams       map[string]interface{} `json:"additionalParams,omitempty"`
	Extensions             map[string]interface{} `json:"extensions,omitempty"`
}

// OperationalState requested by an operate task.
type OperationalState string

const (
	Started OperationalState = "STARTED"
	Stopped OperationalState = "STOPPED"
)

// OperateVnfRequest is the body of the operate task.
type OperateVnfRequest struct {
	ChangeStateTo       OperationalState       `json:"changeStateTo"`
	StopType            string                 `json:"stopType,omitempty"`
	GracefulStopTimeout int                    `json:"gracefulStopTimeout,omitempty"`
	AdditionalParams    map[string]interface{} `json:"additionalParams,omitempty"`
}

// HealVnfRequest is the body of the heal task.
type HealVnfRequest struct {
	VnfcInstanceID   []string               `json:"vnfcInstanceId,omitempty"`
	Cause            string                 `json:"cause,omitempty"`
	AdditionalParams map[string]interface{} `json:"additionalParams,omitempty"`
}

// ChangeExtVnfConnectivityRequest is the body of the change_ext_conn task.
type ChangeExtVnfConnectivityRequest struct {
	ExtVirtualLinks   []json.RawMessage      `json:"extVirtualLinks"`
	VimConnectionInfo map[string]interface{} `json:"vimConnectionInfo,omitempty"`
	AdditionalParams  map[string]interface{} `json:"additionalParams,omitempty"`
}

// TerminationType of a terminate task.
type TerminationType string

const (
	TerminationForceful TerminationType = "FORCEFUL"
	TerminationGraceful TerminationType = "GRACEFUL"
)

// TerminateVnfRequest is the body of the terminate task.
type TerminateVnfRequest struct {
	TerminationType            TerminationType        `json:"terminationType"`
	GracefulTerminationTimeout int                    `json:"gracefulTerminationTimeout,omitempty"`
	AdditionalParams           map[string]interface{} `json:"additionalParams,omitempty"`
}

// ChangeCurrentVnfPkgRequest is the body of the change_vnfpkg task.
type ChangeCurrentVnfPkgRequest struct {
	VnfdID                 string                 `json:"vnfdId"`
	ExtVirtualLinks        []json.RawMessage      `json:"extVirtualLinks,omitempty"`
	ExtManagedVirtualLinks []json.RawMessage      `json:"extManagedVirtualLinks,omitempty"`
	VimConnectionInfo      map[string]interface{} `json:"vimConnectionInfo,omitempty"`
	AdditionalParams       map[string]interface{} `json:"additionalParams,omitempty"`
	Extensions             map[string]interface{} `json:"extensions,omitempty"`
}

// LcmOperationState is the state of an operation occurrence.
type LcmOperationState string

const (
	OperationStarting    LcmOperationState = "STARTING"
	OperationProcessing  LcmOperationState = "PROCESSING"
	OperationCompleted   LcmOperationState = "COMPLETED"
	OperationFailedTemp  LcmOperationState = "FAILED_TEMP"
	OperationFailed      LcmOperationState = "FAILED"
	OperationRollingBack LcmOperationState = "ROLLING_BACK"
	OperationRolledBack  LcmOperationState = "ROLLED_BACK"
)

// IsTerminal reports whether no further transition will happen.
// FAILED_TEMP is not terminal: it can still be retried or rolled back.
func (s LcmOperationState) IsTerminal() bool {
	switch s {
	case OperationCompleted, OperationFailed, OperationRolledBack:
		return true
	}
	return false
}

// LcmOperationType names the LCM operation behind an occurrence.
type LcmOperationType string

const (
	OperationInstantiate      LcmOperationType = "INSTANTIATE"
	OperationScale            LcmOperationType = "SCALE"
	OperationScaleToLevel     LcmOperationType = "SCALE_TO_LEVEL"
	OperationChangeFlavour    LcmOperationType = "CHANGE_FLAVOUR"
	OperationTerminate        LcmOperationType = "TERMINATE"
	OperationHeal             LcmOperationType = "HEAL"
	OperationOperate          LcmOperationType = "OPERATE"
	OperationChangeExtConn    LcmOperationType = "CHANGE_EXT_CONN"
	OperationModifyInfo       LcmOperationType = "MODIFY_INFO"
	OperationCreateSnapshot   LcmOperationType = "CREATE_SNAPSHOT"
	OperationRevertToSnapshot LcmOperationType = "REVERT_TO_SNAPSHOT"
	OperationChangeVnfPkg     LcmOperationType = "CHANGE_VNFPKG"
)

// VnfLcmOpOcc is an operation occurrence as reported by the VNFM.
type VnfLcmOpOcc struct {
	ID                    string            `json:"id"`
	OperationState        LcmOperationState `json:"operationState"`
	StateEnteredTime      time.Time         `json:"stateEnteredTime"`
	StartTime             time.Time         `json:"startTime"`
	VnfInstanceID         string            `json:"vnfInstanceId"`
	GrantID               string            `json:"grantId,omitempty"`
	Operation             LcmOperationType  `json:"operation"`
	IsAutomaticInvocation bool              `json:"isAutomaticInvocation"`
	OperationParams       json.RawMessage   `json:"operationParams,omitempty"`
	IsCancelPending       bool              `json:"isCancelPending"`
	CancelMode            string            `json:"cancelMode,omitempty"`
	Error                 *ProblemDetails   `json:"error,omitempty"`
	ResourceChanges       json.RawMessage   `json:"resourceChanges,omitempty"`
	Links                 map[string]Link   `json:"_links,omitempty"`
}

// LccnSubscriptionRequest subscribes to lifecycle change notifications.
type LccnSubscriptionRequest struct {
	Filter         map[string]interface{} `json:"filter,omitempty"`
	CallbackURI    string                 `json:"callbackUri"`
	Authentication map[string]interface{} `json:"authentication,omitempty"`
	Verbosity      string                 `json:"verbosity,omitempty"`
}

// LccnSubscription is a subscription created on the VNFM.
type LccnSubscription struct {
	ID          string                 `json:"id"`
	Filter      map[string]interface{} `json:"filter,omitempty"`
	CallbackURI string                 `json:"callbackUri"`
	Verbosity   string                 `json:"verbosity,omitempty"`
	Links       map[string]Link        `json:"_links,omitempty"`
}

// GrantRequest asks the grant provider for permission to run an operation.
type GrantRequest struct {
	VnfInstanceID         string                   `json:"vnfInstanceId"`
	VnfLcmOpOccID         string                   `json:"vnfLcmOpOccId"`
	VnfdID                string                   `json:"vnfdId"`
	DstVnfdID             string                   `json:"dstVnfdId,omitempty"`
	FlavourID             string                   `json:"flavourId,omitempty"`
	Operation             LcmOperationType         `json:"operation"`
	IsAutomaticInvocation bool                     `json:"isAutomaticInvocation"`
	InstantiationLevelID  string                   `json:"instantiationLevelId,omitempty"`
	AddResources          []map[string]interface{} `json:"addResources,omitempty"`
	TempResources         []map[string]interface{} `json:"tempResources,omitempty"`
	RemoveResources       []map[string]interface{} `json:"removeResources,omitempty"`
	UpdateResources       []map[string]interface{} `json:"updateResources,omitempty"`
	PlacementConstraints  []map[string]interface{} `json:"placementConstraints,omitempty"`
	AdditionalParams      map[string]interface{}   `json:"additionalParams,omitempty"`
	Links                 map[string]Link          `json:"_links,omitempty"`
}

// Grant is a grant decision. Provider specific sections are kept as raw
// JSON so they can be handed to the caller untouched.
type Grant struct {
	ID                string                     `json:"id"`
	VnfInstanceID     string                     `json:"vnfInstanceId"`
	VnfLcmOpOccID     string                     `json:"vnfLcmOpOccId"`
	VimConnectionInfo map[string]json.RawMessage `json:"vimConnectionInfo,omitempty"`
	Zones             []json.RawMessage          `json:"zones,omitempty"`
	AddResources      []json.RawMessage          `json:"addResources,omitempty"`
	TempResources     []json.RawMessage          `json:"tempResources,omitempty"`
	RemoveResources   []json.RawMessage          `json:"removeResources,omitempty"`
	UpdateResources   []json.RawMessage          `json:"updateResources,omitempty"`
	VimAssets         json.RawMessage            `json:"vimAssets,omitempty"`
	AdditionalParams  map[string]interface{}     `json:"additionalParams,omitempty"`
	Links             map[string]Link            `json:"_links,omitempty"`
}
