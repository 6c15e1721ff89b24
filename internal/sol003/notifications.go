package sol003

import (
	"encoding/json"
	"fmt"
	"time"
)

// NotificationType discriminates the lifecycle notification variants.
type NotificationType string

const (
	VnfIdentifierCreationNotificationType     NotificationType = "VnfIdentifierCreationNotification"
	VnfIdentifierDeletionNotificationType     NotificationType = "VnfIdentifierDeletionNotification"
	VnfLcmOperationOccurrenceNotificationType NotificationType = "VnfLcmOperationOccurrenceNotification"
)

// Notification is the closed set of notifications a VNFM may deliver.
type Notification interface {
	Type() NotificationType
	Header() NotificationHeader
	isNotification()
}

// NotificationHeader carries the fields shared by every variant.
type NotificationHeader struct {
	ID               string           `json:"id"`
	NotificationType NotificationType `json:"notificationType"`
	SubscriptionID   string           `json:"subscriptionId,omitempty"`
	TimeStamp        time.Time        `json:"timeStamp"`
	VnfInstanceID    string           `json:"vnfInstanceId"`
	Links            map[string]Link  `json:"_links,omitempty"`
}

// Header returns the shared fields.
func (h NotificationHeader) Header() NotificationHeader { return h }

// VnfIdentifierCreationNotification reports a new VNF instance resource.
type VnfIdentifierCreationNotification struct {
	NotificationHeader
}

func (VnfIdentifierCreationNotification) Type() NotificationType {
	return VnfIdentifierCreationNotificationType
}
func (VnfIdentifierCreationNotification) isNotification() {}

// VnfIdentifierDeletionNotification reports a deleted VNF instance resource.
type VnfIdentifierDeletionNotification struct {
	NotificationHeader
}

func (VnfIdentifierDeletionNotification) Type() NotificationType {
	return VnfIdentifierDeletionNotificationType
}
func (VnfIdentifierDeletionNotification) isNotification() {}

// VnfLcmOperationOccurrenceNotification reports progress of an operation.
type VnfLcmOperationOccurrenceNotification struct {
	NotificationHeader
	NotificationStatus    string            `json:"notificationStatus"`
	OperationState        LcmOperationState `json:"operationState"`
	Operation             LcmOperationType  `json:"operation"`
	IsAutomaticInvocation bool              `json:"isAutomaticInvocation"`
	VnfLcmOpOccID         string            `json:"vnfLcmOpOccId"`
	AffectedVnfcs         json.RawMessage   `json:"affectedVnfcs,omitempty"`
	Error                 *ProblemDetails   `json:"error,omitempty"`
}

func (VnfLcmOperationOccurrenceNotification) Type() NotificationType {
	return VnfLcmOperationOccurrenceNotificationType
}
func (VnfLcmOperationOccurrenceNotification) isNotification() {}

// DecodeNotification decodes a notification using its notificationType.
func DecodeNotification(data []byte) (Notification, error) {
	var probe struct {
		NotificationType NotificationType `json:"notificationType"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("failed to decode notification: %w", err)
	}

	var n Notification
	var err error
	switch probe.NotificationType {
	case VnfIdentifierCreationNotificationType:
		var v VnfIdentifierCreationNotification
		err = json.Unmarshal(data, &v)
		n = v
	case VnfIdentifierDeletionNotificationType:
		var v VnfIdentifierDeletionNotification
		err = json.Unmarshal(data, &v)
		n = v
	case VnfLcmOperationOccurrenceNotificationType:
		var v VnfLcmOperationOccurrenceNotification
		err = json.Unmarshal(data, &v)
		n = v
	case "":
		return nil, fmt.Errorf("notification has no notificationType")
	default:
		return nil, fmt.Errorf("unsupported notificationType %q", probe.NotificationType)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", probe.NotificationType, err)
	}
	return n, nil
}
