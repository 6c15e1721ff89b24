package models

import (
	"encoding/json"
	"fmt"
)

// PropertyType discriminates the PropertyValue variants.
type PropertyType string

const (
	PropertyTypeString PropertyType = "string"
	PropertyTypeKey    PropertyType = "key"
)

// PropertyValue is a closed union of StringPropertyValue and KeyPropertyValue.
type PropertyValue interface {
	Type() PropertyType
	// Value returns the form used when rendering request templates.
	Value() interface{}
	isPropertyValue()
}

// StringPropertyValue is a plain string property.
type StringPropertyValue struct {
	V string
}

func (StringPropertyValue) Type() PropertyType   { return PropertyTypeString }
func (s StringPropertyValue) Value() interface{} { return s.V }
func (StringPropertyValue) isPropertyValue()     {}

// KeyPropertyValue references a named key pair.
type KeyPropertyValue struct {
	KeyName    string
	PrivateKey string
	PublicKey  string
}

func (KeyPropertyValue) Type() PropertyType { return PropertyTypeKey }

func (k KeyPropertyValue) Value() interface{} {
	return map[string]string{
		"keyName":    k.KeyName,
		"privateKey": k.PrivateKey,
		"publicKey":  k.PublicKey,
	}
}

func (KeyPropertyValue) isPropertyValue() {}

type propertyValueWire struct {
	Type       PropertyType `json:"type"`
	Value      *string      `json:"value,omitempty"`
	KeyName    string       `json:"keyName,omitempty"`
	PrivateKey string       `json:"privateKey,omitempty"`
	PublicKey  string       `json:"publicKey,omitempty"`
}

// DecodePropertyValue decodes one property using its "type" discriminator.
// A missing discriminator decodes as a string property.
func DecodePropertyValue(data []byte) (PropertyValue, error) {
	var w propertyValueWire
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("failed to decode property value: %w", err)
	}
	switch w.Type {
	case PropertyTypeString, "":
		if w.Value == nil {
			return StringPropertyValue{}, nil
		}
		return StringPropertyValue{V: *w.Value}, nil
	case PropertyTypeKey:
		return KeyPropertyValue{KeyName: w.KeyName, PrivateKey: w.PrivateKey, PublicKey: w.PublicKey}, nil
	default:
		return nil, fmt.Errorf("unknown property value type %q", w.Type)
	}
}

func encodePropertyValue(v PropertyValue) propertyValueWire {
	switch pv := v.(type) {
	case StringPropertyValue:
		s := pv.V
		return propertyValueWire{Type: PropertyTypeString, Value: &s}
	case KeyPropertyValue:
		return propertyValueWire{Type: PropertyTypeKey, KeyName: pv.KeyName, PrivateKey: pv.PrivateKey, PublicKey: pv.PublicKey}
	}
	return propertyValueWire{}
}

// PropertyValueMap is a keyed set of property values.
type PropertyValueMap map[string]PropertyValue

// UnmarshalJSON implements json.Unmarshaler.
func (m *PropertyValueMap) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(PropertyValueMap, len(raw))
	for name, r := range raw {
		v, err := DecodePropertyValue(r)
		if err != nil {
			return fmt.Errorf("property %q: %w", name, err)
		}
		out[name] = v
	}
	*m = out
	return nil
}

// MarshalJSON implements json.Marshaler.
func (m PropertyValueMap) MarshalJSON() ([]byte, error) {
	out := make(map[string]propertyValueWire, len(m))
	for name, v := range m {
		out[name] = encodePropertyValue(v)
	}
	return json.Marshal(out)
}

// String returns the string form of a property, or "" when it is absent or
// not a string property.
func (m PropertyValueMap) String(name string) string {
	if v, ok := m[name].(StringPropertyValue); ok {
		return v.V
	}
	return ""
}

// Values flattens the map into template-friendly values.
func (m PropertyValueMap) Values() map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for name, v := range m {
		out[name] = v.Value()
	}
	return out
}
