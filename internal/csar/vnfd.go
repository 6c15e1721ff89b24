package csar

import (
	"fmt"
	"sort"

	"sigs.k8s.io/yaml"
)

// Descriptor is the VNF identity declared by a VNFD.
type Descriptor struct {
	ID              string
	Version         string
	Provider        string
	ProductName     string
	SoftwareVersion string
}

type vnfdDocument struct {
	TopologyTemplate struct {
		NodeTemplates map[string]struct {
			Type       string                 `json:"type"`
			Properties map[string]interface{} `json:"properties"`
		} `json:"node_templates"`
	} `json:"topology_template"`
}

// ParseDescriptor reads the VNF node of a VNFD. The VNF node is the node
// template carrying a descriptor_id property; when none does, an empty
// Descriptor is returned.
func ParseDescriptor(data []byte) (Descriptor, error) {
	var doc vnfdDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Descriptor{}, fmt.Errorf("failed to parse VNFD: %w", err)
	}

	names := make([]string, 0, len(doc.TopologyTemplate.NodeTemplates))
	for name := range doc.TopologyTemplate.NodeTemplates {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		props := doc.TopologyTemplate.NodeTemplates[name].Properties
		if _, ok := props["descriptor_id"]; !ok {
			continue
		}
		return Descriptor{
			ID:              stringProperty(props, "descriptor_id"),
			Version:         stringProperty(props, "descriptor_version"),
			Provider:        stringProperty(props, "provider"),
			ProductName:     stringProperty(props, "product_name"),
			SoftwareVersion: stringProperty(props, "software_version"),
		}, nil
	}
	return Descriptor{}, nil
}

func stringProperty(props map[string]interface{}, name string) string {
	switch v := props[name].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}
