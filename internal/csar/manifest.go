package csar

import (
	"bufio"
	"bytes"
	"strings"
)

// TOSCA.meta keys.
const (
	MetaEntryDefinitions = "Entry-Definitions"
	MetaEntryManifest    = "Entry-Manifest"
	MetaCSARVersion      = "CSAR-Version"
	MetaCreatedBy        = "Created-By"
)

// Manifest metadata keys.
const (
	ManifestProductName    = "vnf_product_name"
	ManifestProviderID     = "vnf_provider_id"
	ManifestPackageVersion = "vnf_package_version"
	ManifestReleaseDate    = "vnf_release_date_time"
)

// parseKeyValues reads "key: value" lines. Block headers such as
// "metadata:" and lines without a separator are skipped; the first
// occurrence of a key wins.
func parseKeyValues(data []byte) map[string]string {
	values := make(map[string]string)
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		idx := strings.Index(line, ":")
		if idx <= 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		value := strings.Trim(strings.TrimSpace(line[idx+1:]), `"'`)
		if value == "" {
			continue
		}
		if _, seen := values[key]; !seen {
			values[key] = value
		}
	}
	return values
}
