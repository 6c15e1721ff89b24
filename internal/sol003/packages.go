package sol003

// Package states reported for packages served from the repository. The
// repository only exposes onboarded, enabled packages.
const (
	OnboardingStateOnboarded = "ONBOARDED"
	OperationalStateEnabled  = "ENABLED"
	UsageStateNotInUse       = "NOT_IN_USE"
)

// Checksum of a package or artifact.
type Checksum struct {
	Algorithm string `json:"algorithm"`
	Hash      string `json:"hash"`
}

// VnfPackageSoftwareImageInfo describes an image shipped in a package.
type VnfPackageSoftwareImageInfo struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Provider  string   `json:"provider,omitempty"`
	Version   string   `json:"version,omitempty"`
	Checksum  Checksum `json:"checksum"`
	ImagePath string   `json:"imagePath"`
	Size      int64    `json:"size"`
}

// VnfPackageArtifactInfo describes a non image artifact in a package.
type VnfPackageArtifactInfo struct {
	ArtifactPath string    `json:"artifactPath"`
	Checksum     *Checksum `json:"checksum,omitempty"`
}

// VnfPkgInfo is the SOL005 representation of an onboarded VNF package.
type VnfPkgInfo struct {
	ID                  string                        `json:"id"`
	VnfdID              string                        `json:"vnfdId,omitempty"`
	VnfProvider         string                        `json:"vnfProvider,omitempty"`
	VnfProductName      string                        `json:"vnfProductName,omitempty"`
	VnfSoftwareVersion  string                        `json:"vnfSoftwareVersion,omitempty"`
	VnfdVersion         string                        `json:"vnfdVersion,omitempty"`
	Checksum            *Checksum                     `json:"checksum,omitempty"`
	SoftwareImages      []VnfPackageSoftwareImageInfo `json:"softwareImages"`
	AdditionalArtifacts []VnfPackageArtifactInfo      `json:"additionalArtifacts"`
	OnboardingState     string                        `json:"onboardingState"`
	OperationalState    string                        `json:"operationalState"`
	UsageState          string                        `json:"usageState"`
	Links               map[string]Link               `json:"_links,omitempty"`
}
