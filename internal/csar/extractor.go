// Package csar reads VNF packages in the CSAR (TOSCA Cloud Service Archive)
// zip format.
package csar

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"path"
	"sort"
	"strings"

	"github.com/klauspost/compress/zip"

	"github.com/thc1006/nephoran-sol003-driver/internal/sol003"
)

// Well known package locations.
const (
	MetaPath          = "TOSCA-Metadata/TOSCA.meta"
	MetadataDir       = "TOSCA-Metadata/"
	DefinitionsDir    = "Definitions/"
	ImagesDir         = "Files/images/"
	ChecksumAlgorithm = "SHA-256"
)

var imageExtensions = map[string]bool{
	".qcow2": true,
	".img":   true,
	".iso":   true,
	".vmdk":  true,
	".vhd":   true,
	".vdi":   true,
	".raw":   true,
	".ova":   true,
}

// Package is an opened CSAR held in memory.
type Package struct {
	reader *zip.Reader
	meta   map[string]string
}

// Open reads the zip directory of data. TOSCA.meta is not required here;
// operations that need it check for it.
func Open(data []byte) (*Package, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, extractionError(err, "package is not a valid zip archive")
	}
	return &Package{reader: reader}, nil
}

func (p *Package) file(name string) *zip.File {
	for _, f := range p.reader.File {
		if f.Name == name {
			return f
		}
	}
	return nil
}

func (p *Package) read(name string) ([]byte, error) {
	f := p.file(name)
	if f == nil {
		return nil, extractionError(nil, "%s not found in package", name)
	}
	return readFile(f)
}

func readFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, extractionError(err, "failed to open %s", f.Name)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, extractionError(err, "failed to read %s", f.Name)
	}
	return data, nil
}

// Meta returns the parsed TOSCA.meta.
func (p *Package) Meta() (map[string]string, error) {
	if p.meta != nil {
		return p.meta, nil
	}
	data, err := p.read(MetaPath)
	if err != nil {
		return nil, err
	}
	p.meta = parseKeyValues(data)
	return p.meta, nil
}

// Manifest returns the path and parsed content of the package manifest
// named by Entry-Manifest. Without that key the manifest is looked up next
// to Entry-Definitions with a .mf extension.
func (p *Package) Manifest() (string, map[string]string, error) {
	meta, err := p.Meta()
	if err != nil {
		return "", nil, err
	}
	name := meta[MetaEntryManifest]
	if name == "" {
		defs := meta[MetaEntryDefinitions]
		if defs == "" {
			return "", nil, extractionError(nil, "%s declares neither %s nor %s", MetaPath, MetaEntryManifest, MetaEntryDefinitions)
		}
		name = strings.TrimSuffix(path.Base(defs), path.Ext(defs)) + ".mf"
	}
	data, err := p.read(name)
	if err != nil {
		return "", nil, err
	}
	return name, parseKeyValues(data), nil
}

// definitions returns the YAML files under Definitions/.
func (p *Package) definitions() []*zip.File {
	var out []*zip.File
	for _, f := range p.reader.File {
		if f.FileInfo().IsDir() || !strings.HasPrefix(f.Name, DefinitionsDir) {
			continue
		}
		switch strings.ToLower(path.Ext(f.Name)) {
		case ".yaml", ".yml":
			out = append(out, f)
		}
	}
	return out
}

// entryDefinitions returns the main VNFD, preferring Entry-Definitions and
// falling back to the only YAML under Definitions/.
func (p *Package) entryDefinitions() ([]byte, error) {
	if meta, err := p.Meta(); err == nil && meta[MetaEntryDefinitions] != "" {
		return p.read(meta[MetaEntryDefinitions])
	}
	return p.VnfdYaml()
}

// VnfdYaml returns the single VNFD file under Definitions/.
func (p *Package) VnfdYaml() ([]byte, error) {
	defs := p.definitions()
	switch len(defs) {
	case 0:
		return nil, unexpectedContents("no VNFD file found in %s", DefinitionsDir)
	case 1:
		return readFile(defs[0])
	default:
		names := make([]string, len(defs))
		for i, f := range defs {
			names[i] = f.Name
		}
		return nil, unexpectedContents("expected a single VNFD file in %s but found %d: %s",
			DefinitionsDir, len(defs), strings.Join(names, ", "))
	}
}

// VnfdZip returns a zip holding TOSCA-Metadata/ and Definitions/.
func (p *Package) VnfdZip() ([]byte, error) {
	var selected []*zip.File
	hasDefinitions := false
	for _, f := range p.reader.File {
		switch {
		case strings.HasPrefix(f.Name, DefinitionsDir):
			hasDefinitions = hasDefinitions || !f.FileInfo().IsDir()
			selected = append(selected, f)
		case strings.HasPrefix(f.Name, MetadataDir):
			selected = append(selected, f)
		}
	}
	if !hasDefinitions {
		return nil, unexpectedContents("no files found in %s", DefinitionsDir)
	}
	return repack(selected)
}

// Artifact returns the entry at name, or a zip of every entry under name
// when it names a directory. Neither is a NotFoundError.
func (p *Package) Artifact(name string) ([]byte, bool, error) {
	name = strings.TrimPrefix(name, "/")
	if name == "" {
		return nil, false, &sol003.NotFoundError{Resource: "artifact", ID: name}
	}
	prefix := strings.TrimSuffix(name, "/") + "/"

	var matches []*zip.File
	for _, f := range p.reader.File {
		if f.Name == name && !f.FileInfo().IsDir() {
			data, err := readFile(f)
			return data, false, err
		}
		if strings.HasPrefix(f.Name, prefix) {
			matches = append(matches, f)
		}
	}
	if len(matches) == 0 {
		return nil, false, &sol003.NotFoundError{Resource: "artifact", ID: name}
	}
	data, err := repack(matches)
	return data, true, err
}

// PackageInfo builds the VnfPkgInfo of the package.
func (p *Package) PackageInfo(id string) (*sol003.VnfPkgInfo, error) {
	if _, err := p.Meta(); err != nil {
		return nil, err
	}
	manifestPath, manifest, err := p.Manifest()
	if err != nil {
		return nil, err
	}

	info := &sol003.VnfPkgInfo{
		ID:                  id,
		VnfProductName:      manifest[ManifestProductName],
		VnfProvider:         manifest[ManifestProviderID],
		VnfSoftwareVersion:  manifest[ManifestPackageVersion],
		SoftwareImages:      []sol003.VnfPackageSoftwareImageInfo{},
		AdditionalArtifacts: []sol003.VnfPackageArtifactInfo{},
		OnboardingState:     sol003.OnboardingStateOnboarded,
		OperationalState:    sol003.OperationalStateEnabled,
		UsageState:          sol003.UsageStateNotInUse,
	}

	if vnfd, err := p.entryDefinitions(); err == nil {
		desc, err := ParseDescriptor(vnfd)
		if err != nil {
			return nil, unexpectedContents("%v", err)
		}
		info.VnfdID = desc.ID
		info.VnfdVersion = desc.Version
		if info.VnfProvider == "" {
			info.VnfProvider = desc.Provider
		}
		if info.VnfProductName == "" {
			info.VnfProductName = desc.ProductName
		}
		if info.VnfSoftwareVersion == "" {
			info.VnfSoftwareVersion = desc.SoftwareVersion
		}
	}

	for _, f := range p.reader.File {
		if f.FileInfo().IsDir() || f.Name == manifestPath ||
			strings.HasPrefix(f.Name, MetadataDir) || strings.HasPrefix(f.Name, DefinitionsDir) {
			continue
		}
		sum, err := digestFile(f)
		if err != nil {
			return nil, err
		}
		if isImage(f.Name) {
			base := path.Base(f.Name)
			info.SoftwareImages = append(info.SoftwareImages, sol003.VnfPackageSoftwareImageInfo{
				ID:        strings.TrimSuffix(base, path.Ext(base)),
				Name:      base,
				Checksum:  sum,
				ImagePath: f.Name,
				Size:      int64(f.UncompressedSize64),
			})
			continue
		}
		info.AdditionalArtifacts = append(info.AdditionalArtifacts, sol003.VnfPackageArtifactInfo{
			ArtifactPath: f.Name,
			Checksum:     &sum,
		})
	}
	return info, nil
}

func isImage(name string) bool {
	return strings.HasPrefix(name, ImagesDir) || imageExtensions[strings.ToLower(path.Ext(name))]
}

// digestFile hashes an entry without holding its content in memory.
func digestFile(f *zip.File) (sol003.Checksum, error) {
	rc, err := f.Open()
	if err != nil {
		return sol003.Checksum{}, extractionError(err, "failed to open %s", f.Name)
	}
	defer rc.Close()

	h := sha256.New()
	if _, err := io.Copy(h, rc); err != nil {
		return sol003.Checksum{}, extractionError(err, "failed to read %s", f.Name)
	}
	return sol003.Checksum{Algorithm: ChecksumAlgorithm, Hash: hex.EncodeToString(h.Sum(nil))}, nil
}

func repack(files []*zip.File) ([]byte, error) {
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })

	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, f := range files {
		header := f.FileHeader
		if f.FileInfo().IsDir() {
			if _, err := w.CreateHeader(&header); err != nil {
				return nil, extractionError(err, "failed to write %s", f.Name)
			}
			continue
		}
		data, err := readFile(f)
		if err != nil {
			return nil, err
		}
		header.Method = zip.Deflate
		out, err := w.CreateHeader(&header)
		if err != nil {
			return nil, extractionError(err, "failed to write %s", f.Name)
		}
		if _, err := out.Write(data); err != nil {
			return nil, extractionError(err, "failed to write %s", f.Name)
		}
	}
	if err := w.Close(); err != nil {
		return nil, extractionError(err, "failed to finish archive")
	}
	return buf.Bytes(), nil
}

// PopulateVnfPackageInfo parses a package into its VnfPkgInfo.
func PopulateVnfPackageInfo(id string, data []byte) (*sol003.VnfPkgInfo, error) {
	p, err := Open(data)
	if err != nil {
		return nil, err
	}
	return p.PackageInfo(id)
}

// ExtractVnfdAsYaml returns the single VNFD file of a package.
func ExtractVnfdAsYaml(data []byte) ([]byte, error) {
	p, err := Open(data)
	if err != nil {
		return nil, err
	}
	return p.VnfdYaml()
}

// ExtractVnfdAsZip returns a zip with the package metadata and definitions.
func ExtractVnfdAsZip(data []byte) ([]byte, error) {
	p, err := Open(data)
	if err != nil {
		return nil, err
	}
	return p.VnfdZip()
}

// ExtractVnfPackageArtifact returns one artifact, or a zip of a directory of
// artifacts, with isZip reporting which.
func ExtractVnfPackageArtifact(data []byte, artifactPath string) (content []byte, isZip bool, err error) {
	p, err := Open(data)
	if err != nil {
		return nil, false, err
	}
	return p.Artifact(artifactPath)
}
