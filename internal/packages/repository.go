// Package packages serves VNF package information from a Nexus style
// artifact repository.
package packages

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/singleflight"

	"github.com/thc1006/nephoran-sol003-driver/internal/authclient"
	"github.com/thc1006/nephoran-sol003-driver/internal/credentials"
	"github.com/thc1006/nephoran-sol003-driver/internal/csar"
	"github.com/thc1006/nephoran-sol003-driver/internal/sol003"
)

const (
	DefaultAssetSuffix = ".zip"
	searchPath         = "/service/rest/v1/search"
	checksumAlgorithm  = "SHA-1"
)

var storeLookups = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sol003_package_info_cache_total",
	Help: "VnfPkgInfo cache lookups by result",
}, []string{"result"})

// Config describes the package repository.
type Config struct {
	URL         string            `yaml:"url" envconfig:"URL"`
	Repository  string            `yaml:"repository" envconfig:"REPOSITORY"`
	AssetSuffix string            `yaml:"assetSuffix" envconfig:"ASSET_SUFFIX"`
	Properties  map[string]string `yaml:"properties" envconfig:"PROPERTIES"`
}

// Validate checks the repository configuration.
func (c Config) Validate() error {
	if c.URL == "" {
		return fmt.Errorf("package repository url is required")
	}
	if c.Repository == "" {
		return fmt.Errorf("package repository name is required")
	}
	return nil
}

// Driver queries the repository and parses the packages it holds.
type Driver struct {
	cfg    Config
	client *authclient.Client
	store  Store
	flight singleflight.Group
	log    logr.Logger
}

// NewDriver builds the repository client. Any authentication type is
// accepted.
func NewDriver(cfg Config, opts authclient.Options, store Store, log logr.Logger) (*Driver, error) {
	if err := cfg.Validate(); err != nil {
		return nil, &credentials.ConfigError{Reason: err.Error()}
	}
	if cfg.AssetSuffix == "" {
		cfg.AssetSuffix = DefaultAssetSuffix
	}
	profile, err := credentials.Resolve(cfg.Properties)
	if err != nil {
		return nil, fmt.Errorf("package repository credentials: %w", err)
	}
	client, err := authclient.NewClient(profile, opts)
	if err != nil {
		return nil, err
	}
	if store == nil {
		store = NewMemoryStore()
	}
	return &Driver{
		cfg:    cfg,
		client: client,
		store:  store,
		log:    log.WithName("package-repository"),
	}, nil
}

// QueryAllVnfPkgInfos returns every package in the repository, optionally
// restricted to a group.
func (d *Driver) QueryAllVnfPkgInfos(ctx context.Context, group string) ([]sol003.VnfPkgInfo, error) {
	assets, err := d.packageAssets(ctx, group, "")
	if err != nil {
		return nil, err
	}
	infos := make([]sol003.VnfPkgInfo, 0, len(assets))
	for _, a := range assets {
		info, err := d.packageInfo(ctx, a)
		if err != nil {
			return nil, err
		}
		infos = append(infos, *info)
	}
	return infos, nil
}

// GetVnfPkgInfo returns the package with the given id. Absent and
// ambiguous ids are both a NotFoundError.
func (d *Driver) GetVnfPkgInfo(ctx context.Context, id string) (*sol003.VnfPkgInfo, error) {
	a, err := d.findPackage(ctx, id)
	if err != nil {
		return nil, err
	}
	return d.packageInfo(ctx, a)
}

// GetVnfPackage downloads the content of the package with the given id.
func (d *Driver) GetVnfPackage(ctx context.Context, id string) ([]byte, error) {
	a, err := d.findPackage(ctx, id)
	if err != nil {
		return nil, err
	}
	return d.download(ctx, a.DownloadURL)
}

// Close releases idle connections.
func (d *Driver) Close() {
	d.client.CloseIdleConnections()
}

func (d *Driver) findPackage(ctx context.Context, id string) (asset, error) {
	assets, err := d.packageAssets(ctx, "", id)
	if err != nil {
		return asset{}, err
	}
	var matches []asset
	for _, a := range assets {
		if d.packageID(a) == id {
			matches = append(matches, a)
		}
	}
	if len(matches) != 1 {
		if len(matches) > 1 {
			d.log.Info("Package id matches several assets", "id", id, "matches", len(matches))
		}
		return asset{}, &sol003.NotFoundError{Resource: "VNF package", ID: id}
	}
	return matches[0], nil
}

// packageAssets follows the search continuation token until exhausted and
// keeps the assets carrying the package suffix.
func (d *Driver) packageAssets(ctx context.Context, group, keyword string) ([]asset, error) {
	var (
		assets []asset
		token  string
	)
	for {
		page, err := d.search(ctx, group, keyword, token)
		if err != nil {
			return nil, err
		}
		for _, item := range page.Items {
			for _, a := range item.Assets {
				if strings.HasSuffix(a.Path, d.cfg.AssetSuffix) {
					assets = append(assets, a)
				}
			}
		}
		if page.ContinuationToken == "" {
			return assets, nil
		}
		token = page.ContinuationToken
	}
}

func (d *Driver) search(ctx context.Context, group, keyword, token string) (*searchPage, error) {
	query := url.Values{}
	query.Set("repository", d.cfg.Repository)
	if group != "" {
		query.Set("group", group)
	}
	if keyword != "" {
		query.Set("keyword", keyword)
	}
	if token != "" {
		query.Set("continuationToken", token)
	}
	endpoint := strings.TrimRight(d.cfg.URL, "/") + searchPath + "?" + query.Encode()

	req, err := sol003.NewJSONRequest(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("package repository search failed: %w", err)
	}
	var page searchPage
	if err := sol003.DecodeBody(resp, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

func (d *Driver) packageID(a asset) string {
	return strings.TrimSuffix(path.Base(a.Path), d.cfg.AssetSuffix)
}

// packageInfo returns the cached info of an asset, downloading and parsing
// it on a miss. Concurrent misses on one checksum share the download.
func (d *Driver) packageInfo(ctx context.Context, a asset) (*sol003.VnfPkgInfo, error) {
	id := d.packageID(a)
	key := a.Checksum.SHA1
	if key == "" {
		storeLookups.WithLabelValues("uncacheable").Inc()
		return d.parse(ctx, id, a)
	}

	if info, ok, err := d.store.Get(ctx, key); err != nil {
		d.log.Error(err, "Package info cache lookup failed", "checksum", key)
	} else if ok {
		storeLookups.WithLabelValues("hit").Inc()
		return withID(info, id), nil
	}
	storeLookups.WithLabelValues("miss").Inc()

	v, err, _ := d.flight.Do(key, func() (interface{}, error) {
		info, err := d.parse(ctx, id, a)
		if err != nil {
			return nil, err
		}
		info.Checksum = &sol003.Checksum{Algorithm: checksumAlgorithm, Hash: key}
		if err := d.store.Put(ctx, key, info); err != nil {
			d.log.Error(err, "Failed to cache package info", "checksum", key)
		}
		return info, nil
	})
	if err != nil {
		return nil, err
	}
	return withID(v.(*sol003.VnfPkgInfo), id), nil
}

// withID copies a cached info under the id of the asset that asked for it.
// Assets with identical content share one cache entry.
func withID(info *sol003.VnfPkgInfo, id string) *sol003.VnfPkgInfo {
	out := *info
	out.ID = id
	return &out
}

func (d *Driver) parse(ctx context.Context, id string, a asset) (*sol003.VnfPkgInfo, error) {
	data, err := d.download(ctx, a.DownloadURL)
	if err != nil {
		return nil, err
	}
	info, err := csar.PopulateVnfPackageInfo(id, data)
	if err != nil {
		return nil, fmt.Errorf("package %s: %w", id, err)
	}
	d.log.V(1).Info("Parsed VNF package", "id", id, "path", a.Path)
	return info, nil
}

func (d *Driver) download(ctx context.Context, downloadURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, downloadURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create download request: %w", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to download %s: %w", downloadURL, err)
	}
	return resp.Body, nil
}

type searchPage struct {
	Items             []component `json:"items"`
	ContinuationToken string      `json:"continuationToken"`
}

type component struct {
	ID         string  `json:"id"`
	Repository string  `json:"repository"`
	Group      string  `json:"group"`
	Name       string  `json:"name"`
	Version    string  `json:"version"`
	Assets     []asset `json:"assets"`
}

type asset struct {
	ID          string `json:"id"`
	Path        string `json:"path"`
	DownloadURL string `json:"downloadUrl"`
	Checksum    struct {
		SHA1   string `json:"sha1"`
		SHA256 string `json:"sha256"`
		MD5    string `json:"md5"`
	} `json:"checksum"`
}
