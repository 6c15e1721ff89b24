package packages

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/go-logr/logr"
	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thc1006/nephoran-sol003-driver/internal/authclient"
	"github.com/thc1006/nephoran-sol003-driver/internal/csar"
	"github.com/thc1006/nephoran-sol003-driver/internal/sol003"
)

func csarFor(t *testing.T, product string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	files := map[string]string{
		csar.MetaPath:           "Entry-Definitions: Definitions/vnfd.yaml\nEntry-Manifest: vnfd.mf\n",
		"vnfd.mf":               "metadata:\n  vnf_product_name: " + product + "\n  vnf_provider_id: Acme\n",
		"Definitions/vnfd.yaml": "topology_template:\n  node_templates:\n    VNF:\n      properties:\n        descriptor_id: vnfd-" + product + "\n",
	}
	for name, content := range files {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

type fakeRepository struct {
	t         *testing.T
	server    *httptest.Server
	packages  map[string][]byte
	paths     []string
	sums      map[string]string
	downloads int32
	searches  int32
}

func newFakeRepository(t *testing.T) *fakeRepository {
	r := &fakeRepository{t: t, packages: map[string][]byte{
		"vnfs/vMRF-1.0.zip": csarFor(t, "vMRF"),
		"vnfs/vFW-2.0.zip":  csarFor(t, "vFW"),
		"other/vFW-2.0.zip": csarFor(t, "vFW"),
	}}
	r.paths = []string{"vnfs/vMRF-1.0.zip", "vnfs/vFW-2.0.zip", "other/vFW-2.0.zip"}
	r.sums = map[string]string{}
	r.server = httptest.NewServer(http.HandlerFunc(r.serve))
	t.Cleanup(r.server.Close)
	return r
}

func (r *fakeRepository) asset(p string) map[string]interface{} {
	sum, ok := r.sums[p]
	if !ok {
		sum = "sha1-" + p
	}
	return map[string]interface{}{
		"id":          p,
		"path":        p,
		"downloadUrl": r.server.URL + "/repository/vnfs/" + p,
		"checksum":    map[string]string{"sha1": sum},
	}
}

// serve returns one component per page, paging through the continuation
// token.
func (r *fakeRepository) serve(w http.ResponseWriter, req *http.Request) {
	if strings.HasPrefix(req.URL.Path, "/repository/vnfs/") {
		atomic.AddInt32(&r.downloads, 1)
		data, ok := r.packages[strings.TrimPrefix(req.URL.Path, "/repository/vnfs/")]
		if !ok {
			http.NotFound(w, req)
			return
		}
		w.Write(data)
		return
	}

	assert.Equal(r.t, searchPath, req.URL.Path)
	assert.Equal(r.t, "vnf-packages", req.URL.Query().Get("repository"))
	atomic.AddInt32(&r.searches, 1)

	group := req.URL.Query().Get("group")
	keyword := req.URL.Query().Get("keyword")
	var components []map[string]interface{}
	for _, p := range r.paths {
		if group != "" && !strings.HasPrefix(p, strings.TrimPrefix(group, "/")+"/") {
			continue
		}
		if keyword != "" && !strings.Contains(p, keyword) {
			continue
		}
		components = append(components, map[string]interface{}{
			"id":     p,
			"name":   p,
			"assets": []interface{}{r.asset(p), r.asset(p + ".sha1")},
		})
	}

	page := map[string]interface{}{"items": []interface{}{}}
	token := req.URL.Query().Get("continuationToken")
	idx := 0
	if token != "" {
		idx = int(token[0] - '0')
	}
	if idx < len(components) {
		page["items"] = components[idx : idx+1]
		if idx+1 < len(components) {
			page["continuationToken"] = string(rune('0' + idx + 1))
		}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(page)
}

func newDriver(t *testing.T, repo *fakeRepository, store Store) *Driver {
	t.Helper()
	d, err := NewDriver(Config{URL: repo.server.URL, Repository: "vnf-packages"},
		authclient.DefaultOptions(), store, logr.Discard())
	require.NoError(t, err)
	t.Cleanup(d.Close)
	return d
}

func TestQueryAllVnfPkgInfos(t *testing.T) {
	repo := newFakeRepository(t)
	store := NewMemoryStore()
	d := newDriver(t, repo, store)
	ctx := context.Background()

	infos, err := d.QueryAllVnfPkgInfos(ctx, "/vnfs")
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "vMRF-1.0", infos[0].ID)
	assert.Equal(t, "vMRF", infos[0].VnfProductName)
	assert.Equal(t, "vnfd-vMRF", infos[0].VnfdID)
	assert.Equal(t, &sol003.Checksum{Algorithm: "SHA-1", Hash: "sha1-vnfs/vMRF-1.0.zip"}, infos[0].Checksum)
	assert.Equal(t, "vFW-2.0", infos[1].ID)
	assert.EqualValues(t, 2, atomic.LoadInt32(&repo.searches))
	assert.EqualValues(t, 2, atomic.LoadInt32(&repo.downloads))
	assert.Equal(t, 2, store.Len())

	infos, err = d.QueryAllVnfPkgInfos(ctx, "/vnfs")
	require.NoError(t, err)
	assert.Len(t, infos, 2)
	assert.EqualValues(t, 2, atomic.LoadInt32(&repo.downloads), "cached packages must not be downloaded again")

	all, err := d.QueryAllVnfPkgInfos(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
	assert.EqualValues(t, 3, atomic.LoadInt32(&repo.downloads))
}

func TestQueryAllVnfPkgInfos_IdenticalContentKeepsAssetIDs(t *testing.T) {
	repo := newFakeRepository(t)
	repo.packages["vnfs/vFW-copy.zip"] = repo.packages["vnfs/vFW-2.0.zip"]
	repo.paths = append(repo.paths, "vnfs/vFW-copy.zip")
	repo.sums["vnfs/vFW-2.0.zip"] = "shared"
	repo.sums["vnfs/vFW-copy.zip"] = "shared"
	d := newDriver(t, repo, NewMemoryStore())
	ctx := context.Background()

	infos, err := d.QueryAllVnfPkgInfos(ctx, "/vnfs")
	require.NoError(t, err)
	var ids []string
	for _, info := range infos {
		ids = append(ids, info.ID)
	}
	assert.ElementsMatch(t, []string{"vMRF-1.0", "vFW-2.0", "vFW-copy"}, ids)
	assert.EqualValues(t, 2, atomic.LoadInt32(&repo.downloads))

	info, err := d.GetVnfPkgInfo(ctx, "vFW-copy")
	require.NoError(t, err)
	assert.Equal(t, "vFW-copy", info.ID)
	assert.Equal(t, "vFW", info.VnfProductName)

	info.ID = "mutated"
	again, err := d.GetVnfPkgInfo(ctx, "vFW-copy")
	require.NoError(t, err)
	assert.Equal(t, "vFW-copy", again.ID)
	assert.EqualValues(t, 2, atomic.LoadInt32(&repo.downloads))
}

func TestGetVnfPkgInfo(t *testing.T) {
	repo := newFakeRepository(t)
	d := newDriver(t, repo, nil)
	ctx := context.Background()

	info, err := d.GetVnfPkgInfo(ctx, "vMRF-1.0")
	require.NoError(t, err)
	assert.Equal(t, "vMRF-1.0", info.ID)

	tests := []struct {
		name string
		id   string
	}{
		{name: "absent", id: "vIMS-3.0"},
		{name: "ambiguous", id: "vFW-2.0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.GetVnfPkgInfo(ctx, tt.id)
			var notFound *sol003.NotFoundError
			require.True(t, errors.As(err, &notFound))
			assert.Contains(t, err.Error(), tt.id)
		})
	}
}

func TestGetVnfPackage(t *testing.T) {
	repo := newFakeRepository(t)
	d := newDriver(t, repo, nil)

	data, err := d.GetVnfPackage(context.Background(), "vMRF-1.0")
	require.NoError(t, err)
	assert.Equal(t, repo.packages["vnfs/vMRF-1.0.zip"], data)

	_, err = d.GetVnfPackage(context.Background(), "missing")
	var notFound *sol003.NotFoundError
	assert.True(t, errors.As(err, &notFound))
}

func TestNewDriver_Validation(t *testing.T) {
	_, err := NewDriver(Config{URL: "http://nexus"}, authclient.DefaultOptions(), nil, logr.Discard())
	assert.Error(t, err)

	_, err = NewDriver(Config{URL: "http://nexus", Repository: "r", Properties: map[string]string{
		"authenticationType": "BASIC",
	}}, authclient.DefaultOptions(), nil, logr.Discard())
	assert.Error(t, err)
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, ok, err := store.Get(ctx, "abc")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Put(ctx, "abc", &sol003.VnfPkgInfo{ID: "pkg"}))
	info, ok, err := store.Get(ctx, "abc")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "pkg", info.ID)
}
