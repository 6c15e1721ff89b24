package authclient

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"sync"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/singleflight"

	"github.com/thc1006/nephoran-sol003-driver/internal/credentials"
	"github.com/thc1006/nephoran-sol003-driver/pkg/models"
)

var clientCacheEvents = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sol003_client_cache_events_total",
	Help: "Authenticated client cache hits, builds and evictions",
}, []string{"event"})

type cacheEntry struct {
	fingerprint string
	client      *Client
}

// Cache holds one Client per deployment target name. A target that comes
// back with different properties gets a freshly built client.
type Cache struct {
	opts       Options
	strategies map[credentials.AuthType]Strategy
	log        logr.Logger

	mu      sync.RWMutex
	entries map[string]*cacheEntry
	flight  singleflight.Group
}

// NewCache creates an empty cache. Every client it builds shares opts.
func NewCache(opts Options) *Cache {
	opts = opts.withDefaults()
	return &Cache{
		opts:       opts,
		strategies: defaultStrategies,
		log:        opts.Logger.WithName("client-cache"),
		entries:    make(map[string]*cacheEntry),
	}
}

// Get returns the client for target, building it when absent or stale.
func (c *Cache) Get(target models.DeploymentTarget) (*Client, error) {
	fp := fingerprint(target.Properties)
	if client, ok := c.lookup(target.Name, fp); ok {
		clientCacheEvents.WithLabelValues("hit").Inc()
		return client, nil
	}

	v, err, _ := c.flight.Do(target.Name+"\x00"+fp, func() (interface{}, error) {
		if client, ok := c.lookup(target.Name, fp); ok {
			return client, nil
		}

		profile, err := credentials.Resolve(target.Properties)
		if err != nil {
			return nil, err
		}
		client, err := newClient(c.strategies, profile, c.opts)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		old := c.entries[target.Name]
		c.entries[target.Name] = &cacheEntry{fingerprint: fp, client: client}
		c.mu.Unlock()

		clientCacheEvents.WithLabelValues("build").Inc()
		if old != nil {
			clientCacheEvents.WithLabelValues("evict").Inc()
			old.client.CloseIdleConnections()
			c.log.Info("Deployment target properties changed, replaced cached client", "target", target.Name)
		} else {
			c.log.V(1).Info("Built client for deployment target", "target", target.Name, "authType", profile.AuthType)
		}
		return client, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Client), nil
}

func (c *Cache) lookup(name, fp string) (*Client, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[name]
	if !ok || e.fingerprint != fp {
		return nil, false
	}
	return e.client, true
}

// Len returns the number of cached clients.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Evict drops the client cached for name.
func (c *Cache) Evict(name string) {
	c.mu.Lock()
	e, ok := c.entries[name]
	delete(c.entries, name)
	c.mu.Unlock()
	if ok {
		e.client.CloseIdleConnections()
	}
}

// Close drops every cached client.
func (c *Cache) Close() {
	c.mu.Lock()
	entries := c.entries
	c.entries = make(map[string]*cacheEntry)
	c.mu.Unlock()
	for _, e := range entries {
		e.client.CloseIdleConnections()
	}
}

func fingerprint(properties map[string]string) string {
	keys := make([]string, 0, len(properties))
	for k := range properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{0})
		h.Write([]byte(properties[k]))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
