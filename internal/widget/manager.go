// Package widget manages embedded staking widget instances. A Manager keys
// instances by container handle and owns their lifecycle.
package widget

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/vaporfund/staking-widget/internal/client"
	"github.com/vaporfund/staking-widget/internal/logging"
	"github.com/vaporfund/staking-widget/internal/metrics"
	"github.com/vaporfund/staking-widget/pkg/types"
)

const (
	// DefaultToken is preselected when the options name no token
	DefaultToken          = "USDC"
	balanceRefreshTimeout = 30 * time.Second
)

// MsgInitFailed is reported when a builder cannot assemble an instance
const MsgInitFailed = "Failed to initialize widget"

// ErrContainerRequired is returned by Init without a container handle
var ErrContainerRequired = errors.New("container is required")

var errIncompleteDeps = errors.New("builder returned incomplete dependencies")

// Options are the embedding parameters of one widget
type Options struct {
	Container       string
	APIKey          string
	ReferralCode    string
	Network         types.Network
	DefaultToken    string
	DefaultStrategy string
	OnSuccess       func(*types.Transaction)
	OnError         func(*types.WidgetError)
}

func (o Options) withDefaults() Options {
	if o.DefaultToken == "" {
		o.DefaultToken = DefaultToken
	}
	if o.Network == "" {
		o.Network = types.NetworkMainnet
	}
	return o
}

// Builder assembles the components of an instance. It must hand
// opts.OnSuccess, opts.OnError and opts.ReferralCode to the orchestrator.
type Builder func(ctx context.Context, opts Options) (Deps, error)

// Manager is a registry of live widget instances
type Manager struct {
	build   Builder
	metrics *metrics.Collector

	mu        sync.Mutex
	instances map[string]*Instance
	pending   map[string]*pendingInit
}

// pendingInit is an Init whose builder is still running
type pendingInit struct {
	done chan struct{}
	inst *Instance
	err  error
}

// NewManager creates an empty registry
func NewManager(build Builder, m *metrics.Collector) *Manager {
	return &Manager{
		build:     build,
		metrics:   m,
		instances: make(map[string]*Instance),
		pending:   make(map[string]*pendingInit),
	}
}

// Version returns the widget version
func (m *Manager) Version() string {
	return types.WidgetVersion
}

// Init creates the widget for opts.Container. If the container already has
// one, that instance is returned unchanged; a concurrent Init for the same
// container waits for the first one and shares its result.
//
// The builder runs without holding the registry lock.
func (m *Manager) Init(ctx context.Context, opts Options) (*Instance, error) {
	if opts.Container == "" {
		return nil, ErrContainerRequired
	}
	opts = opts.withDefaults()

	m.mu.Lock()
	if inst, ok := m.instances[opts.Container]; ok {
		m.mu.Unlock()
		logging.Warn("widget already initialized in this container", "container", opts.Container)
		return inst, nil
	}
	if p, ok := m.pending[opts.Container]; ok {
		m.mu.Unlock()
		select {
		case <-p.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if p.err != nil {
			return nil, p.err
		}
		logging.Warn("widget already initialized in this container", "container", opts.Container)
		return p.inst, nil
	}
	if !client.IsValidAPIKeyFormat(opts.APIKey) {
		m.mu.Unlock()
		return nil, types.NewWidgetError(types.ErrInvalidAPIKey, "")
	}
	if !opts.Network.IsValid() {
		m.mu.Unlock()
		return nil, types.NewWidgetError(types.ErrInvalidNetwork, "")
	}
	p := &pendingInit{done: make(chan struct{})}
	m.pending[opts.Container] = p
	m.mu.Unlock()

	inst, werr := m.create(ctx, opts)

	m.mu.Lock()
	delete(m.pending, opts.Container)
	if werr == nil {
		m.instances[opts.Container] = inst
		m.metrics.SetActiveWidgets(len(m.instances))
	}
	m.mu.Unlock()

	p.inst = inst
	if werr != nil {
		p.err = werr
	}
	close(p.done)

	if werr != nil {
		return nil, werr
	}
	logging.Info("widget initialized",
		"container", opts.Container,
		logging.Network(string(opts.Network)),
		"version", types.WidgetVersion)
	return inst, nil
}

// create runs the builder. Failures are reported to opts.OnError and
// whatever the builder produced is released.
func (m *Manager) create(ctx context.Context, opts Options) (*Instance, *types.WidgetError) {
	deps, err := m.build(ctx, opts)
	if err == nil && (deps.Session == nil || deps.Orchestrator == nil || deps.Metadata == nil) {
		if deps.Session != nil {
			deps.Session.Close()
		}
		if deps.Close != nil {
			deps.Close()
		}
		err = errIncompleteDeps
	}
	if err != nil {
		werr := types.WrapWidgetError(types.ErrUnknown, MsgInitFailed, err)
		logging.Error("failed to initialize widget", "container", opts.Container, logging.Err(err))
		if opts.OnError != nil {
			opts.OnError(werr)
		}
		return nil, werr
	}
	return newInstance(opts, deps), nil
}

// Get returns the instance of container
func (m *Manager) Get(container string) (*Instance, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst, ok := m.instances[container]
	return inst, ok
}

// Destroy tears down the instance of container. It returns false when the
// container has no instance.
func (m *Manager) Destroy(container string) bool {
	m.mu.Lock()
	inst, ok := m.instances[container]
	if ok {
		delete(m.instances, container)
		m.metrics.SetActiveWidgets(len(m.instances))
	}
	m.mu.Unlock()

	if !ok {
		logging.Warn("no widget instance for container", "container", container)
		return false
	}
	inst.close()
	logging.Info("widget destroyed", "container", container)
	return true
}

// Instances returns the live instances ordered by container
func (m *Manager) Instances() []*Instance {
	m.mu.Lock()
	out := make([]*Instance, 0, len(m.instances))
	for _, inst := range m.instances {
		out = append(out, inst)
	}
	m.mu.Unlock()

	sort.Slice(out, func(a, b int) bool {
		return out[a].Container() < out[b].Container()
	})
	return out
}

// UpdateAPIKey re-keys every live instance and returns how many changed.
// Invalid keys are refused.
func (m *Manager) UpdateAPIKey(apiKey string) (int, error) {
	if !client.IsValidAPIKeyFormat(apiKey) {
		return 0, types.NewWidgetError(types.ErrInvalidAPIKey, "")
	}
	changed := 0
	for _, inst := range m.Instances() {
		if inst.Options().APIKey != apiKey {
			inst.UpdateAPIKey(apiKey)
			changed++
		}
	}
	if changed > 0 {
		logging.Info("widget API key updated", "instances", changed)
	}
	return changed, nil
}

// Close destroys every instance
func (m *Manager) Close() {
	for _, inst := range m.Instances() {
		m.Destroy(inst.Container())
	}
}
