// Package kernel holds the per-agent runtime state: character, settings,
// and the registries the rest of the system dispatches through. Grounded on
// the teacher's core.RunnerImpl (RWMutex + started flag + stopChan idiom)
// and core.Config (TOML settings shape).
package kernel

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/Agent-Zoey/Zoey-sub001/internal/obslog"
	"github.com/Agent-Zoey/Zoey-sub001/provider"
	"github.com/Agent-Zoey/Zoey-sub001/storage"
)

// uppercaseAliasKeys is the fixed set of settings keys the kernel mirrors to
// an uppercase alias at load time, and the set environment variables are
// allowed to override (spec §4.3's "documented set of keys").
var uppercaseAliasKeys = []string{
	"MODEL_PROVIDER", "OPENAI_MODEL", "MAX_TOKENS", "DATABASE_URL",
	"EDIT_INTERVAL_MS", "STREAM_INACTIVITY_MS",
}

// SettingsKeys exposes the fixed key set for callers (e.g. config loaders)
// that need to know which keys participate in env-override/uppercase-mirror
// behavior.
func SettingsKeys() []string {
	out := make([]string, len(uppercaseAliasKeys))
	copy(out, uppercaseAliasKeys)
	return out
}

// Character is the agent's structured persona/config, shared with storage.Character.
type Character = storage.Character

// Service has a start/stop lifecycle the kernel drives during init/teardown,
// per spec §4.3/§4.8's service_type/initialize/start/stop/is_running/
// health_check contract.
type Service interface {
	Name() string
	Initialize(ctx context.Context) error
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	IsRunning() bool
	HealthCheck(ctx context.Context) HealthStatus
}

// Plugin has an init/destroy lifecycle and may register providers, actions,
// evaluators, services, and models into the kernel during Init.
type Plugin interface {
	Name() string
	Init(ctx context.Context, k *Kernel) error
	Destroy(ctx context.Context) error
}

// Action is a named, invokable behavior a plugin contributes.
type Action func(ctx context.Context, k *Kernel, args map[string]any) (any, error)

// Evaluator scores or validates a candidate response.
type Evaluator func(ctx context.Context, candidate string) (float64, error)

// SendHandler delivers content to a target on a specific source adapter
// (e.g. "telegram", "discord").
type SendHandler func(ctx context.Context, target, content string) error

// HealthStatus is the outcome of a kernel health check.
type HealthStatus string

const (
	Healthy   HealthStatus = "healthy"
	Degraded  HealthStatus = "degraded"
	Unhealthy HealthStatus = "unhealthy"
)

// HealthReport is the result of HealthCheck.
type HealthReport struct {
	Status  HealthStatus
	Details map[string]string
}

// modelEntry is one {name, priority, handler} binding for a model tier.
type modelEntry struct {
	name     string
	priority int
	p        provider.Provider
}

// Kernel is the per-agent state container accessed through a
// multiple-reader/single-writer lock. Long-running calls (provider
// invocations, storage operations) must never be made while holding the
// write lock — callers snapshot what they need and release before I/O.
type Kernel struct {
	mu sync.RWMutex

	agentID   uuid.UUID
	character Character
	settings  map[string]any
	adapter   storage.Store

	providers  []*provider.RegistryEntry // ordered by priority, descending
	actions    map[string]Action
	evaluators map[string]Evaluator
	services   []Service
	plugins    []Plugin
	models     map[provider.ModelTier][]modelEntry

	sendHandlers map[string]SendHandler

	started bool
	// failedServices names services whose Initialize/Start errored during
	// Init, keyed by service name, value the error text. Init skips them
	// and runs degraded rather than aborting; Teardown skips Stop for them.
	failedServices map[string]string
	startedNames   map[string]bool
}

// New constructs a Kernel for the given agent and character. settings is
// copied; environment variables are applied afterward via ApplyEnvOverrides.
func New(agentID uuid.UUID, character Character, settings map[string]any) *Kernel {
	k := &Kernel{
		agentID:        agentID,
		character:      character,
		settings:       map[string]any{},
		actions:        map[string]Action{},
		evaluators:     map[string]Evaluator{},
		models:         map[provider.ModelTier][]modelEntry{},
		sendHandlers:   map[string]SendHandler{},
		failedServices: map[string]string{},
		startedNames:   map[string]bool{},
	}
	for k2, v := range settings {
		k.settings[k2] = v
	}
	k.mirrorUppercaseAliases()
	return k
}

// mirrorUppercaseAliases re-stores each present key of the fixed key set under
// its uppercase form. Every key in uppercaseAliasKeys is already uppercase, so
// this writes each value back under its own name; lowercase spellings such as
// "model_provider" are not aliased. Called under write lock by callers that hold
// it already (New does not need the lock since the kernel isn't published yet).
func (k *Kernel) mirrorUppercaseAliases() {
	for _, key := range uppercaseAliasKeys {
		if v, ok := k.settings[key]; ok {
			k.settings[toUpper(key)] = v
		}
	}
}

func toUpper(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - ('a' - 'A')
		}
	}
	return string(b)
}

// ApplyEnvOverrides overrides settings for the fixed documented key set from
// env: for every key in uppercaseAliasKeys (including non-credential keys such
// as MAX_TOKENS) a value present in env replaces the setting; env entries for
// any other key are ignored, so character.settings keeps everything else.
// env is a KEY -> VALUE map, not the os.Environ()-shaped slice that
// provider.StripDangerousEnv takes.
func (k *Kernel) ApplyEnvOverrides(env map[string]string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	for _, key := range uppercaseAliasKeys {
		if v, ok := env[key]; ok {
			k.settings[key] = v
		}
	}
	k.mirrorUppercaseAliases()
}

// Setting reads a settings value under the read lock.
func (k *Kernel) Setting(key string) (any, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	v, ok := k.settings[key]
	return v, ok
}

// AgentID returns the kernel's owning agent ID.
func (k *Kernel) AgentID() uuid.UUID { return k.agentID }

// Character returns a copy of the kernel's character.
func (k *Kernel) Character() Character {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.character
}

// RegisterProvider adds a provider to the priority-ordered registry.
// MUST NOT be called while any read-lock holder is mid-dispatch into a
// plugin that might re-enter the kernel — callers serialize registration
// during the init phase before Start.
func (k *Kernel) RegisterProvider(p provider.Provider) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.providers = append(k.providers, &provider.RegistryEntry{Name: p.Name(), Priority: p.Priority(), Provider: p})
	sort.SliceStable(k.providers, func(i, j int) bool { return k.providers[i].Priority > k.providers[j].Priority })
}

// Providers returns a snapshot of the priority-ordered provider registry.
func (k *Kernel) Providers() []*provider.RegistryEntry {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make([]*provider.RegistryEntry, len(k.providers))
	copy(out, k.providers)
	return out
}

// RegisterModel binds a named, prioritized provider into a model-tier slot.
func (k *Kernel) RegisterModel(tier provider.ModelTier, name string, priority int, p provider.Provider) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.models[tier] = append(k.models[tier], modelEntry{name: name, priority: priority, p: p})
	entries := k.models[tier]
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].priority > entries[j].priority })
}

// ModelsForTier returns the priority-ordered providers registered for tier.
func (k *Kernel) ModelsForTier(tier provider.ModelTier) []provider.Provider {
	k.mu.RLock()
	defer k.mu.RUnlock()
	entries := k.models[tier]
	out := make([]provider.Provider, len(entries))
	for i, e := range entries {
		out[i] = e.p
	}
	return out
}

// RegisterAction adds a named action.
func (k *Kernel) RegisterAction(name string, a Action) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.actions[name] = a
}

// Action looks up a registered action by name.
func (k *Kernel) Action(name string) (Action, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	a, ok := k.actions[name]
	return a, ok
}

// RegisterEvaluator adds a named evaluator.
func (k *Kernel) RegisterEvaluator(name string, e Evaluator) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.evaluators[name] = e
}

// RegisterSendHandler binds a delivery function to a source name.
func (k *Kernel) RegisterSendHandler(source string, h SendHandler) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.sendHandlers[source] = h
}

// SendHandlerFor returns the delivery function registered for source.
func (k *Kernel) SendHandlerFor(source string) (SendHandler, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	h, ok := k.sendHandlers[source]
	return h, ok
}

// SetAdapter installs the shared storage handle. Must be called before Init.
func (k *Kernel) SetAdapter(s storage.Store) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.adapter = s
}

// Adapter returns the shared storage handle, or nil if none is configured.
func (k *Kernel) Adapter() storage.Store {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.adapter
}

// RegisterPlugin queues a plugin to run during Init, in declaration order.
func (k *Kernel) RegisterPlugin(p Plugin) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.plugins = append(k.plugins, p)
}

// RegisterService queues a service to run during Init/Start, in declaration order.
func (k *Kernel) RegisterService(s Service) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.services = append(k.services, s)
}

// Init runs the deterministic startup sequence from spec §4.3: (1) storage
// adapter migrations if present; (2) each plugin's Init hook in declaration
// order; (3) each service's Initialize then Start. It does not hold the
// kernel lock while calling into plugins or services, since those may
// themselves call back into the kernel.
//
// Per spec §4.8, a service that fails to start logs an error and is
// skipped rather than aborting the whole sequence; the runtime continues
// with degraded health, surfaced later through HealthCheck. Init only
// fails outright for a storage-migration error, a plugin-init error (those
// may register the providers/services everything else depends on), or if
// every registered service failed to start.
func (k *Kernel) Init(ctx context.Context) error {
	k.mu.Lock()
	if k.started {
		k.mu.Unlock()
		return fmt.Errorf("kernel: already started")
	}
	adapter := k.adapter
	plugins := append([]Plugin(nil), k.plugins...)
	services := append([]Service(nil), k.services...)
	k.mu.Unlock()

	log := obslog.With("kernel")

	if adapter != nil {
		if _, err := adapter.RunPluginMigrations(ctx, storage.MigrationSet{}); err != nil {
			return fmt.Errorf("kernel: storage migrations: %w", err)
		}
	}

	for _, p := range plugins {
		if err := p.Init(ctx, k); err != nil {
			return fmt.Errorf("kernel: plugin %q init: %w", p.Name(), err)
		}
		log.Debug().Str("plugin", p.Name()).Msg("plugin initialized")
	}

	failed := map[string]string{}
	startedNames := map[string]bool{}
	for _, s := range services {
		if err := s.Initialize(ctx); err != nil {
			log.Error().Err(err).Str("service", s.Name()).Msg("service initialize failed, skipping")
			failed[s.Name()] = err.Error()
			continue
		}
		if err := s.Start(ctx); err != nil {
			log.Error().Err(err).Str("service", s.Name()).Msg("service start failed, skipping")
			failed[s.Name()] = err.Error()
			continue
		}
		startedNames[s.Name()] = true
		log.Debug().Str("service", s.Name()).Msg("service started")
	}
	if len(services) > 0 && len(startedNames) == 0 {
		return fmt.Errorf("kernel: all %d service(s) failed to start", len(services))
	}

	k.mu.Lock()
	k.started = true
	k.failedServices = failed
	k.startedNames = startedNames
	k.mu.Unlock()
	return nil
}

// Teardown reverses Init's order: services stop first, then plugins destroy.
// Services that never started (per Init's failedServices) are skipped.
func (k *Kernel) Teardown(ctx context.Context) error {
	k.mu.Lock()
	services := append([]Service(nil), k.services...)
	plugins := append([]Plugin(nil), k.plugins...)
	startedNames := k.startedNames
	k.started = false
	k.mu.Unlock()

	var firstErr error
	for i := len(services) - 1; i >= 0; i-- {
		if !startedNames[services[i].Name()] {
			continue
		}
		if err := services[i].Stop(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("kernel: service %q stop: %w", services[i].Name(), err)
		}
	}
	for i := len(plugins) - 1; i >= 0; i-- {
		if err := plugins[i].Destroy(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("kernel: plugin %q destroy: %w", plugins[i].Name(), err)
		}
	}
	return firstErr
}

// HealthCheck polls registered services and rolls their status into a
// single report: any service that failed to start in Init, or that now
// reports !IsRunning()/a non-Healthy HealthCheck, degrades the kernel's
// overall status rather than staying invisible.
func (k *Kernel) HealthCheck(ctx context.Context) HealthReport {
	k.mu.RLock()
	started := k.started
	adapter := k.adapter
	services := append([]Service(nil), k.services...)
	failed := k.failedServices
	k.mu.RUnlock()

	if !started {
		return HealthReport{Status: Unhealthy, Details: map[string]string{"kernel": "not started"}}
	}

	details := map[string]string{}
	status := Healthy

	if adapter != nil && !adapter.IsReady(ctx) {
		status = Degraded
		details["storage"] = "not ready"
	}
	for name, reason := range failed {
		status = Degraded
		details["service:"+name] = "failed to start: " + reason
	}
	for _, s := range services {
		if _, alreadyFailed := failed[s.Name()]; alreadyFailed {
			continue
		}
		if !s.IsRunning() {
			status = Degraded
			details["service:"+s.Name()] = "not running"
			continue
		}
		if h := s.HealthCheck(ctx); h != Healthy {
			if h == Unhealthy {
				status = Unhealthy
			} else if status != Unhealthy {
				status = Degraded
			}
			details["service:"+s.Name()] = string(h)
		}
	}
	return HealthReport{Status: status, Details: details}
}
