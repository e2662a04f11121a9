package kernel

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Agent-Zoey/Zoey-sub001/provider"
)

type fakeService struct {
	name                       string
	initErr, startErr, stopErr error
	initialized, started, stopped bool
	healthStatus HealthStatus
	order        *[]string
}

func (f *fakeService) record(step string) {
	if f.order != nil {
		*f.order = append(*f.order, step+":"+f.name)
	}
}

func (f *fakeService) Name() string { return f.name }
func (f *fakeService) Initialize(ctx context.Context) error {
	f.initialized = true
	f.record("init")
	return f.initErr
}
func (f *fakeService) Start(ctx context.Context) error {
	f.started = true
	f.record("start")
	return f.startErr
}
func (f *fakeService) Stop(ctx context.Context) error {
	f.stopped = true
	f.record("stop")
	return f.stopErr
}
func (f *fakeService) IsRunning() bool { return f.started && !f.stopped }
func (f *fakeService) HealthCheck(ctx context.Context) HealthStatus {
	if f.healthStatus == "" {
		return Healthy
	}
	return f.healthStatus
}

type fakePlugin struct {
	name             string
	initErr          error
	initialized, destroyed bool
	order            *[]string
}

func (p *fakePlugin) record(step string) {
	if p.order != nil {
		*p.order = append(*p.order, step+":"+p.name)
	}
}

func (p *fakePlugin) Name() string { return p.name }
func (p *fakePlugin) Init(ctx context.Context, k *Kernel) error {
	p.initialized = true
	p.record("init")
	return p.initErr
}
func (p *fakePlugin) Destroy(ctx context.Context) error {
	p.destroyed = true
	p.record("destroy")
	return nil
}

type fakeProvider struct {
	name     string
	priority int
}

func (f *fakeProvider) Name() string     { return f.name }
func (f *fakeProvider) Priority() int    { return f.priority }
func (f *fakeProvider) Capabilities() map[provider.Capability]bool {
	return map[provider.Capability]bool{provider.CapChat: true}
}
func (f *fakeProvider) Generate(ctx context.Context, p provider.GenerateParams) (provider.Result, error) {
	return provider.Result{Text: f.name}, nil
}
func (f *fakeProvider) GenerateStream(ctx context.Context, p provider.GenerateParams) (<-chan provider.Chunk, error) {
	return nil, nil
}
func (f *fakeProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) { return nil, nil }

func TestSettingsUppercaseMirroring(t *testing.T) {
	k := New(uuid.New(), Character{}, map[string]any{"model_provider": "openai"})
	_, ok := k.Setting("MODEL_PROVIDER")
	assert.False(t, ok, "mirroring only applies to the documented fixed-case keys, not arbitrary lowercase ones")

	k2 := New(uuid.New(), Character{}, map[string]any{"MODEL_PROVIDER": "openai"})
	v, ok := k2.Setting("MODEL_PROVIDER")
	require.True(t, ok)
	assert.Equal(t, "openai", v)
}

func TestApplyEnvOverrides(t *testing.T) {
	k := New(uuid.New(), Character{}, map[string]any{"MAX_TOKENS": "100"})
	k.ApplyEnvOverrides(map[string]string{"MAX_TOKENS": "200", "UNRELATED": "ignored"})
	v, ok := k.Setting("MAX_TOKENS")
	require.True(t, ok)
	assert.Equal(t, "200", v)
	_, ok = k.Setting("UNRELATED")
	assert.False(t, ok)
}

func TestProviderRegistryOrderedByPriority(t *testing.T) {
	k := New(uuid.New(), Character{}, nil)
	k.RegisterProvider(&fakeProvider{name: "low", priority: 1})
	k.RegisterProvider(&fakeProvider{name: "high", priority: 10})
	k.RegisterProvider(&fakeProvider{name: "mid", priority: 5})

	entries := k.Providers()
	require.Len(t, entries, 3)
	assert.Equal(t, "high", entries[0].Name)
	assert.Equal(t, "mid", entries[1].Name)
	assert.Equal(t, "low", entries[2].Name)
}

func TestModelTierRegistryOrderedByPriority(t *testing.T) {
	k := New(uuid.New(), Character{}, nil)
	k.RegisterModel(provider.TierTextSmall, "a", 1, &fakeProvider{name: "a"})
	k.RegisterModel(provider.TierTextSmall, "b", 9, &fakeProvider{name: "b"})

	models := k.ModelsForTier(provider.TierTextSmall)
	require.Len(t, models, 2)
	assert.Equal(t, "b", models[0].Name())
}

func TestInitRunsPluginsThenServicesInOrder(t *testing.T) {
	k := New(uuid.New(), Character{}, nil)
	var order []string
	plugin := &fakePlugin{name: "p1", order: &order}
	svc := &fakeService{name: "s1", order: &order}
	k.RegisterPlugin(plugin)
	k.RegisterService(svc)

	require.NoError(t, k.Init(context.Background()))
	assert.True(t, plugin.initialized)
	assert.True(t, svc.initialized)
	assert.True(t, svc.started)
	assert.Equal(t, []string{"init:p1", "init:s1", "start:s1"}, order)

	report := k.HealthCheck(context.Background())
	assert.Equal(t, Healthy, report.Status)
}

func TestInitSkipsFailedServiceAndRunsDegraded(t *testing.T) {
	k := New(uuid.New(), Character{}, nil)
	ok := &fakeService{name: "ok"}
	bad := &fakeService{name: "bad", startErr: assert.AnError}
	k.RegisterService(ok)
	k.RegisterService(bad)

	require.NoError(t, k.Init(context.Background()))
	assert.True(t, ok.started)
	assert.True(t, bad.started) // Start was attempted even though it errored

	report := k.HealthCheck(context.Background())
	assert.Equal(t, Degraded, report.Status)
	assert.Contains(t, report.Details, "service:bad")
}

func TestInitFailsWhenAllServicesFail(t *testing.T) {
	k := New(uuid.New(), Character{}, nil)
	k.RegisterService(&fakeService{name: "bad", startErr: assert.AnError})

	assert.Error(t, k.Init(context.Background()))
}

func TestInitRejectsDoubleStart(t *testing.T) {
	k := New(uuid.New(), Character{}, nil)
	require.NoError(t, k.Init(context.Background()))
	assert.Error(t, k.Init(context.Background()))
}

func TestHealthCheckUnhealthyBeforeInit(t *testing.T) {
	k := New(uuid.New(), Character{}, nil)
	report := k.HealthCheck(context.Background())
	assert.Equal(t, Unhealthy, report.Status)
}

func TestTeardownReversesOrder(t *testing.T) {
	k := New(uuid.New(), Character{}, nil)
	var order []string
	svc := &fakeService{name: "s1", order: &order}
	svc2 := &fakeService{name: "s2", order: &order}
	plugin := &fakePlugin{name: "p1", order: &order}
	plugin2 := &fakePlugin{name: "p2", order: &order}
	k.RegisterPlugin(plugin)
	k.RegisterPlugin(plugin2)
	k.RegisterService(svc)
	k.RegisterService(svc2)
	require.NoError(t, k.Init(context.Background()))
	order = nil

	require.NoError(t, k.Teardown(context.Background()))
	assert.True(t, svc.stopped)
	assert.True(t, plugin.destroyed)
	assert.Equal(t, []string{"stop:s2", "stop:s1", "destroy:p2", "destroy:p1"}, order)
}

func TestActionRegistry(t *testing.T) {
	k := New(uuid.New(), Character{}, nil)
	k.RegisterAction("ping", func(ctx context.Context, k *Kernel, args map[string]any) (any, error) {
		return "pong", nil
	})
	action, ok := k.Action("ping")
	require.True(t, ok)
	res, err := action(context.Background(), k, nil)
	require.NoError(t, err)
	assert.Equal(t, "pong", res)

	_, ok = k.Action("missing")
	assert.False(t, ok)
}

func TestSendHandlerRegistry(t *testing.T) {
	k := New(uuid.New(), Character{}, nil)
	var got string
	k.RegisterSendHandler("telegram", func(ctx context.Context, target, content string) error {
		got = target + ":" + content
		return nil
	})
	h, ok := k.SendHandlerFor("telegram")
	require.True(t, ok)
	require.NoError(t, h(context.Background(), "room1", "hello"))
	assert.Equal(t, "room1:hello", got)
}
