package app

import (
	"context"
	"io"
	"time"

	"github.com/voxmorph/voxmorph/internal/observe"
	"github.com/voxmorph/voxmorph/internal/resilience"
	"github.com/voxmorph/voxmorph/pkg/provider/voice"
)

// apiGuard fronts the provider's REST surface with a shared circuit breaker
// and per-request metrics. Streaming sessions are not guarded; an open
// breaker must never block hanging up a live call.
type apiGuard struct {
	cb      *resilience.CircuitBreaker
	metrics *observe.Metrics
	cloner  voice.Cloner
	agents  voice.AgentManager
}

var (
	_ voice.Cloner       = (*apiGuard)(nil)
	_ voice.AgentManager = (*apiGuard)(nil)
)

func newAPIGuard(c voice.Cloner, m voice.AgentManager, metrics *observe.Metrics, cb *resilience.CircuitBreaker) *apiGuard {
	return &apiGuard{cb: cb, metrics: metrics, cloner: c, agents: m}
}

// execute runs fn through the breaker and records the request outcome.
func execute[T any](g *apiGuard, ctx context.Context, kind string, fn func() (T, error)) (T, error) {
	var result T
	err := g.cb.Execute(func() error {
		var err error
		result, err = fn()
		return err
	})
	status := "ok"
	if err != nil {
		status = "error"
		g.metrics.RecordProviderError(ctx, "elevenlabs", kind)
	}
	g.metrics.RecordProviderRequest(ctx, "elevenlabs", kind, status)
	return result, err
}

func (g *apiGuard) CloneVoice(ctx context.Context, name string, sample io.Reader) (*voice.Voice, error) {
	start := time.Now()
	v, err := execute(g, ctx, "clone", func() (*voice.Voice, error) {
		return g.cloner.CloneVoice(ctx, name, sample)
	})
	if err == nil {
		g.metrics.CloneDuration.Record(ctx, time.Since(start).Seconds())
	}
	return v, err
}

func (g *apiGuard) DeleteVoice(ctx context.Context, voiceID string) error {
	_, err := execute(g, ctx, "delete_voice", func() (struct{}, error) {
		return struct{}{}, g.cloner.DeleteVoice(ctx, voiceID)
	})
	return err
}

func (g *apiGuard) ListVoices(ctx context.Context) ([]voice.Voice, error) {
	return execute(g, ctx, "list_voices", func() ([]voice.Voice, error) {
		return g.cloner.ListVoices(ctx)
	})
}

func (g *apiGuard) CreateAgent(ctx context.Context, cfg voice.AgentConfig) (*voice.Agent, error) {
	return execute(g, ctx, "create_agent", func() (*voice.Agent, error) {
		return g.agents.CreateAgent(ctx, cfg)
	})
}

func (g *apiGuard) UpdateAgentVoice(ctx context.Context, agentID, voiceID string) error {
	_, err := execute(g, ctx, "update_agent", func() (struct{}, error) {
		return struct{}{}, g.agents.UpdateAgentVoice(ctx, agentID, voiceID)
	})
	return err
}

func (g *apiGuard) ListAgents(ctx context.Context) ([]voice.Agent, error) {
	return execute(g, ctx, "list_agents", func() ([]voice.Agent, error) {
		return g.agents.ListAgents(ctx)
	})
}
