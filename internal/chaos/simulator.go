package chaos

import (
	"fmt"
	"math/rand"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/kursadbilgin/relay-guard/internal/domain"
	"github.com/kursadbilgin/relay-guard/internal/ratelimit"
)

// Scenario names the fault a drill injects.
type Scenario string

const (
	ScenarioProviderDown Scenario = "provider_down"
	ScenarioSlow         Scenario = "slow"
	ScenarioRateLimited  Scenario = "rate_limited"
	ScenarioPartialFail  Scenario = "partial_fail"
)

func (s Scenario) IsValid() bool {
	switch s {
	case ScenarioProviderDown, ScenarioSlow, ScenarioRateLimited, ScenarioPartialFail:
		return true
	}
	return false
}

const (
	envNodeEnv      = "NODE_ENV"
	envVercelEnv    = "VERCEL_ENV"
	envAzureFuncEnv = "AZURE_FUNCTIONS_ENVIRONMENT"
	envChaosEnabled = "CHAOS_MODE_ENABLED"

	defaultLatencyMs      = 2000
	defaultFailurePercent = 50
	defaultRetryAfterMs   = 30_000
)

// Config describes one drill. In-memory only, destroyed on Disable or
// process restart.
type Config struct {
	Scenario        Scenario `json:"scenario"`
	TargetProviders []string `json:"targetProviders,omitempty"`
	TargetTenants   []string `json:"targetTenants,omitempty"`
	LatencyMs       int64    `json:"latencyMs,omitempty"`
	FailurePercent  float64  `json:"failurePercent,omitempty"`
	RetryAfterMs    int64    `json:"retryAfterMs,omitempty"`
}

// Interception is the simulator's verdict for one attempt. When
// Intercepted is true the real adapter must not be called and Result
// stands in for its response. A slow drill never intercepts; it reports
// the delay the caller should apply before the real call.
type Interception struct {
	Intercepted bool
	Scenario    Scenario
	DelayMs     int64
	OK          bool
	ErrorMsg    string
	RateLimit   *ratelimit.Info
}

// Simulator is the process-local chaos singleton. The environment guard
// is evaluated on every Enable against the live environment, never a
// cached config snapshot.
type Simulator struct {
	logger    *zap.Logger
	getenv    func(string) string
	randFloat func() float64

	mu     sync.RWMutex
	active *Config
}

func New(logger *zap.Logger) *Simulator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Simulator{
		logger:    logger,
		getenv:    os.Getenv,
		randFloat: rand.Float64,
	}
}

// IsAllowed reports whether chaos may run in this environment. Three
// independent production signals each veto on their own, regardless of
// the enable flag.
func (s *Simulator) IsAllowed() bool {
	if s.getenv(envNodeEnv) == "production" {
		return false
	}
	if s.getenv(envVercelEnv) == "production" {
		return false
	}
	if s.getenv(envAzureFuncEnv) == "Production" {
		return false
	}
	return s.getenv(envChaosEnabled) == "true"
}

// Enable activates a drill. There is no way to force-enable chaos in a
// production environment through this API.
func (s *Simulator) Enable(cfg Config) error {
	if !s.IsAllowed() {
		return fmt.Errorf("%w: chaos mode is not allowed in this environment", domain.ErrChaosForbidden)
	}
	if !cfg.Scenario.IsValid() {
		return fmt.Errorf("%w: unknown chaos scenario %q", domain.ErrValidation, cfg.Scenario)
	}

	if cfg.LatencyMs <= 0 {
		cfg.LatencyMs = defaultLatencyMs
	}
	if cfg.FailurePercent <= 0 || cfg.FailurePercent > 100 {
		cfg.FailurePercent = defaultFailurePercent
	}
	if cfg.RetryAfterMs <= 0 {
		cfg.RetryAfterMs = defaultRetryAfterMs
	}

	s.mu.Lock()
	s.active = &cfg
	s.mu.Unlock()

	s.logger.Warn("chaos mode enabled",
		zap.String("scenario", string(cfg.Scenario)),
		zap.Strings("targetProviders", cfg.TargetProviders),
		zap.Strings("targetTenants", cfg.TargetTenants),
	)
	return nil
}

// Disable clears the active drill.
func (s *Simulator) Disable() {
	s.mu.Lock()
	wasActive := s.active != nil
	s.active = nil
	s.mu.Unlock()

	if wasActive {
		s.logger.Info("chaos mode disabled")
	}
}

// Status returns the active drill config, or nil when chaos is off.
func (s *Simulator) Status() *Config {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.active == nil {
		return nil
	}
	cfg := *s.active
	return &cfg
}

// Intercept is consulted before every real adapter call.
func (s *Simulator) Intercept(tenantID, provider string) *Interception {
	s.mu.RLock()
	cfg := s.active
	s.mu.RUnlock()

	if cfg == nil {
		return nil
	}
	if !inScope(cfg.TargetProviders, provider) || !inScope(cfg.TargetTenants, tenantID) {
		return nil
	}

	switch cfg.Scenario {
	case ScenarioProviderDown:
		return &Interception{
			Intercepted: true,
			Scenario:    cfg.Scenario,
			OK:          false,
			ErrorMsg:    fmt.Sprintf("chaos: provider %s is down", provider),
		}

	case ScenarioSlow:
		return &Interception{
			Intercepted: false,
			Scenario:    cfg.Scenario,
			DelayMs:     cfg.LatencyMs,
		}

	case ScenarioRateLimited:
		return &Interception{
			Intercepted: true,
			Scenario:    cfg.Scenario,
			OK:          false,
			ErrorMsg:    fmt.Sprintf("chaos: provider %s rate limited", provider),
			RateLimit: &ratelimit.Info{
				IsRateLimited: true,
				RetryAfterMs:  cfg.RetryAfterMs,
			},
		}

	case ScenarioPartialFail:
		if s.randFloat()*100 < cfg.FailurePercent {
			return &Interception{
				Intercepted: true,
				Scenario:    cfg.Scenario,
				OK:          false,
				ErrorMsg:    fmt.Sprintf("chaos: injected failure for provider %s", provider),
			}
		}
		return nil

	default:
		return nil
	}
}

// An empty filter list means "all".
func inScope(filter []string, value string) bool {
	if len(filter) == 0 {
		return true
	}
	for _, v := range filter {
		if strings.EqualFold(v, value) {
			return true
		}
	}
	return false
}
