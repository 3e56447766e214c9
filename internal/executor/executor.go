// Package executor invokes platform adapter functions. A Platform's function
// slot names either a module registered in an adapter.Registry or an HTTP
// endpoint; the executor resolves the slot, builds the "platform" argument
// from the shop or channel binding, bounds the call with a timeout, and
// normalizes every failure into an *AdapterError.
package executor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/openshiporg/openship-sub005/internal/adapter"
	"github.com/openshiporg/openship-sub005/internal/model"
)

// DefaultTimeout bounds each adapter invocation when Options.Timeout is zero.
const DefaultTimeout = 30 * time.Second

var errEmptyResult = errors.New("adapter returned no result")

// TokenSink persists tokens renewed by an adapter.TokenRefresher.
type TokenSink interface {
	SaveTokens(ctx context.Context, kind model.PlatformKind, id, accessToken, refreshToken string, expiresAt *time.Time) error
}

// Options configures an Executor. Zero values get defaults.
type Options struct {
	Registry   *adapter.Registry
	HTTPClient *http.Client
	Timeout    time.Duration
	// RemoteRateLimit is requests/second allowed per remote adapter URL.
	// Zero disables limiting.
	RemoteRateLimit float64
	RemoteRateBurst int
	Tokens          TokenSink
	Logger          *zap.Logger
}

// Executor dispatches adapter calls. Safe for concurrent use.
type Executor struct {
	registry  *adapter.Registry
	client    *http.Client
	timeout   time.Duration
	rateLimit rate.Limit
	rateBurst int
	tokens    TokenSink
	logger    *zap.Logger
	tracer    trace.Tracer
	now       func() time.Time

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
	limiters map[string]*rate.Limiter
}

func New(opts Options) *Executor {
	e := &Executor{
		registry:  opts.Registry,
		client:    opts.HTTPClient,
		timeout:   opts.Timeout,
		rateLimit: rate.Limit(opts.RemoteRateLimit),
		rateBurst: opts.RemoteRateBurst,
		tokens:    opts.Tokens,
		logger:    opts.Logger,
		tracer:    otel.Tracer("openship/executor"),
		now:       time.Now,
		breakers:  make(map[string]*gobreaker.CircuitBreaker),
		limiters:  make(map[string]*rate.Limiter),
	}
	if e.registry == nil {
		e.registry = adapter.NewRegistry()
	}
	if e.client == nil {
		e.client = &http.Client{}
	}
	if e.timeout <= 0 {
		e.timeout = DefaultTimeout
	}
	if e.rateBurst <= 0 {
		e.rateBurst = 1
	}
	if e.logger == nil {
		e.logger = zap.NewNop()
	}
	return e
}

// Registry returns the module registry used for local targets.
func (e *Executor) Registry() *adapter.Registry { return e.registry }

// invoke is the single dispatch path behind every typed method.
// build receives the platform argument (after any token refresh) and returns
// the request; local extracts the capability method from a module.
func invoke[Req, Res any](
	ctx context.Context,
	e *Executor,
	ep Endpoint,
	slot string,
	build func(adapter.PlatformConfig) *Req,
	local func(module any) (func(context.Context, *Req) (*Res, error), bool),
) (*Res, error) {
	target, err := Resolve(ep.Platform, slot)
	if err != nil {
		return nil, err
	}

	ctx, span := e.tracer.Start(ctx, "adapter."+slot, trace.WithAttributes(
		attribute.String("adapter.function", slot),
		attribute.String("adapter.module", target.String()),
		attribute.Bool("adapter.remote", target.Kind == Remote),
	))
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	var res *Res
	if target.Kind == Remote {
		res, err = callRemote[Res](ctx, e, target, slot, build(adapter.ConfigFor(ep.Binding, ep.Platform)))
	} else {
		res, err = invokeLocal(ctx, e, ep, target, slot, build, local)
	}
	if err == nil && res == nil {
		err = &AdapterError{Cause: CauseAdapter, Function: slot, Module: target.String(), Err: errEmptyResult}
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		e.logger.Debug("adapter call failed",
			zap.String("function", slot),
			zap.String("module", target.String()),
			zap.Error(err))
		return nil, err
	}
	return res, nil
}

func invokeLocal[Req, Res any](
	ctx context.Context,
	e *Executor,
	ep Endpoint,
	target Target,
	slot string,
	build func(adapter.PlatformConfig) *Req,
	local func(module any) (func(context.Context, *Req) (*Res, error), bool),
) (*Res, error) {
	module, ok := e.registry.Lookup(target.Module)
	if !ok {
		return nil, &AdapterError{Cause: CauseMissingFunction, Function: slot, Module: target.Module}
	}
	fn, ok := local(module)
	if !ok {
		return nil, &AdapterError{Cause: CauseMissingFunction, Function: slot, Module: target.Module}
	}
	cfg, err := e.platformConfig(ctx, ep, target, module)
	if err != nil {
		return nil, err
	}
	req := build(cfg)
	return runLocal(ctx, target, slot, func(ctx context.Context) (*Res, error) {
		return fn(ctx, req)
	})
}

type outcome[Res any] struct {
	res *Res
	err error
}

// runLocal runs fn on its own goroutine so that an adapter ignoring ctx
// still fails the call at the deadline. Panics become adapter errors.
func runLocal[Res any](ctx context.Context, target Target, slot string, fn func(context.Context) (*Res, error)) (*Res, error) {
	done := make(chan outcome[Res], 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- outcome[Res]{err: fmt.Errorf("panic: %v", p)}
			}
		}()
		res, err := fn(ctx)
		done <- outcome[Res]{res: res, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			return nil, classify(out.err, target, slot)
		}
		return out.res, nil
	case <-ctx.Done():
		return nil, classify(ctx.Err(), target, slot)
	}
}

func classify(err error, target Target, slot string) error {
	var ae *AdapterError
	if errors.As(err, &ae) {
		return err
	}
	cause := CauseAdapter
	if errors.Is(err, context.DeadlineExceeded) {
		cause = CauseTimeout
	}
	return &AdapterError{Cause: cause, Function: slot, Module: target.String(), Err: err}
}

// platformConfig builds the platform argument, renewing an expired access
// token first when the module supports it.
func (e *Executor) platformConfig(ctx context.Context, ep Endpoint, target Target, module any) (adapter.PlatformConfig, error) {
	cfg := adapter.ConfigFor(ep.Binding, ep.Platform)
	refresher, ok := module.(adapter.TokenRefresher)
	if !ok || !ep.Binding.TokenExpired(e.now()) {
		return cfg, nil
	}

	tokens, err := runLocal(ctx, target, "refreshToken", func(ctx context.Context) (*adapter.OAuthTokens, error) {
		return refresher.RefreshToken(ctx, cfg)
	})
	if err != nil {
		return cfg, err
	}
	if tokens == nil || tokens.AccessToken == "" {
		return cfg, &AdapterError{Cause: CauseAdapter, Function: "refreshToken", Module: target.String(), Err: errEmptyResult}
	}

	cfg.AccessToken = tokens.AccessToken
	if tokens.RefreshToken != "" {
		cfg.RefreshToken = tokens.RefreshToken
	}
	cfg.TokenExpiresAt = tokens.ExpiresAt(e.now())

	if e.tokens != nil && ep.ID != "" {
		if err := e.tokens.SaveTokens(ctx, ep.Kind, ep.ID, cfg.AccessToken, cfg.RefreshToken, cfg.TokenExpiresAt); err != nil {
			e.logger.Warn("failed to persist refreshed token",
				zap.String("kind", string(ep.Kind)),
				zap.String("id", ep.ID),
				zap.Error(err))
		}
	}
	return cfg, nil
}

func (e *Executor) breaker(url string) *gobreaker.CircuitBreaker {
	e.mu.Lock()
	defer e.mu.Unlock()
	if cb, ok := e.breakers[url]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        url,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			e.logger.Warn("adapter circuit state changed",
				zap.String("url", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
	e.breakers[url] = cb
	return cb
}

// limiter returns nil when remote rate limiting is disabled.
func (e *Executor) limiter(url string) *rate.Limiter {
	if e.rateLimit <= 0 {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if l, ok := e.limiters[url]; ok {
		return l
	}
	l := rate.NewLimiter(e.rateLimit, e.rateBurst)
	e.limiters[url] = l
	return l
}
