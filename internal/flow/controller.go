package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/study-buddy/internal/agent"
	"github.com/ashureev/study-buddy/internal/domain"
	"github.com/ashureev/study-buddy/internal/session"
	"github.com/ashureev/study-buddy/internal/signal"
	"github.com/ashureev/study-buddy/internal/store"
	"golang.org/x/sync/errgroup"
)

// Env holds the per-device collaborators of a page.
type Env struct {
	DeviceID string
	Sessions *session.Store
	Signals  *signal.Channel
	Agent    *agent.Service
	// AutoTriggerDelay is waited after the context load and before an
	// automatic action runs.
	AutoTriggerDelay time.Duration
	Logger           *slog.Logger
}

// NewEnv builds the environment of deviceID on top of kv.
func NewEnv(kv store.KV, deviceID string, svc *agent.Service, autoTriggerDelay time.Duration, logger *slog.Logger) *Env {
	if logger == nil {
		logger = slog.Default()
	}
	ns := store.Scope(kv, deviceID)
	return &Env{
		DeviceID:         deviceID,
		Sessions:         session.New(ns, session.WithLogger(logger)),
		Signals:          signal.NewChannel(ns, signal.WithLogger(logger)),
		Agent:            svc,
		AutoTriggerDelay: autoTriggerDelay,
		Logger:           logger,
	}
}

func (e *Env) logger() *slog.Logger {
	if e.Logger == nil {
		return slog.Default()
	}
	return e.Logger
}

// Status is the mount state of a page.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusNotStarted Status = "not_started"
	StatusLoading    Status = "loading"
	StatusReady      Status = "ready"
)

// Action is a user request sent to a mounted page.
type Action struct {
	Type       string `json:"type"`
	Text       string `json:"text,omitempty"`
	QuestionID int64  `json:"question_id,omitempty"`
	Option     int    `json:"option,omitempty"`
	TaskID     int64  `json:"task_id,omitempty"`
	Mode       string `json:"mode,omitempty"`
}

// Action types.
const (
	ActionSend         = "send"
	ActionGenerate     = "generate"
	ActionGenerateWeak = "generate_weak"
	ActionAnswer       = "answer"
	ActionAnalyze      = "analyze"
	ActionToggle       = "toggle"
	ActionLearn        = "learn"
	ActionGoQuiz       = "go_quiz"
	ActionGoAnalysis   = "go_analysis"
	ActionGoRoadmap    = "go_roadmap"
)

// View is what the client renders.
type View struct {
	Page      string          `json:"page"`
	Stage     string          `json:"stage"`
	Status    Status          `json:"status"`
	SessionID string          `json:"session_id,omitempty"`
	Busy      bool            `json:"busy"`
	Error     string          `json:"error,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// autoAction is the work a consumed signal asks for.
type autoAction func(ctx context.Context) error

type page interface {
	stage() Stage
	// load fetches durable context for sessionID.
	load(ctx context.Context, sessionID string) error
	// take consumes the page's signal, if it has one.
	take(ctx context.Context) (autoAction, bool, error)
	handle(ctx context.Context, a Action) (*Navigation, error)
	// data returns the page-specific part of the view.
	data() any
}

// Controller runs one mounted page instance. Operations (mount, automatic
// actions and user actions) run one at a time.
type Controller struct {
	env      *Env
	page     page
	onChange func(View)

	opMu sync.Mutex

	mu            sync.Mutex
	status        Status
	sessionID     string
	busy          bool
	errText       string
	autoTriggered bool
}

// NewController creates the controller for the named page. onChange
// receives a fresh view after every state change and may be nil.
func NewController(pageName string, env *Env, onChange func(View)) (*Controller, error) {
	st, ok := StageForPage(pageName)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPage, pageName)
	}
	c := &Controller{env: env, onChange: onChange, status: StatusIdle}
	switch st {
	case StageLearn:
		c.page = newTutorPage(env, c.notify)
	case StageQuiz:
		c.page = newQuizPage(env, c.notify)
	case StageAnalyze:
		c.page = newAnalyticsPage(env, c.notify)
	case StageRoadmap:
		c.page = newRoadmapPage(env, c.notify)
	}
	return c, nil
}

// Stage returns the stage served by this page.
func (c *Controller) Stage() Stage {
	return c.page.stage()
}

// Mount loads the page context and, concurrently, consumes the page's
// signal. A consumed signal starts its automatic action once the load has
// finished (or failed) and the configured delay has passed. The automatic
// action runs at most once per controller. Without a current session the
// page is marked not started and nothing else happens.
//
// Load failures are shown inline and do not fail Mount; cancelling ctx
// abandons everything still in flight.
func (c *Controller) Mount(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	sessionID, ok, err := c.env.Sessions.Current(ctx)
	if err != nil {
		return fmt.Errorf("read current session: %w", err)
	}
	if !ok {
		c.update(func() {
			c.status = StatusNotStarted
			c.sessionID = ""
		})
		return nil
	}
	c.update(func() {
		c.status = StatusLoading
		c.sessionID = sessionID
		c.errText = ""
	})

	c.mu.Lock()
	alreadyTriggered := c.autoTriggered
	c.mu.Unlock()

	var auto autoAction
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := c.page.load(gctx, sessionID); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.env.logger().Warn("page context load failed", "device_id", c.env.DeviceID, "page", c.page.stage().Page(), "error", err)
			c.update(func() { c.errText = err.Error() })
		}
		return nil
	})
	if !alreadyTriggered {
		g.Go(func() error {
			action, ok, err := c.page.take(gctx)
			if err != nil {
				return fmt.Errorf("take signal: %w", err)
			}
			if ok {
				auto = action
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	c.update(func() { c.status = StatusReady })

	if auto == nil {
		return nil
	}
	c.mu.Lock()
	if c.autoTriggered {
		c.mu.Unlock()
		return nil
	}
	c.autoTriggered = true
	c.mu.Unlock()

	if d := c.env.AutoTriggerDelay; d > 0 {
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	c.env.logger().Info("running automatic action", "device_id", c.env.DeviceID, "page", c.page.stage().Page())
	c.run(ctx, auto)
	return ctx.Err()
}

// Do runs a user action. A returned navigation means the client must
// reload into another page.
func (c *Controller) Do(ctx context.Context, a Action) (*Navigation, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	var nav *Navigation
	err := c.run(ctx, func(ctx context.Context) error {
		var err error
		nav, err = c.page.handle(ctx, a)
		return err
	})

	// An action may have created or adopted a session.
	if sid, ok, curErr := c.env.Sessions.Current(ctx); curErr == nil && ok {
		c.update(func() {
			c.sessionID = sid
			if c.status == StatusNotStarted || c.status == StatusIdle {
				c.status = StatusReady
			}
		})
	}
	if err != nil {
		return nil, err
	}
	return nav, nil
}

func (c *Controller) run(ctx context.Context, fn func(context.Context) error) error {
	c.update(func() {
		c.busy = true
		c.errText = ""
	})
	err := fn(ctx)
	c.update(func() {
		c.busy = false
		if err != nil && ctx.Err() == nil {
			c.errText = err.Error()
		}
	})
	if err != nil && !errors.Is(err, context.Canceled) {
		c.env.logger().Warn("page action failed", "device_id", c.env.DeviceID, "page", c.page.stage().Page(), "error", err)
	}
	return err
}

// AutoTriggered reports whether the automatic action has been started.
func (c *Controller) AutoTriggered() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.autoTriggered
}

// View returns the current view.
func (c *Controller) View() View {
	c.mu.Lock()
	v := View{
		Page:      c.page.stage().Page(),
		Stage:     c.page.stage().String(),
		Status:    c.status,
		SessionID: c.sessionID,
		Busy:      c.busy,
		Error:     c.errText,
	}
	c.mu.Unlock()

	if raw, err := json.Marshal(c.page.data()); err == nil {
		v.Data = raw
	}
	return v
}

func (c *Controller) update(fn func()) {
	c.mu.Lock()
	fn()
	c.mu.Unlock()
	c.notify()
}

func (c *Controller) notify() {
	if c.onChange != nil {
		c.onChange(c.View())
	}
}

// base carries what every page shares.
type base struct {
	env    *Env
	notify func()
	mu     sync.Mutex
}

func (b *base) currentSession(ctx context.Context) (string, error) {
	sid, _, err := b.env.Sessions.Current(ctx)
	return sid, err
}

// invoke calls the agent in the current session and adopts a session the
// backend hands out.
func (b *base) invoke(ctx context.Context, task agent.Task, input string, history []domain.Message) (*agent.Response, error) {
	sid, err := b.currentSession(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := b.env.Agent.InvokeAs(ctx, b.env.DeviceID, b.env.Sessions, agent.Request{
		Task:      task,
		Input:     input,
		History:   history,
		SessionID: sid,
	})
	if err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return resp, nil
}
