package widget

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/agent-widgets/internal/agent"
	"github.com/ashureev/agent-widgets/internal/domain"
	"github.com/ashureev/agent-widgets/internal/tour"
)

var (
	// ErrEmptyInput is returned when typed input is blank. Nothing is sent.
	ErrEmptyInput = errors.New("empty input")
	// ErrBusy is returned when a send is refused because another is in flight.
	ErrBusy = errors.New("a reply is still pending")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("widget closed")
	// ErrInvalidStep is returned for step numbers outside the step selector.
	ErrInvalidStep = errors.New("invalid tour step")
	// ErrUnknownQuickAction is returned for labels that are not quick actions.
	ErrUnknownQuickAction = errors.New("unknown quick action")
)

// InputKind says how a user turn was produced.
type InputKind int

const (
	// InputTyped is free text from the input box.
	InputTyped InputKind = iota
	// InputQuickAction is a quick-action button.
	InputQuickAction
	// InputNext is the tour Next button.
	InputNext
	// InputPrev is the tour Prev button.
	InputPrev
	// InputStep is a step-selector button.
	InputStep
)

// Input is one user-triggered send.
type Input struct {
	Kind InputKind
	Text string // typed text or quick-action label
	Step int    // for InputStep
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithSerializedSends makes every send path refuse to start while a reply is
// pending. By default only typed input checks the busy flag.
func WithSerializedSends(on bool) Option {
	return func(c *Controller) { c.serialize = on }
}

// WithPhrasing overrides the tour phrasing adapter.
func WithPhrasing(p tour.Phrasing) Option {
	return func(c *Controller) { c.phrasing = p }
}

// WithLogger sets the logger used for failed turns.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// Controller owns one widget instance's conversation. All methods are safe for
// concurrent use; the remote call runs without holding the lock.
type Controller struct {
	cfg       Config
	completer agent.Completer
	phrasing  tour.Phrasing
	now       func() time.Time
	serialize bool
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu               sync.Mutex
	conv             *domain.Conversation
	machine          *tour.Machine
	inFlight         int
	generation       uint64
	version          uint64
	showQuickActions bool
	closed           bool

	subMu    sync.Mutex // taken before mu, never after
	subs     map[int]chan Snapshot
	nextSub  int
	subsDone bool
}

// NewController creates a controller with a freshly greeted conversation.
func NewController(cfg Config, completer agent.Completer, opts ...Option) *Controller {
	c := &Controller{
		cfg:              cfg,
		completer:        completer,
		now:              time.Now,
		logger:           slog.Default(),
		showQuickActions: true,
		subs:             make(map[int]chan Snapshot),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.machine = tour.NewMachine(c.phrasing)
	c.conv = domain.NewConversation(c.now())
	c.machine.Observe(c.mustLast())
	return c
}

// Config returns the widget configuration.
func (c *Controller) Config() Config { return c.cfg }

// SendMessage appends a user turn with text and waits for the agent's reply.
// Failures are turned into fallback assistant messages; only ErrClosed,
// ErrBusy (serialized mode) and cancellation are returned.
func (c *Controller) SendMessage(ctx context.Context, text string) error {
	call, err := c.begin(text, false, false)
	if err != nil {
		return err
	}
	return call.run(ctx)
}

// SubmitTypedInput sends text typed by the user. Blank text (ErrEmptyInput)
// and submits while a reply is pending (ErrBusy) append nothing.
func (c *Controller) SubmitTypedInput(ctx context.Context, text string) error {
	return c.Send(ctx, Input{Kind: InputTyped, Text: text})
}

// TriggerQuickAction sends the canned message of a quick action.
func (c *Controller) TriggerQuickAction(ctx context.Context, label string) error {
	return c.Send(ctx, Input{Kind: InputQuickAction, Text: label})
}

// ClickNext sends "next".
func (c *Controller) ClickNext(ctx context.Context) error {
	return c.Send(ctx, Input{Kind: InputNext})
}

// ClickPrev sends "prev".
func (c *Controller) ClickPrev(ctx context.Context) error {
	return c.Send(ctx, Input{Kind: InputPrev})
}

// SelectStep sends the step number as text.
func (c *Controller) SelectStep(ctx context.Context, n int) error {
	return c.Send(ctx, Input{Kind: InputStep, Step: n})
}

// Send applies in and waits for the reply.
func (c *Controller) Send(ctx context.Context, in Input) error {
	call, err := c.beginInput(in)
	if err != nil {
		return err
	}
	return call.run(ctx)
}

// Dispatch applies in and returns once the user turn is appended. The reply
// arrives in the background and is announced to subscribers.
func (c *Controller) Dispatch(in Input) error {
	call, err := c.beginInput(in)
	if err != nil {
		return err
	}
	go func() {
		if err := call.run(context.Background()); err != nil && !isCancel(err) {
			c.logger.Warn("Background send failed", "widget_id", c.cfg.ID, "error", err)
		}
	}()
	return nil
}

// ExitTour appends the exit sentinel locally and re-shows quick actions.
func (c *Controller) ExitTour() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.appendLocked(domain.NewAssistantMessage(domain.ExitSentinel, c.now()))
	c.showQuickActions = true
	c.mu.Unlock()
	c.publish()
}

// Reset restores the single greeting. Replies still pending for the old
// conversation are discarded when they arrive.
func (c *Controller) Reset() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.conv.Reset(c.now())
	c.machine.Reset()
	c.machine.Observe(c.mustLast())
	c.generation++
	c.version++
	c.showQuickActions = true
	c.mu.Unlock()
	c.publish()
}

// Loading reports whether a reply is pending.
func (c *Controller) Loading() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inFlight > 0
}

// Messages returns a copy of the conversation.
func (c *Controller) Messages() []domain.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conv.Messages()
}

// TourState returns the current tour state.
func (c *Controller) TourState() tour.State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.machine.State()
}

// Close cancels pending calls, waits for background sends and ends all
// subscriptions. It is safe to call more than once.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()

	c.subMu.Lock()
	c.subsDone = true
	for id, ch := range c.subs {
		close(ch)
		delete(c.subs, id)
	}
	c.subMu.Unlock()
}

// pendingCall is a user turn that has been appended and awaits its reply.
type pendingCall struct {
	c          *Controller
	history    []domain.Message
	generation uint64
}

func (c *Controller) beginInput(in Input) (*pendingCall, error) {
	switch in.Kind {
	case InputTyped:
		if strings.TrimSpace(in.Text) == "" {
			return nil, ErrEmptyInput
		}
		return c.begin(in.Text, true, true)
	case InputQuickAction:
		qa, ok := LookupQuickAction(in.Text)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownQuickAction, in.Text)
		}
		return c.begin(qa.Message, true, false)
	case InputNext:
		return c.begin("next", false, false)
	case InputPrev:
		return c.begin("prev", false, false)
	case InputStep:
		if in.Step < 1 || in.Step >= tour.TerminalStep {
			return nil, fmt.Errorf("%w: %d", ErrInvalidStep, in.Step)
		}
		return c.begin(strconv.Itoa(in.Step), false, false)
	}
	return nil, fmt.Errorf("unknown input kind %d", in.Kind)
}

// begin appends the user turn and marks a call in flight. Guarded sends
// honour the busy flag; the rest do so only in serialized mode.
func (c *Controller) begin(text string, hideQuickActions, guarded bool) (*pendingCall, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	if c.inFlight > 0 && (c.serialize || guarded) {
		c.mu.Unlock()
		return nil, ErrBusy
	}
	if hideQuickActions {
		c.showQuickActions = false
	}
	c.appendLocked(domain.NewUserMessage(text))
	call := &pendingCall{c: c, history: c.conv.Messages(), generation: c.generation}
	c.inFlight++
	c.wg.Add(1)
	c.mu.Unlock()

	c.publish()
	return call, nil
}

func (p *pendingCall) run(ctx context.Context) error {
	c := p.c
	defer c.wg.Done()
	callCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(c.ctx, cancel)
	defer stop()

	reply, err := c.completer.Complete(callCtx, p.history)

	c.mu.Lock()
	c.inFlight--
	c.version++
	var result error
	var msg *domain.Message
	switch {
	case err == nil:
		m := domain.NewAssistantMessage(reply, c.now())
		msg = &m
	case callCtx.Err() != nil:
		result = callCtx.Err()
	case errors.Is(err, agent.ErrUnexpectedResponse):
		c.logger.Warn("Agent reply had no content", "widget_id", c.cfg.ID, "error", err)
		m := domain.NewAssistantMessage(domain.FallbackUnprocessable, c.now())
		msg = &m
	default:
		c.logger.Error("Error calling agent API", "widget_id", c.cfg.ID, "error", err)
		m := domain.NewUnstampedAssistantMessage(domain.FallbackConnection)
		msg = &m
	}
	if msg != nil && p.generation == c.generation && !c.closed {
		c.appendLocked(*msg)
	}
	c.mu.Unlock()

	c.publish()
	return result
}

func (c *Controller) appendLocked(msg domain.Message) {
	c.conv.Append(msg)
	c.machine.Observe(msg)
	c.version++
}

func (c *Controller) mustLast() domain.Message {
	m, _ := c.conv.Last()
	return m
}

func isCancel(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
