package dispatch

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/wolfman30/fieldhand/internal/audit"
	"github.com/wolfman30/fieldhand/internal/commands"
	"github.com/wolfman30/fieldhand/internal/identity"
	"github.com/wolfman30/fieldhand/internal/intent"
	"github.com/wolfman30/fieldhand/internal/registration"
	"github.com/wolfman30/fieldhand/internal/session"
	"github.com/wolfman30/fieldhand/pkg/logging"
)

const (
	defaultTimeout = 45 * time.Second
	failureTimeout = 10 * time.Second
)

// Deps are the collaborators a Pipeline needs. Images, Transcriber, Resumers,
// Failures, Deduper and Observer are optional.
type Deps struct {
	Store      session.Store
	Locker     session.Locker
	Directory  identity.Directory
	Invites    registration.Invites
	Classifier intent.Classifier
	Messenger  Messenger

	// Intents must cover intent.AllTags().
	Intents map[intent.Tag]IntentHandler
	// Buttons must cover HandlerPrefixes.
	Buttons map[string]ButtonHandler

	Images      ImageHandler
	Transcriber Transcriber
	Resumers    map[session.Tag]FreeTextResumer
	Failures    FailureRecorder
	Deduper     Deduper
	Observer    Observer
	Logger      *logging.Logger
	Tracer      trace.Tracer
}

// Pipeline processes inbound messages. It is safe for concurrent use; work
// for the same phone is serialized through the Locker.
type Pipeline struct {
	store       session.Store
	locker      session.Locker
	directory   identity.Directory
	invites     registration.Invites
	classifier  intent.Classifier
	messenger   Messenger
	intents     map[intent.Tag]IntentHandler
	buttons     map[string]ButtonHandler
	images      ImageHandler
	transcriber Transcriber
	resumers    map[session.Tag]FreeTextResumer
	failures    FailureRecorder
	deduper     Deduper
	observer    Observer
	logger      *logging.Logger
	tracer      trace.Tracer
	commands    *commands.Matcher

	timeout  time.Duration
	lockWait time.Duration
	now      func() time.Time
}

type PipelineOption func(*Pipeline)

// WithTimeout bounds the whole processing of one message. Zero disables it.
func WithTimeout(d time.Duration) PipelineOption {
	return func(p *Pipeline) {
		if d >= 0 {
			p.timeout = d
		}
	}
}

// WithLockWait bounds how long a message waits for the phone lock. Zero
// waits as long as the processing timeout allows.
func WithLockWait(d time.Duration) PipelineOption {
	return func(p *Pipeline) {
		if d >= 0 {
			p.lockWait = d
		}
	}
}

func WithClock(now func() time.Time) PipelineOption {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

func NewPipeline(deps Deps, opts ...PipelineOption) *Pipeline {
	switch {
	case deps.Store == nil:
		panic("dispatch: session store cannot be nil")
	case deps.Locker == nil:
		panic("dispatch: locker cannot be nil")
	case deps.Directory == nil:
		panic("dispatch: identity directory cannot be nil")
	case deps.Invites == nil:
		panic("dispatch: invites cannot be nil")
	case deps.Classifier == nil:
		panic("dispatch: classifier cannot be nil")
	case deps.Messenger == nil:
		panic("dispatch: messenger cannot be nil")
	}
	for _, tag := range intent.AllTags() {
		if deps.Intents[tag] == nil {
			panic(fmt.Sprintf("dispatch: no handler for intent %q", tag))
		}
	}
	for _, prefix := range HandlerPrefixes {
		if deps.Buttons[prefix] == nil {
			panic(fmt.Sprintf("dispatch: no handler for button prefix %q", prefix))
		}
	}
	if deps.Logger == nil {
		deps.Logger = logging.Default()
	}
	if deps.Observer == nil {
		deps.Observer = nopObserver{}
	}
	if deps.Tracer == nil {
		deps.Tracer = otel.Tracer("fieldhand.internal.dispatch")
	}

	p := &Pipeline{
		store:       deps.Store,
		locker:      deps.Locker,
		directory:   deps.Directory,
		invites:     deps.Invites,
		classifier:  deps.Classifier,
		messenger:   deps.Messenger,
		intents:     deps.Intents,
		buttons:     deps.Buttons,
		images:      deps.Images,
		transcriber: deps.Transcriber,
		resumers:    deps.Resumers,
		failures:    deps.Failures,
		deduper:     deps.Deduper,
		observer:    deps.Observer,
		logger:      deps.Logger,
		tracer:      deps.Tracer,
		commands:    commands.NewMatcher(),
		timeout:     defaultTimeout,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// failureContext is captured before the risky region so that reporting a
// failure never depends on the code that failed.
type failureContext struct {
	UserID       string
	TenantID     string
	Phone        string
	Channel      string
	OriginalText string
}

// Process handles one inbound message and always returns a terminal status.
// Errors and panics are audited and answered with an apology; they never
// reach the caller.
func (p *Pipeline) Process(ctx context.Context, msg InboundMessage) (status Status) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}
	ctx, span := p.tracer.Start(ctx, "dispatch.process", trace.WithAttributes(
		attribute.String("channel", msg.Channel),
		attribute.String("type", string(msg.Type)),
	))
	defer span.End()

	fc := p.capture(ctx, msg)
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("panic while processing message", "phone", fc.Phone, "panic", r, "stack", string(debug.Stack()))
			status = p.fail(ctx, fc, fmt.Errorf("dispatch: panic: %v", r), true)
		}
		span.SetAttributes(attribute.String("status", string(status)))
		p.observer.ObserveMessage(string(status))
	}()

	status, err := p.run(ctx, msg)
	if err != nil {
		span.RecordError(err)
		return p.fail(ctx, fc, err, false)
	}
	return status
}

func (p *Pipeline) capture(ctx context.Context, msg InboundMessage) (fc failureContext) {
	fc = failureContext{
		Phone:        msg.Phone,
		Channel:      msg.Channel,
		OriginalText: originalText(msg),
	}
	defer func() {
		_ = recover()
	}()
	if actor, err := p.directory.Resolve(ctx, msg.Phone); err == nil && actor != nil {
		fc.UserID = actor.UserID
		fc.TenantID = actor.TenantID
	}
	return fc
}

func originalText(msg InboundMessage) string {
	switch {
	case msg.Text != "":
		return msg.Text
	case msg.ButtonID != "":
		return msg.ButtonID
	default:
		return msg.MediaRef
	}
}

func (p *Pipeline) run(ctx context.Context, msg InboundMessage) (Status, error) {
	lockCtx, cancelWait := ctx, context.CancelFunc(func() {})
	if p.lockWait > 0 {
		lockCtx, cancelWait = context.WithTimeout(ctx, p.lockWait)
	}
	unlock, err := p.locker.Lock(lockCtx, msg.Phone)
	cancelWait()
	if err != nil {
		return StatusError, fmt.Errorf("dispatch: lock phone: %w", err)
	}
	defer unlock()

	if p.deduper != nil && msg.ProviderMessageID != "" {
		fresh, err := p.deduper.MarkProcessed(ctx, msg.Channel, msg.ProviderMessageID)
		if err != nil {
			return StatusError, fmt.Errorf("dispatch: mark processed: %w", err)
		}
		if !fresh {
			p.logger.Info("duplicate message skipped", "phone", msg.Phone, "provider_message_id", msg.ProviderMessageID)
			return StatusDuplicate, nil
		}
	}
	return p.intake(ctx, msg)
}

func (p *Pipeline) fail(ctx context.Context, fc failureContext, cause error, panicked bool) Status {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureTimeout)
	defer cancel()

	p.logger.Error("message processing failed",
		"phone", fc.Phone,
		"user_id", fc.UserID,
		"tenant_id", fc.TenantID,
		"channel", fc.Channel,
		"error", cause,
	)
	if p.failures != nil {
		p.bestEffort("record failure", func() error {
			return p.failures.RecordFailure(ctx, audit.Failure{
				UserID:       fc.UserID,
				TenantID:     fc.TenantID,
				Phone:        fc.Phone,
				Channel:      fc.Channel,
				OriginalText: fc.OriginalText,
				Error:        cause.Error(),
				Panicked:     panicked,
				CreatedAt:    p.now().UTC(),
			})
		})
	}
	if fc.Phone != "" {
		p.bestEffort("send apology", func() error {
			return p.messenger.SendText(ctx, fc.Phone, msgApology)
		})
	}
	return StatusError
}

// bestEffort runs fn, logging rather than propagating errors and panics.
func (p *Pipeline) bestEffort(what string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Warn(what+" panicked", "panic", r)
		}
	}()
	if err := fn(); err != nil {
		p.logger.Warn(what+" failed", "error", err)
	}
}

func (p *Pipeline) stage(ctx context.Context, name string) {
	p.observer.ObserveStage(name)
	trace.SpanFromContext(ctx).AddEvent(name)
}

func (p *Pipeline) send(ctx context.Context, phone string, reply Reply) error {
	if reply.Text == "" {
		return nil
	}
	var err error
	if len(reply.Options) > 0 {
		err = p.messenger.SendOptions(ctx, phone, reply.Text, reply.Options)
	} else {
		err = p.messenger.SendText(ctx, phone, reply.Text)
	}
	if err != nil {
		return fmt.Errorf("dispatch: send reply: %w", err)
	}
	return nil
}

// reply sends and reports the turn as handled.
func (p *Pipeline) reply(ctx context.Context, phone string, reply Reply) (Status, error) {
	if err := p.send(ctx, phone, reply); err != nil {
		return StatusError, err
	}
	return StatusOK, nil
}

// save replaces the phone's continuation.
func (p *Pipeline) save(ctx context.Context, phone string, payload session.Payload) error {
	pending, err := session.NewPending(phone, payload, p.now())
	if err != nil {
		return fmt.Errorf("dispatch: build continuation: %w", err)
	}
	if err := p.store.Upsert(ctx, pending); err != nil {
		return fmt.Errorf("dispatch: save continuation: %w", err)
	}
	return nil
}

// settle stores next as the continuation, or deletes the continuation when
// there is no follow-up and done is set.
func (p *Pipeline) settle(ctx context.Context, phone string, next session.Payload, done bool) error {
	if next != nil {
		return p.save(ctx, phone, next)
	}
	if done {
		return p.clear(ctx, phone)
	}
	return nil
}

func (p *Pipeline) clear(ctx context.Context, phone string) error {
	if _, err := p.store.Delete(ctx, phone); err != nil {
		return fmt.Errorf("dispatch: delete continuation: %w", err)
	}
	return nil
}

// resolve returns the actor for phone, or nil for an unregistered phone.
func (p *Pipeline) resolve(ctx context.Context, phone string) (*identity.Actor, error) {
	actor, err := p.directory.Resolve(ctx, phone)
	if errors.Is(err, identity.ErrUnknownPhone) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dispatch: resolve actor: %w", err)
	}
	return actor, nil
}

// invalidate drops any cached actor after membership or tenant changes.
func (p *Pipeline) invalidate(ctx context.Context, phone string) {
	inv, ok := p.directory.(identity.Invalidator)
	if !ok {
		return
	}
	if err := inv.Invalidate(ctx, phone); err != nil {
		p.logger.Warn("failed to invalidate cached actor", "phone", phone, "error", err)
	}
}
