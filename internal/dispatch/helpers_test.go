package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/wolfman30/fieldhand/internal/audit"
	"github.com/wolfman30/fieldhand/internal/identity"
	"github.com/wolfman30/fieldhand/internal/intent"
	"github.com/wolfman30/fieldhand/internal/registration"
	"github.com/wolfman30/fieldhand/internal/session"
	"github.com/wolfman30/fieldhand/pkg/logging"
)

const testPhone = "5491100000001"

func testActor() *identity.Actor {
	return &identity.Actor{
		UserID:      "user-1",
		TenantID:    "tenant-1",
		TenantName:  "La Esperanza",
		DisplayName: "Ana",
		Phone:       testPhone,
		Locations: []identity.Location{
			{ID: "loc-north", Name: "North"},
			{ID: "loc-south", Name: "South"},
			{ID: "loc-river", Name: "River"},
		},
		Categories: []identity.Category{
			{ID: "cat-steer", Name: "Steer", Aliases: []string{"novillos"}},
			{ID: "cat-cow", Name: "Cow", Aliases: []string{"vacas"}},
			{ID: "cat-calf", Name: "Calf", Aliases: []string{"calves", "terneros"}},
		},
	}
}

type fakeDirectory struct {
	mu          sync.Mutex
	actors      map[string]*identity.Actor
	tenants     map[string][]identity.Tenant
	active      map[string]string
	invalidated []string
	resolveErr  error
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		actors:  map[string]*identity.Actor{},
		tenants: map[string][]identity.Tenant{},
		active:  map[string]string{},
	}
}

func (d *fakeDirectory) Resolve(ctx context.Context, phone string) (*identity.Actor, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.resolveErr != nil {
		return nil, d.resolveErr
	}
	a, ok := d.actors[phone]
	if !ok {
		return nil, identity.ErrUnknownPhone
	}
	cp := *a
	return &cp, nil
}

func (d *fakeDirectory) ListTenants(ctx context.Context, userID string) ([]identity.Tenant, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.tenants[userID], nil
}

func (d *fakeDirectory) SetActiveTenant(ctx context.Context, userID, tenantID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, t := range d.tenants[userID] {
		if t.ID == tenantID {
			d.active[userID] = tenantID
			return nil
		}
	}
	return identity.ErrNotMember
}

func (d *fakeDirectory) Invalidate(ctx context.Context, phone string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.invalidated = append(d.invalidated, phone)
	return nil
}

type fakeInvites struct {
	mu       sync.Mutex
	invites  map[string]registration.Invite
	redeemed []registration.Redemption
	dir      *fakeDirectory
}

func (f *fakeInvites) Lookup(ctx context.Context, token string) (registration.Invite, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inv, ok := f.invites[token]
	if !ok {
		return registration.Invite{}, registration.ErrInviteNotFound
	}
	if inv.RedeemedAt != nil {
		return registration.Invite{}, registration.ErrInviteRedeemed
	}
	return inv, nil
}

func (f *fakeInvites) Redeem(ctx context.Context, r registration.Redemption) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inv, ok := f.invites[r.Token]
	if !ok {
		return "", registration.ErrInviteNotFound
	}
	if inv.RedeemedAt != nil {
		return "", registration.ErrInviteRedeemed
	}
	now := time.Now()
	inv.RedeemedAt = &now
	f.invites[r.Token] = inv
	f.redeemed = append(f.redeemed, r)

	if f.dir != nil {
		f.dir.mu.Lock()
		if _, exists := f.dir.actors[r.Phone]; !exists {
			f.dir.actors[r.Phone] = &identity.Actor{
				UserID:      "user-new",
				TenantID:    inv.TenantID,
				TenantName:  inv.TenantName,
				DisplayName: r.DisplayName,
				Phone:       r.Phone,
			}
		}
		f.dir.mu.Unlock()
	}
	return "user-new", nil
}

type fakeClassifier struct {
	mu       sync.Mutex
	fn       func(req intent.Request) (intent.Result, error)
	requests []intent.Request
}

func (c *fakeClassifier) Classify(ctx context.Context, req intent.Request) (intent.Result, error) {
	c.mu.Lock()
	c.requests = append(c.requests, req)
	fn := c.fn
	c.mu.Unlock()
	if fn == nil {
		return intent.Result{}, nil
	}
	return fn(req)
}

func (c *fakeClassifier) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.requests)
}

func (c *fakeClassifier) returns(in intent.Intent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fn = func(intent.Request) (intent.Result, error) { return intent.Found(in), nil }
}

type sentMessage struct {
	phone   string
	text    string
	options []Option
}

type fakeMessenger struct {
	mu   sync.Mutex
	sent []sentMessage
	err  error
}

func (m *fakeMessenger) SendText(ctx context.Context, phone, text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMessage{phone: phone, text: text})
	return m.err
}

func (m *fakeMessenger) SendOptions(ctx context.Context, phone, text string, options []Option) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, sentMessage{phone: phone, text: text, options: options})
	return m.err
}

func (m *fakeMessenger) last(t *testing.T) sentMessage {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.sent) == 0 {
		t.Fatalf("expected a message to be sent")
	}
	return m.sent[len(m.sent)-1]
}

func (m *fakeMessenger) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

type handledIntent struct {
	phone  string
	intent intent.Intent
}

type recordingHandlers struct {
	mu        sync.Mutex
	calls     []handledIntent
	overrides map[intent.Tag]IntentHandlerFunc
}

func (r *recordingHandlers) handlers() map[intent.Tag]IntentHandler {
	out := make(map[intent.Tag]IntentHandler)
	for _, tag := range intent.AllTags() {
		tag := tag
		out[tag] = IntentHandlerFunc(func(ctx context.Context, req IntentRequest) (Reply, error) {
			r.mu.Lock()
			r.calls = append(r.calls, handledIntent{phone: req.Phone, intent: req.Intent})
			override := r.overrides[tag]
			r.mu.Unlock()
			if override != nil {
				return override(ctx, req)
			}
			return TextReply("handled " + string(tag)), nil
		})
	}
	return out
}

func (r *recordingHandlers) callsFor(tag intent.Tag) []handledIntent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []handledIntent
	for _, c := range r.calls {
		if c.intent.Tag == tag {
			out = append(out, c)
		}
	}
	return out
}

func (r *recordingHandlers) total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

type recordingButtons struct {
	mu    sync.Mutex
	calls []ButtonRequest
}

func (b *recordingButtons) handlers() map[string]ButtonHandler {
	out := make(map[string]ButtonHandler)
	for _, prefix := range HandlerPrefixes {
		out[prefix] = ButtonHandlerFunc(func(ctx context.Context, req ButtonRequest) (Reply, error) {
			b.mu.Lock()
			defer b.mu.Unlock()
			b.calls = append(b.calls, req)
			return TextReply("button " + req.Prefix), nil
		})
	}
	return out
}

type recordingFailures struct {
	mu       sync.Mutex
	failures []audit.Failure
}

func (r *recordingFailures) RecordFailure(ctx context.Context, f audit.Failure) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, f)
	return nil
}

type fakeDeduper struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (d *fakeDeduper) MarkProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := provider + "/" + eventID
	if d.seen[key] {
		return false, nil
	}
	d.seen[key] = true
	return true, nil
}

type harness struct {
	pipeline   *Pipeline
	store      *session.MemoryStore
	dir        *fakeDirectory
	invites    *fakeInvites
	classifier *fakeClassifier
	messenger  *fakeMessenger
	intents    *recordingHandlers
	buttons    *recordingButtons
	failures   *recordingFailures
}

func newHarness(t *testing.T, customize ...func(*Deps)) *harness {
	t.Helper()
	h := &harness{
		store:      session.NewMemoryStore(session.TTLs{}),
		dir:        newFakeDirectory(),
		classifier: &fakeClassifier{},
		messenger:  &fakeMessenger{},
		intents:    &recordingHandlers{overrides: map[intent.Tag]IntentHandlerFunc{}},
		buttons:    &recordingButtons{},
		failures:   &recordingFailures{},
	}
	h.invites = &fakeInvites{invites: map[string]registration.Invite{}, dir: h.dir}
	h.dir.actors[testPhone] = testActor()

	deps := Deps{
		Store:      h.store,
		Locker:     session.NewLocalLocker(),
		Directory:  h.dir,
		Invites:    h.invites,
		Classifier: h.classifier,
		Messenger:  h.messenger,
		Intents:    h.intents.handlers(),
		Buttons:    h.buttons.handlers(),
		Failures:   h.failures,
		Logger:     logging.Discard(),
	}
	for _, fn := range customize {
		fn(&deps)
	}
	h.pipeline = NewPipeline(deps, WithTimeout(5*time.Second))
	return h
}

func (h *harness) send(t *testing.T, text string) Status {
	t.Helper()
	return h.pipeline.Process(context.Background(), textMessage(testPhone, text))
}

func (h *harness) pending(t *testing.T, phone string) *session.PendingConfirmation {
	t.Helper()
	p, err := h.store.Get(context.Background(), phone)
	if err != nil {
		t.Fatalf("get continuation: %v", err)
	}
	return p
}

func (h *harness) seed(t *testing.T, phone string, payload session.Payload) {
	t.Helper()
	pending, err := session.NewPending(phone, payload, time.Now())
	if err != nil {
		t.Fatalf("build continuation: %v", err)
	}
	if err := h.store.Upsert(context.Background(), pending); err != nil {
		t.Fatalf("seed continuation: %v", err)
	}
}

func textMessage(phone, text string) InboundMessage {
	return InboundMessage{Phone: phone, Channel: "whatsapp", Type: TypeText, Text: text, ReceivedAt: time.Now()}
}

func buttonMessage(phone, id string) InboundMessage {
	return InboundMessage{Phone: phone, Channel: "whatsapp", Type: TypeInteractive, ButtonID: id, ReceivedAt: time.Now()}
}

func mustIntent(t *testing.T, tag intent.Tag, payload intent.Payload) intent.Intent {
	t.Helper()
	in, err := intent.New(tag, payload)
	if err != nil {
		t.Fatalf("build intent: %v", err)
	}
	return in
}
