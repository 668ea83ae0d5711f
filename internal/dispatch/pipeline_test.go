package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/fieldhand/internal/identity"
	"github.com/wolfman30/fieldhand/internal/intent"
	"github.com/wolfman30/fieldhand/internal/registration"
	"github.com/wolfman30/fieldhand/internal/session"
)

func TestRegistrationFlow(t *testing.T) {
	h := newHarness(t)
	const phone = "5491199999999"
	h.invites.invites["ABCD-EFGH"] = registration.Invite{
		Token:      "ABCD-EFGH",
		TenantID:   "tenant-1",
		TenantName: "La Esperanza",
		ExpiresAt:  time.Now().Add(time.Hour),
	}
	ctx := context.Background()

	status := h.pipeline.Process(ctx, textMessage(phone, " abcd-efgh "))
	require.Equal(t, StatusOK, status)

	reg, err := h.store.GetRegistration(ctx, phone)
	require.NoError(t, err)
	require.NotNil(t, reg)
	assert.Equal(t, "ABCD-EFGH", reg.InviteToken)
	assert.Equal(t, "tenant-1", reg.TenantID)
	assert.Contains(t, h.messenger.last(t).text, "What's your name?")

	status = h.pipeline.Process(ctx, textMessage(phone, "Jane   Doe"))
	require.Equal(t, StatusOK, status)

	reg, err = h.store.GetRegistration(ctx, phone)
	require.NoError(t, err)
	assert.Nil(t, reg)
	require.Len(t, h.invites.redeemed, 1)
	assert.Equal(t, "Jane Doe", h.invites.redeemed[0].DisplayName)
	assert.Equal(t, phone, h.invites.redeemed[0].Phone)
	assert.Contains(t, h.messenger.last(t).text, "Thanks Jane Doe")
	assert.Contains(t, h.dir.invalidated, phone)
	assert.Zero(t, h.classifier.calls())
}

func TestExpenseConfirmFlow(t *testing.T) {
	h := newHarness(t)
	expense := mustIntent(t, intent.TagExpense, &intent.Financial{Amount: 5000, Category: "feed"})
	h.classifier.returns(expense)

	require.Equal(t, StatusOK, h.send(t, "spent 5000 on feed"))

	pending := h.pending(t, testPhone)
	require.NotNil(t, pending)
	assert.Equal(t, session.Tag("expense"), pending.Tag)
	confirm, ok := pending.Payload.(*session.ConfirmIntent)
	require.True(t, ok)
	assert.Equal(t, 5000.0, confirm.Intent.Payload.(*intent.Financial).Amount)
	assert.Empty(t, h.intents.callsFor(intent.TagExpense), "mutation must wait for confirmation")

	last := h.messenger.last(t)
	assert.Contains(t, last.text, "Record this expense?")
	assert.Contains(t, last.text, "Amount: 5000")
	assert.Equal(t, confirmButtons, last.options)

	require.Equal(t, StatusOK, h.send(t, "yes"))
	calls := h.intents.callsFor(intent.TagExpense)
	require.Len(t, calls, 1)
	assert.Equal(t, "feed", calls[0].intent.Payload.(*intent.Financial).Category)
	assert.Nil(t, h.pending(t, testPhone))
	assert.Equal(t, 1, h.classifier.calls(), "the yes reply must not be classified")
}

func TestOrdinalOutOfRangeKeepsContinuation(t *testing.T) {
	h := newHarness(t)
	stored := &session.ChooseStockLocation{
		Edit:    intent.StockAdjustment{Category: "Steer"},
		Options: []session.Option{{ID: "loc-north", Label: "North"}},
	}
	h.seed(t, testPhone, stored)

	require.Equal(t, StatusOK, h.send(t, "2"))

	assert.True(t, strings.HasPrefix(h.messenger.last(t).text, "Please reply 1,"), h.messenger.last(t).text)
	pending := h.pending(t, testPhone)
	require.NotNil(t, pending)
	assert.Equal(t, stored, pending.Payload)
	assert.Zero(t, h.intents.total())
	assert.Zero(t, h.classifier.calls())
}

func TestOrdinalRoundTrip(t *testing.T) {
	options := []session.Option{
		{ID: "cat-steer", Label: "Steer"},
		{ID: "cat-cow", Label: "Cow"},
		{ID: "cat-calf", Label: "Calf"},
	}
	edit := intent.StockAdjustment{Location: "North", LocationID: "loc-north", Quantity: 12}

	for i := range options {
		h := newHarness(t)
		h.seed(t, testPhone, &session.ChooseStockCategory{Edit: edit, Options: options})

		require.Equal(t, StatusOK, h.send(t, string(rune('1'+i))))

		calls := h.intents.callsFor(intent.TagStockEdit)
		require.Len(t, calls, 1, "option %d", i+1)
		got := calls[0].intent.Payload.(*intent.StockAdjustment)
		assert.Equal(t, options[i].ID, got.CategoryID)
		assert.Equal(t, 12, got.Quantity)
		assert.Nil(t, h.pending(t, testPhone))
	}

	for _, reply := range []string{"0", "4", "three", "-1"} {
		h := newHarness(t)
		stored := &session.ChooseStockCategory{Edit: edit, Options: options}
		h.seed(t, testPhone, stored)

		require.Equal(t, StatusOK, h.send(t, reply))
		pending := h.pending(t, testPhone)
		require.NotNil(t, pending, "reply %q", reply)
		assert.Equal(t, stored, pending.Payload)
		assert.Contains(t, h.messenger.last(t).text, "from 1 to 3")
		assert.Zero(t, h.intents.total())
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	h := newHarness(t)

	require.Equal(t, StatusOK, h.send(t, "  CANCEL "))
	assert.Equal(t, msgNothingToCancel, h.messenger.last(t).text)
	require.Equal(t, StatusOK, h.send(t, "cancel"))
	assert.Equal(t, msgNothingToCancel, h.messenger.last(t).text)

	h.seed(t, testPhone, &session.ConfirmIntent{Intent: mustIntent(t, intent.TagNote, &intent.Note{Text: "gate broken"})})
	require.Equal(t, StatusOK, h.send(t, "cancelar"))
	assert.Equal(t, msgCancelled, h.messenger.last(t).text)
	assert.Nil(t, h.pending(t, testPhone))
	assert.Empty(t, h.failures.failures)
}

func TestStockEditDeterministicSkipsClassifier(t *testing.T) {
	h := newHarness(t)
	h.seed(t, testPhone, &session.StockEdit{LocationID: "loc-north", LocationName: "North"})

	require.Equal(t, StatusOK, h.send(t, "300 steers"))

	assert.Zero(t, h.classifier.calls())
	calls := h.intents.callsFor(intent.TagStockEdit)
	require.Len(t, calls, 1)
	got := calls[0].intent.Payload.(*intent.StockAdjustment)
	assert.Equal(t, 300, got.Quantity)
	assert.Equal(t, "cat-steer", got.CategoryID)
	assert.Equal(t, "loc-north", got.LocationID)
	assert.Nil(t, h.pending(t, testPhone))
}

func TestStockEditFallsBackToClassifierOnce(t *testing.T) {
	h := newHarness(t)
	h.seed(t, testPhone, &session.StockEdit{LocationID: "loc-north", LocationName: "North"})
	h.classifier.returns(mustIntent(t, intent.TagStockEdit, &intent.StockAdjustment{Category: "Steer", Quantity: 300}))

	require.Equal(t, StatusOK, h.send(t, "lower it to about three hundred steers"))

	require.Equal(t, 1, h.classifier.calls())
	assert.Equal(t, []intent.Tag{intent.TagStockEdit}, h.classifier.requests[0].Allowed)
	assert.Equal(t, testActor().CategoryNames(), h.classifier.requests[0].Categories)
	calls := h.intents.callsFor(intent.TagStockEdit)
	require.Len(t, calls, 1)
	assert.Equal(t, 300, calls[0].intent.Payload.(*intent.StockAdjustment).Quantity)
}

func TestStockEditDiscardsOtherIntents(t *testing.T) {
	h := newHarness(t)
	open := &session.StockEdit{LocationID: "loc-north", LocationName: "North"}
	h.seed(t, testPhone, open)
	h.classifier.returns(mustIntent(t, intent.TagExpense, &intent.Financial{Amount: 300}))

	require.Equal(t, StatusOK, h.send(t, "paid 300 for steers"))

	assert.Equal(t, 1, h.classifier.calls())
	assert.Zero(t, h.intents.total())
	pending := h.pending(t, testPhone)
	require.NotNil(t, pending)
	assert.Equal(t, open, pending.Payload)
	assert.Contains(t, h.messenger.last(t).text, "Categories: Steer, Cow, Calf")
}

func TestStockEditAmbiguousCategoryAsks(t *testing.T) {
	h := newHarness(t)
	actor := testActor()
	actor.Categories = append(actor.Categories, identity.Category{ID: "cat-steer-2", Name: "Steers", Aliases: []string{"steer"}})
	h.dir.actors[testPhone] = actor
	h.seed(t, testPhone, &session.StockEdit{LocationID: "loc-north", LocationName: "North"})

	require.Equal(t, StatusOK, h.send(t, "steer 40"))

	pending := h.pending(t, testPhone)
	require.NotNil(t, pending)
	choice, ok := pending.Payload.(*session.ChooseStockCategory)
	require.True(t, ok)
	assert.Len(t, choice.Options, 2)
	assert.Equal(t, 40, choice.Edit.Quantity)
}

func TestButtonPrefixesBypassClassifier(t *testing.T) {
	h := newHarness(t)
	for _, prefix := range HandlerPrefixes {
		id := strings.ToUpper(prefix) + "Item-42"
		status := h.pipeline.Process(context.Background(), buttonMessage(testPhone, id))
		require.Equal(t, StatusOK, status, id)
	}

	require.Len(t, h.buttons.calls, len(HandlerPrefixes))
	for i, prefix := range HandlerPrefixes {
		assert.Equal(t, prefix, h.buttons.calls[i].Prefix)
		assert.Equal(t, strings.ToUpper(prefix)+"Item-42", h.buttons.calls[i].ButtonID)
	}
	assert.Zero(t, h.classifier.calls())
}

func TestTenantSwitchOverridesOpenDialog(t *testing.T) {
	h := newHarness(t)
	h.dir.tenants["user-1"] = []identity.Tenant{
		{ID: "tenant-1", Name: "La Esperanza"},
		{ID: "tenant-2", Name: "El Ombú"},
	}
	h.seed(t, testPhone, &session.ConfirmIntent{Intent: mustIntent(t, intent.TagNote, &intent.Note{Text: "x"})})

	require.Equal(t, StatusOK, h.send(t, "Switch   Farm"))
	pending := h.pending(t, testPhone)
	require.NotNil(t, pending)
	assert.Equal(t, session.TagChooseTenant, pending.Tag)
	last := h.messenger.last(t)
	require.Len(t, last.options, 2)
	assert.Equal(t, "tenant_tenant-2", last.options[1].ID)

	require.Equal(t, StatusOK, h.pipeline.Process(context.Background(), buttonMessage(testPhone, "TENANT_tenant-2")))
	assert.Equal(t, "tenant-2", h.dir.active["user-1"])
	assert.Nil(t, h.pending(t, testPhone))
	assert.Contains(t, h.messenger.last(t).text, "El Ombú")
	assert.Zero(t, h.intents.total())
}

func TestSingleTenantSwitchIsInformational(t *testing.T) {
	h := newHarness(t)
	h.dir.tenants["user-1"] = []identity.Tenant{{ID: "tenant-1", Name: "La Esperanza"}}

	require.Equal(t, StatusOK, h.send(t, "change farm"))
	assert.Nil(t, h.pending(t, testPhone))
	assert.Contains(t, h.messenger.last(t).text, "only have access to La Esperanza")
}

func TestPendingRegistrationTakesPrecedence(t *testing.T) {
	h := newHarness(t)
	h.invites.invites["WXYZ-2345"] = registration.Invite{Token: "WXYZ-2345", TenantID: "tenant-1", TenantName: "La Esperanza"}
	ctx := context.Background()
	require.NoError(t, h.store.UpsertRegistration(ctx, session.PendingRegistration{
		Phone: testPhone, InviteToken: "WXYZ-2345", TenantID: "tenant-1", CreatedAt: time.Now(),
	}))
	h.seed(t, testPhone, &session.StockEdit{LocationID: "loc-north", LocationName: "North"})

	require.Equal(t, StatusOK, h.send(t, "300 steers"))

	require.Len(t, h.invites.redeemed, 1)
	assert.Equal(t, "300 steers", h.invites.redeemed[0].DisplayName)
	assert.Zero(t, h.intents.total())
	assert.Zero(t, h.classifier.calls())
	reg, err := h.store.GetRegistration(ctx, testPhone)
	require.NoError(t, err)
	assert.Nil(t, reg)
}

func TestBlankNameReprompts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.store.UpsertRegistration(ctx, session.PendingRegistration{Phone: testPhone, InviteToken: "WXYZ-2345"}))

	require.Equal(t, StatusOK, h.pipeline.Process(ctx, buttonMessage(testPhone, "   ")))
	assert.Equal(t, msgNameBlank, h.messenger.last(t).text)
	reg, err := h.store.GetRegistration(ctx, testPhone)
	require.NoError(t, err)
	assert.NotNil(t, reg)
}

func TestUnknownInviteToken(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, StatusOK, h.pipeline.Process(context.Background(), textMessage("5490000", "ZZZZ-ZZZZ")))
	assert.Equal(t, msgInviteNotFound, h.messenger.last(t).text)
}

func TestUnknownPhoneIsAskedForInvite(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, StatusOK, h.pipeline.Process(context.Background(), textMessage("5490000", "spent 100 on fuel")))
	assert.Equal(t, msgUnknownPhone, h.messenger.last(t).text)
	assert.Zero(t, h.classifier.calls())
}

func TestConcurrentRepliesApplyOnce(t *testing.T) {
	h := newHarness(t)
	h.seed(t, testPhone, &session.ConfirmIntent{Intent: mustIntent(t, intent.TagRainfall, &intent.Rainfall{Millimeters: 25})})
	h.intents.overrides[intent.TagRainfall] = func(ctx context.Context, req IntentRequest) (Reply, error) {
		time.Sleep(20 * time.Millisecond)
		return TextReply("saved"), nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.pipeline.Process(context.Background(), textMessage(testPhone, "yes"))
		}()
	}
	wg.Wait()

	assert.Len(t, h.intents.callsFor(intent.TagRainfall), 1)
	assert.Nil(t, h.pending(t, testPhone))
}

func TestSlowHandlerKeepsSharedLockLease(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	locker := session.NewRedisLocker(client, 100*time.Millisecond)

	h := newHarness(t, func(d *Deps) { d.Locker = locker })
	h.seed(t, testPhone, &session.ConfirmIntent{Intent: mustIntent(t, intent.TagRainfall, &intent.Rainfall{Millimeters: 25})})

	entered := make(chan struct{})
	var once sync.Once
	h.intents.overrides[intent.TagRainfall] = func(ctx context.Context, req IntentRequest) (Reply, error) {
		once.Do(func() { close(entered) })
		// The ERP call outlives several leases.
		for i := 0; i < 4; i++ {
			mr.FastForward(80 * time.Millisecond)
			time.Sleep(40 * time.Millisecond)
		}
		return TextReply("saved"), nil
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		h.pipeline.Process(context.Background(), textMessage(testPhone, "yes"))
	}()
	<-entered
	go func() {
		defer wg.Done()
		h.pipeline.Process(context.Background(), textMessage(testPhone, "yes"))
	}()
	wg.Wait()

	assert.Len(t, h.intents.callsFor(intent.TagRainfall), 1)
	assert.Nil(t, h.pending(t, testPhone))
}

func TestLockWaitBoundsQueuedMessage(t *testing.T) {
	locker := session.NewLocalLocker()
	var deps Deps
	h := newHarness(t, func(d *Deps) {
		d.Locker = locker
		deps = *d
	})
	p := NewPipeline(deps, WithTimeout(5*time.Second), WithLockWait(50*time.Millisecond))

	unlock, err := locker.Lock(context.Background(), testPhone)
	require.NoError(t, err)
	defer unlock()

	start := time.Now()
	status := p.Process(context.Background(), textMessage(testPhone, "hello"))
	require.Equal(t, StatusError, status)
	assert.Less(t, time.Since(start), 2*time.Second)

	require.Len(t, h.failures.failures, 1)
	assert.Contains(t, h.failures.failures[0].Error, "lock phone")
	assert.Equal(t, msgApology, h.messenger.last(t).text)
}

func TestHandlerErrorIsAuditedAndKeepsContinuation(t *testing.T) {
	h := newHarness(t)
	in := mustIntent(t, intent.TagBirth, &intent.LivestockEvent{Category: "Calf", Quantity: 3})
	h.seed(t, testPhone, &session.ConfirmIntent{Intent: in})
	h.intents.overrides[intent.TagBirth] = func(ctx context.Context, req IntentRequest) (Reply, error) {
		return Reply{}, errors.New("erp: 502")
	}

	require.Equal(t, StatusError, h.send(t, "si"))

	require.Len(t, h.failures.failures, 1)
	f := h.failures.failures[0]
	assert.Equal(t, "user-1", f.UserID)
	assert.Equal(t, "tenant-1", f.TenantID)
	assert.Equal(t, "si", f.OriginalText)
	assert.Contains(t, f.Error, "erp: 502")
	assert.False(t, f.Panicked)
	assert.Equal(t, msgApology, h.messenger.last(t).text)
	assert.NotNil(t, h.pending(t, testPhone))
}

func TestPanicIsContained(t *testing.T) {
	h := newHarness(t)
	h.classifier.fn = func(intent.Request) (intent.Result, error) { panic("boom") }

	require.Equal(t, StatusError, h.send(t, "hello"))
	require.Len(t, h.failures.failures, 1)
	assert.True(t, h.failures.failures[0].Panicked)
	assert.Equal(t, msgApology, h.messenger.last(t).text)
}

func TestFailureCaptureSurvivesDirectoryErrors(t *testing.T) {
	h := newHarness(t)
	h.dir.resolveErr = errors.New("db down")
	h.messenger.err = errors.New("whatsapp down")

	require.Equal(t, StatusError, h.send(t, "hello"))
	require.Len(t, h.failures.failures, 1)
	assert.Empty(t, h.failures.failures[0].UserID)
	assert.Equal(t, testPhone, h.failures.failures[0].Phone)
}

func TestDuplicateDeliveryIsSkipped(t *testing.T) {
	dedupe := &fakeDeduper{seen: map[string]bool{}}
	h := newHarness(t, func(d *Deps) { d.Deduper = dedupe })
	msg := textMessage(testPhone, "help")
	msg.ProviderMessageID = "wamid.1"

	require.Equal(t, StatusOK, h.pipeline.Process(context.Background(), msg))
	sent := h.messenger.count()
	require.Equal(t, StatusDuplicate, h.pipeline.Process(context.Background(), msg))
	assert.Equal(t, sent, h.messenger.count())
}

type failingTranscriber struct{}

func (failingTranscriber) Transcribe(ctx context.Context, msg InboundMessage) (string, error) {
	return "", errors.New("gemini: quota")
}

type staticTranscriber string

func (s staticTranscriber) Transcribe(ctx context.Context, msg InboundMessage) (string, error) {
	return string(s), nil
}

func TestTranscriptionFailureIsSilent(t *testing.T) {
	h := newHarness(t, func(d *Deps) { d.Transcriber = failingTranscriber{} })
	msg := InboundMessage{Phone: testPhone, Channel: "whatsapp", Type: TypeAudio, MediaRef: "media-1"}

	require.Equal(t, StatusTranscriptionFailed, h.pipeline.Process(context.Background(), msg))
	assert.Zero(t, h.messenger.count())
	assert.Empty(t, h.failures.failures)
}

func TestTranscriptContinuesAsText(t *testing.T) {
	h := newHarness(t, func(d *Deps) { d.Transcriber = staticTranscriber(" cancel ") })
	msg := InboundMessage{Phone: testPhone, Channel: "whatsapp", Type: TypeAudio, MediaRef: "media-1"}

	require.Equal(t, StatusOK, h.pipeline.Process(context.Background(), msg))
	assert.Equal(t, msgNothingToCancel, h.messenger.last(t).text)
}

func TestUnsupportedTypeSendsNotice(t *testing.T) {
	h := newHarness(t)
	msg := InboundMessage{Phone: testPhone, Channel: "whatsapp", Type: "sticker"}

	require.Equal(t, StatusUnsupported, h.pipeline.Process(context.Background(), msg))
	assert.Equal(t, msgUnsupported, h.messenger.last(t).text)
}

type recordingImages struct {
	calls []ImageRequest
}

func (r *recordingImages) HandleImage(ctx context.Context, req ImageRequest) (Reply, error) {
	r.calls = append(r.calls, req)
	return TextReply("invoice read"), nil
}

func TestImageGoesToOCR(t *testing.T) {
	images := &recordingImages{}
	h := newHarness(t, func(d *Deps) { d.Images = images })
	msg := InboundMessage{Phone: testPhone, Channel: "whatsapp", Type: TypeImage, MediaRef: "media-9", MediaMIME: "image/jpeg"}

	require.Equal(t, StatusOK, h.pipeline.Process(context.Background(), msg))
	require.Len(t, images.calls, 1)
	assert.Equal(t, "tenant-1", images.calls[0].Actor.TenantID)
	assert.Zero(t, h.classifier.calls())
}

func TestMoveResolvesMissingSide(t *testing.T) {
	h := newHarness(t)
	h.classifier.returns(mustIntent(t, intent.TagPaddockMove, &intent.Move{
		Category: "steers", Quantity: 40, Source: "Nort", Destination: "river",
	}))

	require.Equal(t, StatusOK, h.send(t, "move 40 steers from nort to river"))

	pending := h.pending(t, testPhone)
	require.NotNil(t, pending)
	choose, ok := pending.Payload.(*session.ChooseSource)
	require.True(t, ok)
	assert.Equal(t, intent.TagPaddockMove, choose.Kind)
	assert.Equal(t, []session.Option{{ID: "loc-north", Label: "North"}, {ID: "loc-south", Label: "South"}}, choose.Options)
	assert.Len(t, h.messenger.last(t).options, 2)

	require.Equal(t, StatusOK, h.send(t, "1"))

	pending = h.pending(t, testPhone)
	require.NotNil(t, pending)
	confirm, ok := pending.Payload.(*session.ConfirmIntent)
	require.True(t, ok)
	move := confirm.Intent.Payload.(*intent.Move)
	assert.Equal(t, "loc-north", move.SourceID)
	assert.Equal(t, "loc-river", move.DestinationID)
	assert.Equal(t, "River", move.Destination)
	assert.Zero(t, h.intents.total())

	require.Equal(t, StatusOK, h.send(t, ButtonConfirmYes))
	assert.Len(t, h.intents.callsFor(intent.TagPaddockMove), 1)
}

func TestMoveToSameLocationIsRejected(t *testing.T) {
	h := newHarness(t)
	h.classifier.returns(mustIntent(t, intent.TagPaddockMove, &intent.Move{Source: "North", Destination: "north"}))

	require.Equal(t, StatusOK, h.send(t, "move from north to north"))
	assert.Nil(t, h.pending(t, testPhone))
	assert.Contains(t, h.messenger.last(t).text, "already in North")
}

func TestReadIntentRunsImmediately(t *testing.T) {
	h := newHarness(t)
	h.classifier.returns(mustIntent(t, intent.TagStockReport, &intent.Query{Question: "how many cows"}))

	require.Equal(t, StatusOK, h.send(t, "how many cows do we have"))
	assert.Len(t, h.intents.callsFor(intent.TagStockReport), 1)
	assert.Nil(t, h.pending(t, testPhone))
	assert.Equal(t, "handled stock_report", h.messenger.last(t).text)
}

func TestClassifierRejectionListsLocations(t *testing.T) {
	h := newHarness(t)
	h.classifier.fn = func(intent.Request) (intent.Result, error) {
		return intent.Rejected(`I couldn't find a location called "Hill".`), nil
	}

	require.Equal(t, StatusOK, h.send(t, "3 calves born at Hill"))
	assert.Contains(t, h.messenger.last(t).text, "Your locations are: North, South, River.")
	assert.Nil(t, h.pending(t, testPhone))
}

func TestUnclassifiedTextGetsHelp(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, StatusOK, h.send(t, "good morning"))
	assert.Contains(t, h.messenger.last(t).text, "Hi Ana!")
}

func TestHelpSkipsClassifier(t *testing.T) {
	h := newHarness(t)
	require.Equal(t, StatusOK, h.send(t, "ayuda"))
	assert.Zero(t, h.classifier.calls())
}

func TestConfirmRepromptAndDiscard(t *testing.T) {
	h := newHarness(t)
	h.seed(t, testPhone, &session.ConfirmIntent{Intent: mustIntent(t, intent.TagDeath, &intent.LivestockEvent{Category: "Cow", Quantity: 1})})

	require.Equal(t, StatusOK, h.send(t, "maybe later"))
	assert.Equal(t, confirmButtons, h.messenger.last(t).options)
	assert.NotNil(t, h.pending(t, testPhone))

	require.Equal(t, StatusOK, h.send(t, "No"))
	assert.Nil(t, h.pending(t, testPhone))
	assert.Zero(t, h.intents.total())
}

type scriptedResumer struct {
	result ResumeResult
	calls  int
}

func (s *scriptedResumer) Resume(ctx context.Context, req ResumeRequest) (ResumeResult, error) {
	s.calls++
	return s.result, nil
}

func TestFreeTextResumerFallsThrough(t *testing.T) {
	resumer := &scriptedResumer{}
	h := newHarness(t, func(d *Deps) {
		d.Resumers = map[session.Tag]FreeTextResumer{session.TagPaymentSelection: resumer}
	})
	h.seed(t, testPhone, &session.PaymentSelection{Reference: "inv-1", Candidates: []session.Option{{ID: "a", Label: "A"}}})

	require.Equal(t, StatusOK, h.send(t, "what's the weather"))
	assert.Equal(t, 1, resumer.calls)
	assert.Equal(t, 1, h.classifier.calls())
	assert.NotNil(t, h.pending(t, testPhone))

	resumer.result = ResumeResult{Consumed: true, Done: true, Reply: TextReply("payment linked")}
	require.Equal(t, StatusOK, h.send(t, "the second one"))
	assert.Nil(t, h.pending(t, testPhone))
	assert.Equal(t, "payment linked", h.messenger.last(t).text)
}

func TestHandlerFollowUpBecomesContinuation(t *testing.T) {
	h := newHarness(t)
	h.intents.overrides[intent.TagSale] = func(ctx context.Context, req IntentRequest) (Reply, error) {
		return Reply{
			Text: "Which grain lot did you sell from?",
			Next: &session.GrainLotSelection{Reference: "sale-9", Candidates: []session.Option{{ID: "lot-1", Label: "Soy 2025"}}},
		}, nil
	}
	h.classifier.returns(mustIntent(t, intent.TagSale, &intent.Financial{Amount: 90000, Currency: "ARS", Category: "soy"}))

	require.Equal(t, StatusOK, h.send(t, "sold 30 tons of soy for 90000"))
	require.Equal(t, StatusOK, h.send(t, "yes"))

	pending := h.pending(t, testPhone)
	require.NotNil(t, pending)
	assert.Equal(t, session.TagGrainLotSelection, pending.Tag)
	assert.Equal(t, "Which grain lot did you sell from?", h.messenger.last(t).text)
}

func TestNewPipelineRequiresEveryIntentHandler(t *testing.T) {
	handlers := (&recordingHandlers{}).handlers()
	delete(handlers, intent.TagGrazingReport)

	assert.PanicsWithValue(t, `dispatch: no handler for intent "grazing_report"`, func() {
		newHarness(t, func(d *Deps) { d.Intents = handlers })
	})
}
