package erp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/fieldhand/internal/dispatch"
	"github.com/wolfman30/fieldhand/internal/identity"
	"github.com/wolfman30/fieldhand/internal/intent"
	"github.com/wolfman30/fieldhand/internal/media"
	"github.com/wolfman30/fieldhand/internal/session"
	"github.com/wolfman30/fieldhand/pkg/logging"
)

type captured struct {
	path    string
	headers http.Header
	body    map[string]any
}

func newServer(t *testing.T, status int, response string) (*Client, *[]captured) {
	t.Helper()
	var calls []captured
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var body map[string]any
		_ = json.Unmarshal(raw, &body)
		calls = append(calls, captured{path: r.URL.Path, headers: r.Header.Clone(), body: body})
		w.WriteHeader(status)
		fmt.Fprint(w, response)
	}))
	t.Cleanup(server.Close)
	return NewClient(server.URL+"/", "secret-key", 0, logging.Discard()), &calls
}

func actor() *identity.Actor {
	return &identity.Actor{UserID: "user-1", TenantID: "tenant-1", Phone: "5491100000001"}
}

func TestHandleIntent(t *testing.T) {
	client, calls := newServer(t, http.StatusOK, `{"reply":"Expense of ARS 5000 saved."}`)
	in, err := intent.New(intent.TagExpense, &intent.Financial{Amount: 5000, Currency: "ARS", Category: "feed"})
	require.NoError(t, err)

	reply, err := client.Handle(context.Background(), dispatch.IntentRequest{Actor: actor(), Phone: "5491100000001", Intent: in})
	require.NoError(t, err)
	assert.Equal(t, "Expense of ARS 5000 saved.", reply.Text)
	assert.Nil(t, reply.Next)

	require.Len(t, *calls, 1)
	call := (*calls)[0]
	assert.Equal(t, pathIntents, call.path)
	assert.Equal(t, "Bearer secret-key", call.headers.Get("Authorization"))
	assert.Equal(t, "tenant-1", call.headers.Get("X-Tenant-Id"))
	assert.Equal(t, "user-1", call.headers.Get("X-User-Id"))
	assert.NotEmpty(t, call.headers.Get("X-Request-Id"))

	sent := call.body["intent"].(map[string]any)
	assert.Equal(t, "expense", sent["tag"])
}

func TestHandleIntentRejectionBecomesReply(t *testing.T) {
	client, _ := newServer(t, http.StatusUnprocessableEntity, `{"error":"North only has 12 steers."}`)
	in, err := intent.New(intent.TagSale, &intent.Financial{Amount: 100})
	require.NoError(t, err)

	reply, err := client.Handle(context.Background(), dispatch.IntentRequest{Actor: actor(), Intent: in})
	require.NoError(t, err)
	assert.Equal(t, "North only has 12 steers.", reply.Text)
}

func TestHandleIntentServerError(t *testing.T) {
	client, _ := newServer(t, http.StatusBadGateway, `upstream down`)
	in, err := intent.New(intent.TagNote, &intent.Note{Text: "fence broken"})
	require.NoError(t, err)

	_, err = client.Handle(context.Background(), dispatch.IntentRequest{Actor: actor(), Intent: in})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 502")
}

func TestButtonReplyCanOpenSelection(t *testing.T) {
	client, calls := newServer(t, http.StatusOK, `{
		"reply": "Which payment is this?",
		"next": {"tag": "payment_selection", "payload": {"reference": "inv-7", "candidates": [{"id": "p1", "label": "Transfer 03/01"}]}}
	}`)

	reply, err := client.HandleButton(context.Background(), dispatch.ButtonRequest{Actor: actor(), Phone: "1", ButtonID: "invoice_7", Prefix: dispatch.PrefixInvoice})
	require.NoError(t, err)
	assert.Equal(t, "Which payment is this?", reply.Text)

	selection, ok := reply.Next.(*session.PaymentSelection)
	require.True(t, ok, "expected payment selection, got %T", reply.Next)
	assert.Equal(t, "inv-7", selection.Reference)
	assert.Equal(t, pathButtons, (*calls)[0].path)
	assert.Equal(t, "invoice_7", (*calls)[0].body["button_id"])
}

func TestResume(t *testing.T) {
	client, calls := newServer(t, http.StatusOK, `{"consumed": true, "done": true, "reply": "Payment linked."}`)
	pending, err := session.NewPending("1", &session.GrainLotSelection{Reference: "sale-1"}, time.Now())
	require.NoError(t, err)

	result, err := client.Resume(context.Background(), dispatch.ResumeRequest{Actor: actor(), Phone: "1", Pending: pending, Text: "the soy one"})
	require.NoError(t, err)
	assert.True(t, result.Consumed)
	assert.True(t, result.Done)
	assert.Equal(t, "Payment linked.", result.Reply.Text)

	sent := (*calls)[0].body["pending"].(map[string]any)
	assert.Equal(t, "grain_lot_selection", sent["tag"])
}

func TestSubmitImageSendsURLOrBytes(t *testing.T) {
	client, calls := newServer(t, http.StatusOK, `{"reply":"Invoice from Agro SA for ARS 1250 received."}`)

	_, err := client.SubmitImage(context.Background(), actor(), "1", media.Image{Data: []byte("JPEG"), ContentType: "image/jpeg", ArchiveURL: "https://s3/x"})
	require.NoError(t, err)
	_, err = client.SubmitImage(context.Background(), actor(), "1", media.Image{Data: []byte("JPEG"), ContentType: "image/jpeg"})
	require.NoError(t, err)

	require.Len(t, *calls, 2)
	assert.Equal(t, "https://s3/x", (*calls)[0].body["image_url"])
	assert.Nil(t, (*calls)[0].body["image_base64"])
	assert.Equal(t, "SlBFRw==", (*calls)[1].body["image_base64"])
}

func TestHandlerMapsCoverEverything(t *testing.T) {
	client := NewClient("http://erp.local", "k", 0, nil)
	assert.Len(t, client.IntentHandlers(), len(intent.AllTags()))
	assert.Len(t, client.ButtonHandlers(), len(dispatch.HandlerPrefixes))
	assert.Len(t, client.Resumers(), 2)
}
