package whatsapp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/wolfman30/fieldhand/internal/dispatch"
	"github.com/wolfman30/fieldhand/pkg/logging"
)

type graphStub struct {
	server   *httptest.Server
	requests []SendRequest
}

func newGraphStub(t *testing.T) *graphStub {
	t.Helper()
	g := &graphStub{}
	mux := http.NewServeMux()
	mux.HandleFunc("/PNID/messages", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test_token" {
			t.Errorf("unexpected auth header: %s", r.Header.Get("Authorization"))
		}
		var req SendRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		g.requests = append(g.requests, req)
		if req.To == "fail" {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":{"message":"Invalid parameter","type":"OAuthException","code":100}}`)
			return
		}
		fmt.Fprintf(w, `{"messages":[{"id":"wamid.out%d"}]}`, len(g.requests))
	})
	mux.HandleFunc("/MEDIA1", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"id":"MEDIA1","mime_type":"audio/ogg","url":"%s/download/MEDIA1"}`, g.server.URL)
	})
	mux.HandleFunc("/download/MEDIA1", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test_token" {
			t.Errorf("download must be authorized")
		}
		fmt.Fprint(w, "OGGDATA")
	})
	g.server = httptest.NewServer(mux)
	t.Cleanup(g.server.Close)
	return g
}

func (g *graphStub) client() *Client {
	c := NewClient("test_token", "PNID")
	c.SetGraphAPIBase(g.server.URL)
	return c
}

func TestSendText(t *testing.T) {
	g := newGraphStub(t)
	id, err := g.client().SendText(context.Background(), "5491100000001", "Hello")
	if err != nil {
		t.Fatal(err)
	}
	if id != "wamid.out1" {
		t.Fatalf("unexpected id %q", id)
	}
	req := g.requests[0]
	if req.Type != "text" || req.Text == nil || req.Text.Body != "Hello" || req.MessagingProduct != "whatsapp" {
		t.Fatalf("unexpected request: %#v", req)
	}
}

func TestSendTextAPIError(t *testing.T) {
	g := newGraphStub(t)
	_, err := g.client().SendText(context.Background(), "fail", "Hello")
	if err == nil || !strings.Contains(err.Error(), "Invalid parameter") {
		t.Fatalf("expected API error, got %v", err)
	}
}

func TestSendButtonsTruncatesTitles(t *testing.T) {
	g := newGraphStub(t)
	_, err := g.client().SendButtons(context.Background(), "5491100000001", "Pick one", []ReplyItem{
		{ID: "tenant_1", Title: "Estancia La Esperanza del Sur"},
		{ID: "tenant_2", Title: "El Ombu"},
	})
	if err != nil {
		t.Fatal(err)
	}
	buttons := g.requests[0].Interactive.Action.Buttons
	if len(buttons) != 2 || buttons[0].Type != "reply" {
		t.Fatalf("unexpected buttons: %#v", buttons)
	}
	if got := []rune(buttons[0].Reply.Title); len(got) != maxButtonTitle {
		t.Fatalf("expected title truncated to %d runes, got %q", maxButtonTitle, buttons[0].Reply.Title)
	}
	if buttons[1].Reply.Title != "El Ombu" {
		t.Fatalf("short titles stay intact, got %q", buttons[1].Reply.Title)
	}

	if _, err := g.client().SendButtons(context.Background(), "x", "too many", make([]ReplyItem, 4)); err == nil {
		t.Fatalf("expected error for four buttons")
	}
}

func TestDownloadMedia(t *testing.T) {
	g := newGraphStub(t)
	data, mime, err := g.client().DownloadMedia(context.Background(), "MEDIA1")
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "OGGDATA" || mime != "audio/ogg" {
		t.Fatalf("unexpected media %q %q", data, mime)
	}
}

func TestMessengerFallsBackToNumberedList(t *testing.T) {
	g := newGraphStub(t)
	m := NewMessenger(g.client(), logging.Discard())

	options := []dispatch.Option{{ID: "1", Title: "North"}, {ID: "2", Title: "South"}, {ID: "3", Title: "River"}, {ID: "4", Title: "Hill"}}
	if err := m.SendOptions(context.Background(), "5491100000001", "Where are the animals now?", options); err != nil {
		t.Fatal(err)
	}
	req := g.requests[0]
	if req.Type != "text" {
		t.Fatalf("expected text fallback, got %s", req.Type)
	}
	want := "Where are the animals now?\n1. North\n2. South\n3. River\n4. Hill"
	if req.Text.Body != want {
		t.Fatalf("unexpected body:\n%s", req.Text.Body)
	}

	if err := m.SendOptions(context.Background(), "5491100000001", "Save?", options[:2]); err != nil {
		t.Fatal(err)
	}
	if g.requests[1].Type != "interactive" {
		t.Fatalf("expected buttons for two options, got %s", g.requests[1].Type)
	}
}
