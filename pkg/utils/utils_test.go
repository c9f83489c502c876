package utils

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestRespondErrorShape(t *testing.T) {
	rr := httptest.NewRecorder()
	RespondError(rr, http.StatusConflict, "busy")

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rr.Code)
	}
	if got := strings.TrimSpace(rr.Body.String()); got != `{"error":"busy"}` {
		t.Fatalf("unexpected body: %s", got)
	}
}

func TestDecodeJSONEmptyBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
	var dst struct{ Text string }
	if err := DecodeJSON(req, &dst); err != nil {
		t.Fatalf("empty body should not fail: %v", err)
	}
}

func TestDecodeJSONRejectsGarbage(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{nope"))
	var dst struct{ Text string }
	if err := DecodeJSON(req, &dst); err == nil {
		t.Fatal("expected error for malformed body")
	}
}

func TestSendSSEEventFormat(t *testing.T) {
	rr := httptest.NewRecorder()
	if err := SendSSEEvent(rr, rr, "typing", map[string]bool{"typing": true}); err != nil {
		t.Fatalf("SendSSEEvent err: %v", err)
	}
	want := "event: typing\ndata: {\"typing\":true}\n\n"
	if rr.Body.String() != want {
		t.Fatalf("unexpected frame %q", rr.Body.String())
	}
}
