package server

import (
	"bufio"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNotesStreamEmitsNoteChangeEvents(t *testing.T) {
	stack := newTestStack(t, stackOptions{})
	server := httptest.NewServer(stack.handler)
	t.Cleanup(server.Close)

	session := decode[sessionBody](t, stack.do(t, http.MethodPost, "/signup", "", map[string]string{"name": "Ann", "email": "a@x.com", "password": "pw1"}))

	streamRequest, err := http.NewRequest(http.MethodGet, server.URL+"/notes/stream?access_token="+session.Token, http.NoBody)
	if err != nil {
		t.Fatalf("failed to construct stream request: %v", err)
	}
	streamResp, err := http.DefaultClient.Do(streamRequest)
	if err != nil {
		t.Fatalf("failed to open stream: %v", err)
	}
	t.Cleanup(func() {
		_ = streamResp.Body.Close()
	})
	if streamResp.StatusCode != http.StatusOK {
		t.Fatalf("unexpected stream status: %d", streamResp.StatusCode)
	}
	if !strings.HasPrefix(streamResp.Header.Get("Content-Type"), "text/event-stream") {
		t.Fatalf("unexpected content type %q", streamResp.Header.Get("Content-Type"))
	}

	deadline := time.Now().Add(2 * time.Second)
	for stack.realtime.SubscriberCount(session.User.ID) == 0 {
		if time.Now().After(deadline) {
			t.Fatal("stream did not subscribe in time")
		}
		time.Sleep(5 * time.Millisecond)
	}

	created := decode[noteBody](t, stack.do(t, http.MethodPost, "/notes", session.Token, map[string]string{"content": "hello world"}))

	type eventPayload struct {
		NoteID string    `json:"noteId"`
		Note   *noteBody `json:"note"`
	}

	streamReader := bufio.NewReader(streamResp.Body)
	currentEventType := ""
	timeout := time.After(5 * time.Second)
	type readResult struct {
		line string
		err  error
	}
	for {
		resultCh := make(chan readResult, 1)
		go func() {
			line, err := streamReader.ReadString('\n')
			resultCh <- readResult{line: line, err: err}
		}()
		select {
		case <-timeout:
			t.Fatal("timed out waiting for realtime event")
		case res := <-resultCh:
			if res.err != nil {
				t.Fatalf("failed to read stream: %v", res.err)
			}
			line := strings.TrimSpace(res.line)
			if line == "" {
				continue
			}
			if strings.HasPrefix(line, "event:") {
				currentEventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
				continue
			}
			if !strings.HasPrefix(line, "data:") || currentEventType != RealtimeEventNoteCreated {
				continue
			}
			var payload eventPayload
			if err := json.Unmarshal([]byte(strings.TrimSpace(strings.TrimPrefix(line, "data:"))), &payload); err != nil {
				t.Fatalf("failed to decode event payload: %v", err)
			}
			if payload.NoteID != created.ID || payload.Note == nil || payload.Note.Content != "hello world" {
				t.Fatalf("unexpected event payload: %#v", payload)
			}
			return
		}
	}
}

func TestNotesStreamRequiresToken(t *testing.T) {
	stack := newTestStack(t, stackOptions{})

	expectError(t, stack.do(t, http.MethodGet, "/notes/stream", "", nil), http.StatusUnauthorized, errorCodeUnauthorized)
}
