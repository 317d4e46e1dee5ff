package ws

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus/hooks/test"

	"github.com/large-farva/poise/internal/landmark"
)

func wsURL(s *httptest.Server) string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func TestHubBroadcastsToWatchers(t *testing.T) {
	h := NewHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	srv := httptest.NewServer(h.Handler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	waitFor(t, func() bool { return h.Clients() == 1 })

	h.BroadcastJSON(map[string]any{"type": "phase", "to": "thinking"})
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ev map[string]any
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatal(err)
	}
	if ev["type"] != "phase" || ev["to"] != "thinking" {
		t.Fatalf("event = %v", ev)
	}

	conn.Close()
	waitFor(t, func() bool { return h.Clients() == 0 })
}

func TestHubDropsWhenQueueFull(t *testing.T) {
	h := NewHub()
	for range cap(h.broadcast) + 3 {
		h.BroadcastJSON(map[string]int{"n": 1})
	}
	if h.Dropped() != 3 {
		t.Fatalf("dropped = %d", h.Dropped())
	}
}

type fakeSink struct {
	mu         sync.Mutex
	rate       int
	connected  bool
	landmarks  []landmark.WireDetection
	frames     [][]byte
	audio      [][]byte
	disconnect int
}

func (s *fakeSink) Connect(rate int) {
	s.mu.Lock()
	s.rate, s.connected = rate, true
	s.mu.Unlock()
}

func (s *fakeSink) Disconnect() {
	s.mu.Lock()
	s.connected = false
	s.disconnect++
	s.mu.Unlock()
}

func (s *fakeSink) Landmarks(d landmark.WireDetection) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.landmarks = append(s.landmarks, d)
	return nil
}

func (s *fakeSink) Frame(b []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if string(b) == "bad" {
		return errors.New("not a jpeg")
	}
	s.frames = append(s.frames, b)
	return nil
}

func (s *fakeSink) Audio(b []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audio = append(s.audio, b)
	return nil
}

func (s *fakeSink) snapshot() fakeSink {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fakeSink{rate: s.rate, connected: s.connected, landmarks: s.landmarks, frames: s.frames, audio: s.audio, disconnect: s.disconnect}
}

func TestIngestRoutesMessages(t *testing.T) {
	log, _ := test.NewNullLogger()
	sink := &fakeSink{}
	in := NewIngest(sink, log)
	var mu sync.Mutex
	var results []error
	in.OnMessage = func(err error) {
		mu.Lock()
		results = append(results, err)
		mu.Unlock()
	}
	srv := httptest.NewServer(in)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	// Media before hello is refused with an error message.
	_ = conn.WriteMessage(websocket.BinaryMessage, []byte{TagFrame, 0xff, 0xd8})
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var reply map[string]string
	if err := conn.ReadJSON(&reply); err != nil || !strings.Contains(reply["error"], "before hello") {
		t.Fatalf("reply = %v, %v", reply, err)
	}

	_ = conn.WriteJSON(IngestMessage{Type: "hello", SampleRate: 16000})
	_ = conn.WriteMessage(websocket.BinaryMessage, []byte{TagFrame, 0xff, 0xd8})
	_ = conn.WriteMessage(websocket.BinaryMessage, []byte{TagAudio, 1, 0, 2, 0})
	det := landmark.WireDetection{TimestampMs: 40, PoseLandmarks: [][]landmark.WirePoint{{{X: 0.5, Y: 0.5}}}}
	_ = conn.WriteJSON(IngestMessage{Type: "landmarks", Detection: &det})

	waitFor(t, func() bool { s := sink.snapshot(); return len(s.landmarks) == 1 })
	s := sink.snapshot()
	if !s.connected || s.rate != 16000 || len(s.frames) != 1 || len(s.audio) != 1 {
		t.Fatalf("sink = %+v", s)
	}
	if string(s.audio[0]) != "\x01\x00\x02\x00" || s.landmarks[0].TimestampMs != 40 {
		t.Fatal("payload mangled")
	}

	// A second publisher is turned away.
	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv), nil)
	if err == nil || resp == nil || resp.StatusCode != http.StatusConflict {
		t.Fatalf("second publisher: %v", err)
	}

	conn.Close()
	waitFor(t, func() bool { return !in.Connected() })
	if s := sink.snapshot(); s.connected || s.disconnect != 1 {
		t.Fatalf("after close: %+v", s)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(results) != 5 || results[0] == nil || results[1] != nil {
		t.Fatalf("results = %v", results)
	}
}

func TestIngestRejectsUnknownMessages(t *testing.T) {
	log, _ := test.NewNullLogger()
	in := NewIngest(&fakeSink{}, log)
	hello := true
	cases := []struct {
		kind int
		data []byte
	}{
		{websocket.TextMessage, []byte(`{"type":"video"}`)},
		{websocket.TextMessage, []byte(`{"type":"landmarks"}`)},
		{websocket.TextMessage, []byte(`not json`)},
		{websocket.BinaryMessage, []byte{0x09, 1}},
		{websocket.BinaryMessage, []byte{TagAudio}},
	}
	for i, c := range cases {
		if err := in.handle(c.kind, c.data, &hello); err == nil {
			t.Fatalf("case %d accepted", i)
		}
	}
}
