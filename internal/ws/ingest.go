package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/large-farva/poise/internal/landmark"
)

// Binary ingest messages start with one of these tags.
const (
	TagFrame byte = 0x01 // JPEG-encoded camera frame
	TagAudio byte = 0x02 // signed 16-bit little-endian mono PCM
)

// IngestMessage is a text message on the ingest socket.
type IngestMessage struct {
	// Type is "hello" or "landmarks".
	Type       string                  `json:"type"`
	SampleRate int                     `json:"sample_rate,omitempty"`
	Detection  *landmark.WireDetection `json:"detection,omitempty"`
}

// Sink receives everything a publisher sends.
type Sink interface {
	Connect(sampleRate int)
	Disconnect()
	Landmarks(d landmark.WireDetection) error
	Frame(jpeg []byte) error
	Audio(pcm []byte) error
}

var (
	ErrNoHello        = errors.New("media sent before hello")
	ErrUnknownMessage = errors.New("unknown message")
)

// Ingest serves the single-publisher ingest socket.
type Ingest struct {
	sink     Sink
	log      logrus.FieldLogger
	upgrader websocket.Upgrader
	busy     atomic.Bool

	// MaxMessage caps one message; larger ones close the connection.
	MaxMessage int64
	// OnMessage, if set, is called after every message with its handling
	// error, nil on success.
	OnMessage func(err error)
}

func NewIngest(sink Sink, log logrus.FieldLogger) *Ingest {
	return &Ingest{sink: sink, log: log, upgrader: newUpgrader(), MaxMessage: 4 << 20}
}

// Connected reports whether a publisher is attached.
func (in *Ingest) Connected() bool { return in.busy.Load() }

func (in *Ingest) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !in.busy.CompareAndSwap(false, true) {
		http.Error(w, "a publisher is already connected", http.StatusConflict)
		return
	}
	conn, err := in.upgrader.Upgrade(w, r, nil)
	if err != nil {
		in.busy.Store(false)
		return
	}
	log := in.log.WithField("remote", r.RemoteAddr)
	log.Info("publisher connected")

	go func() {
		defer in.busy.Store(false)
		defer conn.Close()
		hello := false
		defer func() {
			if hello {
				in.sink.Disconnect()
			}
			log.Info("publisher disconnected")
		}()

		conn.SetReadLimit(in.MaxMessage)
		for {
			_ = conn.SetReadDeadline(time.Now().Add(readTimeout))
			kind, data, err := conn.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					log.WithError(err).Debug("ingest read")
				}
				return
			}
			err = in.handle(kind, data, &hello)
			if in.OnMessage != nil {
				in.OnMessage(err)
			}
			if err != nil {
				log.WithError(err).Debug("ingest message rejected")
				_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
				_ = conn.WriteJSON(map[string]any{"type": "error", "error": err.Error()})
			}
		}
	}()
}

func (in *Ingest) handle(kind int, data []byte, hello *bool) error {
	switch kind {
	case websocket.TextMessage:
		var msg IngestMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return fmt.Errorf("decode message: %w", err)
		}
		switch msg.Type {
		case "hello":
			if *hello {
				in.sink.Disconnect()
			}
			in.sink.Connect(msg.SampleRate)
			*hello = true
			return nil
		case "landmarks":
			if msg.Detection == nil {
				return fmt.Errorf("landmarks: %w", landmark.ErrMalformedDetection)
			}
			return in.sink.Landmarks(*msg.Detection)
		}
		return fmt.Errorf("%w: type %q", ErrUnknownMessage, msg.Type)

	case websocket.BinaryMessage:
		if !*hello {
			return ErrNoHello
		}
		if len(data) < 2 {
			return fmt.Errorf("%w: empty binary message", ErrUnknownMessage)
		}
		switch data[0] {
		case TagFrame:
			return in.sink.Frame(data[1:])
		case TagAudio:
			return in.sink.Audio(data[1:])
		}
		return fmt.Errorf("%w: binary tag %#x", ErrUnknownMessage, data[0])
	}
	return nil
}
