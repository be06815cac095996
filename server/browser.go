package server

import (
	"context"
	"encoding/base64"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/karmalabs/karma/audio"
	"github.com/karmalabs/karma/logger"
	"github.com/karmalabs/karma/pipeline"
)

// browserMessage is the JSON protocol spoken with the web client. Inbound
// types: start, audio, mute, stop. Outbound types: started, audio, mark,
// clear, ended.
type browserMessage struct {
	Type    string `json:"type"`
	CallID  string `json:"call_id,omitempty"`
	Payload string `json:"payload,omitempty"`
	Name    string `json:"name,omitempty"`
	Muted   bool   `json:"muted,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// handleBrowserCall runs a call session over a browser WebSocket. The
// client sends base64 PCM16 8 kHz audio; persona audio goes back µ-law
// encoded, same as the telephone path.
func (s *Server) handleBrowserCall(w http.ResponseWriter, r *http.Request) {
	log := logger.For("server.browser")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error("browser upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	var (
		p         *pipeline.Pipeline
		leftover  []byte
		writeMu   sync.Mutex
		writeDone chan struct{}
	)
	defer func() {
		if p != nil {
			s.opts.Registry.Destroy(p.CallID(), "browser disconnected")
			if writeDone != nil {
				<-writeDone
			}
		}
	}()

	for {
		var msg browserMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case "start":
			if p != nil {
				continue
			}
			callID := "web-" + uuid.NewString()
			p, err = s.newPipeline(context.Background(), callID, pipeline.TransportBrowser)
			if err != nil {
				log.Error("failed to start browser session", "error", err)
				return
			}
			log.Info("browser session started", "call_id", callID)

			writeMu.Lock()
			err = conn.WriteJSON(browserMessage{Type: "started", CallID: callID})
			writeMu.Unlock()
			if err != nil {
				return
			}

			writeDone = make(chan struct{})
			go func() {
				defer close(writeDone)
				s.writeBrowserAudio(conn, &writeMu, p)
			}()

		case "audio":
			if p == nil || msg.Payload == "" {
				continue
			}
			pcm, err := base64.StdEncoding.DecodeString(msg.Payload)
			if err != nil {
				continue
			}
			leftover = append(leftover, pcm...)
			for len(leftover) >= audio.FrameSizePCM16 {
				frame := leftover[:audio.FrameSizePCM16:audio.FrameSizePCM16]
				leftover = leftover[audio.FrameSizePCM16:]
				p.FeedFrame(frame)
			}

		case "mute":
			if p != nil {
				p.SetMute(msg.Muted)
			}

		case "stop":
			return
		}
	}
}

func (s *Server) writeBrowserAudio(conn *websocket.Conn, writeMu *sync.Mutex, p *pipeline.Pipeline) {
	send := func(msg browserMessage) bool {
		writeMu.Lock()
		err := conn.WriteJSON(msg)
		writeMu.Unlock()
		return err == nil
	}

	for chunk := range p.Output() {
		var msg browserMessage
		switch {
		case chunk.Clear:
			msg = browserMessage{Type: "clear"}
		case chunk.Mark != "":
			msg = browserMessage{Type: "mark", Name: chunk.Mark}
		case len(chunk.Audio) > 0:
			msg = browserMessage{
				Type:    "audio",
				Payload: base64.StdEncoding.EncodeToString(chunk.Audio),
			}
		default:
			continue
		}
		if !send(msg) {
			return
		}
	}

	send(browserMessage{Type: "ended", Reason: "session ended"})
}
