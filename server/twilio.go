package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"encoding/xml"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/karmalabs/karma/audio"
	"github.com/karmalabs/karma/logger"
	"github.com/karmalabs/karma/pipeline"
)

// twimlResponse is the TwiML document returned from the voice webhook: it
// tells Twilio to open a bidirectional media stream back to this server.
type twimlResponse struct {
	XMLName xml.Name     `xml:"Response"`
	Connect twimlConnect `xml:"Connect"`
}

type twimlConnect struct {
	Stream twimlStream `xml:"Stream"`
}

type twimlStream struct {
	URL       string           `xml:"url,attr"`
	Parameter []twimlParameter `xml:"Parameter"`
}

type twimlParameter struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

// twilioMessage is the envelope for every media-stream frame, inbound and
// outbound. Only the fields for the active event are populated.
type twilioMessage struct {
	Event     string       `json:"event"`
	StreamSid string       `json:"streamSid,omitempty"`
	Start     *twilioStart `json:"start,omitempty"`
	Media     *twilioMedia `json:"media,omitempty"`
	Mark      *twilioMark  `json:"mark,omitempty"`
}

type twilioStart struct {
	StreamSid        string            `json:"streamSid"`
	CallSid          string            `json:"callSid"`
	CustomParameters map[string]string `json:"customParameters"`
}

type twilioMedia struct {
	Payload string `json:"payload"`
}

type twilioMark struct {
	Name string `json:"name"`
}

// handleVoice answers Twilio's incoming-call webhook with TwiML opening a
// media stream.
func (s *Server) handleVoice(w http.ResponseWriter, r *http.Request) {
	callSid := r.FormValue("CallSid")
	caller := r.FormValue("From")
	if caller == "" {
		caller = "unknown"
	}
	logger.For("server.twilio").Info("incoming call", "call_sid", callSid, "caller", caller)

	host := s.opts.PublicHost
	if host == "" {
		host = r.Host
	}

	doc := twimlResponse{
		Connect: twimlConnect{
			Stream: twimlStream{
				URL: "wss://" + host + "/media-stream",
				Parameter: []twimlParameter{
					{Name: "caller", Value: caller},
				},
			},
		},
	}

	w.Header().Set("Content-Type", "application/xml")
	w.Write([]byte(xml.Header))
	if err := xml.NewEncoder(w).Encode(doc); err != nil {
		logger.For("server.twilio").Error("failed to encode TwiML", "error", err)
	}
}

// handleCallStatus receives Twilio call lifecycle callbacks and tears the
// session down on terminal statuses.
func (s *Server) handleCallStatus(w http.ResponseWriter, r *http.Request) {
	callSid := r.FormValue("CallSid")
	status := r.FormValue("CallStatus")
	logger.For("server.twilio").Info("call status", "call_sid", callSid, "status", status)

	switch status {
	case "completed", "failed", "busy", "no-answer", "canceled":
		s.opts.Registry.Destroy(callSid, "call "+status)
	}
	w.WriteHeader(http.StatusOK)
}

// handleMediaStream owns one Twilio media-stream WebSocket for the length
// of a call. Caller audio is µ-law decoded and fed to the pipeline frame
// by frame; pipeline output flows back as media, mark, and clear messages.
func (s *Server) handleMediaStream(w http.ResponseWriter, r *http.Request) {
	log := logger.For("server.twilio")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error("media stream upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	var (
		p         *pipeline.Pipeline
		streamSid string
		leftover  []byte
		writeMu   sync.Mutex
		writeDone chan struct{}
	)
	defer func() {
		if p != nil {
			s.opts.Registry.Destroy(p.CallID(), "media stream closed")
			if writeDone != nil {
				<-writeDone
			}
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			// Twilio closes the socket when the call ends.
			return
		}

		var msg twilioMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}

		switch msg.Event {
		case "connected":
			log.Info("media stream connected")

		case "start":
			if msg.Start == nil || p != nil {
				continue
			}
			streamSid = msg.Start.StreamSid
			caller := msg.Start.CustomParameters["caller"]
			log.Info("stream started",
				"call_sid", msg.Start.CallSid, "stream_sid", streamSid, "caller", caller)

			p, err = s.newPipeline(context.Background(), msg.Start.CallSid, pipeline.TransportTelephone)
			if err != nil {
				log.Error("failed to start session", "call_sid", msg.Start.CallSid, "error", err)
				return
			}
			writeDone = make(chan struct{})
			go func() {
				defer close(writeDone)
				s.writeTwilioAudio(conn, &writeMu, streamSid, p)
			}()

		case "media":
			if p == nil || msg.Media == nil || msg.Media.Payload == "" {
				continue
			}
			mulaw, err := base64.StdEncoding.DecodeString(msg.Media.Payload)
			if err != nil {
				continue
			}
			// Twilio payloads are not frame-aligned; carry the remainder.
			leftover = append(leftover, mulaw...)
			for len(leftover) >= audio.FrameSizeMuLaw {
				frame := audio.DecodeMuLaw(leftover[:audio.FrameSizeMuLaw])
				leftover = leftover[audio.FrameSizeMuLaw:]
				p.FeedFrame(frame)
			}

		case "mark":
			if msg.Mark != nil {
				log.Debug("mark received", "name", msg.Mark.Name)
			}

		case "stop":
			log.Info("media stream stopped")
			return
		}
	}
}

// writeTwilioAudio pumps pipeline output onto the media stream until the
// pipeline ends. Persona audio is already µ-law so it passes straight
// through.
func (s *Server) writeTwilioAudio(conn *websocket.Conn, writeMu *sync.Mutex, streamSid string, p *pipeline.Pipeline) {
	log := logger.For("server.twilio")

	send := func(msg twilioMessage) bool {
		writeMu.Lock()
		err := conn.WriteJSON(msg)
		writeMu.Unlock()
		if err != nil {
			log.Debug("media stream write failed", "error", err)
			return false
		}
		return true
	}

	for chunk := range p.Output() {
		var msg twilioMessage
		switch {
		case chunk.Clear:
			msg = twilioMessage{Event: "clear", StreamSid: streamSid}
		case chunk.Mark != "":
			msg = twilioMessage{
				Event:     "mark",
				StreamSid: streamSid,
				Mark:      &twilioMark{Name: chunk.Mark},
			}
		case len(chunk.Audio) > 0:
			msg = twilioMessage{
				Event:     "media",
				StreamSid: streamSid,
				Media: &twilioMedia{
					Payload: base64.StdEncoding.EncodeToString(chunk.Audio),
				},
			}
		default:
			continue
		}
		if !send(msg) {
			return
		}
	}
}
