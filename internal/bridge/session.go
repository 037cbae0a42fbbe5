// Package bridge relays live call audio between a Twilio media stream and an
// ElevenLabs conversation socket: one Session per call, converting codecs in
// both directions, detecting caller speech for interruption and pacing agent
// audio out to real time.
package bridge

import (
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/neonpush/elevenlabs-realtime-agent/internal/audio"
	"github.com/neonpush/elevenlabs-realtime-agent/internal/config"
	"github.com/neonpush/elevenlabs-realtime-agent/internal/convai"
	"github.com/neonpush/elevenlabs-realtime-agent/internal/lead"
	"github.com/neonpush/elevenlabs-realtime-agent/internal/telephony"
)

// pacingInterval spaces outbound playback frames to approximate real time and
// keep Twilio's jitter buffer shallow, which is what makes interruption feel
// instant.
const pacingInterval = 10 * time.Millisecond

// outboundGain backs agent PCM off the ceiling before µ-law companding.
const outboundGain = 0.9

// State is the session lifecycle stage.
type State int

const (
	StateInit State = iota
	StateConnecting
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "INIT"
	case StateConnecting:
		return "CONNECTING"
	case StateActive:
		return "ACTIVE"
	case StateClosed:
		return "CLOSED"
	}
	return "UNKNOWN"
}

// Session bridges one live call. It owns the assigned agent socket and writes
// to the telephony socket; the media-stream read loop feeds it via
// HandleTelephonyMessage.
type Session struct {
	pool  *convai.Pool
	tel   telephony.Conn
	leads lead.Store
	vad   *audio.Detector

	mu           sync.Mutex
	state        State
	callID       string
	streamSID    string
	caller       string
	agent        convai.Conn
	outputFormat string

	// Outbound dispatch queue. drainEpoch invalidates an in-flight drain loop
	// on interruption so a freshly started loop never runs concurrently with
	// a stale one.
	queue      [][]byte
	draining   bool
	drainEpoch int

	metrics   *callMetrics
	closeOnce sync.Once
	done      chan struct{}
}

// NewSession builds an idle session for one incoming media stream.
func NewSession(pool *convai.Pool, tel telephony.Conn, leads lead.Store, tuning config.VADTuning) *Session {
	return &Session{
		pool:    pool,
		tel:     tel,
		leads:   leads,
		vad:     audio.NewDetector(tuning),
		metrics: newCallMetrics(),
		done:    make(chan struct{}),
	}
}

// Done closes when the session reaches CLOSED.
func (s *Session) Done() <-chan struct{} { return s.done }

// State reports the current lifecycle stage.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// HandleTelephonyMessage processes one inbound media-stream frame. Malformed
// frames are logged and dropped; only the stop event and socket errors end
// the session.
func (s *Session) HandleTelephonyMessage(ctx context.Context, raw []byte) {
	m, err := telephony.Parse(raw)
	if err != nil {
		log.Printf("session: dropping frame: %v", err)
		return
	}

	switch m.Event {
	case telephony.EventConnected:
		// Stream handshake; nothing to do until start arrives.
	case telephony.EventStart:
		if m.Start == nil {
			log.Printf("session: start event without payload")
			return
		}
		if err := s.start(ctx, m.Start); err != nil {
			log.Printf("session %s: start failed: %v", m.Start.CallSID, err)
			s.Close()
		}
	case telephony.EventMedia:
		payload, err := m.Audio()
		if err != nil {
			log.Printf("session %s: dropping media frame: %v", s.callID, err)
			return
		}
		s.handleCallerAudio(payload)
	case telephony.EventStop:
		s.Close()
	default:
		log.Printf("session %s: unknown media stream event %q", s.callID, m.Event)
	}
}

// start moves INIT -> CONNECTING, acquires an agent socket from the pool and
// sends the initiation payload built from the lead snapshot. The session goes
// ACTIVE when the agent acknowledges with conversation metadata.
func (s *Session) start(ctx context.Context, p *telephony.StartPayload) error {
	s.mu.Lock()
	if s.state != StateInit {
		s.mu.Unlock()
		return errors.New("duplicate start event")
	}
	s.state = StateConnecting
	s.callID = p.CallSID
	s.streamSID = p.StreamSID
	s.caller = p.CustomParameters["caller"]
	s.mu.Unlock()

	var snapshot *lead.Lead
	if s.leads != nil && s.caller != "" {
		l, err := s.leads.Get(ctx, s.caller)
		switch {
		case err == nil:
			snapshot = l
		case errors.Is(err, lead.ErrNotFound):
			log.Printf("session %s: no lead for %s, starting blank", s.callID, s.caller)
		default:
			log.Printf("session %s: lead lookup failed: %v", s.callID, err)
		}
	}

	conn, err := s.pool.Acquire(ctx, s.callID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.agent = conn
	s.mu.Unlock()

	if err := conn.WriteJSON(convai.NewInitiationMessage(DynamicVariables(snapshot))); err != nil {
		return err
	}

	go s.runAgentLoop(conn)
	log.Printf("session %s: connecting stream=%s caller=%s", s.callID, s.streamSID, s.caller)
	return nil
}

// handleCallerAudio is the inbound path: µ-law decode, adaptive gain, VAD on
// the 8kHz frame, then upsample to 16kHz and forward. Frames are always
// forwarded regardless of speech state; the VAD only drives interruption.
func (s *Session) handleCallerAudio(mulaw []byte) {
	s.mu.Lock()
	agent := s.agent
	closed := s.state == StateClosed
	s.mu.Unlock()
	if agent == nil || closed {
		return
	}

	pcm := audio.ApplyAdaptiveGain(audio.DecodeMuLaw(mulaw))
	if speaking, changed := s.vad.Process(pcm); changed {
		if speaking {
			s.interrupt(true)
		}
		log.Printf("session %s: caller %s", s.callID, speechState(speaking))
	}

	chunk := convai.NewAudioChunk(audio.PCMToBytes(audio.Upsample8kTo16k(pcm)))
	if err := agent.WriteJSON(chunk); err != nil {
		log.Printf("session %s: agent write failed: %v", s.callID, err)
		s.Close()
		return
	}
	s.pool.Touch(s.callID)
	s.metrics.callerFrame()
}

// runAgentLoop reads agent events until the socket dies. Malformed events are
// dropped; a read error ends the session.
func (s *Session) runAgentLoop(conn convai.Conn) {
	for {
		raw, err := conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			closed := s.state == StateClosed
			s.mu.Unlock()
			if !closed {
				log.Printf("session %s: agent socket closed: %v", s.callID, err)
			}
			s.Close()
			return
		}

		ev, err := convai.ParseServerEvent(raw)
		if err != nil {
			log.Printf("session %s: dropping agent event: %v", s.callID, err)
			continue
		}
		s.handleAgentEvent(conn, ev)
	}
}

func (s *Session) handleAgentEvent(conn convai.Conn, ev *convai.ServerEvent) {
	switch ev.Type {
	case convai.EventConversationMetadata:
		s.mu.Lock()
		s.outputFormat = ev.AgentOutputFormat
		if s.state == StateConnecting {
			s.state = StateActive
		}
		s.mu.Unlock()
		log.Printf("session %s: active, agent output format %q", s.callID, ev.AgentOutputFormat)
	case convai.EventAudio:
		s.enqueueAgentAudio(ev.Audio)
	case convai.EventInterruption:
		s.interrupt(false)
	case convai.EventPing:
		// Answer after the advertised delay so the server's RTT estimate
		// reflects the requested schedule.
		delay := time.Duration(ev.PingMs) * time.Millisecond
		eventID := ev.EventID
		go func() {
			time.Sleep(delay)
			if err := conn.WriteJSON(convai.NewPong(eventID)); err != nil {
				log.Printf("session %s: pong failed: %v", s.callID, err)
			}
		}()
	case convai.EventAgentResponse:
		log.Printf("session %s: agent: %s", s.callID, ev.Text)
	case convai.EventUserTranscript:
		log.Printf("session %s: caller: %s", s.callID, ev.Text)
	case convai.EventVADScore:
		// Advisory only; local detection drives interruption.
	default:
		log.Printf("session %s: unknown agent event %q", s.callID, ev.RawType)
	}
}

// enqueueAgentAudio converts one agent audio event to µ-law and queues it for
// the paced drain loop. A single loop runs at a time.
func (s *Session) enqueueAgentAudio(data []byte) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	frame := encodeOutbound(s.outputFormat, data)
	s.metrics.markFirstAudio()
	s.queue = append(s.queue, frame)
	start := !s.draining
	if start {
		s.draining = true
	}
	epoch := s.drainEpoch
	s.mu.Unlock()

	if start {
		go s.drain(epoch)
	}
}

// drain sends queued frames one at a time with a fixed pacing delay. It stops
// when the queue empties or its epoch is invalidated by an interruption; the
// epoch check runs before every dispatch, so at most the in-flight frame
// plays after an interruption.
func (s *Session) drain(epoch int) {
	for {
		s.mu.Lock()
		if s.drainEpoch != epoch || len(s.queue) == 0 {
			if s.drainEpoch == epoch {
				s.draining = false
			}
			s.mu.Unlock()
			return
		}
		frame := s.queue[0]
		s.queue = s.queue[1:]
		streamSID := s.streamSID
		s.mu.Unlock()

		if err := s.tel.WriteJSON(telephony.MediaMessage(streamSID, frame)); err != nil {
			log.Printf("session %s: media write failed: %v", s.callID, err)
			s.Close()
			return
		}
		s.metrics.agentFrame()
		time.Sleep(pacingInterval)
	}
}

// interrupt flushes the dispatch queue, stops the drain loop and tells Twilio
// to discard buffered playback. fromCaller additionally signals user activity
// to the agent (the agent already knows about its own interruptions).
func (s *Session) interrupt(fromCaller bool) {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.queue = nil
	s.drainEpoch++
	s.draining = false
	streamSID := s.streamSID
	agent := s.agent
	s.mu.Unlock()

	if err := s.tel.WriteJSON(telephony.ClearMessage(streamSID)); err != nil {
		log.Printf("session %s: clear failed: %v", s.callID, err)
	}
	if fromCaller && agent != nil {
		if err := agent.WriteJSON(convai.NewUserActivity()); err != nil {
			log.Printf("session %s: user_activity failed: %v", s.callID, err)
		}
	}
	s.metrics.interruption()
}

// Close tears the session down exactly once: flush the queue, release the
// pool entry (which closes the agent socket) and log the call record.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosed
		s.queue = nil
		s.drainEpoch++
		s.draining = false
		callID := s.callID
		s.mu.Unlock()

		if callID != "" {
			s.pool.Release(callID)
		}
		close(s.done)
		s.metrics.summary(callID)
	})
}

// encodeOutbound converts one agent audio event to the µ-law bytes Twilio
// plays. The negotiated format string is opaque; anything that does not look
// like µ-law is treated as linear PCM.
func encodeOutbound(format string, data []byte) []byte {
	if strings.Contains(format, "ulaw") {
		return data
	}
	pcm := audio.BytesToPCM(data)
	audio.ScaleGain(pcm, outboundGain)
	return audio.EncodeMuLaw(pcm)
}

func speechState(speaking bool) string {
	if speaking {
		return "speaking"
	}
	return "silent"
}
