// Package runbus implements the agent run event bus and chat run registry:
// sequenced per-run streams fanned out to subscribers and per-session
// listeners, with delta throttling, heartbeat suppression, and abort
// handling.
package runbus

import (
	"strings"
	"sync"
	"time"

	"github.com/nextlevelbuilder/gatewaycore/internal/protocol"
)

// AgentEvent is one event in a run's sequenced stream.
type AgentEvent struct {
	RunID      string
	Stream     string // protocol.StreamAssistant|Tool|Lifecycle|Error
	Seq        int
	TS         int64
	SessionKey string
	Data       map[string]interface{}
}

// ChatLink associates a chat run (sessionKey, clientRunId) with the
// sessionId FIFO the bus dequeues from when a run completes.
type ChatLink struct {
	SessionKey  string
	ClientRunID string
}

// Publisher is the minimal broadcast surface the bus needs from the
// gateway server (internal/gateway.Server satisfies this).
type Publisher interface {
	Broadcast(event string, payload interface{})
	// BroadcastDroppable is like Broadcast but drops the frame for any
	// client whose outbound queue is already full (§4.H dropIfSlow),
	// used for high-volume agent tool events.
	BroadcastDroppable(event string, payload interface{})
	SendToSession(sessionKey string, event string, payload interface{})
}

const deltaThrottle = 150 * time.Millisecond

type chatBuffer struct {
	text        strings.Builder
	media       []string
	mediaSeen   map[string]bool
	lastDeltaAt time.Time
	hasDelta    bool
}

// Bus is the process-local event bus. All state is protected by a single
// mutex, matching the "single bus mutex" concurrency model (§5) — events
// are processed in the order observed per connection.
type Bus struct {
	mu              sync.Mutex
	publisher       Publisher
	heartbeatShowOK bool
	clock           func() time.Time

	lastSeq     map[string]int
	chatQueues  map[string][]ChatLink // keyed by sessionId
	runToLink   map[string]ChatLink   // keyed by runId
	buffers     map[string]*chatBuffer // keyed by clientRunId
	aborted     map[string]bool        // keyed by runId
	heartbeatRuns map[string]bool      // keyed by runId
}

// New returns a Bus that publishes through pub. heartbeatShowOK mirrors
// config.heartbeatVisibility.showOk.
func New(pub Publisher, heartbeatShowOK bool) *Bus {
	return &Bus{
		publisher:       pub,
		heartbeatShowOK: heartbeatShowOK,
		clock:           time.Now,
		lastSeq:         map[string]int{},
		chatQueues:      map[string][]ChatLink{},
		runToLink:       map[string]ChatLink{},
		buffers:         map[string]*chatBuffer{},
		aborted:         map[string]bool{},
		heartbeatRuns:   map[string]bool{},
	}
}

// RegisterChatRun enqueues a chat link for sessionId's FIFO.
func (b *Bus) RegisterChatRun(sessionID string, link ChatLink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.chatQueues[sessionID] = append(b.chatQueues[sessionID], link)
}

// MarkHeartbeat flags runID as a heartbeat (non-user-initiated) run.
func (b *Bus) MarkHeartbeat(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.heartbeatRuns[runID] = true
}

// Abort marks runID as aborted; a subsequent lifecycle:end/error for it is
// drained without emitting a final chat event.
func (b *Bus) Abort(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.aborted[runID] = true
}

// LastSeq returns the last processed seq for runID (0 if none processed).
func (b *Bus) LastSeq(runID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastSeq[runID]
}

func (b *Bus) linkFor(sessionID string, runID string) (ChatLink, bool) {
	if link, ok := b.runToLink[runID]; ok {
		return link, true
	}
	queue, ok := b.chatQueues[sessionID]
	if !ok || len(queue) == 0 {
		return ChatLink{}, false
	}
	link := queue[0]
	b.runToLink[runID] = link
	return link, true
}

func (b *Bus) popLink(sessionID, runID string) {
	delete(b.runToLink, runID)
	queue := b.chatQueues[sessionID]
	if len(queue) > 0 {
		b.chatQueues[sessionID] = queue[1:]
	}
}

// HandleEvent processes one agent event: gap detection, broadcast,
// heartbeat-aware chat delta/final synthesis. sessionID is the per-session
// UUID (sessionstore.Entry.SessionID) that owns evt.RunID's chat link, as
// resolved by the run context; callers that have no better resolver may
// pass evt.SessionKey's owning sessionID if known, or "" if none.
func (b *Bus) HandleEvent(sessionID string, evt AgentEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	link, hasLink := b.linkFor(sessionID, evt.RunID)

	expected := b.lastSeq[evt.RunID] + 1
	if evt.Seq != expected {
		b.publishAgent(protocol.AgentErrorPayload(evt.RunID, "seq gap", expected, evt.Seq), link, hasLink)
	}
	b.lastSeq[evt.RunID] = evt.Seq

	b.publishAgent(evt, link, hasLink)

	isHeartbeat := b.heartbeatRuns[evt.RunID]
	suppressChat := isHeartbeat && !b.heartbeatShowOK

	switch evt.Stream {
	case protocol.StreamAssistant:
		if hasLink {
			b.handleAssistantDelta(link, evt, suppressChat)
		}
	case protocol.StreamLifecycle:
		phase, _ := evt.Data["phase"].(string)
		if phase == protocol.LifecyclePhaseEnd || phase == protocol.LifecyclePhaseError {
			b.finalizeRun(sessionID, evt, link, hasLink, suppressChat, phase)
		}
	}
}

func (b *Bus) publishAgent(evt interface{}, link ChatLink, hasLink bool) {
	b.publisher.BroadcastDroppable(protocol.EventAgent, evt)
	if hasLink && link.SessionKey != "" {
		b.publisher.SendToSession(link.SessionKey, protocol.EventAgent, evt)
	}
}

func (b *Bus) handleAssistantDelta(link ChatLink, evt AgentEvent, suppress bool) {
	buf := b.buffers[link.ClientRunID]
	if buf == nil {
		buf = &chatBuffer{mediaSeen: map[string]bool{}}
		b.buffers[link.ClientRunID] = buf
	}
	if text, ok := evt.Data["text"].(string); ok {
		buf.text.WriteString(text)
	}
	collectMedia(buf, evt.Data)

	now := b.clock()
	if buf.hasDelta && now.Sub(buf.lastDeltaAt) < deltaThrottle {
		return
	}
	buf.hasDelta = true
	buf.lastDeltaAt = now

	if suppress {
		return
	}
	payload := map[string]interface{}{
		"state":       protocol.ChatStateDelta,
		"clientRunId": link.ClientRunID,
		"text":        buf.text.String(),
	}
	b.publisher.Broadcast(protocol.EventChat, payload)
	if link.SessionKey != "" {
		b.publisher.SendToSession(link.SessionKey, protocol.EventChat, payload)
	}
}

func collectMedia(buf *chatBuffer, data map[string]interface{}) {
	add := func(u string) {
		u = strings.TrimSpace(u)
		if u == "" || buf.mediaSeen[u] {
			return
		}
		buf.mediaSeen[u] = true
		buf.media = append(buf.media, u)
	}
	if urls, ok := data["mediaUrls"].([]interface{}); ok {
		for _, u := range urls {
			if s, ok := u.(string); ok {
				add(s)
			}
		}
	}
	if images, ok := data["images"].([]interface{}); ok {
		for _, img := range images {
			m, ok := img.(map[string]interface{})
			if !ok {
				continue
			}
			if u, ok := m["url"].(string); ok {
				add(u)
			}
			if u, ok := m["imageUrl"].(string); ok {
				add(u)
			}
		}
	}
}

func (b *Bus) finalizeRun(sessionID string, evt AgentEvent, link ChatLink, hasLink bool, suppress bool, phase string) {
	defer func() {
		delete(b.heartbeatRuns, evt.RunID)
		delete(b.aborted, evt.RunID)
		if hasLink {
			delete(b.buffers, link.ClientRunID)
			b.popLink(sessionID, evt.RunID)
		}
	}()

	if b.aborted[evt.RunID] {
		return
	}
	if !hasLink {
		return
	}
	buf := b.buffers[link.ClientRunID]
	text := ""
	var media []string
	if buf != nil {
		text = buf.text.String()
		media = buf.media
	}
	if suppress {
		return
	}
	state := protocol.ChatStateFinal
	if phase == protocol.LifecyclePhaseError {
		state = protocol.ChatStateError
	}
	payload := map[string]interface{}{
		"state":       state,
		"clientRunId": link.ClientRunID,
		"text":        text,
		"media":       media,
	}
	b.publisher.Broadcast(protocol.EventChat, payload)
	if link.SessionKey != "" {
		b.publisher.SendToSession(link.SessionKey, protocol.EventChat, payload)
	}
}
