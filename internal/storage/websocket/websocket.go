package websocket

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/OCAP2/vcd/internal/config"
	"github.com/OCAP2/vcd/internal/storage/memory"
	"github.com/OCAP2/vcd/pkg/core"
	"github.com/OCAP2/vcd/pkg/streaming"
)

// Option configures a Backend
type Option func(*Backend)

// WithLogger sets the logger used by the backend and its connection
func WithLogger(l *slog.Logger) Option {
	return func(b *Backend) {
		b.logger = l
	}
}

// Backend applies every mutation to an in-memory document and streams it
// over WebSocket. Queries and exports go straight to the embedded document.
// Relation links and frame properties are not streamed on their own; they
// reach the server through PublishFrame.
type Backend struct {
	*memory.Backend

	conn   *connection
	cfg    config.StreamConfig
	logger *slog.Logger
}

// New creates a streaming backend around doc. A nil doc starts an empty one.
func New(cfg config.StreamConfig, doc *memory.Backend, opts ...Option) *Backend {
	if doc == nil {
		doc = memory.New(config.DocumentConfig{})
	}
	b := &Backend{
		Backend: doc,
		cfg:     cfg,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.conn = newConnection(b.logger)
	return b
}

// Init connects to the WebSocket server.
func (b *Backend) Init() error {
	if err := b.Backend.Init(); err != nil {
		return err
	}
	return b.conn.dial(b.cfg.URL, b.cfg.Secret)
}

// Close disconnects from the WebSocket server.
func (b *Backend) Close() error {
	err := b.conn.close()
	if cerr := b.Backend.Close(); err == nil {
		err = cerr
	}
	return err
}

// marshalEnvelope builds a JSON-encoded Envelope from a message type and payload.
func marshalEnvelope(msgType string, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", msgType, err)
	}
	env := streaming.Envelope{Type: msgType, Payload: raw}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", msgType, err)
	}
	return data, nil
}

// sendEnvelope marshals the payload into an Envelope and pushes it
// to the write loop (fire-and-forget).
func (b *Backend) sendEnvelope(msgType string, payload any) error {
	data, err := marshalEnvelope(msgType, payload)
	if err != nil {
		return err
	}
	b.conn.send(data)
	return nil
}

// StartDocument announces the document and waits for server ack.
// The message is replayed after a reconnect.
func (b *Backend) StartDocument() error {
	data, err := marshalEnvelope(streaming.TypeStartDocument, streaming.StartDocumentPayload{
		Name:          b.Name(),
		SchemaVersion: b.SchemaVersion(),
	})
	if err != nil {
		return err
	}

	b.conn.mu.Lock()
	b.conn.cachedStartMsg = data
	b.conn.mu.Unlock()

	return b.conn.sendAndWait(data, streaming.TypeStartDocument, ackTimeout)
}

// EndDocument sends end_document and waits for server ack.
func (b *Backend) EndDocument() error {
	data, err := marshalEnvelope(streaming.TypeEndDocument, nil)
	if err != nil {
		return err
	}
	err = b.conn.sendAndWait(data, streaming.TypeEndDocument, ackTimeout)

	// Clear cached state regardless of error.
	b.conn.mu.Lock()
	b.conn.cachedStartMsg = nil
	b.conn.mu.Unlock()

	return err
}

func (b *Backend) sendElement(t core.ElementType, uid int) error {
	e, err := b.Element(t, uid)
	if err != nil {
		return err
	}
	return b.sendEnvelope(streaming.TypeAddElement, streaming.NewElementPayload(e))
}

// AddElement registers e in the document and streams it.
func (b *Backend) AddElement(e *core.Element) error {
	if err := b.Backend.AddElement(e); err != nil {
		return err
	}
	return b.sendElement(e.Category, e.UID)
}

// AddElementWithUID registers e under its own uid and streams it.
func (b *Backend) AddElementWithUID(e *core.Element) error {
	if err := b.Backend.AddElementWithUID(e); err != nil {
		return err
	}
	return b.sendElement(e.Category, e.UID)
}

// AddElementData sets a data field and streams it.
func (b *Backend) AddElementData(t core.ElementType, uid int, data core.ElementData, intervals core.FrameIntervals) error {
	if err := b.Backend.AddElementData(t, uid, data, intervals); err != nil {
		return err
	}
	return b.sendEnvelope(streaming.TypeAddElementData, streaming.ElementDataPayload{
		Category:       t.String(),
		UID:            uid,
		Data:           streaming.NewDataPayload(data),
		FrameIntervals: core.NewFrameIntervals(intervals...),
	})
}

// AddElementDataAttribute nests attr under a data field and streams the
// whole field with its current intervals.
func (b *Backend) AddElementDataAttribute(t core.ElementType, uid int, dataName string, attr core.ElementData) error {
	if err := b.Backend.AddElementDataAttribute(t, uid, dataName, attr); err != nil {
		return err
	}
	data, err := b.ElementData(t, uid, dataName)
	if err != nil {
		return err
	}
	intervals, err := b.DataFrameIntervals(t, uid, dataName)
	if err != nil {
		return err
	}
	return b.sendEnvelope(streaming.TypeAddElementData, streaming.ElementDataPayload{
		Category:       t.String(),
		UID:            uid,
		Data:           streaming.NewDataPayload(data),
		FrameIntervals: intervals,
	})
}

// UpdateElement extends the element intervals and streams the change.
func (b *Backend) UpdateElement(t core.ElementType, uid int, intervals core.FrameIntervals) error {
	if err := b.Backend.UpdateElement(t, uid, intervals); err != nil {
		return err
	}
	return b.sendEnvelope(streaming.TypeUpdateElement, streaming.UpdateElementPayload{
		Category:       t.String(),
		UID:            uid,
		FrameIntervals: core.NewFrameIntervals(intervals...),
	})
}

// ModifyElement replaces the element intervals and streams the change.
func (b *Backend) ModifyElement(t core.ElementType, uid int, intervals core.FrameIntervals) error {
	if err := b.Backend.ModifyElement(t, uid, intervals); err != nil {
		return err
	}
	return b.sendEnvelope(streaming.TypeUpdateElement, streaming.UpdateElementPayload{
		Category:       t.String(),
		UID:            uid,
		FrameIntervals: core.NewFrameIntervals(intervals...),
		Replace:        true,
	})
}

// ModifyElementInfo overwrites descriptive fields of an element and streams
// the change along with the unchanged intervals.
func (b *Backend) ModifyElementInfo(t core.ElementType, uid int, info core.ElementInfo) error {
	if err := b.Backend.ModifyElementInfo(t, uid, info); err != nil {
		return err
	}
	if info.Empty() {
		return nil
	}
	intervals, err := b.ElementFrameIntervals(t, uid)
	if err != nil {
		return err
	}
	return b.sendEnvelope(streaming.TypeUpdateElement, streaming.UpdateElementPayload{
		Category:       t.String(),
		UID:            uid,
		FrameIntervals: core.NewFrameIntervals(intervals...),
		Name:           info.Name,
		Type:           info.Type,
		OntologyUID:    info.OntologyUID,
		Stream:         info.Stream,
	})
}

// RemoveElement drops an element and streams the removal.
func (b *Backend) RemoveElement(t core.ElementType, uid int) error {
	if err := b.Backend.RemoveElement(t, uid); err != nil {
		return err
	}
	return b.sendEnvelope(streaming.TypeRemoveElement, streaming.RemoveElementPayload{
		Category: t.String(),
		UID:      uid,
	})
}

// RemoveElementsByType drops every element of semantic type semanticType,
// streaming one removal per element.
func (b *Backend) RemoveElementsByType(t core.ElementType, semanticType string) int {
	removed := 0
	for _, uid := range b.ElementsOfType(t, semanticType) {
		if err := b.RemoveElement(t, uid); err != nil {
			b.logger.Warn("Failed to remove element", "category", t, "uid", uid, "error", err)
			continue
		}
		removed++
	}
	return removed
}

// PublishFrame streams the full view (dynamic and static parts) of frame.
func (b *Backend) PublishFrame(frame int) error {
	view, err := b.StringifyFrame(frame, false, false)
	if err != nil {
		return err
	}
	return b.sendEnvelope(streaming.TypeFrame, streaming.FramePayload{Frame: frame, VCD: view})
}
