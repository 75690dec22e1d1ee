package streaming

import (
	"encoding/json"
	"fmt"

	"github.com/OCAP2/vcd/pkg/core"
)

// Message type constants matching the streaming protocol.
const (
	TypeStartDocument  = "start_document"
	TypeEndDocument    = "end_document"
	TypeAddElement     = "add_element"
	TypeAddElementData = "add_element_data"
	TypeUpdateElement  = "update_element"
	TypeRemoveElement  = "remove_element"
	TypeFrame          = "frame"
)

// Envelope wraps all messages sent over the WebSocket.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// AckMessage is the server's acknowledgement response.
type AckMessage struct {
	Type string `json:"type"` // always "ack"
	For  string `json:"for"`  // the message type being acknowledged
}

// StartDocumentPayload announces the document the following messages belong to.
type StartDocumentPayload struct {
	Name          string `json:"name,omitempty"`
	SchemaVersion string `json:"schema_version"`
}

// ElementPayload carries a newly registered element.
type ElementPayload struct {
	Category       string              `json:"category"`
	UID            int                 `json:"uid"`
	Name           string              `json:"name"`
	Type           string              `json:"type"`
	FrameIntervals core.FrameIntervals `json:"frame_intervals"`
	OntologyUID    string              `json:"ontology_uid,omitempty"`
	Stream         string              `json:"stream,omitempty"`
}

// DataPayload is the wire form of one element data field.
type DataPayload struct {
	Name       string        `json:"name"`
	Kind       string        `json:"kind"`
	Value      any           `json:"val"`
	Mode       string        `json:"mode,omitempty"`
	Closed     bool          `json:"closed,omitempty"`
	Attributes []DataPayload `json:"attributes,omitempty"`
}

// ElementDataPayload carries a data field set on an element.
// Empty frame intervals mean static data.
type ElementDataPayload struct {
	Category       string              `json:"category"`
	UID            int                 `json:"uid"`
	Data           DataPayload         `json:"data"`
	FrameIntervals core.FrameIntervals `json:"frame_intervals"`
}

// UpdateElementPayload carries a change of an element. Replace is set when
// the intervals replace the existing ones. Descriptive fields are only
// present when they changed; an empty string clears ontology_uid or stream.
type UpdateElementPayload struct {
	Category       string              `json:"category"`
	UID            int                 `json:"uid"`
	FrameIntervals core.FrameIntervals `json:"frame_intervals"`
	Replace        bool                `json:"replace,omitempty"`

	Name        *string `json:"name,omitempty"`
	Type        *string `json:"type,omitempty"`
	OntologyUID *string `json:"ontology_uid,omitempty"`
	Stream      *string `json:"stream,omitempty"`
}

// Info returns the descriptive changes carried by the payload
func (p UpdateElementPayload) Info() core.ElementInfo {
	return core.ElementInfo{
		Name:        p.Name,
		Type:        p.Type,
		OntologyUID: p.OntologyUID,
		Stream:      p.Stream,
	}
}

// RemoveElementPayload identifies a removed element.
type RemoveElementPayload struct {
	Category string `json:"category"`
	UID      int    `json:"uid"`
}

// FramePayload carries the serialized view of one frame.
type FramePayload struct {
	Frame int             `json:"frame"`
	VCD   json.RawMessage `json:"vcd"`
}

// NewElementPayload converts an element into its wire form.
func NewElementPayload(e core.Element) ElementPayload {
	return ElementPayload{
		Category:       e.Category.String(),
		UID:            e.UID,
		Name:           e.Name,
		Type:           e.Type,
		FrameIntervals: nonNil(e.Intervals),
		OntologyUID:    e.OntologyUID,
		Stream:         e.Stream,
	}
}

// NewDataPayload converts element data, attributes included, into its wire form.
func NewDataPayload(d core.ElementData) DataPayload {
	p := DataPayload{
		Name:  d.Name,
		Kind:  d.Kind.String(),
		Value: d.Value,
	}
	if d.Kind == core.KindPoly2D {
		p.Mode = string(d.Mode)
		p.Closed = d.Closed
	}
	if d.HasAttributes() {
		for _, entry := range d.Attributes.Entries() {
			p.Attributes = append(p.Attributes, NewDataPayload(entry.Data))
		}
	}
	return p
}

// ToCore converts the wire form back into element data.
func (p DataPayload) ToCore() (core.ElementData, error) {
	kind, ok := core.ParseDataKind(p.Kind)
	if !ok {
		return core.ElementData{}, fmt.Errorf("unknown data kind %q", p.Kind)
	}

	d := core.ElementData{Name: p.Name, Kind: kind}
	switch kind {
	case core.KindBoolean:
		v, ok := p.Value.(bool)
		if !ok {
			return d, fmt.Errorf("data %q: expected boolean value", p.Name)
		}
		d.Value = v
	case core.KindText:
		v, ok := p.Value.(string)
		if !ok {
			return d, fmt.Errorf("data %q: expected text value", p.Name)
		}
		d.Value = v
	case core.KindNum:
		v, ok := p.Value.(float64)
		if !ok {
			return d, fmt.Errorf("data %q: expected numeric value", p.Name)
		}
		d.Value = v
	case core.KindPoly2D:
		d.Mode = core.Poly2DMode(p.Mode)
		d.Closed = p.Closed
		var err error
		if d.Mode == core.Poly2DSRF6DCC {
			d.Value, err = strs(p.Value)
		} else {
			d.Value, err = floats(p.Value)
		}
		if err != nil {
			return d, fmt.Errorf("data %q: %w", p.Name, err)
		}
	default:
		v, err := floats(p.Value)
		if err != nil {
			return d, fmt.Errorf("data %q: %w", p.Name, err)
		}
		d.Value = v
	}

	for _, a := range p.Attributes {
		attr, err := a.ToCore()
		if err != nil {
			return d, err
		}
		if err := d.AddAttribute(attr); err != nil {
			return d, err
		}
	}
	return d, nil
}

func floats(v any) ([]float64, error) {
	switch vals := v.(type) {
	case []float64:
		return vals, nil
	case []any:
		out := make([]float64, len(vals))
		for i, raw := range vals {
			f, ok := raw.(float64)
			if !ok {
				return nil, fmt.Errorf("expected numeric array, got %T at %d", raw, i)
			}
			out[i] = f
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected numeric array, got %T", v)
	}
}

func strs(v any) ([]string, error) {
	switch vals := v.(type) {
	case []string:
		return vals, nil
	case []any:
		out := make([]string, len(vals))
		for i, raw := range vals {
			str, ok := raw.(string)
			if !ok {
				return nil, fmt.Errorf("expected string array, got %T at %d", raw, i)
			}
			out[i] = str
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected string array, got %T", v)
	}
}

func nonNil(fis core.FrameIntervals) core.FrameIntervals {
	if fis == nil {
		return core.FrameIntervals{}
	}
	return fis
}
