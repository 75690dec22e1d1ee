// pkg/core/element.go
package core

import "fmt"

// ElementType is the category of an element
type ElementType int

const (
	ElementObject ElementType = iota
	ElementAction
	ElementEvent
	ElementContext
	ElementRelation
)

// ElementTypes lists every category in serialization order
var ElementTypes = []ElementType{ElementObject, ElementAction, ElementEvent, ElementContext, ElementRelation}

var elementTypeNames = [...]string{"object", "action", "event", "context", "relation"}

// String returns the singular wire name ("object", "action", ...)
func (t ElementType) String() string {
	if t < 0 || int(t) >= len(elementTypeNames) {
		return fmt.Sprintf("ElementType(%d)", int(t))
	}
	return elementTypeNames[t]
}

// Plural returns the key of the category collection ("objects", ...)
func (t ElementType) Plural() string {
	return t.String() + "s"
}

// DataKey returns the key of the per-frame data block ("object_data", ...)
func (t ElementType) DataKey() string {
	return t.String() + "_data"
}

// PointersKey returns the key of the data pointer block ("object_data_pointers", ...)
func (t ElementType) PointersKey() string {
	return t.String() + "_data_pointers"
}

// Valid reports whether t is a known category
func (t ElementType) Valid() bool {
	return t >= ElementObject && t <= ElementRelation
}

// ParseElementType maps a singular or plural wire name to its category
func ParseElementType(name string) (ElementType, bool) {
	for i, n := range elementTypeNames {
		if name == n || name == n+"s" {
			return ElementType(i), true
		}
	}
	return 0, false
}

// RDFType marks the role of an element inside a relation
type RDFType int

const (
	RDFSubject RDFType = iota
	RDFObject
)

// RDFLink points from a relation to another element by uid
type RDFLink struct {
	UID  int
	Type ElementType
}

// Element is an annotation subject scoped to frame intervals.
// Intervals is the union of the declared intervals and every data interval.
type Element struct {
	UID         int
	Name        string
	Type        string
	Category    ElementType
	Intervals   FrameIntervals
	OntologyUID string
	Stream      string

	Data *DataSet

	// relations only
	RDFSubjects []RDFLink
	RDFObjects  []RDFLink
}

// ElementInfo lists the descriptive fields of an element to overwrite.
// Nil fields are left unchanged; an empty string clears OntologyUID or Stream.
type ElementInfo struct {
	Name        *string
	Type        *string
	OntologyUID *string
	Stream      *string
}

// Empty reports whether no field is set
func (i ElementInfo) Empty() bool {
	return i.Name == nil && i.Type == nil && i.OntologyUID == nil && i.Stream == nil
}

// Apply writes the set fields into e
func (i ElementInfo) Apply(e *Element) {
	if i.Name != nil {
		e.Name = *i.Name
	}
	if i.Type != nil {
		e.Type = *i.Type
	}
	if i.OntologyUID != nil {
		e.OntologyUID = *i.OntologyUID
	}
	if i.Stream != nil {
		e.Stream = *i.Stream
	}
}

// Clone returns a deep copy of e
func (e Element) Clone() Element {
	out := e
	out.Intervals = append(FrameIntervals(nil), e.Intervals...)
	out.Data = e.Data.Clone()
	out.RDFSubjects = append([]RDFLink(nil), e.RDFSubjects...)
	out.RDFObjects = append([]RDFLink(nil), e.RDFObjects...)
	return out
}
