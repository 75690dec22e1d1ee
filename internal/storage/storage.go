// internal/storage/storage.go
package storage

import (
	"errors"

	"github.com/OCAP2/vcd/pkg/core"
)

// Lookup and invariant errors shared by all backends.
var (
	ErrElementNotFound   = errors.New("element not found")
	ErrDataNotFound      = errors.New("element data not found")
	ErrDuplicateUID      = errors.New("uid already in use")
	ErrInvalidUID        = errors.New("invalid uid")
	ErrOntologyNotFound  = errors.New("ontology not found")
	ErrStreamNotFound    = errors.New("stream not found")
	ErrInvalidCategory   = errors.New("invalid element category")
	ErrFramelessRelation = errors.New("relation has no frame intervals")
	ErrSchemaVersion     = errors.New("unsupported schema version")
)

// Backend is the interface every document implementation must satisfy
type Backend interface {
	// Lifecycle
	Init() error
	Close() error

	// Element registration (assigns UID to the passed pointer)
	AddElement(e *core.Element) error
	AddElementWithUID(e *core.Element) error

	// Element data
	AddElementData(t core.ElementType, uid int, data core.ElementData, intervals core.FrameIntervals) error
	AddElementDataAttribute(t core.ElementType, uid int, dataName string, attr core.ElementData) error

	// Frame scope
	UpdateElement(t core.ElementType, uid int, intervals core.FrameIntervals) error
	ModifyElement(t core.ElementType, uid int, intervals core.FrameIntervals) error
	ModifyElementInfo(t core.ElementType, uid int, info core.ElementInfo) error
	RemoveElement(t core.ElementType, uid int) error

	// Relations
	AddRDF(relationUID int, rdf core.RDFType, t core.ElementType, uid int) error

	// Frame information
	AddFrameProperties(frame int, props core.FrameProperties) error
	AddOdometry(frame int, odometry core.Odometry) error

	// Stream calibration, static or for one frame
	AddStreamProperties(stream string, props core.StreamProperties) error
	AddFrameStreamProperties(frame int, stream string, props core.StreamProperties) error
}

// Exporter is an optional interface for backends that can serialize a
// single frame, used by streaming consumers.
type Exporter interface {
	StringifyFrame(frame int, dynamicOnly, pretty bool) ([]byte, error)
}
