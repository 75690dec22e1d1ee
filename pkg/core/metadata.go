// pkg/core/metadata.go
package core

import (
	"errors"
	"fmt"
	"maps"
	"slices"
)

// ErrInvalidCalibration is returned when a calibration matrix has the wrong size
var ErrInvalidCalibration = errors.New("invalid calibration")

// DefaultSchemaVersion is the VCD schema version written when none is configured
const DefaultSchemaVersion = "4.3.0"

// Metadata holds document-level descriptive information
type Metadata struct {
	Annotator  string
	Comment    string
	Properties map[string]any
}

// StreamType is the kind of sensor a stream comes from
type StreamType string

const (
	StreamCamera StreamType = "camera"
	StreamLidar  StreamType = "lidar"
	StreamRadar  StreamType = "radar"
	StreamGpsImu StreamType = "gps_imu"
	StreamOther  StreamType = "other"
)

// Stream describes a sensor stream elements can be annotated against
type Stream struct {
	Name        string
	URI         string
	Description string
	Type        StreamType

	// static calibration, written under "stream_properties"
	Properties StreamProperties
}

// Clone returns a deep copy of s
func (s Stream) Clone() Stream {
	s.Properties = s.Properties.Clone()
	return s
}

// FrameProperties carries per-frame information that is not element data
type FrameProperties struct {
	Timestamp  string
	Properties map[string]any
	Odometry   *Odometry

	// per-frame stream calibration, keyed by stream name
	Streams map[string]StreamProperties
}

// Clone returns a deep copy of fp
func (fp FrameProperties) Clone() FrameProperties {
	fp.Properties = maps.Clone(fp.Properties)
	if fp.Odometry != nil {
		odo := fp.Odometry.Clone()
		fp.Odometry = &odo
	}
	if fp.Streams != nil {
		streams := make(map[string]StreamProperties, len(fp.Streams))
		for name, sp := range fp.Streams {
			streams[name] = sp.Clone()
		}
		fp.Streams = streams
	}
	return fp
}

// IntrinsicsPinhole is the calibration of a pinhole camera
type IntrinsicsPinhole struct {
	WidthPx          int
	HeightPx         int
	CameraMatrix     []float64 // 3x4, row-major
	DistortionCoeffs []float64
}

// IntrinsicsFisheye is the calibration of a fisheye camera
type IntrinsicsFisheye struct {
	WidthPx    int
	HeightPx   int
	LensCoeffs []float64 // 1x4
	CenterX    float64
	CenterY    float64
	RadiusX    float64
	RadiusY    float64
}

// Extrinsics is the pose of the sensor coordinate system with respect to the
// local coordinate system
type Extrinsics struct {
	Pose []float64 // 4x4, row-major
}

// StreamSync relates stream frames to document frames. A non-nil FrameShift
// is a constant offset and takes the place of FrameStream and Timestamp.
type StreamSync struct {
	FrameStream int
	Timestamp   string
	FrameShift  *int
}

// StreamProperties carries the calibration and synchronization of a stream
type StreamProperties struct {
	Pinhole    *IntrinsicsPinhole
	Fisheye    *IntrinsicsFisheye
	Extrinsics *Extrinsics
	Sync       *StreamSync
	Properties map[string]any
}

// Empty reports whether nothing is set
func (sp StreamProperties) Empty() bool {
	return sp.Pinhole == nil && sp.Fisheye == nil && sp.Extrinsics == nil &&
		sp.Sync == nil && len(sp.Properties) == 0
}

// Validate checks the matrix sizes
func (sp StreamProperties) Validate() error {
	if sp.Pinhole != nil && len(sp.Pinhole.CameraMatrix) != 12 {
		return fmt.Errorf("%w: camera matrix has %d values, want 12", ErrInvalidCalibration, len(sp.Pinhole.CameraMatrix))
	}
	if sp.Fisheye != nil && len(sp.Fisheye.LensCoeffs) != 4 {
		return fmt.Errorf("%w: lens coefficients have %d values, want 4", ErrInvalidCalibration, len(sp.Fisheye.LensCoeffs))
	}
	if sp.Extrinsics != nil && len(sp.Extrinsics.Pose) != 16 {
		return fmt.Errorf("%w: extrinsic pose has %d values, want 16", ErrInvalidCalibration, len(sp.Extrinsics.Pose))
	}
	return nil
}

// Merge returns sp updated with other: set parts of other replace those of
// sp and free properties are merged key by key.
func (sp StreamProperties) Merge(other StreamProperties) StreamProperties {
	out := sp.Clone()
	next := other.Clone()
	if next.Pinhole != nil {
		out.Pinhole = next.Pinhole
	}
	if next.Fisheye != nil {
		out.Fisheye = next.Fisheye
	}
	if next.Extrinsics != nil {
		out.Extrinsics = next.Extrinsics
	}
	if next.Sync != nil {
		out.Sync = next.Sync
	}
	if len(next.Properties) > 0 {
		if out.Properties == nil {
			out.Properties = make(map[string]any, len(next.Properties))
		}
		maps.Copy(out.Properties, next.Properties)
	}
	return out
}

// Clone returns a deep copy of sp
func (sp StreamProperties) Clone() StreamProperties {
	out := StreamProperties{Properties: maps.Clone(sp.Properties)}
	if sp.Pinhole != nil {
		p := *sp.Pinhole
		p.CameraMatrix = slices.Clone(p.CameraMatrix)
		p.DistortionCoeffs = slices.Clone(p.DistortionCoeffs)
		out.Pinhole = &p
	}
	if sp.Fisheye != nil {
		f := *sp.Fisheye
		f.LensCoeffs = slices.Clone(f.LensCoeffs)
		out.Fisheye = &f
	}
	if sp.Extrinsics != nil {
		out.Extrinsics = &Extrinsics{Pose: slices.Clone(sp.Extrinsics.Pose)}
	}
	if sp.Sync != nil {
		sync := *sp.Sync
		if sync.FrameShift != nil {
			shift := *sync.FrameShift
			sync.FrameShift = &shift
		}
		out.Sync = &sync
	}
	return out
}

// Odometry is the pose of the local coordinate system with respect to the
// world coordinate system at one frame
type Odometry struct {
	Pose       []float64 // 4x4, row-major
	Properties map[string]any
}

// Validate checks the pose size
func (o Odometry) Validate() error {
	if len(o.Pose) != 16 {
		return fmt.Errorf("%w: odometry pose has %d values, want 16", ErrInvalidCalibration, len(o.Pose))
	}
	return nil
}

// Clone returns a deep copy of o
func (o Odometry) Clone() Odometry {
	o.Pose = slices.Clone(o.Pose)
	o.Properties = maps.Clone(o.Properties)
	return o
}
