package memory

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/OCAP2/vcd/internal/config"
	"github.com/OCAP2/vcd/internal/storage"
	"github.com/OCAP2/vcd/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func richDocument(t *testing.T) *Backend {
	t.Helper()
	b := New(config.DocumentConfig{})
	b.SetName("crossing")
	b.SetFileVersion("3")
	b.SetAnnotator("alice")
	b.AddMetadataProperties(map[string]any{"site": "north"})
	ontUID, err := b.AddOntology("http://example.org/ontology")
	require.NoError(t, err)
	require.NoError(t, b.AddStream(core.Stream{Name: "cam", URI: "file:///cam.mp4", Type: core.StreamCamera}))

	mike := &core.Element{Category: core.ElementObject, Name: "mike", Type: "#Pedestrian", OntologyUID: ontUID, Stream: "cam"}
	require.NoError(t, b.AddElement(mike))
	body := core.BBox("body", 0, 0, 100, 150)
	require.NoError(t, body.AddAttribute(core.Boolean("visible", false)))
	require.NoError(t, body.AddAttribute(core.Text("note", "partly hidden")))
	require.NoError(t, b.AddElementData(core.ElementObject, mike.UID, body, span(2, 4)))
	require.NoError(t, b.AddElementData(core.ElementObject, mike.UID,
		core.Poly2D("outline", []float64{0, 0, 5, 0, 5, 5}, core.Poly2DAbsolute, true), span(3, 3)))
	require.NoError(t, b.AddElementData(core.ElementObject, mike.UID, core.Text("gender", "unknown"), nil))

	car := &core.Element{Category: core.ElementObject, Name: "car", Type: "#Car", Intervals: span(0, 9)}
	require.NoError(t, b.AddElement(car))
	require.NoError(t, b.AddElementData(core.ElementObject, car.UID, core.Vec("velocity", 1.5, -2), span(7, 9)))
	require.NoError(t, b.AddElementData(core.ElementObject, car.UID,
		core.Poly2DChainCode("contour", []string{"5", "5", "1", "mBIIOIII"}, true), span(8, 8)))

	walk := &core.Element{Category: core.ElementAction, Type: "#Walking", Intervals: span(2, 4)}
	require.NoError(t, b.AddElement(walk))
	require.NoError(t, b.AddElementData(core.ElementAction, walk.UID, core.Num("speed", 1.25), span(2, 3)))

	rel := &core.Element{Category: core.ElementRelation, Type: "performs", Intervals: span(2, 4)}
	require.NoError(t, b.AddElement(rel))
	require.NoError(t, b.AddRDF(rel.UID, core.RDFSubject, core.ElementObject, mike.UID))
	require.NoError(t, b.AddRDF(rel.UID, core.RDFObject, core.ElementAction, walk.UID))

	require.NoError(t, b.AddFrameProperties(0, core.FrameProperties{Timestamp: "2026-03-01T10:00:00Z"}))
	require.NoError(t, b.AddFrameProperties(15, core.FrameProperties{Properties: map[string]any{"dropped": true}}))

	shift := 2
	require.NoError(t, b.AddStreamProperties("cam", core.StreamProperties{
		Pinhole: &core.IntrinsicsPinhole{
			WidthPx:          640,
			HeightPx:         480,
			CameraMatrix:     []float64{1000, 0, 320, 0, 0, 1000, 240, 0, 0, 0, 1, 0},
			DistortionCoeffs: []float64{0.1, -0.05},
		},
		Extrinsics: &core.Extrinsics{Pose: identity()},
		Sync:       &core.StreamSync{FrameShift: &shift},
		Properties: map[string]any{"fov": 90},
	}))
	require.NoError(t, b.AddFrameStreamProperties(2, "cam", core.StreamProperties{
		Sync: &core.StreamSync{FrameStream: 4, Timestamp: "2026-03-01T10:00:02Z"},
	}))
	require.NoError(t, b.AddOdometry(3, core.Odometry{Pose: identity(), Properties: map[string]any{"source": "gps"}}))
	return b
}

func identity() []float64 {
	return []float64{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1}
}

func TestLoad_RoundTrip(t *testing.T) {
	for _, name := range []string{"doc.json", "doc.json.gz"} {
		t.Run(name, func(t *testing.T) {
			original := richDocument(t)
			path := filepath.Join(t.TempDir(), name)
			require.NoError(t, original.Save(path, true))

			loaded, err := Load(path, config.DocumentConfig{})
			require.NoError(t, err)

			want, err := original.Stringify(false)
			require.NoError(t, err)
			got, err := loaded.Stringify(false)
			require.NoError(t, err)
			assert.Equal(t, string(want), string(got))
		})
	}
}

func TestLoad_RestoresState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doc.json")
	require.NoError(t, richDocument(t).Save(path, false))

	b, err := Load(path, config.DocumentConfig{})
	require.NoError(t, err)

	assert.Equal(t, "crossing", b.Name())
	assert.Equal(t, "alice", b.Metadata().Annotator)
	assert.Equal(t, 2, b.NumElements(core.ElementObject))
	assert.True(t, b.FrameIntervals().Equal(span(0, 9)))

	body, ok, err := b.ElementDataAt(core.ElementObject, 0, "body", 3)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []float64{0, 0, 100, 150}, body.Value)
	assert.Equal(t, []string{"visible", "note"}, body.Attributes.Names())

	outline, err := b.ElementData(core.ElementObject, 0, "outline")
	require.NoError(t, err)
	assert.Equal(t, core.Poly2DAbsolute, outline.Mode)
	assert.True(t, outline.Closed)

	rel, err := b.Element(core.ElementRelation, 0)
	require.NoError(t, err)
	assert.Equal(t, []core.RDFLink{{UID: 0, Type: core.ElementObject}}, rel.RDFSubjects)
	assert.Equal(t, []core.RDFLink{{UID: 0, Type: core.ElementAction}}, rel.RDFObjects)

	fp, ok := b.FrameProperties(0)
	require.True(t, ok)
	assert.Equal(t, "2026-03-01T10:00:00Z", fp.Timestamp)

	contour, err := b.ElementData(core.ElementObject, 1, "contour")
	require.NoError(t, err)
	assert.Equal(t, core.Poly2DSRF6DCC, contour.Mode)
	assert.Equal(t, []string{"5", "5", "1", "mBIIOIII"}, contour.Value)

	streams := b.Streams()
	require.Len(t, streams, 1)
	cam := streams[0].Properties
	require.NotNil(t, cam.Pinhole)
	assert.Equal(t, 640, cam.Pinhole.WidthPx)
	assert.Len(t, cam.Pinhole.CameraMatrix, 12)
	require.NotNil(t, cam.Extrinsics)
	assert.Equal(t, identity(), cam.Extrinsics.Pose)
	require.NotNil(t, cam.Sync)
	require.NotNil(t, cam.Sync.FrameShift)
	assert.Equal(t, 2, *cam.Sync.FrameShift)

	fp, ok = b.FrameProperties(2)
	require.True(t, ok)
	require.Contains(t, fp.Streams, "cam")
	assert.Equal(t, &core.StreamSync{FrameStream: 4, Timestamp: "2026-03-01T10:00:02Z"}, fp.Streams["cam"].Sync)

	fp, ok = b.FrameProperties(3)
	require.True(t, ok)
	require.NotNil(t, fp.Odometry)
	assert.Equal(t, identity(), fp.Odometry.Pose)
	assert.Equal(t, "gps", fp.Odometry.Properties["source"])

	// new elements continue after the loaded uids
	e := &core.Element{Category: core.ElementObject}
	require.NoError(t, b.AddElement(e))
	assert.Equal(t, 2, e.UID)
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  error
		msg   string
	}{
		{
			name:  "not json",
			input: `vcd`,
			msg:   "failed to decode document",
		},
		{
			name:  "missing root",
			input: `{"openlabel":{}}`,
			msg:   "missing \"vcd\" root object",
		},
		{
			name:  "schema version",
			input: `{"vcd":{"schema_version":"3.3.0"}}`,
			want:  storage.ErrSchemaVersion,
		},
		{
			name:  "missing version",
			input: `{"vcd":{}}`,
			want:  storage.ErrSchemaVersion,
		},
		{
			name: "pointer without value",
			input: `{"vcd":{"frames":{},"schema_version":"4.3.0","frame_intervals":[],` +
				`"objects":{"0":{"name":"","type":"#Car","frame_intervals":[{"frame_start":0,"frame_end":0}],` +
				`"object_data_pointers":{"speed":{"type":"num","frame_intervals":[{"frame_start":0,"frame_end":0}]}}}}}}`,
			want: storage.ErrDataNotFound,
		},
		{
			name: "malformed interval",
			input: `{"vcd":{"schema_version":"4.3.0",` +
				`"objects":{"0":{"type":"#Car","frame_intervals":[{"frame_start":5,"frame_end":1}]}}}}`,
			want: core.ErrInvalidInterval,
		},
		{
			name: "unknown data kind",
			input: `{"vcd":{"schema_version":"4.3.0","frames":{"0":{"objects":{"0":{"object_data":{"mat":[]}}}}}}}`,
			msg:  "unknown data kind",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.input), config.DocumentConfig{})
			require.Error(t, err)
			if tt.want != nil {
				assert.ErrorIs(t, err, tt.want)
			}
			if tt.msg != "" {
				assert.Contains(t, err.Error(), tt.msg)
			}
		})
	}
}

func TestParse_ChainCodePolygon(t *testing.T) {
	input := `{"vcd":{"frames":{"0":{"objects":{"0":{"object_data":{"poly2d":[` +
		`{"name":"poly","val":["5","5","1","mBIIOIII"],"mode":"MODE_POLY2D_SRF6DCC","closed":false}]}}}}},` +
		`"schema_version":"4.3.0","frame_intervals":[{"frame_start":0,"frame_end":0}],` +
		`"objects":{"0":{"name":"","type":"#Car","frame_intervals":[{"frame_start":0,"frame_end":0}],` +
		`"object_data_pointers":{"poly":{"type":"poly2d","frame_intervals":[{"frame_start":0,"frame_end":0}]}}}}}}`

	b, err := Parse(strings.NewReader(input), config.DocumentConfig{})
	require.NoError(t, err)

	poly, err := b.ElementData(core.ElementObject, 0, "poly")
	require.NoError(t, err)
	assert.Equal(t, core.Poly2DSRF6DCC, poly.Mode)
	assert.Equal(t, []string{"5", "5", "1", "mBIIOIII"}, poly.Value)

	out, err := b.Stringify(false)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"val":["5","5","1","mBIIOIII"],"mode":"MODE_POLY2D_SRF6DCC"`)

	_, err = Parse(strings.NewReader(strings.Replace(input, `["5","5","1","mBIIOIII"]`, `[5,5]`, 1)), config.DocumentConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected string")
}

func TestLoad_KeepsElementOrder(t *testing.T) {
	b := New(config.DocumentConfig{})
	require.NoError(t, b.AddElementWithUID(&core.Element{UID: 5, Category: core.ElementObject, Name: "late", Intervals: span(0, 1)}))
	require.NoError(t, b.AddElementWithUID(&core.Element{UID: 2, Category: core.ElementObject, Name: "early", Intervals: span(0, 1)}))

	path := filepath.Join(t.TempDir(), "doc.json")
	require.NoError(t, b.Save(path, false))
	loaded, err := Load(path, config.DocumentConfig{})
	require.NoError(t, err)

	assert.Equal(t, []int{5, 2}, loaded.UIDs(core.ElementObject))

	want, err := b.Stringify(false)
	require.NoError(t, err)
	got, err := loaded.Stringify(false)
	require.NoError(t, err)
	assert.Equal(t, string(want), string(got))

	next := &core.Element{Category: core.ElementObject}
	require.NoError(t, loaded.AddElement(next))
	assert.Equal(t, 6, next.UID)
}

func TestParse_FrameAndStreamProperties(t *testing.T) {
	input := `{"vcd":{"frames":{"4":{"frame_properties":{"timestamp":"t4","weather":"rain",` +
		`"odometry":{"pose_lcs_wrt_wcs_4x4":[1,0,0,0,0,1,0,0,0,0,1,0,0,0,0,1]},` +
		`"streams":{"cam":{"stream_properties":{"sync":{"frame_stream":40,"timestamp":"s40"}}}}}}},` +
		`"schema_version":"4.3.0","frame_intervals":[],` +
		`"metadata":{"streams":{"cam":{"description":"","uri":"","type":"camera","stream_properties":{` +
		`"intrinsics_fisheye":{"width_px":1280,"height_px":960,"lens_coeffs_1x4":[1,2,3,4],` +
		`"center_x":640,"center_y":480,"radius_x":600,"radius_y":600}}}}}}}`

	b, err := Parse(strings.NewReader(input), config.DocumentConfig{})
	require.NoError(t, err)

	fp, ok := b.FrameProperties(4)
	require.True(t, ok)
	assert.Equal(t, "t4", fp.Timestamp)
	assert.Equal(t, map[string]any{"weather": "rain"}, fp.Properties)
	require.NotNil(t, fp.Odometry)
	assert.Equal(t, identity(), fp.Odometry.Pose)
	assert.Equal(t, &core.StreamSync{FrameStream: 40, Timestamp: "s40"}, fp.Streams["cam"].Sync)

	fisheye := b.Streams()[0].Properties.Fisheye
	require.NotNil(t, fisheye)
	assert.Equal(t, core.IntrinsicsFisheye{
		WidthPx: 1280, HeightPx: 960, LensCoeffs: []float64{1, 2, 3, 4},
		CenterX: 640, CenterY: 480, RadiusX: 600, RadiusY: 600,
	}, *fisheye)
}

func TestParse_KeepsFileSchemaVersion(t *testing.T) {
	b, err := Parse(strings.NewReader(`{"vcd":{"schema_version":"4.1.0"}}`), config.DocumentConfig{})
	require.NoError(t, err)
	assert.Equal(t, "4.1.0", b.SchemaVersion())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"), config.DocumentConfig{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to open file")
}
