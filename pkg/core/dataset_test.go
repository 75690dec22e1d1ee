package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDataSet_SetSubstitutes(t *testing.T) {
	s := NewDataSet()

	replaced := s.Set(Boolean("validated", true), FrameIntervals{iv(0, 5)})
	assert.False(t, replaced)
	replaced = s.Set(Boolean("validated", false), FrameIntervals{iv(6, 8)})
	assert.True(t, replaced)

	require.Equal(t, 1, s.Len())
	entry, ok := s.Get("validated")
	require.True(t, ok)
	assert.Equal(t, false, entry.Data.Value)
	assert.Equal(t, FrameIntervals{iv(0, 8)}, entry.Intervals)
}

func TestDataSet_SetOverwritesKind(t *testing.T) {
	s := NewDataSet()
	s.Set(Num("score", 0.5), FrameIntervals{iv(0, 1)})
	s.Set(Text("score", "high"), FrameIntervals{iv(0, 1)})

	entry, ok := s.Get("score")
	require.True(t, ok)
	assert.Equal(t, KindText, entry.Data.Kind)
	assert.Equal(t, "high", entry.Data.Value)
	assert.Equal(t, 1, s.Len())
}

func TestDataSet_KeepsFirstInsertionOrder(t *testing.T) {
	s := NewDataSet()
	s.Set(Text("label", "a"), nil)
	s.Set(Num("speed", 1), nil)
	s.Set(Boolean("moving", true), nil)
	s.Set(Text("label", "b"), nil)

	assert.Equal(t, []string{"label", "speed", "moving"}, s.Names())
}

func TestDataSet_At(t *testing.T) {
	s := NewDataSet()
	s.Set(Text("label", "manual"), FrameIntervals{iv(2, 4)})

	d, ok := s.At("label", 3)
	require.True(t, ok)
	assert.Equal(t, "manual", d.Value)

	_, ok = s.At("label", 5)
	assert.False(t, ok)
	_, ok = s.At("missing", 3)
	assert.False(t, ok)
}

func TestDataSet_SetClonesValue(t *testing.T) {
	s := NewDataSet()
	points := []float64{1, 2, 3}
	d := ElementData{Name: "v", Kind: KindVec, Value: points}
	s.Set(d, nil)

	points[0] = 99
	entry, _ := s.Get("v")
	assert.Equal(t, []float64{1, 2, 3}, entry.Data.Value)
}

func TestDataSet_SetAttribute(t *testing.T) {
	s := NewDataSet()
	s.Set(BBox("body", 0, 0, 100, 150), FrameIntervals{iv(0, 0)})

	found, err := s.SetAttribute("body", Boolean("visible", true))
	require.NoError(t, err)
	assert.True(t, found)
	_, err = s.SetAttribute("body", Boolean("occluded", false))
	require.NoError(t, err)
	_, err = s.SetAttribute("body", Boolean("visible", false))
	require.NoError(t, err)

	entry, _ := s.Get("body")
	attrs := entry.Data.Attributes
	require.Equal(t, 2, attrs.Len())
	assert.Equal(t, []string{"visible", "occluded"}, attrs.Names())
	visible, _ := attrs.Get("visible")
	assert.Equal(t, false, visible.Data.Value)
	occluded, _ := attrs.Get("occluded")
	assert.Equal(t, false, occluded.Data.Value)

	found, err = s.SetAttribute("missing", Boolean("visible", true))
	assert.False(t, found)
	assert.NoError(t, err)

	_, err = s.SetAttribute("body", BBox("nested", 0, 0, 1, 1))
	assert.ErrorIs(t, err, ErrInvalidAttribute)
}

func TestDataSet_Intervals(t *testing.T) {
	s := NewDataSet()
	s.Set(Text("a", "x"), FrameIntervals{iv(0, 2)})
	s.Set(Text("b", "y"), FrameIntervals{iv(3, 4), iv(8, 9)})
	s.Set(Text("static", "z"), nil)

	assert.Equal(t, FrameIntervals{iv(0, 4), iv(8, 9)}, s.Intervals())
}

func TestDataSet_Restrict(t *testing.T) {
	s := NewDataSet()
	s.Set(Text("early", "x"), FrameIntervals{iv(0, 2)})
	s.Set(Text("late", "y"), FrameIntervals{iv(3, 9)})
	s.Set(Text("static", "z"), nil)

	s.Restrict(FrameIntervals{iv(4, 6)})

	assert.Equal(t, []string{"late", "static"}, s.Names())
	late, _ := s.Get("late")
	assert.Equal(t, FrameIntervals{iv(4, 6)}, late.Intervals)
}

func TestDataSet_Delete(t *testing.T) {
	s := NewDataSet()
	s.Set(Text("a", "x"), nil)
	s.Set(Text("b", "y"), nil)

	assert.True(t, s.Delete("a"))
	assert.False(t, s.Delete("a"))
	assert.Equal(t, []string{"b"}, s.Names())
}

func TestDataSet_CloneIsDeep(t *testing.T) {
	s := NewDataSet()
	body := BBox("body", 0, 0, 10, 10)
	require.NoError(t, body.AddAttribute(Boolean("visible", true)))
	s.Set(body, FrameIntervals{iv(0, 1)})

	c := s.Clone()
	_, err := c.SetAttribute("body", Boolean("visible", false))
	require.NoError(t, err)
	c.Set(Text("extra", "x"), nil)

	entry, _ := s.Get("body")
	visible, _ := entry.Data.Attributes.Get("visible")
	assert.Equal(t, true, visible.Data.Value)
	assert.Equal(t, 1, s.Len())
}

func TestDataSet_NilSafe(t *testing.T) {
	var s *DataSet
	assert.Equal(t, 0, s.Len())
	assert.Nil(t, s.Names())
	assert.Nil(t, s.Entries())
	assert.False(t, s.Has("x"))
	assert.Nil(t, s.Clone())
	assert.True(t, s.Intervals().Empty())
}
