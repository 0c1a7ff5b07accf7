package geometry

import (
	"math"
	"testing"

	apperrors "github.com/MeKo-Tech/idscan/internal/errors"
	"github.com/MeKo-Tech/idscan/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewQuad_OrdersClockwiseFromTopLeft(t *testing.T) {
	q, err := NewQuad([]utils.Point{{X: 90, Y: 60}, {X: 10, Y: 5}, {X: 5, Y: 58}, {X: 95, Y: 2}})
	require.NoError(t, err)
	assert.Equal(t, Quad{{X: 10, Y: 5}, {X: 95, Y: 2}, {X: 90, Y: 60}, {X: 5, Y: 58}}, q)
}

func TestNewQuad_WrongCount(t *testing.T) {
	_, err := NewQuad([]utils.Point{{X: 1, Y: 1}, {X: 2, Y: 2}, {X: 3, Y: 1}})
	var ige *apperrors.InvalidGeometryError
	require.ErrorAs(t, err, &ige)
	assert.Contains(t, ige.Reason, "expected 4 points")
}

func TestValidate_ZeroArea(t *testing.T) {
	same := utils.Point{X: 40, Y: 40}
	err := Quad{same, same, same, same}.Validate()
	var ige *apperrors.InvalidGeometryError
	require.ErrorAs(t, err, &ige)

	collinear := Quad{{X: 0, Y: 0}, {X: 10, Y: 0}, {X: 20, Y: 0}, {X: 30, Y: 0}}
	assert.False(t, collinear.Valid())
}

func TestValidate_NonFinite(t *testing.T) {
	q := FullFrame(10, 10)
	q[2].X = math.NaN()
	assert.Error(t, q.Validate())
	q[2].X = math.Inf(1)
	assert.Error(t, q.Validate())
}

func TestFullFrame(t *testing.T) {
	q := FullFrame(800, 500)
	assert.InDelta(t, 400000.0, q.Area(), 1e-9)
	assert.InDelta(t, 1.6, q.AspectRatio(), 1e-9)
	assert.True(t, q.Convex())
}

func TestAspectRatio_OrientationIndependent(t *testing.T) {
	landscape := FullFrame(856, 540)
	portrait := FullFrame(540, 856)
	assert.InDelta(t, landscape.AspectRatio(), portrait.AspectRatio(), 1e-9)
	assert.InDelta(t, 1.585, landscape.AspectRatio(), 1e-3)
}

func TestFitOrientation(t *testing.T) {
	portrait, err := ParseQuad("170,334,552,338,548,944,166,940")
	require.NoError(t, err)
	require.Less(t, portrait.Width(), portrait.Height())

	turned := portrait.FitOrientation(800, 500)
	assert.Equal(t, Quad{portrait[3], portrait[0], portrait[1], portrait[2]}, turned)
	assert.Greater(t, turned.Width(), turned.Height())
	assert.InDelta(t, portrait.Area(), turned.Area(), 1e-9)

	assert.Equal(t, portrait, portrait.FitOrientation(500, 800))
	assert.Equal(t, portrait, portrait.FitOrientation(600, 600))

	landscape := FullFrame(856, 540)
	assert.Equal(t, landscape, landscape.FitOrientation(800, 500))
	assert.Equal(t, Quad{landscape[3], landscape[0], landscape[1], landscape[2]}, landscape.FitOrientation(500, 800))
}

func TestConvex_DetectsBowtie(t *testing.T) {
	bowtie := Quad{{X: 0, Y: 0}, {X: 10, Y: 10}, {X: 10, Y: 0}, {X: 0, Y: 10}}
	assert.False(t, bowtie.Convex())
}

func TestScaleAndClamp(t *testing.T) {
	q := FullFrame(100, 50).Scale(2)
	assert.Equal(t, utils.Point{X: 200, Y: 100}, q[2])
	assert.Equal(t, FullFrame(100, 50), FullFrame(100, 50).Scale(1))

	odd := Quad{{X: 1, Y: 3}, {X: 9, Y: 2}, {X: 8, Y: 7}, {X: 2, Y: 6}}.Scale(0.5)
	assert.Equal(t, Quad{{X: 0.5, Y: 1.5}, {X: 4.5, Y: 1}, {X: 4, Y: 3.5}, {X: 1, Y: 3}}, odd)

	c := Quad{{X: -5, Y: -5}, {X: 120, Y: 0}, {X: 120, Y: 70}, {X: 0, Y: 70}}.Clamp(100, 50)
	assert.Equal(t, FullFrame(100, 50), c)
}

func TestParseQuad(t *testing.T) {
	q, err := ParseQuad("10,10, 90,12, 88,60, 12,58")
	require.NoError(t, err)
	assert.Equal(t, "10,10,90,12,88,60,12,58", q.String())

	_, err = ParseQuad("1,2,3")
	assert.Error(t, err)
	_, err = ParseQuad("a,2,3,4,5,6,7,8")
	assert.Error(t, err)
	_, err = ParseQuad("0,0,0,0,0,0,0,0")
	var ige *apperrors.InvalidGeometryError
	assert.ErrorAs(t, err, &ige)
}
