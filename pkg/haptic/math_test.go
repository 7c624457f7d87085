package haptic

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

var approx = cmpopts.EquateApprox(0, 1e-9)

func TestSaturate(t *testing.T) {
	limit := Vector3{3, 3, 3}

	tests := []struct {
		name string
		in   Vector3
		want Vector3
	}{
		{"in range passes through", Vector3{1, -2, 3}, Vector3{1, -2, 3}},
		{"upper clamp", Vector3{8, 0, 0}, Vector3{3, 0, 0}},
		{"lower clamp", Vector3{0, -100, 0}, Vector3{0, -3, 0}},
		{"all axes", Vector3{4, -4, 3.0001}, Vector3{3, -3, 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Saturate(tt.in, limit)
			assert.Equal(t, tt.want, got)
			for i := range got {
				assert.LessOrEqual(t, got[i], limit[i])
				assert.GreaterOrEqual(t, got[i], -limit[i])
			}
		})
	}
}

func TestTransform4(t *testing.T) {
	t.Run("rejects small matrix", func(t *testing.T) {
		_, err := Transform4(mat.NewDense(1, 3, []float64{1, 2, 3}))
		assert.True(t, errors.Is(err, ErrMatrixTooSmall))
	})

	t.Run("rejects nil", func(t *testing.T) {
		_, err := Transform4(nil)
		assert.ErrorIs(t, err, ErrMatrixTooSmall)
	})

	t.Run("takes top-left block", func(t *testing.T) {
		big := mat.NewDense(5, 5, nil)
		for i := 0; i < 5; i++ {
			big.Set(i, i, float64(i+1))
		}
		got, err := Transform4(big)
		require.NoError(t, err)
		assert.Equal(t, []float64{
			1, 0, 0, 0,
			0, 2, 0, 0,
			0, 0, 3, 0,
			0, 0, 0, 4,
		}, Row16(got))
	})
}

func TestApplyPointAndDirection(t *testing.T) {
	// 90 degrees about z plus a translation.
	tr := mat.NewDense(4, 4, []float64{
		0, -1, 0, 1,
		1, 0, 0, 2,
		0, 0, 1, 3,
		0, 0, 0, 1,
	})

	p := ApplyPoint(tr, Vector3{1, 0, 0})
	if diff := cmp.Diff(Vector3{1, 3, 3}, p, approx); diff != "" {
		t.Errorf("ApplyPoint mismatch (-want +got):\n%s", diff)
	}

	d := ApplyDirection(tr, Vector3{1, 0, 0})
	if diff := cmp.Diff(Vector3{0, 1, 0}, d, approx); diff != "" {
		t.Errorf("ApplyDirection mismatch (-want +got):\n%s", diff)
	}

	assert.Equal(t, Vector3{4, 5, 6}, ApplyPoint(Identity(), Vector3{4, 5, 6}))
}

func TestRigidInverse(t *testing.T) {
	tr := mat.NewDense(4, 4, []float64{
		0, -1, 0, 1,
		1, 0, 0, 2,
		0, 0, 1, 3,
		0, 0, 0, 1,
	})
	inv := RigidInverse(tr)

	var want mat.Dense
	require.NoError(t, want.Inverse(tr))
	assert.True(t, mat.EqualApprox(&want, inv, 1e-12))

	back := ApplyPoint(inv, ApplyPoint(tr, Vector3{0.5, -2, 7}))
	if diff := cmp.Diff(Vector3{0.5, -2, 7}, back, approx); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}

	// A projection has no general inverse but still has a force mapping.
	proj := mat.NewDiagDense(4, []float64{1, 1, 0, 1})
	assert.True(t, mat.Equal(mat.NewDense(4, 4, []float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 0, 0,
		0, 0, 0, 1,
	}), RigidInverse(proj)))
}

func TestVectorFrom(t *testing.T) {
	_, err := VectorFrom([]float64{1, 2})
	assert.ErrorIs(t, err, ErrShortVector)

	v, err := VectorFrom([]float64{1, 2, 3, 4})
	require.NoError(t, err)
	assert.Equal(t, Vector3{1, 2, 3}, v)
}

func TestButtonsPressed(t *testing.T) {
	b := Buttons{0, 1}
	assert.False(t, b.Pressed(0))
	assert.True(t, b.Pressed(1))
	assert.False(t, b.Pressed(2))
}
