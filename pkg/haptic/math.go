package haptic

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Identity returns a fresh 4x4 identity transform.
func Identity() *mat.Dense {
	return mat.NewDense(4, 4, []float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	})
}

// Transform4 validates m and returns a copy of its top-left 4x4 block.
func Transform4(m mat.Matrix) (*mat.Dense, error) {
	if m == nil {
		return nil, ErrMatrixTooSmall
	}
	r, c := m.Dims()
	if r < 4 || c < 4 {
		return nil, fmt.Errorf("%w: got %dx%d", ErrMatrixTooSmall, r, c)
	}
	out := mat.NewDense(4, 4, nil)
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			out.Set(i, j, m.At(i, j))
		}
	}
	return out, nil
}

// RigidInverse returns [Rᵀ | -Rᵀp] for the rotation block R and translation
// p of t. It exists for every t and equals the true inverse when R is a
// rotation.
func RigidInverse(t mat.Matrix) *mat.Dense {
	inv := mat.NewDense(4, 4, nil)
	for i := 0; i < 3; i++ {
		var p float64
		for j := 0; j < 3; j++ {
			inv.Set(i, j, t.At(j, i))
			p -= t.At(j, i) * t.At(j, 3)
		}
		inv.Set(i, 3, p)
	}
	inv.Set(3, 3, 1)
	return inv
}

// ApplyPoint maps p through t as the homogeneous point [x y z 1] and drops
// the homogeneous component.
func ApplyPoint(t mat.Matrix, p Vector3) Vector3 {
	return apply(t, p, 1)
}

// ApplyDirection maps v through t as the free vector [x y z 0]. Translation
// does not affect the result.
func ApplyDirection(t mat.Matrix, v Vector3) Vector3 {
	return apply(t, v, 0)
}

func apply(t mat.Matrix, v Vector3, w float64) Vector3 {
	in := mat.NewVecDense(4, []float64{v[0], v[1], v[2], w})
	var out mat.VecDense
	out.MulVec(t, in)
	return Vector3{out.AtVec(0), out.AtVec(1), out.AtVec(2)}
}

// Saturate clamps every component of v into [-limit[i], limit[i]].
func Saturate(v, limit Vector3) Vector3 {
	for i := range v {
		m := limit[i]
		if m < 0 {
			m = -m
		}
		switch {
		case v[i] > m:
			v[i] = m
		case v[i] < -m:
			v[i] = -m
		}
	}
	return v
}

// Row16 flattens a 4x4 transform row-major.
func Row16(t mat.Matrix) []float64 {
	out := make([]float64, 0, 16)
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			out = append(out, t.At(i, j))
		}
	}
	return out
}
