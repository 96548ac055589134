package align

import (
	"math"

	"github.com/golang/geo/r3"
	"gonum.org/v1/gonum/mat"
)

// correspondence pairs a scan point (already moved by the current pose) with
// its nearest model point.
type correspondence struct {
	src  r3.Vector
	dst  r3.Vector
	dist float64
}

// huberWeight is the IRLS weight of the Huber loss: 1 inside delta, delta/r
// outside. delta <= 0 disables robust weighting.
func huberWeight(r, delta float64) float64 {
	if delta <= 0 || r <= delta {
		return 1
	}
	return delta / r
}

func huberWeights(corrs []correspondence, delta float64) []float64 {
	weights := make([]float64, len(corrs))
	for i, c := range corrs {
		weights[i] = huberWeight(c.dist, delta)
	}
	return weights
}

// weightedCentroids returns the weighted source and target centroids
func weightedCentroids(corrs []correspondence, weights []float64) (r3.Vector, r3.Vector, float64) {
	var srcSum, dstSum r3.Vector
	wsum := 0.0
	for i, c := range corrs {
		w := weights[i]
		srcSum = srcSum.Add(c.src.Mul(w))
		dstSum = dstSum.Add(c.dst.Mul(w))
		wsum += w
	}
	if wsum == 0 {
		return r3.Vector{}, r3.Vector{}, 0
	}
	return srcSum.Mul(1 / wsum), dstSum.Mul(1 / wsum), wsum
}

// solveTranslation returns the weighted centroid offset
func solveTranslation(corrs []correspondence, weights []float64) Matrix4 {
	srcC, dstC, wsum := weightedCentroids(corrs, weights)
	if wsum == 0 {
		return Identity()
	}
	return Translation(dstC.Sub(srcC))
}

// singularRatio is the smallest accepted ratio of the second to the first
// singular value of the cross-covariance before a solve counts as degenerate.
const singularRatio = 1e-9

// solveRigid computes the weighted least-squares rotation and translation
// (Kabsch), plus a uniform scale when withScale is set (Umeyama). ok is false
// when the correspondences do not constrain a rotation.
func solveRigid(corrs []correspondence, weights []float64, withScale bool) (Matrix4, bool) {
	if len(corrs) < 3 {
		return Identity(), false
	}
	srcC, dstC, wsum := weightedCentroids(corrs, weights)
	if wsum == 0 {
		return Identity(), false
	}

	h := make([]float64, 9)
	srcVar := 0.0
	for i, c := range corrs {
		w := weights[i]
		p := c.src.Sub(srcC)
		q := c.dst.Sub(dstC)
		h[0] += w * p.X * q.X
		h[1] += w * p.X * q.Y
		h[2] += w * p.X * q.Z
		h[3] += w * p.Y * q.X
		h[4] += w * p.Y * q.Y
		h[5] += w * p.Y * q.Z
		h[6] += w * p.Z * q.X
		h[7] += w * p.Z * q.Y
		h[8] += w * p.Z * q.Z
		srcVar += w * p.Norm2()
	}

	var svd mat.SVD
	if !svd.Factorize(mat.NewDense(3, 3, h), mat.SVDFull) {
		return Identity(), false
	}
	sv := svd.Values(nil)
	if sv[0] < 1e-12 || sv[1] < singularRatio*sv[0] {
		return Identity(), false
	}

	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	// Reflection guard: R = V diag(1, 1, d) U^T with d = sign(det(V U^T))
	var vut mat.Dense
	vut.Mul(&v, u.T())
	d := 1.0
	if mat.Det(&vut) < 0 {
		d = -1.0
	}
	var vd, rot mat.Dense
	vd.Mul(&v, mat.NewDiagDense(3, []float64{1, 1, d}))
	rot.Mul(&vd, u.T())

	scale := 1.0
	if withScale && srcVar > 0 {
		scale = (sv[0] + sv[1] + d*sv[2]) / srcVar
	}

	m := Identity()
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			m[i][j] = scale * rot.At(i, j)
		}
	}
	rc := m.Apply(srcC)
	m[0][3] = dstC.X - rc.X
	m[1][3] = dstC.Y - rc.Y
	m[2][3] = dstC.Z - rc.Z

	if !m.IsFinite() || (withScale && scale <= 0) {
		return Identity(), false
	}
	return m, true
}

// solveYaw computes the rotation about up (through the origin) plus a full 3D
// translation in closed form. ok is false when all points lie on a line
// parallel to up.
func solveYaw(corrs []correspondence, weights []float64, up r3.Vector, withScale bool) (Matrix4, bool) {
	if len(corrs) < 3 {
		return Identity(), false
	}
	srcC, dstC, wsum := weightedCentroids(corrs, weights)
	if wsum == 0 {
		return Identity(), false
	}
	axis := up.Normalize()
	u, v := planeBasis(axis)

	var cross, dot, spread, srcVar float64
	for i, c := range corrs {
		w := weights[i]
		p := c.src.Sub(srcC)
		q := c.dst.Sub(dstC)
		ax, ay := p.Dot(u), p.Dot(v)
		bx, by := q.Dot(u), q.Dot(v)
		cross += w * (ax*by - ay*bx)
		dot += w * (ax*bx + ay*by)
		spread += w * (ax*ax + ay*ay)
		srcVar += w * p.Norm2()
	}
	if spread < 1e-12 || math.Hypot(cross, dot) < 1e-12 {
		return Identity(), false
	}

	rot := Rotation(axis, math.Atan2(cross, dot))

	scale := 1.0
	if withScale && srcVar > 0 {
		num := 0.0
		for i, c := range corrs {
			p := c.src.Sub(srcC)
			q := c.dst.Sub(dstC)
			num += weights[i] * q.Dot(rot.Apply(p))
		}
		scale = num / srcVar
	}

	m := UniformScale(scale).Mul(rot)
	rc := m.Apply(srcC)
	m[0][3] = dstC.X - rc.X
	m[1][3] = dstC.Y - rc.Y
	m[2][3] = dstC.Z - rc.Z

	if !m.IsFinite() || (withScale && scale <= 0) {
		return Identity(), false
	}
	return m, true
}

// solveIncrement picks the solver for mode and falls back to a
// translation-only update when the system is degenerate.
func solveIncrement(corrs []correspondence, weights []float64, mode RefineMode, up r3.Vector, withScale bool) (Matrix4, bool) {
	var m Matrix4
	var ok bool
	switch mode {
	case ModeYaw:
		m, ok = solveYaw(corrs, weights, up, withScale)
	default:
		m, ok = solveRigid(corrs, weights, withScale)
	}
	if ok {
		return m, false
	}
	return solveTranslation(corrs, weights), true
}

// correspondenceRMSE measures the residual of the pairs after applying m to
// their source points.
func correspondenceRMSE(corrs []correspondence, m Matrix4) float64 {
	if len(corrs) == 0 {
		return 0
	}
	sum := 0.0
	for _, c := range corrs {
		sum += m.Apply(c.src).Sub(c.dst).Norm2()
	}
	return math.Sqrt(sum / float64(len(corrs)))
}
