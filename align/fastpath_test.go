package align

import (
	"context"
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterModels_Identity(t *testing.T) {
	points := sampleRoom(t, 1000, 1).Points
	svc := NewModelRegistrationService(Fast())

	result, err := svc.RegisterModels(context.Background(), points, points, 20, 1e-6, nil)
	require.NoError(t, err)
	assert.True(t, result.Transform.ApproxEqual(Identity(), 1e-9), "transform = %v", result.Transform)
	assert.InDelta(t, 0, result.Metrics.RMSE, 1e-9)
	assert.InDelta(t, 1, result.Metrics.InlierFraction, 1e-12)
}

func TestRegisterModels_RecoversYaw(t *testing.T) {
	model := sampleRoom(t, 1500, 2).Points
	truth := Translation(r3.Vector{X: 3, Y: -1, Z: 0.2}).Mul(RotationDeg(r3.Vector{Z: 1}, 30))
	scan := TransformPoints(model, truth)

	var events []FastProgress
	svc := NewModelRegistrationService(Balanced())
	result, err := svc.RegisterModels(context.Background(), model, scan, 40, 1e-8, func(p FastProgress) {
		events = append(events, p)
	})
	require.NoError(t, err)

	assert.True(t, result.Transform.ApproxEqual(truth, 1e-6), "transform = %v, want %v", result.Transform, truth)
	assert.Less(t, result.Metrics.RMSE, 1e-6)

	require.NotEmpty(t, events)
	assert.Len(t, events, result.Metrics.Iterations)
	for i, ev := range events {
		assert.Equal(t, i+1, ev.Iteration)
		assert.Equal(t, 40, ev.MaxIterations)
	}
}

func TestRegisterModels_InsufficientGeometry(t *testing.T) {
	svc := NewModelRegistrationService(Fast())
	ok := sampleRoom(t, 200, 1).Points
	sparse := ok[:DefaultMinPoints-1]

	result, err := svc.RegisterModels(context.Background(), sparse, ok, 10, 1e-4, nil)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, ErrInsufficientGeometry)

	result, err = svc.RegisterModels(context.Background(), ok, sparse, 10, 1e-4, nil)
	assert.Nil(t, result)
	assert.ErrorIs(t, err, ErrInsufficientGeometry)

	_, err = svc.RegisterModels(context.Background(), ok, ok, 0, 1e-4, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)

	bad := append([]r3.Vector(nil), ok...)
	bad[5].Y = math.Inf(1)
	_, err = svc.RegisterModels(context.Background(), ok, bad, 10, 1e-4, nil)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func TestRegister_SamplesMeshes(t *testing.T) {
	q, err := Custom(QualityParams{ModelSampleCount: 800, ScanSampleCount: 600, MaxIterations: 15, ConvergenceThreshold: 1e-6})
	require.NoError(t, err)
	svc := NewModelRegistrationService(q)

	moved := &Mesh{Vertices: TransformPoints(roomMesh().Vertices, RotationDeg(r3.Vector{Z: 1}, 90)), Triangles: roomMesh().Triangles}
	result, err := svc.Register(context.Background(), roomMesh(), moved, nil)
	require.NoError(t, err)
	assert.Less(t, angleDiffDeg(yawDegrees(result.Transform), 90), 3.0)
	assert.LessOrEqual(t, result.Metrics.Iterations, 15)
}

func TestModelRegistrationService_ZeroValue(t *testing.T) {
	q, err := Custom(QualityParams{ModelSampleCount: 600, ScanSampleCount: 600, MaxIterations: 10, ConvergenceThreshold: 1e-6})
	require.NoError(t, err)
	svc := &ModelRegistrationService{Quality: q}

	cloud, err := svc.ExtractPointCloud(roomMesh(), 300)
	require.NoError(t, err)
	assert.Equal(t, 300, cloud.Len())

	result, err := svc.Register(context.Background(), roomMesh(), roomMesh(), nil)
	require.NoError(t, err)
	assert.Less(t, angleDiffDeg(yawDegrees(result.Transform), 0), 1.0)
}
