package renderer

import (
	"math"
	"unsafe"

	"github.com/go-gl/mathgl/mgl32"
	"github.com/vkngwrapper/core/v3/core1_0"
	vkngmath "github.com/vkngwrapper/math"
)

type Vertex struct {
	Position mgl32.Vec2
	Color    mgl32.Vec3
}

// Wound clockwise in framebuffer space (y points down) to match the
// pipeline's front-face setting.
var triangleVertices = []Vertex{
	{Position: mgl32.Vec2{0.0, -0.5}, Color: mgl32.Vec3{1, 0, 0}},
	{Position: mgl32.Vec2{0.5, 0.5}, Color: mgl32.Vec3{0, 1, 0}},
	{Position: mgl32.Vec2{-0.5, 0.5}, Color: mgl32.Vec3{0, 0, 1}},
}

func getVertexBindingDescription() []core1_0.VertexInputBindingDescription {
	v := Vertex{}
	return []core1_0.VertexInputBindingDescription{
		{
			Binding:   0,
			Stride:    int(unsafe.Sizeof(v)),
			InputRate: core1_0.VertexInputRateVertex,
		},
	}
}

func getVertexAttributeDescriptions() []core1_0.VertexInputAttributeDescription {
	v := Vertex{}
	return []core1_0.VertexInputAttributeDescription{
		{
			Binding:  0,
			Location: 0,
			Format:   core1_0.FormatR32G32SignedFloat,
			Offset:   int(unsafe.Offsetof(v.Position)),
		},
		{
			Binding:  0,
			Location: 1,
			Format:   core1_0.FormatR32G32B32SignedFloat,
			Offset:   int(unsafe.Offsetof(v.Color)),
		},
	}
}

// CameraMatrices is the per-slot uniform block read by the vertex shader.
type CameraMatrices struct {
	View vkngmath.Mat4x4[float32]
	Proj vkngmath.Mat4x4[float32]
}

// ModelTransform is the push-constant block, one matrix per draw.
type ModelTransform struct {
	Model vkngmath.Mat4x4[float32]
}

// cameraMatrices recomputes the view/projection pair for the current
// swapchain aspect ratio.
func cameraMatrices(extent core1_0.Extent2D) CameraMatrices {
	var cam CameraMatrices
	cam.View.SetLookAt(
		&vkngmath.Vec3[float32]{X: 0, Y: 0, Z: 2},
		&vkngmath.Vec3[float32]{X: 0, Y: 0, Z: 0},
		&vkngmath.Vec3[float32]{X: 0, Y: 1, Z: 0},
	)

	aspectRatio := float32(extent.Width) / float32(extent.Height)
	near := float32(0.1)
	far := float32(10.0)
	fovy := math.Pi / 4.0

	cam.Proj.SetPerspective(fovy, aspectRatio, near, far)
	return cam
}

// modelTransform rotates the triangle a quarter turn per second, wrapping
// every four seconds so the angle never grows unbounded.
func modelTransform(seconds float64) ModelTransform {
	timePeriod := math.Mod(seconds, 4.0)

	var m ModelTransform
	m.Model.SetRotationZ(timePeriod * math.Pi / 2.0)
	return m
}
