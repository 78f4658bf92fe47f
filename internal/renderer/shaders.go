package renderer

import (
	"embed"

	"github.com/vkngwrapper/core/v3/core1_0"
	"golang.org/x/sync/errgroup"
)

// SPIR-V compiled offline with glslc from the LunarG Vulkan SDK.
//
//go:generate glslc shaders/triangle.vert -o shaders/triangle.vert.spv
//go:generate glslc shaders/triangle.frag -o shaders/triangle.frag.spv
//
//go:embed shaders/triangle.vert.spv shaders/triangle.frag.spv
var shaderFS embed.FS

func bytesToBytecode(b []byte) []uint32 {
	byteCode := make([]uint32, len(b)/4)
	for i := 0; i < len(byteCode); i++ {
		byteIndex := i * 4
		byteCode[i] = 0
		byteCode[i] |= uint32(b[byteIndex])
		byteCode[i] |= uint32(b[byteIndex+1]) << 8
		byteCode[i] |= uint32(b[byteIndex+2]) << 16
		byteCode[i] |= uint32(b[byteIndex+3]) << 24
	}

	return byteCode
}

// loadShaderModules reads and decodes both stage binaries concurrently and
// creates their modules. The caller owns the returned modules and should
// destroy them once the pipeline holding them is built.
func (r *Renderer) loadShaderModules() (vert, frag core1_0.ShaderModule, err error) {
	var vertCode, fragCode []uint32

	var group errgroup.Group
	group.Go(func() error {
		blob, err := shaderFS.ReadFile("shaders/triangle.vert.spv")
		if err != nil {
			return err
		}
		vertCode = bytesToBytecode(blob)
		return nil
	})
	group.Go(func() error {
		blob, err := shaderFS.ReadFile("shaders/triangle.frag.spv")
		if err != nil {
			return err
		}
		fragCode = bytesToBytecode(blob)
		return nil
	})

	err = group.Wait()
	if err != nil {
		return vert, frag, err
	}

	vert, _, err = r.ctx.deviceDriver.CreateShaderModule(nil, core1_0.ShaderModuleCreateInfo{
		Code: vertCode,
	})
	if err != nil {
		return vert, frag, err
	}

	frag, _, err = r.ctx.deviceDriver.CreateShaderModule(nil, core1_0.ShaderModuleCreateInfo{
		Code: fragCode,
	})
	if err != nil {
		r.ctx.deviceDriver.DestroyShaderModule(vert, nil)
		return core1_0.ShaderModule{}, frag, err
	}

	return vert, frag, nil
}
