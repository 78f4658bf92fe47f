package main

import (
	"log"
	"runtime"

	"github.com/holance/vulkan-go-tutorial/internal/renderer"
	"github.com/veandco/go-sdl2/sdl"
)

const (
	windowWidth  = 800
	windowHeight = 600
)

func main() {
	// SDL and the Vulkan loader both expect to stay on one OS thread.
	runtime.LockOSThread()

	err := run()
	if err != nil {
		log.Fatalf("%+v", err)
	}
}

func run() error {
	if err := sdl.Init(sdl.INIT_VIDEO); err != nil {
		return err
	}
	defer sdl.Quit()

	cfg := renderer.DefaultConfig()

	window, err := sdl.CreateWindow(cfg.AppName, sdl.WINDOWPOS_UNDEFINED, sdl.WINDOWPOS_UNDEFINED,
		windowWidth, windowHeight, sdl.WINDOW_SHOWN|sdl.WINDOW_VULKAN|sdl.WINDOW_RESIZABLE)
	if err != nil {
		return err
	}
	defer window.Destroy()

	r, err := renderer.New(window, cfg)
	if err != nil {
		return err
	}
	defer r.Close()

	return mainLoop(window, r)
}

func mainLoop(window *sdl.Window, r *renderer.Renderer) error {
	rendering := true

appLoop:
	for {
		for event := sdl.PollEvent(); event != nil; event = sdl.PollEvent() {
			switch e := event.(type) {
			case *sdl.QuitEvent:
				break appLoop
			case *sdl.WindowEvent:
				switch e.Event {
				case sdl.WINDOWEVENT_MINIMIZED:
					rendering = false
				case sdl.WINDOWEVENT_RESTORED:
					rendering = true
				case sdl.WINDOWEVENT_RESIZED:
					w, h := window.GetSize()
					if w > 0 && h > 0 {
						rendering = true
						err := r.HandleResize()
						if err != nil {
							return err
						}
					} else {
						rendering = false
					}
				}
			}
		}
		if rendering {
			err := r.DrawFrame()
			if err != nil {
				return err
			}
		}
	}

	return r.WaitIdle()
}
