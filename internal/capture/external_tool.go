package capture

import (
	"bytes"
	"image"
	"image/png"
	"os/exec"
	"sync"
)

func init() {
	Register(BackendExternalTool, func(cfg Config) (Source, Backend, error) {
		tool, err := detectExternalTool()
		if err != nil {
			return nil, "", err
		}
		return &externalToolSource{config: cfg, tool: tool}, BackendExternalTool, nil
	})
}

// externalCaptureTool describes one supported screenshot utility's CLI
// invocation. None of these support SHM or a push model, so this backend is
// always the slowest of the three §4.2 variants and is only tried once the
// X11 and Wayland portal paths have failed to initialize.
type externalCaptureTool struct {
	name string
	args []string
}

var candidateTools = []externalCaptureTool{
	{name: "grim", args: []string{"-t", "png", "-"}},
	{name: "scrot", args: []string{"--overwrite", "-"}},
	{name: "import", args: []string{"-window", "root", "png:-"}},
}

func detectExternalTool() (externalCaptureTool, error) {
	for _, t := range candidateTools {
		if _, err := exec.LookPath(t.name); err == nil {
			return t, nil
		}
	}
	return externalCaptureTool{}, &CaptureError{Kind: "backend-unavailable", Msg: "no external capture tool (grim, scrot, import) found in PATH"}
}

// externalToolSource shells out to a screenshot utility and decodes its PNG
// stdout. This is the §4.2 "external-tool fallback" variant: it exists so a
// session can still start on a compositor or headless environment where
// neither the X11 SHM path nor the portal ScreenCast negotiation succeeds.
type externalToolSource struct {
	config Config
	tool   externalCaptureTool

	mu     sync.Mutex
	width  int
	height int
}

func (c *externalToolSource) Capture() (*image.RGBA, error) {
	out, err := exec.Command(c.tool.name, c.tool.args...).Output()
	if err != nil {
		return nil, &CaptureError{Kind: "backend-unavailable", Msg: c.tool.name + ": " + err.Error()}
	}

	decoded, err := png.Decode(bytes.NewReader(out))
	if err != nil {
		return nil, &CaptureError{Kind: "backend-unavailable", Msg: "decoding " + c.tool.name + " output: " + err.Error()}
	}

	rgba := toRGBA(decoded)
	c.mu.Lock()
	c.width, c.height = rgba.Bounds().Dx(), rgba.Bounds().Dy()
	c.mu.Unlock()
	return rgba, nil
}

func (c *externalToolSource) CaptureRegion(x, y, width, height int) (*image.RGBA, error) {
	full, err := c.Capture()
	if err != nil {
		return nil, err
	}
	rect := image.Rect(x, y, x+width, y+height).Intersect(full.Bounds())
	return full.SubImage(rect).(*image.RGBA), nil
}

func (c *externalToolSource) Bounds() (int, int, error) {
	c.mu.Lock()
	w, h := c.width, c.height
	c.mu.Unlock()
	if w == 0 {
		// No capture has run yet; take one to learn the dimensions.
		img, err := c.Capture()
		if err != nil {
			return 0, 0, err
		}
		return img.Bounds().Dx(), img.Bounds().Dy(), nil
	}
	return w, h, nil
}

func (c *externalToolSource) Close() error { return nil }

func toRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	bounds := img.Bounds()
	out := image.NewRGBA(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			out.Set(x, y, img.At(x, y))
		}
	}
	return out
}

var _ Source = (*externalToolSource)(nil)
