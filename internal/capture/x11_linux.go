//go:build linux

package capture

/*
#cgo CFLAGS: -I/usr/include
#cgo LDFLAGS: -lX11 -lXext

#include <X11/Xlib.h>
#include <X11/Xutil.h>
#include <sys/ipc.h>
#include <sys/shm.h>
#include <X11/extensions/XShm.h>
#include <stdlib.h>
#include <string.h>

typedef struct {
    void* data;
    int width;
    int height;
    int bytesPerRow;
    int error;
} X11CaptureResult;

typedef struct {
    Display* display;
    Window root;
    int screen;
    int width;
    int height;
    int useShm;
    XShmSegmentInfo shmInfo;
    XImage* shmImage;
} X11Context;

static X11Context g_x11 = {0};

int x11Init(int displayIndex) {
    if (g_x11.display != NULL) {
        return 0;
    }

    g_x11.display = XOpenDisplay(NULL);
    if (g_x11.display == NULL) {
        return 1;
    }

    g_x11.screen = displayIndex;
    if (g_x11.screen >= ScreenCount(g_x11.display)) {
        g_x11.screen = DefaultScreen(g_x11.display);
    }

    g_x11.root = RootWindow(g_x11.display, g_x11.screen);
    g_x11.width = DisplayWidth(g_x11.display, g_x11.screen);
    g_x11.height = DisplayHeight(g_x11.display, g_x11.screen);

    int major, minor;
    Bool pixmaps;
    if (XShmQueryVersion(g_x11.display, &major, &minor, &pixmaps)) {
        g_x11.useShm = 1;
        g_x11.shmImage = XShmCreateImage(
            g_x11.display,
            DefaultVisual(g_x11.display, g_x11.screen),
            DefaultDepth(g_x11.display, g_x11.screen),
            ZPixmap, NULL, &g_x11.shmInfo,
            g_x11.width, g_x11.height
        );
        if (g_x11.shmImage != NULL) {
            g_x11.shmInfo.shmid = shmget(
                IPC_PRIVATE,
                g_x11.shmImage->bytes_per_line * g_x11.shmImage->height,
                IPC_CREAT | 0777
            );
            if (g_x11.shmInfo.shmid >= 0) {
                g_x11.shmInfo.shmaddr = g_x11.shmImage->data = shmat(g_x11.shmInfo.shmid, 0, 0);
                g_x11.shmInfo.readOnly = False;
                if (XShmAttach(g_x11.display, &g_x11.shmInfo)) {
                    return 0;
                }
            }
            XDestroyImage(g_x11.shmImage);
            g_x11.shmImage = NULL;
        }
        g_x11.useShm = 0;
    }

    return 0;
}

void x11Cleanup() {
    if (g_x11.shmImage != NULL) {
        XShmDetach(g_x11.display, &g_x11.shmInfo);
        shmdt(g_x11.shmInfo.shmaddr);
        shmctl(g_x11.shmInfo.shmid, IPC_RMID, 0);
        XDestroyImage(g_x11.shmImage);
        g_x11.shmImage = NULL;
    }
    if (g_x11.display != NULL) {
        XCloseDisplay(g_x11.display);
        g_x11.display = NULL;
    }
    memset(&g_x11, 0, sizeof(g_x11));
}

static void x11ToRGBA(XImage* image, X11CaptureResult* result) {
    result->width = image->width;
    result->height = image->height;
    result->bytesPerRow = result->width * 4;

    size_t dataSize = (size_t)result->bytesPerRow * result->height;
    result->data = malloc(dataSize);
    if (result->data == NULL) {
        result->error = 4;
        return;
    }

    unsigned char* dst = (unsigned char*)result->data;
    int depth = image->bits_per_pixel;

    for (int y = 0; y < result->height; y++) {
        for (int x = 0; x < result->width; x++) {
            unsigned long pixel = XGetPixel(image, x, y);
            int idx = y * result->bytesPerRow + x * 4;
            if (depth == 32 || depth == 24) {
                dst[idx+0] = (pixel >> 16) & 0xFF;
                dst[idx+1] = (pixel >> 8) & 0xFF;
                dst[idx+2] = pixel & 0xFF;
                dst[idx+3] = 255;
            } else if (depth == 16) {
                dst[idx+0] = ((pixel >> 11) & 0x1F) * 255 / 31;
                dst[idx+1] = ((pixel >> 5) & 0x3F) * 255 / 63;
                dst[idx+2] = (pixel & 0x1F) * 255 / 31;
                dst[idx+3] = 255;
            }
        }
    }
}

X11CaptureResult x11CaptureScreen(int displayIndex) {
    X11CaptureResult result = {0};

    int initErr = x11Init(displayIndex);
    if (initErr != 0) {
        result.error = initErr;
        return result;
    }

    XImage* image = NULL;
    if (g_x11.useShm && g_x11.shmImage != NULL) {
        if (!XShmGetImage(g_x11.display, g_x11.root, g_x11.shmImage, 0, 0, AllPlanes)) {
            result.error = 2;
            return result;
        }
        image = g_x11.shmImage;
    } else {
        image = XGetImage(g_x11.display, g_x11.root, 0, 0, g_x11.width, g_x11.height, AllPlanes, ZPixmap);
        if (image == NULL) {
            result.error = 3;
            return result;
        }
    }

    x11ToRGBA(image, &result);

    if (!g_x11.useShm) {
        XDestroyImage(image);
    }
    return result;
}

X11CaptureResult x11CaptureRegion(int displayIndex, int x, int y, int width, int height) {
    X11CaptureResult result = {0};

    int initErr = x11Init(displayIndex);
    if (initErr != 0) {
        result.error = initErr;
        return result;
    }

    if (x < 0) x = 0;
    if (y < 0) y = 0;
    if (x + width > g_x11.width) width = g_x11.width - x;
    if (y + height > g_x11.height) height = g_x11.height - y;

    XImage* image = XGetImage(g_x11.display, g_x11.root, x, y, width, height, AllPlanes, ZPixmap);
    if (image == NULL) {
        result.error = 3;
        return result;
    }

    x11ToRGBA(image, &result);
    XDestroyImage(image);
    return result;
}

void x11Bounds(int displayIndex, int* width, int* height, int* error) {
    *error = x11Init(displayIndex);
    if (*error == 0) {
        *width = g_x11.width;
        *height = g_x11.height;
    }
}

void x11FreeCapture(void* data) {
    if (data != NULL) {
        free(data);
    }
}
*/
import "C"

import (
	"fmt"
	"image"
	"sync"
)

func init() {
	Register(BackendX11, func(cfg Config) (Source, Backend, error) {
		c := &x11Source{config: cfg}
		if _, _, err := c.Bounds(); err != nil {
			return nil, "", err
		}
		return c, BackendX11, nil
	})
}

// x11Source captures via Xlib/XShm, the fast path for a running X server
// (§4.2 variant: "X11 fast path"). It falls back to plain XGetImage when
// the shared-memory extension isn't available.
type x11Source struct {
	config Config
	mu     sync.Mutex
}

func (c *x11Source) Capture() (*image.RGBA, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := C.x11CaptureScreen(C.int(c.config.DisplayIndex))
	if result.error != 0 {
		return nil, translateX11Error(int(result.error))
	}
	defer C.x11FreeCapture(result.data)
	return x11BuildImage(result)
}

func (c *x11Source) CaptureRegion(x, y, width, height int) (*image.RGBA, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := C.x11CaptureRegion(C.int(c.config.DisplayIndex), C.int(x), C.int(y), C.int(width), C.int(height))
	if result.error != 0 {
		return nil, translateX11Error(int(result.error))
	}
	defer C.x11FreeCapture(result.data)
	return x11BuildImage(result)
}

func (c *x11Source) Bounds() (width, height int, err error) {
	var cWidth, cHeight, cError C.int
	C.x11Bounds(C.int(c.config.DisplayIndex), &cWidth, &cHeight, &cError)
	if cError != 0 {
		return 0, 0, translateX11Error(int(cError))
	}
	return int(cWidth), int(cHeight), nil
}

func (c *x11Source) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	C.x11Cleanup()
	return nil
}

// IsBGRA reports false: the cgo conversion above already writes RGB order
// into the output buffer (the encoder's BGRAProvider optimization doesn't
// apply to this backend).
func (c *x11Source) IsBGRA() bool { return false }

func x11BuildImage(result C.X11CaptureResult) (*image.RGBA, error) {
	width := int(result.width)
	height := int(result.height)
	bytesPerRow := int(result.bytesPerRow)

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	dataSize := bytesPerRow * height
	cData := C.GoBytes(result.data, C.int(dataSize))

	for y := 0; y < height; y++ {
		srcStart := y * bytesPerRow
		dstStart := y * img.Stride
		copy(img.Pix[dstStart:dstStart+width*4], cData[srcStart:srcStart+width*4])
	}
	return img, nil
}

func translateX11Error(code int) error {
	switch code {
	case 1:
		return &CaptureError{Kind: "display-unavailable", Msg: "failed to open X11 display (is DISPLAY set?)"}
	case 2:
		return &CaptureError{Kind: "backend-unavailable", Msg: "XShmGetImage failed"}
	case 3:
		return &CaptureError{Kind: "backend-unavailable", Msg: "XGetImage failed"}
	case 4:
		return &CaptureError{Kind: "backend-unavailable", Msg: "memory allocation failed"}
	default:
		return fmt.Errorf("capture: x11 error %d", code)
	}
}

var _ Source = (*x11Source)(nil)
var _ BGRAProvider = (*x11Source)(nil)
