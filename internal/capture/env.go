package capture

import "os"

func waylandDisplayEnv() string {
	return os.Getenv("WAYLAND_DISPLAY")
}
