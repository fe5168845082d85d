package main

import (
	"net"
	"strings"

	"github.com/pkg/browser"
	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/ChristopherMichael-Stokes/rpi-sandbox/internal/app"
)

// displayHook shows every delivered frame in window. Pressing 'q' or
// closing the window ends capture.
func displayHook(window *gocv.Window) app.FrameHook {
	return func(img *gocv.Mat) bool {
		window.IMShow(*img)
		if window.WaitKey(1) == 'q' {
			return false
		}
		return window.GetWindowProperty(gocv.WindowPropertyVisible) >= 1
	}
}

// previewURL turns a listen address into a browsable URL.
func previewURL(addr string) string {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return "http://" + addr + "/"
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	return "http://" + host + ":" + port + "/"
}

// openURL is swapped out in tests.
var openURL = browser.OpenURL

// openPreview returns the tray callback that opens the web preview in the
// default browser.
func openPreview(httpAddr string, log *zap.Logger) func() {
	return func() {
		if httpAddr == "" {
			log.Warn("preview unavailable: HTTP server disabled")
			return
		}
		url := previewURL(httpAddr)
		if err := openURL(url); err != nil {
			log.Warn("failed to open browser", zap.String("url", url), zap.Error(err))
		}
	}
}
