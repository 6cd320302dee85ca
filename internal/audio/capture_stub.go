//go:build !windows

package audio

import "errors"

// CaptureHandle controls an active dual-stream capture session.
type CaptureHandle struct{}

// StartCapture is unavailable off Windows: loopback capture requires
// opening a WASAPI render endpoint in capture direction.
func StartCapture(loopbackPath, micPath string, loopbackRing, micRing *Ring) (*CaptureHandle, error) {
	return nil, errors.New("audio capture is only supported on Windows (WASAPI loopback)")
}

// Stop is a no-op on the stub handle.
func (h *CaptureHandle) Stop() {}
