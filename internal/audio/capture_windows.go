//go:build windows

package audio

import (
	"encoding/binary"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"
	"github.com/sirupsen/logrus"
)

// CaptureHandle controls an active dual-stream capture session.
type CaptureHandle struct {
	ctx  *malgo.AllocatedContext
	stop atomic.Bool
	wg   sync.WaitGroup
}

type captureStream struct {
	name       string
	deviceType malgo.DeviceType
	path       string
	ring       *Ring
}

// StartCapture opens the default render endpoint in loopback mode and the
// default capture endpoint, converting both to 16 kHz mono 16-bit PCM.
// Each stream is written to its own WAV file; when a ring is supplied,
// samples are also teed into it for live slicing. The two streams run in
// independent goroutines: a failure on one side never stops the other, and
// the caller learns about it only through a short or empty WAV file.
func StartCapture(loopbackPath, micPath string, loopbackRing, micRing *Ring) (*CaptureHandle, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(msg string) {
		logrus.WithField("source", "miniaudio").Debug(strings.TrimSpace(msg))
	})
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}

	h := &CaptureHandle{ctx: ctx}
	streams := []captureStream{
		// Loopback opens the render endpoint in capture direction, which is
		// how WASAPI exposes what the OS is about to play.
		{name: "loopback", deviceType: malgo.Loopback, path: loopbackPath, ring: loopbackRing},
		{name: "microphone", deviceType: malgo.Capture, path: micPath, ring: micRing},
	}
	h.wg.Add(len(streams))
	for _, s := range streams {
		go h.runStream(s)
	}
	return h, nil
}

// Stop signals both capture goroutines, waits for them to drain and
// finalize their WAV files, then releases the audio context.
func (h *CaptureHandle) Stop() {
	h.stop.Store(true)
	h.wg.Wait()
	_ = h.ctx.Uninit()
	h.ctx.Free()
}

func (h *CaptureHandle) runStream(s captureStream) {
	defer h.wg.Done()

	log := logrus.WithField("stream", s.name)

	// Create the writer first so a valid WAV header exists even when the
	// device cannot be opened.
	writer, err := NewWAVWriter(s.path)
	if err != nil {
		log.WithError(err).Error("Failed to create capture file")
		return
	}
	defer func() {
		if err := writer.Close(); err != nil {
			log.WithError(err).Error("Failed to finalize capture file")
		}
	}()

	cfg := malgo.DefaultDeviceConfig(s.deviceType)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = Channels
	cfg.SampleRate = SampleRate

	// The device callback runs on the audio thread; it must never block.
	// Batches are copied into a bounded channel and dropped when the
	// writer stalls.
	batches := make(chan []byte, 256)
	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			b := make([]byte, len(input))
			copy(b, input)
			select {
			case batches <- b:
			default:
				log.Warn("Capture batch dropped (writer stalled)")
			}
		},
	}

	device, err := malgo.InitDevice(h.ctx.Context, cfg, callbacks)
	if err != nil {
		log.WithError(err).Error("Failed to open capture endpoint")
		return
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		log.WithError(err).Error("Failed to start capture endpoint")
		return
	}
	log.WithField("path", s.path).Info("Capture started")

	samples := make([]int16, 0, 8*1024)
	write := func(b []byte) {
		samples = samples[:0]
		for i := 0; i+1 < len(b); i += 2 {
			samples = append(samples, int16(binary.LittleEndian.Uint16(b[i:])))
		}
		if err := writer.WriteSamples(samples); err != nil {
			log.WithError(err).Error("Failed to write capture batch")
		}
		if s.ring != nil {
			s.ring.Write(samples)
		}
	}

	for !h.stop.Load() {
		select {
		case b := <-batches:
			write(b)
		case <-time.After(100 * time.Millisecond):
			// Re-check the stop flag on quiet streams.
		}
	}
	_ = device.Stop()
	device.Uninit()

	// Drain whatever the device delivered before it stopped.
	for {
		select {
		case b := <-batches:
			write(b)
		default:
			log.Info("Capture stopped")
			return
		}
	}
}
