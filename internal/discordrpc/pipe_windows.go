//go:build windows

package discordrpc

import (
	"encoding/json"
	"errors"
	"fmt"
	"syscall"
	"time"

	"github.com/Microsoft/go-winio"
	"github.com/sirupsen/logrus"
)

// ERROR_PIPE_BUSY: all pipe instances are taken, a retry may succeed.
const errPipeBusy = syscall.Errno(231)

var pipeDialTimeout = 2 * time.Second

// DialPipe connects to the local Discord client over a named pipe, trying
// discord-ipc-0 through discord-ipc-9. A busy endpoint is retried once
// after 100 ms before moving on. The HANDSHAKE frame is sent before the
// transport is returned.
func DialPipe(clientID string) (Transport, error) {
	for i := 0; i < 10; i++ {
		name := fmt.Sprintf(`\\.\pipe\discord-ipc-%d`, i)
		conn, err := winio.DialPipe(name, &pipeDialTimeout)
		if err != nil && errors.Is(err, errPipeBusy) {
			time.Sleep(100 * time.Millisecond)
			conn, err = winio.DialPipe(name, &pipeDialTimeout)
		}
		if err != nil {
			logrus.WithError(err).WithField("pipe", name).Debug("IPC pipe unavailable")
			continue
		}

		t := &pipeTransport{conn: conn}
		handshake, _ := json.Marshal(map[string]any{"v": 1, "client_id": clientID})
		if err := t.Send(OpHandshake, handshake); err != nil {
			_ = t.Close()
			return nil, fmt.Errorf("send handshake: %w", err)
		}
		logrus.WithField("pipe", name).Info("IPC connected")
		return t, nil
	}
	return nil, errors.New("could not connect to Discord via IPC. Is Discord running?")
}
