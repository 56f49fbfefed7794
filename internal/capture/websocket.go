package capture

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// wsFrame is the JSON envelope used by telephony providers that deliver audio
// as text messages. Binary messages carry raw PCM directly.
type wsFrame struct {
	Audio string `json:"audio"`
}

// WSSource reads PCM frames from a websocket stream. It accepts both framing
// conventions seen in the wild: JSON text messages with a base64 "audio"
// field, and plain binary messages.
type WSSource struct {
	conn      *websocket.Conn
	done      chan struct{}
	closeOnce sync.Once
}

// DialStream connects to a listen URL. The watchdog goroutine tears down the
// connection as soon as ctx is cancelled so that a blocked read returns
// promptly instead of waiting out its deadline.
func DialStream(ctx context.Context, url string, handshakeTimeout time.Duration) (*WSSource, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, resp, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return nil, fmt.Errorf("%w: connect %s: %v", ErrTimeout, url, err)
	}
	if resp != nil {
		resp.Body.Close()
	}

	s := &WSSource{conn: conn, done: make(chan struct{})}
	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.done:
		}
	}()
	return s, nil
}

// ReadFrame returns the next audio frame, skipping non-audio messages such as
// provider keepalives. Malformed payloads fail the capture.
func (s *WSSource) ReadFrame(ctx context.Context, timeout time.Duration) ([]byte, error) {
	deadline := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := s.conn.SetReadDeadline(deadline); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStreamClosed, err)
	}

	for {
		msgType, data, err := s.conn.ReadMessage()
		if err != nil {
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				return nil, ErrStreamStalled
			}
			return nil, fmt.Errorf("%w: %v", ErrStreamClosed, err)
		}

		switch msgType {
		case websocket.BinaryMessage:
			return data, nil
		case websocket.TextMessage:
			var frame wsFrame
			if err := json.Unmarshal(data, &frame); err != nil {
				return nil, fmt.Errorf("%w: invalid frame json: %v", ErrProtocol, err)
			}
			if frame.Audio == "" {
				// Keepalive or metadata message; wait for audio.
				continue
			}
			pcm, err := base64.StdEncoding.DecodeString(frame.Audio)
			if err != nil {
				return nil, fmt.Errorf("%w: invalid base64 audio: %v", ErrProtocol, err)
			}
			return pcm, nil
		default:
			continue
		}
	}
}

// Close shuts the stream down proactively, sending a best-effort close frame
// first. Safe to call multiple times and from the watchdog.
func (s *WSSource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "capture complete")
		_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		err = s.conn.Close()
	})
	return err
}
