// Package overlay implements system-wide region selection through a
// privileged helper process. The daemon cannot draw above other
// applications' windows, so it delegates the interaction to the helper and
// speaks newline-delimited JSON with it over stdio.
package overlay

import (
	"bufio"
	"encoding/json"
	"io"

	"github.com/meshflow/capture/internal/errors"
	"github.com/meshflow/capture/internal/geometry"
)

// Message types on the helper wire.
const (
	// daemon → helper
	TypeOpen  = "open"
	TypeClose = "close"

	// helper → daemon
	TypeReady   = "ready"
	TypeConfirm = "confirm"
	TypeCancel  = "cancel"
	TypeError   = "error"
)

// Message is the protocol envelope. Width/Height carry the size hint on
// open; Rect carries the confirmed selection in absolute screen
// coordinates.
type Message struct {
	Type    string         `json:"type"`
	Width   float64        `json:"width,omitempty"`
	Height  float64        `json:"height,omitempty"`
	Rect    *geometry.Rect `json:"rect,omitempty"`
	Message string         `json:"message,omitempty"`
}

// Encoder writes newline-delimited protocol messages.
type Encoder struct {
	w io.Writer
}

// NewEncoder creates an encoder over w.
func NewEncoder(w io.Writer) *Encoder { return &Encoder{w: w} }

// Encode writes one message followed by a newline.
func (e *Encoder) Encode(m Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return errors.Wrap(err, errors.CodeInternal, "encode overlay message")
	}
	data = append(data, '\n')
	if _, err := e.w.Write(data); err != nil {
		return errors.Wrap(err, errors.CodeInternal, "write overlay message")
	}
	return nil
}

// Decoder reads newline-delimited protocol messages.
type Decoder struct {
	sc *bufio.Scanner
}

// NewDecoder creates a decoder over r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{sc: bufio.NewScanner(r)}
}

// Next returns the next message, or io.EOF when the peer closed the pipe.
func (d *Decoder) Next() (Message, error) {
	for d.sc.Scan() {
		line := d.sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var m Message
		if err := json.Unmarshal(line, &m); err != nil {
			return Message{}, errors.Wrap(err, errors.CodeInternal, "decode overlay message")
		}
		return m, nil
	}
	if err := d.sc.Err(); err != nil {
		return Message{}, err
	}
	return Message{}, io.EOF
}
