// Package stomp adapts go-stomp's frame codec to the study-room transport,
// where every STOMP 1.2 frame travels as one WebSocket text message.
package stomp

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"

	"github.com/go-stomp/stomp/v3/frame"
)

// Version is the only protocol version spoken on the link.
const Version = "1.2"

// ErrMalformed is wrapped by every decoding error.
var ErrMalformed = errors.New("stomp: malformed frame")

// HeartBeat is the wire form of a heart-beat: a single EOL.
var HeartBeat = []byte{'\n'}

// IsHeartBeat reports whether data contains only EOLs.
func IsHeartBeat(data []byte) bool {
	return len(bytes.TrimLeft(data, "\r\n")) == 0
}

// Encode serializes f into one message, adding content-length when the body
// is not empty.
func Encode(f *frame.Frame) []byte {
	if len(f.Body) > 0 {
		if _, ok := f.Header.Contains(frame.ContentLength); !ok {
			f.Header.Set(frame.ContentLength, strconv.Itoa(len(f.Body)))
		}
	}
	var buf bytes.Buffer
	// bytes.Buffer writes never fail.
	_ = frame.NewWriter(&buf).Write(f)
	return buf.Bytes()
}

// Decode parses the frame carried by one message. It returns (nil, nil) for
// a heart-beat. Leading EOLs are skipped.
func Decode(data []byte) (*frame.Frame, error) {
	if IsHeartBeat(data) {
		return nil, nil
	}
	r := frame.NewReader(bytes.NewReader(data))
	for {
		f, err := r.Read()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if f != nil {
			return f, nil
		}
	}
}
