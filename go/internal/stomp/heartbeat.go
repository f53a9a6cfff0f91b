package stomp

import (
	"fmt"
	"strconv"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
)

// FormatHeartBeat renders the heart-beat header value "cx,cy" in milliseconds.
func FormatHeartBeat(outgoing, incoming time.Duration) string {
	return strconv.FormatInt(outgoing.Milliseconds(), 10) + "," + strconv.FormatInt(incoming.Milliseconds(), 10)
}

// PeerHeartBeat reads the heart-beat header of f. A missing header means 0,0.
func PeerHeartBeat(f *frame.Frame) (outgoing, incoming time.Duration, err error) {
	v, ok := f.Header.Contains(frame.HeartBeat)
	if !ok {
		return 0, 0, nil
	}
	outgoing, incoming, err = frame.ParseHeartBeat(v)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: heart-beat %q: %v", ErrMalformed, v, err)
	}
	return outgoing, incoming, nil
}

// NegotiateHeartBeat computes the effective intervals for one side given what
// it offered (ownOut, ownIn) and what the peer offered (peerOut, peerIn).
// A direction is disabled when either side offers zero for it.
func NegotiateHeartBeat(ownOut, ownIn, peerOut, peerIn time.Duration) (outgoing, incoming time.Duration) {
	if ownOut > 0 && peerIn > 0 {
		outgoing = max(ownOut, peerIn)
	}
	if ownIn > 0 && peerOut > 0 {
		incoming = max(ownIn, peerOut)
	}
	return outgoing, incoming
}
