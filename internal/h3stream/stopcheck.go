package h3stream

import (
	"errors"

	"github.com/quic-go/quic-go"
)

// IsRemoteStop reports whether err is the error a blocked Write returns
// because the peer, not the caller, ended the stream (STOP_SENDING over
// the real transport, PeerStopSending in tests) — as opposed to a local
// Close/CancelWrite or a genuine transport failure. SendDriver consults
// this so a peer stop surfaces via PollStopped rather than as an ordinary
// write error (spec §7).
func IsRemoteStop(err error) (code uint64, ok bool) {
	var qerr *quic.StreamError
	if errors.As(err, &qerr) && qerr.Remote {
		return uint64(qerr.ErrorCode), true
	}
	var rerr *ResetError
	if errors.As(err, &rerr) && rerr.Remote {
		return rerr.Code, true
	}
	return 0, false
}
