package rtr

import "errors"

// ErrProtocol tags a session-ending protocol violation in a well-formed
// PDU: a version mismatch or an unsupported query. A malformed PDU
// surfaces as ErrShortPDU, ErrTooLarge or ErrUnknownType instead; both
// kinds are answered alike (spec §7 "Protocol": "send Error Report; close
// the session; the server stays up").
var ErrProtocol = errors.New("rtr: protocol error")
