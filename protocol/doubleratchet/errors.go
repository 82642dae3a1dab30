package doubleratchet

import (
	"fmt"

	"vault-signal/protocol"
)

var (
	ErrNoSendingChain      = fmt.Errorf("%w: no sending chain before the first received message", protocol.ErrHandshake)
	ErrNoReceivingChain    = fmt.Errorf("%w: no receiving chain for header key", protocol.ErrAuthentication)
	ErrInvalidTag          = fmt.Errorf("%w: invalid tag", protocol.ErrAuthentication)
	ErrSkippingTooManyKeys = fmt.Errorf("%w: skipping too many message keys", protocol.ErrReplayOrDoS)
	ErrMessageReplayed     = fmt.Errorf("%w: message key already consumed", protocol.ErrReplay)
	ErrRetiredRatchetKey   = fmt.Errorf("%w: ratchet key from a retired epoch", protocol.ErrReplay)
	ErrInvalidHeader       = fmt.Errorf("%w: invalid header", protocol.ErrSerialization)
	ErrInvalidState        = fmt.Errorf("%w: invalid ratchet state", protocol.ErrSerialization)
)
