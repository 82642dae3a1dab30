package protocol

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKind(t *testing.T) {
	tests := []struct {
		err      error
		expected string
	}{
		{nil, "none"},
		{fmt.Errorf("%w: bad signature", ErrHandshake), "handshake"},
		{fmt.Errorf("decrypt: %w", ErrAuthentication), "authentication"},
		{ErrReplay, "replay"},
		{fmt.Errorf("%w: jump of 10000", ErrReplayOrDoS), "replay_or_dos"},
		{ErrSerialization, "serialization"},
		{ErrKeyGeneration, "key_generation"},
		{errors.New("disk full"), "internal"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, Kind(tt.err))
		})
	}
}
