// SPDX-License-Identifier: MIT

package stream

import "errors"

var (
	// ErrBackendUnavailable means the shared store could not serve a
	// sequencer or buffer operation. Publish calls fail fast on it; ids are
	// never assigned from an unsynchronised local counter instead.
	ErrBackendUnavailable = errors.New("stream: backend unavailable")

	// ErrSequencingInvariant means an append carried a sequence number at or
	// below the topic's retained maximum without being a duplicate. This
	// never happens under correct operation and is treated as a loud
	// internal fault.
	ErrSequencingInvariant = errors.New("stream: sequence regression on append")
)
