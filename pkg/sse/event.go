// Copyright © 2025 Prabhjot Singh Sethi, All Rights reserved
// Author: Prabhjot Singh Sethi <prabhjot.sethi@gmail.com>

package sse

import (
	"encoding/json"
	"fmt"
)

// Event is a single server-sent event. Data is kept as the raw string even
// when it fails to parse as JSON; consumers opt in to decoding via Decode.
type Event struct {
	// Name is the value of the "event" field, or "message" when absent.
	Name string
	// Data joins all "data" lines with newlines.
	Data string
	// ID is the optional "id" field used for stream resumption.
	ID string
}

// Decode unmarshals the event data into v. A malformed payload yields an
// error wrapping ErrMalformedEvent rather than corrupting the event itself.
func (e Event) Decode(v any) error {
	if err := json.Unmarshal([]byte(e.Data), v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	return nil
}
