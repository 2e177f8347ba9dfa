package wire

import (
	"encoding/json"
	"fmt"
	"time"
)

// Millis is a wall-clock timestamp in milliseconds since epoch.
//
// Servers and older clients disagree on timestamp encoding: some send epoch
// milliseconds as a number, some send RFC 3339 strings. Millis accepts both
// and always marshals as a number.
type Millis int64

// UnmarshalJSON accepts an epoch-milliseconds number or an RFC 3339 string.
func (m *Millis) UnmarshalJSON(data []byte) error {
	if len(data) == 0 || string(data) == "null" {
		*m = 0
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*m = 0
			return nil
		}
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return fmt.Errorf("invalid timestamp %q: %w", s, err)
		}
		*m = Millis(t.UnixMilli())
		return nil
	}
	var n int64
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*m = Millis(n)
	return nil
}

// Time converts to a time.Time.
func (m Millis) Time() time.Time { return time.UnixMilli(int64(m)) }

// Now returns the current time as Millis.
func Now() Millis { return Millis(time.Now().UnixMilli()) }
