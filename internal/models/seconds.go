package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Seconds is a client-reported duration. Beacon payloads send it either as a JSON
// number or as a numeric string; fractional values are truncated.
type Seconds int

func (s *Seconds) UnmarshalJSON(data []byte) error {
	raw := bytes.TrimSpace(data)
	if bytes.Equal(raw, []byte("null")) {
		return nil
	}

	var text string
	if len(raw) > 0 && raw[0] == '"' {
		if err := json.Unmarshal(raw, &text); err != nil {
			return err
		}
		text = strings.TrimSpace(text)
	} else {
		text = string(raw)
	}

	f, err := strconv.ParseFloat(text, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return fmt.Errorf("duration must be a number of seconds, got %s", string(raw))
	}
	// The duration column is a 32-bit INTEGER.
	if f <= math.MinInt32-1 || f >= math.MaxInt32+1 {
		return fmt.Errorf("duration out of range, got %s", string(raw))
	}
	*s = Seconds(int(f))
	return nil
}

func (s *Seconds) Int() *int {
	if s == nil {
		return nil
	}
	v := int(*s)
	return &v
}
