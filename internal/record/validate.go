package record

import (
	"fmt"
	"time"
)

// Validate checks the well-known fields when present:
// tfservicedtime must be YYYYMMDD and timestamp must be an API or legacy datetime.
// Unknown fields pass through untouched.
func Validate(r Record) error {
	if v, ok := r["tfservicedtime"]; ok {
		s, isStr := v.(string)
		if !isStr {
			return fmt.Errorf("tfservicedtime must be a string")
		}
		if _, err := time.Parse(DateOnly, s); err != nil {
			return fmt.Errorf("tfservicedtime %q is not YYYYMMDD", s)
		}
	}
	if v, ok := r["timestamp"]; ok {
		s, isStr := v.(string)
		if !isStr {
			return fmt.Errorf("timestamp must be a string")
		}
		if _, err := time.Parse(APIDateTime, s); err != nil {
			if _, err := time.Parse(LegacyDateTime, s); err != nil {
				return fmt.Errorf("timestamp %q is not YYYY-MM-DDThh:mm:ss", s)
			}
		}
	}
	return nil
}
