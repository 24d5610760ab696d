package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"
)

// Time layouts used on the wire and on disk.
const (
	APIDateTime    = "2006-01-02T15:04:05"
	LegacyDateTime = "2006-01-02 15:04:05"
	DateOnly       = "20060102"
	FileName       = "2006-01-02_15-04-05"
)

// Response codes and messages carried in envelopes.
const (
	ResCodeSuccess = "200"
	ResMsgSuccess  = "success"

	LimitYes = "Y"
	LimitNo  = "N"
)

// Record is one opaque data item as delivered by the source.
// Numbers are kept as json.Number so re-encoding is byte-faithful.
type Record map[string]any

// Request is the body posted to the source for one page.
type Request struct {
	StartTime string `json:"startTime"`
	LimitYn   string `json:"limitYn"`
	Offset    int    `json:"offset,omitempty"`
}

// Envelope is the response shape of the source and the on-disk file shape.
type Envelope struct {
	StartTime string   `json:"startTime"`
	ResCode   string   `json:"res_code"`
	ResMsg    string   `json:"res_msg"`
	DataCnt   int      `json:"dataCnt"`
	TotalCnt  *int     `json:"totalCnt,omitempty"`
	Data      []Record `json:"data"`
}

// FormatAPITime formats t in the source's startTime layout.
func FormatAPITime(t time.Time) string {
	return t.In(time.Local).Format(APIDateTime)
}

// ParseAPITime parses a startTime in either the API or the legacy layout, in local time.
func ParseAPITime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.ParseInLocation(APIDateTime, s, time.Local); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation(LegacyDateTime, s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: want YYYY-MM-DDThh:mm:ss", s)
	}
	return t, nil
}

// DecodeEnvelope decodes an envelope, keeping record numbers as json.Number.
// It checks shape only; semantic checks belong to the caller.
func DecodeEnvelope(r io.Reader) (*Envelope, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var env Envelope
	if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if strings.TrimSpace(env.ResCode) == "" {
		return nil, fmt.Errorf("envelope missing res_code")
	}
	for i, rec := range env.Data {
		if rec == nil {
			return nil, fmt.Errorf("data[%d] is not an object", i)
		}
	}
	return &env, nil
}

// EncodeEnvelope writes env as indented JSON with non-ASCII and HTML characters preserved.
func EncodeEnvelope(env *Envelope) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(env); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
