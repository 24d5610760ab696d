package record

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestParseAPITime(t *testing.T) {
	want := time.Date(2025, 2, 27, 15, 0, 0, 0, time.Local)

	for _, in := range []string{"2025-02-27T15:00:00", "2025-02-27 15:00:00", " 2025-02-27T15:00:00 "} {
		got, err := ParseAPITime(in)
		if err != nil {
			t.Fatalf("ParseAPITime(%q) error = %v", in, err)
		}
		if !got.Equal(want) {
			t.Errorf("ParseAPITime(%q) = %v, want %v", in, got, want)
		}
	}

	if _, err := ParseAPITime("27/02/2025"); err == nil {
		t.Error("ParseAPITime() expected error for unknown layout")
	}
}

func TestFormatAPITime(t *testing.T) {
	ts := time.Date(2025, 2, 27, 15, 4, 5, 999, time.Local)
	if got := FormatAPITime(ts); got != "2025-02-27T15:04:05" {
		t.Errorf("FormatAPITime() = %q", got)
	}
}

func TestDecodeEnvelope(t *testing.T) {
	body := `{"startTime":"2025-02-27T15:00:00","res_code":"200","res_msg":"ok","dataCnt":1,
		"data":[{"id":"A1","tfservicedtime":"20240220","value":12345678901234567890}]}`

	env, err := DecodeEnvelope(strings.NewReader(body))
	if err != nil {
		t.Fatalf("DecodeEnvelope() error = %v", err)
	}
	if env.DataCnt != 1 || len(env.Data) != 1 {
		t.Fatalf("DataCnt = %d, len(Data) = %d", env.DataCnt, len(env.Data))
	}
	if env.TotalCnt != nil {
		t.Errorf("TotalCnt = %v, want nil", *env.TotalCnt)
	}
	// Large integers survive as json.Number.
	if n, ok := env.Data[0]["value"].(json.Number); !ok || n.String() != "12345678901234567890" {
		t.Errorf("value = %#v, want json.Number", env.Data[0]["value"])
	}
}

func TestDecodeEnvelope_Malformed(t *testing.T) {
	tests := map[string]string{
		"not json":        `{not json}`,
		"missing code":    `{"startTime":"x","dataCnt":0,"data":[]}`,
		"non-object item": `{"res_code":"200","dataCnt":1,"data":[null]}`,
		"wrong type":      `{"res_code":"200","dataCnt":"one","data":[]}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := DecodeEnvelope(strings.NewReader(body)); err == nil {
				t.Errorf("DecodeEnvelope(%s) expected error", body)
			}
		})
	}
}

func TestEncodeEnvelope_Deterministic(t *testing.T) {
	env := &Envelope{
		StartTime: "2025-02-27T15:00:00",
		ResCode:   ResCodeSuccess,
		ResMsg:    "성공 <ok>",
		DataCnt:   1,
		Data:      []Record{{"value": json.Number("1234"), "id": "A1"}},
	}

	first, err := EncodeEnvelope(env)
	if err != nil {
		t.Fatalf("EncodeEnvelope() error = %v", err)
	}
	second, _ := EncodeEnvelope(env)
	if string(first) != string(second) {
		t.Error("EncodeEnvelope() is not deterministic")
	}

	out := string(first)
	if !strings.Contains(out, "성공 <ok>") {
		t.Errorf("non-ASCII or HTML characters were escaped: %s", out)
	}
	if strings.Contains(out, "totalCnt") {
		t.Errorf("totalCnt should be omitted: %s", out)
	}
	if strings.Index(out, `"id"`) > strings.Index(out, `"value"`) {
		t.Errorf("record keys should be sorted: %s", out)
	}
	if !strings.Contains(out, "\n  \"res_code\"") {
		t.Errorf("expected 2-space indentation: %s", out)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		rec     Record
		wantErr bool
	}{
		{"opaque record", Record{"id": "A1"}, false},
		{"valid service date", Record{"tfservicedtime": "20240220"}, false},
		{"invalid service date", Record{"tfservicedtime": "2024-02-20"}, true},
		{"numeric service date", Record{"tfservicedtime": json.Number("20240220")}, true},
		{"api timestamp", Record{"timestamp": "2024-02-20T12:00:00"}, false},
		{"legacy timestamp", Record{"timestamp": "2024-02-20 12:00:00"}, false},
		{"bad timestamp", Record{"timestamp": "yesterday"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.rec)
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
