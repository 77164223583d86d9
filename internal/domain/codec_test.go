package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJob_MarshalError(t *testing.T) {
	job := NewJob(nil, nil)
	require.NoError(t, job.MarkProcessing())
	require.NoError(t, job.MarkFailed("card declined"))

	raw, err := json.Marshal(job)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"error":"card declined"`)

	decoded, err := DecodeJob(raw)
	require.NoError(t, err)
	assert.Equal(t, "card declined", decoded.Error)
}

func TestDecodeJob_KeepsLargeNumbers(t *testing.T) {
	job := NewJob([]string{"x"}, nil)
	raw, err := json.Marshal(job)
	require.NoError(t, err)

	var fields map[string]any
	require.NoError(t, json.Unmarshal(raw, &fields))
	fields["data"] = json.RawMessage(`{"id":9007199254740993,"price":10.50}`)
	raw, err = json.Marshal(fields)
	require.NoError(t, err)

	decoded, err := DecodeJob(raw)
	require.NoError(t, err)
	assert.Equal(t, json.Number("9007199254740993"), decoded.Data["id"])

	out, err := json.Marshal(decoded.Data)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":9007199254740993,"price":10.50}`, string(out))
	assert.Contains(t, string(out), "9007199254740993")
}

func TestDecodeJob_FillsEmptyCollections(t *testing.T) {
	decoded, err := DecodeJob([]byte(`{"id":"x","status":"pending","created_at":"2024-01-01T00:00:00Z","tags":null,"data":null}`))
	require.NoError(t, err)
	assert.Equal(t, []string{}, decoded.Tags)
	assert.Equal(t, map[string]any{}, decoded.Data)
}

func TestParseData(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    map[string]any
		wantErr bool
	}{
		{name: "object", raw: `{"amount": 100}`, want: map[string]any{"amount": json.Number("100")}},
		{name: "null", raw: `null`, want: map[string]any{}},
		{name: "array", raw: `[1,2]`, wantErr: true},
		{name: "malformed", raw: `{"amount":`, wantErr: true},
		{name: "trailing value", raw: `{} {}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseData([]byte(tt.raw))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidArgument)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
