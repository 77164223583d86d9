package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// MarshalJSON writes an absent error as null
func (j Job) MarshalJSON() ([]byte, error) {
	type wire Job
	var errMsg *string
	if j.Error != "" {
		e := j.Error
		errMsg = &e
	}
	return json.Marshal(struct {
		wire
		Error *string `json:"error"`
	}{wire(j), errMsg})
}

// DecodeJob parses a stored job record. Numbers in data are kept as
// json.Number so the payload round-trips unchanged.
func DecodeJob(raw []byte) (*Job, error) {
	var job Job
	if err := decodeNumbers(raw, &job); err != nil {
		return nil, err
	}
	if job.Tags == nil {
		job.Tags = []string{}
	}
	if job.Data == nil {
		job.Data = map[string]any{}
	}
	return &job, nil
}

// ParseData parses a JSON object payload, keeping numbers as json.Number.
// A JSON null yields an empty payload.
func ParseData(raw []byte) (map[string]any, error) {
	var data map[string]any
	if err := decodeNumbers(raw, &data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	if data == nil {
		data = map[string]any{}
	}
	return data, nil
}

// decodeNumbers decodes exactly one JSON value from raw
func decodeNumbers(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("unexpected data after JSON value")
	}
	return nil
}
