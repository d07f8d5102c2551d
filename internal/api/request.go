package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"

	"github.com/zhejian/pastebin/internal/model"
	"github.com/zhejian/pastebin/internal/service"
)

// Field spellings accepted on create. When both spellings of a field are
// present the capitalised one wins.
var (
	ttlKeys      = [2]string{"ttl_Seconds", "ttl_seconds"}
	maxViewsKeys = [2]string{"max_Views", "max_views"}
)

// maxSafeInteger is the largest integer a JSON number is guaranteed to
// carry exactly across clients
const maxSafeInteger = 1<<53 - 1

var errNotAnObject = errors.New("request body must be a JSON object")

// parseCreateRequest adapts a raw JSON body into the canonical request.
// Type checks live here; range checks are left to the service so every
// boundary shares them.
func parseCreateRequest(body []byte) (*model.CreatePasteRequest, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil || fields == nil {
		return nil, errNotAnObject
	}

	req := &model.CreatePasteRequest{}

	if raw, ok := fields["content"]; ok && !isNull(raw) {
		if err := json.Unmarshal(raw, &req.Content); err != nil {
			return nil, &service.ValidationError{Field: "content", Reason: "must be a non-empty string"}
		}
	}

	var err error
	if req.TTLSeconds, err = optionalInteger(fields, ttlKeys, "ttl_seconds"); err != nil {
		return nil, err
	}
	if req.MaxViews, err = optionalInteger(fields, maxViewsKeys, "max_views"); err != nil {
		return nil, err
	}
	return req, nil
}

// optionalInteger reads the first present spelling of a field. Absent and
// null both mean "no limit". Integral floats such as 10.0 are accepted.
func optionalInteger(fields map[string]json.RawMessage, keys [2]string, field string) (*int64, error) {
	var raw json.RawMessage
	for _, k := range keys {
		if v, ok := fields[k]; ok {
			raw = v
			break
		}
	}
	if raw == nil || isNull(raw) {
		return nil, nil
	}

	invalid := &service.ValidationError{Field: field, Reason: "must be an integer >= 1"}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, invalid
	}
	num, ok := v.(json.Number)
	if !ok {
		return nil, invalid
	}

	if n, err := num.Int64(); err == nil {
		return &n, nil
	}
	f, err := num.Float64()
	if err != nil || f != math.Trunc(f) {
		return nil, invalid
	}
	if math.Abs(f) > maxSafeInteger {
		return nil, &service.ValidationError{Field: field, Reason: "is too large"}
	}
	n := int64(f)
	return &n, nil
}

func isNull(raw json.RawMessage) bool {
	return string(bytes.TrimSpace(raw)) == "null"
}
