package invoice

import (
	"bytes"
	"encoding/json"
	"errors"

	"github.com/tidwall/gjson"
)

// sourceKind classifies a raw payload before any parsing happens
type sourceKind int

const (
	sourceUnsupported sourceKind = iota
	sourceText
	sourceStructured
)

func (k sourceKind) String() string {
	switch k {
	case sourceText:
		return "text"
	case sourceStructured:
		return "structured"
	default:
		return "unsupported"
	}
}

var (
	errNoJSON      = errors.New("no valid JSON found in payload")
	errInvalidJSON = errors.New("invalid JSON in payload")
)

// textStrategy turns raw text into JSON bytes or reports why it could not.
type textStrategy struct {
	name    string
	extract func(text []byte) ([]byte, error)
}

// textStrategies are tried in order; the first success wins.
var textStrategies = []textStrategy{
	{name: "direct", extract: parseDirect},
	{name: "embedded", extract: parseEmbedded},
}

// extraction is the outcome of a successful extraction pass
type extraction struct {
	kind     sourceKind
	strategy string
	doc      gjson.Result
}

// classify decides which extraction path applies and returns the bytes it works on.
func classify(raw any) (sourceKind, []byte, error) {
	switch v := raw.(type) {
	case nil:
		return sourceUnsupported, nil, nil
	case string:
		return sourceText, []byte(v), nil
	case []byte:
		return sourceText, v, nil
	case json.RawMessage:
		return sourceText, v, nil
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return sourceStructured, nil, err
		}
		return sourceStructured, data, nil
	}
}

// extract locates the invoice document inside raw and strips a data envelope.
func extract(raw any) (*extraction, error) {
	kind, data, err := classify(raw)
	switch kind {
	case sourceUnsupported:
		return nil, &MalformedPayloadError{Reason: "empty payload"}
	case sourceStructured:
		if err != nil {
			return nil, &MalformedPayloadError{Reason: "encoding structured payload", Err: err}
		}
		return &extraction{
			kind:     kind,
			strategy: "structured",
			doc:      unwrapEnvelope(gjson.ParseBytes(data)),
		}, nil
	}

	var lastErr error
	for _, s := range textStrategies {
		out, err := s.extract(data)
		if err != nil {
			lastErr = err
			continue
		}
		return &extraction{
			kind:     kind,
			strategy: s.name,
			doc:      unwrapEnvelope(gjson.ParseBytes(out)),
		}, nil
	}
	return nil, &MalformedPayloadError{Reason: lastErr.Error()}
}

// parseDirect accepts text that is JSON as a whole
func parseDirect(text []byte) ([]byte, error) {
	if len(bytes.TrimSpace(text)) == 0 || !gjson.ValidBytes(text) {
		return nil, errInvalidJSON
	}
	return text, nil
}

// parseEmbedded accepts JSON surrounded by prose, taking the span from the
// first '{' to the last '}'.
func parseEmbedded(text []byte) ([]byte, error) {
	start := bytes.IndexByte(text, '{')
	end := bytes.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return nil, errNoJSON
	}
	candidate := text[start : end+1]
	if !gjson.ValidBytes(candidate) {
		return nil, errInvalidJSON
	}
	return candidate, nil
}

// unwrapEnvelope discards one outer {"data": {...}} level. A data field that
// is not an object is left alone.
func unwrapEnvelope(doc gjson.Result) gjson.Result {
	if !doc.IsObject() {
		return doc
	}
	if inner := doc.Get("data"); inner.IsObject() {
		return inner
	}
	return doc
}
