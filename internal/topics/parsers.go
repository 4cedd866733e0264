package topics

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/farmflow/sensorhub/internal/models"
)

// Parser names accepted in registry files.
const (
	ParserQuotedJSON = "quoted-json"
	ParserJSON       = "json"
)

// ErrMalformedPayload wraps every payload decoding failure.
var ErrMalformedPayload = errors.New("malformed payload")

// Parser turns a raw message body into a record.
type Parser func(payload []byte) (models.Record, error)

var parsers = map[string]Parser{
	ParserQuotedJSON: ParseQuotedJSON,
	ParserJSON:       ParseJSON,
}

// ParseQuotedJSON accepts the single-quoted pseudo JSON some devices emit.
// Every ' becomes " before decoding, so apostrophes inside values are not
// supported.
func ParseQuotedJSON(payload []byte) (models.Record, error) {
	return ParseJSON(bytes.ReplaceAll(payload, []byte("'"), []byte(`"`)))
}

// ParseJSON decodes a JSON object. Numbers stay json.Number so integers and
// floats both map to float fields downstream.
func ParseJSON(payload []byte) (models.Record, error) {
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	var rec models.Record
	if err := dec.Decode(&rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if rec == nil {
		return nil, fmt.Errorf("%w: not an object", ErrMalformedPayload)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data", ErrMalformedPayload)
	}
	return rec, nil
}
