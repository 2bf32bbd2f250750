package store

import "encoding/json"

// Step options are persisted as a JSON-encoded string list in a TEXT
// column. A row with no options stores NULL.

func encodeOptions(options []string) (*string, error) {
	if options == nil {
		return nil, nil
	}
	raw, err := json.Marshal(options)
	if err != nil {
		return nil, err
	}
	encoded := string(raw)
	return &encoded, nil
}

// decodeOptions recovers the ordered list. Rows written by hand or by
// older clients may hold junk; that degrades to an empty list rather
// than failing the read.
func decodeOptions(encoded *string) []string {
	if encoded == nil || *encoded == "" {
		return nil
	}
	var options []string
	if err := json.Unmarshal([]byte(*encoded), &options); err != nil {
		return []string{}
	}
	return options
}
