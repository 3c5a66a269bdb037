package core

import "encoding/json"

// ScalarData is the field-value map attached to a vector record, stored
// JSON-encoded under the scalar keyspace. Values are restricted to what
// JSON's type system already gives us for free (string, float64, bool, nil);
// this is a Non-goal system's simplest workable representation for a
// structured metadata blob none of the pack's binary formats target.
type ScalarData map[string]interface{}

// EncodeScalarData marshals data for storage under the scalar keyspace.
func EncodeScalarData(data ScalarData) ([]byte, error) {
	return json.Marshal(data)
}

// DecodeScalarData is the inverse of EncodeScalarData.
func DecodeScalarData(raw []byte) (ScalarData, error) {
	var data ScalarData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, err
	}
	return data, nil
}

// MatchesFilter reports whether data satisfies filter under field-wise
// equality: every key in filter must be present in data with an equal value.
// Extra keys in data are allowed; a missing key is a non-match.
func (data ScalarData) MatchesFilter(filter ScalarData) bool {
	for k, want := range filter {
		got, ok := data[k]
		if !ok || got != want {
			return false
		}
	}
	return true
}
