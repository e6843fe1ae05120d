package hsapi

import "encoding/json"

// marshalJSON serializes request bodies for outbound calls. Unlike the
// canonical-JSON encoder used for signing, request bodies here have no
// canonical-form requirement, so the standard library encoder is sufficient.
func marshalJSON(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}
