package cos

import jsoniter "github.com/json-iterator/go"

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// MustMarshal panics on error; used only where the input is our own,
// already-validated types, matching the teacher's cos.MustMarshal usage
// at call sites that construct the payload themselves.
func MustMarshal(v any) []byte {
	b, err := jsonAPI.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func MarshalJSON(v any) ([]byte, error) { return jsonAPI.Marshal(v) }
func UnmarshalJSON(data []byte, v any) error { return jsonAPI.Unmarshal(data, v) }
