package json

import (
	"bytes"

	"github.com/Velocidex/json"
)

func Marshal(v interface{}) ([]byte, error) {
	return json.MarshalWithOptions(v, NewEncOpts())
}

func MustMarshalString(v interface{}) string {
	result, err := Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(result)
}

func StringIndent(v interface{}) string {
	serialized, err := Marshal(v)
	if err != nil {
		panic(err)
	}

	var buf bytes.Buffer
	err = json.Indent(&buf, serialized, "", " ")
	if err != nil {
		panic(err)
	}
	return buf.String()
}

func Unmarshal(b []byte, v interface{}) error {
	return json.Unmarshal(b, v)
}
