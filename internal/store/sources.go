package store

import "encoding/json"

// Sources are stored as a JSON array so their order survives round-trips
// on both backends.

func marshalSources(sources []string) (string, error) {
	if sources == nil {
		sources = []string{}
	}
	b, err := json.Marshal(sources)
	return string(b), err
}

func unmarshalSources(data string, dst *[]string) error {
	if data == "" {
		return nil
	}
	return json.Unmarshal([]byte(data), dst)
}
