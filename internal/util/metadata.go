package util

import (
	"bytes"
	"encoding/json"
	"os"

	"github.com/ugorji/go/codec"
)

// ParseMetadata loads optional inscription metadata from either a CBOR file or
// a JSON file. CBOR input is validated by decoding it once; JSON input is
// re-encoded to CBOR so the envelope always carries CBOR bytes.
func ParseMetadata(cborMetadata, jsonMetadata string) ([]byte, error) {
	handle := &codec.CborHandle{}
	if cborMetadata != "" {
		data, err := os.ReadFile(cborMetadata)
		if err != nil {
			return nil, err
		}
		var v interface{}
		dec := codec.NewDecoderBytes(data, handle)
		if err := dec.Decode(&v); err != nil {
			return nil, err
		}
		return data, nil
	}
	if jsonMetadata != "" {
		data, err := os.ReadFile(jsonMetadata)
		if err != nil {
			return nil, err
		}
		var jsonObj interface{}
		if err := json.Unmarshal(data, &jsonObj); err != nil {
			return nil, err
		}
		cborData := bytes.NewBuffer(nil)
		if err := codec.NewEncoder(cborData, handle).Encode(jsonObj); err != nil {
			return nil, err
		}
		return cborData.Bytes(), nil
	}
	return nil, nil
}
