package schema

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/contextframe/contextframe-go/models"
)

// knownJSONKeys are the top-level keys DecodeRecordJSON accepts. Anything
// else is rejected unless it starts with "x_", the forward-compatible
// extension namespace; x_ keys are folded into custom metadata.
var knownJSONKeys = map[string]bool{
	"uuid": true, "title": true, "record_type": true, "text_content": true,
	"context": true, "vector": true, "created_at": true, "updated_at": true,
	"version": true, "author": true, "contributors": true, "tags": true,
	"status": true, "collection": true, "collection_id": true,
	"collection_id_type": true, "position": true, "source_file": true,
	"source_type": true, "source_url": true, "local_path": true, "uri": true,
	"cid": true, "relationships": true, "custom_metadata": true,
	"raw_data": true, "raw_data_type": true,
}

// DecodeRecordJSON parses a record from its JSON form, enforcing the
// unknown-field rule and stringifying typed custom-metadata values.
func DecodeRecordJSON(data []byte) (*models.Record, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, &models.ValidationError{Field: "record",
			Reason: fmt.Sprintf("invalid JSON: %v", err)}
	}
	var extensions []string
	for k := range raw {
		if knownJSONKeys[k] {
			continue
		}
		if strings.HasPrefix(k, "x_") {
			extensions = append(extensions, k)
			continue
		}
		return nil, &models.ValidationError{Field: k,
			Reason: "unknown field",
			Hint:   "prefix extension fields with x_"}
	}
	// custom_metadata accepts either the list-of-pairs form or an object
	// whose values are stringified (JSON-encoded when not strings).
	var customPairs []models.MetadataPair
	if cm, ok := raw["custom_metadata"]; ok {
		pairs, err := decodeCustomMetadata(cm)
		if err != nil {
			return nil, err
		}
		customPairs = pairs
		delete(raw, "custom_metadata")
	}
	for _, k := range extensions {
		delete(raw, k)
	}
	filtered, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("re-encode record: %w", err)
	}
	var rec models.Record
	if err := json.Unmarshal(filtered, &rec); err != nil {
		return nil, &models.ValidationError{Field: "record",
			Reason: fmt.Sprintf("invalid field value: %v", err)}
	}
	rec.CustomMetadata = customPairs
	// Extension keys round-trip through custom metadata, sorted for
	// determinism since JSON object order is not preserved.
	sort.Strings(extensions)
	for _, k := range extensions {
		v, err := stringifyValue(rawValue(data, k))
		if err != nil {
			return nil, err
		}
		rec.SetCustomValue(k, v)
	}
	return &rec, nil
}

func rawValue(data []byte, key string) json.RawMessage {
	var raw map[string]json.RawMessage
	_ = json.Unmarshal(data, &raw)
	return raw[key]
}

func decodeCustomMetadata(data json.RawMessage) ([]models.MetadataPair, error) {
	var pairs []models.MetadataPair
	if err := json.Unmarshal(data, &pairs); err == nil {
		return pairs, nil
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, &models.ValidationError{Field: ColCustomMetadata,
			Reason: "expected a list of {key,value} pairs or an object"}
	}
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs = make([]models.MetadataPair, 0, len(keys))
	for _, k := range keys {
		v, err := stringifyValue(obj[k])
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, models.MetadataPair{Key: k, Value: v})
	}
	return pairs, nil
}

// stringifyValue turns a JSON value into the string stored at the storage
// layer: strings pass through, everything else keeps its JSON encoding so
// the round-trip is lossless.
func stringifyValue(data json.RawMessage) (string, error) {
	if data == nil {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return s, nil
	}
	return string(data), nil
}

// EncodeRecordJSON is the inverse of DecodeRecordJSON.
func EncodeRecordJSON(rec *models.Record) ([]byte, error) {
	return json.Marshal(rec)
}
