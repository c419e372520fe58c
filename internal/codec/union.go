package codec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"openlimits/internal/core"
)

// Object is a decoded JSON object whose members are kept raw, used to
// discriminate tagged and untagged unions before decoding an arm.
type Object map[string]json.RawMessage

func DecodeObject(data []byte) (Object, error) {
	var obj Object
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, fmt.Errorf("expected object, got %s", bytes.TrimSpace(data))
	}
	return obj, nil
}

// Has reports whether key is present with a non-null value.
func (o Object) Has(key string) bool {
	raw, ok := o[key]
	if !ok {
		return false
	}
	return !bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

// Tag returns the string value of a discriminator field. A missing or
// non-string tag matches no arm.
func (o Object) Tag(field string) (string, error) {
	raw, ok := o[field]
	if !ok {
		return "", fmt.Errorf("missing tag %q: %w", field, core.ErrUnrecognizedVariant)
	}
	var tag string
	if err := json.Unmarshal(raw, &tag); err != nil {
		return "", fmt.Errorf("tag %q is not a string: %w", field, core.ErrUnrecognizedVariant)
	}
	return tag, nil
}

// Arm names one alternative of an untagged union by the keys it requires.
type Arm struct {
	Name string
	Keys []string
}

// MatchArm tries arms in declaration order and returns the index of the single
// arm whose keys are all present. More than one match is ambiguous rather than
// first-wins.
func (o Object) MatchArm(arms ...Arm) (int, error) {
	matched := -1
	var names []string
	for i, arm := range arms {
		ok := true
		for _, key := range arm.Keys {
			if !o.Has(key) {
				ok = false
				break
			}
		}
		if !ok {
			continue
		}
		if matched < 0 {
			matched = i
		}
		names = append(names, arm.Name)
	}
	switch {
	case len(names) > 1:
		return -1, fmt.Errorf("payload matches %s: %w", strings.Join(names, ", "), core.ErrAmbiguousUntaggedVariant)
	case matched < 0:
		return -1, fmt.Errorf("payload matches no arm: %w", core.ErrUnrecognizedVariant)
	}
	return matched, nil
}
