package audit

import (
	"encoding/json"
	"fmt"
	"reflect"
	"sort"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// ChangeKind classifies a field change
type ChangeKind string

const (
	ChangeAdded   ChangeKind = "added"
	ChangeRemoved ChangeKind = "removed"
	ChangeChanged ChangeKind = "changed"
)

// patchThreshold is the string length above which changes carry a text patch
const patchThreshold = 80

// Change is one field-level difference between two snapshots
type Change struct {
	Field  string      `json:"field"`
	Kind   ChangeKind  `json:"kind"`
	Before interface{} `json:"before,omitempty"`
	After  interface{} `json:"after,omitempty"`
	Patch  string      `json:"patch,omitempty"`
}

// Diff compares two JSON object snapshots. Nested objects are walked with
// dotted paths; arrays and scalars compare as whole values. Changes are
// sorted by field. A nil or empty snapshot counts as an empty object.
func Diff(before, after json.RawMessage) ([]Change, error) {
	b, err := decodeObject(before)
	if err != nil {
		return nil, fmt.Errorf("invalid before snapshot: %w", err)
	}
	a, err := decodeObject(after)
	if err != nil {
		return nil, fmt.Errorf("invalid after snapshot: %w", err)
	}

	changes := []Change{}
	diffObjects("", b, a, &changes)
	sort.Slice(changes, func(i, j int) bool { return changes[i].Field < changes[j].Field })
	return changes, nil
}

func decodeObject(raw json.RawMessage) (map[string]interface{}, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return map[string]interface{}{}, nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return m, nil
}

func diffObjects(prefix string, before, after map[string]interface{}, out *[]Change) {
	for field, newValue := range after {
		path := prefix + field
		oldValue, existed := before[field]
		if !existed {
			*out = append(*out, Change{Field: path, Kind: ChangeAdded, After: newValue})
			continue
		}

		oldObj, oldIsObj := oldValue.(map[string]interface{})
		newObj, newIsObj := newValue.(map[string]interface{})
		if oldIsObj && newIsObj {
			diffObjects(path+".", oldObj, newObj, out)
			continue
		}

		if reflect.DeepEqual(oldValue, newValue) {
			continue
		}
		change := Change{Field: path, Kind: ChangeChanged, Before: oldValue, After: newValue}
		if oldStr, ok := oldValue.(string); ok {
			if newStr, ok := newValue.(string); ok && (len(oldStr) > patchThreshold || len(newStr) > patchThreshold) {
				change.Patch = textPatch(oldStr, newStr)
			}
		}
		*out = append(*out, change)
	}

	for field, oldValue := range before {
		if _, exists := after[field]; !exists {
			*out = append(*out, Change{Field: prefix + field, Kind: ChangeRemoved, Before: oldValue})
		}
	}
}

func textPatch(before, after string) string {
	dmp := diffmatchpatch.New()
	diffs := dmp.DiffMain(before, after, false)
	diffs = dmp.DiffCleanupSemantic(diffs)
	return dmp.PatchToText(dmp.PatchMake(before, diffs))
}
