package store

import "fmt"

// Mutation is a change to one document, run by a backend inside its atomic section.
// It reports whether the document changed and an operation-specific result.
type Mutation func(doc Document) (changed bool, result interface{}, err error)

// ApplyDelta returns a mutation applying d
func ApplyDelta(d Delta) Mutation {
	return func(doc Document) (bool, interface{}, error) {
		d.Apply(doc)
		return !d.IsEmpty(), nil, nil
	}
}

// SetField returns a mutation assigning value (nil unsets) whose result is the prior value
func SetField(field string, value interface{}) Mutation {
	return func(doc Document) (bool, interface{}, error) {
		prev, _ := doc.Lookup(field)
		if value == nil {
			doc.UnsetPath(field)
		} else {
			doc.SetPath(field, CloneValue(value))
		}
		return !Equal(prev, value), prev, nil
	}
}

// CompareAndSetField returns a mutation assigning value only when the field equals
// expected. Its result is a bool reporting whether the swap happened.
func CompareAndSetField(field string, expected, value interface{}) Mutation {
	return func(doc Document) (bool, interface{}, error) {
		cur, _ := doc.Lookup(field)
		if !Equal(cur, expected) {
			return false, false, nil
		}
		if value == nil {
			doc.UnsetPath(field)
		} else {
			doc.SetPath(field, CloneValue(value))
		}
		return true, true, nil
	}
}

// AddToSetField returns a mutation appending value to an array field unless present
func AddToSetField(field string, value interface{}) Mutation {
	return func(doc Document) (bool, interface{}, error) {
		cur, ok := doc.Lookup(field)
		if !ok || cur == nil {
			doc.SetPath(field, []interface{}{CloneValue(value)})
			return true, nil, nil
		}
		arr, ok := cur.([]interface{})
		if !ok {
			return false, nil, fmt.Errorf("%w: %s", ErrNotArray, field)
		}
		for _, e := range arr {
			if Equal(e, value) {
				return false, nil, nil
			}
		}
		next := make([]interface{}, len(arr), len(arr)+1)
		copy(next, arr)
		doc.SetPath(field, append(next, CloneValue(value)))
		return true, nil, nil
	}
}

// PullField returns a mutation removing value from an array field. The field is unset
// when the array becomes empty.
func PullField(field string, value interface{}) Mutation {
	return func(doc Document) (bool, interface{}, error) {
		cur, ok := doc.Lookup(field)
		if !ok || cur == nil {
			return false, nil, nil
		}
		arr, ok := cur.([]interface{})
		if !ok {
			return false, nil, fmt.Errorf("%w: %s", ErrNotArray, field)
		}
		next := make([]interface{}, 0, len(arr))
		for _, e := range arr {
			if !Equal(e, value) {
				next = append(next, e)
			}
		}
		if len(next) == len(arr) {
			return false, nil, nil
		}
		if len(next) == 0 {
			doc.UnsetPath(field)
		} else {
			doc.SetPath(field, next)
		}
		return true, nil, nil
	}
}

// Filter returns the documents of docs matching cond
func Filter(docs []Document, cond Condition) []Document {
	var out []Document
	for _, d := range docs {
		if cond.Match(d) {
			out = append(out, d)
		}
	}
	return out
}
