package store

import "sort"

// iterateSorted walks m in ascending key order; all map iteration must
// be by sorted key for determinism.
func iterateSorted(m map[string][]byte, fn func(key, value []byte) (bool, error)) error {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		cont, err := fn([]byte(k), m[k])
		if err != nil {
			return err
		}
		if !cont {
			return nil
		}
	}
	return nil
}
