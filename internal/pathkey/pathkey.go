// Package pathkey builds the cache keys shared by alias visibility records
// and per-instance override lookups. Writers and invalidators must both go
// through Join or lookups silently miss.
package pathkey

// Join returns path when name is empty and path + "/" + name otherwise.
func Join(path, name string) string {
	if name == "" {
		return path
	}
	return path + "/" + name
}
