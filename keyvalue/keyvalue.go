// Package keyvalue holds the string pairs attached to diagnostic messages.
package keyvalue

// T is a key/value pair of log context.
type T struct {
	Key   string
	Value string
}

// KV creates a key/value pair.
func KV(k, v string) T {
	return T{Key: k, Value: v}
}
