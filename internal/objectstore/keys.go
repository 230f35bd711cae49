package objectstore

import (
	"path"
	"strings"
)

// Key builds "<prefix>/<partition>=<value>/<id><suffix>". An empty prefix is omitted.
func Key(prefix, partition, value, id, suffix string) string {
	leaf := partition + "=" + value
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return path.Join(leaf, id+suffix)
	}
	return path.Join(prefix, leaf, id+suffix)
}
