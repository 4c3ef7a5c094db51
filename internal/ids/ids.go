// Package ids generates request identifiers.
package ids

import "github.com/oklog/ulid/v2"

// New returns a ULID string. Identifiers from one process sort by creation time.
func New() string {
	return ulid.Make().String()
}
