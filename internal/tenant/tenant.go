package tenant

import (
	"errors"
	"net/http"
	"regexp"
	"strings"
)

// Trip records are partitioned per user: each identity gets its own table
// named PartitionPrefix + identity. Requests without a usable identity may
// still read the legacy shared partition, but never write anywhere.

const (
	// PartitionPrefix prefixes every per-user trip table.
	PartitionPrefix = "trip_records_"
	// SharedPartition is the legacy pre-partitioning table, kept as a
	// read-only fallback for unauthenticated requests.
	SharedPartition = "trip_records"
)

// identityHeaders are checked in order; the first non-empty value wins.
var identityHeaders = []string{"X-Usuario", "X-User", "Usuario"}

var identityPattern = regexp.MustCompile(`^[a-z0-9_-]+$`)

// ErrUnauthenticated is returned when a write operation arrives without a
// valid identity.
var ErrUnauthenticated = errors.New("authentication required: provide a username header")

// Normalize trims and lowercases a claimed identity and returns "" when
// the result is not a safe partition name component.
func Normalize(raw string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	if !identityPattern.MatchString(s) {
		return ""
	}
	return s
}

// Identify extracts the claimed identity for a request: identity headers
// first, then the supplied body username, then the query parameter.
// Returns "" when nothing usable was provided.
func Identify(r *http.Request, bodyUsername string) string {
	for _, h := range identityHeaders {
		if v := r.Header.Get(h); v != "" {
			if id := Normalize(v); id != "" {
				return id
			}
		}
	}
	if id := Normalize(bodyUsername); id != "" {
		return id
	}
	return Normalize(r.URL.Query().Get("username"))
}

// Partition returns the table name for an identity's private partition.
func Partition(identity string) string {
	return PartitionPrefix + identity
}

// Resolve maps a request to the partition its records live in. Reads
// without an identity fall back to the shared partition; writes without
// an identity are rejected with ErrUnauthenticated.
func Resolve(r *http.Request, bodyUsername string, write bool) (string, error) {
	id := Identify(r, bodyUsername)
	if id == "" {
		if write {
			return "", ErrUnauthenticated
		}
		return SharedPartition, nil
	}
	return Partition(id), nil
}
