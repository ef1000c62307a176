package util

import (
	"path"
	"strings"
	"time"
)

// Timestamp renders when as an ISO-8601 UTC instant that is safe in file and
// object names: ':' and '.' become '-'.
func Timestamp(when time.Time) string {
	s := when.UTC().Format("2006-01-02T15:04:05.000Z")
	return strings.NewReplacer(":", "-", ".", "-").Replace(s)
}

// BuildSnapshotPrefix returns <prefix>/<env>-<timestamp>.
func BuildSnapshotPrefix(prefix, env string, when time.Time) string {
	return joinKey(prefix, env+"-"+Timestamp(when))
}

// BuildObjectKey joins a prefix and a file name into a normalized key.
func BuildObjectKey(prefix, name string) string {
	return joinKey(prefix, name)
}

// BuildLogKey returns <prefix>/migration-<source>-to-<target>-<timestamp><suffix>.json.
func BuildLogKey(prefix, source, target string, when time.Time, suffix string) string {
	return joinKey(prefix, "migration-"+source+"-to-"+target+"-"+Timestamp(when)+suffix+".json")
}

func joinKey(prefix, name string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return name
	}
	return path.Join(prefix, name)
}
