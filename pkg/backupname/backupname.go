// Package backupname is the single place that knows how a backup copy's name
// carries its timestamp: <stem>_<YYYYMMDDHHMMSS><ext>.
//
// The stem and extension follow the usual "last dot" rule, except that leading
// dots belong to the stem, so ".bashrc" has no extension and "a.tar.gz" has
// the extension ".gz".
package backupname

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// TimestampLayout is the time.Format layout of the timestamp token.
const TimestampLayout = "20060102150405"

const tokenLen = len(TimestampLayout)

// ErrUnparseableBackupName is returned when a name carries no valid timestamp token.
var ErrUnparseableBackupName = errors.New("unparseable backup name")

// Name is a decoded backup file name.
type Name struct {
	Stem      string
	Ext       string
	Timestamp time.Time
}

// Original returns the source file name the backup was made from.
func (n Name) Original() string {
	return n.Stem + n.Ext
}

// String re-encodes the name.
func (n Name) String() string {
	return Encode(n.Original(), n.Timestamp)
}

// SplitExt splits a file name into stem and extension. Leading dots are part
// of the stem.
func SplitExt(name string) (stem, ext string) {
	i := strings.LastIndexByte(name, '.')
	if i <= 0 {
		return name, ""
	}
	if strings.TrimLeft(name[:i], ".") == "" {
		return name, ""
	}
	return name[:i], name[i:]
}

// Encode returns the backup name for the file base name taken at t.
// The timestamp is rendered in t's own location at second resolution.
func Encode(base string, t time.Time) string {
	stem, ext := SplitExt(base)
	return stem + "_" + t.Format(TimestampLayout) + ext
}

// Decode parses a backup name, interpreting the timestamp in the local time zone.
func Decode(name string) (Name, error) {
	return DecodeIn(name, time.Local)
}

// DecodeIn parses a backup name, interpreting the timestamp in loc.
// The timestamp token is the rightmost "_" followed by exactly fourteen digits
// and then either the end of the name or a dot.
func DecodeIn(name string, loc *time.Location) (Name, error) {
	for i := strings.LastIndexByte(name, '_'); i >= 0; i = strings.LastIndexByte(name[:i], '_') {
		start := i + 1
		end := start + tokenLen
		if end > len(name) {
			continue
		}
		if end < len(name) && name[end] != '.' {
			continue
		}
		token := name[start:end]
		if !allDigits(token) {
			continue
		}
		ts, err := time.ParseInLocation(TimestampLayout, token, loc)
		if err != nil {
			continue
		}
		return Name{Stem: name[:i], Ext: name[end:], Timestamp: ts}, nil
	}
	return Name{}, fmt.Errorf("%w: %q", ErrUnparseableBackupName, name)
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
