// Canonical path form used as the only key type throughout tapevault.
//
// macOS filesystems store filenames NFD-decomposed while LTFS (and most Linux
// filesystems) store them NFC-composed, so the same visible name can arrive
// as two different byte sequences depending on which side of the transfer we
// read it from. Comparing un-normalized paths would misreport present files
// as missing during verification.
package canonpath

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// normalizes path text to NFC and forward slashes. Idempotent.
func Canonicalize(path string) string {
	return norm.NFC.String(backslashesToForwardSlashes(path))
}

// relative path -> path components, for per-segment matching
func Segments(canonicalPath string) []string {
	return strings.Split(canonicalPath, "/")
}

// this is needed because filepath.Rel() returns \ on Windows
func backslashesToForwardSlashes(in string) string {
	return strings.Replace(in, `\`, "/", -1)
}
