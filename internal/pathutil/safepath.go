// Package pathutil rejects document and asset paths that could climb out of
// their root.
package pathutil

import "strings"

// HasDotSegments reports whether any "/" separated segment of p is "." or "..".
func HasDotSegments(p string) bool {
	for seg := range strings.SplitSeq(p, "/") {
		if seg == "." || seg == ".." {
			return true
		}
	}
	return false
}
