package backend

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
)

func bytesToEtag(b []byte) string {
	hash := md5.Sum(b)
	return "\"" + hex.EncodeToString(hash[:]) + "\""
}

func bytesPlusTotalCountToEtag(b []byte, totalCount int) string {
	hash := md5.Sum(append(b, []byte(fmt.Sprintf("%d", totalCount))...))
	return "\"" + hex.EncodeToString(hash[:]) + "\""
}

// ifNoneMatchFound returns true if etag is found in ifNoneMatch. The format of ifNoneMatch is one
// of the following:
// If-None-Match: "<etag_value>"
// If-None-Match: "<etag_value>", "<etag_value>", ...
// If-None-Match: *
func ifNoneMatchFound(ifNoneMatch, etag string) bool {
	ifNoneMatch = strings.Trim(ifNoneMatch, " ")
	if len(ifNoneMatch) == 0 {
		return false
	}
	if ifNoneMatch == "*" {
		return true
	}
	for _, s := range strings.Split(ifNoneMatch, ",") {
		s = strings.Trim(s, " \"")
		t := strings.Trim(etag, " \"")
		if s == t {
			return true
		}
	}
	return false
}
