package cacheserver

import (
	"crypto/md5"
	"encoding/binary"
	"net/url"
	"strings"

	"github.com/grafana/olivehc/internal/dynhash"
)

// Fingerprint computes the spec.md §4.F request key: MD5 over the
// concatenation of the URL-decoded path (optionally stripped of its
// query string), optionally the Host header, and optionally the OHC-Key
// header, in that fixed order. MD5 is mandated by the spec's wire/on-
// disk contract, not a style choice — it is never replaced by the
// repo's general-purpose xxhash dependency (see DESIGN.md).
func Fingerprint(keys KeyPolicy, rawPath, host, ohcKey string) dynhash.ID {
	path := rawPath
	if !keys.IncludeQuery {
		if i := strings.IndexByte(path, '?'); i >= 0 {
			path = path[:i]
		}
	}
	if decoded, err := url.PathUnescape(path); err == nil {
		path = decoded
	}

	h := md5.New()
	h.Write([]byte(path))
	if keys.IncludeHost {
		h.Write([]byte(host))
	}
	if keys.IncludeOHCKey {
		h.Write([]byte(ohcKey))
	}
	sum := h.Sum(nil)

	return dynhash.ID{
		Hi: binary.BigEndian.Uint64(sum[0:8]),
		Lo: binary.BigEndian.Uint64(sum[8:16]),
	}
}
