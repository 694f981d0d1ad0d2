package histogram

import (
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// hashBucketRequest pre-hashes a BucketRequest into a single cache
// key so the partial/complete LRUs' internal map comparisons stay
// cheap even for requests with large filter trees.
func hashBucketRequest(req BucketRequest) uint64 {
	h := xxhash.New()
	h.WriteString(strconv.FormatInt(req.Start, 10))
	h.Write([]byte{0})
	h.WriteString(strconv.FormatInt(req.End, 10))
	h.Write([]byte{0})
	for _, f := range req.Facets {
		h.WriteString(string(f))
		h.Write([]byte{0})
	}
	h.WriteString(req.Filter.Canonical())
	return h.Sum64()
}
