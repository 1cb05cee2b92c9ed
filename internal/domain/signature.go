package domain

import (
	"encoding/hex"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// CellSignature computes the dedup key for a cell: the hex BLAKE2b-256 digest
// of the "role:memberID" pairs sorted lexicographically by role, then by
// member id. The same multiset of refs always yields the same signature.
func CellSignature(refs []CellRefSpec) string {
	pairs := make([]struct {
		role   string
		member int64
	}, 0, len(refs))
	for _, r := range refs {
		pairs = append(pairs, struct {
			role   string
			member int64
		}{string(r.Role), r.EntitySetMemberID})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].role != pairs[j].role {
			return pairs[i].role < pairs[j].role
		}
		return pairs[i].member < pairs[j].member
	})
	parts := make([]string, 0, len(pairs))
	for _, p := range pairs {
		parts = append(parts, p.role+":"+strconv.FormatInt(p.member, 10))
	}
	sum := blake2b.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}
