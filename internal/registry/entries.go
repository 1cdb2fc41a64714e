package registry

import "github.com/chskio/chsk/internal/adapter"

// EntryInfo is a snapshot of one (transport,uid,cid) row, used by the
// keep-alive sweep and housekeeping.
type EntryInfo struct {
	UID string
	CID string
	UDT int64
	Sch adapter.ServerChannel
}

// StillAttached reports whether (transport,uid,cid) still carries exactly
// the given sch/udt pair, used to guard scheduled long-poll timeouts
// against a connection that has since been cleared or reattached.
func (r *Registry) StillAttached(transport Transport, uid, cid string, expectedSch adapter.ServerChannel, expectedUDT int64) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[transport][uid][cid]
	return ok && e.sch == expectedSch && e.udt == expectedUDT
}

// Entries returns a point-in-time copy of every row under transport.
func (r *Registry) Entries(transport Transport) []EntryInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []EntryInfo
	for uid, byCID := range r.conns[transport] {
		for cid, e := range byCID {
			out = append(out, EntryInfo{UID: uid, CID: cid, UDT: e.udt, Sch: e.sch})
		}
	}
	return out
}
