// Package registry watches one or more journal directories and
// maintains a time-ordered index of the journal files found there.
package registry

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// StatusKind discriminates a journal file's lifecycle status.
type StatusKind int

const (
	StatusActive StatusKind = iota
	StatusArchived
	StatusDisposed
)

// Status carries the fields relevant to its StatusKind.
type Status struct {
	Kind StatusKind

	// Archived
	SeqnumID     uuid.UUID
	HeadSeqnum   uint64
	HeadRealtime uint64

	// Disposed
	Timestamp uint64
	Number    uint64
}

// SourceKind discriminates a journal file's origin.
type SourceKind int

const (
	SourceSystem SourceKind = iota
	SourceUser
	SourceRemote
	SourceUnknown
)

// Source carries the fields relevant to its SourceKind.
type Source struct {
	Kind SourceKind
	UID  uint32 // SourceUser
	Host string // SourceRemote or SourceUnknown (basename verbatim)
}

// Origin is the directory-derived part of a parsed path: machine id,
// optional namespace, and the basename-derived source.
type Origin struct {
	MachineID uuid.UUID
	HasMachineID bool
	Namespace    string
	HasNamespace bool
	Source       Source
}

// File is a fully parsed journal file path.
type File struct {
	Path   string
	Origin Origin
	Status Status
}

// IsActive reports whether the file is still being written to.
func (f File) IsActive() bool { return f.Status.Kind == StatusActive }

// IsArchived reports whether the file has been rotated out.
func (f File) IsArchived() bool { return f.Status.Kind == StatusArchived }

// IsDisposed reports whether the file is a disposed/corrupted tombstone.
func (f File) IsDisposed() bool { return f.Status.Kind == StatusDisposed }

// Parse parses an absolute journal file path into a File, returning
// ok=false on any grammar violation (wrong field count, bad hex width,
// non-hex characters, malformed UUID) rather than an error: a
// malformed path simply means the file is excluded from the registry.
func Parse(path string) (File, bool) {
	if !strings.HasPrefix(path, "/") {
		return File{}, false
	}

	status, rest, ok := parseStatus(path)
	if !ok {
		return File{}, false
	}
	source, rest, ok := parseSource(rest)
	if !ok {
		return File{}, false
	}
	origin := Origin{Source: source}
	if rest != "" {
		dir := rest
		if idx := strings.LastIndex(rest, "/"); idx >= 0 {
			dir = rest[idx+1:]
		}
		if id, ns, hasNS := strings.Cut(dir, "."); hasNS {
			machineID, err := uuid.Parse(id)
			if err != nil {
				return File{}, false
			}
			origin.MachineID = machineID
			origin.HasMachineID = true
			origin.Namespace = ns
			origin.HasNamespace = true
		} else if machineID, err := uuid.Parse(dir); err == nil {
			origin.MachineID = machineID
			origin.HasMachineID = true
		}
	}

	return File{Path: path, Origin: origin, Status: status}, true
}

func parseStatus(path string) (Status, string, bool) {
	if stem, ok := strings.CutSuffix(path, ".journal"); ok {
		prefix, suffix, hasAt := cutLast(stem, "@")
		if !hasAt {
			return Status{Kind: StatusActive}, stem, true
		}
		parts := strings.Split(suffix, "-")
		if len(parts) != 3 {
			return Status{}, "", false
		}
		seqnumID, err := uuid.Parse(parts[0])
		if err != nil {
			return Status{}, "", false
		}
		headSeqnum, ok := parseHex16(parts[1])
		if !ok {
			return Status{}, "", false
		}
		headRealtime, ok := parseHex16(parts[2])
		if !ok {
			return Status{}, "", false
		}
		return Status{
			Kind:         StatusArchived,
			SeqnumID:     seqnumID,
			HeadSeqnum:   headSeqnum,
			HeadRealtime: headRealtime,
		}, prefix, true
	}

	if stem, ok := strings.CutSuffix(path, ".journal~"); ok {
		prefix, suffix, hasAt := cutLast(stem, "@")
		if !hasAt {
			return Status{}, "", false
		}
		ts, num, hasDash := cutLast(suffix, "-")
		if !hasDash {
			return Status{}, "", false
		}
		timestamp, ok := parseHex16(ts)
		if !ok {
			return Status{}, "", false
		}
		number, ok := parseHex16(num)
		if !ok {
			return Status{}, "", false
		}
		return Status{Kind: StatusDisposed, Timestamp: timestamp, Number: number}, prefix, true
	}

	return Status{}, "", false
}

func parseSource(path string) (Source, string, bool) {
	dirPath, basename, ok := cutLast(path, "/")
	if !ok {
		return Source{}, "", false
	}
	switch {
	case basename == "system":
		return Source{Kind: SourceSystem}, dirPath, true
	case strings.HasPrefix(basename, "user-"):
		uidStr := strings.TrimPrefix(basename, "user-")
		if uid, err := strconv.ParseUint(uidStr, 10, 32); err == nil {
			return Source{Kind: SourceUser, UID: uint32(uid)}, dirPath, true
		}
		return Source{Kind: SourceUnknown, Host: basename}, dirPath, true
	case strings.HasPrefix(basename, "remote-"):
		host := strings.TrimPrefix(basename, "remote-")
		return Source{Kind: SourceRemote, Host: host}, dirPath, true
	default:
		return Source{Kind: SourceUnknown, Host: basename}, dirPath, true
	}
}

// cutLast splits s on the last occurrence of sep, mirroring Rust's
// rsplit_once.
func cutLast(s, sep string) (before, after string, ok bool) {
	idx := strings.LastIndex(s, sep)
	if idx < 0 {
		return "", "", false
	}
	return s[:idx], s[idx+len(sep):], true
}

func parseHex16(s string) (uint64, bool) {
	if len(s) != 16 {
		return 0, false
	}
	v, err := strconv.ParseUint(s, 16, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// ArchivedName computes the exact archived basename for a file whose
// prefix (e.g. "system", "user-1000") is known. The seqnum id is
// encoded as 32 lowercase hex digits with no dashes, matching
// parseStatus's 3-part dash split.
func ArchivedName(prefix string, seqnumID uuid.UUID, headSeqnum, headRealtime uint64) string {
	return fmt.Sprintf("%s@%s-%016x-%016x.journal", prefix, hex.EncodeToString(seqnumID[:]), headSeqnum, headRealtime)
}

// DisposedName computes the exact disposed basename.
func DisposedName(prefix string, timestamp, number uint64) string {
	return fmt.Sprintf("%s@%016x-%016x.journal~", prefix, timestamp, number)
}

// ActiveName computes the active basename.
func ActiveName(prefix string) string {
	return prefix + ".journal"
}
