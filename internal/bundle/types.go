package bundle

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Identity is the deterministic key of a bundle's logical slot across
// versions. Built by the identity package; never constructed by hand outside
// tests.
type Identity string

// String returns the identity as a plain string.
func (id Identity) String() string { return string(id) }

// ArtifactKind names one artifact slot of a bundle.
type ArtifactKind string

const (
	// KindConfig is the structured JSON config. Stored in the record store.
	KindConfig ArtifactKind = "config"

	// KindPrimary is the primary text/query file. Stored in the blob store.
	KindPrimary ArtifactKind = "primary"

	// KindTemplate is the optional template file. Stored in the blob store.
	KindTemplate ArtifactKind = "template"
)

// Kinds lists every artifact kind in canonical order.
var Kinds = []ArtifactKind{KindConfig, KindPrimary, KindTemplate}

// BlobKinds lists the artifact kinds stored in the blob store.
var BlobKinds = []ArtifactKind{KindPrimary, KindTemplate}

// Valid reports whether k is a known artifact kind.
func (k ArtifactKind) Valid() bool {
	switch k {
	case KindConfig, KindPrimary, KindTemplate:
		return true
	}
	return false
}

// Required reports whether every bundle must carry an artifact of this kind.
func (k ArtifactKind) Required() bool {
	return k == KindConfig || k == KindPrimary
}

// ArtifactSet is an immutable map from artifact kind to a value.
// The zero value is an empty set.
type ArtifactSet[T comparable] struct {
	m map[ArtifactKind]T
}

// NewArtifactSet copies m into a new set.
func NewArtifactSet[T comparable](m map[ArtifactKind]T) ArtifactSet[T] {
	cp := make(map[ArtifactKind]T, len(m))
	for k, v := range m {
		cp[k] = v
	}
	return ArtifactSet[T]{m: cp}
}

// Get returns the value for kind and whether it is present.
func (s ArtifactSet[T]) Get(kind ArtifactKind) (T, bool) {
	v, ok := s.m[kind]
	return v, ok
}

// Has reports whether kind is present.
func (s ArtifactSet[T]) Has(kind ArtifactKind) bool {
	_, ok := s.m[kind]
	return ok
}

// Len returns the number of kinds present.
func (s ArtifactSet[T]) Len() int { return len(s.m) }

// Kinds returns the present kinds in canonical order.
func (s ArtifactSet[T]) Kinds() []ArtifactKind {
	kinds := make([]ArtifactKind, 0, len(s.m))
	for _, k := range Kinds {
		if _, ok := s.m[k]; ok {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// Map returns a copy of the underlying map.
func (s ArtifactSet[T]) Map() map[ArtifactKind]T {
	cp := make(map[ArtifactKind]T, len(s.m))
	for k, v := range s.m {
		cp[k] = v
	}
	return cp
}

// With returns a new set with kind set to v.
func (s ArtifactSet[T]) With(kind ArtifactKind, v T) ArtifactSet[T] {
	cp := s.Map()
	cp[kind] = v
	return ArtifactSet[T]{m: cp}
}

// Diff returns the kinds whose values differ between s and other, including
// kinds present on only one side, in canonical order.
func (s ArtifactSet[T]) Diff(other ArtifactSet[T]) []ArtifactKind {
	var changed []ArtifactKind
	for _, k := range Kinds {
		a, okA := s.m[k]
		b, okB := other.m[k]
		if okA != okB || a != b {
			changed = append(changed, k)
		}
	}
	return changed
}

// Equal reports whether both sets hold the same kinds with the same values.
func (s ArtifactSet[T]) Equal(other ArtifactSet[T]) bool {
	return len(s.Diff(other)) == 0
}

// MarshalJSON encodes the set as a JSON object keyed by kind.
func (s ArtifactSet[T]) MarshalJSON() ([]byte, error) {
	if s.m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(s.m)
}

// UnmarshalJSON decodes a JSON object keyed by kind. Unknown kinds are rejected.
func (s *ArtifactSet[T]) UnmarshalJSON(data []byte) error {
	var m map[ArtifactKind]T
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}
	for k := range m {
		if !k.Valid() {
			return fmt.Errorf("unknown artifact kind %q", k)
		}
	}
	*s = NewArtifactSet(m)
	return nil
}

// Checksums maps artifact kind to a prefixed digest ("sha256:<hex>").
type Checksums = ArtifactSet[string]

// Sizes maps artifact kind to a byte length.
type Sizes = ArtifactSet[int64]

// References maps artifact kind to the store handle holding the artifact:
// a config reference in the record store or a blob handle in the blob store.
type References = ArtifactSet[string]

// Filenames maps artifact kind to the caller-supplied file name.
type Filenames = ArtifactSet[string]

// Audit actions.
const (
	ActionCreated     = "CREATED"
	ActionModified    = "MODIFIED"
	ActionDeactivated = "DEACTIVATED"
	ActionReactivated = "REACTIVATED"
)

// AuditEntry is one line of a record's audit trail.
type AuditEntry struct {
	Action string    `json:"action"`
	At     time.Time `json:"timestamp"`
	Detail string    `json:"details"`
}

// AuditLog is an append-only, immutable sequence of audit entries.
type AuditLog struct {
	entries []AuditEntry
}

// NewAuditLog builds a log from entries (copied).
func NewAuditLog(entries ...AuditEntry) AuditLog {
	cp := make([]AuditEntry, len(entries))
	copy(cp, entries)
	return AuditLog{entries: cp}
}

// Append returns a new log with e added at the end.
func (l AuditLog) Append(e AuditEntry) AuditLog {
	cp := make([]AuditEntry, len(l.entries), len(l.entries)+1)
	copy(cp, l.entries)
	return AuditLog{entries: append(cp, e)}
}

// Entries returns a copy of the entries in order.
func (l AuditLog) Entries() []AuditEntry {
	cp := make([]AuditEntry, len(l.entries))
	copy(cp, l.entries)
	return cp
}

// Len returns the number of entries.
func (l AuditLog) Len() int { return len(l.entries) }

// Last returns the most recent entry.
func (l AuditLog) Last() (AuditEntry, bool) {
	if len(l.entries) == 0 {
		return AuditEntry{}, false
	}
	return l.entries[len(l.entries)-1], true
}

// Actions returns the action tags in order.
func (l AuditLog) Actions() []string {
	out := make([]string, len(l.entries))
	for i, e := range l.entries {
		out[i] = e.Action
	}
	return out
}

// MarshalJSON encodes the log as a JSON array.
func (l AuditLog) MarshalJSON() ([]byte, error) {
	if l.entries == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l.entries)
}

// UnmarshalJSON decodes a JSON array of entries.
func (l *AuditLog) UnmarshalJSON(data []byte) error {
	var entries []AuditEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	*l = NewAuditLog(entries...)
	return nil
}

// Record is one version of a bundle.
type Record struct {
	// ID is assigned by the record store on insert.
	ID int64 `json:"id"`

	Identity    Identity `json:"identity"`
	OwnerID     string   `json:"owner_id"`
	Region      string   `json:"region"`
	Scheme      string   `json:"scheme"`
	Name        string   `json:"name"`
	OutFileName string   `json:"out_file_name"`

	Filenames  Filenames  `json:"original_files"`
	References References `json:"file_references"`
	Checksums  Checksums  `json:"checksums"`
	Sizes      Sizes      `json:"file_sizes"`

	CreatedAt time.Time `json:"uploaded_at"`
	Active    bool      `json:"active"`
	Version   int       `json:"version"`
	Audit     AuditLog  `json:"audit_log"`
}

// ConfigDocument is the structured config artifact as stored in the record
// store, versioned in lock-step with its owning record.
type ConfigDocument struct {
	Identity   Identity
	Version    int
	Checksum   string
	Document   []byte // canonical JSON
	UploadedAt time.Time
}

// Artifact is one caller-supplied artifact.
type Artifact struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Input is everything the coordinator needs to write one bundle.
//
// Name and OutFileName are optional: when empty they are taken from the
// config document's "name" and "outFileName" fields. When given they must
// agree with the config.
type Input struct {
	OwnerID     string `validate:"required,nonblank"`
	Scheme      string `validate:"required,nonblank"`
	Region      string `validate:"required,nonblank"`
	Name        string
	OutFileName string

	Artifacts map[ArtifactKind]Artifact `validate:"required"`
}

// Label returns a short human label for logs and seed reports.
func (in Input) Label() string {
	if in.OwnerID != "" {
		return in.OwnerID
	}
	return in.Scheme + "/" + in.Region
}

// BlobPut describes a blob write.
type BlobPut struct {
	Filename    string
	ContentType string
	Metadata    map[string]string
	Data        []byte
}

// Blob is a stored blob with its descriptive attributes.
type Blob struct {
	Handle      string
	Filename    string
	ContentType string
	Metadata    map[string]string
	Size        int64
	Data        []byte
}

// Outcome is the decision taken for a bundle write.
type Outcome string

const (
	OutcomeCreated  Outcome = "CREATED"
	OutcomeSkipped  Outcome = "SKIPPED"
	OutcomeModified Outcome = "MODIFIED"
)

// Summary describes the record a write produced or matched.
type Summary struct {
	Identity        Identity       `json:"identity"`
	Version         int            `json:"version"`
	PreviousVersion int            `json:"previous_version,omitempty"`
	Changed         []ArtifactKind `json:"changed,omitempty"`
	References      References     `json:"file_references"`
	Checksums       Checksums      `json:"checksums"`
}

// SortKinds sorts kinds into canonical order in place.
func SortKinds(kinds []ArtifactKind) {
	rank := func(k ArtifactKind) int {
		for i, c := range Kinds {
			if c == k {
				return i
			}
		}
		return len(Kinds)
	}
	sort.SliceStable(kinds, func(i, j int) bool { return rank(kinds[i]) < rank(kinds[j]) })
}
