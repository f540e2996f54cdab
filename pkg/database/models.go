package database

import (
	"fmt"
	"time"

	"github.com/nicacher/nicacher/pkg/narinfo"
	"github.com/nicacher/nicacher/pkg/upstream"
)

// Status is a hash's position in the per-artifact lifecycle state machine.
type Status string

const (
	StatusNotAvailable Status = "not_available"
	StatusFetching     Status = "fetching"
	StatusAvailable    Status = "available"
	StatusPurging      Status = "purging"
)

// ParseStatus validates s against the closed set of lifecycle statuses.
func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusNotAvailable, StatusFetching, StatusAvailable, StatusPurging:
		return Status(s), nil
	default:
		return "", fmt.Errorf("database: unknown status %q", s)
	}
}

// Entry is a LifecycleRow: the per-hash state machine record.
type Entry struct {
	Hash         string
	Status       Status
	LastCached   time.Time
	LastAccessed *time.Time
}

// JobKind identifies what a Job does when dispatched.
type JobKind string

const (
	JobCacheNar JobKind = "cache_nar"
	JobPurgeNar JobKind = "purge_nar"
	JobPeriodic JobKind = "periodic"
)

// JobState tracks a Job through the durable queue.
type JobState string

const (
	JobQueued  JobState = "queued"
	JobRunning JobState = "running"
	JobDone    JobState = "done"
	JobFailed  JobState = "failed"
)

// Job is a durable row driving one dispatcher execution of CacheNar or
// PurgeNar (or the reserved Periodic sweep).
type Job struct {
	ID        string
	Kind      JobKind
	Hash      string
	Force     bool
	State     JobState
	Attempts  int
	LastError string
	RunAfter  time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

// descriptorRow is the hash+Descriptor+Upstream tuple as stored, before
// being reassembled into narinfo.Descriptor and upstream.Upstream values.
type descriptorRow struct {
	Hash           string
	StorePath      string
	URL            string
	Compression    string
	FileHashMethod string
	FileHash       string
	FileSize       uint64
	NarHashMethod  string
	NarHash        string
	NarSize        uint64
	Deriver        *string
	System         *string
	Refs           string
	Signature      *string
	UpstreamURL    string
}

func toDescriptorRow(hash string, d narinfo.Descriptor, up upstream.Upstream) descriptorRow {
	row := descriptorRow{
		Hash:           hash,
		StorePath:      d.StorePath.String(),
		URL:            d.URL,
		Compression:    d.Compression.String(),
		FileHashMethod: d.FileHash.Method,
		FileHash:       d.FileHash.Digest,
		FileSize:       d.FileSize,
		NarHashMethod:  d.NarHash.Method,
		NarHash:        d.NarHash.Digest,
		NarSize:        d.NarSize,
		Refs:           narinfo.FormatDerivations(d.References),
		UpstreamURL:    up.String(),
	}

	if d.Deriver != nil {
		s := d.Deriver.String()
		row.Deriver = &s
	}

	if d.System != "" {
		s := d.System
		row.System = &s
	}

	if d.Sig != "" {
		s := d.Sig
		row.Signature = &s
	}

	return row
}

func (row descriptorRow) toDescriptor(storeRoot string) (narinfo.Descriptor, error) {
	sp, err := narinfo.ParseStorePath(row.StorePath, storeRoot)
	if err != nil {
		return narinfo.Descriptor{}, fmt.Errorf("database: error parsing stored StorePath: %w", err)
	}

	compression, err := narinfo.ParseCompressionType(row.Compression)
	if err != nil {
		return narinfo.Descriptor{}, fmt.Errorf("database: error parsing stored Compression: %w", err)
	}

	refs, err := narinfo.ParseDerivations(row.Refs)
	if err != nil {
		return narinfo.Descriptor{}, fmt.Errorf("database: error parsing stored References: %w", err)
	}

	d := narinfo.Descriptor{
		StorePath:   sp,
		URL:         row.URL,
		Compression: compression,
		FileHash:    narinfo.Hash{Method: row.FileHashMethod, Digest: row.FileHash},
		FileSize:    row.FileSize,
		NarHash:     narinfo.Hash{Method: row.NarHashMethod, Digest: row.NarHash},
		NarSize:     row.NarSize,
		References:  refs,
	}

	if row.Deriver != nil {
		dv, err := narinfo.ParseDerivation(*row.Deriver)
		if err != nil {
			return narinfo.Descriptor{}, fmt.Errorf("database: error parsing stored Deriver: %w", err)
		}

		d.Deriver = &dv
	}

	if row.System != nil {
		d.System = *row.System
	}

	if row.Signature != nil {
		d.Sig = *row.Signature
	}

	return d, nil
}
