package httpapi

import (
	"time"

	"github.com/BrandonDHaskell/Portunus/relay/internal/archive"
	"github.com/BrandonDHaskell/Portunus/relay/internal/authtable"
)

// ── Table ────────────────────────────────────────────────────────────────────

type entryView struct {
	Index      int    `json:"index"`
	TagID      string `json:"tag_id"`
	Authorized bool   `json:"authorized"`
}

func entryToView(e authtable.Entry) entryView {
	return entryView{Index: e.Index, TagID: e.Tag.String(), Authorized: e.Authorized}
}

// ── Events ───────────────────────────────────────────────────────────────────

type eventView struct {
	BatchID      string `json:"batch_id"`
	Seq          int    `json:"seq"`
	Type         string `json:"type"`
	TagID        string `json:"tag_id"`
	ElapsedTicks uint32 `json:"elapsed_ticks"`
	EstimatedAt  string `json:"estimated_at"`
	ArchivedAt   string `json:"archived_at"`
}

type batchView struct {
	BatchID  string      `json:"batch_id,omitempty"`
	Archived bool        `json:"archived"`
	Events   []eventView `json:"events"`
}

func recordToView(r archive.Record) eventView {
	return eventView{
		BatchID:      r.BatchID.String(),
		Seq:          r.Seq,
		Type:         r.Type.String(),
		TagID:        r.TagID.String(),
		ElapsedTicks: r.ElapsedTicks,
		EstimatedAt:  r.EstimatedAt.UTC().Format(time.RFC3339Nano),
		ArchivedAt:   r.ArchivedAt.UTC().Format(time.RFC3339Nano),
	}
}

func batchToView(b archive.Batch, archived bool) batchView {
	v := batchView{Archived: archived, Events: make([]eventView, 0, len(b.Records))}
	if len(b.Records) > 0 {
		v.BatchID = b.ID.String()
	}
	for _, r := range b.Records {
		v.Events = append(v.Events, recordToView(r))
	}
	return v
}
