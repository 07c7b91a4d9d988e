package sweeper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/DukeRupert/gambit/internal/domain"
	"github.com/DukeRupert/gambit/internal/storage"
)

// archiveRecord is one line of a sweep archive.
type archiveRecord struct {
	IdentityKind string    `json:"identity_kind"`
	Identity     string    `json:"identity"`
	PeriodKey    string    `json:"period_key"`
	ImportsUsed  int       `json:"imports_used"`
	AnalysesUsed int       `json:"analyses_used"`
	WindowAnchor time.Time `json:"window_anchor"`
	UpdatedAt    time.Time `json:"updated_at"`
	ClaimedBy    string    `json:"claimed_by,omitempty"`
	SweptAt      time.Time `json:"swept_at"`
}

func newArchiveRecord(p domain.ConsumptionPeriod, sweptAt time.Time) archiveRecord {
	rec := archiveRecord{
		IdentityKind: p.Identity.Kind.String(),
		Identity:     p.Identity.ID(),
		PeriodKey:    p.PeriodKey,
		ImportsUsed:  p.ImportsUsed,
		AnalysesUsed: p.AnalysesUsed,
		WindowAnchor: p.WindowAnchor.UTC(),
		UpdatedAt:    p.UpdatedAt.UTC(),
		SweptAt:      sweptAt.UTC(),
	}
	if p.ClaimedBy != nil {
		rec.ClaimedBy = p.ClaimedBy.ID()
	}
	return rec
}

// encodeArchive renders periods as JSON lines.
func encodeArchive(periods []domain.ConsumptionPeriod, sweptAt time.Time) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, p := range periods {
		if err := enc.Encode(newArchiveRecord(p, sweptAt)); err != nil {
			return nil, fmt.Errorf("encode period %s: %w", p.Identity.Key(), err)
		}
	}
	return buf.Bytes(), nil
}

// writeArchive stores periods under a fresh archive key and returns the key.
func writeArchive(ctx context.Context, store storage.Storage, periods []domain.ConsumptionPeriod, sweptAt time.Time) (string, error) {
	body, err := encodeArchive(periods, sweptAt)
	if err != nil {
		return "", err
	}

	key := storage.ArchiveKey(sweptAt)
	if err := store.Put(ctx, key, bytes.NewReader(body), storage.PutOptions{
		ContentType: storage.ArchiveContentType,
	}); err != nil {
		return "", fmt.Errorf("write archive: %w", err)
	}

	if err := verifyArchive(ctx, store, key, int64(len(body))); err != nil {
		if derr := store.Delete(ctx, key); derr != nil {
			return "", errors.Join(err, fmt.Errorf("remove unverified archive: %w", derr))
		}
		return "", err
	}
	return key, nil
}

// verifyArchive reads back the stored object's metadata. Periods are deleted
// only once the archive is known to hold every byte written.
func verifyArchive(ctx context.Context, store storage.Storage, key string, size int64) error {
	rc, info, err := store.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("verify archive: %w", err)
	}
	rc.Close()

	if info.Size != size {
		return fmt.Errorf("verify archive: stored %d bytes, wrote %d", info.Size, size)
	}
	return nil
}
