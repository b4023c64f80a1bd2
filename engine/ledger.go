package engine

import (
	"fmt"
	"time"

	"github.com/c360studio/veriflow/verify"
)

// Ledger is the append-only commit log: every accepted level transition,
// upgrade or forced downgrade, lands here with a strictly increasing
// global sequence number and a content hash chained to its predecessor.
// Records are never mutated or deleted.
//
// The engine mutex guards all access; the ledger itself is plain state.
type Ledger struct {
	records []verify.CommitRecord
	head    string
	seq     uint64
}

// NewLedger returns an empty ledger with the chain head at genesis.
func NewLedger() *Ledger {
	return &Ledger{head: verify.GenesisHash}
}

// Append creates, seals, and stores the next commit record. The sequence
// number and chain hash are assigned here and nowhere else.
func (l *Ledger) Append(unitID string, from, to verify.Level, bundle verify.Bundle, ts time.Time) *verify.CommitRecord {
	l.seq++

	digests := make(map[string]string, len(bundle))
	for i := range bundle {
		a := &bundle[i]
		key := string(a.Kind)
		if a.Name != "" {
			key += "/" + a.Name
		}
		digests[key] = a.Digest()
	}
	if len(digests) == 0 {
		digests = nil
	}

	rec := verify.CommitRecord{
		SequenceNo:      l.seq,
		UnitID:          unitID,
		FromLevel:       from,
		ToLevel:         to,
		ArtifactKinds:   bundle.Kinds(),
		ArtifactDigests: digests,
		Timestamp:       ts,
		PrevHash:        l.head,
	}
	rec.Seal()

	l.records = append(l.records, rec)
	l.head = rec.Hash
	return &l.records[len(l.records)-1]
}

// Records returns a copy of the full log in sequence order.
func (l *Ledger) Records() []verify.CommitRecord {
	out := make([]verify.CommitRecord, len(l.records))
	copy(out, l.records)
	return out
}

// Len returns the number of records.
func (l *Ledger) Len() int {
	return len(l.records)
}

// LastSequence returns the sequence number of the newest record, 0 when
// the log is empty.
func (l *Ledger) LastSequence() uint64 {
	return l.seq
}

// StateAt replays the log prefix up to and including the given sequence
// number and returns each committed unit's level as of that point. Units
// with no record at or before the sequence are absent from the map.
func (l *Ledger) StateAt(seq uint64) map[string]verify.Level {
	state := make(map[string]verify.Level)
	for i := range l.records {
		if l.records[i].SequenceNo > seq {
			break
		}
		state[l.records[i].UnitID] = l.records[i].ToLevel
	}
	return state
}

// UnitHistory returns the commit records for one unit, in sequence order.
func (l *Ledger) UnitHistory(unitID string) []verify.CommitRecord {
	var out []verify.CommitRecord
	for i := range l.records {
		if l.records[i].UnitID == unitID {
			out = append(out, l.records[i])
		}
	}
	return out
}

// Verify walks the chain back to genesis and checks sequence continuity
// and hash linkage.
func (l *Ledger) Verify() error {
	if bad, err := verify.VerifyChain(l.records); err != nil {
		return fmt.Errorf("commit log corrupt at record %d: %w", bad, err)
	}
	return nil
}
