package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/c360studio/semstreams/natsclient"
	"github.com/c360studio/veriflow/verify"
	"github.com/nats-io/nats.go/jetstream"
)

// CommitSubjectPrefix is the subject family carrying commit records on
// the VERIFY stream. The stream retains them, so it doubles as the
// durable commit log.
const CommitSubjectPrefix = "verify.commit."

// VerifyStream is the stream holding verification events and commits.
const VerifyStream = "VERIFY"

// CommitLog publishes commit records to the VERIFY stream and reads them
// back for replay. Ordering is carried by each record's sequence number,
// not by stream position.
type CommitLog struct {
	nc *natsclient.Client
}

// NewCommitLog creates a commit log over an existing NATS connection.
// The VERIFY stream must already exist (the service config declares it).
func NewCommitLog(nc *natsclient.Client) *CommitLog {
	return &CommitLog{nc: nc}
}

// Publish appends one sealed commit record to the stream.
func (l *CommitLog) Publish(ctx context.Context, record *verify.CommitRecord) error {
	if record.Hash == "" {
		return fmt.Errorf("refusing to publish unsealed commit record seq %d", record.SequenceNo)
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal commit record: %w", err)
	}

	subject := CommitSubjectPrefix + record.UnitID
	if err := l.nc.PublishToStream(ctx, subject, data); err != nil {
		return fmt.Errorf("publish commit record seq %d: %w", record.SequenceNo, err)
	}
	return nil
}

// Load reads all commit records from the stream, sorted by sequence
// number, and verifies the chain before returning it.
func (l *CommitLog) Load(ctx context.Context) ([]verify.CommitRecord, error) {
	js, err := l.nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("get jetstream: %w", err)
	}

	cons, err := js.OrderedConsumer(ctx, VerifyStream, jetstream.OrderedConsumerConfig{
		FilterSubjects: []string{CommitSubjectPrefix + ">"},
	})
	if err != nil {
		return nil, fmt.Errorf("create commit log consumer: %w", err)
	}

	var records []verify.CommitRecord
	for {
		batch, err := cons.FetchNoWait(256)
		if err != nil {
			return nil, fmt.Errorf("fetch commit records: %w", err)
		}

		count := 0
		for msg := range batch.Messages() {
			count++
			var record verify.CommitRecord
			if err := json.Unmarshal(msg.Data(), &record); err != nil {
				return nil, fmt.Errorf("unmarshal commit record: %w", err)
			}
			records = append(records, record)
		}
		if err := batch.Error(); err != nil {
			return nil, fmt.Errorf("commit log batch: %w", err)
		}
		if count == 0 {
			break
		}
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].SequenceNo < records[j].SequenceNo
	})

	if idx, err := verify.VerifyChain(records); err != nil {
		return nil, fmt.Errorf("commit log corrupt at index %d: %w", idx, err)
	}
	return records, nil
}
