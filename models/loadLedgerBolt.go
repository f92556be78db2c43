package models

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "github.com/boltdb/bolt"
	"github.com/mmdatafocus/load_validator/utils"
	"github.com/shopspring/decimal"
)

// Bucket layout:
//
//	loads:    uvarint(len customer) customer load_id -> JSON LoadRecord
//	history:  <customer>/ timeKey + load_id -> load_id   (every record)
//	accepted: <customer>/ timeKey + load_id -> amount    (fully accepted records only)
//
// timeKey is the big-endian UnixNano with the sign bit flipped, so byte order is time order.
var (
	boltLoadsBucket    = []byte("loads")
	boltHistoryBucket  = []byte("history")
	boltAcceptedBucket = []byte("accepted")
)

// BoltLoadLedger keeps load records in a single embedded bolt file.
// It serves one process only; use GormLoadLedger when several instances share a ledger.
type BoltLoadLedger struct {
	db *bolt.DB
}

func OpenBoltLoadLedger(path string) (*BoltLoadLedger, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{boltLoadsBucket, boltHistoryBucket, boltAcceptedBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltLoadLedger{db: db}, nil
}

// Close releases the database file lock.
func (l *BoltLoadLedger) Close() error {
	return l.db.Close()
}

func boltLoadKey(customerId, loadId string) []byte {
	key := binary.AppendUvarint(make([]byte, 0, binary.MaxVarintLen64+len(customerId)+len(loadId)), uint64(len(customerId)))
	key = append(key, customerId...)
	return append(key, loadId...)
}

func boltTimeKey(t time.Time) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(t.UTC().UnixNano())^(1<<63))
	return b
}

func boltIndexKey(t time.Time, loadId string) []byte {
	return append(boltTimeKey(t), loadId...)
}

func (l *BoltLoadLedger) FindLoad(ctx context.Context, customerId, loadId string) (*LoadRecord, error) {
	var record *LoadRecord
	err := l.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(boltLoadsBucket).Get(boltLoadKey(customerId, loadId))
		if v == nil {
			return utils.ErrorRecordNotFound
		}
		record = &LoadRecord{}
		return json.Unmarshal(v, record)
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// scanAccepted visits accepted entries of one customer with from <= time <= to.
func (l *BoltLoadLedger) scanAccepted(customerId string, from, to time.Time, fn func(v []byte) error) error {
	return l.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(boltAcceptedBucket).Bucket([]byte(customerId))
		if b == nil {
			return nil
		}
		fromKey, toKey := boltTimeKey(from), boltTimeKey(to)
		c := b.Cursor()
		for k, v := c.Seek(fromKey); k != nil && bytes.Compare(k[:8], toKey) <= 0; k, v = c.Next() {
			if err := fn(v); err != nil {
				return err
			}
		}
		return nil
	})
}

func (l *BoltLoadLedger) SumAcceptedAmount(ctx context.Context, customerId string, from, to time.Time) (decimal.Decimal, error) {
	sum := decimal.Zero
	err := l.scanAccepted(customerId, from, to, func(v []byte) error {
		amount, err := decimal.NewFromString(string(v))
		if err != nil {
			return err
		}
		sum = sum.Add(amount)
		return nil
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum accepted loads: %w", err)
	}
	return sum, nil
}

func (l *BoltLoadLedger) CountAccepted(ctx context.Context, customerId string, from, to time.Time) (int64, error) {
	var count int64
	err := l.scanAccepted(customerId, from, to, func([]byte) error {
		count++
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("count accepted loads: %w", err)
	}
	return count, nil
}

// InsertLoad writes the record and its indexes in one transaction.
func (l *BoltLoadLedger) InsertLoad(ctx context.Context, record *LoadRecord) error {
	return l.db.Update(func(tx *bolt.Tx) error {
		loads := tx.Bucket(boltLoadsBucket)
		key := boltLoadKey(record.CustomerId, record.LoadId)
		if loads.Get(key) != nil {
			return ErrDuplicateLoad
		}

		seq, err := loads.NextSequence()
		if err != nil {
			return err
		}
		stored := *record
		stored.ID = int(seq)
		stored.LoadTime = utils.NormalizeLoadTime(record.LoadTime)
		stored.CreatedAt = time.Now().UTC()

		data, err := json.Marshal(&stored)
		if err != nil {
			return err
		}
		if err := loads.Put(key, data); err != nil {
			return err
		}

		indexKey := boltIndexKey(stored.LoadTime, stored.LoadId)
		history, err := tx.Bucket(boltHistoryBucket).CreateBucketIfNotExists([]byte(stored.CustomerId))
		if err != nil {
			return err
		}
		if err := history.Put(indexKey, []byte(stored.LoadId)); err != nil {
			return err
		}
		if stored.Accepted() {
			accepted, err := tx.Bucket(boltAcceptedBucket).CreateBucketIfNotExists([]byte(stored.CustomerId))
			if err != nil {
				return err
			}
			if err := accepted.Put(indexKey, []byte(stored.LoadAmount.String())); err != nil {
				return err
			}
		}

		*record = stored
		return nil
	})
}

func (l *BoltLoadLedger) ListLoads(ctx context.Context, customerId string, limit int) ([]*LoadRecord, error) {
	records := []*LoadRecord{}
	err := l.db.View(func(tx *bolt.Tx) error {
		history := tx.Bucket(boltHistoryBucket).Bucket([]byte(customerId))
		if history == nil {
			return nil
		}
		loads := tx.Bucket(boltLoadsBucket)
		c := history.Cursor()
		for k, v := c.Last(); k != nil && len(records) < limit; k, v = c.Prev() {
			data := loads.Get(boltLoadKey(customerId, string(v)))
			if data == nil {
				return errors.New("history entry without load record: " + string(v))
			}
			var record LoadRecord
			if err := json.Unmarshal(data, &record); err != nil {
				return err
			}
			records = append(records, &record)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}
