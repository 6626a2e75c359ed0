package monstore

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/cuemby/fabric/pkg/model"
	bolt "go.etcd.io/bbolt"
)

var (
	bucketProcesses = []byte("processes")
	bucketTopics    = []byte("topics")
	bucketServices  = []byte("services")
	bucketLog       = []byte("log")
)

// BoltStore implements Store using BoltDB.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if necessary) a BoltDB file under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "fabric-monitor.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open monitoring store: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketProcesses, bucketTopics, bucketServices, bucketLog} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// SaveProcess upserts a process entry keyed by ProcessID.
func (s *BoltStore) SaveProcess(p *model.ProcessEntry) error {
	return s.put(bucketProcesses, p.ProcessID, p)
}

// SaveTopic upserts a topic entry keyed by host/process/handle.
func (s *BoltStore) SaveTopic(t *model.TopicEntry) error {
	return s.put(bucketTopics, topicKey(t.TopicID), t)
}

// SaveService upserts a service entry keyed by host/process/service/instance.
func (s *BoltStore) SaveService(svc *model.ServiceEntry) error {
	return s.put(bucketServices, serviceKey(svc), svc)
}

// DeleteProcess removes a process entry by process ID.
func (s *BoltStore) DeleteProcess(processID string) error {
	return s.delete(bucketProcesses, processID)
}

// DeleteTopic removes a topic entry by its topic ID key (see TopicKey).
func (s *BoltStore) DeleteTopic(topicKey string) error {
	return s.delete(bucketTopics, topicKey)
}

// DeleteService removes a service entry by its service-instance key (see ServiceKey).
func (s *BoltStore) DeleteService(serviceKey string) error {
	return s.delete(bucketServices, serviceKey)
}

// LoadSnapshot reconstructs a Snapshot from all persisted entries.
func (s *BoltStore) LoadSnapshot() (model.Snapshot, error) {
	var snap model.Snapshot

	err := s.db.View(func(tx *bolt.Tx) error {
		if err := tx.Bucket(bucketProcesses).ForEach(func(_, v []byte) error {
			var p model.ProcessEntry
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			snap.Processes = append(snap.Processes, p)
			return nil
		}); err != nil {
			return err
		}

		if err := tx.Bucket(bucketTopics).ForEach(func(_, v []byte) error {
			var t model.TopicEntry
			if err := json.Unmarshal(v, &t); err != nil {
				return err
			}
			if t.Direction == model.DirectionPublisher {
				snap.PublisherTopics = append(snap.PublisherTopics, t)
			} else {
				snap.SubscriberTopics = append(snap.SubscriberTopics, t)
			}
			return nil
		}); err != nil {
			return err
		}

		return tx.Bucket(bucketServices).ForEach(func(_, v []byte) error {
			var svc model.ServiceEntry
			if err := json.Unmarshal(v, &svc); err != nil {
				return err
			}
			if svc.TCPPortV0 != 0 || svc.TCPPortV1 != 0 {
				snap.Servers = append(snap.Servers, svc)
			} else {
				snap.Clients = append(snap.Clients, svc)
			}
			return nil
		})
	})

	return snap, err
}

// AppendLogEntry buffers one log line under a monotonically increasing key.
func (s *BoltStore) AppendLogEntry(e model.LogEntry) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLog)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		data, err := json.Marshal(e)
		if err != nil {
			return err
		}
		return b.Put(itob(seq), data)
	})
}

// DrainLogEntries returns all buffered entries in append order and clears the bucket.
func (s *BoltStore) DrainLogEntries() ([]model.LogEntry, error) {
	var entries []model.LogEntry

	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLog)
		c := b.Cursor()
		var keys [][]byte
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var e model.LogEntry
			if err := json.Unmarshal(v, &e); err != nil {
				return err
			}
			entries = append(entries, e)
			keys = append(keys, append([]byte(nil), k...))
		}
		for _, k := range keys {
			if err := b.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})

	return entries, err
}

func (s *BoltStore) put(bucket []byte, key string, v interface{}) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(v)
		if err != nil {
			return err
		}
		return tx.Bucket(bucket).Put([]byte(key), data)
	})
}

func (s *BoltStore) delete(bucket []byte, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucket).Delete([]byte(key))
	})
}

func itob(v uint64) []byte {
	b := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
	return b
}

// TopicKey returns the bucket key for a topic entry.
func TopicKey(id model.TopicID) string {
	return topicKey(id)
}

func topicKey(id model.TopicID) string {
	return id.HostName + "/" + id.ProcessID + "/" + id.HandleSerial
}

// ServiceKey returns the bucket key for a service entry.
func ServiceKey(s *model.ServiceEntry) string {
	return serviceKey(s)
}

func serviceKey(s *model.ServiceEntry) string {
	return s.HostName + "/" + s.ProcessID + "/" + s.ServiceName + "/" + s.ServiceInstanceID
}
