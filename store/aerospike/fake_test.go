package aerospike_test

import (
	"sort"
	"sync"
	"time"

	as "github.com/aerospike/aerospike-client-go/v7"
	"github.com/swfrench/aerospike-session/store/aerospike"
)

type fakeRecord struct {
	key     *as.Key
	bins    as.BinMap
	expires time.Time
}

// fakeCluster is an in-memory implementation of aerospike.Client that honours
// record expiration (against a manually advanced clock) and record-exists
// actions, and supports error injection.
type fakeCluster struct {
	mu      sync.Mutex
	now     time.Time
	records map[string]*fakeRecord

	getErr    error
	putErr    error
	deleteErr error
	touchErr  error
	scanErr   error
	// recordErrs are passed to the scan callback after the first record.
	recordErrs []error

	lastPut *as.WritePolicy
	touches int
	closes  int
}

func newFakeCluster() *fakeCluster {
	return &fakeCluster{
		now:     time.Unix(1700000000, 0),
		records: make(map[string]*fakeRecord),
	}
}

func recordID(k *as.Key) string {
	return k.Namespace() + "/" + k.SetName() + "/" + k.Value().String()
}

func (fc *fakeCluster) advance(d time.Duration) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.now = fc.now.Add(d)
}

func (fc *fakeCluster) live(id string) (*fakeRecord, bool) {
	r, ok := fc.records[id]
	if !ok {
		return nil, false
	}
	if !fc.now.Before(r.expires) {
		delete(fc.records, id)
		return nil, false
	}
	return r, true
}

func (fc *fakeCluster) exists(k *as.Key) bool {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	_, ok := fc.live(recordID(k))
	return ok
}

// insert writes a record directly, bypassing policies.
func (fc *fakeCluster) insert(k *as.Key, bins as.BinMap, ttl time.Duration) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.records[recordID(k)] = &fakeRecord{key: k, bins: bins, expires: fc.now.Add(ttl)}
}

func copyBins(bins as.BinMap, names []string) as.BinMap {
	out := make(as.BinMap)
	for k, v := range bins {
		if len(names) > 0 {
			wanted := false
			for _, n := range names {
				wanted = wanted || n == k
			}
			if !wanted {
				continue
			}
		}
		out[k] = v
	}
	return out
}

func (fc *fakeCluster) Get(key *as.Key, binNames ...string) (*as.Record, error) {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if fc.getErr != nil {
		return nil, fc.getErr
	}
	r, ok := fc.live(recordID(key))
	if !ok {
		return nil, aerospike.ErrKeyNotFound
	}
	return &as.Record{Key: r.key, Bins: copyBins(r.bins, binNames)}, nil
}

func (fc *fakeCluster) Put(policy *as.WritePolicy, key *as.Key, bins as.BinMap) error {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.lastPut = policy
	if fc.putErr != nil {
		return fc.putErr
	}
	id := recordID(key)
	_, exists := fc.live(id)
	switch policy.RecordExistsAction {
	case as.CREATE_ONLY:
		if exists {
			return aerospike.ErrKeyExists
		}
	case as.UPDATE_ONLY, as.REPLACE_ONLY:
		if !exists {
			return aerospike.ErrKeyNotFound
		}
	}
	fc.records[id] = &fakeRecord{
		key:     key,
		bins:    copyBins(bins, nil),
		expires: fc.now.Add(time.Duration(policy.Expiration) * time.Second),
	}
	return nil
}

func (fc *fakeCluster) Delete(key *as.Key) error {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if fc.deleteErr != nil {
		return fc.deleteErr
	}
	delete(fc.records, recordID(key))
	return nil
}

func (fc *fakeCluster) Touch(policy *as.WritePolicy, key *as.Key) error {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	if fc.touchErr != nil {
		return fc.touchErr
	}
	r, ok := fc.live(recordID(key))
	if !ok {
		return aerospike.ErrKeyNotFound
	}
	fc.touches++
	r.expires = fc.now.Add(time.Duration(policy.Expiration) * time.Second)
	return nil
}

func (fc *fakeCluster) ScanAll(policy *as.ScanPolicy, namespace, setName string, fn aerospike.ScanFunc, binNames ...string) error {
	fc.mu.Lock()
	if fc.scanErr != nil {
		fc.mu.Unlock()
		return fc.scanErr
	}
	var ids []string
	for id := range fc.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var recs []*as.Record
	for _, id := range ids {
		r, ok := fc.live(id)
		if !ok || r.key.Namespace() != namespace || r.key.SetName() != setName {
			continue
		}
		recs = append(recs, &as.Record{Key: r.key, Bins: copyBins(r.bins, binNames)})
	}
	recordErrs := fc.recordErrs
	fc.mu.Unlock()

	for i, rec := range recs {
		fn(rec, nil)
		if i == 0 {
			for _, err := range recordErrs {
				fn(nil, err)
			}
		}
	}
	return nil
}

func (fc *fakeCluster) Close() {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	fc.closes++
}
