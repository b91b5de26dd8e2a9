package aerospike

import (
	"errors"
	"fmt"
	"time"

	as "github.com/aerospike/aerospike-client-go/v7"
	"github.com/aerospike/aerospike-client-go/v7/types"
)

var (
	// ErrConnect indicates that the initial connection to the cluster could
	// not be established.
	ErrConnect = errors.New("failed to connect to Aerospike cluster")
	// ErrKeyNotFound is returned by Client operations addressing a record
	// that does not exist.
	ErrKeyNotFound = errors.New("key not found")
	// ErrKeyExists is returned by Client writes with a create-only policy
	// addressing a record that already exists.
	ErrKeyExists = errors.New("key exists")
)

// ScanFunc receives each record produced by a scan, or the error reported in
// its place. It is called sequentially.
type ScanFunc func(rec *as.Record, err error)

// Client is the subset of cluster operations used by Store. All methods are
// blocking, and implementations must be safe for concurrent use.
type Client interface {
	// Get reads the named bins (all bins if none are given) of the record at
	// key, returning ErrKeyNotFound if it does not exist.
	Get(key *as.Key, binNames ...string) (*as.Record, error)
	// Put writes bins to the record at key according to policy (expiration,
	// record-exists action).
	Put(policy *as.WritePolicy, key *as.Key, bins as.BinMap) error
	// Delete removes the record at key. Deleting a missing record succeeds.
	Delete(key *as.Key) error
	// Touch resets the expiration of the record at key per policy.
	Touch(policy *as.WritePolicy, key *as.Key) error
	// ScanAll scans every record of the set, passing each to fn. An error is
	// returned only if the scan could not be started.
	ScanAll(policy *as.ScanPolicy, namespace, setName string, fn ScanFunc, binNames ...string) error
	// Close releases all cluster connections.
	Close()
}

// ConnOptions configures the connection to an Aerospike cluster.
type ConnOptions struct {
	// Hostname of a seed node.
	// Default if unspecified: "localhost"
	Hostname string
	// Port of the seed node.
	// Default if unspecified: 3000
	Port int
	// User and Password are only needed for security-enabled clusters.
	User     string
	Password string
	// Timeout bounds the initial connection (cluster tend) attempt.
	// Default if unspecified: the client library default.
	Timeout time.Duration
}

// ClusterClient implements Client on top of the Aerospike Go client.
type ClusterClient struct {
	c *as.Client
}

// Dial connects to the cluster described by opts. It fails fast: if no seed
// node can be reached, the returned error wraps ErrConnect.
func Dial(opts ConnOptions) (*ClusterClient, error) {
	if opts.Hostname == "" {
		opts.Hostname = "localhost"
	}
	if opts.Port == 0 {
		opts.Port = 3000
	}
	policy := as.NewClientPolicy()
	policy.FailIfNotConnected = true
	policy.User = opts.User
	policy.Password = opts.Password
	if opts.Timeout > 0 {
		policy.Timeout = opts.Timeout
	}
	c, aerr := as.NewClientWithPolicyAndHost(policy, as.NewHost(opts.Hostname, opts.Port))
	if aerr != nil {
		return nil, fmt.Errorf("%s:%d (error: %v): %w", opts.Hostname, opts.Port, aerr, ErrConnect)
	}
	return &ClusterClient{c: c}, nil
}

// translate maps result codes that Store must distinguish onto sentinel
// errors.
func translate(aerr as.Error) error {
	switch {
	case aerr == nil:
		return nil
	case aerr.Matches(types.KEY_NOT_FOUND_ERROR):
		return fmt.Errorf("%v: %w", aerr, ErrKeyNotFound)
	case aerr.Matches(types.KEY_EXISTS_ERROR):
		return fmt.Errorf("%v: %w", aerr, ErrKeyExists)
	}
	return aerr
}

// Get implements Client.
func (cc *ClusterClient) Get(key *as.Key, binNames ...string) (*as.Record, error) {
	rec, aerr := cc.c.Get(nil, key, binNames...)
	if aerr != nil {
		return nil, translate(aerr)
	}
	return rec, nil
}

// Put implements Client.
func (cc *ClusterClient) Put(policy *as.WritePolicy, key *as.Key, bins as.BinMap) error {
	return translate(cc.c.Put(policy, key, bins))
}

// Delete implements Client.
func (cc *ClusterClient) Delete(key *as.Key) error {
	_, aerr := cc.c.Delete(nil, key)
	return translate(aerr)
}

// Touch implements Client.
func (cc *ClusterClient) Touch(policy *as.WritePolicy, key *as.Key) error {
	return translate(cc.c.Touch(policy, key))
}

// ScanAll implements Client. Errors reported by individual nodes while the
// scan is running are passed to fn.
func (cc *ClusterClient) ScanAll(policy *as.ScanPolicy, namespace, setName string, fn ScanFunc, binNames ...string) error {
	rs, aerr := cc.c.ScanAll(policy, namespace, setName, binNames...)
	if aerr != nil {
		return translate(aerr)
	}
	defer rs.Close()
	for res := range rs.Results() {
		if res.Err != nil {
			fn(nil, res.Err)
			continue
		}
		fn(res.Record, nil)
	}
	return nil
}

// Close implements Client.
func (cc *ClusterClient) Close() {
	cc.c.Close()
}
