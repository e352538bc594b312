// Package protection implements the Protection Driver: the
// encrypted-media state machine, process-wide ProtectionState singleton
// guard, fingerprinted session registry, and persistent-license storage
// gate — a registry-by-key idiom adapted from circuit-breakers-keyed-by-
// host to sessions-keyed-by-initData-fingerprint, with an explicit State
// enum and transitionTo method.
package protection

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

// State is the Protection Driver's lifecycle stage.
type State int

// Driver states.
const (
	StateUninitialized State = iota
	StateQuerying
	StateConfigured
	StateSessioned
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateQuerying:
		return "querying"
	case StateConfigured:
		return "configured"
	case StateSessioned:
		return "sessioned"
	case StateDisposed:
		return "disposed"
	default:
		return "unknown"
	}
}

// ErrInvalidKeySystem is returned when a subsequent encrypted event's
// configuration does not match the one already established, or when
// persistentLicense=true is requested without a LicenseStorage.
var ErrInvalidKeySystem = errors.New("protection: invalid key system")

// ErrNoAcceptedKeySystem is returned when no candidate key system is
// accepted by the environment.
var ErrNoAcceptedKeySystem = errors.New("protection: no key system candidate accepted")

// ErrAlreadyActive guards the process-wide singleton: at most one
// orchestrator's Protection Driver may be active at a time.
var ErrAlreadyActive = errors.New("protection: already active in this process")

// AudioVideoCapability is a content-type+robustness pair as negotiated
// against a key system.
type AudioVideoCapability struct {
	ContentType string
	Robustness  string
}

// Configuration is the resolved MediaKeySystemConfiguration subset the
// Driver itself sets, used for the Open Question's equality check.
type Configuration struct {
	KeySystem             string
	DistinctiveIdentifier string
	PersistentState       string
	SessionTypes          []string
	AudioCapabilities     []AudioVideoCapability
	VideoCapabilities     []AudioVideoCapability
}

// Equal reports set-equality (order-independent) between two
// configurations, per the Open Question decision recorded in DESIGN.md:
// treat configurations as equivalent iff every field compares equal as
// sets rather than ordered sequences.
func (c Configuration) Equal(o Configuration) bool {
	if c.KeySystem != o.KeySystem || c.DistinctiveIdentifier != o.DistinctiveIdentifier || c.PersistentState != o.PersistentState {
		return false
	}
	return stringSetEqual(c.SessionTypes, o.SessionTypes) &&
		capSetEqual(c.AudioCapabilities, o.AudioCapabilities) &&
		capSetEqual(c.VideoCapabilities, o.VideoCapabilities)
}

func stringSetEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	sa, sb := append([]string(nil), a...), append([]string(nil), b...)
	sort.Strings(sa)
	sort.Strings(sb)
	for i := range sa {
		if sa[i] != sb[i] {
			return false
		}
	}
	return true
}

func capSetEqual(a, b []AudioVideoCapability) bool {
	if len(a) != len(b) {
		return false
	}
	key := func(c AudioVideoCapability) string { return c.ContentType + "|" + c.Robustness }
	sa := make([]string, len(a))
	sb := make([]string, len(b))
	for i, c := range a {
		sa[i] = key(c)
	}
	for i, c := range b {
		sb[i] = key(c)
	}
	sort.Strings(sa)
	sort.Strings(sb)
	for i := range sa {
		if sa[i] != sb[i] {
			return false
		}
	}
	return true
}

// KeySystemCandidate is one user-supplied key-system option, tried in order.
type KeySystemCandidate struct {
	Type              string
	Configuration     Configuration
	GetLicense        func(ctx context.Context, request []byte) ([]byte, error)
	ServerCertificate []byte
	PersistentLicense bool
	LicenseStorage    Storage
}

// StoredSession is a persisted (initData fingerprint -> session) record.
type StoredSession struct {
	Fingerprint string
	SessionID   string
	KeySystem   string
}

// Storage is the consumed persistent-license storage pair.
type Storage interface {
	Load(ctx context.Context) ([]StoredSession, error)
	Save(ctx context.Context, sessions []StoredSession) error
}

// Environment abstracts the platform's key-system acceptance and
// mediaKeys/session creation — the CDM integration this package does not
// itself implement.
type Environment interface {
	Accepts(candidate KeySystemCandidate) bool
	CreateMediaKeys(ctx context.Context, candidate KeySystemCandidate) error
	AttachMediaKeys(ctx context.Context) error
	ProvisionServerCertificate(ctx context.Context, cert []byte) error
	CreateSession(ctx context.Context, initDataType string, initData []byte) (sessionID string, err error)
	CloseSession(ctx context.Context, sessionID string) error
	UnsetMediaKeys(ctx context.Context) error
}

// active guards the process-wide singleton: only one Driver may be in a
// non-Disposed state at a time within this process.
var active atomic.Bool

// Driver is the per-orchestrator Protection Driver instance.
type Driver struct {
	env Environment

	mu          sync.Mutex
	state       State
	config      Configuration
	keySystem   string
	sessions    map[string]StoredSession // fingerprint -> session
	shouldUnset bool
}

// New constructs a Driver, claiming the process-wide activity guard.
// Returns ErrAlreadyActive if another Driver is already active.
func New(env Environment, shouldUnsetMediaKeysOnDispose bool) (*Driver, error) {
	if !active.CompareAndSwap(false, true) {
		return nil, ErrAlreadyActive
	}
	return &Driver{
		env:         env,
		state:       StateUninitialized,
		sessions:    make(map[string]StoredSession),
		shouldUnset: shouldUnsetMediaKeysOnDispose,
	}, nil
}

// State returns the Driver's current lifecycle stage.
func (d *Driver) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Fingerprint computes the stable fingerprint of an (initDataType, initData)
// pair.
func Fingerprint(initDataType string, initData []byte) string {
	h := sha256.New()
	h.Write([]byte(initDataType))
	h.Write(initData)
	return hex.EncodeToString(h.Sum(nil))
}

// HandleEncrypted processes an `encrypted` event. The first call (from
// StateUninitialized) iterates candidates and establishes the
// configuration; subsequent calls validate the fingerprint/configuration
// against what was already established.
func (d *Driver) HandleEncrypted(ctx context.Context, candidates []KeySystemCandidate, initDataType string, initData []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	fp := Fingerprint(initDataType, initData)

	if d.state == StateUninitialized {
		return d.firstEncryptedLocked(ctx, candidates, fp, initDataType, initData)
	}
	return d.subsequentEncryptedLocked(ctx, candidates, fp, initDataType, initData)
}

func (d *Driver) firstEncryptedLocked(ctx context.Context, candidates []KeySystemCandidate, fp, initDataType string, initData []byte) error {
	d.state = StateQuerying

	var chosen *KeySystemCandidate
	for i := range candidates {
		if d.env.Accepts(candidates[i]) {
			chosen = &candidates[i]
			break
		}
	}
	if chosen == nil {
		return fmt.Errorf("%w: no candidate accepted", ErrNoAcceptedKeySystem)
	}

	if chosen.PersistentLicense && chosen.LicenseStorage == nil {
		return fmt.Errorf("%w: persistentLicense requires licenseStorage", ErrInvalidKeySystem)
	}

	if err := d.env.CreateMediaKeys(ctx, *chosen); err != nil {
		return fmt.Errorf("protection: create media keys: %w", err)
	}
	if err := d.env.AttachMediaKeys(ctx); err != nil {
		return fmt.Errorf("protection: attach media keys: %w", err)
	}
	if len(chosen.ServerCertificate) > 0 {
		if err := d.env.ProvisionServerCertificate(ctx, chosen.ServerCertificate); err != nil {
			return fmt.Errorf("protection: provision server certificate: %w", err)
		}
	}

	d.config = chosen.Configuration
	d.keySystem = chosen.Type
	d.state = StateConfigured

	if err := d.openSessionLocked(ctx, fp, initDataType, initData); err != nil {
		return err
	}
	d.state = StateSessioned
	return nil
}

func (d *Driver) subsequentEncryptedLocked(ctx context.Context, candidates []KeySystemCandidate, fp, initDataType string, initData []byte) error {
	if _, exists := d.sessions[fp]; exists {
		return nil // no-op: session already exists for this fingerprint
	}

	var matching *KeySystemCandidate
	for i := range candidates {
		if candidates[i].Type == d.keySystem {
			matching = &candidates[i]
			break
		}
	}
	if matching == nil || !matching.Configuration.Equal(d.config) {
		return fmt.Errorf("%w: configuration differs from established session", ErrInvalidKeySystem)
	}

	return d.openSessionLocked(ctx, fp, initDataType, initData)
}

func (d *Driver) openSessionLocked(ctx context.Context, fp, initDataType string, initData []byte) error {
	sessionID, err := d.env.CreateSession(ctx, initDataType, initData)
	if err != nil {
		return fmt.Errorf("protection: create session: %w", err)
	}
	d.sessions[fp] = StoredSession{Fingerprint: fp, SessionID: sessionID, KeySystem: d.keySystem}
	return nil
}

// HasSession reports whether a session has been established for the given
// fingerprint.
func (d *Driver) HasSession(fingerprint string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.sessions[fingerprint]
	return ok
}

// Dispose closes all sessions, optionally unsets mediaKeys on the element,
// clears the process-wide activity guard, and transitions to Disposed.
// Safe to call multiple times.
func (d *Driver) Dispose(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.state == StateDisposed {
		return nil
	}

	var firstErr error
	for fp, sess := range d.sessions {
		if err := d.env.CloseSession(ctx, sess.SessionID); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("protection: close session: %w", err)
		}
		delete(d.sessions, fp)
	}

	if d.shouldUnset && d.state >= StateConfigured {
		if err := d.env.UnsetMediaKeys(ctx); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("protection: unset media keys: %w", err)
		}
	}

	d.state = StateDisposed
	active.Store(false)
	return firstErr
}
