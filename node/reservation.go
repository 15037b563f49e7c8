package node

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"btpc.dev/node/consensus"
)

// DefaultReservationExpiry is how long an unreleased reservation holds its
// outpoints before CleanupExpired can reclaim them (§4.9).
const DefaultReservationExpiry = 5 * time.Minute

// ReservationCleanupInterval is the period of the background cleanup tick.
const ReservationCleanupInterval = 60 * time.Second

// ReservationToken identifies a single call to ReservationManager.Reserve.
type ReservationToken string

// reservation is one wallet's claim on a set of outpoints while it builds a
// transaction. It is advisory: the final word on whether an outpoint can
// still be spent belongs to the consensus UTXO set (§4.6), not here.
type reservation struct {
	token     ReservationToken
	walletID  string
	outpoints []consensus.OutPoint
	createdAt time.Time
	expiresAt time.Time
	txID      *consensus.Hash
}

// ReservationManager prevents a wallet from building two transactions that
// spend the same outpoint at once. It is independent of, and does not
// replace, the consensus UTXO lock taken during block apply (§4.6, §4.9).
type ReservationManager struct {
	mu      sync.Mutex
	expiry  time.Duration
	byToken map[ReservationToken]*reservation
	// holders indexes, per outpoint, the walletID/token presently holding it,
	// so Reserve can reject a same-wallet conflict in O(1) per outpoint.
	holders map[consensus.OutPoint]reservation
}

// NewReservationManager constructs a manager with the given default expiry.
// expiry<=0 falls back to DefaultReservationExpiry.
func NewReservationManager(expiry time.Duration) *ReservationManager {
	if expiry <= 0 {
		expiry = DefaultReservationExpiry
	}
	return &ReservationManager{
		expiry:  expiry,
		byToken: make(map[ReservationToken]*reservation),
		holders: make(map[consensus.OutPoint]reservation),
	}
}

// ErrOutpointReserved is returned by Reserve when an outpoint is already
// held by a non-expired reservation belonging to the same wallet.
var ErrOutpointReserved = fmt.Errorf("node: outpoint already reserved")

// Reserve claims outpoints on behalf of walletID for the manager's default
// expiry, returning a token that Release accepts later. txID is optional
// (nil until the caller has assembled and signed the spending transaction).
func (m *ReservationManager) Reserve(now time.Time, walletID string, outpoints []consensus.OutPoint, txID *consensus.Hash) (ReservationToken, error) {
	if m == nil {
		return "", fmt.Errorf("node: nil reservation manager")
	}
	if walletID == "" {
		return "", fmt.Errorf("node: reserve: empty wallet_id")
	}
	if len(outpoints) == 0 {
		return "", fmt.Errorf("node: reserve: no outpoints")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.expireLocked(now)

	for _, op := range outpoints {
		if held, ok := m.holders[op]; ok && held.walletID == walletID {
			return "", fmt.Errorf("%w: %s by wallet %q", ErrOutpointReserved, op.TxID.String(), walletID)
		}
	}

	token, err := newReservationToken()
	if err != nil {
		return "", err
	}
	r := &reservation{
		token:     token,
		walletID:  walletID,
		outpoints: append([]consensus.OutPoint(nil), outpoints...),
		createdAt: now,
		expiresAt: now.Add(m.expiry),
		txID:      txID,
	}
	m.byToken[token] = r
	for _, op := range r.outpoints {
		m.holders[op] = *r
	}
	return token, nil
}

// Release drops a reservation immediately, regardless of expiry. Releasing
// an unknown or already-expired token is a no-op.
func (m *ReservationManager) Release(token ReservationToken) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.byToken[token]
	if !ok {
		return
	}
	delete(m.byToken, token)
	for _, op := range r.outpoints {
		if held, ok := m.holders[op]; ok && held.token == token {
			delete(m.holders, op)
		}
	}
}

// CleanupExpired removes every reservation whose expiry has passed as of
// now, returning the count removed. It is safe to call concurrently with
// Reserve/Release; Run calls it on ReservationCleanupInterval.
func (m *ReservationManager) CleanupExpired(now time.Time) int {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.expireLocked(now)
}

func (m *ReservationManager) expireLocked(now time.Time) int {
	removed := 0
	for token, r := range m.byToken {
		if !now.Before(r.expiresAt) {
			delete(m.byToken, token)
			for _, op := range r.outpoints {
				if held, ok := m.holders[op]; ok && held.token == token {
					delete(m.holders, op)
				}
			}
			removed++
		}
	}
	return removed
}

// Run drives the periodic expiry sweep until ctx is canceled.
func (m *ReservationManager) Run(ctx context.Context) {
	if m == nil {
		return
	}
	ticker := time.NewTicker(ReservationCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.CleanupExpired(now)
		}
	}
}

func newReservationToken() (ReservationToken, error) {
	var raw [16]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", fmt.Errorf("node: reserve: generate token: %w", err)
	}
	return ReservationToken(hex.EncodeToString(raw[:])), nil
}
