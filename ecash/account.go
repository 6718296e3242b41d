package ecash

import (
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/ecashkit/walletcore/money"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// AccountType discriminates the account variants.
type AccountType uint8

const (
	// AccountCashu is an account whose value is held as Cashu proofs
	// issued by a single mint.
	AccountCashu AccountType = iota

	// AccountSpark is an account whose value is held on Spark, with the
	// balance reported by the operator rather than derived from proofs.
	AccountSpark
)

// String returns a human readable account type.
func (t AccountType) String() string {
	switch t {
	case AccountCashu:
		return "cashu"
	case AccountSpark:
		return "spark"
	default:
		return fmt.Sprintf("AccountType(%d)", uint8(t))
	}
}

// AccountPurpose describes what an account is used for.
type AccountPurpose uint8

const (
	// PurposeTransactional is a normal spending account.
	PurposeTransactional AccountPurpose = iota

	// PurposeGiftCard is an account backing locked/gift tokens.
	PurposeGiftCard
)

// String returns a human readable account purpose.
func (p AccountPurpose) String() string {
	switch p {
	case PurposeTransactional:
		return "transactional"
	case PurposeGiftCard:
		return "gift-card"
	default:
		return fmt.Sprintf("AccountPurpose(%d)", uint8(p))
	}
}

// Account is a wallet account. The Type field discriminates which of the
// variant field groups is populated; Validate enforces the split since the
// record round trips through an untyped encrypted blob.
type Account struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	Name   string `json:"name"`

	Type     AccountType    `json:"type"`
	Purpose  AccountPurpose `json:"purpose"`
	IsOnline bool           `json:"is_online"`

	Currency money.Currency `json:"currency"`

	CreatedAt time.Time `json:"created_at"`
	Version   uint64    `json:"version"`

	// Cashu variant fields.

	// MintURL is the mint that issued this account's proofs.
	MintURL    string `json:"mint_url,omitempty"`
	IsTestMint bool   `json:"is_test_mint,omitempty"`

	// KeysetCounters holds the next unused counter per keyset. Counters
	// only ever increase: each signing operation consumes the next values
	// and they are never handed out twice, since the blinding factors
	// derived from them must be unique.
	KeysetCounters map[string]uint32 `json:"keyset_counters,omitempty"`

	// Proofs is the account's full proof set, all states included.
	Proofs []*Proof `json:"proofs,omitempty"`

	// Spark variant fields.

	SparkBalance *money.Money `json:"spark_balance,omitempty"`
	SparkNetwork string       `json:"spark_network,omitempty"`
}

// Balance derives the account's spendable balance. For a cashu account this
// is always the sum of its UNSPENT proofs in the account currency; for a
// spark account it is the operator-reported balance.
func (a *Account) Balance() (money.Money, error) {
	if a.Type == AccountSpark {
		if a.SparkBalance == nil {
			return money.Zero(a.Currency), nil
		}
		return *a.SparkBalance, nil
	}

	var sum uint64
	for _, p := range a.Proofs {
		if p.State == ProofUnspent {
			sum += p.Amount
		}
	}

	return money.NewFromBig(
		new(big.Int).SetUint64(sum), a.proofUnit(),
	)
}

// proofUnit returns the unit cashu proof amounts are denominated in for this
// account's currency.
func (a *Account) proofUnit() money.Unit {
	return ProofUnit(a.Currency)
}

// Proof looks up a proof by id.
func (a *Account) Proof(id string) fn.Option[*Proof] {
	for _, p := range a.Proofs {
		if p.ID == id {
			return fn.Some(p)
		}
	}
	return fn.None[*Proof]()
}

// UnspentProofs returns the account's unspent proofs.
func (a *Account) UnspentProofs() []*Proof {
	var unspent []*Proof
	for _, p := range a.Proofs {
		if p.State == ProofUnspent {
			unspent = append(unspent, p)
		}
	}
	return unspent
}

// SelectProofs picks unspent proofs covering at least target, largest first
// so the selection stays small. The proofs are not reserved; callers pair
// this with ReserveProofs inside a single versioned account write.
func (a *Account) SelectProofs(target uint64) ([]*Proof, error) {
	unspent := a.UnspentProofs()
	sort.SliceStable(unspent, func(i, j int) bool {
		return unspent[i].Amount > unspent[j].Amount
	})

	var (
		selected []*Proof
		sum      uint64
	)
	for _, p := range unspent {
		if sum >= target {
			break
		}
		selected = append(selected, p)
		sum += p.Amount
	}
	if sum < target {
		return nil, fmt.Errorf("%w: have %d, need %d",
			ErrInsufficientBalance, sum, target)
	}

	return selected, nil
}

// ReserveProofs reserves the identified proofs. All of them must currently
// be unspent; the call mutates nothing if any reservation fails.
func (a *Account) ReserveProofs(ids []string, now time.Time) error {
	proofs, err := a.lookupAll(ids)
	if err != nil {
		return err
	}
	for _, p := range proofs {
		if p.State != ProofUnspent {
			return fmt.Errorf("%w: proof %v is %v",
				ErrInvalidTransition, p.ID, p.State)
		}
	}

	for _, p := range proofs {
		if err := p.Reserve(now); err != nil {
			return err
		}
	}

	return nil
}

// ReleaseProofs reverts reservations on the identified proofs back to
// unspent.
func (a *Account) ReleaseProofs(ids []string) error {
	proofs, err := a.lookupAll(ids)
	if err != nil {
		return err
	}

	for _, p := range proofs {
		if err := p.Release(); err != nil {
			return err
		}
	}

	return nil
}

// SpendProofs marks the identified proofs spent.
func (a *Account) SpendProofs(ids []string, now time.Time) error {
	proofs, err := a.lookupAll(ids)
	if err != nil {
		return err
	}

	for _, p := range proofs {
		if err := p.Spend(now); err != nil {
			return err
		}
	}

	return nil
}

// SpendOutstanding marks the identified proofs spent, skipping any that
// already are. Settlements replay their account write after a crash or a
// lost version race, so the spend step has to converge the same way
// AddMissingProofs does for the credit step. Unknown ids still fail.
func (a *Account) SpendOutstanding(ids []string, now time.Time) error {
	proofs, err := a.lookupAll(ids)
	if err != nil {
		return err
	}

	for _, p := range proofs {
		if p.State == ProofSpent {
			continue
		}
		if err := p.Spend(now); err != nil {
			return err
		}
	}

	return nil
}

func (a *Account) lookupAll(ids []string) ([]*Proof, error) {
	byID := make(map[string]*Proof, len(a.Proofs))
	for _, p := range a.Proofs {
		byID[p.ID] = p
	}

	proofs := make([]*Proof, 0, len(ids))
	for _, id := range ids {
		p, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("%w: %v in account %v",
				ErrUnknownProof, id, a.ID)
		}
		proofs = append(proofs, p)
	}

	return proofs, nil
}

// AddProofs appends freshly minted proofs to the account. Each proof must be
// unspent, belong to this account, and not collide with an existing id or
// secret.
func (a *Account) AddProofs(proofs []*Proof) error {
	seen := make(map[string]struct{}, len(a.Proofs))
	for _, p := range a.Proofs {
		seen[p.Secret] = struct{}{}
		seen[p.ID] = struct{}{}
	}

	for _, p := range proofs {
		if err := p.Validate(); err != nil {
			return err
		}
		if p.State != ProofUnspent {
			return fmt.Errorf("%w: new proof %v is %v",
				ErrInvalidTransition, p.ID, p.State)
		}
		if p.AccountID != a.ID {
			return fmt.Errorf("%w: proof %v belongs to account %v",
				ErrRecordInvalid, p.ID, p.AccountID)
		}

		if _, ok := seen[p.ID]; ok {
			return fmt.Errorf("%w: id %v", ErrDuplicateProof, p.ID)
		}
		if _, ok := seen[p.Secret]; ok {
			return fmt.Errorf("%w: secret of proof %v",
				ErrDuplicateProof, p.ID)
		}
		seen[p.ID] = struct{}{}
		seen[p.Secret] = struct{}{}
	}

	a.Proofs = append(a.Proofs, proofs...)
	return nil
}

// AddMissingProofs appends those of the given proofs whose secrets the
// account does not hold yet. This makes crediting a mint response safe to
// replay: a retry after a crash adds nothing the first attempt already did.
func (a *Account) AddMissingProofs(proofs []*Proof) error {
	have := make(map[string]struct{}, len(a.Proofs))
	for _, p := range a.Proofs {
		have[p.Secret] = struct{}{}
	}

	var missing []*Proof
	for _, p := range proofs {
		if _, ok := have[p.Secret]; !ok {
			missing = append(missing, p)
		}
	}
	if len(missing) == 0 {
		return nil
	}

	return a.AddProofs(missing)
}

// ReserveCounters hands out the next n counter values for the given keyset
// and advances the stored counter past them. The returned value is the first
// of the reserved range. Counters are monotonic and never reused, even when
// the operation consuming them fails, since reuse would repeat blinding
// factors.
func (a *Account) ReserveCounters(keysetID string, n uint32) uint32 {
	if a.KeysetCounters == nil {
		a.KeysetCounters = make(map[string]uint32)
	}

	start := a.KeysetCounters[keysetID]
	a.KeysetCounters[keysetID] = start + n

	return start
}

// Validate checks the account's structural invariants, including those of
// every contained proof.
func (a *Account) Validate() error {
	switch {
	case a.ID == "":
		return fmt.Errorf("%w: account missing id", ErrRecordInvalid)

	case a.UserID == "":
		return fmt.Errorf("%w: account %v missing user id",
			ErrRecordInvalid, a.ID)
	}

	switch a.Type {
	case AccountCashu:
		if a.MintURL == "" {
			return fmt.Errorf("%w: cashu account %v missing mint "+
				"url", ErrRecordInvalid, a.ID)
		}
		if a.SparkBalance != nil || a.SparkNetwork != "" {
			return fmt.Errorf("%w: cashu account %v carries "+
				"spark fields", ErrRecordInvalid, a.ID)
		}

		seen := make(map[string]struct{}, len(a.Proofs))
		for _, p := range a.Proofs {
			if err := p.Validate(); err != nil {
				return err
			}
			if p.AccountID != a.ID {
				return fmt.Errorf("%w: proof %v owned by "+
					"account %v", ErrRecordInvalid, p.ID,
					p.AccountID)
			}
			if _, ok := seen[p.Secret]; ok {
				return fmt.Errorf("%w: secret of proof %v",
					ErrDuplicateProof, p.ID)
			}
			seen[p.Secret] = struct{}{}
		}

	case AccountSpark:
		if a.MintURL != "" || len(a.Proofs) != 0 ||
			len(a.KeysetCounters) != 0 {

			return fmt.Errorf("%w: spark account %v carries "+
				"cashu fields", ErrRecordInvalid, a.ID)
		}
		if a.SparkBalance != nil &&
			a.SparkBalance.Currency() != a.Currency {

			return fmt.Errorf("%w: spark account %v balance "+
				"currency %v", ErrRecordInvalid, a.ID,
				a.SparkBalance.Currency())
		}

	default:
		return fmt.Errorf("%w: account %v has unknown type %d",
			ErrRecordInvalid, a.ID, a.Type)
	}

	return nil
}
