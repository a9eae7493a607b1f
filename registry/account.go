package registry

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Account is the durable part of a smart account owned by the signer.
// Builder instances are never persisted.
type Account struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Address   common.Address `json:"address"`
	Salt      uint32         `json:"salt"`
	CreatedAt time.Time      `json:"createdAt"`
	Hidden    bool           `json:"hidden"`
}

// AuthContext identifies who is logged in. Accounts are namespaced by
// (signer address, auth method).
type AuthContext struct {
	Owner      common.Address
	AuthMethod string
}

// DefaultAuthMethod is used when AuthContext.AuthMethod is empty.
const DefaultAuthMethod = "privateKey"

func (a AuthContext) method() string {
	if a.AuthMethod == "" {
		return DefaultAuthMethod
	}
	return a.AuthMethod
}

// StorageKey is the key the account record of this context is persisted under.
func (a AuthContext) StorageKey() string {
	return fmt.Sprintf("aawallet:accounts:%s:%s", strings.ToLower(a.Owner.Hex()), a.method())
}

// record is the persisted form.
type record struct {
	Version  int       `json:"version"`
	ActiveID string    `json:"activeId"`
	Accounts []Account `json:"accounts"`
}

const recordVersion = 1

// validate rejects a restored record whose primary is missing, salted or
// hidden, or whose ids or addresses repeat.
func (rec *record) validate() error {
	if len(rec.Accounts) == 0 {
		return fmt.Errorf("%w: no accounts", ErrCorruptRecord)
	}
	if primary := rec.Accounts[0]; primary.Salt != 0 || primary.Hidden {
		return fmt.Errorf("%w: invalid primary account", ErrCorruptRecord)
	}

	ids := make(map[string]struct{}, len(rec.Accounts))
	addresses := make(map[common.Address]struct{}, len(rec.Accounts))
	for _, acct := range rec.Accounts {
		if _, ok := ids[acct.ID]; ok {
			return fmt.Errorf("%w: duplicate id %s", ErrCorruptRecord, acct.ID)
		}
		if _, ok := addresses[acct.Address]; ok {
			return fmt.Errorf("%w: duplicate address %s", ErrCorruptRecord, acct.Address.Hex())
		}
		ids[acct.ID] = struct{}{}
		addresses[acct.Address] = struct{}{}
	}
	return nil
}

func defaultName(index int) string {
	return fmt.Sprintf("Account %d", index+1)
}
