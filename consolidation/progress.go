package consolidation

import (
	"time"

	"github.com/blndgs/aawallet/registry"
	"github.com/blndgs/aawallet/units"
)

// Status is the state of one transfer. Transitions only move forward:
// pending, processing, then completed or failed.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusProcessing:
		return 1
	case StatusCompleted, StatusFailed:
		return 2
	default:
		return -1
	}
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// TransferKind distinguishes native and token transfers.
type TransferKind string

const (
	KindNative TransferKind = "native"
	KindToken  TransferKind = "token"
)

// TransferRecord tracks one planned transfer.
type TransferRecord struct {
	Symbol string       `json:"symbol"`
	Kind   TransferKind `json:"kind"`
	Amount string       `json:"amount"`
	Status Status       `json:"status"`
	TxHash string       `json:"txHash,omitempty"`
	Error  string       `json:"error,omitempty"`
}

// AccountProgress holds the transfers of one source account in execution
// order.
type AccountProgress struct {
	Account   registry.Account `json:"account"`
	Transfers []TransferRecord `json:"transfers"`
}

// Progress is the ledger of a consolidation run.
type Progress struct {
	Accounts   []AccountProgress `json:"accounts"`
	StartedAt  time.Time         `json:"startedAt"`
	FinishedAt *time.Time        `json:"finishedAt,omitempty"`
	Completed  int               `json:"completed"`
	Failed     int               `json:"failed"`
}

// Done reports whether every transfer reached a terminal status.
func (p *Progress) Done() bool {
	for _, a := range p.Accounts {
		for _, t := range a.Transfers {
			if !t.Status.Terminal() {
				return false
			}
		}
	}
	return true
}

func (p *Progress) clone() *Progress {
	if p == nil {
		return nil
	}
	out := *p
	if p.FinishedAt != nil {
		finished := *p.FinishedAt
		out.FinishedAt = &finished
	}
	out.Accounts = make([]AccountProgress, len(p.Accounts))
	for i, a := range p.Accounts {
		out.Accounts[i] = AccountProgress{
			Account:   a.Account,
			Transfers: append([]TransferRecord(nil), a.Transfers...),
		}
	}
	return &out
}

// seedProgress lays out every transfer of the plan as pending, tokens first
// and native last for each account.
func seedProgress(plan *Plan) *Progress {
	p := &Progress{
		Accounts:  make([]AccountProgress, 0, len(plan.FromAccounts)),
		StartedAt: time.Now().UTC(),
	}
	for _, ab := range plan.FromAccounts {
		if ab.TransferCount() == 0 {
			continue
		}
		ap := AccountProgress{Account: ab.Account}
		for _, tb := range ab.TokenTransfers() {
			ap.Transfers = append(ap.Transfers, TransferRecord{
				Symbol: tb.Token.Symbol,
				Kind:   KindToken,
				Amount: tb.Amount().String(),
				Status: StatusPending,
			})
		}
		if ab.HasNativeTransfer() {
			ap.Transfers = append(ap.Transfers, TransferRecord{
				Symbol: NativeSymbol,
				Kind:   KindNative,
				Amount: units.Format(ab.NativeTransfer, units.EtherDecimals),
				Status: StatusPending,
			})
		}
		p.Accounts = append(p.Accounts, ap)
	}
	return p
}
