// Package contracts holds the parsed ABIs of the on-chain components the
// wallet talks to: the v0.6 EntryPoint, the SimpleAccount and its factory,
// and ERC-20 tokens. Only the methods and errors actually used are declared.
package contracts

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

const entryPointABI = `[
	{"inputs":[{"internalType":"address","name":"sender","type":"address"}],"name":"SenderAddressResult","type":"error"},
	{"inputs":[{"internalType":"uint256","name":"opIndex","type":"uint256"},{"internalType":"string","name":"reason","type":"string"}],"name":"FailedOp","type":"error"},
	{"inputs":[{"internalType":"address","name":"sender","type":"address"},{"internalType":"uint192","name":"key","type":"uint192"}],"name":"getNonce","outputs":[{"internalType":"uint256","name":"nonce","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"internalType":"bytes","name":"initCode","type":"bytes"}],"name":"getSenderAddress","outputs":[],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"internalType":"address","name":"account","type":"address"}],"name":"balanceOf","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"}
]`

const simpleAccountABI = `[
	{"inputs":[{"internalType":"address","name":"dest","type":"address"},{"internalType":"uint256","name":"value","type":"uint256"},{"internalType":"bytes","name":"func","type":"bytes"}],"name":"execute","outputs":[],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"internalType":"address[]","name":"dest","type":"address[]"},{"internalType":"bytes[]","name":"func","type":"bytes[]"}],"name":"executeBatch","outputs":[],"stateMutability":"nonpayable","type":"function"}
]`

const accountFactoryABI = `[
	{"inputs":[{"internalType":"address","name":"owner","type":"address"},{"internalType":"uint256","name":"salt","type":"uint256"}],"name":"createAccount","outputs":[{"internalType":"contract SimpleAccount","name":"ret","type":"address"}],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"internalType":"address","name":"owner","type":"address"},{"internalType":"uint256","name":"salt","type":"uint256"}],"name":"getAddress","outputs":[{"internalType":"address","name":"","type":"address"}],"stateMutability":"view","type":"function"}
]`

const erc20ABI = `[
	{"inputs":[{"internalType":"address","name":"to","type":"address"},{"internalType":"uint256","name":"amount","type":"uint256"}],"name":"transfer","outputs":[{"internalType":"bool","name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"internalType":"address","name":"spender","type":"address"},{"internalType":"uint256","name":"amount","type":"uint256"}],"name":"approve","outputs":[{"internalType":"bool","name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"internalType":"address","name":"account","type":"address"}],"name":"balanceOf","outputs":[{"internalType":"uint256","name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"decimals","outputs":[{"internalType":"uint8","name":"","type":"uint8"}],"stateMutability":"view","type":"function"}
]`

var (
	EntryPoint     = mustParse("EntryPoint", entryPointABI)
	SimpleAccount  = mustParse("SimpleAccount", simpleAccountABI)
	AccountFactory = mustParse("SimpleAccountFactory", accountFactoryABI)
	ERC20          = mustParse("ERC20", erc20ABI)
)

func mustParse(name, definition string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(definition))
	if err != nil {
		panic(fmt.Sprintf("contracts: invalid %s ABI: %v", name, err))
	}
	return parsed
}

// CreateAccountInitCode returns the initCode deploying a SimpleAccount for
// owner with the given salt: the factory address followed by the
// createAccount calldata.
func CreateAccountInitCode(factory, owner common.Address, salt uint32) ([]byte, error) {
	callData, err := AccountFactory.Pack("createAccount", owner, new(big.Int).SetUint64(uint64(salt)))
	if err != nil {
		return nil, fmt.Errorf("failed to pack createAccount: %w", err)
	}

	return append(factory.Bytes(), callData...), nil
}

// ExecuteCallData encodes a single call executed by the account.
func ExecuteCallData(target common.Address, value *big.Int, data []byte) ([]byte, error) {
	if value == nil {
		value = new(big.Int)
	}
	if data == nil {
		data = []byte{}
	}

	return SimpleAccount.Pack("execute", target, value, data)
}

// ExecuteBatchCallData encodes a batch of value-less calls executed by the account.
func ExecuteBatchCallData(targets []common.Address, data [][]byte) ([]byte, error) {
	if len(targets) != len(data) {
		return nil, fmt.Errorf("executeBatch: %d targets but %d call datas", len(targets), len(data))
	}
	if len(targets) == 0 {
		return nil, fmt.Errorf("executeBatch: no calls")
	}

	normalized := make([][]byte, len(data))
	for i, d := range data {
		if d == nil {
			d = []byte{}
		}
		normalized[i] = d
	}

	return SimpleAccount.Pack("executeBatch", targets, normalized)
}

// TransferCallData encodes ERC-20 transfer(to, amount).
func TransferCallData(to common.Address, amount *big.Int) ([]byte, error) {
	return ERC20.Pack("transfer", to, amount)
}

// ApproveCallData encodes ERC-20 approve(spender, amount).
func ApproveCallData(spender common.Address, amount *big.Int) ([]byte, error) {
	return ERC20.Pack("approve", spender, amount)
}
