package userop

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

// wireOperation is the bundler JSON-RPC representation: every quantity and
// byte string is a 0x-prefixed hex value.
type wireOperation struct {
	Sender               string `json:"sender"`
	Nonce                string `json:"nonce"`
	InitCode             string `json:"initCode"`
	CallData             string `json:"callData"`
	CallGasLimit         string `json:"callGasLimit"`
	VerificationGasLimit string `json:"verificationGasLimit"`
	PreVerificationGas   string `json:"preVerificationGas"`
	MaxFeePerGas         string `json:"maxFeePerGas"`
	MaxPriorityFeePerGas string `json:"maxPriorityFeePerGas"`
	PaymasterAndData     string `json:"paymasterAndData"`
	Signature            string `json:"signature"`
}

// MarshalJSON returns the bundler compatible JSON encoding of the operation.
func (op UserOperation) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireOperation{
		Sender:               op.Sender.Hex(),
		Nonce:                encodeBig(op.Nonce),
		InitCode:             hexutil.Encode(op.InitCode),
		CallData:             hexutil.Encode(op.CallData),
		CallGasLimit:         encodeBig(op.CallGasLimit),
		VerificationGasLimit: encodeBig(op.VerificationGasLimit),
		PreVerificationGas:   encodeBig(op.PreVerificationGas),
		MaxFeePerGas:         encodeBig(op.MaxFeePerGas),
		MaxPriorityFeePerGas: encodeBig(op.MaxPriorityFeePerGas),
		PaymasterAndData:     hexutil.Encode(op.PaymasterAndData),
		Signature:            hexutil.Encode(op.Signature),
	})
}

// UnmarshalJSON does the reverse of the provided bundler custom
// JSON marshaler for a UserOperation.
func (op *UserOperation) UnmarshalJSON(data []byte) error {
	var aux wireOperation
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}

	if !common.IsHexAddress(aux.Sender) {
		return fmt.Errorf("invalid sender address %q", aux.Sender)
	}
	op.Sender = common.HexToAddress(aux.Sender)

	var err error
	quantities := []struct {
		name  string
		value string
		dst   **big.Int
	}{
		{"nonce", aux.Nonce, &op.Nonce},
		{"callGasLimit", aux.CallGasLimit, &op.CallGasLimit},
		{"verificationGasLimit", aux.VerificationGasLimit, &op.VerificationGasLimit},
		{"preVerificationGas", aux.PreVerificationGas, &op.PreVerificationGas},
		{"maxFeePerGas", aux.MaxFeePerGas, &op.MaxFeePerGas},
		{"maxPriorityFeePerGas", aux.MaxPriorityFeePerGas, &op.MaxPriorityFeePerGas},
	}
	for _, q := range quantities {
		*q.dst, err = hexutil.DecodeBig(q.value)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", q.name, err)
		}
	}

	blobs := []struct {
		name  string
		value string
		dst   *[]byte
	}{
		{"initCode", aux.InitCode, &op.InitCode},
		{"callData", aux.CallData, &op.CallData},
		{"paymasterAndData", aux.PaymasterAndData, &op.PaymasterAndData},
		{"signature", aux.Signature, &op.Signature},
	}
	for _, b := range blobs {
		*b.dst, err = hexutil.Decode(b.value)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", b.name, err)
		}
	}

	return nil
}

func encodeBig(b *big.Int) string {
	if b == nil {
		return "0x0"
	}
	return hexutil.EncodeBig(b)
}

// String renders op on a single line for logs. Fees are shown in gwei and
// byte fields by length, with the deployment and sponsorship state spelled
// out.
func (op *UserOperation) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "UserOperation{sender=%s nonce=%s", op.Sender.Hex(), bigOrZero(op.Nonce))

	if len(op.InitCode) == 0 {
		sb.WriteString(" deployed")
	} else {
		fmt.Fprintf(&sb, " factory=%s initCode=%dB", op.GetFactory().Hex(), len(op.InitCode))
	}
	fmt.Fprintf(&sb, " callData=%s", selectorOf(op.CallData))

	fmt.Fprintf(&sb, " gas=[call=%s verification=%s preVerification=%s]",
		bigOrZero(op.CallGasLimit), bigOrZero(op.VerificationGasLimit), bigOrZero(op.PreVerificationGas))
	fmt.Fprintf(&sb, " fees=[max=%s priority=%s gwei]", gwei(op.MaxFeePerGas), gwei(op.MaxPriorityFeePerGas))

	if op.IsSponsored() {
		fmt.Fprintf(&sb, " paymaster=%s", op.GetPaymaster().Hex())
	}
	fmt.Fprintf(&sb, " signed=%t}", op.HasSignature())
	return sb.String()
}

func selectorOf(data []byte) string {
	if len(data) < 4 {
		return hexutil.Encode(data)
	}
	return fmt.Sprintf("%s..(%dB)", hexutil.Encode(data[:4]), len(data))
}

func gwei(b *big.Int) string {
	return decimal.NewFromBigInt(bigOrZero(b), -9).String()
}
