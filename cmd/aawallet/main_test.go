package main

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"

	"github.com/blndgs/aawallet/submitter"
)

func TestParseRecipient(t *testing.T) {
	testCases := []struct {
		name     string
		input    string
		decimals uint8
		amount   string
		wantErr  bool
	}{
		{"usdc", "0x00000000000000000000000000000000000A11CE:1.5", 6, "1500000", false},
		{"ether", "0x00000000000000000000000000000000000A11CE:0.001", 18, "1000000000000000", false},
		{"missing amount", "0x00000000000000000000000000000000000A11CE", 6, "", true},
		{"bad address", "alice:1", 6, "", true},
		{"too precise", "0x00000000000000000000000000000000000A11CE:0.0000001", 6, "", true},
		{"zero", "0x00000000000000000000000000000000000A11CE:0", 6, "", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r, err := parseRecipient(tc.input, tc.decimals)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, common.HexToAddress("0x00000000000000000000000000000000000A11CE"), r.To)
			require.Equal(t, tc.amount, r.Amount.String())
		})
	}
}

func TestReport(t *testing.T) {
	var out bytes.Buffer
	cmd := &cobra.Command{}
	cmd.SetOut(&out)

	reverted := errors.New("user operation execution reverted")
	result := &submitter.Result{UserOpHash: common.HexToHash("0x01")}
	err := report(cmd, result, reverted)
	require.ErrorIs(t, err, reverted)
	require.Contains(t, out.String(), `"accepted": false`)
	require.Contains(t, out.String(), "reverted")

	out.Reset()
	rejected := errors.New("AA21 didn't pay prefund")
	require.ErrorIs(t, report(cmd, nil, rejected), rejected)
	require.Empty(t, out.String())
}

func TestCommandTree(t *testing.T) {
	for _, path := range [][]string{
		{"accounts", "list"},
		{"accounts", "create"},
		{"accounts", "rename"},
		{"accounts", "hide"},
		{"accounts", "unhide"},
		{"accounts", "switch"},
		{"transfer"},
		{"multisend"},
		{"approve"},
		{"consolidate"},
		{"serve"},
	} {
		cmd, _, err := rootCmd.Find(path)
		require.NoError(t, err, path)
		require.Equal(t, path[len(path)-1], cmd.Name())
	}
}
