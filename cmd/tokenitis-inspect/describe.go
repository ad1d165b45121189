package main

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/mr-tron/base58"
	"github.com/pkg/errors"

	"github.com/code-payments/tokenitis-server/pkg/ledger"
	"github.com/code-payments/tokenitis-server/pkg/solana/token"
	"github.com/code-payments/tokenitis-server/pkg/solana/tokenitis"
)

var (
	tokenProgramAddress     = base58.Encode(token.ProgramKey)
	tokenitisProgramAddress = base58.Encode(tokenitis.PROGRAM_ID)
)

// describeAccount writes a human readable rendering of account, decoding the
// data of accounts owned by the registry or token programs.
func describeAccount(w io.Writer, account *ledger.Account) error {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Address:      %s\n", account.Address)
	fmt.Fprintf(&sb, "Owner:        %s\n", account.Owner)
	fmt.Fprintf(&sb, "Data Length:  %d\n", len(account.Data))
	if !account.LastUpdatedAt.IsZero() {
		fmt.Fprintf(&sb, "Last Updated: %s\n", account.LastUpdatedAt.UTC().Format("2006-01-02T15:04:05Z"))
	}

	switch account.Owner {
	case tokenitisProgramAddress:
		var record tokenitis.TransformAccount
		if err := record.Unmarshal(account.Data); err != nil {
			return errors.Wrap(err, "invalid transform account")
		}

		sb.WriteString("Transform:\n")
		fmt.Fprintf(&sb, "  Initialized: %t\n", record.Initialized)
		fmt.Fprintf(&sb, "  Name:        %s\n", record.Metadata.Name)
		fmt.Fprintf(&sb, "  Symbol:      %s\n", record.Metadata.Symbol)
		fmt.Fprintf(&sb, "  Uri:         %s\n", record.Metadata.Uri)
		writeTokens(&sb, "Inputs", record.Inputs)
		writeTokens(&sb, "Outputs", record.Outputs)
	case tokenProgramAddress:
		var state token.Account
		if !state.Unmarshal(account.Data) {
			return errors.New("invalid token account")
		}

		sb.WriteString("Token Account:\n")
		fmt.Fprintf(&sb, "  Mint:      %s\n", base58.Encode(state.Mint))
		fmt.Fprintf(&sb, "  Authority: %s\n", base58.Encode(state.Owner))
		fmt.Fprintf(&sb, "  Amount:    %d\n", state.Amount)
		fmt.Fprintf(&sb, "  State:     %s\n", accountStateString(state.State))
		if len(state.Delegate) > 0 {
			fmt.Fprintf(&sb, "  Delegate:  %s (%d)\n", base58.Encode(state.Delegate), state.DelegatedAmount)
		}
	default:
		fmt.Fprintf(&sb, "Data:         %s\n", hex.EncodeToString(account.Data))
	}

	_, err := io.WriteString(w, sb.String())
	return err
}

func writeTokens(sb *strings.Builder, label string, tokens map[string]tokenitis.Token) {
	fmt.Fprintf(sb, "  %s:\n", label)
	if len(tokens) == 0 {
		sb.WriteString("    (none)\n")
		return
	}

	// Same order as the encoded record
	keys := make([][]byte, 0, len(tokens))
	for key := range tokens {
		decoded, err := base58.Decode(key)
		if err != nil {
			decoded = []byte(key)
		}
		keys = append(keys, decoded)
	}
	sort.Slice(keys, func(i, j int) bool {
		return bytes.Compare(keys[i], keys[j]) < 0
	})

	for _, key := range keys {
		address := base58.Encode(key)
		fmt.Fprintf(sb, "    %s: %d\n", address, tokens[address].Amount)
	}
}

func accountStateString(state token.AccountState) string {
	switch state {
	case token.AccountStateUninitialized:
		return "uninitialized"
	case token.AccountStateInitialized:
		return "initialized"
	case token.AccountStateFrozen:
		return "frozen"
	}
	return fmt.Sprintf("unknown(%d)", state)
}
