package main

import (
	"fmt"
	"io"
	"strings"
)

func runFeesCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, feesUsage())
		return 1
	}
	switch args[0] {
	case "set-authority":
		fs := newEscrowFlagSet("fees set-authority", stderr)
		authority := fs.String("authority", "", "Authority principal (required)")
		if err := fs.Parse(args[1:]); err != nil {
			return 1
		}
		return call(stdout, stderr, "fees_setAuthority", map[string]interface{}{"authority": *authority})
	case "set-fee":
		fs := newEscrowFlagSet("fees set-fee", stderr)
		fee := fs.String("fee", "", "New creation fee (required)")
		if err := fs.Parse(args[1:]); err != nil {
			return 1
		}
		return call(stdout, stderr, "fees_setFee", map[string]interface{}{"fee": *fee})
	case "get":
		return call(stdout, stderr, "fees_get", nil)
	default:
		fmt.Fprintf(stderr, "Unknown fees subcommand: %s\n", args[0])
		fmt.Fprintln(stderr, feesUsage())
		return 1
	}
}

func feesUsage() string {
	return strings.TrimSpace(`
Usage: aidledger-cli fees <set-authority|set-fee|get>`)
}

func runBankCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, bankUsage())
		return 1
	}
	switch args[0] {
	case "mint":
		fs := newEscrowFlagSet("bank mint", stderr)
		to := fs.String("to", "", "Recipient principal (required)")
		amount := fs.String("amount", "", "Amount to mint (required)")
		if err := fs.Parse(args[1:]); err != nil {
			return 1
		}
		return call(stdout, stderr, "bank_mint", map[string]interface{}{"to": *to, "amount": *amount})
	case "balance":
		fs := newEscrowFlagSet("bank balance", stderr)
		principal := fs.String("principal", "", "Principal (required)")
		if err := fs.Parse(args[1:]); err != nil {
			return 1
		}
		return call(stdout, stderr, "bank_balance", map[string]interface{}{"principal": *principal})
	default:
		fmt.Fprintf(stderr, "Unknown bank subcommand: %s\n", args[0])
		fmt.Fprintln(stderr, bankUsage())
		return 1
	}
}

func bankUsage() string {
	return strings.TrimSpace(`
Usage: aidledger-cli bank <mint|balance>`)
}

func runChainCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, chainUsage())
		return 1
	}
	switch args[0] {
	case "height":
		return call(stdout, stderr, "chain_height", nil)
	case "advance":
		fs := newEscrowFlagSet("chain advance", stderr)
		blocks := fs.Uint64("blocks", 1, "Blocks to advance")
		height := fs.Uint64("height", 0, "Absolute height to jump to (overrides -blocks)")
		if err := fs.Parse(args[1:]); err != nil {
			return 1
		}
		params := map[string]interface{}{}
		if *height > 0 {
			params["height"] = *height
		} else {
			params["blocks"] = *blocks
		}
		return call(stdout, stderr, "chain_advance", params)
	default:
		fmt.Fprintf(stderr, "Unknown chain subcommand: %s\n", args[0])
		fmt.Fprintln(stderr, chainUsage())
		return 1
	}
}

func chainUsage() string {
	return strings.TrimSpace(`
Usage: aidledger-cli chain <height|advance>`)
}

func call(stdout, stderr io.Writer, method string, params interface{}) int {
	result, err := rpcCall(method, params)
	if err != nil {
		fmt.Fprintf(stderr, "%s failed: %v\n", method, err)
		return 1
	}
	printResult(stdout, result)
	return 0
}
