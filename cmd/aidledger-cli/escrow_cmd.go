package main

import (
	"flag"
	"fmt"
	"io"
	"strings"
)

func runEscrowCommand(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(stderr, escrowUsage())
		return 1
	}
	switch args[0] {
	case "create":
		return runEscrowCreate(args[1:], stdout, stderr)
	case "get":
		return runEscrowID(args[1:], stdout, stderr, "escrow_get")
	case "update":
		return runEscrowUpdate(args[1:], stdout, stderr)
	case "release":
		return runEscrowSettle(args[1:], stdout, stderr, "escrow_release")
	case "refund":
		return runEscrowSettle(args[1:], stdout, stderr, "escrow_refund")
	case "count":
		return runEscrowCount(stdout, stderr)
	case "status":
		return runEscrowID(args[1:], stdout, stderr, "escrow_status")
	case "get-update":
		return runEscrowID(args[1:], stdout, stderr, "escrow_getUpdate")
	case "list":
		return runEscrowList(args[1:], stdout, stderr)
	default:
		fmt.Fprintf(stderr, "Unknown escrow subcommand: %s\n", args[0])
		fmt.Fprintln(stderr, escrowUsage())
		return 1
	}
}

func escrowUsage() string {
	return strings.TrimSpace(`
Usage: aidledger-cli escrow <subcommand>

Subcommands:
  create      Create a new escrow (caller is the donor)
  get         Fetch an escrow record by ID
  update      Amend amount/duration of a locked escrow (donor only)
  release     Release funds to the recipient
  refund      Refund funds to the donor
  count       Total escrows ever created
  status      Status of an escrow
  get-update  Latest retained amendment
  list        Escrow IDs created by a donor`)
}

func newEscrowFlagSet(name string, stderr io.Writer) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(stderr)
	return fs
}

func runEscrowCreate(args []string, stdout, stderr io.Writer) int {
	fs := newEscrowFlagSet("escrow create", stderr)
	var (
		caller      = fs.String("caller", "", "Donor principal (required)")
		recipient   = fs.String("recipient", "", "Recipient principal (required)")
		amount      = fs.String("amount", "", "Amount to lock (required)")
		duration    = fs.Uint64("duration", 0, "Duration in blocks (required)")
		penalty     = fs.Uint("penalty", 0, "Penalty percentage")
		threshold   = fs.Uint("threshold", 50, "Threshold percentage")
		escrowType  = fs.String("type", "donation", "Escrow type: donation|charity|aid")
		interest    = fs.Uint("interest", 0, "Interest percentage")
		grace       = fs.Uint("grace", 0, "Grace percentage")
		location    = fs.String("location", "", "Location (required)")
		currency    = fs.String("currency", "STX", "Currency: STX|USD|BTC")
		minAmount   = fs.String("min-amount", "", "Informational minimum amount (required)")
		maxAmount   = fs.String("max-amount", "", "Informational maximum amount (required)")
		condition   = fs.String("condition", "", "Release condition text (required)")
		releaseTime = fs.Uint64("release-time", 0, "Release height (required)")
		refundTime  = fs.Uint64("refund-time", 0, "Refund height (required)")
		arbiter     = fs.String("arbiter", "", "Arbiter principal (required)")
	)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	params := map[string]interface{}{
		"caller":      *caller,
		"recipient":   *recipient,
		"amount":      *amount,
		"duration":    *duration,
		"penalty":     *penalty,
		"threshold":   *threshold,
		"escrowType":  *escrowType,
		"interest":    *interest,
		"grace":       *grace,
		"location":    *location,
		"currency":    *currency,
		"minAmount":   *minAmount,
		"maxAmount":   *maxAmount,
		"condition":   *condition,
		"releaseTime": *releaseTime,
		"refundTime":  *refundTime,
		"arbiter":     *arbiter,
	}
	result, err := rpcCall("escrow_create", params)
	if err != nil {
		fmt.Fprintf(stderr, "escrow create failed: %v\n", err)
		return 1
	}
	printResult(stdout, result)
	return 0
}

func runEscrowID(args []string, stdout, stderr io.Writer, method string) int {
	fs := newEscrowFlagSet(method, stderr)
	id := fs.Uint64("id", 0, "Escrow ID (required)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	result, err := rpcCall(method, map[string]interface{}{"id": *id})
	if err != nil {
		fmt.Fprintf(stderr, "%s failed: %v\n", method, err)
		return 1
	}
	printResult(stdout, result)
	return 0
}

func runEscrowUpdate(args []string, stdout, stderr io.Writer) int {
	fs := newEscrowFlagSet("escrow update", stderr)
	var (
		id       = fs.Uint64("id", 0, "Escrow ID (required)")
		caller   = fs.String("caller", "", "Donor principal (required)")
		amount   = fs.String("amount", "", "New amount (required)")
		duration = fs.Uint64("duration", 0, "New duration (required)")
	)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	result, err := rpcCall("escrow_update", map[string]interface{}{
		"id":       *id,
		"caller":   *caller,
		"amount":   *amount,
		"duration": *duration,
	})
	if err != nil {
		fmt.Fprintf(stderr, "escrow update failed: %v\n", err)
		return 1
	}
	printResult(stdout, result)
	return 0
}

func runEscrowSettle(args []string, stdout, stderr io.Writer, method string) int {
	fs := newEscrowFlagSet(method, stderr)
	var (
		id     = fs.Uint64("id", 0, "Escrow ID (required)")
		caller = fs.String("caller", "", "Calling principal (required)")
	)
	if err := fs.Parse(args); err != nil {
		return 1
	}
	result, err := rpcCall(method, map[string]interface{}{"id": *id, "caller": *caller})
	if err != nil {
		fmt.Fprintf(stderr, "%s failed: %v\n", method, err)
		return 1
	}
	printResult(stdout, result)
	return 0
}

func runEscrowCount(stdout, stderr io.Writer) int {
	result, err := rpcCall("escrow_count", nil)
	if err != nil {
		fmt.Fprintf(stderr, "escrow count failed: %v\n", err)
		return 1
	}
	printResult(stdout, result)
	return 0
}

func runEscrowList(args []string, stdout, stderr io.Writer) int {
	fs := newEscrowFlagSet("escrow list", stderr)
	donor := fs.String("donor", "", "Donor principal (required)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	result, err := rpcCall("escrow_listByDonor", map[string]interface{}{"donor": *donor})
	if err != nil {
		fmt.Fprintf(stderr, "escrow list failed: %v\n", err)
		return 1
	}
	printResult(stdout, result)
	return 0
}
