package main

import (
	"fmt"
	"os"
	"strings"
)

const (
	rpcURLEnv   = "AIDLEDGER_RPC_URL"
	rpcTokenEnv = "AIDLEDGER_RPC_TOKEN"
	defaultURL  = "http://127.0.0.1:8645"
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, usage())
		return 1
	}
	switch args[0] {
	case "escrow":
		return runEscrowCommand(args[1:], os.Stdout, os.Stderr)
	case "fees":
		return runFeesCommand(args[1:], os.Stdout, os.Stderr)
	case "bank":
		return runBankCommand(args[1:], os.Stdout, os.Stderr)
	case "chain":
		return runChainCommand(args[1:], os.Stdout, os.Stderr)
	case "help", "-h", "--help":
		fmt.Fprintln(os.Stdout, usage())
		return 0
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
		fmt.Fprintln(os.Stderr, usage())
		return 1
	}
}

func rpcURL() string {
	if url := strings.TrimSpace(os.Getenv(rpcURLEnv)); url != "" {
		return url
	}
	return defaultURL
}

func usage() string {
	return strings.TrimSpace(`
Usage: aidledger-cli <command> [args]

Commands:
  escrow create|get|update|release|refund|count|status|get-update|list
  fees   set-authority|set-fee|get
  bank   mint|balance
  chain  height|advance

The RPC endpoint defaults to ` + defaultURL + ` and can be overridden with ` + rpcURLEnv + `.`)
}
