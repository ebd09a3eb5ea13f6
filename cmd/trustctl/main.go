// Trustctl is an offline tool for access fixtures and audit exports.
//
//	trustctl resolve [--fixture file.yaml] [--at RFC3339] [--principal id]
//	trustctl verify --file records.json [--secret s]
package main

import (
	"fmt"
	"io"
	"os"
)

const usage = `usage: trustctl <command> [flags]

commands:
  resolve   evaluate a fixture's access checks against in-memory stores
  verify    check checksums and signatures of exported audit records
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return 2
	}
	switch args[0] {
	case "resolve":
		return resolveCmd(args[1:], stdout, stderr)
	case "verify":
		return verifyCmd(args[1:], stdin, stdout, stderr)
	case "-h", "--help", "help":
		fmt.Fprint(stdout, usage)
		return 0
	default:
		fmt.Fprintf(stderr, "trustctl: unknown command %q\n\n%s", args[0], usage)
		return 2
	}
}
