package main

import (
	"fmt"
	"os"
)

const usage = `triage - injury report automation engine

Usage:
  triage serve     [-env FILE]                      run scheduler and event intake
  triage trigger   [-env FILE] <submission-id> [on_submit|on_status_change]
  triage sweep     [-env FILE]                      run one escalation sweep
  triage migrate   [-env FILE]                      apply database migrations
  triage validate  <automation.json>                lint automation documents
  triage init      [flags]                          write ~/.triage/settings.json
  triage reload                                     ask a running server to reload config
  triage version
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	args := os.Args[2:]
	var code int
	switch os.Args[1] {
	case "serve":
		code = runServe(args)
	case "trigger":
		code = runTrigger(args)
	case "sweep":
		code = runSweep(args)
	case "migrate":
		code = runMigrate(args)
	case "validate":
		code = runValidate(args)
	case "init":
		code = runInit(args)
	case "reload":
		code = runReload()
	case "version", "-v", "--version":
		printVersion()
	case "help", "-h", "--help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		code = 2
	}
	os.Exit(code)
}
