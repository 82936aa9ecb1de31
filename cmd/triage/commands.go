package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rendis/triage/internal/intake"
	"github.com/rendis/triage/internal/store"
	"github.com/rendis/triage/internal/validation"
	"github.com/rendis/triage/pkg/schema"
)

// openApp parses the shared -env flag and wires the app.
func openApp(name string, args []string) (*app, *flag.FlagSet, int) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	envFile := fs.String("env", ".env", "env file loaded before reading TRIAGE_*/SMTP_* variables")
	if err := fs.Parse(args); err != nil {
		return nil, nil, 2
	}
	a, err := newApp(loadConfig(*envFile))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return nil, nil, 1
	}
	return a, fs, 0
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runTrigger(args []string) int {
	a, fs, code := openApp("trigger", args)
	if a == nil {
		return code
	}
	defer a.close()

	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Error: submission id required")
		return 2
	}
	kind := schema.TriggerOnSubmit
	if fs.NArg() > 1 {
		k, err := intake.ParseTrigger(fs.Arg(1))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 2
		}
		kind = k
	}

	ctx, cancel := signalContext()
	defer cancel()
	if err := a.migrate(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	report := a.runner.Trigger(ctx, fs.Arg(0), kind)
	printJSON(report)
	if report.Err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", report.Err)
		return 1
	}
	return 0
}

func runSweep(args []string) int {
	a, _, code := openApp("sweep", args)
	if a == nil {
		return code
	}
	defer a.close()

	ctx, cancel := signalContext()
	defer cancel()
	if err := a.migrate(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	printJSON(a.sweeper.Sweep(ctx))
	return 0
}

func runMigrate(args []string) int {
	a, _, code := openApp("migrate", args)
	if a == nil {
		return code
	}
	defer a.close()

	if err := a.migrate(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	fmt.Println("migrations applied")
	return 0
}

// runValidate lints automation documents without touching the database.
func runValidate(args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "Error: usage: triage validate <automation.json>")
		return 2
	}
	v, err := validation.NewJSONSchemaValidator()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}
	results, err := validateFile(args[0], v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	printJSON(results)
	for _, r := range results {
		if !r.Result.Valid() {
			return 1
		}
	}
	return 0
}

// lintReport is the validate output for one automation.
type lintReport struct {
	ID     string                   `json:"id,omitempty"`
	Name   string                   `json:"name,omitempty"`
	Result *schema.ValidationResult `json:"result"`
}

// validateFile lints a file holding one automation object or an array of
// them.
func validateFile(path string, v validation.Validator) ([]lintReport, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var autos []*store.Automation
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		err = json.Unmarshal(trimmed, &autos)
	} else {
		var one store.Automation
		err = json.Unmarshal(trimmed, &one)
		autos = []*store.Automation{&one}
	}
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	out := make([]lintReport, 0, len(autos))
	for _, a := range autos {
		out = append(out, lintReport{ID: a.ID, Name: a.Name, Result: v.Lint(a)})
	}
	return out, nil
}

func printJSON(v any) {
	data, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(data))
}
