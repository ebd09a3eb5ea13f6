package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"trustlayer/internal/app"
	"trustlayer/internal/clock"
	"trustlayer/internal/fixture"
	permdomain "trustlayer/internal/permission/domain"
	"trustlayer/internal/permission/resolver"
)

func resolveCmd(args []string, stdout, stderr io.Writer) int {
	fs := pflag.NewFlagSet("resolve", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	file := fs.StringP("fixture", "f", "", "fixture YAML (default: embedded development fixture)")
	at := fs.String("at", "", "evaluation time, RFC3339 (default: now)")
	principal := fs.StringP("principal", "p", "", "also print the effective permissions of this principal")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	now := time.Now().UTC()
	if *at != "" {
		t, err := time.Parse(time.RFC3339, *at)
		if err != nil {
			fmt.Fprintf(stderr, "trustctl: --at: %v\n", err)
			return 2
		}
		now = t.UTC()
	}

	fx, err := loadFixture(*file)
	if err != nil {
		fmt.Fprintln(stderr, "trustctl:", err)
		return 1
	}
	ctx := context.Background()
	res, results, err := evaluate(ctx, fx, now)
	if err != nil {
		fmt.Fprintln(stderr, "trustctl:", err)
		return 1
	}
	failed := writeResults(stdout, results)

	if *principal != "" {
		perms, err := res.Effective(ctx, *principal, permdomain.RequestContext{Now: now})
		if err != nil {
			fmt.Fprintln(stderr, "trustctl:", err)
			return 1
		}
		writeEffective(stdout, *principal, perms)
	}
	if failed > 0 {
		fmt.Fprintf(stderr, "%d of %d checks failed\n", failed, len(results))
		return 1
	}
	return 0
}

func loadFixture(path string) (*fixture.Fixture, error) {
	if path == "" {
		return fixture.Parse(bytes.NewReader(fixture.Development))
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return fixture.Parse(f)
}

// evaluate loads fx into fresh memory stores frozen at now and runs its checks.
func evaluate(ctx context.Context, fx *fixture.Fixture, now time.Time) (*resolver.Resolver, []fixture.Result, error) {
	clk := clock.NewFake(now)
	stores := app.MemoryStores(clk)
	if err := fx.Apply(ctx, fixture.Stores{Directory: stores.Directory, Grants: stores.Grants, Policies: stores.Policies}, now); err != nil {
		return nil, nil, err
	}
	res := resolver.New(stores.Grants, stores.Directory, resolver.WithClock(clk), resolver.WithLogger(zap.NewNop()))
	results, err := fx.Run(ctx, res, now)
	if err != nil {
		return nil, nil, err
	}
	return res, results, nil
}

// writeResults prints one row per check and returns the number of failures.
func writeResults(w io.Writer, results []fixture.Result) int {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RESULT\tPRINCIPAL\tACTION\tRESOURCE\tLEVEL\tEXPECT\tREASON")
	failed := 0
	for _, r := range results {
		status := "ok"
		if !r.Pass {
			status = "FAIL"
			failed++
		}
		expect := "-"
		if r.Check.Expect != nil {
			expect = r.Check.Expect.String()
		}
		reason := r.Decision.Reason
		if reason == "" {
			reason = "-"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n", status, r.Check.Principal, r.Check.Action,
			r.Check.Resource, r.Decision.Level, expect, reason)
	}
	tw.Flush()
	return failed
}

func writeEffective(w io.Writer, principal string, perms []permdomain.EffectivePermission) {
	sorted := append([]permdomain.EffectivePermission(nil), perms...)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Resource != sorted[j].Resource {
			return sorted[i].Resource < sorted[j].Resource
		}
		return sorted[i].Action < sorted[j].Action
	})
	s := resolver.Summarize(sorted)
	fmt.Fprintf(w, "\neffective permissions for %s: %d total, %d granted, %d restricted\n",
		principal, s.Total, s.Granted, s.Restricted)
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RESOURCE\tACTION\tLEVEL\tSOURCE")
	for _, p := range sorted {
		src := "-"
		if p.Source != nil {
			name := p.Source.Name
			if name == "" {
				name = p.Source.ID
			}
			src = string(p.Source.Type) + ":" + name
		}
		if p.Restricted {
			src += " (restricted)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.Resource, p.Action, p.Level, src)
	}
	tw.Flush()
}
