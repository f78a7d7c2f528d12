// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/curioloop/nlpadapter/config"
	"github.com/curioloop/nlpadapter/host"
	"github.com/curioloop/nlpadapter/metrics"
	"github.com/curioloop/nlpadapter/nlp"
	"github.com/curioloop/nlpadapter/numdiff"
	"github.com/curioloop/nlpadapter/plugin"
	"github.com/curioloop/nlpadapter/plugin/derivcheck"
	"github.com/curioloop/nlpadapter/problems"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
)

// errCheckFailed is returned when the solve did not succeed.
var errCheckFailed = errors.New("solve did not succeed")

type runFlags struct {
	config     string
	solver     string
	problem    string
	x0         []float64
	set        []string
	fatal      bool
	printLevel int
	metrics    bool
	approx     bool
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "nlpcheck",
		Short:         "Drive NLP solver plugins through the evaluation callbacks",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newRunCmd(), newListCmd())
	return root
}

func newRunCmd() *cobra.Command {
	f := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a solver plugin on a reference problem",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd, f)
		},
	}
	fs := cmd.Flags()
	fs.StringVarP(&f.config, "config", "c", "", "yaml run file")
	fs.StringVar(&f.solver, "solver", derivcheck.Name, "solver plugin name")
	fs.StringVarP(&f.problem, "problem", "p", "hs071", "reference problem name")
	fs.Float64SliceVar(&f.x0, "x0", nil, "starting point, the problem default when empty")
	fs.StringArrayVar(&f.set, "set", nil, "solver option as key=value, may be repeated")
	fs.BoolVar(&f.fatal, "fatal", false, "abort on the first failed callback")
	fs.IntVar(&f.printLevel, "print-level", int(nlp.LogFailure), "callback log level (-1 to 101)")
	fs.BoolVar(&f.metrics, "metrics", false, "print callback metrics after the run")
	fs.BoolVar(&f.approx, "approx", false, "replace the problem derivatives with finite differences")
	return cmd
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List solver plugins and reference problems",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg, err := newRegistry(derivcheck.Env{})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "solvers:")
			for _, name := range reg.Names() {
				p, _ := reg.Lookup(name)
				fmt.Fprintf(out, "  %-12s %s\n", name, p.Doc)
			}
			fmt.Fprintln(out, "problems:")
			for _, e := range problems.All() {
				fmt.Fprintf(out, "  %-12s %s\n", e.Name, e.Doc)
			}
			return nil
		},
	}
}

func newRegistry(env derivcheck.Env) (*plugin.Registry, error) {
	return plugin.NewRegistry(derivcheck.Plugin(env))
}

// resolve merges the run file with the flags; flags win when set.
func resolve(cmd *cobra.Command, f *runFlags) (*config.File, error) {
	file := &config.File{}
	if f.config != "" {
		var err error
		if file, err = config.Load(f.config); err != nil {
			return nil, err
		}
	}

	fs := cmd.Flags()
	if file.Solver == "" || fs.Changed("solver") {
		file.Solver = f.solver
	}
	if file.Problem == "" || fs.Changed("problem") {
		file.Problem = f.problem
	}
	if fs.Changed("x0") {
		file.X0 = f.x0
	}

	overrides := config.Options{}
	for _, s := range f.set {
		if err := overrides.Set(s); err != nil {
			return nil, err
		}
	}
	if fs.Changed("fatal") {
		overrides["eval_errors_fatal"] = f.fatal
	}
	if _, ok := file.Options["print_level"]; !ok || fs.Changed("print-level") {
		overrides["print_level"] = f.printLevel
	}
	file.Options = file.Options.Merge(overrides)
	return file, nil
}

func run(cmd *cobra.Command, f *runFlags) error {
	file, err := resolve(cmd, f)
	if err != nil {
		return err
	}

	entry, err := problems.Lookup(file.Problem)
	if err != nil {
		return err
	}
	fn, err := entry.New()
	if err != nil {
		return err
	}
	if f.approx {
		n, m := fn.Dims()
		if fn, err = host.NewApprox(n, m, fn.Objective, fn.Constraints, numdiff.Central); err != nil {
			return err
		}
	}
	x0 := file.X0
	if len(x0) == 0 {
		x0 = entry.X0
	}
	// finite differences stay within the problem bounds unless the run says otherwise
	if _, ok := file.Options["bounds"]; !ok && entry.Bounds != nil {
		file.Options = file.Options.Merge(config.Options{"bounds": entry.Bounds})
	}

	env := derivcheck.Env{Log: cmd.ErrOrStderr()}
	var reg *prometheus.Registry
	if f.metrics {
		reg = prometheus.NewRegistry()
		env.Observer = metrics.New(reg)
	}

	plugins, err := newRegistry(env)
	if err != nil {
		return err
	}
	solver, err := plugins.New(file.Solver, fn, file.Options)
	if err != nil {
		return err
	}

	level := slog.LevelWarn
	if printLevel(file.Options) >= int(nlp.LogEval) {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
	logger.Info("solve started", "solver", file.Solver, "problem", entry.Name, "n", len(x0))

	res, err := solver.Solve(x0)
	if err != nil {
		logger.Error("solve aborted", "solver", file.Solver, "problem", entry.Name, "error", err)
		return err
	}
	logger.Info("solve finished", "run_id", res.RunID, "status", res.Status.String(), "evaluations", res.NumEval)

	out := cmd.OutOrStdout()
	report(out, solver.Name(), entry.Name, res)
	if reg != nil {
		if err = dumpMetrics(out, reg); err != nil {
			return err
		}
	}
	if !res.OK {
		logger.Warn("solve did not succeed", "run_id", res.RunID, "status", res.Status.String())
		return fmt.Errorf("%w: %s", errCheckFailed, res.Status)
	}
	return nil
}

// printLevel returns the resolved print_level option.
func printLevel(opts config.Options) int {
	switch v := opts["print_level"].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return int(nlp.LogFailure)
}

func report(w io.Writer, solver, problem string, res *plugin.Result) {
	fmt.Fprintf(w, "run %s: %s on %s\n", res.RunID, solver, problem)
	fmt.Fprintf(w, "status: %s\n", res.Status)
	fmt.Fprintf(w, "evaluations: %d\n", res.NumEval)
	fmt.Fprintf(w, "x = %v\n", res.X)
	fmt.Fprintf(w, "f = %.10g\n", res.F)
	if len(res.G) > 0 {
		fmt.Fprintf(w, "g = %v\n", res.G)
	}
	if r, ok := res.Details.(*derivcheck.Report); ok {
		fmt.Fprintf(w, "checked %d entries in %s, max relative error %.3e\n", r.Checked, r.Elapsed, r.MaxRelErr)
		for _, d := range r.Deviations {
			fmt.Fprintf(w, "  %v\n", d)
		}
	}
}

func dumpMetrics(w io.Writer, reg prometheus.Gatherer) error {
	families, err := reg.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			labels := make([]string, 0, len(m.GetLabel()))
			for _, l := range m.GetLabel() {
				labels = append(labels, fmt.Sprintf("%s=%q", l.GetName(), l.GetValue()))
			}
			name := mf.GetName() + "{" + strings.Join(labels, ",") + "}"
			switch {
			case m.GetCounter() != nil:
				fmt.Fprintf(w, "%s %g\n", name, m.GetCounter().GetValue())
			case m.GetHistogram() != nil:
				h := m.GetHistogram()
				fmt.Fprintf(w, "%s count=%d sum=%gs\n", name, h.GetSampleCount(), h.GetSampleSum())
			}
		}
	}
	return nil
}
