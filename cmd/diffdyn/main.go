package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/san-kum/diffdyn/internal/analysis"
	"github.com/san-kum/diffdyn/internal/automation"
	"github.com/san-kum/diffdyn/internal/config"
	"github.com/san-kum/diffdyn/internal/export"
	"github.com/san-kum/diffdyn/internal/gradcheck"
	"github.com/san-kum/diffdyn/internal/metrics"
	"github.com/san-kum/diffdyn/internal/neural"
	"github.com/san-kum/diffdyn/internal/scenario"
	"github.com/san-kum/diffdyn/internal/sim"
	"github.com/san-kum/diffdyn/internal/simulation"
	"github.com/san-kum/diffdyn/internal/storage"
	"github.com/san-kum/diffdyn/internal/viz"
	"github.com/spf13/cobra"
)

var (
	dataDir    string
	logLevel   string
	configFile string
	preset     string
	dt         float64
	steps      int
	backprop   bool
	outFile    string
	kind       string
	tolerance  float64
	velocities bool
	dofIndex   int
	sweepFrom  float64
	sweepTo    float64
	sweepN     int
	trials     int
	perturb    float64
	seed       int64
	parallel   int
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "diffdyn",
		Short:         "differentiable rigid-body simulation with contact",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging(logLevel)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return viz.RunInteractive(scenario.NewRegistry(), nil)
		},
	}

	rootCmd.PersistentFlags().StringVar(&dataDir, "data", ".diffdyn", "data directory")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	runCmd := &cobra.Command{
		Use:   "run [scenario]",
		Short: "run a rollout and save it",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runSimulation,
	}
	addRunFlags(runCmd)
	runCmd.Flags().BoolVar(&backprop, "backprop", false, "differentiate the final positions with respect to the initial state")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list saved runs",
		Args:  cobra.NoArgs,
		RunE:  listRuns,
	}

	plotCmd := &cobra.Command{
		Use:   "plot [run_id]",
		Short: "plot a saved run",
		Args:  cobra.ExactArgs(1),
		RunE:  plotRun,
	}
	plotCmd.Flags().BoolVar(&velocities, "velocities", false, "plot velocities instead of positions")

	exportJSONCmd := &cobra.Command{
		Use:   "export-json [run_id]",
		Short: "export a run to JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return exportRun(args[0], (*storage.Store).ExportJSON)
		},
	}
	exportJSONCmd.Flags().StringVarP(&outFile, "out", "o", "", "output file (default stdout)")

	exportCSVCmd := &cobra.Command{
		Use:   "export-csv [run_id]",
		Short: "export a run to CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return exportRun(args[0], (*storage.Store).ExportCSV)
		},
	}
	exportCSVCmd.Flags().StringVarP(&outFile, "out", "o", "", "output file (default stdout)")

	checkCmd := &cobra.Command{
		Use:   "check [scenario...]",
		Short: "compare analytical derivatives with finite differences",
		RunE:  checkGradients,
	}
	checkCmd.Flags().Float64Var(&tolerance, "tol", gradcheck.DefaultTolerance, "relative tolerance")

	jacobianCmd := &cobra.Command{
		Use:   "jacobian [scenario]",
		Short: "print one step Jacobian next to its finite-difference estimate",
		Args:  cobra.ExactArgs(1),
		RunE:  printJacobian,
	}
	jacobianCmd.Flags().StringVar(&kind, "kind", string(gradcheck.VelVel), "one of vel-vel, force-vel, pos-vel, pos-pos, vel-pos")

	liveCmd := &cobra.Command{
		Use:   "live [scenario]",
		Short: "step a scenario with live visualization",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runLive,
	}
	addRunFlags(liveCmd)

	analyzeCmd := &cobra.Command{
		Use:   "analyze [scenario]",
		Short: "Lyapunov spectrum, frequencies and phase portrait of a rollout",
		Args:  cobra.MaximumNArgs(1),
		RunE:  analyzeRollout,
	}
	addRunFlags(analyzeCmd)
	analyzeCmd.Flags().IntVar(&dofIndex, "dof", 0, "world dof index for the phase portrait")

	sweepCmd := &cobra.Command{
		Use:   "sweep [scenario]",
		Short: "final position of one dof across a range of friction coefficients",
		Args:  cobra.MaximumNArgs(1),
		RunE:  sweepFriction,
	}
	addRunFlags(sweepCmd)
	sweepCmd.Flags().IntVar(&dofIndex, "dof", 0, "world dof index to observe")
	sweepCmd.Flags().Float64Var(&sweepFrom, "from", 0.1, "lowest friction coefficient")
	sweepCmd.Flags().Float64Var(&sweepTo, "to", 1, "highest friction coefficient")
	sweepCmd.Flags().IntVar(&sweepN, "n", 10, "number of rollouts")

	batchCmd := &cobra.Command{
		Use:   "batch [file.yaml]",
		Short: "run and save every rollout listed in a batch file",
		Args:  cobra.ExactArgs(1),
		RunE:  runBatch,
	}
	batchCmd.Flags().IntVar(&parallel, "parallel", 0, "rollouts at a time (0 means all)")

	monteCarloCmd := &cobra.Command{
		Use:   "montecarlo [scenario]",
		Short: "count stable rollouts over randomly perturbed initial positions",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runMonteCarlo,
	}
	addRunFlags(monteCarloCmd)
	monteCarloCmd.Flags().IntVar(&trials, "trials", 20, "number of trials")
	monteCarloCmd.Flags().Float64Var(&perturb, "perturb", 0.01, "largest displacement of each initial position")
	monteCarloCmd.Flags().Int64Var(&seed, "seed", 1, "random seed")
	monteCarloCmd.Flags().IntVar(&parallel, "parallel", 0, "trials at a time (0 means all)")

	exportSVGCmd := &cobra.Command{
		Use:   "export-svg [run_id]",
		Short: "export the phase portrait of one dof of a saved run as SVG",
		Args:  cobra.ExactArgs(1),
		RunE:  exportSVG,
	}
	exportSVGCmd.Flags().IntVar(&dofIndex, "dof", 0, "world dof index")
	exportSVGCmd.Flags().StringVarP(&outFile, "out", "o", "", "output file (default stdout)")

	renderSVGCmd := &cobra.Command{
		Use:   "render-svg [scenario]",
		Short: "render the initial wireframe of a scenario as SVG",
		Args:  cobra.MaximumNArgs(1),
		RunE:  renderSVG,
	}
	addRunFlags(renderSVGCmd)
	renderSVGCmd.Flags().StringVarP(&outFile, "out", "o", "", "output file (default stdout)")

	presetsCmd := &cobra.Command{
		Use:   "presets [scenario]",
		Short: "list the presets of a scenario",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			presets := config.ListPresets(args[0])
			if len(presets) == 0 {
				fmt.Printf("no presets for scenario: %s\n", args[0])
				return nil
			}
			fmt.Printf("presets for %s:\n", args[0])
			for _, p := range presets {
				fmt.Printf("  %s\n", p)
			}
			return nil
		},
	}

	scenariosCmd := &cobra.Command{
		Use:   "scenarios",
		Short: "list the built-in scenarios",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg := scenario.NewRegistry()
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			for _, name := range reg.List() {
				desc, _ := reg.Describe(name)
				fmt.Fprintf(w, "%s\t%s\n", name, desc)
			}
			return w.Flush()
		},
	}

	rootCmd.AddCommand(runCmd, listCmd, plotCmd, exportJSONCmd, exportCSVCmd, checkCmd, jacobianCmd, liveCmd, analyzeCmd, sweepCmd, batchCmd, monteCarloCmd, exportSVGCmd, renderSVGCmd, presetsCmd, scenariosCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().Float64Var(&dt, "dt", config.DefaultDt, "timestep")
	cmd.Flags().IntVar(&steps, "steps", config.DefaultSteps, "number of steps")
	cmd.Flags().StringVar(&configFile, "config", "", "config file path (yaml)")
	cmd.Flags().StringVar(&preset, "preset", "", "use preset configuration")
}

func setupLogging(level string) error {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid --log-level %q: %w", level, err)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})))
	return nil
}

// resolveConfig layers defaults, the preset, the config file and finally any
// flag set on the command line.
func resolveConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	cfg := config.DefaultConfig()
	name := cfg.Scenario
	if len(args) > 0 {
		name = args[0]
	}

	if preset != "" {
		p := config.GetPreset(name, preset)
		if p == nil {
			return nil, fmt.Errorf("unknown preset: %s (available: %v)", preset, config.ListPresets(name))
		}
		cfg = p
	}

	if configFile != "" {
		loaded, err := config.Load(configFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		cfg = loaded
	}

	if len(args) > 0 {
		cfg.Scenario = args[0]
	}
	if cmd.Flags().Changed("dt") {
		cfg.Dt = dt
	}
	if cmd.Flags().Changed("steps") {
		cfg.Steps = steps
	}
	if cmd.Flags().Changed("backprop") {
		cfg.Backprop = backprop
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func buildWorld(cfg *config.Config) (*simulation.World, error) {
	w, err := scenario.NewRegistry().Build(cfg.Scenario)
	if err != nil {
		return nil, err
	}
	if err := cfg.Apply(w); err != nil {
		return nil, err
	}
	return w, nil
}

func runSimulation(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd, args)
	if err != nil {
		return err
	}
	w, err := buildWorld(cfg)
	if err != nil {
		return err
	}

	st := storage.New(dataDir)
	if err := st.Init(); err != nil {
		return err
	}
	meta := storage.MetadataFor(cfg.Scenario, w)
	meta.Preset = preset

	s := sim.New(w, cfg.NewStepper())
	ctrl, err := cfg.NewController(w)
	if err != nil {
		return err
	}
	if ctrl != nil {
		s.SetController(ctrl)
	}
	for _, m := range metrics.Default() {
		s.AddMetric(m)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	fmt.Printf("running %s for %d steps...\n", cfg.Scenario, cfg.Steps)
	start := time.Now()
	result, runErr := s.Run(ctx, sim.Config{Steps: cfg.Steps, Backprop: cfg.Backprop})
	elapsed := time.Since(start)
	if result == nil {
		return runErr
	}
	if runErr != nil {
		slog.Warn("rollout stopped early, saving partial result", "steps", result.StepsTaken, "error", runErr)
	}

	runID, err := st.Save(meta, result)
	if err != nil {
		return err
	}

	fmt.Printf("completed in %v\n", elapsed)
	fmt.Printf("run id: %s\n", runID)
	fmt.Printf("steps: %d\n", result.StepsTaken)
	fmt.Printf("energy drift: %.3e\n", result.EnergyDrift)
	fmt.Println("\nmetrics:")
	names := make([]string, 0, len(result.Metrics))
	for name := range result.Metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("  %s: %.6f\n", name, result.Metrics[name])
	}

	if cfg.Backprop && runErr == nil {
		if err := printTrajectoryGradient(s, result, meta.Dofs); err != nil {
			return err
		}
	}
	return runErr
}

// printTrajectoryGradient differentiates the sum of final positions.
func printTrajectoryGradient(s *sim.Simulator, result *sim.Result, dofs []string) error {
	n := s.World().NumDofs()
	loss := neural.NewLossGradient(n)
	for i := range loss.Position {
		loss.Position[i] = 1
	}
	grad, err := s.Backprop(result, loss)
	if err != nil {
		return err
	}

	fmt.Println("\nd(sum of final positions) / d(initial state):")
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DOF\tPOSITION\tVELOCITY")
	for i := 0; i < n; i++ {
		fmt.Fprintf(w, "%s\t%.6f\t%.6f\n", dofs[i], grad.Position[i], grad.Velocity[i])
	}
	return w.Flush()
}

func listRuns(cmd *cobra.Command, args []string) error {
	runs, err := storage.New(dataDir).List()
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSCENARIO\tPRESET\tTIME\tSTEPS\tDT\tFRICTION")
	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%.4fs\t%.2f\n",
			run.ID,
			run.Scenario,
			run.Preset,
			run.Timestamp.Format("2006-01-02 15:04:05"),
			run.Steps,
			run.Dt,
			run.Friction,
		)
	}
	return w.Flush()
}

const maxPlottedDofs = 6

func plotRun(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	meta, err := st.Load(args[0])
	if err != nil {
		return err
	}
	states, err := st.LoadStates(args[0])
	if err != nil {
		return err
	}

	rows, what := states.Positions, "position"
	if velocities {
		rows, what = states.Velocities, "velocity"
	}

	fmt.Printf("run: %s\n", meta.ID)
	fmt.Printf("scenario: %s\n", meta.Scenario)
	fmt.Printf("samples: %d\n\n", len(rows))

	var columns []int
	var names []string
	for j := 0; j < len(meta.Dofs) && len(columns) < maxPlottedDofs; j++ {
		columns = append(columns, j)
		names = append(names, meta.Dofs[j])
	}
	graph, err := viz.PlotColumns(rows, columns, what+": "+strings.Join(names, ", "), 80, 12)
	if err != nil {
		return err
	}
	fmt.Println(graph)
	return nil
}

func exportRun(runID string, write func(*storage.Store, string, io.Writer) error) error {
	out := io.Writer(os.Stdout)
	if outFile != "" {
		f, err := os.Create(outFile)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	if err := write(storage.New(dataDir), runID, out); err != nil {
		return err
	}
	if outFile != "" {
		fmt.Fprintf(os.Stderr, "exported %s to %s\n", runID, outFile)
	}
	return nil
}

func checkGradients(cmd *cobra.Command, args []string) error {
	checker := gradcheck.NewChecker(scenario.NewRegistry())
	checker.Tolerance = tolerance

	report, err := checker.Run(cmd.Context(), args...)
	if err != nil {
		return err
	}
	fmt.Println(viz.RenderReport(report))
	if !report.Passed() {
		return fmt.Errorf("%d gradient checks failed", len(report.Failures()))
	}
	return nil
}

func printJacobian(cmd *cobra.Command, args []string) error {
	k, err := gradcheck.ParseKind(kind)
	if err != nil {
		return err
	}
	w, err := scenario.NewRegistry().Build(args[0])
	if err != nil {
		return err
	}
	snap, err := gradcheck.Step(w)
	if err != nil {
		return err
	}
	analytic, numeric, err := gradcheck.Jacobians(w, snap, k)
	if err != nil {
		return err
	}

	fmt.Printf("%s: %d clamping, %d upper bound rows\n\n", args[0], len(snap.ClampingConstraints()), len(snap.UpperBoundConstraints()))
	fmt.Println(viz.RenderMatrix("analytic "+string(k), analytic))
	fmt.Println(viz.RenderMatrix("finite difference "+string(k), numeric))
	fmt.Printf("max relative error: %.3e\n", gradcheck.MaxRelativeError(analytic, numeric))
	return nil
}

func runLive(cmd *cobra.Command, args []string) error {
	if len(args) == 0 && configFile == "" {
		return viz.RunInteractive(scenario.NewRegistry(), nil)
	}
	cfg, err := resolveConfig(cmd, args)
	if err != nil {
		return err
	}
	w, err := buildWorld(cfg)
	if err != nil {
		return err
	}
	maxSteps := 0
	if cmd.Flags().Changed("steps") || preset != "" || configFile != "" {
		maxSteps = cfg.Steps
	}
	return viz.RunLive(cfg.Scenario, w, cfg.NewStepper(), maxSteps)
}

func analyzeRollout(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd, args)
	if err != nil {
		return err
	}
	w, err := buildWorld(cfg)
	if err != nil {
		return err
	}
	if dofIndex < 0 || dofIndex >= w.NumDofs() {
		return fmt.Errorf("--dof %d out of range, %s has %d dofs", dofIndex, cfg.Scenario, w.NumDofs())
	}
	dofs := storage.MetadataFor(cfg.Scenario, w).Dofs

	s := sim.New(w, cfg.NewStepper())
	ctrl, err := cfg.NewController(w)
	if err != nil {
		return err
	}
	if ctrl != nil {
		s.SetController(ctrl)
	}
	result, err := s.Run(cmd.Context(), sim.Config{Steps: cfg.Steps, Backprop: true})
	if err != nil {
		return err
	}

	exps, err := analysis.LyapunovSpectrum(w, result.Snapshots)
	if err != nil {
		return err
	}
	fmt.Println("lyapunov spectrum (1/s):")
	for i, e := range exps {
		fmt.Printf("  λ%d = %.6f\n", i+1, e)
	}

	fmt.Println("\ndominant frequencies:")
	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DOF\tHZ")
	series := make([]float64, len(result.Positions))
	for i, name := range dofs {
		for k, q := range result.Positions {
			series[k] = q[i]
		}
		f, err := analysis.DominantFrequency(series, cfg.Dt)
		if err != nil {
			return err
		}
		fmt.Fprintf(tw, "%s\t%.4f\n", name, f)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	portrait, err := analysis.NewPhasePortrait(result, dofIndex)
	if err != nil {
		return err
	}
	fmt.Printf("\nphase portrait of %s (position vs velocity):\n", dofs[dofIndex])
	fmt.Print(portrait.ASCII(60, 20))
	return nil
}

func sweepFriction(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd, args)
	if err != nil {
		return err
	}
	sw := analysis.Sweep{
		Build:   func() (*simulation.World, error) { return buildWorld(cfg) },
		Set:     analysis.SetFriction,
		Stepper: cfg.NewStepper,
		Dof:     dofIndex,
		Steps:   cfg.Steps,
	}
	points, err := sw.Run(cmd.Context(), analysis.Linspace(sweepFrom, sweepTo, sweepN))
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FRICTION\tFINAL POSITION")
	for _, p := range points {
		fmt.Fprintf(tw, "%.4f\t%.6f\n", p.Param, p.Final)
	}
	return tw.Flush()
}

func runBatch(cmd *cobra.Command, args []string) error {
	b, err := automation.LoadBatch(args[0])
	if err != nil {
		return err
	}
	st := storage.New(dataDir)
	if err := st.Init(); err != nil {
		return err
	}

	fmt.Printf("running batch %q (%d runs)...\n", b.Name, len(b.Runs))
	results, err := b.Run(cmd.Context(), scenario.NewRegistry(), st, parallel)
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tRUN ID\tSTEPS\tENERGY DRIFT")
	for _, r := range results {
		fmt.Fprintf(tw, "%s\t%s\t%d\t%.3e\n", r.Name, r.RunID, r.Result.StepsTaken, r.Result.EnergyDrift)
	}
	return tw.Flush()
}

func runMonteCarlo(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd, args)
	if err != nil {
		return err
	}
	mc := automation.MonteCarlo{Config: cfg, Perturbation: perturb, Trials: trials, Seed: seed, Limit: parallel}
	results, err := mc.Run(cmd.Context(), scenario.NewRegistry())
	if err != nil {
		return err
	}
	for _, t := range results {
		if t.Err != nil {
			slog.Info("trial failed", "trial", t.ID, "error", t.Err)
		}
	}
	stable, unstable := automation.Stats(results)
	fmt.Printf("%s: %d stable, %d unstable of %d trials\n", cfg.Scenario, stable, unstable, len(results))
	return nil
}

func writeOut(content string) error {
	out := io.Writer(os.Stdout)
	if outFile != "" {
		f, err := os.Create(outFile)
		if err != nil {
			return err
		}
		defer f.Close()
		out = f
	}
	_, err := io.WriteString(out, content)
	return err
}

func exportSVG(cmd *cobra.Command, args []string) error {
	states, err := storage.New(dataDir).LoadStates(args[0])
	if err != nil {
		return err
	}
	if len(states.Positions) == 0 || dofIndex < 0 || dofIndex >= len(states.Positions[0]) {
		return fmt.Errorf("--dof %d out of range for run %s", dofIndex, args[0])
	}
	points := make([]analysis.Point, len(states.Positions))
	for i := range points {
		points[i] = analysis.Point{X: states.Positions[i][dofIndex], Y: states.Velocities[i][dofIndex]}
	}
	svg := export.TrajectorySVG(points, 800, 600, "#00ff00")
	if svg == "" {
		return fmt.Errorf("run %s has fewer than two samples", args[0])
	}
	return writeOut(svg)
}

func renderSVG(cmd *cobra.Command, args []string) error {
	cfg, err := resolveConfig(cmd, args)
	if err != nil {
		return err
	}
	w, err := buildWorld(cfg)
	if err != nil {
		return err
	}
	cv := viz.NewCanvas(80, 30)
	var wf viz.Wireframe
	wf.AddWorld(w, nil)
	viz.Render3D(cv, &wf, viz.NewCamera())
	return writeOut(export.CanvasSVG(cv, 4))
}
