package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/banshee-data/ucldas/internal/config"
	"github.com/banshee-data/ucldas/internal/da/archive"
	"github.com/banshee-data/ucldas/internal/da/daerr"
	"github.com/banshee-data/ucldas/internal/da/diagplot"
	"github.com/banshee-data/ucldas/internal/da/fields"
	"github.com/banshee-data/ucldas/internal/da/geometry"
	"github.com/banshee-data/ucldas/internal/da/getvalues"
	"github.com/banshee-data/ucldas/internal/da/linearmodel"
	"github.com/banshee-data/ucldas/internal/da/linop"
	"github.com/banshee-data/ucldas/internal/da/obs"
	"github.com/banshee-data/ucldas/internal/da/registry"
	"github.com/banshee-data/ucldas/internal/da/varchange"
	"github.com/banshee-data/ucldas/internal/monitoring"
	"github.com/banshee-data/ucldas/internal/testutil"
)

const defaultTolerance = 1e-10

// analysisTime is the valid time of the synthetic trajectory.
var analysisTime = time.Date(2021, 7, 1, 0, 0, 0, 0, time.UTC)

type options struct {
	Seed      uint64
	NLocs     int
	PlotDir   string
	Tolerance float64
}

// result is one line of the report.
type result struct {
	Operator string
	Check    string
	Value    float64
	Skipped  bool
	Failed   bool
}

type runner struct {
	cfg  *config.Config
	opts options
	reg  *registry.Registry
	geom *geometry.Geometry
	vars fields.Variables
	traj *fields.State
	plot *diagplot.Plotter

	results []result
	seed    uint64
}

func enableDiagnostics(w io.Writer) {
	varchange.SetLogWriters(w, w, nil)
	linop.SetLogWriters(w, w, nil)
	linearmodel.SetLogWriters(w, w, nil)
	getvalues.SetLogWriters(w, w, nil)
	archive.SetLogWriters(w, w, nil)
	diagplot.SetLogWriters(w, w, nil)
}

// run executes every check the configuration enables and writes the report
// to w. It fails if any check exceeds the tolerance or an operator errors.
func run(ctx context.Context, cfg *config.Config, opts options, w io.Writer) error {
	if opts.Tolerance <= 0 {
		opts.Tolerance = defaultTolerance
	}
	geom, err := geometry.New(cfg.Geometry)
	if err != nil {
		return fmt.Errorf("geometry: %w", err)
	}
	r := &runner{cfg: cfg, opts: opts, reg: registry.Default(), geom: geom, seed: opts.Seed}
	r.vars = modelVariables(cfg, geom)
	if r.traj, err = testutil.PositiveState(geom, r.vars, analysisTime); err != nil {
		return err
	}
	if opts.PlotDir != "" {
		if r.plot, err = diagplot.New(opts.PlotDir); err != nil {
			return err
		}
	}
	fmt.Fprintf(w, "%s, model variables %v\n", geom, r.vars)

	for _, oc := range cfg.Operators {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.checkOperator(oc); err != nil {
			return err
		}
	}
	if cfg.LinearModel != nil {
		if err := r.checkLinearModel(); err != nil {
			return err
		}
	}
	if opts.NLocs > 0 {
		if err := r.checkInterpolation(ctx); err != nil {
			return err
		}
	}

	r.report(w)
	if err := writeSummary(w); err != nil {
		return err
	}
	if r.plot != nil {
		n, err := r.plot.GeneratePlots()
		if err != nil {
			return fmt.Errorf("plots: %w", err)
		}
		fmt.Fprintf(w, "wrote %d summary plots to %s\n", n, r.plot.OutputDir())
	}

	var failed int
	for _, res := range r.results {
		if res.Failed {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d checks exceeded tolerance %g", failed, len(r.results), opts.Tolerance)
	}
	return nil
}

// modelVariables returns the linear-model variables when configured,
// otherwise every domain variable that no operator derives.
func modelVariables(cfg *config.Config, geom *geometry.Geometry) fields.Variables {
	if cfg.LinearModel != nil && len(cfg.LinearModel.LMVariables) > 0 {
		return fields.NewVariables(cfg.LinearModel.LMVariables...)
	}
	derived := derivedVariables(cfg)
	var out []string
	for _, name := range geom.Variables() {
		if !derived[name] {
			out = append(out, name)
		}
	}
	return fields.NewVariables(out...)
}

func derivedVariables(cfg *config.Config) map[string]bool {
	out := map[string]bool{}
	add := func(m *config.Model2GeoVaLsConfig) {
		if m == nil {
			return
		}
		for _, d := range m.Derived {
			out[d.Name] = true
		}
	}
	for _, oc := range cfg.Operators {
		add(oc.Model2GeoVaLs)
	}
	if cfg.GetValues != nil {
		add(cfg.GetValues.Model2GeoVaLs)
	}
	return out
}

func (r *runner) nextSeed() uint64 {
	r.seed++
	return r.seed
}

func (r *runner) randomIncrement(vars fields.Variables) (*fields.Increment, error) {
	dx, err := fields.NewIncrement(r.geom, vars, analysisTime)
	if err != nil {
		return nil, err
	}
	dx.Random(r.nextSeed())
	return dx, nil
}

func (r *runner) record(operator, check string, value float64) {
	res := result{Operator: operator, Check: check, Value: value, Failed: !(value < r.opts.Tolerance)}
	r.results = append(r.results, res)
	if r.plot != nil {
		r.plot.RecordCheck(operator, check, value)
	}
}

func (r *runner) skip(operator, check string) {
	r.results = append(r.results, result{Operator: operator, Check: check, Skipped: true})
}

// outputVariables is the layout an operator writes: the model variables,
// plus the derived variables of a Model2GeoVaLs configuration.
func (r *runner) outputVariables(oc config.OperatorConfig) fields.Variables {
	if oc.Key != string(registry.Model2GeoVaLs) || oc.Model2GeoVaLs == nil {
		return r.vars
	}
	names := append([]string(nil), r.vars...)
	for _, d := range oc.Model2GeoVaLs.Derived {
		names = append(names, d.Name)
	}
	return fields.NewVariables(names...)
}

func (r *runner) checkOperator(oc config.OperatorConfig) error {
	op, err := r.reg.Linear(r.geom, oc, r.traj, r.traj)
	if err != nil {
		return fmt.Errorf("build %s: %w", oc.Key, err)
	}
	outVars := r.outputVariables(oc)

	x, err := r.randomIncrement(r.vars)
	if err != nil {
		return err
	}
	y, err := r.randomIncrement(outVars)
	if err != nil {
		return err
	}
	rel, hty, err := testutil.DotProduct(op.Multiply, op.MultiplyAD, x, y)
	switch {
	case errors.Is(err, testutil.ErrDegenerate):
		r.skip(op.Name(), "Multiply/MultiplyAD")
	case err != nil:
		return fmt.Errorf("%s: %w", oc.Key, err)
	default:
		r.record(op.Name(), "Multiply/MultiplyAD", rel)
	}
	if r.plot != nil {
		name := hty.Variables()[0]
		if _, err := r.plot.HeatMap(op.Name()+"_adjoint", hty, name, 0); err != nil {
			return err
		}
	}

	if len(outVars) == len(r.vars) {
		xi, err := r.randomIncrement(r.vars)
		if err != nil {
			return err
		}
		yi, err := r.randomIncrement(r.vars)
		if err != nil {
			return err
		}
		rel, _, err := testutil.DotProduct(op.MultiplyInverse, op.MultiplyInverseAD, xi, yi)
		switch {
		case errors.Is(err, daerr.ErrUnsupported), errors.Is(err, testutil.ErrDegenerate):
			r.skip(op.Name(), "MultiplyInverse/MultiplyInverseAD")
		case err != nil:
			return fmt.Errorf("%s: %w", oc.Key, err)
		default:
			r.record(op.Name(), "MultiplyInverse/MultiplyInverseAD", rel)
		}
	} else {
		r.skip(op.Name(), "MultiplyInverse/MultiplyInverseAD")
	}

	vc, err := r.reg.VariableChange(r.geom, oc)
	if errors.Is(err, daerr.ErrConfiguration) {
		return nil
	}
	if err != nil {
		return err
	}
	return r.checkTaylor(oc.Key, vc, op, outVars)
}

// checkTaylor compares the finite difference of the variable change with
// its linearization along a random direction. The smallest-step ratio is
// reported; the check fails unless the ratios converge at first order.
func (r *runner) checkTaylor(key string, vc varchange.VariableChange, op linop.Linearized, outVars fields.Variables) error {
	apply := func(in *fields.State) (*fields.State, error) {
		out, err := fields.NewState(r.geom, outVars, in.ValidTime())
		if err != nil {
			return nil, err
		}
		return out, vc.ChangeVar(in, out)
	}
	dx, err := r.randomIncrement(r.vars)
	if err != nil {
		return err
	}
	dx.Scale(0.1)

	ratios, err := testutil.TaylorRatios(apply, op.Multiply, r.traj, dx, testutil.TaylorSteps)
	if errors.Is(err, testutil.ErrDegenerate) {
		r.skip(op.Name(), "Taylor")
		return nil
	}
	if err != nil {
		return fmt.Errorf("%s.ChangeVar: %w", key, err)
	}
	if r.plot != nil {
		if err := r.plot.RecordTaylor(op.Name(), testutil.TaylorSteps, ratios); err != nil {
			return err
		}
	}
	res := result{Operator: op.Name(), Check: "Taylor", Value: ratios[len(ratios)-1]}
	if err := testutil.CheckTaylor(testutil.TaylorSteps, ratios); err != nil {
		monitoring.Logf("adjtest: %s taylor check failed: %v", op.Name(), err)
		res.Failed = true
	}
	r.results = append(r.results, res)
	return nil
}

// checkLinearModel runs one TL step and one AD step and checks that the
// increment comes back to its start time unchanged.
func (r *runner) checkLinearModel() error {
	m, err := r.reg.LinearModel(r.cfg.LinearModel)
	if err != nil {
		return err
	}
	vars := m.Variables()
	if len(vars) == 0 {
		vars = r.vars
	}
	dx, err := r.randomIncrement(vars)
	if err != nil {
		return err
	}
	ref := dx.Copy()
	m.SetTrajectory(r.traj, r.traj)

	name := string(registry.IdTLM)
	if r.cfg.LinearModel.Name != "" {
		name = r.cfg.LinearModel.Name
	}
	for _, step := range []func(*fields.Increment) error{m.InitializeTL, m.StepTL, m.FinalizeTL} {
		if err := step(dx); err != nil {
			return err
		}
	}
	if got, want := dx.ValidTime(), analysisTime.Add(m.TimeResolution()); !got.Equal(want) {
		return fmt.Errorf("%s: TL step ended at %s, want %s", name, got.Format(time.RFC3339), want.Format(time.RFC3339))
	}
	for _, step := range []func(*fields.Increment) error{m.InitializeAD, m.StepAD, m.FinalizeAD} {
		if err := step(dx); err != nil {
			return err
		}
	}
	if !dx.ValidTime().Equal(analysisTime) {
		return fmt.Errorf("%s: AD step ended at %s, want %s", name, dx.ValidTime().Format(time.RFC3339), analysisTime.Format(time.RFC3339))
	}
	diff := dx.Copy()
	if err := diff.Axpy(-1, ref); err != nil {
		return err
	}
	r.record(name, "StepTL/StepAD", diff.Norm()/ref.Norm())
	return nil
}

// locations scatters n points over the grid and the window [t, t+span].
func (r *runner) locations(n int, span time.Duration) *obs.Locations {
	rng := rand.New(rand.NewPCG(r.nextSeed(), 0x5eed))
	g := r.geom
	locs := make([]obs.Location, n)
	for i := range locs {
		locs[i] = obs.Location{
			Lon:  g.Lon0 + rng.Float64()*float64(g.NX-1)*g.DLon,
			Lat:  g.Lat0 + rng.Float64()*float64(g.NY-1)*g.DLat,
			Time: analysisTime.Add(time.Duration(rng.Int64N(int64(span) + 1))),
		}
	}
	return obs.NewLocations(locs)
}

func (r *runner) checkInterpolation(ctx context.Context) error {
	span := 6 * time.Hour
	if r.cfg.LinearModel != nil {
		if d, err := r.cfg.LinearModel.GetTstep(); err == nil && d > 0 {
			span = d
		}
	}
	t1, t2 := analysisTime, analysisTime.Add(span)
	locs := r.locations(r.opts.NLocs, span)

	var gvCfg *config.GetValuesConfig
	var store getvalues.Archive
	if gvCfg = r.cfg.GetValues; gvCfg != nil && gvCfg.NotOcean != nil && gvCfg.NotOcean.GetInit() {
		a, err := archive.Open(gvCfg.NotOcean.ObsSpace.Path)
		if err != nil {
			return err
		}
		defer a.Close()
		store = a
	}
	gv, err := getvalues.New(r.geom, locs, gvCfg, store)
	if err != nil {
		return err
	}

	var m2gCfg *config.Model2GeoVaLsConfig
	if gvCfg != nil {
		m2gCfg = gvCfg.Model2GeoVaLs
	}
	m2g, err := varchange.NewModel2GeoVaLs(r.geom, m2gCfg)
	if err != nil {
		return err
	}
	// with an archive attached every domain variable is requested; those the
	// state cannot provide must come from the archive
	shapes := map[string]int{}
	for _, name := range r.geom.Variables() {
		if store != nil || m2g.CanProvide(name, r.vars) {
			shapes[name], _ = r.geom.Levels(name)
		}
	}
	out, err := obs.NewGeoVaLs(locs.Len(), shapes)
	if err != nil {
		return err
	}
	if err := gv.FillGeoVaLs(ctx, r.traj, t1, t2, out); err != nil {
		return err
	}

	// the linear interpolator reads model variables only
	linShapes := map[string]int{}
	for _, name := range r.vars {
		linShapes[name], _ = r.geom.Levels(name)
	}
	lin, err := getvalues.NewLinear(r.geom, locs)
	if err != nil {
		return err
	}
	trajVals, err := obs.NewGeoVaLs(locs.Len(), linShapes)
	if err != nil {
		return err
	}
	tok, err := lin.SetTrajectory(r.traj, t1, t2, trajVals)
	if err != nil {
		return err
	}
	for _, name := range trajVals.Variables() {
		a, b := trajVals.Values(name), out.Values(name)
		var worst float64
		for i := range a {
			worst = math.Max(worst, math.Abs(a[i]-b[i]))
		}
		r.record(getvalues.GetValuesName, "SetTrajectory=FillGeoVaLs "+name, worst)
	}

	x, err := r.randomIncrement(r.vars)
	if err != nil {
		return err
	}
	y := trajVals.ZeroLike()
	y.Random(r.nextSeed())
	rel, err := testutil.GeoVaLsDotProduct(
		func(dx *fields.Increment, out *obs.GeoVaLs) error { return lin.FillGeoVaLsTL(tok, dx, t1, t2, out) },
		func(in *obs.GeoVaLs, dx *fields.Increment) error { return lin.FillGeoVaLsAD(tok, dx, t1, t2, in) },
		x, y)
	if errors.Is(err, testutil.ErrDegenerate) {
		r.skip(getvalues.LinearGetValuesName, "FillGeoVaLsTL/FillGeoVaLsAD")
		return nil
	}
	if err != nil {
		return err
	}
	r.record(getvalues.LinearGetValuesName, "FillGeoVaLsTL/FillGeoVaLsAD", rel)
	return nil
}

func (r *runner) report(w io.Writer) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "OPERATOR\tCHECK\tVALUE\tSTATUS")
	for _, res := range r.results {
		status, value := "ok", fmt.Sprintf("%.3g", res.Value)
		switch {
		case res.Skipped:
			status, value = "skipped", "-"
		case res.Failed:
			status = "FAIL"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", res.Operator, res.Check, value, status)
	}
	tw.Flush()
}

func writeSummary(w io.Writer) error {
	stats, err := monitoring.Summary()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}
	sort.SliceStable(stats, func(i, j int) bool { return stats[i].Calls > stats[j].Calls })
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\nOPERATOR\tOP\tCALLS\tERRORS")
	for _, s := range stats {
		fmt.Fprintf(tw, "%s\t%s\t%.0f\t%.0f\n", s.Operator, s.Op, s.Calls, s.Errors)
	}
	return tw.Flush()
}
