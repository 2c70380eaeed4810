package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"strings"

	"github.com/edp1096/toy-devsim/pkg/analysis"
	"github.com/edp1096/toy-devsim/pkg/circuit"
	"github.com/edp1096/toy-devsim/pkg/config"
	"github.com/edp1096/toy-devsim/pkg/device"
	"github.com/edp1096/toy-devsim/pkg/netlist"
	"github.com/edp1096/toy-devsim/pkg/session"
	"github.com/edp1096/toy-devsim/pkg/util"
)

var (
	linearSolver = flag.String("solver", "", "linear solver: direct or iterative")
	directSolver = flag.String("direct", "", "factorizer: native or vendor")
	absTol       = flag.Float64("abstol", 0, "absolute update tolerance")
	relTol       = flag.Float64("reltol", 0, "relative update tolerance")
	maxIter      = flag.Int("maxiter", 0, "maximum Newton iterations")
	verbose      = flag.Bool("v", false, "debug logging")
)

var bars barFlags

func init() {
	flag.Var(&bars, "bar", "1-D resistive region between two nodes: a,b,points,conductivity (repeatable)")
}

// barFlags collects -bar a,b,points,sigma values.
type barFlags []string

func (b *barFlags) String() string     { return strings.Join(*b, " ") }
func (b *barFlags) Set(v string) error { *b = append(*b, v); return nil }

func getKeys(m map[string][]float64, keep func(string) bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		if keep(k) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

func isVoltage(name string) bool { return strings.HasPrefix(name, "V(") }
func isCurrent(name string) bool { return strings.HasPrefix(name, "I(") }

func printRow(results map[string][]float64, i int, voltages, currents []string) {
	for _, name := range voltages {
		fmt.Printf("%s=%s  ", name, util.FormatValueFactor(results[name][i], "V"))
	}
	for _, name := range currents {
		fmt.Printf("%s=%s  ", name, util.FormatValueFactor(results[name][i], "A"))
	}
	fmt.Println()
}

func printResults(kind netlist.AnalysisType, results map[string][]float64) {
	fmt.Println("\nAnalysis Results:")
	fmt.Println("================")

	voltages := getKeys(results, isVoltage)
	currents := getKeys(results, isCurrent)

	switch kind {
	case netlist.AnalysisAC:
		freqs := results["FREQ"]
		fmt.Printf("\nAC Analysis Results (%d frequency points):\n", len(freqs))
		fmt.Println("Frequency      Node Voltages (Magnitude/Phase)        Branch Currents (Magnitude/Phase)")
		fmt.Println("-----------------------------------------------------------------------------")

		names := getKeys(results, func(k string) bool { return strings.HasSuffix(k, "_MAG") })
		for i, freq := range freqs {
			fmt.Printf("%-13s", util.FormatFrequency(freq))
			for _, mag := range names {
				base := strings.TrimSuffix(mag, "_MAG")
				fmt.Printf("%s  ", util.FormatMagnitudePhase(base, results[mag][i], results[base+"_PHASE"][i]))
			}
			fmt.Println()
		}

	case netlist.AnalysisNoise:
		freqs := results["FREQ"]
		fmt.Printf("\nNoise Analysis Results (%d frequency points):\n", len(freqs))
		fmt.Println("Frequency      Output noise        Input noise        Gain")
		fmt.Println("-----------------------------------------------------------")
		for i, freq := range freqs {
			fmt.Printf("%-13s %-18s %-18s %s\n",
				util.FormatFrequency(freq),
				util.FormatValueFactor(results["ONOISE"][i], "V/rtHz"),
				util.FormatValueFactor(results["INOISE"][i], "V/rtHz"),
				util.FormatMagnitude(results["GAIN"][i]),
			)
		}

	case netlist.AnalysisDC:
		sweep := results["SWEEP"]
		fmt.Printf("\nDC Sweep Analysis Results (%d points):\n", len(sweep))
		fmt.Println("Sweep Values    Node Voltages        Branch Currents")
		fmt.Println("------------------------------------------------")
		for i, v := range sweep {
			fmt.Printf("%-9s  ", util.FormatValueFactor(v, ""))
			printRow(results, i, voltages, currents)
		}

	case netlist.AnalysisTRAN:
		times := results["TIME"]
		fmt.Printf("\nTransient Analysis Results (%d time points):\n", len(times))
		fmt.Println("Time        Node Voltages        Branch Currents")
		fmt.Println("------------------------------------------------")
		for i, t := range times {
			fmt.Printf("%9s  ", util.FormatValueFactor(t, "s"))
			printRow(results, i, voltages, currents)
		}

	default:
		fmt.Println("\nNode Voltages:")
		for _, name := range voltages {
			fmt.Printf("%s = %s\n", name, util.FormatValueFactor(results[name][0], "V"))
		}
		fmt.Println("\nBranch Currents:")
		for _, name := range currents {
			fmt.Printf("%s = %s\n", name, util.FormatValueFactor(results[name][0], "A"))
		}
	}
}

func applyFlags(db *config.Database) error {
	set := map[string]any{}
	if *linearSolver != "" {
		set[config.LinearSolver] = *linearSolver
	}
	if *directSolver != "" {
		set[config.DirectSolver] = *directSolver
	}
	if *absTol > 0 {
		set[config.AbsoluteError] = *absTol
	}
	if *relTol > 0 {
		set[config.RelativeError] = *relTol
	}
	if *maxIter > 0 {
		set[config.MaximumIterations] = *maxIter
	}
	for k, v := range set {
		if err := db.Set(k, v); err != nil {
			return err
		}
	}
	return nil
}

// addBars attaches each -bar value as a device between two circuit nodes.
func addBars(s *session.Session, ckt *circuit.Circuit, logger *slog.Logger) error {
	for i, arg := range bars {
		parts := strings.Split(arg, ",")
		if len(parts) != 4 {
			return fmt.Errorf("-bar %q: want a,b,points,conductivity", arg)
		}
		points, err := strconv.Atoi(parts[2])
		if err != nil {
			return fmt.Errorf("-bar %q: %w", arg, err)
		}
		sigma, err := netlist.ParseValue(parts[3])
		if err != nil {
			return fmt.Errorf("-bar %q: %w", arg, err)
		}

		name := fmt.Sprintf("bar%d", i+1)
		d := device.New(name, logger)
		if _, err := d.AddRegion(device.RegionParams{
			Name:         "bulk",
			Nodes:        points,
			Spacing:      1 / float64(points-1),
			Conductivity: sigma,
		}); err != nil {
			return err
		}
		if _, err := d.AddCircuitContact("a", "bulk", device.First, ckt, parts[0]); err != nil {
			return err
		}
		if _, err := d.AddCircuitContact("b", "bulk", device.Last, ckt, parts[1]); err != nil {
			return err
		}
		s.AddDevice(d)
	}
	return nil
}

func newAnalyzer(data *netlist.NetlistData, method util.IntegrationMethod) (analysis.Analysis, error) {
	switch data.Analysis {
	case netlist.AnalysisOP:
		return analysis.NewOP(), nil
	case netlist.AnalysisTRAN:
		p := data.TranParam
		tr := analysis.NewTransient(p.TStart, p.TStop, p.TStep, p.TMax, p.UIC)
		tr.Method = method
		return tr, nil
	case netlist.AnalysisAC:
		p := data.ACParam
		return analysis.NewAC(p.FStart, p.FStop, p.Points, p.Sweep), nil
	case netlist.AnalysisNoise:
		p := data.NoiseParam
		return analysis.NewNoise(p.Output, p.Source, p.FStart, p.FStop, p.Points, p.Sweep), nil
	case netlist.AnalysisDC:
		p := data.DCParam
		return analysis.NewDCSweep(p.Source, p.Start, p.Stop, p.Increment), nil
	}
	return nil, fmt.Errorf("unsupported analysis type %v", data.Analysis)
}

func run(ctx context.Context, path string, logger *slog.Logger) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading netlist file: %w", err)
	}
	data, err := netlist.Parse(string(content))
	if err != nil {
		return fmt.Errorf("parsing netlist: %w", err)
	}

	db := config.NewDatabase()
	method, err := netlist.ApplyOptions(db, data.Options)
	if err != nil {
		return err
	}
	if err := applyFlags(db); err != nil {
		return err
	}

	ckt, err := netlist.Build(data, logger)
	if err != nil {
		return fmt.Errorf("building circuit: %w", err)
	}
	s := session.New(session.WithDatabase(db), session.WithLogger(logger))
	s.SetCircuit(ckt)
	if err := addBars(s, ckt, logger); err != nil {
		return err
	}

	analyzer, err := newAnalyzer(data, method)
	if err != nil {
		return err
	}
	logger.Info("running analysis",
		slog.String("title", data.Title),
		slog.String("analysis", data.Analysis.String()),
		slog.Int("elements", len(data.Elements)),
		slog.Int("devices", len(s.Devices())),
	)
	if err := analyzer.Setup(s); err != nil {
		return fmt.Errorf("analysis setup failed: %w", err)
	}
	if err := analyzer.Execute(ctx); err != nil {
		return fmt.Errorf("analysis execution failed: %w", err)
	}

	printResults(data.Analysis, analyzer.GetResults())
	return nil
}

func main() {
	flag.Parse()
	if flag.NArg() != 1 {
		log.Fatal("Usage: devsim [flags] <netlist_file>")
	}

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, flag.Arg(0), logger); err != nil {
		log.Fatalf("Error: %v", err)
	}
}
