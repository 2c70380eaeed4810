package netlist

import (
	"bufio"
	"cmp"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/edp1096/toy-devsim/pkg/circuit"
)

var (
	ErrSyntax      = errors.New("netlist: syntax error")
	ErrUnsupported = errors.New("netlist: unsupported statement")
	ErrValue       = errors.New("netlist: invalid value")
)

type AnalysisType int

const (
	AnalysisOP AnalysisType = iota
	AnalysisTRAN
	AnalysisAC
	AnalysisDC
	AnalysisNoise
)

func (a AnalysisType) String() string {
	switch a {
	case AnalysisTRAN:
		return "tran"
	case AnalysisAC:
		return "ac"
	case AnalysisDC:
		return "dc"
	case AnalysisNoise:
		return "noise"
	}
	return "op"
}

type SweepParam struct {
	Sweep  string  // DEC, OCT, LIN
	Points int     // points per decade, octave or in total
	FStart float64 // start frequency
	FStop  float64 // stop frequency
}

type NetlistData struct {
	Title     string
	Elements  []Element
	Nodes     map[string]int
	Models    map[string]Model
	Options   map[string]string
	Analysis  AnalysisType
	TranParam struct {
		TStep  float64
		TStop  float64
		TStart float64
		TMax   float64
		UIC    bool
	}
	ACParam    SweepParam
	NoiseParam struct {
		SweepParam
		Output string // node name
		Source string
	}
	DCParam struct {
		Source    string
		Start     float64
		Stop      float64
		Increment float64
	}
}

type Model struct {
	Name   string
	Type   string
	Params map[string]float64
}

type Element struct {
	Type   string // R, C, L, D, V, I
	Name   string
	Nodes  []string
	Value  float64
	Params map[string]string
}

var unitMap = map[string]float64{
	"T":   1e12,
	"G":   1e9,
	"meg": 1e6,
	"K":   1e3,
	"k":   1e3,
	"m":   1e-3,
	"u":   1e-6,
	"n":   1e-9,
	"p":   1e-12,
	"f":   1e-15,
}

var (
	valueRe = regexp.MustCompile(`^([-+]?\d*\.?\d+(?:[eE][-+]?\d+)?)(meg|[TGKkmunpf])?[A-Za-z]*$`)
	spaceRe = regexp.MustCompile(`\s+`)
	probeRe = regexp.MustCompile(`^[vV]\(([^,()]+)\)$`)
)

// Parse reads a netlist. The first line is the title; '*' starts a
// comment and '+' continues the previous line.
func Parse(input string) (*NetlistData, error) {
	scanner := bufio.NewScanner(strings.NewReader(input))
	data := &NetlistData{
		Nodes:   make(map[string]int),
		Models:  make(map[string]Model),
		Options: make(map[string]string),
	}

	if scanner.Scan() {
		data.Title = strings.TrimSpace(strings.TrimPrefix(scanner.Text(), "*"))
	}

	var current string
	lineNo := 1
	flush := func() error {
		if current == "" {
			return nil
		}
		err := parseLine(data, current)
		current = ""
		if err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
		return nil
	}

	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if idx := strings.Index(line, "*"); idx >= 0 {
			line = line[:idx]
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		if strings.HasPrefix(line, "+") {
			if current == "" {
				return nil, fmt.Errorf("line %d: %w: continuation without a statement", lineNo, ErrSyntax)
			}
			current += " " + strings.TrimSpace(line[1:])
			continue
		}

		if err := flush(); err != nil {
			return nil, err
		}
		if strings.EqualFold(line, ".end") {
			break
		}
		current = line
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if err := flush(); err != nil {
		return nil, err
	}
	return data, nil
}

func parseLine(data *NetlistData, line string) error {
	line = spaceRe.ReplaceAllString(line, " ")

	if strings.HasPrefix(line, ".") {
		return parseDotOperator(data, line)
	}

	elem, err := parseElement(line)
	if err != nil {
		return err
	}
	data.Elements = append(data.Elements, *elem)
	for _, node := range elem.Nodes {
		if _, ok := data.Nodes[node]; !ok {
			data.Nodes[node] = len(data.Nodes)
		}
	}
	return nil
}

func parseSweep(fields []string) (SweepParam, error) {
	var s SweepParam
	if len(fields) < 4 {
		return s, fmt.Errorf("%w: sweep needs type, points, fstart and fstop", ErrSyntax)
	}
	s.Sweep = strings.ToUpper(fields[0])
	if s.Sweep != "DEC" && s.Sweep != "OCT" && s.Sweep != "LIN" {
		return s, fmt.Errorf("%w: sweep type %s", ErrSyntax, fields[0])
	}
	var err error
	if s.Points, err = strconv.Atoi(fields[1]); err != nil || s.Points < 1 {
		return s, fmt.Errorf("%w: points %q", ErrValue, fields[1])
	}
	if s.FStart, err = ParseValue(fields[2]); err != nil {
		return s, err
	}
	if s.FStop, err = ParseValue(fields[3]); err != nil {
		return s, err
	}
	if s.FStart <= 0 || s.FStop < s.FStart {
		return s, fmt.Errorf("%w: frequency range %g..%g", ErrValue, s.FStart, s.FStop)
	}
	return s, nil
}

func parseDotOperator(data *NetlistData, line string) error {
	var err error
	fields := strings.Fields(line)

	switch strings.ToLower(fields[0]) {
	case ".model":
		return parseModel(data, fields[1:])

	case ".options", ".option":
		for _, f := range fields[1:] {
			k, v, ok := strings.Cut(f, "=")
			if !ok {
				return fmt.Errorf("%w: option %q", ErrSyntax, f)
			}
			data.Options[strings.ToLower(k)] = v
		}

	case ".op":
		data.Analysis = AnalysisOP

	case ".tran":
		data.Analysis = AnalysisTRAN
		if len(fields) < 3 {
			return fmt.Errorf("%w: .tran needs tstep and tstop", ErrSyntax)
		}
		tp := &data.TranParam
		if tp.TStep, err = ParseValue(fields[1]); err != nil {
			return err
		}
		if tp.TStop, err = ParseValue(fields[2]); err != nil {
			return err
		}
		rest := fields[3:]
		for i, f := range rest {
			if strings.EqualFold(f, "uic") {
				tp.UIC = true
				continue
			}
			v, err := ParseValue(f)
			if err != nil {
				return err
			}
			switch i {
			case 0:
				tp.TStart = v
			case 1:
				tp.TMax = v
			}
		}
		if tp.TStep <= 0 || tp.TStop <= tp.TStart {
			return fmt.Errorf("%w: .tran step %g stop %g", ErrValue, tp.TStep, tp.TStop)
		}
		if tp.TMax == 0 {
			tp.TMax = tp.TStep
		}

	case ".ac":
		data.Analysis = AnalysisAC
		if data.ACParam, err = parseSweep(fields[1:]); err != nil {
			return err
		}

	case ".noise":
		data.Analysis = AnalysisNoise
		if len(fields) < 7 {
			return fmt.Errorf("%w: .noise needs V(out), source and a sweep", ErrSyntax)
		}
		m := probeRe.FindStringSubmatch(fields[1])
		if m == nil {
			return fmt.Errorf("%w: noise output %q", ErrSyntax, fields[1])
		}
		np := &data.NoiseParam
		np.Output, np.Source = strings.TrimSpace(m[1]), fields[2]
		if np.SweepParam, err = parseSweep(fields[3:]); err != nil {
			return err
		}

	case ".dc":
		data.Analysis = AnalysisDC
		if len(fields) < 5 {
			return fmt.Errorf("%w: .dc needs source, start, stop and increment", ErrSyntax)
		}
		dp := &data.DCParam
		dp.Source = fields[1]
		if dp.Start, err = ParseValue(fields[2]); err != nil {
			return err
		}
		if dp.Stop, err = ParseValue(fields[3]); err != nil {
			return err
		}
		if dp.Increment, err = ParseValue(fields[4]); err != nil {
			return err
		}
		if dp.Increment == 0 || (dp.Stop-dp.Start)/dp.Increment < 0 {
			return fmt.Errorf("%w: .dc increment %g", ErrValue, dp.Increment)
		}

	default:
		return fmt.Errorf("%w: %s", ErrUnsupported, fields[0])
	}
	return nil
}

// parseModel accepts "name D(is=1e-14 n=1)" and "name D is=1e-14 n=1".
func parseModel(data *NetlistData, fields []string) error {
	if len(fields) < 2 {
		return fmt.Errorf("%w: .model needs a name and a type", ErrSyntax)
	}
	name := fields[0]
	rest := strings.Join(fields[1:], " ")
	rest = strings.NewReplacer("(", " ", ")", " ").Replace(rest)
	words := strings.Fields(rest)

	modelType := strings.ToUpper(words[0])
	if modelType != "D" {
		return fmt.Errorf("%w: model type %s", ErrUnsupported, words[0])
	}

	params := make(map[string]float64)
	for _, pair := range words[1:] {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			return fmt.Errorf("%w: model parameter %q", ErrSyntax, pair)
		}
		value, err := ParseValue(v)
		if err != nil {
			return err
		}
		params[strings.ToLower(k)] = value
	}

	data.Models[name] = Model{Name: name, Type: modelType, Params: params}
	return nil
}

func parseElement(line string) (*Element, error) {
	fields := strings.Fields(line)
	if len(fields) < 3 {
		return nil, fmt.Errorf("%w: element %q", ErrSyntax, line)
	}

	elem := &Element{
		Name:   fields[0],
		Type:   strings.ToUpper(fields[0][:1]),
		Nodes:  fields[1:3],
		Params: make(map[string]string),
	}

	switch elem.Type {
	case "V", "I":
		return parseSource(elem, fields[3:])

	case "D":
		if len(fields) > 3 {
			elem.Params["model"] = fields[3]
		}
		return elem, nil

	case "K":
		if len(fields) < 4 {
			return nil, fmt.Errorf("%w: %s needs two inductors and a coupling", ErrSyntax, elem.Name)
		}
		k, err := ParseValue(fields[3])
		if err != nil {
			return nil, err
		}
		elem.Nodes = nil
		elem.Params["l1"], elem.Params["l2"] = fields[1], fields[2]
		elem.Value = k
		return elem, nil

	case "R", "C", "L":
		if len(fields) < 4 {
			return nil, fmt.Errorf("%w: %s needs a value", ErrSyntax, elem.Name)
		}
		value, err := ParseValue(fields[3])
		if err != nil {
			return nil, err
		}
		elem.Value = value
		for _, f := range fields[4:] {
			if k, v, ok := strings.Cut(f, "="); ok {
				elem.Params[strings.ToLower(k)] = v
			}
		}
		return elem, nil
	}
	return nil, fmt.Errorf("%w: element type %s", ErrUnsupported, elem.Type)
}

// parseSource reads any mix of a bare DC value, "DC v", "AC mag [phase]"
// and one SIN, PULSE or PWL waveform.
func parseSource(elem *Element, fields []string) (*Element, error) {
	words := strings.Fields(strings.NewReplacer("(", " ( ", ")", " ) ").Replace(strings.Join(fields, " ")))
	if len(words) == 0 {
		return nil, fmt.Errorf("%w: source %s has no value", ErrSyntax, elem.Name)
	}
	elem.Params["type"] = "dc"

	for i := 0; i < len(words); i++ {
		w := strings.ToUpper(words[i])
		switch w {
		case "DC":
			if i+1 >= len(words) {
				return nil, fmt.Errorf("%w: %s missing DC value", ErrSyntax, elem.Name)
			}
			v, err := ParseValue(words[i+1])
			if err != nil {
				return nil, err
			}
			elem.Value = v
			i++

		case "AC":
			if i+1 >= len(words) {
				return nil, fmt.Errorf("%w: %s missing AC magnitude", ErrSyntax, elem.Name)
			}
			if _, err := ParseValue(words[i+1]); err != nil {
				return nil, err
			}
			elem.Params["acmag"] = words[i+1]
			elem.Params["acphase"] = "0"
			i++
			if i+1 < len(words) {
				if _, err := ParseValue(words[i+1]); err == nil {
					elem.Params["acphase"] = words[i+1]
					i++
				}
			}

		case "SIN", "PULSE", "PWL":
			var args []string
			j := i + 1
			for ; j < len(words) && words[j] != ")"; j++ {
				if words[j] != "(" {
					args = append(args, words[j])
				}
			}
			elem.Params["type"] = strings.ToLower(w)
			elem.Params[strings.ToLower(w)] = strings.Join(args, " ")
			i = j

		default:
			v, err := ParseValue(words[i])
			if err != nil {
				return nil, fmt.Errorf("%w: source %s: %q", ErrSyntax, elem.Name, words[i])
			}
			elem.Value = v
		}
	}
	return elem, nil
}

// ParseValue - Parse value and factor. 1k -> 1000
func ParseValue(val string) (float64, error) {
	matches := valueRe.FindStringSubmatch(strings.TrimSpace(val))
	if matches == nil {
		return 0, fmt.Errorf("%w: %q", ErrValue, val)
	}

	num, err := strconv.ParseFloat(matches[1], 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrValue, val)
	}
	if m, ok := unitMap[matches[2]]; ok {
		num *= m
	}
	return num, nil
}

// Build creates a circuit from the parsed elements.
// Build creates the circuit. Couplings are added after every inductor so
// they may appear anywhere in the netlist.
func Build(data *NetlistData, logger *slog.Logger) (*circuit.Circuit, error) {
	c := circuit.New(data.Title, logger)
	elems := slices.Clone(data.Elements)
	slices.SortStableFunc(elems, func(a, b Element) int {
		return cmp.Compare(btoi(a.Type == "K"), btoi(b.Type == "K"))
	})
	for _, elem := range elems {
		e, err := CreateElement(elem, data.Models)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", elem.Name, err)
		}
		if err := c.Add(e); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func CreateElement(elem Element, models map[string]Model) (circuit.Element, error) {
	switch elem.Type {
	case "R":
		r := circuit.NewResistor(elem.Name, elem.Nodes, elem.Value)
		for k, dst := range map[string]*float64{"tc1": &r.Tc1, "tc2": &r.Tc2} {
			if s, ok := elem.Params[k]; ok {
				v, err := ParseValue(s)
				if err != nil {
					return nil, err
				}
				*dst = v
			}
		}
		return r, nil

	case "C":
		return circuit.NewCapacitor(elem.Name, elem.Nodes, elem.Value), nil

	case "L":
		return circuit.NewInductor(elem.Name, elem.Nodes, elem.Value), nil

	case "K":
		return circuit.NewMutual(elem.Name, elem.Params["l1"], elem.Params["l2"], elem.Value), nil

	case "D":
		d := circuit.NewDiode(elem.Name, elem.Nodes)
		if name, ok := elem.Params["model"]; ok {
			model, exists := models[name]
			if !exists {
				return nil, fmt.Errorf("%w: undefined model %s", ErrValue, name)
			}
			d.SetModelParameters(model.Params)
		}
		return d, nil

	case "V", "I":
		return createSource(elem)
	}
	return nil, fmt.Errorf("%w: element type %s", ErrUnsupported, elem.Type)
}

type sourceSetter interface {
	circuit.Element
	SetAC(mag, phase float64)
}

func createSource(elem Element) (circuit.Element, error) {
	v := elem.Type == "V"
	var src sourceSetter

	switch elem.Params["type"] {
	case "", "dc":
		if v {
			src = circuit.NewDCVoltageSource(elem.Name, elem.Nodes, elem.Value)
		} else {
			src = circuit.NewDCCurrentSource(elem.Name, elem.Nodes, elem.Value)
		}

	case "sin":
		offset, amplitude, freq, phase, err := parseSinParams(elem.Params["sin"])
		if err != nil {
			return nil, err
		}
		if v {
			src = circuit.NewSinVoltageSource(elem.Name, elem.Nodes, offset, amplitude, freq, phase)
		} else {
			src = circuit.NewSinCurrentSource(elem.Name, elem.Nodes, offset, amplitude, freq, phase)
		}

	case "pulse":
		p, err := parseValues(elem.Params["pulse"], 7, "PULSE")
		if err != nil {
			return nil, err
		}
		if v {
			src = circuit.NewPulseVoltageSource(elem.Name, elem.Nodes, p[0], p[1], p[2], p[3], p[4], p[5], p[6])
		} else {
			src = circuit.NewPulseCurrentSource(elem.Name, elem.Nodes, p[0], p[1], p[2], p[3], p[4], p[5], p[6])
		}

	case "pwl":
		times, values, err := parsePWLParams(elem.Params["pwl"])
		if err != nil {
			return nil, err
		}
		if v {
			src = circuit.NewPWLVoltageSource(elem.Name, elem.Nodes, times, values)
		} else {
			src = circuit.NewPWLCurrentSource(elem.Name, elem.Nodes, times, values)
		}

	default:
		return nil, fmt.Errorf("%w: source type %s", ErrUnsupported, elem.Params["type"])
	}

	if mag, ok := elem.Params["acmag"]; ok {
		m, err := ParseValue(mag)
		if err != nil {
			return nil, err
		}
		var ph float64
		if p, ok := elem.Params["acphase"]; ok {
			if ph, err = ParseValue(p); err != nil {
				return nil, err
			}
		}
		src.SetAC(m, ph)
	}
	return src, nil
}

func parseValues(params string, n int, what string) ([]float64, error) {
	fields := strings.Fields(params)
	if len(fields) < n {
		return nil, fmt.Errorf("%w: %s needs %d parameters, got %d", ErrSyntax, what, n, len(fields))
	}
	out := make([]float64, len(fields))
	for i, f := range fields {
		v, err := ParseValue(f)
		if err != nil {
			return nil, fmt.Errorf("%s parameter %d: %w", what, i+1, err)
		}
		out[i] = v
	}
	return out, nil
}

func parseSinParams(params string) (offset, amplitude, freq, phase float64, err error) {
	p, err := parseValues(params, 3, "SIN")
	if err != nil {
		return 0, 0, 0, 0, err
	}
	if len(p) > 3 {
		phase = p[3]
	}
	return p[0], p[1], p[2], phase, nil
}

func parsePWLParams(params string) (times []float64, values []float64, err error) {
	p, err := parseValues(params, 4, "PWL")
	if err != nil {
		return nil, nil, err
	}
	if len(p)%2 != 0 {
		return nil, nil, fmt.Errorf("%w: PWL needs time-value pairs", ErrSyntax)
	}

	for i := 0; i < len(p); i += 2 {
		if i > 0 && p[i] <= p[i-2] {
			return nil, nil, fmt.Errorf("%w: PWL time points must be strictly increasing", ErrValue)
		}
		times = append(times, p[i])
		values = append(values, p[i+1])
	}
	return times, values, nil
}

func btoi(b bool) int {
	if b {
		return 1
	}
	return 0
}
