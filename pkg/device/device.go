package device

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/edp1096/toy-devsim/pkg/assembly"
	"github.com/edp1096/toy-devsim/pkg/solution"
)

var (
	ErrDuplicate     = errors.New("device: duplicate name")
	ErrUnknownRegion = errors.New("device: unknown region")
	ErrUnknownNode   = errors.New("device: unknown circuit node")
	ErrInvalidRegion = errors.New("device: invalid region")
)

// Device is a set of regions joined by interfaces and bounded by
// contacts. It is one entity for the Newton driver; each region is one
// equation and so one preconditioner block.
type Device struct {
	name   string
	logger *slog.Logger

	regions    []*Region
	byRegion   map[string]*Region
	contacts   []*Contact
	byContact  map[string]*Contact
	interfaces []*Interface
}

func New(name string, logger *slog.Logger) *Device {
	if logger == nil {
		logger = slog.Default()
	}
	return &Device{
		name:      name,
		logger:    logger.With(slog.String("device", name)),
		byRegion:  make(map[string]*Region),
		byContact: make(map[string]*Contact),
	}
}

func (d *Device) Name() string { return d.name }

func (d *Device) AddRegion(p RegionParams) (*Region, error) {
	if _, ok := d.byRegion[p.Name]; ok {
		return nil, fmt.Errorf("%w: region %s", ErrDuplicate, p.Name)
	}
	if p.Nodes < 2 || p.Spacing <= 0 || p.Conductivity <= 0 {
		return nil, fmt.Errorf("%w: %s needs at least 2 nodes, positive spacing and conductivity", ErrInvalidRegion, p.Name)
	}
	r := newRegion(p)
	d.regions = append(d.regions, r)
	d.byRegion[p.Name] = r
	d.logger.Debug("region added", slog.String("region", p.Name), slog.Int("nodes", p.Nodes))
	return r, nil
}

func (d *Device) region(name string) (*Region, error) {
	r, ok := d.byRegion[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownRegion, name)
	}
	return r, nil
}

func (d *Device) addContact(c *Contact) error {
	if _, ok := d.byContact[c.name]; ok {
		return fmt.Errorf("%w: contact %s", ErrDuplicate, c.name)
	}
	d.contacts = append(d.contacts, c)
	d.byContact[c.name] = c
	return nil
}

// AddContact fixes the end of a region at bias.
func (d *Device) AddContact(name, region string, e End, bias float64) (*Contact, error) {
	r, err := d.region(region)
	if err != nil {
		return nil, err
	}
	c := &Contact{name: name, region: r, node: r.end(e), bias: bias}
	return c, d.addContact(c)
}

// AddCircuitContact attaches the end of a region to a circuit node.
func (d *Device) AddCircuitContact(name, region string, e End, nodes CircuitNodes, node string) (*Contact, error) {
	r, err := d.region(region)
	if err != nil {
		return nil, err
	}
	c := &Contact{name: name, region: r, node: r.end(e), circuit: nodes, circuitNode: node}
	return c, d.addContact(c)
}

func (d *Device) AddInterface(name, r0 string, e0 End, r1 string, e1 End) (*Interface, error) {
	a, err := d.region(r0)
	if err != nil {
		return nil, err
	}
	b, err := d.region(r1)
	if err != nil {
		return nil, err
	}
	if a == b {
		return nil, fmt.Errorf("%w: interface %s joins %s to itself", ErrInvalidRegion, name, r0)
	}
	i := &Interface{name: name, r0: a, n0: a.end(e0), r1: b, n1: b.end(e1)}
	d.interfaces = append(d.interfaces, i)
	return i, nil
}

func (d *Device) Region(name string) (*Region, bool) {
	r, ok := d.byRegion[name]
	return r, ok
}

func (d *Device) Contact(name string) (*Contact, bool) {
	c, ok := d.byContact[name]
	return c, ok
}

// Register adds every region, contact and interface to the collector.
func (d *Device) Register(c *assembly.Collector) {
	for _, r := range d.regions {
		c.AddBulk(r)
	}
	for _, ct := range d.contacts {
		c.AddContact(ct)
	}
	for _, i := range d.interfaces {
		c.AddInterface(i)
	}
}

func (d *Device) NumberEquations(base int) int {
	n := 0
	for _, r := range d.regions {
		r.base = base + n
		n += r.Nodes
	}
	return n
}

func (d *Device) Equations() []solution.Equation {
	eqs := make([]solution.Equation, 0, len(d.regions))
	for _, r := range d.regions {
		eqs = append(eqs, solution.Equation{
			Name:   r.Name + "." + r.Variable,
			Rows:   r.rows(),
			Values: r.Values(),
			Policy: r.Policy,
		})
	}
	return eqs
}

func (d *Device) Backup(suffix string) {
	for _, r := range d.regions {
		r.store.Backup(suffix)
	}
}

func (d *Device) Restore(suffix string) {
	for _, r := range d.regions {
		r.store.Restore(suffix)
	}
}

func (d *Device) SaveComplex(realName, imagName string, x []complex128) {
	for _, r := range d.regions {
		re, im := r.store.Get(realName), r.store.Get(imagName)
		for i := range re {
			re[i] = real(x[r.base+i])
			im[i] = imag(x[r.base+i])
		}
	}
}

// ContactNames returns contact names in insertion order.
func (d *Device) ContactNames() []string {
	out := make([]string, len(d.contacts))
	for i, c := range d.contacts {
		out[i] = c.name
	}
	return out
}
