// Package sim drives trains over an interlocking environment. Trains run at line speed and stop
// dead; there is no braking curve.
package sim

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
	"nyiyui.ca/hato/shingo/interlock"
	"nyiyui.ca/hato/shingo/layout"
)

type Conf struct {
	// Speed is the line speed in m/s.
	Speed float64
	// LookAhead is how far ahead of the front signals are requested.
	LookAhead float64
	// StopMargin is kept between a stopped train and its end of authority.
	StopMargin float64
}

// Publisher receives a snapshot after every step.
type Publisher interface {
	Send(interlock.Snapshot)
}

type Driver struct {
	conf   Conf
	e      *interlock.Environment
	trains []*interlock.Train
	// done counts trains that ran off the end of their route.
	done int
	log  *zap.SugaredLogger
}

func New(e *interlock.Environment, conf Conf) *Driver {
	if conf.StopMargin <= 0 {
		conf.StopMargin = 2
	}
	return &Driver{
		conf: conf,
		e:    e,
		log:  zap.S().Named("sim"),
	}
}

// Path builds a route starting at the end of section from, running in dir, through vias.
func (d *Driver) Path(from, dir int, vias ...int) (interlock.Route, error) {
	y := d.e.Layout()
	path := y.PathVia(layout.Element{Section: from, Direction: dir}, vias...)
	if path == nil {
		return nil, fmt.Errorf("no path from s%d via %v", from, vias)
	}
	return d.e.RouteOf(path), nil
}

// Place puts t with its front at the end of the first section of route.
func (d *Driver) Place(t *interlock.Train, route interlock.Route) error {
	if len(route) == 0 {
		return interlock.ErrNilRoute
	}
	el := route[0]
	sec := d.e.Sections[el.Section]
	t.Dir = 0
	t.Route[0] = route
	t.Front = interlock.Position{Section: el.Section, Direction: el.Direction, Offset: sec.Length, RouteIndex: 0}
	t.Rear = t.Front
	t.Rear.Offset = math.Max(sec.Length-t.Length, 0)
	if err := d.e.AddTrain(t); err != nil {
		return err
	}
	d.attach(t)
	return nil
}

func (d *Driver) attach(t *interlock.Train) {
	t.Hooks = d
	d.trains = append(d.trains, t)
}

func (d *Driver) Trains() []*interlock.Train { return d.trains }

func (d *Driver) Done() int { return d.done }

// Run steps every tick until ctx is done.
func (d *Driver) Run(ctx context.Context, tick time.Duration, p Publisher) {
	ticker := time.NewTicker(tick)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Step(tick)
			if p != nil {
				p.Send(d.e.Snapshot())
			}
		}
	}
}

// Step moves every train by dt and updates the environment.
func (d *Driver) Step(dt time.Duration) {
	kept := d.trains[:0]
	for _, t := range d.trains {
		if d.move(t, dt.Seconds()) {
			kept = append(kept, t)
			continue
		}
		if err := d.e.RemoveTrain(t.Number); err != nil {
			d.log.Warnw("remove train", "train", t.Number, "err", err)
		}
		d.done++
		d.log.Infow("train reached the end of its route", "train", t.String())
	}
	d.trains = kept
	d.e.Update(false)
}

// move advances t and reports whether it is still running.
func (d *Driver) move(t *interlock.Train, secs float64) bool {
	allowed := d.authority(t)
	step := math.Min(d.conf.Speed*secs, math.Max(allowed, 0))
	if step <= 0 {
		t.Speed = 0
		return !d.atEnd(t)
	}
	t.Speed = step / secs
	rt := interlock.RoutedTrain{Train: t, Dir: t.Dir}
	route := t.Route[t.Dir]
	t.DistanceTravelled += step
	t.Front.Offset += step
	for {
		sec := d.e.Sections[t.Front.Section]
		if t.Front.Offset <= sec.Length || t.Front.RouteIndex+1 >= len(route) {
			break
		}
		t.Front.Offset -= sec.Length
		t.Front.RouteIndex++
		el := route[t.Front.RouteIndex]
		t.Front.Section, t.Front.Direction = el.Section, el.Direction
		d.e.Sections[el.Section].SetOccupied(rt, t.DistanceTravelled-t.Front.Offset)
	}
	d.placeRear(t)
	d.e.ProcessClearing(t)
	return true
}

func (d *Driver) atEnd(t *interlock.Train) bool {
	route := t.Route[t.Dir]
	if t.Front.RouteIndex+1 < len(route) {
		return false
	}
	return t.Front.Offset >= d.e.Sections[t.Front.Section].Length-d.conf.StopMargin-1e-6
}

// placeRear puts the rear Length behind the front along the route.
func (d *Driver) placeRear(t *interlock.Train) {
	route := t.Route[t.Dir]
	i, back := t.Front.RouteIndex, t.Front.Offset-t.Length
	for back < 0 && i > 0 {
		i--
		back += d.e.Sections[route[i].Section].Length
	}
	el := route[i]
	t.Rear = interlock.Position{Section: el.Section, Direction: el.Direction, Offset: math.Max(back, 0), RouteIndex: i}
}

// authority returns how far t may run from its front.
func (d *Driver) authority(t *interlock.Train) float64 {
	rt := interlock.RoutedTrain{Train: t, Dir: t.Dir}
	if t.ControlMode == interlock.ControlAutoNode {
		auth, err := d.e.RequestClearNode(rt)
		if err != nil {
			d.log.Warnw("node request", "train", t.Number, "err", err)
			return 0
		}
		return auth.Distance - d.conf.StopMargin
	}
	route := t.Route[t.Dir]
	dist := -t.Front.Offset
	for i := t.Front.RouteIndex; i < len(route); i++ {
		el := route[i]
		sec := d.e.Sections[el.Section]
		dist += sec.Length
		if dist > d.conf.LookAhead {
			return dist - d.conf.StopMargin
		}
		si := sec.EndSignal(el.Direction)
		if si < 0 || i+1 >= len(route) {
			continue
		}
		s := d.e.Signals[si]
		if enabled, ok := s.EnabledTrain(); ok && enabled.Number() == t.Number && s.ThisSigLR(layout.FunctionNormal) > interlock.AspectStop {
			continue
		}
		ok, err := s.RequestClearSignal(route, rt, 0, false, nil)
		if err != nil {
			d.log.Warnw("signal request", "train", t.Number, "signal", si, "err", err)
		}
		if !ok {
			return dist - d.conf.StopMargin
		}
	}
	return dist - d.conf.StopMargin
}

func (d *Driver) SwitchToNodeControl(t *interlock.Train, section int) {
	d.log.Warnw("train switched to node control", "train", t.Number, "section", section)
}

func (d *Driver) Reroute(t *interlock.Train, section int) {
	d.log.Warnw("switch forced in route, stopping", "train", t.Number, "section", section)
	t.Speed = 0
}

// PoolAccess takes the train on through the pool; the route stays as it is.
func (d *Driver) PoolAccess(t *interlock.Train, section int) {
	d.log.Infow("pool access reached, continuing", "train", t.Number, "section", section)
	t.PoolAccessSection = -1
}

func (d *Driver) ResetActions(t *interlock.Train) {
	d.log.Debugf("train %d: actions reset", t.Number)
}

type trainRecord struct {
	Number            int
	Name              string
	Type              interlock.TrainType
	ControlMode       interlock.ControlMode
	Length            float64
	Speed             float64
	DistanceTravelled float64
	Route             []layout.Element
	Front, Rear       interlock.Position
}

// Save writes the trains followed by the environment's state.
func (d *Driver) Save(w io.Writer) error {
	rs := make([]trainRecord, len(d.trains))
	for i, t := range d.trains {
		route := t.Route[t.Dir]
		els := make([]layout.Element, len(route))
		for j, el := range route {
			els[j] = layout.Element{Section: el.Section, Direction: el.Direction}
		}
		rs[i] = trainRecord{
			Number:            t.Number,
			Name:              t.Name,
			Type:              t.Type,
			ControlMode:       t.ControlMode,
			Length:            t.Length,
			Speed:             t.Speed,
			DistanceTravelled: t.DistanceTravelled,
			Route:             els,
			Front:             t.Front,
			Rear:              t.Rear,
		}
	}
	if err := msgpack.NewEncoder(w).Encode(rs); err != nil {
		return fmt.Errorf("save trains: %w", err)
	}
	return d.e.Save(w)
}

// Restore reads what Save wrote into a driver over a fresh environment.
func (d *Driver) Restore(r io.Reader) error {
	br, ok := r.(interface {
		io.Reader
		io.ByteScanner
	})
	if !ok {
		br = bufio.NewReader(r)
	}
	var rs []trainRecord
	if err := msgpack.NewDecoder(br).Decode(&rs); err != nil {
		return fmt.Errorf("restore trains: %w: %w", interlock.ErrCorruptSave, err)
	}
	for _, rec := range rs {
		t := interlock.NewTrain(rec.Number, rec.Name, rec.Length)
		t.Type = rec.Type
		t.ControlMode = rec.ControlMode
		t.Speed = rec.Speed
		t.DistanceTravelled = rec.DistanceTravelled
		t.Route[0] = d.e.RouteOf(rec.Route)
		t.Front, t.Rear = rec.Front, rec.Rear
		d.e.Attach(t)
		d.attach(t)
	}
	return d.e.Restore(br)
}
