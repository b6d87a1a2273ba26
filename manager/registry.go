package manager

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/frobware/go-hvman"
	"github.com/frobware/go-hvman/action"
	"github.com/frobware/go-hvman/alloc"
	"github.com/frobware/go-hvman/compute"
	"github.com/frobware/go-hvman/config"
	"github.com/frobware/go-hvman/device"
	"github.com/frobware/go-hvman/hypervisor"
	"github.com/frobware/go-hvman/interpreter"
	"github.com/frobware/go-hvman/nio"
)

// managedDevice is what a registry needs from a device variant on top
// of the common capability set.
type managedDevice interface {
	device.Device
	Rename(ctx context.Context, name string) error
	Delete(ctx context.Context) error
	StartCapture(ctx context.Context, port hvman.PortNumber, outputPath, linkType string) error
	StopCapture(ctx context.Context, port hvman.PortNumber) error
}

// variant supplies the behaviour that differs between device kinds.
type variant[D managedDevice] struct {
	kind device.Kind
	// restore rebuilds a device from its record without sending
	// anything.
	restore func(ch hypervisor.Channel, rec device.Record, logger *slog.Logger) D
	// bind attaches n to port, telling the hypervisor if the kind
	// requires it.
	bind func(ctx context.Context, d D, port hvman.PortNumber, n nio.NIO) error
	// unbind detaches and returns the NIO on port.
	unbind func(ctx context.Context, d D, port hvman.PortNumber) (nio.NIO, error)
	// list asks the hypervisor for the device names it knows.
	list func(ctx context.Context, ch hypervisor.Channel) ([]string, error)
	// dir is the working directory of device id.
	dir func(dirs config.RuntimeDirs, id hvman.DeviceID) string
	// forget, if set, returns resources the variant holds for a
	// device that is gone.
	forget func(d D)
}

type entry[D managedDevice] struct {
	dev D
	rec device.Record
}

// registry is the state one device module owns: its devices, their ID
// pool and the UDP port range shared by all of them. Every exported
// operation of a module holds mu from the first hypervisor command
// until the result is persisted.
type registry[D managedDevice] struct {
	v        variant[D]
	ch       hypervisor.Channel
	store    interpreter.Store
	executor interpreter.ActionExecutor
	logger   *slog.Logger

	mu       sync.Mutex
	dirs     config.RuntimeDirs
	ids      *alloc.IDPool
	udp      *alloc.PortRange
	devices  map[hvman.DeviceID]*entry[D]
	reserved map[int]hvman.DeviceID // local UDP port -> owning device
}

func newRegistry[D managedDevice](v variant[D], deps Dependencies, cfg Settings) (*registry[D], error) {
	udp, err := alloc.NewPortRange("udp", cfg.UDP.StartPort, cfg.UDP.EndPort, deps.UDPProber)
	if err != nil {
		return nil, err
	}
	dirs := deps.Dirs
	if cfg.WorkingDir != "" {
		if dirs, err = dirs.WithWorkDir(cfg.WorkingDir); err != nil {
			return nil, err
		}
	}
	return &registry[D]{
		v:        v,
		ch:       deps.Channel,
		store:    deps.Store,
		executor: interpreter.NewExecutor(deps.Store),
		logger:   deps.Logger.With("component", "manager", "module", string(v.kind)),
		dirs:     dirs,
		ids:      alloc.NewIDPool(),
		udp:      udp,
		devices:  make(map[hvman.DeviceID]*entry[D]),
		reserved: make(map[int]hvman.DeviceID),
	}, nil
}

// restore rebuilds the registry from the store. Nothing is sent to
// the hypervisor: persisted state is assumed to mirror it.
func (r *registry[D]) restore(ctx context.Context, circuits func(D, []hvman.Circuit)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	devices, err := r.store.ListDevices(ctx, r.v.kind)
	if err != nil {
		return fmt.Errorf("list %s devices: %w", r.v.kind, err)
	}
	nios, err := r.store.ListNIOs(ctx, r.v.kind)
	if err != nil {
		return fmt.Errorf("list %s nios: %w", r.v.kind, err)
	}
	var circuitRecs []device.CircuitRecord
	if circuits != nil {
		if circuitRecs, err = r.store.ListCircuits(ctx); err != nil {
			return fmt.Errorf("list circuits: %w", err)
		}
	}
	reservations, err := r.store.ListReservations(ctx, r.v.kind)
	if err != nil {
		return fmt.Errorf("list %s reservations: %w", r.v.kind, err)
	}

	states, strays := compute.Assemble(devices, nios, circuitRecs, reservations)
	for _, s := range strays {
		r.logger.WarnContext(ctx, "ignoring persisted row with no owning device", "row", s)
	}

	for _, s := range states {
		if err := r.ids.Claim(s.Record.ID); err != nil {
			return fmt.Errorf("restore %s %d: %w", r.v.kind, s.Record.ID, err)
		}
		d := r.v.restore(r.ch, s.Record, r.logger)
		for _, n := range s.NIOs {
			u := nio.RestoreUDP(r.ch, n.Name, n.Spec, n.Filters)
			if err := d.Ports().Bind(n.Port, u); err != nil {
				return fmt.Errorf("restore %s %d: %w", r.v.kind, s.Record.ID, err)
			}
		}
		if circuits != nil {
			circuits(d, s.Circuits)
		}
		for _, port := range s.Reservations {
			r.udp.Claim(port)
			r.reserved[port] = s.Record.ID
		}
		r.devices[s.Record.ID] = &entry[D]{dev: d, rec: s.Record}
	}

	if len(states) > 0 {
		r.logger.InfoContext(ctx, "restored devices", "count", len(states))
	}
	return nil
}

func (r *registry[D]) notFound(id hvman.DeviceID) error {
	return hvman.DeviceNotFoundError{Kind: r.v.kind.Label(), ID: id}
}

// getLocked returns the entry for id.
func (r *registry[D]) getLocked(id hvman.DeviceID) (*entry[D], error) {
	e, ok := r.devices[id]
	if !ok {
		return nil, r.notFound(id)
	}
	return e, nil
}

// get returns the device with id.
func (r *registry[D]) get(id hvman.DeviceID) (D, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, err := r.getLocked(id)
	if err != nil {
		var zero D
		return zero, err
	}
	return e.dev, nil
}

// all returns the devices ordered by ID.
func (r *registry[D]) all() []D {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]hvman.DeviceID, 0, len(r.devices))
	for id := range r.devices {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]D, len(ids))
	for i, id := range ids {
		out[i] = r.devices[id].dev
	}
	return out
}

// records returns the device records ordered by ID.
func (r *registry[D]) records() []device.Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]device.Record, 0, len(r.devices))
	for _, e := range r.devices {
		out = append(out, e.rec)
	}
	slices.SortFunc(out, func(a, b device.Record) int { return int(a.ID) - int(b.ID) })
	return out
}

// commit persists actions in one transaction. If that fails, undo
// compensates the hypervisor commands the operation already sent.
func (r *registry[D]) commit(ctx context.Context, actions []action.Action, undo undoStack) error {
	err := r.executor.Commit(ctx, actions)
	if err == nil {
		return nil
	}
	r.logger.ErrorContext(ctx, "persist failed, rolling back", "error", err)
	if rbErr := undo.rollback(ctx, r.logger); rbErr != nil {
		return errors.Join(fmt.Errorf("persist: %w", err), fmt.Errorf("rollback failed: %w", rbErr))
	}
	return fmt.Errorf("persist: %w", err)
}

// createLocked reserves an ID, runs mk to create the device on the
// hypervisor and persists it. The ID is released again on any failure.
func (r *registry[D]) createLocked(ctx context.Context, name string, console int, mk func(ctx context.Context, id hvman.DeviceID) (D, error)) (D, error) {
	var zero D

	id, err := r.ids.Acquire()
	if err != nil {
		return zero, fmt.Errorf("create %s %q: %w", r.v.kind.Label(), name, err)
	}

	if err := os.MkdirAll(r.v.dir(r.dirs, id), 0o755); err != nil {
		r.ids.Release(id)
		return zero, fmt.Errorf("create %s %q: working directory: %w", r.v.kind.Label(), name, err)
	}

	d, err := mk(ctx, id)
	if err != nil {
		r.ids.Release(id)
		return zero, err
	}

	var undo undoStack
	undo.push("delete "+name, d.Delete)

	rec := device.Record{Kind: r.v.kind, ID: id, Name: name, Console: console, CreatedAt: time.Now()}
	if err := r.commit(ctx, compute.SaveDeviceActions(rec), undo); err != nil {
		r.ids.Release(id)
		return zero, device.OpError(d, "create", err)
	}

	r.devices[id] = &entry[D]{dev: d, rec: rec}
	return d, nil
}

// rename renames device id on the hypervisor, then locally.
func (r *registry[D]) rename(ctx context.Context, id hvman.DeviceID, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, err := r.getLocked(id)
	if err != nil {
		return err
	}
	old := e.dev.Name()
	if err := e.dev.Rename(ctx, name); err != nil {
		return err
	}

	var undo undoStack
	undo.push("rename back to "+old, func(ctx context.Context) error { return e.dev.Rename(ctx, old) })

	rec := e.rec
	rec.Name = name
	if err := r.commit(ctx, compute.SaveDeviceActions(rec), undo); err != nil {
		return device.OpError(e.dev, "rename", err)
	}
	e.rec = rec
	return nil
}

// deleteLocked deletes device id on the hypervisor, then tears down
// its NIOs (best effort) and returns its ID and UDP ports to the
// pools.
func (r *registry[D]) deleteLocked(ctx context.Context, id hvman.DeviceID) error {
	e, err := r.getLocked(id)
	if err != nil {
		return err
	}
	bindings := e.dev.Ports().Bindings()
	if err := e.dev.Delete(ctx); err != nil {
		return err
	}

	for _, b := range bindings {
		u, ok := b.NIO.(*nio.UDP)
		if !ok {
			continue
		}
		if err := u.Delete(ctx); err != nil {
			r.logger.WarnContext(ctx, "could not delete NIO of deleted device", "id", id, "port", b.Port, "nio", u.Name(), "error", err)
		}
	}
	released := r.releaseDeviceLocked(id)
	delete(r.devices, id)
	r.ids.Release(id)
	if r.v.forget != nil {
		r.v.forget(e.dev)
	}

	r.logger.InfoContext(ctx, "device deleted", "id", id, "name", e.rec.Name, "released_udp_ports", released)

	if err := r.executor.Commit(ctx, compute.DeleteDeviceActions(r.v.kind, id)); err != nil {
		r.logger.ErrorContext(ctx, "device deleted on the hypervisor but its record could not be removed", "id", id, "error", err)
		return device.OpError(e.dev, "delete", fmt.Errorf("persist: %w", err))
	}
	return nil
}

// releaseDeviceLocked returns every UDP port reserved by id.
func (r *registry[D]) releaseDeviceLocked(id hvman.DeviceID) []int {
	var released []int
	for port, owner := range r.reserved {
		if owner == id {
			r.udp.Release(port)
			delete(r.reserved, port)
			released = append(released, port)
		}
	}
	slices.Sort(released)
	return released
}

// allocateUDPPort reserves a free local UDP port for device id.
func (r *registry[D]) allocateUDPPort(ctx context.Context, id hvman.DeviceID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, err := r.getLocked(id)
	if err != nil {
		return 0, err
	}
	if e.dev.Deleted() {
		return 0, device.OpError(e.dev, "allocate_udp_port", hvman.ErrDeviceDeleted)
	}

	port, err := r.udp.Reserve(nil)
	if err != nil {
		return 0, device.OpError(e.dev, "allocate_udp_port", err)
	}
	if err := r.commit(ctx, compute.ReserveActions(r.v.kind, id, port), nil); err != nil {
		r.udp.Release(port)
		return 0, device.OpError(e.dev, "allocate_udp_port", err)
	}
	r.reserved[port] = id
	r.logger.InfoContext(ctx, "allocated UDP port", "id", id, "name", e.rec.Name, "lport", port)
	return port, nil
}

// lportUserLocked returns the NIO already using local UDP port lport,
// if any.
func (r *registry[D]) lportUserLocked(lport int) (string, bool) {
	for _, e := range r.devices {
		for _, b := range e.dev.Ports().Bindings() {
			if u, ok := b.NIO.(*nio.UDP); ok && u.Spec().LPort == lport {
				return u.Name(), true
			}
		}
	}
	return "", false
}

// addNIO creates a UDP NIO on the hypervisor and binds it to port.
// spec.LPort joins the module's reserved set if it is not already
// there; an LPort of 0 is drawn from the UDP range.
func (r *registry[D]) addNIO(ctx context.Context, id hvman.DeviceID, port hvman.PortNumber, spec nio.UDPSpec) (*nio.UDP, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, err := r.getLocked(id)
	if err != nil {
		return nil, err
	}
	if e.dev.Deleted() {
		return nil, device.OpError(e.dev, "add_nio", hvman.ErrDeviceDeleted)
	}
	if e.dev.Ports().Has(port) {
		return nil, device.OpError(e.dev, "add_nio", &hvman.PortError{Device: e.dev.Name(), Port: port, Err: hvman.ErrPortOccupied})
	}
	var added bool
	if spec.LPort == 0 {
		lport, err := r.udp.Reserve(nil)
		if err != nil {
			return nil, device.OpError(e.dev, "add_nio", err)
		}
		defer func() {
			if !added {
				r.udp.Release(lport)
			}
		}()
		spec.LPort = lport
	}
	if err := spec.Validate(); err != nil {
		return nil, device.OpError(e.dev, "add_nio", err)
	}
	owner, reserved := r.reserved[spec.LPort]
	if reserved && owner != id {
		return nil, device.OpError(e.dev, "add_nio",
			fmt.Errorf("local UDP port %d is reserved by %s %d: %w", spec.LPort, r.v.kind, owner, hvman.ErrPortOccupied))
	}
	if user, busy := r.lportUserLocked(spec.LPort); busy {
		return nil, device.OpError(e.dev, "add_nio",
			fmt.Errorf("local UDP port %d is used by %s: %w", spec.LPort, user, hvman.ErrPortOccupied))
	}

	// The reservation is only recorded once everything succeeded.
	u, err := nio.CreateUDP(ctx, r.ch, nio.NewName(), spec)
	if err != nil {
		return nil, device.OpError(e.dev, "add_nio", err)
	}
	var undo undoStack
	undo.push("delete "+u.Name(), u.Delete)

	if err := r.v.bind(ctx, e.dev, port, u); err != nil {
		if rbErr := undo.rollback(ctx, r.logger); rbErr != nil {
			return nil, errors.Join(err, fmt.Errorf("rollback failed: %w", rbErr))
		}
		return nil, err
	}
	undo.push("unbind port", func(ctx context.Context) error {
		_, err := r.v.unbind(ctx, e.dev, port)
		return err
	})

	rec := nioRecord(r.v.kind, id, port, u)
	if err := r.commit(ctx, compute.AddNIOActions(rec), undo); err != nil {
		return nil, device.OpError(e.dev, "add_nio", err)
	}
	added = true
	r.udp.Claim(spec.LPort)
	r.reserved[spec.LPort] = id
	return u, nil
}

// removeNIO unbinds the NIO on port, deletes it on the hypervisor and
// releases its local UDP port.
func (r *registry[D]) removeNIO(ctx context.Context, id hvman.DeviceID, port hvman.PortNumber) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, err := r.getLocked(id)
	if err != nil {
		return err
	}
	n, err := r.v.unbind(ctx, e.dev, port)
	if err != nil {
		return err
	}
	u, ok := n.(*nio.UDP)
	if !ok {
		return device.OpError(e.dev, "remove_nio", fmt.Errorf("port %d holds an unmanaged NIO %s", port, n.Name()))
	}

	if err := u.Delete(ctx); err != nil {
		var undo undoStack
		undo.push("rebind port", func(ctx context.Context) error { return r.v.bind(ctx, e.dev, port, u) })
		if rbErr := undo.rollback(ctx, r.logger); rbErr != nil {
			return errors.Join(device.OpError(e.dev, "remove_nio", err), fmt.Errorf("rollback failed: %w", rbErr))
		}
		return device.OpError(e.dev, "remove_nio", err)
	}

	var undo undoStack
	undo.push("recreate "+u.Name(), func(ctx context.Context) error {
		again, err := nio.CreateUDP(ctx, r.ch, u.Name(), u.Spec())
		if err != nil {
			return err
		}
		return r.v.bind(ctx, e.dev, port, again)
	})

	rec := nioRecord(r.v.kind, id, port, u)
	if err := r.commit(ctx, compute.RemoveNIOActions(rec), undo); err != nil {
		return device.OpError(e.dev, "remove_nio", err)
	}

	lport := u.Spec().LPort
	if owner, ok := r.reserved[lport]; ok && owner == id {
		r.udp.Release(lport)
		delete(r.reserved, lport)
	}
	r.logger.InfoContext(ctx, "NIO deleted", "id", id, "port", port, "nio", u.Name(), "lport", lport)
	return nil
}

// capturePathLocked places relative and empty capture paths under the
// device's working directory.
func (r *registry[D]) capturePathLocked(id hvman.DeviceID, port hvman.PortNumber, path string) string {
	switch {
	case path == "":
		return filepath.Join(r.v.dir(r.dirs, id), "captures", fmt.Sprintf("port%d.pcap", port))
	case filepath.IsAbs(path):
		return path
	default:
		return filepath.Join(r.v.dir(r.dirs, id), path)
	}
}

// startCapture mirrors traffic on port into a capture file and
// returns the file path.
func (r *registry[D]) startCapture(ctx context.Context, id hvman.DeviceID, port hvman.PortNumber, path, linkType string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, err := r.getLocked(id)
	if err != nil {
		return "", err
	}
	path = r.capturePathLocked(id, port, path)
	if err := e.dev.StartCapture(ctx, port, path, linkType); err != nil {
		return "", err
	}

	var undo undoStack
	undo.push("stop capture", func(ctx context.Context) error { return e.dev.StopCapture(ctx, port) })

	rec, err := r.nioRecordLocked(e, port)
	if err == nil {
		err = r.commit(ctx, compute.UpdateFiltersActions(rec), undo)
	}
	if err != nil {
		return "", device.OpError(e.dev, "start_capture", err)
	}
	return path, nil
}

// stopCapture stops any capture on port. Stopping a port without a
// capture is not an error.
func (r *registry[D]) stopCapture(ctx context.Context, id hvman.DeviceID, port hvman.PortNumber) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, err := r.getLocked(id)
	if err != nil {
		return err
	}
	before, err := r.nioRecordLocked(e, port)
	if err != nil {
		// Let the device report the missing port in its own terms.
		return e.dev.StopCapture(ctx, port)
	}
	if err := e.dev.StopCapture(ctx, port); err != nil {
		return err
	}
	if before.Filters == (nio.FilterState{}) {
		return nil
	}

	var undo undoStack
	if linkType, path, ok := strings.Cut(before.Filters.InOptions, " "); ok {
		undo.push("restart capture", func(ctx context.Context) error {
			return e.dev.StartCapture(ctx, port, path, linkType)
		})
	}

	after, err := r.nioRecordLocked(e, port)
	if err == nil {
		err = r.commit(ctx, compute.UpdateFiltersActions(after), undo)
	}
	if err != nil {
		return device.OpError(e.dev, "stop_capture", err)
	}
	return nil
}

func (r *registry[D]) nioRecordLocked(e *entry[D], port hvman.PortNumber) (device.NIORecord, error) {
	n, err := e.dev.Ports().Get(port)
	if err != nil {
		return device.NIORecord{}, err
	}
	u, ok := n.(*nio.UDP)
	if !ok {
		return device.NIORecord{}, fmt.Errorf("port %d holds an unmanaged NIO %s", port, n.Name())
	}
	return nioRecord(r.v.kind, e.rec.ID, port, u), nil
}

func nioRecord(kind device.Kind, id hvman.DeviceID, port hvman.PortNumber, u *nio.UDP) device.NIORecord {
	return device.NIORecord{
		Kind:     kind,
		DeviceID: id,
		Port:     port,
		Name:     u.Name(),
		Spec:     u.Spec(),
		Filters:  u.FilterState(),
	}
}

// reset deletes every device. Devices whose deletion fails stay
// registered; everything else is forgotten and its resources returned.
func (r *registry[D]) reset(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]hvman.DeviceID, 0, len(r.devices))
	for id := range r.devices {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	var errs []error
	for _, id := range ids {
		if err := r.deleteLocked(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		r.logger.ErrorContext(ctx, "reset incomplete", "remaining", len(r.devices))
		return errors.Join(errs...)
	}

	r.ids.ResetAll()
	r.udp.ReleaseAll()
	clear(r.reserved)
	if err := r.executor.Commit(ctx, compute.ResetActions(r.v.kind)); err != nil {
		return fmt.Errorf("reset %s: persist: %w", r.v.kind, err)
	}
	r.logger.InfoContext(ctx, "module reset", "deleted", len(ids))
	return nil
}

// applySettings applies cfg to the UDP range and working directory.
func (r *registry[D]) applySettings(cfg Settings) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.udp.SetRange(cfg.UDP.StartPort, cfg.UDP.EndPort); err != nil {
		return err
	}
	if cfg.WorkingDir != "" {
		dirs, err := r.dirs.WithWorkDir(cfg.WorkingDir)
		if err != nil {
			return err
		}
		r.dirs = dirs
	}
	return nil
}

// listRemote returns the hypervisor's own view of this module.
func (r *registry[D]) listRemote(ctx context.Context) ([]string, error) {
	names, err := r.v.list(ctx, r.ch)
	if err != nil {
		return nil, fmt.Errorf("%s list: %w", r.v.kind, err)
	}
	return names, nil
}

// workDir returns the working directory of device id.
func (r *registry[D]) workDir(id hvman.DeviceID) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.v.dir(r.dirs, id)
}

// udpState returns the configured range and reserved ports.
func (r *registry[D]) udpState() (start, end int, reserved []int) {
	start, end = r.udp.Range()
	return start, end, r.udp.Reserved()
}
