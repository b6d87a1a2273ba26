// Package capture starts and stops packet captures on device ports by
// binding the hypervisor's capture filter to the port's NIO.
package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/frobware/go-hvman"
	"github.com/frobware/go-hvman/device"
	"github.com/frobware/go-hvman/nio"
)

// Default link types per device variant.
const (
	LinkTypeFrameRelay = "DLT_FRELAY"
	LinkTypeEthernet   = "DLT_EN10MB"
)

// NormalizeLinkType lowercases t and strips a "dlt_" prefix, giving
// the form the hypervisor's capture filter expects.
func NormalizeLinkType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	return strings.TrimPrefix(t, "dlt_")
}

// Start mirrors the traffic of port into outputPath. The parent
// directory is created if needed. It fails with ErrPortNotAllocated
// when nothing is bound to port and with ErrFilterAlreadyBound when
// the NIO already filters both directions. An empty linkType means
// LinkTypeFrameRelay.
func Start(ctx context.Context, ports *device.Ports, port hvman.PortNumber, outputPath, linkType string) error {
	n, err := ports.Get(port)
	if err != nil {
		return err
	}

	if in, out := n.Filters(); in != "" && out != "" {
		return &hvman.PortError{Device: ports.Owner(), Port: port, Err: hvman.ErrFilterAlreadyBound}
	}

	if err := os.MkdirAll(filepath.Dir(outputPath), 0o755); err != nil {
		return &hvman.CaptureSetupError{Path: outputPath, Err: err}
	}

	if err := n.BindFilter(ctx, nio.DirBoth, nio.CaptureFilter); err != nil {
		return err
	}
	if linkType == "" {
		linkType = LinkTypeFrameRelay
	}
	options := fmt.Sprintf("%s %s", NormalizeLinkType(linkType), outputPath)
	if err := n.SetupFilter(ctx, nio.DirBoth, options); err != nil {
		// Leave the NIO as it was before Start.
		if rbErr := n.UnbindFilter(ctx, nio.DirBoth); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	return nil
}

// Stop unbinds the filters of both directions of port. The command is
// always sent so that a capture the local state has lost track of can
// still be stopped. When no filter was recorded, a hypervisor refusal
// means there was nothing to unbind and Stop succeeds.
func Stop(ctx context.Context, ports *device.Ports, port hvman.PortNumber) error {
	n, err := ports.Get(port)
	if err != nil {
		return err
	}
	in, out := n.Filters()
	err = n.UnbindFilter(ctx, nio.DirBoth)
	var cmdErr *hvman.CommandError
	if err != nil && in == "" && out == "" && errors.As(err, &cmdErr) {
		return nil
	}
	return err
}

// Active reports whether port currently has a capture filter on both
// directions.
func Active(ports *device.Ports, port hvman.PortNumber) bool {
	n, err := ports.Get(port)
	if err != nil {
		return false
	}
	in, out := n.Filters()
	return in == nio.CaptureFilter && out == nio.CaptureFilter
}
