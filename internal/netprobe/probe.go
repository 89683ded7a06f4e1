package netprobe

import (
	stderrors "errors"
	"net"
	"strconv"
	"syscall"

	"github.com/berth-dev/berth/internal/errors"
)

// MaxProbes caps the upward scan in FindAvailable so a persistently
// failing probe cannot loop forever.
const MaxProbes = 1000

// MaxPort is the highest valid TCP port.
const MaxPort = 65535

// Prober reports whether a TCP port is bound on the local host.
type Prober interface {
	// InUse returns true iff some process is currently listening on
	// the port. A probe that fails for any reason other than the port
	// being bound returns an error; an unknown result is never
	// reported as "free".
	InUse(host string, port int) (bool, error)
}

// TCPProber probes ports by attempting to bind them. A successful
// bind-and-close means the port is free; an address-in-use refusal
// means it is bound.
type TCPProber struct{}

// InUse implements Prober.
func (TCPProber) InUse(host string, port int) (bool, error) {
	if port < 1 || port > MaxPort {
		return false, errors.New(errors.CodeProbeUnavailable).
			WithPort(port).
			WithDetail("Port is outside the valid range 1-65535")
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	ln, err := net.Listen("tcp", addr)
	if err == nil {
		ln.Close()
		return false, nil
	}
	if stderrors.Is(err, syscall.EADDRINUSE) {
		return true, nil
	}
	return false, errors.New(errors.CodeProbeUnavailable).
		WithPort(port).
		Wrap(err)
}

// FindAvailable scans upward from start and returns the first port the
// prober reports free. The scan stops after MaxProbes attempts or at
// the top of the port range, whichever comes first.
func FindAvailable(p Prober, host string, start int) (int, error) {
	if start < 1 || start > MaxPort {
		return 0, errors.New(errors.CodeProbeUnavailable).
			WithPort(start).
			WithDetail("Starting port is outside the valid range 1-65535")
	}

	var lastErr error
	for i := 0; i < MaxProbes; i++ {
		port := start + i
		if port > MaxPort {
			break
		}

		inUse, err := p.InUse(host, port)
		if err != nil {
			// Keep scanning; a single unprobeable port should not
			// abort the search, but it is never treated as free.
			lastErr = err
			continue
		}
		if !inUse {
			return port, nil
		}
	}

	scanErr := errors.New(errors.CodePortScanExhausted).
		WithPort(start).
		WithSuggestion("Pass an explicit --port or free up some ports")
	if lastErr != nil {
		scanErr = scanErr.Wrap(lastErr)
	}
	return 0, scanErr
}
