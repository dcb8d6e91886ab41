package transport

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	goburrow "github.com/goburrow/serial"
	bugst "go.bug.st/serial"
)

// Supported serial drivers.
const (
	DriverBugst    = "bugst"
	DriverGoburrow = "goburrow"
	DriverFile     = "file"
)

// Port is an open connection to a line-oriented device. Read returns (0, nil)
// when nothing arrived within the configured timeout.
type Port interface {
	io.ReadWriteCloser
	ResetInputBuffer() error
	ResetOutputBuffer() error
}

type SerialParams struct {
	Address  string
	Driver   string
	BaudRate int
	DataBits int
	StopBits int
	Parity   string
	Timeout  time.Duration
}

func EnsureSerialDefaults(sp *SerialParams) {
	if sp.Driver == "" {
		sp.Driver = DriverBugst
	}
	if sp.BaudRate == 0 {
		sp.BaudRate = 38400
	}
	if sp.DataBits == 0 {
		sp.DataBits = 8
	}
	if sp.StopBits == 0 {
		sp.StopBits = 1
	}
	if sp.Parity == "" {
		sp.Parity = "N"
	}
	if sp.Timeout <= 0 {
		sp.Timeout = time.Second
	}
}

// OpenSerial opens sp.Address with the selected driver and applies the read timeout.
func OpenSerial(sp SerialParams) (Port, error) {
	EnsureSerialDefaults(&sp)
	if strings.TrimSpace(sp.Address) == "" {
		return nil, errors.New("serial address is required")
	}
	switch strings.ToLower(strings.TrimSpace(sp.Driver)) {
	case DriverBugst:
		return openBugst(sp)
	case DriverGoburrow:
		return openGoburrow(sp)
	case DriverFile:
		return OpenFile(sp.Address, sp.Timeout)
	default:
		return nil, fmt.Errorf("serial driver %q not supported", sp.Driver)
	}
}

// ListPorts returns the serial ports currently visible to the host.
func ListPorts() ([]string, error) {
	return bugst.GetPortsList()
}

func openBugst(sp SerialParams) (Port, error) {
	mode := &bugst.Mode{
		BaudRate: sp.BaudRate,
		DataBits: sp.DataBits,
		Parity:   bugstParity(sp.Parity),
		StopBits: bugst.OneStopBit,
	}
	if sp.StopBits == 2 {
		mode.StopBits = bugst.TwoStopBits
	}
	p, err := bugst.Open(sp.Address, mode)
	if err != nil {
		return nil, err
	}
	if err := p.SetReadTimeout(sp.Timeout); err != nil {
		_ = p.Close()
		return nil, fmt.Errorf("set read timeout: %w", err)
	}
	return p, nil
}

func bugstParity(p string) bugst.Parity {
	switch strings.ToUpper(strings.TrimSpace(p)) {
	case "E":
		return bugst.EvenParity
	case "O":
		return bugst.OddParity
	case "M":
		return bugst.MarkParity
	case "S":
		return bugst.SpaceParity
	default:
		return bugst.NoParity
	}
}

// goburrowPort adapts goburrow/serial, which reports read timeouts as an
// error, to the Port contract.
type goburrowPort struct {
	goburrow.Port
}

func openGoburrow(sp SerialParams) (Port, error) {
	p, err := goburrow.Open(&goburrow.Config{
		Address:  sp.Address,
		BaudRate: sp.BaudRate,
		DataBits: sp.DataBits,
		StopBits: sp.StopBits,
		Parity:   strings.ToUpper(strings.TrimSpace(sp.Parity)),
		Timeout:  sp.Timeout,
	})
	if err != nil {
		return nil, err
	}
	return &goburrowPort{Port: p}, nil
}

func (p *goburrowPort) Read(b []byte) (int, error) {
	n, err := p.Port.Read(b)
	if errors.Is(err, goburrow.ErrTimeout) {
		return n, nil
	}
	return n, err
}

// goburrow exposes no flush primitive; stale input is consumed by the line reader.
func (p *goburrowPort) ResetInputBuffer() error  { return nil }
func (p *goburrowPort) ResetOutputBuffer() error { return nil }

// FilePort reads a device node, FIFO or capture file. Read deadlines are
// applied when the file supports them.
type FilePort struct {
	f       *os.File
	timeout time.Duration
}

// OpenFile opens path read-write, falling back to read-only for captures.
func OpenFile(path string, timeout time.Duration) (*FilePort, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		if !errors.Is(err, os.ErrPermission) {
			return nil, err
		}
		if f, err = os.Open(path); err != nil {
			return nil, err
		}
	}
	return NewFilePort(f, timeout), nil
}

func NewFilePort(f *os.File, timeout time.Duration) *FilePort {
	return &FilePort{f: f, timeout: timeout}
}

func (p *FilePort) Read(b []byte) (int, error) {
	if p.timeout > 0 {
		_ = p.f.SetReadDeadline(time.Now().Add(p.timeout))
	}
	n, err := p.f.Read(b)
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return n, nil
	}
	return n, err
}

func (p *FilePort) Write(b []byte) (int, error) { return p.f.Write(b) }
func (p *FilePort) Close() error                { return p.f.Close() }
func (p *FilePort) ResetInputBuffer() error     { return nil }
func (p *FilePort) ResetOutputBuffer() error    { return nil }

var (
	_ Port = (*goburrowPort)(nil)
	_ Port = (*FilePort)(nil)
)
