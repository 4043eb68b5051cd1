package batch

import (
	"errors"
	"fmt"

	"github.com/google/uuid"

	"dmlbatch/internal/sqlgen"
)

const (
	// DefaultNetworkPacketSize is the packet size the script length limit derives from.
	DefaultNetworkPacketSize = 4096
	// DefaultMaxRowCount is the hard ceiling on commands per batch.
	DefaultMaxRowCount = 1000
	// DefaultMaxParameterCount is the server's bound parameter limit.
	DefaultMaxParameterCount = 2100
	// DefaultLengthCheckInterval is the number of admissions before the first length measurement.
	DefaultLengthCheckInterval = 50
	// DefaultHeadroomDivisor scales the estimated remaining capacity when re-arming the length check.
	DefaultHeadroomDivisor = 4
)

// ErrInvalidMaxBatchSize is returned when an explicit max batch size is not positive.
var ErrInvalidMaxBatchSize = errors.New("max batch size must be a positive integer")

// ErrInvalidOptions is returned for non-positive limits other than the max batch size.
var ErrInvalidOptions = errors.New("invalid batch options")

// MaxScriptLengthFor returns the script length limit for a network packet size.
func MaxScriptLengthFor(packetSize int) int {
	return 65536 * packetSize / 2
}

// Options configures batch limits. Zero values select the defaults.
type Options struct {
	// MaxBatchSize optionally lowers the row ceiling. Nil means unset.
	MaxBatchSize *int
	// MaxRowCount lowers the row ceiling; values above DefaultMaxRowCount are capped.
	MaxRowCount         int
	MaxParameterCount   int
	NetworkPacketSize   int
	MaxScriptLength     int
	LengthCheckInterval int
	HeadroomDivisor     int
}

// DefaultOptions returns the default limits.
func DefaultOptions() Options {
	return Options{
		MaxRowCount:         DefaultMaxRowCount,
		MaxParameterCount:   DefaultMaxParameterCount,
		NetworkPacketSize:   DefaultNetworkPacketSize,
		MaxScriptLength:     MaxScriptLengthFor(DefaultNetworkPacketSize),
		LengthCheckInterval: DefaultLengthCheckInterval,
		HeadroomDivisor:     DefaultHeadroomDivisor,
	}
}

type limits struct {
	maxRows             int
	maxParameters       int
	maxScriptLength     int
	lengthCheckInterval int
	headroomDivisor     int
}

func (o Options) resolve() (limits, error) {
	if o.MaxBatchSize != nil && *o.MaxBatchSize <= 0 {
		return limits{}, fmt.Errorf("%w: got %d", ErrInvalidMaxBatchSize, *o.MaxBatchSize)
	}

	def := DefaultOptions()
	pick := func(name string, v, fallback int) (int, error) {
		if v < 0 {
			return 0, fmt.Errorf("%w: %s must be positive, got %d", ErrInvalidOptions, name, v)
		}
		if v == 0 {
			return fallback, nil
		}
		return v, nil
	}

	var l limits
	var err error
	if l.maxRows, err = pick("max row count", o.MaxRowCount, def.MaxRowCount); err != nil {
		return limits{}, err
	}
	l.maxRows = min(l.maxRows, DefaultMaxRowCount)
	if l.maxParameters, err = pick("max parameter count", o.MaxParameterCount, def.MaxParameterCount); err != nil {
		return limits{}, err
	}
	packet, err := pick("network packet size", o.NetworkPacketSize, def.NetworkPacketSize)
	if err != nil {
		return limits{}, err
	}
	if l.maxScriptLength, err = pick("max script length", o.MaxScriptLength, MaxScriptLengthFor(packet)); err != nil {
		return limits{}, err
	}
	if l.lengthCheckInterval, err = pick("length check interval", o.LengthCheckInterval, def.LengthCheckInterval); err != nil {
		return limits{}, err
	}
	if l.headroomDivisor, err = pick("headroom divisor", o.HeadroomDivisor, def.HeadroomDivisor); err != nil {
		return limits{}, err
	}

	if o.MaxBatchSize != nil && *o.MaxBatchSize < l.maxRows {
		l.maxRows = *o.MaxBatchSize
	}
	return l, nil
}

// Factory creates empty batches sharing one set of validated limits and a renderer.
type Factory struct {
	limits   limits
	renderer sqlgen.Renderer
}

// NewFactory validates opts and returns a Factory.
func NewFactory(opts Options, renderer sqlgen.Renderer) (*Factory, error) {
	if renderer == nil {
		return nil, fmt.Errorf("%w: renderer is required", ErrInvalidOptions)
	}
	l, err := opts.resolve()
	if err != nil {
		return nil, err
	}
	return &Factory{limits: l, renderer: renderer}, nil
}

// New returns an empty, open batch.
func (f *Factory) New() *Batch {
	return &Batch{
		id:                        uuid.New(),
		limits:                    f.limits,
		renderer:                  f.renderer,
		parameterCount:            1, // implicit parameter for the command text
		lastCachedCommandIndex:    -1,
		commandsLeftToLengthCheck: f.limits.lengthCheckInterval,
	}
}

// MaxRows returns the effective row ceiling.
func (f *Factory) MaxRows() int { return f.limits.maxRows }

// MaxParameters returns the parameter ceiling.
func (f *Factory) MaxParameters() int { return f.limits.maxParameters }

// MaxScriptLength returns the script length ceiling in bytes.
func (f *Factory) MaxScriptLength() int { return f.limits.maxScriptLength }

// Dialect returns the renderer's dialect.
func (f *Factory) Dialect() sqlgen.Dialect { return f.renderer.Dialect() }
