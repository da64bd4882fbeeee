package fatfs

import (
	"time"

	"go.uber.org/zap"
)

// Options is the functional options struct used by Mount and the formatters.
type Options struct {
	Logger *zap.Logger
	Clock  func() time.Time

	// SkipChecks disables the strict boot sector validation.
	SkipChecks bool

	// Formatting only.
	Label       string
	OEMName     string
	VolumeID    uint32
	HasVolumeID bool
}

// Option is the functional option func.
type Option func(*Options)

// WithLogger sets the logger, by default nothing is logged.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Options) {
		o.Logger = logger
	}
}

// WithClock sets the source of timestamps written to directory entries.
func WithClock(clock func() time.Time) Option {
	return func(o *Options) {
		o.Clock = clock
	}
}

// WithSkipChecks skips some boot sector validations which may allow you to open
// not perfectly standard FAT filesystems.
// Use with caution!
func WithSkipChecks() Option {
	return func(o *Options) {
		o.SkipChecks = true
	}
}

// WithLabel sets the volume label of a formatted volume.
func WithLabel(label string) Option {
	return func(o *Options) {
		o.Label = label
	}
}

// WithOEMName sets the OEM name written into the boot sector.
func WithOEMName(name string) Option {
	return func(o *Options) {
		o.OEMName = name
	}
}

// WithVolumeID sets the volume serial number instead of a random one.
func WithVolumeID(id uint32) Option {
	return func(o *Options) {
		o.VolumeID = id
		o.HasVolumeID = true
	}
}

// NewDefaultOptions initializes a Options struct with default values.
func NewDefaultOptions(setters ...Option) *Options {
	opts := &Options{
		Logger:  zap.NewNop(),
		Clock:   time.Now,
		OEMName: "MSWIN4.1",
	}

	for _, setter := range setters {
		setter(opts)
	}

	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	return opts
}
