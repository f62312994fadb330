package vm

// Options configures a VM. Every numeric knob can also be changed at
// runtime through the System object.
type Options struct {
	GCEnabled      bool
	GCThreshold    int     // bytes allocated before the first collection
	GCMinThreshold int     // floor for recomputed thresholds
	GCRatio        float64 // growth of the threshold over the live set

	MaxCCalls    int // nested host-to-VM calls
	MaxBlock     int // largest single allocation (strings, lists)
	MaxRecursion int // consecutive self calls, 0 means unlimited
	MaxFrames    int
	MaxStack     int // value slots per fiber

	// NullSilent installs silent load/store/exec/notfound on Null.
	NullSilent bool

	Delegate *Delegate
}

const (
	defaultGCThreshold    = 5 * 1024 * 1024
	defaultGCMinThreshold = 1024 * 1024
	defaultGCRatio        = 0.5
	defaultMaxCCalls      = 100
	defaultMaxBlock       = 150 * 1024 * 1024
	defaultMaxFrames      = 1 << 16
	defaultMaxStack       = 1 << 24

	defaultStackSize = 256
	defaultGlobals   = 256
)

// DefaultOptions returns the stock configuration.
func DefaultOptions() Options {
	return Options{
		GCEnabled:      true,
		GCThreshold:    defaultGCThreshold,
		GCMinThreshold: defaultGCMinThreshold,
		GCRatio:        defaultGCRatio,
		MaxCCalls:      defaultMaxCCalls,
		MaxBlock:       defaultMaxBlock,
		MaxFrames:      defaultMaxFrames,
		MaxStack:       defaultMaxStack,
		NullSilent:     true,
	}
}

// normalize fills zero values with defaults.
func (o *Options) normalize() {
	d := DefaultOptions()
	if o.GCThreshold <= 0 {
		o.GCThreshold = d.GCThreshold
	}
	if o.GCMinThreshold <= 0 {
		o.GCMinThreshold = d.GCMinThreshold
	}
	if o.GCRatio <= 0 {
		o.GCRatio = d.GCRatio
	}
	if o.MaxCCalls <= 0 {
		o.MaxCCalls = d.MaxCCalls
	}
	if o.MaxBlock <= 0 {
		o.MaxBlock = d.MaxBlock
	}
	if o.MaxRecursion < 0 {
		o.MaxRecursion = 0
	}
	if o.MaxFrames <= 0 {
		o.MaxFrames = d.MaxFrames
	}
	if o.MaxStack <= 0 {
		o.MaxStack = d.MaxStack
	}
}
