package execution

// Instrument describes price granularity for a symbol.
type Instrument struct {
	PipSize float64
	Digits  int32
}

// DefaultInstrument matches five-digit FX majors.
var DefaultInstrument = Instrument{PipSize: 0.0001, Digits: 5}

// InstrumentOverride is a configured instrument. Unset fields fall back to
// DefaultInstrument; Digits is a pointer so that 0 (whole units) can be
// configured.
type InstrumentOverride struct {
	PipSize float64 `yaml:"pip_size"`
	Digits  *int32  `yaml:"digits"`
}

// Instruments holds per-symbol overrides.
type Instruments map[string]InstrumentOverride

// Lookup returns the instrument for symbol, falling back to DefaultInstrument
// for any field left unset.
func (in Instruments) Lookup(symbol string) Instrument {
	inst := DefaultInstrument
	o, ok := in[symbol]
	if !ok {
		return inst
	}
	if o.PipSize > 0 {
		inst.PipSize = o.PipSize
	}
	if o.Digits != nil && *o.Digits >= 0 {
		inst.Digits = *o.Digits
	}
	return inst
}
