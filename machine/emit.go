package machine

import (
	"tlog.app/go/errors"
)

type (
	// Emitter appends encoded forms to a code buffer. A form whose
	// arguments include an unresolved label is emitted as a
	// zero-filled placeholder of the form's fixed size and recorded;
	// Resolve overwrites the byte range by re-invoking the encoder
	// with complete arguments. Size stability per form is what makes
	// this safe, and is checked at specification build time.
	Emitter struct {
		b       []byte
		pending []reloc
		labels  int
	}

	reloc struct {
		off  int
		def  *InstrDef
		args []Loc
	}
)

func NewEmitter() *Emitter {
	return &Emitter{}
}

// NewLabel issues a fresh unresolved label.
func (e *Emitter) NewLabel() Label {
	e.labels++

	return Label(e.labels - 1)
}

// Emit encodes one committed match and returns its byte offset.
func (e *Emitter) Emit(m *Match) (off int, err error) {
	return e.EmitForm(m.Def, m.Args)
}

// EmitForm encodes an instruction form with explicit arguments.
func (e *Emitter) EmitForm(d *InstrDef, args []Loc) (off int, err error) {
	off = len(e.b)

	for _, a := range args {
		if a.Kind != LocLabel {
			continue
		}

		e.pending = append(e.pending, reloc{
			off:  off,
			def:  d,
			args: append([]Loc{}, args...),
		})

		e.b = append(e.b, make([]byte, d.Size)...)

		return off, nil
	}

	enc := d.Encode(args)
	if len(enc) != d.Size {
		return 0, errors.New("form %v: encoding size %d, declared %d", d.Name, len(enc), d.Size)
	}

	e.b = append(e.b, enc...)

	return off, nil
}

// Resolve patches every placeholder waiting on l with its final
// value. The encoder runs with the now-complete arguments; the byte
// length cannot change.
func (e *Emitter) Resolve(l Label, value int64) error {
	kept := e.pending[:0]

	for _, r := range e.pending {
		done := true

		for i, a := range r.args {
			if a.Kind == LocLabel && a.Label == l {
				r.args[i] = ImmLoc(value)
			} else if a.Kind == LocLabel {
				done = false
			}
		}

		if !done {
			kept = append(kept, r)

			continue
		}

		enc := r.def.Encode(r.args)
		if len(enc) != r.def.Size {
			return errors.New("form %v: relocated encoding size %d, declared %d", r.def.Name, len(enc), r.def.Size)
		}

		copy(e.b[r.off:], enc)
	}

	e.pending = kept

	return nil
}

// Pending reports how many placeholders still await resolution.
func (e *Emitter) Pending() int { return len(e.pending) }

func (e *Emitter) Bytes() []byte { return e.b }
