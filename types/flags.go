package types

// SectionFlag holds the flags field of a section_64; only the section-type
// bits are consulted, to find indirect-symbol-pointer sections for GOT
// rebinding.
type SectionFlag uint32

const (
	SectionTypeMask SectionFlag = 0xff // mask for the type bits, rest are attributes

	S_REGULAR                  SectionFlag = 0x0
	S_NON_LAZY_SYMBOL_POINTERS SectionFlag = 0x6
	S_LAZY_SYMBOL_POINTERS     SectionFlag = 0x7
)

func (f SectionFlag) Type() SectionFlag { return f & SectionTypeMask }
