package formula

// Property names a readable attribute of a component. Formulas reach
// properties through call syntax, e.g. size(header) or symbol(fw, "main").
type Property int

const (
	PropValue Property = iota
	PropSize
	PropOffset
	PropEnd
	PropAlign
	PropEnabled
	PropIndex
	PropCount
	PropLen

	// ELF image properties, served by elf_file components.
	PropEntryAddress
	PropTextOffset
	PropTextSize
	PropTextAddress
	PropDataOffset
	PropDataSize
	PropDataAddress
	PropBssSize
	PropText
	PropData
	PropSymbol
)

var propertyNames = [...]string{
	PropValue:        "value",
	PropSize:         "size",
	PropOffset:       "offset",
	PropEnd:          "end",
	PropAlign:        "align",
	PropEnabled:      "enabled",
	PropIndex:        "index",
	PropCount:        "count",
	PropLen:          "len",
	PropEntryAddress: "entry_address",
	PropTextOffset:   "text_offset",
	PropTextSize:     "text_size",
	PropTextAddress:  "text_address",
	PropDataOffset:   "data_offset",
	PropDataSize:     "data_size",
	PropDataAddress:  "data_address",
	PropBssSize:      "bss_size",
	PropText:         "text",
	PropData:         "data",
	PropSymbol:       "symbol",
}

var propertyByName = func() map[string]Property {
	m := make(map[string]Property, len(propertyNames))
	for p, name := range propertyNames {
		m[name] = Property(p)
	}
	return m
}()

func (p Property) String() string {
	if int(p) < len(propertyNames) {
		return propertyNames[p]
	}
	return "unknown"
}

// LookupProperty maps a property name to its Property.
func LookupProperty(name string) (Property, bool) {
	p, ok := propertyByName[name]
	return p, ok
}

// IsELF reports whether p is only served by ELF-backed components.
func (p Property) IsELF() bool {
	return p >= PropEntryAddress
}
