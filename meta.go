package imgmeta

// DirName identifies one of the TIFF directory kinds reachable from a
// parsed metadata stream. At most one directory exists per name.
type DirName int

// Directory names. IFD0 is always the first directory parsed from a TIFF
// stream; the others are reached through pointer tags or the next-IFD chain.
const (
	IFD0 DirName = iota
	IFD1
	ExifIFD
	GPSIFD
	InteropIFD
	SubIFD
)

func (n DirName) String() string {
	switch n {
	case IFD0:
		return "IFD0"
	case IFD1:
		return "IFD1"
	case ExifIFD:
		return "Exif"
	case GPSIFD:
		return "GPS"
	case InteropIFD:
		return "Interop"
	case SubIFD:
		return "SubIFD"
	}
	return "?"
}

// Options control parsing policy. The zero value is the lenient default.
type Options struct {
	// Strict escalates integrity warnings that indicate data damage
	// (checksum mismatches, value offsets outside the buffer) into
	// structural errors. Unknown tags and chunk types stay non-fatal
	// even in strict mode; they are routine in well-formed files.
	Strict bool

	// Chunks restricts which container chunk payloads are retained and
	// decoded, by 4-byte type string (PNG chunk types, WebP FourCCs).
	// nil means everything; an explicitly empty set means extract
	// nothing (structure is still validated).
	Chunks []string
}

func (o Options) wants(typ string) bool {
	if o.Chunks == nil {
		return true
	}
	for _, c := range o.Chunks {
		if c == typ {
			return true
		}
	}
	return false
}

// TextRecord is one decoded textual metadata record: a PNG tEXt/zTXt/iTXt
// keyword/value pair or a JPEG comment segment.
type TextRecord struct {
	Source  string // originating record type: "tEXt", "zTXt", "iTXt", "COM"
	Keyword string
	Value   string

	// iTXt only.
	LanguageTag       string
	TranslatedKeyword string
	Compressed        bool
}

// Metadata is the aggregate produced by one parse pass over one file.
// It is populated exactly once during parsing and read-only afterwards.
type Metadata struct {
	Format Format

	dirs     map[DirName]*Directory
	order    []DirName
	texts    []TextRecord
	warnings []Warning
}

func newMetadata(f Format) *Metadata {
	return &Metadata{Format: f, dirs: make(map[DirName]*Directory)}
}

// Directory returns the directory with the given name, or nil if the file
// had none.
func (m *Metadata) Directory(name DirName) *Directory {
	return m.dirs[name]
}

// Directories returns all parsed directories in the order they were
// registered; a child directory reached through a pointer tag finishes
// parsing, and so registers, before its parent.
func (m *Metadata) Directories() []*Directory {
	out := make([]*Directory, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, m.dirs[name])
	}
	return out
}

// HasExif reports whether any TIFF directory was decoded from the file.
func (m *Metadata) HasExif() bool {
	return len(m.dirs) > 0
}

// Texts returns the decoded textual records in encounter order.
func (m *Metadata) Texts() []TextRecord {
	return m.texts
}

// Warnings returns the integrity warnings recorded during parsing.
func (m *Metadata) Warnings() []Warning {
	return m.warnings
}

// addDir registers a directory under its name. The first directory parsed
// for a name wins; TIFF streams are trees by tag, so a second directory of
// the same name means a crafted or damaged pointer and is recorded as a
// warning rather than overwriting.
func (m *Metadata) addDir(d *Directory) bool {
	if _, ok := m.dirs[d.Name]; ok {
		m.warnf(d.offset, "duplicate %s directory ignored", d.Name)
		return false
	}
	m.dirs[d.Name] = d
	m.order = append(m.order, d.Name)
	return true
}

func (m *Metadata) addText(t TextRecord) {
	m.texts = append(m.texts, t)
}
