package imgmeta

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrUnknownFormat is returned when a buffer matches none of the supported
// container signatures.
var ErrUnknownFormat = errors.New("imgmeta: unknown or unsupported format")

// StructuralError reports corruption that makes the rest of the file
// unparseable: a bad signature, a mandatory record out of place, or an
// offset/length pointing outside the buffer.
type StructuralError struct {
	Format Format
	Offset int // byte offset where the violation was detected
	Reason string
	Err    error // optional underlying cause
}

func (e *StructuralError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("imgmeta: %s: %s at offset %d: %v", e.Format, e.Reason, e.Offset, e.Err)
	}
	return fmt.Sprintf("imgmeta: %s: %s at offset %d", e.Format, e.Reason, e.Offset)
}

func (e *StructuralError) Unwrap() error { return e.Err }

func structErrf(f Format, offset int, format string, args ...any) *StructuralError {
	return &StructuralError{Format: f, Offset: offset, Reason: fmt.Sprintf(format, args...)}
}

// Warning records a non-fatal integrity problem: a checksum mismatch, an
// unknown tag or field type, or a malformed optional sub-record. The
// offending unit is skipped and parsing continues.
type Warning struct {
	Format Format
	Offset int
	Reason string
}

func (w Warning) String() string {
	return fmt.Sprintf("%s: %s at offset %d", w.Format, w.Reason, w.Offset)
}

// warnf records a warning on the aggregate. Escalation to a hard error in
// strict mode is decided at the recording site, not here: only integrity
// checks (checksums, out-of-range value offsets) escalate, since unknown
// tags and chunk types are common in well-formed files.
func (m *Metadata) warnf(offset int, format string, args ...any) {
	w := Warning{Format: m.Format, Offset: offset, Reason: fmt.Sprintf(format, args...)}
	m.warnings = append(m.warnings, w)
	slog.Debug("imgmeta: integrity warning", "format", m.Format.String(), "offset", offset, "reason", w.Reason)
}
