// Package mimetypes resolves an uploaded filename's extension to the blob
// name suffix and content-type the destination should record.
package mimetypes

import "strings"

// Entry is one resolved MIME table row.
type Entry struct {
	Suffix      string
	ContentType string
}

// Table maps a lowercased, extension-less-dot extension ("pdf", not ".pdf")
// to its resolved Entry. Construct via New (for the built-in rows,
// New(DefaultTable())); the zero value resolves nothing.
type Table map[string]Entry

// RawEntry is one unresolved configuration row: OverrideSuffix, if set,
// replaces the default "."+extension suffix.
type RawEntry struct {
	OverrideSuffix string
	ContentType    string
}

// DefaultTable returns the documented built-in table: pdf, jpg, jpeg (suffix
// .jpg), png, tiff, tif (suffix .tiff).
func DefaultTable() map[string]RawEntry {
	return map[string]RawEntry{
		"pdf":  {ContentType: "application/pdf"},
		"jpg":  {ContentType: "image/jpeg"},
		"jpeg": {OverrideSuffix: ".jpg", ContentType: "image/jpeg"},
		"png":  {ContentType: "image/png"},
		"tiff": {ContentType: "image/tiff"},
		"tif":  {OverrideSuffix: ".tiff", ContentType: "image/tiff"},
	}
}

// New builds a Table from raw configuration rows, enriching each entry: the
// suffix is OverrideSuffix if set, otherwise "."+extension. Extensions are
// lowercased.
func New(raw map[string]RawEntry) Table {
	t := make(Table, len(raw))
	for ext, r := range raw {
		ext = strings.ToLower(ext)
		suffix := r.OverrideSuffix
		if suffix == "" {
			suffix = "." + ext
		}
		t[ext] = Entry{Suffix: suffix, ContentType: r.ContentType}
	}
	return t
}

// Resolve splits filename at its last '.', lowercases the extension, and
// looks it up. ok is false for filenames with no extension or an unknown
// one; callers must refuse the upload in that case.
func (t Table) Resolve(filename string) (suffix, contentType string, ok bool) {
	idx := strings.LastIndexByte(filename, '.')
	if idx < 0 || idx == len(filename)-1 {
		return "", "", false
	}
	ext := strings.ToLower(filename[idx+1:])
	e, found := t[ext]
	if !found {
		return "", "", false
	}
	return e.Suffix, e.ContentType, true
}
