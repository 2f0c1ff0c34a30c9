/*
Copyright © 2024 Acronis International GmbH.

Released under MIT license.
*/

package logtest

import (
	"sync"

	"github.com/ssgreg/logf"

	"github.com/acronis/go-lrucache/log"
)

// RecordedEntry represents recorded entry which was logged.
type RecordedEntry struct {
	Fields []log.Field
	Text   string
}

// FindField tries to find field in logging entry by key.
func (re *RecordedEntry) FindField(key string) (*log.Field, bool) {
	for _, field := range re.Fields {
		if field.Key == key {
			return &field, true
		}
	}
	return nil, false
}

type recordingEntryWriter struct {
	sync.RWMutex
	Entries []RecordedEntry
}

//nolint:gocritic
func (ew *recordingEntryWriter) WriteEntry(e logf.Entry) {
	ew.Lock()
	defer ew.Unlock()

	allFields := append([]log.Field{}, e.Fields...)
	allFields = append(allFields, e.DerivedFields...)
	ew.Entries = append(ew.Entries, RecordedEntry{Fields: allFields, Text: e.Text})
}

// Recorder is an implementation of log.FieldLogger that
// records all logged entries for later inspection in tests.
type Recorder struct {
	*log.LogfAdapter
	entryWriter *recordingEntryWriter
}

// NewRecorder returns an initialized Recorder.
func NewRecorder() *Recorder {
	ew := &recordingEntryWriter{}
	logger := logf.NewLogger(logf.LevelDebug, ew)
	return &Recorder{&log.LogfAdapter{Logger: logger}, ew}
}

// With returns a new Recorder with the given additional fields.
func (r *Recorder) With(fs ...log.Field) log.FieldLogger {
	return &Recorder{r.LogfAdapter.With(fs...).(*log.LogfAdapter), r.entryWriter}
}

// Entries returns all recorded logging entries.
func (r *Recorder) Entries() []RecordedEntry {
	r.entryWriter.RLock()
	defer r.entryWriter.RUnlock()
	return append([]RecordedEntry{}, r.entryWriter.Entries...)
}

// FindEntry tries to find recorded logging entry by message.
func (r *Recorder) FindEntry(msg string) (RecordedEntry, bool) {
	r.entryWriter.RLock()
	defer r.entryWriter.RUnlock()
	for _, entry := range r.entryWriter.Entries {
		if entry.Text == msg {
			return entry, true
		}
	}
	return RecordedEntry{}, false
}

