package state

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oshokin/timed-devices/internal/config"
	"github.com/oshokin/timed-devices/internal/domain/timer"
)

const (
	keySchemaVersion = "schemaVersion"
	keyRecords       = "records"
)

// FileRepository persists all records to a single JSON file on disk.
// JSON is produced and consumed via protobuf JSON (protojson) over
// structpb values, the same types the control API speaks.
type FileRepository struct {
	// path is the filesystem location of the JSON state file.
	path string
	// mu protects records and the state file.
	mu sync.Mutex
	// records is the file content, nil until first read.
	records map[timer.InstanceID]timer.Fields
}

// NewFileRepository creates a repository that reads/writes JSON at the provided path.
func NewFileRepository(path string) *FileRepository {
	return &FileRepository{
		path:    filepath.Clean(path),
		mu:      sync.Mutex{},
		records: nil,
	}
}

// Load returns the record of id.
func (r *FileRepository) Load(_ context.Context, id timer.InstanceID) (timer.Fields, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.ensureLoaded(); err != nil {
		return nil, err
	}

	record, ok := r.records[id]
	if !ok {
		return nil, ErrNotFound
	}

	return record.Clone(), nil
}

// LoadAll returns every stored record.
func (r *FileRepository) LoadAll(_ context.Context) (map[timer.InstanceID]timer.Fields, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.ensureLoaded(); err != nil {
		return nil, err
	}

	result := make(map[timer.InstanceID]timer.Fields, len(r.records))
	for id, record := range r.records {
		result[id] = record.Clone()
	}

	return result, nil
}

// Merge writes changes over the record of id and rewrites the file.
// The in-memory copy is left untouched when the write fails.
func (r *FileRepository) Merge(_ context.Context, id timer.InstanceID, changes timer.Fields) (timer.Fields, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.ensureLoaded(); err != nil {
		return nil, err
	}

	next := maps.Clone(r.records)
	next[id] = r.records[id].Clone().Merge(changes)

	if err := r.write(next); err != nil {
		return nil, err
	}

	r.records = next

	return next[id].Clone(), nil
}

// Delete removes the record of id and rewrites the file.
func (r *FileRepository) Delete(_ context.Context, id timer.InstanceID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.ensureLoaded(); err != nil {
		return err
	}

	if _, ok := r.records[id]; !ok {
		return nil
	}

	next := maps.Clone(r.records)
	delete(next, id)

	if err := r.write(next); err != nil {
		return err
	}

	r.records = next

	return nil
}

// Close implements Repository. The file is not held open.
func (r *FileRepository) Close() error {
	return nil
}

// ensureLoaded reads the file once. A missing file is an empty repository.
func (r *FileRepository) ensureLoaded() error {
	if r.records != nil {
		return nil
	}

	contents, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			r.records = make(map[timer.InstanceID]timer.Fields)
			return nil
		}

		return fmt.Errorf("read state file: %w", err)
	}

	var document structpb.Struct
	if err = protojson.Unmarshal(contents, &document); err != nil {
		return fmt.Errorf("decode state file: %w", err)
	}

	fields := document.GetFields()

	if err = checkSchema(fields[keySchemaVersion].GetStringValue()); err != nil {
		return err
	}

	records := make(map[timer.InstanceID]timer.Fields)

	for key, value := range fields[keyRecords].GetStructValue().GetFields() {
		id, parseErr := strconv.ParseInt(key, 10, 64)
		if parseErr != nil {
			return fmt.Errorf("decode state file: instance id %q: %w", key, parseErr)
		}

		records[timer.InstanceID(id)] = timer.Fields(value.GetStructValue().AsMap())
	}

	r.records = records

	return nil
}

// write replaces the file through a temporary file in the same directory.
func (r *FileRepository) write(records map[timer.InstanceID]timer.Fields) error {
	encoded := make(map[string]any, len(records))
	for id, record := range records {
		encoded[strconv.FormatInt(int64(id), 10)] = map[string]any(record)
	}

	document, err := structpb.NewStruct(map[string]any{
		keySchemaVersion: SchemaVersion,
		keyRecords:       encoded,
	})
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	marshalOptions := protojson.MarshalOptions{
		Multiline: true,
		Indent:    "  ",
	}

	data, err := marshalOptions.Marshal(document)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	tmp := r.path + ".tmp"

	if err = os.WriteFile(tmp, data, config.DefaultFilePermissions); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}

	if err = os.Rename(tmp, r.path); err != nil {
		return fmt.Errorf("replace state file: %w", err)
	}

	return nil
}
