package state

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masterminds/semver/v3"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oshokin/timed-devices/internal/domain/timer"
)

// SchemaVersion is the version stamped on newly written data.
const SchemaVersion = "1.0.0"

// schemaConstraint accepts the versions this build can read.
const schemaConstraint = "^1"

var (
	// ErrNotFound is returned when an instance has no persisted record.
	ErrNotFound = errors.New("record not found")
	// ErrIncompatibleSchema is returned for data written by an unsupported schema version.
	ErrIncompatibleSchema = errors.New("incompatible schema version")
)

// Repository stores one flat record per timer instance.
type Repository interface {
	// Load returns the record of id, or ErrNotFound.
	Load(ctx context.Context, id timer.InstanceID) (timer.Fields, error)
	// LoadAll returns every stored record.
	LoadAll(ctx context.Context) (map[timer.InstanceID]timer.Fields, error)
	// Merge atomically writes changes over the record of id and returns the result.
	Merge(ctx context.Context, id timer.InstanceID, changes timer.Fields) (timer.Fields, error)
	// Delete removes the record of id. Deleting a missing record is not an error.
	Delete(ctx context.Context, id timer.InstanceID) error
	// Close releases the backend.
	Close() error
}

// checkSchema fails unless version satisfies schemaConstraint.
func checkSchema(version string) error {
	constraint, err := semver.NewConstraint(schemaConstraint)
	if err != nil {
		return fmt.Errorf("parse schema constraint: %w", err)
	}

	v, err := semver.NewVersion(version)
	if err != nil {
		return fmt.Errorf("%w: %q: %w", ErrIncompatibleSchema, version, err)
	}

	if !constraint.Check(v) {
		return fmt.Errorf("%w: %s does not satisfy %s", ErrIncompatibleSchema, v, schemaConstraint)
	}

	return nil
}

// encodeFields renders a record as protobuf JSON.
func encodeFields(f timer.Fields) ([]byte, error) {
	s, err := structpb.NewStruct(f)
	if err != nil {
		return nil, fmt.Errorf("convert record: %w", err)
	}

	data, err := protojson.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}

	return data, nil
}

// decodeFields parses a record written by encodeFields. Numbers come back as float64.
func decodeFields(data []byte) (timer.Fields, error) {
	var s structpb.Struct
	if err := protojson.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode record: %w", err)
	}

	return timer.Fields(s.AsMap()), nil
}
