// Package codec is the versioned binary format of every persisted entity.
// Each record is an envelope {entity, version, body} whose body is a set of
// protobuf wire fields. Records written by an older version are upgraded
// through registered migrations when read.
package codec

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Entity identifies the record type inside an envelope.
type Entity uint8

const (
	EntityOpinion Entity = iota + 1
	EntityHistory
	EntityPool
	EntityEvent
	EntitySnapshot
)

func (e Entity) String() string {
	switch e {
	case EntityOpinion:
		return "opinion"
	case EntityHistory:
		return "history"
	case EntityPool:
		return "pool"
	case EntityEvent:
		return "event"
	case EntitySnapshot:
		return "snapshot"
	}
	return fmt.Sprintf("entity(%d)", uint8(e))
}

// Current schema versions.
var versions = map[Entity]uint64{
	EntityOpinion:  2,
	EntityHistory:  1,
	EntityPool:     1,
	EntityEvent:    1,
	EntitySnapshot: 1,
}

// Version returns the schema version written for e.
func Version(e Entity) uint64 { return versions[e] }

var (
	ErrEntityMismatch = errors.New("codec: entity mismatch")
	ErrFutureVersion  = errors.New("codec: record newer than this build")
	ErrNoMigration    = errors.New("codec: no migration")
)

// Migration rewrites a body from version From to From+1.
type Migration struct {
	Entity Entity
	From   uint64
	Apply  func(body []byte) ([]byte, error)
}

type migrationKey struct {
	entity Entity
	from   uint64
}

var migrations = map[migrationKey]func([]byte) ([]byte, error){}

// Register adds a migration. Migrations are registered at init time only.
func Register(m Migration) {
	migrations[migrationKey{entity: m.Entity, from: m.From}] = m.Apply
}

const (
	envEntity  protowire.Number = 1
	envVersion protowire.Number = 2
	envBody    protowire.Number = 3
)

// seal wraps body in an envelope at the current version of entity.
func seal(entity Entity, body []byte) []byte {
	return sealVersion(entity, versions[entity], body)
}

func sealVersion(entity Entity, version uint64, body []byte) []byte {
	var e encoder
	e.uint(envEntity, uint64(entity))
	e.uint(envVersion, version)
	e.message(envBody, body)
	return e.b
}

// open unwraps an envelope, migrating the body to the current version.
func open(data []byte, want Entity) ([]byte, error) {
	var (
		entity  Entity
		version uint64
		body    []byte
	)
	err := walk(data, func(f field) error {
		switch f.Num {
		case envEntity:
			entity = Entity(f.V)
		case envVersion:
			version = f.V
		case envBody:
			body = f.B
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("codec: read envelope: %w", err)
	}
	if entity != want {
		return nil, fmt.Errorf("%w: got %s, want %s", ErrEntityMismatch, entity, want)
	}
	current := versions[want]
	if version > current {
		return nil, fmt.Errorf("%w: %s v%d > v%d", ErrFutureVersion, want, version, current)
	}
	for v := version; v < current; v++ {
		apply, ok := migrations[migrationKey{entity: want, from: v}]
		if !ok {
			return nil, fmt.Errorf("%w: %s v%d -> v%d", ErrNoMigration, want, v, v+1)
		}
		if body, err = apply(body); err != nil {
			return nil, fmt.Errorf("codec: migrate %s v%d: %w", want, v, err)
		}
	}
	return body, nil
}

// Peek reports the entity and version of an envelope without decoding it.
func Peek(data []byte) (Entity, uint64, error) {
	var (
		entity  Entity
		version uint64
	)
	err := walk(data, func(f field) error {
		switch f.Num {
		case envEntity:
			entity = Entity(f.V)
		case envVersion:
			version = f.V
		}
		return nil
	})
	if err != nil {
		return 0, 0, fmt.Errorf("codec: read envelope: %w", err)
	}
	return entity, version, nil
}
