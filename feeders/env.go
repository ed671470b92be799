package feeders

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/golobby/cast"
)

// ErrEnvInvalidStructure indicates that the provided structure is not
// valid for environment variable processing.
var ErrEnvInvalidStructure = errors.New("env: invalid structure")

var durationType = reflect.TypeOf(time.Duration(0))

// EnvFeeder reads environment variables into struct fields carrying
// `env` tags. Nested structs contribute their own tag as a path
// segment, so a field tagged FAILURE_THRESHOLD inside a section
// tagged CIRCUIT_BREAKER under prefix VELD reads
// VELD_CIRCUIT_BREAKER_FAILURE_THRESHOLD.
type EnvFeeder struct {
	Prefix string
}

// NewEnvFeeder creates an EnvFeeder with the given variable prefix.
// An empty prefix reads the tag names as-is.
func NewEnvFeeder(prefix string) EnvFeeder {
	return EnvFeeder{Prefix: prefix}
}

// Feed populates the structure, which must be a pointer to a struct.
func (f EnvFeeder) Feed(structure any) error {
	rv := reflect.ValueOf(structure)
	if rv.Kind() != reflect.Ptr || rv.Elem().Kind() != reflect.Struct {
		return ErrEnvInvalidStructure
	}
	return feedEnvStruct(rv.Elem(), strings.ToUpper(f.Prefix))
}

func feedEnvStruct(rv reflect.Value, prefix string) error {
	for i := 0; i < rv.NumField(); i++ {
		field := rv.Field(i)
		fieldType := rv.Type().Field(i)

		tag, ok := fieldType.Tag.Lookup("env")
		if !ok {
			continue
		}
		name := strings.ToUpper(tag)
		if prefix != "" {
			name = prefix + "_" + name
		}

		var err error
		switch {
		case field.Kind() == reflect.Struct && field.Type() != durationType:
			err = feedEnvStruct(field, name)
		case field.Kind() == reflect.Pointer && !field.IsNil() && field.Elem().Kind() == reflect.Struct:
			err = feedEnvStruct(field.Elem(), name)
		default:
			if value := os.Getenv(name); value != "" {
				err = setEnvField(field, value)
			}
		}
		if err != nil {
			return fmt.Errorf("error in field '%s': %w", fieldType.Name, err)
		}
	}
	return nil
}

func setEnvField(field reflect.Value, strValue string) error {
	if !field.CanSet() {
		return fmt.Errorf("field cannot be set")
	}

	// Durations are int64 under the hood, so parse them explicitly
	// instead of casting the raw number.
	if field.Type() == durationType {
		d, err := time.ParseDuration(strValue)
		if err != nil {
			return fmt.Errorf("cannot parse duration: %w", err)
		}
		field.Set(reflect.ValueOf(d))
		return nil
	}

	converted, err := cast.FromType(strValue, field.Type())
	if err != nil {
		return fmt.Errorf("cannot convert value to type %v: %w", field.Type(), err)
	}
	field.Set(reflect.ValueOf(converted))
	return nil
}
