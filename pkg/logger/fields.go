package logger

import (
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Field is a typed key/value attached to a log event.
type Field interface {
	AddTo(event *zerolog.Event)
	GetKeyValue() (string, interface{})
	addToContext(ctx zerolog.Context) zerolog.Context
}

type stringField struct{ key, value string }

func (f stringField) AddTo(e *zerolog.Event)             { e.Str(f.key, f.value) }
func (f stringField) GetKeyValue() (string, interface{}) { return f.key, f.value }
func (f stringField) addToContext(c zerolog.Context) zerolog.Context {
	return c.Str(f.key, f.value)
}

type int64Field struct {
	key   string
	value int64
}

func (f int64Field) AddTo(e *zerolog.Event)             { e.Int64(f.key, f.value) }
func (f int64Field) GetKeyValue() (string, interface{}) { return f.key, f.value }
func (f int64Field) addToContext(c zerolog.Context) zerolog.Context {
	return c.Int64(f.key, f.value)
}

type floatField struct {
	key   string
	value float64
}

func (f floatField) AddTo(e *zerolog.Event)             { e.Float64(f.key, f.value) }
func (f floatField) GetKeyValue() (string, interface{}) { return f.key, f.value }
func (f floatField) addToContext(c zerolog.Context) zerolog.Context {
	return c.Float64(f.key, f.value)
}

type boolField struct {
	key   string
	value bool
}

func (f boolField) AddTo(e *zerolog.Event)             { e.Bool(f.key, f.value) }
func (f boolField) GetKeyValue() (string, interface{}) { return f.key, f.value }
func (f boolField) addToContext(c zerolog.Context) zerolog.Context {
	return c.Bool(f.key, f.value)
}

type timeField struct {
	key   string
	value time.Time
}

func (f timeField) AddTo(e *zerolog.Event)             { e.Time(f.key, f.value) }
func (f timeField) GetKeyValue() (string, interface{}) { return f.key, f.value.Format(time.RFC3339) }
func (f timeField) addToContext(c zerolog.Context) zerolog.Context {
	return c.Time(f.key, f.value)
}

type errorField struct{ value error }

func (f errorField) AddTo(e *zerolog.Event) { e.Err(f.value) }
func (f errorField) GetKeyValue() (string, interface{}) {
	if f.value == nil {
		return "error", nil
	}
	return "error", f.value.Error()
}
func (f errorField) addToContext(c zerolog.Context) zerolog.Context { return c.Err(f.value) }

type anyField struct {
	key   string
	value interface{}
}

func (f anyField) AddTo(e *zerolog.Event)             { e.Interface(f.key, f.value) }
func (f anyField) GetKeyValue() (string, interface{}) { return f.key, f.value }
func (f anyField) addToContext(c zerolog.Context) zerolog.Context {
	return c.Interface(f.key, f.value)
}

func String(key, value string) Field { return stringField{key: key, value: value} }

func Int(key string, value int) Field { return int64Field{key: key, value: int64(value)} }

func Int64(key string, value int64) Field { return int64Field{key: key, value: value} }

func Uint64(key string, value uint64) Field { return int64Field{key: key, value: int64(value)} }

func Float64(key string, value float64) Field { return floatField{key: key, value: value} }

func Bool(key string, value bool) Field { return boolField{key: key, value: value} }

// Duration is logged in milliseconds.
func Duration(key string, value time.Duration) Field {
	return int64Field{key: key, value: value.Milliseconds()}
}

func Time(key string, value time.Time) Field { return timeField{key: key, value: value} }

func Strings(key string, value []string) Field { return String(key, strings.Join(value, ", ")) }

func Error(err error) Field { return errorField{value: err} }

func Any(key string, value interface{}) Field { return anyField{key: key, value: value} }
