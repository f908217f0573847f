// Package keyvalue turns a go-simpler/env tagged configuration struct into a
// sorted list of key/values, and prints it as a shell script that sets the
// variables.
package keyvalue

import (
	"fmt"
	"io"
	"reflect"
	"sort"
	"strings"
	"time"
)

// KV is a key/value pair.
type KV struct{ Key, Value string }

// KVSlice is a collection of key/value pairs.
type KVSlice []KV

func (kv KVSlice) Len() int           { return len(kv) }
func (kv KVSlice) Less(i, j int) bool { return kv[i].Key < kv[j].Key }
func (kv KVSlice) Swap(i, j int)      { kv[i], kv[j] = kv[j], kv[i] }

// EnvKV lists the `env` tagged fields of cfg, a struct or a pointer to one.
// Lists are joined with commas, the separator the loader splits on.
func EnvKV(cfg any) (m KVSlice) {
	v := reflect.Indirect(reflect.ValueOf(cfg))
	if v.Kind() != reflect.Struct {
		return
	}
	t := v.Type()
	for i := range t.NumField() {
		k := t.Field(i).Tag.Get("env")
		// this can happen with embedded structs
		if k == "" || !t.Field(i).IsExported() {
			continue
		}
		var val string
		switch fv := v.Field(i).Interface().(type) {
		case string:
			val = fv
		case []string:
			val = strings.Join(fv, ",")
		case time.Duration:
			val = fv.String()
		default:
			val = fmt.Sprint(fv)
		}
		m = append(m, KV{k, val})
	}
	return
}

// PrintEnv renders the key/values of a configuration to a provided io.Writer
// as a bash script.
func PrintEnv(cfg any, printer io.Writer) {
	_, _ = fmt.Fprintln(printer, "#!/usr/bin/env bash")
	kvs := EnvKV(cfg)
	sort.Sort(kvs)
	for _, v := range kvs {
		_, _ = fmt.Fprintf(printer, "export %s=%s\n", v.Key, Quote(v.Value))
	}
}

// Quote wraps a value in single quotes when the shell would otherwise split or
// expand it.
func Quote(s string) string {
	if s == "" {
		return "''"
	}
	if strings.IndexFunc(s, func(r rune) bool {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return false
		}
		return !strings.ContainsRune("_-.,:/@%+=", r)
	}) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
