/*
Copyright 2025 The Antfly Contributors

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package jsonutil provides a configurable JSON encoding/decoding layer,
// defaulting to bytedance/sonic for the hot paths (envelope rendering,
// document enrichment) that run once per inbound request.
package jsonutil

import (
	"io"

	stdjson "encoding/json"

	"github.com/bytedance/sonic"
)

// Encoder is the interface for streaming JSON encoding.
type Encoder interface {
	Encode(v any) error
}

// Decoder is the interface for streaming JSON decoding.
type Decoder interface {
	Decode(v any) error
}

// Config holds the JSON encoding/decoding functions.
type Config struct {
	Marshal   func(v any) ([]byte, error)
	Unmarshal func(data []byte, v any) error

	NewEncoder func(w io.Writer) Encoder
	NewDecoder func(r io.Reader) Decoder
}

// DefaultConfig uses sonic, the library this service's search backend
// client already depends on for wire encoding.
func DefaultConfig() Config {
	return Config{
		Marshal:   sonic.Marshal,
		Unmarshal: sonic.Unmarshal,
		NewEncoder: func(w io.Writer) Encoder {
			return sonic.ConfigDefault.NewEncoder(w)
		},
		NewDecoder: func(r io.Reader) Decoder {
			return sonic.ConfigDefault.NewDecoder(r)
		},
	}
}

var config = DefaultConfig()

// SetConfig overrides the global JSON configuration, e.g. for tests that
// want deterministic key ordering from encoding/json.
func SetConfig(c Config) {
	config = c
}

func Marshal(v any) ([]byte, error) {
	return config.Marshal(v)
}

func Unmarshal(data []byte, v any) error {
	return config.Unmarshal(data, v)
}

func NewEncoder(w io.Writer) Encoder {
	return config.NewEncoder(w)
}

func NewDecoder(r io.Reader) Decoder {
	return config.NewDecoder(r)
}

// RawMessage is a raw encoded JSON value, shared across codecs.
type RawMessage = stdjson.RawMessage
