// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package secrets keeps credentials encrypted in memory.
//
// A Secret is sealed in a memguard enclave as soon as it is decoded from
// configuration. Its plaintext exists only inside Open, in a locked buffer
// that is wiped when the callback returns.
package secrets

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/awnumar/memguard"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Redacted is what a Secret prints and marshals as.
const Redacted = "[REDACTED]"

// ErrEmpty is returned when opening a Secret that holds nothing.
var ErrEmpty = errors.New("secret is empty")

// Secret is a credential sealed in a memguard enclave.
//
// # Description
//
// The zero value and nil are both empty. Copies share the enclave. Secret
// never renders its value through fmt, JSON or YAML.
//
// # Thread Safety
//
// Safe for concurrent use.
type Secret struct {
	enclave *memguard.Enclave
}

// FromBytes seals b and wipes it.
func FromBytes(b []byte) *Secret {
	if len(b) == 0 {
		return &Secret{}
	}
	return &Secret{enclave: memguard.NewEnclave(b)}
}

// FromString seals a copy of s. The string itself cannot be wiped, so
// callers should drop their reference to it.
func FromString(s string) *Secret {
	return FromBytes([]byte(s))
}

// IsZero reports whether the secret is nil or empty.
func (s *Secret) IsZero() bool {
	return s == nil || s.enclave == nil
}

// Len returns the plaintext length in bytes.
func (s *Secret) Len() int {
	if s.IsZero() {
		return 0
	}
	return s.enclave.Size()
}

// Open decrypts the secret into a locked buffer, passes its bytes to fn
// and destroys the buffer. fn must not retain the slice.
func (s *Secret) Open(fn func(plaintext []byte) error) error {
	if s.IsZero() {
		return ErrEmpty
	}
	buf, err := s.enclave.Open()
	if err != nil {
		return fmt.Errorf("open secret: %w", err)
	}
	defer buf.Destroy()
	return fn(buf.Bytes())
}

// Reveal returns the plaintext as a string for clients that only accept
// one. Prefer Open.
func (s *Secret) Reveal() (string, error) {
	var out string
	err := s.Open(func(b []byte) error {
		out = string(b)
		return nil
	})
	return out, err
}

func (s *Secret) String() string {
	if s.IsZero() {
		return ""
	}
	return Redacted
}

// GoString keeps %#v from printing the enclave.
func (s *Secret) GoString() string { return s.String() }

// MarshalJSON implements json.Marshaler.
func (s *Secret) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// MarshalYAML implements yaml.Marshaler.
func (s *Secret) MarshalYAML() (any, error) {
	return s.String(), nil
}

// UnmarshalYAML seals a scalar node.
func (s *Secret) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: secret must be a string", node.Line)
	}
	*s = *FromString(node.Value)
	return nil
}

// RegisterValidation lets struct tags such as min and max apply to a
// Secret's length:
//
//	Token *secrets.Secret `validate:"required,min=16"`
func RegisterValidation(v *validator.Validate) {
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		s, ok := field.Interface().(Secret)
		if !ok {
			return nil
		}
		return s.Len()
	}, Secret{})
}

// Purge wipes every enclave key and locked buffer. Secrets cannot be
// opened afterwards; call it once on process exit.
func Purge() {
	memguard.Purge()
}
