// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package secrets

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestSecret_Open(t *testing.T) {
	raw := []byte("influx-token-0123")
	s := FromBytes(raw)
	assert.Equal(t, make([]byte, len(raw)), raw, "source bytes are wiped")
	assert.Equal(t, 17, s.Len())

	var seen string
	require.NoError(t, s.Open(func(b []byte) error {
		seen = string(b)
		return nil
	}))
	assert.Equal(t, "influx-token-0123", seen)

	got, err := s.Reveal()
	require.NoError(t, err)
	assert.Equal(t, "influx-token-0123", got)
}

func TestSecret_Empty(t *testing.T) {
	var nilSecret *Secret
	for _, s := range []*Secret{nilSecret, FromString(""), {}} {
		assert.True(t, s.IsZero())
		assert.Zero(t, s.Len())
		assert.ErrorIs(t, s.Open(func([]byte) error { return nil }), ErrEmpty)
		assert.Empty(t, s.String())
	}
}

func TestSecret_NeverRendered(t *testing.T) {
	type holder struct {
		Token *Secret `json:"token" yaml:"token"`
	}
	h := holder{Token: FromString("do-not-print-me")}

	assert.NotContains(t, fmt.Sprintf("%v %+v %s", h.Token, h, h.Token), "do-not-print-me")

	data, err := json.Marshal(h)
	require.NoError(t, err)
	assert.JSONEq(t, `{"token":"[REDACTED]"}`, string(data))

	data, err = yaml.Marshal(h)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "do-not-print-me")
}

func TestSecret_UnmarshalYAML(t *testing.T) {
	var h struct {
		Token *Secret `yaml:"token"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("token: abc-123\n"), &h))
	got, err := h.Token.Reveal()
	require.NoError(t, err)
	assert.Equal(t, "abc-123", got)

	assert.Error(t, yaml.Unmarshal([]byte("token: [a, b]\n"), &h))
}

func TestRegisterValidation(t *testing.T) {
	type cfg struct {
		Token *Secret `validate:"required,min=8"`
	}
	v := validator.New()
	RegisterValidation(v)

	assert.NoError(t, v.Struct(cfg{Token: FromString("long-enough")}))
	assert.Error(t, v.Struct(cfg{Token: FromString("short")}))
	assert.Error(t, v.Struct(cfg{Token: FromString("")}))
	assert.Error(t, v.Struct(cfg{}))
}
