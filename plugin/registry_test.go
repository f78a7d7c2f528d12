// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package plugin

import (
	"errors"
	"sync"
	"testing"

	"github.com/curioloop/nlpadapter/config"
	"github.com/curioloop/nlpadapter/host"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type echo struct {
	name string
	fn   host.Functions
}

func (e *echo) Name() string { return e.name }

func (e *echo) Solve(x0 []float64) (*Result, error) {
	f, err := e.fn.Objective(x0, nil)
	if err != nil {
		return nil, err
	}
	return &Result{OK: true, F: f, X: x0}, nil
}

func (e *echo) Clone() Solver {
	return &echo{name: e.name, fn: e.fn.Clone()}
}

func echoPlugin(name string) Plugin {
	return Plugin{
		Name:    name,
		Version: APIVersion,
		Creator: func(fn host.Functions, opts config.Options) (Solver, error) {
			if _, ok := opts["fail"]; ok {
				return nil, errors.New("rejected")
			}
			return &echo{name: name, fn: fn}, nil
		},
	}
}

func square(t *testing.T) host.Functions {
	fn, err := (&host.Closures{N: 1, F: func(x, _ []float64) (float64, error) { return x[0] * x[0], nil }}).New()
	require.NoError(t, err)
	return fn
}

func TestRegister(t *testing.T) {
	r, err := NewRegistry(echoPlugin("b"), echoPlugin("a"))
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, r.Names())

	assert.ErrorIs(t, r.Register(echoPlugin("a")), ErrDuplicate)
	assert.Error(t, r.Register(Plugin{Version: APIVersion, Creator: echoPlugin("x").Creator}))
	assert.Error(t, r.Register(Plugin{Name: "x", Version: APIVersion}))

	old := echoPlugin("old")
	old.Version = APIVersion - 1
	assert.ErrorIs(t, r.Register(old), ErrVersion)

	_, ok := r.Lookup("old")
	assert.False(t, ok)
	p, ok := r.Lookup("b")
	require.True(t, ok)
	assert.Equal(t, "b", p.Name)

	_, err = NewRegistry(echoPlugin("a"), echoPlugin("a"))
	assert.ErrorIs(t, err, ErrDuplicate)
}

func TestRegistryNew(t *testing.T) {
	r, err := NewRegistry(echoPlugin("echo"))
	require.NoError(t, err)

	s, err := r.New("echo", square(t), nil)
	require.NoError(t, err)
	res, err := s.Solve([]float64{3})
	require.NoError(t, err)
	assert.Equal(t, 9.0, res.F)
	assert.Equal(t, StatusOK, res.Status)

	c := s.Clone()
	assert.NotSame(t, s, c)
	assert.Equal(t, "echo", c.Name())

	_, err = r.New("missing", square(t), nil)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = r.New("echo", nil, nil)
	assert.Error(t, err)

	_, err = r.New("echo", square(t), config.Options{"fail": true})
	assert.ErrorContains(t, err, "plugin echo: rejected")
}

func TestConcurrentLookup(t *testing.T) {
	r, err := NewRegistry(echoPlugin("echo"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if i%2 == 0 {
				_ = r.Register(echoPlugin(string(rune('a' + i))))
			}
			_, ok := r.Lookup("echo")
			assert.True(t, ok)
			r.Names()
		}()
	}
	wg.Wait()
	assert.Len(t, r.Names(), 5)
}

func TestStatusString(t *testing.T) {
	assert.Equal(t, "evaluation failed", StatusEvalFailed.String())
	assert.Equal(t, "Status(42)", Status(42).String())
}
