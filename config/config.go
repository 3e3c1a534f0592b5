// Copyright 2021 William Perron. All rights reserved. MIT License.

// Package config reads the target list of the zombie load generator.
package config

import (
	"net/http"
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type Config struct {
	// Metrics, when enabled, serves Prometheus metrics on Addr.
	Metrics *Metrics `yaml:"metrics"`
	Targets []Target `yaml:"targets"`
}

type Metrics struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type Target struct {
	Name string `yaml:"name"`
	Url  string `yaml:"url"`

	// Delay between requests, in milliseconds.
	Delay int64 `yaml:"delay"`

	// Jitter is the fraction of Delay by which each wait may vary.
	Jitter  float64      `yaml:"jitter"`
	Workers int          `yaml:"workers"`
	Headers *http.Header `yaml:"headers"`
}

func (t Target) Duration() time.Duration {
	return time.Duration(t.Delay) * time.Millisecond
}

func LoadFile(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("no config file given, use -config")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading config file")
	}
	return Load(b)
}

func Load(b []byte) (*Config, error) {
	conf := &Config{}
	if err := yaml.Unmarshal(b, conf); err != nil {
		return nil, errors.Wrap(err, "parsing config file")
	}
	for i, t := range conf.Targets {
		if t.Url == "" {
			return nil, errors.Errorf("target %d: url is required", i)
		}
	}
	return conf, nil
}
