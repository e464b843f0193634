// Copyright (C) 2022 myl7
// SPDX-License-Identifier: Apache-2.0

// Package wireconfig parses the shard configuration file format from
// spec.md §6: one `f <int>` line, one or more `replica <address>` lines,
// and an optional `multicast <address>` line. Grounded on the teacher's
// own preference for small hand-rolled parsers (pkg/utils.go's PEM/gob
// helpers) over pulling in a config-file library.
package wireconfig

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Config is the shard description read out of a config file. Addresses
// are left as opaque strings; each transport package is responsible for
// parsing them into its own Address type (simtransport.Transport accepts
// strings directly, pkttransport.ParseAddress interprets the packet
// transport's own syntax).
type Config struct {
	F            int
	Replicas     []string
	Multicast    string
	HasMulticast bool
}

// Parse reads a config file from r.
func Parse(r io.Reader) (Config, error) {
	var cfg Config
	fSet := false

	sc := bufio.NewScanner(r)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		switch fields[0] {
		case "f":
			if len(fields) != 2 {
				return Config{}, fmt.Errorf("wireconfig: line %d: f takes exactly one argument", lineNo)
			}
			n, err := strconv.Atoi(fields[1])
			if err != nil || n < 0 {
				return Config{}, fmt.Errorf("wireconfig: line %d: invalid f %q", lineNo, fields[1])
			}
			cfg.F = n
			fSet = true
		case "replica":
			if len(fields) != 2 {
				return Config{}, fmt.Errorf("wireconfig: line %d: replica takes exactly one argument", lineNo)
			}
			cfg.Replicas = append(cfg.Replicas, fields[1])
		case "multicast":
			if len(fields) != 2 {
				return Config{}, fmt.Errorf("wireconfig: line %d: multicast takes exactly one argument", lineNo)
			}
			cfg.Multicast = fields[1]
			cfg.HasMulticast = true
		default:
			return Config{}, fmt.Errorf("wireconfig: line %d: unknown directive %q", lineNo, fields[0])
		}
	}
	if err := sc.Err(); err != nil {
		return Config{}, err
	}
	if !fSet {
		return Config{}, errors.New("wireconfig: missing required f directive")
	}
	if len(cfg.Replicas) == 0 {
		return Config{}, errors.New("wireconfig: no replica directives")
	}
	return cfg, nil
}

// ParseFile opens path and parses it as a config file.
func ParseFile(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, err
	}
	defer f.Close()
	return Parse(f)
}
