// Package config provides configuration structures and utilities for
// proxyscan. It defines the validation, scheduling, rotation, and
// source-list options, their defaults, and the YAML config file loader.
package config
