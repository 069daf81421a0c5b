// Package setup holds the host preparation and verification steps run before
// a plan: checking that the zone tools exist and that the template zone is
// present, and installing the default configuration file.
//
// This package is essentially a collection of scripts and constants, and is therefore the only package that is
// allowed to call a global logger.
package setup
